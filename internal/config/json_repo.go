package config

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/larriantoniy/tg_promo_bot/internal/domain"
	"github.com/larriantoniy/tg_promo_bot/internal/ports"
)

// JSONAccountStore хранит аккаунты файлами <baseDir>/<id>/<id>.json.
// Удобно для локального запуска без Redis.
type JSONAccountStore struct {
	baseDir string // "./accounts"
	mu      sync.Mutex
}

func NewJSONAccountStore(baseDir string) *JSONAccountStore {
	return &JSONAccountStore{baseDir: baseDir}
}

var _ ports.AccountStore = (*JSONAccountStore)(nil)

func (r *JSONAccountStore) path(accountID string) (string, error) {
	if accountID == "" || strings.ContainsAny(accountID, `/\`) || accountID == "." || accountID == ".." {
		return "", fmt.Errorf("invalid account id %q", accountID)
	}
	return filepath.Join(r.baseDir, accountID, accountID+".json"), nil
}

func (r *JSONAccountStore) ListAccounts(ctx context.Context) ([]string, error) {
	entries, err := os.ReadDir(r.baseDir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		if _, err := os.Stat(filepath.Join(r.baseDir, e.Name(), e.Name()+".json")); err == nil {
			out = append(out, e.Name())
		}
	}
	sort.Strings(out)
	return out, nil
}

func (r *JSONAccountStore) GetAccount(ctx context.Context, accountID string) (*domain.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.read(accountID)
}

func (r *JSONAccountStore) read(accountID string) (*domain.Account, error) {
	path, err := r.path(accountID)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ports.ErrAccountNotFound, accountID)
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	var acc domain.Account
	if err := json.Unmarshal(data, &acc); err != nil {
		return nil, fmt.Errorf("unmarshal %s: %w", path, err)
	}
	// подстрахуемся: если в json другой id
	acc.Credential.AccountID = accountID
	return &acc, nil
}

func (r *JSONAccountStore) SaveAccount(ctx context.Context, acc *domain.Account) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.write(acc)
}

func (r *JSONAccountStore) write(acc *domain.Account) error {
	path, err := r.path(acc.ID())
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("mkdir: %w", err)
	}

	data, err := json.MarshalIndent(acc, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal %s: %w", acc.ID(), err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write %s: %w", tmp, err)
	}
	return os.Rename(tmp, path)
}

func (r *JSONAccountStore) update(accountID string, fn func(*domain.Account)) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	acc, err := r.read(accountID)
	if err != nil {
		return err
	}
	fn(acc)
	return r.write(acc)
}

func (r *JSONAccountStore) SaveSessionToken(ctx context.Context, accountID string, token domain.SessionToken) error {
	return r.update(accountID, func(acc *domain.Account) { acc.Session = token })
}

func (r *JSONAccountStore) SetStatus(ctx context.Context, accountID string, status domain.AccountStatus) error {
	return r.update(accountID, func(acc *domain.Account) { acc.Status = status })
}

func (r *JSONAccountStore) DeleteAccount(ctx context.Context, accountID string) error {
	path, err := r.path(accountID)
	if err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return os.RemoveAll(filepath.Dir(path))
}
