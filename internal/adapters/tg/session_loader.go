package tg

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/larriantoniy/tg_promo_bot/internal/domain"
)

// Токен сессии служит именем каталога базы TDLib внутри baseDir.
// Для нового подключения генерируем uuid.
func newSessionToken() domain.SessionToken {
	return domain.SessionToken(uuid.NewString())
}

// validateSessionToken не даёт токену выйти за пределы baseDir.
func validateSessionToken(token domain.SessionToken) error {
	if _, err := uuid.Parse(string(token)); err != nil {
		return domain.InvalidConfig("malformed session token: %v", err)
	}
	return nil
}

func sessionDirs(baseDir string, token domain.SessionToken) (dbDir, filesDir string) {
	sessionDir := filepath.Join(baseDir, string(token))
	return filepath.Join(sessionDir, "database"), filepath.Join(sessionDir, "files")
}

func prepareSessionDirs(dbDir, filesDir string) error {
	if err := os.MkdirAll(dbDir, 0o755); err != nil {
		return fmt.Errorf("mkdir db dir: %w", err)
	}
	if err := os.MkdirAll(filesDir, 0o755); err != nil {
		return fmt.Errorf("mkdir files dir: %w", err)
	}
	return nil
}
