package useCases

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/larriantoniy/tg_promo_bot/internal/domain"
	"github.com/larriantoniy/tg_promo_bot/internal/ports"
)

const (
	goodCode     = "12345"
	goodPassword = "secret"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type sentMessage struct {
	dest domain.Destination
	text string
}

// fakeConn имитирует подключение TDLib без сети.
type fakeConn struct {
	authorized  bool
	twoFactor   bool
	connectErr  error
	requestErr  error
	connectGate chan struct{}
	sendFn      func(ctx context.Context, dest domain.Destination, text string) error

	mu         sync.Mutex
	token      domain.SessionToken
	sent       []sentMessage
	closed     bool
	closeCount int
	afterClose int
	codes      []string
}

func (c *fakeConn) Connect(ctx context.Context) error {
	if c.connectGate != nil {
		select {
		case <-c.connectGate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return c.connectErr
}

func (c *fakeConn) IsAuthorized() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.authorized
}

func (c *fakeConn) RequestCode(ctx context.Context, phone string) error {
	return c.requestErr
}

func (c *fakeConn) SubmitCode(ctx context.Context, code string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.codes = append(c.codes, code)
	if code != goodCode {
		return false, ports.ErrInvalidCode
	}
	if c.twoFactor {
		return true, nil
	}
	c.authorize()
	return false, nil
}

func (c *fakeConn) SubmitPassword(ctx context.Context, password string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if password != goodPassword {
		return ports.ErrInvalidPassword
	}
	c.authorize()
	return nil
}

func (c *fakeConn) authorize() {
	c.authorized = true
	if c.token.Empty() {
		c.token = domain.SessionToken(uuid.NewString())
	}
}

func (c *fakeConn) SessionToken() domain.SessionToken {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.token
}

func (c *fakeConn) SendMessage(ctx context.Context, dest domain.Destination, text string) error {
	c.mu.Lock()
	if c.closed {
		c.afterClose++
		c.mu.Unlock()
		return ports.ErrClosed
	}
	c.mu.Unlock()

	var err error
	if c.sendFn != nil {
		err = c.sendFn(ctx, dest, text)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		c.afterClose++
	}
	if err == nil {
		c.sent = append(c.sent, sentMessage{dest: dest, text: text})
	}
	return err
}

func (c *fakeConn) Me(ctx context.Context) (*domain.Profile, error) {
	return &domain.Profile{UserID: 42, Username: "promo", FirstName: "Promo"}, nil
}

func (c *fakeConn) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	c.closeCount++
}

func (c *fakeConn) Sent() []sentMessage {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]sentMessage(nil), c.sent...)
}

func (c *fakeConn) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *fakeConn) CloseCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closeCount
}

func (c *fakeConn) SentAfterClose() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.afterClose
}

// fakeFactory выдаёт подключения, собранные newConn, и запоминает их.
type fakeFactory struct {
	newConn func(cred domain.AccountCredential, token domain.SessionToken) *fakeConn
	err     error

	created atomic.Int32
	mu      sync.Mutex
	conns   map[string][]*fakeConn
	proxies []*domain.ProxyDescriptor
}

func newFakeFactory(newConn func(cred domain.AccountCredential, token domain.SessionToken) *fakeConn) *fakeFactory {
	if newConn == nil {
		newConn = func(domain.AccountCredential, domain.SessionToken) *fakeConn { return &fakeConn{} }
	}
	return &fakeFactory{newConn: newConn, conns: make(map[string][]*fakeConn)}
}

// authorizedFactory выдаёт подключения с уже авторизованной сессией.
func authorizedFactory() *fakeFactory {
	return newFakeFactory(func(_ domain.AccountCredential, token domain.SessionToken) *fakeConn {
		return &fakeConn{authorized: !token.Empty(), token: token}
	})
}

func (f *fakeFactory) Create(cred domain.AccountCredential, token domain.SessionToken, proxy *domain.ProxyDescriptor) (ports.Connection, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.created.Add(1)
	c := f.newConn(cred, token)
	f.mu.Lock()
	f.conns[cred.AccountID] = append(f.conns[cred.AccountID], c)
	f.proxies = append(f.proxies, proxy)
	f.mu.Unlock()
	return c, nil
}

func (f *fakeFactory) Conns(accountID string) []*fakeConn {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*fakeConn(nil), f.conns[accountID]...)
}

func (f *fakeFactory) Last(accountID string) *fakeConn {
	conns := f.Conns(accountID)
	if len(conns) == 0 {
		return nil
	}
	return conns[len(conns)-1]
}

// memStore хранит аккаунты в памяти.
type memStore struct {
	mu       sync.Mutex
	accounts map[string]domain.Account
}

func newMemStore(accs ...domain.Account) *memStore {
	s := &memStore{accounts: make(map[string]domain.Account)}
	for _, a := range accs {
		s.accounts[a.ID()] = a
	}
	return s
}

var _ ports.AccountStore = (*memStore)(nil)

func (s *memStore) GetAccount(ctx context.Context, accountID string) (*domain.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	acc, ok := s.accounts[accountID]
	if !ok {
		return nil, ports.ErrAccountNotFound
	}
	return &acc, nil
}

func (s *memStore) SaveAccount(ctx context.Context, acc *domain.Account) error {
	if acc.ID() == "" {
		return errors.New("empty id")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accounts[acc.ID()] = *acc
	return nil
}

func (s *memStore) SaveSessionToken(ctx context.Context, accountID string, token domain.SessionToken) error {
	return s.update(accountID, func(a *domain.Account) { a.Session = token })
}

func (s *memStore) SetStatus(ctx context.Context, accountID string, status domain.AccountStatus) error {
	return s.update(accountID, func(a *domain.Account) { a.Status = status })
}

func (s *memStore) update(accountID string, fn func(*domain.Account)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	acc, ok := s.accounts[accountID]
	if !ok {
		return ports.ErrAccountNotFound
	}
	fn(&acc)
	s.accounts[accountID] = acc
	return nil
}

func (s *memStore) ListAccounts(ctx context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.accounts))
	for id := range s.accounts {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

func (s *memStore) DeleteAccount(ctx context.Context, accountID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.accounts, accountID)
	return nil
}

func (s *memStore) status(accountID string) domain.AccountStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.accounts[accountID].Status
}

func testCredential(id string) domain.AccountCredential {
	return domain.AccountCredential{
		AccountID: id,
		APIKey:    "12345",
		APISecret: "hash",
		Phone:     "+10000000000",
	}
}

func fastRegistryOptions() RegistryOptions {
	return RegistryOptions{
		Promotion: PromotionOptions{
			PacingDelay:   5 * time.Millisecond,
			RecoveryDelay: 20 * time.Millisecond,
		},
		SendRate:  1000,
		SendBurst: 10,
	}
}
