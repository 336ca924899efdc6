package useCases

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/larriantoniy/tg_promo_bot/internal/domain"
	"github.com/larriantoniy/tg_promo_bot/internal/ports"
)

const defaultChallengeTTL = 10 * time.Minute

type pendingAuth struct {
	flow      *AuthFlow
	conn      ports.Connection
	createdAt time.Time
}

// Onboarding держит незавершённые авторизации между запросами
// "отправить код" и "проверить код". На каждую попытку открывается новое подключение,
// после терминального состояния оно закрывается.
type Onboarding struct {
	factory ports.ConnectionFactory
	log     *slog.Logger
	ttl     time.Duration
	now     func() time.Time

	mu      sync.Mutex
	pending map[string]*pendingAuth
	closed  bool
}

func NewOnboarding(factory ports.ConnectionFactory, log *slog.Logger, ttl time.Duration) *Onboarding {
	if ttl <= 0 {
		ttl = defaultChallengeTTL
	}
	return &Onboarding{
		factory: factory,
		log:     log.With("component", "onboarding"),
		ttl:     ttl,
		now:     time.Now,
		pending: make(map[string]*pendingAuth),
	}
}

// Begin открывает новое подключение и запрашивает код. Прежняя
// незавершённая попытка для этого аккаунта закрывается, когда новая
// занимает её место.
func (o *Onboarding) Begin(ctx context.Context, cred domain.AccountCredential) (AuthResult, error) {
	const op = "onboarding.Begin"

	proxy, err := domain.ResolveProxy(cred.Proxy)
	if err != nil {
		return AuthResult{State: AuthError}, domain.NewError(domain.KindInvalidConfiguration, op, cred.AccountID, err)
	}

	conn, err := o.factory.Create(cred, "", proxy)
	if err != nil {
		if domain.KindOf(err) == domain.KindInvalidConfiguration {
			return AuthResult{State: AuthError}, err
		}
		return AuthResult{State: AuthError}, domain.NewError(domain.KindTransportFailure, op, cred.AccountID, err)
	}

	if err := conn.Connect(ctx); err != nil {
		conn.Close()
		return AuthResult{State: AuthError}, domain.NewError(domain.KindTransportFailure, op, cred.AccountID, err)
	}

	flow := NewAuthFlow(cred.AccountID, conn, o.log)
	res, err := flow.RequestChallenge(ctx, cred.Phone)
	if err != nil || res.State.Terminal() {
		conn.Close()
		return res, err
	}

	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		conn.Close()
		return AuthResult{State: AuthError}, domain.NewError(domain.KindTransportFailure, op, cred.AccountID,
			errors.New("onboarding is shut down"))
	}
	prev := o.pending[cred.AccountID]
	o.pending[cred.AccountID] = &pendingAuth{flow: flow, conn: conn, createdAt: o.now()}
	o.mu.Unlock()

	if prev != nil {
		prev.conn.Close()
		o.log.Info("previous challenge discarded", "account", cred.AccountID)
	}
	return res, nil
}

func (o *Onboarding) SubmitCode(ctx context.Context, accountID, code, challenge string) (AuthResult, error) {
	p, err := o.get("onboarding.SubmitCode", accountID)
	if err != nil {
		return AuthResult{State: AuthError}, err
	}
	res, err := p.flow.SubmitCode(ctx, code, challenge)
	o.finish(accountID, p)
	return res, err
}

func (o *Onboarding) SubmitSecondFactor(ctx context.Context, accountID, secret string) (AuthResult, error) {
	p, err := o.get("onboarding.SubmitSecondFactor", accountID)
	if err != nil {
		return AuthResult{State: AuthError}, err
	}
	res, err := p.flow.SubmitSecondFactor(ctx, secret)
	o.finish(accountID, p)
	return res, err
}

// Pending сообщает, есть ли у аккаунта незавершённая авторизация.
func (o *Onboarding) Pending(accountID string) (AuthState, bool) {
	o.mu.Lock()
	p, ok := o.pending[accountID]
	o.mu.Unlock()
	if !ok {
		return AuthUnauthenticated, false
	}
	return p.flow.State(), true
}

func (o *Onboarding) get(op, accountID string) (*pendingAuth, error) {
	o.mu.Lock()
	p, ok := o.pending[accountID]
	if ok && o.now().Sub(p.createdAt) > o.ttl {
		delete(o.pending, accountID)
		o.mu.Unlock()
		p.conn.Close()
		o.log.Info("challenge expired", "account", accountID)
		return nil, domain.NewError(domain.KindTransportFailure, op, accountID, errors.New("challenge expired, request a new code"))
	}
	o.mu.Unlock()

	if !ok {
		return nil, domain.NewError(domain.KindTransportFailure, op, accountID, errors.New("no pending authentication"))
	}
	return p, nil
}

// finish убирает попытку, если она дошла до конца (успех или ошибка).
func (o *Onboarding) finish(accountID string, p *pendingAuth) {
	if !p.flow.State().Terminal() {
		return
	}
	o.mu.Lock()
	if cur, ok := o.pending[accountID]; ok && cur == p {
		delete(o.pending, accountID)
	}
	o.mu.Unlock()
	p.conn.Close()
}

func (o *Onboarding) drop(accountID string) {
	o.mu.Lock()
	p, ok := o.pending[accountID]
	delete(o.pending, accountID)
	o.mu.Unlock()
	if ok {
		p.conn.Close()
		o.log.Info("pending challenge discarded", "account", accountID)
	}
}

// Close закрывает все незавершённые попытки.
func (o *Onboarding) Close() {
	o.mu.Lock()
	pending := o.pending
	o.pending = make(map[string]*pendingAuth)
	o.closed = true
	o.mu.Unlock()

	for _, p := range pending {
		p.conn.Close()
	}
}
