package useCases

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/larriantoniy/tg_promo_bot/internal/domain"
	"github.com/larriantoniy/tg_promo_bot/internal/metrics"
	"github.com/larriantoniy/tg_promo_bot/internal/ports"
)

type AuthState int

const (
	AuthUnauthenticated AuthState = iota
	AuthCodeRequested
	AuthPasswordRequired
	AuthAuthenticated
	AuthError
)

func (s AuthState) String() string {
	switch s {
	case AuthUnauthenticated:
		return "unauthenticated"
	case AuthCodeRequested:
		return "code_requested"
	case AuthPasswordRequired:
		return "password_required"
	case AuthAuthenticated:
		return "authenticated"
	case AuthError:
		return "error"
	default:
		return fmt.Sprintf("AuthState(%d)", int(s))
	}
}

// Terminal: из этих состояний переходов больше нет.
func (s AuthState) Terminal() bool {
	return s == AuthAuthenticated || s == AuthError
}

type authEvent int

const (
	evAlreadyAuthorized authEvent = iota
	evCodeSent
	evCodeAccepted
	evPasswordNeeded
	evCodeRejected
	evPasswordAccepted
	evPasswordRejected
	evFailure
)

// nextState задаёт полную функцию переходов. ok=false означает, что событие
// в этом состоянии недопустимо.
func nextState(from AuthState, ev authEvent) (AuthState, bool) {
	switch from {
	case AuthUnauthenticated:
		switch ev {
		case evAlreadyAuthorized:
			return AuthAuthenticated, true
		case evCodeSent:
			return AuthCodeRequested, true
		case evFailure:
			return AuthError, true
		}
	case AuthCodeRequested:
		switch ev {
		case evCodeAccepted:
			return AuthAuthenticated, true
		case evPasswordNeeded:
			return AuthPasswordRequired, true
		case evCodeRejected, evFailure:
			return AuthError, true
		}
	case AuthPasswordRequired:
		switch ev {
		case evPasswordAccepted:
			return AuthAuthenticated, true
		case evPasswordRejected, evFailure:
			return AuthError, true
		}
	}
	return from, false
}

// AuthResult видит вызывающий после каждого шага.
// Token заполнен только на переходе в AuthAuthenticated.
type AuthResult struct {
	State     AuthState
	Challenge string
	Token     domain.SessionToken
}

// AuthFlow ведёт одно подключение через вход по коду и 2FA.
// Повторов внутри нет: при ошибке вызывающий начинает заново с новым AuthFlow.
type AuthFlow struct {
	accountID string
	conn      ports.Connection
	log       *slog.Logger

	mu        sync.Mutex
	state     AuthState
	challenge string
	err       error
}

func NewAuthFlow(accountID string, conn ports.Connection, log *slog.Logger) *AuthFlow {
	return &AuthFlow{
		accountID: accountID,
		conn:      conn,
		log:       log.With("account", accountID),
		state:     AuthUnauthenticated,
	}
}

func (a *AuthFlow) State() AuthState {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

// Err возвращает ошибку, переведшую машину в AuthError.
func (a *AuthFlow) Err() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.err
}

// RequestChallenge отправляет номер телефона. Если сессия уже авторизована,
// сразу отдаёт токен.
func (a *AuthFlow) RequestChallenge(ctx context.Context, phone string) (AuthResult, error) {
	const op = "auth.RequestChallenge"
	a.mu.Lock()
	defer a.mu.Unlock()

	if err := a.expect(op, AuthUnauthenticated); err != nil {
		return a.result(), err
	}

	if a.conn.IsAuthorized() {
		a.apply(evAlreadyAuthorized)
		a.log.Info("session already authorized")
		return a.authenticated(), nil
	}

	if phone == "" {
		return a.failed(evFailure, domain.NewError(domain.KindInvalidConfiguration, op, a.accountID,
			errors.New("phone is required")))
	}

	if err := a.conn.RequestCode(ctx, phone); err != nil {
		return a.failed(evFailure, domain.NewError(domain.KindTransportFailure, op, a.accountID, err))
	}

	a.challenge = uuid.NewString()
	a.apply(evCodeSent)
	a.log.Info("auth code requested")
	return a.result(), nil
}

// SubmitCode проверяет код из SMS/Telegram. challenge должен совпадать с
// выданным RequestChallenge.
func (a *AuthFlow) SubmitCode(ctx context.Context, code, challenge string) (AuthResult, error) {
	const op = "auth.SubmitCode"
	a.mu.Lock()
	defer a.mu.Unlock()

	if err := a.expect(op, AuthCodeRequested); err != nil {
		return a.result(), err
	}
	if challenge == "" || challenge != a.challenge {
		return a.failed(evCodeRejected, domain.NewError(domain.KindInvalidCode, op, a.accountID,
			errors.New("challenge does not match the last requested code")))
	}
	// код можно проверить только один раз
	a.challenge = ""

	passwordNeeded, err := a.conn.SubmitCode(ctx, code)
	switch {
	case errors.Is(err, ports.ErrInvalidCode):
		return a.failed(evCodeRejected, domain.NewError(domain.KindInvalidCode, op, a.accountID, err))
	case err != nil:
		return a.failed(evFailure, domain.NewError(domain.KindTransportFailure, op, a.accountID, err))
	case passwordNeeded:
		a.apply(evPasswordNeeded)
		a.log.Info("second factor required")
		return a.result(), nil
	}

	a.apply(evCodeAccepted)
	return a.authenticated(), nil
}

func (a *AuthFlow) SubmitSecondFactor(ctx context.Context, secret string) (AuthResult, error) {
	const op = "auth.SubmitSecondFactor"
	a.mu.Lock()
	defer a.mu.Unlock()

	if err := a.expect(op, AuthPasswordRequired); err != nil {
		return a.result(), err
	}

	err := a.conn.SubmitPassword(ctx, secret)
	switch {
	case errors.Is(err, ports.ErrInvalidPassword):
		return a.failed(evPasswordRejected, domain.NewError(domain.KindInvalidSecondFactor, op, a.accountID, err))
	case err != nil:
		return a.failed(evFailure, domain.NewError(domain.KindTransportFailure, op, a.accountID, err))
	}

	a.apply(evPasswordAccepted)
	return a.authenticated(), nil
}

// expect проверяет текущее состояние. Неверный вызов из нетерминального
// состояния переводит машину в AuthError, из терминального ничего не меняет.
func (a *AuthFlow) expect(op string, want AuthState) error {
	if a.state == want {
		return nil
	}
	err := domain.NewError(domain.KindTransportFailure, op, a.accountID,
		fmt.Errorf("invalid transition: state is %s, want %s", a.state, want))
	if a.state.Terminal() {
		return err
	}
	return a.fail(evFailure, err)
}

func (a *AuthFlow) apply(ev authEvent) {
	next, ok := nextState(a.state, ev)
	if !ok {
		// сюда попадаем только при ошибке в самом AuthFlow
		panic(fmt.Sprintf("auth: illegal transition from %s on event %d", a.state, ev))
	}
	a.state = next
}

func (a *AuthFlow) fail(ev authEvent, err error) error {
	a.apply(ev)
	a.err = err
	a.challenge = ""
	metrics.AuthAttempts.WithLabelValues(string(domain.KindOf(err))).Inc()
	a.log.Warn("auth step failed", "state", a.state.String(), "error", err)
	return err
}

// failed переводит машину в AuthError и только потом снимает результат.
func (a *AuthFlow) failed(ev authEvent, err error) (AuthResult, error) {
	err = a.fail(ev, err)
	return a.result(), err
}

func (a *AuthFlow) authenticated() AuthResult {
	metrics.AuthAttempts.WithLabelValues("success").Inc()
	a.log.Info("account authenticated")
	return AuthResult{State: a.state, Token: a.conn.SessionToken()}
}

func (a *AuthFlow) result() AuthResult {
	return AuthResult{State: a.state, Challenge: a.challenge}
}
