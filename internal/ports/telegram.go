package ports

import (
	"context"
	"errors"

	"github.com/larriantoniy/tg_promo_bot/internal/domain"
)

// Ошибки, которыми адаптер Telegram сообщает о результатах шагов авторизации
// и отправки. Всё остальное считается сбоем транспорта.
var (
	ErrInvalidCode     = errors.New("telegram: phone code invalid")
	ErrInvalidPassword = errors.New("telegram: password invalid")
	ErrUnauthorized    = errors.New("telegram: session is not authorized")
	ErrRateLimited     = errors.New("telegram: too many requests")
	ErrClosed          = errors.New("telegram: client closed")
)

// Connection: одно живое подключение к Telegram для одного аккаунта.
// Реализуется адаптером TDLib, в тестах фейком.
type Connection interface {
	// Connect поднимает клиент и ждёт первого состояния авторизации.
	Connect(ctx context.Context) error
	// IsAuthorized true, если сессия уже авторизована.
	IsAuthorized() bool
	// RequestCode отправляет номер телефона и ждёт запроса кода.
	RequestCode(ctx context.Context, phone string) error
	// SubmitCode проверяет код; passwordNeeded=true если включена 2FA.
	SubmitCode(ctx context.Context, code string) (passwordNeeded bool, err error)
	SubmitPassword(ctx context.Context, password string) error
	SessionToken() domain.SessionToken
	SendMessage(ctx context.Context, dest domain.Destination, text string) error
	Me(ctx context.Context) (*domain.Profile, error)
	Close()
}

// ConnectionFactory создаёт по одному неподключённому Connection на вызов.
type ConnectionFactory interface {
	Create(cred domain.AccountCredential, token domain.SessionToken, proxy *domain.ProxyDescriptor) (Connection, error)
}
