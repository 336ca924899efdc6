package ports

import (
	"context"
	"errors"

	"github.com/larriantoniy/tg_promo_bot/internal/domain"
)

var ErrAccountNotFound = errors.New("account not found")

// AccountStore: внешнее хранилище аккаунтов. Ядро только читает настройки
// и записывает обратно токен сессии и статус.
type AccountStore interface {
	GetAccount(ctx context.Context, accountID string) (*domain.Account, error)
	SaveAccount(ctx context.Context, acc *domain.Account) error
	SaveSessionToken(ctx context.Context, accountID string, token domain.SessionToken) error
	SetStatus(ctx context.Context, accountID string, status domain.AccountStatus) error
	// ListAccounts возвращает id всех известных аккаунтов
	ListAccounts(ctx context.Context) ([]string, error)
	DeleteAccount(ctx context.Context, accountID string) error
}
