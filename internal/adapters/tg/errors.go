package tg

import (
	"errors"
	"fmt"
	"strings"

	"github.com/zelenin/go-tdlib/client"

	"github.com/larriantoniy/tg_promo_bot/internal/ports"
)

// classify переводит ошибки TDLib в ошибки портов. Неизвестные ошибки
// возвращаются как есть (для ядра это сбой транспорта).
func classify(err error) error {
	if err == nil {
		return nil
	}

	var tdErr *client.Error
	if !errors.As(err, &tdErr) {
		return err
	}
	msg := strings.ToUpper(tdErr.Message)

	switch {
	case isTooManyRequests(tdErr):
		return fmt.Errorf("%w: %s", ports.ErrRateLimited, tdErr.Message)
	case strings.Contains(msg, "PHONE_CODE_INVALID"),
		strings.Contains(msg, "PHONE_CODE_EXPIRED"),
		strings.Contains(msg, "PHONE_CODE_EMPTY"):
		return fmt.Errorf("%w: %s", ports.ErrInvalidCode, tdErr.Message)
	case strings.Contains(msg, "PASSWORD_HASH_INVALID"):
		return fmt.Errorf("%w: %s", ports.ErrInvalidPassword, tdErr.Message)
	case tdErr.Code == 401,
		strings.Contains(msg, "AUTH_KEY_UNREGISTERED"),
		strings.Contains(msg, "SESSION_REVOKED"),
		strings.Contains(msg, "USER_DEACTIVATED"):
		return fmt.Errorf("%w: %s", ports.ErrUnauthorized, tdErr.Message)
	}
	return err
}

func isTooManyRequests(tdErr *client.Error) bool {
	// обычно Code == 429, но подстрахуемся по тексту
	if tdErr.Code == 429 {
		return true
	}
	msg := strings.ToLower(tdErr.Message)
	return strings.Contains(msg, "too many requests") || strings.Contains(msg, "flood_wait")
}
