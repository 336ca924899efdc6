package domain

import (
	"errors"
	"fmt"
)

// ErrorKind классифицирует ошибки ядра так, чтобы вызывающий код мог решить,
// что делать дальше (повторить, переавторизоваться, исправить конфиг).
type ErrorKind string

const (
	KindInvalidConfiguration ErrorKind = "invalid_configuration"
	KindTransportFailure     ErrorKind = "transport_failure"
	KindInvalidCode          ErrorKind = "invalid_code"
	KindInvalidSecondFactor  ErrorKind = "invalid_second_factor"
	KindNotRunning           ErrorKind = "not_running"
	KindUnauthorized         ErrorKind = "unauthorized"
	KindBusy                 ErrorKind = "busy"
)

// Error: типизированная ошибка ядра.
type Error struct {
	Kind      ErrorKind
	Op        string
	AccountID string
	Err       error
}

func (e *Error) Error() string {
	msg := string(e.Kind)
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.AccountID != "" {
		msg += " (account " + e.AccountID + ")"
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is сравнивает только Kind, поэтому errors.Is(err, ErrNotRunning) работает
// для любой ошибки этого вида.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Kind == e.Kind
}

var (
	ErrInvalidConfiguration = &Error{Kind: KindInvalidConfiguration}
	ErrTransportFailure     = &Error{Kind: KindTransportFailure}
	ErrInvalidCode          = &Error{Kind: KindInvalidCode}
	ErrInvalidSecondFactor  = &Error{Kind: KindInvalidSecondFactor}
	ErrNotRunning           = &Error{Kind: KindNotRunning}
	ErrUnauthorized         = &Error{Kind: KindUnauthorized}
	ErrBusy                 = &Error{Kind: KindBusy}
)

// NewError собирает ошибку с контекстом операции.
func NewError(kind ErrorKind, op, accountID string, err error) *Error {
	return &Error{Kind: kind, Op: op, AccountID: accountID, Err: err}
}

// InvalidConfig сокращает создание ошибок валидации входных данных.
func InvalidConfig(format string, args ...any) *Error {
	return &Error{Kind: KindInvalidConfiguration, Err: fmt.Errorf(format, args...)}
}

// KindOf возвращает Kind первой типизированной ошибки в цепочке.
// Нетипизированные ошибки считаются транспортными.
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindTransportFailure
}
