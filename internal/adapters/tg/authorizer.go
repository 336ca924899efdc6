package tg

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/zelenin/go-tdlib/client"

	"github.com/larriantoniy/tg_promo_bot/internal/ports"
)

type authStage int

const (
	stageNone authStage = iota
	stageWaitPhone
	stageWaitCode
	stageWaitPassword
	stageReady
)

func (s authStage) String() string {
	switch s {
	case stageWaitPhone:
		return "wait_phone"
	case stageWaitCode:
		return "wait_code"
	case stageWaitPassword:
		return "wait_password"
	case stageReady:
		return "ready"
	default:
		return "none"
	}
}

type authEvent struct {
	stage authStage
	err   error
}

// authorizer реализует client.AuthorizationStateHandler, но вместо консоли
// (как client.CliInteractor) общается с вызывающим через каналы: сообщает,
// чего ждёт TDLib, и получает ответ из RequestCode/SubmitCode/SubmitPassword.
type authorizer struct {
	params *client.SetTdlibParametersRequest

	events chan authEvent
	input  chan string

	quit     chan struct{}
	quitOnce sync.Once
}

func newAuthorizer(params *client.SetTdlibParametersRequest) *authorizer {
	return &authorizer{
		params: params,
		events: make(chan authEvent, 4),
		input:  make(chan string),
		quit:   make(chan struct{}),
	}
}

func (a *authorizer) Handle(c *client.Client, state client.AuthorizationState) error {
	switch state.(type) {
	case *client.AuthorizationStateWaitTdlibParameters:
		_, err := c.SetTdlibParameters(a.params)
		return a.report(err)

	case *client.AuthorizationStateWaitPhoneNumber:
		phone, err := a.ask(stageWaitPhone)
		if err != nil {
			return err
		}
		_, err = c.SetAuthenticationPhoneNumber(&client.SetAuthenticationPhoneNumberRequest{
			PhoneNumber: phone,
			Settings:    &client.PhoneNumberAuthenticationSettings{},
		})
		return a.report(err)

	case *client.AuthorizationStateWaitCode:
		code, err := a.ask(stageWaitCode)
		if err != nil {
			return err
		}
		_, err = c.CheckAuthenticationCode(&client.CheckAuthenticationCodeRequest{
			Code: code,
		})
		return a.report(err)

	case *client.AuthorizationStateWaitPassword:
		password, err := a.ask(stageWaitPassword)
		if err != nil {
			return err
		}
		_, err = c.CheckAuthenticationPassword(&client.CheckAuthenticationPasswordRequest{
			Password: password,
		})
		return a.report(err)

	case *client.AuthorizationStateClosing, *client.AuthorizationStateClosed:
		return nil

	default:
		return a.report(fmt.Errorf("unsupported authorization state %T", state))
	}
}

// Close вызывается go-tdlib по окончании авторизации, нам там делать нечего.
func (a *authorizer) Close() {}

// abort прерывает ожидание ответа: TDLib получит ошибку и закроет клиента.
func (a *authorizer) abort() {
	a.quitOnce.Do(func() { close(a.quit) })
}

func (a *authorizer) ask(stage authStage) (string, error) {
	a.emit(authEvent{stage: stage})
	select {
	case v := <-a.input:
		return v, nil
	case <-a.quit:
		return "", ports.ErrClosed
	}
}

func (a *authorizer) report(err error) error {
	if err != nil {
		a.emit(authEvent{err: err})
	}
	return err
}

// emit не блокирует: если никто не читает, событие уже никому не нужно.
func (a *authorizer) emit(ev authEvent) {
	select {
	case a.events <- ev:
	default:
	}
}

// answer передаёт ответ в ожидающий Handle.
func (a *authorizer) answer(ctx context.Context, v string) error {
	select {
	case a.input <- v:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-a.quit:
		return ports.ErrClosed
	}
}

// next ждёт следующего шага TDLib или ошибки.
func (a *authorizer) next(ctx context.Context) (authStage, error) {
	select {
	case ev := <-a.events:
		if ev.err != nil {
			return stageNone, ev.err
		}
		return ev.stage, nil
	case <-ctx.Done():
		return stageNone, ctx.Err()
	case <-a.quit:
		return stageNone, ports.ErrClosed
	}
}

var errUnexpectedStage = errors.New("tdlib: unexpected authorization stage")
