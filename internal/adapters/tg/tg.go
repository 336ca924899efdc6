package tg

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/zelenin/go-tdlib/client"

	"github.com/larriantoniy/tg_promo_bot/internal/domain"
	"github.com/larriantoniy/tg_promo_bot/internal/ports"
)

// TelegramClient реализует ports.Connection через TDLib.
// До Connect никаких сетевых ресурсов не занимает.
type TelegramClient struct {
	token    domain.SessionToken
	dbDir    string
	filesDir string
	proxy    *domain.ProxyDescriptor
	opts     []client.Option
	typing   bool
	logger   *slog.Logger

	auth *authorizer

	mu         sync.Mutex
	client     *client.Client
	stage      authStage
	started    bool
	closed     bool
	authorized bool
	chats      map[domain.Destination]int64
}

func (t *TelegramClient) Connect(ctx context.Context) error {
	t.mu.Lock()
	switch {
	case t.closed:
		t.mu.Unlock()
		return ports.ErrClosed
	case t.started:
		t.mu.Unlock()
		return errors.New("tdlib: already connected")
	}
	t.started = true
	t.mu.Unlock()

	if err := prepareSessionDirs(t.dbDir, t.filesDir); err != nil {
		return err
	}
	checkProxy(t.logger, t.proxy)

	go t.run()

	stage, err := t.auth.next(ctx)
	if err != nil {
		t.logger.Error("TDLib start failed", "error", err)
		return classify(err)
	}
	t.setStage(stage)
	t.logger.Info("TDLib client started", "stage", stage.String())
	return nil
}

// run держит client.NewClient, который блокируется до конца авторизации.
func (t *TelegramClient) run() {
	cli, err := client.NewClient(t.auth, t.opts...)
	if err != nil {
		t.auth.emit(authEvent{err: err})
		return
	}

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		cli.Close()
		return
	}
	t.client = cli
	t.mu.Unlock()

	t.auth.emit(authEvent{stage: stageReady})
}

func (t *TelegramClient) setStage(stage authStage) {
	t.mu.Lock()
	t.stage = stage
	if stage == stageReady {
		t.authorized = true
	}
	t.mu.Unlock()
}

func (t *TelegramClient) IsAuthorized() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.authorized
}

func (t *TelegramClient) SessionToken() domain.SessionToken { return t.token }

// step отдаёт ответ TDLib на текущем шаге и ждёт следующего шага.
func (t *TelegramClient) step(ctx context.Context, want authStage, value string) (authStage, error) {
	t.mu.Lock()
	stage := t.stage
	t.mu.Unlock()
	if stage != want {
		return stageNone, fmt.Errorf("%w: at %s, want %s", errUnexpectedStage, stage, want)
	}

	if err := t.auth.answer(ctx, value); err != nil {
		return stageNone, err
	}
	next, err := t.auth.next(ctx)
	if err != nil {
		return stageNone, classify(err)
	}
	t.setStage(next)
	return next, nil
}

func (t *TelegramClient) RequestCode(ctx context.Context, phone string) error {
	next, err := t.step(ctx, stageWaitPhone, phone)
	if err != nil {
		return err
	}
	if next != stageWaitCode {
		return fmt.Errorf("%w: %s after phone number", errUnexpectedStage, next)
	}
	t.logger.Info("auth code sent")
	return nil
}

func (t *TelegramClient) SubmitCode(ctx context.Context, code string) (bool, error) {
	next, err := t.step(ctx, stageWaitCode, code)
	if err != nil {
		return false, err
	}
	switch next {
	case stageWaitPassword:
		return true, nil
	case stageReady:
		return false, nil
	}
	return false, fmt.Errorf("%w: %s after code", errUnexpectedStage, next)
}

func (t *TelegramClient) SubmitPassword(ctx context.Context, password string) error {
	next, err := t.step(ctx, stageWaitPassword, password)
	if err != nil {
		return err
	}
	if next != stageReady {
		return fmt.Errorf("%w: %s after password", errUnexpectedStage, next)
	}
	return nil
}

// ready возвращает TDLib-клиента, если подключение живо и авторизовано.
func (t *TelegramClient) ready() (*client.Client, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	switch {
	case t.closed:
		return nil, ports.ErrClosed
	case !t.authorized || t.client == nil:
		return nil, ports.ErrUnauthorized
	}
	return t.client, nil
}

func (t *TelegramClient) Me(ctx context.Context) (*domain.Profile, error) {
	cli, err := t.ready()
	if err != nil {
		return nil, err
	}
	me, err := cli.GetMe()
	if err != nil {
		return nil, classify(err)
	}

	p := &domain.Profile{
		UserID:    me.Id,
		FirstName: me.FirstName,
		LastName:  me.LastName,
		Phone:     me.PhoneNumber,
	}
	if me.Usernames != nil && len(me.Usernames.ActiveUsernames) > 0 {
		p.Username = me.Usernames.ActiveUsernames[0]
	}
	return p, nil
}

func (t *TelegramClient) SendMessage(ctx context.Context, dest domain.Destination, text string) error {
	cli, err := t.ready()
	if err != nil {
		return err
	}

	chatID, err := t.resolveChat(cli, dest)
	if err != nil {
		return err
	}

	if t.typing {
		if err := t.simulateTyping(ctx, cli, chatID, text); err != nil {
			return err
		}
	}

	_, err = cli.SendMessage(&client.SendMessageRequest{
		ChatId: chatID,
		InputMessageContent: &client.InputMessageText{
			Text: &client.FormattedText{
				Text: text,
			},
			ClearDraft: true,
		},
	})
	if err != nil {
		err = classify(err)
		if errors.Is(err, ports.ErrRateLimited) {
			t.logger.Error("SendMessage rate-limited: too many requests", "chat_id", chatID, "error", err)
		} else {
			t.logger.Error("SendMessage failed", "chat_id", chatID, "error", err)
		}
		return err
	}
	return nil
}

// resolveChat превращает назначение в chat id. Результат кешируется,
// чтобы не дёргать SearchPublicChat на каждом цикле рассылки.
func (t *TelegramClient) resolveChat(cli *client.Client, dest domain.Destination) (int64, error) {
	t.mu.Lock()
	id, ok := t.chats[dest]
	t.mu.Unlock()
	if ok {
		return id, nil
	}

	kind, name, chatID, err := dest.Parse()
	if err != nil {
		return 0, err
	}

	switch kind {
	case domain.DestinationChatID:
		id = chatID
	case domain.DestinationUsername:
		chat, err := cli.SearchPublicChat(&client.SearchPublicChatRequest{Username: name})
		if err != nil {
			t.logger.Error("SearchPublicChat failed", "username", name, "error", err)
			return 0, classify(err)
		}
		id = chat.Id
	case domain.DestinationInviteLink:
		chat, err := cli.JoinChatByInviteLink(&client.JoinChatByInviteLinkRequest{InviteLink: name})
		if err == nil {
			id = chat.Id
			break
		}
		// уже участник, узнаём id через проверку ссылки
		info, checkErr := cli.CheckChatInviteLink(&client.CheckChatInviteLinkRequest{InviteLink: name})
		if checkErr != nil || info.ChatId == 0 {
			t.logger.Error("JoinChatByInviteLink failed", "link", name, "error", err)
			return 0, classify(err)
		}
		id = info.ChatId
	}

	t.mu.Lock()
	t.chats[dest] = id
	t.mu.Unlock()
	return id, nil
}

// simulateTyping показывает "печатает..." пропорционально длине текста.
func (t *TelegramClient) simulateTyping(ctx context.Context, cli *client.Client, chatID int64, text string) error {
	_, err := cli.SendChatAction(&client.SendChatActionRequest{
		ChatId: chatID,
		Action: &client.ChatActionTyping{},
	})
	if err != nil {
		// не фейлим отправку — это косметика
		t.logger.Warn("SendChatAction typing failed", "chat_id", chatID, "error", err)
		return nil
	}

	d := 700*time.Millisecond + time.Duration(len([]rune(text)))*70*time.Millisecond
	if d > 7*time.Second {
		d = 7 * time.Second
	}

	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (t *TelegramClient) Close() {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	t.closed = true
	cli := t.client
	t.mu.Unlock()

	t.auth.abort()
	if cli != nil {
		cli.Close()
	}
	t.logger.Info("TDLib client closed")
}
