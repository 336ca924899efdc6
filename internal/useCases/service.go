package useCases

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/larriantoniy/tg_promo_bot/internal/domain"
	"github.com/larriantoniy/tg_promo_bot/internal/ports"
)

// BotService связывает хранилище аккаунтов с авторизацией и реестром
// подключений. Это то, что вызывает внешний HTTP-слой.
type BotService struct {
	store      ports.AccountStore
	onboarding *Onboarding
	registry   *Registry
	log        *slog.Logger

	// по мьютексу на аккаунт: статус после старта и после аварии пишутся по очереди
	locks sync.Map
}

func NewBotService(store ports.AccountStore, onboarding *Onboarding, registry *Registry, log *slog.Logger) *BotService {
	s := &BotService{
		store:      store,
		onboarding: onboarding,
		registry:   registry,
		log:        log.With("component", "bot_service"),
	}
	registry.OnFault(s.handleFault)
	return s
}

// Onboard запрашивает код для нового (или переавторизуемого) аккаунта
// и сохраняет его учётные данные.
func (s *BotService) Onboard(ctx context.Context, cred domain.AccountCredential, name string) (AuthResult, error) {
	const op = "service.Onboard"
	if cred.AccountID == "" {
		return AuthResult{State: AuthError}, domain.NewError(domain.KindInvalidConfiguration, op, "", errors.New("account id is required"))
	}

	res, err := s.onboarding.Begin(ctx, cred)
	if err != nil {
		return res, err
	}

	acc, err := s.store.GetAccount(ctx, cred.AccountID)
	switch {
	case errors.Is(err, ports.ErrAccountNotFound):
		acc = &domain.Account{Promotion: &domain.PromotionConfig{IntervalSeconds: domain.DefaultPromotionInterval}}
	case err != nil:
		return res, fmt.Errorf("%s: load account: %w", op, err)
	}
	acc.Credential = cred
	if name != "" {
		acc.Name = name
	}
	acc.Status = domain.StatusPendingVerification
	if res.State == AuthAuthenticated {
		acc.Session = res.Token
		acc.Status = domain.StatusOffline
	}
	if err := s.store.SaveAccount(ctx, acc); err != nil {
		return res, fmt.Errorf("%s: save account: %w", op, err)
	}
	return res, nil
}

func (s *BotService) SubmitCode(ctx context.Context, accountID, code, challenge string) (AuthResult, error) {
	res, err := s.onboarding.SubmitCode(ctx, accountID, code, challenge)
	if err != nil {
		return res, err
	}
	return res, s.persistToken(ctx, accountID, res)
}

func (s *BotService) SubmitSecondFactor(ctx context.Context, accountID, secret string) (AuthResult, error) {
	res, err := s.onboarding.SubmitSecondFactor(ctx, accountID, secret)
	if err != nil {
		return res, err
	}
	return res, s.persistToken(ctx, accountID, res)
}

func (s *BotService) persistToken(ctx context.Context, accountID string, res AuthResult) error {
	if res.State != AuthAuthenticated {
		return nil
	}
	if err := s.store.SaveSessionToken(ctx, accountID, res.Token); err != nil {
		return fmt.Errorf("save session token: %w", err)
	}
	s.setStatus(ctx, accountID, domain.StatusOffline)
	return nil
}

// Start поднимает аккаунт из хранилища.
func (s *BotService) Start(ctx context.Context, accountID string) error {
	const op = "service.Start"
	acc, err := s.store.GetAccount(ctx, accountID)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if acc.Session.Empty() {
		return domain.NewError(domain.KindUnauthorized, op, accountID, errors.New("account is not authenticated"))
	}

	proxy, err := domain.ResolveProxy(acc.Credential.Proxy)
	if err != nil {
		s.setStatus(ctx, accountID, domain.StatusError)
		return err
	}

	mu := s.accountLock(accountID)
	mu.Lock()
	defer mu.Unlock()

	err = s.registry.Start(ctx, accountID, acc.Credential, acc.Session, proxy, acc.Promotion)
	switch {
	case err == nil:
		s.setStatus(ctx, accountID, domain.StatusOnline)
	case errors.Is(err, domain.ErrBusy):
	default:
		s.setStatus(ctx, accountID, domain.StatusError)
	}
	return err
}

func (s *BotService) Stop(ctx context.Context, accountID string) error {
	err := s.registry.Stop(accountID)
	if err == nil || errors.Is(err, domain.ErrNotRunning) {
		s.setStatus(ctx, accountID, domain.StatusOffline)
	}
	return err
}

// UpdateAccount сохраняет новые настройки (имя, прокси, рассылка).
// Работающий аккаунт перезапускается, чтобы они применились.
func (s *BotService) UpdateAccount(ctx context.Context, accountID, name string, proxy *domain.ProxyConfig, promo *domain.PromotionConfig) error {
	const op = "service.UpdateAccount"
	if _, err := domain.ResolveProxy(proxy); err != nil {
		return err
	}
	if err := promo.Validate(); err != nil {
		return err
	}

	acc, err := s.store.GetAccount(ctx, accountID)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if name != "" {
		acc.Name = name
	}
	if proxy != nil {
		acc.Credential.Proxy = proxy
	}
	if promo != nil {
		acc.Promotion = promo
	}
	if err := s.store.SaveAccount(ctx, acc); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	if !s.registry.IsRunning(accountID) {
		return nil
	}
	s.log.Info("restarting account to apply settings", "account", accountID)
	if err := s.registry.Stop(accountID); err != nil && !errors.Is(err, domain.ErrNotRunning) {
		return err
	}
	return s.Start(ctx, accountID)
}

// SendTest отправляет одно сообщение от имени работающего аккаунта.
func (s *BotService) SendTest(ctx context.Context, accountID, target, message string) error {
	return s.registry.Send(ctx, accountID, domain.Destination(target), message)
}

type AccountInfo struct {
	Status  domain.AccountStatus
	Profile *domain.Profile
}

// Info возвращает профиль работающего аккаунта или offline.
func (s *BotService) Info(ctx context.Context, accountID string) (AccountInfo, error) {
	if !s.registry.IsRunning(accountID) {
		return AccountInfo{Status: domain.StatusOffline}, nil
	}
	me, err := s.registry.Info(ctx, accountID)
	if err != nil {
		if errors.Is(err, domain.ErrNotRunning) {
			return AccountInfo{Status: domain.StatusOffline}, nil
		}
		return AccountInfo{Status: domain.StatusError}, err
	}
	return AccountInfo{Status: domain.StatusOnline, Profile: me}, nil
}

func (s *BotService) Delete(ctx context.Context, accountID string) error {
	if err := s.registry.Stop(accountID); err != nil && !errors.Is(err, domain.ErrNotRunning) {
		return err
	}
	s.onboarding.drop(accountID)
	return s.store.DeleteAccount(ctx, accountID)
}

func (s *BotService) handleFault(accountID string, cause error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	s.log.Error("account stopped by connection fault", "account", accountID, "error", cause)

	mu := s.accountLock(accountID)
	mu.Lock()
	defer mu.Unlock()
	s.setStatus(ctx, accountID, domain.StatusError)
}

func (s *BotService) accountLock(accountID string) *sync.Mutex {
	m, _ := s.locks.LoadOrStore(accountID, &sync.Mutex{})
	return m.(*sync.Mutex)
}

// статус вспомогательный, ошибку записи только логируем
func (s *BotService) setStatus(ctx context.Context, accountID string, status domain.AccountStatus) {
	if err := s.store.SetStatus(ctx, accountID, status); err != nil {
		s.log.Warn("set status failed", "account", accountID, "status", status, "error", err)
	}
}
