package useCases

import (
	"context"
	"log/slog"
	"sync"

	"github.com/larriantoniy/tg_promo_bot/internal/domain"
	"github.com/larriantoniy/tg_promo_bot/internal/ports"
)

// Runner восстанавливает аккаунты после рестарта процесса и гасит всё при выходе.
type Runner struct {
	store      ports.AccountStore
	service    *BotService
	registry   *Registry
	onboarding *Onboarding
	log        *slog.Logger
}

func NewRunner(
	store ports.AccountStore,
	service *BotService,
	registry *Registry,
	onboarding *Onboarding,
	log *slog.Logger,
) *Runner {
	return &Runner{store: store, service: service, registry: registry, onboarding: onboarding, log: log}
}

// RestoreAll запускает все аккаунты, которые были online до рестарта.
// Возвращает количество успешно запущенных.
func (r *Runner) RestoreAll(ctx context.Context) (int, error) {
	ids, err := r.store.ListAccounts(ctx)
	if err != nil {
		return 0, err
	}

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		started int
	)
	for _, id := range ids {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()

			acc, err := r.store.GetAccount(ctx, id)
			if err != nil {
				r.log.Error("GetAccount failed", "account", id, "error", err)
				return
			}
			if acc.Status != domain.StatusOnline {
				return
			}

			if err := r.service.Start(ctx, id); err != nil {
				r.log.Error("restore failed", "account", id, "error", err)
				return
			}
			mu.Lock()
			started++
			mu.Unlock()
		}(id)
	}
	wg.Wait()

	r.log.Info("accounts restored", "started", started, "known", len(ids))
	return started, nil
}

// Run восстанавливает аккаунты и ждёт отмены ctx, после чего всё останавливает.
// Статусы в хранилище при этом не трогаем: после рестарта аккаунты поднимутся снова.
func (r *Runner) Run(ctx context.Context) error {
	if _, err := r.RestoreAll(ctx); err != nil {
		return err
	}

	<-ctx.Done()
	r.log.Info("shutting down", "running", len(r.registry.Running()))
	r.onboarding.Close()
	r.registry.StopAll()
	return nil
}
