package app

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"

	"github.com/larriantoniy/tg_promo_bot/internal/adapters/redisstore"
	"github.com/larriantoniy/tg_promo_bot/internal/adapters/tg"
	"github.com/larriantoniy/tg_promo_bot/internal/config"
	"github.com/larriantoniy/tg_promo_bot/internal/ports"
	"github.com/larriantoniy/tg_promo_bot/internal/useCases"
)

const (
	envDev  = "dev"
	envProd = "prod"
)

// App хранит собранный граф зависимостей.
type App struct {
	Store      ports.AccountStore
	Registry   *useCases.Registry
	Onboarding *useCases.Onboarding
	Service    *useCases.BotService
	Runner     *useCases.Runner

	closers []func() error
}

func New(ctx context.Context, cfg *config.AppConfig, logger *slog.Logger) (*App, error) {
	a := &App{}

	store, err := a.openStore(ctx, cfg)
	if err != nil {
		return nil, err
	}
	a.Store = store

	factory := tg.NewFactory(tg.FactoryConfig{
		BaseDir:      cfg.SessionsDir,
		LogVerbosity: cfg.TDLibVerbosity,
		Device: tg.DeviceConfig{
			DeviceModel:   cfg.Device.DeviceModel,
			SystemVersion: cfg.Device.SystemVersion,
			AppVersion:    cfg.Device.AppVersion,
			LangCode:      cfg.Device.LangCode,
		},
		SimulateTyping: cfg.SimulateTyping,
	}, logger)

	a.Registry = useCases.NewRegistry(factory, logger, useCases.RegistryOptions{
		Promotion: useCases.PromotionOptions{
			PacingDelay:   cfg.Promotion.PacingDelay,
			RecoveryDelay: cfg.Promotion.RecoveryDelay,
		},
		SendRate:  rate.Limit(cfg.SendRate),
		SendBurst: cfg.SendBurst,
	})
	a.Onboarding = useCases.NewOnboarding(factory, logger, cfg.ChallengeTTL)
	a.Service = useCases.NewBotService(store, a.Onboarding, a.Registry, logger)
	a.Runner = useCases.NewRunner(store, a.Service, a.Registry, a.Onboarding, logger)
	return a, nil
}

func (a *App) openStore(ctx context.Context, cfg *config.AppConfig) (ports.AccountStore, error) {
	switch cfg.Store.Kind {
	case config.StoreJSON:
		return config.NewJSONAccountStore(cfg.Store.JSONDir), nil
	default:
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Store.RedisAddr,
			Password: cfg.Store.RedisPassword,
			DB:       cfg.Store.RedisDB,
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			_ = rdb.Close()
			return nil, fmt.Errorf("redis ping %s: %w", cfg.Store.RedisAddr, err)
		}
		a.closers = append(a.closers, rdb.Close)
		return redisstore.New(rdb, cfg.Store.RedisPrefix), nil
	}
}

// Close освобождает внешние ресурсы. Подключения аккаунтов гасит Runner.
func (a *App) Close() {
	for _, c := range a.closers {
		_ = c()
	}
}

// SetupLogger выбирает уровень логов по окружению.
func SetupLogger(env string) *slog.Logger {
	level := slog.LevelInfo
	switch env {
	case envDev:
		level = slog.LevelDebug
	case envProd:
		level = slog.LevelInfo
	}
	return slog.New(
		slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}),
	)
}
