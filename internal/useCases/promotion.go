package useCases

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"time"

	"github.com/larriantoniy/tg_promo_bot/internal/domain"
	"github.com/larriantoniy/tg_promo_bot/internal/metrics"
	"github.com/larriantoniy/tg_promo_bot/internal/ports"
)

const (
	defaultPacingDelay   = 5 * time.Second
	defaultRecoveryDelay = 60 * time.Second
)

type PromotionOptions struct {
	// пауза между отправками в разные чаты внутри одного цикла
	PacingDelay time.Duration
	// пауза после сбоя самого цикла
	RecoveryDelay time.Duration
}

func DefaultPromotionOptions() PromotionOptions {
	return PromotionOptions{
		PacingDelay:   defaultPacingDelay,
		RecoveryDelay: defaultRecoveryDelay,
	}
}

func (o PromotionOptions) withDefaults() PromotionOptions {
	if o.PacingDelay <= 0 {
		o.PacingDelay = defaultPacingDelay
	}
	if o.RecoveryDelay <= 0 {
		o.RecoveryDelay = defaultRecoveryDelay
	}
	return o
}

type SendFunc func(ctx context.Context, dest domain.Destination, text string) error

// fatalError: подключение больше не пригодно, цикл завершается.
type fatalError struct{ err error }

func (e *fatalError) Error() string { return "promotion: connection lost: " + e.err.Error() }
func (e *fatalError) Unwrap() error { return e.err }

// Promotion крутит рассылку одного аккаунта. Настройки фиксируются при
// создании; чтобы их поменять, аккаунт перезапускают.
type Promotion struct {
	accountID    string
	template     string
	destinations []string
	interval     time.Duration
	opts         PromotionOptions

	send    SendFunc
	onFatal func(error)
	log     *slog.Logger
	rnd     *rand.Rand
}

func NewPromotion(
	accountID string,
	cfg domain.PromotionConfig,
	send SendFunc,
	opts PromotionOptions,
	log *slog.Logger,
	onFatal func(error),
) *Promotion {
	interval := cfg.IntervalSeconds
	if interval < 1 {
		interval = domain.DefaultPromotionInterval
	}
	return &Promotion{
		accountID:    accountID,
		template:     cfg.MessageTemplate,
		destinations: append([]string(nil), cfg.TargetDestinations...),
		interval:     time.Duration(interval) * time.Second,
		opts:         opts.withDefaults(),
		send:         send,
		onFatal:      onFatal,
		log:          log.With("account", accountID, "component", "promotion"),
		rnd:          rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Run крутится до отмены ctx. Ошибки отдельных чатов и сбои цикла
// логируются и не останавливают рассылку; выход только по отмене или
// потере подключения.
func (p *Promotion) Run(ctx context.Context) {
	metrics.PromotionLoops.Inc()
	defer metrics.PromotionLoops.Dec()

	p.log.Info("promotion loop started",
		"destinations", len(p.destinations),
		"interval", p.interval,
	)
	defer p.log.Info("promotion loop stopped")

	for {
		err := p.runCycle(ctx)
		if ctx.Err() != nil {
			return
		}

		var fatal *fatalError
		switch {
		case errors.As(err, &fatal):
			p.log.Error("promotion aborted", "error", fatal.err)
			if p.onFatal != nil {
				p.onFatal(fatal.err)
			}
			return
		case err != nil:
			metrics.PromotionRecoveries.Inc()
			p.log.Error("promotion cycle failed, backing off",
				"error", err,
				"retry_in", p.opts.RecoveryDelay,
			)
			if sleep(ctx, p.opts.RecoveryDelay) != nil {
				return
			}
			continue
		}

		metrics.PromotionCycles.Inc()
		p.log.Debug("promotion cycle done, sleeping", "interval", p.interval)
		if sleep(ctx, p.interval) != nil {
			return
		}
	}
}

func (p *Promotion) runCycle(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("promotion cycle panic: %v", r)
		}
	}()

	// флуд-контроль не прерывает цикл, но после него вместо interval
	// выдерживается RecoveryDelay
	var rateLimited error
	for i, dest := range p.destinations {
		if i > 0 {
			if err := sleep(ctx, p.opts.PacingDelay); err != nil {
				return err
			}
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		text := domain.RenderTemplate(p.template, time.Now(), p.rnd)
		sendErr := p.send(ctx, domain.Destination(dest), text)
		switch {
		case sendErr == nil:
			metrics.PromotionSends.WithLabelValues("ok").Inc()
			p.log.Info("promotion message sent", "destination", dest)
		case ctx.Err() != nil:
			return ctx.Err()
		case errors.Is(sendErr, ports.ErrUnauthorized), errors.Is(sendErr, ports.ErrClosed):
			metrics.PromotionSends.WithLabelValues("failed").Inc()
			return &fatalError{err: sendErr}
		case errors.Is(sendErr, ports.ErrRateLimited):
			metrics.PromotionSends.WithLabelValues("rate_limited").Inc()
			p.log.Warn("promotion send rate limited", "destination", dest, "error", sendErr)
			rateLimited = sendErr
		default:
			metrics.PromotionSends.WithLabelValues("failed").Inc()
			p.log.Error("promotion send failed", "destination", dest, "error", sendErr)
		}
	}
	return rateLimited
}

// promotionTask отменяет запущенный цикл и ждёт его завершения.
type promotionTask struct {
	run    func(ctx context.Context)
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

func newPromotionTask(run func(ctx context.Context)) *promotionTask {
	ctx, cancel := context.WithCancel(context.Background())
	return &promotionTask{
		run:    run,
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
	}
}

func (t *promotionTask) start() {
	go func() {
		defer close(t.done)
		t.run(t.ctx)
	}()
}

// stop отменяет цикл и ждёт его выхода. Ожидание ограничено паузой
// между отправками и временем текущей отправки.
func (t *promotionTask) stop() {
	t.cancel()
	<-t.done
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
