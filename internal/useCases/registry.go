package useCases

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/larriantoniy/tg_promo_bot/internal/domain"
	"github.com/larriantoniy/tg_promo_bot/internal/metrics"
	"github.com/larriantoniy/tg_promo_bot/internal/ports"
)

type RegistryOptions struct {
	Promotion PromotionOptions
	// лимит на ручные отправки через Send, на аккаунт
	SendRate  rate.Limit
	SendBurst int
}

func DefaultRegistryOptions() RegistryOptions {
	return RegistryOptions{
		Promotion: DefaultPromotionOptions(),
		SendRate:  rate.Every(time.Second),
		SendBurst: 3,
	}
}

type entryState int

const (
	entryStarting entryState = iota
	entryRunning
	entryStopping
)

// entry держит подключение аккаунта и, если включено, его рассылку.
// state защищён Registry.mu, остальное защищает mu самой записи.
type entry struct {
	state entryState

	mu        sync.RWMutex
	conn      ports.Connection
	task      *promotionTask
	limiter   *rate.Limiter
	startedAt time.Time
	closed    bool
}

// Registry владеет всеми живыми подключениями процесса. Не больше одного
// подключения на аккаунт. Глобальный мьютекс держится только на время
// изменения карты, ввод-вывод идёт без него.
type Registry struct {
	factory ports.ConnectionFactory
	log     *slog.Logger
	opts    RegistryOptions

	mu      sync.Mutex
	entries map[string]*entry
	onFault func(accountID string, err error)
}

func NewRegistry(factory ports.ConnectionFactory, log *slog.Logger, opts RegistryOptions) *Registry {
	if opts.SendRate <= 0 {
		opts.SendRate = rate.Every(time.Second)
	}
	if opts.SendBurst <= 0 {
		opts.SendBurst = 1
	}
	opts.Promotion = opts.Promotion.withDefaults()

	return &Registry{
		factory: factory,
		log:     log.With("component", "registry"),
		opts:    opts,
		entries: make(map[string]*entry),
	}
}

// OnFault задаёт обработчик для аккаунтов, остановленных из-за потери
// подключения. Вызывается уже после остановки.
func (r *Registry) OnFault(fn func(accountID string, err error)) {
	r.mu.Lock()
	r.onFault = fn
	r.mu.Unlock()
}

// Start подключает аккаунт и, если promo.Enabled, запускает рассылку.
// Повторный Start для работающего аккаунта ничего не делает и возвращает nil.
// Start во время запуска или остановки того же аккаунта возвращает Busy.
func (r *Registry) Start(
	ctx context.Context,
	accountID string,
	cred domain.AccountCredential,
	token domain.SessionToken,
	proxy *domain.ProxyDescriptor,
	promo *domain.PromotionConfig,
) error {
	const op = "registry.Start"
	log := r.log.With("account", accountID)

	if err := promo.Validate(); err != nil {
		return domain.NewError(domain.KindInvalidConfiguration, op, accountID, err)
	}

	r.mu.Lock()
	if e, ok := r.entries[accountID]; ok {
		state := e.state
		r.mu.Unlock()
		if state == entryRunning {
			log.Debug("account already running, start skipped")
			metrics.AccountStarts.WithLabelValues("already_running").Inc()
			return nil
		}
		return domain.NewError(domain.KindBusy, op, accountID, errors.New("start or stop in progress"))
	}
	e := &entry{state: entryStarting}
	r.entries[accountID] = e
	r.mu.Unlock()

	conn, err := r.connect(ctx, op, accountID, cred, token, proxy)
	if err != nil {
		r.mu.Lock()
		delete(r.entries, accountID)
		r.mu.Unlock()
		metrics.AccountStarts.WithLabelValues(string(domain.KindOf(err))).Inc()
		log.Error("account start failed", "error", err)
		return err
	}

	e.conn = conn
	e.limiter = rate.NewLimiter(r.opts.SendRate, r.opts.SendBurst)
	e.startedAt = time.Now()
	if promo != nil && promo.Enabled {
		p := NewPromotion(accountID, *promo, e.send, r.opts.Promotion, r.log, func(err error) {
			r.fault(accountID, e, err)
		})
		e.task = newPromotionTask(p.Run)
	}

	r.mu.Lock()
	e.state = entryRunning
	r.mu.Unlock()

	// запускаем после перевода в running: если Stop успеет раньше,
	// цикл увидит отменённый контекст и сразу выйдет
	if e.task != nil {
		e.task.start()
	}

	metrics.AccountsRunning.Inc()
	metrics.AccountStarts.WithLabelValues("success").Inc()
	log.Info("account started", "promotion", e.task != nil)
	return nil
}

func (r *Registry) connect(
	ctx context.Context,
	op, accountID string,
	cred domain.AccountCredential,
	token domain.SessionToken,
	proxy *domain.ProxyDescriptor,
) (ports.Connection, error) {
	conn, err := r.factory.Create(cred, token, proxy)
	if err != nil {
		if domain.KindOf(err) == domain.KindInvalidConfiguration {
			return nil, err
		}
		return nil, domain.NewError(domain.KindTransportFailure, op, accountID, err)
	}

	if err := conn.Connect(ctx); err != nil {
		conn.Close()
		if errors.Is(err, ports.ErrUnauthorized) {
			return nil, domain.NewError(domain.KindUnauthorized, op, accountID, err)
		}
		return nil, domain.NewError(domain.KindTransportFailure, op, accountID, err)
	}

	if !conn.IsAuthorized() {
		conn.Close()
		return nil, domain.NewError(domain.KindUnauthorized, op, accountID,
			errors.New("session token rejected"))
	}
	return conn, nil
}

// Stop останавливает рассылку (и ждёт её выхода), потом закрывает
// подключение. Второй вызов подряд вернёт NotRunning.
func (r *Registry) Stop(accountID string) error {
	return r.stop("registry.Stop", accountID, nil)
}

func (r *Registry) stop(op, accountID string, expected *entry) error {
	r.mu.Lock()
	e, ok := r.entries[accountID]
	if !ok || (expected != nil && e != expected) {
		r.mu.Unlock()
		return domain.NewError(domain.KindNotRunning, op, accountID, nil)
	}
	if e.state != entryRunning {
		r.mu.Unlock()
		return domain.NewError(domain.KindBusy, op, accountID, errors.New("start or stop in progress"))
	}
	e.state = entryStopping
	r.mu.Unlock()

	if e.task != nil {
		e.task.stop()
	}

	// ждём ручные отправки, которые уже идут
	e.mu.Lock()
	e.closed = true
	e.conn.Close()
	e.mu.Unlock()

	r.mu.Lock()
	delete(r.entries, accountID)
	r.mu.Unlock()

	metrics.AccountsRunning.Dec()
	r.log.Info("account stopped", "account", accountID, "uptime", time.Since(e.startedAt).Round(time.Second))
	return nil
}

// fault вызывается циклом рассылки, когда подключение умерло.
// Останавливать нужно из отдельной горутины: stop ждёт выхода этого цикла.
func (r *Registry) fault(accountID string, e *entry, cause error) {
	metrics.AccountFaults.Inc()
	go func() {
		r.log.Error("connection lost, stopping account", "account", accountID, "error", cause)
		if err := r.stop("registry.fault", accountID, e); err != nil {
			r.log.Warn("self-stop skipped", "account", accountID, "error", err)
			return
		}

		r.mu.Lock()
		fn := r.onFault
		r.mu.Unlock()
		if fn != nil {
			fn(accountID, cause)
		}
	}()
}

func (r *Registry) IsRunning(accountID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[accountID]
	return ok && e.state == entryRunning
}

// Running возвращает отсортированный список работающих аккаунтов.
func (r *Registry) Running() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.entries))
	for id, e := range r.entries {
		if e.state == entryRunning {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out
}

func (r *Registry) running(op, accountID string) (*entry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[accountID]
	if !ok || e.state != entryRunning {
		return nil, domain.NewError(domain.KindNotRunning, op, accountID, nil)
	}
	return e, nil
}

// Send делает разовую отправку от имени работающего аккаунта.
func (r *Registry) Send(ctx context.Context, accountID string, dest domain.Destination, text string) error {
	const op = "registry.Send"
	e, err := r.running(op, accountID)
	if err != nil {
		return err
	}
	if err := e.limiter.Wait(ctx); err != nil {
		return domain.NewError(domain.KindTransportFailure, op, accountID, err)
	}

	if err := e.send(ctx, dest, text); err != nil {
		switch {
		case errors.Is(err, ports.ErrClosed):
			return domain.NewError(domain.KindNotRunning, op, accountID, err)
		case errors.Is(err, ports.ErrUnauthorized):
			return domain.NewError(domain.KindUnauthorized, op, accountID, err)
		case domain.KindOf(err) == domain.KindInvalidConfiguration:
			return err
		}
		return domain.NewError(domain.KindTransportFailure, op, accountID, err)
	}
	return nil
}

// Info возвращает профиль работающего аккаунта.
func (r *Registry) Info(ctx context.Context, accountID string) (*domain.Profile, error) {
	const op = "registry.Info"
	e, err := r.running(op, accountID)
	if err != nil {
		return nil, err
	}

	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.closed {
		return nil, domain.NewError(domain.KindNotRunning, op, accountID, nil)
	}
	me, err := e.conn.Me(ctx)
	if err != nil {
		return nil, domain.NewError(domain.KindTransportFailure, op, accountID, err)
	}
	return me, nil
}

// StopAll останавливает все аккаунты параллельно. Нужен при завершении процесса.
func (r *Registry) StopAll() {
	ids := r.Running()

	var wg sync.WaitGroup
	for _, id := range ids {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			if err := r.Stop(id); err != nil && !errors.Is(err, domain.ErrNotRunning) {
				r.log.Warn("stop on shutdown failed", "account", id, "error", err)
			}
		}(id)
	}
	wg.Wait()
}

func (e *entry) send(ctx context.Context, dest domain.Destination, text string) error {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.closed {
		return fmt.Errorf("send to %s: %w", dest, ports.ErrClosed)
	}
	return e.conn.SendMessage(ctx, dest, text)
}
