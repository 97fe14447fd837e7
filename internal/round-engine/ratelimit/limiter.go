package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

var (
	ErrClosed        = errors.New("rate limiter closed")
	ErrInvalidConfig = errors.New("invalid rate limit config")
)

// Config é a cota imposta pelo provedor da API de resultados
type Config struct {
	MaxRequests int
	Window      time.Duration
	MinInterval time.Duration
	// Fração de MaxRequests a partir da qual o aviso de proximidade é emitido
	WarnRatio float64
}

func DefaultConfig() Config {
	return Config{
		MaxRequests: 35,
		Window:      30 * time.Second,
		MinInterval: 1100 * time.Millisecond,
		WarnRatio:   0.8,
	}
}

// Stats é uma fotografia do consumo da janela
type Stats struct {
	InWindow  int           `json:"in_window"`
	Remaining int           `json:"remaining"`
	Wait      time.Duration `json:"wait"`
	Granted   uint64        `json:"granted"`
	Denied    uint64        `json:"denied"`
}

// Hooks callbacks de métricas
type Hooks struct {
	OnGrant     func(waited time.Duration)
	OnDeny      func()
	OnNearLimit func(inWindow int)
}

type Option func(*Limiter)

// WithClock injeta o relógio e a função de espera (testes)
func WithClock(now func() time.Time, sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(l *Limiter) {
		if now != nil {
			l.now = now
		}
		if sleep != nil {
			l.sleep = sleep
		}
	}
}

func WithHooks(h Hooks) Option { return func(l *Limiter) { l.hooks = h } }

func WithLogger(log *zap.Logger) Option {
	return func(l *Limiter) {
		if log != nil {
			l.log = log
		}
	}
}

// Limiter combina janela deslizante com espaçamento mínimo entre concessões.
// Timestamps fora da janela são descartados de forma preguiçosa, antes de cada checagem.
type Limiter struct {
	cfg   Config
	log   *zap.Logger
	hooks Hooks
	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error

	mu         sync.Mutex
	stamps     []time.Time
	last       time.Time
	nearWarned bool
	granted    uint64
	denied     uint64

	// cancelado em Close; aborta esperas em andamento
	ctx    context.Context
	cancel context.CancelFunc
}

func New(cfg Config, opts ...Option) (*Limiter, error) {
	if cfg.MaxRequests <= 0 || cfg.Window <= 0 || cfg.MinInterval < 0 {
		return nil, fmt.Errorf("%w: max=%d window=%s min_interval=%s",
			ErrInvalidConfig, cfg.MaxRequests, cfg.Window, cfg.MinInterval)
	}
	if cfg.WarnRatio <= 0 || cfg.WarnRatio > 1 {
		cfg.WarnRatio = 0.8
	}
	ctx, cancel := context.WithCancel(context.Background())
	l := &Limiter{
		cfg:    cfg,
		log:    zap.NewNop(),
		now:    time.Now,
		sleep:  sleepWithContext,
		stamps: make([]time.Time, 0, cfg.MaxRequests),
		ctx:    ctx,
		cancel: cancel,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l, nil
}

func (l *Limiter) Config() Config { return l.cfg }

// Acquire bloqueia até haver cota e espaçamento suficientes, registrando a concessão.
// Cancelamento do ctx (ou Close do limiter) aborta a espera sem conceder.
func (l *Limiter) Acquire(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(l.ctx, cancel)
	defer stop()

	start := l.now()
	for {
		if l.ctx.Err() != nil {
			return ErrClosed
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		l.mu.Lock()
		now := l.now()
		wait := l.waitLocked(now)
		if wait <= 0 {
			l.grantLocked(now)
			l.mu.Unlock()
			if l.hooks.OnGrant != nil {
				l.hooks.OnGrant(now.Sub(start))
			}
			return nil
		}
		l.mu.Unlock()

		if err := l.sleep(ctx, wait); err != nil {
			if l.ctx.Err() != nil {
				return ErrClosed
			}
			return err
		}
	}
}

// TryAcquire aplica as mesmas regras sem bloquear; só registra em caso de concessão
func (l *Limiter) TryAcquire() bool {
	if l.ctx.Err() != nil {
		return false
	}

	l.mu.Lock()
	now := l.now()
	if l.waitLocked(now) > 0 {
		l.denied++
		l.mu.Unlock()
		if l.hooks.OnDeny != nil {
			l.hooks.OnDeny()
		}
		return false
	}
	l.grantLocked(now)
	l.mu.Unlock()

	if l.hooks.OnGrant != nil {
		l.hooks.OnGrant(0)
	}
	return true
}

// Stats retorna uso da janela, saldo restante e espera até a próxima concessão
func (l *Limiter) Stats() Stats {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	wait := l.waitLocked(now)
	if wait < 0 {
		wait = 0
	}
	return Stats{
		InWindow:  len(l.stamps),
		Remaining: l.cfg.MaxRequests - len(l.stamps),
		Wait:      wait,
		Granted:   l.granted,
		Denied:    l.denied,
	}
}

// Close cancela todas as esperas em andamento; chamadas seguintes falham com ErrClosed
func (l *Limiter) Close() {
	l.cancel()
}

// waitLocked descarta timestamps vencidos e calcula quanto falta para a próxima concessão
func (l *Limiter) waitLocked(now time.Time) time.Duration {
	l.prune(now)

	var wait time.Duration
	if !l.last.IsZero() {
		wait = l.cfg.MinInterval - now.Sub(l.last)
	}
	if len(l.stamps) >= l.cfg.MaxRequests {
		if w := l.stamps[0].Add(l.cfg.Window).Sub(now); w > wait {
			wait = w
		}
	}
	return wait
}

func (l *Limiter) prune(now time.Time) {
	i := 0
	for i < len(l.stamps) && now.Sub(l.stamps[i]) >= l.cfg.Window {
		i++
	}
	if i > 0 {
		l.stamps = append(l.stamps[:0], l.stamps[i:]...)
	}
	if float64(len(l.stamps)) < l.cfg.WarnRatio*float64(l.cfg.MaxRequests) {
		l.nearWarned = false
	}
}

func (l *Limiter) grantLocked(now time.Time) {
	l.stamps = append(l.stamps, now)
	l.last = now
	l.granted++

	inWindow := len(l.stamps)
	if !l.nearWarned && float64(inWindow) >= l.cfg.WarnRatio*float64(l.cfg.MaxRequests) {
		l.nearWarned = true
		l.log.Warn("rate limit near quota",
			zap.Int("in_window", inWindow),
			zap.Int("max", l.cfg.MaxRequests),
			zap.Duration("window", l.cfg.Window),
		)
		if l.hooks.OnNearLimit != nil {
			l.hooks.OnNearLimit(inWindow)
		}
	}
}

func sleepWithContext(ctx context.Context, delay time.Duration) error {
	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
