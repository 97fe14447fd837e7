package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

var (
	ErrClosed          = errors.New("scheduler closed")
	ErrShutdownTimeout = errors.New("subscribers did not drain before timeout")
)

// Handler recebe eventos de fase numa goroutine própria do assinante
type Handler func(ctx context.Context, ev PhaseEvent) error

// Hooks callbacks de métricas (mesmo padrão do processor de odds)
type Hooks struct {
	OnEvent             func(PhaseEvent)
	OnDropped           func(subscriber string, ev PhaseEvent)
	OnSubscriberFailure func(subscriber string)
	OnAnomaly           func(kind string)
}

type subscriber struct {
	name    string
	queue   chan PhaseEvent
	handler Handler
}

// Scheduler calcula a rodada a partir do relógio e dispara cada evento de fase
// no máximo uma vez por rodada, mesmo com ticks atrasados ou pulados.
type Scheduler struct {
	cfg   Config
	clock Clock
	log   *zap.Logger
	hooks Hooks

	// estado da rodada, protegido por mu
	mu            sync.Mutex
	started       bool
	roundID       int64
	phase         Phase
	lastCountdown time.Duration
	warned        []bool
	sealed        bool
	sealTime      time.Time
	checked       bool
	stuck         bool

	// tickMu serializa advance+publish entre chamadores concorrentes de Tick
	tickMu sync.Mutex

	subsMu  sync.RWMutex
	subs    []*subscriber
	closed  bool
	workers sync.WaitGroup

	ctx    context.Context
	cancel context.CancelFunc

	loop      sync.WaitGroup
	stop      chan struct{}
	startOnce sync.Once
	stopOnce  sync.Once
	closeOnce sync.Once
}

// New valida a configuração e cria o scheduler em estado Idle
func New(cfg Config, clock Clock, log *zap.Logger, hooks Hooks) (*Scheduler, error) {
	norm, err := cfg.normalize()
	if err != nil {
		return nil, err
	}
	if clock == nil {
		clock = SystemClock{}
	}
	if log == nil {
		log = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		cfg:    norm,
		clock:  clock,
		log:    log,
		hooks:  hooks,
		phase:  PhaseIdle,
		warned: make([]bool, len(norm.WarnOffsets)),
		ctx:    ctx,
		cancel: cancel,
		stop:   make(chan struct{}),
	}, nil
}

func (s *Scheduler) Config() Config { return s.cfg }

// position deriva (roundID, countdown) do tempo decorrido desde a âncora.
// countdown fica sempre em [1s, RoundLength].
func (s *Scheduler) position(now time.Time) (int64, time.Duration) {
	length := s.cfg.RoundLength
	elapsed := now.Sub(s.cfg.Anchor)
	idx := elapsed / length
	within := elapsed % length
	if within < 0 {
		within += length
		idx--
	}
	within = within.Truncate(time.Second)
	return s.cfg.AnchorRoundID + int64(idx), length - within
}

func (s *Scheduler) phaseFor(countdown time.Duration) Phase {
	if countdown <= s.cfg.CloseOffset {
		return PhaseClosed
	}
	return PhaseBetting
}

// Tick avança a máquina de estados para o instante now e despacha os eventos
// emitidos. Nunca propaga erro nem panic para quem chama.
func (s *Scheduler) Tick(now time.Time) (emitted []PhaseEvent) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("tick panic recovered", zap.Any("panic", r), zap.Time("now", now))
			s.anomaly("tick_panic")
		}
	}()

	s.tickMu.Lock()
	defer s.tickMu.Unlock()

	emitted = s.advance(now)
	for _, ev := range emitted {
		s.publish(ev)
	}
	return emitted
}

func (s *Scheduler) advance(now time.Time) []PhaseEvent {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, countdown := s.position(now)
	var out []PhaseEvent

	switch {
	case !s.started:
		s.started = true
		s.roundID = id
		s.resetRound()
		s.log.Info("scheduler started",
			zap.Int64("round", id),
			zap.Duration("countdown", countdown),
		)

	case id < s.roundID:
		// relógio voltou para uma rodada anterior: ids nunca são reutilizados
		s.log.Warn("timing anomaly: round id went backwards",
			zap.Int64("current", s.roundID),
			zap.Int64("computed", id),
		)
		s.anomaly("round_backwards")
		return nil

	case id > s.roundID:
		if !(countdown > s.lastCountdown && s.lastCountdown <= s.cfg.RolloverThreshold) {
			s.log.Warn("rollover detected after tick gap",
				zap.Int64("from", s.roundID),
				zap.Int64("to", id),
				zap.Duration("last_countdown", s.lastCountdown),
			)
			s.anomaly("rollover_gap")
		}
		// eventos pendentes da rodada anterior saem antes do reopen
		out = append(out, s.flush(now)...)
		s.roundID = id
		s.resetRound()
		out = append(out, PhaseEvent{Kind: EventReopen, RoundID: id, At: now})

	case countdown > s.lastCountdown:
		s.log.Warn("timing anomaly: countdown increased within round",
			zap.Int64("round", id),
			zap.Duration("last", s.lastCountdown),
			zap.Duration("now", countdown),
		)
		s.anomaly("countdown_backwards")
	}

	s.lastCountdown = countdown
	out = append(out, s.evaluate(now, countdown)...)
	s.phase = s.phaseFor(countdown)
	return out
}

// evaluate dispara os eventos cujo limiar já foi atingido na rodada corrente.
// Comparações por limiar (não igualdade) toleram ticks pulados.
func (s *Scheduler) evaluate(now time.Time, countdown time.Duration) []PhaseEvent {
	var out []PhaseEvent
	toSeal := countdown - s.cfg.CloseOffset

	// WarnOffsets está ordenado do maior para o menor
	for i, w := range s.cfg.WarnOffsets {
		if s.warned[i] || toSeal > w {
			continue
		}
		s.warned[i] = true
		out = append(out, PhaseEvent{
			Kind:          EventWarn,
			RoundID:       s.roundID,
			Offset:        w,
			SecondsToSeal: toSeal,
			Late:          toSeal <= 0,
			At:            now,
		})
	}

	if !s.sealed && toSeal <= 0 {
		s.sealed = true
		s.sealTime = now
		out = append(out, PhaseEvent{Kind: EventSeal, RoundID: s.roundID, At: now})
	}

	if s.sealed && !s.checked && now.Sub(s.sealTime) >= s.cfg.CheckAfter {
		s.checked = true
		out = append(out, PhaseEvent{Kind: EventCheck, RoundID: s.roundID, SinceSeal: now.Sub(s.sealTime), At: now})
	}
	if s.checked && !s.stuck && now.Sub(s.sealTime) >= s.cfg.StuckAfter {
		s.stuck = true
		out = append(out, PhaseEvent{Kind: EventStuck, RoundID: s.roundID, SinceSeal: now.Sub(s.sealTime), At: now})
	}
	return out
}

// flush completa, em ordem, os eventos que a rodada corrente ainda não emitiu
func (s *Scheduler) flush(now time.Time) []PhaseEvent {
	var out []PhaseEvent
	for i, w := range s.cfg.WarnOffsets {
		if s.warned[i] {
			continue
		}
		s.warned[i] = true
		out = append(out, PhaseEvent{Kind: EventWarn, RoundID: s.roundID, Offset: w, Late: true, At: now})
	}
	if !s.sealed {
		s.sealed = true
		s.sealTime = now
		out = append(out, PhaseEvent{Kind: EventSeal, RoundID: s.roundID, Late: true, At: now})
	}
	if !s.checked {
		s.checked = true
		out = append(out, PhaseEvent{Kind: EventCheck, RoundID: s.roundID, SinceSeal: now.Sub(s.sealTime), Late: true, At: now})
	}
	if !s.stuck {
		s.stuck = true
		out = append(out, PhaseEvent{Kind: EventStuck, RoundID: s.roundID, SinceSeal: now.Sub(s.sealTime), Late: true, At: now})
	}
	return out
}

func (s *Scheduler) resetRound() {
	for i := range s.warned {
		s.warned[i] = false
	}
	s.sealed = false
	s.sealTime = time.Time{}
	s.checked = false
	s.stuck = false
	s.phase = PhaseBetting
}

func (s *Scheduler) anomaly(kind string) {
	if s.hooks.OnAnomaly != nil {
		s.hooks.OnAnomaly(kind)
	}
}

// Snapshot recalcula rodada, countdown e fase a partir do relógio, sem depender
// das flags de disparo. É a leitura usada para decisões de aposta.
func (s *Scheduler) Snapshot() Snapshot {
	id, countdown := s.position(s.clock.Now())

	s.mu.Lock()
	started := s.started
	s.mu.Unlock()

	phase := PhaseIdle
	if started {
		phase = s.phaseFor(countdown)
	}
	return Snapshot{
		RoundID:       id,
		Countdown:     countdown,
		SecondsToSeal: countdown - s.cfg.CloseOffset,
		Phase:         phase,
	}
}

// Phase retorna a fase registrada no último tick
func (s *Scheduler) Phase() Phase {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.phase
}

// CurrentRound retorna a rodada registrada no último tick
func (s *Scheduler) CurrentRound() Round {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Round{
		ID:          s.roundID,
		StartOffset: time.Duration(s.roundID-s.cfg.AnchorRoundID) * s.cfg.RoundLength,
	}
}

// Subscribe registra um consumidor independente com fila própria.
// O tick nunca bloqueia: com a fila cheia o evento é descartado para esse assinante.
func (s *Scheduler) Subscribe(name string, queueSize int, h Handler) error {
	if h == nil {
		return fmt.Errorf("subscriber %q: nil handler", name)
	}
	if queueSize <= 0 {
		queueSize = 16
	}

	s.subsMu.Lock()
	defer s.subsMu.Unlock()
	if s.closed {
		return ErrClosed
	}

	sub := &subscriber{name: name, queue: make(chan PhaseEvent, queueSize), handler: h}
	s.subs = append(s.subs, sub)
	s.workers.Add(1)
	go s.work(sub)
	return nil
}

func (s *Scheduler) publish(ev PhaseEvent) {
	if s.hooks.OnEvent != nil {
		s.hooks.OnEvent(ev)
	}
	s.log.Info("phase event", zap.Stringer("event", ev), zap.Bool("late", ev.Late))

	s.subsMu.RLock()
	defer s.subsMu.RUnlock()
	if s.closed {
		return
	}
	for _, sub := range s.subs {
		select {
		case sub.queue <- ev:
		default:
			s.log.Warn("subscriber queue full, event dropped",
				zap.String("subscriber", sub.name),
				zap.Stringer("event", ev),
			)
			if s.hooks.OnDropped != nil {
				s.hooks.OnDropped(sub.name, ev)
			}
		}
	}
}

func (s *Scheduler) work(sub *subscriber) {
	defer s.workers.Done()
	for ev := range sub.queue {
		s.deliver(sub, ev)
	}
}

// deliver isola falhas de um assinante: erro ou panic é logado e os demais seguem
func (s *Scheduler) deliver(sub *subscriber, ev PhaseEvent) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("subscriber panic",
				zap.String("subscriber", sub.name),
				zap.Stringer("event", ev),
				zap.Any("panic", r),
			)
			if s.hooks.OnSubscriberFailure != nil {
				s.hooks.OnSubscriberFailure(sub.name)
			}
		}
	}()

	if err := sub.handler(s.ctx, ev); err != nil {
		s.log.Warn("subscriber failed",
			zap.String("subscriber", sub.name),
			zap.Stringer("event", ev),
			zap.Error(err),
		)
		if s.hooks.OnSubscriberFailure != nil {
			s.hooks.OnSubscriberFailure(sub.name)
		}
	}
}

// Start inicia o loop de ticks (~1 Hz ou mais rápido)
func (s *Scheduler) Start(ctx context.Context) {
	s.startOnce.Do(func() {
		s.loop.Add(1)
		go s.run(ctx)
	})
}

func (s *Scheduler) run(ctx context.Context) {
	defer s.loop.Done()

	ticker := time.NewTicker(s.cfg.TickInterval)
	defer ticker.Stop()

	s.Tick(s.clock.Now())
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stop:
			return
		case <-ticker.C:
			s.Tick(s.clock.Now())
		}
	}
}

// Stop interrompe o loop de ticks; assinantes continuam ativos até Close
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() {
		close(s.stop)
	})
	s.loop.Wait()
}

// Close para o loop, fecha as filas e aguarda os assinantes drenarem até timeout.
// Estourado o prazo, o contexto dos handlers é cancelado.
func (s *Scheduler) Close(timeout time.Duration) error {
	s.Stop()

	var err error
	s.closeOnce.Do(func() {
		s.subsMu.Lock()
		s.closed = true
		for _, sub := range s.subs {
			close(sub.queue)
		}
		s.subsMu.Unlock()

		done := make(chan struct{})
		go func() {
			s.workers.Wait()
			close(done)
		}()

		select {
		case <-done:
		case <-time.After(timeout):
			err = ErrShutdownTimeout
			s.log.Warn("subscribers still running at shutdown", zap.Duration("timeout", timeout))
		}
		s.cancel()
	})
	return err
}
