package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/radieske/round-engine/internal/round-engine/ledger"
	"github.com/radieske/round-engine/internal/round-engine/ratelimit"
	"github.com/radieske/round-engine/internal/round-engine/scheduler"
	"github.com/radieske/round-engine/internal/round-engine/wagering"
	"github.com/radieske/round-engine/pkg/contracts/events"
)

var (
	ErrRoundNotSealed = errors.New("round not sealed yet")
	ErrAlreadySettled = errors.New("round already settled for group")
	ErrUnknownGroup   = errors.New("unknown group")
	// ErrSettlementExpired rodada anterior à janela em que o engine lembra as liquidações
	ErrSettlementExpired = errors.New("round outside settlement window")
)

// DefaultSettleRetention rodadas mantidas no controle de liquidação (~28h de 210s)
const DefaultSettleRetention int64 = 480

// Gateway executa broadcast e mute nos grupos; o engine não conhece o transporte
type Gateway interface {
	Notify(ctx context.Context, groupID, text string) error
	SetMute(ctx context.Context, groupID string, muted bool) error
}

// ResultFetcher consulta a API externa de resultados (já limitada pelo RateLimiter)
type ResultFetcher interface {
	Latest(ctx context.Context) (events.DrawResult, error)
}

// PhasePublisher recebe cada evento de fase num formato serializável
type PhasePublisher interface {
	PublishPhase(ctx context.Context, ev events.RoundPhase) error
}

// Worker é um loop auxiliar executado junto com o scheduler (ex.: consumer Kafka)
type Worker func(ctx context.Context) error

type Payout struct {
	AccountID string
	Amount    decimal.Decimal
}

// Hooks callbacks de métricas
type Hooks struct {
	OnResult  func(outcome string)
	OnSettled func(groupID string, payouts int)
}

type Deps struct {
	Scheduler *scheduler.Scheduler
	Ledger    *ledger.Ledger
	Agent     *wagering.Agent
	Limiter   *ratelimit.Limiter
	Results   ResultFetcher
	Gateway   Gateway
	// Feeds nomeados: cada um vira um assinante independente "feed:<nome>"
	Publishers map[string]PhasePublisher
	Workers    []Worker

	Groups           []string
	SnapshotInterval time.Duration
	QueueSize        int
	// SettleRetention quantas rodadas para trás ainda aceitam liquidação
	SettleRetention int64
	Log             *zap.Logger
	Hooks           Hooks
}

type settleKey struct {
	group string
	round int64
}

// Orchestrator liga o scheduler aos consumidores (mensagens, agente, feeds)
// e aplica as liquidações no ledger.
type Orchestrator struct {
	d   Deps
	log *zap.Logger

	mu         sync.Mutex
	announced  map[int64]bool
	lastResult *events.DrawResult
	settled    map[settleKey]bool
}

func New(d Deps) (*Orchestrator, error) {
	if d.Scheduler == nil || d.Ledger == nil || d.Agent == nil || d.Limiter == nil {
		return nil, fmt.Errorf("orchestrator: scheduler, ledger, agent and limiter are required")
	}
	if d.Gateway == nil || d.Results == nil {
		return nil, fmt.Errorf("orchestrator: gateway and result fetcher are required")
	}
	if len(d.Groups) == 0 {
		return nil, fmt.Errorf("orchestrator: at least one group is required")
	}
	if d.Log == nil {
		d.Log = zap.NewNop()
	}
	if d.QueueSize <= 0 {
		d.QueueSize = 64
	}
	if d.SettleRetention <= 0 {
		d.SettleRetention = DefaultSettleRetention
	}

	o := &Orchestrator{
		d:         d,
		log:       d.Log,
		announced: make(map[int64]bool),
		settled:   make(map[settleKey]bool),
	}

	// consumidores independentes: nenhuma ordem relativa entre eles
	if err := d.Scheduler.Subscribe("messaging", d.QueueSize, o.onMessaging); err != nil {
		return nil, err
	}
	if err := d.Scheduler.Subscribe("wagering", d.QueueSize, o.onWagering); err != nil {
		return nil, err
	}
	names := make([]string, 0, len(d.Publishers))
	for name := range d.Publishers {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		pub := d.Publishers[name]
		if err := d.Scheduler.Subscribe("feed:"+name, d.QueueSize, func(ctx context.Context, ev scheduler.PhaseEvent) error {
			return pub.PublishPhase(ctx, ev.Contract())
		}); err != nil {
			return nil, err
		}
	}
	return o, nil
}

func (o *Orchestrator) Scheduler() *scheduler.Scheduler { return o.d.Scheduler }
func (o *Orchestrator) Ledger() *ledger.Ledger          { return o.d.Ledger }
func (o *Orchestrator) Agent() *wagering.Agent          { return o.d.Agent }
func (o *Orchestrator) Limiter() *ratelimit.Limiter     { return o.d.Limiter }
func (o *Orchestrator) Groups() []string                { return append([]string(nil), o.d.Groups...) }

// LastResult retorna o último resultado anunciado
func (o *Orchestrator) LastResult() (events.DrawResult, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.lastResult == nil {
		return events.DrawResult{}, false
	}
	return *o.lastResult, true
}

// Run inicia o loop de ticks, o snapshotter do ledger e os workers auxiliares.
// Retorna quando o ctx é cancelado ou algum worker falha.
func (o *Orchestrator) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	o.d.Scheduler.Start(ctx)
	g.Go(func() error {
		<-ctx.Done()
		o.d.Scheduler.Stop()
		return nil
	})
	g.Go(func() error {
		return o.d.Ledger.RunSnapshots(ctx, o.d.SnapshotInterval)
	})
	for _, w := range o.d.Workers {
		w := w
		g.Go(func() error { return w(ctx) })
	}

	o.log.Info("round orchestrator running",
		zap.Strings("groups", o.d.Groups),
		zap.Int("workers", len(o.d.Workers)),
	)
	return g.Wait()
}

// Shutdown cancela esperas do limiter, drena os assinantes até timeout e grava
// um snapshot final do ledger.
func (o *Orchestrator) Shutdown(timeout time.Duration) error {
	o.d.Limiter.Close()
	errs := []error{o.d.Scheduler.Close(timeout)}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	errs = append(errs, o.d.Ledger.Snapshot(ctx))
	return errors.Join(errs...)
}

func (o *Orchestrator) onWagering(ctx context.Context, ev scheduler.PhaseEvent) error {
	if ev.Kind != scheduler.EventWarn {
		return nil
	}
	for _, g := range o.d.Groups {
		o.d.Agent.OnPhaseEvent(ctx, g, ev)
	}
	return nil
}

// Settle credita os prêmios da rodada e reavalia as faixas dos trustees do grupo.
// Cada (grupo, rodada) é liquidado uma única vez. Só as últimas SettleRetention
// rodadas ficam registradas; uma rodada mais antiga é recusada com
// ErrSettlementExpired e nunca volta a ser creditada.
func (o *Orchestrator) Settle(ctx context.Context, groupID string, roundID int64, payouts []Payout) error {
	if !o.knownGroup(groupID) {
		return fmt.Errorf("%w: %s", ErrUnknownGroup, groupID)
	}
	snap := o.d.Scheduler.Snapshot()
	if roundID > snap.RoundID || (roundID == snap.RoundID && snap.Phase != scheduler.PhaseClosed) {
		return fmt.Errorf("%w: round %d (current %d, %s)", ErrRoundNotSealed, roundID, snap.RoundID, snap.Phase)
	}

	oldest := snap.RoundID - o.d.SettleRetention
	if roundID < oldest {
		return fmt.Errorf("%w: round %d (oldest %d)", ErrSettlementExpired, roundID, oldest)
	}

	key := settleKey{group: groupID, round: roundID}
	o.mu.Lock()
	if o.settled[key] {
		o.mu.Unlock()
		return fmt.Errorf("%w: %s:%d", ErrAlreadySettled, groupID, roundID)
	}
	o.settled[key] = true
	for k := range o.settled {
		if k.round < oldest {
			delete(o.settled, k)
		}
	}
	o.mu.Unlock()

	reason := fmt.Sprintf("payout:%d", roundID)
	var errs []error
	credited := 0
	for _, p := range payouts {
		if _, err := o.d.Ledger.Credit(ctx, p.AccountID, p.Amount, reason, "settlement"); err != nil {
			errs = append(errs, fmt.Errorf("credit %s: %w", p.AccountID, err))
			continue
		}
		credited++
	}

	off, on := o.d.Agent.OnSettlement(groupID)
	o.log.Info("round settled",
		zap.String("group", groupID),
		zap.Int64("round", roundID),
		zap.Int("payouts", credited),
		zap.Int("deactivated", off),
		zap.Int("reactivated", on),
	)
	if o.d.Hooks.OnSettled != nil {
		o.d.Hooks.OnSettled(groupID, credited)
	}
	return errors.Join(errs...)
}

func (o *Orchestrator) knownGroup(groupID string) bool {
	for _, g := range o.d.Groups {
		if g == groupID {
			return true
		}
	}
	return false
}
