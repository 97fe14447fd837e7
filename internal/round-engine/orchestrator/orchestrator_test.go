package orchestrator

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/radieske/round-engine/internal/round-engine/ledger"
	"github.com/radieske/round-engine/internal/round-engine/ratelimit"
	"github.com/radieske/round-engine/internal/round-engine/scheduler"
	"github.com/radieske/round-engine/internal/round-engine/wagering"
	"github.com/radieske/round-engine/pkg/contracts/events"
)

type fakeGateway struct {
	mu       sync.Mutex
	messages []string
	mutes    []bool
}

func (g *fakeGateway) Notify(ctx context.Context, groupID, text string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.messages = append(g.messages, groupID+"|"+text)
	return nil
}

func (g *fakeGateway) SetMute(ctx context.Context, groupID string, muted bool) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.mutes = append(g.mutes, muted)
	return nil
}

type fakeResults struct {
	mu  sync.Mutex
	res events.DrawResult
}

func (f *fakeResults) Latest(ctx context.Context) (events.DrawResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.res, nil
}

type fakeSink struct {
	mu      sync.Mutex
	intents []wagering.WagerIntent
}

func (s *fakeSink) PlaceWager(ctx context.Context, in wagering.WagerIntent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.intents = append(s.intents, in)
	return nil
}

func (s *fakeSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.intents)
}

type fakeFeed struct {
	mu     sync.Mutex
	events []events.RoundPhase
}

func (f *fakeFeed) PublishPhase(ctx context.Context, ev events.RoundPhase) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, ev)
	return nil
}

type harness struct {
	o       *Orchestrator
	clock   *scheduler.ManualClock
	sched   *scheduler.Scheduler
	ledger  *ledger.Ledger
	agent   *wagering.Agent
	gw      *fakeGateway
	results *fakeResults
	sink    *fakeSink
	feed    *fakeFeed
	anchor  time.Time
}

func newHarness(t *testing.T, opts ...func(*Deps)) *harness {
	t.Helper()
	cfg := scheduler.DefaultConfig()
	h := &harness{
		clock:   scheduler.NewManualClock(cfg.Anchor),
		gw:      &fakeGateway{},
		results: &fakeResults{},
		sink:    &fakeSink{},
		feed:    &fakeFeed{},
		anchor:  cfg.Anchor,
	}

	var err error
	h.sched, err = scheduler.New(cfg, h.clock, zap.NewNop(), scheduler.Hooks{})
	require.NoError(t, err)
	h.ledger, err = ledger.Open(context.Background(), ledger.NewMemoryStore(), zap.NewNop(), ledger.Hooks{})
	require.NoError(t, err)
	h.agent = wagering.NewAgent(wagering.Config{PreCloseCutoff: 15 * time.Second, Tiers: wagering.DefaultTiers()},
		h.sched, h.ledger, h.sink, zap.NewNop(), wagering.Hooks{})
	limiter, err := ratelimit.New(ratelimit.DefaultConfig())
	require.NoError(t, err)

	deps := Deps{
		Scheduler:  h.sched,
		Ledger:     h.ledger,
		Agent:      h.agent,
		Limiter:    limiter,
		Results:    h.results,
		Gateway:    h.gw,
		Publishers: map[string]PhasePublisher{"test": h.feed},
		Groups:     []string{"g1"},
		Log:        zap.NewNop(),
	}
	for _, opt := range opts {
		opt(&deps)
	}
	h.o, err = New(deps)
	require.NoError(t, err)
	t.Cleanup(func() { _ = h.o.Shutdown(time.Second) })
	return h
}

// tickAt posiciona o relógio em anchor+offset e executa um tick
func (h *harness) tickAt(offset time.Duration) []scheduler.PhaseEvent {
	h.clock.Set(h.anchor.Add(offset))
	return h.sched.Tick(h.clock.Now())
}

func (h *harness) drain(t *testing.T) {
	t.Helper()
	require.NoError(t, h.sched.Close(time.Second))
}

func TestNoWagerWhenWarnArrivesInsideCutoff(t *testing.T) {
	h := newHarness(t)
	_, err := h.ledger.Credit(context.Background(), "trustee", decimal.NewFromInt(750), "deposit", "admin")
	require.NoError(t, err)
	require.True(t, h.agent.Register("trustee", "g1", ""))

	h.tickAt(0)
	evs := h.tickAt(170 * time.Second) // countdown 40: faltam 10s para o seal
	require.NotEmpty(t, evs)
	h.tickAt(185 * time.Second) // depois do seal
	h.drain(t)

	assert.Equal(t, 0, h.sink.count())
}

func TestFullRoundMessagingAndWagering(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	_, err := h.ledger.Credit(ctx, "trustee", decimal.NewFromInt(750), "deposit", "admin")
	require.NoError(t, err)
	require.True(t, h.agent.Register("trustee", "g1", ""))

	round := h.sched.Config().AnchorRoundID
	h.results.res = events.DrawResult{Period: round, N1: 3, N2: 5, N3: 9}

	h.tickAt(0)
	h.tickAt(140 * time.Second) // warn 40
	require.Eventually(t, func() bool { return h.sink.count() == 1 }, 2*time.Second, 5*time.Millisecond)
	h.tickAt(160 * time.Second) // warn 20
	h.tickAt(180 * time.Second) // seal
	h.tickAt(190 * time.Second) // check
	h.tickAt(200 * time.Second) // stuck
	h.tickAt(210 * time.Second) // reopen
	h.drain(t)

	assert.Equal(t, []string{
		"g1|Round 3000000: 40 seconds to close",
		"g1|Round 3000000: 20 seconds to close",
		"g1|Round 3000000: betting closed",
		"g1|Round 3000000 result: 3 + 5 + 9 = 17",
		"g1|Round 3000001: open for bets",
	}, h.gw.messages)
	assert.Equal(t, []bool{true, false}, h.gw.mutes)

	require.Equal(t, 1, h.sink.count())
	assert.Equal(t, "mid", h.sink.intents[0].Tier)
	assert.Equal(t, round, h.sink.intents[0].RoundID)

	last, ok := h.o.LastResult()
	require.True(t, ok)
	assert.Equal(t, round, last.Period)

	var kinds []string
	for _, ev := range h.feed.events {
		kinds = append(kinds, ev.Kind)
	}
	assert.Equal(t, []string{"warn", "warn", "seal", "check", "stuck", "reopen"}, kinds)
}

func TestDelayedResultNotices(t *testing.T) {
	h := newHarness(t)
	h.results.res = events.DrawResult{Period: h.sched.Config().AnchorRoundID - 1}

	h.tickAt(0)
	h.tickAt(180 * time.Second)
	h.tickAt(190 * time.Second)
	h.tickAt(200 * time.Second)
	h.drain(t)

	// avisos atrasados (seal no mesmo tick) não são enviados
	assert.Equal(t, []string{
		"g1|Round 3000000: betting closed",
		"g1|Round 3000000: checking result...",
		"g1|Round 3000000: result delayed",
	}, h.gw.messages)
	_, ok := h.o.LastResult()
	assert.False(t, ok)
}

func TestSettleCreditsPayoutsOnce(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	round := h.sched.Config().AnchorRoundID
	require.True(t, h.agent.Register("trustee", "g1", ""))

	h.tickAt(0)
	err := h.o.Settle(ctx, "g1", round, []Payout{{AccountID: "trustee", Amount: decimal.NewFromInt(10)}})
	require.ErrorIs(t, err, ErrRoundNotSealed)

	h.tickAt(185 * time.Second)
	payouts := []Payout{{AccountID: "trustee", Amount: decimal.NewFromInt(300)}}
	require.NoError(t, h.o.Settle(ctx, "g1", round, payouts))
	assert.True(t, h.ledger.GetBalance("trustee").Equal(decimal.NewFromInt(300)))

	require.ErrorIs(t, h.o.Settle(ctx, "g1", round, payouts), ErrAlreadySettled)
	require.ErrorIs(t, h.o.Settle(ctx, "g2", round, payouts), ErrUnknownGroup)
	require.ErrorIs(t, h.o.Settle(ctx, "g1", round+1, payouts), ErrRoundNotSealed)

	hist := h.ledger.History("trustee")
	require.Len(t, hist, 1)
	assert.Equal(t, "payout:3000000", hist[0].Reason)

	reg, ok := h.agent.Registration("trustee")
	require.True(t, ok)
	assert.True(t, reg.Active)
}

func TestSettleForgetsRoundsOutsideRetention(t *testing.T) {
	h := newHarness(t, func(d *Deps) { d.SettleRetention = 2 })
	ctx := context.Background()
	round := h.sched.Config().AnchorRoundID
	length := h.sched.Config().RoundLength
	payouts := []Payout{{AccountID: "w", Amount: decimal.NewFromInt(5)}}

	h.tickAt(0)
	h.tickAt(185 * time.Second)
	require.NoError(t, h.o.Settle(ctx, "g1", round, payouts))

	// três rodadas depois a rodada inicial sai da janela
	for i := 1; i <= 3; i++ {
		h.tickAt(time.Duration(i)*length + 185*time.Second)
		require.NoError(t, h.o.Settle(ctx, "g1", round+int64(i), payouts))
	}

	h.o.mu.Lock()
	size := len(h.o.settled)
	_, kept := h.o.settled[settleKey{group: "g1", round: round}]
	h.o.mu.Unlock()
	assert.Equal(t, 3, size)
	assert.False(t, kept)

	// reentrega tardia não credita de novo
	require.ErrorIs(t, h.o.Settle(ctx, "g1", round, payouts), ErrSettlementExpired)
	require.ErrorIs(t, h.o.Settle(ctx, "g1", round+1, payouts), ErrAlreadySettled)
	assert.True(t, h.ledger.GetBalance("w").Equal(decimal.NewFromInt(20)))
}

func TestSettleDeactivatesDrainedTrustees(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	require.True(t, h.agent.Register("broke", "g1", ""))

	h.tickAt(0)
	h.tickAt(185 * time.Second)
	require.NoError(t, h.o.Settle(ctx, "g1", h.sched.Config().AnchorRoundID, nil))

	reg, _ := h.agent.Registration("broke")
	assert.False(t, reg.Active)
}
