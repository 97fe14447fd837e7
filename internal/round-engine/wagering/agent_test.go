package wagering

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/radieske/round-engine/internal/round-engine/scheduler"
	"github.com/radieske/round-engine/internal/shared/config"
)

type fakePhase struct{ snap scheduler.Snapshot }

func (f *fakePhase) Snapshot() scheduler.Snapshot { return f.snap }

type fakeBalances map[string]decimal.Decimal

func (f fakeBalances) GetBalance(id string) decimal.Decimal { return f[id] }

type recordingSink struct {
	mu      sync.Mutex
	intents []WagerIntent
	err     error
}

func (s *recordingSink) PlaceWager(ctx context.Context, in WagerIntent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.intents = append(s.intents, in)
	return nil
}

func exampleTiers() []Tier {
	return []Tier{
		{Name: "X", Min: decimal.NewFromInt(100), Max: decimal.NewFromInt(500), Templates: []string{"x1", "x2"}},
		{Name: "Y", Min: decimal.NewFromInt(501), Max: decimal.NewFromInt(1000), Templates: []string{"y1", "y2", "y3"}},
	}
}

func warn(round int64, toSeal time.Duration) scheduler.PhaseEvent {
	return scheduler.PhaseEvent{Kind: scheduler.EventWarn, RoundID: round, Offset: toSeal, SecondsToSeal: toSeal}
}

func newTestAgent(balances fakeBalances, round int64) (*Agent, *fakePhase, *recordingSink) {
	phase := &fakePhase{snap: scheduler.Snapshot{RoundID: round, Phase: scheduler.PhaseBetting, SecondsToSeal: 40 * time.Second}}
	sink := &recordingSink{}
	a := NewAgent(Config{PreCloseCutoff: 15 * time.Second, Tiers: exampleTiers()}, phase, balances, sink, zap.NewNop(), Hooks{})
	return a, phase, sink
}

func TestResolveTierPicksMatchingRange(t *testing.T) {
	tier, ok := ResolveTier(exampleTiers(), decimal.NewFromInt(750))
	require.True(t, ok)
	assert.Equal(t, "Y", tier.Name)
	assert.Equal(t, []string{"y1", "y2", "y3"}, tier.Templates)

	_, ok = ResolveTier(exampleTiers(), decimal.NewFromInt(50))
	assert.False(t, ok)
	_, ok = ResolveTier(exampleTiers(), decimal.RequireFromString("500.5"))
	assert.False(t, ok, "gap between tiers")
}

func TestDefaultTiersCoverFractionalBalances(t *testing.T) {
	cases := map[string]string{
		"100":      "low",
		"500.50":   "low",
		"500.9999": "low",
		"501":      "mid",
		"1000.5":   "mid",
		"1001":     "high",
		"1000000":  "high",
	}
	for balance, want := range cases {
		tier, ok := ResolveTier(DefaultTiers(), decimal.RequireFromString(balance))
		require.True(t, ok, balance)
		assert.Equal(t, want, tier.Name, balance)
	}

	_, ok := ResolveTier(DefaultTiers(), decimal.RequireFromString("99.9999"))
	assert.False(t, ok)
	_, err := ValidateTiers(DefaultTiers())
	require.NoError(t, err)
}

func TestWarnPlacesRoundRobinIntents(t *testing.T) {
	ctx := context.Background()
	a, phase, sink := newTestAgent(fakeBalances{"acc": decimal.NewFromInt(750)}, 10)
	require.True(t, a.Register("acc", "g1", ""))

	for round := int64(10); round < 14; round++ {
		phase.snap.RoundID = round
		got := a.OnPhaseEvent(ctx, "g1", warn(round, 40*time.Second))
		require.Len(t, got, 1)
		// segundo aviso da mesma rodada não gera nova aposta
		assert.Empty(t, a.OnPhaseEvent(ctx, "g1", warn(round, 20*time.Second)))
	}

	var texts []string
	for _, in := range sink.intents {
		texts = append(texts, in.Text)
		assert.Equal(t, "Y", in.Tier)
		assert.Equal(t, "g1", in.GroupID)
		assert.NotEmpty(t, in.ID)
	}
	assert.Equal(t, []string{"y1", "y2", "y3", "y1"}, texts)

	reg, ok := a.Registration("acc")
	require.True(t, ok)
	assert.Equal(t, 4, reg.BetCounter)
}

func TestCustomTemplateOverridesRotation(t *testing.T) {
	a, _, sink := newTestAgent(fakeBalances{"acc": decimal.NewFromInt(200)}, 10)
	require.True(t, a.Register("acc", "g1", "odd 5"))

	a.OnPhaseEvent(context.Background(), "g1", warn(10, 40*time.Second))
	require.Len(t, sink.intents, 1)
	assert.Equal(t, "odd 5", sink.intents[0].Text)
	assert.Equal(t, "X", sink.intents[0].Tier)
}

func TestNoTierDeactivatesWithoutDeregistering(t *testing.T) {
	a, _, sink := newTestAgent(fakeBalances{"poor": decimal.NewFromInt(50)}, 10)
	require.True(t, a.Register("poor", "g1", ""))

	assert.Empty(t, a.OnPhaseEvent(context.Background(), "g1", warn(10, 40*time.Second)))
	assert.Empty(t, sink.intents)

	reg, ok := a.Registration("poor")
	require.True(t, ok)
	assert.False(t, reg.Active)
	assert.False(t, a.Register("poor", "g1", ""), "registration must survive deactivation")

	require.True(t, a.Deregister("poor"))
	assert.True(t, a.Register("poor", "g1", ""))
}

func TestCutoffAndPhaseRecheckBlockWagers(t *testing.T) {
	ctx := context.Background()
	a, phase, sink := newTestAgent(fakeBalances{"acc": decimal.NewFromInt(750)}, 10)
	require.True(t, a.Register("acc", "g1", ""))

	assert.Empty(t, a.OnPhaseEvent(ctx, "g1", warn(10, 15*time.Second)), "at cutoff")

	late := warn(10, 40*time.Second)
	late.Late = true
	assert.Empty(t, a.OnPhaseEvent(ctx, "g1", late))

	phase.snap.Phase = scheduler.PhaseClosed
	assert.Empty(t, a.OnPhaseEvent(ctx, "g1", warn(10, 40*time.Second)))

	phase.snap = scheduler.Snapshot{RoundID: 11, Phase: scheduler.PhaseBetting, SecondsToSeal: 150 * time.Second}
	assert.Empty(t, a.OnPhaseEvent(ctx, "g1", warn(10, 40*time.Second)), "stale round")

	seal := scheduler.PhaseEvent{Kind: scheduler.EventSeal, RoundID: 11}
	assert.Empty(t, a.OnPhaseEvent(ctx, "g1", seal))
	assert.Empty(t, sink.intents)
}

func TestOnlyGroupRegistrationsAreUsed(t *testing.T) {
	a, _, sink := newTestAgent(fakeBalances{"a": decimal.NewFromInt(300), "b": decimal.NewFromInt(300)}, 10)
	require.True(t, a.Register("a", "g1", ""))
	require.True(t, a.Register("b", "g2", ""))

	a.OnPhaseEvent(context.Background(), "g1", warn(10, 40*time.Second))
	require.Len(t, sink.intents, 1)
	assert.Equal(t, "a", sink.intents[0].AccountID)
}

func TestSinkFailureIsLoggedNotFatal(t *testing.T) {
	a, _, sink := newTestAgent(fakeBalances{"acc": decimal.NewFromInt(300)}, 10)
	sink.err = errors.New("gateway down")
	require.True(t, a.Register("acc", "g1", ""))

	got := a.OnPhaseEvent(context.Background(), "g1", warn(10, 40*time.Second))
	assert.Len(t, got, 1)
	assert.Empty(t, sink.intents)
}

func TestSettlementDeactivatesAndReactivates(t *testing.T) {
	balances := fakeBalances{"acc": decimal.NewFromInt(300)}
	a, _, _ := newTestAgent(balances, 10)
	require.True(t, a.Register("acc", "g1", ""))

	balances["acc"] = decimal.NewFromInt(20)
	off, on := a.OnSettlement("g1")
	assert.Equal(t, 1, off)
	assert.Equal(t, 0, on)

	balances["acc"] = decimal.NewFromInt(600)
	off, on = a.OnSettlement("g1")
	assert.Equal(t, 0, off)
	assert.Equal(t, 1, on)

	reg, _ := a.Registration("acc")
	assert.True(t, reg.Active)
}

func TestValidateTiers(t *testing.T) {
	_, err := ValidateTiers(nil)
	assert.ErrorIs(t, err, ErrConfigurationInvalid)

	_, err = ValidateTiers([]Tier{{Name: "inv", Min: decimal.NewFromInt(10), Max: decimal.NewFromInt(1), Templates: []string{"a"}}})
	assert.ErrorIs(t, err, ErrConfigurationInvalid)

	_, err = ValidateTiers([]Tier{{Name: "empty", Min: decimal.Zero, Max: decimal.NewFromInt(1), Templates: []string{" "}}})
	assert.ErrorIs(t, err, ErrConfigurationInvalid)

	shadowed := []Tier{
		{Name: "wide", Min: decimal.Zero, Max: decimal.NewFromInt(1000), Templates: []string{"a"}},
		{Name: "inner", Min: decimal.NewFromInt(100), Max: decimal.NewFromInt(200), Templates: []string{"b"}},
	}
	_, err = ValidateTiers(shadowed)
	assert.ErrorIs(t, err, ErrConfigurationInvalid)

	partial := []Tier{
		{Name: "a", Min: decimal.Zero, Max: decimal.NewFromInt(500), Templates: []string{"a"}},
		{Name: "b", Min: decimal.NewFromInt(400), Max: decimal.NewFromInt(900), Templates: []string{"b"}},
	}
	tiers, err := ValidateTiers(partial)
	require.NoError(t, err)
	tier, _ := ResolveTier(tiers, decimal.NewFromInt(450))
	assert.Equal(t, "a", tier.Name, "first match wins on partial overlap")
}

func TestInvalidTiersFallBackToDefaults(t *testing.T) {
	a := NewAgent(Config{Tiers: nil}, &fakePhase{}, fakeBalances{}, &recordingSink{}, nil, Hooks{})
	assert.Equal(t, DefaultTiers(), a.Tiers())

	tiers := TiersOrDefault([]config.TierSpec{{Name: "bad", Min: "abc", Max: "10", Templates: []string{"x"}}}, zap.NewNop())
	assert.Equal(t, DefaultTiers(), tiers)
}

func TestTiersFromYAMLFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tiers.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
tiers:
  - name: X
    min: "100"
    max: "500"
    templates: ["x1", "x2"]
  - name: Y
    min: "501"
    max: "1000"
    templates: ["y1"]
`), 0o600))

	specs, err := config.LoadTiers(path)
	require.NoError(t, err)
	tiers := TiersOrDefault(specs, zap.NewNop())
	require.Len(t, tiers, 2)
	tier, ok := ResolveTier(tiers, decimal.NewFromInt(750))
	require.True(t, ok)
	assert.Equal(t, "Y", tier.Name)
}
