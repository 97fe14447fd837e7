package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/radieske/round-engine/internal/round-engine/consumer"
	"github.com/radieske/round-engine/internal/round-engine/scheduler"
)

// counterValue soma todas as séries de um contador registrado
func counterValue(t *testing.T, reg *prometheus.Registry, name string) float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	var total float64
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.GetMetric() {
			total += m.GetCounter().GetValue()
		}
	}
	return total
}

func TestHooksFeedCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	sh := m.SchedulerHooks()
	sh.OnEvent(scheduler.PhaseEvent{Kind: scheduler.EventSeal})
	sh.OnEvent(scheduler.PhaseEvent{Kind: scheduler.EventWarn, Late: true})
	sh.OnAnomaly("round_backwards")
	sh.OnDropped("messaging", scheduler.PhaseEvent{})

	lh := m.LimiterHooks()
	lh.OnGrant(1100 * time.Millisecond)
	lh.OnDeny()

	led := m.LedgerHooks()
	led.OnCredit(decimal.NewFromInt(1000))
	led.OnDebit(decimal.NewFromInt(400))
	led.OnRejected("insufficient_funds")

	m.AgentHooks().OnIntent("mid")
	m.OrchestratorHooks().OnSettled("g1", 2)

	c := &consumer.SettlementConsumer{}
	m.WireConsumer(c)
	c.OnConsumed()
	c.OnError("decode")

	assert.Equal(t, 2.0, counterValue(t, reg, "round_phase_events_total"))
	assert.Equal(t, 1.0, counterValue(t, reg, "round_timing_anomalies_total"))
	assert.Equal(t, 1.0, counterValue(t, reg, "round_subscriber_dropped_total"))
	assert.Equal(t, 1.0, counterValue(t, reg, "ratelimit_grants_total"))
	assert.Equal(t, 1.0, counterValue(t, reg, "ratelimit_denials_total"))
	assert.Equal(t, 2.0, counterValue(t, reg, "ledger_transactions_total"))
	assert.Equal(t, 1400.0, counterValue(t, reg, "ledger_amount_total"))
	assert.Equal(t, 1.0, counterValue(t, reg, "ledger_rejections_total"))
	assert.Equal(t, 1.0, counterValue(t, reg, "wager_intents_total"))
	assert.Equal(t, 1.0, counterValue(t, reg, "round_settlements_total"))
	assert.Equal(t, 1.0, counterValue(t, reg, "settlement_messages_consumed_total"))
	assert.Equal(t, 1.0, counterValue(t, reg, "settlement_errors_total"))
}
