package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"

	"github.com/radieske/round-engine/internal/round-engine/consumer"
	"github.com/radieske/round-engine/internal/round-engine/ledger"
	"github.com/radieske/round-engine/internal/round-engine/orchestrator"
	"github.com/radieske/round-engine/internal/round-engine/ratelimit"
	"github.com/radieske/round-engine/internal/round-engine/scheduler"
	"github.com/radieske/round-engine/internal/round-engine/wagering"
)

// Metrics agrupa os coletores Prometheus do round-engine e expõe os callbacks
// que cada componente recebe no construtor.
type Metrics struct {
	PhaseEvents        *prometheus.CounterVec
	Dropped            *prometheus.CounterVec
	SubscriberFailures *prometheus.CounterVec
	Anomalies          *prometheus.CounterVec

	LimiterGrants    prometheus.Counter
	LimiterDenials   prometheus.Counter
	LimiterWait      prometheus.Histogram
	LimiterNearLimit prometheus.Counter

	LedgerOps      *prometheus.CounterVec
	LedgerAmount   *prometheus.CounterVec
	LedgerRejected *prometheus.CounterVec

	Intents       *prometheus.CounterVec
	Deactivations prometheus.Counter
	Reactivations prometheus.Counter

	Results     *prometheus.CounterVec
	Settlements *prometheus.CounterVec

	ConsumerMessages prometheus.Counter
	ConsumerSettled  prometheus.Counter
	ConsumerErrors   *prometheus.CounterVec
}

func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		PhaseEvents:        prometheus.NewCounterVec(prometheus.CounterOpts{Name: "round_phase_events_total", Help: "eventos de fase emitidos"}, []string{"kind", "late"}),
		Dropped:            prometheus.NewCounterVec(prometheus.CounterOpts{Name: "round_subscriber_dropped_total", Help: "eventos descartados por fila cheia"}, []string{"subscriber"}),
		SubscriberFailures: prometheus.NewCounterVec(prometheus.CounterOpts{Name: "round_subscriber_failures_total", Help: "erros/panics de assinantes"}, []string{"subscriber"}),
		Anomalies:          prometheus.NewCounterVec(prometheus.CounterOpts{Name: "round_timing_anomalies_total", Help: "anomalias de relógio"}, []string{"kind"}),

		LimiterGrants:    prometheus.NewCounter(prometheus.CounterOpts{Name: "ratelimit_grants_total", Help: "requisições liberadas"}),
		LimiterDenials:   prometheus.NewCounter(prometheus.CounterOpts{Name: "ratelimit_denials_total", Help: "TryAcquire negados"}),
		LimiterWait:      prometheus.NewHistogram(prometheus.HistogramOpts{Name: "ratelimit_wait_seconds", Help: "espera até a liberação", Buckets: []float64{0, .1, .5, 1, 1.1, 2, 5, 10, 30}}),
		LimiterNearLimit: prometheus.NewCounter(prometheus.CounterOpts{Name: "ratelimit_near_limit_total", Help: "avisos de proximidade da cota"}),

		LedgerOps:      prometheus.NewCounterVec(prometheus.CounterOpts{Name: "ledger_transactions_total", Help: "transações gravadas"}, []string{"kind"}),
		LedgerAmount:   prometheus.NewCounterVec(prometheus.CounterOpts{Name: "ledger_amount_total", Help: "valor movimentado"}, []string{"kind"}),
		LedgerRejected: prometheus.NewCounterVec(prometheus.CounterOpts{Name: "ledger_rejections_total", Help: "operações rejeitadas por motivo"}, []string{"reason"}),

		Intents:       prometheus.NewCounterVec(prometheus.CounterOpts{Name: "wager_intents_total", Help: "apostas automáticas emitidas"}, []string{"tier"}),
		Deactivations: prometheus.NewCounter(prometheus.CounterOpts{Name: "wager_trustee_deactivations_total", Help: "trustees desativados"}),
		Reactivations: prometheus.NewCounter(prometheus.CounterOpts{Name: "wager_trustee_reactivations_total", Help: "trustees reativados"}),

		Results:     prometheus.NewCounterVec(prometheus.CounterOpts{Name: "draw_result_checks_total", Help: "consultas de resultado por desfecho"}, []string{"outcome"}),
		Settlements: prometheus.NewCounterVec(prometheus.CounterOpts{Name: "round_settlements_total", Help: "liquidações por grupo"}, []string{"group"}),

		ConsumerMessages: prometheus.NewCounter(prometheus.CounterOpts{Name: "settlement_messages_consumed_total", Help: "mensagens draw_results consumidas"}),
		ConsumerSettled:  prometheus.NewCounter(prometheus.CounterOpts{Name: "settlement_messages_settled_total", Help: "mensagens liquidadas com sucesso"}),
		ConsumerErrors:   prometheus.NewCounterVec(prometheus.CounterOpts{Name: "settlement_errors_total", Help: "erros por estágio"}, []string{"stage"}),
	}
	reg.MustRegister(
		m.PhaseEvents, m.Dropped, m.SubscriberFailures, m.Anomalies,
		m.LimiterGrants, m.LimiterDenials, m.LimiterWait, m.LimiterNearLimit,
		m.LedgerOps, m.LedgerAmount, m.LedgerRejected,
		m.Intents, m.Deactivations, m.Reactivations,
		m.Results, m.Settlements,
		m.ConsumerMessages, m.ConsumerSettled, m.ConsumerErrors,
	)
	return m
}

func (m *Metrics) SchedulerHooks() scheduler.Hooks {
	return scheduler.Hooks{
		OnEvent: func(ev scheduler.PhaseEvent) {
			late := "false"
			if ev.Late {
				late = "true"
			}
			m.PhaseEvents.WithLabelValues(string(ev.Kind), late).Inc()
		},
		OnDropped:           func(sub string, _ scheduler.PhaseEvent) { m.Dropped.WithLabelValues(sub).Inc() },
		OnSubscriberFailure: func(sub string) { m.SubscriberFailures.WithLabelValues(sub).Inc() },
		OnAnomaly:           func(kind string) { m.Anomalies.WithLabelValues(kind).Inc() },
	}
}

func (m *Metrics) LimiterHooks() ratelimit.Hooks {
	return ratelimit.Hooks{
		OnGrant: func(waited time.Duration) {
			m.LimiterGrants.Inc()
			m.LimiterWait.Observe(waited.Seconds())
		},
		OnDeny:      func() { m.LimiterDenials.Inc() },
		OnNearLimit: func(int) { m.LimiterNearLimit.Inc() },
	}
}

func (m *Metrics) LedgerHooks() ledger.Hooks {
	return ledger.Hooks{
		OnCredit: func(amount decimal.Decimal) {
			m.LedgerOps.WithLabelValues(string(ledger.KindCredit)).Inc()
			m.LedgerAmount.WithLabelValues(string(ledger.KindCredit)).Add(amount.InexactFloat64())
		},
		OnDebit: func(amount decimal.Decimal) {
			m.LedgerOps.WithLabelValues(string(ledger.KindDebit)).Inc()
			m.LedgerAmount.WithLabelValues(string(ledger.KindDebit)).Add(amount.InexactFloat64())
		},
		OnRejected: func(reason string) { m.LedgerRejected.WithLabelValues(reason).Inc() },
	}
}

func (m *Metrics) AgentHooks() wagering.Hooks {
	return wagering.Hooks{
		OnIntent:      func(tier string) { m.Intents.WithLabelValues(tier).Inc() },
		OnDeactivated: func() { m.Deactivations.Inc() },
		OnReactivated: func() { m.Reactivations.Inc() },
	}
}

func (m *Metrics) OrchestratorHooks() orchestrator.Hooks {
	return orchestrator.Hooks{
		OnResult:  func(outcome string) { m.Results.WithLabelValues(outcome).Inc() },
		OnSettled: func(group string, _ int) { m.Settlements.WithLabelValues(group).Inc() },
	}
}

// WireConsumer liga os callbacks do consumidor de liquidação aos contadores
func (m *Metrics) WireConsumer(c *consumer.SettlementConsumer) {
	c.OnConsumed = func() { m.ConsumerMessages.Inc() }
	c.OnSettled = func() { m.ConsumerSettled.Inc() }
	c.OnError = func(stage string) { m.ConsumerErrors.WithLabelValues(stage).Inc() }
}
