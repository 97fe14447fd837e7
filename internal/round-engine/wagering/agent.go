package wagering

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/radieske/round-engine/internal/round-engine/scheduler"
)

// TrusteeRegistration é uma conta em nome da qual o agente aposta.
// Desativada (nunca removida) quando o saldo sai de todas as faixas.
type TrusteeRegistration struct {
	AccountID      string    `json:"account_id"`
	GroupID        string    `json:"group_id"`
	CustomTemplate string    `json:"custom_template,omitempty"`
	BetCounter     int       `json:"bet_counter"`
	Active         bool      `json:"active"`
	RegisteredAt   time.Time `json:"registered_at"`
	LastRound      int64     `json:"last_round,omitempty"`
}

// WagerIntent é a aposta que o gateway de mensagens deve enviar ao grupo
type WagerIntent struct {
	ID        string    `json:"id"`
	RoundID   int64     `json:"round_id"`
	GroupID   string    `json:"group_id"`
	AccountID string    `json:"account_id"`
	Text      string    `json:"text"`
	Tier      string    `json:"tier"`
	At        time.Time `json:"at"`
}

// PhaseSource fornece a leitura autoritativa da rodada
type PhaseSource interface {
	Snapshot() scheduler.Snapshot
}

type BalanceReader interface {
	GetBalance(accountID string) decimal.Decimal
}

type IntentSink interface {
	PlaceWager(ctx context.Context, intent WagerIntent) error
}

type Config struct {
	// Margem de segurança antes do fechamento, distinta do CloseOffset
	PreCloseCutoff time.Duration
	Tiers          []Tier
}

// Hooks callbacks de métricas
type Hooks struct {
	OnIntent      func(tier string)
	OnDeactivated func()
	OnReactivated func()
}

// Agent aposta automaticamente pelas contas registradas dentro da janela segura
type Agent struct {
	cfg      Config
	phase    PhaseSource
	balances BalanceReader
	sink     IntentSink
	log      *zap.Logger
	hooks    Hooks
	now      func() time.Time

	mu   sync.Mutex
	regs map[string]*TrusteeRegistration
}

// NewAgent valida as faixas; tabela inválida cai para DefaultTiers com aviso
func NewAgent(cfg Config, phase PhaseSource, balances BalanceReader, sink IntentSink, log *zap.Logger, hooks Hooks) *Agent {
	if log == nil {
		log = zap.NewNop()
	}
	tiers, err := ValidateTiers(cfg.Tiers)
	if err != nil {
		log.Warn("invalid tiers, using defaults", zap.Error(err))
		tiers = DefaultTiers()
	}
	cfg.Tiers = tiers
	return &Agent{
		cfg:      cfg,
		phase:    phase,
		balances: balances,
		sink:     sink,
		log:      log,
		hooks:    hooks,
		now:      time.Now,
		regs:     make(map[string]*TrusteeRegistration),
	}
}

func (a *Agent) Tiers() []Tier { return append([]Tier(nil), a.cfg.Tiers...) }

// Register cria o registro; false se a conta já estiver registrada (ativa ou não)
func (a *Agent) Register(accountID, groupID, customTemplate string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, ok := a.regs[accountID]; ok {
		return false
	}
	a.regs[accountID] = &TrusteeRegistration{
		AccountID:      accountID,
		GroupID:        groupID,
		CustomTemplate: customTemplate,
		Active:         true,
		RegisteredAt:   a.now().UTC(),
	}
	a.log.Info("trustee registered", zap.String("account", accountID), zap.String("group", groupID))
	return true
}

func (a *Agent) Deregister(accountID string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, ok := a.regs[accountID]; !ok {
		return false
	}
	delete(a.regs, accountID)
	a.log.Info("trustee deregistered", zap.String("account", accountID))
	return true
}

func (a *Agent) Registration(accountID string) (TrusteeRegistration, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	r, ok := a.regs[accountID]
	if !ok {
		return TrusteeRegistration{}, false
	}
	return *r, true
}

// Registrations lista os registros por ordem de cadastro
func (a *Agent) Registrations() []TrusteeRegistration {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]TrusteeRegistration, 0, len(a.regs))
	for _, r := range a.sortedLocked("") {
		out = append(out, *r)
	}
	return out
}

// sortedLocked filtra por grupo (vazio = todos) em ordem estável
func (a *Agent) sortedLocked(groupID string) []*TrusteeRegistration {
	out := make([]*TrusteeRegistration, 0, len(a.regs))
	for _, r := range a.regs {
		if groupID == "" || r.GroupID == groupID {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].RegisteredAt.Equal(out[j].RegisteredAt) {
			return out[i].RegisteredAt.Before(out[j].RegisteredAt)
		}
		return out[i].AccountID < out[j].AccountID
	})
	return out
}

// OnPhaseEvent reage aos avisos de fechamento. Só aposta se o evento estiver acima
// do cutoff e o snapshot atual ainda indicar Betting na mesma rodada.
// Cada registro aposta no máximo uma vez por rodada.
func (a *Agent) OnPhaseEvent(ctx context.Context, groupID string, ev scheduler.PhaseEvent) []WagerIntent {
	if ev.Kind != scheduler.EventWarn {
		return nil
	}
	if ev.Late || ev.SecondsToSeal <= a.cfg.PreCloseCutoff {
		a.log.Debug("wager skipped: inside pre-close cutoff",
			zap.String("group", groupID),
			zap.Stringer("event", ev),
		)
		return nil
	}
	snap := a.phase.Snapshot()
	if snap.Phase != scheduler.PhaseBetting || snap.RoundID != ev.RoundID || snap.SecondsToSeal <= a.cfg.PreCloseCutoff {
		a.log.Info("wager skipped: phase re-check failed",
			zap.String("group", groupID),
			zap.Int64("event_round", ev.RoundID),
			zap.Int64("round", snap.RoundID),
			zap.String("phase", string(snap.Phase)),
			zap.Duration("to_seal", snap.SecondsToSeal),
		)
		return nil
	}

	intents := a.prepare(groupID, ev.RoundID)
	for _, in := range intents {
		if err := a.sink.PlaceWager(ctx, in); err != nil {
			a.log.Warn("wager intent not delivered",
				zap.String("account", in.AccountID),
				zap.Int64("round", in.RoundID),
				zap.Error(err),
			)
			continue
		}
		if a.hooks.OnIntent != nil {
			a.hooks.OnIntent(in.Tier)
		}
	}
	return intents
}

func (a *Agent) prepare(groupID string, roundID int64) []WagerIntent {
	a.mu.Lock()
	defer a.mu.Unlock()

	var out []WagerIntent
	for _, r := range a.sortedLocked(groupID) {
		if !r.Active || r.LastRound == roundID {
			continue
		}
		balance := a.balances.GetBalance(r.AccountID)
		tier, ok := ResolveTier(a.cfg.Tiers, balance)
		if !ok {
			a.deactivateLocked(r, balance)
			continue
		}

		text := r.CustomTemplate
		if text == "" {
			text = tier.Templates[r.BetCounter%len(tier.Templates)]
		}
		out = append(out, WagerIntent{
			ID:        uuid.NewString(),
			RoundID:   roundID,
			GroupID:   groupID,
			AccountID: r.AccountID,
			Text:      text,
			Tier:      tier.Name,
			At:        a.now().UTC(),
		})
		r.BetCounter++
		r.LastRound = roundID
	}
	return out
}

func (a *Agent) deactivateLocked(r *TrusteeRegistration, balance decimal.Decimal) {
	r.Active = false
	a.log.Info("trustee deactivated: no tier for balance",
		zap.String("account", r.AccountID),
		zap.String("group", r.GroupID),
		zap.String("balance", balance.String()),
	)
	if a.hooks.OnDeactivated != nil {
		a.hooks.OnDeactivated()
	}
}

// OnSettlement reavalia as faixas do grupo depois do sorteio: desativa quem ficou
// sem faixa e reativa quem voltou a ter saldo compatível.
func (a *Agent) OnSettlement(groupID string) (deactivated, reactivated int) {
	a.mu.Lock()
	defer a.mu.Unlock()

	for _, r := range a.sortedLocked(groupID) {
		balance := a.balances.GetBalance(r.AccountID)
		_, ok := ResolveTier(a.cfg.Tiers, balance)
		switch {
		case !ok && r.Active:
			a.deactivateLocked(r, balance)
			deactivated++
		case ok && !r.Active:
			r.Active = true
			reactivated++
			a.log.Info("trustee reactivated",
				zap.String("account", r.AccountID),
				zap.String("balance", balance.String()),
			)
			if a.hooks.OnReactivated != nil {
				a.hooks.OnReactivated()
			}
		}
	}
	return deactivated, reactivated
}
