package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/radieske/round-engine/internal/round-engine/scheduler"
	"github.com/radieske/round-engine/pkg/contracts/events"
)

// onMessaging traduz cada evento de fase em mensagens e mute/unmute nos grupos
func (o *Orchestrator) onMessaging(ctx context.Context, ev scheduler.PhaseEvent) error {
	switch ev.Kind {
	case scheduler.EventWarn:
		if ev.Late {
			// aviso atrasado seria enganoso para os jogadores
			return nil
		}
		secs := int64(ev.SecondsToSeal / time.Second)
		return o.broadcast(ctx, fmt.Sprintf("Round %d: %d seconds to close", ev.RoundID, secs))

	case scheduler.EventSeal:
		err := o.broadcast(ctx, fmt.Sprintf("Round %d: betting closed", ev.RoundID))
		return errors.Join(err, o.mute(ctx, true))

	case scheduler.EventCheck:
		res, ok := o.fetchResult(ctx, ev.RoundID)
		if ok {
			return o.announce(ctx, res)
		}
		return o.broadcast(ctx, fmt.Sprintf("Round %d: checking result...", ev.RoundID))

	case scheduler.EventStuck:
		if o.isAnnounced(ev.RoundID) {
			return nil
		}
		res, ok := o.fetchResult(ctx, ev.RoundID)
		if ok {
			return o.announce(ctx, res)
		}
		o.result("delayed")
		return o.broadcast(ctx, fmt.Sprintf("Round %d: result delayed", ev.RoundID))

	case scheduler.EventReopen:
		err := o.mute(ctx, false)
		return errors.Join(err, o.broadcast(ctx, fmt.Sprintf("Round %d: open for bets", ev.RoundID)))
	}
	return nil
}

// fetchResult consulta a API uma vez; só aceita o resultado da rodada selada
func (o *Orchestrator) fetchResult(ctx context.Context, roundID int64) (events.DrawResult, bool) {
	res, err := o.d.Results.Latest(ctx)
	if err != nil {
		o.log.Warn("result fetch failed", zap.Int64("round", roundID), zap.Error(err))
		o.result("error")
		return events.DrawResult{}, false
	}
	if res.Period != roundID {
		o.log.Info("result not published yet",
			zap.Int64("round", roundID),
			zap.Int64("latest_period", res.Period),
		)
		o.result("pending")
		return events.DrawResult{}, false
	}
	return res, true
}

func (o *Orchestrator) announce(ctx context.Context, res events.DrawResult) error {
	o.mu.Lock()
	if o.announced[res.Period] {
		o.mu.Unlock()
		return nil
	}
	o.announced[res.Period] = true
	// mantém só as rodadas recentes
	for id := range o.announced {
		if id < res.Period-10 {
			delete(o.announced, id)
		}
	}
	r := res
	o.lastResult = &r
	o.mu.Unlock()

	o.result("announced")
	return o.broadcast(ctx, fmt.Sprintf("Round %d result: %d + %d + %d = %d",
		res.Period, res.N1, res.N2, res.N3, res.Sum()))
}

func (o *Orchestrator) isAnnounced(roundID int64) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.announced[roundID]
}

// broadcast envia para todos os grupos; falha de um grupo não impede os demais
func (o *Orchestrator) broadcast(ctx context.Context, text string) error {
	var errs []error
	for _, g := range o.d.Groups {
		if err := o.d.Gateway.Notify(ctx, g, text); err != nil {
			errs = append(errs, fmt.Errorf("notify %s: %w", g, err))
		}
	}
	return errors.Join(errs...)
}

func (o *Orchestrator) mute(ctx context.Context, muted bool) error {
	var errs []error
	for _, g := range o.d.Groups {
		if err := o.d.Gateway.SetMute(ctx, g, muted); err != nil {
			errs = append(errs, fmt.Errorf("mute %s=%t: %w", g, muted, err))
		}
	}
	return errors.Join(errs...)
}

func (o *Orchestrator) result(outcome string) {
	if o.d.Hooks.OnResult != nil {
		o.d.Hooks.OnResult(outcome)
	}
}
