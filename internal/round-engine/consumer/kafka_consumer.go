package consumer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/radieske/round-engine/internal/round-engine/orchestrator"
	"github.com/radieske/round-engine/pkg/contracts/events"
)

// Settler aplica a liquidação de uma rodada
type Settler interface {
	Settle(ctx context.Context, groupID string, roundID int64, payouts []orchestrator.Payout) error
}

// SettlementConsumer consome draw_results do Kafka e liquida cada rodada no ledger
type SettlementConsumer struct {
	Log     *zap.Logger
	Reader  *kafka.Reader
	Settler Settler

	OnConsumed func()       // métricas
	OnSettled  func()       // métricas
	OnError    func(string) // métricas por fase
}

// Run inicia o loop de consumo até o ctx ser cancelado
func (c *SettlementConsumer) Run(ctx context.Context) error {
	for {
		m, err := c.Reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			c.Log.Warn("kafka read failed", zap.Error(err))
			c.fail("read")
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(500 * time.Millisecond):
			}
			continue
		}
		if c.OnConsumed != nil {
			c.OnConsumed()
		}

		if err := c.Handle(ctx, m.Value); err != nil {
			c.Log.Warn("settlement failed", zap.ByteString("key", m.Key), zap.Error(err))
			continue
		}
		if c.OnSettled != nil {
			c.OnSettled()
		}
	}
}

// Handle decodifica uma mensagem DrawSettled e chama o Settler
func (c *SettlementConsumer) Handle(ctx context.Context, value []byte) error {
	var ev events.DrawSettled
	if err := json.Unmarshal(value, &ev); err != nil {
		c.fail("decode")
		return fmt.Errorf("decode draw settled: %w", err)
	}
	if ev.GroupID == "" || ev.Result.Period == 0 {
		c.fail("decode")
		return fmt.Errorf("draw settled without group or period")
	}

	payouts := make([]orchestrator.Payout, 0, len(ev.Payouts))
	for _, p := range ev.Payouts {
		amount, err := decimal.NewFromString(p.Amount)
		if err != nil {
			c.fail("decode")
			return fmt.Errorf("payout %s amount %q: %w", p.AccountID, p.Amount, err)
		}
		payouts = append(payouts, orchestrator.Payout{AccountID: p.AccountID, Amount: amount})
	}

	if err := c.Settler.Settle(ctx, ev.GroupID, ev.Result.Period, payouts); err != nil {
		// redelivery do Kafka: já liquidado não é erro
		if errors.Is(err, orchestrator.ErrAlreadySettled) {
			c.Log.Info("draw already settled", zap.String("group", ev.GroupID), zap.Int64("round", ev.Result.Period))
			return nil
		}
		// fora da janela de liquidação nunca vai passar; registra e segue
		if errors.Is(err, orchestrator.ErrSettlementExpired) {
			c.Log.Warn("draw settlement expired", zap.String("group", ev.GroupID), zap.Int64("round", ev.Result.Period), zap.Error(err))
			c.fail("expired")
			return nil
		}
		c.fail("settle")
		return err
	}
	return nil
}

func (c *SettlementConsumer) fail(stage string) {
	if c.OnError != nil {
		c.OnError(stage)
	}
}
