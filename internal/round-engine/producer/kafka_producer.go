package producer

import (
	"context"
	"encoding/json"
	"strconv"

	"github.com/segmentio/kafka-go"

	"github.com/radieske/round-engine/internal/round-engine/wagering"
	"github.com/radieske/round-engine/pkg/contracts/events"
)

// KafkaPublisher publica eventos de fase e intenções de aposta.
// A chave é o id da rodada, mantendo a ordem por rodada na mesma partição.
type KafkaPublisher struct {
	Phases  *kafka.Writer
	Intents *kafka.Writer
}

func NewKafkaPublisher(phases, intents *kafka.Writer) *KafkaPublisher {
	return &KafkaPublisher{Phases: phases, Intents: intents}
}

func (p *KafkaPublisher) PublishPhase(ctx context.Context, ev events.RoundPhase) error {
	b, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return p.Phases.WriteMessages(ctx, kafka.Message{
		Key:   []byte(strconv.FormatInt(ev.RoundID, 10)),
		Value: b,
		Time:  ev.Ts,
	})
}

// PlaceWager registra a intenção no tópico wager_intents (auditoria/consumidores externos)
func (p *KafkaPublisher) PlaceWager(ctx context.Context, in wagering.WagerIntent) error {
	b, err := json.Marshal(events.WagerIntent{
		IntentID:  in.ID,
		RoundID:   in.RoundID,
		GroupID:   in.GroupID,
		AccountID: in.AccountID,
		Text:      in.Text,
		Tier:      in.Tier,
		TsUnixMs:  in.At.UnixMilli(),
	})
	if err != nil {
		return err
	}
	return p.Intents.WriteMessages(ctx, kafka.Message{
		Key:   []byte(in.AccountID),
		Value: b,
		Time:  in.At,
	})
}

func (p *KafkaPublisher) Close() error {
	err := p.Phases.Close()
	if ierr := p.Intents.Close(); err == nil {
		err = ierr
	}
	return err
}
