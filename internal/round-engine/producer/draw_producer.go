package producer

import (
	"context"
	"encoding/json"

	"github.com/segmentio/kafka-go"

	sharedkafka "github.com/radieske/round-engine/internal/shared/kafka"
	"github.com/radieske/round-engine/pkg/contracts/events"
)

// DrawPublisher publica sorteios apurados em draw_results, chaveados pelo grupo
type DrawPublisher struct {
	W *kafka.Writer
}

func (p *DrawPublisher) PublishDraw(ctx context.Context, ev events.DrawSettled) error {
	b, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return sharedkafka.WriteJSON(ctx, p.W, ev.GroupID, b)
}
