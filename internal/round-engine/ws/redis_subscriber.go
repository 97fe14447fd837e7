package ws

import (
	"context"
	"encoding/json"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// StartGatewayMirror escuta o canal de comandos do gateway no Redis e repassa
// cada comando aos clientes inscritos no tópico "gateway" (dashboards veem o que
// foi enviado aos grupos, inclusive por outras instâncias).
func StartGatewayMirror(ctx context.Context, r *redis.Client, channel string, hub *Hub, log *zap.Logger) {
	sub := r.Subscribe(ctx, channel)
	ch := sub.Channel()
	go func() {
		for {
			select {
			case <-ctx.Done():
				_ = sub.Close()
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var cmd map[string]any
				if err := json.Unmarshal([]byte(msg.Payload), &cmd); err != nil {
					log.Warn("gateway mirror unmarshal error", zap.Error(err))
					continue
				}
				hub.Broadcast(TopicGateway, cmd)
			}
		}
	}()
}
