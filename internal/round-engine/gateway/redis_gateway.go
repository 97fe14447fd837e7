package gateway

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/radieske/round-engine/internal/round-engine/wagering"
)

// Tipos de comando publicados para o bridge de chat
const (
	CommandNotify = "notify"
	CommandMute   = "mute"
	CommandWager  = "wager"
)

// Command é o payload publicado no canal do gateway; o bridge executa no chat
type Command struct {
	Type      string `json:"type"`
	GroupID   string `json:"group_id"`
	Text      string `json:"text,omitempty"`
	Muted     *bool  `json:"muted,omitempty"`
	AccountID string `json:"account_id,omitempty"`
	RoundID   int64  `json:"round_id,omitempty"`
	IntentID  string `json:"intent_id,omitempty"`
	TsUnixMs  int64  `json:"ts_unix_ms"`
}

// RedisGateway publica comandos de broadcast, mute e apostas via Redis Pub/Sub
type RedisGateway struct {
	r       *redis.Client
	channel string
}

func NewRedisGateway(r *redis.Client, channel string) *RedisGateway {
	return &RedisGateway{r: r, channel: channel}
}

func (g *RedisGateway) Channel() string { return g.channel }

func (g *RedisGateway) Notify(ctx context.Context, groupID, text string) error {
	return g.publish(ctx, Command{Type: CommandNotify, GroupID: groupID, Text: text})
}

func (g *RedisGateway) SetMute(ctx context.Context, groupID string, muted bool) error {
	return g.publish(ctx, Command{Type: CommandMute, GroupID: groupID, Muted: &muted})
}

// PlaceWager pede ao bridge que envie a aposta em nome do trustee
func (g *RedisGateway) PlaceWager(ctx context.Context, in wagering.WagerIntent) error {
	return g.publish(ctx, Command{
		Type:      CommandWager,
		GroupID:   in.GroupID,
		Text:      in.Text,
		AccountID: in.AccountID,
		RoundID:   in.RoundID,
		IntentID:  in.ID,
	})
}

func (g *RedisGateway) publish(ctx context.Context, cmd Command) error {
	cmd.TsUnixMs = time.Now().UnixMilli()
	b, err := json.Marshal(cmd)
	if err != nil {
		return err
	}
	return g.r.Publish(ctx, g.channel, b).Err()
}
