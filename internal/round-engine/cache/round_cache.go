package cache

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/radieske/round-engine/pkg/contracts/events"
)

// RoundCache guarda no Redis o último evento de fase, para leitura por outros processos
// (bridge de chat, dashboards) sem consultar o engine.
type RoundCache struct {
	Client *redis.Client
	TTL    time.Duration
}

func NewRoundCache(c *redis.Client, ttl time.Duration) *RoundCache {
	return &RoundCache{Client: c, TTL: ttl}
}

const (
	keyCurrent = "round:current"
	keyPrefix  = "round:phase:"
)

func roundKey(id int64) string { return keyPrefix + strconv.FormatInt(id, 10) }

// PublishPhase grava o evento como fase corrente e no histórico da rodada
func (r *RoundCache) PublishPhase(ctx context.Context, ev events.RoundPhase) error {
	b, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	pipe := r.Client.TxPipeline()
	pipe.Set(ctx, keyCurrent, b, r.TTL)
	pipe.HSet(ctx, roundKey(ev.RoundID), ev.Kind, b)
	pipe.Expire(ctx, roundKey(ev.RoundID), r.TTL)
	_, err = pipe.Exec(ctx)
	return err
}

// Current retorna o último evento gravado; ok=false se não houver
func (r *RoundCache) Current(ctx context.Context) (ev events.RoundPhase, ok bool, err error) {
	b, err := r.Client.Get(ctx, keyCurrent).Bytes()
	if errors.Is(err, redis.Nil) {
		return events.RoundPhase{}, false, nil
	}
	if err != nil {
		return events.RoundPhase{}, false, err
	}
	if err := json.Unmarshal(b, &ev); err != nil {
		return events.RoundPhase{}, false, err
	}
	return ev, true, nil
}
