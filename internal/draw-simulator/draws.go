package drawsim

import (
	"context"
	"encoding/json"
	"math/rand"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/radieske/round-engine/internal/round-engine/scheduler"
	"github.com/radieske/round-engine/pkg/contracts/events"
)

// Publisher recebe o sorteio apurado de cada grupo (Kafka draw_results)
type Publisher interface {
	PublishDraw(ctx context.Context, ev events.DrawSettled) error
}

// Feed recebe cada sorteio para o WebSocket do simulador
type Feed interface {
	Broadcast(topic string, payload any)
}

type Config struct {
	// Atraso entre o fechamento da rodada e a publicação do resultado
	Delay  time.Duration
	Groups []string
	Seed   int64
}

// Draws sorteia três dígitos (0-9) para cada rodada fechada e serve o último
// resultado no mesmo formato da API externa.
type Draws struct {
	cfg  Config
	pub  Publisher
	feed Feed
	log  *zap.Logger

	OnDraw    func()
	OnRequest func(status int)

	mu     sync.Mutex
	rnd    *rand.Rand
	latest *events.DrawResult
}

func New(cfg Config, pub Publisher, feed Feed, log *zap.Logger) *Draws {
	if log == nil {
		log = zap.NewNop()
	}
	if cfg.Seed == 0 {
		cfg.Seed = time.Now().UnixNano()
	}
	return &Draws{cfg: cfg, pub: pub, feed: feed, log: log, rnd: rand.New(rand.NewSource(cfg.Seed))}
}

// OnPhase é assinante do scheduler: cada Seal agenda o sorteio da rodada
func (d *Draws) OnPhase(ctx context.Context, ev scheduler.PhaseEvent) error {
	if ev.Kind != scheduler.EventSeal {
		return nil
	}
	if d.cfg.Delay <= 0 {
		d.Draw(ctx, ev.RoundID)
		return nil
	}
	round := ev.RoundID
	time.AfterFunc(d.cfg.Delay, func() {
		if ctx.Err() != nil {
			return
		}
		d.Draw(ctx, round)
	})
	return nil
}

// Draw apura a rodada e publica para cada grupo. Rodada repetida mantém o resultado.
func (d *Draws) Draw(ctx context.Context, round int64) events.DrawResult {
	d.mu.Lock()
	if d.latest != nil && d.latest.Period >= round {
		res := *d.latest
		d.mu.Unlock()
		return res
	}
	res := events.DrawResult{Period: round, N1: d.rnd.Intn(10), N2: d.rnd.Intn(10), N3: d.rnd.Intn(10)}
	d.latest = &res
	d.mu.Unlock()

	d.log.Info("draw published",
		zap.Int64("period", res.Period),
		zap.Int("n1", res.N1), zap.Int("n2", res.N2), zap.Int("n3", res.N3),
		zap.Int("sum", res.Sum()),
	)
	if d.OnDraw != nil {
		d.OnDraw()
	}
	if d.feed != nil {
		d.feed.Broadcast("draw", res)
	}
	if d.pub != nil {
		for _, g := range d.cfg.Groups {
			if err := d.pub.PublishDraw(ctx, events.DrawSettled{GroupID: g, Result: res}); err != nil {
				d.log.Warn("draw publish failed", zap.String("group", g), zap.Error(err))
			}
		}
	}
	return res
}

func (d *Draws) Latest() (events.DrawResult, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.latest == nil {
		return events.DrawResult{}, false
	}
	return *d.latest, true
}

// HandleLatest serve GET /api/draws/latest; 404 enquanto nenhuma rodada fechou
func (d *Draws) HandleLatest(w http.ResponseWriter, r *http.Request) {
	res, ok := d.Latest()
	status := http.StatusOK
	if !ok {
		status = http.StatusNotFound
	}
	if d.OnRequest != nil {
		d.OnRequest(status)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if !ok {
		_ = json.NewEncoder(w).Encode(map[string]string{"error": "no draw yet"})
		return
	}
	_ = json.NewEncoder(w).Encode(res)
}
