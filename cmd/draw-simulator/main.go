package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	drawsim "github.com/radieske/round-engine/internal/draw-simulator"
	"github.com/radieske/round-engine/internal/round-engine/producer"
	"github.com/radieske/round-engine/internal/round-engine/scheduler"
	"github.com/radieske/round-engine/internal/round-engine/ws"
	"github.com/radieske/round-engine/internal/shared/config"
	"github.com/radieske/round-engine/internal/shared/kafka"
	"github.com/radieske/round-engine/internal/shared/logger"
	sharedmetrics "github.com/radieske/round-engine/internal/shared/metrics"
)

// Métricas Prometheus do simulador
var (
	drawsGenerated = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "draw_sim_draws_total",
		Help: "Sorteios gerados",
	})
	apiRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "draw_sim_api_requests_total",
		Help: "Requisições em /api/draws/latest por status",
	}, []string{"status"})
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}
	log, err := logger.New("draw-simulator", cfg.Env)
	if err != nil {
		panic(fmt.Errorf("logger init: %w", err))
	}
	defer log.Sync()

	prometheus.MustRegister(drawsGenerated, apiRequests)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// mesma âncora do engine: o período sorteado bate com o id da rodada
	anchor, err := cfg.Round.AnchorTime()
	if err != nil {
		log.Fatal("round config", zap.Error(err))
	}
	sched, err := scheduler.New(scheduler.Config{
		RoundLength:   cfg.Round.Length,
		CloseOffset:   cfg.Round.CloseOffset,
		WarnOffsets:   cfg.Round.WarnOffsets,
		CheckAfter:    cfg.Round.CheckAfter,
		StuckAfter:    cfg.Round.StuckAfter,
		Anchor:        anchor,
		AnchorRoundID: cfg.Round.AnchorRoundID,
		TickInterval:  cfg.Round.TickInterval,
	}, scheduler.SystemClock{}, logger.Component(log, "scheduler"), scheduler.Hooks{})
	if err != nil {
		log.Fatal("scheduler config", zap.Error(err))
	}

	writer := kafka.NewWriter(cfg.KafkaBrokers, cfg.TopicDrawResults)
	defer writer.Close()

	hub := ws.NewHub(func(r *http.Request) bool { return true }, logger.Component(log, "ws"))
	draws := drawsim.New(drawsim.Config{Delay: cfg.DrawDelay, Groups: cfg.Groups},
		&producer.DrawPublisher{W: writer}, hub, log)
	draws.OnDraw = func() { drawsGenerated.Inc() }
	draws.OnRequest = func(status int) { apiRequests.WithLabelValues(strconv.Itoa(status)).Inc() }

	if err := sched.Subscribe("draws", 16, draws.OnPhase); err != nil {
		log.Fatal("subscribe draws", zap.Error(err))
	}
	sched.Start(ctx)

	// ==== HTTP público: API de resultados + WS de sorteios
	r := chi.NewRouter()
	r.Get("/api/draws/latest", draws.HandleLatest)
	r.Get("/ws", hub.HandleWS)
	srv := &http.Server{Addr: ":" + cfg.HTTPPort, Handler: r}

	metricsSrv := sharedmetrics.StartMetricsServer(cfg.MetricsPort, log, nil)

	go func() {
		<-ctx.Done()
		_ = srv.Shutdown(context.Background())
	}()

	log.Info("draw simulator running",
		zap.String("addr", srv.Addr),
		zap.Duration("delay", cfg.DrawDelay),
		zap.Strings("groups", cfg.Groups),
	)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Error("public server error", zap.Error(err))
	}

	_ = sched.Close(cfg.ShutdownTimeout)
	_ = metricsSrv.Shutdown(context.Background())
	log.Info("draw simulator stopped")
}
