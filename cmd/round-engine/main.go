package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/radieske/round-engine/internal/round-engine/cache"
	"github.com/radieske/round-engine/internal/round-engine/consumer"
	"github.com/radieske/round-engine/internal/round-engine/gateway"
	httpapi "github.com/radieske/round-engine/internal/round-engine/http"
	"github.com/radieske/round-engine/internal/round-engine/ledger"
	"github.com/radieske/round-engine/internal/round-engine/ledger/repo"
	"github.com/radieske/round-engine/internal/round-engine/metrics"
	"github.com/radieske/round-engine/internal/round-engine/orchestrator"
	"github.com/radieske/round-engine/internal/round-engine/producer"
	"github.com/radieske/round-engine/internal/round-engine/ratelimit"
	"github.com/radieske/round-engine/internal/round-engine/results"
	"github.com/radieske/round-engine/internal/round-engine/scheduler"
	"github.com/radieske/round-engine/internal/round-engine/wagering"
	"github.com/radieske/round-engine/internal/round-engine/ws"
	sharedcache "github.com/radieske/round-engine/internal/shared/cache"
	"github.com/radieske/round-engine/internal/shared/config"
	"github.com/radieske/round-engine/internal/shared/db"
	"github.com/radieske/round-engine/internal/shared/kafka"
	"github.com/radieske/round-engine/internal/shared/logger"
	sharedmetrics "github.com/radieske/round-engine/internal/shared/metrics"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}
	log, err := logger.New("round-engine", cfg.Env)
	if err != nil {
		panic(fmt.Errorf("logger init: %w", err))
	}
	defer log.Sync()
	log.Info("starting service", zap.String("service", "round-engine"), zap.String("env", cfg.Env))

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	m := metrics.New(prometheus.DefaultRegisterer)

	// Ledger: log append-only + snapshots no driver configurado
	store, sqlDB, err := openLedgerStore(ctx, cfg)
	if err != nil {
		log.Fatal("ledger store", zap.String("driver", cfg.LedgerDriver), zap.Error(err))
	}
	if sqlDB != nil {
		defer sqlDB.Close()
	}
	led, err := ledger.Open(ctx, store, logger.Component(log, "ledger"), m.LedgerHooks())
	if err != nil {
		log.Fatal("ledger open", zap.Error(err))
	}

	// Redis: gateway de chat, cache da rodada e espelho para o WebSocket
	redisClient, err := sharedcache.ConnectRedis(cfg.RedisAddr)
	if err != nil {
		log.Fatal("redis connect", zap.Error(err))
	}
	defer redisClient.Close()
	log.Info("redis connected")

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
	}, scheduler.SystemClock{}, logger.Component(log, "scheduler"), m.SchedulerHooks())
	if err != nil {
		log.Fatal("scheduler config", zap.Error(err))
	}

	limiterCfg := ratelimit.DefaultConfig()
	limiterCfg.MaxRequests = cfg.RateLimit.MaxRequests
	limiterCfg.Window = cfg.RateLimit.Window
	limiterCfg.MinInterval = cfg.RateLimit.MinInterval
	limiter, err := ratelimit.New(limiterCfg,
		ratelimit.WithHooks(m.LimiterHooks()),
		ratelimit.WithLogger(logger.Component(log, "ratelimit")),
	)
	if err != nil {
		log.Fatal("rate limit config", zap.Error(err))
	}

	// Kafka: fases e intenções saem, draw_results entra
	phaseWriter := kafka.NewWriter(cfg.KafkaBrokers, cfg.TopicRoundEvents)
	intentWriter := kafka.NewWriter(cfg.KafkaBrokers, cfg.TopicWagerIntents)
	kafkaPub := producer.NewKafkaPublisher(phaseWriter, intentWriter)
	defer kafkaPub.Close()

	gw := gateway.NewRedisGateway(redisClient, cfg.GatewayChannel)

	specs, err := config.LoadTiers(cfg.Agent.TiersFile)
	if err != nil {
		log.Warn("tiers file ignored", zap.String("path", cfg.Agent.TiersFile), zap.Error(err))
	}
	agent := wagering.NewAgent(wagering.Config{
		PreCloseCutoff: cfg.Agent.PreCloseCutoff,
		Tiers:          wagering.TiersOrDefault(specs, log),
	}, sched, led, wagering.Sinks{gw, kafkaPub}, logger.Component(log, "wagering"), m.AgentHooks())

	hub := ws.NewHub(func(r *http.Request) bool { return true }, logger.Component(log, "ws"))
	ws.StartGatewayMirror(ctx, redisClient, gw.Channel(), hub, log)

	reader := kafka.NewReader(cfg.KafkaBrokers, cfg.TopicDrawResults, "round-engine")
	defer reader.Close()
	settlements := &consumer.SettlementConsumer{Log: logger.Component(log, "settlement"), Reader: reader}
	m.WireConsumer(settlements)

	orch, err := orchestrator.New(orchestrator.Deps{
		Scheduler: sched,
		Ledger:    led,
		Agent:     agent,
		Limiter:   limiter,
		Results:   results.New(cfg.ResultAPIURL, limiter),
		Gateway:   gw,
		Publishers: map[string]orchestrator.PhasePublisher{
			"kafka": kafkaPub,
			"redis": cache.NewRoundCache(redisClient, cfg.RoundCacheTTL),
			"ws":    hub,
		},
		Workers:          []orchestrator.Worker{settlements.Run},
		Groups:           cfg.Groups,
		SnapshotInterval: cfg.SnapshotInterval,
		SettleRetention:  cfg.SettleRetention,
		Log:              logger.Component(log, "orchestrator"),
		Hooks:            m.OrchestratorHooks(),
	})
	if err != nil {
		log.Fatal("orchestrator init", zap.Error(err))
	}
	settlements.Settler = orch

	api := httpapi.NewServer(logger.Component(log, "http"), httpapi.Deps{
		Rounds:   sched,
		Ledger:   led,
		Trustees: agent,
		Settler:  orch,
		Quota:    limiter,
		Results:  orch,
		WS:       hub.HandleWS,
	})
	apiSrv := &http.Server{Addr: ":" + cfg.HTTPPort, Handler: api.Router()}

	metricsSrv := sharedmetrics.StartMetricsServer(cfg.MetricsPort, log, func(ctx context.Context) error {
		return healthCheck(ctx, sqlDB, redisClient)
	})

	go func() {
		log.Info("api listening", zap.String("addr", apiSrv.Addr))
		if err := apiSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("api srv", zap.Error(err))
			cancel()
		}
	}()

	if err := orch.Run(ctx); err != nil {
		log.Error("orchestrator stopped with error", zap.Error(err))
	}

	log.Info("shutting down", zap.Duration("timeout", cfg.ShutdownTimeout))
	sctx, scancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer scancel()
	_ = apiSrv.Shutdown(sctx)
	if err := orch.Shutdown(cfg.ShutdownTimeout); err != nil {
		log.Warn("shutdown incomplete", zap.Error(err))
	}
	_ = metricsSrv.Shutdown(sctx)
	log.Info("round-engine stopped")
}

// openLedgerStore escolhe a persistência do ledger pelo LEDGER_DRIVER.
// "memory" não sobrevive a restart e serve só para desenvolvimento.
func openLedgerStore(ctx context.Context, cfg config.Config) (ledger.Store, *sql.DB, error) {
	switch cfg.LedgerDriver {
	case "postgres":
		pg, err := db.ConnectPostgres(cfg.PostgresDSN)
		if err != nil {
			return nil, nil, err
		}
		st := repo.NewPostgres(pg)
		if err := st.EnsureSchema(ctx); err != nil {
			_ = pg.Close()
			return nil, nil, err
		}
		return st, pg, nil
	case "sqlite":
		lite, err := db.ConnectSQLite(cfg.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		st := repo.NewSQLite(lite)
		if err := st.EnsureSchema(ctx); err != nil {
			_ = lite.Close()
			return nil, nil, err
		}
		return st, lite, nil
	case "memory":
		return ledger.NewMemoryStore(), nil, nil
	default:
		return nil, nil, fmt.Errorf("unknown ledger driver %q", cfg.LedgerDriver)
	}
}

func healthCheck(ctx context.Context, sqlDB *sql.DB, r *redis.Client) error {
	if sqlDB != nil {
		if err := sqlDB.PingContext(ctx); err != nil {
			return fmt.Errorf("ledger db: %w", err)
		}
	}
	if err := r.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis: %w", err)
	}
	return nil
}
