// Package main runs the forward-test monitor service: websocket candle
// ingestion, the periodic tick engine, and the metrics endpoint.
package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"trade-forwardtest/internal/config"
	"trade-forwardtest/internal/feed"
	"trade-forwardtest/internal/fillsim"
	"trade-forwardtest/internal/lock"
	"trade-forwardtest/internal/monitor"
	"trade-forwardtest/internal/observability"
	"trade-forwardtest/internal/outcome"
	"trade-forwardtest/internal/portfolio"
	chstore "trade-forwardtest/internal/storage/clickhouse"
	"trade-forwardtest/internal/storage/migrations"
	"trade-forwardtest/internal/storage/postgres"
)

func main() {
	configPath := flag.String("config", "", "Path to YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("load config")
	}
	observability.SetupLogging(cfg.Log.Level, cfg.Log.Console)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Info().Str("signal", sig.String()).Msg("shutting down")
		cancel()
	}()

	pool, err := postgres.NewPool(ctx, cfg.Storage.PostgresDSN)
	if err != nil {
		log.Fatal().Err(err).Msg("connect postgres")
	}
	defer pool.Close()
	if err := migrations.RunPostgresMigrations(ctx, pool); err != nil {
		log.Fatal().Err(err).Msg("run postgres migrations")
	}

	chConn, err := migrations.RunClickhouseMigrations(ctx, cfg.Storage.ClickhouseDSN)
	if err != nil {
		log.Fatal().Err(err).Msg("run clickhouse migrations")
	}
	defer chConn.Close()

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Storage.RedisAddr,
		Password: cfg.Storage.RedisPassword,
		DB:       cfg.Storage.RedisDB,
	})
	if err := redisClient.Ping(ctx).Err(); err != nil {
		log.Fatal().Err(err).Msg("connect redis")
	}
	defer redisClient.Close()

	metrics := observability.NewMetrics("")

	snapshots := postgres.NewSnapshotStore(pool)
	states := postgres.NewMonitorStateStore(pool)
	events := postgres.NewEventStore(pool)
	outcomes := postgres.NewOutcomeStore(pool)
	candidates := postgres.NewCandidateStore(pool)
	positions := postgres.NewPositionStore(pool)
	candles := chstore.NewCandleStore(chConn)
	equity := chstore.NewEquityStore(chConn)

	mgr := portfolio.NewManager(portfolio.Options{
		Config: portfolio.Config{
			PoolSize:         cfg.Portfolio.PoolSize,
			CandidateTTL:     cfg.Portfolio.CandidateTTL,
			MinScore:         cfg.Portfolio.MinScore,
			MaxPerSymbol:     cfg.Portfolio.MaxPerSymbol,
			MaxPerSymbolSide: cfg.Portfolio.MaxPerSymbolSide,
			Weights: portfolio.ScoreWeights{
				EV:         cfg.Portfolio.ScoreWeightEV,
				Confidence: cfg.Portfolio.ScoreWeightConf,
				Quality:    cfg.Portfolio.ScoreWeightQual,
			},
			MaxPositions:        cfg.Portfolio.MaxPositions,
			MaxPositionsPerSym:  cfg.Portfolio.MaxPositionsPerSym,
			MaxPositionsPerSide: cfg.Portfolio.MaxPositionsPerSide,
			MaxTotalRiskR:       cfg.Portfolio.MaxTotalRiskR,
			RiskPerPositionR:    cfg.Portfolio.RiskPerPositionR,
			RiskPctPerPosition:  cfg.Portfolio.RiskPctPerPosition,
			FillRetryThrottle:   cfg.Portfolio.FillRetryThrottle,
			InitialEquity:       cfg.Portfolio.InitialEquity,
		},
		CandidateStore: candidates,
		PositionStore:  positions,
		EquityStore:    equity,
		StateStore:     states,
		Metrics:        metrics,
	})

	recorder := outcome.NewRecorder(outcomes, events, mgr, metrics, nil)

	sim := fillsim.New(fillsim.Params{
		SpreadBufferPct:  cfg.Simulator.SpreadBufferPct,
		EntrySlippagePct: cfg.Simulator.EntrySlippagePct,
		ExitSlippagePct:  cfg.Simulator.ExitSlippagePct,
	})
	machine := monitor.NewMachine(sim, monitor.MachineConfig{TP1PartialPct: cfg.Simulator.TP1PartialPct})

	engine := monitor.NewEngine(monitor.EngineOptions{
		Config: monitor.EngineConfig{
			LockName:         cfg.Monitor.LockName,
			LockTTL:          cfg.Monitor.LockTTL,
			BacklogLimit:     cfg.Monitor.BacklogLimit,
			AnomalyThreshold: cfg.Monitor.AnomalyThreshold,
		},
		Machine:       machine,
		Feed:          feed.NewBreakerFeed(feed.NewStoreFeed(candles)),
		SnapshotStore: snapshots,
		StateStore:    states,
		EventStore:    events,
		Locker:        lock.NewRedisLocker(redisClient),
		Recorder:      recorder,
		Portfolio:     mgr,
		Metrics:       metrics,
	})

	// Candle ingestion runs alongside the tick loop.
	if len(cfg.Feed.Symbols) > 0 {
		stream := feed.NewStream(cfg.Feed.WSEndpoint, cfg.Feed.Symbols, candles, nil)
		go func() {
			if err := stream.Run(ctx); err != nil && ctx.Err() == nil {
				log.Error().Err(err).Msg("candle stream stopped")
				cancel()
			}
		}()
	}

	go serveMetrics(cfg.Metrics.Addr)

	log.Info().
		Dur("tick_interval", cfg.Monitor.TickInterval).
		Strs("symbols", cfg.Feed.Symbols).
		Msg("monitor service started")

	runTickLoop(ctx, engine, cfg.Monitor.TickInterval)
	log.Info().Msg("monitor service stopped")
}

func runTickLoop(ctx context.Context, engine *monitor.Engine, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := engine.Tick(ctx); err != nil {
				log.Error().Err(err).Int64("epoch", engine.Epoch()).Msg("tick failed")
			}
		}
	}
}

func serveMetrics(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", observability.Handler())
	if err := http.ListenAndServe(addr, mux); err != nil {
		log.Error().Err(err).Msg("metrics endpoint stopped")
	}
}
