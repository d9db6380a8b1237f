package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	_ "go.uber.org/automaxprocs"

	"github.com/ozsports/gamestate-bridge/internal/bridge"
	"github.com/ozsports/gamestate-bridge/internal/graph"
	"github.com/ozsports/gamestate-bridge/internal/monitoring"
	"github.com/ozsports/gamestate-bridge/internal/scene"
	"github.com/ozsports/gamestate-bridge/internal/sweeper"
	"github.com/ozsports/gamestate-bridge/internal/writer"
)

// cleanupRetryBaseDelay is the backoff base for sweep conflict retries
const cleanupRetryBaseDelay = 100 * time.Millisecond

func main() {
	var (
		debug = flag.Bool("debug", false, "enable debug logging (overrides LOG_LEVEL)")
	)
	flag.Parse()

	cfg, err := LoadConfig(nil)
	if err != nil {
		// No logger yet
		println("Failed to load configuration:", err.Error())
		os.Exit(1)
	}
	if *debug {
		cfg.LogLevel = "debug"
	}

	logger := monitoring.NewLogger(monitoring.LoggerConfig{
		Level:  monitoring.LogLevel(cfg.LogLevel),
		Format: monitoring.LogFormat(cfg.LogFormat),
	})

	// automaxprocs has already clamped GOMAXPROCS to the container CPU limit
	logger.Info().Int("gomaxprocs", runtime.GOMAXPROCS(0)).Msg("Starting gamestate bridge")
	cfg.LogConfig(logger)

	go monitoring.ServeMetrics(cfg.MetricsAddr, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := graph.Connect(ctx, graph.Config{
		Host:           cfg.MemgraphHost,
		Port:           cfg.MemgraphPort,
		MaxRetries:     cfg.ConnectRetries,
		RetryDelay:     time.Duration(cfg.ConnectRetryDelayMs) * time.Millisecond,
		PoolSize:       cfg.ConnectionPoolSize,
		ConnectTimeout: time.Duration(cfg.ConnectionTimeoutMs) * time.Millisecond,
		QueryTimeout:   time.Duration(cfg.QueryTimeoutMs) * time.Millisecond,
	}, logger)
	if err != nil {
		logger.Error().Err(err).Msg("Could not connect to Memgraph")
		os.Exit(1)
	}
	defer db.Close(context.Background())

	db.CreateIndexes(ctx)

	// Scene bootstrap failure is not fatal: ingest still works, and the
	// edge statements tolerate the missing scene until the next restart
	if err := scene.Bootstrap(ctx, db, scene.StaticVenue{}, logger); err != nil {
		logger.Error().Err(err).Msg("Scene bootstrap failed, continuing without scene structure")
	}

	nc, err := bridge.ConnectNATS(bridge.NATSConfig{
		URL:           cfg.NATSURL,
		MaxReconnects: -1, // reconnect forever once initially connected
		ReconnectWait: 2 * time.Second,
	}, logger)
	if err != nil {
		logger.Error().Err(err).Msg("Could not connect to NATS")
		os.Exit(1)
	}

	b := bridge.New(bridge.Config{
		BatchInterval:   cfg.BatchInterval,
		MaxBatchSize:    cfg.MaxBatchSize,
		CleanupInterval: time.Duration(cfg.CleanupIntervalSeconds) * time.Second,
	},
		nc,
		writer.New(db, logger),
		sweeper.New(db, time.Duration(cfg.RollingWindowSeconds)*time.Second, cleanupRetryBaseDelay, logger),
		logger,
	)

	if err := b.Subscribe(); err != nil {
		logger.Error().Err(err).Msg("Subscription failed")
		nc.Close()
		os.Exit(1)
	}

	go b.Run(ctx)
	logger.Info().Msg("Bridge running")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	cancel()
	// Fresh context: the loop context is already cancelled but the final
	// flush still needs to reach the graph
	b.Shutdown(context.Background())
}
