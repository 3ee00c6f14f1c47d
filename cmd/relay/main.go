package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/voyra/relay/internal/collab"
	"github.com/voyra/relay/internal/jobs"
	"github.com/voyra/relay/internal/logging"
	"github.com/voyra/relay/internal/pipelines"
	"github.com/voyra/relay/internal/scheduler"
	"github.com/voyra/relay/internal/store"
	relaymcp "github.com/voyra/relay/pkg/mcp"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "relay:", err)
		os.Exit(1)
	}
}

func run() error {
	cfg := loadConfig()
	logger := newLogger(cfg.LogLevel)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := os.MkdirAll(relayDir(), 0o755); err != nil {
		return fmt.Errorf("create relay dir: %w", err)
	}

	st, err := store.NewLibSQLStore(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	if err := st.Migrate(ctx); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}

	var snapshots store.SnapshotStore = st
	if cfg.SnapshotBackend == "redis" {
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		if err := client.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("redis ping: %w", err)
		}
		defer client.Close()
		snapshots = store.NewRedisSnapshotStore(client, 0)
		logger.Info("snapshots on redis", slog.String("addr", cfg.RedisAddr))
	}

	deps := pipelines.Deps{
		Completion: collab.NewHTTPCompletionService(collab.CompletionConfig{
			BaseURL: cfg.CompletionBaseURL,
			APIKey:  cfg.CompletionAPIKey,
			Model:   cfg.CompletionModel,
		}),
		Search: collab.NewHTTPSearchService(collab.SearchConfig{
			BaseURL: cfg.SearchBaseURL,
			APIKey:  cfg.SearchAPIKey,
		}),
		Fetch:  collab.NewHTTPFetchService(collab.FetchConfig{}),
		Logger: logger,
	}

	runs, err := jobs.NewRunner(st, snapshots, deps, cfg.PoolSize, logger)
	if err != nil {
		return fmt.Errorf("build runner: %w", err)
	}
	defer runs.Shutdown()

	if cfg.Scheduler {
		sched := scheduler.New(st, runs, logger)
		if err := sched.Start(ctx); err != nil {
			return fmt.Errorf("start scheduler: %w", err)
		}
		defer func() {
			if err := sched.Stop(); err != nil {
				logger.Error("scheduler stop", slog.String("error", err.Error()))
			}
		}()
	}

	srv := relaymcp.NewRelayServer(relaymcp.RelayServerDeps{
		Runs:      runs,
		Store:     st,
		Snapshots: snapshots,
		Logger:    logger,
	})

	logger.Info("relay started",
		slog.String("db", cfg.DBPath),
		slog.Int("pool_size", cfg.PoolSize),
		slog.Bool("scheduler", cfg.Scheduler),
	)

	// Serve blocks until ctx is cancelled or stdin closes.
	if err := srv.Serve(ctx); err != nil && ctx.Err() == nil {
		return fmt.Errorf("mcp serve: %w", err)
	}

	// Give in-flight runs a moment to park or finish.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	done := make(chan struct{})
	go func() {
		runs.Shutdown()
		close(done)
	}()
	select {
	case <-done:
	case <-shutdownCtx.Done():
		logger.Warn("shutdown timed out with runs still active")
	}

	logger.Info("relay stopped")
	return nil
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}

	// Stdout carries the MCP transport; logs go to stderr.
	inner := slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})
	return slog.New(logging.NewCorrelationHandler(inner))
}
