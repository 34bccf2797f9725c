// Command kreditbee runs the NAV ingestion and analytics service: it migrates
// the database, recovers any interrupted pipeline run, starts the daily sync
// scheduler, and serves the HTTP API.
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/prashant21b/kreditbee/internal/api"
	"github.com/prashant21b/kreditbee/internal/config"
	"github.com/prashant21b/kreditbee/internal/mfapi"
	"github.com/prashant21b/kreditbee/internal/pipeline"
	"github.com/prashant21b/kreditbee/internal/ratelimit"
	"github.com/prashant21b/kreditbee/internal/ratelimit/backends"
	"github.com/prashant21b/kreditbee/internal/scheduler"
	"github.com/prashant21b/kreditbee/internal/store"
)

func main() {
	if err := run(); err != nil {
		slog.Error("fatal", slog.Any("error", err))
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logger, closeLog, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer closeLog()
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := store.Connect(ctx, cfg.MySQL)
	if err != nil {
		return err
	}
	defer db.Close()

	if err := store.Migrate(ctx, db, logger); err != nil {
		return err
	}

	limiter, err := newLimiter(cfg, logger)
	if err != nil {
		return err
	}
	defer limiter.Close()

	client := mfapi.NewClient(mfapi.Config{
		BaseURL: cfg.MFAPIBaseURL,
		Timeout: cfg.MFAPITimeout,
	}, limiter, logger)

	funds := store.NewFundStore(db)
	navs := store.NewNAVStore(db)
	syncStates := store.NewSyncStateStore(db)
	status := store.NewPipelineStatusStore(db)
	analyticsStore := store.NewAnalyticsStore(db)

	orchestrator, err := pipeline.New(pipeline.Deps{
		Upstream:  client,
		Funds:     funds,
		NAVs:      navs,
		Sync:      syncStates,
		Status:    status,
		Analytics: analyticsStore,
		Logger:    logger,
	})
	if err != nil {
		return err
	}
	if err := orchestrator.Recover(ctx); err != nil {
		return err
	}

	sched, err := scheduler.New(cfg.CronSchedule, cfg.CronTimezone, func(ctx context.Context) {
		if err := orchestrator.RunIncremental(ctx); err != nil {
			logger.Error("scheduled incremental sync failed", slog.Any("error", err))
		}
	}, logger)
	if err != nil {
		return err
	}
	go sched.Run(ctx)

	server := api.New(api.Deps{
		Funds:     funds,
		NAVs:      navs,
		Analytics: analyticsStore,
		Sync:      syncStates,
		Status:    status,
		Pipeline:  orchestrator,
		Limiter:   limiter,
		Logger:    logger,
	})

	httpServer := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           server.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server listening", slog.String("addr", cfg.Addr()))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return httpServer.Shutdown(shutdownCtx)
}

// newLogger builds a JSON logger on stdout, teed into LOG_DIR/kreditbee.log
// when a log directory is configured.
func newLogger(cfg config.Config) (*slog.Logger, func(), error) {
	var out io.Writer = os.Stdout
	closeLog := func() {}

	if cfg.LogDir != "" {
		if err := os.MkdirAll(cfg.LogDir, 0o755); err != nil {
			return nil, nil, fmt.Errorf("failed to create log dir: %w", err)
		}
		f, err := os.OpenFile(filepath.Join(cfg.LogDir, "kreditbee.log"),
			os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open log file: %w", err)
		}
		out = io.MultiWriter(os.Stdout, f)
		closeLog = func() { _ = f.Close() }
	}

	handler := slog.NewJSONHandler(out, &slog.HandlerOptions{Level: cfg.SlogLevel()})
	return slog.New(handler), closeLog, nil
}

func newLimiter(cfg config.Config, logger *slog.Logger) (*ratelimit.Limiter, error) {
	opts := []ratelimit.Option{
		ratelimit.WithBuckets(cfg.Buckets()...),
		ratelimit.WithWaitDeadline(cfg.RateLimit.WaitDeadline),
		ratelimit.WithFailOpen(cfg.RateLimit.FailOpen),
		ratelimit.WithLogger(logger),
	}

	switch cfg.RateLimit.Backend {
	case "redis":
		opts = append(opts, ratelimit.WithRedisBackend(backends.RedisConfig{
			Addr:     cfg.RedisAddr(),
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		}))
	case "postgres":
		opts = append(opts, ratelimit.WithPostgresBackend(backends.PostgresConfig{
			ConnString: cfg.RateLimit.PostgresURL,
		}))
	case "upstash":
		opts = append(opts, ratelimit.WithUpstashBackend(backends.UpstashConfig{
			URL:   cfg.Upstash.URL,
			Token: cfg.Upstash.Token,
		}))
	case "memory":
		opts = append(opts, ratelimit.WithMemoryBackend())
	default:
		return nil, fmt.Errorf("unknown rate limit backend %q", cfg.RateLimit.Backend)
	}

	return ratelimit.New(opts...)
}
