// Package main is the automation worker: it runs the rule-check engine, the
// rule-events consumer, and the operational HTTP surface in one process.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/adweave/skytrigger/internal/adapter/ads/platformg"
	"github.com/adweave/skytrigger/internal/adapter/ads/platformm"
	"github.com/adweave/skytrigger/internal/adapter/events"
	"github.com/adweave/skytrigger/internal/adapter/httpserver"
	"github.com/adweave/skytrigger/internal/adapter/observability"
	"github.com/adweave/skytrigger/internal/adapter/repo/postgres"
	"github.com/adweave/skytrigger/internal/adapter/weather"
	"github.com/adweave/skytrigger/internal/app"
	"github.com/adweave/skytrigger/internal/config"
	"github.com/adweave/skytrigger/internal/engine"
	"github.com/adweave/skytrigger/internal/service/ratelimiter"
	"github.com/adweave/skytrigger/internal/service/registry"
	"github.com/adweave/skytrigger/internal/service/scheduler"
)

func main() {
	if err := run(); err != nil {
		slog.Error("worker exited with error", slog.Any("error", err))
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger := observability.SetupLogger(cfg)
	slog.SetDefault(logger)

	observability.InitMetrics()
	shutdownTracer, err := observability.SetupTracing(cfg)
	if err != nil {
		slog.Error("failed to setup tracing", slog.Any("error", err))
	}
	defer func() {
		if shutdownTracer != nil {
			_ = shutdownTracer(context.Background())
		}
	}()

	slog.Info("starting worker", slog.String("env", cfg.AppEnv))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Durable store, with connect retry so the worker survives a database
	// that comes up after it.
	pool, err := postgres.Connect(ctx, cfg.DurableURL, 30*time.Second)
	if err != nil {
		return fmt.Errorf("database connection failed: %w", err)
	}
	defer pool.Close()

	// Coordination store.
	redisOpts, err := redis.ParseURL(cfg.CoordinationURL)
	if err != nil {
		return fmt.Errorf("coordination url: %w", err)
	}
	rdb := redis.NewClient(redisOpts)
	defer func() { _ = rdb.Close() }()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("coordination store unreachable: %w", err)
	}

	limits, err := ratelimiter.LoadLimitsFile(cfg.RateLimitsFile)
	if err != nil {
		return fmt.Errorf("rate limits: %w", err)
	}

	eng := engine.New(cfg, engine.Deps{
		Scheduler: scheduler.New(rdb, cfg.ResultTTL),
		Limiter:   ratelimiter.New(rdb, limits, cfg.BackoffConfig()),
		Registry:  registry.New(postgres.NewWorkerRepo(pool), cfg.WorkerMaxConcurrentJobs),
		Rules:     postgres.NewRuleRepo(pool),
		Execs:     postgres.NewExecutionRepo(pool),
		Accounts:  postgres.NewAccountRepo(pool),
		Weather:   weather.New(cfg.WeatherBaseURL, cfg.WeatherAPIKey, cfg.WeatherTimeout),
		PlatformM: platformm.New(cfg.PlatformMBaseURL),
		PlatformG: platformg.New(cfg.PlatformGBaseURL),
	})
	if err := eng.Start(ctx); err != nil {
		return fmt.Errorf("engine start: %w", err)
	}

	// Rule change feed, only when brokers are configured.
	var consumer *events.Consumer
	if cfg.EventsEnabled() {
		consumer, err = events.New(cfg.KafkaBrokers, cfg.RuleEventsGroup, cfg.RuleEventsTopic, eng)
		if err != nil {
			return fmt.Errorf("rule events consumer: %w", err)
		}
		go func() {
			if err := consumer.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				slog.Error("rule events consumer stopped", slog.Any("error", err))
			}
		}()
	} else {
		slog.Info("rule events consumer disabled, no brokers configured")
	}

	// Ops HTTP surface.
	dbCheck, redisCheck := app.BuildReadinessChecks(pool, rdb)
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.OpsPort),
		Handler:           app.BuildRouter(cfg, httpserver.NewServer(eng, dbCheck, redisCheck)),
		ReadTimeout:       cfg.HTTPReadTimeout,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      cfg.HTTPWriteTimeout,
		IdleTimeout:       cfg.HTTPIdleTimeout,
	}
	go func() {
		slog.Info("ops server listening", slog.Int("port", cfg.OpsPort))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("ops server error", slog.Any("error", err))
		}
	}()

	// Block until a shutdown signal.
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	s := <-sig
	slog.Info("shutdown signal received", slog.String("signal", s.String()))

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer shutdownCancel()
	_ = srv.Shutdown(shutdownCtx)
	if consumer != nil {
		consumer.Close()
	}
	eng.Stop(shutdownCtx)
	cancel()
	return nil
}
