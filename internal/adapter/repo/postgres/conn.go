package postgres

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/jackc/pgx/v5/pgxpool"
)

// NewPool creates a pgx connection pool from the provided DSN and returns it.
// The pool is configured with sane defaults for this application.
func NewPool(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("op=postgres.NewPool: %w", err)
	}
	cfg.MaxConns = 10
	cfg.MaxConnIdleTime = 5 * time.Minute
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("op=postgres.NewPool: %w", err)
	}
	return pool, nil
}

// Connect builds the pool and pings it with exponential backoff so workers
// survive a database that comes up slightly after them.
func Connect(ctx context.Context, dsn string, maxWait time.Duration) (*pgxpool.Pool, error) {
	pool, err := NewPool(ctx, dsn)
	if err != nil {
		return nil, err
	}
	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = maxWait
	err = backoff.Retry(func() error {
		if err := pool.Ping(ctx); err != nil {
			slog.Warn("database not ready, retrying", slog.Any("error", err))
			return err
		}
		return nil
	}, backoff.WithContext(bo, ctx))
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("op=postgres.Connect: %w", err)
	}
	return pool, nil
}
