package app

import (
	"context"
	"errors"

	"github.com/redis/go-redis/v9"

	"github.com/adweave/skytrigger/internal/adapter/httpserver"
)

// Pinger is the minimal interface for a database pool capable of Ping.
type Pinger interface {
	Ping(ctx context.Context) error
}

// BuildReadinessChecks returns the durable-store and coordination-store
// probes the readiness endpoint runs.
func BuildReadinessChecks(pool Pinger, rdb *redis.Client) (httpserver.Check, httpserver.Check) {
	dbCheck := func(ctx context.Context) error {
		if pool == nil {
			return errors.New("db not configured")
		}
		return pool.Ping(ctx)
	}
	redisCheck := func(ctx context.Context) error {
		if rdb == nil {
			return errors.New("redis not configured")
		}
		return rdb.Ping(ctx).Err()
	}
	return dbCheck, redisCheck
}
