// Package ratelimiter enforces per-service call budgets over a shared Redis
// window and drives retries against rate-limited external APIs.
package ratelimiter

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/redis/go-redis/v9"
	"gopkg.in/yaml.v3"

	"github.com/adweave/skytrigger/internal/domain"
)

// DefaultIdentifier scopes a check when the caller has no finer key.
const DefaultIdentifier = "default"

// ServiceLimit bounds calls to one named service within a sliding window.
type ServiceLimit struct {
	MaxRequests         int   `yaml:"max_requests"`
	WindowMS            int64 `yaml:"window_ms"`
	DefaultRetryAfterMS int64 `yaml:"default_retry_after_ms"`
}

// Window returns the sliding window as a duration.
func (s ServiceLimit) Window() time.Duration {
	return time.Duration(s.WindowMS) * time.Millisecond
}

// DefaultLimits is the built-in budget table.
func DefaultLimits() map[string]ServiceLimit {
	return map[string]ServiceLimit{
		domain.ServicePlatformMAds: {MaxRequests: 200, WindowMS: 3_600_000, DefaultRetryAfterMS: 3_600_000},
		domain.ServicePlatformGAds: {MaxRequests: 10_000, WindowMS: 86_400_000, DefaultRetryAfterMS: 300_000},
		domain.ServiceWeather:      {MaxRequests: 1_000, WindowMS: 86_400_000, DefaultRetryAfterMS: 60_000},
	}
}

// LoadLimitsFile merges per-service overrides from a YAML table over the
// built-in defaults.
func LoadLimitsFile(path string) (map[string]ServiceLimit, error) {
	limits := DefaultLimits()
	if path == "" {
		return limits, nil
	}
	// #nosec G304 -- operator-provided config path
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("op=ratelimiter.LoadLimitsFile: %w", err)
	}
	var overrides map[string]ServiceLimit
	if err := yaml.Unmarshal(raw, &overrides); err != nil {
		return nil, fmt.Errorf("op=ratelimiter.LoadLimitsFile: parse %s: %w", path, err)
	}
	for name, limit := range overrides {
		limits[name] = limit
	}
	return limits, nil
}

// Decision is the outcome of one admission check.
type Decision struct {
	Allowed    bool
	Remaining  int
	RetryAfter time.Duration
}

// ServiceStats is a point-in-time view of one service's window usage.
type ServiceStats struct {
	Service   string `json:"service"`
	Used      int64  `json:"used"`
	Limit     int    `json:"limit"`
	Remaining int64  `json:"remaining"`
	WindowMS  int64  `json:"window_ms"`
}

// Limiter tracks request marks per service in Redis sorted sets. All
// decisions fail open when Redis is unreachable so an outage of the
// coordination store never blocks outbound traffic by itself.
type Limiter struct {
	redis   *redis.Client
	backoff domain.BackoffConfig

	mu     sync.RWMutex
	limits map[string]ServiceLimit

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// New builds a Limiter over the given Redis client and budget table. A nil
// limits map falls back to DefaultLimits.
func New(rdb *redis.Client, limits map[string]ServiceLimit, backoffCfg domain.BackoffConfig) *Limiter {
	if limits == nil {
		limits = DefaultLimits()
	}
	return &Limiter{
		redis:   rdb,
		backoff: backoffCfg,
		limits:  limits,
		now:     time.Now,
		sleep:   sleepContext,
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// SetLimit updates or creates the budget for a service. Safe for concurrent use.
func (l *Limiter) SetLimit(service string, limit ServiceLimit) {
	if l == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.limits[service] = limit
}

func (l *Limiter) limitFor(service string) (ServiceLimit, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	limit, ok := l.limits[service]
	return limit, ok
}

func windowKey(service, identifier string) string {
	if identifier == "" {
		identifier = DefaultIdentifier
	}
	return "ratelimit:" + service + ":" + identifier
}

// Check admits or refuses one call against the service budget. The mark is
// written in the same atomic batch that reads the current count, so the
// refusal decision is based on the pre-insert population of the window.
// Unknown services and Redis failures are allowed through with a warning.
func (l *Limiter) Check(ctx context.Context, service, identifier string) (Decision, error) {
	if l == nil || l.redis == nil {
		return Decision{Allowed: true}, nil
	}
	limit, ok := l.limitFor(service)
	if !ok || limit.MaxRequests <= 0 || limit.WindowMS <= 0 {
		slog.Warn("rate limit check for unconfigured service, allowing",
			slog.String("service", service))
		return Decision{Allowed: true}, nil
	}

	now := l.now()
	nowMS := now.UnixMilli()
	key := windowKey(service, identifier)
	mark := strconv.FormatInt(nowMS, 10) + "-" + ulid.Make().String()

	var countCmd *redis.IntCmd
	_, err := l.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZRemRangeByScore(ctx, key, "-inf", "("+strconv.FormatInt(nowMS-limit.WindowMS, 10))
		countCmd = pipe.ZCard(ctx, key)
		pipe.ZAdd(ctx, key, redis.Z{Score: float64(nowMS), Member: mark})
		pipe.PExpire(ctx, key, limit.Window())
		return nil
	})
	if err != nil {
		slog.Warn("rate limit check failed, allowing",
			slog.String("service", service), slog.Any("error", err))
		return Decision{Allowed: true}, err
	}

	count := countCmd.Val()
	if count >= int64(limit.MaxRequests) {
		return Decision{RetryAfter: l.retryAfter(ctx, key, limit, nowMS)}, nil
	}
	return Decision{Allowed: true, Remaining: limit.MaxRequests - int(count) - 1}, nil
}

// retryAfter derives the wait from the oldest surviving mark, falling back
// to the service default when the window cannot be read.
func (l *Limiter) retryAfter(ctx context.Context, key string, limit ServiceLimit, nowMS int64) time.Duration {
	fallback := time.Duration(limit.DefaultRetryAfterMS) * time.Millisecond
	oldest, err := l.redis.ZRangeWithScores(ctx, key, 0, 0).Result()
	if err != nil || len(oldest) == 0 {
		return fallback
	}
	wait := int64(oldest[0].Score) + limit.WindowMS - nowMS
	if wait <= 0 {
		return fallback
	}
	return time.Duration(wait) * time.Millisecond
}

// Stats reports current window usage for every configured service. Services
// whose window cannot be read are skipped with a warning.
func (l *Limiter) Stats(ctx context.Context) map[string]ServiceStats {
	stats := make(map[string]ServiceStats)
	if l == nil || l.redis == nil {
		return stats
	}

	l.mu.RLock()
	limits := make(map[string]ServiceLimit, len(l.limits))
	for name, limit := range l.limits {
		limits[name] = limit
	}
	l.mu.RUnlock()

	nowMS := l.now().UnixMilli()
	for name, limit := range limits {
		key := windowKey(name, DefaultIdentifier)
		var countCmd *redis.IntCmd
		_, err := l.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.ZRemRangeByScore(ctx, key, "-inf", "("+strconv.FormatInt(nowMS-limit.WindowMS, 10))
			countCmd = pipe.ZCard(ctx, key)
			return nil
		})
		if err != nil {
			slog.Warn("rate limit stats read failed",
				slog.String("service", name), slog.Any("error", err))
			continue
		}
		used := countCmd.Val()
		remaining := int64(limit.MaxRequests) - used
		if remaining < 0 {
			remaining = 0
		}
		stats[name] = ServiceStats{
			Service:   name,
			Used:      used,
			Limit:     limit.MaxRequests,
			Remaining: remaining,
			WindowMS:  limit.WindowMS,
		}
	}
	return stats
}

func gateKey(service, endpoint string) string {
	return "backoff:" + service + ":" + endpoint
}

// gateRemaining reports how long the (service, endpoint) pair is still
// gated, zero when the gate is absent or Redis is unreachable.
func (l *Limiter) gateRemaining(ctx context.Context, service, endpoint string) time.Duration {
	if l.redis == nil {
		return 0
	}
	d, err := l.redis.PTTL(ctx, gateKey(service, endpoint)).Result()
	if err != nil || d <= 0 {
		return 0
	}
	return d
}

// setGate persists a backoff deadline so other workers also hold off.
func (l *Limiter) setGate(ctx context.Context, service, endpoint string, d time.Duration) {
	if l.redis == nil || d <= 0 {
		return
	}
	deadline := strconv.FormatInt(l.now().Add(d).UnixMilli(), 10)
	if err := l.redis.Set(ctx, gateKey(service, endpoint), deadline, d).Err(); err != nil {
		slog.Warn("failed to persist backoff gate",
			slog.String("service", service), slog.String("endpoint", endpoint), slog.Any("error", err))
	}
}

// clearGate removes the backoff deadline after a successful call.
func (l *Limiter) clearGate(ctx context.Context, service, endpoint string) {
	if l.redis == nil {
		return
	}
	if err := l.redis.Del(ctx, gateKey(service, endpoint)).Err(); err != nil {
		slog.Warn("failed to clear backoff gate",
			slog.String("service", service), slog.String("endpoint", endpoint), slog.Any("error", err))
	}
}
