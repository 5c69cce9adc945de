package ratelimiter

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/adweave/skytrigger/internal/domain"
)

// CallFunc is one attempt against an external endpoint.
type CallFunc func(ctx context.Context) error

// DefaultMaxAttempts applies when ExecuteWithBackoff is called with a
// non-positive budget.
const DefaultMaxAttempts = 3

// ExecuteWithBackoff drives a call through the admission check and a
// classify-and-retry loop. A refused check and an active backoff gate both
// consume an attempt. Rate-limit failures persist a backoff gate for the
// (service, endpoint) pair so sibling workers hold off too; terminal
// failures return unchanged on the spot.
func (l *Limiter) ExecuteWithBackoff(ctx context.Context, service, endpoint string, maxRetries int, call CallFunc) error {
	if l == nil {
		return call(ctx)
	}
	if maxRetries <= 0 {
		maxRetries = DefaultMaxAttempts
	}

	var lastErr error
	for attempt := 1; attempt <= maxRetries; attempt++ {
		if wait := l.gateRemaining(ctx, service, endpoint); wait > 0 {
			slog.Warn("backoff gate active, waiting",
				slog.String("service", service),
				slog.String("endpoint", endpoint),
				slog.Duration("wait", wait))
			if err := l.sleep(ctx, wait); err != nil {
				return err
			}
			lastErr = fmt.Errorf("backoff gate active for %s/%s: %w", service, endpoint, domain.ErrRateLimited)
			continue
		}

		decision, _ := l.Check(ctx, service, DefaultIdentifier)
		if !decision.Allowed {
			slog.Warn("rate limit window exhausted, waiting",
				slog.String("service", service),
				slog.Duration("retry_after", decision.RetryAfter))
			if err := l.sleep(ctx, decision.RetryAfter); err != nil {
				return err
			}
			lastErr = fmt.Errorf("rate limit window exhausted for %s: %w", service, domain.ErrRateLimited)
			continue
		}

		err := call(ctx)
		if err == nil {
			l.clearGate(ctx, service, endpoint)
			return nil
		}
		lastErr = err

		var delay time.Duration
		switch {
		case domain.IsRateLimitError(err):
			delay = domain.RetryAfterFrom(err)
			if delay <= 0 {
				delay = l.backoff.Delay(attempt)
			}
			l.setGate(ctx, service, endpoint, delay)
		case domain.IsRetryableError(err):
			delay = l.backoff.Delay(attempt)
		default:
			return err
		}

		if attempt == maxRetries {
			break
		}
		slog.Warn("external call failed, retrying",
			slog.String("service", service),
			slog.String("endpoint", endpoint),
			slog.Int("attempt", attempt),
			slog.Duration("delay", delay),
			slog.Any("error", err))
		if serr := l.sleep(ctx, delay); serr != nil {
			return serr
		}
	}

	return fmt.Errorf("op=ratelimiter.ExecuteWithBackoff: service=%s endpoint=%s attempts=%d: %w: %w",
		service, endpoint, maxRetries, domain.ErrRetriesExhausted, lastErr)
}
