package engine

import (
	"strings"
	"time"

	"github.com/adweave/skytrigger/internal/domain"
)

// Job-level retry curves by failure class. Rate limits back off hardest,
// network blips shortest.
const (
	rateLimitRetryBase = time.Minute
	rateLimitRetryCap  = 5 * time.Minute

	networkRetryBase = 5 * time.Second
	networkRetryCap  = time.Minute

	defaultRetryBase = 10 * time.Second
	defaultRetryCap  = 2 * time.Minute
)

// retryDelayFor picks the scheduler retry delay for a failed job from the
// error class and how many retries the job has burned already.
func retryDelayFor(err error, retryCount int) time.Duration {
	if err == nil {
		return 0
	}
	msg := strings.ToLower(err.Error())
	switch {
	case domain.IsRateLimitError(err) || strings.Contains(msg, "429"):
		return capped(rateLimitRetryBase, retryCount, rateLimitRetryCap)
	case strings.Contains(msg, "network") || strings.Contains(msg, "timeout"):
		return capped(networkRetryBase, retryCount, networkRetryCap)
	default:
		return capped(defaultRetryBase, retryCount, defaultRetryCap)
	}
}

func capped(base time.Duration, retryCount int, limit time.Duration) time.Duration {
	if retryCount > 30 {
		retryCount = 30
	}
	d := base * time.Duration(int64(1)<<uint(retryCount))
	if d > limit || d <= 0 {
		return limit
	}
	return d
}
