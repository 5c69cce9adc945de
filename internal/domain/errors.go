package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Sentinel errors shared across services and adapters. Wrap with
// fmt.Errorf("...: %w", Err...) and test with errors.Is.
var (
	ErrNotFound           = errors.New("not found")
	ErrInvalidArgument    = errors.New("invalid argument")
	ErrRateLimited        = errors.New("rate limited")
	ErrRetriesExhausted   = errors.New("retries exhausted")
	ErrCredentialsMissing = errors.New("credentials missing")
	ErrStoreUnavailable   = errors.New("store unavailable")
)

// APIError is a failed HTTP exchange with an external service, keeping the
// status code and any server-provided retry hint for classification.
type APIError struct {
	StatusCode int
	Message    string
	RetryAfter time.Duration
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("api error: status %d", e.StatusCode)
	}
	return fmt.Sprintf("api error: status %d: %s", e.StatusCode, e.Message)
}

var rateLimitPhrases = []string{
	"rate limit",
	"too many requests",
	"quota exceeded",
	"throttled",
}

var retryablePhrases = []string{
	"network",
	"timeout",
	"connection",
	"connection reset",
	"socket hang up",
}

func containsAny(msg string, phrases []string) bool {
	m := strings.ToLower(msg)
	for _, p := range phrases {
		if strings.Contains(m, p) {
			return true
		}
	}
	return false
}

// IsRateLimitError reports whether the error signals a rate limit: status
// 429 or 503, the ErrRateLimited sentinel, or a recognizable message.
func IsRateLimitError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrRateLimited) {
		return true
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		if apiErr.StatusCode == 429 || apiErr.StatusCode == 503 {
			return true
		}
	}
	return containsAny(err.Error(), rateLimitPhrases)
}

// IsRetryableError reports whether a retry may succeed: transient HTTP
// statuses, rate limits, or transport-level failures. Anything else is
// terminal.
func IsRetryableError(err error) bool {
	if err == nil {
		return false
	}
	if IsRateLimitError(err) {
		return true
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		switch apiErr.StatusCode {
		case 408, 429, 500, 502, 503, 504:
			return true
		}
	}
	return containsAny(err.Error(), retryablePhrases)
}

// RetryAfterFrom extracts a server-provided retry hint, zero when absent.
func RetryAfterFrom(err error) time.Duration {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.RetryAfter
	}
	return 0
}
