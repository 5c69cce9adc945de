package domain

import (
	"math"
	"math/rand"
	"time"
)

// BackoffConfig controls exponential retry delays for external calls.
type BackoffConfig struct {
	InitialDelay time.Duration `json:"initial_delay_ms"`
	Multiplier   float64       `json:"multiplier"`
	MaxDelay     time.Duration `json:"max_delay_ms"`
	Jitter       bool          `json:"jitter"`
}

// DefaultBackoffConfig returns the standard retry curve: 1s doubling up to
// five minutes, with jitter on.
func DefaultBackoffConfig() BackoffConfig {
	return BackoffConfig{
		InitialDelay: time.Second,
		Multiplier:   2.0,
		MaxDelay:     5 * time.Minute,
		Jitter:       true,
	}
}

// Delay computes the wait before retry attempt n (1-based):
// initial*multiplier^(n-1) capped at MaxDelay, then scaled by a random
// factor in [0.5, 1.0) when jitter is enabled.
func (c BackoffConfig) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := float64(c.InitialDelay) * math.Pow(c.Multiplier, float64(attempt-1))
	if d > float64(c.MaxDelay) {
		d = float64(c.MaxDelay)
	}
	if c.Jitter {
		d *= 0.5 + rand.Float64()*0.5 //nolint:gosec // jitter, not crypto
	}
	return time.Duration(d)
}

// NowMillis is the canonical clock reading for schedule scores and job
// timestamps.
func NowMillis() int64 {
	return time.Now().UnixMilli()
}
