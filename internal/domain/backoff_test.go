package domain

import (
	"testing"
	"time"
)

func TestDefaultBackoffConfigValues(t *testing.T) {
	cfg := DefaultBackoffConfig()

	if cfg.InitialDelay != time.Second {
		t.Fatalf("InitialDelay = %v, want 1s", cfg.InitialDelay)
	}
	if cfg.Multiplier != 2.0 {
		t.Fatalf("Multiplier = %v, want 2.0", cfg.Multiplier)
	}
	if cfg.MaxDelay != 5*time.Minute {
		t.Fatalf("MaxDelay = %v, want 5m", cfg.MaxDelay)
	}
	if !cfg.Jitter {
		t.Fatalf("Jitter = false, want true")
	}
}

func TestBackoffConfig_Delay_ExponentialProgression(t *testing.T) {
	cfg := BackoffConfig{
		InitialDelay: time.Second,
		Multiplier:   2.0,
		MaxDelay:     5 * time.Minute,
		Jitter:       false,
	}

	wants := []time.Duration{time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second}
	for i, want := range wants {
		if got := cfg.Delay(i + 1); got != want {
			t.Fatalf("Delay(%d) = %v, want %v", i+1, got, want)
		}
	}

	if got := cfg.Delay(0); got != time.Second {
		t.Fatalf("Delay(0) = %v, want clamp to first attempt", got)
	}
}

func TestBackoffConfig_Delay_CappedAtMax(t *testing.T) {
	cfg := BackoffConfig{
		InitialDelay: time.Second,
		Multiplier:   2.0,
		MaxDelay:     5 * time.Minute,
		Jitter:       false,
	}

	if got := cfg.Delay(20); got != 5*time.Minute {
		t.Fatalf("Delay(20) = %v, want cap at 5m", got)
	}
}

func TestBackoffConfig_Delay_JitterBounds(t *testing.T) {
	cfg := BackoffConfig{
		InitialDelay: 4 * time.Second,
		Multiplier:   2.0,
		MaxDelay:     5 * time.Minute,
		Jitter:       true,
	}

	base := 8 * time.Second
	for i := 0; i < 64; i++ {
		got := cfg.Delay(2)
		if got < base/2 || got >= base {
			t.Fatalf("Delay(2) = %v, want in [%v, %v)", got, base/2, base)
		}
	}
}

func TestNowMillis(t *testing.T) {
	before := time.Now().UnixMilli()
	got := NowMillis()
	after := time.Now().UnixMilli()

	if got < before || got > after {
		t.Fatalf("NowMillis() = %d, want between %d and %d", got, before, after)
	}
}
