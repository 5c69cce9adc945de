package ratelimiter

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/adweave/skytrigger/internal/domain"
)

func noJitterBackoff() domain.BackoffConfig {
	return domain.BackoffConfig{
		InitialDelay: 10 * time.Millisecond,
		Multiplier:   2.0,
		MaxDelay:     time.Second,
		Jitter:       false,
	}
}

func newTestLimiter(t *testing.T, limits map[string]ServiceLimit) (*Limiter, *miniredis.Miniredis, func()) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	limiter := New(rdb, limits, noJitterBackoff())

	cleanup := func() {
		_ = rdb.Close()
		mr.Close()
	}
	return limiter, mr, cleanup
}

func TestCheck_NilLimiter_FailOpen(t *testing.T) {
	var limiter *Limiter

	d, err := limiter.Check(context.Background(), domain.ServiceWeather, "")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if !d.Allowed {
		t.Fatalf("expected allowed for nil limiter")
	}
}

func TestCheck_UnknownService_FailOpen(t *testing.T) {
	limiter, _, cleanup := newTestLimiter(t, nil)
	defer cleanup()

	d, err := limiter.Check(context.Background(), "mystery_api", "")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if !d.Allowed {
		t.Fatalf("expected allowed for unconfigured service")
	}
}

func TestCheck_AllowsUntilWindowFull(t *testing.T) {
	limits := map[string]ServiceLimit{
		"svc": {MaxRequests: 3, WindowMS: 60_000, DefaultRetryAfterMS: 5_000},
	}
	limiter, _, cleanup := newTestLimiter(t, limits)
	defer cleanup()
	ctx := context.Background()

	for i, wantRemaining := range []int{2, 1, 0} {
		d, err := limiter.Check(ctx, "svc", "")
		if err != nil {
			t.Fatalf("check %d: %v", i, err)
		}
		if !d.Allowed {
			t.Fatalf("check %d refused, want allowed", i)
		}
		if d.Remaining != wantRemaining {
			t.Fatalf("check %d remaining = %d, want %d", i, d.Remaining, wantRemaining)
		}
	}

	d, err := limiter.Check(ctx, "svc", "")
	if err != nil {
		t.Fatalf("refusal check: %v", err)
	}
	if d.Allowed {
		t.Fatalf("expected refusal once window is full")
	}
	if d.RetryAfter <= 0 || d.RetryAfter > time.Minute {
		t.Fatalf("retry after = %v, want within (0, window]", d.RetryAfter)
	}
}

func TestCheck_NeverAdmitsBeyondBudget(t *testing.T) {
	limits := map[string]ServiceLimit{
		"svc": {MaxRequests: 5, WindowMS: 60_000, DefaultRetryAfterMS: 5_000},
	}
	limiter, _, cleanup := newTestLimiter(t, limits)
	defer cleanup()

	allowed := 0
	for i := 0; i < 20; i++ {
		d, err := limiter.Check(context.Background(), "svc", "")
		if err != nil {
			t.Fatalf("check %d: %v", i, err)
		}
		if d.Allowed {
			allowed++
		}
	}
	if allowed != 5 {
		t.Fatalf("allowed %d calls, want exactly 5", allowed)
	}
}

func TestCheck_RetryAfterFromOldestMark(t *testing.T) {
	limits := map[string]ServiceLimit{
		"svc": {MaxRequests: 1, WindowMS: 60_000, DefaultRetryAfterMS: 5_000},
	}
	limiter, _, cleanup := newTestLimiter(t, limits)
	defer cleanup()
	ctx := context.Background()

	base := time.Now()
	limiter.now = func() time.Time { return base }
	if d, _ := limiter.Check(ctx, "svc", ""); !d.Allowed {
		t.Fatalf("first check should pass")
	}

	limiter.now = func() time.Time { return base.Add(20 * time.Second) }
	d, err := limiter.Check(ctx, "svc", "")
	if err != nil {
		t.Fatalf("second check: %v", err)
	}
	if d.Allowed {
		t.Fatalf("second check should be refused")
	}
	// Oldest mark sits at base, so the wait is the window remainder.
	if d.RetryAfter != 40*time.Second {
		t.Fatalf("retry after = %v, want 40s", d.RetryAfter)
	}
}

func TestCheck_WindowSlides(t *testing.T) {
	limits := map[string]ServiceLimit{
		"svc": {MaxRequests: 1, WindowMS: 10_000, DefaultRetryAfterMS: 5_000},
	}
	limiter, _, cleanup := newTestLimiter(t, limits)
	defer cleanup()
	ctx := context.Background()

	base := time.Now()
	limiter.now = func() time.Time { return base }
	if d, _ := limiter.Check(ctx, "svc", ""); !d.Allowed {
		t.Fatalf("first check should pass")
	}
	if d, _ := limiter.Check(ctx, "svc", ""); d.Allowed {
		t.Fatalf("window full, second check should be refused")
	}

	limiter.now = func() time.Time { return base.Add(11 * time.Second) }
	d, err := limiter.Check(ctx, "svc", "")
	if err != nil {
		t.Fatalf("post-window check: %v", err)
	}
	if !d.Allowed {
		t.Fatalf("marks outside the window must be evicted")
	}
}

func TestCheck_SeparateIdentifiers(t *testing.T) {
	limits := map[string]ServiceLimit{
		"svc": {MaxRequests: 1, WindowMS: 60_000, DefaultRetryAfterMS: 5_000},
	}
	limiter, _, cleanup := newTestLimiter(t, limits)
	defer cleanup()
	ctx := context.Background()

	if d, _ := limiter.Check(ctx, "svc", "user-a"); !d.Allowed {
		t.Fatalf("first identifier should pass")
	}
	if d, _ := limiter.Check(ctx, "svc", "user-b"); !d.Allowed {
		t.Fatalf("second identifier has its own window")
	}
	if d, _ := limiter.Check(ctx, "svc", "user-a"); d.Allowed {
		t.Fatalf("first identifier window is full")
	}
}

func TestCheck_RedisDown_FailOpen(t *testing.T) {
	limits := map[string]ServiceLimit{
		"svc": {MaxRequests: 1, WindowMS: 60_000, DefaultRetryAfterMS: 5_000},
	}
	limiter, mr, cleanup := newTestLimiter(t, limits)
	defer cleanup()

	mr.Close()

	d, err := limiter.Check(context.Background(), "svc", "")
	if err == nil {
		t.Fatalf("expected an error with redis down")
	}
	if !d.Allowed {
		t.Fatalf("coordination store failures must fail open")
	}
}

func TestStats_ReportsUsage(t *testing.T) {
	limits := map[string]ServiceLimit{
		"svc": {MaxRequests: 10, WindowMS: 60_000, DefaultRetryAfterMS: 5_000},
	}
	limiter, _, cleanup := newTestLimiter(t, limits)
	defer cleanup()
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		if _, err := limiter.Check(ctx, "svc", ""); err != nil {
			t.Fatalf("check %d: %v", i, err)
		}
	}

	stats := limiter.Stats(ctx)
	s, ok := stats["svc"]
	if !ok {
		t.Fatalf("missing stats for svc: %+v", stats)
	}
	if s.Used != 4 {
		t.Fatalf("used = %d, want 4", s.Used)
	}
	if s.Remaining != 6 {
		t.Fatalf("remaining = %d, want 6", s.Remaining)
	}
	if s.Limit != 10 || s.WindowMS != 60_000 {
		t.Fatalf("unexpected limit echo: %+v", s)
	}
}

func TestDefaultLimits_Table(t *testing.T) {
	limits := DefaultLimits()

	m := limits[domain.ServicePlatformMAds]
	if m.MaxRequests != 200 || m.WindowMS != 3_600_000 || m.DefaultRetryAfterMS != 3_600_000 {
		t.Fatalf("platform_m_ads limit = %+v", m)
	}
	g := limits[domain.ServicePlatformGAds]
	if g.MaxRequests != 10_000 || g.WindowMS != 86_400_000 || g.DefaultRetryAfterMS != 300_000 {
		t.Fatalf("platform_g_ads limit = %+v", g)
	}
	w := limits[domain.ServiceWeather]
	if w.MaxRequests != 1_000 || w.WindowMS != 86_400_000 || w.DefaultRetryAfterMS != 60_000 {
		t.Fatalf("weather limit = %+v", w)
	}
}

func TestLoadLimitsFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "limits.yaml")
	body := []byte("weather:\n  max_requests: 50\n  window_ms: 1000\n  default_retry_after_ms: 100\ncustom_api:\n  max_requests: 7\n  window_ms: 2000\n  default_retry_after_ms: 300\n")
	if err := os.WriteFile(path, body, 0o600); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	limits, err := LoadLimitsFile(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if limits[domain.ServiceWeather].MaxRequests != 50 {
		t.Fatalf("weather override not applied: %+v", limits[domain.ServiceWeather])
	}
	if limits["custom_api"].MaxRequests != 7 {
		t.Fatalf("custom service missing: %+v", limits)
	}
	// Untouched defaults survive the merge.
	if limits[domain.ServicePlatformMAds].MaxRequests != 200 {
		t.Fatalf("default lost after merge: %+v", limits[domain.ServicePlatformMAds])
	}

	if _, err := LoadLimitsFile(filepath.Join(dir, "absent.yaml")); err == nil {
		t.Fatalf("expected error for missing file")
	}

	empty, err := LoadLimitsFile("")
	if err != nil {
		t.Fatalf("empty path should mean defaults: %v", err)
	}
	if len(empty) != 3 {
		t.Fatalf("defaults table size = %d, want 3", len(empty))
	}
}
