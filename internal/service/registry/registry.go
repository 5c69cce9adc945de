// Package registry advertises worker liveness and capacity. The registry is
// advisory: every failure here is logged and swallowed so a broken rollup
// table can never stall job processing.
package registry

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/adweave/skytrigger/internal/domain"
)

// WorkerID derives the stable identity of this process: hostname plus pid.
// A restarted worker reclaims its row; two workers on one host never collide.
func WorkerID() (id, hostname string, pid int) {
	hostname, err := os.Hostname()
	if err != nil || hostname == "" {
		// No hostname, no stable identity; fall back to a random one.
		hostname = "worker-" + uuid.NewString()[:8]
	}
	pid = os.Getpid()
	return fmt.Sprintf("%s-%d", hostname, pid), hostname, pid
}

// Registry tracks one worker's registry row and its in-flight job gauge.
// CurrentJobs is written by the worker's own loops only.
type Registry struct {
	repo domain.WorkerRepository
	info domain.WorkerInfo

	currentJobs atomic.Int32
}

// New builds the Registry for this process with the given concurrency cap.
func New(repo domain.WorkerRepository, maxConcurrentJobs int) *Registry {
	id, hostname, pid := WorkerID()
	return &Registry{
		repo: repo,
		info: domain.WorkerInfo{
			ID:                id,
			Hostname:          hostname,
			PID:               pid,
			MaxConcurrentJobs: maxConcurrentJobs,
		},
	}
}

// ID returns the worker's registry identity.
func (r *Registry) ID() string { return r.info.ID }

// CurrentJobs reports the live in-flight count.
func (r *Registry) CurrentJobs() int { return int(r.currentJobs.Load()) }

// JobStarted bumps the in-flight gauge.
func (r *Registry) JobStarted() { r.currentJobs.Add(1) }

// JobFinished decrements the gauge and records the outcome counters.
func (r *Registry) JobFinished(ctx context.Context, success bool) {
	r.currentJobs.Add(-1)
	if err := r.repo.IncrementProcessed(ctx, r.info.ID, success); err != nil {
		slog.Warn("worker counter update failed",
			slog.String("worker_id", r.info.ID), slog.Any("error", err))
	}
}

// Register upserts this worker's row with the given lifecycle status.
func (r *Registry) Register(ctx context.Context, status string) {
	info := r.info
	info.Status = status
	if err := r.repo.Register(ctx, info); err != nil {
		slog.Warn("worker registration failed",
			slog.String("worker_id", r.info.ID), slog.Any("error", err))
	}
}

// Heartbeat refreshes liveness with the current in-flight count.
func (r *Registry) Heartbeat(ctx context.Context) {
	if err := r.repo.Heartbeat(ctx, r.info.ID, r.CurrentJobs()); err != nil {
		slog.Warn("worker heartbeat failed",
			slog.String("worker_id", r.info.ID), slog.Any("error", err))
	}
}

// SetStatus transitions this worker's lifecycle state.
func (r *Registry) SetStatus(ctx context.Context, status string) {
	if err := r.repo.SetStatus(ctx, r.info.ID, status); err != nil {
		slog.Warn("worker status update failed",
			slog.String("worker_id", r.info.ID),
			slog.String("status", status), slog.Any("error", err))
	}
}

// List returns every registered worker, newest first.
func (r *Registry) List(ctx context.Context) ([]domain.WorkerInfo, error) {
	return r.repo.List(ctx)
}
