package postgres

import (
	"fmt"
	"time"

	"go.opentelemetry.io/otel"

	"github.com/adweave/skytrigger/internal/domain"
)

// WorkerRepo persists the advisory worker registry rollups.
type WorkerRepo struct{ Pool PgxPool }

// NewWorkerRepo constructs a WorkerRepo with the given pool.
func NewWorkerRepo(p PgxPool) *WorkerRepo { return &WorkerRepo{Pool: p} }

// Register upserts the worker row, resetting started_at, heartbeat, and the
// per-run counters. A restarted worker reuses its host-pid id.
func (r *WorkerRepo) Register(ctx domain.Context, w domain.WorkerInfo) error {
	tracer := otel.Tracer("repo.workers")
	ctx, span := tracer.Start(ctx, "workers.Register")
	defer span.End()
	now := time.Now().UTC()
	q := `INSERT INTO workers_registry
		(worker_id, hostname, pid, status, max_concurrent_jobs, current_jobs, jobs_processed, jobs_succeeded, jobs_failed, started_at, last_heartbeat, updated_at)
		VALUES ($1,$2,$3,$4,$5,0,0,0,0,$6,$6,$6)
		ON CONFLICT (worker_id)
		DO UPDATE SET hostname=EXCLUDED.hostname, pid=EXCLUDED.pid, status=EXCLUDED.status,
			max_concurrent_jobs=EXCLUDED.max_concurrent_jobs, current_jobs=0,
			jobs_processed=0, jobs_succeeded=0, jobs_failed=0,
			started_at=EXCLUDED.started_at, last_heartbeat=EXCLUDED.last_heartbeat, updated_at=EXCLUDED.updated_at`
	_, err := r.Pool.Exec(ctx, q, w.ID, w.Hostname, w.PID, w.Status, w.MaxConcurrentJobs, now)
	if err != nil {
		return fmt.Errorf("op=worker.register: %w", err)
	}
	return nil
}

// Heartbeat refreshes liveness and the in-flight job gauge.
func (r *WorkerRepo) Heartbeat(ctx domain.Context, id string, currentJobs int) error {
	tracer := otel.Tracer("repo.workers")
	ctx, span := tracer.Start(ctx, "workers.Heartbeat")
	defer span.End()
	now := time.Now().UTC()
	q := `UPDATE workers_registry SET last_heartbeat=$2, current_jobs=$3, status=$4, updated_at=$2 WHERE worker_id=$1`
	_, err := r.Pool.Exec(ctx, q, id, now, currentJobs, domain.WorkerRunning)
	if err != nil {
		return fmt.Errorf("op=worker.heartbeat: %w", err)
	}
	return nil
}

// IncrementProcessed bumps the processed counter and the matching outcome
// counter in a single statement.
func (r *WorkerRepo) IncrementProcessed(ctx domain.Context, id string, success bool) error {
	tracer := otel.Tracer("repo.workers")
	ctx, span := tracer.Start(ctx, "workers.IncrementProcessed")
	defer span.End()
	q := `UPDATE workers_registry SET
		jobs_processed = jobs_processed + 1,
		jobs_succeeded = jobs_succeeded + CASE WHEN $2 THEN 1 ELSE 0 END,
		jobs_failed    = jobs_failed    + CASE WHEN $2 THEN 0 ELSE 1 END,
		updated_at = $3
		WHERE worker_id=$1`
	_, err := r.Pool.Exec(ctx, q, id, success, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("op=worker.increment_processed: %w", err)
	}
	return nil
}

// SetStatus transitions the worker's lifecycle state.
func (r *WorkerRepo) SetStatus(ctx domain.Context, id, status string) error {
	tracer := otel.Tracer("repo.workers")
	ctx, span := tracer.Start(ctx, "workers.SetStatus")
	defer span.End()
	switch status {
	case domain.WorkerStarting, domain.WorkerRunning, domain.WorkerStopping, domain.WorkerStopped:
	default:
		return fmt.Errorf("op=worker.set_status: status %q: %w", status, domain.ErrInvalidArgument)
	}
	q := `UPDATE workers_registry SET status=$2, updated_at=$3 WHERE worker_id=$1`
	_, err := r.Pool.Exec(ctx, q, id, status, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("op=worker.set_status: %w", err)
	}
	return nil
}

// List returns all registered workers, newest first.
func (r *WorkerRepo) List(ctx domain.Context) ([]domain.WorkerInfo, error) {
	tracer := otel.Tracer("repo.workers")
	ctx, span := tracer.Start(ctx, "workers.List")
	defer span.End()
	q := `SELECT worker_id, hostname, pid, status, max_concurrent_jobs, current_jobs, jobs_processed, jobs_succeeded, jobs_failed, started_at, last_heartbeat, updated_at
		FROM workers_registry ORDER BY started_at DESC`
	rows, err := r.Pool.Query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("op=worker.list: %w", err)
	}
	defer rows.Close()
	var workers []domain.WorkerInfo
	for rows.Next() {
		var w domain.WorkerInfo
		err := rows.Scan(&w.ID, &w.Hostname, &w.PID, &w.Status, &w.MaxConcurrentJobs, &w.CurrentJobs,
			&w.JobsProcessed, &w.JobsSucceeded, &w.JobsFailed, &w.StartedAt, &w.LastHeartbeat, &w.UpdatedAt)
		if err != nil {
			return nil, fmt.Errorf("op=worker.list: %w", err)
		}
		workers = append(workers, w)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("op=worker.list: %w", err)
	}
	return workers, nil
}
