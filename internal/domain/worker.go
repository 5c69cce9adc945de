package domain

import "time"

// Worker lifecycle states as stored in the registry.
const (
	WorkerStarting = "starting"
	WorkerRunning  = "running"
	WorkerStopping = "stopping"
	WorkerStopped  = "stopped"
)

// WorkerInfo is one row of the worker registry. CurrentJobs is a per-worker
// gauge refreshed on every heartbeat; the registry never aggregates it.
type WorkerInfo struct {
	ID                string    `json:"worker_id"`
	Hostname          string    `json:"hostname"`
	PID               int       `json:"pid"`
	Status            string    `json:"status"`
	MaxConcurrentJobs int       `json:"max_concurrent_jobs"`
	CurrentJobs       int       `json:"current_jobs"`
	JobsProcessed     int64     `json:"jobs_processed"`
	JobsSucceeded     int64     `json:"jobs_succeeded"`
	JobsFailed        int64     `json:"jobs_failed"`
	StartedAt         time.Time `json:"started_at"`
	LastHeartbeat     time.Time `json:"last_heartbeat"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// Stale reports whether the worker has missed heartbeats long enough to be
// considered dead at the reference instant. The registry never evicts stale
// workers itself; this is for display layers.
func (w WorkerInfo) Stale(now time.Time, maxAge time.Duration) bool {
	return now.Sub(w.LastHeartbeat) > maxAge
}
