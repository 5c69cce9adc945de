// Package engine drives the fetch-evaluate-act pipeline: it keeps every
// active rule scheduled, drains ready jobs from the scheduler, evaluates
// weather conditions, dispatches platform actions, and records executions.
package engine

import (
	"context"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/adweave/skytrigger/internal/adapter/observability"
	"github.com/adweave/skytrigger/internal/config"
	"github.com/adweave/skytrigger/internal/domain"
	"github.com/adweave/skytrigger/internal/service/ratelimiter"
	"github.com/adweave/skytrigger/internal/service/registry"
	"github.com/adweave/skytrigger/internal/service/scheduler"
)

// statsSnapshotChance is the per-cycle probability of logging a stats line.
const statsSnapshotChance = 0.1

// Engine wires the scheduler, rate limiter, registry, repositories, and
// external clients into one worker.
type Engine struct {
	cfg      config.Config
	sched    *scheduler.Scheduler
	limiter  *ratelimiter.Limiter
	registry *registry.Registry

	rules    domain.RuleRepository
	execs    domain.ExecutionRepository
	accounts domain.AccountRepository

	weather   domain.WeatherClient
	platformM domain.PlatformMClient
	platformG domain.PlatformGClient

	sem  chan struct{}
	stop chan struct{}
	wg   sync.WaitGroup

	stopOnce sync.Once
	now      func() time.Time
}

// Deps bundles the engine's collaborators.
type Deps struct {
	Scheduler *scheduler.Scheduler
	Limiter   *ratelimiter.Limiter
	Registry  *registry.Registry
	Rules     domain.RuleRepository
	Execs     domain.ExecutionRepository
	Accounts  domain.AccountRepository
	Weather   domain.WeatherClient
	PlatformM domain.PlatformMClient
	PlatformG domain.PlatformGClient
}

// New builds an Engine from its dependencies.
func New(cfg config.Config, deps Deps) *Engine {
	return &Engine{
		cfg:       cfg,
		sched:     deps.Scheduler,
		limiter:   deps.Limiter,
		registry:  deps.Registry,
		rules:     deps.Rules,
		execs:     deps.Execs,
		accounts:  deps.Accounts,
		weather:   deps.Weather,
		platformM: deps.PlatformM,
		platformG: deps.PlatformG,
		sem:       make(chan struct{}, cfg.WorkerMaxConcurrentJobs),
		stop:      make(chan struct{}),
		now:       time.Now,
	}
}

// Start registers the worker, reschedules every active rule, and launches
// the processing, recovery, and heartbeat loops. It returns once the loops
// are running.
func (e *Engine) Start(ctx context.Context) error {
	e.registry.Register(ctx, domain.WorkerStarting)

	if err := e.scheduleActiveRules(ctx); err != nil {
		return err
	}
	e.registry.SetStatus(ctx, domain.WorkerRunning)

	e.wg.Add(3)
	go e.processingLoop(ctx)
	go e.recoveryLoop(ctx)
	go e.heartbeatLoop(ctx)

	slog.Info("engine started",
		slog.String("worker_id", e.registry.ID()),
		slog.Int("max_concurrent_jobs", e.cfg.WorkerMaxConcurrentJobs))
	return nil
}

// scheduleActiveRules seeds one check job per active rule, due at the later
// of now and last_checked_at + interval. Deterministic job ids make this
// idempotent across worker restarts.
func (e *Engine) scheduleActiveRules(ctx context.Context) error {
	rules, err := e.rules.ListActive(ctx)
	if err != nil {
		return err
	}
	now := e.now()
	for _, rule := range rules {
		err := e.sched.ScheduleAt(ctx, rule.ID, rule.UserID, rule.CheckIntervalMinutes, rule.NextDueAt(now))
		if err != nil {
			return err
		}
		observability.JobsScheduledTotal.WithLabelValues(domain.JobTypeRuleCheck).Inc()
	}
	slog.Info("active rules scheduled", slog.Int("count", len(rules)))
	return nil
}

// Stop is cooperative: stop claiming, let in-flight jobs finish within the
// shutdown timeout, then mark the worker stopped. Jobs still running past
// the timeout are reclaimed by the recovery sweep.
func (e *Engine) Stop(ctx context.Context) {
	e.stopOnce.Do(func() { close(e.stop) })
	e.registry.SetStatus(ctx, domain.WorkerStopping)

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(e.cfg.ShutdownTimeout):
		slog.Warn("shutdown timeout reached with jobs in flight",
			slog.Int("current_jobs", e.registry.CurrentJobs()))
	}
	e.registry.SetStatus(ctx, domain.WorkerStopped)
	slog.Info("engine stopped", slog.String("worker_id", e.registry.ID()))
}

func (e *Engine) stopping() bool {
	select {
	case <-e.stop:
		return true
	default:
		return false
	}
}

// processingLoop drains ready jobs in cycles, sleeping between cycles rather
// than ticking on a fixed cadence so a slow store never stacks polls.
func (e *Engine) processingLoop(ctx context.Context) {
	defer e.wg.Done()
	for {
		select {
		case <-e.stop:
			return
		case <-ctx.Done():
			return
		default:
		}

		e.runCycle(ctx)

		if rand.Float64() < statsSnapshotChance { //nolint:gosec // sampling, not crypto
			e.logStats(ctx)
		}

		select {
		case <-e.stop:
			return
		case <-ctx.Done():
			return
		case <-time.After(e.cfg.PollInterval):
		}
	}
}

// runCycle fetches one batch of due jobs and claims as many as local
// capacity allows. A lost claim race is dropped silently; another worker
// owns that job now.
func (e *Engine) runCycle(ctx context.Context) {
	jobs, err := e.sched.ReadyJobs(ctx, e.cfg.ClaimBatchSize)
	if err != nil {
		slog.Warn("ready jobs fetch failed", slog.Any("error", err))
		return
	}
	for _, job := range jobs {
		if e.stopping() {
			return
		}
		select {
		case e.sem <- struct{}{}:
		default:
			// At capacity; the rest of the batch stays scheduled.
			return
		}

		claimed, err := e.sched.Claim(ctx, job.ID)
		if err != nil || !claimed {
			<-e.sem
			if err != nil {
				slog.Warn("claim failed", slog.String("job_id", job.ID), slog.Any("error", err))
			} else {
				observability.JobsClaimedTotal.WithLabelValues("lost_race").Inc()
			}
			continue
		}
		observability.JobsClaimedTotal.WithLabelValues("claimed").Inc()

		e.wg.Add(1)
		go func(job domain.Job) {
			defer e.wg.Done()
			defer func() { <-e.sem }()
			e.processJob(ctx, job)
		}(job)
	}
}

// recoveryLoop returns stuck jobs to the schedule every recovery interval,
// after a startup grace so a freshly restarted fleet does not immediately
// reclaim jobs the previous generation is still finishing.
func (e *Engine) recoveryLoop(ctx context.Context) {
	defer e.wg.Done()
	select {
	case <-e.stop:
		return
	case <-ctx.Done():
		return
	case <-time.After(e.cfg.RecoveryGrace):
	}
	for {
		n, err := e.sched.RecoverStuck(ctx, e.cfg.StuckThreshold)
		if err != nil {
			slog.Warn("stuck job sweep failed", slog.Any("error", err))
		} else if n > 0 {
			observability.StuckJobsRecoveredTotal.Add(float64(n))
		}
		select {
		case <-e.stop:
			return
		case <-ctx.Done():
			return
		case <-time.After(e.cfg.RecoveryInterval):
		}
	}
}

func (e *Engine) heartbeatLoop(ctx context.Context) {
	defer e.wg.Done()
	for {
		select {
		case <-e.stop:
			return
		case <-ctx.Done():
			return
		case <-time.After(e.cfg.HeartbeatInterval()):
		}
		e.registry.Heartbeat(ctx)
	}
}

func (e *Engine) logStats(ctx context.Context) {
	stats, err := e.sched.Stats(ctx)
	if err != nil {
		return
	}
	slog.Info("scheduler stats",
		slog.Int64("scheduled", stats.Scheduled),
		slog.Int64("processing", stats.Processing),
		slog.Int64("overdue", stats.Overdue),
		slog.Int("current_jobs", e.registry.CurrentJobs()))
}
