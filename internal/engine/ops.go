package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/adweave/skytrigger/internal/adapter/observability"
	"github.com/adweave/skytrigger/internal/domain"
	"github.com/adweave/skytrigger/internal/service/ratelimiter"
)

// Stats is the aggregate operational snapshot served to the CLI and the ops
// endpoint.
type Stats struct {
	Jobs       domain.JobStats                     `json:"jobs"`
	RateLimits map[string]ratelimiter.ServiceStats `json:"rate_limits"`
	Workers    []domain.WorkerInfo                 `json:"workers"`
	Timestamp  time.Time                           `json:"timestamp"`
}

// ScheduleRuleCheck registers (or re-registers) the recurring check job for
// a rule. Idempotent via the deterministic job id.
func (e *Engine) ScheduleRuleCheck(ctx context.Context, ruleID, userID string, intervalMinutes int) error {
	if ruleID == "" {
		return fmt.Errorf("op=engine.ScheduleRuleCheck: empty rule id: %w", domain.ErrInvalidArgument)
	}
	if intervalMinutes <= 0 {
		return fmt.Errorf("op=engine.ScheduleRuleCheck: interval %d: %w", intervalMinutes, domain.ErrInvalidArgument)
	}
	if err := e.sched.ScheduleRuleCheck(ctx, ruleID, userID, intervalMinutes); err != nil {
		return err
	}
	observability.JobsScheduledTotal.WithLabelValues(domain.JobTypeRuleCheck).Inc()
	return nil
}

// RemoveRule deletes the rule's job record and any claim it holds.
func (e *Engine) RemoveRule(ctx context.Context, ruleID string) error {
	return e.sched.Remove(ctx, domain.RuleCheckJobID(ruleID))
}

// RunRuleOnce executes the full pipeline for a rule synchronously, bypassing
// the scheduler. The rule's periodic job, if any, is untouched: its next
// tick fires on its own cadence.
func (e *Engine) RunRuleOnce(ctx context.Context, ruleID string) (domain.ExecutionRecord, error) {
	return e.runPipeline(ctx, ruleID, false)
}

// TestRule dry-runs a rule: fresh weather, real condition evaluation, and a
// synthetic all-success action list without calling any ad platform. The
// record is returned, not persisted.
func (e *Engine) TestRule(ctx context.Context, ruleID string) (domain.ExecutionRecord, error) {
	return e.runPipeline(ctx, ruleID, true)
}

// EngineStats gathers job, rate-limit, and worker stats in one snapshot.
// Registry failures degrade to an empty worker list rather than failing the
// whole snapshot.
func (e *Engine) EngineStats(ctx context.Context) (Stats, error) {
	jobs, err := e.sched.Stats(ctx)
	if err != nil {
		return Stats{}, err
	}
	workers, err := e.registry.List(ctx)
	if err != nil {
		workers = nil
	}
	return Stats{
		Jobs:       jobs,
		RateLimits: e.limiter.Stats(ctx),
		Workers:    workers,
		Timestamp:  e.now(),
	}, nil
}
