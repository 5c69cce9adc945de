package engine

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/adweave/skytrigger/internal/adapter/observability"
	"github.com/adweave/skytrigger/internal/domain"
)

// weatherMaxRetries is the backoff budget for the weather fetch.
const weatherMaxRetries = 3

// processJob runs one claimed rule-check job end to end and settles it with
// the scheduler. No error escapes: every failure path becomes a job outcome.
func (e *Engine) processJob(ctx context.Context, job domain.Job) {
	e.registry.JobStarted()
	observability.JobsProcessing.Inc()
	defer observability.JobsProcessing.Dec()

	_, err := e.runPipeline(ctx, job.RuleID(), false)
	outcome := outcomeFor(err, job)

	if cerr := e.sched.Complete(ctx, job.ID, outcome); cerr != nil {
		// Completion failure leaves the job claimed; the stuck sweep will
		// return it to the schedule.
		slog.Error("job completion failed",
			slog.String("job_id", job.ID), slog.Any("error", cerr))
	}
	e.registry.JobFinished(ctx, outcome.Success)

	switch {
	case outcome.Success:
		observability.JobsCompletedTotal.WithLabelValues("success").Inc()
	case outcome.Terminal:
		observability.JobsCompletedTotal.WithLabelValues("terminal").Inc()
	default:
		observability.JobsCompletedTotal.WithLabelValues("retry").Inc()
	}
}

// outcomeFor folds a pipeline error into the scheduler outcome. A missing
// rule is terminal; everything else retries on the class-dependent delay.
func outcomeFor(err error, job domain.Job) domain.JobOutcome {
	if err == nil {
		return domain.JobOutcome{Success: true}
	}
	return domain.JobOutcome{
		Terminal:   errors.Is(err, domain.ErrNotFound),
		Error:      err.Error(),
		RetryAfter: retryDelayFor(err, job.RetryCount),
	}
}

// runPipeline executes the fetch-evaluate-act sequence for one rule. In dry
// runs the platform dispatch is replaced by synthetic successes and nothing
// is persisted.
func (e *Engine) runPipeline(ctx context.Context, ruleID string, dryRun bool) (domain.ExecutionRecord, error) {
	started := e.now()

	rule, err := e.rules.Get(ctx, ruleID)
	if err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			e.recordFailure(ctx, ruleID, "", started, err)
		}
		return domain.ExecutionRecord{}, err
	}
	if !rule.IsActive {
		// Deactivated between scheduling and claim; nothing to do, the next
		// tick reschedules on the default cadence.
		slog.Debug("rule inactive, skipping", slog.String("rule_id", ruleID))
		return domain.ExecutionRecord{}, nil
	}

	if !dryRun {
		if err := e.rules.SetLastChecked(ctx, rule.ID, started); err != nil {
			e.recordFailure(ctx, rule.ID, rule.UserID, started, err)
			return domain.ExecutionRecord{}, err
		}
	}

	var weatherCalls atomic.Int32
	var snap domain.WeatherSnapshot
	err = e.limiter.ExecuteWithBackoff(ctx, domain.ServiceWeather, domain.EndpointCurrentWeather, weatherMaxRetries,
		func(ctx context.Context) error {
			weatherCalls.Add(1)
			var werr error
			snap, werr = e.weather.CurrentWeather(ctx, rule.Location)
			return werr
		})
	if err != nil {
		e.recordFailure(ctx, rule.ID, rule.UserID, started, err)
		return domain.ExecutionRecord{}, err
	}

	conditionsMet := rule.ConditionsMet(snap)
	if conditionsMet {
		observability.ConditionsEvaluatedTotal.WithLabelValues("met").Inc()
	} else {
		observability.ConditionsEvaluatedTotal.WithLabelValues("not_met").Inc()
	}

	var actions []domain.ActionResult
	var callCounts platformCallCounts
	if conditionsMet {
		if dryRun {
			actions = syntheticActions(rule)
		} else {
			actions = e.dispatchActions(ctx, rule, &callCounts)
		}
	}

	executionSuccess := true
	succeeded := 0
	for _, a := range actions {
		if a.Success {
			succeeded++
		} else {
			executionSuccess = false
		}
	}

	// A rule with no targets still counts as an execution: success is
	// vacuously true and the mark moves.
	if conditionsMet && executionSuccess && !dryRun {
		if err := e.rules.SetLastExecuted(ctx, rule.ID, e.now()); err != nil {
			slog.Warn("last_executed update failed",
				slog.String("rule_id", rule.ID), slog.Any("error", err))
		}
	}

	rec := domain.ExecutionRecord{
		RuleID:        rule.ID,
		UserID:        rule.UserID,
		ExecutedAt:    started,
		WeatherData:   &snap,
		ConditionsMet: conditionsMet,
		Actions:       actions,
		Success:       !conditionsMet || executionSuccess,
		DurationMS:    e.now().Sub(started).Milliseconds(),
		Metrics: domain.ExecutionMetrics{
			WeatherAPICalls:     int(weatherCalls.Load()),
			PlatformMCalls:      int(callCounts.platformM.Load()),
			PlatformGCalls:      int(callCounts.platformG.Load()),
			ConditionsEvaluated: rule.ConditionCount(),
			ActionsAttempted:    len(actions),
			ActionsSucceeded:    succeeded,
		},
	}
	if !rec.Success {
		rec.Error = firstActionError(actions)
	}

	if dryRun {
		return rec, nil
	}
	id, err := e.execs.Append(ctx, rec)
	if err != nil {
		// The audit row is not optional; failing the job retries the tick.
		return domain.ExecutionRecord{}, err
	}
	rec.ID = id

	if !rec.Success {
		return rec, errors.New("one or more campaign actions failed: " + rec.Error)
	}
	return rec, nil
}

// recordFailure appends a failed execution with no weather snapshot. Best
// effort: the pipeline error is what drives the retry, not this write.
func (e *Engine) recordFailure(ctx context.Context, ruleID, userID string, started time.Time, cause error) {
	rec := domain.ExecutionRecord{
		RuleID:     ruleID,
		UserID:     userID,
		ExecutedAt: started,
		Success:    false,
		Error:      cause.Error(),
		DurationMS: e.now().Sub(started).Milliseconds(),
	}
	if _, err := e.execs.Append(ctx, rec); err != nil {
		slog.Warn("failure record append failed",
			slog.String("rule_id", ruleID), slog.Any("error", err))
	}
}

// syntheticActions mirrors the rule's targets as successes without touching
// any platform, for dry runs.
func syntheticActions(rule domain.Rule) []domain.ActionResult {
	actions := make([]domain.ActionResult, len(rule.Campaigns))
	for i, target := range rule.Campaigns {
		actions[i] = domain.ActionResult{
			Platform:   target.Platform,
			CampaignID: target.CampaignID,
			AdSetID:    target.AdSetID,
			TargetType: target.TargetType,
			Action:     target.Action,
			Status:     domain.TargetStatus(target.Platform, target.Action),
			Success:    true,
		}
	}
	return actions
}

func firstActionError(actions []domain.ActionResult) string {
	for _, a := range actions {
		if !a.Success && a.Error != "" {
			return a.Error
		}
	}
	return "action failed"
}
