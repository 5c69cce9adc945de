package domain

import (
	"time"
)

// Job types the scheduler understands.
const (
	JobTypeRuleCheck = "automation_rule_check"
)

// DefaultMaxRetries bounds scheduler-level retries of a failed job.
const DefaultMaxRetries = 3

// DefaultJobPriority is assigned when the caller does not set one.
// Lower numbers are claimed first among jobs due at the same instant.
const DefaultJobPriority = 5

// Job is one scheduled unit of work. Timestamps are Unix milliseconds so
// they serialize losslessly into sorted-set scores.
type Job struct {
	ID          string         `json:"id"`
	Type        string         `json:"type"`
	Payload     map[string]any `json:"payload,omitempty"`
	Priority    int            `json:"priority"`
	ScheduledAt int64          `json:"scheduled_at"`
	CreatedAt   int64          `json:"created_at"`
	RetryCount  int            `json:"retry_count"`
	MaxRetries  int            `json:"max_retries"`

	// ProcessingStartedAt is set by the claim step and is zero for jobs
	// still waiting in the schedule.
	ProcessingStartedAt int64 `json:"processing_started_at,omitempty"`
	// LastExecutedAt records the completion instant of the previous
	// successful tick.
	LastExecutedAt int64 `json:"last_executed_at,omitempty"`
}

// RuleCheckJobID derives the deterministic job id for a rule check, making
// repeated scheduling of the same rule idempotent.
func RuleCheckJobID(ruleID string) string {
	return "rule_check_" + ruleID
}

// NewRuleCheckJob builds a periodic rule-check job due at the given instant.
// The interval rides in the payload so completion can schedule the next tick
// without loading the rule.
func NewRuleCheckJob(ruleID, userID string, intervalMinutes int, dueAt, now time.Time) Job {
	return Job{
		ID:   RuleCheckJobID(ruleID),
		Type: JobTypeRuleCheck,
		Payload: map[string]any{
			"rule_id":          ruleID,
			"user_id":          userID,
			"interval_minutes": intervalMinutes,
		},
		Priority:    DefaultJobPriority,
		ScheduledAt: dueAt.UnixMilli(),
		CreatedAt:   now.UnixMilli(),
		MaxRetries:  DefaultMaxRetries,
	}
}

// RuleID extracts the rule id from a rule-check payload, empty when absent.
func (j Job) RuleID() string {
	s, _ := j.Payload["rule_id"].(string)
	return s
}

// UserID extracts the user id from a rule-check payload, empty when absent.
func (j Job) UserID() string {
	s, _ := j.Payload["user_id"].(string)
	return s
}

// IntervalMinutes extracts the recurrence interval from the payload. JSON
// decoding turns numbers into float64, so both arrival shapes are handled.
func (j Job) IntervalMinutes() int {
	switch v := j.Payload["interval_minutes"].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	default:
		return 0
	}
}

// Overdue reports whether the job has been waiting past the given lateness
// threshold at the reference instant.
func (j Job) Overdue(now time.Time, threshold time.Duration) bool {
	return now.UnixMilli()-j.ScheduledAt > threshold.Milliseconds()
}

// JobOutcome is what the worker hands back to the scheduler when a claimed
// job finishes.
type JobOutcome struct {
	Success bool `json:"success"`
	// Terminal marks a failure that must not be retried regardless of the
	// remaining retry budget.
	Terminal bool `json:"terminal,omitempty"`
	// Error carries the failure message for the result record.
	Error string `json:"error,omitempty"`
	// RetryAfter overrides the scheduler's default retry delay when > 0.
	RetryAfter time.Duration `json:"-"`
}

// JobStats is the scheduler's point-in-time snapshot.
type JobStats struct {
	Scheduled  int64 `json:"scheduled"`
	Processing int64 `json:"processing"`
	Overdue    int64 `json:"overdue"`
}
