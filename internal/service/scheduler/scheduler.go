// Package scheduler owns the coordination-store job lifecycle: the
// time-ordered scheduled set, the processing set claimed jobs move through,
// and the per-job record and result hashes.
package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/adweave/skytrigger/internal/domain"
)

const (
	keyScheduled  = "jobs:scheduled"
	keyProcessing = "jobs:processing"

	// OverdueAfter is the lateness threshold for the stats overdue count.
	OverdueAfter = 5 * time.Minute
	// DefaultResultTTL keeps completed-job results around for a day.
	DefaultResultTTL = 24 * time.Hour
	// MaxRetryDelay caps the default completion retry delay.
	MaxRetryDelay = 5 * time.Minute
)

func jobKey(id string) string    { return "job:" + id }
func resultKey(id string) string { return "jobs:results:" + id }

// luaSchedule upserts a job: record first, then the scheduled-set entry.
// Re-scheduling an id replaces its due time and pulls it out of the
// processing set so an id never lives in both sets.
const luaSchedule = `
redis.call("HSET", KEYS[3], "data", ARGV[2])
redis.call("HDEL", KEYS[3], "processing_started_at")
redis.call("ZADD", KEYS[1], ARGV[1], ARGV[3])
redis.call("SREM", KEYS[2], ARGV[3])
return 1
`

// luaClaim is the single linearization point: the ZREM decides the winner,
// and only the winner stamps the processing state.
const luaClaim = `
local removed = redis.call("ZREM", KEYS[1], ARGV[1])
if removed == 1 then
  redis.call("SADD", KEYS[2], ARGV[1])
  redis.call("HSET", KEYS[3], "processing_started_at", ARGV[2])
  return 1
end
return 0
`

// Scheduler coordinates job state through Redis. All mutating operations
// are atomic; readers tolerate store hiccups where the contract allows.
type Scheduler struct {
	redis     *redis.Client
	resultTTL time.Duration

	scheduleScript *redis.Script
	claimScript    *redis.Script

	now func() time.Time
}

// New builds a Scheduler. A non-positive resultTTL falls back to the
// 24 h default.
func New(rdb *redis.Client, resultTTL time.Duration) *Scheduler {
	if resultTTL <= 0 {
		resultTTL = DefaultResultTTL
	}
	return &Scheduler{
		redis:          rdb,
		resultTTL:      resultTTL,
		scheduleScript: redis.NewScript(luaSchedule),
		claimScript:    redis.NewScript(luaClaim),
		now:            time.Now,
	}
}

// Schedule upserts the job record and its scheduled-set entry. Calling it
// twice with the same id leaves a single entry carrying the latest
// scheduled_at.
func (s *Scheduler) Schedule(ctx context.Context, job domain.Job) error {
	if job.ID == "" {
		return fmt.Errorf("op=scheduler.Schedule: empty job id: %w", domain.ErrInvalidArgument)
	}
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("op=scheduler.Schedule: marshal job %s: %w", job.ID, err)
	}
	keys := []string{keyScheduled, keyProcessing, jobKey(job.ID)}
	err = s.scheduleScript.Run(ctx, s.redis, keys, job.ScheduledAt, string(data), job.ID).Err()
	if err != nil {
		return fmt.Errorf("op=scheduler.Schedule: job %s: %w", job.ID, err)
	}
	return nil
}

// ScheduleRuleCheck schedules the recurring check job for a rule, due one
// interval from now. Deterministic ids make repeat calls idempotent.
func (s *Scheduler) ScheduleRuleCheck(ctx context.Context, ruleID, userID string, intervalMinutes int) error {
	now := s.now()
	due := now.Add(time.Duration(intervalMinutes) * time.Minute)
	return s.Schedule(ctx, domain.NewRuleCheckJob(ruleID, userID, intervalMinutes, due, now))
}

// ScheduleAt schedules the rule-check job at an explicit due time, used on
// startup to resume cadences from last_checked_at.
func (s *Scheduler) ScheduleAt(ctx context.Context, ruleID, userID string, intervalMinutes int, dueAt time.Time) error {
	return s.Schedule(ctx, domain.NewRuleCheckJob(ruleID, userID, intervalMinutes, dueAt, s.now()))
}

// ReadyJobs returns up to limit due jobs ordered by scheduled time, then
// priority, then id. Records that no longer parse are purged from every
// coordination object instead of being returned.
func (s *Scheduler) ReadyJobs(ctx context.Context, limit int) ([]domain.Job, error) {
	if limit <= 0 {
		return nil, nil
	}
	nowMS := s.now().UnixMilli()
	ids, err := s.redis.ZRangeByScore(ctx, keyScheduled, &redis.ZRangeBy{
		Min:   "-inf",
		Max:   strconv.FormatInt(nowMS, 10),
		Count: int64(limit),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("op=scheduler.ReadyJobs: %w", err)
	}

	jobs := make([]domain.Job, 0, len(ids))
	for _, id := range ids {
		job, ok := s.loadJob(ctx, id)
		if !ok {
			continue
		}
		jobs = append(jobs, job)
	}
	sort.Slice(jobs, func(i, j int) bool {
		if jobs[i].ScheduledAt != jobs[j].ScheduledAt {
			return jobs[i].ScheduledAt < jobs[j].ScheduledAt
		}
		if jobs[i].Priority != jobs[j].Priority {
			return jobs[i].Priority < jobs[j].Priority
		}
		return jobs[i].ID < jobs[j].ID
	})
	return jobs, nil
}

// loadJob reads and decodes one job record, purging it everywhere when the
// record is missing or corrupt.
func (s *Scheduler) loadJob(ctx context.Context, id string) (domain.Job, bool) {
	data, err := s.redis.HGet(ctx, jobKey(id), "data").Result()
	if errors.Is(err, redis.Nil) {
		slog.Warn("job record missing, purging", slog.String("job_id", id))
		s.purge(ctx, id)
		return domain.Job{}, false
	}
	if err != nil {
		slog.Warn("job record read failed, skipping", slog.String("job_id", id), slog.Any("error", err))
		return domain.Job{}, false
	}
	var job domain.Job
	if err := json.Unmarshal([]byte(data), &job); err != nil {
		slog.Warn("job record corrupt, purging", slog.String("job_id", id), slog.Any("error", err))
		s.purge(ctx, id)
		return domain.Job{}, false
	}
	return job, true
}

// purge removes every trace of a job id from the coordination store.
func (s *Scheduler) purge(ctx context.Context, id string) {
	_, err := s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZRem(ctx, keyScheduled, id)
		pipe.SRem(ctx, keyProcessing, id)
		pipe.Del(ctx, jobKey(id))
		return nil
	})
	if err != nil {
		slog.Warn("job purge failed", slog.String("job_id", id), slog.Any("error", err))
	}
}

// Claim atomically moves a job from scheduled to processing. The losing
// side of a race gets claimed=false and no error.
func (s *Scheduler) Claim(ctx context.Context, id string) (bool, error) {
	keys := []string{keyScheduled, keyProcessing, jobKey(id)}
	res, err := s.claimScript.Run(ctx, s.redis, keys, id, s.now().UnixMilli()).Int64()
	if err != nil {
		return false, fmt.Errorf("op=scheduler.Claim: job %s: %w", id, err)
	}
	return res == 1, nil
}

// defaultRetryDelay doubles per attempt starting at 2 s, capped at 5 min.
func defaultRetryDelay(retryCount int) time.Duration {
	d := time.Duration(1<<uint(retryCount+1)) * time.Second //nolint:gosec // small shift
	if d > MaxRetryDelay {
		d = MaxRetryDelay
	}
	return d
}

// Complete settles a claimed job. Success schedules the next periodic tick
// at now + interval and resets the retry budget. Transient failures
// reschedule with the outcome's retry-after or the default curve. Terminal
// failures delete the job. An exhausted retry budget deletes one-shot jobs,
// but a recurring job keeps its cadence: the next periodic tick is scheduled
// with a fresh budget, so a run of bad ticks never silently stops the rule's
// checks. The result ledger is written in every case.
func (s *Scheduler) Complete(ctx context.Context, id string, outcome domain.JobOutcome) error {
	now := s.now()
	job, ok := s.loadJob(ctx, id)
	if !ok {
		// Record vanished (e.g. rule removed mid-flight). Drop the claim.
		if err := s.discard(ctx, id); err != nil {
			return err
		}
		return s.writeResult(ctx, id, outcome, now)
	}

	switch {
	case outcome.Success:
		job.RetryCount = 0
		job.LastExecutedAt = now.UnixMilli()
		if interval := job.IntervalMinutes(); interval > 0 {
			job.ScheduledAt = now.Add(time.Duration(interval) * time.Minute).UnixMilli()
			if err := s.Schedule(ctx, job); err != nil {
				return fmt.Errorf("op=scheduler.Complete: reschedule %s: %w", id, err)
			}
		} else if err := s.discard(ctx, id); err != nil {
			return err
		}

	case !outcome.Terminal && job.RetryCount < job.MaxRetries:
		delay := outcome.RetryAfter
		if delay <= 0 {
			delay = defaultRetryDelay(job.RetryCount)
		}
		job.RetryCount++
		job.ScheduledAt = now.Add(delay).UnixMilli()
		if err := s.Schedule(ctx, job); err != nil {
			return fmt.Errorf("op=scheduler.Complete: retry %s: %w", id, err)
		}
		slog.Warn("job failed, retry scheduled",
			slog.String("job_id", id),
			slog.Int("retry_count", job.RetryCount),
			slog.Duration("delay", delay),
			slog.String("error", outcome.Error))

	default:
		interval := job.IntervalMinutes()
		if !outcome.Terminal && interval > 0 {
			spent := job.RetryCount
			job.RetryCount = 0
			job.ScheduledAt = now.Add(time.Duration(interval) * time.Minute).UnixMilli()
			if err := s.Schedule(ctx, job); err != nil {
				return fmt.Errorf("op=scheduler.Complete: next tick %s: %w", id, err)
			}
			slog.Error("job retries exhausted, next periodic tick scheduled",
				slog.String("job_id", id),
				slog.Int("retries", spent),
				slog.String("error", outcome.Error))
		} else {
			if err := s.discard(ctx, id); err != nil {
				return err
			}
			slog.Error("job terminated",
				slog.String("job_id", id),
				slog.Bool("terminal", outcome.Terminal),
				slog.Int("retry_count", job.RetryCount),
				slog.String("error", outcome.Error))
		}
	}

	return s.writeResult(ctx, id, outcome, now)
}

// discard deletes the job record and removes the id from both sets.
func (s *Scheduler) discard(ctx context.Context, id string) error {
	_, err := s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZRem(ctx, keyScheduled, id)
		pipe.SRem(ctx, keyProcessing, id)
		pipe.Del(ctx, jobKey(id))
		return nil
	})
	if err != nil {
		return fmt.Errorf("op=scheduler.discard: job %s: %w", id, err)
	}
	return nil
}

func (s *Scheduler) writeResult(ctx context.Context, id string, outcome domain.JobOutcome, now time.Time) error {
	key := resultKey(id)
	fields := map[string]any{
		"success":      strconv.FormatBool(outcome.Success),
		"terminal":     strconv.FormatBool(outcome.Terminal),
		"error":        outcome.Error,
		"completed_at": now.UnixMilli(),
	}
	_, err := s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key, fields)
		pipe.PExpire(ctx, key, s.resultTTL)
		return nil
	})
	if err != nil {
		return fmt.Errorf("op=scheduler.writeResult: job %s: %w", id, err)
	}
	return nil
}

// Remove deletes the job record and any claim, used when a rule goes away.
func (s *Scheduler) Remove(ctx context.Context, id string) error {
	return s.discard(ctx, id)
}

// RecoverStuck sweeps the processing set and returns jobs claimed longer
// than olderThan ago to the scheduled set, due immediately. Retry counts
// are untouched: a crashed worker is not the job's fault.
func (s *Scheduler) RecoverStuck(ctx context.Context, olderThan time.Duration) (int, error) {
	ids, err := s.redis.SMembers(ctx, keyProcessing).Result()
	if err != nil {
		return 0, fmt.Errorf("op=scheduler.RecoverStuck: %w", err)
	}

	now := s.now()
	cutoff := now.Add(-olderThan).UnixMilli()
	recovered := 0
	for _, id := range ids {
		startedRaw, err := s.redis.HGet(ctx, jobKey(id), "processing_started_at").Result()
		if errors.Is(err, redis.Nil) {
			// Claim stamp lost with its record; requeue rather than strand.
			startedRaw = "0"
		} else if err != nil {
			slog.Warn("stuck sweep read failed", slog.String("job_id", id), slog.Any("error", err))
			continue
		}
		started, _ := strconv.ParseInt(startedRaw, 10, 64)
		if started > cutoff {
			continue
		}

		_, err = s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.ZAdd(ctx, keyScheduled, redis.Z{Score: float64(now.UnixMilli()), Member: id})
			pipe.SRem(ctx, keyProcessing, id)
			pipe.HDel(ctx, jobKey(id), "processing_started_at")
			return nil
		})
		if err != nil {
			slog.Warn("stuck job requeue failed", slog.String("job_id", id), slog.Any("error", err))
			continue
		}
		slog.Warn("stuck job recovered",
			slog.String("job_id", id),
			slog.Int64("processing_started_at", started))
		recovered++
	}
	return recovered, nil
}

// Stats returns the scheduled/processing totals plus how many scheduled
// jobs are more than five minutes late.
func (s *Scheduler) Stats(ctx context.Context) (domain.JobStats, error) {
	nowMS := s.now().UnixMilli()
	var (
		scheduled  *redis.IntCmd
		processing *redis.IntCmd
		overdue    *redis.IntCmd
	)
	_, err := s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		scheduled = pipe.ZCard(ctx, keyScheduled)
		processing = pipe.SCard(ctx, keyProcessing)
		overdue = pipe.ZCount(ctx, keyScheduled, "-inf", strconv.FormatInt(nowMS-OverdueAfter.Milliseconds(), 10))
		return nil
	})
	if err != nil {
		return domain.JobStats{}, fmt.Errorf("op=scheduler.Stats: %w", err)
	}
	return domain.JobStats{
		Scheduled:  scheduled.Val(),
		Processing: processing.Val(),
		Overdue:    overdue.Val(),
	}, nil
}

// ListScheduled returns up to limit scheduled jobs in due order, for
// operational inspection.
func (s *Scheduler) ListScheduled(ctx context.Context, limit int) ([]domain.Job, error) {
	if limit <= 0 {
		limit = 100
	}
	ids, err := s.redis.ZRangeByScore(ctx, keyScheduled, &redis.ZRangeBy{
		Min:   "-inf",
		Max:   "+inf",
		Count: int64(limit),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("op=scheduler.ListScheduled: %w", err)
	}
	jobs := make([]domain.Job, 0, len(ids))
	for _, id := range ids {
		if job, ok := s.loadJob(ctx, id); ok {
			jobs = append(jobs, job)
		}
	}
	return jobs, nil
}

// ListProcessing returns the currently claimed jobs.
func (s *Scheduler) ListProcessing(ctx context.Context) ([]domain.Job, error) {
	ids, err := s.redis.SMembers(ctx, keyProcessing).Result()
	if err != nil {
		return nil, fmt.Errorf("op=scheduler.ListProcessing: %w", err)
	}
	jobs := make([]domain.Job, 0, len(ids))
	for _, id := range ids {
		if job, ok := s.loadJob(ctx, id); ok {
			jobs = append(jobs, job)
		}
	}
	return jobs, nil
}
