package postgres

import (
	"encoding/json"
	"fmt"

	"github.com/oklog/ulid/v2"
	"go.opentelemetry.io/otel"

	"github.com/adweave/skytrigger/internal/domain"
)

// ExecutionRepo appends and reads the immutable execution audit log.
type ExecutionRepo struct{ Pool PgxPool }

// NewExecutionRepo constructs an ExecutionRepo with the given pool.
func NewExecutionRepo(p PgxPool) *ExecutionRepo { return &ExecutionRepo{Pool: p} }

// Append inserts one execution record and returns its id. The weather
// snapshot, action list, and metrics ride as JSON columns; a failed insert
// propagates so the job driver retries the tick.
func (r *ExecutionRepo) Append(ctx domain.Context, rec domain.ExecutionRecord) (string, error) {
	tracer := otel.Tracer("repo.executions")
	ctx, span := tracer.Start(ctx, "executions.Append")
	defer span.End()

	id := rec.ID
	if id == "" {
		id = ulid.Make().String()
	}
	var weatherRaw []byte
	if rec.WeatherData != nil {
		var err error
		weatherRaw, err = json.Marshal(rec.WeatherData)
		if err != nil {
			return "", fmt.Errorf("op=execution.append: weather: %w", err)
		}
	}
	actionsRaw, err := json.Marshal(rec.Actions)
	if err != nil {
		return "", fmt.Errorf("op=execution.append: actions: %w", err)
	}
	metricsRaw, err := json.Marshal(rec.Metrics)
	if err != nil {
		return "", fmt.Errorf("op=execution.append: metrics: %w", err)
	}

	q := `INSERT INTO executions
		(id, rule_id, user_id, executed_at, weather_data, conditions_met, actions_taken, success, error, duration_ms, execution_metrics)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`
	_, err = r.Pool.Exec(ctx, q, id, rec.RuleID, rec.UserID, rec.ExecutedAt.UTC(),
		weatherRaw, rec.ConditionsMet, actionsRaw, rec.Success, rec.Error, rec.DurationMS, metricsRaw)
	if err != nil {
		return "", fmt.Errorf("op=execution.append: %w", err)
	}
	return id, nil
}

// ListByRule returns the most recent executions of a rule, newest first.
func (r *ExecutionRepo) ListByRule(ctx domain.Context, ruleID string, limit int) ([]domain.ExecutionRecord, error) {
	tracer := otel.Tracer("repo.executions")
	ctx, span := tracer.Start(ctx, "executions.ListByRule")
	defer span.End()

	if limit <= 0 {
		limit = 50
	}
	q := `SELECT id, rule_id, user_id, executed_at, weather_data, conditions_met, actions_taken, success, COALESCE(error,''), duration_ms, execution_metrics
		FROM executions WHERE rule_id=$1 ORDER BY executed_at DESC LIMIT $2`
	rows, err := r.Pool.Query(ctx, q, ruleID, limit)
	if err != nil {
		return nil, fmt.Errorf("op=execution.list: %w", err)
	}
	defer rows.Close()

	var recs []domain.ExecutionRecord
	for rows.Next() {
		var (
			rec        domain.ExecutionRecord
			weatherRaw []byte
			actionsRaw []byte
			metricsRaw []byte
		)
		err := rows.Scan(&rec.ID, &rec.RuleID, &rec.UserID, &rec.ExecutedAt,
			&weatherRaw, &rec.ConditionsMet, &actionsRaw, &rec.Success, &rec.Error, &rec.DurationMS, &metricsRaw)
		if err != nil {
			return nil, fmt.Errorf("op=execution.list: %w", err)
		}
		if len(weatherRaw) > 0 {
			var snap domain.WeatherSnapshot
			if err := json.Unmarshal(weatherRaw, &snap); err != nil {
				return nil, fmt.Errorf("op=execution.list: weather: %w", err)
			}
			rec.WeatherData = &snap
		}
		if len(actionsRaw) > 0 {
			if err := json.Unmarshal(actionsRaw, &rec.Actions); err != nil {
				return nil, fmt.Errorf("op=execution.list: actions: %w", err)
			}
		}
		if len(metricsRaw) > 0 {
			if err := json.Unmarshal(metricsRaw, &rec.Metrics); err != nil {
				return nil, fmt.Errorf("op=execution.list: metrics: %w", err)
			}
		}
		recs = append(recs, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("op=execution.list: %w", err)
	}
	return recs, nil
}
