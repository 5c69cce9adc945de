package postgres

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel"

	"github.com/adweave/skytrigger/internal/domain"
)

// RuleRepo loads automation rules from PostgreSQL and writes back the
// last-checked / last-executed marks. Rules are created and edited by the
// CRUD collaborator; this repo never inserts them.
type RuleRepo struct{ Pool PgxPool }

// NewRuleRepo constructs a RuleRepo with the given pool.
func NewRuleRepo(p PgxPool) *RuleRepo { return &RuleRepo{Pool: p} }

const ruleColumns = `id, user_id, is_active, lat, lon,
	COALESCE(conditions, '[]'::jsonb), condition_logic, campaigns,
	check_interval_minutes, last_checked_at, last_executed_at`

func scanRule(row pgx.Row) (domain.Rule, error) {
	var (
		r             domain.Rule
		conditionsRaw []byte
		logicRaw      []byte
		campaignsRaw  []byte
		lastChecked   *time.Time
		lastExecuted  *time.Time
	)
	err := row.Scan(&r.ID, &r.UserID, &r.IsActive, &r.Location.Lat, &r.Location.Lon,
		&conditionsRaw, &logicRaw, &campaignsRaw,
		&r.CheckIntervalMinutes, &lastChecked, &lastExecuted)
	if err != nil {
		return domain.Rule{}, err
	}
	if err := json.Unmarshal(conditionsRaw, &r.Conditions); err != nil {
		return domain.Rule{}, fmt.Errorf("conditions: %w", err)
	}
	if len(logicRaw) > 0 {
		var logic domain.ConditionLogic
		if err := json.Unmarshal(logicRaw, &logic); err != nil {
			return domain.Rule{}, fmt.Errorf("condition_logic: %w", err)
		}
		r.ConditionLogic = &logic
	}
	if len(campaignsRaw) > 0 {
		if err := json.Unmarshal(campaignsRaw, &r.Campaigns); err != nil {
			return domain.Rule{}, fmt.Errorf("campaigns: %w", err)
		}
	}
	r.LastCheckedAt = lastChecked
	r.LastExecutedAt = lastExecuted
	return r, nil
}

// Get loads a rule by id.
func (r *RuleRepo) Get(ctx domain.Context, id string) (domain.Rule, error) {
	tracer := otel.Tracer("repo.rules")
	ctx, span := tracer.Start(ctx, "rules.Get")
	defer span.End()
	q := `SELECT ` + ruleColumns + ` FROM rules WHERE id=$1`
	rule, err := scanRule(r.Pool.QueryRow(ctx, q, id))
	if err != nil {
		if err == pgx.ErrNoRows {
			return domain.Rule{}, fmt.Errorf("op=rule.get: %w", domain.ErrNotFound)
		}
		return domain.Rule{}, fmt.Errorf("op=rule.get: %w", err)
	}
	return rule, nil
}

// List returns every rule.
func (r *RuleRepo) List(ctx domain.Context) ([]domain.Rule, error) {
	tracer := otel.Tracer("repo.rules")
	ctx, span := tracer.Start(ctx, "rules.List")
	defer span.End()
	q := `SELECT ` + ruleColumns + ` FROM rules ORDER BY id`
	return r.queryRules(ctx, q)
}

// ListActive returns the rules the engine must keep scheduled.
func (r *RuleRepo) ListActive(ctx domain.Context) ([]domain.Rule, error) {
	tracer := otel.Tracer("repo.rules")
	ctx, span := tracer.Start(ctx, "rules.ListActive")
	defer span.End()
	q := `SELECT ` + ruleColumns + ` FROM rules WHERE is_active ORDER BY id`
	return r.queryRules(ctx, q)
}

func (r *RuleRepo) queryRules(ctx domain.Context, q string, args ...any) ([]domain.Rule, error) {
	rows, err := r.Pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("op=rule.list: %w", err)
	}
	defer rows.Close()
	var rules []domain.Rule
	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			return nil, fmt.Errorf("op=rule.list: %w", err)
		}
		rules = append(rules, rule)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("op=rule.list: %w", err)
	}
	return rules, nil
}

// SetLastChecked stamps the rule's last evaluation instant.
func (r *RuleRepo) SetLastChecked(ctx domain.Context, id string, at time.Time) error {
	tracer := otel.Tracer("repo.rules")
	ctx, span := tracer.Start(ctx, "rules.SetLastChecked")
	defer span.End()
	q := `UPDATE rules SET last_checked_at=$2, updated_at=$3 WHERE id=$1`
	_, err := r.Pool.Exec(ctx, q, id, at.UTC(), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("op=rule.set_last_checked: %w", err)
	}
	return nil
}

// SetLastExecuted stamps the instant the rule's actions last ran successfully.
func (r *RuleRepo) SetLastExecuted(ctx domain.Context, id string, at time.Time) error {
	tracer := otel.Tracer("repo.rules")
	ctx, span := tracer.Start(ctx, "rules.SetLastExecuted")
	defer span.End()
	q := `UPDATE rules SET last_executed_at=$2, updated_at=$3 WHERE id=$1`
	_, err := r.Pool.Exec(ctx, q, id, at.UTC(), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("op=rule.set_last_executed: %w", err)
	}
	return nil
}
