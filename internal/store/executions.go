package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/kijko-dev/kijko-api/pkg/clients/postgres"
	kerr "github.com/kijko-dev/kijko-api/pkg/errors"
	"github.com/kijko-dev/kijko-api/pkg/models"
)

// ExecutionStore persists skill execution records.
type ExecutionStore struct {
	db *postgres.Client
}

const executionColumns = `id, skill_id, organization_id, user_id, trigger_type, trigger_source_id, status, input, output, model, tokens_used, duration_ms, error_message, started_at, completed_at, created_at, updated_at`

func scanExecution(row pgx.Row) (*models.Execution, error) {
	var e models.Execution
	err := row.Scan(&e.ID, &e.SkillID, &e.OrgID, &e.UserID, &e.Trigger,
		&e.TriggerSourceID, &e.Status, &e.Input, &e.Output, &e.Model,
		&e.TokensUsed, &e.DurationMS, &e.ErrorMessage, &e.StartedAt,
		&e.CompletedAt, &e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &e, nil
}

// Record inserts a finished (or failed) execution. The worker records
// executions only after they reach a terminal state, so inserts and status
// updates never race.
func (st *ExecutionStore) Record(ctx context.Context, e *models.Execution) error {
	if err := e.Validate(); err != nil {
		return kerr.Wrap(err, kerr.CodeValidation, "store: invalid execution")
	}
	_, err := st.db.Exec(ctx, `
		INSERT INTO executions (`+executionColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)`,
		e.ID, e.SkillID, e.OrgID, e.UserID, e.Trigger, e.TriggerSourceID,
		e.Status, e.Input, e.Output, e.Model, e.TokensUsed, e.DurationMS,
		e.ErrorMessage, e.StartedAt, e.CompletedAt, e.CreatedAt, e.UpdatedAt)
	if err != nil {
		return dbErr(err, "execution insert")
	}
	return nil
}

// Get loads one execution scoped to the organization.
func (st *ExecutionStore) Get(ctx context.Context, orgID, id string) (*models.Execution, error) {
	row := st.db.QueryRow(ctx, `
		SELECT `+executionColumns+` FROM executions
		WHERE id = $1 AND organization_id = $2`, id, orgID)
	e, err := scanExecution(row)
	if err != nil {
		return nil, notFound(err, "execution")
	}
	return e, nil
}

// ExecutionFilter narrows List results. Zero values mean "no filter".
type ExecutionFilter struct {
	SkillID string
	Status  models.ExecutionStatus
	Trigger models.TriggerType
	Since   time.Time
}

// List returns the organization's executions, newest first.
func (st *ExecutionStore) List(ctx context.Context, orgID string, filter ExecutionFilter, page models.PageParams) (models.Paginated[models.Execution], error) {
	page = page.Normalize()
	var zero models.Paginated[models.Execution]

	where := []string{"organization_id = $1"}
	args := []any{orgID}
	if filter.SkillID != "" {
		args = append(args, filter.SkillID)
		where = append(where, fmt.Sprintf("skill_id = $%d", len(args)))
	}
	if filter.Status != "" {
		if !filter.Status.Valid() {
			return zero, kerr.Newf(kerr.CodeValidation, "store: invalid execution status %q", filter.Status)
		}
		args = append(args, filter.Status)
		where = append(where, fmt.Sprintf("status = $%d", len(args)))
	}
	if filter.Trigger != "" {
		if !filter.Trigger.Valid() {
			return zero, kerr.Newf(kerr.CodeValidation, "store: invalid trigger type %q", filter.Trigger)
		}
		args = append(args, filter.Trigger)
		where = append(where, fmt.Sprintf("trigger_type = $%d", len(args)))
	}
	if !filter.Since.IsZero() {
		args = append(args, filter.Since)
		where = append(where, fmt.Sprintf("started_at >= $%d", len(args)))
	}
	cond := strings.Join(where, " AND ")

	var total int64
	if err := st.db.QueryRow(ctx, `SELECT count(*) FROM executions WHERE `+cond, args...).Scan(&total); err != nil {
		return zero, dbErr(err, "execution count")
	}

	args = append(args, page.PageSize, page.Offset())
	rows, err := st.db.Query(ctx, fmt.Sprintf(`
		SELECT `+executionColumns+` FROM executions
		WHERE %s ORDER BY started_at DESC LIMIT $%d OFFSET $%d`,
		cond, len(args)-1, len(args)), args...)
	if err != nil {
		return zero, dbErr(err, "execution list")
	}
	defer rows.Close()

	var items []models.Execution
	for rows.Next() {
		e, err := scanExecution(rows)
		if err != nil {
			return zero, dbErr(err, "execution scan")
		}
		items = append(items, *e)
	}
	if err := rows.Err(); err != nil {
		return zero, dbErr(err, "execution list")
	}
	return models.NewPaginated(items, total, page), nil
}

// ExecutionStats aggregates execution outcomes.
type ExecutionStats struct {
	Total       int64   `json:"total"`
	Completed   int64   `json:"completed"`
	Failed      int64   `json:"failed"`
	SuccessRate float64 `json:"success_rate"`
	TokensUsed  int64   `json:"tokens_used"`
	AvgDuration float64 `json:"avg_duration_ms"`
}

// Stats aggregates outcomes across the organization's executions since the
// given time (zero means all time).
func (st *ExecutionStore) Stats(ctx context.Context, orgID string, since time.Time) (*ExecutionStats, error) {
	var s ExecutionStats
	err := st.db.QueryRow(ctx, `
		SELECT
			count(*),
			count(*) FILTER (WHERE status = 'completed'),
			count(*) FILTER (WHERE status = 'failed'),
			coalesce(sum(tokens_used), 0),
			coalesce(avg(duration_ms), 0)
		FROM executions
		WHERE organization_id = $1 AND ($2::timestamptz IS NULL OR started_at >= $2)`,
		orgID, nullableTime(since)).
		Scan(&s.Total, &s.Completed, &s.Failed, &s.TokensUsed, &s.AvgDuration)
	if err != nil {
		return nil, dbErr(err, "execution stats")
	}
	if s.Total > 0 {
		s.SuccessRate = float64(s.Completed) / float64(s.Total)
	}
	return &s, nil
}

// SkillUsage is one row of the per-skill usage breakdown.
type SkillUsage struct {
	SkillID    string `json:"skill_id"`
	SkillName  string `json:"skill_name"`
	Runs       int64  `json:"runs"`
	Failed     int64  `json:"failed"`
	TokensUsed int64  `json:"tokens_used"`
}

// StatsBySkill breaks down execution counts and token usage per skill.
func (st *ExecutionStore) StatsBySkill(ctx context.Context, orgID string, since time.Time) ([]SkillUsage, error) {
	rows, err := st.db.Query(ctx, `
		SELECT e.skill_id, coalesce(s.name, ''), count(*),
			count(*) FILTER (WHERE e.status = 'failed'),
			coalesce(sum(e.tokens_used), 0)
		FROM executions e
		LEFT JOIN skills s ON s.id = e.skill_id
		WHERE e.organization_id = $1 AND ($2::timestamptz IS NULL OR e.started_at >= $2)
		GROUP BY e.skill_id, s.name
		ORDER BY count(*) DESC`,
		orgID, nullableTime(since))
	if err != nil {
		return nil, dbErr(err, "execution stats by skill")
	}
	defer rows.Close()

	var items []SkillUsage
	for rows.Next() {
		var u SkillUsage
		if err := rows.Scan(&u.SkillID, &u.SkillName, &u.Runs, &u.Failed, &u.TokensUsed); err != nil {
			return nil, dbErr(err, "execution stats scan")
		}
		items = append(items, u)
	}
	if err := rows.Err(); err != nil {
		return nil, dbErr(err, "execution stats by skill")
	}
	return items, nil
}

// PeriodUsage is one day's execution totals.
type PeriodUsage struct {
	Day        time.Time `json:"day"`
	Runs       int64     `json:"runs"`
	Failed     int64     `json:"failed"`
	TokensUsed int64     `json:"tokens_used"`
}

// StatsByPeriod breaks down execution counts per day since the given time.
func (st *ExecutionStore) StatsByPeriod(ctx context.Context, orgID string, since time.Time) ([]PeriodUsage, error) {
	rows, err := st.db.Query(ctx, `
		SELECT date_trunc('day', started_at) AS day, count(*),
			count(*) FILTER (WHERE status = 'failed'),
			coalesce(sum(tokens_used), 0)
		FROM executions
		WHERE organization_id = $1 AND started_at >= $2
		GROUP BY day
		ORDER BY day ASC`,
		orgID, since)
	if err != nil {
		return nil, dbErr(err, "execution stats by period")
	}
	defer rows.Close()

	var items []PeriodUsage
	for rows.Next() {
		var u PeriodUsage
		if err := rows.Scan(&u.Day, &u.Runs, &u.Failed, &u.TokensUsed); err != nil {
			return nil, dbErr(err, "execution stats scan")
		}
		items = append(items, u)
	}
	if err := rows.Err(); err != nil {
		return nil, dbErr(err, "execution stats by period")
	}
	return items, nil
}

// SystemListOlderThan returns terminal executions older than the cutoff,
// across all organizations, for the retention job. Worker use only.
func (st *ExecutionStore) SystemListOlderThan(ctx context.Context, cutoff time.Time, limit int) ([]models.Execution, error) {
	rows, err := st.db.Query(ctx, `
		SELECT `+executionColumns+` FROM executions
		WHERE started_at < $1 AND status IN ('completed', 'failed', 'canceled', 'timeout')
		ORDER BY started_at ASC LIMIT $2`, cutoff, limit)
	if err != nil {
		return nil, dbErr(err, "retention scan")
	}
	defer rows.Close()

	var items []models.Execution
	for rows.Next() {
		e, err := scanExecution(rows)
		if err != nil {
			return nil, dbErr(err, "execution scan")
		}
		items = append(items, *e)
	}
	if err := rows.Err(); err != nil {
		return nil, dbErr(err, "retention scan")
	}
	return items, nil
}

// SystemDelete removes executions by ID across organizations. Worker use
// only; called by the retention job after optional archival.
func (st *ExecutionStore) SystemDelete(ctx context.Context, ids []string) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	tag, err := st.db.Exec(ctx, `DELETE FROM executions WHERE id = ANY($1)`, ids)
	if err != nil {
		return 0, dbErr(err, "retention delete")
	}
	return tag.RowsAffected(), nil
}

// nullableTime converts a zero time to nil so SQL predicates can treat
// "no cutoff" as NULL.
func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
