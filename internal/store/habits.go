package store

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/kijko-dev/kijko-api/internal/schedule"
	"github.com/kijko-dev/kijko-api/pkg/clients/postgres"
	kerr "github.com/kijko-dev/kijko-api/pkg/errors"
	"github.com/kijko-dev/kijko-api/pkg/models"
)

// HabitStore persists habits and owns their schedule bookkeeping.
type HabitStore struct {
	db *postgres.Client
}

const habitColumns = `id, organization_id, user_id, skill_id, name, schedule, timezone, input, enabled, next_run_at, last_run_at, run_count, failure_count, created_at, updated_at`

func scanHabit(row pgx.Row) (*models.Habit, error) {
	var h models.Habit
	err := row.Scan(&h.ID, &h.OrgID, &h.UserID, &h.SkillID, &h.Name,
		&h.Schedule, &h.Timezone, &h.Input, &h.Enabled, &h.NextRunAt,
		&h.LastRunAt, &h.RunCount, &h.FailureCount, &h.CreatedAt, &h.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &h, nil
}

// Create validates the cron expression, computes the first NextRunAt, and
// inserts the habit.
func (st *HabitStore) Create(ctx context.Context, h *models.Habit) error {
	if err := h.Validate(); err != nil {
		return kerr.Wrap(err, kerr.CodeValidation, "store: invalid habit")
	}
	next, err := schedule.NextRun(h.Schedule, h.Timezone, time.Now())
	if err != nil {
		return err
	}
	h.NextRunAt = &next

	_, err = st.db.Exec(ctx, `
		INSERT INTO habits (`+habitColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`,
		h.ID, h.OrgID, h.UserID, h.SkillID, h.Name, h.Schedule, h.Timezone,
		h.Input, h.Enabled, h.NextRunAt, h.LastRunAt, h.RunCount,
		h.FailureCount, h.CreatedAt, h.UpdatedAt)
	if err != nil {
		return dbErr(err, "habit insert")
	}
	return nil
}

// Get loads one habit scoped to the organization.
func (st *HabitStore) Get(ctx context.Context, orgID, id string) (*models.Habit, error) {
	row := st.db.QueryRow(ctx, `
		SELECT `+habitColumns+` FROM habits
		WHERE id = $1 AND organization_id = $2`, id, orgID)
	h, err := scanHabit(row)
	if err != nil {
		return nil, notFound(err, "habit")
	}
	return h, nil
}

// SystemGet loads one habit without organization scoping. Worker use only.
func (st *HabitStore) SystemGet(ctx context.Context, id string) (*models.Habit, error) {
	row := st.db.QueryRow(ctx, `
		SELECT `+habitColumns+` FROM habits WHERE id = $1`, id)
	h, err := scanHabit(row)
	if err != nil {
		return nil, notFound(err, "habit")
	}
	return h, nil
}

// List returns the organization's habits, newest first.
func (st *HabitStore) List(ctx context.Context, orgID string, page models.PageParams) (models.Paginated[models.Habit], error) {
	page = page.Normalize()
	var zero models.Paginated[models.Habit]

	var total int64
	if err := st.db.QueryRow(ctx,
		`SELECT count(*) FROM habits WHERE organization_id = $1`, orgID).Scan(&total); err != nil {
		return zero, dbErr(err, "habit count")
	}

	rows, err := st.db.Query(ctx, `
		SELECT `+habitColumns+` FROM habits
		WHERE organization_id = $1 ORDER BY created_at DESC LIMIT $2 OFFSET $3`,
		orgID, page.PageSize, page.Offset())
	if err != nil {
		return zero, dbErr(err, "habit list")
	}
	defer rows.Close()

	var items []models.Habit
	for rows.Next() {
		h, err := scanHabit(rows)
		if err != nil {
			return zero, dbErr(err, "habit scan")
		}
		items = append(items, *h)
	}
	if err := rows.Err(); err != nil {
		return zero, dbErr(err, "habit list")
	}
	return models.NewPaginated(items, total, page), nil
}

// Update modifies a habit's mutable fields, recomputing NextRunAt when the
// schedule or timezone changed.
func (st *HabitStore) Update(ctx context.Context, orgID string, h *models.Habit) (*models.Habit, error) {
	next, err := schedule.NextRun(h.Schedule, h.Timezone, time.Now())
	if err != nil {
		return nil, err
	}

	row := st.db.QueryRow(ctx, `
		UPDATE habits SET
			name = $3,
			schedule = $4,
			timezone = $5,
			input = $6,
			next_run_at = CASE WHEN enabled THEN $7 ELSE next_run_at END,
			updated_at = now()
		WHERE id = $1 AND organization_id = $2
		RETURNING `+habitColumns,
		h.ID, orgID, h.Name, h.Schedule, h.Timezone, h.Input, next)
	updated, err := scanHabit(row)
	if err != nil {
		return nil, notFound(err, "habit")
	}
	return updated, nil
}

// Delete removes a habit.
func (st *HabitStore) Delete(ctx context.Context, orgID, id string) error {
	tag, err := st.db.Exec(ctx, `
		DELETE FROM habits WHERE id = $1 AND organization_id = $2`, id, orgID)
	if err != nil {
		return dbErr(err, "habit delete")
	}
	if tag.RowsAffected() == 0 {
		return kerr.New(kerr.CodeNotFoundResource, "store: habit not found")
	}
	return nil
}

// Toggle flips Enabled. Enabling recomputes NextRunAt from now; disabling
// clears it so the due scan never picks the habit up.
func (st *HabitStore) Toggle(ctx context.Context, orgID, id string, enabled bool) (*models.Habit, error) {
	var next *time.Time
	if enabled {
		h, err := st.Get(ctx, orgID, id)
		if err != nil {
			return nil, err
		}
		n, err := schedule.NextRun(h.Schedule, h.Timezone, time.Now())
		if err != nil {
			return nil, err
		}
		next = &n
	}

	row := st.db.QueryRow(ctx, `
		UPDATE habits SET enabled = $3, next_run_at = $4, updated_at = now()
		WHERE id = $1 AND organization_id = $2
		RETURNING `+habitColumns,
		id, orgID, enabled, next)
	updated, err := scanHabit(row)
	if err != nil {
		return nil, notFound(err, "habit")
	}
	return updated, nil
}

// Stats aggregates a habit's run history with token usage from its
// executions.
func (st *HabitStore) Stats(ctx context.Context, orgID, id string) (*models.HabitStats, error) {
	h, err := st.Get(ctx, orgID, id)
	if err != nil {
		return nil, err
	}

	var tokens int64
	err = st.db.QueryRow(ctx, `
		SELECT coalesce(sum(tokens_used), 0) FROM executions
		WHERE organization_id = $1 AND trigger_type = 'habit' AND trigger_source_id = $2`,
		orgID, id).Scan(&tokens)
	if err != nil {
		return nil, dbErr(err, "habit stats")
	}

	stats := &models.HabitStats{
		HabitID:      h.ID,
		RunCount:     h.RunCount,
		FailureCount: h.FailureCount,
		LastRunAt:    h.LastRunAt,
		NextRunAt:    h.NextRunAt,
		TokensUsed:   tokens,
	}
	if h.RunCount > 0 {
		stats.SuccessRate = float64(h.RunCount-h.FailureCount) / float64(h.RunCount)
	}
	return stats, nil
}

// SystemListDue returns enabled habits across all organizations whose
// NextRunAt has passed. Worker use only; the limit bounds one scan batch.
func (st *HabitStore) SystemListDue(ctx context.Context, now time.Time, limit int) ([]models.Habit, error) {
	rows, err := st.db.Query(ctx, `
		SELECT `+habitColumns+` FROM habits
		WHERE enabled AND next_run_at IS NOT NULL AND next_run_at <= $1
		ORDER BY next_run_at ASC LIMIT $2`, now, limit)
	if err != nil {
		return nil, dbErr(err, "due habit scan")
	}
	defer rows.Close()

	var items []models.Habit
	for rows.Next() {
		h, err := scanHabit(rows)
		if err != nil {
			return nil, dbErr(err, "habit scan")
		}
		items = append(items, *h)
	}
	if err := rows.Err(); err != nil {
		return nil, dbErr(err, "due habit scan")
	}
	return items, nil
}

// SystemRecordRun updates a habit's counters after a run and advances
// NextRunAt past the run time. Worker use only.
func (st *HabitStore) SystemRecordRun(ctx context.Context, id string, ranAt time.Time, failed bool) error {
	h, err := st.SystemGet(ctx, id)
	if err != nil {
		return err
	}
	next, err := schedule.NextRun(h.Schedule, h.Timezone, ranAt)
	if err != nil {
		return err
	}

	failureInc := 0
	if failed {
		failureInc = 1
	}
	_, err = st.db.Exec(ctx, `
		UPDATE habits SET
			last_run_at = $2,
			next_run_at = $3,
			run_count = run_count + 1,
			failure_count = failure_count + $4,
			updated_at = now()
		WHERE id = $1`, id, ranAt, next, failureInc)
	if err != nil {
		return dbErr(err, "habit run record")
	}
	return nil
}
