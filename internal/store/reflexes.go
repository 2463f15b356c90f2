package store

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/kijko-dev/kijko-api/pkg/clients/postgres"
	kerr "github.com/kijko-dev/kijko-api/pkg/errors"
	"github.com/kijko-dev/kijko-api/pkg/models"
)

// ReflexStore persists reflexes.
type ReflexStore struct {
	db *postgres.Client
}

const reflexColumns = `id, organization_id, user_id, skill_id, name, event_type, conditions, enabled, webhook_token, trigger_count, failure_count, last_triggered_at, created_at, updated_at`

func scanReflex(row pgx.Row) (*models.Reflex, error) {
	var r models.Reflex
	err := row.Scan(&r.ID, &r.OrgID, &r.UserID, &r.SkillID, &r.Name,
		&r.EventType, &r.Conditions, &r.Enabled, &r.WebhookToken,
		&r.TriggerCount, &r.FailureCount, &r.LastTriggeredAt, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// Create inserts a new reflex.
func (st *ReflexStore) Create(ctx context.Context, r *models.Reflex) error {
	if err := r.Validate(); err != nil {
		return kerr.Wrap(err, kerr.CodeValidation, "store: invalid reflex")
	}
	_, err := st.db.Exec(ctx, `
		INSERT INTO reflexes (`+reflexColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		r.ID, r.OrgID, r.UserID, r.SkillID, r.Name, r.EventType, r.Conditions,
		r.Enabled, r.WebhookToken, r.TriggerCount, r.FailureCount,
		r.LastTriggeredAt, r.CreatedAt, r.UpdatedAt)
	if err != nil {
		return dbErr(err, "reflex insert")
	}
	return nil
}

// Get loads one reflex scoped to the organization.
func (st *ReflexStore) Get(ctx context.Context, orgID, id string) (*models.Reflex, error) {
	row := st.db.QueryRow(ctx, `
		SELECT `+reflexColumns+` FROM reflexes
		WHERE id = $1 AND organization_id = $2`, id, orgID)
	r, err := scanReflex(row)
	if err != nil {
		return nil, notFound(err, "reflex")
	}
	return r, nil
}

// List returns the organization's reflexes, newest first.
func (st *ReflexStore) List(ctx context.Context, orgID string, page models.PageParams) (models.Paginated[models.Reflex], error) {
	page = page.Normalize()
	var zero models.Paginated[models.Reflex]

	var total int64
	if err := st.db.QueryRow(ctx,
		`SELECT count(*) FROM reflexes WHERE organization_id = $1`, orgID).Scan(&total); err != nil {
		return zero, dbErr(err, "reflex count")
	}

	rows, err := st.db.Query(ctx, `
		SELECT `+reflexColumns+` FROM reflexes
		WHERE organization_id = $1 ORDER BY created_at DESC LIMIT $2 OFFSET $3`,
		orgID, page.PageSize, page.Offset())
	if err != nil {
		return zero, dbErr(err, "reflex list")
	}
	defer rows.Close()

	var items []models.Reflex
	for rows.Next() {
		r, err := scanReflex(rows)
		if err != nil {
			return zero, dbErr(err, "reflex scan")
		}
		items = append(items, *r)
	}
	if err := rows.Err(); err != nil {
		return zero, dbErr(err, "reflex list")
	}
	return models.NewPaginated(items, total, page), nil
}

// Update modifies a reflex's mutable fields. The webhook token never
// changes.
func (st *ReflexStore) Update(ctx context.Context, orgID string, r *models.Reflex) (*models.Reflex, error) {
	row := st.db.QueryRow(ctx, `
		UPDATE reflexes SET
			name = $3,
			event_type = $4,
			conditions = $5,
			updated_at = now()
		WHERE id = $1 AND organization_id = $2
		RETURNING `+reflexColumns,
		r.ID, orgID, r.Name, r.EventType, r.Conditions)
	updated, err := scanReflex(row)
	if err != nil {
		return nil, notFound(err, "reflex")
	}
	return updated, nil
}

// Delete removes a reflex.
func (st *ReflexStore) Delete(ctx context.Context, orgID, id string) error {
	tag, err := st.db.Exec(ctx, `
		DELETE FROM reflexes WHERE id = $1 AND organization_id = $2`, id, orgID)
	if err != nil {
		return dbErr(err, "reflex delete")
	}
	if tag.RowsAffected() == 0 {
		return kerr.New(kerr.CodeNotFoundResource, "store: reflex not found")
	}
	return nil
}

// Toggle flips Enabled.
func (st *ReflexStore) Toggle(ctx context.Context, orgID, id string, enabled bool) (*models.Reflex, error) {
	row := st.db.QueryRow(ctx, `
		UPDATE reflexes SET enabled = $3, updated_at = now()
		WHERE id = $1 AND organization_id = $2
		RETURNING `+reflexColumns,
		id, orgID, enabled)
	updated, err := scanReflex(row)
	if err != nil {
		return nil, notFound(err, "reflex")
	}
	return updated, nil
}

// ListByEvent returns the organization's enabled reflexes listening for
// the given event type. Condition matching happens in the caller against
// the event payload.
func (st *ReflexStore) ListByEvent(ctx context.Context, orgID, eventType string) ([]models.Reflex, error) {
	rows, err := st.db.Query(ctx, `
		SELECT `+reflexColumns+` FROM reflexes
		WHERE organization_id = $1 AND event_type = $2 AND enabled`,
		orgID, eventType)
	if err != nil {
		return nil, dbErr(err, "reflex event lookup")
	}
	defer rows.Close()

	var items []models.Reflex
	for rows.Next() {
		r, err := scanReflex(rows)
		if err != nil {
			return nil, dbErr(err, "reflex scan")
		}
		items = append(items, *r)
	}
	if err := rows.Err(); err != nil {
		return nil, dbErr(err, "reflex event lookup")
	}
	return items, nil
}

// SystemGetByWebhookToken resolves a webhook delivery to its reflex. The
// token is the sole credential, so this lookup is unscoped by design.
func (st *ReflexStore) SystemGetByWebhookToken(ctx context.Context, token string) (*models.Reflex, error) {
	row := st.db.QueryRow(ctx, `
		SELECT `+reflexColumns+` FROM reflexes WHERE webhook_token = $1`, token)
	r, err := scanReflex(row)
	if err != nil {
		return nil, notFound(err, "reflex")
	}
	return r, nil
}

// SystemGet loads one reflex without organization scoping. Worker use only.
func (st *ReflexStore) SystemGet(ctx context.Context, id string) (*models.Reflex, error) {
	row := st.db.QueryRow(ctx, `
		SELECT `+reflexColumns+` FROM reflexes WHERE id = $1`, id)
	r, err := scanReflex(row)
	if err != nil {
		return nil, notFound(err, "reflex")
	}
	return r, nil
}

// SystemRecordTrigger updates a reflex's counters after a firing. Worker
// use only.
func (st *ReflexStore) SystemRecordTrigger(ctx context.Context, id string, triggeredAt time.Time, failed bool) error {
	failureInc := 0
	if failed {
		failureInc = 1
	}
	_, err := st.db.Exec(ctx, `
		UPDATE reflexes SET
			trigger_count = trigger_count + 1,
			failure_count = failure_count + $3,
			last_triggered_at = $2,
			updated_at = now()
		WHERE id = $1`, id, triggeredAt, failureInc)
	if err != nil {
		return dbErr(err, "reflex trigger record")
	}
	return nil
}

// Stats aggregates a reflex's trigger history with token usage from its
// executions.
func (st *ReflexStore) Stats(ctx context.Context, orgID, id string) (*models.ReflexStats, error) {
	r, err := st.Get(ctx, orgID, id)
	if err != nil {
		return nil, err
	}

	var tokens int64
	err = st.db.QueryRow(ctx, `
		SELECT coalesce(sum(tokens_used), 0) FROM executions
		WHERE organization_id = $1 AND trigger_type = 'reflex' AND trigger_source_id = $2`,
		orgID, id).Scan(&tokens)
	if err != nil {
		return nil, dbErr(err, "reflex stats")
	}

	stats := &models.ReflexStats{
		ReflexID:        r.ID,
		TriggerCount:    r.TriggerCount,
		FailureCount:    r.FailureCount,
		LastTriggeredAt: r.LastTriggeredAt,
		TokensUsed:      tokens,
	}
	if r.TriggerCount > 0 {
		stats.SuccessRate = float64(r.TriggerCount-r.FailureCount) / float64(r.TriggerCount)
	}
	return stats, nil
}
