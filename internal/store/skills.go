package store

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/kijko-dev/kijko-api/pkg/clients/postgres"
	kerr "github.com/kijko-dev/kijko-api/pkg/errors"
	"github.com/kijko-dev/kijko-api/pkg/models"
)

// SkillStore persists skills.
type SkillStore struct {
	db *postgres.Client
}

// skillColumns is the canonical column list scanned by scanSkill.
const skillColumns = `id, organization_id, user_id, name, description, prompt, model, tags, enabled, version, created_at, updated_at`

func scanSkill(row pgx.Row) (*models.Skill, error) {
	var s models.Skill
	err := row.Scan(&s.ID, &s.OrgID, &s.UserID, &s.Name, &s.Description,
		&s.Prompt, &s.Model, &s.Tags, &s.Enabled, &s.Version, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// Create inserts a new skill.
func (st *SkillStore) Create(ctx context.Context, s *models.Skill) error {
	if err := s.Validate(); err != nil {
		return kerr.Wrap(err, kerr.CodeValidation, "store: invalid skill")
	}
	_, err := st.db.Exec(ctx, `
		INSERT INTO skills (`+skillColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		s.ID, s.OrgID, s.UserID, s.Name, s.Description, s.Prompt, s.Model,
		s.Tags, s.Enabled, s.Version, s.CreatedAt, s.UpdatedAt)
	if err != nil {
		return dbErr(err, "skill insert")
	}
	return nil
}

// Get loads one skill scoped to the organization.
func (st *SkillStore) Get(ctx context.Context, orgID, id string) (*models.Skill, error) {
	row := st.db.QueryRow(ctx, `
		SELECT `+skillColumns+` FROM skills
		WHERE id = $1 AND organization_id = $2`, id, orgID)
	s, err := scanSkill(row)
	if err != nil {
		return nil, notFound(err, "skill")
	}
	return s, nil
}

// SystemGet loads one skill without organization scoping. Worker use only.
func (st *SkillStore) SystemGet(ctx context.Context, id string) (*models.Skill, error) {
	row := st.db.QueryRow(ctx, `
		SELECT `+skillColumns+` FROM skills WHERE id = $1`, id)
	s, err := scanSkill(row)
	if err != nil {
		return nil, notFound(err, "skill")
	}
	return s, nil
}

// SkillFilter narrows List results. Zero values mean "no filter".
type SkillFilter struct {
	Tag     string
	Enabled *bool
	Search  string
}

// List returns the organization's skills, newest first.
func (st *SkillStore) List(ctx context.Context, orgID string, filter SkillFilter, page models.PageParams) (models.Paginated[models.Skill], error) {
	page = page.Normalize()

	where := []string{"organization_id = $1"}
	args := []any{orgID}
	if filter.Tag != "" {
		args = append(args, filter.Tag)
		where = append(where, fmt.Sprintf("$%d = ANY(tags)", len(args)))
	}
	if filter.Enabled != nil {
		args = append(args, *filter.Enabled)
		where = append(where, fmt.Sprintf("enabled = $%d", len(args)))
	}
	if filter.Search != "" {
		args = append(args, "%"+filter.Search+"%")
		where = append(where, fmt.Sprintf("(name ILIKE $%d OR description ILIKE $%d)", len(args), len(args)))
	}
	cond := strings.Join(where, " AND ")

	var zero models.Paginated[models.Skill]

	var total int64
	if err := st.db.QueryRow(ctx, `SELECT count(*) FROM skills WHERE `+cond, args...).Scan(&total); err != nil {
		return zero, dbErr(err, "skill count")
	}

	args = append(args, page.PageSize, page.Offset())
	rows, err := st.db.Query(ctx, fmt.Sprintf(`
		SELECT `+skillColumns+` FROM skills
		WHERE %s ORDER BY created_at DESC LIMIT $%d OFFSET $%d`,
		cond, len(args)-1, len(args)), args...)
	if err != nil {
		return zero, dbErr(err, "skill list")
	}
	defer rows.Close()

	var items []models.Skill
	for rows.Next() {
		s, err := scanSkill(rows)
		if err != nil {
			return zero, dbErr(err, "skill scan")
		}
		items = append(items, *s)
	}
	if err := rows.Err(); err != nil {
		return zero, dbErr(err, "skill list")
	}
	return models.NewPaginated(items, total, page), nil
}

// Update modifies a skill's mutable fields and bumps its version when the
// prompt or model changed.
func (st *SkillStore) Update(ctx context.Context, orgID string, s *models.Skill) (*models.Skill, error) {
	row := st.db.QueryRow(ctx, `
		UPDATE skills SET
			name = $3,
			description = $4,
			prompt = $5,
			model = $6,
			tags = $7,
			enabled = $8,
			version = version + CASE WHEN prompt IS DISTINCT FROM $5 OR model IS DISTINCT FROM $6 THEN 1 ELSE 0 END,
			updated_at = now()
		WHERE id = $1 AND organization_id = $2
		RETURNING `+skillColumns,
		s.ID, orgID, s.Name, s.Description, s.Prompt, s.Model, s.Tags, s.Enabled)
	updated, err := scanSkill(row)
	if err != nil {
		return nil, notFound(err, "skill")
	}
	return updated, nil
}

// Delete removes a skill and returns NotFound when no row matched.
func (st *SkillStore) Delete(ctx context.Context, orgID, id string) error {
	tag, err := st.db.Exec(ctx, `
		DELETE FROM skills WHERE id = $1 AND organization_id = $2`, id, orgID)
	if err != nil {
		return dbErr(err, "skill delete")
	}
	if tag.RowsAffected() == 0 {
		return kerr.New(kerr.CodeNotFoundResource, "store: skill not found")
	}
	return nil
}

// BulkAction applies enable/disable/delete to a set of the organization's
// skills and returns how many rows were affected. IDs outside the
// organization are silently skipped by the scoping predicate.
func (st *SkillStore) BulkAction(ctx context.Context, orgID string, ids []string, action models.SkillBulkAction) (int64, error) {
	if !action.Valid() {
		return 0, kerr.Newf(kerr.CodeValidation, "store: invalid bulk action %q", action)
	}
	if len(ids) == 0 {
		return 0, nil
	}

	var sql string
	switch action {
	case models.SkillBulkEnable:
		sql = `UPDATE skills SET enabled = true, updated_at = now() WHERE organization_id = $1 AND id = ANY($2)`
	case models.SkillBulkDisable:
		sql = `UPDATE skills SET enabled = false, updated_at = now() WHERE organization_id = $1 AND id = ANY($2)`
	case models.SkillBulkDelete:
		sql = `DELETE FROM skills WHERE organization_id = $1 AND id = ANY($2)`
	}

	tag, err := st.db.Exec(ctx, sql, orgID, ids)
	if err != nil {
		return 0, dbErr(err, "skill bulk action")
	}
	return tag.RowsAffected(), nil
}

// Export returns all of the organization's skills, oldest first, for the
// JSON export endpoint.
func (st *SkillStore) Export(ctx context.Context, orgID string) ([]models.Skill, error) {
	rows, err := st.db.Query(ctx, `
		SELECT `+skillColumns+` FROM skills
		WHERE organization_id = $1 ORDER BY created_at ASC`, orgID)
	if err != nil {
		return nil, dbErr(err, "skill export")
	}
	defer rows.Close()

	var items []models.Skill
	for rows.Next() {
		s, err := scanSkill(rows)
		if err != nil {
			return nil, dbErr(err, "skill scan")
		}
		items = append(items, *s)
	}
	if err := rows.Err(); err != nil {
		return nil, dbErr(err, "skill export")
	}
	return items, nil
}
