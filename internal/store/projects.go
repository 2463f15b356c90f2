package store

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/kijko-dev/kijko-api/pkg/clients/postgres"
	kerr "github.com/kijko-dev/kijko-api/pkg/errors"
	"github.com/kijko-dev/kijko-api/pkg/models"
)

// ProjectStore persists projects and their repositories, members, and
// ingested files.
type ProjectStore struct {
	db *postgres.Client
}

const projectColumns = `id, organization_id, owner_id, name, description, status, created_at, updated_at`

func scanProject(row pgx.Row) (*models.Project, error) {
	var p models.Project
	err := row.Scan(&p.ID, &p.OrgID, &p.OwnerID, &p.Name, &p.Description,
		&p.Status, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// Create inserts a new project and records its owner as the first member.
func (st *ProjectStore) Create(ctx context.Context, p *models.Project, ownerEmail string) error {
	if err := p.Validate(); err != nil {
		return kerr.Wrap(err, kerr.CodeValidation, "store: invalid project")
	}
	_, err := st.db.Exec(ctx, `
		INSERT INTO projects (`+projectColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		p.ID, p.OrgID, p.OwnerID, p.Name, p.Description, p.Status,
		p.CreatedAt, p.UpdatedAt)
	if err != nil {
		return dbErr(err, "project insert")
	}

	_, err = st.db.Exec(ctx, `
		INSERT INTO project_members (project_id, user_id, email, role, invited_at)
		VALUES ($1, $2, $3, $4, $5)`,
		p.ID, p.OwnerID, ownerEmail, models.MemberRoleOwner, p.CreatedAt)
	if err != nil {
		return dbErr(err, "project owner membership insert")
	}
	return nil
}

// Get loads one project scoped to the organization.
func (st *ProjectStore) Get(ctx context.Context, orgID, id string) (*models.Project, error) {
	row := st.db.QueryRow(ctx, `
		SELECT `+projectColumns+` FROM projects
		WHERE id = $1 AND organization_id = $2`, id, orgID)
	p, err := scanProject(row)
	if err != nil {
		return nil, notFound(err, "project")
	}
	return p, nil
}

// List returns the organization's projects, newest first. Archived projects
// are included; callers filter client-side if needed.
func (st *ProjectStore) List(ctx context.Context, orgID string, page models.PageParams) (models.Paginated[models.Project], error) {
	page = page.Normalize()
	var zero models.Paginated[models.Project]

	var total int64
	if err := st.db.QueryRow(ctx,
		`SELECT count(*) FROM projects WHERE organization_id = $1`, orgID).Scan(&total); err != nil {
		return zero, dbErr(err, "project count")
	}

	rows, err := st.db.Query(ctx, `
		SELECT `+projectColumns+` FROM projects
		WHERE organization_id = $1 ORDER BY created_at DESC LIMIT $2 OFFSET $3`,
		orgID, page.PageSize, page.Offset())
	if err != nil {
		return zero, dbErr(err, "project list")
	}
	defer rows.Close()

	var items []models.Project
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return zero, dbErr(err, "project scan")
		}
		items = append(items, *p)
	}
	if err := rows.Err(); err != nil {
		return zero, dbErr(err, "project list")
	}
	return models.NewPaginated(items, total, page), nil
}

// Update modifies a project's name, description, and status.
func (st *ProjectStore) Update(ctx context.Context, orgID string, p *models.Project) (*models.Project, error) {
	if !p.Status.Valid() {
		return nil, kerr.Newf(kerr.CodeValidation, "store: invalid project status %q", p.Status)
	}
	row := st.db.QueryRow(ctx, `
		UPDATE projects SET
			name = $3,
			description = $4,
			status = $5,
			updated_at = now()
		WHERE id = $1 AND organization_id = $2
		RETURNING `+projectColumns,
		p.ID, orgID, p.Name, p.Description, p.Status)
	updated, err := scanProject(row)
	if err != nil {
		return nil, notFound(err, "project")
	}
	return updated, nil
}

// Delete removes a project. Repositories, members, and files go with it via
// ON DELETE CASCADE.
func (st *ProjectStore) Delete(ctx context.Context, orgID, id string) error {
	tag, err := st.db.Exec(ctx, `
		DELETE FROM projects WHERE id = $1 AND organization_id = $2`, id, orgID)
	if err != nil {
		return dbErr(err, "project delete")
	}
	if tag.RowsAffected() == 0 {
		return kerr.New(kerr.CodeNotFoundResource, "store: project not found")
	}
	return nil
}

const repositoryColumns = `id, project_id, url, provider, default_branch, ingestion_status, created_at`

func scanRepository(row pgx.Row) (*models.Repository, error) {
	var r models.Repository
	err := row.Scan(&r.ID, &r.ProjectID, &r.URL, &r.Provider,
		&r.DefaultBranch, &r.Ingestion, &r.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// AddRepository validates the URL, derives the provider, and links the
// repository to the project. The project lookup enforces organization
// scoping.
func (st *ProjectStore) AddRepository(ctx context.Context, orgID, projectID, rawURL, defaultBranch string) (*models.Repository, error) {
	provider, err := models.ValidateRepositoryURL(rawURL)
	if err != nil {
		return nil, kerr.Wrap(err, kerr.CodeValidation, "store: invalid repository URL")
	}
	if _, err := st.Get(ctx, orgID, projectID); err != nil {
		return nil, err
	}
	if defaultBranch == "" {
		defaultBranch = "main"
	}

	r := &models.Repository{
		ID:            uuid.New().String(),
		ProjectID:     projectID,
		URL:           rawURL,
		Provider:      provider,
		DefaultBranch: defaultBranch,
		Ingestion:     models.IngestionPending,
		CreatedAt:     time.Now().UTC(),
	}
	_, err = st.db.Exec(ctx, `
		INSERT INTO repositories (`+repositoryColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		r.ID, r.ProjectID, r.URL, r.Provider, r.DefaultBranch, r.Ingestion, r.CreatedAt)
	if err != nil {
		return nil, dbErr(err, "repository insert")
	}
	return r, nil
}

// ListRepositories returns a project's repositories, oldest first.
func (st *ProjectStore) ListRepositories(ctx context.Context, orgID, projectID string) ([]models.Repository, error) {
	if _, err := st.Get(ctx, orgID, projectID); err != nil {
		return nil, err
	}
	rows, err := st.db.Query(ctx, `
		SELECT `+repositoryColumns+` FROM repositories
		WHERE project_id = $1 ORDER BY created_at ASC`, projectID)
	if err != nil {
		return nil, dbErr(err, "repository list")
	}
	defer rows.Close()

	var items []models.Repository
	for rows.Next() {
		r, err := scanRepository(rows)
		if err != nil {
			return nil, dbErr(err, "repository scan")
		}
		items = append(items, *r)
	}
	if err := rows.Err(); err != nil {
		return nil, dbErr(err, "repository list")
	}
	return items, nil
}

// RemoveRepository unlinks a repository from a project.
func (st *ProjectStore) RemoveRepository(ctx context.Context, orgID, projectID, repoID string) error {
	if _, err := st.Get(ctx, orgID, projectID); err != nil {
		return err
	}
	tag, err := st.db.Exec(ctx, `
		DELETE FROM repositories WHERE id = $1 AND project_id = $2`, repoID, projectID)
	if err != nil {
		return dbErr(err, "repository delete")
	}
	if tag.RowsAffected() == 0 {
		return kerr.New(kerr.CodeNotFoundResource, "store: repository not found")
	}
	return nil
}

// AddMember adds a user to a project. Duplicate memberships upgrade the
// role instead of erroring.
func (st *ProjectStore) AddMember(ctx context.Context, orgID, projectID string, m *models.Member) error {
	if !m.Role.Valid() {
		return kerr.Newf(kerr.CodeValidation, "store: invalid member role %q", m.Role)
	}
	if _, err := st.Get(ctx, orgID, projectID); err != nil {
		return err
	}
	if m.InvitedAt.IsZero() {
		m.InvitedAt = time.Now().UTC()
	}
	m.ProjectID = projectID

	_, err := st.db.Exec(ctx, `
		INSERT INTO project_members (project_id, user_id, email, role, invited_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (project_id, user_id) DO UPDATE SET role = EXCLUDED.role`,
		m.ProjectID, m.UserID, m.Email, m.Role, m.InvitedAt)
	if err != nil {
		return dbErr(err, "member insert")
	}
	return nil
}

// ListMembers returns a project's members ordered by invite time.
func (st *ProjectStore) ListMembers(ctx context.Context, orgID, projectID string) ([]models.Member, error) {
	if _, err := st.Get(ctx, orgID, projectID); err != nil {
		return nil, err
	}
	rows, err := st.db.Query(ctx, `
		SELECT project_id, user_id, email, role, invited_at FROM project_members
		WHERE project_id = $1 ORDER BY invited_at ASC`, projectID)
	if err != nil {
		return nil, dbErr(err, "member list")
	}
	defer rows.Close()

	var items []models.Member
	for rows.Next() {
		var m models.Member
		if err := rows.Scan(&m.ProjectID, &m.UserID, &m.Email, &m.Role, &m.InvitedAt); err != nil {
			return nil, dbErr(err, "member scan")
		}
		items = append(items, m)
	}
	if err := rows.Err(); err != nil {
		return nil, dbErr(err, "member list")
	}
	return items, nil
}

// RemoveMember drops a user's membership. The project owner cannot be
// removed.
func (st *ProjectStore) RemoveMember(ctx context.Context, orgID, projectID, userID string) error {
	p, err := st.Get(ctx, orgID, projectID)
	if err != nil {
		return err
	}
	if p.OwnerID == userID {
		return kerr.New(kerr.CodeValidation, "store: project owner cannot be removed")
	}
	tag, err := st.db.Exec(ctx, `
		DELETE FROM project_members WHERE project_id = $1 AND user_id = $2`,
		projectID, userID)
	if err != nil {
		return dbErr(err, "member delete")
	}
	if tag.RowsAffected() == 0 {
		return kerr.New(kerr.CodeNotFoundResource, "store: member not found")
	}
	return nil
}

// IngestionProgress summarizes file ingestion across a project's
// repositories: completed when all repositories finished, failed when any
// failed, running when any is still in flight, otherwise pending.
func (st *ProjectStore) IngestionProgress(ctx context.Context, orgID, projectID string) (*models.IngestionProgress, error) {
	if _, err := st.Get(ctx, orgID, projectID); err != nil {
		return nil, err
	}

	var total, failed, running, pending int
	err := st.db.QueryRow(ctx, `
		SELECT count(*),
			count(*) FILTER (WHERE ingestion_status = 'failed'),
			count(*) FILTER (WHERE ingestion_status = 'running'),
			count(*) FILTER (WHERE ingestion_status = 'pending')
		FROM repositories WHERE project_id = $1`, projectID).
		Scan(&total, &failed, &running, &pending)
	if err != nil {
		return nil, dbErr(err, "ingestion progress")
	}

	var files int
	if err := st.db.QueryRow(ctx,
		`SELECT count(*) FROM project_files WHERE project_id = $1`, projectID).Scan(&files); err != nil {
		return nil, dbErr(err, "ingestion file count")
	}

	status := models.IngestionCompleted
	switch {
	case total == 0 || pending == total:
		status = models.IngestionPending
	case failed > 0:
		status = models.IngestionFailed
	case running > 0 || pending > 0:
		status = models.IngestionRunning
	}

	return &models.IngestionProgress{
		ProjectID:      projectID,
		TotalFiles:     files,
		ProcessedFiles: files,
		Status:         status,
	}, nil
}

// ListFiles returns a project's ingested files, paginated by path order.
func (st *ProjectStore) ListFiles(ctx context.Context, orgID, projectID string, page models.PageParams) (models.Paginated[models.ProjectFile], error) {
	var zero models.Paginated[models.ProjectFile]
	if _, err := st.Get(ctx, orgID, projectID); err != nil {
		return zero, err
	}
	page = page.Normalize()

	var total int64
	if err := st.db.QueryRow(ctx,
		`SELECT count(*) FROM project_files WHERE project_id = $1`, projectID).Scan(&total); err != nil {
		return zero, dbErr(err, "file count")
	}

	rows, err := st.db.Query(ctx, `
		SELECT id, project_id, repository_id, path, size_bytes, language, ingested_at
		FROM project_files
		WHERE project_id = $1 ORDER BY path ASC LIMIT $2 OFFSET $3`,
		projectID, page.PageSize, page.Offset())
	if err != nil {
		return zero, dbErr(err, "file list")
	}
	defer rows.Close()

	var items []models.ProjectFile
	for rows.Next() {
		var f models.ProjectFile
		if err := rows.Scan(&f.ID, &f.ProjectID, &f.RepositoryID, &f.Path,
			&f.SizeBytes, &f.Language, &f.IngestedAt); err != nil {
			return zero, dbErr(err, "file scan")
		}
		items = append(items, f)
	}
	if err := rows.Err(); err != nil {
		return zero, dbErr(err, "file list")
	}
	return models.NewPaginated(items, total, page), nil
}
