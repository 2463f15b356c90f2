package models

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ProjectStatus is the lifecycle state of a project.
type ProjectStatus string

const (
	ProjectStatusActive   ProjectStatus = "active"
	ProjectStatusArchived ProjectStatus = "archived"
)

// Valid reports whether the project status is recognized.
func (s ProjectStatus) Valid() bool {
	return s == ProjectStatusActive || s == ProjectStatusArchived
}

// Project groups an organization's repositories, members, and ingested
// files under one working context.
type Project struct {
	ID          string        `json:"id" db:"id"`
	OrgID       string        `json:"organization_id" db:"organization_id"`
	OwnerID     string        `json:"owner_id" db:"owner_id"`
	Name        string        `json:"name" db:"name"`
	Description string        `json:"description,omitempty" db:"description"`
	Status      ProjectStatus `json:"status" db:"status"`
	CreatedAt   time.Time     `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time     `json:"updated_at" db:"updated_at"`
}

// maxProjectNameLength bounds project names.
const maxProjectNameLength = 100

// NewProject creates an active Project with a generated UUID and UTC
// timestamps.
func NewProject(orgID, ownerID, name, description string) (*Project, error) {
	p := &Project{
		ID:          uuid.New().String(),
		OrgID:       orgID,
		OwnerID:     ownerID,
		Name:        strings.TrimSpace(name),
		Description: description,
		Status:      ProjectStatusActive,
		CreatedAt:   time.Now().UTC(),
	}
	p.UpdatedAt = p.CreatedAt
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return p, nil
}

// Validate checks required fields and name constraints.
func (p *Project) Validate() error {
	if p.OrgID == "" {
		return errors.New("models: project organization ID is required")
	}
	if p.OwnerID == "" {
		return errors.New("models: project owner ID is required")
	}
	if strings.TrimSpace(p.Name) == "" {
		return errors.New("models: project name is required")
	}
	if len(p.Name) > maxProjectNameLength {
		return fmt.Errorf("models: project name must be at most %d characters", maxProjectNameLength)
	}
	if !p.Status.Valid() {
		return fmt.Errorf("models: invalid project status %q", p.Status)
	}
	return nil
}

// IngestionStatus tracks a repository's ingestion pipeline state.
type IngestionStatus string

const (
	IngestionPending   IngestionStatus = "pending"
	IngestionRunning   IngestionStatus = "running"
	IngestionCompleted IngestionStatus = "completed"
	IngestionFailed    IngestionStatus = "failed"
)

// Valid reports whether the ingestion status is recognized.
func (s IngestionStatus) Valid() bool {
	switch s {
	case IngestionPending, IngestionRunning, IngestionCompleted, IngestionFailed:
		return true
	default:
		return false
	}
}

// Repository is a source repository linked to a project.
type Repository struct {
	ID            string          `json:"id" db:"id"`
	ProjectID     string          `json:"project_id" db:"project_id"`
	URL           string          `json:"url" db:"url"`
	Provider      string          `json:"provider" db:"provider"`
	DefaultBranch string          `json:"default_branch" db:"default_branch"`
	Ingestion     IngestionStatus `json:"ingestion_status" db:"ingestion_status"`
	CreatedAt     time.Time       `json:"created_at" db:"created_at"`
}

// ValidateRepositoryURL checks that the URL is an absolute https URL to a
// known hosting provider and returns the provider name ("github",
// "gitlab", "bitbucket").
func ValidateRepositoryURL(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil || u.Scheme != "https" || u.Host == "" {
		return "", errors.New("models: repository URL must be an absolute https URL")
	}
	switch {
	case strings.HasSuffix(u.Host, "github.com"):
		return "github", nil
	case strings.HasSuffix(u.Host, "gitlab.com"):
		return "gitlab", nil
	case strings.HasSuffix(u.Host, "bitbucket.org"):
		return "bitbucket", nil
	default:
		return "", fmt.Errorf("models: unsupported repository host %q", u.Host)
	}
}

// MemberRole is a user's role within a project.
type MemberRole string

const (
	MemberRoleOwner  MemberRole = "owner"
	MemberRoleEditor MemberRole = "editor"
	MemberRoleViewer MemberRole = "viewer"
)

// Valid reports whether the member role is recognized.
func (r MemberRole) Valid() bool {
	switch r {
	case MemberRoleOwner, MemberRoleEditor, MemberRoleViewer:
		return true
	default:
		return false
	}
}

// Member is a user's membership in a project.
type Member struct {
	ProjectID string     `json:"project_id" db:"project_id"`
	UserID    string     `json:"user_id" db:"user_id"`
	Email     string     `json:"email" db:"email"`
	Role      MemberRole `json:"role" db:"role"`
	InvitedAt time.Time  `json:"invited_at" db:"invited_at"`
}

// IngestionProgress summarizes ingestion state across a project's
// repositories.
type IngestionProgress struct {
	ProjectID      string          `json:"project_id"`
	TotalFiles     int             `json:"total_files"`
	ProcessedFiles int             `json:"processed_files"`
	Status         IngestionStatus `json:"status"`
}

// ProjectFile is one ingested file belonging to a project repository.
type ProjectFile struct {
	ID           string    `json:"id" db:"id"`
	ProjectID    string    `json:"project_id" db:"project_id"`
	RepositoryID string    `json:"repository_id" db:"repository_id"`
	Path         string    `json:"path" db:"path"`
	SizeBytes    int64     `json:"size_bytes" db:"size_bytes"`
	Language     string    `json:"language,omitempty" db:"language"`
	IngestedAt   time.Time `json:"ingested_at" db:"ingested_at"`
}
