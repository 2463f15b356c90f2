package models

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// DefaultModel is the LLM used when a skill does not name one.
const DefaultModel = "claude-sonnet-4-5"

// Skill is a reusable prompt template an organization can run manually or
// wire into habits and reflexes. The prompt uses {{variable}} placeholders
// rendered from the execution input at run time.
type Skill struct {
	ID          string `json:"id" db:"id"`
	OrgID       string `json:"organization_id" db:"organization_id"`
	UserID      string `json:"user_id" db:"user_id"`
	Name        string `json:"name" db:"name"`
	Description string `json:"description,omitempty" db:"description"`

	// Prompt is the template text. Placeholders use {{name}} syntax.
	Prompt string `json:"prompt" db:"prompt"`

	// Model is the LLM identifier. Names starting with "gemini" route to
	// the Gemini client; everything else goes to Anthropic. Empty means
	// [DefaultModel].
	Model string `json:"model,omitempty" db:"model"`

	// Tags are free-form labels for filtering and export grouping.
	Tags []string `json:"tags,omitempty" db:"tags"`

	// Enabled controls whether the skill can be executed. Habits and
	// reflexes referencing a disabled skill are skipped.
	Enabled bool `json:"enabled" db:"enabled"`

	// Version increments on every update to the prompt or model.
	Version int `json:"version" db:"version"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// maxSkillNameLength bounds skill names; longer names break list views
// and export filenames.
const maxSkillNameLength = 120

// NewSkill creates an enabled version-1 Skill with a generated UUID and
// UTC timestamps.
func NewSkill(orgID, userID, name, prompt string) (*Skill, error) {
	s := &Skill{
		ID:        uuid.New().String(),
		OrgID:     orgID,
		UserID:    userID,
		Name:      strings.TrimSpace(name),
		Prompt:    prompt,
		Enabled:   true,
		Version:   1,
		CreatedAt: time.Now().UTC(),
	}
	s.UpdatedAt = s.CreatedAt
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

// Validate checks the required fields and name length.
func (s *Skill) Validate() error {
	if s.OrgID == "" {
		return errors.New("models: skill organization ID is required")
	}
	if s.UserID == "" {
		return errors.New("models: skill user ID is required")
	}
	if strings.TrimSpace(s.Name) == "" {
		return errors.New("models: skill name is required")
	}
	if len(s.Name) > maxSkillNameLength {
		return fmt.Errorf("models: skill name must be at most %d characters", maxSkillNameLength)
	}
	if strings.TrimSpace(s.Prompt) == "" {
		return errors.New("models: skill prompt is required")
	}
	return nil
}

// EffectiveModel returns the skill's model, falling back to [DefaultModel].
func (s *Skill) EffectiveModel() string {
	if s.Model == "" {
		return DefaultModel
	}
	return s.Model
}

// SkillBulkAction names an operation applied to a set of skills at once.
type SkillBulkAction string

const (
	SkillBulkEnable  SkillBulkAction = "enable"
	SkillBulkDisable SkillBulkAction = "disable"
	SkillBulkDelete  SkillBulkAction = "delete"
)

// Valid reports whether the bulk action is recognized.
func (a SkillBulkAction) Valid() bool {
	switch a {
	case SkillBulkEnable, SkillBulkDisable, SkillBulkDelete:
		return true
	default:
		return false
	}
}
