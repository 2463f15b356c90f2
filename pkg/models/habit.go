package models

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// Habit runs a skill on a recurring schedule. The schedule is a standard
// five-field cron expression evaluated in the habit's timezone; the worker
// computes NextRunAt after every run and the due-check task enqueues any
// habit whose NextRunAt has passed.
type Habit struct {
	ID      string `json:"id" db:"id"`
	OrgID   string `json:"organization_id" db:"organization_id"`
	UserID  string `json:"user_id" db:"user_id"`
	SkillID string `json:"skill_id" db:"skill_id"`
	Name    string `json:"name" db:"name"`

	// Schedule is a five-field cron expression ("0 9 * * 1-5").
	Schedule string `json:"schedule" db:"schedule"`

	// Timezone is an IANA zone name the schedule is evaluated in.
	// Empty means UTC.
	Timezone string `json:"timezone,omitempty" db:"timezone"`

	// Input holds the variables passed to the skill's prompt template on
	// every scheduled run.
	Input map[string]any `json:"input,omitempty" db:"input"`

	Enabled bool `json:"enabled" db:"enabled"`

	// NextRunAt is when the habit is next due. Nil when disabled.
	NextRunAt *time.Time `json:"next_run_at,omitempty" db:"next_run_at"`

	// LastRunAt is when the habit last executed. Nil before the first run.
	LastRunAt *time.Time `json:"last_run_at,omitempty" db:"last_run_at"`

	// RunCount and FailureCount track lifetime totals.
	RunCount     int `json:"run_count" db:"run_count"`
	FailureCount int `json:"failure_count" db:"failure_count"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// NewHabit creates an enabled Habit with a generated UUID and UTC
// timestamps. The schedule's syntax is validated by the store layer, which
// owns the cron parser.
func NewHabit(orgID, userID, skillID, name, schedule string) (*Habit, error) {
	h := &Habit{
		ID:        uuid.New().String(),
		OrgID:     orgID,
		UserID:    userID,
		SkillID:   skillID,
		Name:      name,
		Schedule:  schedule,
		Enabled:   true,
		CreatedAt: time.Now().UTC(),
	}
	h.UpdatedAt = h.CreatedAt
	if err := h.Validate(); err != nil {
		return nil, err
	}
	return h, nil
}

// Validate checks the required fields.
func (h *Habit) Validate() error {
	if h.OrgID == "" {
		return errors.New("models: habit organization ID is required")
	}
	if h.UserID == "" {
		return errors.New("models: habit user ID is required")
	}
	if h.SkillID == "" {
		return errors.New("models: habit skill ID is required")
	}
	if h.Name == "" {
		return errors.New("models: habit name is required")
	}
	if h.Schedule == "" {
		return errors.New("models: habit schedule is required")
	}
	return nil
}

// HabitStats summarizes a habit's run history.
type HabitStats struct {
	HabitID      string     `json:"habit_id"`
	RunCount     int        `json:"run_count"`
	FailureCount int        `json:"failure_count"`
	SuccessRate  float64    `json:"success_rate"`
	LastRunAt    *time.Time `json:"last_run_at,omitempty"`
	NextRunAt    *time.Time `json:"next_run_at,omitempty"`
	TokensUsed   int64      `json:"tokens_used"`
}
