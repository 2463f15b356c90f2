package models

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// Reflex runs a skill in response to an external event, delivered either
// through the event API or the reflex's webhook URL. Conditions are
// field-equality filters evaluated against the event payload; a reflex only
// fires when every condition matches.
type Reflex struct {
	ID      string `json:"id" db:"id"`
	OrgID   string `json:"organization_id" db:"organization_id"`
	UserID  string `json:"user_id" db:"user_id"`
	SkillID string `json:"skill_id" db:"skill_id"`
	Name    string `json:"name" db:"name"`

	// EventType is the event name this reflex listens for
	// (e.g., "issue.created", "deploy.finished").
	EventType string `json:"event_type" db:"event_type"`

	// Conditions maps event payload fields to required values. An empty
	// map matches every event of the right type.
	Conditions map[string]any `json:"conditions,omitempty" db:"conditions"`

	Enabled bool `json:"enabled" db:"enabled"`

	// WebhookToken authenticates webhook deliveries for this reflex. It is
	// generated at creation and never changes.
	WebhookToken string `json:"-" db:"webhook_token"`

	// TriggerCount and FailureCount track lifetime totals.
	TriggerCount int `json:"trigger_count" db:"trigger_count"`
	FailureCount int `json:"failure_count" db:"failure_count"`

	// LastTriggeredAt is when the reflex last fired. Nil before the first
	// trigger.
	LastTriggeredAt *time.Time `json:"last_triggered_at,omitempty" db:"last_triggered_at"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// NewReflex creates an enabled Reflex with a generated UUID, a fresh
// webhook token, and UTC timestamps.
func NewReflex(orgID, userID, skillID, name, eventType string, conditions map[string]any) (*Reflex, error) {
	r := &Reflex{
		ID:           uuid.New().String(),
		OrgID:        orgID,
		UserID:       userID,
		SkillID:      skillID,
		Name:         name,
		EventType:    eventType,
		Conditions:   conditions,
		Enabled:      true,
		WebhookToken: uuid.New().String(),
		CreatedAt:    time.Now().UTC(),
	}
	r.UpdatedAt = r.CreatedAt
	if err := r.Validate(); err != nil {
		return nil, err
	}
	return r, nil
}

// Validate checks the required fields.
func (r *Reflex) Validate() error {
	if r.OrgID == "" {
		return errors.New("models: reflex organization ID is required")
	}
	if r.UserID == "" {
		return errors.New("models: reflex user ID is required")
	}
	if r.SkillID == "" {
		return errors.New("models: reflex skill ID is required")
	}
	if r.Name == "" {
		return errors.New("models: reflex name is required")
	}
	if r.EventType == "" {
		return errors.New("models: reflex event type is required")
	}
	return nil
}

// Matches reports whether the event payload satisfies every condition.
// Values are compared with ==, so nested structures only match on
// identical references after JSON decoding; condition values should be
// scalars.
func (r *Reflex) Matches(payload map[string]any) bool {
	for field, want := range r.Conditions {
		got, ok := payload[field]
		if !ok || got != want {
			return false
		}
	}
	return true
}

// ReflexStats summarizes a reflex's trigger history.
type ReflexStats struct {
	ReflexID        string     `json:"reflex_id"`
	TriggerCount    int        `json:"trigger_count"`
	FailureCount    int        `json:"failure_count"`
	SuccessRate     float64    `json:"success_rate"`
	LastTriggeredAt *time.Time `json:"last_triggered_at,omitempty"`
	TokensUsed      int64      `json:"tokens_used"`
}
