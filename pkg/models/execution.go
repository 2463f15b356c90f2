// Package models defines the core data models for the Kijko platform.
//
// The models in this package represent the central data structures shared
// between the API and the background worker. They are designed for JSON
// serialization, database persistence, and queue transport.
//
// Execution Model:
//
// The [Execution] type records a single skill run — the core record the
// worker creates for every LLM invocation, whether triggered manually,
// by a habit schedule, or by a reflex event.
//
// An Execution flows through a defined lifecycle:
//
//	pending → running → completed
//	                  → failed
//	                  → canceled
//	                  → timeout
//
// Once an execution reaches a terminal state (completed, failed, canceled,
// timeout), it cannot transition to another state. The [Execution.IsTerminal]
// method identifies terminal states.
package models

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ExecutionStatus represents the lifecycle state of a skill execution.
// Executions begin in [ExecutionStatusPending] and progress through the
// lifecycle until reaching a terminal state.
type ExecutionStatus string

const (
	// ExecutionStatusPending indicates the execution has been created but
	// has not yet started processing. This is the initial state set by
	// [NewExecution].
	ExecutionStatusPending ExecutionStatus = "pending"

	// ExecutionStatusRunning indicates the execution is actively being
	// processed by a worker.
	ExecutionStatusRunning ExecutionStatus = "running"

	// ExecutionStatusCompleted indicates the execution finished
	// successfully. This is a terminal state.
	ExecutionStatusCompleted ExecutionStatus = "completed"

	// ExecutionStatusFailed indicates the execution encountered an error
	// and could not complete. This is a terminal state. The error details
	// are recorded in [Execution.ErrorMessage].
	ExecutionStatusFailed ExecutionStatus = "failed"

	// ExecutionStatusCanceled indicates the execution was canceled by a
	// user or system action before completion. This is a terminal state.
	ExecutionStatusCanceled ExecutionStatus = "canceled"

	// ExecutionStatusTimeout indicates the execution exceeded its allowed
	// time limit and was terminated. This is a terminal state.
	ExecutionStatusTimeout ExecutionStatus = "timeout"
)

// String returns the string representation of the execution status.
func (s ExecutionStatus) String() string {
	return string(s)
}

// Valid reports whether the execution status is one of the recognized values.
func (s ExecutionStatus) Valid() bool {
	switch s {
	case ExecutionStatusPending, ExecutionStatusRunning,
		ExecutionStatusCompleted, ExecutionStatusFailed,
		ExecutionStatusCanceled, ExecutionStatusTimeout:
		return true
	default:
		return false
	}
}

// IsTerminal reports whether this status represents a final state from
// which no further transitions are possible.
func (s ExecutionStatus) IsTerminal() bool {
	switch s {
	case ExecutionStatusCompleted, ExecutionStatusFailed,
		ExecutionStatusCanceled, ExecutionStatusTimeout:
		return true
	default:
		return false
	}
}

// TriggerType identifies what caused a skill execution to start.
type TriggerType string

const (
	// TriggerManual is a user-initiated run through the API.
	TriggerManual TriggerType = "manual"

	// TriggerHabit is a scheduled run fired by a habit's cron expression.
	TriggerHabit TriggerType = "habit"

	// TriggerReflex is an event-driven run fired by a reflex.
	TriggerReflex TriggerType = "reflex"
)

// Valid reports whether the trigger type is one of the recognized values.
func (t TriggerType) Valid() bool {
	switch t {
	case TriggerManual, TriggerHabit, TriggerReflex:
		return true
	default:
		return false
	}
}

// Execution records a single skill run.
//
// Every field is annotated with both JSON tags (for API serialization) and
// db tags (for database mapping). Optional fields use omitempty to exclude
// zero values from serialized output.
//
// Execution records are created via [NewExecution] and are immutable after
// creation except for status-related updates (Status, CompletedAt, Output,
// TokensUsed, ErrorMessage, UpdatedAt). Status transition validation is the
// responsibility of the worker, not this model.
type Execution struct {
	// ID is the unique identifier for this execution (UUID v4).
	ID string `json:"id" db:"id"`

	// SkillID is the skill that was executed.
	SkillID string `json:"skill_id" db:"skill_id"`

	// OrgID is the organization that owns the skill. Every execution is
	// scoped to exactly one organization.
	OrgID string `json:"organization_id" db:"organization_id"`

	// UserID is the user on whose behalf the execution ran. For habit and
	// reflex triggers this is the owner of the habit or reflex.
	UserID string `json:"user_id" db:"user_id"`

	// Trigger identifies what started the execution.
	Trigger TriggerType `json:"trigger_type" db:"trigger_type"`

	// TriggerSourceID is the ID of the habit or reflex that fired, when
	// Trigger is habit or reflex. Empty for manual runs.
	TriggerSourceID string `json:"trigger_source_id,omitempty" db:"trigger_source_id"`

	// Status is the current lifecycle state of the execution.
	Status ExecutionStatus `json:"status" db:"status"`

	// Input holds the variables the prompt template was rendered with.
	// Nil input is normalized to an empty map by [NewExecution].
	Input map[string]any `json:"input" db:"input"`

	// Output is the model's response text. Empty until completion.
	Output string `json:"output,omitempty" db:"output"`

	// Model is the LLM identifier used for this execution
	// (e.g., "claude-sonnet-4-5", "gemini-2.0-flash").
	Model string `json:"model,omitempty" db:"model"`

	// TokensUsed is the total number of tokens consumed (input + output).
	// Zero until the execution completes or reports partial usage.
	TokensUsed int `json:"tokens_used,omitempty" db:"tokens_used"`

	// DurationMS is the wall-clock run time in milliseconds, recorded when
	// the execution reaches a terminal state.
	DurationMS int64 `json:"duration_ms,omitempty" db:"duration_ms"`

	// ErrorMessage contains the error details when the execution has
	// failed. Empty for non-failed executions.
	ErrorMessage string `json:"error_message,omitempty" db:"error_message"`

	// StartedAt is the UTC timestamp when processing began.
	StartedAt time.Time `json:"started_at" db:"started_at"`

	// CompletedAt is the UTC timestamp when the execution reached a
	// terminal state. Nil while pending or running.
	CompletedAt *time.Time `json:"completed_at,omitempty" db:"completed_at"`

	// CreatedAt is the UTC timestamp when the record was created.
	CreatedAt time.Time `json:"created_at" db:"created_at"`

	// UpdatedAt is the UTC timestamp of the last modification.
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// NewExecution creates an Execution with a generated UUID, pending status,
// and UTC timestamps. The input map is initialized to an empty map when nil.
//
// Returns an error if any required field (skillID, orgID, userID) is empty
// or the trigger type is not recognized. These fields are required because
// they anchor the audit trail and cannot be meaningfully defaulted.
func NewExecution(skillID, orgID, userID string, trigger TriggerType, input map[string]any) (*Execution, error) {
	if skillID == "" {
		return nil, errors.New("models: execution skillID must not be empty")
	}
	if orgID == "" {
		return nil, errors.New("models: execution orgID must not be empty")
	}
	if userID == "" {
		return nil, errors.New("models: execution userID must not be empty")
	}
	if !trigger.Valid() {
		return nil, fmt.Errorf("models: invalid trigger type %q", trigger)
	}
	if input == nil {
		input = make(map[string]any)
	}

	now := time.Now().UTC()
	return &Execution{
		ID:        uuid.New().String(),
		SkillID:   skillID,
		OrgID:     orgID,
		UserID:    userID,
		Trigger:   trigger,
		Status:    ExecutionStatusPending,
		Input:     input,
		StartedAt: now,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

// Validate checks that all required fields are present and that the status
// and trigger are recognized values. Returns the first validation error
// encountered, or nil if the execution is valid.
func (e *Execution) Validate() error {
	if e.ID == "" {
		return errors.New("models: execution ID is required")
	}
	if e.SkillID == "" {
		return errors.New("models: execution skill ID is required")
	}
	if e.OrgID == "" {
		return errors.New("models: execution organization ID is required")
	}
	if e.UserID == "" {
		return errors.New("models: execution user ID is required")
	}
	if !e.Trigger.Valid() {
		return fmt.Errorf("models: invalid trigger type %q", e.Trigger)
	}
	if !e.Status.Valid() {
		return fmt.Errorf("models: invalid execution status %q", e.Status)
	}
	if e.StartedAt.IsZero() {
		return errors.New("models: execution started_at is required")
	}
	if e.CreatedAt.IsZero() {
		return errors.New("models: execution created_at is required")
	}
	if e.UpdatedAt.IsZero() {
		return errors.New("models: execution updated_at is required")
	}
	if e.TokensUsed < 0 {
		return fmt.Errorf("models: execution tokens_used must not be negative, got %d", e.TokensUsed)
	}
	return nil
}

// IsTerminal reports whether the execution has reached a final state from
// which no further transitions are possible.
func (e *Execution) IsTerminal() bool {
	return e.Status.IsTerminal()
}

// Duration returns the wall-clock duration of the execution. If the
// execution has a CompletedAt, the duration is calculated from StartedAt to
// CompletedAt. If the execution is still in progress (CompletedAt is nil),
// the duration is calculated from StartedAt to the current time.
//
// Returns zero if StartedAt is zero.
func (e *Execution) Duration() time.Duration {
	if e.StartedAt.IsZero() {
		return 0
	}
	if e.CompletedAt != nil {
		return e.CompletedAt.Sub(e.StartedAt)
	}
	return time.Since(e.StartedAt)
}

// Complete marks the execution as completed with the given output and
// token count, recording duration and timestamps.
func (e *Execution) Complete(output string, tokensUsed int) {
	now := time.Now().UTC()
	e.Status = ExecutionStatusCompleted
	e.Output = output
	e.TokensUsed = tokensUsed
	e.CompletedAt = &now
	e.DurationMS = now.Sub(e.StartedAt).Milliseconds()
	e.UpdatedAt = now
}

// Fail marks the execution as failed with the given error message,
// recording duration and timestamps.
func (e *Execution) Fail(errorMessage string) {
	now := time.Now().UTC()
	e.Status = ExecutionStatusFailed
	e.ErrorMessage = errorMessage
	e.CompletedAt = &now
	e.DurationMS = now.Sub(e.StartedAt).Milliseconds()
	e.UpdatedAt = now
}
