// Package queue defines the asynq task types exchanged between the API and
// the worker, and the Enqueuer the API uses to dispatch them. Payloads are
// JSON so tasks stay inspectable in the Redis broker.
package queue

import (
	"encoding/json"
	"time"

	"github.com/hibiken/asynq"

	kerr "github.com/kijko-dev/kijko-api/pkg/errors"
)

// Task type names. The worker mux routes on these.
const (
	TypeSkillExecute      = "skill:execute"
	TypeHabitProcess      = "habit:process"
	TypeReflexProcess     = "reflex:process"
	TypeHabitsCheckDue    = "habits:check_due"
	TypeExecutionsCleanup = "executions:cleanup"
)

// Queue names. Scheduled and event-driven work runs on the default queue;
// maintenance runs on the low queue so cleanup never delays user work.
const (
	QueueDefault = "default"
	QueueLow     = "low"
)

// SkillExecutePayload asks the worker to run one skill.
type SkillExecutePayload struct {
	SkillID string         `json:"skill_id"`
	OrgID   string         `json:"organization_id"`
	UserID  string         `json:"user_id"`
	Input   map[string]any `json:"input,omitempty"`
}

// HabitProcessPayload asks the worker to run one due habit.
type HabitProcessPayload struct {
	HabitID string `json:"habit_id"`
}

// ReflexProcessPayload asks the worker to evaluate and run one triggered
// reflex. Event carries the raw webhook payload for condition matching and
// prompt input.
type ReflexProcessPayload struct {
	ReflexID string         `json:"reflex_id"`
	Event    map[string]any `json:"event,omitempty"`
}

// CleanupPayload configures the execution retention job.
type CleanupPayload struct {
	RetentionDays int `json:"retention_days"`
}

// DefaultRetentionDays is how long execution records are kept before the
// cleanup job removes them.
const DefaultRetentionDays = 90

// NewSkillExecuteTask builds the skill execution task. Two retries with
// short backoff cover transient provider failures.
func NewSkillExecuteTask(p SkillExecutePayload) (*asynq.Task, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return nil, kerr.Wrap(err, kerr.CodeInternal, "queue: failed to encode skill payload")
	}
	return asynq.NewTask(TypeSkillExecute, data,
		asynq.MaxRetry(2),
		asynq.Timeout(5*time.Minute),
		asynq.Queue(QueueDefault),
	), nil
}

// NewHabitProcessTask builds the habit run task.
func NewHabitProcessTask(p HabitProcessPayload) (*asynq.Task, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return nil, kerr.Wrap(err, kerr.CodeInternal, "queue: failed to encode habit payload")
	}
	return asynq.NewTask(TypeHabitProcess, data,
		asynq.MaxRetry(2),
		asynq.Timeout(5*time.Minute),
		asynq.Queue(QueueDefault),
	), nil
}

// NewReflexProcessTask builds the reflex firing task. A single retry only;
// webhook events are frequent and a repeatedly failing reflex should not
// pile up work.
func NewReflexProcessTask(p ReflexProcessPayload) (*asynq.Task, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return nil, kerr.Wrap(err, kerr.CodeInternal, "queue: failed to encode reflex payload")
	}
	return asynq.NewTask(TypeReflexProcess, data,
		asynq.MaxRetry(1),
		asynq.Timeout(5*time.Minute),
		asynq.Queue(QueueDefault),
	), nil
}

// NewCheckDueHabitsTask builds the periodic due-habit scan. No payload.
func NewCheckDueHabitsTask() *asynq.Task {
	return asynq.NewTask(TypeHabitsCheckDue, nil,
		asynq.MaxRetry(0),
		asynq.Timeout(time.Minute),
		asynq.Queue(QueueDefault),
	)
}

// NewCleanupTask builds the daily execution retention job.
func NewCleanupTask(retentionDays int) (*asynq.Task, error) {
	if retentionDays <= 0 {
		retentionDays = DefaultRetentionDays
	}
	data, err := json.Marshal(CleanupPayload{RetentionDays: retentionDays})
	if err != nil {
		return nil, kerr.Wrap(err, kerr.CodeInternal, "queue: failed to encode cleanup payload")
	}
	return asynq.NewTask(TypeExecutionsCleanup, data,
		asynq.MaxRetry(1),
		asynq.Timeout(30*time.Minute),
		asynq.Queue(QueueLow),
	), nil
}
