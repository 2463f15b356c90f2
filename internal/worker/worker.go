// Package worker runs the background side of Kijko: skill executions,
// habit runs, reflex firings, and the periodic maintenance jobs. Handlers
// consume asynq tasks produced by the API (and by the scheduler) and talk
// to the database through the store's unscoped System methods, since one
// worker serves every organization.
package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"github.com/kijko-dev/kijko-api/internal/llm"
	"github.com/kijko-dev/kijko-api/internal/queue"
	"github.com/kijko-dev/kijko-api/internal/store"
	kerr "github.com/kijko-dev/kijko-api/pkg/errors"
	"github.com/kijko-dev/kijko-api/pkg/models"
)

// cleanupBatchSize bounds one archive-and-delete round of the retention job.
const cleanupBatchSize = 500

// dueHabitBatchSize bounds one due-habit scan.
const dueHabitBatchSize = 100

// SkillSource loads skills for the worker.
type SkillSource interface {
	SystemGet(ctx context.Context, id string) (*models.Skill, error)
}

// HabitSource loads and updates habits for the worker.
type HabitSource interface {
	SystemGet(ctx context.Context, id string) (*models.Habit, error)
	SystemListDue(ctx context.Context, now time.Time, limit int) ([]models.Habit, error)
	SystemRecordRun(ctx context.Context, id string, ranAt time.Time, failed bool) error
}

// ReflexSource loads and updates reflexes for the worker.
type ReflexSource interface {
	SystemGet(ctx context.Context, id string) (*models.Reflex, error)
	SystemRecordTrigger(ctx context.Context, id string, triggeredAt time.Time, failed bool) error
}

// ExecutionSink records execution outcomes and serves the retention job.
type ExecutionSink interface {
	Record(ctx context.Context, e *models.Execution) error
	SystemListOlderThan(ctx context.Context, cutoff time.Time, limit int) ([]models.Execution, error)
	SystemDelete(ctx context.Context, ids []string) (int64, error)
}

// Completer generates LLM completions. Satisfied by *llm.Router.
type Completer interface {
	Complete(ctx context.Context, model, prompt string, params llm.Params) (*llm.Result, error)
}

// Dispatcher queues follow-up tasks. Satisfied by *queue.Enqueuer.
type Dispatcher interface {
	EnqueueHabitRun(ctx context.Context, p queue.HabitProcessPayload) (string, error)
}

// ExecutionArchiver copies executions to object storage before deletion.
// Satisfied by *archive.Archiver.
type ExecutionArchiver interface {
	Archive(ctx context.Context, executions []models.Execution) error
}

// Handlers holds the task handlers and their dependencies.
type Handlers struct {
	skills     SkillSource
	habits     HabitSource
	reflexes   ReflexSource
	executions ExecutionSink
	llm        Completer
	dispatcher Dispatcher
	archiver   ExecutionArchiver
	logger     *slog.Logger
}

// New wires Handlers over the store. The archiver may be nil; the cleanup
// job then deletes without archiving.
func New(st *store.Store, completer Completer, dispatcher Dispatcher, archiver ExecutionArchiver, logger *slog.Logger) *Handlers {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handlers{
		skills:     st.Skills,
		habits:     st.Habits,
		reflexes:   st.Reflexes,
		executions: st.Executions,
		llm:        completer,
		dispatcher: dispatcher,
		archiver:   archiver,
		logger:     logger,
	}
}

// Register binds every task type to its handler.
func (h *Handlers) Register(mux *asynq.ServeMux) {
	mux.HandleFunc(queue.TypeSkillExecute, h.HandleSkillExecute)
	mux.HandleFunc(queue.TypeHabitProcess, h.HandleHabitProcess)
	mux.HandleFunc(queue.TypeReflexProcess, h.HandleReflexProcess)
	mux.HandleFunc(queue.TypeHabitsCheckDue, h.HandleCheckDueHabits)
	mux.HandleFunc(queue.TypeExecutionsCleanup, h.HandleCleanupExecutions)
}

// runSkill renders the prompt, calls the model, and records the execution.
// The returned error is the LLM failure, if any, so callers can decide
// whether to retry.
func (h *Handlers) runSkill(ctx context.Context, skill *models.Skill, e *models.Execution) error {
	e.Model = skill.EffectiveModel()
	prompt := llm.RenderPrompt(skill.Prompt, e.Input)

	result, llmErr := h.llm.Complete(ctx, e.Model, prompt, llm.Params{})
	if llmErr != nil {
		e.Fail(llmErr.Error())
	} else {
		e.Complete(result.Output, result.Usage.Total())
	}

	if err := h.executions.Record(ctx, e); err != nil {
		h.logger.Error("failed to record execution",
			slog.String("execution_id", e.ID),
			slog.String("error", err.Error()))
		if llmErr == nil {
			return err
		}
	}
	return llmErr
}

// HandleSkillExecute runs one manually triggered skill.
func (h *Handlers) HandleSkillExecute(ctx context.Context, t *asynq.Task) error {
	var p queue.SkillExecutePayload
	if err := json.Unmarshal(t.Payload(), &p); err != nil {
		return fmt.Errorf("worker: bad skill payload: %v: %w", err, asynq.SkipRetry)
	}

	skill, err := h.skills.SystemGet(ctx, p.SkillID)
	if err != nil {
		if kerr.HasCode(err, kerr.CodeNotFoundResource) {
			h.logger.Warn("skill vanished before execution", slog.String("skill_id", p.SkillID))
			return nil
		}
		return err
	}
	if !skill.Enabled {
		h.logger.Info("skipping disabled skill", slog.String("skill_id", skill.ID))
		return nil
	}

	e, err := models.NewExecution(p.SkillID, p.OrgID, p.UserID, models.TriggerManual, p.Input)
	if err != nil {
		return fmt.Errorf("worker: %v: %w", err, asynq.SkipRetry)
	}
	return h.runSkill(ctx, skill, e)
}

// HandleHabitProcess runs one due habit.
func (h *Handlers) HandleHabitProcess(ctx context.Context, t *asynq.Task) error {
	var p queue.HabitProcessPayload
	if err := json.Unmarshal(t.Payload(), &p); err != nil {
		return fmt.Errorf("worker: bad habit payload: %v: %w", err, asynq.SkipRetry)
	}

	habit, err := h.habits.SystemGet(ctx, p.HabitID)
	if err != nil {
		if kerr.HasCode(err, kerr.CodeNotFoundResource) {
			h.logger.Warn("habit vanished before run", slog.String("habit_id", p.HabitID))
			return nil
		}
		return err
	}
	if !habit.Enabled {
		h.logger.Info("skipping disabled habit", slog.String("habit_id", habit.ID))
		return nil
	}

	skill, err := h.skills.SystemGet(ctx, habit.SkillID)
	if err != nil {
		return err
	}

	e, err := models.NewExecution(habit.SkillID, habit.OrgID, habit.UserID, models.TriggerHabit, habit.Input)
	if err != nil {
		return fmt.Errorf("worker: %v: %w", err, asynq.SkipRetry)
	}
	e.TriggerSourceID = habit.ID

	ranAt := time.Now().UTC()
	runErr := h.runSkill(ctx, skill, e)
	if err := h.habits.SystemRecordRun(ctx, habit.ID, ranAt, runErr != nil); err != nil {
		h.logger.Error("failed to update habit after run",
			slog.String("habit_id", habit.ID),
			slog.String("error", err.Error()))
	}
	return runErr
}

// HandleReflexProcess evaluates one webhook delivery against its reflex.
// Deliveries whose payload does not satisfy the reflex conditions count as
// a trigger but run nothing.
func (h *Handlers) HandleReflexProcess(ctx context.Context, t *asynq.Task) error {
	var p queue.ReflexProcessPayload
	if err := json.Unmarshal(t.Payload(), &p); err != nil {
		return fmt.Errorf("worker: bad reflex payload: %v: %w", err, asynq.SkipRetry)
	}

	reflex, err := h.reflexes.SystemGet(ctx, p.ReflexID)
	if err != nil {
		if kerr.HasCode(err, kerr.CodeNotFoundResource) {
			h.logger.Warn("reflex vanished before firing", slog.String("reflex_id", p.ReflexID))
			return nil
		}
		return err
	}
	if !reflex.Enabled {
		h.logger.Info("skipping disabled reflex", slog.String("reflex_id", reflex.ID))
		return nil
	}

	triggeredAt := time.Now().UTC()
	if !reflex.Matches(p.Event) {
		h.logger.Info("reflex conditions not met", slog.String("reflex_id", reflex.ID))
		return h.reflexes.SystemRecordTrigger(ctx, reflex.ID, triggeredAt, false)
	}

	skill, err := h.skills.SystemGet(ctx, reflex.SkillID)
	if err != nil {
		return err
	}

	e, err := models.NewExecution(reflex.SkillID, reflex.OrgID, reflex.UserID, models.TriggerReflex, p.Event)
	if err != nil {
		return fmt.Errorf("worker: %v: %w", err, asynq.SkipRetry)
	}
	e.TriggerSourceID = reflex.ID

	runErr := h.runSkill(ctx, skill, e)
	if err := h.reflexes.SystemRecordTrigger(ctx, reflex.ID, triggeredAt, runErr != nil); err != nil {
		h.logger.Error("failed to update reflex after firing",
			slog.String("reflex_id", reflex.ID),
			slog.String("error", err.Error()))
	}
	return runErr
}

// HandleCheckDueHabits scans for habits past their NextRunAt and queues a
// run for each.
func (h *Handlers) HandleCheckDueHabits(ctx context.Context, _ *asynq.Task) error {
	due, err := h.habits.SystemListDue(ctx, time.Now().UTC(), dueHabitBatchSize)
	if err != nil {
		return err
	}
	if len(due) == 0 {
		return nil
	}

	dispatched := 0
	for _, habit := range due {
		if _, err := h.dispatcher.EnqueueHabitRun(ctx, queue.HabitProcessPayload{HabitID: habit.ID}); err != nil {
			h.logger.Error("failed to dispatch habit",
				slog.String("habit_id", habit.ID),
				slog.String("error", err.Error()))
			continue
		}
		dispatched++
	}
	h.logger.Info("due habits dispatched", slog.Int("count", dispatched))
	return nil
}

// HandleCleanupExecutions deletes terminal executions past the retention
// window, archiving each batch first when an archiver is configured. A
// batch is deleted only after its archive write succeeded.
func (h *Handlers) HandleCleanupExecutions(ctx context.Context, t *asynq.Task) error {
	var p queue.CleanupPayload
	if err := json.Unmarshal(t.Payload(), &p); err != nil {
		return fmt.Errorf("worker: bad cleanup payload: %v: %w", err, asynq.SkipRetry)
	}
	if p.RetentionDays <= 0 {
		p.RetentionDays = queue.DefaultRetentionDays
	}
	cutoff := time.Now().UTC().AddDate(0, 0, -p.RetentionDays)

	var deleted int64
	for {
		batch, err := h.executions.SystemListOlderThan(ctx, cutoff, cleanupBatchSize)
		if err != nil {
			return err
		}
		if len(batch) == 0 {
			break
		}

		if h.archiver != nil {
			if err := h.archiver.Archive(ctx, batch); err != nil {
				return err
			}
		}

		ids := make([]string, len(batch))
		for i := range batch {
			ids[i] = batch[i].ID
		}
		n, err := h.executions.SystemDelete(ctx, ids)
		if err != nil {
			return err
		}
		deleted += n

		if len(batch) < cleanupBatchSize {
			break
		}
	}

	h.logger.Info("execution retention applied",
		slog.Int64("deleted", deleted),
		slog.Int("retention_days", p.RetentionDays))
	return nil
}
