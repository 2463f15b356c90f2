package worker

import (
	"log/slog"

	"github.com/hibiken/asynq"

	"github.com/kijko-dev/kijko-api/internal/queue"
	kerr "github.com/kijko-dev/kijko-api/pkg/errors"
)

// Periodic schedules. Standard 5-field cron, evaluated in UTC.
const (
	// checkDueSchedule scans for due habits every five minutes.
	checkDueSchedule = "*/5 * * * *"
	// cleanupSchedule runs retention nightly during the quiet window.
	cleanupSchedule = "0 3 * * *"
)

// NewScheduler builds the asynq scheduler with the two periodic entries:
// the due-habit scan and the execution retention job.
func NewScheduler(redisOpt asynq.RedisClientOpt, retentionDays int, logger *slog.Logger) (*asynq.Scheduler, error) {
	if logger == nil {
		logger = slog.Default()
	}

	scheduler := asynq.NewScheduler(redisOpt, &asynq.SchedulerOpts{
		PostEnqueueFunc: func(info *asynq.TaskInfo, err error) {
			if err != nil {
				logger.Error("periodic enqueue failed", slog.String("error", err.Error()))
				return
			}
			logger.Debug("periodic task enqueued",
				slog.String("type", info.Type),
				slog.String("task_id", info.ID))
		},
	})

	if _, err := scheduler.Register(checkDueSchedule, queue.NewCheckDueHabitsTask()); err != nil {
		return nil, kerr.Wrap(err, kerr.CodeInternalConfiguration, "worker: failed to register due-habit scan")
	}

	cleanup, err := queue.NewCleanupTask(retentionDays)
	if err != nil {
		return nil, err
	}
	if _, err := scheduler.Register(cleanupSchedule, cleanup); err != nil {
		return nil, kerr.Wrap(err, kerr.CodeInternalConfiguration, "worker: failed to register retention job")
	}

	return scheduler, nil
}
