package queue

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"

	"github.com/hibiken/asynq"

	"github.com/kijko-dev/kijko-api/pkg/clients/redis"
	kerr "github.com/kijko-dev/kijko-api/pkg/errors"
)

// RedisOpt translates the shared redis client configuration into asynq's
// connection options, so the API and the worker point at the same broker
// the cache client uses.
func RedisOpt(cfg redis.Config) (asynq.RedisClientOpt, error) {
	if cfg.URI != "" {
		conn, err := asynq.ParseRedisURI(cfg.URI)
		if err != nil {
			return asynq.RedisClientOpt{}, kerr.Wrap(err, kerr.CodeValidation,
				"queue: failed to parse redis URI")
		}
		opt, ok := conn.(asynq.RedisClientOpt)
		if !ok {
			return asynq.RedisClientOpt{}, kerr.New(kerr.CodeValidation,
				"queue: redis URI must describe a single-node broker")
		}
		return opt, nil
	}

	opt := asynq.RedisClientOpt{
		Addr:     fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Password: cfg.Password.Value(),
		DB:       cfg.DB,
	}
	if cfg.TLSEnabled {
		opt.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	return opt, nil
}

// Enqueuer dispatches tasks to the Redis broker. The API holds one Enqueuer
// for its process lifetime.
type Enqueuer struct {
	client *asynq.Client
	logger *slog.Logger
}

// NewEnqueuer connects an Enqueuer to the broker.
func NewEnqueuer(redisOpt asynq.RedisClientOpt, logger *slog.Logger) *Enqueuer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Enqueuer{
		client: asynq.NewClient(redisOpt),
		logger: logger,
	}
}

// Close releases the broker connection.
func (e *Enqueuer) Close() error {
	return e.client.Close()
}

// EnqueueSkillExecution queues a manual skill run and returns the task ID.
func (e *Enqueuer) EnqueueSkillExecution(ctx context.Context, p SkillExecutePayload) (string, error) {
	task, err := NewSkillExecuteTask(p)
	if err != nil {
		return "", err
	}
	return e.enqueue(ctx, task)
}

// EnqueueHabitRun queues one habit run.
func (e *Enqueuer) EnqueueHabitRun(ctx context.Context, p HabitProcessPayload) (string, error) {
	task, err := NewHabitProcessTask(p)
	if err != nil {
		return "", err
	}
	return e.enqueue(ctx, task)
}

// EnqueueReflexTrigger queues one reflex firing.
func (e *Enqueuer) EnqueueReflexTrigger(ctx context.Context, p ReflexProcessPayload) (string, error) {
	task, err := NewReflexProcessTask(p)
	if err != nil {
		return "", err
	}
	return e.enqueue(ctx, task)
}

func (e *Enqueuer) enqueue(ctx context.Context, task *asynq.Task) (string, error) {
	info, err := e.client.EnqueueContext(ctx, task)
	if err != nil {
		return "", kerr.Wrapf(err, kerr.CodeUnavailableDependency, "queue: failed to enqueue %s", task.Type())
	}
	e.logger.Debug("task enqueued",
		slog.String("type", task.Type()),
		slog.String("task_id", info.ID),
		slog.String("queue", info.Queue))
	return info.ID, nil
}
