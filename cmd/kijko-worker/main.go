// Command kijko-worker consumes background tasks from the Redis broker:
// skill executions, habit runs, reflex firings, the periodic due-habit
// scan, and nightly execution retention. It runs the asynq server and
// scheduler side by side.
//
// Configuration is read from KIJKO_-prefixed environment variables, with
// an optional YAML file named by KIJKO_CONFIG_FILE.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"

	"github.com/kijko-dev/kijko-api/internal/archive"
	"github.com/kijko-dev/kijko-api/internal/llm"
	"github.com/kijko-dev/kijko-api/internal/queue"
	"github.com/kijko-dev/kijko-api/internal/store"
	"github.com/kijko-dev/kijko-api/internal/worker"
	kminio "github.com/kijko-dev/kijko-api/pkg/clients/minio"
	"github.com/kijko-dev/kijko-api/pkg/clients/postgres"
	"github.com/kijko-dev/kijko-api/pkg/clients/redis"
	"github.com/kijko-dev/kijko-api/pkg/config"
)

type workerConfig struct {
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info" yaml:"log_level"`
	Concurrency int    `env:"WORKER_CONCURRENCY" envDefault:"10" yaml:"concurrency"`

	// RetentionDays controls how long execution rows are kept before the
	// nightly cleanup prunes them.
	RetentionDays int `env:"RETENTION_DAYS" envDefault:"90" yaml:"retention_days"`

	// ArchiveBucket names the object-store bucket pruned executions are
	// copied to before deletion. Empty disables archival; cleanup then
	// deletes directly.
	ArchiveBucket string `env:"ARCHIVE_BUCKET" yaml:"archive_bucket"`

	AnthropicAPIKey string `env:"ANTHROPIC_API_KEY" yaml:"-"`
	GeminiAPIKey    string `env:"GEMINI_API_KEY" yaml:"-"`

	Postgres postgres.Config `yaml:"postgres"`
	Redis    redis.Config    `yaml:"redis"`
	Minio    kminio.Config   `yaml:"minio"`
}

func main() {
	cfg := config.MustLoad[workerConfig](
		config.New().WithEnvPrefix("KIJKO").WithFile(os.Getenv("KIJKO_CONFIG_FILE")),
	)

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: parseLevel(cfg.LogLevel),
	}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := postgres.NewClient(ctx, cfg.Postgres)
	if err != nil {
		logger.Error("postgres connection failed", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	cache, err := redis.NewClient(ctx, cfg.Redis)
	if err != nil {
		logger.Error("redis connection failed", "error", err)
		os.Exit(1)
	}
	defer func() { _ = cache.Close() }()

	redisOpt, err := queue.RedisOpt(cfg.Redis)
	if err != nil {
		logger.Error("broker configuration invalid", "error", err)
		os.Exit(1)
	}

	archiver, err := newArchiver(ctx, cfg, logger)
	if err != nil {
		logger.Error("archive setup failed", "error", err)
		os.Exit(1)
	}

	enqueuer := queue.NewEnqueuer(redisOpt, logger)
	defer func() { _ = enqueuer.Close() }()

	st := store.New(db)
	handlers := worker.New(st, newLLMRouter(cfg), enqueuer, archiver, logger)

	mux := asynq.NewServeMux()
	handlers.Register(mux)

	srv := asynq.NewServer(redisOpt, asynq.Config{
		Concurrency: cfg.Concurrency,
		Queues: map[string]int{
			queue.QueueDefault: 5,
			queue.QueueLow:     1,
		},
	})

	scheduler, err := worker.NewScheduler(redisOpt, cfg.RetentionDays, logger)
	if err != nil {
		logger.Error("scheduler setup failed", "error", err)
		os.Exit(1)
	}

	if err := srv.Start(mux); err != nil {
		logger.Error("worker start failed", "error", err)
		os.Exit(1)
	}
	if err := scheduler.Start(); err != nil {
		srv.Shutdown()
		logger.Error("scheduler start failed", "error", err)
		os.Exit(1)
	}
	logger.Info("worker running",
		"concurrency", cfg.Concurrency,
		"retention_days", cfg.RetentionDays,
		"archival", cfg.ArchiveBucket != "")

	<-ctx.Done()
	logger.Info("shutdown signal received")

	scheduler.Shutdown()
	srv.Shutdown()
	logger.Info("worker stopped")
}

// newArchiver builds the execution archiver when a bucket is configured.
// Returns a nil interface otherwise so cleanup skips archival entirely.
func newArchiver(ctx context.Context, cfg workerConfig, logger *slog.Logger) (worker.ExecutionArchiver, error) {
	if cfg.ArchiveBucket == "" {
		return nil, nil
	}
	mc, err := kminio.NewClient(ctx, cfg.Minio)
	if err != nil {
		return nil, err
	}
	return archive.New(ctx, mc, cfg.ArchiveBucket, logger)
}

func newLLMRouter(cfg workerConfig) *llm.Router {
	var anthropic, gemini llm.Client
	if cfg.AnthropicAPIKey != "" {
		anthropic = llm.NewAnthropicClient(llm.Secret(cfg.AnthropicAPIKey), "", nil)
	}
	if cfg.GeminiAPIKey != "" {
		gemini = llm.NewGeminiClient(llm.Secret(cfg.GeminiAPIKey), "", nil)
	}
	return llm.NewRouter(anthropic, gemini)
}

func parseLevel(s string) slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo
	}
	return level
}
