// Command kijko-api serves the Kijko HTTP API: authentication against
// Keycloak, CRUD over projects, skills, habits, and reflexes, execution
// history, and the public webhook receiver. Background work is handed to
// the broker; cmd/kijko-worker consumes it.
//
// Configuration is read from KIJKO_-prefixed environment variables, with
// an optional YAML file named by KIJKO_CONFIG_FILE.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kijko-dev/kijko-api/internal/api"
	"github.com/kijko-dev/kijko-api/internal/guard"
	"github.com/kijko-dev/kijko-api/internal/llm"
	"github.com/kijko-dev/kijko-api/internal/queue"
	"github.com/kijko-dev/kijko-api/internal/store"
	"github.com/kijko-dev/kijko-api/pkg/auth"
	"github.com/kijko-dev/kijko-api/pkg/clients/postgres"
	"github.com/kijko-dev/kijko-api/pkg/clients/redis"
	"github.com/kijko-dev/kijko-api/pkg/config"
)

type apiConfig struct {
	ListenAddr    string   `env:"LISTEN_ADDR" envDefault:":8080" yaml:"listen_addr"`
	PublicBaseURL string   `env:"PUBLIC_BASE_URL" envDefault:"http://localhost:8080" yaml:"public_base_url"`
	CORSOrigins   []string `env:"CORS_ORIGINS" envDefault:"http://localhost:3000" yaml:"cors_origins"`
	LogLevel      string   `env:"LOG_LEVEL" envDefault:"info" yaml:"log_level"`

	// DiscoveryTimeout bounds the OIDC discovery attempt at startup. The
	// server starts either way; discovery falls back to derived endpoints.
	DiscoveryTimeout time.Duration `env:"DISCOVERY_TIMEOUT" envDefault:"10s" yaml:"discovery_timeout"`
	ShutdownTimeout  time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"15s" yaml:"shutdown_timeout"`

	AnthropicAPIKey string `env:"ANTHROPIC_API_KEY" yaml:"-"`
	GeminiAPIKey    string `env:"GEMINI_API_KEY" yaml:"-"`

	// LoginAttempts and LoginWindow shape the per-account login rate
	// limit; WebhookDedupWindow is how long accepted webhook deliveries
	// are remembered. Zero values use the guard package defaults.
	LoginAttempts      int           `env:"LOGIN_ATTEMPTS" yaml:"login_attempts"`
	LoginWindow        time.Duration `env:"LOGIN_WINDOW" yaml:"login_window"`
	WebhookDedupWindow time.Duration `env:"WEBHOOK_DEDUP_WINDOW" yaml:"webhook_dedup_window"`

	Auth     auth.Config     `yaml:"auth"`
	Postgres postgres.Config `yaml:"postgres"`
	Redis    redis.Config    `yaml:"redis"`
}

func main() {
	cfg := config.MustLoad[apiConfig](
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

	// The cache backs the request guards and shares its configuration with
	// the broker; failing fast here beats discovering a dead broker on the
	// first enqueue.
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
	enqueuer := queue.NewEnqueuer(redisOpt, logger)
	defer func() { _ = enqueuer.Close() }()

	authSvc, err := auth.NewService(cfg.Auth, logger)
	if err != nil {
		logger.Error("auth service configuration invalid", "error", err)
		os.Exit(1)
	}

	// Phase one: best-effort OIDC discovery with a bounded timeout. The
	// service serves with derived endpoint defaults if the provider is
	// unreachable; phase two is the HTTP listener below.
	discoverCtx, cancel := context.WithTimeout(ctx, cfg.DiscoveryTimeout)
	authSvc.Discover(discoverCtx)
	cancel()

	st := store.New(db)
	router := api.NewRouter(api.Deps{
		Auth:          authSvc,
		Validator:     authSvc,
		Projects:      st.Projects,
		Skills:        st.Skills,
		Habits:        st.Habits,
		Reflexes:      st.Reflexes,
		Executions:    st.Executions,
		Queue:         enqueuer,
		LLM:           newLLMRouter(cfg),
		Limiter:       guard.NewLoginLimiter(cache, cfg.LoginAttempts, cfg.LoginWindow, logger),
		Deduper:       guard.NewWebhookDeduper(cache, cfg.WebhookDedupWindow, logger),
		Logger:        logger,
		PublicBaseURL: cfg.PublicBaseURL,
		CORSOrigins:   cfg.CORSOrigins,
	})

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("api listening", "addr", cfg.ListenAddr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server failed", "error", err)
			os.Exit(1)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", "error", err)
		os.Exit(1)
	}
	logger.Info("api stopped")
}

// newLLMRouter wires whichever providers have keys configured. A missing
// provider stays nil and surfaces as a configuration error only when a
// skill actually names one of its models.
func newLLMRouter(cfg apiConfig) *llm.Router {
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
