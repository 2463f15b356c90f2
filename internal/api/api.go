// Package api exposes the Kijko HTTP surface: authentication, CRUD over
// projects, skills, habits, and reflexes, execution history, and the
// public webhook receiver that fires reflexes. Handlers validate input,
// call the stores, and map coded errors onto HTTP statuses.
package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/kijko-dev/kijko-api/internal/llm"
	"github.com/kijko-dev/kijko-api/internal/queue"
	"github.com/kijko-dev/kijko-api/internal/store"
	"github.com/kijko-dev/kijko-api/pkg/auth"
	kerr "github.com/kijko-dev/kijko-api/pkg/errors"
	"github.com/kijko-dev/kijko-api/pkg/models"
)

// AuthService is the identity provider surface the auth handlers need.
// Satisfied by *auth.Service.
type AuthService interface {
	Authenticate(ctx context.Context, username, password string) (*auth.TokenResponse, error)
	RefreshToken(ctx context.Context, refreshToken string) (*auth.TokenResponse, error)
	Logout(ctx context.Context, refreshToken string)
	RegisterUser(ctx context.Context, reg auth.RegisterRequest) (*auth.TokenResponse, error)
	ExchangeCode(ctx context.Context, code, redirectURI string) (*auth.TokenResponse, error)
	OAuthRedirectURL(provider, redirectURI, state string) string
}

// ProjectsStore is the project surface used by the handlers. Satisfied by
// *store.ProjectStore.
type ProjectsStore interface {
	Create(ctx context.Context, p *models.Project, ownerEmail string) error
	Get(ctx context.Context, orgID, id string) (*models.Project, error)
	List(ctx context.Context, orgID string, page models.PageParams) (models.Paginated[models.Project], error)
	Update(ctx context.Context, orgID string, p *models.Project) (*models.Project, error)
	Delete(ctx context.Context, orgID, id string) error
	AddRepository(ctx context.Context, orgID, projectID, rawURL, defaultBranch string) (*models.Repository, error)
	ListRepositories(ctx context.Context, orgID, projectID string) ([]models.Repository, error)
	RemoveRepository(ctx context.Context, orgID, projectID, repoID string) error
	AddMember(ctx context.Context, orgID, projectID string, m *models.Member) error
	ListMembers(ctx context.Context, orgID, projectID string) ([]models.Member, error)
	RemoveMember(ctx context.Context, orgID, projectID, userID string) error
	IngestionProgress(ctx context.Context, orgID, projectID string) (*models.IngestionProgress, error)
	ListFiles(ctx context.Context, orgID, projectID string, page models.PageParams) (models.Paginated[models.ProjectFile], error)
}

// SkillsStore is the skill surface used by the handlers. Satisfied by
// *store.SkillStore.
type SkillsStore interface {
	Create(ctx context.Context, s *models.Skill) error
	Get(ctx context.Context, orgID, id string) (*models.Skill, error)
	List(ctx context.Context, orgID string, f store.SkillFilter, page models.PageParams) (models.Paginated[models.Skill], error)
	Update(ctx context.Context, orgID string, s *models.Skill) (*models.Skill, error)
	Delete(ctx context.Context, orgID, id string) error
	BulkAction(ctx context.Context, orgID string, ids []string, action models.SkillBulkAction) (int64, error)
	Export(ctx context.Context, orgID string) ([]models.Skill, error)
}

// HabitsStore is the habit surface used by the handlers. Satisfied by
// *store.HabitStore.
type HabitsStore interface {
	Create(ctx context.Context, h *models.Habit) error
	Get(ctx context.Context, orgID, id string) (*models.Habit, error)
	List(ctx context.Context, orgID string, page models.PageParams) (models.Paginated[models.Habit], error)
	Update(ctx context.Context, orgID string, h *models.Habit) (*models.Habit, error)
	Delete(ctx context.Context, orgID, id string) error
	Toggle(ctx context.Context, orgID, id string, enabled bool) (*models.Habit, error)
	Stats(ctx context.Context, orgID, id string) (*models.HabitStats, error)
}

// ReflexesStore is the reflex surface used by the handlers. Satisfied by
// *store.ReflexStore.
type ReflexesStore interface {
	Create(ctx context.Context, r *models.Reflex) error
	Get(ctx context.Context, orgID, id string) (*models.Reflex, error)
	List(ctx context.Context, orgID string, page models.PageParams) (models.Paginated[models.Reflex], error)
	Update(ctx context.Context, orgID string, r *models.Reflex) (*models.Reflex, error)
	Delete(ctx context.Context, orgID, id string) error
	Toggle(ctx context.Context, orgID, id string, enabled bool) (*models.Reflex, error)
	Stats(ctx context.Context, orgID, id string) (*models.ReflexStats, error)
	SystemGetByWebhookToken(ctx context.Context, token string) (*models.Reflex, error)
}

// ExecutionsStore is the execution surface used by the handlers. Satisfied
// by *store.ExecutionStore.
type ExecutionsStore interface {
	Get(ctx context.Context, orgID, id string) (*models.Execution, error)
	List(ctx context.Context, orgID string, f store.ExecutionFilter, page models.PageParams) (models.Paginated[models.Execution], error)
	Stats(ctx context.Context, orgID string, since time.Time) (*store.ExecutionStats, error)
	StatsBySkill(ctx context.Context, orgID string, since time.Time) ([]store.SkillUsage, error)
	StatsByPeriod(ctx context.Context, orgID string, since time.Time) ([]store.PeriodUsage, error)
}

// TaskQueue dispatches background work. Satisfied by *queue.Enqueuer.
type TaskQueue interface {
	EnqueueSkillExecution(ctx context.Context, p queue.SkillExecutePayload) (string, error)
	EnqueueReflexTrigger(ctx context.Context, p queue.ReflexProcessPayload) (string, error)
}

// Completer runs synchronous skill tests. Satisfied by *llm.Router.
type Completer interface {
	Complete(ctx context.Context, model, prompt string, params llm.Params) (*llm.Result, error)
}

// LoginLimiter throttles login attempts per account. Satisfied by
// *guard.LoginLimiter.
type LoginLimiter interface {
	Allow(ctx context.Context, email string) error
	Reset(ctx context.Context, email string)
}

// WebhookDeduper suppresses duplicate webhook deliveries. Satisfied by
// *guard.WebhookDeduper.
type WebhookDeduper interface {
	Seen(ctx context.Context, token string, body []byte) (taskID string, seen bool)
	Mark(ctx context.Context, token string, body []byte, taskID string)
}

// Deps bundles everything the router needs.
type Deps struct {
	Auth       AuthService
	Validator  auth.TokenValidator
	Projects   ProjectsStore
	Skills     SkillsStore
	Habits     HabitsStore
	Reflexes   ReflexesStore
	Executions ExecutionsStore
	Queue      TaskQueue
	LLM        Completer
	Logger     *slog.Logger

	// Limiter and Deduper are the Redis-backed request guards. Either may
	// be nil, which disables that guard.
	Limiter LoginLimiter
	Deduper WebhookDeduper

	// PublicBaseURL is the externally reachable API origin, used to build
	// webhook URLs handed to callers.
	PublicBaseURL string

	// CORSOrigins lists allowed browser origins. Empty allows none.
	CORSOrigins []string
}

type handlers struct {
	Deps
}

// NewRouter builds the chi router with all routes mounted.
func NewRouter(deps Deps) *chi.Mux {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	h := &handlers{Deps: deps}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   deps.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/health", h.health)

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/auth", func(r chi.Router) {
			r.Post("/signup", h.signup)
			r.Post("/login", h.login)
			r.Post("/refresh", h.refresh)
			r.Post("/logout", h.logout)
			r.Get("/oauth/{provider}", h.oauthRedirect)
			r.Post("/oauth/callback", h.oauthCallback)

			r.Group(func(r chi.Router) {
				r.Use(auth.RequireAuth(deps.Validator))
				r.Get("/me", h.me)
			})
		})

		// The webhook token is the sole credential for reflex firings.
		r.Post("/webhooks/{token}", h.receiveWebhook)

		r.Group(func(r chi.Router) {
			r.Use(auth.RequireAuth(deps.Validator))

			r.Route("/projects", func(r chi.Router) {
				r.Get("/", h.listProjects)
				r.Post("/", h.createProject)
				r.Post("/validate-name", h.validateProjectName)
				r.Post("/validate-repository", h.validateRepositoryURL)
				r.Route("/{projectID}", func(r chi.Router) {
					r.Get("/", h.getProject)
					r.Patch("/", h.updateProject)
					r.Delete("/", h.deleteProject)
					r.Get("/repositories", h.listRepositories)
					r.Post("/repositories", h.addRepository)
					r.Delete("/repositories/{repoID}", h.removeRepository)
					r.Get("/members", h.listMembers)
					r.Post("/members", h.addMember)
					r.Delete("/members/{userID}", h.removeMember)
					r.Post("/members/bulk-invite", h.bulkInvite)
					r.Get("/ingestion", h.ingestionProgress)
					r.Get("/files", h.listFiles)
				})
			})

			r.Route("/skills", func(r chi.Router) {
				r.Get("/", h.listSkills)
				r.Post("/", h.createSkill)
				r.Post("/test", h.testSkill)
				r.Post("/bulk", h.bulkSkillAction)
				r.Post("/import", h.importSkill)
				r.Route("/{skillID}", func(r chi.Router) {
					r.Get("/", h.getSkill)
					r.Patch("/", h.updateSkill)
					r.Delete("/", h.deleteSkill)
					r.Post("/execute", h.executeSkill)
					r.Get("/export", h.exportSkill)
				})
			})

			r.Route("/habits", func(r chi.Router) {
				r.Get("/", h.listHabits)
				r.Post("/", h.createHabit)
				r.Post("/validate-cron", h.validateCron)
				r.Route("/{habitID}", func(r chi.Router) {
					r.Get("/", h.getHabit)
					r.Patch("/", h.updateHabit)
					r.Delete("/", h.deleteHabit)
					r.Post("/toggle", h.toggleHabit)
					r.Get("/stats", h.habitStats)
				})
			})

			r.Route("/reflexes", func(r chi.Router) {
				r.Get("/", h.listReflexes)
				r.Post("/", h.createReflex)
				r.Route("/{reflexID}", func(r chi.Router) {
					r.Get("/", h.getReflex)
					r.Patch("/", h.updateReflex)
					r.Delete("/", h.deleteReflex)
					r.Post("/toggle", h.toggleReflex)
					r.Post("/test", h.testReflex)
					r.Get("/webhook", h.webhookInfo)
					r.Get("/stats", h.reflexStats)
				})
			})

			r.Route("/executions", func(r chi.Router) {
				r.Get("/", h.listExecutions)
				r.Get("/stats", h.executionStats)
				r.Get("/stats/by-skill", h.executionStatsBySkill)
				r.Get("/stats/by-period", h.executionStatsByPeriod)
				r.Get("/{executionID}", h.getExecution)
			})
		})
	})

	return r
}

func (h *handlers) health(w http.ResponseWriter, _ *http.Request) {
	respond(w, http.StatusOK, map[string]string{"status": "healthy"})
}

// respond writes a JSON body with the given status.
func respond(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// errorBody mirrors the auth middleware's error envelope.
type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// respondError maps a coded error onto its HTTP status. Uncoded errors
// become opaque 500s so internals never leak.
func (h *handlers) respondError(w http.ResponseWriter, err error) {
	ke, ok := kerr.AsError(err)
	if !ok {
		h.Logger.Error("unclassified handler error", slog.String("error", err.Error()))
		respond(w, http.StatusInternalServerError, errorBody{Error: errorDetail{
			Code:    string(kerr.CodeInternal),
			Message: "internal error",
		}})
		return
	}
	respond(w, ke.HTTPStatus(), errorBody{Error: errorDetail{
		Code:    string(ke.Code),
		Message: ke.Message,
	}})
}

// decode parses a JSON request body into dst.
func decode(r *http.Request, dst any) error {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return kerr.Wrap(err, kerr.CodeValidationFormat, "api: invalid JSON body")
	}
	return nil
}

// parsePage reads page/page_size query params; Normalize clamps them.
func parsePage(r *http.Request) models.PageParams {
	var p models.PageParams
	if v, err := strconv.Atoi(r.URL.Query().Get("page")); err == nil {
		p.Page = v
	}
	if v, err := strconv.Atoi(r.URL.Query().Get("page_size")); err == nil {
		p.PageSize = v
	}
	return p.Normalize()
}

// parseSince reads an optional RFC 3339 "since" query param.
func parseSince(r *http.Request) (time.Time, error) {
	raw := r.URL.Query().Get("since")
	if raw == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, kerr.Wrap(err, kerr.CodeValidationFormat, "api: since must be RFC 3339")
	}
	return t, nil
}

// profile pulls the authenticated identity; RequireAuth guarantees it.
func profile(r *http.Request) *auth.UserProfile {
	return auth.MustProfileFromContext(r.Context())
}
