package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/arkeep-io/persona-orchestrator/internal/repository"
)

// RouterConfig holds all dependencies needed to build the HTTP router.
// Populated in cmd/orchestrator after every component is constructed,
// matching the teacher's single-struct-config router constructor.
type RouterConfig struct {
	Dispatcher  Dispatcher
	Executions  repository.ExecutionRepository
	Logger      *zap.Logger
	TeamKeyHash string // Argon2id hash guarding /api/*; empty disables auth (local dev only).
	JWTSecret   string // optional; enables ProjectScope when non-empty.
}

// NewRouter builds the Chi router: an unauthenticated /health and /metrics,
// and a team-key-guarded /api group carrying the execute/read/cancel routes.
func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(RequestLogger(cfg.Logger))
	r.Use(middleware.Recoverer)

	r.Get("/health", Health)
	r.Handle("/metrics", promhttp.Handler())

	execHandler := newExecutionHandler(cfg.Dispatcher, cfg.Executions, cfg.Logger)

	r.Route("/api", func(r chi.Router) {
		if cfg.TeamKeyHash != "" {
			r.Use(RequireTeamKey(cfg.TeamKeyHash))
		}
		r.Use(ProjectScope(cfg.JWTSecret))

		r.Post("/execute", execHandler.Execute)
		r.Get("/executions/{id}", execHandler.GetExecution)
		r.Post("/executions/{id}/cancel", execHandler.CancelExecution)
	})

	return r
}
