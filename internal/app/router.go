package app

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/warrant-labs/sentinel/internal/assignment"
	"github.com/warrant-labs/sentinel/internal/audit"
	"github.com/warrant-labs/sentinel/internal/directory"
	"github.com/warrant-labs/sentinel/internal/engine"
	"github.com/warrant-labs/sentinel/internal/importer"
	"github.com/warrant-labs/sentinel/internal/observability"
	"github.com/warrant-labs/sentinel/internal/policy"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger            *slog.Logger
	Config            *Config
	DirectoryHandler  *directory.Handler
	PolicyHandler     *policy.Handler
	AssignmentHandler *assignment.Handler
	EngineHandler     *engine.Handler
	AuditHandler      *audit.Handler
	ImportHandler     *importer.Handler
	Pool              *pgxpool.Pool
	Metrics           *observability.Metrics
}

// NewRouter constructs the chi.Router with Sentinel defaults. Admin and
// audit routes sit behind the bearer-token guard; the evaluation endpoint
// does not, since its callers are resource-guarding services and the
// decision itself is the protection.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger:  params.Logger,
		Config:  params.Config,
		Metrics: params.Metrics,
	}) {
		r.Use(mw)
	}

	r.Use(chimw.Logger)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if params.Pool != nil {
			if err := params.Pool.Ping(r.Context()); err != nil {
				params.Logger.Warn("healthz db ping", slog.Any("error", err))
				w.WriteHeader(http.StatusServiceUnavailable)
				_, _ = w.Write([]byte(`{"status":"degraded"}`))
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())

	r.Route("/v1", func(v1 chi.Router) {
		v1.Route("/authorize", params.EngineHandler.Mount)

		v1.Group(func(admin chi.Router) {
			admin.Use(AdminAuth(params.Config.AdminTokenHash))
			admin.Route("/users", params.DirectoryHandler.MountUsers)
			admin.Route("/groups", params.DirectoryHandler.MountGroups)
			admin.Route("/departments", params.DirectoryHandler.MountDepartments)
			admin.Route("/roles", params.PolicyHandler.MountRoles)
			admin.Route("/policies", params.PolicyHandler.MountPolicies)
			admin.Route("/assignments", params.AssignmentHandler.MountRoutes)
			admin.Route("/import", params.ImportHandler.Mount)
			admin.Route("/audit", params.AuditHandler.MountRoutes)
		})
	})

	return r
}

// Server bundles the HTTP server with its configured listener address.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer builds the http.Server around the router.
func NewServer(cfg *Config, handler http.Handler, logger *slog.Logger) *Server {
	return &Server{
		httpServer: &http.Server{
			Addr:         cfg.AppAddr,
			Handler:      handler,
			ReadTimeout:  cfg.AppReadTimeout,
			WriteTimeout: cfg.AppWriteTimeout,
		},
		logger: logger,
	}
}

// Run serves until the context is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server listening", slog.String("addr", s.httpServer.Addr))
		errCh <- s.httpServer.ListenAndServe()
	}()
	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.httpServer.WriteTimeout)
		defer cancel()
		return s.httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}
