// Package core provides the API chassis for the Plainly backend. It builds
// a chi router and enforces cross-cutting concerns -- logging, request
// correlation, CORS, and error handling -- before requests reach domain
// handlers.
package core

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"plainly/internal/config"
)

// RouteRegistrar mounts one domain handler's routes onto the v1 router.
// Handler packages register themselves through the application entry point;
// the indirection avoids an import cycle between core and handlers.
type RouteRegistrar func(r chi.Router)

// Server bundles the API dependencies so tests can inject their own
// configuration, logger, and routes.
type Server struct {
	Config    *config.Config
	Logger    *slog.Logger
	Validator *Validator

	// HealthProbes are checked by GET /health. Empty means always healthy.
	HealthProbes []HealthProbe

	// V1Registrars are mounted under /v1 by MountRoutes.
	V1Registrars []RouteRegistrar

	router *chi.Mux
}

// NewServer initializes the router and validator. Routes are mounted
// separately via MountRoutes so callers can register handlers first.
func NewServer(cfg *config.Config, logger *slog.Logger) (*Server, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config must not be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger must not be nil")
	}
	return &Server{
		Config:    cfg,
		Logger:    logger,
		Validator: NewValidator(),
		router:    chi.NewRouter(),
	}, nil
}

// Handler returns the router as an http.Handler, for http.ListenAndServe
// locally and chiadapter.New on Lambda.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Router returns the underlying chi.Mux for route registration in tests.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// MountRoutes registers the global middleware chain, the /v1 API group, and
// the health check. Call after populating V1Registrars.
func (s *Server) MountRoutes() {
	s.registerGlobalMiddleware()

	s.router.Route("/v1", func(r chi.Router) {
		for _, registrar := range s.V1Registrars {
			registrar(r)
		}
	})

	s.router.Get("/health", s.HandleHealth)
}

// registerGlobalMiddleware applies middleware in strict order: the recoverer
// is outermost so it catches panics from everything below, the request ID
// must exist before the logger runs, and CORS runs last so preflights still
// carry correlation headers.
func (s *Server) registerGlobalMiddleware() {
	s.router.Use(s.Recoverer)
	s.router.Use(ContextTimeoutMiddleware(s.Config.Server.RequestTimeout))
	s.router.Use(RequestIDMiddleware)
	s.router.Use(RequestLogger(s.Logger))
	s.router.Use(NewCORSMiddleware(s.corsAllowedOrigins()))
}

func (s *Server) corsAllowedOrigins() []string {
	if len(s.Config.Server.CORSAllowedOrigins) > 0 {
		return s.Config.Server.CORSAllowedOrigins
	}
	return []string{"*"}
}

// Shutdown flushes server resources. The HTTP listener itself is owned and
// drained by the entry point.
func (s *Server) Shutdown(ctx context.Context) error {
	s.Logger.InfoContext(ctx, "server shutdown complete")
	return nil
}
