// Package core provides the API chassis for cookalert. It builds the chi
// router, applies the cross-cutting middleware (panic recovery, request IDs,
// logging, CORS, compression) and writes responses and errors in one
// consistent shape before requests reach the domain handlers.
package core

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"cookalert/internal/config"
)

// RouteRegistrar mounts a group of handlers under /api.
type RouteRegistrar func(r chi.Router)

// Server encapsulates the API dependencies so tests can inject them and each
// entry point can configure them differently.
type Server struct {
	Config    *config.Config
	Logger    *slog.Logger
	Validator *Validator

	// HealthProbes are run by GET /api/health.
	HealthProbes []HealthProbe

	// RouteRegistrars are applied inside the /api route group. They are
	// populated by the entry point to avoid an import cycle with handlers.
	RouteRegistrars []RouteRegistrar

	// Closers are released by Shutdown in order.
	Closers []io.Closer

	router *chi.Mux
}

// NewServer validates the critical dependencies and prepares an empty
// router. The caller mounts routes with MountRoutes after registering
// handlers.
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
		Validator: NewValidator(logger),
		router:    chi.NewRouter(),
	}, nil
}

// Handler returns the router as an http.Handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Router returns the underlying chi.Mux.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// Shutdown releases the registered Closers (database handles, queue
// clients). All closers run; their errors are joined.
func (s *Server) Shutdown(ctx context.Context) error {
	s.Logger.Info("server shutdown initiated")

	var errs []error
	for _, c := range s.Closers {
		if err := c.Close(); err != nil {
			s.Logger.Error("error closing resource", "error", err)
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("closing resources: %w", err)
	}

	s.Logger.Info("server shutdown complete")
	return nil
}
