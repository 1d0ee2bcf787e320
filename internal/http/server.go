// Package http exposes the routing and experimentation operations over HTTP.
package http

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/davidbz/howl/internal/config"
	"github.com/davidbz/howl/internal/http/middleware"
	"github.com/davidbz/howl/internal/observability"
)

// Server represents the HTTP server.
type Server struct {
	config      config.ServerConfig
	handler     *Handler
	middlewares middleware.Middleware
	srv         *http.Server
}

// NewServer creates a new HTTP server.
func NewServer(
	cfg *config.ServerConfig,
	handler *Handler,
	middlewares middleware.Middleware,
) *Server {
	return &Server{
		config:      *cfg,
		handler:     handler,
		middlewares: middlewares,
		srv:         nil,
	}
}

// Routes builds the route table wrapped in the middleware chain.
func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()

	// Routing.
	mux.HandleFunc("POST /v1/route", s.handler.HandleRoute)
	mux.HandleFunc("GET /v1/providers", s.handler.HandleProviders)

	// Versions.
	mux.HandleFunc("POST /v1/versions", s.handler.HandleRegisterVersion)
	mux.HandleFunc("GET /v1/versions/{domain}", s.handler.HandleListVersions)
	mux.HandleFunc("PUT /v1/versions/{domain}/{name}/traffic", s.handler.HandleSetTraffic)
	mux.HandleFunc("POST /v1/versions/{domain}/rollback", s.handler.HandleRollback)

	// Experiments.
	mux.HandleFunc("POST /v1/experiments", s.handler.HandleCreateExperiment)
	mux.HandleFunc("POST /v1/experiments/{id}/assignments", s.handler.HandleAssignVariant)
	mux.HandleFunc("POST /v1/experiments/{id}/results", s.handler.HandleRecordResult)
	mux.HandleFunc("GET /v1/experiments/{id}/results", s.handler.HandleExperimentResults)
	mux.HandleFunc("POST /v1/experiments/{id}/complete", s.handler.HandleCompleteExperiment)

	mux.HandleFunc("GET /health", s.handler.HandleHealth)

	// Apply middleware chain.
	return s.middlewares(mux)
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	// Create server with timeouts.
	s.srv = &http.Server{
		Addr:         fmt.Sprintf(":%d", s.config.Port),
		Handler:      s.Routes(),
		ReadTimeout:  time.Duration(s.config.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(s.config.WriteTimeout) * time.Second,
	}

	ctx := context.Background()
	observability.FromContext(ctx).Info("starting HTTP server", observability.Int("port", s.config.Port))

	if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server failed: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	observability.FromContext(ctx).Info("shutting down HTTP server")

	if s.srv == nil {
		return nil
	}

	if err := s.srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown server: %w", err)
	}

	return nil
}
