// Copyright (c) 2025 Jeremy Hahn
// Copyright (c) 2025 Automate The Things, LLC
//
// This file is part of go-passkey.
//
// go-passkey is dual-licensed:
//
// 1. GNU Affero General Public License v3.0 (AGPL-3.0)
//    See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html
//
// 2. Commercial License
//    Contact licensing@automatethethings.com for commercial licensing options.

package rest

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/jeremyhahn/go-passkey/internal/session"
	"github.com/jeremyhahn/go-passkey/pkg/health"
	"github.com/jeremyhahn/go-passkey/pkg/metrics"
	"github.com/jeremyhahn/go-passkey/pkg/passkey"
)

// Server represents the REST API server.
type Server struct {
	server      *http.Server
	service     *passkey.Service
	sessions    *session.Manager
	checker     *health.Checker
	logger      *slog.Logger
	corsOrigins []string
	port        int
}

// Config holds the REST server configuration.
type Config struct {
	// Port is the HTTP port to listen on (default: 8080)
	Port int

	// Service drives the passkey ceremonies. Required.
	Service *passkey.Service

	// Sessions carries challenges and login state between requests. Required.
	Sessions *session.Manager

	// Checker provides health probe results (optional)
	Checker *health.Checker

	// Logger is the structured logger (optional, defaults to slog.Default)
	Logger *slog.Logger

	// CORSOrigins lists origins allowed to call the API with credentials.
	// Defaults to the relying party origins from the service configuration.
	CORSOrigins []string

	// Static serves the demo UI at the root path (optional)
	Static http.Handler

	// ReadTimeout is the maximum duration for reading the entire request
	ReadTimeout time.Duration

	// WriteTimeout is the maximum duration before timing out writes
	WriteTimeout time.Duration

	// IdleTimeout is the maximum amount of time to wait for the next request
	IdleTimeout time.Duration
}

// NewServer creates a new REST API server.
func NewServer(cfg *Config) (*Server, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if cfg.Service == nil {
		return nil, fmt.Errorf("passkey service is required")
	}
	if cfg.Sessions == nil {
		return nil, fmt.Errorf("session manager is required")
	}

	// Set defaults
	if cfg.Port == 0 {
		cfg.Port = 8080
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = 15 * time.Second
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = 15 * time.Second
	}
	if cfg.IdleTimeout == 0 {
		cfg.IdleTimeout = 60 * time.Second
	}

	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}

	corsOrigins := cfg.CORSOrigins
	if len(corsOrigins) == 0 {
		corsOrigins = cfg.Service.Config().RPOrigins
	}

	server := &Server{
		service:     cfg.Service,
		sessions:    cfg.Sessions,
		checker:     cfg.Checker,
		logger:      log,
		corsOrigins: corsOrigins,
		port:        cfg.Port,
	}

	router := server.setupRouter(cfg.Static)

	server.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	return server, nil
}

// setupRouter configures the chi router with all routes and middleware.
func (s *Server) setupRouter(static http.Handler) *chi.Mux {
	r := chi.NewRouter()

	// Apply global middleware
	r.Use(s.RecoveryMiddleware())
	r.Use(s.LoggingMiddleware())
	r.Use(metrics.HTTPMiddleware)
	r.Use(s.CORSMiddleware())

	// Health endpoints (no session required)
	r.Get("/healthz", s.HealthzHandler)
	r.Head("/healthz", s.HealthzHandler)
	r.Get("/health/live", s.LivenessHandler)
	r.Get("/health/ready", s.ReadinessHandler)
	r.Get("/health/startup", s.StartupHandler)

	// Prometheus metrics
	r.Handle("/metrics", promhttp.Handler())

	// Ceremony endpoints
	r.Route("/auth", func(r chi.Router) {
		r.Post("/register/begin", s.RegisterBeginHandler)
		r.Post("/register/finish", s.RegisterFinishHandler)
		r.Post("/login/begin", s.LoginBeginHandler)
		r.Post("/login/finish", s.LoginFinishHandler)
		r.Post("/logout", s.LogoutHandler)
	})

	// Session-gated API
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(s.RequireSession())

		r.Get("/me", s.MeHandler)
		r.Post("/calc", s.CalcHandler)
	})

	// Demo UI
	if static != nil {
		r.Handle("/*", static)
	}

	return r
}

// Handler returns the server's root handler, for tests driving the full
// middleware and routing stack through httptest.
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// Start starts the REST API server.
func (s *Server) Start() error {
	s.logger.Info("Starting HTTP server", "port", s.port)

	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}
	return nil
}

// Stop gracefully stops the REST API server.
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("Shutting down server")

	if err := s.server.Shutdown(ctx); err != nil {
		s.logger.Error("Failed to shutdown server", "error", err)
		return fmt.Errorf("failed to shutdown server: %w", err)
	}

	s.logger.Info("Server stopped")
	return nil
}

// Port returns the port the server is listening on.
func (s *Server) Port() int {
	return s.port
}
