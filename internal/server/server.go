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

// Package server assembles the passkey server from its parts: config,
// credential store, ceremony service, session manager, and the REST
// transport.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/jeremyhahn/go-passkey/internal/config"
	"github.com/jeremyhahn/go-passkey/internal/rest"
	"github.com/jeremyhahn/go-passkey/internal/session"
	"github.com/jeremyhahn/go-passkey/internal/store"
	"github.com/jeremyhahn/go-passkey/pkg/health"
	"github.com/jeremyhahn/go-passkey/pkg/metrics"
	"github.com/jeremyhahn/go-passkey/pkg/passkey"
	"github.com/jeremyhahn/go-passkey/web"
)

// Server is the assembled passkey server.
type Server struct {
	cfg       *config.Config
	rest      *rest.Server
	store     *store.Store
	checker   *health.Checker
	collector *metrics.ResourceCollector
	logger    *slog.Logger
}

// New wires together a server from the loaded configuration.
func New(cfg *config.Config) (*Server, error) {
	logger := newLogger(cfg.Logging)
	slog.SetDefault(logger)

	db, err := store.Open(store.Options{
		Driver: cfg.Storage.Driver,
		DSN:    cfg.Storage.DSN,
		Debug:  cfg.Storage.Debug,
	})
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	var tokens passkey.TokenIssuer
	if cfg.Token.Enabled {
		issuer, err := passkey.NewJWTIssuer(&passkey.JWTIssuerConfig{
			Secret:    []byte(cfg.Token.Secret),
			Issuer:    cfg.Token.Issuer,
			ExpiresIn: cfg.Token.ExpiresIn,
		})
		if err != nil {
			return nil, fmt.Errorf("token issuer: %w", err)
		}
		tokens = issuer
	}

	service, err := passkey.NewService(passkey.ServiceParams{
		Config: &passkey.Config{
			RPID:                   cfg.WebAuthn.RPID,
			RPDisplayName:          cfg.WebAuthn.RPDisplayName,
			RPOrigins:              cfg.WebAuthn.Origins,
			Timeout:                cfg.WebAuthn.Timeout,
			UserVerification:       cfg.WebAuthn.UserVerification,
			AttestationPreference:  cfg.WebAuthn.Attestation,
			ResidentKeyRequirement: cfg.WebAuthn.ResidentKey,
		},
		Store:       db,
		TokenIssuer: tokens,
	})
	if err != nil {
		return nil, fmt.Errorf("passkey service: %w", err)
	}

	sessions, err := session.NewManager(session.Options{
		Secret: []byte(cfg.Session.Secret),
		Secure: cfg.Session.Secure,
		MaxAge: cfg.Session.MaxAge,
	})
	if err != nil {
		return nil, fmt.Errorf("session manager: %w", err)
	}

	checker := health.NewChecker()
	checker.RegisterCheck("database", health.PingCheck("database", db.Ping))

	restServer, err := rest.NewServer(&rest.Config{
		Port:     cfg.Server.Port,
		Service:  service,
		Sessions: sessions,
		Checker:  checker,
		Logger:   logger,
		Static:   web.Handler(),
	})
	if err != nil {
		return nil, fmt.Errorf("rest server: %w", err)
	}

	if cfg.Metrics.Enabled {
		metrics.Enable()
	} else {
		metrics.Disable()
	}

	return &Server{
		cfg:     cfg,
		rest:    restServer,
		store:   db,
		checker: checker,
		logger:  logger,
	}, nil
}

// Run starts the server and blocks until ctx is cancelled or the listener
// fails, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	collectorCtx, cancelCollector := context.WithCancel(ctx)
	defer cancelCollector()

	if s.cfg.Metrics.Enabled {
		s.collector = metrics.NewResourceCollector(collectorCtx, 30*time.Second)
		go s.collector.Start()
	}

	errChan := make(chan error, 1)
	go func() {
		if err := s.rest.Start(); err != nil {
			errChan <- err
		}
	}()

	s.checker.MarkStarted()
	s.logger.Info("Server started",
		"port", s.rest.Port(),
		"rp_id", s.cfg.WebAuthn.RPID,
		"storage", s.cfg.Storage.Driver)

	select {
	case <-ctx.Done():
		s.logger.Info("Shutdown signal received")
	case err := <-errChan:
		return err
	}

	s.checker.MarkNotStarted()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := s.rest.Stop(shutdownCtx); err != nil {
		return err
	}
	return s.store.Close()
}

// RESTServer exposes the REST transport, for tests.
func (s *Server) RESTServer() *rest.Server {
	return s.rest
}

// newLogger builds the process logger from the logging configuration.
func newLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	if strings.ToLower(cfg.Format) == "json" {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}
