// File: internal/server/server.go

// Package server hosts the local control surface: interaction passthrough
// endpoints that feed the recorder, recording session controls, replay, and a
// server-sent event stream of bridge activity.
package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/klynelabs/uirunner/internal/config"
)

// Server wraps the HTTP listener around the handlers.
type Server struct {
	cfg        config.ServerConfig
	logger     *zap.Logger
	handlers   *Handlers
	httpServer *http.Server
}

// NewServer builds the local surface on the configured listen address.
func NewServer(cfg config.ServerConfig, logger *zap.Logger, handlers *Handlers) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		cfg:      cfg,
		logger:   logger.With(zap.String("component", "local_server")),
		handlers: handlers,
	}
	s.httpServer = &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           s.router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

func (s *Server) router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	// The event stream stays open indefinitely, so the timeout applies to the
	// API group only.
	r.Get("/api/v1/events", s.handlers.HandleEvents)
	r.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(120 * time.Second))
		s.handlers.RegisterRoutes(r)
	})
	return r
}

// Start blocks serving requests until Shutdown is called.
func (s *Server) Start() error {
	s.logger.Info("Local control surface listening", zap.String("addr", s.cfg.ListenAddr))
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests and stops the listener.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down local control surface")
	return s.httpServer.Shutdown(ctx)
}
