// Package server constructs and runs the parley HTTP service with helpers
// that apply sensible production defaults.
package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/parley-chat/parley/internal/broker"
	"github.com/parley-chat/parley/internal/chat"
	"github.com/parley-chat/parley/internal/registry"
)

// Deps are the external collaborators the delivery service consumes. All are
// required.
type Deps struct {
	Broker    broker.Broker
	Store     chat.MessageStore
	Directory chat.Directory
	Verifier  chat.TokenVerifier
	Logger    zerolog.Logger
}

// Server owns the connection registry and the HTTP listener. It is explicitly
// constructed and passed by handle, never ambient state, so tests can run
// isolated instances side by side.
type Server struct {
	cfg       Config
	log       zerolog.Logger
	baseLog   zerolog.Logger
	registry  *registry.Registry
	broker    broker.Broker
	store     chat.MessageStore
	directory chat.Directory
	verifier  chat.TokenVerifier
	upgrader  websocket.Upgrader
	http      *http.Server
}

// New assembles a server from config and collaborators.
func New(cfg Config, deps Deps) *Server {
	cfg = cfg.sanitized()
	log := deps.Logger.With().Str("component", "server").Logger()

	s := &Server{
		cfg:       cfg,
		log:       log,
		baseLog:   deps.Logger,
		registry:  registry.New(deps.Broker, deps.Logger),
		broker:    deps.Broker,
		store:     deps.Store,
		directory: deps.Directory,
		verifier:  deps.Verifier,
	}

	origins := newOriginPolicy(cfg.AllowedOrigins, log)
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     origins.check,
	}

	s.http = &http.Server{
		Addr:         cfg.Addr,
		Handler:      s.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// Router builds the HTTP routes. Exposed so tests can mount the handler on
// an httptest server.
func (s *Server) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Get("/healthz", s.handleHealth)
	r.Get("/ws/conversations/{conversationID}", s.handleSocket)
	return r
}

// Registry exposes the connection registry for shutdown coordination and
// tests.
func (s *Server) Registry() *registry.Registry {
	return s.registry
}

// ListenAndServe starts the HTTP listener and blocks until it exits.
// http.ErrServerClosed, returned after a graceful Shutdown, is mapped to nil.
func (s *Server) ListenAndServe() error {
	s.log.Info().Str("addr", s.cfg.Addr).Msg("server listening")
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting connections, then closes every live session and
// tears down every topic dispatcher so neither a session goroutine nor a
// broker subscription outlives the process.
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info().Msg("shutting down")

	if err := s.http.Shutdown(ctx); err != nil {
		s.log.Warn().Err(err).Msg("http shutdown error")
		return err
	}

	if err := s.registry.Close(ctx); err != nil {
		s.log.Warn().Err(err).Msg("registry shutdown error")
		return err
	}

	s.log.Info().Msg("shutdown complete")
	return nil
}
