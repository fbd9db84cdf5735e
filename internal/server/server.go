// ============================================================================
// Wake - Sprachgesteuerter Chat-Zugang
// ============================================================================
//
// Package:     server
// Description: HTTP surface for chat, voice control and voice events
// Author:      Mike Stoffels
// Created:     2026-10-19
// License:     MIT
// ============================================================================

package server

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/msto63/wake/internal/dialogue"
	"github.com/msto63/wake/internal/relay"
	"github.com/msto63/wake/internal/store"
	"github.com/msto63/wake/pkg/core/health"
	"github.com/msto63/wake/pkg/core/logging"
)

// Config holds server configuration
type Config struct {
	Host              string
	Port              int
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	StaticDir         string
	KeepaliveInterval time.Duration
	Version           string
}

// DefaultConfig returns default server configuration
func DefaultConfig() Config {
	return Config{
		Host:              "127.0.0.1",
		Port:              8080,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      120 * time.Second,
		KeepaliveInterval: relay.DefaultKeepaliveInterval,
		Version:           "dev",
	}
}

// Voice controls the voice pipeline
type Voice interface {
	Start() error
	Stop()
	Running() bool
	Events() relay.Source
}

// History reads persisted transcripts
type History interface {
	Sessions(ctx context.Context, limit int) ([]store.SessionSummary, error)
	Turns(ctx context.Context, sessionID string) ([]store.Turn, error)
}

// Deps are the components the server routes to. Voice, Companion,
// History and Health are optional.
type Deps struct {
	Dialogues *dialogue.Manager
	Voice     Voice
	Companion http.Handler
	History   History
	Health    *health.Registry
	Logger    *logging.Logger
}

// Server is the wake HTTP server
type Server struct {
	httpServer *http.Server
	handler    http.Handler
	dialogues  *dialogue.Manager
	voice      Voice
	history    History
	health     *health.Registry
	chat       *relay.Relay
	events     *relay.Relay
	logger     *logging.Logger
	config     Config
}

// New creates a server
func New(cfg Config, deps Deps) (*Server, error) {
	if deps.Dialogues == nil {
		return nil, fmt.Errorf("server: dialogue manager is required")
	}
	if cfg.KeepaliveInterval <= 0 {
		cfg.KeepaliveInterval = relay.DefaultKeepaliveInterval
	}
	logger := deps.Logger
	if logger == nil {
		logger = logging.New("server")
	}
	registry := deps.Health
	if registry == nil {
		registry = health.NewRegistry("wake", cfg.Version)
	}

	s := &Server{
		dialogues: deps.Dialogues,
		voice:     deps.Voice,
		history:   deps.History,
		health:    registry,
		logger:    logger,
		config:    cfg,
		chat: relay.New(relay.Options{
			KeepaliveInterval: cfg.KeepaliveInterval,
			Interrupter:       deps.Dialogues,
			Logger:            logger.With("relay", "chat"),
		}),
		events: relay.New(relay.Options{
			KeepaliveInterval: cfg.KeepaliveInterval,
			Logger:            logger.With("relay", "voice"),
		}),
	}

	mux := http.NewServeMux()

	// Chat
	mux.HandleFunc("POST /chat", s.handleChat)
	mux.HandleFunc("POST /stop_dialogue/{id}", s.handleStopDialogue)
	mux.HandleFunc("POST /sessions", s.handleCreateSession)
	mux.HandleFunc("GET /sessions", s.handleListSessions)
	mux.HandleFunc("GET /sessions/{id}", s.handleGetSession)

	// Voice
	mux.HandleFunc("POST /start_voice", s.handleStartVoice)
	mux.HandleFunc("POST /stop_voice", s.handleStopVoice)
	mux.HandleFunc("GET /voice_events", s.handleVoiceEvents)

	// Transcripts
	mux.HandleFunc("GET /transcripts", s.handleTranscripts)
	mux.HandleFunc("GET /transcripts/{id}", s.handleTranscript)

	if deps.Companion != nil {
		mux.Handle("GET /ws", deps.Companion)
	}
	mux.Handle("GET /health", registry.Handler(5*time.Second))

	if cfg.StaticDir != "" {
		mux.Handle("GET /", noCache(http.FileServer(http.Dir(cfg.StaticDir))))
	} else {
		mux.HandleFunc("GET /{$}", s.handleRoot)
	}

	s.handler = loggingMiddleware(logger, mux)
	s.httpServer = &http.Server{
		Addr:         net.JoinHostPort(cfg.Host, fmt.Sprint(cfg.Port)),
		Handler:      s.handler,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	registry.Register(health.UsageCheck("sessions", deps.Dialogues.Usage))
	return s, nil
}

// Handler returns the routed handler including middleware
func (s *Server) Handler() http.Handler {
	return s.handler
}

// loggingMiddleware adds request logging
func loggingMiddleware(logger *logging.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		// Wrap response writer to capture status code
		wrapper := &responseWrapper{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(wrapper, r)

		logger.Info("HTTP request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", wrapper.statusCode,
			"duration", time.Since(start),
		)
	})
}

// responseWrapper wraps http.ResponseWriter to capture status code
type responseWrapper struct {
	http.ResponseWriter
	statusCode int
}

func (w *responseWrapper) WriteHeader(code int) {
	w.statusCode = code
	w.ResponseWriter.WriteHeader(code)
}

// Flush implements http.Flusher for SSE streaming support
func (w *responseWrapper) Flush() {
	if flusher, ok := w.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

// Unwrap lets http.ResponseController reach the underlying writer
func (w *responseWrapper) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}

func noCache(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Cache-Control", "no-cache")
		next.ServeHTTP(w, r)
	})
}

// Start starts the server and blocks until it stops
func (s *Server) Start() error {
	s.logger.Info("Starting wake server", "address", s.Address())
	return s.httpServer.ListenAndServe()
}

// StartAsync starts the server asynchronously
func (s *Server) StartAsync() error {
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.httpServer.Addr, err)
	}
	s.logger.Info("Starting wake server (async)", "address", ln.Addr().String())

	go func() {
		if err := s.httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.logger.Error("HTTP server error", "error", err)
		}
	}()
	return nil
}

// Stop stops voice capture and gracefully shuts the server down
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("Stopping wake server")

	if s.voice != nil && s.voice.Running() {
		s.voice.Stop()
	}
	s.dialogues.InterruptCurrent()

	return s.httpServer.Shutdown(ctx)
}

// Address returns the server address
func (s *Server) Address() string {
	return s.httpServer.Addr
}

// HealthRegistry returns the health check registry
func (s *Server) HealthRegistry() *health.Registry {
	return s.health
}
