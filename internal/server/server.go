// Package server provides the HTTP status surface: server states, tool
// summaries, a reconnect trigger, and a server-sent-event stream of
// connection progress for the presentation layer.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/switchboard-ai/switchboard/internal/event"
	"github.com/switchboard-ai/switchboard/internal/logging"
	"github.com/switchboard-ai/switchboard/internal/orchestrator"
	"github.com/switchboard-ai/switchboard/internal/transport"
)

// Config holds server configuration.
type Config struct {
	Port         int
	EnableCORS   bool
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// DefaultConfig returns default server configuration.
func DefaultConfig() *Config {
	return &Config{
		Port:        8080,
		EnableCORS:  true,
		ReadTimeout: 30 * time.Second,
		// No write timeout; SSE connections stay open.
	}
}

// Server is the HTTP server.
type Server struct {
	config  *Config
	router  *chi.Mux
	httpSrv *http.Server
	orch    *orchestrator.Orchestrator
	bus     *event.Bus
	configs []transport.ServerConfig
}

// New creates a server over an orchestrator and its event bus. The configs
// are the server set a reconnect request resubmits.
func New(cfg *Config, orch *orchestrator.Orchestrator, bus *event.Bus, configs []transport.ServerConfig) *Server {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	s := &Server{
		config:  cfg,
		router:  chi.NewRouter(),
		orch:    orch,
		bus:     bus,
		configs: configs,
	}
	s.routes()

	s.httpSrv = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      s.router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}
	return s
}

func (s *Server) routes() {
	s.router.Use(middleware.Recoverer)

	if s.config.EnableCORS {
		s.router.Use(cors.Handler(cors.Options{
			AllowedOrigins: []string{"*"},
			AllowedMethods: []string{"GET", "POST"},
			AllowedHeaders: []string{"Accept", "Content-Type"},
		}))
	}

	s.router.Get("/health", s.health)
	s.router.Route("/v1", func(r chi.Router) {
		r.Get("/servers", s.listServers)
		r.Get("/tools", s.listTools)
		r.Post("/reconnect", s.reconnect)
		r.Get("/events", s.events)
	})
}

// Handler returns the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start runs the server until the context is cancelled.
func (s *Server) Start(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		logging.Info().Int("port", s.config.Port).Msg("http server listening")
		if err := s.httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.httpSrv.Shutdown(shutdownCtx)
	}
}
