// Package server provides the HTTP API for Saiten.
package server

import (
	"context"
	"fmt"
	"net/http"
	"regexp"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/hyperjump/saiten/internal/chart"
	"github.com/hyperjump/saiten/internal/config"
	"github.com/hyperjump/saiten/internal/ingest"
	"github.com/hyperjump/saiten/internal/registry"
)

// Server is the HTTP server for the Saiten API.
type Server struct {
	pipeline *ingest.Pipeline
	registry registry.Registry
	renderer *chart.Renderer
	parsing   config.ParsingConfig
	idPattern *regexp.Regexp
	config    *config.ServerConfig
	logger    *zap.Logger
	server    *http.Server
}

// NewServer creates a server with the given dependencies.
func NewServer(
	pipeline *ingest.Pipeline,
	reg registry.Registry,
	renderer *chart.Renderer,
	parsing config.ParsingConfig,
	cfg *config.ServerConfig,
	logger *zap.Logger,
) *Server {
	config.ApplyParsingDefaults(&parsing)
	return &Server{
		pipeline:  pipeline,
		registry:  reg,
		renderer:  renderer,
		parsing:   parsing,
		idPattern: regexp.MustCompile(fmt.Sprintf(`^\d{%d}$`, parsing.IDDigits)),
		config:    cfg,
		logger:    logger,
	}
}

// Router returns the configured API router.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(120 * time.Second))
	r.Use(middleware.Compress(5))

	r.Post("/api/v1/ingestions", s.handleIngest)
	r.Post("/api/v1/registrations", s.handleRegister)
	r.Get("/api/v1/results/{studentID}", s.handleResult)
	r.Get("/api/v1/results/{studentID}/chart", s.handleResultChart)
	r.Get("/api/v1/chart", s.handleChart)
	r.Get("/api/v1/report", s.handleReport)
	r.Get("/api/v1/status", s.handleStatus)
	r.Get("/health", s.handleHealth)

	return r
}

// Start starts the HTTP server and blocks until it stops.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.server = &http.Server{
		Addr:    addr,
		Handler: s.Router(),
	}
	s.logger.Info("Starting server", zap.String("addr", addr))
	return s.server.ListenAndServe()
}

// Stop gracefully shuts down the server.
func (s *Server) Stop(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}
