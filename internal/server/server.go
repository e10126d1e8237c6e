// Package server exposes search and curation over an HTTP JSON API.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/dshills/bookmarks-mcp/internal/config"
	"github.com/dshills/bookmarks-mcp/internal/corpus"
	"github.com/dshills/bookmarks-mcp/internal/ingest"
	"github.com/dshills/bookmarks-mcp/internal/metrics"
	"github.com/dshills/bookmarks-mcp/internal/searcher"
	"github.com/dshills/bookmarks-mcp/internal/storage"
)

// Deps are the application components behind the API
type Deps struct {
	Searcher *searcher.Searcher
	Importer *ingest.Importer
	Store    storage.Storage
	Versions corpus.VersionSource
	Metrics  *metrics.Metrics
	Logger   *zap.Logger
}

// Server represents the HTTP server
type Server struct {
	router     *mux.Router
	httpServer *http.Server
	searcher   *searcher.Searcher
	importer   *ingest.Importer
	store      storage.Storage
	versions   corpus.VersionSource
	metrics    *metrics.Metrics
	logger     *zap.Logger
	cfg        config.ServerConfig
	metricsCfg config.MetricsConfig
}

// NewServer creates the server and its routes
func NewServer(cfg config.ServerConfig, metricsCfg config.MetricsConfig, deps Deps) (*Server, error) {
	if deps.Searcher == nil || deps.Importer == nil || deps.Store == nil {
		return nil, errors.New("http server requires a searcher, an importer and a store")
	}
	if deps.Versions == nil {
		deps.Versions = corpus.NewCounter()
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}

	router := mux.NewRouter()
	s := &Server{
		router: router,
		httpServer: &http.Server{
			Addr:         cfg.Addr,
			Handler:      router,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
		},
		searcher:   deps.Searcher,
		importer:   deps.Importer,
		store:      deps.Store,
		versions:   deps.Versions,
		metrics:    deps.Metrics,
		logger:     deps.Logger,
		cfg:        cfg,
		metricsCfg: metricsCfg,
	}
	s.setupRoutes()
	return s, nil
}

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes() {
	middlewareChain := []func(http.Handler) http.Handler{
		Recovery(s.logger),
		RequestID,
		Logging(s.logger),
		Instrument(s.metrics),
	}
	if s.cfg.RateLimitRPS > 0 {
		limiter := NewRateLimiter(s.cfg.RateLimitRPS, s.cfg.RateLimitBurst, s.logger)
		middlewareChain = append(middlewareChain, limiter.Limit)
	}
	s.router.Use(Chain(middlewareChain...))

	s.router.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	if s.metricsCfg.Enabled && s.metrics != nil {
		path := s.metricsCfg.Path
		if path == "" {
			path = "/metrics"
		}
		s.router.Handle(path, s.metrics.Handler()).Methods(http.MethodGet)
	}

	// User routes are registered with full templates on the root router;
	// a subrouter would report a method mismatch as 404.
	const users = "/api/v1/users/{userID:[0-9]+}"
	s.router.HandleFunc(users+"/search", s.handleSearch).Methods(http.MethodGet)
	s.router.HandleFunc(users+"/status", s.handleStatus).Methods(http.MethodGet)
	s.router.HandleFunc(users+"/bookmarks", s.handleImport).Methods(http.MethodPost)
	s.router.HandleFunc(users+"/bookmarks/{id:[0-9]+}", s.handleDelete).Methods(http.MethodDelete)
	s.router.HandleFunc(users+"/bookmarks/{id:[0-9]+}/tags", s.handleTag).Methods(http.MethodPut)
	s.router.HandleFunc(users+"/bookmarks/{id:[0-9]+}/tags", s.handleUntag).Methods(http.MethodDelete)
	s.router.HandleFunc(users+"/reembed", s.handleReembed).Methods(http.MethodPost)

	s.router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, ErrorCodeNotFound, "endpoint not found", r.Header.Get(requestIDHeader))
	})
	s.router.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, ErrorCodeInvalidRequest, "method not allowed", r.Header.Get(requestIDHeader))
	})
}

// Handler returns the routed handler with its middleware
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start serves until Shutdown is called
func (s *Server) Start() error {
	s.logger.Info("starting HTTP server", zap.String("addr", s.cfg.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}
	return nil
}

// Shutdown gracefully stops the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP server")
	return s.httpServer.Shutdown(ctx)
}
