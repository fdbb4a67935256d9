// Package api serves the search engine over HTTP.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/remiges-tech/prefixsearch"
	"github.com/remiges-tech/prefixsearch/internal/catalog"
	"github.com/remiges-tech/prefixsearch/internal/config"
	"github.com/remiges-tech/prefixsearch/internal/health"
	"github.com/remiges-tech/prefixsearch/internal/metrics"
)

// Deps are the collaborators of the server. Catalog and Metrics are optional.
type Deps struct {
	Engine  prefixsearch.AutoComplete
	Catalog catalog.Source
	Health  *health.Checker
	Metrics *metrics.Metrics
	Logger  *slog.Logger
}

// Server is the HTTP front of the engine.
type Server struct {
	cfg        config.ServerConfig
	router     chi.Router
	httpServer *http.Server
	deps       Deps
	logger     *slog.Logger
}

// NewServer builds the router. metricsPath is empty when metrics are disabled.
func NewServer(cfg config.ServerConfig, metricsPath string, deps Deps) *Server {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if deps.Health == nil {
		deps.Health = health.NewChecker(0, logger)
	}

	s := &Server{
		cfg:    cfg,
		deps:   deps,
		logger: logger.With("component", "api"),
	}
	s.router = s.routes(metricsPath)
	return s
}

func (s *Server) routes(metricsPath string) chi.Router {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(requestLogging(s.logger))
	r.Use(chimiddleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.cfg.AllowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-Id"},
		ExposedHeaders: []string{"X-Request-Id"},
		MaxAge:         300,
	}))
	if s.deps.Metrics != nil {
		r.Use(instrument(s.deps.Metrics))
	}

	r.Get("/health/live", s.deps.Health.LiveHandler())
	r.Get("/health/ready", s.deps.Health.ReadyHandler())
	if metricsPath != "" && s.deps.Metrics != nil {
		r.Method(http.MethodGet, metricsPath, s.deps.Metrics.Handler())
	}

	timeout := func(next http.Handler) http.Handler { return next }
	if s.cfg.RequestTimeout > 0 {
		timeout = chimiddleware.Timeout(s.cfg.RequestTimeout)
	}

	r.With(timeout).Get("/api/autocomplete", s.searchGet)

	r.Route("/api/v1", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(timeout)
			r.Get("/search", s.searchGet)
			r.Post("/search", s.searchPost)
			r.Get("/products", s.productsByName)
			r.Get("/products/{id}", s.productDetail)
			r.Put("/index", s.indexProduct)
			r.Delete("/index", s.removeProduct)
		})

		// Rebuilds run as long as the catalog takes to load.
		r.Post("/rebuild", s.rebuild)
	})

	return r
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start listens until Shutdown is called.
func (s *Server) Start() error {
	s.httpServer = &http.Server{
		Addr:              s.cfg.Addr(),
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       s.cfg.ReadTimeout,
		WriteTimeout:      s.cfg.WriteTimeout,
		IdleTimeout:       120 * time.Second,
	}

	s.logger.Info("starting HTTP server", "addr", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http server error: %w", err)
	}
	return nil
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	s.logger.Info("shutting down HTTP server")
	return s.httpServer.Shutdown(ctx)
}
