// Package server exposes the diagnostic engine and the report store over HTTP.
package server

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/mickamy/pgdiag/internal/report"
	"github.com/mickamy/pgdiag/internal/store"
)

const defaultMaxBody = 8 << 20

// Config holds the server dependencies. Store may be nil, which disables the reports endpoints.
type Config struct {
	Builder             *report.Builder
	Store               *store.Store
	Logger              *slog.Logger
	Addr                string
	ReadTimeout         time.Duration
	WriteTimeout        time.Duration
	MaxRequestBodyBytes int64
	Version             string
}

// Server is the HTTP API.
type Server struct {
	httpServer *http.Server
	handler    http.Handler
	builder    *report.Builder
	store      *store.Store
	logger     *slog.Logger
	maxBody    int64
	version    string
}

// New wires the routes.
func New(cfg Config) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	maxBody := cfg.MaxRequestBodyBytes
	if maxBody <= 0 {
		maxBody = defaultMaxBody
	}
	s := &Server{
		builder: cfg.Builder,
		store:   cfg.Store,
		logger:  logger,
		maxBody: maxBody,
		version: cfg.Version,
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.logRequests)

	r.Get("/healthz", s.handleHealth)
	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/plans/analyze", s.handleAnalyzePlan)
		r.Post("/statements/lint", s.handleLint)
		r.Post("/statements/analyze", s.handleAnalyzeStatements)
		r.Get("/rules", s.handleListRules)
		r.Get("/reports", s.handleListReports)
		r.Get("/reports/{id}", s.handleGetReport)
		r.Get("/reports/{id}/findings", s.handleReportFindings)
	})

	s.handler = r
	s.httpServer = &http.Server{
		Addr:         cfg.Addr,
		Handler:      r,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}
	return s
}

// Handler returns the router.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Start begins serving HTTP requests.
func (s *Server) Start() error {
	s.logger.Info("http server starting", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("http server shutting down")
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.InfoContext(r.Context(), "http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}
