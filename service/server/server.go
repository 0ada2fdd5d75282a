package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/brojonat/revolut-feed/service/config"
	"github.com/brojonat/revolut-feed/service/metrics"
	"github.com/brojonat/revolut-feed/service/temporal"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Server represents the HTTP server over stored ledger runs.
type Server struct {
	addr    string
	cfg     *config.Config
	store   RunStore
	starter temporal.ExportStarter
	metrics *metrics.Metrics
	logger  *slog.Logger
	server  *http.Server
}

// New creates a new HTTP server with the given dependencies.
// The starter is used to start export workflows; if nil, POST /api/v1/runs
// is not routed. The metrics is optional; if nil, /metrics is not routed.
func New(addr string, cfg *config.Config, store RunStore, starter temporal.ExportStarter, m *metrics.Metrics, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		addr:    addr,
		cfg:     cfg,
		store:   store,
		starter: starter,
		metrics: m,
		logger:  logger,
	}
}

// Handler returns the routed handler, wrapped with CORS.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	route := func(pattern, name string, h http.Handler) {
		if s.metrics != nil {
			h = metrics.HTTPMetricsMiddleware(s.metrics, name)(h)
		}
		mux.Handle(pattern, h)
	}

	route("GET /api/v1/runs", "/api/v1/runs", handleListRuns(s.store, s.logger))
	route("GET /api/v1/runs/{id}", "/api/v1/runs/{id}", handleGetRun(s.store, s.logger))
	route("GET /api/v1/runs/{id}/rows", "/api/v1/runs/{id}/rows", handleGetRunRows(s.store, s.logger))
	route("GET /api/v1/runs/{id}/diagnostics", "/api/v1/runs/{id}/diagnostics", handleGetRunDiagnostics(s.store, s.logger))

	if s.starter != nil {
		route("POST /api/v1/runs", "/api/v1/runs", handleStartRun(s.starter, s.cfg, s.logger))
	} else {
		s.logger.Warn("temporal client not configured, run creation disabled")
	}

	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	if s.metrics != nil {
		mux.Handle("GET /metrics", promhttp.Handler())
	}

	return corsMiddleware(mux)
}

// Start starts the HTTP server. It blocks until the server stops.
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:         s.addr,
		Handler:      s.Handler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info("starting HTTP server", "addr", s.addr)
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server failed: %w", err)
	}

	return nil
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP server")
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

// corsMiddleware adds CORS headers to all responses and handles OPTIONS preflight requests.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Max-Age", "3600")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}
