// Package api exposes the pipeline over HTTP.
//
// Endpoints:
//
//	GET  /health          liveness probe
//	GET  /ready           readiness probe (database ping)
//	GET  /api/status      worker state, stored counts, recent errors
//	GET  /api/search      semantic search over stories or comments
//	POST /api/regenerate  start a regeneration job (202, or 409 when busy)
//	GET  /api/regenerate  running/last regeneration job
//	GET  /metrics         prometheus exposition
//
// File structure:
//   - server.go: HTTP server setup and lifecycle
//   - middleware.go: HTTP middleware (logging, recovery)
//   - health.go: health check endpoints (/health, /ready)
//   - status.go: worker status endpoint
//   - regen.go: regeneration endpoints
//   - search.go: semantic search endpoint
//   - response.go: JSON response helpers
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/hnpulse/hnpulse/internal/log"
)

const (
	// DefaultAddr is the default address for the HTTP server.
	DefaultAddr = "127.0.0.1:8420"

	// ShutdownTimeout is the maximum time to wait for graceful shutdown.
	ShutdownTimeout = 10 * time.Second

	// ReadHeaderTimeout is the timeout for reading request headers.
	ReadHeaderTimeout = 10 * time.Second

	// ReadTimeout is the maximum duration for reading the entire request.
	ReadTimeout = 30 * time.Second

	// WriteTimeout is the maximum duration for writing the response.
	WriteTimeout = 60 * time.Second

	// IdleTimeout is the maximum time to wait for the next request on
	// keep-alive connections.
	IdleTimeout = 120 * time.Second
)

// Server is the HTTP server for the pipeline's REST API.
type Server struct {
	mux    *http.ServeMux
	logger log.Logger

	health *HealthHandler
	status *StatusHandler
	regen  *RegenHandler
	search *SearchHandler
}

// NewServer creates a new HTTP server with all routes registered.
// gatherer may be nil to omit the /metrics endpoint.
func NewServer(pool *pgxpool.Pool, status StatusSource, counts CountsSource, regen Regenerator, searcher Searcher, gatherer prometheus.Gatherer, logger log.Logger) *Server {
	mux := http.NewServeMux()

	s := &Server{
		mux:    mux,
		logger: logger.With("component", "api"),
		health: NewHealthHandler(pool, logger),
		status: NewStatusHandler(status, counts, logger),
		regen:  NewRegenHandler(regen, status, logger),
		search: NewSearchHandler(searcher, logger),
	}

	s.health.RegisterRoutes(mux)
	s.status.RegisterRoutes(mux)
	s.regen.RegisterRoutes(mux)
	s.search.RegisterRoutes(mux)
	if gatherer != nil {
		mux.Handle("GET /metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	}

	return s
}

// Handler returns the HTTP handler with middleware applied.
// Middleware order: recovery → logging → handler
func (s *Server) Handler() http.Handler {
	return chain(s.mux, s.recoveryMiddleware, s.loggingMiddleware)
}

// Run starts the HTTP server and blocks until the context is cancelled.
// It handles graceful shutdown when the context is done.
func (s *Server) Run(ctx context.Context, addr string) error {
	if addr == "" {
		addr = DefaultAddr
	}

	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: ReadHeaderTimeout,
		ReadTimeout:       ReadTimeout,
		WriteTimeout:      WriteTimeout,
		IdleTimeout:       IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("starting HTTP server", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("shutting down HTTP server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}
