// Package server wires the API handlers into an http.Server with the
// middleware stack: panic recovery, security headers, request IDs, rate
// limiting, and request logging/metrics.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"pulsecast/internal/api"
	"pulsecast/internal/observability/logging"
	"pulsecast/internal/observability/metrics"
)

// Config controls the HTTP server runtime behaviour.
type Config struct {
	Addr            string
	RateLimit       RateLimitConfig
	Logger          *slog.Logger
	Metrics         *metrics.Recorder
	ShutdownTimeout time.Duration
}

// DefaultShutdownTimeout bounds graceful shutdown when the context is
// cancelled.
const DefaultShutdownTimeout = 10 * time.Second

// Server hosts the session core API.
type Server struct {
	httpServer      *http.Server
	logger          *slog.Logger
	shutdownTimeout time.Duration
}

// New assembles the route table and middleware chain.
func New(handler *api.Handler, webhooks *api.WebhookHandler, cfg Config) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	recorder := cfg.Metrics
	if recorder == nil {
		recorder = metrics.Default()
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", handler.Health)
	mux.Handle("/metrics", recorder.Handler())
	mux.HandleFunc("/api/streams", handler.Streams)
	mux.HandleFunc("/api/streams/", handler.StreamByID)
	mux.HandleFunc("/api/webhooks/ingest", webhooks.Receive)

	limiter := newRateLimiter(cfg.RateLimit)

	var root http.Handler = mux
	root = logging.RequestLogger(logger)(root)
	root = metrics.HTTPMiddleware(recorder, root)
	root = limiter.middleware(root)
	root = requestIDMiddleware(root)
	root = securityHeaders(root)
	root = recoverMiddleware(logger, root)

	addr := cfg.Addr
	if addr == "" {
		addr = ":8080"
	}
	timeout := cfg.ShutdownTimeout
	if timeout <= 0 {
		timeout = DefaultShutdownTimeout
	}
	return &Server{
		httpServer: &http.Server{
			Addr:              addr,
			Handler:           root,
			ReadHeaderTimeout: 5 * time.Second,
		},
		logger:          logger,
		shutdownTimeout: timeout,
	}
}

// Handler exposes the composed root handler, for tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Run starts the server and blocks until it stops. When the context is
// cancelled it attempts a graceful shutdown bounded by ShutdownTimeout.
func (s *Server) Run(ctx context.Context) error {
	serveErr := make(chan error, 1)
	go func() {
		serveErr <- s.httpServer.ListenAndServe()
	}()
	s.logger.Info("server listening", "addr", s.httpServer.Addr)

	select {
	case err := <-serveErr:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
	defer cancel()
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-serveErr; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
