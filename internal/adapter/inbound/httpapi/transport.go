package httpapi

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/actiongate/actiongate/internal/service"
)

// HTTPTransport is the inbound adapter that serves the evaluation API, the
// admin API, health, and metrics on a single listener.
type HTTPTransport struct {
	evals         *service.EvaluationService
	server        *http.Server
	addr          string
	logger        *slog.Logger
	adminHandler  http.Handler // Optional admin API handler, loopback-only
	metrics       *Metrics
	healthChecker *HealthChecker
	handler       http.Handler
}

// Option is a functional option for configuring HTTPTransport.
type Option func(*HTTPTransport)

// WithAddr sets the listen address for the HTTP server.
// Default is "127.0.0.1:8225" (localhost only).
func WithAddr(addr string) Option {
	return func(t *HTTPTransport) {
		t.addr = addr
	}
}

// WithLogger sets the logger for the HTTP transport.
func WithLogger(logger *slog.Logger) Option {
	return func(t *HTTPTransport) {
		t.logger = logger
	}
}

// WithAdminHandler mounts the admin API under /admin/api/. The handler is
// always wrapped in the loopback-only guard.
func WithAdminHandler(h http.Handler) Option {
	return func(t *HTTPTransport) {
		t.adminHandler = h
	}
}

// WithHealthChecker sets the health checker for the /health endpoint.
func WithHealthChecker(hc *HealthChecker) Option {
	return func(t *HTTPTransport) {
		t.healthChecker = hc
	}
}

// NewHTTPTransport creates an HTTP transport adapter wrapping the given
// evaluation service.
func NewHTTPTransport(evals *service.EvaluationService, opts ...Option) *HTTPTransport {
	t := &HTTPTransport{
		evals:  evals,
		addr:   "127.0.0.1:8225",
		logger: slog.Default(),
	}

	for _, opt := range opts {
		opt(t)
	}

	return t
}

// buildHandler assembles the full route tree with the middleware chain.
// Middleware order (outermost first):
// 1. MetricsMiddleware - record duration and status (outermost to capture full duration)
// 2. RequestID - extract/generate request ID and enrich logger
// 3. Handler - evaluation or admin API
func (t *HTTPTransport) buildHandler() http.Handler {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	t.metrics = NewMetrics(reg, func() float64 {
		return float64(t.evals.HistoryDepth())
	})

	apiHandler := NewEvaluationHandler(t.evals, t.metrics, t.logger).Routes()
	apiHandler = RequestIDMiddleware(t.logger)(apiHandler)

	mux := http.NewServeMux()
	if t.adminHandler != nil {
		admin := LoopbackOnlyMiddleware(t.adminHandler)
		admin = RequestIDMiddleware(t.logger)(admin)
		mux.Handle("/admin/api/", admin)
	}
	if t.healthChecker != nil {
		mux.Handle("/health", t.healthChecker.Handler())
	} else {
		mux.Handle("/health", healthHandler())
	}
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{
		Registry: reg,
	}))
	mux.Handle("/v1/policy/", apiHandler)

	return MetricsMiddleware(t.metrics)(mux)
}

// Handler assembles the route tree on first use and returns it. Exposed so
// tests can drive the full stack through httptest without a listener.
func (t *HTTPTransport) Handler() http.Handler {
	if t.handler == nil {
		t.handler = t.buildHandler()
	}
	return t.handler
}

// Start begins accepting HTTP connections.
// It blocks until the context is cancelled or an error occurs.
func (t *HTTPTransport) Start(ctx context.Context) error {
	t.server = &http.Server{
		Addr:    t.addr,
		Handler: t.Handler(),
	}

	errCh := make(chan error, 1)

	go func() {
		t.logger.Info("starting HTTP server", "addr", t.addr)
		err := t.server.ListenAndServe()
		if err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		t.logger.Info("context cancelled, shutting down HTTP server")
		return t.shutdown()
	case err := <-errCh:
		return err
	}
}

// Metrics returns the metrics registered by buildHandler, or nil before the
// transport has started. Used to record admin mutations from outside the
// package.
func (t *HTTPTransport) Metrics() *Metrics {
	return t.metrics
}

// shutdown performs graceful shutdown of the HTTP server.
func (t *HTTPTransport) shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := t.server.Shutdown(ctx); err != nil {
		t.logger.Error("error during server shutdown", "error", err)
		return err
	}

	t.logger.Info("HTTP server shutdown complete")
	return nil
}

// Close gracefully shuts down the transport.
func (t *HTTPTransport) Close() error {
	if t.server == nil {
		return nil
	}
	return t.shutdown()
}
