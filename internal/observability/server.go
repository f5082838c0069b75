// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 CareCircle Contributors

// Package observability provides HTTP endpoints for metrics and health checks.
package observability

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/samber/oops"

	"github.com/carecircle/carecircle/internal/auth"
)

// ReadinessChecker returns whether the service is ready to accept connections.
type ReadinessChecker func() bool

// Metrics contains the Prometheus counters for authentication outcomes.
// It implements auth.MetricsRecorder.
type Metrics struct {
	LoginsTotal        *prometheus.CounterVec
	LockoutsTotal      prometheus.Counter
	SessionsIssued     prometheus.Counter
	SessionsRefreshed  prometheus.Counter
	SessionsRevoked    prometheus.Counter
	RefreshReuseTotal  prometheus.Counter
	ExternalLogins     *prometheus.CounterVec
	SessionsSweptTotal prometheus.Counter
}

// NewMetrics creates and registers the authentication metrics.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		LoginsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "carecircle_logins_total",
				Help: "Total number of login attempts by result",
			},
			[]string{"result"},
		),
		LockoutsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "carecircle_account_lockouts_total",
			Help: "Total number of accounts locked after repeated failures",
		}),
		SessionsIssued: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "carecircle_sessions_issued_total",
			Help: "Total number of sessions issued",
		}),
		SessionsRefreshed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "carecircle_sessions_refreshed_total",
			Help: "Total number of successful refresh rotations",
		}),
		SessionsRevoked: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "carecircle_sessions_revoked_total",
			Help: "Total number of sessions revoked",
		}),
		RefreshReuseTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "carecircle_refresh_reuse_detected_total",
			Help: "Total number of replayed refresh tokens detected",
		}),
		ExternalLogins: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "carecircle_external_logins_total",
				Help: "Total number of external provider logins by provider and result",
			},
			[]string{"provider", "result"},
		),
		SessionsSweptTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "carecircle_sessions_swept_total",
			Help: "Total number of expired sessions removed by the sweeper",
		}),
	}

	reg.MustRegister(
		m.LoginsTotal,
		m.LockoutsTotal,
		m.SessionsIssued,
		m.SessionsRefreshed,
		m.SessionsRevoked,
		m.RefreshReuseTotal,
		m.ExternalLogins,
		m.SessionsSweptTotal,
	)
	return m
}

// LoginSucceeded records a successful credential login.
func (m *Metrics) LoginSucceeded() { m.LoginsTotal.WithLabelValues("success").Inc() }

// LoginFailed records a rejected credential login.
func (m *Metrics) LoginFailed() { m.LoginsTotal.WithLabelValues("failure").Inc() }

// AccountLockedOut records an account crossing the lockout threshold.
func (m *Metrics) AccountLockedOut() { m.LockoutsTotal.Inc() }

// SessionIssued records a newly issued session.
func (m *Metrics) SessionIssued() { m.SessionsIssued.Inc() }

// SessionRefreshed records a successful token rotation.
func (m *Metrics) SessionRefreshed() { m.SessionsRefreshed.Inc() }

// SessionRevoked records a revoked session.
func (m *Metrics) SessionRevoked() { m.SessionsRevoked.Inc() }

// RefreshReuseDetected records a replayed refresh token.
func (m *Metrics) RefreshReuseDetected() { m.RefreshReuseTotal.Inc() }

// ExternalLogin records a completed external provider login.
func (m *Metrics) ExternalLogin(provider string) {
	m.ExternalLogins.WithLabelValues(provider, "success").Inc()
}

// ExternalExchangeFailed records a failed provider code exchange.
func (m *Metrics) ExternalExchangeFailed(provider string) {
	m.ExternalLogins.WithLabelValues(provider, "failure").Inc()
}

// SessionsSwept records expired sessions removed by the cleanup loop.
func (m *Metrics) SessionsSwept(count int64) {
	m.SessionsSweptTotal.Add(float64(count))
}

var _ auth.MetricsRecorder = (*Metrics)(nil)

// Server provides HTTP endpoints for observability (metrics and health probes).
type Server struct {
	addr       string
	listener   net.Listener
	httpServer *http.Server
	registry   *prometheus.Registry
	metrics    *Metrics
	isReady    ReadinessChecker
	running    atomic.Bool
}

// NewServer creates a new observability server.
// addr: listen address in "host:port" format (e.g., "127.0.0.1:9100", ":9100" for all interfaces).
func NewServer(addr string, readinessChecker ReadinessChecker) *Server {
	// Create a new registry to avoid polluting the global one
	registry := prometheus.NewRegistry()

	// Register standard Go metrics
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	metrics := NewMetrics(registry)

	return &Server{
		addr:     addr,
		registry: registry,
		metrics:  metrics,
		isReady:  readinessChecker,
	}
}

// Metrics returns the counters for recording authentication events.
func (s *Server) Metrics() *Metrics {
	return s.metrics
}

// Start begins serving observability endpoints.
// It returns an error channel that will receive any errors from the HTTP server
// after it starts. The channel is closed when the server stops gracefully.
// Callers should monitor this channel to detect server failures.
func (s *Server) Start() (<-chan error, error) {
	if !s.running.CompareAndSwap(false, true) {
		return nil, oops.Errorf("observability server already running")
	}

	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		s.running.Store(false)
		return nil, oops.With("addr", s.addr).Wrap(err)
	}
	s.listener = listener

	mux := http.NewServeMux()

	// Prometheus metrics endpoint
	mux.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	}))

	// Kubernetes-style health probes
	mux.HandleFunc("/healthz/liveness", s.handleLiveness)
	mux.HandleFunc("/healthz/readiness", s.handleReadiness)

	httpSrv := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.httpServer = httpSrv

	// Create buffered error channel so the goroutine doesn't block
	errCh := make(chan error, 1)

	go func() {
		defer close(errCh)
		// Use local httpSrv to avoid race with subsequent Start() calls
		if serveErr := httpSrv.Serve(listener); serveErr != nil && serveErr != http.ErrServerClosed {
			slog.Error("observability server error", "error", serveErr)
			errCh <- serveErr
		}
	}()

	slog.Info("observability server started", "addr", listener.Addr().String())
	return errCh, nil
}

// Stop gracefully shuts down the observability server.
func (s *Server) Stop(ctx context.Context) error {
	// Use CompareAndSwap to atomically transition from running to stopped.
	// This prevents a race where a concurrent Start() could succeed between
	// checking the running state and setting it to false.
	if !s.running.CompareAndSwap(true, false) {
		return nil
	}

	if s.httpServer != nil {
		if err := s.httpServer.Shutdown(ctx); err != nil {
			// Restore running state on failure so the server can be stopped again
			s.running.Store(true)
			return oops.With("operation", "shutdown_observability_server").Wrap(err)
		}
	}

	slog.Info("observability server stopped")
	return nil
}

// Addr returns the address the server is listening on.
// Returns empty string if not running.
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return ""
}

// handleLiveness returns 200 if the process is running.
func (s *Server) handleLiveness(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	//nolint:errcheck // health check write error is acceptable, client may disconnect
	w.Write([]byte("ok\n"))
}

// handleReadiness returns 200 if the service is ready to accept connections,
// or 503 if not ready.
func (s *Server) handleReadiness(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")

	if s.isReady == nil || s.isReady() {
		w.WriteHeader(http.StatusOK)
		//nolint:errcheck // health check write error is acceptable, client may disconnect
		w.Write([]byte("ok\n"))
		return
	}

	w.WriteHeader(http.StatusServiceUnavailable)
	//nolint:errcheck // health check write error is acceptable, client may disconnect
	w.Write([]byte("not ready\n"))
}
