// Package server is a local fake of the job API. It lets the probe be
// smoke-tested end to end without a real inference backend.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/3leaps/jobprobe/internal/server/handlers"
	"github.com/3leaps/jobprobe/internal/server/jobs"
	"github.com/3leaps/jobprobe/internal/server/middleware"
)

// Server serves the fake job API.
type Server struct {
	host string
	port int

	token           string
	version         string
	logger          *zap.Logger
	readTimeout     time.Duration
	writeTimeout    time.Duration
	idleTimeout     time.Duration
	shutdownTimeout time.Duration

	sim      *jobs.Simulator
	registry *prometheus.Registry
	router   chi.Router
}

// Option configures a Server.
type Option func(*Server)

// WithToken requires this exact bearer token on job routes. Without it any
// non-empty bearer token is accepted.
func WithToken(token string) Option {
	return func(s *Server) { s.token = token }
}

// WithVersion sets the version reported by /health and /version.
func WithVersion(v string) Option {
	return func(s *Server) { s.version = v }
}

// WithLogger sets the request logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithTimeouts sets HTTP server timeouts. Zero values keep the defaults.
func WithTimeouts(read, write, idle, shutdown time.Duration) Option {
	return func(s *Server) {
		if read > 0 {
			s.readTimeout = read
		}
		if write > 0 {
			s.writeTimeout = write
		}
		if idle > 0 {
			s.idleTimeout = idle
		}
		if shutdown > 0 {
			s.shutdownTimeout = shutdown
		}
	}
}

// New creates a Server. A nil simulator serves DefaultModels with jobs that
// complete immediately.
func New(host string, port int, sim *jobs.Simulator, opts ...Option) *Server {
	if sim == nil {
		// The zero config is always valid.
		sim, _ = jobs.New(jobs.Config{})
	}
	s := &Server{
		host:            host,
		port:            port,
		version:         "dev",
		logger:          zap.NewNop(),
		readTimeout:     30 * time.Second,
		writeTimeout:    30 * time.Second,
		idleTimeout:     120 * time.Second,
		shutdownTimeout: 10 * time.Second,
		sim:             sim,
		registry:        prometheus.NewRegistry(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.registry.MustRegister(collectors.NewGoCollector())
	s.router = s.routes()
	return s
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recovery)
	r.Use(middleware.RequestLogger(s.logger))
	r.NotFound(middleware.NotFound)
	r.MethodNotAllowed(middleware.MethodNotAllowed)

	health := handlers.NewHealthManager(s.version)
	health.RegisterChecker("jobs", s.sim)
	r.Get("/health", health.HealthHandler)
	r.Get("/health/live", health.LivenessHandler)
	r.Get("/health/ready", health.ReadinessHandler)
	r.Get("/version", health.VersionHandler)
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))

	jh := handlers.NewJobsHandler(s.sim, s.registry)
	r.Group(func(r chi.Router) {
		r.Use(middleware.BearerAuth(s.token))
		r.Get("/models", jh.ListModels)
		r.Post("/job", jh.Submit)
		r.Get("/job/{id}", jh.Get)
	})
	return r
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Port returns the configured port.
func (s *Server) Port() int {
	return s.port
}

// Addr returns host:port.
func (s *Server) Addr() string {
	return net.JoinHostPort(s.host, strconv.Itoa(s.port))
}

// Registry exposes the metrics registry served on /metrics.
func (s *Server) Registry() *prometheus.Registry {
	return s.registry
}

// Serve listens on Addr and serves until ctx is cancelled, then shuts down
// gracefully. ready, if set, receives the bound address once listening.
func (s *Server) Serve(ctx context.Context, ready func(addr string)) error {
	ln, err := net.Listen("tcp", s.Addr())
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.Addr(), err)
	}

	srv := &http.Server{
		Handler:      s.router,
		ReadTimeout:  s.readTimeout,
		WriteTimeout: s.writeTimeout,
		IdleTimeout:  s.idleTimeout,
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()
	if ready != nil {
		ready(ln.Addr().String())
	}

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
