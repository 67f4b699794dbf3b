// Package server provides the HTTP server that receives catalog change
// notifications and exposes health and metrics endpoints.
package server

import (
	"context"
	"net"
	"net/http"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.uber.org/multierr"

	"github.com/agentstation/dupewatch/cmd/application"
	"github.com/agentstation/dupewatch/internal/server/middleware"
	"github.com/agentstation/dupewatch/internal/webhook"
	"github.com/agentstation/dupewatch/pkg/constants"
	"github.com/agentstation/dupewatch/pkg/errors"
)

// Server holds the HTTP server state and dependencies.
type Server struct {
	app       application.Application
	webhook   *webhook.Handler
	limiter   *middleware.RateLimiter
	handler   http.Handler
	logger    *zerolog.Logger
	config    Config
	startTime time.Time

	mu         sync.Mutex
	httpServer *http.Server
}

// New creates a new server instance with the given configuration.
func New(app application.Application, cfg Config) (*Server, error) {
	logger := app.Logger()

	cfg.PathPrefix = strings.TrimRight(cfg.PathPrefix, "/")
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = DefaultConfig().ShutdownTimeout
	}

	rec, err := app.Reconciler()
	if err != nil {
		return nil, err
	}

	hook, err := webhook.New(rec,
		webhook.WithMode(cfg.WebhookMode),
		webhook.WithSecret(cfg.WebhookSecret),
		webhook.WithDedupeWindow(cfg.DedupeWindow),
		webhook.WithMetrics(app.Metrics()),
		webhook.WithReporter(app.Reporter()),
		webhook.WithLogger(logger),
	)
	if err != nil {
		return nil, errors.NewConfigError("webhook", "invalid webhook settings", err)
	}

	s := &Server{
		app:       app,
		webhook:   hook,
		logger:    logger,
		config:    cfg,
		startTime: time.Now(),
	}
	if cfg.RateLimit > 0 {
		s.limiter = middleware.NewRateLimiter(cfg.RateLimit, logger)
	}
	s.handler = s.setupRouter()

	logger.Debug().
		Str("mode", string(cfg.WebhookMode)).
		Bool("signed", cfg.WebhookSecret != "").
		Dur("dedupe_window", cfg.DedupeWindow).
		Msg("Server instance created")
	return s, nil
}

// Handler returns the configured http.Handler with middleware chain applied.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Webhook returns the webhook handler.
func (s *Server) Webhook() *webhook.Handler {
	return s.webhook
}

// StartTime returns the server start time for uptime calculations.
func (s *Server) StartTime() time.Time {
	return s.startTime
}

// Run listens on the configured address and serves until ctx is done,
// then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.config.Addr())
	if err != nil {
		return errors.NewResourceError("listen", "address", s.config.Addr(), err)
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx is done, then shuts down gracefully.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: readHeaderTimeout(s.config),
		ReadTimeout:       s.config.ReadTimeout,
		WriteTimeout:      s.config.WriteTimeout,
		IdleTimeout:       s.config.IdleTimeout,
		BaseContext:       func(net.Listener) context.Context { return context.WithoutCancel(ctx) },
	}
	s.mu.Lock()
	s.httpServer = srv
	s.mu.Unlock()

	s.logger.Info().
		Str("addr", ln.Addr().String()).
		Str("go_version", runtime.Version()).
		Str("os", runtime.GOOS).
		Str("arch", runtime.GOARCH).
		Str("prefix", s.config.PathPrefix).
		Str("mode", string(s.config.WebhookMode)).
		Msg("Webhook server listening")

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- srv.Serve(ln)
	}()

	select {
	case err := <-serveErr:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
	defer cancel()
	err := s.Shutdown(shutdownCtx)
	if serr := <-serveErr; serr != nil && !errors.Is(serr, http.ErrServerClosed) {
		err = multierr.Append(err, serr)
	}
	return err
}

// Shutdown stops accepting requests, waits for in-flight reconciliations
// and flushes pending error reports.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info().Msg("Shutting down webhook server")

	var err error

	s.mu.Lock()
	srv := s.httpServer
	s.mu.Unlock()
	if srv != nil {
		err = multierr.Append(err, srv.Shutdown(ctx))
	}

	if werr := s.webhook.Dispatcher().Wait(ctx); werr != nil {
		s.logger.Warn().Err(werr).Msg("Reconciliations still running at shutdown")
		err = multierr.Append(err, werr)
	}

	if s.limiter != nil {
		s.limiter.Stop()
	}

	timeout := time.Second
	if deadline, ok := ctx.Deadline(); ok {
		timeout = max(time.Until(deadline), 0)
	}
	if reporter := s.app.Reporter(); reporter.Enabled() && !reporter.Flush(timeout) {
		s.logger.Warn().Msg("Timed out flushing error reports")
	}

	if err == nil {
		s.logger.Info().Dur("uptime", time.Since(s.startTime)).Msg("Webhook server stopped")
	}
	return err
}

func readHeaderTimeout(cfg Config) time.Duration {
	if cfg.ReadTimeout > 0 && cfg.ReadTimeout < constants.ReadHeaderTimeout {
		return cfg.ReadTimeout
	}
	return constants.ReadHeaderTimeout
}
