// Package app provides the application context and dependency management
// for the dupewatch CLI. It centralizes configuration, logging, the catalog
// client and the process-wide metrics and error reporter, and builds the
// cobra command tree on top of them.
package app

import (
	"context"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"

	"github.com/agentstation/dupewatch/cmd/application"
	"github.com/agentstation/dupewatch/internal/catalog/elvis"
	"github.com/agentstation/dupewatch/internal/metrics"
	"github.com/agentstation/dupewatch/internal/server"
	"github.com/agentstation/dupewatch/internal/telemetry"
	"github.com/agentstation/dupewatch/internal/webhook"
	"github.com/agentstation/dupewatch/pkg/catalog"
	"github.com/agentstation/dupewatch/pkg/errors"
	"github.com/agentstation/dupewatch/pkg/reconciler"
)

// App represents the dupewatch application with all its dependencies.
type App struct {
	// Version information
	version string
	commit  string
	date    string
	builtBy string

	// Configuration
	config *Config

	// Logger
	logger *zerolog.Logger

	metrics *metrics.Metrics

	// Lazy-initialized, guarded by mu
	mu       sync.RWMutex
	catalog  catalog.Client
	reporter *telemetry.Reporter
}

var _ application.Application = (*App)(nil)

// New creates a new App instance with the given version information.
// Configuration is loaded from the environment and the default config file
// locations; functional options override the result.
func New(version, commit, date, builtBy string, opts ...Option) (*App, error) {
	app := &App{
		version: version,
		commit:  commit,
		date:    date,
		builtBy: builtBy,
	}

	config, err := LoadConfig("")
	if err != nil {
		return nil, errors.WrapResource("load", "config", "", err)
	}
	app.config = config

	logger := NewLogger(config)
	app.logger = &logger

	for _, opt := range opts {
		if err := opt(app); err != nil {
			return nil, err
		}
	}

	if app.metrics == nil {
		registry := prometheus.NewRegistry()
		registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		m, err := metrics.New(registry)
		if err != nil {
			return nil, errors.WrapResource("create", "metrics", "", err)
		}
		app.metrics = m
	}

	return app, nil
}

// Version returns the version information.
func (a *App) Version() string {
	return a.version
}

// Commit returns the git commit hash.
func (a *App) Commit() string {
	return a.commit
}

// Date returns the build date.
func (a *App) Date() string {
	return a.date
}

// BuiltBy returns the build system identifier.
func (a *App) BuiltBy() string {
	return a.builtBy
}

// Config returns the application configuration.
func (a *App) Config() *Config {
	return a.config
}

// Logger returns the application logger.
func (a *App) Logger() *zerolog.Logger {
	return a.logger
}

// OutputFormat returns the configured output format.
func (a *App) OutputFormat() string {
	return a.config.Format
}

// Metrics returns the process-wide collectors.
func (a *App) Metrics() *metrics.Metrics {
	return a.metrics
}

// Catalog returns the remote catalog client, creating it lazily.
// It fails with a ConfigError until catalog.url is configured.
func (a *App) Catalog() (catalog.Client, error) {
	a.mu.RLock()
	if a.catalog != nil {
		c := a.catalog
		a.mu.RUnlock()
		return c, nil
	}
	a.mu.RUnlock()

	a.mu.Lock()
	defer a.mu.Unlock()

	// Double-check after acquiring write lock
	if a.catalog != nil {
		return a.catalog, nil
	}

	cfg := a.config.Catalog
	client, err := elvis.New(elvis.Config{
		BaseURL:     cfg.URL,
		Token:       cfg.Token,
		Username:    cfg.Username,
		Password:    cfg.Password,
		Timeout:     cfg.Timeout,
		SearchLimit: cfg.SearchLimit,
	})
	if err != nil {
		return nil, err
	}

	a.logger.Debug().Str("url", client.BaseURL()).Msg("Catalog client created")
	a.catalog = client
	return client, nil
}

// Reporter returns the error reporter. It is disabled when no DSN is set
// or the client could not be initialized.
func (a *App) Reporter() *telemetry.Reporter {
	a.mu.RLock()
	if a.reporter != nil {
		r := a.reporter
		a.mu.RUnlock()
		return r
	}
	a.mu.RUnlock()

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.reporter != nil {
		return a.reporter
	}

	reporter, err := telemetry.New(a.telemetryConfig())
	if err != nil {
		a.logger.Warn().Err(err).Msg("Error reporting disabled")
		reporter, _ = telemetry.New(telemetry.Config{})
	}
	a.reporter = reporter
	return reporter
}

// Reconciler returns a reconciler over Catalog carrying the configured
// defaults plus the metrics and telemetry observers. opts are applied last.
func (a *App) Reconciler(opts ...reconciler.Option) (reconciler.Reconciler, error) {
	client, err := a.Catalog()
	if err != nil {
		return nil, err
	}
	return reconciler.New(client, append(a.reconcilerOptions(), opts...)...)
}

// ReconcilerFor builds a reconciler with the application defaults over an
// arbitrary catalog, such as a seeded in-memory one.
func (a *App) ReconcilerFor(client catalog.Client, opts ...reconciler.Option) (reconciler.Reconciler, error) {
	return reconciler.New(client, append(a.reconcilerOptions(), opts...)...)
}

func (a *App) reconcilerOptions() []reconciler.Option {
	cfg := a.config.Reconcile
	return []reconciler.Option{
		reconciler.WithLogger(a.logger),
		reconciler.WithWaitForRelations(cfg.WaitForRelations),
		reconciler.WithRelationConcurrency(cfg.RelationConcurrency),
		reconciler.WithCallTimeout(cfg.CallTimeout),
		reconciler.WithObserver(a.metrics.Observer()),
		reconciler.WithObserver(a.Reporter().Observer()),
	}
}

// ServerConfig returns the server configuration derived from the loaded
// settings; the serve command layers its flags on top.
func (a *App) ServerConfig() server.Config {
	cfg := server.DefaultConfig()
	sc := a.config.Server

	cfg.Host = sc.Host
	cfg.Port = sc.Port
	cfg.PathPrefix = sc.PathPrefix
	if len(sc.CORSOrigin) > 0 {
		cfg.CORSOrigins = sc.CORSOrigin
	}
	cfg.APIKey = sc.APIKey
	cfg.AuthEnabled = sc.APIKey != ""
	cfg.RateLimit = sc.RateLimit
	cfg.MetricsEnabled = sc.Metrics

	cfg.WebhookMode = webhook.Mode(a.config.Webhook.Mode)
	cfg.WebhookSecret = a.config.Webhook.Secret
	cfg.DedupeWindow = a.config.Webhook.DedupeWindow
	return cfg
}

func (a *App) telemetryConfig() telemetry.Config {
	return telemetry.Config{
		DSN:         a.config.Sentry.DSN,
		Environment: a.config.Sentry.Environment,
		Release:     "dupewatch@" + a.version,
		SampleRate:  a.config.Sentry.SampleRate,
	}
}

// Shutdown flushes buffered error reports. The server drains its own
// in-flight reconciliations before serve returns.
func (a *App) Shutdown(ctx context.Context) error {
	a.mu.RLock()
	reporter := a.reporter
	a.mu.RUnlock()

	if reporter == nil || !reporter.Enabled() {
		return nil
	}

	timeout := time.Second
	if deadline, ok := ctx.Deadline(); ok {
		timeout = time.Until(deadline)
	}
	if !reporter.Flush(timeout) {
		return &errors.TimeoutError{Operation: "flush error reports", Duration: timeout.String()}
	}
	return nil
}

// Option is a functional option for configuring the App.
type Option func(*App) error

// WithConfig sets a custom configuration.
func WithConfig(config *Config) Option {
	return func(a *App) error {
		a.config = config
		logger := NewLogger(config)
		a.logger = &logger
		return nil
	}
}

// WithLogger sets a custom logger.
func WithLogger(logger *zerolog.Logger) Option {
	return func(a *App) error {
		a.logger = logger
		return nil
	}
}

// WithCatalog sets a custom catalog client (useful for testing).
func WithCatalog(c catalog.Client) Option {
	return func(a *App) error {
		a.catalog = c
		return nil
	}
}

// WithMetrics sets custom metrics collectors.
func WithMetrics(m *metrics.Metrics) Option {
	return func(a *App) error {
		a.metrics = m
		return nil
	}
}
