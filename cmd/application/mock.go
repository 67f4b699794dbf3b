package application

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/agentstation/dupewatch/internal/metrics"
	"github.com/agentstation/dupewatch/internal/telemetry"
	"github.com/agentstation/dupewatch/pkg/catalog"
	"github.com/agentstation/dupewatch/pkg/reconciler"
)

// Mock is a configurable Application for tests. Unset funcs fall back to
// an empty in-memory catalog, a reconciler over it, fresh metrics, a
// disabled reporter and a no-op logger.
type Mock struct {
	CatalogFunc    func() (catalog.Client, error)
	ReconcilerFunc func(opts ...reconciler.Option) (reconciler.Reconciler, error)
	MetricsValue   *metrics.Metrics
	ReporterValue  *telemetry.Reporter
	LoggerValue    *zerolog.Logger
	Format         string
	VersionValue   string

	mu sync.Mutex
}

var _ Application = (*Mock)(nil)

// Catalog implements Application.
func (m *Mock) Catalog() (catalog.Client, error) {
	if m.CatalogFunc != nil {
		return m.CatalogFunc()
	}
	return catalog.NewMemory(), nil
}

// Reconciler implements Application.
func (m *Mock) Reconciler(opts ...reconciler.Option) (reconciler.Reconciler, error) {
	if m.ReconcilerFunc != nil {
		return m.ReconcilerFunc(opts...)
	}
	client, err := m.Catalog()
	if err != nil {
		return nil, err
	}
	opts = append([]reconciler.Option{reconciler.WithLogger(m.Logger())}, opts...)
	return reconciler.New(client, opts...)
}

// Metrics implements Application.
func (m *Mock) Metrics() *metrics.Metrics {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.MetricsValue == nil {
		m.MetricsValue, _ = metrics.New(prometheus.NewRegistry())
	}
	return m.MetricsValue
}

// Reporter implements Application.
func (m *Mock) Reporter() *telemetry.Reporter {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ReporterValue == nil {
		m.ReporterValue, _ = telemetry.New(telemetry.Config{})
	}
	return m.ReporterValue
}

// Logger implements Application.
func (m *Mock) Logger() *zerolog.Logger {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.LoggerValue == nil {
		nop := zerolog.Nop()
		m.LoggerValue = &nop
	}
	return m.LoggerValue
}

// OutputFormat implements Application.
func (m *Mock) OutputFormat() string {
	if m.Format == "" {
		return "table"
	}
	return m.Format
}

// Version implements Application.
func (m *Mock) Version() string {
	if m.VersionValue == "" {
		return "dev"
	}
	return m.VersionValue
}

// Commit implements Application.
func (m *Mock) Commit() string { return "none" }

// Date implements Application.
func (m *Mock) Date() string { return "unknown" }

// BuiltBy implements Application.
func (m *Mock) BuiltBy() string { return "test" }
