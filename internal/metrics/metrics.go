// Package metrics provides Prometheus metrics for webhook handling and
// duplicate reconciliation.
package metrics

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/agentstation/dupewatch/pkg/errors"
	"github.com/agentstation/dupewatch/pkg/reconciler"
)

// Webhook outcomes.
const (
	OutcomeDispatched = "dispatched" // reconciliation started
	OutcomeIgnored    = "ignored"    // no checksum change in the notification
	OutcomeMalformed  = "malformed"  // body could not be decoded
	OutcomeSuppressed = "suppressed" // repeat delivery inside the suppression window
	OutcomePanic      = "panic"      // pipeline panicked; still acknowledged
	OutcomeRejected   = "rejected"   // signature check failed
)

// Reconciliation statuses.
const (
	StatusSuccess = "success"
	StatusPartial = "partial"
	StatusFailed  = "failed"
)

// Metrics contains all Prometheus metrics for dupewatch.
type Metrics struct {
	WebhookRequestsTotal *prometheus.CounterVec // notifications by outcome
	ReconciliationsTotal *prometheus.CounterVec // reconciliations by status
	ReconcileErrorsTotal *prometheus.CounterVec // failures by kind
	ReconcileDuration    prometheus.Histogram   // end-to-end reconciliation latency
	RelationsTotal       *prometheus.CounterVec // relation attempts by outcome
	DuplicatesFound      prometheus.Histogram   // duplicate set size per reconciliation
	ReconcilesInFlight   prometheus.Gauge       // reconciliations currently running

	registry *prometheus.Registry
}

// New creates the metrics and registers them with registry.
// It returns an error if metric registration fails.
func New(registry *prometheus.Registry) (*Metrics, error) {
	if registry == nil {
		return nil, &errors.ValidationError{Field: "registry", Message: "cannot be nil"}
	}

	m := &Metrics{registry: registry}
	m.initMetrics()
	if err := registry.Register(m); err != nil {
		return nil, fmt.Errorf("failed to register dupewatch metrics: %w", err)
	}
	return m, nil
}

// initMetrics initializes all metrics.
func (m *Metrics) initMetrics() {
	m.WebhookRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dupewatch_webhook_requests_total",
			Help: "Total number of change notifications received, by outcome",
		},
		[]string{"outcome"},
	)

	m.ReconciliationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dupewatch_reconciliations_total",
			Help: "Total number of reconciliations, by status",
		},
		[]string{"status"}, // success, partial, failed
	)

	m.ReconcileErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dupewatch_reconcile_errors_total",
			Help: "Total number of reconciliation failures, by kind",
		},
		[]string{"kind"},
	)

	m.ReconcileDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "dupewatch_reconcile_duration_seconds",
			Help:    "Time taken to reconcile one asset, including all relations",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0, 30.0, 60.0},
		},
	)

	m.RelationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dupewatch_relations_total",
			Help: "Total number of duplicate relation attempts, by outcome",
		},
		[]string{"outcome"}, // created, existing, failed
	)

	m.DuplicatesFound = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "dupewatch_duplicates_found",
			Help:    "Number of duplicates found per reconciliation",
			Buckets: []float64{0, 1, 2, 5, 10, 25, 100},
		},
	)

	m.ReconcilesInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "dupewatch_reconciles_in_flight",
			Help: "Number of reconciliations currently running",
		},
	)

	// every kind is exported from the start so rate() works before the first failure
	for _, kind := range errors.Kinds() {
		m.ReconcileErrorsTotal.WithLabelValues(string(kind))
	}
}

// RecordWebhook counts one notification outcome.
func (m *Metrics) RecordWebhook(outcome string) {
	m.WebhookRequestsTotal.WithLabelValues(outcome).Inc()
}

// RecordError counts one failure of the given kind.
func (m *Metrics) RecordError(kind errors.Kind) {
	m.ReconcileErrorsTotal.WithLabelValues(string(kind)).Inc()
}

// Started marks a reconciliation as running; call the returned func when it ends.
func (m *Metrics) Started() func() {
	m.ReconcilesInFlight.Inc()
	return m.ReconcilesInFlight.Dec
}

// ObserveResult records a finished reconciliation.
func (m *Metrics) ObserveResult(_ context.Context, res *reconciler.Result) {
	if res == nil {
		return
	}

	for _, err := range res.Errors {
		if kind, ok := errors.KindOf(err); ok {
			m.RecordError(kind)
		}
	}

	created, existing, failed := res.RelationStats()
	m.RelationsTotal.WithLabelValues("created").Add(float64(created))
	m.RelationsTotal.WithLabelValues("existing").Add(float64(existing))
	m.RelationsTotal.WithLabelValues("failed").Add(float64(failed))

	m.ReconciliationsTotal.WithLabelValues(Status(res)).Inc()
	m.ReconcileDuration.Observe(res.Duration().Seconds())
	if res.Stage == reconciler.StageDone {
		m.DuplicatesFound.Observe(float64(len(res.Duplicates)))
	}
}

// Observer adapts ObserveResult to a reconciler option.
func (m *Metrics) Observer() reconciler.Observer {
	return m.ObserveResult
}

// Status classifies a result: failed when the search never succeeded,
// partial when a later step failed.
func Status(res *reconciler.Result) string {
	switch {
	case res.IsSuccess():
		return StatusSuccess
	case res.Stage != reconciler.StageDone:
		return StatusFailed
	default:
		return StatusPartial
	}
}

// Registry returns the registry the metrics are registered with.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Describe implements the prometheus.Collector interface.
func (m *Metrics) Describe(ch chan<- *prometheus.Desc) {
	m.WebhookRequestsTotal.Describe(ch)
	m.ReconciliationsTotal.Describe(ch)
	m.ReconcileErrorsTotal.Describe(ch)
	m.ReconcileDuration.Describe(ch)
	m.RelationsTotal.Describe(ch)
	m.DuplicatesFound.Describe(ch)
	m.ReconcilesInFlight.Describe(ch)
}

// Collect implements the prometheus.Collector interface.
func (m *Metrics) Collect(ch chan<- prometheus.Metric) {
	m.WebhookRequestsTotal.Collect(ch)
	m.ReconciliationsTotal.Collect(ch)
	m.ReconcileErrorsTotal.Collect(ch)
	m.ReconcileDuration.Collect(ch)
	m.RelationsTotal.Collect(ch)
	m.DuplicatesFound.Collect(ch)
	m.ReconcilesInFlight.Collect(ch)
}
