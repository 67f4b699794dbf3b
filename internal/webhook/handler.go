// Package webhook receives catalog change notifications over HTTP.
//
// The handler is the point where every outcome is absorbed: once a POST
// reaches it, the sender gets 200 OK whether the notification was acted
// on, ignored, malformed, or blew up halfway. Failures are logged, counted
// and reported instead.
package webhook

import (
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/agentstation/dupewatch/internal/metrics"
	"github.com/agentstation/dupewatch/internal/server/response"
	"github.com/agentstation/dupewatch/internal/telemetry"
	"github.com/agentstation/dupewatch/pkg/constants"
	"github.com/agentstation/dupewatch/pkg/errors"
	"github.com/agentstation/dupewatch/pkg/events"
	"github.com/agentstation/dupewatch/pkg/logging"
	"github.com/agentstation/dupewatch/pkg/reconciler"
)

// Handler is the HTTP entry point for change notifications.
type Handler struct {
	dispatcher    *Dispatcher
	metrics       *metrics.Metrics
	reporter      *telemetry.Reporter
	suppress      *suppressor
	logger        *zerolog.Logger
	secret        string
	checksumField string
	maxBodySize   int64
}

type options struct {
	mode          Mode
	secret        string
	dedupeWindow  time.Duration
	metrics       *metrics.Metrics
	reporter      *telemetry.Reporter
	logger        *zerolog.Logger
	checksumField string
	maxBodySize   int64
}

// Option configures a Handler.
type Option func(*options) error

// WithMode sets the dispatch mode.
func WithMode(mode Mode) Option {
	return func(o *options) error {
		m, err := ParseMode(string(mode))
		if err != nil {
			return err
		}
		o.mode = m
		return nil
	}
}

// WithSecret enables signature verification of incoming bodies.
func WithSecret(secret string) Option {
	return func(o *options) error {
		o.secret = secret
		return nil
	}
}

// WithDedupeWindow suppresses repeat deliveries of the same asset and
// checksum within window. Zero disables suppression.
func WithDedupeWindow(window time.Duration) Option {
	return func(o *options) error {
		if window < 0 {
			return errors.NewValidationError("dedupe_window", window, "cannot be negative")
		}
		o.dedupeWindow = window
		return nil
	}
}

// WithMetrics records outcomes in m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *options) error {
		o.metrics = m
		return nil
	}
}

// WithReporter reports panics and malformed payloads to r.
func WithReporter(r *telemetry.Reporter) Option {
	return func(o *options) error {
		o.reporter = r
		return nil
	}
}

// WithLogger sets the fallback logger used when the request carries none.
func WithLogger(logger *zerolog.Logger) Option {
	return func(o *options) error {
		o.logger = logger
		return nil
	}
}

// WithChecksumField sets the metadata field whose change triggers reconciliation.
func WithChecksumField(field string) Option {
	return func(o *options) error {
		if field == "" {
			return &errors.ValidationError{Field: "checksum_field", Message: "cannot be empty"}
		}
		o.checksumField = field
		return nil
	}
}

// WithMaxBodySize limits how much of a request body is read.
func WithMaxBodySize(n int64) Option {
	return func(o *options) error {
		if n <= 0 {
			return errors.NewValidationError("max_body_size", n, "must be positive")
		}
		o.maxBodySize = n
		return nil
	}
}

// New creates a handler dispatching to rec.
func New(rec reconciler.Reconciler, opts ...Option) (*Handler, error) {
	if rec == nil {
		return nil, &errors.ValidationError{Field: "reconciler", Message: "cannot be nil"}
	}

	o := &options{
		mode:          ModeAsync,
		checksumField: constants.ChecksumField,
		maxBodySize:   constants.MaxWebhookBodySize,
	}
	for _, opt := range opts {
		if err := opt(o); err != nil {
			return nil, err
		}
	}

	suppress := newSuppressor(o.dedupeWindow)
	return &Handler{
		dispatcher: &Dispatcher{
			rec:      rec,
			mode:     o.mode,
			metrics:  o.metrics,
			reporter: o.reporter,
			suppress: suppress,
		},
		metrics:       o.metrics,
		reporter:      o.reporter,
		suppress:      suppress,
		logger:        o.logger,
		secret:        o.secret,
		checksumField: o.checksumField,
		maxBodySize:   o.maxBodySize,
	}, nil
}

// Dispatcher returns the dispatcher, for draining on shutdown.
func (h *Handler) Dispatcher() *Dispatcher {
	return h.dispatcher
}

// ServeHTTP implements http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		response.MethodNotAllowed(w, r.Method)
		return
	}

	logger := h.requestLogger(r)

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.maxBodySize))
	if err != nil {
		logger.Warn().Err(err).Msg("Failed to read notification body")
		h.record(metrics.OutcomeMalformed)
		h.recordError(errors.KindMalformedPayload)
		acknowledge(w)
		return
	}

	if h.secret != "" && !VerifySignature(h.secret, body, r.Header.Get(SignatureHeader)) {
		err := &errors.AuthenticationError{Service: "webhook", Method: "hmac", Message: "missing or invalid " + SignatureHeader}
		logger.Warn().Err(err).Str("remote_addr", r.RemoteAddr).Msg("Rejected notification")
		h.record(metrics.OutcomeRejected)
		response.Unauthorized(w, "Invalid signature", "Sign the raw body with HMAC-SHA256 in the "+SignatureHeader+" header")
		return
	}

	defer acknowledge(w)
	defer func() {
		if p := recover(); p != nil {
			logger.Error().Interface("panic", p).Msg("Panic while handling notification")
			h.record(metrics.OutcomePanic)
			h.reporter.CapturePanic(p, map[string]string{"component": "webhook", "request_id": logging.RequestID(r.Context())})
		}
	}()

	h.process(r, body, logger)
}

// process decodes, interprets and dispatches one notification.
func (h *Handler) process(r *http.Request, body []byte, logger *zerolog.Logger) {
	n, err := events.Decode(r.Header.Get("Content-Type"), body)
	if err != nil {
		logger.Warn().Err(err).Int("body_size", len(body)).Msg("Malformed notification")
		h.record(metrics.OutcomeMalformed)
		h.recordError(errors.KindMalformedPayload)
		h.reporter.CaptureError(err, map[string]string{"component": "webhook"})
		return
	}

	change, ok := events.InterpretField(n, h.checksumField)
	if !ok {
		logger.Debug().Str("asset_id", n.AssetID).Msg("Notification carries no checksum change")
		h.record(metrics.OutcomeIgnored)
		return
	}

	if !h.suppress.firstSeen(change) {
		logger.Info().
			Str("asset_id", change.AssetID).
			Str("checksum", change.NewChecksum).
			Msg("Suppressed repeat notification")
		h.record(metrics.OutcomeSuppressed)
		return
	}

	logger.Info().
		Str("asset_id", change.AssetID).
		Str("checksum", change.NewChecksum).
		Msg("Dispatching reconciliation")
	h.record(metrics.OutcomeDispatched)

	ctx := logging.WithLogger(r.Context(), logger)
	h.dispatcher.Dispatch(ctx, change)
}

// requestLogger prefers the logger the middleware attached, which carries
// the request id.
func (h *Handler) requestLogger(r *http.Request) *zerolog.Logger {
	if !logging.HasLogger(r.Context()) && h.logger != nil {
		return h.logger
	}
	return logging.FromContext(r.Context())
}

func (h *Handler) record(outcome string) {
	if h.metrics != nil {
		h.metrics.RecordWebhook(outcome)
	}
}

func (h *Handler) recordError(kind errors.Kind) {
	if h.metrics != nil {
		h.metrics.RecordError(kind)
	}
}

// acknowledge writes the unconditional success response.
func acknowledge(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}
