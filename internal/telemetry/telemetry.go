// Package telemetry reports reconciliation failures to Sentry.
//
// Reporting is optional: without a DSN every method is a no-op, so callers
// never need to check whether telemetry is enabled.
package telemetry

import (
	"context"
	"fmt"
	"time"

	"github.com/getsentry/sentry-go"

	"github.com/agentstation/dupewatch/pkg/constants"
	"github.com/agentstation/dupewatch/pkg/errors"
	"github.com/agentstation/dupewatch/pkg/reconciler"
)

// Config configures error reporting.
type Config struct {
	DSN         string
	Environment string
	Release     string
	SampleRate  float64

	// Transport overrides event delivery; used by tests.
	Transport sentry.Transport
}

// Reporter sends error events to Sentry through its own hub.
type Reporter struct {
	hub *sentry.Hub
}

// New creates a reporter. It is disabled when cfg has neither DSN nor Transport.
func New(cfg Config) (*Reporter, error) {
	if cfg.DSN == "" && cfg.Transport == nil {
		return &Reporter{}, nil
	}

	rate := cfg.SampleRate
	if rate <= 0 || rate > 1 {
		rate = 1.0
	}

	client, err := sentry.NewClient(sentry.ClientOptions{
		Dsn:              cfg.DSN,
		Transport:        cfg.Transport,
		Environment:      cfg.Environment,
		Release:          cfg.Release,
		SampleRate:       rate,
		AttachStacktrace: true,
		ServerName:       constants.ServiceName,
	})
	if err != nil {
		return nil, errors.NewConfigError("sentry", "failed to initialize client", err)
	}

	scope := sentry.NewScope()
	scope.SetTag("service", constants.ServiceName)
	return &Reporter{hub: sentry.NewHub(client, scope)}, nil
}

// Enabled reports whether events are sent anywhere.
func (r *Reporter) Enabled() bool {
	return r != nil && r.hub != nil
}

// CaptureError reports err with the given tags. The error kind, asset and
// related asset are added as tags when err carries a *errors.ReconcileError.
func (r *Reporter) CaptureError(err error, tags map[string]string) {
	if !r.Enabled() || err == nil {
		return
	}

	r.hub.WithScope(func(scope *sentry.Scope) {
		title := "error"
		var rerr *errors.ReconcileError
		if errors.As(err, &rerr) {
			title = string(rerr.Kind)
			scope.SetTag("kind", string(rerr.Kind))
			if rerr.AssetID != "" {
				scope.SetTag("asset_id", rerr.AssetID)
			}
			if rerr.RelatedID != "" {
				scope.SetTag("related_id", rerr.RelatedID)
			}
		}
		for k, v := range tags {
			scope.SetTag(k, v)
		}
		scope.SetFingerprint([]string{title})

		event := sentry.NewEvent()
		event.Level = sentry.LevelError
		event.Message = err.Error()
		event.Exception = []sentry.Exception{{
			Type:  title,
			Value: err.Error(),
		}}
		r.hub.CaptureEvent(event)
	})
}

// CapturePanic reports a recovered panic value.
func (r *Reporter) CapturePanic(recovered any, tags map[string]string) {
	if !r.Enabled() || recovered == nil {
		return
	}
	r.CaptureError(fmt.Errorf("panic: %v", recovered), mergeTags(tags, map[string]string{"panic": "true"}))
}

// ObserveResult reports every failure of a finished reconciliation.
func (r *Reporter) ObserveResult(_ context.Context, res *reconciler.Result) {
	if !r.Enabled() || res == nil {
		return
	}
	for _, err := range res.Errors {
		r.CaptureError(err, map[string]string{"checksum": res.Checksum})
	}
}

// Observer adapts ObserveResult to a reconciler option.
func (r *Reporter) Observer() reconciler.Observer {
	return r.ObserveResult
}

// Flush waits for queued events to be delivered.
func (r *Reporter) Flush(timeout time.Duration) bool {
	if !r.Enabled() {
		return true
	}
	return r.hub.Flush(timeout)
}

func mergeTags(a, b map[string]string) map[string]string {
	out := make(map[string]string, len(a)+len(b))
	for k, v := range a {
		out[k] = v
	}
	for k, v := range b {
		out[k] = v
	}
	return out
}
