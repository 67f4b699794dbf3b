package webhook

import (
	"context"
	"fmt"
	"sync"

	"github.com/agentstation/dupewatch/internal/metrics"
	"github.com/agentstation/dupewatch/internal/telemetry"
	"github.com/agentstation/dupewatch/pkg/constants"
	"github.com/agentstation/dupewatch/pkg/errors"
	"github.com/agentstation/dupewatch/pkg/events"
	"github.com/agentstation/dupewatch/pkg/logging"
	"github.com/agentstation/dupewatch/pkg/reconciler"
)

// Mode selects when a notification is acknowledged relative to its reconciliation.
type Mode string

// Dispatch modes.
const (
	// ModeAsync acknowledges immediately and reconciles in the background.
	ModeAsync Mode = "async"

	// ModeSync reconciles before acknowledging.
	ModeSync Mode = "sync"
)

// ParseMode parses a mode name; the empty string means async.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case "", ModeAsync:
		return ModeAsync, nil
	case ModeSync:
		return ModeSync, nil
	default:
		return "", errors.NewValidationError("mode", s, "must be async or sync")
	}
}

// Dispatcher runs reconciliations and tracks the ones still in flight.
type Dispatcher struct {
	rec      reconciler.Reconciler
	mode     Mode
	metrics  *metrics.Metrics
	reporter *telemetry.Reporter
	suppress *suppressor

	wg sync.WaitGroup
}

// Dispatch reconciles change according to the dispatch mode. In async mode
// the reconciliation outlives ctx's cancellation but keeps its values, and
// is bounded by constants.ReconcileTimeout instead.
func (d *Dispatcher) Dispatch(ctx context.Context, change events.ChecksumChange) {
	if d.mode == ModeSync {
		d.run(ctx, change)
		return
	}

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), constants.ReconcileTimeout)
		defer cancel()
		d.run(ctx, change)
	}()
}

// run reconciles one change. Panics are recovered; nothing here may take
// the process down.
func (d *Dispatcher) run(ctx context.Context, change events.ChecksumChange) {
	logger := logging.FromContext(ctx)

	if d.metrics != nil {
		defer d.metrics.Started()()
	}
	defer func() {
		if p := recover(); p != nil {
			logger.Error().
				Interface("panic", p).
				Str("asset_id", change.AssetID).
				Msg("Panic during reconciliation")
			if d.metrics != nil {
				d.metrics.RecordWebhook(metrics.OutcomePanic)
			}
			d.reporter.CapturePanic(p, map[string]string{"asset_id": change.AssetID, "component": "dispatcher"})
			d.suppress.forget(change)
		}
	}()

	res, err := d.rec.Reconcile(ctx, change.AssetID, change.NewChecksum)
	if res != nil && d.mode == ModeAsync {
		// keep the background relation batch tracked for shutdown
		err = res.Wait(ctx)
	}
	if err == nil {
		return
	}

	if kind, ok := errors.KindOf(err); ok && kind == errors.KindCatalogUnavailable {
		// search failed so nothing was written; let a redelivery try again
		d.suppress.forget(change)
	}
	if res == nil {
		logger.Error().Err(err).Str("asset_id", change.AssetID).Msg("Reconciliation rejected")
	}
}

// Wait blocks until every in-flight reconciliation has finished or ctx is done.
func (d *Dispatcher) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for in-flight reconciliations: %w", ctx.Err())
	}
}
