// Package reconciler marks assets that share a content checksum as duplicates.
//
// A reconciliation runs three steps against the catalog, strictly in order:
// search for assets carrying the checksum, write the duplicate flag on the
// triggering asset, then link it to every sibling with a duplicate relation.
// A failed search aborts; a failed flag write or relation is recorded and
// the remaining steps still run. Nothing is retried.
package reconciler

import (
	"context"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/agentstation/dupewatch/pkg/catalog"
	"github.com/agentstation/dupewatch/pkg/errors"
	"github.com/agentstation/dupewatch/pkg/logging"
)

// Reconciler reconciles the duplicate state of one asset.
type Reconciler interface {
	// Reconcile flags assetID as duplicate if other assets carry checksum
	// and relates it to each of them. The returned error combines every
	// step failure; use errors.As to reach individual *errors.ReconcileError.
	Reconcile(ctx context.Context, assetID, checksum string) (*Result, error)
}

// reconciler is the default implementation of Reconciler.
type reconciler struct {
	client catalog.Client
	opts   *options
}

// New creates a new Reconciler over the given catalog client.
func New(client catalog.Client, opts ...Option) (Reconciler, error) {
	if client == nil {
		return nil, &errors.ValidationError{
			Field:   "client",
			Message: "cannot be nil",
		}
	}

	options, err := newOptions(opts...)
	if err != nil {
		return nil, err
	}

	return &reconciler{client: client, opts: options}, nil
}

// Reconcile performs the search, flag and relate steps.
func (r *reconciler) Reconcile(ctx context.Context, assetID, checksum string) (*Result, error) {
	if assetID == "" {
		return nil, &errors.ValidationError{Field: "asset_id", Message: "cannot be empty"}
	}
	if checksum == "" {
		return nil, &errors.ValidationError{Field: "checksum", Message: "cannot be empty"}
	}

	ctx = logging.WithLogger(ctx, r.logger(ctx))
	ctx = logging.WithChecksum(logging.WithAsset(ctx, assetID), checksum)
	logger := logging.FromContext(ctx)

	result := newResult(assetID, checksum)

	// Step 1: find every asset carrying the checksum
	result.Stage = StageSearching
	hits, err := r.search(ctx, checksum)
	if err != nil {
		rerr := errors.NewReconcileError(errors.KindCatalogUnavailable, assetID, "", err)
		logger.Error().Err(err).Str("kind", string(rerr.Kind)).Msg("Catalog search failed, skipping reconciliation")
		result.Errors = append(result.Errors, rerr)
		result.finish(StageSearching)
		r.notify(ctx, result)
		result.release()
		return result, rerr
	}

	// Step 2: decide the duplicate set
	result.Duplicates = duplicateSet(hits, assetID, checksum, r.opts.checksumField)
	result.Flagged = len(result.Duplicates) > 0
	logger.Debug().
		Int("hits", len(hits)).
		Strs("duplicates", result.Duplicates).
		Msg("Computed duplicate set")

	// Step 3: flag the asset, unconditionally
	result.Stage = StageUpdating
	if err := r.update(ctx, assetID, result.Flagged); err != nil {
		rerr := errors.NewReconcileError(errors.KindUpdateFailed, assetID, "", err)
		logger.Error().Err(err).Str("kind", string(rerr.Kind)).Bool("flag", result.Flagged).Msg("Failed to update duplicate flag")
		result.Errors = append(result.Errors, rerr)
	} else {
		result.FlagUpdated = true
	}

	// Step 4: relate the asset to every duplicate
	result.Stage = StageRelating
	if len(result.Duplicates) == 0 {
		r.complete(ctx, result)
		return result, result.Err()
	}

	if r.opts.waitForRelations {
		r.relateAll(ctx, result)
		return result, result.Err()
	}

	// Errors collected so far are final for the caller; relation errors arrive via Wait.
	err = result.Err()
	go r.relateAll(context.WithoutCancel(ctx), result)
	return result, err
}

// relateAll creates every relation and completes the result.
func (r *reconciler) relateAll(ctx context.Context, result *Result) {
	logger := logging.FromContext(ctx)
	outcomes := make([]RelationOutcome, len(result.Duplicates))

	var g errgroup.Group
	g.SetLimit(r.opts.relationConcurrency)
	for i, target := range result.Duplicates {
		g.Go(func() error {
			outcomes[i] = r.relate(ctx, result.AssetID, target)
			return nil
		})
	}
	_ = g.Wait()

	var errs []error
	for _, o := range outcomes {
		switch {
		case o.Err != nil:
			rerr := errors.NewReconcileError(errors.KindRelationFailed, result.AssetID, o.TargetID, o.Err)
			logger.Error().Err(o.Err).Str("kind", string(rerr.Kind)).Str("related_id", o.TargetID).Msg("Failed to create duplicate relation")
			errs = append(errs, rerr)
		case o.AlreadyExisted:
			logger.Debug().Str("related_id", o.TargetID).Msg("Duplicate relation already exists")
		}
	}

	result.Relations = outcomes
	result.Errors = append(result.Errors, errs...)
	r.complete(ctx, result)
}

// complete finalizes the result, logs the summary and notifies observers
// before releasing waiters.
func (r *reconciler) complete(ctx context.Context, result *Result) {
	result.finish(StageDone)

	created, existing, failed := result.RelationStats()
	event := logging.FromContext(ctx).Info()
	if !result.IsSuccess() {
		event = logging.FromContext(ctx).Warn()
	}
	event.
		Bool("flagged", result.Flagged).
		Bool("flag_updated", result.FlagUpdated).
		Int("duplicates", len(result.Duplicates)).
		Int("relations_created", created).
		Int("relations_existing", existing).
		Int("relations_failed", failed).
		Dur("duration", result.Duration()).
		Msg("Reconciliation complete")

	r.notify(ctx, result)
	result.release()
}

func (r *reconciler) notify(ctx context.Context, result *Result) {
	for _, observe := range r.opts.observers {
		observe(ctx, result)
	}
}

func (r *reconciler) search(ctx context.Context, checksum string) ([]catalog.Asset, error) {
	ctx, cancel := r.callContext(ctx)
	defer cancel()

	res, err := r.client.Search(ctx, catalog.FieldQuery(r.opts.checksumField, checksum))
	if err != nil {
		return nil, err
	}
	if res == nil {
		return nil, nil
	}
	return res.Hits, nil
}

func (r *reconciler) update(ctx context.Context, assetID string, flagged bool) error {
	ctx, cancel := r.callContext(ctx)
	defer cancel()

	return r.client.Update(ctx, assetID, map[string]any{r.opts.duplicateField: flagged})
}

func (r *reconciler) relate(ctx context.Context, assetID, target string) RelationOutcome {
	ctx, cancel := r.callContext(ctx)
	defer cancel()

	err := r.client.CreateRelation(ctx, assetID, target, r.opts.relationType)
	switch {
	case err == nil:
		return RelationOutcome{TargetID: target, Created: true}
	case errors.IsAlreadyExists(err):
		return RelationOutcome{TargetID: target, AlreadyExisted: true}
	default:
		return RelationOutcome{TargetID: target, Err: err}
	}
}

func (r *reconciler) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, r.opts.callTimeout)
}

// logger prefers the caller's context logger, which carries request
// fields, over the configured one.
func (r *reconciler) logger(ctx context.Context) *zerolog.Logger {
	if r.opts.logger != nil && !logging.HasLogger(ctx) {
		return r.opts.logger
	}
	return logging.FromContext(ctx)
}

// duplicateSet returns the ids of hits, other than assetID, whose checksum
// field equals checksum exactly. Ids are deduplicated in first-seen order.
func duplicateSet(hits []catalog.Asset, assetID, checksum, field string) []string {
	seen := make(map[string]struct{}, len(hits))
	set := make([]string, 0, len(hits))
	for _, hit := range hits {
		if hit.ID == "" || hit.ID == assetID {
			continue
		}
		if v, ok := hit.Checksum(field); !ok || v != checksum {
			continue
		}
		if _, dup := seen[hit.ID]; dup {
			continue
		}
		seen[hit.ID] = struct{}{}
		set = append(set, hit.ID)
	}
	return set
}
