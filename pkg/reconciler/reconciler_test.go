package reconciler_test

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/agentstation/dupewatch/pkg/catalog"
	"github.com/agentstation/dupewatch/pkg/errors"
	"github.com/agentstation/dupewatch/pkg/logging"
	"github.com/agentstation/dupewatch/pkg/reconciler"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func asset(id, checksum string) catalog.Asset {
	md := map[string]any{}
	if checksum != "" {
		md["firstExtractedChecksum"] = checksum
	}
	return catalog.Asset{ID: id, Metadata: md}
}

func newReconciler(t *testing.T, client catalog.Client, opts ...reconciler.Option) reconciler.Reconciler {
	t.Helper()
	opts = append([]reconciler.Option{reconciler.WithLogger(logging.NewNopLogger())}, opts...)
	r, err := reconciler.New(client, opts...)
	require.NoError(t, err)
	return r
}

func TestReconcileDuplicateFound(t *testing.T) {
	mem := catalog.NewMemory(catalog.WithAssets(asset("A1", "abc123"), asset("B2", "abc123")))
	r := newReconciler(t, mem)

	res, err := r.Reconcile(context.Background(), "A1", "abc123")
	require.NoError(t, err)

	want := []catalog.Call{
		{Op: catalog.OpSearch, Query: `firstExtractedChecksum:"abc123"`},
		{Op: catalog.OpUpdate, AssetID: "A1", Metadata: map[string]any{"cf_duplicate": true}},
		{Op: catalog.OpCreateRelation, AssetID: "A1", TargetID: "B2", Type: "duplicate"},
	}
	if diff := cmp.Diff(want, mem.Calls()); diff != "" {
		t.Errorf("catalog calls mismatch (-want +got):\n%s", diff)
	}

	assert.Equal(t, []string{"B2"}, res.Duplicates)
	assert.True(t, res.Flagged)
	assert.True(t, res.FlagUpdated)
	assert.Equal(t, reconciler.StageDone, res.Stage)
	assert.True(t, res.IsSuccess())
	assert.Equal(t, []reconciler.RelationOutcome{{TargetID: "B2", Created: true}}, res.Relations)
	assert.False(t, res.EndTime.Time.Before(res.StartTime.Time))
}

func TestReconcileNoDuplicates(t *testing.T) {
	mem := catalog.NewMemory(catalog.WithAssets(asset("A1", "abc123")))
	r := newReconciler(t, mem)

	res, err := r.Reconcile(context.Background(), "A1", "abc123")
	require.NoError(t, err)

	a, _ := mem.Asset("A1")
	assert.Equal(t, false, a.Metadata["cf_duplicate"])
	assert.False(t, res.Flagged)
	assert.True(t, res.FlagUpdated)
	assert.Empty(t, res.Duplicates)
	assert.Empty(t, res.Relations)
	assert.Equal(t, 1, mem.CallCount(catalog.OpSearch))
	assert.Equal(t, 1, mem.CallCount(catalog.OpUpdate))
	assert.Zero(t, mem.CallCount(catalog.OpCreateRelation))
}

func TestReconcileExcludesTriggerAndRelatesEachSibling(t *testing.T) {
	mem := catalog.NewMemory(catalog.WithAssets(
		asset("A", "sum"), asset("B", "sum"), asset("C", "sum"), asset("D", "other"),
	))
	r := newReconciler(t, mem)

	res, err := r.Reconcile(context.Background(), "A", "sum")
	require.NoError(t, err)

	assert.Equal(t, []string{"B", "C"}, res.Duplicates)
	assert.ElementsMatch(t, []catalog.Relation{
		{SourceID: "A", TargetID: "B", Type: "duplicate"},
		{SourceID: "A", TargetID: "C", Type: "duplicate"},
	}, mem.Relations())

	a, _ := mem.Asset("A")
	assert.Equal(t, true, a.Metadata["cf_duplicate"])
}

func TestReconcileDuplicateSetFiltering(t *testing.T) {
	tests := []struct {
		name string
		hits []catalog.Asset
		want []string
	}{
		{
			name: "repeated hits deduplicated in first-seen order",
			hits: []catalog.Asset{asset("C", "x"), asset("B", "x"), asset("C", "x"), asset("B", "x")},
			want: []string{"C", "B"},
		},
		{
			name: "fuzzy search hits re-checked exactly",
			hits: []catalog.Asset{asset("B", "X"), asset("C", "x "), asset("D", "x")},
			want: []string{"D"},
		},
		{
			name: "hits without the field excluded",
			hits: []catalog.Asset{asset("B", ""), {ID: "C"}, {ID: "D", Metadata: map[string]any{"firstExtractedChecksum": 42}}},
			want: []string{},
		},
		{
			name: "trigger and empty ids excluded",
			hits: []catalog.Asset{asset("A", "x"), asset("", "x"), asset("E", "x")},
			want: []string{"E"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mem := catalog.NewMemory(catalog.WithAssets(asset("A", "x")))
			mem.SetSearchHits(tt.hits)
			r := newReconciler(t, mem)

			res, err := r.Reconcile(context.Background(), "A", "x")
			require.NoError(t, err)
			assert.Equal(t, tt.want, res.Duplicates)
			assert.Equal(t, len(tt.want) > 0, res.Flagged)
			assert.Equal(t, len(tt.want), mem.CallCount(catalog.OpCreateRelation))
		})
	}
}

func TestReconcileSearchFailure(t *testing.T) {
	mem := catalog.NewMemory(catalog.WithAssets(asset("A1", "abc123"), asset("B2", "abc123")))
	mem.FailOn(catalog.OpSearch, errors.NewAPIError("catalog", 503, "maintenance"))
	r := newReconciler(t, mem)

	res, err := r.Reconcile(context.Background(), "A1", "abc123")
	require.Error(t, err)

	kind, ok := errors.KindOf(err)
	require.True(t, ok)
	assert.Equal(t, errors.KindCatalogUnavailable, kind)
	assert.True(t, errors.IsCatalogUnavailable(err))

	require.NotNil(t, res)
	assert.Equal(t, reconciler.StageSearching, res.Stage)
	assert.Zero(t, mem.CallCount(catalog.OpUpdate))
	assert.Zero(t, mem.CallCount(catalog.OpCreateRelation))
}

func TestReconcileUpdateFailureStillRelates(t *testing.T) {
	mem := catalog.NewMemory(catalog.WithAssets(asset("A1", "abc123"), asset("B2", "abc123")))
	mem.FailOn(catalog.OpUpdate, fmt.Errorf("write rejected"))
	r := newReconciler(t, mem)

	res, err := r.Reconcile(context.Background(), "A1", "abc123")
	require.Error(t, err)

	var rerr *errors.ReconcileError
	require.True(t, errors.As(err, &rerr))
	assert.Equal(t, errors.KindUpdateFailed, rerr.Kind)
	assert.Equal(t, "A1", rerr.AssetID)

	assert.False(t, res.FlagUpdated)
	assert.True(t, res.Flagged)
	assert.Equal(t, []catalog.Relation{{SourceID: "A1", TargetID: "B2", Type: "duplicate"}}, mem.Relations())
}

func TestReconcileRelationFailureDoesNotBlockOthers(t *testing.T) {
	mem := catalog.NewMemory(catalog.WithAssets(asset("A", "s"), asset("B", "s"), asset("C", "s"), asset("D", "s")))
	mem.FailRelationTo("C", errors.NewAPIError("catalog", 500, "boom"))
	r := newReconciler(t, mem)

	res, err := r.Reconcile(context.Background(), "A", "s")
	require.Error(t, err)

	kind, ok := errors.KindOf(err)
	require.True(t, ok)
	assert.Equal(t, errors.KindRelationFailed, kind)
	require.Len(t, res.Errors, 1)
	var rerr *errors.ReconcileError
	require.True(t, errors.As(res.Errors[0], &rerr))
	assert.Equal(t, "C", rerr.RelatedID)

	assert.Equal(t, 3, mem.CallCount(catalog.OpCreateRelation))
	assert.ElementsMatch(t, []catalog.Relation{
		{SourceID: "A", TargetID: "B", Type: "duplicate"},
		{SourceID: "A", TargetID: "D", Type: "duplicate"},
	}, mem.Relations())

	created, existing, failed := res.RelationStats()
	assert.Equal(t, 2, created)
	assert.Zero(t, existing)
	assert.Equal(t, 1, failed)
	assert.True(t, res.FlagUpdated)
}

func TestReconcileUpdateAndRelationFailuresCombined(t *testing.T) {
	mem := catalog.NewMemory(catalog.WithAssets(asset("A", "s"), asset("B", "s"), asset("C", "s")))
	mem.FailOn(catalog.OpUpdate, fmt.Errorf("update down"))
	mem.FailOn(catalog.OpCreateRelation, fmt.Errorf("relate down"))
	r := newReconciler(t, mem)

	res, err := r.Reconcile(context.Background(), "A", "s")
	require.Error(t, err)
	assert.Len(t, res.Errors, 3)
	assert.Contains(t, err.Error(), "update down")
	assert.Contains(t, err.Error(), "relate down")
}

func TestReconcileExistingRelationIsNotAnError(t *testing.T) {
	mem := catalog.NewMemory(catalog.WithAssets(asset("A1", "abc123"), asset("B2", "abc123")))
	r := newReconciler(t, mem)
	ctx := context.Background()

	_, err := r.Reconcile(ctx, "A1", "abc123")
	require.NoError(t, err)

	res, err := r.Reconcile(ctx, "A1", "abc123")
	require.NoError(t, err)
	assert.Equal(t, []reconciler.RelationOutcome{{TargetID: "B2", AlreadyExisted: true}}, res.Relations)
	assert.Len(t, mem.Relations(), 1)
}

func TestReconcileConflictStatusIsNotAnError(t *testing.T) {
	mem := catalog.NewMemory(catalog.WithAssets(asset("A1", "abc123"), asset("B2", "abc123")))
	mem.FailRelationTo("B2", errors.NewAPIError("catalog", 409, "relation exists"))
	r := newReconciler(t, mem)

	res, err := r.Reconcile(context.Background(), "A1", "abc123")
	require.NoError(t, err)
	assert.True(t, res.Relations[0].OK())
	assert.True(t, res.Relations[0].AlreadyExisted)
}

func TestReconcileInvalidInput(t *testing.T) {
	mem := catalog.NewMemory()
	r := newReconciler(t, mem)

	_, err := r.Reconcile(context.Background(), "A1", "")
	assert.True(t, errors.IsValidationError(err))

	_, err = r.Reconcile(context.Background(), "", "abc")
	assert.True(t, errors.IsValidationError(err))

	assert.Empty(t, mem.Calls())
}

func TestReconcileWithoutWaiting(t *testing.T) {
	mem := catalog.NewMemory(catalog.WithAssets(asset("A", "s"), asset("B", "s"), asset("C", "s")))
	mem.FailRelationTo("B", fmt.Errorf("nope"))

	var observed atomic.Int32
	r := newReconciler(t, mem,
		reconciler.WithWaitForRelations(false),
		reconciler.WithObserver(func(_ context.Context, res *reconciler.Result) {
			observed.Add(1)
		}),
	)

	res, err := r.Reconcile(context.Background(), "A", "s")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err = res.Wait(ctx)
	require.Error(t, err)

	kind, _ := errors.KindOf(err)
	assert.Equal(t, errors.KindRelationFailed, kind)
	assert.Equal(t, reconciler.StageDone, res.Stage)
	assert.Len(t, res.Relations, 2)
	assert.Equal(t, int32(1), observed.Load())
}

func TestReconcileObserverSeesEveryOutcome(t *testing.T) {
	mem := catalog.NewMemory(catalog.WithAssets(asset("A", "s")))

	var mu sync.Mutex
	var stages []reconciler.Stage
	r := newReconciler(t, mem, reconciler.WithObserver(func(_ context.Context, res *reconciler.Result) {
		mu.Lock()
		defer mu.Unlock()
		stages = append(stages, res.Stage)
	}))

	_, err := r.Reconcile(context.Background(), "A", "s")
	require.NoError(t, err)

	mem.FailOn(catalog.OpSearch, fmt.Errorf("down"))
	_, err = r.Reconcile(context.Background(), "A", "s")
	require.Error(t, err)

	assert.Equal(t, []reconciler.Stage{reconciler.StageDone, reconciler.StageSearching}, stages)
}

func TestReconcileCustomFields(t *testing.T) {
	mem := catalog.NewMemory(catalog.WithAssets(
		catalog.Asset{ID: "A", Metadata: map[string]any{"sha256": "ff"}},
		catalog.Asset{ID: "B", Metadata: map[string]any{"sha256": "ff"}},
	))
	r := newReconciler(t, mem,
		reconciler.WithChecksumField("sha256"),
		reconciler.WithDuplicateField("isDuplicate"),
		reconciler.WithRelationType("related"),
	)

	_, err := r.Reconcile(context.Background(), "A", "ff")
	require.NoError(t, err)

	a, _ := mem.Asset("A")
	assert.Equal(t, true, a.Metadata["isDuplicate"])
	assert.Equal(t, []catalog.Relation{{SourceID: "A", TargetID: "B", Type: "related"}}, mem.Relations())
	assert.Equal(t, `sha256:"ff"`, mem.Calls()[0].Query)
}

// blockingClient never answers until its context is done.
type blockingClient struct{}

func (blockingClient) Search(ctx context.Context, _ string) (*catalog.SearchResult, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func (blockingClient) Update(ctx context.Context, _ string, _ map[string]any) error {
	<-ctx.Done()
	return ctx.Err()
}

func (blockingClient) CreateRelation(ctx context.Context, _, _, _ string) error {
	<-ctx.Done()
	return ctx.Err()
}

func TestReconcileCallTimeout(t *testing.T) {
	r := newReconciler(t, blockingClient{}, reconciler.WithCallTimeout(20*time.Millisecond))

	start := time.Now()
	_, err := r.Reconcile(context.Background(), "A", "s")
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.True(t, errors.IsCatalogUnavailable(err))
	assert.Less(t, time.Since(start), 5*time.Second)
}

// countingClient records the peak number of concurrent relation calls.
type countingClient struct {
	*catalog.Memory
	inFlight atomic.Int32
	peak     atomic.Int32
}

func (c *countingClient) CreateRelation(ctx context.Context, src, tgt, typ string) error {
	n := c.inFlight.Add(1)
	defer c.inFlight.Add(-1)
	for {
		p := c.peak.Load()
		if n <= p || c.peak.CompareAndSwap(p, n) {
			break
		}
	}
	time.Sleep(5 * time.Millisecond)
	return c.Memory.CreateRelation(ctx, src, tgt, typ)
}

func TestReconcileRelationConcurrencyLimit(t *testing.T) {
	assets := []catalog.Asset{asset("A", "s")}
	for i := range 12 {
		assets = append(assets, asset(fmt.Sprintf("S%02d", i), "s"))
	}
	client := &countingClient{Memory: catalog.NewMemory(catalog.WithAssets(assets...))}
	r := newReconciler(t, client, reconciler.WithRelationConcurrency(3))

	res, err := r.Reconcile(context.Background(), "A", "s")
	require.NoError(t, err)
	assert.Len(t, res.Relations, 12)
	assert.LessOrEqual(t, client.peak.Load(), int32(3))
	assert.Len(t, client.Relations(), 12)
}

func TestNewValidation(t *testing.T) {
	_, err := reconciler.New(nil)
	assert.True(t, errors.IsValidationError(err))

	mem := catalog.NewMemory()
	tests := []struct {
		name string
		opt  reconciler.Option
	}{
		{"zero timeout", reconciler.WithCallTimeout(0)},
		{"zero concurrency", reconciler.WithRelationConcurrency(0)},
		{"nil observer", reconciler.WithObserver(nil)},
		{"empty checksum field", reconciler.WithChecksumField("")},
		{"empty duplicate field", reconciler.WithDuplicateField("")},
		{"empty relation type", reconciler.WithRelationType("")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := reconciler.New(mem, tt.opt)
			assert.True(t, errors.IsValidationError(err))
		})
	}
}

func TestReconcileLogsWithAssetContext(t *testing.T) {
	tl := logging.NewTestLogger(t)
	mem := catalog.NewMemory(catalog.WithAssets(asset("A1", "abc123"), asset("B2", "abc123")))
	r, err := reconciler.New(mem)
	require.NoError(t, err)

	ctx := logging.WithLogger(context.Background(), tl.Logger)
	_, err = r.Reconcile(ctx, "A1", "abc123")
	require.NoError(t, err)

	tl.AssertContains(t, "Reconciliation complete")
	tl.AssertContains(t, `"asset_id":"A1"`)
	tl.AssertContains(t, `"relations_created":1`)
}

func TestReconcilePrefersContextLogger(t *testing.T) {
	configured := logging.NewTestLogger(t)
	scoped := logging.NewTestLogger(t)

	mem := catalog.NewMemory(catalog.WithAssets(asset("A1", "abc123"), asset("B2", "abc123")))
	r, err := reconciler.New(mem, reconciler.WithLogger(configured.Logger))
	require.NoError(t, err)

	ctx := logging.WithRequestID(logging.WithLogger(context.Background(), scoped.Logger), "req-42")
	_, err = r.Reconcile(ctx, "A1", "abc123")
	require.NoError(t, err)

	scoped.AssertContains(t, "Reconciliation complete")
	scoped.AssertContains(t, `"request_id":"req-42"`)
	assert.Empty(t, configured.Output())

	// without a context logger the configured one is used
	_, err = r.Reconcile(context.Background(), "A1", "abc123")
	require.NoError(t, err)
	configured.AssertContains(t, "Reconciliation complete")
}
