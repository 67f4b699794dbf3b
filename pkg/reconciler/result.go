package reconciler

import (
	"context"
	"time"

	"github.com/agentstation/utc"
	"go.uber.org/multierr"
)

// Stage is how far a reconciliation progressed.
type Stage string

// Reconciliation stages, in order.
const (
	StageReceived  Stage = "received"
	StageSearching Stage = "searching"
	StageUpdating  Stage = "updating"
	StageRelating  Stage = "relating"
	StageDone      Stage = "done"
)

// RelationOutcome is the result of linking the asset to one duplicate.
type RelationOutcome struct {
	TargetID       string `json:"targetId" yaml:"targetId"`
	Created        bool   `json:"created" yaml:"created"`
	AlreadyExisted bool   `json:"alreadyExisted,omitempty" yaml:"alreadyExisted,omitempty"`
	Err            error  `json:"-" yaml:"-"`
}

// OK reports whether the relation exists after the attempt.
func (o RelationOutcome) OK() bool {
	return o.Created || o.AlreadyExisted
}

// Result represents the outcome of one reconciliation.
//
// When relations are not awaited, Relations, Errors, Stage and EndTime are
// only final once Wait has returned.
type Result struct {
	AssetID  string `json:"assetId" yaml:"assetId"`
	Checksum string `json:"checksum" yaml:"checksum"`

	// Duplicates are the other assets carrying the same checksum, in search order.
	Duplicates []string `json:"duplicates" yaml:"duplicates"`

	// Flagged is the duplicate flag value written to the asset.
	Flagged bool `json:"flagged" yaml:"flagged"`

	// FlagUpdated is false when the flag write failed.
	FlagUpdated bool `json:"flagUpdated" yaml:"flagUpdated"`

	Relations []RelationOutcome `json:"relations" yaml:"relations"`

	Stage     Stage    `json:"stage" yaml:"stage"`
	StartTime utc.Time `json:"startTime" yaml:"startTime"`
	EndTime   utc.Time `json:"endTime" yaml:"endTime"`

	Errors []error `json:"-" yaml:"-"`

	done chan struct{}
}

func newResult(assetID, checksum string) *Result {
	return &Result{
		AssetID:    assetID,
		Checksum:   checksum,
		Duplicates: []string{},
		Relations:  []RelationOutcome{},
		Stage:      StageReceived,
		StartTime:  utc.Now(),
		done:       make(chan struct{}),
	}
}

// finish records the final stage and end time.
func (r *Result) finish(stage Stage) {
	r.Stage = stage
	r.EndTime = utc.Now()
}

// release wakes everyone blocked in Wait.
func (r *Result) release() {
	close(r.done)
}

// Wait blocks until every relation attempt has settled or ctx is done,
// then returns the combined error.
func (r *Result) Wait(ctx context.Context) error {
	if r.done == nil {
		return r.Err()
	}
	select {
	case <-r.done:
		return r.Err()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Done returns a channel closed when the reconciliation has settled.
func (r *Result) Done() <-chan struct{} {
	return r.done
}

// Err combines every failure of the reconciliation, or returns nil.
func (r *Result) Err() error {
	return multierr.Combine(r.Errors...)
}

// IsSuccess returns true if every step succeeded.
func (r *Result) IsSuccess() bool {
	return len(r.Errors) == 0
}

// HasDuplicates returns true if any other asset carries the checksum.
func (r *Result) HasDuplicates() bool {
	return len(r.Duplicates) > 0
}

// Duration is how long the reconciliation took.
func (r *Result) Duration() time.Duration {
	if r.EndTime.Time.IsZero() {
		return 0
	}
	return r.EndTime.Time.Sub(r.StartTime.Time)
}

// RelationStats counts relation outcomes.
func (r *Result) RelationStats() (created, existing, failed int) {
	for _, o := range r.Relations {
		switch {
		case o.Created:
			created++
		case o.AlreadyExisted:
			existing++
		default:
			failed++
		}
	}
	return created, existing, failed
}
