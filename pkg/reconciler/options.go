package reconciler

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/agentstation/dupewatch/pkg/constants"
	"github.com/agentstation/dupewatch/pkg/errors"
)

// Observer is notified once per reconciliation, after the relation batch
// has settled. It runs on the goroutine that finished the batch.
type Observer func(ctx context.Context, result *Result)

// options configures a reconciler.
type options struct {
	logger              *zerolog.Logger
	callTimeout         time.Duration
	relationConcurrency int
	waitForRelations    bool
	observers           []Observer
	checksumField       string
	duplicateField      string
	relationType        string
}

func defaultOptions() *options {
	return &options{
		callTimeout:         constants.CatalogCallTimeout,
		relationConcurrency: constants.MaxRelationConcurrency,
		waitForRelations:    true,
		checksumField:       constants.ChecksumField,
		duplicateField:      constants.DuplicateField,
		relationType:        constants.DuplicateRelation,
	}
}

// Option is a function that configures a Reconciler.
type Option func(*options) error

func (options *options) apply(opts ...Option) (*options, error) {
	for _, opt := range opts {
		if err := opt(options); err != nil {
			return nil, err
		}
	}
	return options, nil
}

// newOptions returns reconciler options with default values.
func newOptions(opts ...Option) (*options, error) {
	return defaultOptions().apply(opts...)
}

// WithLogger sets the logger used when the context passed to Reconcile
// carries none.
func WithLogger(logger *zerolog.Logger) Option {
	return func(o *options) error {
		o.logger = logger
		return nil
	}
}

// WithCallTimeout bounds every individual catalog call.
func WithCallTimeout(d time.Duration) Option {
	return func(o *options) error {
		if d <= 0 {
			return &errors.ValidationError{
				Field:   "call_timeout",
				Value:   d,
				Message: "must be positive",
			}
		}
		o.callTimeout = d
		return nil
	}
}

// WithRelationConcurrency limits how many relations are created at once.
func WithRelationConcurrency(n int) Option {
	return func(o *options) error {
		if n < 1 {
			return &errors.ValidationError{
				Field:   "relation_concurrency",
				Value:   n,
				Message: "must be at least 1",
			}
		}
		o.relationConcurrency = n
		return nil
	}
}

// WithWaitForRelations chooses whether Reconcile waits for the relation
// batch. When false, Reconcile returns once the relations are issued and
// Result.Wait reports their outcome.
func WithWaitForRelations(wait bool) Option {
	return func(o *options) error {
		o.waitForRelations = wait
		return nil
	}
}

// WithObserver registers an observer. May be given more than once.
func WithObserver(observer Observer) Option {
	return func(o *options) error {
		if observer == nil {
			return &errors.ValidationError{
				Field:   "observer",
				Message: "cannot be nil",
			}
		}
		o.observers = append(o.observers, observer)
		return nil
	}
}

// WithChecksumField sets the metadata field holding the content checksum.
func WithChecksumField(field string) Option {
	return func(o *options) error {
		if field == "" {
			return &errors.ValidationError{Field: "checksum_field", Message: "cannot be empty"}
		}
		o.checksumField = field
		return nil
	}
}

// WithDuplicateField sets the boolean metadata field flagging duplicates.
func WithDuplicateField(field string) Option {
	return func(o *options) error {
		if field == "" {
			return &errors.ValidationError{Field: "duplicate_field", Message: "cannot be empty"}
		}
		o.duplicateField = field
		return nil
	}
}

// WithRelationType sets the type of relation linking duplicates.
func WithRelationType(relationType string) Option {
	return func(o *options) error {
		if relationType == "" {
			return &errors.ValidationError{Field: "relation_type", Message: "cannot be empty"}
		}
		o.relationType = relationType
		return nil
	}
}
