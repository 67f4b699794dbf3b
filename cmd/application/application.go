// Package application provides the application interface for dupewatch commands.
//
// The Application interface is the contract between the application layer and
// command implementations, so commands can be exercised against a mock
// without a live catalog.
//
// Usage in Commands:
//
//	func NewCommand(app application.Application) *cobra.Command {
//	    return &cobra.Command{
//	        RunE: func(cmd *cobra.Command, args []string) error {
//	            rec, err := app.Reconciler()
//	            if err != nil {
//	                return err
//	            }
//	            _, err = rec.Reconcile(cmd.Context(), args[0], args[1])
//	            return err
//	        },
//	    }
//	}
//
// Testing with Mocks:
//
//	mock := &application.Mock{
//	    CatalogFunc: func() (catalog.Client, error) {
//	        return catalog.NewMemory(), nil
//	    },
//	}
//	cmd := NewCommand(mock)
package application

import (
	"github.com/rs/zerolog"

	"github.com/agentstation/dupewatch/internal/metrics"
	"github.com/agentstation/dupewatch/internal/telemetry"
	"github.com/agentstation/dupewatch/pkg/catalog"
	"github.com/agentstation/dupewatch/pkg/reconciler"
)

// Application provides what commands need from the running process.
// The App struct from cmd/dupewatch/app implements it.
//
// Thread Safety: All methods must be safe for concurrent access.
type Application interface {
	// Catalog returns the configured catalog client (lazy-initialized).
	Catalog() (catalog.Client, error)

	// Reconciler returns a reconciler over Catalog with the configured
	// defaults, metrics and telemetry observers. opts are applied last.
	Reconciler(opts ...reconciler.Option) (reconciler.Reconciler, error)

	// Metrics returns the process-wide Prometheus collectors.
	Metrics() *metrics.Metrics

	// Reporter returns the error reporter; it may be disabled but is never nil.
	Reporter() *telemetry.Reporter

	// Logger returns the configured logger instance.
	Logger() *zerolog.Logger

	// OutputFormat returns the configured output format (table, json, yaml).
	OutputFormat() string

	// Version returns the application version string.
	Version() string

	// Commit returns the git commit hash.
	Commit() string

	// Date returns the build date.
	Date() string

	// BuiltBy returns the build system identifier.
	BuiltBy() string
}
