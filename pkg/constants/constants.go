// Package constants provides shared constants used throughout the dupewatch codebase.
// This includes timeouts, limits, catalog field names, and other configuration values
// that should be consistent across the application.
package constants

import "time"

// Timeout constants define various timeout durations used in the application
const (
	// DefaultHTTPTimeout is the transport-level timeout for requests to the catalog API
	DefaultHTTPTimeout = 30 * time.Second

	// CatalogCallTimeout bounds a single search, update, or relation call
	CatalogCallTimeout = 30 * time.Second

	// ReconcileTimeout bounds a whole reconciliation started from a webhook
	ReconcileTimeout = 5 * time.Minute

	// ShutdownTimeout is how long the server waits for in-flight reconciliations on shutdown
	ShutdownTimeout = 30 * time.Second

	// ReadHeaderTimeout is the timeout for reading request headers
	ReadHeaderTimeout = 5 * time.Second

	// TelemetryFlushTimeout bounds delivery of buffered error reports on exit
	TelemetryFlushTimeout = 5 * time.Second
)

// Catalog field and relation names
const (
	// ChecksumField is the catalog metadata field carrying the content checksum
	ChecksumField = "firstExtractedChecksum"

	// DuplicateField is the custom metadata field holding the duplicate flag
	DuplicateField = "cf_duplicate"

	// DuplicateRelation is the relation type linking an asset to its duplicates
	DuplicateRelation = "duplicate"
)

// Limit constants define various limits and capacities
const (
	// MaxRelationConcurrency is the default number of relation calls in flight per reconciliation
	MaxRelationConcurrency = 8

	// DefaultSearchLimit is the maximum number of hits requested from a checksum search
	DefaultSearchLimit = 1000

	// MaxWebhookBodySize is the maximum accepted webhook payload size in bytes (1 MB)
	MaxWebhookBodySize = 1 << 20

	// MaxErrorBodySize caps how much of an error response body is kept in messages
	MaxErrorBodySize = 4096
)

// Logging constants
const (
	// LogRotationSizeMB is the maximum size of a log file before rotation
	LogRotationSizeMB = 10

	// LogRotationAgeDays is the maximum age of log files before deletion
	LogRotationAgeDays = 7

	// LogRotationBackups is the maximum number of old log files to retain
	LogRotationBackups = 5
)

// Server defaults
const (
	// DefaultHTTPPort is the default port the webhook server listens on
	DefaultHTTPPort = 9090

	// DefaultHost is the default bind address
	DefaultHost = "0.0.0.0"

	// DefaultPathPrefix is the prefix for non-root API routes
	DefaultPathPrefix = "/api/v1"

	// DefaultCORSOrigin is the Access-Control-Allow-Origin value when none is configured
	DefaultCORSOrigin = "*"

	// ServiceName identifies the service in logs, metrics, and health responses
	ServiceName = "dupewatch"
)
