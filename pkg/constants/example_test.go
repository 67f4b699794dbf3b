package constants_test

import (
	"context"
	"fmt"
	"net/http"

	"github.com/agentstation/dupewatch/pkg/catalog"
	"github.com/agentstation/dupewatch/pkg/constants"
)

// Example demonstrates the catalog field and relation names used when
// reconciling duplicates.
func Example() {
	fmt.Printf("search: %s\n", catalog.FieldQuery(constants.ChecksumField, "abc123"))
	fmt.Printf("flag:   %s\n", constants.DuplicateField)
	fmt.Printf("link:   %s\n", constants.DuplicateRelation)
	// Output:
	// search: firstExtractedChecksum:"abc123"
	// flag:   cf_duplicate
	// link:   duplicate
}

// Example_timeouts demonstrates timeout constants
func Example_timeouts() {
	client := &http.Client{
		Timeout: constants.DefaultHTTPTimeout,
	}
	fmt.Printf("HTTP timeout: %v\n", client.Timeout)

	// A webhook-triggered reconciliation outlives its request
	ctx, cancel := context.WithTimeout(context.Background(), constants.ReconcileTimeout)
	defer cancel()

	deadline, _ := ctx.Deadline()
	fmt.Printf("Has deadline: %v\n", !deadline.IsZero())
	fmt.Printf("Per-call timeout: %v\n", constants.CatalogCallTimeout)
	// Output:
	// HTTP timeout: 30s
	// Has deadline: true
	// Per-call timeout: 30s
}

// Example_limits demonstrates limit constants
func Example_limits() {
	fmt.Printf("Relations in flight: %d\n", constants.MaxRelationConcurrency)
	fmt.Printf("Max webhook body: %d bytes\n", constants.MaxWebhookBodySize)
	// Output:
	// Relations in flight: 8
	// Max webhook body: 1048576 bytes
}
