// Package catalog defines the capability dupewatch needs from a remote asset
// catalog: searching assets by metadata, patching an asset's metadata and
// linking two assets with a typed relation.
package catalog

import "context"

// Client defines the interface for catalog API clients.
// Implementations must be safe for concurrent use; several reconciliations
// may share one client.
type Client interface {
	// Search returns the assets matching query.
	Search(ctx context.Context, query string) (*SearchResult, error)

	// Update patches the metadata of a single asset.
	Update(ctx context.Context, assetID string, metadata map[string]any) error

	// CreateRelation links sourceID to targetID with the given relation type.
	CreateRelation(ctx context.Context, sourceID, targetID, relationType string) error
}

// Asset is a catalog entry as returned by a search.
type Asset struct {
	ID       string         `json:"id" yaml:"id"`
	Metadata map[string]any `json:"metadata,omitempty" yaml:"metadata,omitempty"`
}

// Checksum returns the string value stored under field, if any.
// Values of any other type are treated as absent.
func (a Asset) Checksum(field string) (string, bool) {
	if a.Metadata == nil {
		return "", false
	}
	v, ok := a.Metadata[field].(string)
	return v, ok
}

// SearchResult is the response to a catalog search.
type SearchResult struct {
	TotalHits int     `json:"totalHits" yaml:"totalHits"`
	Hits      []Asset `json:"hits" yaml:"hits"`
}

// Relation is a typed link between two assets.
type Relation struct {
	SourceID string `json:"source" yaml:"source"`
	TargetID string `json:"target" yaml:"target"`
	Type     string `json:"type" yaml:"type"`
}
