package catalog

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sync"

	"github.com/goccy/go-yaml"

	"github.com/agentstation/dupewatch/pkg/errors"
)

// Op names a catalog operation.
type Op string

// Catalog operations recorded by Memory.
const (
	OpSearch         Op = "search"
	OpUpdate         Op = "update"
	OpCreateRelation Op = "createRelation"
)

// Call is one recorded invocation of a Memory method.
type Call struct {
	Op       Op
	Query    string
	AssetID  string
	Metadata map[string]any
	TargetID string
	Type     string
}

// Memory is an in-memory catalog. It is safe for concurrent use and
// records every call so tests can assert on the exact interaction.
type Memory struct {
	mu        sync.RWMutex
	order     []string
	assets    map[string]*Asset
	relations []Relation
	calls     []Call

	// scripted search hits; when set they replace query evaluation
	hits []Asset

	failures         map[Op]error
	relationFailures map[string]error
}

// MemoryOption configures a Memory.
type MemoryOption func(*Memory)

// WithAssets preloads assets.
func WithAssets(assets ...Asset) MemoryOption {
	return func(m *Memory) {
		for _, a := range assets {
			m.put(a)
		}
	}
}

// NewMemory creates an empty in-memory catalog.
func NewMemory(opts ...MemoryOption) *Memory {
	m := &Memory{
		assets:           make(map[string]*Asset),
		failures:         make(map[Op]error),
		relationFailures: make(map[string]error),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Seed is the on-disk format accepted by NewMemoryFromYAML.
type Seed struct {
	Assets    []Asset    `yaml:"assets"`
	Relations []Relation `yaml:"relations"`
}

// NewMemoryFromYAML builds a Memory from a YAML seed document.
func NewMemoryFromYAML(data []byte) (*Memory, error) {
	var seed Seed
	if err := yaml.Unmarshal(data, &seed); err != nil {
		return nil, errors.WrapParse("yaml", "seed", err)
	}

	m := NewMemory(WithAssets(seed.Assets...))
	for _, r := range seed.Relations {
		if r.SourceID == "" || r.TargetID == "" {
			return nil, errors.NewValidationError("relations", r, "source and target are required")
		}
		m.relations = append(m.relations, r)
	}
	return m, nil
}

// Put inserts or replaces an asset.
func (m *Memory) Put(a Asset) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.put(a)
}

func (m *Memory) put(a Asset) {
	if _, exists := m.assets[a.ID]; !exists {
		m.order = append(m.order, a.ID)
	}
	cp := Asset{ID: a.ID, Metadata: make(map[string]any, len(a.Metadata))}
	maps.Copy(cp.Metadata, a.Metadata)
	m.assets[a.ID] = &cp
}

// Asset returns a copy of the asset with the given id.
func (m *Memory) Asset(id string) (Asset, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.assets[id]
	if !ok {
		return Asset{}, false
	}
	return Asset{ID: a.ID, Metadata: maps.Clone(a.Metadata)}, true
}

// Relations returns every relation created so far.
func (m *Memory) Relations() []Relation {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return slices.Clone(m.relations)
}

// Calls returns the recorded calls in invocation order.
func (m *Memory) Calls() []Call {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return slices.Clone(m.calls)
}

// CallCount returns how many times op was invoked.
func (m *Memory) CallCount(op Op) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, c := range m.calls {
		if c.Op == op {
			n++
		}
	}
	return n
}

// SetSearchHits scripts the hits returned by every subsequent Search,
// regardless of query. Pass nil to go back to evaluating queries.
func (m *Memory) SetSearchHits(hits []Asset) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hits = slices.Clone(hits)
}

// FailOn makes every subsequent call of op return err. A nil err clears it.
func (m *Memory) FailOn(op Op, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err == nil {
		delete(m.failures, op)
		return
	}
	m.failures[op] = err
}

// FailRelationTo makes relation creation towards targetID return err.
func (m *Memory) FailRelationTo(targetID string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err == nil {
		delete(m.relationFailures, targetID)
		return
	}
	m.relationFailures[targetID] = err
}

// Search implements Client. Queries must be in FieldQuery form.
func (m *Memory) Search(ctx context.Context, query string) (*SearchResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.calls = append(m.calls, Call{Op: OpSearch, Query: query})
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := m.failures[OpSearch]; err != nil {
		return nil, err
	}

	if m.hits != nil {
		hits := slices.Clone(m.hits)
		return &SearchResult{TotalHits: len(hits), Hits: hits}, nil
	}

	field, value, err := ParseFieldQuery(query)
	if err != nil {
		return nil, err
	}

	result := &SearchResult{Hits: []Asset{}}
	for _, id := range m.order {
		a := m.assets[id]
		if v, ok := a.Checksum(field); ok && v == value {
			result.Hits = append(result.Hits, Asset{ID: a.ID, Metadata: maps.Clone(a.Metadata)})
		}
	}
	result.TotalHits = len(result.Hits)
	return result, nil
}

// Update implements Client. The patch is merged into the asset's metadata.
func (m *Memory) Update(ctx context.Context, assetID string, metadata map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.calls = append(m.calls, Call{Op: OpUpdate, AssetID: assetID, Metadata: maps.Clone(metadata)})
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := m.failures[OpUpdate]; err != nil {
		return err
	}

	a, ok := m.assets[assetID]
	if !ok {
		return errors.NewNotFoundError("asset", assetID)
	}
	if a.Metadata == nil {
		a.Metadata = make(map[string]any, len(metadata))
	}
	maps.Copy(a.Metadata, metadata)
	return nil
}

// CreateRelation implements Client. Creating a relation that already
// exists returns an error matching errors.ErrAlreadyExists.
func (m *Memory) CreateRelation(ctx context.Context, sourceID, targetID, relationType string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.calls = append(m.calls, Call{Op: OpCreateRelation, AssetID: sourceID, TargetID: targetID, Type: relationType})
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := m.failures[OpCreateRelation]; err != nil {
		return err
	}
	if err := m.relationFailures[targetID]; err != nil {
		return err
	}

	rel := Relation{SourceID: sourceID, TargetID: targetID, Type: relationType}
	if slices.Contains(m.relations, rel) {
		return fmt.Errorf("relation %s %s -> %s: %w", relationType, sourceID, targetID, errors.ErrAlreadyExists)
	}
	m.relations = append(m.relations, rel)
	return nil
}

// Ensure Memory implements Client.
var _ Client = (*Memory)(nil)
