package index

import (
	"context"
	"sync"
	"sync/atomic"

	perr "github.com/ppiankov/verity/internal/errors"
	"github.com/ppiankov/verity/internal/model"
)

type snapshot struct {
	records []model.FactCheckRecord
	byID    map[string]int
}

// MemoryIndex is an exact cosine index held in process
// Readers load an immutable snapshot; writers build a new one under a mutex and swap it in
type MemoryIndex struct {
	mu   sync.Mutex
	snap atomic.Pointer[snapshot]
	dims int
}

// NewMemoryIndex creates an empty index; dims 0 takes the length of the first vector
func NewMemoryIndex(dims int) *MemoryIndex {
	m := &MemoryIndex{dims: dims}
	m.snap.Store(&snapshot{byID: map[string]int{}})
	return m
}

// Name returns the backend name
func (m *MemoryIndex) Name() string { return "memory" }

// Search scans every record
func (m *MemoryIndex) Search(ctx context.Context, vec model.Vector, topK int, threshold float64) ([]model.SearchResult, error) {
	snap := m.snap.Load()
	results := make([]model.SearchResult, 0, len(snap.records))
	for i := range snap.records {
		if i%1024 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		score := model.Cosine(vec, snap.records[i].Vector)
		if score < threshold {
			continue
		}
		results = append(results, model.SearchResult{Record: snap.records[i], Score: score})
	}
	return Rank(results, topK, threshold), nil
}

// Upsert replaces records with matching IDs and appends new ones
func (m *MemoryIndex) Upsert(_ context.Context, records ...model.FactCheckRecord) error {
	if len(records) == 0 {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	old := m.snap.Load()
	dims := m.dims
	if dims == 0 && len(old.records) > 0 {
		dims = len(old.records[0].Vector)
	}
	for _, r := range records {
		if r.ID == "" {
			return perr.Validationf("record without id")
		}
		if len(r.Vector) == 0 {
			return perr.Validationf("record %s has no vector", r.ID)
		}
		if dims == 0 {
			dims = len(r.Vector)
		}
		if len(r.Vector) != dims {
			return perr.Validationf("record %s has %d dimensions, index has %d", r.ID, len(r.Vector), dims)
		}
	}

	next := &snapshot{
		records: make([]model.FactCheckRecord, len(old.records), len(old.records)+len(records)),
		byID:    make(map[string]int, len(old.byID)+len(records)),
	}
	copy(next.records, old.records)
	for id, i := range old.byID {
		next.byID[id] = i
	}
	for _, r := range records {
		if i, ok := next.byID[r.ID]; ok {
			next.records[i] = r
			continue
		}
		next.byID[r.ID] = len(next.records)
		next.records = append(next.records, r)
	}
	m.snap.Store(next)
	return nil
}

// Delete removes records by ID
func (m *MemoryIndex) Delete(_ context.Context, ids ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	old := m.snap.Load()
	drop := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if _, ok := old.byID[id]; ok {
			drop[id] = struct{}{}
		}
	}
	if len(drop) == 0 {
		return nil
	}

	next := &snapshot{
		records: make([]model.FactCheckRecord, 0, len(old.records)-len(drop)),
		byID:    make(map[string]int, len(old.byID)-len(drop)),
	}
	for _, r := range old.records {
		if _, ok := drop[r.ID]; ok {
			continue
		}
		next.byID[r.ID] = len(next.records)
		next.records = append(next.records, r)
	}
	m.snap.Store(next)
	return nil
}

// Get returns one record by ID
func (m *MemoryIndex) Get(_ context.Context, id string) (model.FactCheckRecord, bool, error) {
	snap := m.snap.Load()
	i, ok := snap.byID[id]
	if !ok {
		return model.FactCheckRecord{}, false, nil
	}
	return snap.records[i], true, nil
}

// Sources aggregates the current snapshot
func (m *MemoryIndex) Sources(_ context.Context) ([]model.Source, error) {
	return AggregateSources(m.snap.Load().records), nil
}

// Count returns the number of records
func (m *MemoryIndex) Count(_ context.Context) (int, error) {
	return len(m.snap.Load().records), nil
}

// Close is a no-op
func (m *MemoryIndex) Close() error { return nil }
