// Package index stores fact-check records with their vectors and answers
// nearest neighbour queries
package index

import (
	"context"
	"sort"
	"strings"

	"github.com/ppiankov/verity/internal/model"
)

// DefaultThreshold is the minimum cosine similarity a result must reach
const DefaultThreshold = 0.65

// Index is a vector store over fact-check records
type Index interface {
	// Search returns at most topK records scoring >= threshold, best first
	Search(ctx context.Context, vec model.Vector, topK int, threshold float64) ([]model.SearchResult, error)

	// Upsert inserts or replaces records by ID; every record must carry a vector
	Upsert(ctx context.Context, records ...model.FactCheckRecord) error

	// Delete removes records by ID, ignoring unknown IDs
	Delete(ctx context.Context, ids ...string) error

	// Get returns one record by ID
	Get(ctx context.Context, id string) (model.FactCheckRecord, bool, error)

	// Sources aggregates the corpus per publisher
	Sources(ctx context.Context) ([]model.Source, error)

	// Count returns the number of indexed records
	Count(ctx context.Context) (int, error)

	// Name returns the backend name
	Name() string

	Close() error
}

// Rank filters by threshold, orders by score desc then ID asc and keeps topK
// It sorts results in place
func Rank(results []model.SearchResult, topK int, threshold float64) []model.SearchResult {
	kept := results[:0]
	for _, r := range results {
		if r.Score >= threshold {
			kept = append(kept, r)
		}
	}
	sort.Slice(kept, func(i, j int) bool {
		if kept[i].Score != kept[j].Score {
			return kept[i].Score > kept[j].Score
		}
		return kept[i].Record.ID < kept[j].Record.ID
	})
	if topK > 0 && len(kept) > topK {
		kept = kept[:topK]
	}
	if len(kept) == 0 {
		return []model.SearchResult{}
	}
	return kept
}

// KnownSource is a publisher in the built-in catalog
type KnownSource struct {
	ID   string
	Name string
	URL  string
}

// KnownSources are the publishers the corpus is usually built from
var KnownSources = []KnownSource{
	{ID: "snopes", Name: "Snopes", URL: "https://www.snopes.com"},
	{ID: "boomlive", Name: "BoomLive", URL: "https://www.boomlive.in"},
	{ID: "politifact", Name: "PolitiFact", URL: "https://www.politifact.com"},
	{ID: "factcheck-org", Name: "FactCheck.org", URL: "https://www.factcheck.org"},
	{ID: "afp-factcheck", Name: "AFP Fact Check", URL: "https://factcheck.afp.com"},
	{ID: "altnews", Name: "AltNews", URL: "https://www.altnews.in"},
}

func lookupSource(name string) (KnownSource, bool) {
	key := sourceKey(name)
	for _, s := range KnownSources {
		if sourceKey(s.Name) == key || s.ID == key {
			return s, true
		}
	}
	return KnownSource{}, false
}

func sourceKey(name string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(name) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func sourceID(name string) string {
	fields := strings.FieldsFunc(strings.ToLower(name), func(r rune) bool {
		return !((r >= 'a' && r <= 'z') || (r >= '0' && r <= '9'))
	})
	return strings.Join(fields, "-")
}

func newSource(name string) model.Source {
	s := model.Source{ID: sourceID(name), Name: name}
	if known, ok := lookupSource(name); ok {
		s.ID = known.ID
		s.URL = known.URL
	}
	return s
}

func sortSources(out []model.Source) {
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
}

// AggregateSources groups records per publisher, ordered by name
func AggregateSources(records []model.FactCheckRecord) []model.Source {
	byName := make(map[string]*model.Source)
	for _, r := range records {
		name := strings.TrimSpace(r.Source)
		if name == "" {
			name = "Unknown"
		}
		s, ok := byName[name]
		if !ok {
			src := newSource(name)
			s = &src
			byName[name] = s
		}
		s.FactCheckCount++
		if r.PublishedAt.After(s.LastUpdated) {
			s.LastUpdated = r.PublishedAt
		}
	}

	out := make([]model.Source, 0, len(byName))
	for _, s := range byName {
		out = append(out, *s)
	}
	sortSources(out)
	return out
}
