package cache

import (
	"errors"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/ppiankov/verity/internal/logger"
	"github.com/ppiankov/verity/internal/metrics"
	"github.com/ppiankov/verity/internal/model"
)

// Namespace labels
const (
	NamespaceEmbedding = "embedding"
	NamespaceSearch    = "search"
	NamespaceVerdict   = "verdict"
)

// Options configures a Layer
type Options struct {
	EmbeddingTTL    time.Duration
	SearchTTL       time.Duration
	VerdictTTL      time.Duration
	UpstreamTimeout time.Duration
	Clock           Clock
	Metrics         *metrics.Metrics
}

// Layer bundles the three pipeline caches, their coalescing groups and the
// record reference index used for corpus invalidation
type Layer struct {
	Embeddings *Namespace[model.Vector]
	Search     *Namespace[[]model.SearchResult]
	Verdicts   *Namespace[model.VerdictResponse]

	EmbedFlight   *Group[model.Vector]
	SearchFlight  *Group[[]model.SearchResult]
	VerdictFlight *Group[model.VerdictResponse]

	store Cache

	mu      sync.Mutex
	version uint64
	refs    map[string]map[string]struct{} // record id -> "namespace\x00key"
}

// NewLayer builds the pipeline caches over store
func NewLayer(store Cache, opt Options) *Layer {
	return &Layer{
		Embeddings: NewNamespace[model.Vector](NamespaceEmbedding, store, opt.EmbeddingTTL, opt.Clock, opt.Metrics),
		Search:     NewNamespace[[]model.SearchResult](NamespaceSearch, store, opt.SearchTTL, opt.Clock, opt.Metrics),
		Verdicts:   NewNamespace[model.VerdictResponse](NamespaceVerdict, store, opt.VerdictTTL, opt.Clock, opt.Metrics),

		EmbedFlight:   NewGroup[model.Vector](NamespaceEmbedding, opt.UpstreamTimeout, opt.Metrics),
		SearchFlight:  NewGroup[[]model.SearchResult](NamespaceSearch, opt.UpstreamTimeout, opt.Metrics),
		VerdictFlight: NewGroup[model.VerdictResponse](NamespaceVerdict, opt.UpstreamTimeout, opt.Metrics),

		store: store,
		refs:  make(map[string]map[string]struct{}),
	}
}

// Version returns the corpus version; capture it before computing a value
// that depends on the corpus and pass it back to PutSearch or PutVerdict
func (l *Layer) Version() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.version
}

// PutSearch stores results unless the corpus changed since version was taken
func (l *Layer) PutSearch(key string, results []model.SearchResult, version uint64) bool {
	ids := make([]string, len(results))
	for i, r := range results {
		ids[i] = r.Record.ID
	}
	return l.put(NamespaceSearch, key, ids, version, func() error { return l.Search.Set(key, results) })
}

// PutVerdict stores a verdict grounded on recordIDs unless the corpus changed since version was taken
func (l *Layer) PutVerdict(key string, resp model.VerdictResponse, recordIDs []string, version uint64) bool {
	return l.put(NamespaceVerdict, key, recordIDs, version, func() error { return l.Verdicts.Set(key, resp) })
}

func (l *Layer) put(ns, key string, recordIDs []string, version uint64, set func() error) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if version != l.version {
		return false
	}
	if err := set(); err != nil {
		logger.Named("cache").Warn().Err(err).Str("namespace", ns).Msg("cache write failed")
		return false
	}
	ref := ns + "\x00" + key
	for _, id := range recordIDs {
		keys, ok := l.refs[id]
		if !ok {
			keys = make(map[string]struct{})
			l.refs[id] = keys
		}
		keys[ref] = struct{}{}
	}
	return true
}

// InvalidateRecords drops every search and verdict entry that references one of ids
// and bumps the corpus version so computations started earlier cannot write back
// It returns once the entries are gone
func (l *Layer) InvalidateRecords(ids ...string) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.version++
	l.forgetFlights()
	dropped := 0
	for _, id := range ids {
		for ref := range l.refs[id] {
			ns, key, _ := strings.Cut(ref, "\x00")
			var err error
			switch ns {
			case NamespaceSearch:
				err = l.Search.Delete(key)
			case NamespaceVerdict:
				err = l.Verdicts.Delete(key)
			}
			if err != nil {
				logger.Named("cache").Warn().Err(err).Str("namespace", ns).Msg("invalidate failed")
			}
			dropped++
		}
		delete(l.refs, id)
	}
	return dropped
}

// FlushSearch clears the whole search namespace, used after bulk corpus updates
func (l *Layer) FlushSearch() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.version++
	l.forgetFlights()
	prefix := NamespaceSearch + "\x00"
	for id, keys := range l.refs {
		for ref := range keys {
			if strings.HasPrefix(ref, prefix) {
				delete(keys, ref)
			}
		}
		if len(keys) == 0 {
			delete(l.refs, id)
		}
	}
	return l.Search.Clear()
}

// forgetFlights makes requests arriving after an invalidation start fresh
// computations instead of joining ones that read the previous corpus
func (l *Layer) forgetFlights() {
	l.SearchFlight.ForgetAll()
	l.VerdictFlight.ForgetAll()
}

// Close releases the store
func (l *Layer) Close() error {
	var errs []error
	if cl, ok := l.store.(io.Closer); ok {
		errs = append(errs, cl.Close())
	}
	return errors.Join(errs...)
}
