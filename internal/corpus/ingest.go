package corpus

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ppiankov/verity/internal/cache"
	"github.com/ppiankov/verity/internal/index"
	"github.com/ppiankov/verity/internal/logger"
	"github.com/ppiankov/verity/internal/metrics"
	"github.com/ppiankov/verity/internal/model"
	"github.com/ppiankov/verity/internal/worker"
)

// DefaultBulkThreshold is the batch size at which the whole search cache is flushed
const DefaultBulkThreshold = 50

// Options configures an Ingester
type Options struct {
	Index         index.Index
	Embedder      worker.Embedder
	Layer         *cache.Layer // nil skips invalidation
	Workers       int
	ChunkSize     int
	BulkThreshold int
	Metrics       *metrics.Metrics
}

// IngestReport summarizes one Ingest call
type IngestReport struct {
	Loaded   int           `json:"loaded"`
	Embedded int           `json:"embedded"`
	Created  int           `json:"created"`
	Updated  int           `json:"updated"`
	Failed   int           `json:"failed"`
	Flushed  bool          `json:"flushed"`
	Errors   []string      `json:"errors,omitempty"`
	Duration time.Duration `json:"duration"`
}

// Ingester embeds records and writes them to the index
type Ingester struct {
	index   index.Index
	layer   *cache.Layer
	batch   *worker.BatchProcessor
	bulk    int
	metrics *metrics.Metrics
	mu      sync.Mutex // serializes index writes with their invalidation
}

// NewIngester creates an ingester
func NewIngester(opt Options) *Ingester {
	if opt.Workers <= 0 {
		opt.Workers = 4
	}
	if opt.BulkThreshold <= 0 {
		opt.BulkThreshold = DefaultBulkThreshold
	}
	return &Ingester{
		index:   opt.Index,
		layer:   opt.Layer,
		batch:   worker.NewBatchProcessor(opt.Embedder, opt.Workers, opt.ChunkSize),
		bulk:    opt.BulkThreshold,
		metrics: opt.Metrics,
	}
}

// Ingest cleans, embeds and upserts records, then drops every cache entry they affect
// Stale cache entries are gone by the time Ingest returns
func (in *Ingester) Ingest(ctx context.Context, records []model.FactCheckRecord) (*IngestReport, error) {
	start := time.Now()
	log := logger.Named("corpus")
	report := &IngestReport{Loaded: len(records)}

	cleaned := make([]model.FactCheckRecord, 0, len(records))
	seen := make(map[string]int, len(records))
	for i, r := range records {
		c, ok := Clean(r)
		if !ok {
			report.Failed++
			report.Errors = append(report.Errors, fmt.Sprintf("record %d: empty claim", i+1))
			continue
		}
		// Later duplicates win
		if j, dup := seen[c.ID]; dup {
			cleaned[j] = c
			continue
		}
		seen[c.ID] = len(cleaned)
		cleaned = append(cleaned, c)
	}

	texts := make([]string, len(cleaned))
	for i, r := range cleaned {
		texts[i] = r.Claim
	}
	vectors, errs := in.batch.EmbedAll(ctx, texts)

	ready := make([]model.FactCheckRecord, 0, len(cleaned))
	for i, r := range cleaned {
		if errs[i] != nil {
			report.Failed++
			report.Errors = append(report.Errors, fmt.Sprintf("%s: %v", r.ID, errs[i]))
			continue
		}
		r.Vector = vectors[i]
		ready = append(ready, r)
	}
	report.Embedded = len(ready)

	if len(ready) > 0 {
		if err := in.write(ctx, ready, report); err != nil {
			return report, err
		}
	}

	report.Duration = time.Since(start)
	log.Info().
		Int("loaded", report.Loaded).
		Int("created", report.Created).
		Int("updated", report.Updated).
		Int("failed", report.Failed).
		Bool("flushed", report.Flushed).
		Dur("duration", report.Duration).
		Msg("corpus ingested")
	return report, nil
}

func (in *Ingester) write(ctx context.Context, records []model.FactCheckRecord, report *IngestReport) error {
	in.mu.Lock()
	defer in.mu.Unlock()

	ids := make([]string, len(records))
	for i, r := range records {
		ids[i] = r.ID
		_, exists, err := in.index.Get(ctx, r.ID)
		if err != nil {
			return fmt.Errorf("look up %s: %w", r.ID, err)
		}
		if exists {
			report.Updated++
		} else {
			report.Created++
		}
	}

	if err := in.index.Upsert(ctx, records...); err != nil {
		return fmt.Errorf("upsert records: %w", err)
	}

	// New records can match queries whose cached result lists never referenced them
	report.Flushed = len(records) >= in.bulk || report.Created > 0
	in.invalidate(ids, report.Flushed)
	in.recordSize(ctx)
	return nil
}

// Remove deletes records from the index and the caches
func (in *Ingester) Remove(ctx context.Context, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	in.mu.Lock()
	defer in.mu.Unlock()

	if err := in.index.Delete(ctx, ids...); err != nil {
		return fmt.Errorf("delete records: %w", err)
	}
	in.invalidate(ids, false)
	in.recordSize(ctx)
	return nil
}

func (in *Ingester) invalidate(ids []string, flush bool) {
	if in.layer == nil {
		return
	}
	dropped := in.layer.InvalidateRecords(ids...)
	if flush {
		if err := in.layer.FlushSearch(); err != nil {
			logger.Named("corpus").Warn().Err(err).Msg("search cache flush failed")
		}
	}
	logger.Named("corpus").Debug().Int("records", len(ids)).Int("entries", dropped).Bool("flush", flush).Msg("caches invalidated")
}

func (in *Ingester) recordSize(ctx context.Context) {
	if n, err := in.index.Count(ctx); err == nil {
		in.metrics.CorpusSize(n)
	}
}

// LoadFiles reads every file and ingests the combined records in one batch
func (in *Ingester) LoadFiles(ctx context.Context, paths ...string) (*IngestReport, error) {
	var all []model.FactCheckRecord
	for _, p := range paths {
		records, err := Load(p)
		if err != nil {
			return nil, err
		}
		all = append(all, records...)
	}
	return in.Ingest(ctx, all)
}
