package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/ppiankov/verity/internal/cache"
	"github.com/ppiankov/verity/internal/corpus"
	"github.com/ppiankov/verity/internal/embed"
	"github.com/ppiankov/verity/internal/index"
	"github.com/ppiankov/verity/internal/llm"
	"github.com/ppiankov/verity/internal/logger"
	"github.com/ppiankov/verity/internal/metrics"
	"github.com/ppiankov/verity/internal/model"
	"github.com/ppiankov/verity/internal/pipeline"
	"github.com/ppiankov/verity/internal/ratelimit"
	"github.com/ppiankov/verity/internal/tracing"
	"github.com/ppiankov/verity/internal/validate"
)

// app holds every long-lived component, opened in dependency order
type app struct {
	cfg      model.Config
	metrics  *metrics.Metrics
	tracer   func(context.Context) error
	layer    *cache.Layer
	index    index.Index
	embedder *embed.Service
	pipeline *pipeline.Pipeline
	ingester *corpus.Ingester
	limiter  *ratelimit.Limiter // nil when rate limiting is disabled
}

// openApp wires tracer, cache, index, embedder, LLM provider and limiter
func openApp(ctx context.Context, c model.Config) (_ *app, err error) {
	log := logger.Named("cli")
	a := &app{cfg: c, metrics: metrics.New()}
	defer func() {
		if err != nil {
			a.close(context.Background())
		}
	}()

	a.tracer, err = tracing.Init(ctx, tracing.Config{
		Enabled:     c.Tracing.Enabled,
		Exporter:    c.Tracing.Exporter,
		ServiceName: c.Tracing.ServiceName,
		Version:     Version,
	})
	if err != nil {
		return nil, fmt.Errorf("init tracing: %w", err)
	}

	var store cache.Cache = cache.NewMemoryCache(c.Cache.EmbeddingTTL, c.Cache.CleanupInterval)
	if c.Cache.PersistentDir != "" {
		disk, err := cache.OpenBadgerCache(c.Cache.PersistentDir)
		if err != nil {
			return nil, fmt.Errorf("open persistent cache: %w", err)
		}
		store = cache.NewLayeredCache(store, disk)
	}
	a.layer = cache.NewLayer(store, cache.Options{
		EmbeddingTTL:    c.Cache.EmbeddingTTL,
		SearchTTL:       c.Cache.SearchTTL,
		VerdictTTL:      c.Cache.VerdictTTL,
		UpstreamTimeout: c.Cache.UpstreamTimeout,
		Metrics:         a.metrics,
	})

	backend, err := embed.NewBackend(c.Embedding)
	if err != nil {
		return nil, fmt.Errorf("create embedding backend: %w", err)
	}
	a.embedder = embed.NewService(embed.Options{
		Backend:        backend,
		Layer:          a.layer,
		MaxTokens:      c.Embedding.MaxTokens,
		Languages:      c.Embedding.Languages,
		MaxAttempts:    c.Inference.MaxAttempts,
		InitialBackoff: c.Inference.InitialBackoff,
		MaxBackoff:     c.Inference.MaxBackoff,
		Metrics:        a.metrics,
	})

	a.index, err = index.New(ctx, c.Index, a.embedder.Dimensions())
	if err != nil {
		return nil, fmt.Errorf("open index: %w", err)
	}
	if n, err := a.index.Count(ctx); err == nil {
		a.metrics.CorpusSize(n)
	}

	provider, err := llm.NewProvider(llm.ConfigFromModel(c.LLM))
	if err != nil {
		// Generation is optional: every verdict falls back until the provider is fixed
		log.Warn().Err(err).Str("provider", c.LLM.Provider).Msg("LLM provider unavailable, serving fallback verdicts")
		provider = nil
	}
	orch := llm.NewOrchestrator(llm.Options{
		Provider:          provider,
		Layer:             a.layer,
		Validator:         validate.New(0),
		Params:            llm.ConfigFromModel(c.LLM).Params,
		MaxAttempts:       c.Inference.MaxAttempts,
		InitialBackoff:    c.Inference.InitialBackoff,
		MaxBackoff:        c.Inference.MaxBackoff,
		ValidationRetries: c.Inference.ValidationRetries,
		StrictEvidence:    c.Inference.StrictEvidence,
		Metrics:           a.metrics,
	})

	a.pipeline = pipeline.New(pipeline.Options{
		Embedder:     a.embedder,
		Index:        a.index,
		Orchestrator: orch,
		Layer:        a.layer,
		Threshold:    c.Index.ScoreThreshold,
		MaxTopK:      c.Server.MaxTopK,
		Metrics:      a.metrics,
	})
	a.ingester = corpus.NewIngester(corpus.Options{
		Index:         a.index,
		Embedder:      a.embedder,
		Layer:         a.layer,
		Workers:       c.Corpus.Workers,
		BulkThreshold: c.Corpus.BulkThreshold,
		Metrics:       a.metrics,
	})

	if c.RateLimit.Enabled {
		a.limiter = ratelimit.New(c.RateLimit, a.metrics)
	}

	log.Info().
		Str("embedding", a.embedder.Name()).
		Str("index", a.index.Name()).
		Str("llm", orch.ProviderName()).
		Bool("rate_limit", c.RateLimit.Enabled).
		Msg("components ready")
	return a, nil
}

// loadCorpus ingests the configured corpus files, if any
func (a *app) loadCorpus(ctx context.Context) error {
	if len(a.cfg.Corpus.Files) == 0 {
		return nil
	}
	report, err := a.ingester.LoadFiles(ctx, a.cfg.Corpus.Files...)
	if err != nil {
		return fmt.Errorf("load corpus: %w", err)
	}
	if report.Failed > 0 {
		logger.Named("cli").Warn().Int("failed", report.Failed).Strs("errors", report.Errors).Msg("some corpus records were skipped")
	}
	return nil
}

// close flushes the tracer, then closes the index and the cache
func (a *app) close(ctx context.Context) {
	log := logger.Named("cli")
	var errs []error
	if a.tracer != nil {
		errs = append(errs, a.tracer(ctx))
	}
	if a.index != nil {
		errs = append(errs, a.index.Close())
	}
	if a.layer != nil {
		errs = append(errs, a.layer.Close())
	}
	if err := errors.Join(errs...); err != nil {
		log.Warn().Err(err).Msg("shutdown incomplete")
	}
}
