// Package pipeline runs a claim through embedding, retrieval and inference
package pipeline

import (
	"context"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/ppiankov/verity/internal/cache"
	"github.com/ppiankov/verity/internal/embed"
	perr "github.com/ppiankov/verity/internal/errors"
	"github.com/ppiankov/verity/internal/index"
	"github.com/ppiankov/verity/internal/llm"
	"github.com/ppiankov/verity/internal/logger"
	"github.com/ppiankov/verity/internal/metrics"
	"github.com/ppiankov/verity/internal/model"
	"github.com/ppiankov/verity/internal/normalize"
	"github.com/ppiankov/verity/internal/tracing"
)

// Stage names used for spans and latency histograms
const (
	StageEmbed  = "embed"
	StageSearch = "search"
	StageInfer  = "infer"
	StageCheck  = "check"
)

// Options wires a Pipeline
type Options struct {
	Embedder     *embed.Service
	Index        index.Index
	Orchestrator *llm.Orchestrator
	Layer        *cache.Layer // nil disables search caching
	Threshold    float64
	MaxTopK      int
	Metrics      *metrics.Metrics
}

// Pipeline orchestrates the complete fact-check flow
type Pipeline struct {
	embedder  *embed.Service
	index     index.Index
	orch      *llm.Orchestrator
	layer     *cache.Layer
	threshold float64
	maxTopK   int
	metrics   *metrics.Metrics
}

// New creates a pipeline
func New(opt Options) *Pipeline {
	if opt.Threshold <= 0 {
		opt.Threshold = index.DefaultThreshold
	}
	if opt.MaxTopK <= 0 {
		opt.MaxTopK = 10
	}
	if opt.Orchestrator == nil {
		opt.Orchestrator = llm.NewOrchestrator(llm.Options{Layer: opt.Layer, Metrics: opt.Metrics})
	}
	return &Pipeline{
		embedder:  opt.Embedder,
		index:     opt.Index,
		orch:      opt.Orchestrator,
		layer:     opt.Layer,
		threshold: opt.Threshold,
		maxTopK:   opt.MaxTopK,
		metrics:   opt.Metrics,
	}
}

// CheckRequest is one fact-check
type CheckRequest struct {
	Claim    string
	TopK     int
	Detailed bool
}

// CheckResult contains the verdict with the evidence it was grounded on
type CheckResult struct {
	Response     model.VerdictResponse
	Evidence     []model.SearchResult
	EvidenceText string
	Elapsed      time.Duration
}

// Check verifies one claim
func (p *Pipeline) Check(ctx context.Context, req CheckRequest) (res *CheckResult, err error) {
	start := time.Now()
	ctx, span := tracing.Start(ctx, "pipeline.check", attribute.Int("top_k", req.TopK))
	defer func() {
		p.metrics.ObserveStage(StageCheck, time.Since(start))
		tracing.End(span, err)
	}()

	topK, err := p.topK(req.TopK, 1)
	if err != nil {
		return nil, err
	}
	claim := p.embedder.Claim(req.Claim)
	if claim.Empty() {
		return nil, perr.WithField(perr.Validationf("claim is empty after normalization"), "claim")
	}

	// the verdict may only be cached if the corpus is unchanged since the evidence was read
	version := p.version()
	evidence, err := p.search(ctx, claim, topK)
	if err != nil {
		return nil, err
	}

	res = &CheckResult{Evidence: evidence}
	if len(evidence) == 0 {
		res.Response = model.Fallback(model.NoEvidenceSummary, model.DiagnosticNoEvidence)
	} else {
		res.Response, err = p.infer(ctx, claim, evidence, version)
		if err != nil {
			return nil, err
		}
		res.EvidenceText = EvidenceText(evidence)
	}

	if !res.Response.Conformant() {
		logger.C(ctx).Error().Str("verdict", string(res.Response.Verdict)).Msg("non-conformant response replaced by fallback")
		res.Response = model.Fallback(model.FallbackSummary, model.DiagnosticMalformedOutput)
	}
	if res.Response.IsFallback() {
		p.metrics.Fallback(res.Response.Diagnostic)
	}
	if req.Detailed {
		res.Response.Evidence = res.EvidenceText
	}

	res.Elapsed = time.Since(start)
	logger.C(ctx).Info().
		Str("fingerprint", claim.Fingerprint()).
		Int("evidence", len(evidence)).
		Str("verdict", string(res.Response.Verdict)).
		Str("diagnostic", res.Response.Diagnostic).
		Dur("elapsed", res.Elapsed).
		Msg("claim checked")
	return res, nil
}

// Search returns the evidence records for text without calling the LLM
func (p *Pipeline) Search(ctx context.Context, text string, topK int) ([]model.SearchResult, error) {
	topK, err := p.topK(topK, 5)
	if err != nil {
		return nil, err
	}
	claim := p.embedder.Claim(text)
	if claim.Empty() {
		return nil, perr.WithField(perr.Validationf("query is empty after normalization"), "q")
	}
	return p.search(ctx, claim, topK)
}

// Sources lists the corpus publishers
func (p *Pipeline) Sources(ctx context.Context) ([]model.Source, error) {
	sources, err := p.index.Sources(ctx)
	if err != nil {
		return nil, perr.Wrap(err, perr.ErrorCodeUnavailable, "list sources")
	}
	return sources, nil
}

// Count returns the number of indexed records
func (p *Pipeline) Count(ctx context.Context) (int, error) {
	return p.index.Count(ctx)
}

// ProviderName returns the configured LLM provider, "" when disabled
func (p *Pipeline) ProviderName() string { return p.orch.ProviderName() }

func (p *Pipeline) topK(k, def int) (int, error) {
	if k == 0 {
		return def, nil
	}
	if k < 1 || k > p.maxTopK {
		return 0, perr.WithField(perr.Validationf("top_k must be between 1 and %d", p.maxTopK), "top_k")
	}
	return k, nil
}

func (p *Pipeline) embed(ctx context.Context, claim model.Claim) (vec model.Vector, err error) {
	start := time.Now()
	ctx, span := tracing.Start(ctx, "pipeline.embed", attribute.String("backend", p.embedder.Name()))
	defer func() {
		p.metrics.ObserveStage(StageEmbed, time.Since(start))
		err = perr.WithOp(err, StageEmbed)
		tracing.End(span, err)
	}()
	return p.embedder.EmbedClaim(ctx, claim)
}

// search embeds the claim and queries the index through the search cache
func (p *Pipeline) search(ctx context.Context, claim model.Claim, topK int) ([]model.SearchResult, error) {
	if p.layer == nil {
		return p.query(ctx, claim, topK)
	}

	key := normalize.Fingerprint(claim.Fingerprint(), strconv.Itoa(topK), strconv.FormatFloat(p.threshold, 'f', -1, 64))
	if results, ok := p.layer.Search.Get(key); ok {
		return results, nil
	}
	results, _, err := p.layer.SearchFlight.Do(ctx, key, func(fctx context.Context) ([]model.SearchResult, error) {
		if results, ok := p.layer.Search.Get(key); ok {
			return results, nil
		}
		version := p.layer.Version()
		results, err := p.query(fctx, claim, topK)
		if err != nil {
			return nil, err
		}
		if !p.layer.PutSearch(key, results, version) {
			logger.C(fctx).Debug().Msg("corpus changed during search, results not cached")
		}
		return results, nil
	})
	return results, err
}

func (p *Pipeline) query(ctx context.Context, claim model.Claim, topK int) (results []model.SearchResult, err error) {
	vec, err := p.embed(ctx, claim)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	ctx, span := tracing.Start(ctx, "pipeline.search", attribute.String("index", p.index.Name()), attribute.Int("top_k", topK))
	defer func() {
		p.metrics.ObserveStage(StageSearch, time.Since(start))
		err = perr.WithOp(err, StageSearch)
		tracing.End(span, err)
	}()

	results, err = p.index.Search(ctx, vec, topK, p.threshold)
	if err != nil {
		if ctx.Err() != nil {
			return nil, perr.Wrap(ctx.Err(), perr.ErrorCodeTimeout, "deadline exceeded during search")
		}
		if _, ok := perr.As(err); ok {
			return nil, err
		}
		return nil, perr.Wrap(err, perr.ErrorCodeUnavailable, "index search failed")
	}
	span.SetAttributes(attribute.Int("results", len(results)))
	return results, nil
}

func (p *Pipeline) version() uint64 {
	if p.layer == nil {
		return 0
	}
	return p.layer.Version()
}

func (p *Pipeline) infer(ctx context.Context, claim model.Claim, evidence []model.SearchResult, version uint64) (resp model.VerdictResponse, err error) {
	start := time.Now()
	ctx, span := tracing.Start(ctx, "pipeline.infer", attribute.String("provider", p.orch.ProviderName()))
	defer func() {
		p.metrics.ObserveStage(StageInfer, time.Since(start))
		err = perr.WithOp(err, StageInfer)
		tracing.End(span, err)
	}()
	return p.orch.VerdictAt(ctx, claim, evidence, version)
}

// EvidenceText renders evidence the way the model sees it
func EvidenceText(evidence []model.SearchResult) string {
	lines := make([]string, len(evidence))
	for i, e := range evidence {
		lines[i] = llm.EvidenceLine(e.Record)
	}
	return strings.Join(lines, "\n\n")
}
