package llm

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/ppiankov/verity/internal/cache"
	perr "github.com/ppiankov/verity/internal/errors"
	"github.com/ppiankov/verity/internal/logger"
	"github.com/ppiankov/verity/internal/metrics"
	"github.com/ppiankov/verity/internal/model"
	"github.com/ppiankov/verity/internal/normalize"
	"github.com/ppiankov/verity/internal/validate"
)

// State is the lifecycle of one provider call
type State string

const (
	StatePending         State = "pending"
	StateCalling         State = "calling"
	StateSucceeded       State = "succeeded"
	StateFailedTransient State = "failed_transient"
	StateFailedPermanent State = "failed_permanent"
)

// Options configures an Orchestrator
type Options struct {
	Provider          Provider     // nil serves the fallback for every claim
	Layer             *cache.Layer // nil disables verdict caching
	Validator         *validate.Validator
	Params            Params
	MaxAttempts       int
	InitialBackoff    time.Duration
	MaxBackoff        time.Duration
	ValidationRetries int
	StrictEvidence    bool
	Metrics           *metrics.Metrics
}

// Orchestrator turns a claim and its evidence into a validated verdict
type Orchestrator struct {
	provider  Provider
	layer     *cache.Layer
	validator *validate.Validator
	params    Params
	attempts  int
	initial   time.Duration
	max       time.Duration
	rerolls   int
	strict    bool
	metrics   *metrics.Metrics
}

// permanentError marks a provider failure that retrying cannot fix
type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// NewOrchestrator applies defaults and returns an orchestrator
func NewOrchestrator(opt Options) *Orchestrator {
	if opt.Validator == nil {
		opt.Validator = validate.New(0)
	}
	if opt.MaxAttempts <= 0 {
		opt.MaxAttempts = 3
	}
	if opt.InitialBackoff <= 0 {
		opt.InitialBackoff = 250 * time.Millisecond
	}
	if opt.MaxBackoff <= 0 {
		opt.MaxBackoff = 4 * time.Second
	}
	if opt.ValidationRetries < 0 {
		opt.ValidationRetries = 0
	}
	return &Orchestrator{
		provider:  opt.Provider,
		layer:     opt.Layer,
		validator: opt.Validator,
		params:    opt.Params,
		attempts:  opt.MaxAttempts,
		initial:   opt.InitialBackoff,
		max:       opt.MaxBackoff,
		rerolls:   opt.ValidationRetries,
		strict:    opt.StrictEvidence,
		metrics:   opt.Metrics,
	}
}

// ProviderName returns the configured provider or "" when generation is disabled
func (o *Orchestrator) ProviderName() string {
	if o.provider == nil {
		return ""
	}
	return o.provider.Name()
}

// Verdict returns a conformant response for claim grounded on evidence
// Errors are reserved for upstream exhaustion and deadlines; every other
// failure is folded into the fallback response
func (o *Orchestrator) Verdict(ctx context.Context, claim model.Claim, evidence []model.SearchResult) (model.VerdictResponse, error) {
	var version uint64
	if o.layer != nil {
		version = o.layer.Version()
	}
	return o.VerdictAt(ctx, claim, evidence, version)
}

// VerdictAt is Verdict for evidence retrieved at corpus version; the verdict
// is not cached when the corpus changed since then
func (o *Orchestrator) VerdictAt(ctx context.Context, claim model.Claim, evidence []model.SearchResult, version uint64) (model.VerdictResponse, error) {
	if len(evidence) == 0 {
		return model.Fallback(model.NoEvidenceSummary, model.DiagnosticNoEvidence), nil
	}
	if o.provider == nil {
		return model.Fallback(model.FallbackSummary, model.DiagnosticLLMDisabled), nil
	}
	if o.layer == nil {
		return o.generate(ctx, claim, evidence)
	}

	ids := make([]string, len(evidence))
	for i, e := range evidence {
		ids[i] = e.Record.ID
	}
	key := VerdictKey(claim, evidence)
	if resp, ok := o.layer.Verdicts.Get(key); ok {
		return resp, nil
	}

	resp, _, err := o.layer.VerdictFlight.Do(ctx, key, func(fctx context.Context) (model.VerdictResponse, error) {
		if resp, ok := o.layer.Verdicts.Get(key); ok {
			return resp, nil
		}
		resp, err := o.generate(fctx, claim, evidence)
		if err != nil {
			return model.VerdictResponse{}, err
		}
		if !resp.IsFallback() && !o.layer.PutVerdict(key, resp, ids, version) {
			logger.C(fctx).Debug().Msg("corpus changed since evidence was retrieved, verdict not cached")
		}
		return resp, nil
	})
	return resp, err
}

// VerdictKey identifies a verdict by the claim and the evidence exactly as the model sees it,
// so an updated record never maps onto a verdict generated from its previous content
func VerdictKey(claim model.Claim, evidence []model.SearchResult) string {
	parts := make([]string, 0, 1+2*len(evidence))
	parts = append(parts, claim.Fingerprint())
	for _, e := range evidence {
		parts = append(parts, e.Record.ID, EvidenceLine(e.Record))
	}
	return normalize.Fingerprint(parts...)
}

func (o *Orchestrator) generate(ctx context.Context, claim model.Claim, evidence []model.SearchResult) (model.VerdictResponse, error) {
	log := logger.C(ctx)
	req := GenerateRequest{
		System: SystemPrompt,
		Prompt: BuildPrompt(claim.Normalized(), evidence),
		Params: o.params,
	}

	for roll := 0; roll <= o.rerolls; roll++ {
		text, err := o.call(ctx, req)
		if err != nil {
			var pe *permanentError
			if errors.As(err, &pe) {
				log.Warn().Err(pe.err).Str("provider", o.provider.Name()).Msg("permanent provider failure, serving fallback")
				return model.Fallback(model.FallbackSummary, model.DiagnosticPermanentFailure), nil
			}
			if perr.IsCode(err, perr.ErrorCodeUnavailable) {
				o.metrics.Fallback(model.DiagnosticUpstreamExhausted)
			}
			return model.VerdictResponse{}, err
		}

		resp, err := o.validator.Check(text)
		if err == nil {
			return o.ground(ctx, resp, evidence), nil
		}
		log.Warn().Err(err).Int("roll", roll+1).Msg("model output failed validation")
	}
	return model.Fallback(model.FallbackSummary, model.DiagnosticMalformedOutput), nil
}

// ground restricts sources to the evidence and fills them in when none survive
func (o *Orchestrator) ground(ctx context.Context, resp model.VerdictResponse, evidence []model.SearchResult) model.VerdictResponse {
	urls := EvidenceURLs(evidence)
	if o.strict {
		policy := validate.NewSourcePolicy(urls)
		kept := policy.Filter(resp.Sources)
		if dropped := len(resp.Sources) - len(kept); dropped > 0 {
			logger.C(ctx).Debug().Int("dropped", dropped).Msg("sources outside evidence removed")
		}
		for _, u := range extractURLs(resp.Summary) {
			if !policy.Allowed(u) {
				logger.C(ctx).Debug().Str("url", u).Msg("summary cites a URL outside evidence")
			}
		}
		resp.Sources = kept
	}
	if len(resp.Sources) == 0 {
		resp.Sources = urls
	}
	return resp
}

// call runs one generation with retries on transient errors
func (o *Orchestrator) call(ctx context.Context, req GenerateRequest) (string, error) {
	name := o.provider.Name()
	o.enter(ctx, StatePending, 0)

	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = o.initial
	eb.MaxInterval = o.max
	eb.MaxElapsedTime = 0
	eb.Reset()
	policy := backoff.WithContext(backoff.WithMaxRetries(eb, uint64(o.attempts-1)), ctx)

	var (
		text    string
		attempt int
	)
	err := backoff.Retry(func() error {
		attempt++
		o.enter(ctx, StateCalling, attempt)

		start := time.Now()
		resp, err := o.provider.Generate(ctx, req)
		o.metrics.ObserveStage("llm_call", time.Since(start))

		switch {
		case err == nil:
			o.enter(ctx, StateSucceeded, attempt)
			o.metrics.LLMCall(name, "ok")
			text = resp.Text
			return nil
		case IsTransient(err) && ctx.Err() == nil:
			o.enter(ctx, StateFailedTransient, attempt)
			o.metrics.LLMCall(name, "transient")
			logger.C(ctx).Debug().Err(err).Int("attempt", attempt).Msg("transient provider failure")
			return err
		default:
			o.enter(ctx, StateFailedPermanent, attempt)
			o.metrics.LLMCall(name, "permanent")
			return backoff.Permanent(err)
		}
	}, policy)
	if err == nil {
		return text, nil
	}

	if ctx.Err() != nil {
		return "", perr.Wrap(ctx.Err(), perr.ErrorCodeTimeout, "deadline exceeded during verdict generation")
	}
	if IsTransient(err) {
		logger.C(ctx).Error().Err(err).Str("provider", name).Int("attempts", attempt).Msg("llm provider exhausted retries")
		return "", perr.Wrap(err, perr.ErrorCodeUnavailable, "inference backend unavailable")
	}
	return "", &permanentError{err: err}
}

func (o *Orchestrator) enter(ctx context.Context, s State, attempt int) {
	o.metrics.LLMState(string(s))
	logger.C(ctx).Debug().Str("state", string(s)).Int("attempt", attempt).Msg("llm call state")
}
