package embed

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/ppiankov/verity/internal/cache"
	perr "github.com/ppiankov/verity/internal/errors"
	"github.com/ppiankov/verity/internal/logger"
	"github.com/ppiankov/verity/internal/metrics"
	"github.com/ppiankov/verity/internal/model"
	"github.com/ppiankov/verity/internal/normalize"
)

// Options configures a Service
type Options struct {
	Backend        Backend
	Layer          *cache.Layer // nil disables caching and coalescing
	MaxTokens      int
	Languages      []string // empty accepts every language
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	Metrics        *metrics.Metrics
}

// Service embeds claims through the cache with retry around the backend
type Service struct {
	backend   Backend
	layer     *cache.Layer
	maxTokens int
	languages []string
	attempts  int
	initial   time.Duration
	max       time.Duration
	metrics   *metrics.Metrics
}

// NewService creates an embedding service
func NewService(opt Options) *Service {
	if opt.MaxTokens <= 0 {
		opt.MaxTokens = normalize.DefaultMaxTokens
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
	return &Service{
		backend:   opt.Backend,
		layer:     opt.Layer,
		maxTokens: opt.MaxTokens,
		languages: opt.Languages,
		attempts:  opt.MaxAttempts,
		initial:   opt.InitialBackoff,
		max:       opt.MaxBackoff,
		metrics:   opt.Metrics,
	}
}

// Name returns the backend name
func (s *Service) Name() string { return s.backend.Name() }

// Dimensions returns the backend vector length
func (s *Service) Dimensions() int { return s.backend.Dimensions() }

// Claim builds the canonical claim for raw text under the service token budget
func (s *Service) Claim(raw string) model.Claim {
	return model.NewClaim(raw, s.maxTokens)
}

// Embed normalizes text and returns its unit vector
func (s *Service) Embed(ctx context.Context, text string) (model.Vector, error) {
	return s.EmbedClaim(ctx, s.Claim(text))
}

// EmbedClaim returns the unit vector of an already normalized claim
func (s *Service) EmbedClaim(ctx context.Context, c model.Claim) (model.Vector, error) {
	if c.Empty() {
		return nil, perr.WithField(perr.Validationf("claim is empty after normalization"), "claim")
	}
	if len(s.languages) > 0 && !normalize.Supported(c.Language(), s.languages) {
		lang := c.Language()
		if lang == "" {
			lang = c.Script()
		}
		return nil, perr.WithField(perr.Validationf("unsupported claim language %q", lang), "claim")
	}

	key := s.cacheKey(c)
	if s.layer == nil {
		return s.compute(ctx, c.Normalized())
	}
	if v, ok := s.layer.Embeddings.Get(key); ok {
		return v, nil
	}

	v, _, err := s.layer.EmbedFlight.Do(ctx, key, func(fctx context.Context) (model.Vector, error) {
		if v, ok := s.layer.Embeddings.Get(key); ok {
			return v, nil
		}
		v, err := s.compute(fctx, c.Normalized())
		if err != nil {
			return nil, err
		}
		if err := s.layer.Embeddings.Set(key, v); err != nil {
			logger.Named("embed").Warn().Err(err).Msg("embedding cache write failed")
		}
		return v, nil
	})
	return v, err
}

// EmbedDocuments embeds corpus texts in one backend call without the cache or the language gate
func (s *Service) EmbedDocuments(ctx context.Context, texts []string) ([]model.Vector, error) {
	var raw []model.Vector
	err := s.retry(ctx, func() error {
		var err error
		raw, err = s.backend.Embed(ctx, texts)
		return err
	})
	if err != nil {
		return nil, err
	}
	if len(raw) != len(texts) {
		return nil, perr.Internalf("%s returned %d vectors for %d texts", s.backend.Name(), len(raw), len(texts))
	}

	out := make([]model.Vector, len(raw))
	for i, v := range raw {
		unit, err := s.unit(v)
		if err != nil {
			return nil, err
		}
		out[i] = unit
	}
	return out, nil
}

func (s *Service) cacheKey(c model.Claim) string {
	return normalize.Fingerprint(s.backend.Name(), c.Normalized())
}

func (s *Service) compute(ctx context.Context, text string) (model.Vector, error) {
	start := time.Now()
	defer func() { s.metrics.ObserveStage("embed_backend", time.Since(start)) }()

	vs, err := s.EmbedDocuments(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vs[0], nil
}

func (s *Service) unit(v model.Vector) (model.Vector, error) {
	if d := s.backend.Dimensions(); d > 0 && len(v) != d {
		return nil, perr.Internalf("%s returned %d dimensions, want %d", s.backend.Name(), len(v), d)
	}
	unit := v.Normalized()
	if unit == nil {
		return nil, perr.Internalf("%s returned a zero vector", s.backend.Name())
	}
	return unit, nil
}

// retry runs op with exponential backoff while its errors stay transient
func (s *Service) retry(ctx context.Context, op func() error) error {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = s.initial
	eb.MaxInterval = s.max
	eb.MaxElapsedTime = 0
	eb.Reset()
	policy := backoff.WithContext(backoff.WithMaxRetries(eb, uint64(s.attempts-1)), ctx)

	attempt := 0
	err := backoff.Retry(func() error {
		attempt++
		err := op()
		if err == nil {
			return nil
		}
		if !IsTransient(err) {
			return backoff.Permanent(err)
		}
		logger.C(ctx).Debug().Err(err).Int("attempt", attempt).Str("backend", s.backend.Name()).Msg("transient embedding failure")
		return err
	}, policy)
	if err == nil {
		return nil
	}

	if ctx.Err() != nil {
		return perr.Wrap(ctx.Err(), perr.ErrorCodeTimeout, "deadline exceeded during embedding")
	}
	if IsTransient(err) {
		return perr.Wrapf(err, perr.ErrorCodeUnavailable, "embedding backend %s unavailable", s.backend.Name())
	}
	return perr.Wrapf(err, perr.ErrorCodeUnknown, "embedding backend %s failed", s.backend.Name())
}
