package embed

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/sashabaranov/go-openai"

	"github.com/ppiankov/verity/internal/model"
	"github.com/ppiankov/verity/internal/util"
)

// OpenAIBackend implements Backend with the OpenAI embeddings API
type OpenAIBackend struct {
	client *openai.Client
	model  string
	dims   int
}

// NewOpenAIBackend creates a new OpenAI embeddings backend
func NewOpenAIBackend(cfg model.EmbeddingConfig) (*OpenAIBackend, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("OpenAI API key is required for the openai embedding backend")
	}

	clientConfig := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientConfig.BaseURL = cfg.BaseURL
	}
	clientConfig.HTTPClient = util.NewHTTPClient(cfg.Timeout, cfg.HTTPProxy, cfg.HTTPSProxy, cfg.NoProxy)

	name := cfg.Model
	if name == "" {
		name = string(openai.SmallEmbedding3)
	}

	return &OpenAIBackend{
		client: openai.NewClientWithConfig(clientConfig),
		model:  name,
		dims:   cfg.Dimensions,
	}, nil
}

// Name returns the backend name
func (b *OpenAIBackend) Name() string { return "openai" }

// Dimensions returns the requested vector length
func (b *OpenAIBackend) Dimensions() int { return b.dims }

// Embed requests embeddings for texts in one call
func (b *OpenAIBackend) Embed(ctx context.Context, texts []string) ([]model.Vector, error) {
	req := openai.EmbeddingRequest{
		Input: texts,
		Model: openai.EmbeddingModel(b.model),
	}
	if b.dims > 0 {
		req.Dimensions = b.dims
	}

	resp, err := b.client.CreateEmbeddings(ctx, req)
	if err != nil {
		return nil, classifyOpenAIError(err)
	}
	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("openai returned %d embeddings for %d inputs", len(resp.Data), len(texts))
	}

	out := make([]model.Vector, len(texts))
	for _, d := range resp.Data {
		if d.Index < 0 || d.Index >= len(out) {
			return nil, fmt.Errorf("openai returned out of range index %d", d.Index)
		}
		out[d.Index] = model.Vector(d.Embedding)
	}
	return out, nil
}

// classifyOpenAIError lifts go-openai errors into StatusError so retry logic can see the code
func classifyOpenAIError(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return &StatusError{Backend: "openai", StatusCode: apiErr.HTTPStatusCode, Body: apiErr.Message}
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		code := reqErr.HTTPStatusCode
		if code == 0 {
			code = http.StatusBadGateway
		}
		return &StatusError{Backend: "openai", StatusCode: code, Body: reqErr.Error()}
	}
	return fmt.Errorf("openai embeddings: %w", err)
}
