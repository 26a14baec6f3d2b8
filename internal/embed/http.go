package embed

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/ppiankov/verity/internal/model"
	"github.com/ppiankov/verity/internal/util"
)

// HTTPBackend talks to a text-embeddings-inference style server
// (POST {base}/embed {"inputs": [...]} -> [[...], ...])
type HTTPBackend struct {
	client  *http.Client
	baseURL string
	dims    int
}

type httpEmbedRequest struct {
	Inputs    []string `json:"inputs"`
	Normalize bool     `json:"normalize"`
	Truncate  bool     `json:"truncate"`
}

// NewHTTPBackend creates a new HTTP embedding backend
func NewHTTPBackend(cfg model.EmbeddingConfig) (*HTTPBackend, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("base_url is required for the http embedding backend")
	}
	return &HTTPBackend{
		client:  util.NewHTTPClient(cfg.Timeout, cfg.HTTPProxy, cfg.HTTPSProxy, cfg.NoProxy),
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		dims:    cfg.Dimensions,
	}, nil
}

// Name returns the backend name
func (b *HTTPBackend) Name() string { return "http" }

// Dimensions returns the configured vector length
func (b *HTTPBackend) Dimensions() int { return b.dims }

// Embed posts texts and decodes the vectors
func (b *HTTPBackend) Embed(ctx context.Context, texts []string) ([]model.Vector, error) {
	body, err := json.Marshal(httpEmbedRequest{Inputs: texts, Normalize: true, Truncate: true})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.baseURL+"/embed", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := b.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("embedding request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, &StatusError{Backend: "http", StatusCode: resp.StatusCode, Body: string(msg)}
	}

	var vectors [][]float32
	if err := json.NewDecoder(resp.Body).Decode(&vectors); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if len(vectors) != len(texts) {
		return nil, fmt.Errorf("embedding server returned %d vectors for %d inputs", len(vectors), len(texts))
	}

	out := make([]model.Vector, len(vectors))
	for i, v := range vectors {
		out[i] = model.Vector(v)
	}
	return out, nil
}
