package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ppiankov/verity/internal/cache"
	"github.com/ppiankov/verity/internal/corpus"
	"github.com/ppiankov/verity/internal/embed"
	"github.com/ppiankov/verity/internal/index"
	"github.com/ppiankov/verity/internal/llm"
	"github.com/ppiankov/verity/internal/metrics"
	"github.com/ppiankov/verity/internal/model"
	"github.com/ppiankov/verity/internal/pipeline"
	"github.com/ppiankov/verity/internal/ratelimit"
)

const microchipJSON = `{"verdict":"false","summary":"No vaccine contains a microchip.","confidence":94,"sources":["https://www.snopes.com/fact-check/microchip"]}`

// countingBackend counts embedding calls
type countingBackend struct {
	*embed.HashBackend
	calls atomic.Int32
}

func (b *countingBackend) Embed(ctx context.Context, texts []string) ([]model.Vector, error) {
	b.calls.Add(1)
	return b.HashBackend.Embed(ctx, texts)
}

type testServer struct {
	server   *Server
	backend  *countingBackend
	provider *llm.StaticProvider
	metrics  *metrics.Metrics
}

type serverOption func(*model.Config)

func newTestServer(t *testing.T, reply llm.Reply, opts ...serverOption) *testServer {
	t.Helper()
	cfg := model.DefaultConfig()
	cfg.RateLimit.Enabled = false
	for _, o := range opts {
		o(&cfg)
	}

	m := metrics.New()
	layer := cache.NewLayer(cache.NewMemoryCache(time.Hour, time.Minute), cache.Options{
		EmbeddingTTL: time.Hour,
		SearchTTL:    time.Hour,
		VerdictTTL:   time.Hour,
		Metrics:      m,
	})
	backend := &countingBackend{HashBackend: embed.NewHashBackend(256)}
	svc := embed.NewService(embed.Options{Backend: backend, Layer: layer, Metrics: m})
	idx := index.NewMemoryIndex(0)

	ingester := corpus.NewIngester(corpus.Options{Index: idx, Embedder: svc, Layer: layer, Metrics: m})
	_, err := ingester.Ingest(context.Background(), []model.FactCheckRecord{
		{
			ID:          "snopes-1",
			Source:      "Snopes",
			Claim:       "COVID-19 vaccines contain microchips",
			Rating:      "False",
			URL:         "https://www.snopes.com/fact-check/microchip",
			PublishedAt: time.Date(2021, 5, 3, 0, 0, 0, 0, time.UTC),
		},
		{
			ID:     "pf-2",
			Source: "PolitiFact",
			Claim:  "Drinking hot water cures the flu",
			URL:    "https://www.politifact.com/factchecks/hot-water",
		},
	})
	require.NoError(t, err)
	backend.calls.Store(0)

	provider := llm.NewStaticProvider(reply)
	orch := llm.NewOrchestrator(llm.Options{
		Provider:       provider,
		Layer:          layer,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     2 * time.Millisecond,
		StrictEvidence: true,
		Metrics:        m,
	})
	p := pipeline.New(pipeline.Options{Embedder: svc, Index: idx, Orchestrator: orch, Layer: layer, Metrics: m})

	var limiter *ratelimit.Limiter
	if cfg.RateLimit.Enabled {
		limiter = ratelimit.New(cfg.RateLimit, m)
	}
	return &testServer{
		server:   NewServer(Options{Config: cfg.Server, Pipeline: p, Limiter: limiter, Metrics: m, Version: "test"}),
		backend:  backend,
		provider: provider,
		metrics:  m,
	}
}

func (ts *testServer) do(method, path, body string, header ...string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	rec := httptest.NewRecorder()
	ts.server.Handler().ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func TestFactCheckMicrochips(t *testing.T) {
	ts := newTestServer(t, llm.Reply{Text: microchipJSON})

	rec := ts.do(http.MethodPost, "/v1/factcheck", `{"claim":"Vaccines contain microchips","detailed":true}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	resp := decode[factCheckResponse](t, rec)
	assert.NotEmpty(t, resp.ID)
	assert.Equal(t, model.VerdictFalse, resp.Verdict)
	assert.Equal(t, 94, resp.Confidence)
	assert.Equal(t, []string{"https://www.snopes.com/fact-check/microchip"}, resp.Sources)
	assert.GreaterOrEqual(t, resp.ProcessingTime, int64(0))
	require.NotNil(t, resp.Evidence)
	require.Len(t, resp.Evidence.Records, 1)
	assert.Equal(t, "snopes-1", resp.Evidence.Records[0].ID)
	assert.Contains(t, resp.Evidence.Text, "Date: 2021-05-03")
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestFactCheckWithoutDetailOmitsEvidence(t *testing.T) {
	ts := newTestServer(t, llm.Reply{Text: microchipJSON})

	rec := ts.do(http.MethodPost, "/v1/factcheck", `{"claim":"Vaccines contain microchips"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var raw map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &raw))
	assert.NotContains(t, raw, "evidence")
	assert.Contains(t, raw, "processing_time")
}

func TestFactCheckNonJSONModelOutput(t *testing.T) {
	ts := newTestServer(t, llm.Reply{Text: "Honestly, this one is false."})

	rec := ts.do(http.MethodPost, "/v1/factcheck", `{"claim":"Vaccines contain microchips"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	resp := decode[factCheckResponse](t, rec)
	assert.Equal(t, model.VerdictUnverified, resp.Verdict)
	assert.Equal(t, 0, resp.Confidence)
	assert.Equal(t, []string{}, resp.Sources)
	assert.Equal(t, model.FallbackSummary, resp.Summary)
}

func TestFactCheckNoEvidence(t *testing.T) {
	ts := newTestServer(t, llm.Reply{Text: microchipJSON})

	rec := ts.do(http.MethodPost, "/v1/factcheck", `{"claim":"Penguins run the central bank of Atlantis"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	resp := decode[factCheckResponse](t, rec)
	assert.Equal(t, model.VerdictUnverified, resp.Verdict)
	assert.Equal(t, model.NoEvidenceSummary, resp.Summary)
	assert.Zero(t, ts.provider.Calls())
}

func TestFactCheckBadRequests(t *testing.T) {
	ts := newTestServer(t, llm.Reply{Text: microchipJSON})

	tests := []struct {
		name  string
		body  string
		code  string
		field string
	}{
		{"empty body", ``, "json", ""},
		{"not json", `claim=x`, "json", ""},
		{"unknown field", `{"claim":"x","verbose":true}`, "json", ""},
		{"trailing data", `{"claim":"x"}{}`, "json", ""},
		{"missing claim", `{"top_k":2}`, "validation", "claim"},
		{"negative top_k", `{"claim":"x","top_k":-1}`, "validation", "top_k"},
		{"top_k above max", `{"claim":"Vaccines contain microchips","top_k":11}`, "validation", "top_k"},
		{"blank claim", `{"claim":"   "}`, "validation", "claim"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := ts.do(http.MethodPost, "/v1/factcheck", tt.body)
			require.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
			env := decode[Envelope](t, rec)
			assert.Equal(t, tt.code, env.Code)
			assert.Equal(t, 400, env.StatusCode)
			assert.NotEmpty(t, env.RequestID)
			if tt.field != "" {
				assert.Equal(t, tt.field, env.Field)
			}
		})
	}
	assert.Zero(t, ts.provider.Calls())
}

func TestAnonymousBurstExhaustion(t *testing.T) {
	ts := newTestServer(t, llm.Reply{Text: microchipJSON}, func(c *model.Config) {
		c.RateLimit = model.RateLimitConfig{
			Enabled:   true,
			Anonymous: model.TierConfig{Rate: 0.001, Burst: 2},
			APIKeys:   []string{"sekret"},
		}
	})

	for i := 0; i < 2; i++ {
		rec := ts.do(http.MethodPost, "/v1/factcheck", `{"claim":"Vaccines contain microchips"}`)
		require.Equal(t, http.StatusOK, rec.Code)
	}
	embedCalls, llmCalls := ts.backend.calls.Load(), ts.provider.Calls()

	for i := 0; i < 3; i++ {
		rec := ts.do(http.MethodPost, "/v1/factcheck", `{"claim":"Drinking hot water cures the flu"}`)
		require.Equal(t, http.StatusTooManyRequests, rec.Code)
		assert.NotEmpty(t, rec.Header().Get("Retry-After"))
		env := decode[Envelope](t, rec)
		assert.Equal(t, "too_many_requests", env.Code)
	}
	assert.Equal(t, embedCalls, ts.backend.calls.Load(), "rejected requests reached the embedder")
	assert.Equal(t, llmCalls, ts.provider.Calls(), "rejected requests reached the provider")

	// Authenticated callers have their own bucket
	rec := ts.do(http.MethodPost, "/v1/factcheck", `{"claim":"Vaccines contain microchips"}`, "Authorization", "Bearer sekret")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = ts.do(http.MethodPost, "/v1/factcheck", `{"claim":"Vaccines contain microchips"}`, "X-API-Key", "guess")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	// Reads of the catalog are not limited
	assert.Equal(t, http.StatusOK, ts.do(http.MethodGet, "/v1/sources", "").Code)
}

func TestDeadlineReturns504(t *testing.T) {
	ts := newTestServer(t, llm.Reply{Text: microchipJSON, Delay: 300 * time.Millisecond}, func(c *model.Config) {
		c.Server.RequestTimeout = 30 * time.Millisecond
	})

	rec := ts.do(http.MethodPost, "/v1/factcheck", `{"claim":"Vaccines contain microchips"}`)
	require.Equal(t, http.StatusGatewayTimeout, rec.Code, rec.Body.String())
	env := decode[Envelope](t, rec)
	assert.Equal(t, "timeout", env.Code)
}

func TestSearch(t *testing.T) {
	ts := newTestServer(t, llm.Reply{Text: microchipJSON})

	rec := ts.do(http.MethodGet, "/v1/search?q=hot+water+cures+flu", "")
	require.Equal(t, http.StatusOK, rec.Code)
	results := decode[[]searchResult](t, rec)
	require.NotEmpty(t, results)
	assert.Equal(t, "pf-2", results[0].ID)
	assert.Equal(t, "https://www.politifact.com/factchecks/hot-water", results[0].SourceURL)
	assert.Nil(t, results[0].PublishedAt)
	assert.Zero(t, ts.provider.Calls())

	assert.Equal(t, http.StatusBadRequest, ts.do(http.MethodGet, "/v1/search", "").Code)
	assert.Equal(t, http.StatusBadRequest, ts.do(http.MethodGet, "/v1/search?q=flu&top_k=abc", "").Code)
	assert.Equal(t, http.StatusBadRequest, ts.do(http.MethodGet, "/v1/search?q=flu&top_k=0", "").Code)
}

func TestSourcesHealthMetrics(t *testing.T) {
	ts := newTestServer(t, llm.Reply{Text: microchipJSON})

	rec := ts.do(http.MethodGet, "/v1/sources", "")
	require.Equal(t, http.StatusOK, rec.Code)
	sources := decode[[]model.Source](t, rec)
	require.Len(t, sources, 2)
	assert.Equal(t, "PolitiFact", sources[0].Name)
	assert.Equal(t, "snopes", sources[1].ID)
	assert.Equal(t, 1, sources[1].FactCheckCount)

	rec = ts.do(http.MethodGet, "/health", "")
	require.Equal(t, http.StatusOK, rec.Code)
	health := decode[healthResponse](t, rec)
	assert.Equal(t, "ok", health.Status)
	assert.Equal(t, 2, health.IndexCount)
	assert.Equal(t, "static", health.Provider)

	rec = ts.do(http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `verity_http_requests_total{code="200",route="/v1/sources"} 1`)
	assert.Contains(t, rec.Body.String(), "verity_corpus_records 2")

	rec = ts.do(http.MethodGet, "/v1/nope", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "not_found", decode[Envelope](t, rec).Code)
}

func TestRecoverJSON(t *testing.T) {
	h := RecoverJSON(http.HandlerFunc(func(http.ResponseWriter, *http.Request) { panic("boom") }))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	require.Equal(t, http.StatusInternalServerError, rec.Code)
	env := decode[Envelope](t, rec)
	assert.Equal(t, "panic", env.Code)
	assert.Equal(t, "internal error", env.Error)
}
