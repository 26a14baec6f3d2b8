// Package metrics holds the prometheus collectors for the verification pipeline
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "verity"

// Metrics groups every collector on a private registry
// A nil *Metrics is valid and records nothing
type Metrics struct {
	registry *prometheus.Registry

	requests       *prometheus.CounterVec
	stageDuration  *prometheus.HistogramVec
	cacheLookups   *prometheus.CounterVec
	coalesced      *prometheus.CounterVec
	rateLimited    *prometheus.CounterVec
	llmCalls       *prometheus.CounterVec
	llmTransitions *prometheus.CounterVec
	fallbacks      *prometheus.CounterVec
	corpusRecords  prometheus.Gauge
}

// New registers all collectors on a fresh registry
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,
		requests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests by route and status code",
		}, []string{"route", "code"}),
		stageDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "stage_duration_seconds",
			Help:      "Pipeline stage latency in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 15), // 1ms to ~16s
		}, []string{"stage"}),
		cacheLookups: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "lookups_total",
			Help:      "Cache lookups by namespace and result",
		}, []string{"namespace", "result"}),
		coalesced: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "coalesced_total",
			Help:      "Callers that shared an in-flight computation",
		}, []string{"namespace"}),
		rateLimited: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ratelimit",
			Name:      "rejected_total",
			Help:      "Requests rejected by admission control per tier",
		}, []string{"tier"}),
		llmCalls: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "llm",
			Name:      "calls_total",
			Help:      "Generation backend calls by provider and outcome",
		}, []string{"provider", "outcome"}),
		llmTransitions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "llm",
			Name:      "state_transitions_total",
			Help:      "Inference attempt state transitions",
		}, []string{"state"}),
		fallbacks: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "fallbacks_total",
			Help:      "Fallback verdicts served by diagnostic",
		}, []string{"diagnostic"}),
		corpusRecords: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "corpus",
			Name:      "records",
			Help:      "Records currently in the vector index",
		}),
	}
}

// Registry exposes the underlying registry for tests
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in exposition format
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Request counts one finished HTTP request
func (m *Metrics) Request(route, code string) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(route, code).Inc()
}

// ObserveStage records how long a pipeline stage took
func (m *Metrics) ObserveStage(stage string, d time.Duration) {
	if m == nil {
		return
	}
	m.stageDuration.WithLabelValues(stage).Observe(d.Seconds())
}

// CacheHit counts a cache hit
func (m *Metrics) CacheHit(ns string) {
	if m == nil {
		return
	}
	m.cacheLookups.WithLabelValues(ns, "hit").Inc()
}

// CacheMiss counts a cache miss
func (m *Metrics) CacheMiss(ns string) {
	if m == nil {
		return
	}
	m.cacheLookups.WithLabelValues(ns, "miss").Inc()
}

// Coalesced counts a caller served by someone else's flight
func (m *Metrics) Coalesced(ns string) {
	if m == nil {
		return
	}
	m.coalesced.WithLabelValues(ns).Inc()
}

// RateLimited counts an admission rejection
func (m *Metrics) RateLimited(tier string) {
	if m == nil {
		return
	}
	m.rateLimited.WithLabelValues(tier).Inc()
}

// LLMCall counts a backend call outcome (ok, transient, permanent)
func (m *Metrics) LLMCall(provider, outcome string) {
	if m == nil {
		return
	}
	m.llmCalls.WithLabelValues(provider, outcome).Inc()
}

// LLMState counts an attempt entering state
func (m *Metrics) LLMState(state string) {
	if m == nil {
		return
	}
	m.llmTransitions.WithLabelValues(state).Inc()
}

// Fallback counts a fallback verdict
func (m *Metrics) Fallback(diagnostic string) {
	if m == nil {
		return
	}
	m.fallbacks.WithLabelValues(diagnostic).Inc()
}

// CorpusSize sets the indexed record count
func (m *Metrics) CorpusSize(n int) {
	if m == nil {
		return
	}
	m.corpusRecords.Set(float64(n))
}
