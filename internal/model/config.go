package model

import "time"

// Config is the complete process configuration, read once at start
type Config struct {
	Server    ServerConfig    `yaml:"server" mapstructure:"server"`
	Log       LogConfig       `yaml:"log" mapstructure:"log"`
	Embedding EmbeddingConfig `yaml:"embedding" mapstructure:"embedding"`
	Index     IndexConfig     `yaml:"index" mapstructure:"index"`
	LLM       LLMConfig       `yaml:"llm" mapstructure:"llm"`
	Inference InferenceConfig `yaml:"inference" mapstructure:"inference"`
	Cache     CacheConfig     `yaml:"cache" mapstructure:"cache"`
	RateLimit RateLimitConfig `yaml:"rate_limit" mapstructure:"rate_limit"`
	Corpus    CorpusConfig    `yaml:"corpus" mapstructure:"corpus"`
	Tracing   TracingConfig   `yaml:"tracing" mapstructure:"tracing"`
}

// ServerConfig configures the HTTP gateway
type ServerConfig struct {
	Addr            string        `yaml:"addr" mapstructure:"addr"`
	RequestTimeout  time.Duration `yaml:"request_timeout" mapstructure:"request_timeout"`   // Per-request pipeline deadline
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" mapstructure:"shutdown_timeout"` // Graceful drain budget
	SlowRequest     time.Duration `yaml:"slow_request" mapstructure:"slow_request"`         // Access log warns at or above this
	CORSOrigins     []string      `yaml:"cors_origins" mapstructure:"cors_origins"`
	MaxTopK         int           `yaml:"max_top_k" mapstructure:"max_top_k"`
}

// LogConfig configures zerolog
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"` // console or json
}

// EmbeddingConfig selects and configures the embedding backend
type EmbeddingConfig struct {
	Backend    string        `yaml:"backend" mapstructure:"backend"` // hash, openai, http
	Model      string        `yaml:"model" mapstructure:"model"`
	APIKey     string        `yaml:"api_key,omitempty" mapstructure:"api_key"`
	BaseURL    string        `yaml:"base_url,omitempty" mapstructure:"base_url"`
	Dimensions int           `yaml:"dimensions" mapstructure:"dimensions"`
	Timeout    time.Duration `yaml:"timeout" mapstructure:"timeout"`
	MaxTokens  int           `yaml:"max_tokens" mapstructure:"max_tokens"` // Claim token budget
	Languages  []string      `yaml:"languages" mapstructure:"languages"`
	HTTPProxy  string        `yaml:"http_proxy,omitempty" mapstructure:"http_proxy"`
	HTTPSProxy string        `yaml:"https_proxy,omitempty" mapstructure:"https_proxy"`
	NoProxy    string        `yaml:"no_proxy,omitempty" mapstructure:"no_proxy"`
}

// IndexConfig selects the vector index backend
type IndexConfig struct {
	Backend        string  `yaml:"backend" mapstructure:"backend"` // memory, weaviate, pgvector
	ScoreThreshold float64 `yaml:"score_threshold" mapstructure:"score_threshold"`
	WeaviateHost   string  `yaml:"weaviate_host" mapstructure:"weaviate_host"`
	WeaviateScheme string  `yaml:"weaviate_scheme" mapstructure:"weaviate_scheme"`
	WeaviateClass  string  `yaml:"weaviate_class" mapstructure:"weaviate_class"`
	PostgresURL    string  `yaml:"postgres_url,omitempty" mapstructure:"postgres_url"`
	PostgresTable  string  `yaml:"postgres_table" mapstructure:"postgres_table"`
}

// LLMConfig selects and configures the text generation backend
type LLMConfig struct {
	Provider    string        `yaml:"provider" mapstructure:"provider"` // openai, huggingface, anthropic, ollama
	Model       string        `yaml:"model" mapstructure:"model"`
	APIKey      string        `yaml:"api_key,omitempty" mapstructure:"api_key"`
	BaseURL     string        `yaml:"base_url,omitempty" mapstructure:"base_url"`
	Timeout     time.Duration `yaml:"timeout" mapstructure:"timeout"`
	MaxTokens   int           `yaml:"max_tokens" mapstructure:"max_tokens"`
	Temperature float32       `yaml:"temperature" mapstructure:"temperature"`
	TopP        float32       `yaml:"top_p" mapstructure:"top_p"`
	Stop        []string      `yaml:"stop,omitempty" mapstructure:"stop"`
	HTTPProxy   string        `yaml:"http_proxy,omitempty" mapstructure:"http_proxy"`
	HTTPSProxy  string        `yaml:"https_proxy,omitempty" mapstructure:"https_proxy"`
	NoProxy     string        `yaml:"no_proxy,omitempty" mapstructure:"no_proxy"`
}

// InferenceConfig bounds retries around the generation backend
type InferenceConfig struct {
	MaxAttempts       int           `yaml:"max_attempts" mapstructure:"max_attempts"`
	InitialBackoff    time.Duration `yaml:"initial_backoff" mapstructure:"initial_backoff"`
	MaxBackoff        time.Duration `yaml:"max_backoff" mapstructure:"max_backoff"`
	ValidationRetries int           `yaml:"validation_retries" mapstructure:"validation_retries"` // Re-rolls after malformed output
	StrictEvidence    bool          `yaml:"strict_evidence" mapstructure:"strict_evidence"`       // Drop sources not present in evidence
}

// CacheConfig sets the TTL of each logical cache
type CacheConfig struct {
	EmbeddingTTL    time.Duration `yaml:"embedding_ttl" mapstructure:"embedding_ttl"`
	SearchTTL       time.Duration `yaml:"search_ttl" mapstructure:"search_ttl"`
	VerdictTTL      time.Duration `yaml:"verdict_ttl" mapstructure:"verdict_ttl"`
	CleanupInterval time.Duration `yaml:"cleanup_interval" mapstructure:"cleanup_interval"`
	PersistentDir   string        `yaml:"persistent_dir,omitempty" mapstructure:"persistent_dir"` // Empty keeps everything in memory
	UpstreamTimeout time.Duration `yaml:"upstream_timeout" mapstructure:"upstream_timeout"`       // Bound on coalesced work after callers leave
}

// TierConfig is one token bucket
type TierConfig struct {
	Rate  float64 `yaml:"rate" mapstructure:"rate"` // Tokens per second
	Burst int     `yaml:"burst" mapstructure:"burst"`
}

// RateLimitConfig configures admission control
type RateLimitConfig struct {
	Enabled       bool          `yaml:"enabled" mapstructure:"enabled"`
	Anonymous     TierConfig    `yaml:"anonymous" mapstructure:"anonymous"`
	Authenticated TierConfig    `yaml:"authenticated" mapstructure:"authenticated"`
	Global        TierConfig    `yaml:"global" mapstructure:"global"`
	Reserve       int           `yaml:"reserve" mapstructure:"reserve"` // Global tokens only authenticated callers may take
	APIKeys       []string      `yaml:"api_keys,omitempty" mapstructure:"api_keys"`
	IdleTTL       time.Duration `yaml:"idle_ttl" mapstructure:"idle_ttl"`
}

// CorpusConfig configures record loading
type CorpusConfig struct {
	Files         []string `yaml:"files,omitempty" mapstructure:"files"` // Loaded by serve before accepting traffic
	Workers       int      `yaml:"workers" mapstructure:"workers"`
	BulkThreshold int      `yaml:"bulk_threshold" mapstructure:"bulk_threshold"` // Batches this large flush the search cache
}

// TracingConfig configures OpenTelemetry
type TracingConfig struct {
	Enabled     bool   `yaml:"enabled" mapstructure:"enabled"`
	Exporter    string `yaml:"exporter" mapstructure:"exporter"` // stdout or none
	ServiceName string `yaml:"service_name" mapstructure:"service_name"`
}

// DefaultConfig returns the built-in defaults
func DefaultConfig() Config {
	return Config{
		Server: ServerConfig{
			Addr:            ":8080",
			RequestTimeout:  30 * time.Second,
			ShutdownTimeout: 15 * time.Second,
			SlowRequest:     5 * time.Second,
			CORSOrigins:     []string{"*"},
			MaxTopK:         10,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "console",
		},
		Embedding: EmbeddingConfig{
			Backend:    "hash",
			Model:      "text-embedding-3-small",
			Dimensions: 384,
			Timeout:    10 * time.Second,
			MaxTokens:  128,
			Languages:  []string{"en"},
		},
		Index: IndexConfig{
			Backend:        "memory",
			ScoreThreshold: 0.65,
			WeaviateHost:   "localhost:8081",
			WeaviateScheme: "http",
			WeaviateClass:  "FactCheck",
			PostgresTable:  "factchecks",
		},
		LLM: LLMConfig{
			Provider:    "openai",
			Model:       "gpt-4o-mini",
			Timeout:     60 * time.Second,
			MaxTokens:   400,
			Temperature: 0.2,
			TopP:        0.9,
			Stop:        []string{"\n\n\n"},
		},
		Inference: InferenceConfig{
			MaxAttempts:       3,
			InitialBackoff:    250 * time.Millisecond,
			MaxBackoff:        4 * time.Second,
			ValidationRetries: 2,
			StrictEvidence:    true,
		},
		Cache: CacheConfig{
			EmbeddingTTL:    24 * time.Hour,
			SearchTTL:       12 * time.Hour,
			VerdictTTL:      6 * time.Hour,
			CleanupInterval: 10 * time.Minute,
			UpstreamTimeout: 2 * time.Minute,
		},
		RateLimit: RateLimitConfig{
			Enabled:       true,
			Anonymous:     TierConfig{Rate: 0.5, Burst: 5},
			Authenticated: TierConfig{Rate: 5, Burst: 20},
			Global:        TierConfig{Rate: 20, Burst: 40},
			Reserve:       10,
			IdleTTL:       10 * time.Minute,
		},
		Corpus: CorpusConfig{
			Workers:       4,
			BulkThreshold: 50,
		},
		Tracing: TracingConfig{
			Enabled:     false,
			Exporter:    "stdout",
			ServiceName: "verity",
		},
	}
}
