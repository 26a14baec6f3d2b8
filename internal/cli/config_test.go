package cli

import (
	"strings"
	"testing"
	"time"

	"github.com/spf13/viper"

	"github.com/ppiankov/verity/internal/model"
)

func TestSetDefaultsRoundTrip(t *testing.T) {
	v := viper.New()
	if err := setDefaults(v); err != nil {
		t.Fatalf("setDefaults: %v", err)
	}

	var c model.Config
	if err := v.Unmarshal(&c); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	want := model.DefaultConfig()
	if c.Server.Addr != want.Server.Addr {
		t.Errorf("addr = %q, want %q", c.Server.Addr, want.Server.Addr)
	}
	if c.Server.RequestTimeout != 30*time.Second {
		t.Errorf("request timeout = %v", c.Server.RequestTimeout)
	}
	if c.Index.ScoreThreshold != 0.65 {
		t.Errorf("threshold = %v", c.Index.ScoreThreshold)
	}
	if c.RateLimit.Anonymous.Burst != want.RateLimit.Anonymous.Burst {
		t.Errorf("anonymous burst = %d", c.RateLimit.Anonymous.Burst)
	}
	if len(c.LLM.Stop) != 1 || c.LLM.Stop[0] != "\n\n\n" {
		t.Errorf("stop = %q", c.LLM.Stop)
	}
}

func TestEnvOverridesDefaults(t *testing.T) {
	t.Setenv("VERITY_SERVER_ADDR", ":9090")
	t.Setenv("VERITY_LLM_API_KEY", "sk-test")
	t.Setenv("VERITY_CACHE_VERDICT_TTL", "1m")

	v := viper.New()
	v.SetEnvPrefix("VERITY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if err := setDefaults(v); err != nil {
		t.Fatalf("setDefaults: %v", err)
	}

	var c model.Config
	if err := v.Unmarshal(&c); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if c.Server.Addr != ":9090" {
		t.Errorf("addr = %q", c.Server.Addr)
	}
	if c.LLM.APIKey != "sk-test" {
		t.Errorf("api key not read from the environment")
	}
	if c.Cache.VerdictTTL != time.Minute {
		t.Errorf("verdict ttl = %v", c.Cache.VerdictTTL)
	}
}

func TestApplyProviderKeys(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "ant")
	t.Setenv("OPENAI_API_KEY", "oai")
	t.Setenv("OLLAMA_BASE_URL", "http://ollama:11434")

	c := model.DefaultConfig()
	c.LLM.Provider = "anthropic"
	c.Embedding.Backend = "openai"
	applyProviderKeys(&c)
	if c.LLM.APIKey != "ant" || c.Embedding.APIKey != "oai" {
		t.Errorf("keys = %q, %q", c.LLM.APIKey, c.Embedding.APIKey)
	}

	c = model.DefaultConfig()
	c.LLM.Provider = "openai"
	c.LLM.APIKey = "explicit"
	applyProviderKeys(&c)
	if c.LLM.APIKey != "explicit" {
		t.Errorf("explicit key overwritten: %q", c.LLM.APIKey)
	}

	c = model.DefaultConfig()
	c.LLM.Provider = "ollama"
	applyProviderKeys(&c)
	if c.LLM.BaseURL != "http://ollama:11434" {
		t.Errorf("base url = %q", c.LLM.BaseURL)
	}
}

func TestRedacted(t *testing.T) {
	c := model.DefaultConfig()
	c.LLM.APIKey = "sk-secret"
	c.Index.PostgresURL = "postgres://u:p@db/verity"
	c.RateLimit.APIKeys = []string{"k1", "k2"}

	r := redacted(c)
	if r.LLM.APIKey == c.LLM.APIKey || r.Index.PostgresURL == c.Index.PostgresURL {
		t.Error("secrets not masked")
	}
	if r.Embedding.APIKey != "" {
		t.Errorf("empty key should stay empty, got %q", r.Embedding.APIKey)
	}
	for _, k := range r.RateLimit.APIKeys {
		if k != "********" {
			t.Errorf("api key %q not masked", k)
		}
	}
	if c.RateLimit.APIKeys[0] != "k1" {
		t.Error("redacted modified the original")
	}
}
