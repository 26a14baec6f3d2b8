// Package llm wraps text generation backends and turns evidence into verdicts
package llm

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"regexp"
	"strings"
	"time"
)

// Provider defines the interface for LLM providers
type Provider interface {
	// Name returns the provider name
	Name() string

	// Generate returns the raw completion for one prompt
	Generate(ctx context.Context, req GenerateRequest) (*GenerateResponse, error)

	// IsAvailable checks if the provider is properly configured and accessible
	IsAvailable(ctx context.Context) bool
}

// Params are the sampling parameters of one call
type Params struct {
	MaxTokens   int
	Temperature float32
	TopP        float32
	Stop        []string
}

// GenerateRequest is one completion request
type GenerateRequest struct {
	System string
	Prompt string
	Params Params
}

// GenerateResponse is the raw model output
type GenerateResponse struct {
	Text       string
	Model      string
	TokensUsed int
}

// Config holds LLM provider configuration
type Config struct {
	// Provider name: "openai", "huggingface", "anthropic", "ollama", ""
	Provider string

	// Model name (provider-specific)
	Model string

	// APIKey for OpenAI/Hugging Face/Anthropic
	APIKey string

	// BaseURL for custom endpoints (e.g., Ollama)
	BaseURL string

	Timeout time.Duration

	// Params are the default sampling parameters
	Params Params

	// Proxy settings
	HTTPProxy  string
	HTTPSProxy string
	NoProxy    string
}

// DefaultConfig returns sensible defaults
func DefaultConfig() Config {
	return Config{
		Provider: "", // Disabled by default
		Timeout:  60 * time.Second,
		Params: Params{
			MaxTokens:   400,
			Temperature: 0.2,
			TopP:        0.9,
			Stop:        []string{"\n\n\n"},
		},
	}
}

func (c Config) timeout() time.Duration {
	if c.Timeout <= 0 {
		return 60 * time.Second
	}
	return c.Timeout
}

func (c Config) maxTokens(p Params) int {
	if p.MaxTokens > 0 {
		return p.MaxTokens
	}
	if c.Params.MaxTokens > 0 {
		return c.Params.MaxTokens
	}
	return 400
}

// StatusError is a non-2xx reply from a provider API
type StatusError struct {
	Provider   string
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s API error (%d): %s", e.Provider, e.StatusCode, e.Message)
}

// Transient reports whether the status is worth retrying
func (e *StatusError) Transient() bool {
	return e.StatusCode == http.StatusRequestTimeout ||
		e.StatusCode == http.StatusTooManyRequests ||
		e.StatusCode >= http.StatusInternalServerError
}

// IsTransient classifies provider errors: timeouts, connection failures, 408, 429 and 5xx retry
func IsTransient(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var se *StatusError
	if errors.As(err, &se) {
		return se.Transient()
	}
	var ne net.Error
	if errors.As(err, &ne) {
		return true
	}
	var oe *net.OpError
	return errors.As(err, &oe)
}

var urlPattern = regexp.MustCompile(`https?://[^\s\)\]"'<>]+`)

// extractURLs finds every http(s) URL in text
func extractURLs(text string) []string {
	matches := urlPattern.FindAllString(text, -1)
	var urls []string
	seen := make(map[string]bool)
	for _, m := range matches {
		m = strings.TrimRight(m, ".,;:!?")
		if !seen[m] {
			urls = append(urls, m)
			seen[m] = true
		}
	}
	return urls
}

func contains(list []string, item string) bool {
	for _, s := range list {
		if s == item {
			return true
		}
	}
	return false
}
