package embed

import (
	"fmt"
	"strings"

	"github.com/ppiankov/verity/internal/model"
)

// NewBackend creates an embedding backend based on configuration
func NewBackend(cfg model.EmbeddingConfig) (Backend, error) {
	switch strings.ToLower(cfg.Backend) {
	case "hash", "":
		return NewHashBackend(cfg.Dimensions), nil
	case "openai":
		return NewOpenAIBackend(cfg)
	case "http", "tei":
		return NewHTTPBackend(cfg)
	default:
		return nil, fmt.Errorf("unknown embedding backend: %s (supported: hash, openai, http)", cfg.Backend)
	}
}
