package index

import (
	"context"
	"fmt"
	"strings"

	"github.com/ppiankov/verity/internal/model"
)

// New creates the configured index backend; dims is the embedding length
func New(ctx context.Context, cfg model.IndexConfig, dims int) (Index, error) {
	switch strings.ToLower(cfg.Backend) {
	case "memory", "":
		return NewMemoryIndex(dims), nil
	case "weaviate":
		return NewWeaviateIndex(ctx, cfg)
	case "pgvector", "postgres":
		return NewPgVectorIndex(ctx, cfg, dims)
	default:
		return nil, fmt.Errorf("unknown index backend: %s (supported: memory, weaviate, pgvector)", cfg.Backend)
	}
}
