package embed

import (
	"context"
	"hash/fnv"
	"strings"
	"unicode"

	"github.com/ppiankov/verity/internal/model"
)

// HashBackend embeds text locally by feature hashing word unigrams and bigrams
// Output is a pure function of the input text
type HashBackend struct {
	dims int
}

// NewHashBackend creates a hashing backend with dims dimensions
func NewHashBackend(dims int) *HashBackend {
	if dims <= 0 {
		dims = 384
	}
	return &HashBackend{dims: dims}
}

// Name returns the backend name
func (b *HashBackend) Name() string { return "hash" }

// Dimensions returns the vector length
func (b *HashBackend) Dimensions() int { return b.dims }

// Embed hashes every text; an input with no words yields a zero vector
func (b *HashBackend) Embed(ctx context.Context, texts []string) ([]model.Vector, error) {
	out := make([]model.Vector, len(texts))
	for i, text := range texts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		out[i] = b.vector(text)
	}
	return out, nil
}

func (b *HashBackend) vector(text string) model.Vector {
	v := make(model.Vector, b.dims)
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	for i, w := range words {
		b.add(v, w, 1.0)
		if i > 0 {
			b.add(v, words[i-1]+" "+w, 0.5)
		}
	}
	return v
}

func (b *HashBackend) add(v model.Vector, feature string, weight float32) {
	h := fnv.New64a()
	_, _ = h.Write([]byte(feature))
	sum := h.Sum64()
	idx := sum % uint64(b.dims)
	if sum>>63 == 1 {
		weight = -weight
	}
	v[idx] += weight
}
