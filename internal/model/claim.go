package model

import (
	"math"

	"github.com/ppiankov/verity/internal/normalize"
)

// Claim is a user-submitted assertion in canonical form
// Built only via NewClaim; the zero value is an empty claim
type Claim struct {
	raw         string
	normalized  string
	fingerprint string
	script      string
	language    string
}

// NewClaim normalizes raw text, applies the token budget and fingerprints the result
func NewClaim(raw string, maxTokens int) Claim {
	norm := normalize.Truncate(normalize.Text(raw), maxTokens)
	script, lang := normalize.DetectLanguage(norm)
	c := Claim{
		raw:        raw,
		normalized: norm,
		script:     script,
		language:   lang,
	}
	if norm != "" {
		c.fingerprint = normalize.Fingerprint(norm)
	}
	return c
}

// Raw returns the text as submitted
func (c Claim) Raw() string { return c.raw }

// Normalized returns the canonical text used for embedding and caching
func (c Claim) Normalized() string { return c.normalized }

// Fingerprint returns the stable cache key of the normalized text
func (c Claim) Fingerprint() string { return c.fingerprint }

// Language returns the detected language code, empty when unknown
func (c Claim) Language() string { return c.language }

// Script returns the predominant Unicode script
func (c Claim) Script() string { return c.script }

// Empty reports whether nothing survived normalization
func (c Claim) Empty() bool { return c.normalized == "" }

// Vector is a fixed-length embedding
type Vector []float32

// Norm returns the euclidean length
func (v Vector) Norm() float64 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	return math.Sqrt(sum)
}

// Normalized returns a unit-length copy, or nil for a zero vector
func (v Vector) Normalized() Vector {
	n := v.Norm()
	if n == 0 || math.IsNaN(n) || math.IsInf(n, 0) {
		return nil
	}
	out := make(Vector, len(v))
	for i, x := range v {
		out[i] = float32(float64(x) / n)
	}
	return out
}

// Cosine returns the cosine similarity of a and b
// Mismatched dimensions or zero vectors score 0
func Cosine(a, b Vector) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
