// Package normalize turns claim text into its canonical form
// Pipeline order
// 1 UTF-8 repair drop invalid bytes
// 2 Unicode NFKC normalization
// 3 Case folding
// 4 Remove combining marks and format characters
// 5 Width fold fullwidth to ASCII
// 6 Collapse all whitespace to single spaces and trim
package normalize

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"sync"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
	"golang.org/x/text/width"
)

// FingerprintPrefix versions every fingerprint so a format change never reads stale cache entries
const FingerprintPrefix = "verity:v1:"

// DefaultMaxTokens is the claim token budget
const DefaultMaxTokens = 128

var chainPool = sync.Pool{
	New: func() any {
		return transform.Chain(
			norm.NFKC,
			cases.Fold(),
			runes.Remove(runes.In(unicode.Mn)),
			runes.Remove(runes.In(unicode.Cf)),
			width.Fold,
		)
	},
}

// Text returns the normalized form of s
func Text(s string) string {
	if s == "" {
		return ""
	}
	s = strings.ToValidUTF8(s, "")

	tr := chainPool.Get().(transform.Transformer)
	ns, _, err := transform.String(tr, s)
	tr.Reset()
	chainPool.Put(tr)
	if err != nil {
		ns = strings.ToLower(s)
	}

	return strings.Join(strings.Fields(ns), " ")
}

// Truncate keeps at most maxTokens whitespace separated tokens
// maxTokens <= 0 disables the budget
func Truncate(s string, maxTokens int) string {
	if maxTokens <= 0 {
		return s
	}
	fields := strings.Fields(s)
	if len(fields) <= maxTokens {
		return strings.Join(fields, " ")
	}
	return strings.Join(fields[:maxTokens], " ")
}

// Fingerprint returns a stable key for the given parts
// Parts are joined with the ASCII unit separator so ("ab","c") and ("a","bc") differ
func Fingerprint(parts ...string) string {
	hash := sha256.Sum256([]byte(strings.Join(parts, "\x1f")))
	return FingerprintPrefix + hex.EncodeToString(hash[:])
}
