package normalize

import (
	"slices"
	"strings"
	"unicode"
)

// script counters in tie-break order, specific scripts win over Latin
var scripts = []struct {
	name  string
	table *unicode.RangeTable
	lang  string
}{
	{"Hiragana", unicode.Hiragana, "ja"},
	{"Katakana", unicode.Katakana, "ja"},
	{"Hangul", unicode.Hangul, "ko"},
	{"Han", unicode.Han, ""},
	{"Arabic", unicode.Arabic, "ar"},
	{"Hebrew", unicode.Hebrew, "he"},
	{"Thai", unicode.Thai, "th"},
	{"Greek", unicode.Greek, "el"},
	{"Cyrillic", unicode.Cyrillic, ""},
	{"Devanagari", unicode.Devanagari, ""},
	{"Latin", unicode.Latin, "en"},
}

// DetectLanguage returns the predominant script and a coarse language code
// Latin maps to en since the corpus is English-only; ambiguous scripts return an empty lang
func DetectLanguage(s string) (script, lang string) {
	counts := make([]int, len(scripts))
	for _, r := range s {
		if !unicode.IsLetter(r) {
			continue
		}
		for i, sc := range scripts {
			if unicode.In(r, sc.table) {
				counts[i]++
				break
			}
		}
	}

	best := -1
	for i, c := range counts {
		if c > 0 && (best < 0 || c > counts[best]) {
			best = i
		}
	}
	if best < 0 {
		return "", ""
	}
	return scripts[best].name, scripts[best].lang
}

// Supported reports whether lang is one of the accepted codes
func Supported(lang string, accepted []string) bool {
	if lang == "" {
		return false
	}
	return slices.ContainsFunc(accepted, func(a string) bool {
		return strings.EqualFold(a, lang)
	})
}
