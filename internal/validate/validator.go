// Package validate turns raw model output into a response that always meets the public contract
package validate

import (
	"bytes"
	"encoding/json"
	"fmt"
	"slices"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/ppiankov/verity/internal/model"
)

// Rule names the check a response failed
type Rule string

const (
	RuleNoObject   Rule = "no_object"
	RuleSyntax     Rule = "syntax"
	RuleKeys       Rule = "keys"
	RuleVerdict    Rule = "verdict"
	RuleConfidence Rule = "confidence"
	RuleSources    Rule = "sources"
	RuleSummary    Rule = "summary"
)

// RuleError reports the first failed rule
type RuleError struct {
	Rule   Rule
	Detail string
}

func (e *RuleError) Error() string {
	return fmt.Sprintf("%s: %s", e.Rule, e.Detail)
}

func fail(rule Rule, format string, a ...any) error {
	return &RuleError{Rule: rule, Detail: fmt.Sprintf(format, a...)}
}

var requiredKeys = []string{"confidence", "sources", "summary", "verdict"}

// DefaultMaxSummary bounds the summary length in runes
const DefaultMaxSummary = 2000

// Validator checks model output against the response contract
type Validator struct {
	maxSummary int
}

// New creates a validator; maxSummary <= 0 uses DefaultMaxSummary
func New(maxSummary int) *Validator {
	if maxSummary <= 0 {
		maxSummary = DefaultMaxSummary
	}
	return &Validator{maxSummary: maxSummary}
}

var std = New(0)

// Validate never fails: malformed output becomes the fallback response
func Validate(raw string) model.VerdictResponse {
	return std.Validate(raw)
}

// Validate returns the parsed response or the fallback
func (v *Validator) Validate(raw string) model.VerdictResponse {
	resp, err := v.Check(raw)
	if err != nil {
		return model.Fallback(model.FallbackSummary, model.DiagnosticMalformedOutput)
	}
	return resp
}

// Check parses raw and reports the first violated rule
func (v *Validator) Check(raw string) (model.VerdictResponse, error) {
	obj, ok := extractObject(stripFences(raw))
	if !ok {
		return model.VerdictResponse{}, fail(RuleNoObject, "no balanced JSON object in output")
	}

	dec := json.NewDecoder(bytes.NewReader([]byte(obj)))
	dec.UseNumber()
	var fields map[string]any
	if err := dec.Decode(&fields); err != nil {
		return model.VerdictResponse{}, fail(RuleSyntax, "%v", err)
	}

	if err := checkKeys(fields); err != nil {
		return model.VerdictResponse{}, err
	}

	verdictRaw, ok := fields["verdict"].(string)
	if !ok {
		return model.VerdictResponse{}, fail(RuleVerdict, "verdict is %T, want string", fields["verdict"])
	}
	verdict, ok := model.ParseVerdict(verdictRaw)
	if !ok {
		return model.VerdictResponse{}, fail(RuleVerdict, "unknown verdict %q", verdictRaw)
	}

	num, ok := fields["confidence"].(json.Number)
	if !ok {
		return model.VerdictResponse{}, fail(RuleConfidence, "confidence is %T, want integer", fields["confidence"])
	}
	confidence, err := num.Int64()
	if err != nil {
		return model.VerdictResponse{}, fail(RuleConfidence, "confidence %s is not an integer", num)
	}
	if confidence < 0 || confidence > 100 {
		return model.VerdictResponse{}, fail(RuleConfidence, "confidence %d outside [0,100]", confidence)
	}

	items, ok := fields["sources"].([]any)
	if !ok {
		return model.VerdictResponse{}, fail(RuleSources, "sources is %T, want array", fields["sources"])
	}
	sources := make([]string, 0, len(items))
	for i, it := range items {
		s, ok := it.(string)
		if !ok {
			return model.VerdictResponse{}, fail(RuleSources, "sources[%d] is %T, want string", i, it)
		}
		if s = strings.TrimSpace(s); s == "" {
			return model.VerdictResponse{}, fail(RuleSources, "sources[%d] is blank", i)
		}
		sources = append(sources, s)
	}

	summary, ok := fields["summary"].(string)
	if !ok {
		return model.VerdictResponse{}, fail(RuleSummary, "summary is %T, want string", fields["summary"])
	}
	summary = strings.TrimSpace(summary)
	if summary == "" {
		return model.VerdictResponse{}, fail(RuleSummary, "summary is empty")
	}
	if utf8.RuneCountInString(summary) > v.maxSummary {
		summary = string([]rune(summary)[:v.maxSummary])
	}

	return model.VerdictResponse{
		Verdict:    verdict,
		Summary:    summary,
		Confidence: int(confidence),
		Sources:    sources,
	}, nil
}

func checkKeys(fields map[string]any) error {
	var missing, extra []string
	for _, k := range requiredKeys {
		if _, ok := fields[k]; !ok {
			missing = append(missing, k)
		}
	}
	for k := range fields {
		if !slices.Contains(requiredKeys, k) {
			extra = append(extra, k)
		}
	}
	if len(missing) == 0 && len(extra) == 0 {
		return nil
	}
	sort.Strings(extra)
	return fail(RuleKeys, "missing %v, unexpected %v", missing, extra)
}

// stripFences drops markdown code fence lines
func stripFences(s string) string {
	if !strings.Contains(s, "```") {
		return s
	}
	lines := strings.Split(s, "\n")
	kept := lines[:0]
	for _, l := range lines {
		if strings.HasPrefix(strings.TrimSpace(l), "```") {
			continue
		}
		kept = append(kept, l)
	}
	return strings.Join(kept, "\n")
}

// extractObject returns the first balanced {...} span, ignoring braces inside strings
func extractObject(s string) (string, bool) {
	start := strings.IndexByte(s, '{')
	if start < 0 {
		return "", false
	}
	depth := 0
	inString, escaped := false, false
	for i := start; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return s[start : i+1], true
			}
		}
	}
	return "", false
}
