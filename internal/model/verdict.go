package model

import "strings"

// Verdict is the closed set of outcomes a response may carry
type Verdict string

const (
	VerdictTrue       Verdict = "true"
	VerdictFalse      Verdict = "false"
	VerdictMisleading Verdict = "misleading"
	VerdictUnproven   Verdict = "unproven"
	VerdictUnverified Verdict = "unverified"
)

// Verdicts lists every member of the enumeration in prompt order
var Verdicts = []Verdict{VerdictTrue, VerdictFalse, VerdictMisleading, VerdictUnproven, VerdictUnverified}

// ParseVerdict maps s onto the enumeration, ignoring case and surrounding space
func ParseVerdict(s string) (Verdict, bool) {
	v := Verdict(strings.ToLower(strings.TrimSpace(s)))
	return v, v.Valid()
}

// Valid reports membership in the enumeration
func (v Verdict) Valid() bool {
	switch v {
	case VerdictTrue, VerdictFalse, VerdictMisleading, VerdictUnproven, VerdictUnverified:
		return true
	}
	return false
}

// Diagnostic markers explain why a fallback was served; never part of the public contract
const (
	DiagnosticMalformedOutput   = "malformed_output"
	DiagnosticNoEvidence        = "no_evidence"
	DiagnosticPermanentFailure  = "permanent_failure"
	DiagnosticUpstreamExhausted = "upstream_exhausted"
	DiagnosticLLMDisabled       = "llm_disabled"
)

const (
	// FallbackSummary is served when model output cannot be trusted
	FallbackSummary = "Unable to verify this claim against the available evidence."

	// NoEvidenceSummary is served when no record clears the score threshold
	NoEvidenceSummary = "No matching fact-check was found for this claim."
)

// VerdictResponse is the unit returned to callers
type VerdictResponse struct {
	Verdict    Verdict  `json:"verdict"`
	Summary    string   `json:"summary"`
	Confidence int      `json:"confidence"`
	Sources    []string `json:"sources"`
	Evidence   string   `json:"evidence,omitempty"`
	Diagnostic string   `json:"-"`
}

// Fallback returns the deterministic always-valid response
func Fallback(summary, diagnostic string) VerdictResponse {
	return VerdictResponse{
		Verdict:    VerdictUnverified,
		Summary:    summary,
		Confidence: 0,
		Sources:    []string{},
		Diagnostic: diagnostic,
	}
}

// IsFallback reports whether r was produced by Fallback
func (r VerdictResponse) IsFallback() bool { return r.Diagnostic != "" }

// Conformant reports whether r satisfies the public contract
func (r VerdictResponse) Conformant() bool {
	return r.Verdict.Valid() &&
		r.Confidence >= 0 && r.Confidence <= 100 &&
		r.Sources != nil &&
		strings.TrimSpace(r.Summary) != ""
}
