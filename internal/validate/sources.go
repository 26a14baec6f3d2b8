package validate

import (
	"net/url"
	"strings"
)

// SourcePolicy keeps only sources that point at allowed evidence
// URLs are compared in canonical form, so http and https match, the host is
// lower-cased without www, and default ports, fragments and trailing slashes are ignored
type SourcePolicy struct {
	allowed map[string]string // canonical -> URL as given in evidence
	hosts   map[string]bool
}

// NewSourcePolicy builds a policy from evidence URLs
func NewSourcePolicy(evidenceURLs []string) *SourcePolicy {
	p := &SourcePolicy{
		allowed: make(map[string]string, len(evidenceURLs)),
		hosts:   make(map[string]bool, len(evidenceURLs)),
	}
	for _, u := range evidenceURLs {
		c, host, ok := Canonical(u)
		if !ok {
			continue
		}
		if _, dup := p.allowed[c]; !dup {
			p.allowed[c] = u
		}
		p.hosts[host] = true
	}
	return p
}

// Allowed reports whether raw matches an evidence URL
func (p *SourcePolicy) Allowed(raw string) bool {
	c, _, ok := Canonical(raw)
	if !ok {
		return false
	}
	_, found := p.allowed[c]
	return found
}

// FromEvidenceHost reports whether raw is on the host of some evidence URL
func (p *SourcePolicy) FromEvidenceHost(raw string) bool {
	_, host, ok := Canonical(raw)
	return ok && p.hosts[host]
}

// Filter returns the allowed sources, rewritten to their evidence spelling, deduplicated, in order
func (p *SourcePolicy) Filter(sources []string) []string {
	out := make([]string, 0, len(sources))
	seen := make(map[string]bool, len(sources))
	for _, s := range sources {
		c, _, ok := Canonical(s)
		if !ok || seen[c] {
			continue
		}
		if orig, found := p.allowed[c]; found {
			seen[c] = true
			out = append(out, orig)
		}
	}
	return out
}

// Canonical normalizes an http(s) URL for comparison and returns its host
func Canonical(raw string) (canonical, host string, ok bool) {
	parsed, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "", "", false
	}
	scheme := strings.ToLower(parsed.Scheme)
	if scheme != "http" && scheme != "https" {
		return "", "", false
	}

	host = strings.ToLower(parsed.Hostname())
	if host == "" {
		return "", "", false
	}
	host = strings.TrimPrefix(host, "www.")

	// Keep non-default ports only
	if port := parsed.Port(); port != "" && port != "80" && port != "443" {
		host = host + ":" + port
	}

	path := strings.TrimRight(parsed.EscapedPath(), "/")
	canonical = host + path
	if parsed.RawQuery != "" {
		canonical += "?" + parsed.RawQuery
	}
	return canonical, host, true
}
