package corpus

import (
	"strings"

	"golang.org/x/net/html"

	"github.com/ppiankov/verity/internal/model"
	"github.com/ppiankov/verity/internal/normalize"
)

// verdictKeywords are checked in order; the first hit wins
var verdictKeywords = []struct {
	keyword string
	verdict string
}{
	{"false", "False"},
	{"true", "True"},
	{"misleading", "Misleading"},
	{"satire", "Satire"},
	{"unproven", "Unproven"},
	{"outdated", "Outdated"},
}

// UnverifiedVerdict is the corpus verdict when no keyword matches
const UnverifiedVerdict = "Unverified"

// StripHTML returns the visible text of an HTML fragment
func StripHTML(s string) string {
	if !strings.ContainsAny(s, "<&") {
		return collapse(s)
	}
	doc, err := html.Parse(strings.NewReader(s))
	if err != nil {
		return collapse(s)
	}
	return collapse(visibleText(doc))
}

// visibleText walks text nodes, skipping scripts and styles
func visibleText(n *html.Node) string {
	var buf strings.Builder

	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			switch n.Data {
			case "script", "style", "noscript", "iframe":
				return
			}
		}
		if n.Type == html.TextNode {
			buf.WriteString(n.Data)
			buf.WriteString(" ")
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)

	return buf.String()
}

func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// DeriveVerdict maps rating and claim text onto a corpus verdict by keyword
func DeriveVerdict(rating, claim string) string {
	text := strings.ToLower(rating + " " + claim)
	for _, k := range verdictKeywords {
		if strings.Contains(text, k.keyword) {
			return k.verdict
		}
	}
	return UnverifiedVerdict
}

// Clean strips markup, fills the verdict and ID and reports whether the record is usable
func Clean(r model.FactCheckRecord) (model.FactCheckRecord, bool) {
	r.Source = collapse(r.Source)
	r.Claim = StripHTML(r.Claim)
	r.Explanation = StripHTML(r.Explanation)
	r.Rating = StripHTML(r.Rating)
	r.URL = strings.TrimSpace(r.URL)
	if r.Claim == "" {
		return r, false
	}

	if strings.TrimSpace(r.Verdict) == "" {
		r.Verdict = DeriveVerdict(r.Rating, r.Claim)
	}
	if r.Source == "" {
		r.Source = "Unknown"
	}
	if r.ID == "" {
		r.ID = normalize.Fingerprint(r.Source, r.URL, r.Claim)
	}
	return r, true
}
