package llm

import (
	"fmt"
	"strings"

	"github.com/ppiankov/verity/internal/model"
)

// SystemPrompt frames every verdict request
const SystemPrompt = `You are a fact-checking assistant. You judge a claim ONLY against the fact-check evidence you are given.
You never use outside knowledge. If the evidence does not settle the claim, answer "unverified".
You reply with a single JSON object and nothing else.`

// BuildPrompt renders the claim and its evidence, best match first
func BuildPrompt(claim string, evidence []model.SearchResult) string {
	lines := make([]string, 0, len(evidence))
	for _, e := range evidence {
		lines = append(lines, EvidenceLine(e.Record))
	}

	verdicts := make([]string, len(model.Verdicts))
	for i, v := range model.Verdicts {
		verdicts[i] = string(v)
	}

	return fmt.Sprintf(`Claim:
%s

Evidence:
%s

Task:
Decide whether the claim is supported by the evidence above.
Respond with strict JSON using exactly these keys:
{"verdict": one of %s, "summary": "two or three sentences explaining the verdict", "confidence": integer from 0 to 100, "sources": [URLs taken from the evidence you relied on]}
Cite only URLs that appear in the evidence. Do not wrap the JSON in markdown.`,
		claim, strings.Join(lines, "\n\n"), strings.Join(verdicts, "|"))
}

// EvidenceLine formats one record as a prompt bullet
func EvidenceLine(r model.FactCheckRecord) string {
	date := "unknown"
	if !r.PublishedAt.IsZero() {
		date = r.PublishedAt.UTC().Format("2006-01-02")
	}
	rating := r.Rating
	if strings.TrimSpace(rating) == "" {
		rating = r.Verdict
	}
	rating = strings.TrimSpace(strings.ReplaceAll(rating, "About this rating", ""))

	text := r.Claim
	if r.Explanation != "" {
		text += " " + r.Explanation
	}
	return fmt.Sprintf("- %s (Source: %s, Date: %s, verdict: %s)", strings.TrimSpace(text), r.URL, date, rating)
}

// EvidenceURLs lists the distinct record URLs in ranking order
func EvidenceURLs(evidence []model.SearchResult) []string {
	urls := make([]string, 0, len(evidence))
	for _, e := range evidence {
		if e.Record.URL != "" && !contains(urls, e.Record.URL) {
			urls = append(urls, e.Record.URL)
		}
	}
	return urls
}
