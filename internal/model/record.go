package model

import "time"

// FactCheckRecord is one published fact-check in the corpus
type FactCheckRecord struct {
	ID          string            `json:"id"`
	Source      string            `json:"source"`                // Publisher name (e.g., "PolitiFact")
	Claim       string            `json:"claim"`                 // The claim the publisher checked
	Verdict     string            `json:"verdict"`               // Corpus verdict category (e.g., "False", "Satire")
	Explanation string            `json:"explanation,omitempty"` // Publisher summary
	Rating      string            `json:"rating,omitempty"`      // Raw rating text as published
	PublishedAt time.Time         `json:"published_at"`
	URL         string            `json:"url"`
	Entities    []string          `json:"entities,omitempty"`
	Categories  []string          `json:"categories,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	Vector      Vector            `json:"-"`
}

// SearchResult is a record with its cosine similarity to the query
type SearchResult struct {
	Record FactCheckRecord `json:"record"`
	Score  float64         `json:"score"`
}

// Source describes corpus provenance for one publisher
type Source struct {
	ID             string    `json:"id"`
	Name           string    `json:"name"`
	URL            string    `json:"url"`
	FactCheckCount int       `json:"factcheck_count"`
	LastUpdated    time.Time `json:"last_updated"`
}
