// Package corpus loads published fact-checks into the vector index
package corpus

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ppiankov/verity/internal/model"
)

// fileRecord is the on-disk shape of one record; dates stay strings until parsed
type fileRecord struct {
	ID          string            `yaml:"id" json:"id"`
	Source      string            `yaml:"source" json:"source"`
	Claim       string            `yaml:"claim" json:"claim"`
	Verdict     string            `yaml:"verdict" json:"verdict"`
	Explanation string            `yaml:"explanation" json:"explanation"`
	Rating      string            `yaml:"rating" json:"rating"`
	PublishedAt string            `yaml:"published_at" json:"published_at"`
	URL         string            `yaml:"url" json:"url"`
	Entities    []string          `yaml:"entities" json:"entities"`
	Categories  []string          `yaml:"categories" json:"categories"`
	Metadata    map[string]string `yaml:"metadata" json:"metadata"`
}

// fileDocument allows a top-level records key next to a bare list
type fileDocument struct {
	Records []fileRecord `yaml:"records" json:"records"`
}

var dateLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
	time.RFC1123Z,
	time.RFC1123,
	"January 2, 2006",
	"Jan 2, 2006",
	"02/01/2006",
}

// ParseDate accepts the date formats publishers use; empty input yields the zero time
func ParseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, nil
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized date %q", s)
}

// Load reads records from a .yaml, .yml or .json file
func Load(path string) ([]model.FactCheckRecord, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read corpus file: %w", err)
	}

	var raw []fileRecord
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		raw, err = decodeYAML(data)
	case ".json":
		raw, err = decodeJSON(data)
	default:
		return nil, fmt.Errorf("unsupported corpus file type %q (want .yaml, .yml or .json)", ext)
	}
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}

	records := make([]model.FactCheckRecord, 0, len(raw))
	for i, r := range raw {
		published, err := ParseDate(r.PublishedAt)
		if err != nil {
			return nil, fmt.Errorf("%s record %d: %w", path, i+1, err)
		}
		records = append(records, model.FactCheckRecord{
			ID:          strings.TrimSpace(r.ID),
			Source:      r.Source,
			Claim:       r.Claim,
			Verdict:     r.Verdict,
			Explanation: r.Explanation,
			Rating:      r.Rating,
			PublishedAt: published,
			URL:         r.URL,
			Entities:    r.Entities,
			Categories:  r.Categories,
			Metadata:    r.Metadata,
		})
	}
	return records, nil
}

func decodeYAML(data []byte) ([]fileRecord, error) {
	var node yaml.Node
	if err := yaml.Unmarshal(data, &node); err != nil {
		return nil, err
	}
	if len(node.Content) == 0 {
		return nil, nil
	}
	if node.Content[0].Kind == yaml.SequenceNode {
		var list []fileRecord
		err := node.Decode(&list)
		return list, err
	}
	var doc fileDocument
	err := node.Decode(&doc)
	return doc.Records, err
}

func decodeJSON(data []byte) ([]fileRecord, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, nil
	}
	if data[0] == '[' {
		var list []fileRecord
		err := json.Unmarshal(data, &list)
		return list, err
	}
	var doc fileDocument
	err := json.Unmarshal(data, &doc)
	return doc.Records, err
}
