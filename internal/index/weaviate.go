package index

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/go-openapi/strfmt"
	"github.com/google/uuid"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/filters"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/graphql"
	"github.com/weaviate/weaviate/entities/models"

	perr "github.com/ppiankov/verity/internal/errors"
	"github.com/ppiankov/verity/internal/logger"
	"github.com/ppiankov/verity/internal/model"
)

// recordNamespace seeds deterministic object UUIDs from record IDs
var recordNamespace = uuid.MustParse("6f1c9a52-3d7e-4b8a-9c1e-5a2f8b7d4e60")

var recordFields = []graphql.Field{
	{Name: "record_id"},
	{Name: "source"},
	{Name: "claim"},
	{Name: "verdict"},
	{Name: "explanation"},
	{Name: "rating"},
	{Name: "published_at"},
	{Name: "url"},
	{Name: "entities"},
	{Name: "categories"},
	{Name: "metadata"},
}

// WeaviateIndex stores records as objects of one class with vectorizer none
type WeaviateIndex struct {
	client *weaviate.Client
	class  string
}

// NewWeaviateIndex connects and creates the class when missing
func NewWeaviateIndex(ctx context.Context, cfg model.IndexConfig) (*WeaviateIndex, error) {
	host, scheme := cfg.WeaviateHost, cfg.WeaviateScheme
	if rest, ok := strings.CutPrefix(host, "https://"); ok {
		host, scheme = rest, "https"
	} else if rest, ok := strings.CutPrefix(host, "http://"); ok {
		host, scheme = rest, "http"
	}
	if scheme == "" {
		scheme = "http"
	}
	class := cfg.WeaviateClass
	if class == "" {
		class = "FactCheck"
	}

	client, err := weaviate.NewClient(weaviate.Config{Host: host, Scheme: scheme})
	if err != nil {
		return nil, fmt.Errorf("create weaviate client: %w", err)
	}

	w := &WeaviateIndex{client: client, class: class}
	if err := w.ensureClass(ctx); err != nil {
		return nil, err
	}
	return w, nil
}

// Name returns the backend name
func (w *WeaviateIndex) Name() string { return "weaviate" }

func (w *WeaviateIndex) schema() *models.Class {
	filterable := new(bool)
	*filterable = true

	text := func(name, desc string) *models.Property {
		return &models.Property{Name: name, DataType: []string{"text"}, Description: desc, Tokenization: "word"}
	}
	field := func(name, desc string) *models.Property {
		return &models.Property{Name: name, DataType: []string{"text"}, Description: desc, IndexFilterable: filterable, Tokenization: "field"}
	}

	return &models.Class{
		Class:       w.class,
		Description: "A published fact-check with its claim embedding",
		Vectorizer:  "none",
		Properties: []*models.Property{
			field("record_id", "Stable record identifier"),
			field("source", "Publisher name"),
			text("claim", "The checked claim"),
			field("verdict", "Corpus verdict category"),
			text("explanation", "Publisher summary"),
			text("rating", "Raw rating text"),
			field("published_at", "Publication time, RFC 3339"),
			field("url", "Article URL"),
			{Name: "entities", DataType: []string{"text[]"}, Description: "Named entities"},
			{Name: "categories", DataType: []string{"text[]"}, Description: "Topic categories"},
			{Name: "metadata", DataType: []string{"text"}, Description: "JSON encoded metadata"},
		},
	}
}

func (w *WeaviateIndex) ensureClass(ctx context.Context) error {
	if _, err := w.client.Schema().ClassGetter().WithClassName(w.class).Do(ctx); err == nil {
		return nil
	}
	logger.Named("index").Info().Str("class", w.class).Msg("weaviate class not found, creating it")
	if err := w.client.Schema().ClassCreator().WithClass(w.schema()).Do(ctx); err != nil {
		return fmt.Errorf("create weaviate class %s: %w", w.class, err)
	}
	return nil
}

func objectID(recordID string) strfmt.UUID {
	return strfmt.UUID(uuid.NewSHA1(recordNamespace, []byte(recordID)).String())
}

// Upsert writes records in one batch; objects with the same UUID are replaced
func (w *WeaviateIndex) Upsert(ctx context.Context, records ...model.FactCheckRecord) error {
	if len(records) == 0 {
		return nil
	}
	objects := make([]*models.Object, len(records))
	for i, r := range records {
		if r.ID == "" || len(r.Vector) == 0 {
			return perr.Validationf("record %q needs an id and a vector", r.ID)
		}
		meta, err := json.Marshal(r.Metadata)
		if err != nil {
			return fmt.Errorf("encode metadata for %s: %w", r.ID, err)
		}
		objects[i] = &models.Object{
			Class:  w.class,
			ID:     objectID(r.ID),
			Vector: []float32(r.Vector),
			Properties: map[string]interface{}{
				"record_id":    r.ID,
				"source":       r.Source,
				"claim":        r.Claim,
				"verdict":      r.Verdict,
				"explanation":  r.Explanation,
				"rating":       r.Rating,
				"published_at": r.PublishedAt.UTC().Format(time.RFC3339),
				"url":          r.URL,
				"entities":     r.Entities,
				"categories":   r.Categories,
				"metadata":     string(meta),
			},
		}
	}

	resp, err := w.client.Batch().ObjectsBatcher().WithObjects(objects...).Do(ctx)
	if err != nil {
		return perr.Wrap(err, perr.ErrorCodeUnavailable, "weaviate batch import failed")
	}

	var failed []string
	for _, item := range resp {
		if item.Result != nil && item.Result.Errors != nil && len(item.Result.Errors.Error) > 0 {
			failed = append(failed, item.Result.Errors.Error[0].Message)
		}
	}
	if len(failed) > 0 {
		return perr.Internalf("weaviate rejected %d of %d objects: %s", len(failed), len(objects), failed[0])
	}
	return nil
}

// Delete removes objects whose record_id matches
func (w *WeaviateIndex) Delete(ctx context.Context, ids ...string) error {
	for _, id := range ids {
		where := filters.Where().
			WithPath([]string{"record_id"}).
			WithOperator(filters.Equal).
			WithValueText(id)

		_, err := w.client.Batch().ObjectsBatchDeleter().
			WithClassName(w.class).
			WithWhere(where).
			WithOutput("minimal").
			Do(ctx)
		if err != nil {
			return perr.Wrapf(err, perr.ErrorCodeUnavailable, "weaviate delete %s failed", id)
		}
	}
	return nil
}

// Search runs a nearVector query; distance is cosine distance so score = 1 - distance
func (w *WeaviateIndex) Search(ctx context.Context, vec model.Vector, topK int, threshold float64) ([]model.SearchResult, error) {
	nearVector := w.client.GraphQL().NearVectorArgBuilder().
		WithVector([]float32(vec)).
		WithDistance(float32(1 - threshold))

	fields := append(append([]graphql.Field{}, recordFields...), graphql.Field{Name: "_additional { id distance }"})
	limit := topK
	if limit <= 0 {
		limit = 10
	}

	result, err := w.client.GraphQL().Get().
		WithClassName(w.class).
		WithFields(fields...).
		WithNearVector(nearVector).
		WithLimit(limit * 2).
		Do(ctx)
	if err != nil {
		return nil, perr.Wrap(err, perr.ErrorCodeUnavailable, "weaviate search failed")
	}
	if len(result.Errors) > 0 {
		return nil, perr.Internalf("weaviate search error: %s", result.Errors[0].Message)
	}

	var results []model.SearchResult
	for _, obj := range w.objects(result.Data) {
		rec := decodeRecord(obj)
		score := 0.0
		if add, ok := obj["_additional"].(map[string]interface{}); ok {
			if d, ok := add["distance"].(float64); ok {
				score = 1 - d
			}
		}
		results = append(results, model.SearchResult{Record: rec, Score: score})
	}
	return Rank(results, topK, threshold), nil
}

// Get fetches one record by record_id
func (w *WeaviateIndex) Get(ctx context.Context, id string) (model.FactCheckRecord, bool, error) {
	where := filters.Where().
		WithPath([]string{"record_id"}).
		WithOperator(filters.Equal).
		WithValueText(id)

	result, err := w.client.GraphQL().Get().
		WithClassName(w.class).
		WithFields(recordFields...).
		WithWhere(where).
		WithLimit(1).
		Do(ctx)
	if err != nil {
		return model.FactCheckRecord{}, false, perr.Wrap(err, perr.ErrorCodeUnavailable, "weaviate get failed")
	}
	objs := w.objects(result.Data)
	if len(objs) == 0 {
		return model.FactCheckRecord{}, false, nil
	}
	return decodeRecord(objs[0]), true, nil
}

// Sources reads source and publication time of every object
func (w *WeaviateIndex) Sources(ctx context.Context) ([]model.Source, error) {
	result, err := w.client.GraphQL().Get().
		WithClassName(w.class).
		WithFields(graphql.Field{Name: "record_id"}, graphql.Field{Name: "source"}, graphql.Field{Name: "published_at"}).
		WithLimit(10000).
		Do(ctx)
	if err != nil {
		return nil, perr.Wrap(err, perr.ErrorCodeUnavailable, "weaviate sources query failed")
	}
	objs := w.objects(result.Data)
	records := make([]model.FactCheckRecord, len(objs))
	for i, obj := range objs {
		records[i] = decodeRecord(obj)
	}
	return AggregateSources(records), nil
}

// Count aggregates the object count of the class
func (w *WeaviateIndex) Count(ctx context.Context) (int, error) {
	result, err := w.client.GraphQL().Aggregate().
		WithClassName(w.class).
		WithFields(graphql.Field{Name: "meta", Fields: []graphql.Field{{Name: "count"}}}).
		Do(ctx)
	if err != nil {
		return 0, perr.Wrap(err, perr.ErrorCodeUnavailable, "weaviate count failed")
	}
	agg, _ := result.Data["Aggregate"].(map[string]interface{})
	groups, _ := agg[w.class].([]interface{})
	if len(groups) == 0 {
		return 0, nil
	}
	group, _ := groups[0].(map[string]interface{})
	meta, _ := group["meta"].(map[string]interface{})
	count, _ := meta["count"].(float64)
	return int(count), nil
}

// Close is a no-op; the client holds no persistent connection
func (w *WeaviateIndex) Close() error { return nil }

func (w *WeaviateIndex) objects(data map[string]models.JSONObject) []map[string]interface{} {
	get, ok := data["Get"].(map[string]interface{})
	if !ok {
		return nil
	}
	items, ok := get[w.class].([]interface{})
	if !ok {
		return nil
	}
	out := make([]map[string]interface{}, 0, len(items))
	for _, item := range items {
		if m, ok := item.(map[string]interface{}); ok {
			out = append(out, m)
		}
	}
	return out
}

func decodeRecord(obj map[string]interface{}) model.FactCheckRecord {
	str := func(k string) string {
		s, _ := obj[k].(string)
		return s
	}
	list := func(k string) []string {
		items, _ := obj[k].([]interface{})
		var out []string
		for _, it := range items {
			if s, ok := it.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}

	rec := model.FactCheckRecord{
		ID:          str("record_id"),
		Source:      str("source"),
		Claim:       str("claim"),
		Verdict:     str("verdict"),
		Explanation: str("explanation"),
		Rating:      str("rating"),
		URL:         str("url"),
		Entities:    list("entities"),
		Categories:  list("categories"),
	}
	if t, err := time.Parse(time.RFC3339, str("published_at")); err == nil {
		rec.PublishedAt = t
	}
	if meta := str("metadata"); meta != "" && meta != "null" {
		_ = json.Unmarshal([]byte(meta), &rec.Metadata)
	}
	return rec
}
