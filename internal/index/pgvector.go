package index

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	perr "github.com/ppiankov/verity/internal/errors"
	"github.com/ppiankov/verity/internal/model"
)

var tableName = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)

// PgVectorIndex stores records in Postgres with the pgvector extension
type PgVectorIndex struct {
	pool  *pgxpool.Pool
	table string
	dims  int
}

// NewPgVectorIndex opens a pool and ensures the table and ivfflat index exist
func NewPgVectorIndex(ctx context.Context, cfg model.IndexConfig, dims int) (*PgVectorIndex, error) {
	if cfg.PostgresURL == "" {
		return nil, fmt.Errorf("postgres_url is required for the pgvector index")
	}
	if dims <= 0 {
		return nil, fmt.Errorf("pgvector index needs fixed embedding dimensions")
	}
	table := cfg.PostgresTable
	if table == "" {
		table = "factchecks"
	}
	if !tableName.MatchString(table) {
		return nil, fmt.Errorf("invalid postgres table name %q", table)
	}

	pcfg, err := pgxpool.ParseConfig(cfg.PostgresURL)
	if err != nil {
		return nil, fmt.Errorf("parse postgres url: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, pcfg)
	if err != nil {
		return nil, fmt.Errorf("open postgres pool: %w", err)
	}

	p := &PgVectorIndex{pool: pool, table: table, dims: dims}
	if err := p.ensureTable(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return p, nil
}

// Name returns the backend name
func (p *PgVectorIndex) Name() string { return "pgvector" }

func (p *PgVectorIndex) ensureTable(ctx context.Context) error {
	ddl := fmt.Sprintf(`
CREATE EXTENSION IF NOT EXISTS vector;
CREATE TABLE IF NOT EXISTS %[1]s (
  id           text PRIMARY KEY,
  source       text NOT NULL,
  claim        text NOT NULL,
  verdict      text NOT NULL,
  explanation  text,
  rating       text,
  published_at timestamptz,
  url          text,
  entities     text[],
  categories   text[],
  metadata     jsonb,
  embedding    vector(%[2]d) NOT NULL,
  updated_at   timestamptz NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS %[1]s_source_idx ON %[1]s (source);
CREATE INDEX IF NOT EXISTS %[1]s_embedding_idx ON %[1]s USING ivfflat (embedding vector_cosine_ops) WITH (lists = 100);
`, p.table, p.dims)
	if _, err := p.pool.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("ensure pgvector table: %w", err)
	}
	return nil
}

// Upsert writes records in one transaction
func (p *PgVectorIndex) Upsert(ctx context.Context, records ...model.FactCheckRecord) error {
	if len(records) == 0 {
		return nil
	}
	stmt := fmt.Sprintf(`
INSERT INTO %s (id, source, claim, verdict, explanation, rating, published_at, url, entities, categories, metadata, embedding, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12::vector,now())
ON CONFLICT (id) DO UPDATE SET
  source=EXCLUDED.source,
  claim=EXCLUDED.claim,
  verdict=EXCLUDED.verdict,
  explanation=EXCLUDED.explanation,
  rating=EXCLUDED.rating,
  published_at=EXCLUDED.published_at,
  url=EXCLUDED.url,
  entities=EXCLUDED.entities,
  categories=EXCLUDED.categories,
  metadata=EXCLUDED.metadata,
  embedding=EXCLUDED.embedding,
  updated_at=now()`, p.table)

	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return perr.Wrap(err, perr.ErrorCodeUnavailable, "begin upsert")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	for _, r := range records {
		lit, err := vectorLiteral(r.Vector, p.dims)
		if err != nil {
			return perr.Validationf("record %s: %v", r.ID, err)
		}
		meta, err := json.Marshal(r.Metadata)
		if err != nil {
			return fmt.Errorf("encode metadata for %s: %w", r.ID, err)
		}
		var published *time.Time
		if !r.PublishedAt.IsZero() {
			t := r.PublishedAt.UTC()
			published = &t
		}
		if _, err := tx.Exec(ctx, stmt,
			r.ID, r.Source, r.Claim, r.Verdict, r.Explanation, r.Rating, published, r.URL,
			r.Entities, r.Categories, meta, lit,
		); err != nil {
			return perr.Wrapf(err, perr.ErrorCodeUnavailable, "upsert %s", r.ID)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return perr.Wrap(err, perr.ErrorCodeUnavailable, "commit upsert")
	}
	return nil
}

// Delete removes records by ID
func (p *PgVectorIndex) Delete(ctx context.Context, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := p.pool.Exec(ctx, fmt.Sprintf(`DELETE FROM %s WHERE id = ANY($1)`, p.table), ids)
	if err != nil {
		return perr.Wrap(err, perr.ErrorCodeUnavailable, "delete records")
	}
	return nil
}

const selectColumns = `id, source, claim, verdict, coalesce(explanation, ''), coalesce(rating, ''), published_at, coalesce(url, ''), entities, categories, metadata`

// Search orders by cosine distance and filters by similarity in SQL
func (p *PgVectorIndex) Search(ctx context.Context, vec model.Vector, topK int, threshold float64) ([]model.SearchResult, error) {
	lit, err := vectorLiteral(vec, p.dims)
	if err != nil {
		return nil, perr.Validationf("query vector: %v", err)
	}
	if topK <= 0 {
		topK = 10
	}

	q := fmt.Sprintf(`
SELECT %s, 1 - (embedding <=> $1::vector) AS score
FROM %s
WHERE 1 - (embedding <=> $1::vector) >= $2
ORDER BY embedding <=> $1::vector, id
LIMIT $3`, selectColumns, p.table)

	rows, err := p.pool.Query(ctx, q, lit, threshold, topK*2)
	if err != nil {
		return nil, perr.Wrap(err, perr.ErrorCodeUnavailable, "pgvector search failed")
	}
	defer rows.Close()

	var results []model.SearchResult
	for rows.Next() {
		var res model.SearchResult
		if err := scanRecord(rows, &res.Record, &res.Score); err != nil {
			return nil, err
		}
		results = append(results, res)
	}
	if err := rows.Err(); err != nil {
		return nil, perr.Wrap(err, perr.ErrorCodeUnavailable, "pgvector search rows")
	}
	return Rank(results, topK, threshold), nil
}

// Get returns one record by ID
func (p *PgVectorIndex) Get(ctx context.Context, id string) (model.FactCheckRecord, bool, error) {
	row := p.pool.QueryRow(ctx, fmt.Sprintf(`SELECT %s FROM %s WHERE id = $1`, selectColumns, p.table), id)
	var rec model.FactCheckRecord
	if err := scanRecord(row, &rec); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.FactCheckRecord{}, false, nil
		}
		return model.FactCheckRecord{}, false, err
	}
	return rec, true, nil
}

// Sources aggregates per publisher in SQL
func (p *PgVectorIndex) Sources(ctx context.Context) ([]model.Source, error) {
	rows, err := p.pool.Query(ctx, fmt.Sprintf(`SELECT source, count(*), max(published_at) FROM %s GROUP BY source`, p.table))
	if err != nil {
		return nil, perr.Wrap(err, perr.ErrorCodeUnavailable, "pgvector sources query failed")
	}
	defer rows.Close()

	var out []model.Source
	for rows.Next() {
		var (
			name   string
			latest *time.Time
		)
		src := model.Source{}
		if err := rows.Scan(&name, &src.FactCheckCount, &latest); err != nil {
			return nil, fmt.Errorf("scan source: %w", err)
		}
		base := newSource(name)
		src.ID, src.Name, src.URL = base.ID, base.Name, base.URL
		if latest != nil {
			src.LastUpdated = *latest
		}
		out = append(out, src)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	sortSources(out)
	return out, nil
}

// Count returns the number of rows
func (p *PgVectorIndex) Count(ctx context.Context) (int, error) {
	var n int
	if err := p.pool.QueryRow(ctx, fmt.Sprintf(`SELECT count(*) FROM %s`, p.table)).Scan(&n); err != nil {
		return 0, perr.Wrap(err, perr.ErrorCodeUnavailable, "pgvector count failed")
	}
	return n, nil
}

// Close closes the pool
func (p *PgVectorIndex) Close() error {
	p.pool.Close()
	return nil
}

func scanRecord(row pgx.Row, rec *model.FactCheckRecord, extra ...any) error {
	var (
		published *time.Time
		meta      []byte
	)
	dest := []any{
		&rec.ID, &rec.Source, &rec.Claim, &rec.Verdict, &rec.Explanation, &rec.Rating,
		&published, &rec.URL, &rec.Entities, &rec.Categories, &meta,
	}
	dest = append(dest, extra...)
	if err := row.Scan(dest...); err != nil {
		return err
	}
	if published != nil {
		rec.PublishedAt = *published
	}
	if len(meta) > 0 && string(meta) != "null" {
		if err := json.Unmarshal(meta, &rec.Metadata); err != nil {
			return fmt.Errorf("decode metadata for %s: %w", rec.ID, err)
		}
	}
	return nil
}

func vectorLiteral(v model.Vector, dims int) (string, error) {
	if len(v) == 0 {
		return "", errors.New("embedding is required")
	}
	if dims > 0 && len(v) != dims {
		return "", fmt.Errorf("embedding length %d does not match dimension %d", len(v), dims)
	}
	parts := make([]string, len(v))
	for i, x := range v {
		parts[i] = strconv.FormatFloat(float64(x), 'f', -1, 32)
	}
	return "[" + strings.Join(parts, ",") + "]", nil
}
