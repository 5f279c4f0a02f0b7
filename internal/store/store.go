// Package store persists document chunks and their embeddings in
// Postgres with the pgvector extension.
package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
	pgxvec "github.com/pgvector/pgvector-go/pgx"
)

// Record is one stored chunk: its id, embedding, source text and
// arbitrary metadata (hierarchy path, document id, page, and so on).
type Record struct {
	ID        string
	Embedding []float32
	Text      string
	Metadata  map[string]any
}

// SearchResult is a record returned from similarity search with its
// cosine distance to the query vector.
type SearchResult struct {
	ID       string
	Text     string
	Metadata map[string]any
	Distance float64
}

// PgVector stores chunk embeddings in a Postgres table with a vector
// column. All vectors must match the dimension fixed at Init time.
type PgVector struct {
	pool      *pgxpool.Pool
	table     string
	dimension int
}

// New connects to Postgres and registers pgvector types on every
// connection in the pool.
func New(ctx context.Context, databaseURL, table string, dimension int) (*PgVector, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return pgxvec.RegisterTypes(ctx, conn)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}
	return &PgVector{pool: pool, table: table, dimension: dimension}, nil
}

func (s *PgVector) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// Init creates the vector extension, the chunk table and its cosine
// index if they do not exist.
func (s *PgVector) Init(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, "CREATE EXTENSION IF NOT EXISTS vector"); err != nil {
		return fmt.Errorf("create extension: %w", err)
	}

	schema := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
  id TEXT PRIMARY KEY,
  embedding vector(%d) NOT NULL,
  text TEXT NOT NULL DEFAULT '',
  metadata JSONB NOT NULL DEFAULT '{}',
  created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
  updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`, s.table, s.dimension)
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("create table: %w", err)
	}

	index := fmt.Sprintf(
		"CREATE INDEX IF NOT EXISTS idx_%s_embedding ON %s USING hnsw (embedding vector_cosine_ops)",
		s.table, s.table)
	if _, err := s.pool.Exec(ctx, index); err != nil {
		return fmt.Errorf("create index: %w", err)
	}
	return nil
}

func (s *PgVector) checkDimension(records []Record) error {
	for _, rec := range records {
		if len(rec.Embedding) != s.dimension {
			return fmt.Errorf("record %s: embedding dimension %d, want %d", rec.ID, len(rec.Embedding), s.dimension)
		}
	}
	return nil
}

// Upsert inserts records, replacing any with the same id.
func (s *PgVector) Upsert(ctx context.Context, records []Record) error {
	if len(records) == 0 {
		return nil
	}
	if err := s.checkDimension(records); err != nil {
		return err
	}

	query := fmt.Sprintf(`
INSERT INTO %s (id, embedding, text, metadata)
VALUES ($1, $2, $3, $4)
ON CONFLICT (id) DO UPDATE
SET embedding = EXCLUDED.embedding,
    text = EXCLUDED.text,
    metadata = EXCLUDED.metadata,
    updated_at = NOW()`, s.table)

	batch := &pgx.Batch{}
	for _, rec := range records {
		meta, err := json.Marshal(rec.Metadata)
		if err != nil {
			return fmt.Errorf("marshal metadata for %s: %w", rec.ID, err)
		}
		batch.Queue(query, rec.ID, pgvector.NewVector(rec.Embedding), rec.Text, meta)
	}

	results := s.pool.SendBatch(ctx, batch)
	defer results.Close()
	for range records {
		if _, err := results.Exec(); err != nil {
			return fmt.Errorf("upsert: %w", err)
		}
	}
	return nil
}

// Delete removes records by id. Unknown ids are ignored.
func (s *PgVector) Delete(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	query := fmt.Sprintf("DELETE FROM %s WHERE id = ANY($1)", s.table)
	if _, err := s.pool.Exec(ctx, query, ids); err != nil {
		return fmt.Errorf("delete: %w", err)
	}
	return nil
}

// DeleteByDocument removes all records whose metadata carries the given
// document id.
func (s *PgVector) DeleteByDocument(ctx context.Context, docID string) error {
	query := fmt.Sprintf("DELETE FROM %s WHERE metadata->>'document_id' = $1", s.table)
	if _, err := s.pool.Exec(ctx, query, docID); err != nil {
		return fmt.Errorf("delete by document: %w", err)
	}
	return nil
}

// Search returns the limit nearest records by cosine distance.
func (s *PgVector) Search(ctx context.Context, query []float32, limit int) ([]SearchResult, error) {
	if len(query) != s.dimension {
		return nil, fmt.Errorf("query dimension %d, want %d", len(query), s.dimension)
	}
	sql := fmt.Sprintf(`
SELECT id, text, metadata, (embedding <=> $1) AS distance
FROM %s
ORDER BY embedding <=> $1
LIMIT $2`, s.table)

	rows, err := s.pool.Query(ctx, sql, pgvector.NewVector(query), limit)
	if err != nil {
		return nil, fmt.Errorf("search: %w", err)
	}
	defer rows.Close()

	var out []SearchResult
	for rows.Next() {
		var res SearchResult
		var meta []byte
		if err := rows.Scan(&res.ID, &res.Text, &meta, &res.Distance); err != nil {
			return nil, fmt.Errorf("scan result: %w", err)
		}
		if len(meta) > 0 {
			if err := json.Unmarshal(meta, &res.Metadata); err != nil {
				return nil, fmt.Errorf("decode metadata for %s: %w", res.ID, err)
			}
		}
		out = append(out, res)
	}
	return out, rows.Err()
}

// Count returns the number of stored records.
func (s *PgVector) Count(ctx context.Context) (int64, error) {
	var n int64
	query := fmt.Sprintf("SELECT COUNT(*) FROM %s", s.table)
	if err := s.pool.QueryRow(ctx, query).Scan(&n); err != nil {
		return 0, fmt.Errorf("count: %w", err)
	}
	return n, nil
}
