// Package postgres implements kbase.Store using PostgreSQL with pgvector
// for native vector similarity search and tsvector for full-text keyword
// search.
//
// The Store accepts an externally-owned *pgxpool.Pool via constructor
// injection. The caller creates and closes the pool.
package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	kbase "github.com/nevindra/kbase"
)

// Store implements kbase.Store backed by PostgreSQL with pgvector.
// Vector search uses HNSW indexes with cosine distance.
type Store struct {
	pool   *pgxpool.Pool
	cfg    pgConfig
	logger *slog.Logger
}

// pgConfig holds store configuration set via Option functions.
type pgConfig struct {
	embeddingDimension int // 0 = untyped vector
	hnswM              int // 0 = pgvector default (16)
	hnswEFConstruction int // 0 = pgvector default (64)
}

// Option configures a PostgreSQL Store.
type Option func(*Store)

// WithEmbeddingDimension sets the vector column dimension (e.g. 1536, 768).
// When set, CREATE TABLE uses vector(N) instead of untyped vector, enabling
// better index optimization and catching dimension mismatches at insert time.
// Only affects new table creation (no ALTER on existing tables).
func WithEmbeddingDimension(dim int) Option {
	return func(s *Store) { s.cfg.embeddingDimension = dim }
}

// WithHNSWM sets the HNSW m parameter (max connections per node).
// Higher values improve recall at the cost of memory. Default: pgvector's 16.
func WithHNSWM(m int) Option {
	return func(s *Store) { s.cfg.hnswM = m }
}

// WithEFConstruction sets the HNSW ef_construction parameter (build-time
// candidate list size). Default: pgvector's 64.
func WithEFConstruction(ef int) Option {
	return func(s *Store) { s.cfg.hnswEFConstruction = ef }
}

// WithLogger sets a structured logger for the store.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

var _ kbase.Store = (*Store)(nil)
var _ kbase.KeywordSearcher = (*Store)(nil)

var nopLogger = slog.New(discardHandler{})

type discardHandler struct{}

func (discardHandler) Enabled(context.Context, slog.Level) bool  { return false }
func (discardHandler) Handle(context.Context, slog.Record) error { return nil }
func (d discardHandler) WithAttrs([]slog.Attr) slog.Handler      { return d }
func (d discardHandler) WithGroup(string) slog.Handler           { return d }

// New creates a Store using an existing pgxpool.Pool.
// The caller owns the pool and is responsible for closing it.
func New(pool *pgxpool.Pool, opts ...Option) *Store {
	s := &Store{pool: pool, logger: nopLogger}
	for _, o := range opts {
		o(s)
	}
	return s
}

// vectorType returns "vector" or "vector(N)" depending on config.
func (s *Store) vectorType() string {
	if s.cfg.embeddingDimension > 0 {
		return fmt.Sprintf("vector(%d)", s.cfg.embeddingDimension)
	}
	return "vector"
}

// hnswWithClause returns the WITH (...) clause for HNSW index creation,
// or an empty string if no tuning params are set.
func (s *Store) hnswWithClause() string {
	var parts []string
	if s.cfg.hnswM > 0 {
		parts = append(parts, fmt.Sprintf("m = %d", s.cfg.hnswM))
	}
	if s.cfg.hnswEFConstruction > 0 {
		parts = append(parts, fmt.Sprintf("ef_construction = %d", s.cfg.hnswEFConstruction))
	}
	if len(parts) == 0 {
		return ""
	}
	return " WITH (" + strings.Join(parts, ", ") + ")"
}

// Init creates the pgvector extension, the entries table, and indexes.
// Safe to call multiple times (all statements are idempotent).
func (s *Store) Init(ctx context.Context) error {
	start := time.Now()
	stmts := []string{
		`CREATE EXTENSION IF NOT EXISTS vector`,

		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS entries (
			chunk_id TEXT PRIMARY KEY,
			document_id TEXT NOT NULL,
			strategy TEXT NOT NULL,
			ordinal INTEGER NOT NULL,
			content TEXT NOT NULL,
			span_start INTEGER NOT NULL,
			span_end INTEGER NOT NULL,
			source_pages JSONB NOT NULL,
			embedding %s,
			model TEXT,
			embedded_at BIGINT
		)`, s.vectorType()),
		`CREATE INDEX IF NOT EXISTS entries_document_idx ON entries(document_id)`,
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS entries_embedding_idx ON entries USING hnsw (embedding vector_cosine_ops)%s`, s.hnswWithClause()),
		`CREATE INDEX IF NOT EXISTS entries_fts_idx ON entries USING gin(to_tsvector('english', content))`,
	}
	for _, stmt := range stmts {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("postgres: init: %w", err)
		}
	}
	s.logger.Info("postgres: init completed", "duration", time.Since(start))
	return nil
}

// Close is a no-op; the pool is owned by the caller.
func (s *Store) Close() error { return nil }

// Ingest replaces all entries for documentID inside one transaction.
// A per-document advisory lock serializes concurrent ingests of the same
// document while leaving other documents unblocked.
func (s *Store) Ingest(ctx context.Context, documentID string, entries []kbase.Entry) (kbase.IngestStats, error) {
	start := time.Now()
	s.logger.Debug("postgres: ingest", "document_id", documentID, "entries", len(entries))

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return kbase.IngestStats{}, fmt.Errorf("postgres: begin ingest: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, documentID); err != nil {
		return kbase.IngestStats{}, fmt.Errorf("postgres: lock document: %w", err)
	}

	var replaced int
	if err := tx.QueryRow(ctx,
		`SELECT COUNT(*) FROM entries WHERE document_id = $1`, documentID).Scan(&replaced); err != nil {
		return kbase.IngestStats{}, fmt.Errorf("postgres: count prior entries: %w", err)
	}

	if _, err := tx.Exec(ctx, `DELETE FROM entries WHERE document_id = $1`, documentID); err != nil {
		return kbase.IngestStats{}, fmt.Errorf("postgres: clear entries: %w", err)
	}

	embedded := 0
	for _, e := range entries {
		pagesJSON, _ := json.Marshal(e.Chunk.SourcePages)

		var embStr, model *string
		var embeddedAt *int64
		if e.Embedding != nil {
			v := serializeEmbedding(e.Embedding.Vector)
			embStr = &v
			model = &e.Embedding.Model
			embeddedAt = &e.Embedding.CreatedAt
			embedded++
		}

		_, err := tx.Exec(ctx,
			`INSERT INTO entries (chunk_id, document_id, strategy, ordinal, content, span_start, span_end, source_pages, embedding, model, embedded_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9::vector, $10, $11)`,
			e.Chunk.ID, documentID, e.Chunk.Strategy, e.Chunk.Ordinal, e.Chunk.Text,
			e.Chunk.Span.Start, e.Chunk.Span.End, pagesJSON, embStr, model, embeddedAt)
		if err != nil {
			return kbase.IngestStats{}, fmt.Errorf("postgres: insert entry %s: %w", e.Chunk.ID, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return kbase.IngestStats{}, fmt.Errorf("postgres: commit ingest: %w", err)
	}

	s.logger.Debug("postgres: ingest ok",
		"document_id", documentID,
		"chunks", len(entries),
		"embedded", embedded,
		"replaced", replaced,
		"duration", time.Since(start))
	return kbase.IngestStats{
		DocumentID:    documentID,
		ChunkCount:    len(entries),
		EmbeddedCount: embedded,
		ReplacedCount: replaced,
	}, nil
}

// Get returns the document's entries ordered by chunk ordinal.
func (s *Store) Get(ctx context.Context, documentID string) ([]kbase.Entry, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT chunk_id, document_id, strategy, ordinal, content, span_start, span_end, source_pages, embedding::text, model, embedded_at
		 FROM entries WHERE document_id = $1 ORDER BY ordinal`, documentID)
	if err != nil {
		return nil, fmt.Errorf("postgres: get entries: %w", err)
	}
	defer rows.Close()

	var entries []kbase.Entry
	for rows.Next() {
		e, err := scanEntryPg(rows.Scan)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: iterate entries: %w", err)
	}
	if len(entries) == 0 {
		return nil, kbase.ErrNotFound
	}
	return entries, nil
}

// Delete removes all entries for documentID.
func (s *Store) Delete(ctx context.Context, documentID string) (bool, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM entries WHERE document_id = $1`, documentID)
	if err != nil {
		return false, fmt.Errorf("postgres: delete entries: %w", err)
	}
	s.logger.Debug("postgres: delete document", "document_id", documentID, "removed", tag.RowsAffected())
	return tag.RowsAffected() > 0, nil
}

// Search returns the topK nearest embedded entries by cosine similarity,
// ties broken by chunk ID ascending.
func (s *Store) Search(ctx context.Context, query []float32, topK int, opts ...kbase.SearchOption) ([]kbase.SearchHit, error) {
	start := time.Now()
	cfg := kbase.ResolveSearchOptions(opts)
	embStr := serializeEmbedding(query)
	s.logger.Debug("postgres: search", "top_k", topK, "query_dim", len(query), "document_filter", cfg.DocumentID)

	q := `SELECT chunk_id, document_id, strategy, ordinal, content, span_start, span_end, source_pages, embedding::text, model, embedded_at,
	        1 - (embedding <=> $1::vector) AS score
	 FROM entries
	 WHERE embedding IS NOT NULL`
	args := []any{embStr}
	if cfg.DocumentID != "" {
		q += ` AND document_id = $2`
		args = append(args, cfg.DocumentID)
	}
	q += fmt.Sprintf(` ORDER BY embedding <=> $1::vector, chunk_id LIMIT $%d`, len(args)+1)
	args = append(args, topK)

	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: search entries: %w", err)
	}
	defer rows.Close()

	var hits []kbase.SearchHit
	for rows.Next() {
		var score float32
		e, err := scanEntryPg(func(dest ...any) error {
			return rows.Scan(append(dest, &score)...)
		})
		if err != nil {
			return nil, err
		}
		hits = append(hits, kbase.SearchHit{Entry: e, Score: score})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: iterate entries: %w", err)
	}

	if len(hits) == 0 {
		empty, err := s.indexEmpty(ctx, cfg.DocumentID)
		if err != nil {
			return nil, err
		}
		if empty {
			return nil, kbase.ErrEmptyIndex
		}
	}

	s.logger.Debug("postgres: search ok", "returned", len(hits), "duration", time.Since(start))
	return hits, nil
}

// SearchKeyword performs full-text keyword search over chunk text using
// PostgreSQL tsvector/tsquery with a GIN index.
func (s *Store) SearchKeyword(ctx context.Context, query string, topK int, opts ...kbase.SearchOption) ([]kbase.SearchHit, error) {
	cfg := kbase.ResolveSearchOptions(opts)
	s.logger.Debug("postgres: search keyword", "query", query, "top_k", topK, "document_filter", cfg.DocumentID)

	q := `SELECT chunk_id, document_id, strategy, ordinal, content, span_start, span_end, source_pages, embedding::text, model, embedded_at,
	        ts_rank(to_tsvector('english', content), plainto_tsquery('english', $1)) AS score
	 FROM entries
	 WHERE to_tsvector('english', content) @@ plainto_tsquery('english', $1)`
	args := []any{query}
	if cfg.DocumentID != "" {
		q += ` AND document_id = $2`
		args = append(args, cfg.DocumentID)
	}
	q += fmt.Sprintf(` ORDER BY score DESC, chunk_id LIMIT $%d`, len(args)+1)
	args = append(args, topK)

	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: keyword search: %w", err)
	}
	defer rows.Close()

	var hits []kbase.SearchHit
	for rows.Next() {
		var score float32
		e, err := scanEntryPg(func(dest ...any) error {
			return rows.Scan(append(dest, &score)...)
		})
		if err != nil {
			return nil, err
		}
		hits = append(hits, kbase.SearchHit{Entry: e, Score: score})
	}
	return hits, rows.Err()
}

// indexEmpty reports whether no embedded entries match the document filter.
func (s *Store) indexEmpty(ctx context.Context, documentID string) (bool, error) {
	q := `SELECT COUNT(*) FROM entries WHERE embedding IS NOT NULL`
	args := []any{}
	if documentID != "" {
		q += ` AND document_id = $1`
		args = append(args, documentID)
	}
	var n int
	if err := s.pool.QueryRow(ctx, q, args...).Scan(&n); err != nil {
		return false, fmt.Errorf("postgres: count embedded entries: %w", err)
	}
	return n == 0, nil
}

// scanEntryPg reads one entries row via the provided scan function.
func scanEntryPg(scan func(dest ...any) error) (kbase.Entry, error) {
	var e kbase.Entry
	var pagesJSON []byte
	var embStr, model *string
	var embeddedAt *int64
	if err := scan(&e.Chunk.ID, &e.Chunk.DocumentID, &e.Chunk.Strategy, &e.Chunk.Ordinal,
		&e.Chunk.Text, &e.Chunk.Span.Start, &e.Chunk.Span.End, &pagesJSON,
		&embStr, &model, &embeddedAt); err != nil {
		return kbase.Entry{}, fmt.Errorf("postgres: scan entry: %w", err)
	}
	_ = json.Unmarshal(pagesJSON, &e.Chunk.SourcePages)
	if embStr != nil {
		vec, err := parseVector(*embStr)
		if err == nil {
			rec := &kbase.EmbeddingRecord{ChunkID: e.Chunk.ID, Vector: vec}
			if model != nil {
				rec.Model = *model
			}
			if embeddedAt != nil {
				rec.CreatedAt = *embeddedAt
			}
			e.Embedding = rec
		}
	}
	return e, nil
}

// serializeEmbedding converts []float32 to a string like "[0.1,0.2,0.3]"
// suitable for pgvector's text input format.
func serializeEmbedding(embedding []float32) string {
	parts := make([]string, len(embedding))
	for i, v := range embedding {
		parts[i] = strconv.FormatFloat(float64(v), 'f', -1, 32)
	}
	return "[" + strings.Join(parts, ",") + "]"
}

// parseVector parses pgvector's text output format back to []float32.
func parseVector(s string) ([]float32, error) {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "[")
	s = strings.TrimSuffix(s, "]")
	if s == "" {
		return nil, nil
	}
	parts := strings.Split(s, ",")
	vec := make([]float32, len(parts))
	for i, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 32)
		if err != nil {
			return nil, fmt.Errorf("parse vector component %d: %w", i, err)
		}
		vec[i] = float32(f)
	}
	return vec, nil
}
