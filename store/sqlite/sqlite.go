// Package sqlite implements kbase.Store using pure-Go SQLite
// with in-process brute-force vector search. Zero CGO required.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"time"

	kbase "github.com/nevindra/kbase"

	_ "modernc.org/sqlite" // pure-Go SQLite driver
)

// StoreOption configures a SQLite Store.
type StoreOption func(*Store)

// WithLogger sets a structured logger for the store.
// When set, the store emits debug logs for every operation including
// timing, row counts, and key parameters. If not set, no logs are emitted.
func WithLogger(l *slog.Logger) StoreOption {
	return func(s *Store) { s.logger = l }
}

// Store implements kbase.Store backed by a local SQLite file.
// Embeddings are stored as JSON text and vector search is done
// in-process using brute-force cosine similarity.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

var _ kbase.Store = (*Store)(nil)
var _ kbase.KeywordSearcher = (*Store)(nil)

// nopLogger is a logger that discards all output.
var nopLogger = slog.New(discardHandler{})

type discardHandler struct{}

func (discardHandler) Enabled(context.Context, slog.Level) bool  { return false }
func (discardHandler) Handle(context.Context, slog.Record) error { return nil }
func (d discardHandler) WithAttrs([]slog.Attr) slog.Handler      { return d }
func (d discardHandler) WithGroup(string) slog.Handler           { return d }

// New creates a Store using a local SQLite file at dbPath.
// It opens a single shared connection pool with SetMaxOpenConns(1) so that
// all goroutines serialize through one connection, eliminating SQLITE_BUSY
// errors caused by concurrent writers opening independent connections.
func New(dbPath string, opts ...StoreOption) *Store {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		// sql.Open only fails when the driver is not registered; with the
		// blank import above that never happens.
		panic(fmt.Sprintf("sqlite: open driver: %v", err))
	}
	db.SetMaxOpenConns(1)
	s := &Store{db: db, logger: nopLogger}
	for _, o := range opts {
		o(s)
	}
	s.logger.Debug("sqlite: store opened", "path", dbPath)
	return s
}

// Init creates all required tables and indexes.
func (s *Store) Init(ctx context.Context) error {
	start := time.Now()
	s.logger.Debug("sqlite: init started")

	_, err := s.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS entries (
		chunk_id TEXT PRIMARY KEY,
		document_id TEXT NOT NULL,
		strategy TEXT NOT NULL,
		ordinal INTEGER NOT NULL,
		content TEXT NOT NULL,
		span_start INTEGER NOT NULL,
		span_end INTEGER NOT NULL,
		source_pages TEXT NOT NULL,
		embedding TEXT,
		model TEXT,
		embedded_at INTEGER
	)`)
	if err != nil {
		return fmt.Errorf("create table: %w", err)
	}

	_, _ = s.db.ExecContext(ctx, `CREATE INDEX IF NOT EXISTS idx_entries_document ON entries(document_id)`)

	// FTS5 full-text index for keyword search over chunk text.
	_, _ = s.db.ExecContext(ctx, `CREATE VIRTUAL TABLE IF NOT EXISTS entries_fts USING fts5(chunk_id UNINDEXED, content)`)

	s.logger.Info("sqlite: init completed", "duration", time.Since(start))
	return nil
}

// Close closes the underlying database.
func (s *Store) Close() error { return s.db.Close() }

// Ingest replaces all entries for documentID inside one transaction.
// On any failure the transaction rolls back and prior entries survive.
func (s *Store) Ingest(ctx context.Context, documentID string, entries []kbase.Entry) (kbase.IngestStats, error) {
	start := time.Now()
	s.logger.Debug("sqlite: ingest", "document_id", documentID, "entries", len(entries))

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return kbase.IngestStats{}, fmt.Errorf("begin ingest: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	var replaced int
	if err := tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM entries WHERE document_id = ?`, documentID).Scan(&replaced); err != nil {
		return kbase.IngestStats{}, fmt.Errorf("count prior entries: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM entries_fts WHERE chunk_id IN (SELECT chunk_id FROM entries WHERE document_id = ?)`,
		documentID); err != nil {
		return kbase.IngestStats{}, fmt.Errorf("clear fts entries: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM entries WHERE document_id = ?`, documentID); err != nil {
		return kbase.IngestStats{}, fmt.Errorf("clear entries: %w", err)
	}

	embedded := 0
	for _, e := range entries {
		pagesJSON, _ := json.Marshal(e.Chunk.SourcePages)

		var embJSON, model *string
		var embeddedAt *int64
		if e.Embedding != nil {
			v := serializeEmbedding(e.Embedding.Vector)
			embJSON = &v
			model = &e.Embedding.Model
			embeddedAt = &e.Embedding.CreatedAt
			embedded++
		}

		_, err := tx.ExecContext(ctx,
			`INSERT INTO entries (chunk_id, document_id, strategy, ordinal, content, span_start, span_end, source_pages, embedding, model, embedded_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			e.Chunk.ID, documentID, e.Chunk.Strategy, e.Chunk.Ordinal, e.Chunk.Text,
			e.Chunk.Span.Start, e.Chunk.Span.End, string(pagesJSON), embJSON, model, embeddedAt,
		)
		if err != nil {
			return kbase.IngestStats{}, fmt.Errorf("insert entry %s: %w", e.Chunk.ID, err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO entries_fts(chunk_id, content) VALUES (?, ?)`, e.Chunk.ID, e.Chunk.Text); err != nil {
			return kbase.IngestStats{}, fmt.Errorf("index entry %s: %w", e.Chunk.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return kbase.IngestStats{}, fmt.Errorf("commit ingest: %w", err)
	}

	s.logger.Debug("sqlite: ingest ok",
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
	start := time.Now()
	s.logger.Debug("sqlite: get entries", "document_id", documentID)

	rows, err := s.db.QueryContext(ctx,
		`SELECT chunk_id, document_id, strategy, ordinal, content, span_start, span_end, source_pages, embedding, model, embedded_at
		 FROM entries WHERE document_id = ? ORDER BY ordinal`, documentID)
	if err != nil {
		return nil, fmt.Errorf("get entries: %w", err)
	}
	defer rows.Close()

	var entries []kbase.Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate entries: %w", err)
	}
	if len(entries) == 0 {
		return nil, kbase.ErrNotFound
	}
	s.logger.Debug("sqlite: get entries ok", "document_id", documentID, "entries", len(entries), "duration", time.Since(start))
	return entries, nil
}

// Delete removes all entries for documentID.
func (s *Store) Delete(ctx context.Context, documentID string) (bool, error) {
	start := time.Now()
	s.logger.Debug("sqlite: delete document", "document_id", documentID)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin delete: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM entries_fts WHERE chunk_id IN (SELECT chunk_id FROM entries WHERE document_id = ?)`,
		documentID); err != nil {
		return false, fmt.Errorf("clear fts entries: %w", err)
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM entries WHERE document_id = ?`, documentID)
	if err != nil {
		return false, fmt.Errorf("delete entries: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit delete: %w", err)
	}

	affected, _ := res.RowsAffected()
	s.logger.Debug("sqlite: delete document ok", "document_id", documentID, "removed", affected, "duration", time.Since(start))
	return affected > 0, nil
}

// Search scores every embedded entry by cosine similarity against query,
// descending, ties broken by chunk ID ascending.
func (s *Store) Search(ctx context.Context, query []float32, topK int, opts ...kbase.SearchOption) ([]kbase.SearchHit, error) {
	start := time.Now()
	cfg := kbase.ResolveSearchOptions(opts)
	s.logger.Debug("sqlite: search", "top_k", topK, "query_dim", len(query), "document_filter", cfg.DocumentID)

	q := `SELECT chunk_id, document_id, strategy, ordinal, content, span_start, span_end, source_pages, embedding, model, embedded_at
		FROM entries WHERE embedding IS NOT NULL`
	args := []any{}
	if cfg.DocumentID != "" {
		q += ` AND document_id = ?`
		args = append(args, cfg.DocumentID)
	}

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("search entries: %w", err)
	}
	defer rows.Close()

	var hits []kbase.SearchHit
	scanned := 0
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		scanned++
		hits = append(hits, kbase.SearchHit{Entry: e, Score: cosineSimilarity(query, e.Embedding.Vector)})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate entries: %w", err)
	}
	if scanned == 0 {
		return nil, kbase.ErrEmptyIndex
	}

	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].Entry.Chunk.ID < hits[j].Entry.Chunk.ID
	})
	if len(hits) > topK {
		hits = hits[:topK]
	}

	s.logger.Debug("sqlite: search ok", "scanned", scanned, "returned", len(hits), "duration", time.Since(start))
	return hits, nil
}

// SearchKeyword performs full-text keyword search over chunk text using
// SQLite FTS5. Results are sorted by relevance (FTS5 rank).
func (s *Store) SearchKeyword(ctx context.Context, query string, topK int, opts ...kbase.SearchOption) ([]kbase.SearchHit, error) {
	start := time.Now()
	cfg := kbase.ResolveSearchOptions(opts)
	s.logger.Debug("sqlite: search keyword", "query", query, "top_k", topK, "document_filter", cfg.DocumentID)

	q := `SELECT e.chunk_id, e.document_id, e.strategy, e.ordinal, e.content, e.span_start, e.span_end, e.source_pages, e.embedding, e.model, e.embedded_at, f.rank
		FROM entries_fts f
		JOIN entries e ON e.chunk_id = f.chunk_id
		WHERE entries_fts MATCH ?`
	args := []any{query}
	if cfg.DocumentID != "" {
		q += ` AND e.document_id = ?`
		args = append(args, cfg.DocumentID)
	}
	q += ` ORDER BY f.rank LIMIT ?`
	args = append(args, topK)

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("keyword search: %w", err)
	}
	defer rows.Close()

	var hits []kbase.SearchHit
	for rows.Next() {
		var e kbase.Entry
		var pagesJSON string
		var embJSON, model sql.NullString
		var embeddedAt sql.NullInt64
		var rank float64
		if err := rows.Scan(&e.Chunk.ID, &e.Chunk.DocumentID, &e.Chunk.Strategy, &e.Chunk.Ordinal,
			&e.Chunk.Text, &e.Chunk.Span.Start, &e.Chunk.Span.End, &pagesJSON,
			&embJSON, &model, &embeddedAt, &rank); err != nil {
			return nil, fmt.Errorf("scan entry: %w", err)
		}
		_ = json.Unmarshal([]byte(pagesJSON), &e.Chunk.SourcePages)
		if embJSON.Valid {
			vec, err := deserializeEmbedding(embJSON.String)
			if err == nil {
				e.Embedding = &kbase.EmbeddingRecord{
					ChunkID:   e.Chunk.ID,
					Vector:    vec,
					Model:     model.String,
					CreatedAt: embeddedAt.Int64,
				}
			}
		}
		// FTS5 rank is negative (closer to 0 = better). Use -rank as score.
		score := float32(-rank)
		if score < 0 {
			score = 0
		}
		hits = append(hits, kbase.SearchHit{Entry: e, Score: score})
	}
	s.logger.Debug("sqlite: search keyword ok", "returned", len(hits), "duration", time.Since(start))
	return hits, rows.Err()
}

// scanEntry reads one entries row. Works for any query selecting the full
// column set in table order.
func scanEntry(rows *sql.Rows) (kbase.Entry, error) {
	var e kbase.Entry
	var pagesJSON string
	var embJSON, model sql.NullString
	var embeddedAt sql.NullInt64
	if err := rows.Scan(&e.Chunk.ID, &e.Chunk.DocumentID, &e.Chunk.Strategy, &e.Chunk.Ordinal,
		&e.Chunk.Text, &e.Chunk.Span.Start, &e.Chunk.Span.End, &pagesJSON,
		&embJSON, &model, &embeddedAt); err != nil {
		return kbase.Entry{}, fmt.Errorf("scan entry: %w", err)
	}
	_ = json.Unmarshal([]byte(pagesJSON), &e.Chunk.SourcePages)
	if embJSON.Valid {
		vec, err := deserializeEmbedding(embJSON.String)
		if err == nil {
			e.Embedding = &kbase.EmbeddingRecord{
				ChunkID:   e.Chunk.ID,
				Vector:    vec,
				Model:     model.String,
				CreatedAt: embeddedAt.Int64,
			}
		}
	}
	return e, nil
}

func cosineSimilarity(a, b []float32) float32 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	denom := math.Sqrt(normA) * math.Sqrt(normB)
	if denom == 0 {
		return 0
	}
	return float32(dot / denom)
}

// serializeEmbedding converts []float32 to a JSON array string.
func serializeEmbedding(embedding []float32) string {
	data, _ := json.Marshal(embedding)
	return string(data)
}

// deserializeEmbedding parses a JSON array string back to []float32.
func deserializeEmbedding(s string) ([]float32, error) {
	var v []float32
	err := json.Unmarshal([]byte(s), &v)
	return v, err
}
