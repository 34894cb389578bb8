// Package memory implements kbase.Store entirely in process memory.
// It backs tests and single-shot benchmark runs where persistence is
// not needed.
package memory

import (
	"context"
	"log/slog"
	"math"
	"sort"
	"sync"
	"time"

	kbase "github.com/nevindra/kbase"
)

// StoreOption configures a memory Store.
type StoreOption func(*Store)

// WithLogger sets a structured logger for the store.
func WithLogger(l *slog.Logger) StoreOption {
	return func(s *Store) { s.logger = l }
}

// Store holds entries keyed by document ID behind a single RWMutex.
// Ingest installs a fresh copy of the entry slice so readers holding a
// previously returned slice never observe mutation.
type Store struct {
	mu     sync.RWMutex
	docs   map[string][]kbase.Entry
	logger *slog.Logger
}

var _ kbase.Store = (*Store)(nil)

var nopLogger = slog.New(discardHandler{})

type discardHandler struct{}

func (discardHandler) Enabled(context.Context, slog.Level) bool  { return false }
func (discardHandler) Handle(context.Context, slog.Record) error { return nil }
func (d discardHandler) WithAttrs([]slog.Attr) slog.Handler      { return d }
func (d discardHandler) WithGroup(string) slog.Handler           { return d }

// New creates an empty in-memory store.
func New(opts ...StoreOption) *Store {
	s := &Store{docs: make(map[string][]kbase.Entry), logger: nopLogger}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Init is a no-op; the store is ready on construction.
func (s *Store) Init(ctx context.Context) error { return nil }

// Close is a no-op.
func (s *Store) Close() error { return nil }

// Ingest replaces all entries for documentID atomically under the write lock.
func (s *Store) Ingest(ctx context.Context, documentID string, entries []kbase.Entry) (kbase.IngestStats, error) {
	start := time.Now()
	if err := ctx.Err(); err != nil {
		return kbase.IngestStats{}, err
	}

	cp := make([]kbase.Entry, len(entries))
	copy(cp, entries)
	sort.SliceStable(cp, func(i, j int) bool { return cp[i].Chunk.Ordinal < cp[j].Chunk.Ordinal })

	embedded := 0
	for _, e := range cp {
		if e.Embedding != nil {
			embedded++
		}
	}

	s.mu.Lock()
	replaced := len(s.docs[documentID])
	if len(cp) == 0 {
		delete(s.docs, documentID)
	} else {
		s.docs[documentID] = cp
	}
	s.mu.Unlock()

	s.logger.Debug("memory: ingest",
		"document_id", documentID,
		"chunks", len(cp),
		"embedded", embedded,
		"replaced", replaced,
		"duration", time.Since(start))
	return kbase.IngestStats{
		DocumentID:    documentID,
		ChunkCount:    len(cp),
		EmbeddedCount: embedded,
		ReplacedCount: replaced,
	}, nil
}

// Get returns a copy of the document's entries ordered by chunk ordinal.
func (s *Store) Get(ctx context.Context, documentID string) ([]kbase.Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	stored, ok := s.docs[documentID]
	s.mu.RUnlock()
	if !ok {
		return nil, kbase.ErrNotFound
	}
	cp := make([]kbase.Entry, len(stored))
	copy(cp, stored)
	return cp, nil
}

// Delete removes all entries for documentID.
func (s *Store) Delete(ctx context.Context, documentID string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	s.mu.Lock()
	_, ok := s.docs[documentID]
	delete(s.docs, documentID)
	s.mu.Unlock()
	s.logger.Debug("memory: delete", "document_id", documentID, "existed", ok)
	return ok, nil
}

// Search scores every embedded entry by cosine similarity against query.
func (s *Store) Search(ctx context.Context, query []float32, topK int, opts ...kbase.SearchOption) ([]kbase.SearchHit, error) {
	start := time.Now()
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	cfg := kbase.ResolveSearchOptions(opts)

	s.mu.RLock()
	var hits []kbase.SearchHit
	scanned := 0
	for docID, entries := range s.docs {
		if cfg.DocumentID != "" && docID != cfg.DocumentID {
			continue
		}
		for _, e := range entries {
			if e.Embedding == nil {
				continue
			}
			scanned++
			hits = append(hits, kbase.SearchHit{Entry: e, Score: cosineSimilarity(query, e.Embedding.Vector)})
		}
	}
	s.mu.RUnlock()

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

	s.logger.Debug("memory: search",
		"scanned", scanned,
		"returned", len(hits),
		"duration", time.Since(start))
	return hits, nil
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
