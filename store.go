package kbase

import "context"

// Store abstracts the knowledge base: persistence of chunk+embedding entries
// keyed by document identity, with cosine similarity lookup.
//
// Ingest is atomic per document: either all prior entries for the document
// are replaced by the new set, or on failure the prior entries remain
// untouched. Implementations serialize ingests per document ID; Get and
// Search read consistent snapshots.
type Store interface {
	// Ingest replaces all entries for documentID with entries.
	Ingest(ctx context.Context, documentID string, entries []Entry) (IngestStats, error)

	// Get returns the document's entries ordered by chunk ordinal,
	// or ErrNotFound when the document has none.
	Get(ctx context.Context, documentID string) ([]Entry, error)

	// Delete removes all entries for documentID, reporting whether any existed.
	Delete(ctx context.Context, documentID string) (bool, error)

	// Search returns up to topK entries scored by cosine similarity against
	// query, descending, ties broken by chunk ID ascending. Returns
	// ErrEmptyIndex when no embedded entries match the filter.
	Search(ctx context.Context, query []float32, topK int, opts ...SearchOption) ([]SearchHit, error)

	// Init prepares the backing storage (tables, indexes). Idempotent.
	Init(ctx context.Context) error

	// Close releases the store's resources.
	Close() error
}

// KeywordSearcher is an optional Store capability for full-text keyword
// search over chunk text. Callers discover it via type assertion.
type KeywordSearcher interface {
	SearchKeyword(ctx context.Context, query string, topK int, opts ...SearchOption) ([]SearchHit, error)
}

// SearchOption narrows a similarity search.
type SearchOption func(*SearchConfig)

// SearchConfig holds resolved search options. Exported so store
// implementations in subpackages can apply them.
type SearchConfig struct {
	DocumentID string // empty = all documents
}

// WithDocumentFilter restricts a search to entries of one document.
func WithDocumentFilter(documentID string) SearchOption {
	return func(c *SearchConfig) { c.DocumentID = documentID }
}

// ResolveSearchOptions applies opts over the zero config.
func ResolveSearchOptions(opts []SearchOption) SearchConfig {
	var cfg SearchConfig
	for _, o := range opts {
		o(&cfg)
	}
	return cfg
}
