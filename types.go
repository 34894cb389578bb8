package kbase

// --- Document model ---

// Page is one physical page (or section) of a parsed document. Start is the
// byte offset of the page's text within the full document text, so pages are
// contiguous and non-overlapping: Pages[i+1].Start == Pages[i].Start + len(Pages[i].Text).
type Page struct {
	Number int    `json:"number"` // 1-based, strictly increasing
	Text   string `json:"text"`
	Start  int    `json:"start"`
}

// ParsedDocument is the page-addressable text model produced by a parser.
// DocumentID is caller-supplied and stable across re-ingestion.
type ParsedDocument struct {
	DocumentID string `json:"document_id"`
	Pages      []Page `json:"pages"`
}

// Text returns the full document text: the exact concatenation of page texts.
func (d ParsedDocument) Text() string {
	if len(d.Pages) == 1 {
		return d.Pages[0].Text
	}
	var n int
	for _, p := range d.Pages {
		n += len(p.Text)
	}
	buf := make([]byte, 0, n)
	for _, p := range d.Pages {
		buf = append(buf, p.Text...)
	}
	return string(buf)
}

// Len returns the total length of the document text in bytes.
func (d ParsedDocument) Len() int {
	if len(d.Pages) == 0 {
		return 0
	}
	last := d.Pages[len(d.Pages)-1]
	return last.Start + len(last.Text)
}

// PagesInSpan returns the page numbers whose text overlaps span, in page order.
// Zero-length pages never overlap anything.
func (d ParsedDocument) PagesInSpan(span CharSpan) []int {
	var pages []int
	for _, p := range d.Pages {
		if len(p.Text) == 0 {
			continue
		}
		pageEnd := p.Start + len(p.Text)
		if p.Start < span.End && pageEnd > span.Start {
			pages = append(pages, p.Number)
		}
	}
	return pages
}

// --- Chunk model ---

// CharSpan is a half-open byte range [Start, End) into the document text.
type CharSpan struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

// Len returns the span length in bytes.
func (s CharSpan) Len() int { return s.End - s.Start }

// Chunk is one retrieval unit produced by a chunking strategy.
// ID is deterministic (see ChunkID) so re-running a strategy over the same
// document yields the same identifiers.
type Chunk struct {
	ID          string   `json:"id"`
	DocumentID  string   `json:"document_id"`
	Strategy    string   `json:"strategy"`
	Ordinal     int      `json:"ordinal"` // 0-based position in strategy output
	Text        string   `json:"text"`
	Span        CharSpan `json:"span"`
	SourcePages []int    `json:"source_pages"` // sorted, distinct page numbers
}

// --- Comparison model ---

// StrategyMetrics summarizes one strategy's output over a document.
// PagePreservation is the fraction of chunks whose text stays within a single
// source page, in [0, 1].
type StrategyMetrics struct {
	ChunkCount       int     `json:"chunk_count"`
	AvgChunkChars    float64 `json:"avg_chunk_chars"`
	MinChunkChars    int     `json:"min_chunk_chars"`
	MaxChunkChars    int     `json:"max_chunk_chars"`
	PagePreservation float64 `json:"page_preservation_score"`
}

// StrategyResult holds one strategy's chunks and metrics.
type StrategyResult struct {
	Strategy string          `json:"strategy"`
	Chunks   []Chunk         `json:"chunks"`
	Metrics  StrategyMetrics `json:"metrics"`
}

// StrategyFailure records a strategy that errored or panicked during a
// comparison run. Failures are soft: the comparison continues without it.
type StrategyFailure struct {
	Strategy string `json:"strategy"`
	Error    string `json:"error"`
}

// Recommendation names the winning strategy and the metric that won it.
type Recommendation struct {
	Strategy string `json:"strategy"`
	Reason   string `json:"reason"`
}

// ComparisonReport is the immutable outcome of running every registered
// strategy over one parsed document.
type ComparisonReport struct {
	DocumentID       string                    `json:"document_id"`
	Results          map[string]StrategyResult `json:"results"`
	FailedStrategies []StrategyFailure         `json:"failed_strategies,omitempty"`
	Recommendation   Recommendation            `json:"recommendation"`
	CreatedAt        int64                     `json:"created_at"`
}

// --- Embedding model ---

// EmbeddingRecord is the vector representation of one chunk. Vector length is
// constant for a given Model across all records.
type EmbeddingRecord struct {
	ChunkID   string    `json:"chunk_id"`
	Vector    []float32 `json:"-"`
	Model     string    `json:"model"`
	CreatedAt int64     `json:"created_at"`
}

// --- Store model ---

// Entry aggregates a chunk with its embedding inside the knowledge base.
// Embedding may be nil while the chunk is pending embedding.
type Entry struct {
	Chunk     Chunk            `json:"chunk"`
	Embedding *EmbeddingRecord `json:"embedding,omitempty"`
}

// SearchHit is one similarity search result. Score is cosine similarity.
type SearchHit struct {
	Entry Entry   `json:"entry"`
	Score float32 `json:"score"`
}

// IngestStats describes what a store ingest call persisted.
type IngestStats struct {
	DocumentID    string `json:"document_id"`
	ChunkCount    int    `json:"chunk_count"`
	EmbeddedCount int    `json:"embedded_count"`
	ReplacedCount int    `json:"replaced_count"`
}

// IngestResult is the outcome of a full pipeline run for one document.
type IngestResult struct {
	DocumentID    string `json:"document_id"`
	Strategy      string `json:"strategy"`
	ChunkCount    int    `json:"chunk_count"`
	EmbeddedCount int    `json:"embedded_count"`
	FailedCount   int    `json:"failed_count"`
}

// --- Chunking configuration ---

// ChunkConfig is the shared configuration surface consumed by chunking
// strategies and the comparator.
type ChunkConfig struct {
	MaxChars         int `json:"max_chars"`          // window / packing limit
	OverlapChars     int `json:"overlap_chars"`      // fixed-size window overlap
	PagesPerChunk    int `json:"pages_per_chunk"`    // page-aligned grouping
	TargetChunkChars int `json:"target_chunk_chars"` // comparator tie-break target
}

// DefaultChunkConfig returns the default chunking configuration.
func DefaultChunkConfig() ChunkConfig {
	return ChunkConfig{
		MaxChars:         1000,
		OverlapChars:     0,
		PagesPerChunk:    1,
		TargetChunkChars: 1000,
	}
}

// Validate checks the configuration for values no strategy can honor.
func (c ChunkConfig) Validate() error {
	if c.MaxChars <= 0 {
		return &ConfigError{Field: "max_chars", Reason: "must be positive"}
	}
	if c.OverlapChars < 0 {
		return &ConfigError{Field: "overlap_chars", Reason: "must not be negative"}
	}
	if c.OverlapChars > c.MaxChars-1 {
		return &ConfigError{Field: "overlap_chars", Reason: "must not exceed max_chars - 1"}
	}
	if c.PagesPerChunk <= 0 {
		return &ConfigError{Field: "pages_per_chunk", Reason: "must be positive"}
	}
	if c.TargetChunkChars <= 0 {
		return &ConfigError{Field: "target_chunk_chars", Reason: "must be positive"}
	}
	return nil
}

// Strategy is a named, swappable algorithm for turning a parsed document into
// an ordered chunk sequence. Implementations must be pure: no shared mutable
// state between calls, so the comparator can run them concurrently.
type Strategy interface {
	Name() string
	Chunk(doc ParsedDocument, cfg ChunkConfig) ([]Chunk, error)
}
