package kbase

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// DocumentParser converts a raw document payload into the page-addressable
// text model. Implemented by parse.Parser; injected so the pipeline owns no
// file-format concerns itself.
type DocumentParser interface {
	Parse(documentID string, raw []byte, filename string) (ParsedDocument, error)
}

// Pipeline wires parse, compare, embed, and store into the full ingestion
// flow. All collaborators are injected; the pipeline owns no connections or
// global state of its own.
type Pipeline struct {
	parser     DocumentParser
	comparator *Comparator
	embedder   *Embedder
	store      Store
	cfg        ChunkConfig
	logger     *slog.Logger
}

// PipelineOption configures a Pipeline.
type PipelineOption func(*Pipeline)

// WithChunkConfig sets the chunking configuration used for comparison runs.
func WithChunkConfig(cfg ChunkConfig) PipelineOption {
	return func(p *Pipeline) { p.cfg = cfg }
}

// WithLogger sets a structured logger for pipeline runs.
func WithLogger(l *slog.Logger) PipelineOption {
	return func(p *Pipeline) { p.logger = l }
}

// NewPipeline creates a Pipeline from its collaborators.
func NewPipeline(parser DocumentParser, comparator *Comparator, embedder *Embedder, store Store, opts ...PipelineOption) *Pipeline {
	p := &Pipeline{
		parser:     parser,
		comparator: comparator,
		embedder:   embedder,
		store:      store,
		cfg:        DefaultChunkConfig(),
		logger:     nopLogger,
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Process ingests one document end to end: parse, compare strategies, embed
// the recommended strategy's chunks, and persist the result. Parsing and
// configuration errors abort immediately; per-strategy and per-batch failures
// degrade per the comparator and embedder contracts. Re-processing the same
// documentID replaces its prior entries.
func (p *Pipeline) Process(ctx context.Context, documentID string, raw []byte, filename string) (IngestResult, error) {
	if documentID == "" {
		documentID = NewID()
	}
	start := time.Now()
	p.logger.Debug("pipeline: process started", "document_id", documentID, "filename", filename, "bytes", len(raw))

	doc, err := p.parser.Parse(documentID, raw, filename)
	if err != nil {
		return IngestResult{}, fmt.Errorf("parse: %w", err)
	}

	report, err := p.comparator.Compare(ctx, doc, p.cfg)
	if err != nil {
		return IngestResult{}, fmt.Errorf("compare: %w", err)
	}
	winner := report.Recommendation.Strategy
	if winner == "" {
		return IngestResult{}, fmt.Errorf("compare: no usable strategy for document %s", documentID)
	}
	chunks := report.Results[winner].Chunks

	embedded, err := p.embedder.Embed(ctx, chunks)
	if err != nil {
		return IngestResult{}, fmt.Errorf("embed: %w", err)
	}

	byChunk := make(map[string]*EmbeddingRecord, len(embedded.Records))
	for i := range embedded.Records {
		byChunk[embedded.Records[i].ChunkID] = &embedded.Records[i]
	}
	entries := make([]Entry, len(chunks))
	for i, c := range chunks {
		entries[i] = Entry{Chunk: c, Embedding: byChunk[c.ID]}
	}

	if _, err := p.store.Ingest(ctx, documentID, entries); err != nil {
		return IngestResult{}, fmt.Errorf("ingest: %w", err)
	}

	result := IngestResult{
		DocumentID:    documentID,
		Strategy:      winner,
		ChunkCount:    len(chunks),
		EmbeddedCount: len(embedded.Records),
		FailedCount:   len(embedded.FailedChunkIDs),
	}
	p.logger.Info("pipeline: document ingested",
		"document_id", documentID,
		"strategy", winner,
		"chunks", result.ChunkCount,
		"embedded", result.EmbeddedCount,
		"failed", result.FailedCount,
		"duration", time.Since(start))
	return result, nil
}

// Compare runs the strategy benchmark over a raw document without committing
// anything to the store. Used for diagnostics.
func (p *Pipeline) Compare(ctx context.Context, documentID string, raw []byte, filename string) (ComparisonReport, error) {
	if documentID == "" {
		documentID = NewID()
	}
	doc, err := p.parser.Parse(documentID, raw, filename)
	if err != nil {
		return ComparisonReport{}, fmt.Errorf("parse: %w", err)
	}
	return p.comparator.Compare(ctx, doc, p.cfg)
}
