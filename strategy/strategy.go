// Package strategy provides the built-in chunking strategies: fixed-size
// windows, page-aligned grouping, and semantic paragraph/sentence packing.
//
// Every strategy is a pure function over a parsed document: chunks are
// assembled from byte spans into the document text, so the output of any
// single strategy covers the full text with no character dropped and no
// duplicated range beyond the declared window overlap.
package strategy

import (
	kbase "github.com/nevindra/kbase"
)

// All returns the built-in strategies in a deterministic order, ready to be
// handed to a kbase.Comparator.
func All() []kbase.Strategy {
	return []kbase.Strategy{Fixed{}, PageAligned{}, Semantic{}}
}

// newChunk assembles a chunk for span, deriving text and source pages from
// the document so strategies only do span bookkeeping.
func newChunk(doc kbase.ParsedDocument, text string, name string, ordinal int, span kbase.CharSpan) kbase.Chunk {
	return kbase.Chunk{
		ID:          kbase.ChunkID(doc.DocumentID, name, ordinal),
		DocumentID:  doc.DocumentID,
		Strategy:    name,
		Ordinal:     ordinal,
		Text:        text[span.Start:span.End],
		Span:        span,
		SourcePages: doc.PagesInSpan(span),
	}
}

// chunksFromSpans turns an ordered span sequence into chunks.
func chunksFromSpans(doc kbase.ParsedDocument, text string, name string, spans []kbase.CharSpan) []kbase.Chunk {
	chunks := make([]kbase.Chunk, len(spans))
	for i, span := range spans {
		chunks[i] = newChunk(doc, text, name, i, span)
	}
	return chunks
}
