package strategy

import (
	kbase "github.com/nevindra/kbase"
)

// PageAligned emits one chunk per PagesPerChunk consecutive pages. With
// single-page grouping no chunk ever straddles a page boundary, so the
// page preservation score is always 1.0.
type PageAligned struct{}

var _ kbase.Strategy = PageAligned{}

// Name returns "page_aligned".
func (PageAligned) Name() string { return "page_aligned" }

// Chunk implements kbase.Strategy.
func (p PageAligned) Chunk(doc kbase.ParsedDocument, cfg kbase.ChunkConfig) ([]kbase.Chunk, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	text := doc.Text()
	if len(text) == 0 {
		return nil, nil
	}

	var spans []kbase.CharSpan
	for i := 0; i < len(doc.Pages); i += cfg.PagesPerChunk {
		end := i + cfg.PagesPerChunk
		if end > len(doc.Pages) {
			end = len(doc.Pages)
		}
		first := doc.Pages[i]
		last := doc.Pages[end-1]
		span := kbase.CharSpan{Start: first.Start, End: last.Start + len(last.Text)}
		// A group of entirely empty pages carries no text.
		if span.Len() == 0 {
			continue
		}
		spans = append(spans, span)
	}

	return chunksFromSpans(doc, text, p.Name(), spans), nil
}
