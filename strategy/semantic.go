package strategy

import (
	kbase "github.com/nevindra/kbase"
)

// Semantic splits the document on paragraph boundaries, subdivides oversize
// paragraphs at sentence boundaries, then greedily packs consecutive units
// up to MaxChars. A paragraph is never split mid-sentence; a single sentence
// (or boundary-free paragraph) longer than MaxChars becomes its own oversized
// chunk rather than being truncated.
type Semantic struct{}

var _ kbase.Strategy = Semantic{}

// Name returns "semantic".
func (Semantic) Name() string { return "semantic" }

// Chunk implements kbase.Strategy.
func (s Semantic) Chunk(doc kbase.ParsedDocument, cfg kbase.ChunkConfig) ([]kbase.Chunk, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	text := doc.Text()
	if len(text) == 0 {
		return nil, nil
	}

	var units []kbase.CharSpan
	for _, para := range paragraphSpans(text) {
		if para.Len() <= cfg.MaxChars {
			units = append(units, para)
			continue
		}
		units = append(units, sentenceSpans(text, para)...)
	}

	spans := packSpans(units, cfg.MaxChars)
	return chunksFromSpans(doc, text, s.Name(), spans), nil
}

// paragraphSpans splits text into paragraph units on blank lines, accepting
// both "\n" and "\r\n" line endings. Separator characters attach to the
// preceding unit so that the spans tile [0, len(text)) exactly.
func paragraphSpans(text string) []kbase.CharSpan {
	var spans []kbase.CharSpan
	start := 0
	i := 0
	for i < len(text) {
		brk := lineBreakLen(text, i)
		if brk == 0 {
			i++
			continue
		}
		if lineBreakLen(text, i+brk) == 0 {
			i += brk
			continue
		}
		// Blank line: consume the whole line-break run as part of the
		// current unit.
		j := i
		for n := lineBreakLen(text, j); n > 0; n = lineBreakLen(text, j) {
			j += n
		}
		spans = append(spans, kbase.CharSpan{Start: start, End: j})
		start = j
		i = j
	}
	if start < len(text) {
		spans = append(spans, kbase.CharSpan{Start: start, End: len(text)})
	}
	return spans
}

// lineBreakLen reports the width of the line break at i: 2 for "\r\n",
// 1 for "\n", 0 otherwise.
func lineBreakLen(text string, i int) int {
	if i >= len(text) {
		return 0
	}
	if text[i] == '\n' {
		return 1
	}
	if text[i] == '\r' && i+1 < len(text) && text[i+1] == '\n' {
		return 2
	}
	return 0
}

// sentenceSpans subdivides one paragraph span at sentence boundaries,
// returning consecutive spans that tile the paragraph exactly. A paragraph
// with no detectable boundary comes back as a single span.
func sentenceSpans(text string, para kbase.CharSpan) []kbase.CharSpan {
	boundaries := sentenceBoundaries(text[para.Start:para.End])
	if len(boundaries) == 0 {
		return []kbase.CharSpan{para}
	}
	var spans []kbase.CharSpan
	prev := para.Start
	for _, b := range boundaries {
		pos := para.Start + b
		if pos <= prev || pos > para.End {
			continue
		}
		spans = append(spans, kbase.CharSpan{Start: prev, End: pos})
		prev = pos
	}
	if prev < para.End {
		spans = append(spans, kbase.CharSpan{Start: prev, End: para.End})
	}
	return spans
}

// packSpans greedily merges consecutive units into chunks of at most maxChars.
// A single unit longer than maxChars is emitted alone, oversized.
func packSpans(units []kbase.CharSpan, maxChars int) []kbase.CharSpan {
	if len(units) == 0 {
		return nil
	}
	var spans []kbase.CharSpan
	cur := units[0]
	for _, u := range units[1:] {
		if u.End-cur.Start <= maxChars {
			cur.End = u.End
			continue
		}
		spans = append(spans, cur)
		cur = u
	}
	return append(spans, cur)
}
