package strategy

import (
	"unicode/utf8"

	kbase "github.com/nevindra/kbase"
)

// Fixed splits the concatenated document text into windows of MaxChars with
// OverlapChars of lookback between consecutive windows. The last window may
// be shorter than MaxChars. Window positions are byte offsets, but edges are
// pulled to rune starts so no chunk ever splits a UTF-8 sequence.
type Fixed struct{}

var _ kbase.Strategy = Fixed{}

// Name returns "fixed_size".
func (Fixed) Name() string { return "fixed_size" }

// Chunk implements kbase.Strategy.
func (f Fixed) Chunk(doc kbase.ParsedDocument, cfg kbase.ChunkConfig) ([]kbase.Chunk, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	text := doc.Text()
	if len(text) == 0 {
		return nil, nil
	}

	var spans []kbase.CharSpan
	start := 0
	for start < len(text) {
		end := start + cfg.MaxChars
		if end >= len(text) {
			end = len(text)
		} else {
			for end > start && !utf8.RuneStart(text[end]) {
				end--
			}
			if end == start {
				// Window narrower than the rune at start; emit it whole.
				_, n := utf8.DecodeRuneInString(text[start:])
				end = start + n
			}
		}
		spans = append(spans, kbase.CharSpan{Start: start, End: end})
		if end == len(text) {
			break
		}
		next := end - cfg.OverlapChars
		if next <= start {
			next = end
		} else {
			for next < end && !utf8.RuneStart(text[next]) {
				next++
			}
		}
		start = next
	}

	return chunksFromSpans(doc, text, f.Name(), spans), nil
}
