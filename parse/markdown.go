package parse

import (
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
)

// extractMarkdown renders a Markdown payload to plain text via the goldmark
// AST. Each level-1 heading starts a new page; content before the first
// heading is page one.
func extractMarkdown(raw []byte) ([]string, error) {
	root := goldmark.New().Parser().Parse(text.NewReader(raw))

	var pages []string
	var cur strings.Builder
	flush := func() {
		if strings.TrimSpace(cur.String()) != "" {
			pages = append(pages, pageTerminated(cur.String()))
		}
		cur.Reset()
	}

	for n := root.FirstChild(); n != nil; n = n.NextSibling() {
		if h, ok := n.(*ast.Heading); ok && h.Level == 1 {
			flush()
		}
		if block := blockText(n, raw); block != "" {
			cur.WriteString(block)
			cur.WriteString("\n\n")
		}
	}
	flush()

	if len(pages) == 0 {
		// Payload had markup but no text. assemble rejects it.
		return []string{""}, nil
	}
	return pages, nil
}

// blockText collects the plain text of one block-level node, preserving
// line structure inside code blocks.
func blockText(n ast.Node, src []byte) string {
	var b strings.Builder
	_ = ast.Walk(n, func(c ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		switch t := c.(type) {
		case *ast.Text:
			b.Write(t.Segment.Value(src))
			if t.SoftLineBreak() || t.HardLineBreak() {
				b.WriteByte('\n')
			}
		case *ast.FencedCodeBlock, *ast.CodeBlock:
			lines := c.Lines()
			for i := 0; i < lines.Len(); i++ {
				seg := lines.At(i)
				b.Write(seg.Value(src))
			}
			return ast.WalkSkipChildren, nil
		case *ast.AutoLink:
			b.Write(t.URL(src))
		}
		return ast.WalkContinue, nil
	})
	return strings.TrimRight(b.String(), "\n")
}
