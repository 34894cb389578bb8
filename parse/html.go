package parse

import (
	"bytes"
	"net/url"
	"strings"
	"unicode"
	"unicode/utf8"

	readability "github.com/go-shiori/go-readability"
)

// extractHTML extracts readable article text from an HTML payload using
// readability, falling back to a plain tag strip when the page has no
// recognizable article structure. HTML documents are a single page.
func extractHTML(raw []byte, filename string) ([]string, error) {
	u, _ := url.Parse("file:///" + filename)
	article, err := readability.FromReader(bytes.NewReader(raw), u)
	if err == nil && strings.TrimSpace(article.TextContent) != "" {
		return []string{pageTerminated(strings.TrimSpace(article.TextContent))}, nil
	}
	return []string{pageTerminated(stripTags(string(raw)))}, nil
}

// stripTags removes markup, script, and style content, decodes the common
// entities, and collapses whitespace.
func stripTags(content string) string {
	var out strings.Builder
	out.Grow(len(content))

	inTag := false
	skipUntil := "" // closing tag that ends a script/style block
	i := 0
	for i < len(content) {
		if skipUntil != "" {
			end := strings.Index(strings.ToLower(content[i:]), skipUntil)
			if end < 0 {
				break
			}
			i += end
			skipUntil = ""
			continue
		}
		r, size := utf8.DecodeRuneInString(content[i:])
		switch {
		case r == '<':
			inTag = true
			rest := strings.ToLower(content[i:])
			if strings.HasPrefix(rest, "<script") {
				skipUntil = "</script>"
			} else if strings.HasPrefix(rest, "<style") {
				skipUntil = "</style>"
			}
		case inTag:
			if r == '>' {
				inTag = false
				out.WriteByte('\n')
			}
		case r == '&':
			if decoded, n := htmlEntity(content[i:]); n > 0 {
				out.WriteString(decoded)
				i += n
				continue
			}
			out.WriteRune(r)
		default:
			out.WriteRune(r)
		}
		i += size
	}

	return collapseBlankLines(out.String())
}

var htmlEntities = map[string]string{
	"&amp;": "&", "&lt;": "<", "&gt;": ">",
	"&quot;": "\"", "&#39;": "'", "&apos;": "'", "&nbsp;": " ",
}

// htmlEntity decodes a named entity at the start of s, returning the decoded
// text and the bytes consumed, or 0 when s is not a known entity.
func htmlEntity(s string) (string, int) {
	semi := strings.IndexByte(s, ';')
	if semi < 0 || semi > 8 {
		return "", 0
	}
	if decoded, ok := htmlEntities[s[:semi+1]]; ok {
		return decoded, semi + 1
	}
	return "", 0
}

// collapseBlankLines trims trailing space per line and squeezes runs of
// blank lines down to one.
func collapseBlankLines(text string) string {
	lines := strings.Split(text, "\n")
	var out []string
	blank := false
	for _, line := range lines {
		line = strings.TrimRightFunc(line, unicode.IsSpace)
		if strings.TrimSpace(line) == "" {
			blank = true
			continue
		}
		if blank && len(out) > 0 {
			out = append(out, "")
		}
		blank = false
		out = append(out, line)
	}
	return strings.Join(out, "\n")
}
