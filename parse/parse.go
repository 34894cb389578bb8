// Package parse converts raw document payloads (PDF, DOCX, HTML, Markdown,
// plain text) into the page-addressable text model consumed by the chunking
// pipeline.
//
// Format detection sniffs content first and falls back to the filename
// extension. Extracted text is NFC-normalized. Page boundaries follow the
// source exactly: one Page per physical PDF page, DOCX pages at rendered
// page breaks, plain text pages at form feeds.
package parse

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"

	kbase "github.com/nevindra/kbase"
)

// Format identifies a supported document format.
type Format string

const (
	FormatPDF      Format = "pdf"
	FormatDOCX     Format = "docx"
	FormatHTML     Format = "html"
	FormatMarkdown Format = "markdown"
	FormatText     Format = "text"
)

// Parser implements kbase.DocumentParser for the supported formats.
// It reads the input payload and nothing else: no filesystem, no network.
type Parser struct {
	logger *slog.Logger
}

var _ kbase.DocumentParser = (*Parser)(nil)

// Option configures a Parser.
type Option func(*Parser)

// WithLogger sets a structured logger for parse operations.
func WithLogger(l *slog.Logger) Option {
	return func(p *Parser) { p.logger = l }
}

// New creates a Parser.
func New(opts ...Option) *Parser {
	p := &Parser{logger: slog.New(discardHandler{})}
	for _, o := range opts {
		o(p)
	}
	return p
}

type discardHandler struct{}

func (discardHandler) Enabled(context.Context, slog.Level) bool  { return false }
func (discardHandler) Handle(context.Context, slog.Record) error { return nil }
func (d discardHandler) WithAttrs([]slog.Attr) slog.Handler      { return d }
func (d discardHandler) WithGroup(string) slog.Handler           { return d }

// Parse extracts ordered, page-tagged text from raw. The documentID is
// caller-supplied and stable across re-ingestion. Fails with
// kbase.ErrUnsupportedFormat when the format is not recognized and
// kbase.ErrCorruptDocument when the decoder errors or extraction yields no
// text, both wrapped in a *kbase.ParseError.
func (p *Parser) Parse(documentID string, raw []byte, filename string) (kbase.ParsedDocument, error) {
	start := time.Now()
	if len(raw) == 0 {
		return kbase.ParsedDocument{}, &kbase.ParseError{Format: string(FormatText), Err: kbase.ErrCorruptDocument}
	}

	format, err := DetectFormat(raw, filename)
	if err != nil {
		return kbase.ParsedDocument{}, err
	}

	var pageTexts []string
	switch format {
	case FormatPDF:
		pageTexts, err = extractPDF(raw)
	case FormatDOCX:
		pageTexts, err = extractDOCX(raw)
	case FormatHTML:
		pageTexts, err = extractHTML(raw, filename)
	case FormatMarkdown:
		pageTexts, err = extractMarkdown(raw)
	case FormatText:
		pageTexts, err = extractText(raw)
	}
	if err != nil {
		return kbase.ParsedDocument{}, &kbase.ParseError{Format: string(format), Err: fmt.Errorf("%w: %v", kbase.ErrCorruptDocument, err)}
	}

	doc, err := assemble(documentID, pageTexts, format)
	if err != nil {
		return kbase.ParsedDocument{}, err
	}

	p.logger.Debug("parse: document parsed",
		"document_id", documentID,
		"format", format,
		"pages", len(doc.Pages),
		"chars", doc.Len(),
		"duration", time.Since(start))
	return doc, nil
}

// DetectFormat identifies the document format by content sniff first and
// filename extension second. Returns kbase.ErrUnsupportedFormat (wrapped)
// for unrecognized payloads.
func DetectFormat(raw []byte, filename string) (Format, error) {
	if bytes.HasPrefix(raw, []byte("%PDF-")) {
		return FormatPDF, nil
	}
	if bytes.HasPrefix(raw, []byte("PK\x03\x04")) {
		if isDOCX(raw) {
			return FormatDOCX, nil
		}
		return "", &kbase.ParseError{Format: "zip", Err: kbase.ErrUnsupportedFormat}
	}
	if looksLikeHTML(raw) {
		return FormatHTML, nil
	}

	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(filename), "."))
	switch ext {
	case "pdf":
		return FormatPDF, nil
	case "docx":
		return FormatDOCX, nil
	case "html", "htm":
		return FormatHTML, nil
	case "md", "markdown":
		return FormatMarkdown, nil
	case "txt", "text", "log", "":
		if isPlainText(raw) {
			return FormatText, nil
		}
		return "", &kbase.ParseError{Format: ext, Err: kbase.ErrUnsupportedFormat}
	}

	// Unknown extension: accept readable text, reject binary.
	if isPlainText(raw) {
		return FormatText, nil
	}
	return "", &kbase.ParseError{Format: ext, Err: kbase.ErrUnsupportedFormat}
}

// looksLikeHTML sniffs for an HTML document prologue.
func looksLikeHTML(raw []byte) bool {
	head := raw
	if len(head) > 512 {
		head = head[:512]
	}
	lower := bytes.ToLower(bytes.TrimSpace(head))
	return bytes.HasPrefix(lower, []byte("<!doctype html")) || bytes.HasPrefix(lower, []byte("<html"))
}

// isPlainText reports whether raw is valid UTF-8 without NUL bytes.
func isPlainText(raw []byte) bool {
	return utf8.Valid(raw) && !bytes.ContainsRune(raw, 0)
}

// extractText splits plain text into pages at form feeds. The form feed
// attaches to the end of the preceding page and is rewritten to a newline so
// page offsets stay contiguous.
func extractText(raw []byte) ([]string, error) {
	text := string(raw)
	var pages []string
	start := 0
	for i := 0; i < len(text); i++ {
		if text[i] == '\f' {
			pages = append(pages, text[start:i]+"\n")
			start = i + 1
		}
	}
	pages = append(pages, text[start:])
	return pages, nil
}

// assemble normalizes page texts, validates that extraction produced content,
// and builds the ParsedDocument with contiguous page offsets.
func assemble(documentID string, pageTexts []string, format Format) (kbase.ParsedDocument, error) {
	total := 0
	pages := make([]kbase.Page, 0, len(pageTexts))
	offset := 0
	for i, t := range pageTexts {
		t = norm.NFC.String(t)
		total += len(strings.TrimSpace(t))
		pages = append(pages, kbase.Page{Number: i + 1, Text: t, Start: offset})
		offset += len(t)
	}
	if len(pages) == 0 || total == 0 {
		return kbase.ParsedDocument{}, &kbase.ParseError{Format: string(format), Err: fmt.Errorf("%w: no extractable text", kbase.ErrCorruptDocument)}
	}
	return kbase.ParsedDocument{DocumentID: documentID, Pages: pages}, nil
}

// pageTerminated guarantees non-empty extracted page text ends with a newline
// so concatenated pages stay readable.
func pageTerminated(t string) string {
	if t == "" || strings.HasSuffix(t, "\n") {
		return t
	}
	return t + "\n"
}
