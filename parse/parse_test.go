package parse

import (
	"archive/zip"
	"bytes"
	"errors"
	"strings"
	"testing"

	kbase "github.com/nevindra/kbase"
)

// checkContiguous verifies the page offset invariant and the text
// concatenation law.
func checkContiguous(t *testing.T, doc kbase.ParsedDocument) {
	t.Helper()
	offset := 0
	for i, p := range doc.Pages {
		if p.Number != i+1 {
			t.Errorf("page %d has number %d", i, p.Number)
		}
		if p.Start != offset {
			t.Errorf("page %d starts at %d, want %d", i, p.Start, offset)
		}
		offset += len(p.Text)
	}
	if doc.Len() != offset {
		t.Errorf("Len() = %d, want %d", doc.Len(), offset)
	}
}

func TestParsePlainText(t *testing.T) {
	p := New()
	doc, err := p.Parse("doc-1", []byte("hello world\nsecond line\n"), "notes.txt")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(doc.Pages) != 1 {
		t.Fatalf("expected 1 page, got %d", len(doc.Pages))
	}
	if doc.Pages[0].Text != "hello world\nsecond line\n" {
		t.Errorf("page text = %q", doc.Pages[0].Text)
	}
	checkContiguous(t, doc)
}

func TestParseTextFormFeedPages(t *testing.T) {
	p := New()
	doc, err := p.Parse("doc-1", []byte("page one\fpage two\fpage three"), "doc.txt")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(doc.Pages) != 3 {
		t.Fatalf("expected 3 pages, got %d", len(doc.Pages))
	}
	if doc.Pages[0].Text != "page one\n" {
		t.Errorf("page 1 text = %q", doc.Pages[0].Text)
	}
	if doc.Pages[2].Text != "page three" {
		t.Errorf("page 3 text = %q", doc.Pages[2].Text)
	}
	checkContiguous(t, doc)
}

func TestParseEmptyPayload(t *testing.T) {
	p := New()
	_, err := p.Parse("doc-1", nil, "empty.txt")
	if !errors.Is(err, kbase.ErrCorruptDocument) {
		t.Fatalf("expected ErrCorruptDocument, got %v", err)
	}
}

func TestParseWhitespaceOnly(t *testing.T) {
	p := New()
	_, err := p.Parse("doc-1", []byte("   \n\t\n  "), "blank.txt")
	if !errors.Is(err, kbase.ErrCorruptDocument) {
		t.Fatalf("expected ErrCorruptDocument, got %v", err)
	}
}

func TestParseBinaryUnknownExtension(t *testing.T) {
	p := New()
	_, err := p.Parse("doc-1", []byte{0x00, 0xFF, 0x42}, "blob.bin")
	if !errors.Is(err, kbase.ErrUnsupportedFormat) {
		t.Fatalf("expected ErrUnsupportedFormat, got %v", err)
	}
	var perr *kbase.ParseError
	if !errors.As(err, &perr) {
		t.Fatalf("expected *ParseError, got %T", err)
	}
}

func TestParseReadableUnknownExtension(t *testing.T) {
	p := New()
	doc, err := p.Parse("doc-1", []byte("plain readable content"), "README")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(doc.Pages) != 1 {
		t.Fatalf("expected 1 page, got %d", len(doc.Pages))
	}
}

func TestDetectFormat(t *testing.T) {
	cases := []struct {
		name     string
		raw      []byte
		filename string
		want     Format
	}{
		{"pdf magic", []byte("%PDF-1.7 rest"), "x.dat", FormatPDF},
		{"html doctype", []byte("<!DOCTYPE html><html></html>"), "x", FormatHTML},
		{"html tag", []byte("<html><body>hi</body></html>"), "x", FormatHTML},
		{"md extension", []byte("# Title"), "doc.md", FormatMarkdown},
		{"txt extension", []byte("plain"), "doc.txt", FormatText},
		{"log extension", []byte("line"), "out.log", FormatText},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			got, err := DetectFormat(c.raw, c.filename)
			if err != nil {
				t.Fatalf("DetectFormat: %v", err)
			}
			if got != c.want {
				t.Errorf("format = %q, want %q", got, c.want)
			}
		})
	}
}

func TestDetectFormatPlainZipRejected(t *testing.T) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	w, _ := zw.Create("data.csv")
	_, _ = w.Write([]byte("a,b,c"))
	_ = zw.Close()

	_, err := DetectFormat(buf.Bytes(), "archive.zip")
	if !errors.Is(err, kbase.ErrUnsupportedFormat) {
		t.Fatalf("expected ErrUnsupportedFormat, got %v", err)
	}
}

func TestParseMarkdownPagesAtHeadings(t *testing.T) {
	md := "intro before any heading\n\n# First\n\nbody of first section\n\n# Second\n\nbody of second section\n"
	p := New()
	doc, err := p.Parse("doc-1", []byte(md), "doc.md")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(doc.Pages) != 3 {
		t.Fatalf("expected 3 pages, got %d", len(doc.Pages))
	}
	if !strings.Contains(doc.Pages[0].Text, "intro") {
		t.Errorf("page 1 = %q", doc.Pages[0].Text)
	}
	if !strings.Contains(doc.Pages[1].Text, "First") || !strings.Contains(doc.Pages[1].Text, "body of first") {
		t.Errorf("page 2 = %q", doc.Pages[1].Text)
	}
	checkContiguous(t, doc)
}

func TestParseMarkdownStripsMarkup(t *testing.T) {
	md := "Some **bold** and [a link](https://example.com) and `code`.\n"
	p := New()
	doc, err := p.Parse("doc-1", []byte(md), "doc.md")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	text := doc.Text()
	if strings.Contains(text, "**") || strings.Contains(text, "](") {
		t.Errorf("markup survived: %q", text)
	}
	if !strings.Contains(text, "bold") || !strings.Contains(text, "a link") {
		t.Errorf("content lost: %q", text)
	}
}

func TestParseHTMLSinglePage(t *testing.T) {
	html := `<!DOCTYPE html><html><head><title>T</title><style>p{color:red}</style></head>` +
		`<body><p>Hello &amp; welcome to the test page.</p><script>var x=1;</script></body></html>`
	p := New()
	doc, err := p.Parse("doc-1", []byte(html), "page.html")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(doc.Pages) != 1 {
		t.Fatalf("expected 1 page, got %d", len(doc.Pages))
	}
	text := doc.Text()
	if !strings.Contains(text, "Hello & welcome") {
		t.Errorf("entity not decoded: %q", text)
	}
	if strings.Contains(text, "var x=1") || strings.Contains(text, "color:red") {
		t.Errorf("script or style leaked: %q", text)
	}
}

func TestParseDOCXPageBreaks(t *testing.T) {
	documentXML := `<?xml version="1.0"?>
<w:document xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main">
  <w:body>
    <w:p><w:r><w:t>First page paragraph.</w:t></w:r></w:p>
    <w:p><w:r><w:br w:type="page"/><w:t>Second page paragraph.</w:t></w:r></w:p>
  </w:body>
</w:document>`
	raw := buildDOCX(t, documentXML)

	p := New()
	doc, err := p.Parse("doc-1", raw, "report.docx")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(doc.Pages) != 2 {
		t.Fatalf("expected 2 pages, got %d", len(doc.Pages))
	}
	if !strings.Contains(doc.Pages[0].Text, "First page") {
		t.Errorf("page 1 = %q", doc.Pages[0].Text)
	}
	if !strings.Contains(doc.Pages[1].Text, "Second page") {
		t.Errorf("page 2 = %q", doc.Pages[1].Text)
	}
	checkContiguous(t, doc)
}

func TestParseDOCXTabsAndBreaks(t *testing.T) {
	documentXML := `<?xml version="1.0"?>
<w:document xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main">
  <w:body>
    <w:p><w:r><w:t>left</w:t><w:tab/><w:t>right</w:t></w:r></w:p>
  </w:body>
</w:document>`
	raw := buildDOCX(t, documentXML)

	p := New()
	doc, err := p.Parse("doc-1", raw, "cols.docx")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if !strings.Contains(doc.Text(), "left\tright") {
		t.Errorf("text = %q", doc.Text())
	}
}

func TestIsDOCXRequiresDocumentXML(t *testing.T) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	w, _ := zw.Create("other.xml")
	_, _ = w.Write([]byte("<x/>"))
	_ = zw.Close()
	if isDOCX(buf.Bytes()) {
		t.Error("zip without word/document.xml detected as DOCX")
	}
}

func buildDOCX(t *testing.T, documentXML string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	w, err := zw.Create("word/document.xml")
	if err != nil {
		t.Fatalf("create zip entry: %v", err)
	}
	if _, err := w.Write([]byte(documentXML)); err != nil {
		t.Fatalf("write zip entry: %v", err)
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("close zip: %v", err)
	}
	return buf.Bytes()
}
