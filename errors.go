package kbase

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"
)

// Sentinel errors returned by stores and parsers. Match with errors.Is.
var (
	// ErrNotFound indicates the requested document has no entries in the store.
	ErrNotFound = errors.New("document not found")

	// ErrEmptyIndex indicates a similarity search matched no entries
	// (the index is empty, or a document filter excluded everything).
	ErrEmptyIndex = errors.New("empty index")

	// ErrUnsupportedFormat indicates the document format was not recognized.
	ErrUnsupportedFormat = errors.New("unsupported document format")

	// ErrCorruptDocument indicates the decoder failed or extraction yielded
	// zero pages of text.
	ErrCorruptDocument = errors.New("corrupt document")
)

// ParseError wraps a parsing failure with the detected format and the
// underlying cause (ErrUnsupportedFormat, ErrCorruptDocument, or a decoder error).
type ParseError struct {
	Format string
	Err    error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse %s: %v", e.Format, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// ConfigError indicates an invalid chunking or embedding parameter.
// Configuration errors abort the whole pipeline.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("invalid config %s: %s", e.Field, e.Reason)
}

// DimensionMismatchError indicates an embedding vector whose length differs
// from the expected dimensionality of the model. Fatal: aborts ingestion.
type DimensionMismatchError struct {
	Model    string
	Expected int
	Got      int
}

func (e *DimensionMismatchError) Error() string {
	return fmt.Sprintf("embedding dimension mismatch for %s: expected %d, got %d", e.Model, e.Expected, e.Got)
}

// ErrHTTP is a transport-level error from an embedding service.
// Status 429 and 503 are treated as transient by the Embedder's retry loop.
type ErrHTTP struct {
	Status     int
	Body       string
	RetryAfter time.Duration
}

func (e *ErrHTTP) Error() string {
	return fmt.Sprintf("http %d: %s", e.Status, e.Body)
}

// ParseRetryAfter parses an HTTP Retry-After header value, which is either
// a delay in seconds or an HTTP-date. Returns 0 for absent or malformed values.
func ParseRetryAfter(v string) time.Duration {
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil && secs >= 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}
