package kbase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"time"
)

// nopLogger discards all output. Used when no logger option is set.
var nopLogger = slog.New(discardHandler{})

type discardHandler struct{}

func (discardHandler) Enabled(context.Context, slog.Level) bool  { return false }
func (discardHandler) Handle(context.Context, slog.Record) error { return nil }
func (d discardHandler) WithAttrs([]slog.Attr) slog.Handler      { return d }
func (d discardHandler) WithGroup(string) slog.Handler           { return d }

// EmbedResult is the terminal outcome of embedding a chunk sequence.
// Partial success is valid: failed batches are enumerated, never silently
// dropped. Records are ordered by the input chunk order.
type EmbedResult struct {
	Records        []EmbeddingRecord `json:"records"`
	FailedChunkIDs []string          `json:"failed_chunk_ids,omitempty"`
	Errors         []error           `json:"-"`
	Retries        int               `json:"retries"`
}

// Partial reports whether any chunk failed to embed.
func (r EmbedResult) Partial() bool { return len(r.FailedChunkIDs) > 0 }

// Embedder turns chunks into embedding vectors through an injected
// EmbeddingProvider. Chunks are submitted in batches with bounded in-flight
// concurrency; a failing batch is retried with exponential backoff and
// jitter, then recorded as failed while the remaining batches continue.
type Embedder struct {
	provider    EmbeddingProvider
	model       string
	batchSize   int
	maxRetries  int // retries after the first attempt
	concurrency int
	baseDelay   time.Duration
	logger      *slog.Logger
}

// EmbedderOption configures an Embedder.
type EmbedderOption func(*Embedder)

// WithBatchSize sets the number of chunks per provider call (default 16).
func WithBatchSize(n int) EmbedderOption {
	return func(e *Embedder) { e.batchSize = n }
}

// WithMaxRetries sets how many times a failing batch is retried after its
// first attempt (default 3).
func WithMaxRetries(n int) EmbedderOption {
	return func(e *Embedder) { e.maxRetries = n }
}

// WithConcurrency bounds the number of in-flight batches (default 4).
func WithConcurrency(n int) EmbedderOption {
	return func(e *Embedder) { e.concurrency = n }
}

// WithBaseDelay sets the initial backoff delay before the first retry
// (default 1s). Each subsequent delay doubles, plus up to 50% jitter.
func WithBaseDelay(d time.Duration) EmbedderOption {
	return func(e *Embedder) { e.baseDelay = d }
}

// WithModel overrides the model identifier recorded on embeddings.
// Defaults to the provider's Name.
func WithModel(model string) EmbedderOption {
	return func(e *Embedder) { e.model = model }
}

// WithEmbedLogger sets a structured logger for embed operations.
func WithEmbedLogger(l *slog.Logger) EmbedderOption {
	return func(e *Embedder) { e.logger = l }
}

// NewEmbedder creates an Embedder over the given provider.
func NewEmbedder(provider EmbeddingProvider, opts ...EmbedderOption) *Embedder {
	e := &Embedder{
		provider:    provider,
		batchSize:   16,
		maxRetries:  3,
		concurrency: 4,
		baseDelay:   time.Second,
		logger:      nopLogger,
	}
	for _, o := range opts {
		o(e)
	}
	if e.model == "" {
		e.model = provider.Name()
	}
	return e
}

// batchOutcome holds one batch's terminal state.
type batchOutcome struct {
	vectors [][]float32
	err     error
	retries int
}

// Embed embeds chunks in batches. The returned error is non-nil only for
// fatal conditions (embedding dimension mismatch); batch-level failures,
// including cancellation mid-run, surface as a partial EmbedResult with
// already-succeeded batches retained.
func (e *Embedder) Embed(ctx context.Context, chunks []Chunk) (EmbedResult, error) {
	if len(chunks) == 0 {
		return EmbedResult{}, nil
	}
	start := time.Now()

	batches := batchChunks(chunks, e.batchSize)
	e.logger.Debug("embed: started",
		"chunks", len(chunks),
		"batches", len(batches),
		"batch_size", e.batchSize,
		"model", e.model)

	outcomes := make([]batchOutcome, len(batches))
	sem := make(chan struct{}, e.concurrency)
	var wg sync.WaitGroup

	for i, batch := range batches {
		select {
		case <-ctx.Done():
			outcomes[i] = batchOutcome{err: ctx.Err()}
			continue
		case sem <- struct{}{}:
		}
		wg.Add(1)
		go func(i int, batch []Chunk) {
			defer wg.Done()
			defer func() { <-sem }()
			outcomes[i] = e.embedBatch(ctx, i, batch)
		}(i, batch)
	}
	wg.Wait()

	now := NowUnix()
	result := EmbedResult{}
	dims := e.provider.Dimensions()

	for i, batch := range batches {
		out := outcomes[i]
		result.Retries += out.retries
		if out.err != nil {
			for _, c := range batch {
				result.FailedChunkIDs = append(result.FailedChunkIDs, c.ID)
			}
			result.Errors = append(result.Errors, fmt.Errorf("batch %d: %w", i, out.err))
			continue
		}
		for j, c := range batch {
			vec := out.vectors[j]
			if dims == 0 {
				dims = len(vec)
			}
			if len(vec) != dims {
				return EmbedResult{}, &DimensionMismatchError{Model: e.model, Expected: dims, Got: len(vec)}
			}
			result.Records = append(result.Records, EmbeddingRecord{
				ChunkID:   c.ID,
				Vector:    vec,
				Model:     e.model,
				CreatedAt: now,
			})
		}
	}

	e.logger.Debug("embed: completed",
		"embedded", len(result.Records),
		"failed", len(result.FailedChunkIDs),
		"retries", result.Retries,
		"duration", time.Since(start))
	return result, nil
}

// embedBatch runs one batch through the provider with retry.
func (e *Embedder) embedBatch(ctx context.Context, idx int, batch []Chunk) batchOutcome {
	texts := make([]string, len(batch))
	for i, c := range batch {
		texts[i] = c.Text
	}

	var out batchOutcome
	attempts := e.maxRetries + 1
	for attempt := 0; attempt < attempts; attempt++ {
		vectors, err := e.provider.Embed(ctx, texts)
		if err == nil && len(vectors) != len(texts) {
			err = fmt.Errorf("provider returned %d vectors for %d texts", len(vectors), len(texts))
		}
		if err == nil {
			out.vectors = vectors
			out.err = nil
			return out
		}
		out.err = err
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return out
		}
		if attempt == attempts-1 {
			break
		}
		out.retries++
		e.logger.Warn("embed: retrying failed batch",
			"batch", idx,
			"attempt", attempt+1,
			"max_attempts", attempts,
			"error", err)
		timer := time.NewTimer(retryDelay(e.baseDelay, attempt, err))
		select {
		case <-ctx.Done():
			timer.Stop()
			out.err = ctx.Err()
			return out
		case <-timer.C:
		}
	}
	e.logger.Error("embed: batch failed after all attempts",
		"batch", idx,
		"attempts", attempts,
		"error", out.err)
	return out
}

// batchChunks splits chunks into slices of at most size elements.
func batchChunks(chunks []Chunk, size int) [][]Chunk {
	if size <= 0 {
		size = 1
	}
	var batches [][]Chunk
	for i := 0; i < len(chunks); i += size {
		end := i + size
		if end > len(chunks) {
			end = len(chunks)
		}
		batches = append(batches, chunks[i:end])
	}
	return batches
}

// retryDelay computes the backoff before retry attempt i (0-indexed):
// base * 2^i plus up to 50% random jitter, with the server's Retry-After
// value (if the error carries one) as a minimum.
func retryDelay(base time.Duration, i int, err error) time.Duration {
	exp := base * (1 << i)
	jitter := time.Duration(rand.Int63n(int64(exp)/2 + 1))
	backoff := exp + jitter
	var httpErr *ErrHTTP
	if errors.As(err, &httpErr) && httpErr.RetryAfter > backoff {
		return httpErr.RetryAfter
	}
	return backoff
}
