package kbase

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"
)

// fakeProvider is a scriptable EmbeddingProvider for tests.
type fakeProvider struct {
	mu        sync.Mutex
	calls     int
	failFirst int   // fail this many initial calls
	failErr   error // error returned by failing calls
	badText   string
	dims      int
	vecLen    int // 0 = dims
}

func (p *fakeProvider) Name() string    { return "fake" }
func (p *fakeProvider) Dimensions() int { return p.dims }

func (p *fakeProvider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p.mu.Lock()
	p.calls++
	n := p.calls
	p.mu.Unlock()

	if n <= p.failFirst {
		if p.failErr != nil {
			return nil, p.failErr
		}
		return nil, errors.New("transient failure")
	}
	for _, t := range texts {
		if p.badText != "" && strings.Contains(t, p.badText) {
			return nil, errors.New("permanent failure")
		}
	}
	vl := p.vecLen
	if vl == 0 {
		vl = p.dims
	}
	out := make([][]float32, len(texts))
	for i := range texts {
		vec := make([]float32, vl)
		if vl > 0 {
			vec[0] = float32(len(texts[i]))
		}
		out[i] = vec
	}
	return out, nil
}

func testChunks(n int) []Chunk {
	chunks := make([]Chunk, n)
	for i := range chunks {
		chunks[i] = Chunk{
			ID:         ChunkID("doc-1", "fixed_size", i),
			DocumentID: "doc-1",
			Strategy:   "fixed_size",
			Ordinal:    i,
			Text:       strings.Repeat("x", i+1),
		}
	}
	return chunks
}

func TestEmbedAllSucceed(t *testing.T) {
	p := &fakeProvider{dims: 4}
	e := NewEmbedder(p, WithModel("test-model"), WithBatchSize(4))
	result, err := e.Embed(context.Background(), testChunks(10))
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if len(result.Records) != 10 {
		t.Fatalf("expected 10 records, got %d", len(result.Records))
	}
	if result.Partial() {
		t.Error("unexpected partial result")
	}
	for i, r := range result.Records {
		if r.ChunkID != ChunkID("doc-1", "fixed_size", i) {
			t.Errorf("record %d out of order: %s", i, r.ChunkID)
		}
		if r.Model != "test-model" {
			t.Errorf("record %d model = %q", i, r.Model)
		}
		if len(r.Vector) != 4 {
			t.Errorf("record %d vector length = %d", i, len(r.Vector))
		}
	}
}

func TestEmbedRetriesTransientFailure(t *testing.T) {
	// First two calls fail, third succeeds: all 16 chunks embed and the
	// result reports exactly two retries.
	p := &fakeProvider{dims: 4, failFirst: 2}
	e := NewEmbedder(p,
		WithBatchSize(16),
		WithMaxRetries(3),
		WithBaseDelay(time.Millisecond))
	result, err := e.Embed(context.Background(), testChunks(16))
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if len(result.Records) != 16 {
		t.Fatalf("expected 16 records, got %d", len(result.Records))
	}
	if len(result.FailedChunkIDs) != 0 {
		t.Errorf("failed chunks: %v", result.FailedChunkIDs)
	}
	if result.Retries != 2 {
		t.Errorf("retries = %d, want 2", result.Retries)
	}
}

func TestEmbedPartialFailure(t *testing.T) {
	p := &fakeProvider{dims: 4, badText: "poison"}
	chunks := testChunks(4)
	chunks[2].Text = "poison pill"
	e := NewEmbedder(p,
		WithBatchSize(1),
		WithMaxRetries(1),
		WithConcurrency(1),
		WithBaseDelay(time.Millisecond))
	result, err := e.Embed(context.Background(), chunks)
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if !result.Partial() {
		t.Fatal("expected partial result")
	}
	if len(result.Records) != 3 {
		t.Errorf("expected 3 records, got %d", len(result.Records))
	}
	if len(result.FailedChunkIDs) != 1 || result.FailedChunkIDs[0] != chunks[2].ID {
		t.Errorf("failed chunks = %v", result.FailedChunkIDs)
	}
	if len(result.Errors) != 1 {
		t.Errorf("expected 1 error, got %d", len(result.Errors))
	}
}

func TestEmbedDimensionMismatchIsFatal(t *testing.T) {
	p := &fakeProvider{dims: 4, vecLen: 3}
	e := NewEmbedder(p, WithBatchSize(4))
	_, err := e.Embed(context.Background(), testChunks(4))
	var dm *DimensionMismatchError
	if !errors.As(err, &dm) {
		t.Fatalf("expected *DimensionMismatchError, got %v", err)
	}
	if dm.Expected != 4 || dm.Got != 3 {
		t.Errorf("mismatch = expected %d got %d", dm.Expected, dm.Got)
	}
}

func TestEmbedCancellationKeepsPartial(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	p := &fakeProvider{dims: 4}
	e := NewEmbedder(p, WithBatchSize(2), WithBaseDelay(time.Millisecond))
	result, err := e.Embed(ctx, testChunks(6))
	if err != nil {
		t.Fatalf("Embed returned fatal error on cancellation: %v", err)
	}
	if len(result.FailedChunkIDs) != 6 {
		t.Errorf("expected all 6 chunks failed, got %d", len(result.FailedChunkIDs))
	}
}

func TestEmbedEmptyInput(t *testing.T) {
	e := NewEmbedder(&fakeProvider{dims: 4})
	result, err := e.Embed(context.Background(), nil)
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if len(result.Records) != 0 || result.Partial() {
		t.Errorf("unexpected result: %+v", result)
	}
}

func TestBatchChunks(t *testing.T) {
	batches := batchChunks(testChunks(10), 4)
	if len(batches) != 3 {
		t.Fatalf("expected 3 batches, got %d", len(batches))
	}
	if len(batches[0]) != 4 || len(batches[2]) != 2 {
		t.Errorf("batch sizes = %d, %d, %d", len(batches[0]), len(batches[1]), len(batches[2]))
	}
}

func TestRetryDelayBackoff(t *testing.T) {
	base := 100 * time.Millisecond
	for i := 0; i < 3; i++ {
		exp := base * (1 << i)
		d := retryDelay(base, i, errors.New("x"))
		if d < exp || d > exp+exp/2 {
			t.Errorf("attempt %d delay %v outside [%v, %v]", i, d, exp, exp+exp/2)
		}
	}
}

func TestRetryDelayHonorsRetryAfter(t *testing.T) {
	err := &ErrHTTP{Status: 429, RetryAfter: 5 * time.Second}
	d := retryDelay(time.Millisecond, 0, err)
	if d != 5*time.Second {
		t.Errorf("delay = %v, want 5s", d)
	}
}
