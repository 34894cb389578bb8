package sqlite

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"

	kbase "github.com/nevindra/kbase"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	s := New(filepath.Join(t.TempDir(), "test.db"))
	if err := s.Init(context.Background()); err != nil {
		t.Fatalf("Init: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func makeEntries(docID string, n int, embedded bool) []kbase.Entry {
	entries := make([]kbase.Entry, n)
	for i := range entries {
		chunk := kbase.Chunk{
			ID:          kbase.ChunkID(docID, "semantic", i),
			DocumentID:  docID,
			Strategy:    "semantic",
			Ordinal:     i,
			Text:        fmt.Sprintf("the quick brown fox chunk %d of %s", i, docID),
			Span:        kbase.CharSpan{Start: i * 40, End: (i + 1) * 40},
			SourcePages: []int{i + 1},
		}
		entries[i] = kbase.Entry{Chunk: chunk}
		if embedded {
			entries[i].Embedding = &kbase.EmbeddingRecord{
				ChunkID:   chunk.ID,
				Vector:    []float32{float32(i + 1), 1, 0},
				Model:     "test-model",
				CreatedAt: kbase.NowUnix(),
			}
		}
	}
	return entries
}

func TestInitIdempotent(t *testing.T) {
	s := New(filepath.Join(t.TempDir(), "init.db"))
	defer s.Close()
	ctx := context.Background()
	if err := s.Init(ctx); err != nil {
		t.Fatalf("first Init: %v", err)
	}
	if err := s.Init(ctx); err != nil {
		t.Fatalf("second Init: %v", err)
	}
}

func TestIngestAndGetRoundTrip(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	in := makeEntries("doc-1", 3, true)
	stats, err := s.Ingest(ctx, "doc-1", in)
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if stats.ChunkCount != 3 || stats.EmbeddedCount != 3 || stats.ReplacedCount != 0 {
		t.Errorf("stats = %+v", stats)
	}

	out, err := s.Get(ctx, "doc-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if len(out) != 3 {
		t.Fatalf("got %d entries", len(out))
	}
	for i, e := range out {
		want := in[i]
		if e.Chunk.ID != want.Chunk.ID || e.Chunk.Text != want.Chunk.Text {
			t.Errorf("entry %d chunk mismatch", i)
		}
		if e.Chunk.Span != want.Chunk.Span {
			t.Errorf("entry %d span = %+v, want %+v", i, e.Chunk.Span, want.Chunk.Span)
		}
		if len(e.Chunk.SourcePages) != 1 || e.Chunk.SourcePages[0] != i+1 {
			t.Errorf("entry %d source pages = %v", i, e.Chunk.SourcePages)
		}
		if e.Embedding == nil {
			t.Fatalf("entry %d missing embedding", i)
		}
		if e.Embedding.Model != "test-model" {
			t.Errorf("entry %d model = %q", i, e.Embedding.Model)
		}
		if len(e.Embedding.Vector) != 3 || e.Embedding.Vector[0] != float32(i+1) {
			t.Errorf("entry %d vector = %v", i, e.Embedding.Vector)
		}
	}
}

func TestIngestReplacesAtomically(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	if _, err := s.Ingest(ctx, "doc-1", makeEntries("doc-1", 5, true)); err != nil {
		t.Fatalf("first Ingest: %v", err)
	}
	stats, err := s.Ingest(ctx, "doc-1", makeEntries("doc-1", 2, true))
	if err != nil {
		t.Fatalf("second Ingest: %v", err)
	}
	if stats.ReplacedCount != 5 {
		t.Errorf("replaced = %d, want 5", stats.ReplacedCount)
	}
	out, _ := s.Get(ctx, "doc-1")
	if len(out) != 2 {
		t.Errorf("got %d entries after replace", len(out))
	}
}

func TestIngestFailureKeepsPriorEntries(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	if _, err := s.Ingest(ctx, "doc-1", makeEntries("doc-1", 3, true)); err != nil {
		t.Fatalf("first Ingest: %v", err)
	}

	// A duplicated chunk ID violates the primary key partway through the
	// replacement transaction; the whole ingest must roll back.
	bad := makeEntries("doc-1", 2, true)
	bad[1].Chunk.ID = bad[0].Chunk.ID
	if _, err := s.Ingest(ctx, "doc-1", bad); err == nil {
		t.Fatal("expected ingest error for duplicate chunk IDs")
	}

	out, err := s.Get(ctx, "doc-1")
	if err != nil {
		t.Fatalf("Get after failed ingest: %v", err)
	}
	if len(out) != 3 {
		t.Fatalf("got %d entries, want the prior 3", len(out))
	}
	for i, e := range out {
		if e.Chunk.Ordinal != i {
			t.Errorf("entry %d ordinal = %d", i, e.Chunk.Ordinal)
		}
	}

	// The FTS rows roll back with the entries.
	hits, err := s.SearchKeyword(ctx, "fox", 10)
	if err != nil {
		t.Fatalf("SearchKeyword: %v", err)
	}
	if len(hits) != 3 {
		t.Errorf("fts index has %d rows, want 3", len(hits))
	}
}

func taggedEntries(docID, tag string, n int) []kbase.Entry {
	entries := make([]kbase.Entry, n)
	for i := range entries {
		chunk := kbase.Chunk{
			ID:          kbase.ChunkID(docID, tag, i),
			DocumentID:  docID,
			Strategy:    tag,
			Ordinal:     i,
			Text:        fmt.Sprintf("%s content %d", tag, i),
			Span:        kbase.CharSpan{Start: i * 20, End: (i + 1) * 20},
			SourcePages: []int{i + 1},
		}
		entries[i] = kbase.Entry{Chunk: chunk}
	}
	return entries
}

func TestConcurrentIngestKeepsSetsIntact(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	small := taggedEntries("doc-1", "small", 3)
	large := taggedEntries("doc-1", "large", 5)
	if _, err := s.Ingest(ctx, "doc-1", small); err != nil {
		t.Fatalf("seed Ingest: %v", err)
	}

	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 10; i++ {
				set := small
				if (w+i)%2 == 0 {
					set = large
				}
				if _, err := s.Ingest(ctx, "doc-1", set); err != nil {
					t.Errorf("concurrent Ingest: %v", err)
					return
				}
			}
		}(w)
	}

	// Readers must only ever observe one complete set, never a mix.
	sizes := map[int]string{3: "small", 5: "large"}
	for i := 0; i < 40; i++ {
		out, err := s.Get(ctx, "doc-1")
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		tag, ok := sizes[len(out)]
		if !ok {
			t.Fatalf("mixed state: %d entries", len(out))
		}
		for _, e := range out {
			if e.Chunk.Strategy != tag {
				t.Fatalf("mixed state: %d entries contain strategy %q", len(out), e.Chunk.Strategy)
			}
		}
	}
	wg.Wait()
}

func TestIngestUnembeddedEntry(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	entries := makeEntries("doc-1", 2, true)
	entries[1].Embedding = nil
	stats, err := s.Ingest(ctx, "doc-1", entries)
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if stats.EmbeddedCount != 1 {
		t.Errorf("embedded = %d, want 1", stats.EmbeddedCount)
	}
	out, _ := s.Get(ctx, "doc-1")
	if out[1].Embedding != nil {
		t.Error("unembedded entry came back with an embedding")
	}
}

func TestGetNotFound(t *testing.T) {
	s := testStore(t)
	_, err := s.Get(context.Background(), "missing")
	if !errors.Is(err, kbase.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestDelete(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	s.Ingest(ctx, "doc-1", makeEntries("doc-1", 2, true))

	existed, err := s.Delete(ctx, "doc-1")
	if err != nil || !existed {
		t.Fatalf("Delete = %v, %v", existed, err)
	}
	existed, _ = s.Delete(ctx, "doc-1")
	if existed {
		t.Error("second Delete reported rows")
	}
	if _, err := s.Get(ctx, "doc-1"); !errors.Is(err, kbase.ErrNotFound) {
		t.Errorf("Get after delete: %v", err)
	}
}

func TestSearchRanksByCosine(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	s.Ingest(ctx, "doc-1", makeEntries("doc-1", 5, true))

	hits, err := s.Search(ctx, []float32{5, 1, 0}, 3)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(hits) != 3 {
		t.Fatalf("got %d hits", len(hits))
	}
	// Entry 4 has vector {5,1,0}: perfect match first.
	if hits[0].Entry.Chunk.Ordinal != 4 {
		t.Errorf("best hit ordinal = %d, want 4", hits[0].Entry.Chunk.Ordinal)
	}
	for i := 1; i < len(hits); i++ {
		if hits[i].Score > hits[i-1].Score {
			t.Errorf("hits not descending at %d", i)
		}
	}
}

func TestSearchDocumentFilter(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	s.Ingest(ctx, "doc-1", makeEntries("doc-1", 2, true))
	s.Ingest(ctx, "doc-2", makeEntries("doc-2", 2, true))

	hits, err := s.Search(ctx, []float32{1, 1, 0}, 10, kbase.WithDocumentFilter("doc-1"))
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(hits) != 2 {
		t.Fatalf("got %d hits, want 2", len(hits))
	}
	for _, h := range hits {
		if h.Entry.Chunk.DocumentID != "doc-1" {
			t.Errorf("hit from wrong document: %s", h.Entry.Chunk.DocumentID)
		}
	}
}

func TestSearchEmptyIndex(t *testing.T) {
	s := testStore(t)
	_, err := s.Search(context.Background(), []float32{1, 0, 0}, 5)
	if !errors.Is(err, kbase.ErrEmptyIndex) {
		t.Fatalf("expected ErrEmptyIndex, got %v", err)
	}
}

func TestSearchKeyword(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	entries := makeEntries("doc-1", 2, true)
	entries[0].Chunk.Text = "an essay about distributed consensus algorithms"
	entries[1].Chunk.Text = "a recipe for sourdough bread"
	s.Ingest(ctx, "doc-1", entries)

	hits, err := s.SearchKeyword(ctx, "consensus", 5)
	if err != nil {
		t.Fatalf("SearchKeyword: %v", err)
	}
	if len(hits) != 1 {
		t.Fatalf("got %d hits, want 1", len(hits))
	}
	if hits[0].Entry.Chunk.ID != entries[0].Chunk.ID {
		t.Errorf("wrong hit: %s", hits[0].Entry.Chunk.ID)
	}
}

func TestSearchKeywordClearedOnReplace(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	entries := makeEntries("doc-1", 1, true)
	entries[0].Chunk.Text = "obsolete zanzibar content"
	s.Ingest(ctx, "doc-1", entries)

	replacement := makeEntries("doc-1", 1, true)
	replacement[0].Chunk.Text = "fresh material"
	s.Ingest(ctx, "doc-1", replacement)

	hits, err := s.SearchKeyword(ctx, "zanzibar", 5)
	if err != nil {
		t.Fatalf("SearchKeyword: %v", err)
	}
	if len(hits) != 0 {
		t.Errorf("stale FTS rows survived replace: %d hits", len(hits))
	}
}
