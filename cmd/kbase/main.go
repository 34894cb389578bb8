// Command kbase ingests documents into a knowledge base, compares chunking
// strategies, and runs similarity searches against stored chunks.
//
// Usage:
//
//	kbase ingest <file>           parse, chunk, embed, and store a document
//	kbase compare <file>          report chunking strategy metrics without storing
//	kbase search <query text>     similarity search over the knowledge base
//	kbase delete <document-id>    remove a document's entries
//
// The document ID defaults to the file's base name; set -id to override.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/jackc/pgx/v5/pgxpool"

	kbase "github.com/nevindra/kbase"
	"github.com/nevindra/kbase/internal/config"
	"github.com/nevindra/kbase/observer"
	"github.com/nevindra/kbase/parse"
	"github.com/nevindra/kbase/provider/openaiembed"
	"github.com/nevindra/kbase/store/memory"
	"github.com/nevindra/kbase/store/postgres"
	"github.com/nevindra/kbase/store/sqlite"
	"github.com/nevindra/kbase/strategy"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	fs := flag.NewFlagSet(os.Args[1], flag.ExitOnError)
	docID := fs.String("id", "", "document ID (default: file base name)")
	topK := fs.Int("k", 5, "number of search results")
	verbose := fs.Bool("v", false, "debug logging")
	_ = fs.Parse(os.Args[2:])

	// 1. Load config
	cfg := config.Load(os.Getenv("KBASE_CONFIG"))

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel(*verbose)}))
	ctx := context.Background()

	// 2. Observability (optional)
	var inst *observer.Instruments
	if cfg.Observer.Enabled {
		var shutdown func(context.Context) error
		var err error
		inst, shutdown, err = observer.Init(ctx)
		if err != nil {
			log.Fatalf("observer init: %v", err)
		}
		defer shutdown(ctx) //nolint:errcheck
	}

	// 3. Embedding provider
	var provider kbase.EmbeddingProvider = openaiembed.New(
		cfg.Embedding.APIKey, cfg.Embedding.Model, cfg.Embedding.BaseURL, cfg.Embedding.Dimensions)
	if inst != nil {
		provider = observer.WrapEmbedding(provider, cfg.Embedding.Model, inst)
	}

	// 4. Store
	store, err := openStore(ctx, cfg, logger)
	if err != nil {
		log.Fatalf("open store: %v", err)
	}
	defer store.Close() //nolint:errcheck
	if inst != nil {
		store = observer.WrapStore(store, cfg.Store.Backend, inst)
	}
	if err := store.Init(ctx); err != nil {
		log.Fatalf("init store: %v", err)
	}

	// 5. Pipeline
	pipeline := kbase.NewPipeline(
		parse.New(parse.WithLogger(logger)),
		kbase.NewComparator(strategy.All(), kbase.WithComparatorLogger(logger)),
		kbase.NewEmbedder(provider,
			kbase.WithModel(cfg.Embedding.Model),
			kbase.WithBatchSize(cfg.Embedding.BatchSize),
			kbase.WithMaxRetries(cfg.Embedding.MaxRetries),
			kbase.WithConcurrency(cfg.Embedding.Concurrency),
			kbase.WithEmbedLogger(logger)),
		store,
		kbase.WithChunkConfig(chunkConfig(cfg)),
		kbase.WithLogger(logger),
	)

	switch os.Args[1] {
	case "ingest":
		runIngest(ctx, pipeline, fs.Arg(0), *docID)
	case "compare":
		runCompare(ctx, pipeline, fs.Arg(0), *docID)
	case "search":
		runSearch(ctx, store, provider, fs.Arg(0), *topK)
	case "delete":
		runDelete(ctx, store, fs.Arg(0))
	default:
		usage()
		os.Exit(2)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: kbase <ingest|compare|search|delete> [-id doc] [-k n] [-v] <arg>")
}

func logLevel(verbose bool) slog.Level {
	if verbose {
		return slog.LevelDebug
	}
	return slog.LevelInfo
}

func chunkConfig(cfg config.Config) kbase.ChunkConfig {
	c := kbase.DefaultChunkConfig()
	if cfg.Chunking.MaxChars > 0 {
		c.MaxChars = cfg.Chunking.MaxChars
	}
	if cfg.Chunking.OverlapChars > 0 {
		c.OverlapChars = cfg.Chunking.OverlapChars
	}
	if cfg.Chunking.PagesPerChunk > 0 {
		c.PagesPerChunk = cfg.Chunking.PagesPerChunk
	}
	if cfg.Chunking.TargetChunkChars > 0 {
		c.TargetChunkChars = cfg.Chunking.TargetChunkChars
	}
	return c
}

func openStore(ctx context.Context, cfg config.Config, logger *slog.Logger) (kbase.Store, error) {
	switch cfg.Store.Backend {
	case "postgres":
		pool, err := pgxpool.New(ctx, cfg.Store.PostgresURL)
		if err != nil {
			return nil, fmt.Errorf("connect postgres: %w", err)
		}
		return postgres.New(pool,
			postgres.WithEmbeddingDimension(cfg.Embedding.Dimensions),
			postgres.WithLogger(logger)), nil
	case "memory":
		return memory.New(memory.WithLogger(logger)), nil
	default:
		return sqlite.New(cfg.Store.Path, sqlite.WithLogger(logger)), nil
	}
}

func runIngest(ctx context.Context, p *kbase.Pipeline, path, docID string) {
	raw, err := os.ReadFile(path)
	if err != nil {
		log.Fatalf("read %s: %v", path, err)
	}
	if docID == "" {
		docID = filepath.Base(path)
	}
	result, err := p.Process(ctx, docID, raw, filepath.Base(path))
	if err != nil {
		log.Fatalf("ingest: %v", err)
	}
	printJSON(result)
}

func runCompare(ctx context.Context, p *kbase.Pipeline, path, docID string) {
	raw, err := os.ReadFile(path)
	if err != nil {
		log.Fatalf("read %s: %v", path, err)
	}
	if docID == "" {
		docID = filepath.Base(path)
	}
	report, err := p.Compare(ctx, docID, raw, filepath.Base(path))
	if err != nil {
		log.Fatalf("compare: %v", err)
	}
	printJSON(report)
}

func runSearch(ctx context.Context, store kbase.Store, provider kbase.EmbeddingProvider, query string, topK int) {
	if query == "" {
		log.Fatal("search: empty query")
	}
	vecs, err := provider.Embed(ctx, []string{query})
	if err != nil {
		log.Fatalf("embed query: %v", err)
	}
	hits, err := store.Search(ctx, vecs[0], topK)
	if err != nil {
		log.Fatalf("search: %v", err)
	}
	for _, h := range hits {
		fmt.Printf("%.4f  %s  [%s #%d] %s\n",
			h.Score, h.Entry.Chunk.ID, h.Entry.Chunk.DocumentID, h.Entry.Chunk.Ordinal, snippet(h.Entry.Chunk.Text))
	}
}

func runDelete(ctx context.Context, store kbase.Store, docID string) {
	if docID == "" {
		log.Fatal("delete: missing document ID")
	}
	existed, err := store.Delete(ctx, docID)
	if err != nil {
		log.Fatalf("delete: %v", err)
	}
	fmt.Printf("deleted %s: %v\n", docID, existed)
}

func snippet(s string) string {
	const max = 80
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}

func printJSON(v any) {
	data, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(data))
}
