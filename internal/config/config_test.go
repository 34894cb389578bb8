package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaults(t *testing.T) {
	cfg := Default()
	if cfg.Embedding.Model != "text-embedding-3-small" {
		t.Errorf("model = %q", cfg.Embedding.Model)
	}
	if cfg.Embedding.Dimensions != 1536 {
		t.Errorf("dimensions = %d", cfg.Embedding.Dimensions)
	}
	if cfg.Embedding.BatchSize != 16 || cfg.Embedding.MaxRetries != 3 || cfg.Embedding.Concurrency != 4 {
		t.Errorf("embedding tuning = %+v", cfg.Embedding)
	}
	if cfg.Chunking.MaxChars != 1000 || cfg.Chunking.PagesPerChunk != 1 {
		t.Errorf("chunking = %+v", cfg.Chunking)
	}
	if cfg.Store.Backend != "sqlite" || cfg.Store.Path != "kbase.db" {
		t.Errorf("store = %+v", cfg.Store)
	}
	if cfg.Observer.Enabled {
		t.Error("observer enabled by default")
	}
}

func TestLoadMissingFileKeepsDefaults(t *testing.T) {
	cfg := Load(filepath.Join(t.TempDir(), "absent.toml"))
	if cfg.Embedding.BaseURL != "https://api.openai.com/v1" {
		t.Errorf("base_url = %q", cfg.Embedding.BaseURL)
	}
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "kbase.toml")
	data := `
[embedding]
model = "nomic-embed-text"
base_url = "http://localhost:11434/v1"
dimensions = 768

[chunking]
max_chars = 500
overlap_chars = 50

[store]
backend = "postgres"
postgres_url = "postgres://localhost/kbase"
`
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg := Load(path)
	if cfg.Embedding.Model != "nomic-embed-text" {
		t.Errorf("model = %q", cfg.Embedding.Model)
	}
	if cfg.Embedding.Dimensions != 768 {
		t.Errorf("dimensions = %d", cfg.Embedding.Dimensions)
	}
	if cfg.Chunking.MaxChars != 500 || cfg.Chunking.OverlapChars != 50 {
		t.Errorf("chunking = %+v", cfg.Chunking)
	}
	// Fields the file omits keep defaults.
	if cfg.Embedding.BatchSize != 16 {
		t.Errorf("batch_size = %d", cfg.Embedding.BatchSize)
	}
	if cfg.Store.Backend != "postgres" || cfg.Store.PostgresURL != "postgres://localhost/kbase" {
		t.Errorf("store = %+v", cfg.Store)
	}
}

func TestEnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "kbase.toml")
	data := `
[embedding]
model = "from-file"
`
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	t.Setenv("KBASE_EMBEDDING_MODEL", "from-env")
	t.Setenv("KBASE_EMBEDDING_API_KEY", "sk-env")
	t.Setenv("KBASE_EMBEDDING_DIMENSIONS", "64")
	t.Setenv("KBASE_STORE_BACKEND", "memory")
	t.Setenv("KBASE_OBSERVER_ENABLED", "true")

	cfg := Load(path)
	if cfg.Embedding.Model != "from-env" {
		t.Errorf("model = %q", cfg.Embedding.Model)
	}
	if cfg.Embedding.APIKey != "sk-env" {
		t.Errorf("api key = %q", cfg.Embedding.APIKey)
	}
	if cfg.Embedding.Dimensions != 64 {
		t.Errorf("dimensions = %d", cfg.Embedding.Dimensions)
	}
	if cfg.Store.Backend != "memory" {
		t.Errorf("backend = %q", cfg.Store.Backend)
	}
	if !cfg.Observer.Enabled {
		t.Error("observer not enabled")
	}
}

func TestEnvInvalidDimensionsIgnored(t *testing.T) {
	t.Setenv("KBASE_EMBEDDING_DIMENSIONS", "not-a-number")
	cfg := Load(filepath.Join(t.TempDir(), "absent.toml"))
	if cfg.Embedding.Dimensions != 1536 {
		t.Errorf("dimensions = %d, want default", cfg.Embedding.Dimensions)
	}
}
