// Package config loads kbase configuration from a TOML file with
// environment variable overrides.
package config

import (
	"os"
	"strconv"

	"github.com/BurntSushi/toml"
)

type Config struct {
	Embedding EmbeddingConfig `toml:"embedding"`
	Chunking  ChunkingConfig  `toml:"chunking"`
	Store     StoreConfig     `toml:"store"`
	Observer  ObserverConfig  `toml:"observer"`
}

type EmbeddingConfig struct {
	BaseURL     string `toml:"base_url"`
	Model       string `toml:"model"`
	Dimensions  int    `toml:"dimensions"`
	APIKey      string `toml:"api_key"`
	BatchSize   int    `toml:"batch_size"`
	MaxRetries  int    `toml:"max_retries"`
	Concurrency int    `toml:"concurrency"`
}

type ChunkingConfig struct {
	MaxChars         int `toml:"max_chars"`
	OverlapChars     int `toml:"overlap_chars"`
	PagesPerChunk    int `toml:"pages_per_chunk"`
	TargetChunkChars int `toml:"target_chunk_chars"`
}

type StoreConfig struct {
	// Backend selects the store implementation: "sqlite", "postgres", or "memory".
	Backend     string `toml:"backend"`
	Path        string `toml:"path"`         // sqlite file path
	PostgresURL string `toml:"postgres_url"` // pgx connection string
}

type ObserverConfig struct {
	Enabled bool `toml:"enabled"`
}

// Default returns a Config with all defaults applied.
func Default() Config {
	return Config{
		Embedding: EmbeddingConfig{
			BaseURL:     "https://api.openai.com/v1",
			Model:       "text-embedding-3-small",
			Dimensions:  1536,
			BatchSize:   16,
			MaxRetries:  3,
			Concurrency: 4,
		},
		Chunking: ChunkingConfig{
			MaxChars:         1000,
			OverlapChars:     0,
			PagesPerChunk:    1,
			TargetChunkChars: 1000,
		},
		Store: StoreConfig{
			Backend: "sqlite",
			Path:    "kbase.db",
		},
	}
}

// Load reads config: defaults -> TOML file -> env vars (env wins).
func Load(path string) Config {
	cfg := Default()

	if path == "" {
		path = "kbase.toml"
	}

	if data, err := os.ReadFile(path); err == nil {
		_ = toml.Unmarshal(data, &cfg)
	}

	// Env overrides
	if v := os.Getenv("KBASE_EMBEDDING_API_KEY"); v != "" {
		cfg.Embedding.APIKey = v
	}
	if v := os.Getenv("KBASE_EMBEDDING_BASE_URL"); v != "" {
		cfg.Embedding.BaseURL = v
	}
	if v := os.Getenv("KBASE_EMBEDDING_MODEL"); v != "" {
		cfg.Embedding.Model = v
	}
	if v := os.Getenv("KBASE_EMBEDDING_DIMENSIONS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Embedding.Dimensions = n
		}
	}
	if v := os.Getenv("KBASE_STORE_BACKEND"); v != "" {
		cfg.Store.Backend = v
	}
	if v := os.Getenv("KBASE_STORE_PATH"); v != "" {
		cfg.Store.Path = v
	}
	if v := os.Getenv("KBASE_POSTGRES_URL"); v != "" {
		cfg.Store.PostgresURL = v
	}
	if os.Getenv("KBASE_OBSERVER_ENABLED") == "true" || os.Getenv("KBASE_OBSERVER_ENABLED") == "1" {
		cfg.Observer.Enabled = true
	}

	return cfg
}
