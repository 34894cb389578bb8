package kbase

import "context"

// EmbeddingProvider turns texts into embedding vectors.
type EmbeddingProvider interface {
	// Embed returns one embedding vector per input text, in input order.
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	// Dimensions returns the embedding vector size, or 0 when unknown
	// until the first call.
	Dimensions() int
	// Name returns the provider name for logging and model identification.
	Name() string
}
