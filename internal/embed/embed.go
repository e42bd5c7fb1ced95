// Package embed generates dense vectors for notes and queries. Embeddings
// are computed at index time only; the query path reuses them.
package embed

import "context"

// Embedder generates embedding vectors for text.
type Embedder interface {
	// Embed generates an embedding for a single text.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch generates embeddings for multiple texts.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions returns the embedding vector dimension.
	Dimensions() int

	// ModelName returns the model identifier, used in cache keys and the
	// index manifest.
	ModelName() string

	// Close releases resources.
	Close() error
}
