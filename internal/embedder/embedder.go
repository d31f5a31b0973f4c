// Package embedder converts utterances into fixed-dimension float vectors
// for nearest-neighbor search.
package embedder

import "context"

// Embedder turns text into vectors. Implementations must be safe for
// concurrent use.
type Embedder interface {
	// Embed returns the vector for a single text.
	Embed(ctx context.Context, text string) ([]float32, error)
	// EmbedBatch returns vectors in the same order as texts. A batch is
	// atomic: either every vector comes back, or none does.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	// Dim reports the vector dimensionality this embedder produces.
	Dim() int
}
