package embedder

import (
	"context"
	"hash/fnv"
)

// HashEmbedder is a deterministic, network-free Embedder for tests and
// local development. It hashes each token into one of dim buckets, so
// textually similar strings land close together in cosine space while
// remaining fully reproducible across runs.
type HashEmbedder struct {
	dim int
}

func NewHashEmbedder(dim int) *HashEmbedder {
	if dim <= 0 {
		dim = defaultDim
	}
	return &HashEmbedder{dim: dim}
}

func (h *HashEmbedder) Dim() int { return h.dim }

func (h *HashEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	return h.vector(text), nil
}

func (h *HashEmbedder) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = h.vector(t)
	}
	return out, nil
}

func (h *HashEmbedder) vector(text string) []float32 {
	v := make([]float32, h.dim)
	tokens := tokenize(text)
	for _, tok := range tokens {
		sum := fnv.New32a()
		_, _ = sum.Write([]byte(tok))
		bucket := sum.Sum32() % uint32(h.dim)
		v[bucket]++
	}
	return l2Normalize(v)
}

func tokenize(text string) []string {
	var tokens []string
	start := -1
	for i, r := range text {
		isWord := (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9')
		if isWord {
			if start == -1 {
				start = i
			}
		} else if start != -1 {
			tokens = append(tokens, text[start:i])
			start = -1
		}
	}
	if start != -1 {
		tokens = append(tokens, text[start:])
	}
	return tokens
}
