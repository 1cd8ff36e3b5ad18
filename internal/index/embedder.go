package index

import (
	"hash/fnv"
	"math"
	"strings"
)

// Embedder turns chunk text into a fixed-size vector for the index
// provider. Implementations must always return vectors of Dims() length.
type Embedder interface {
	Dims() int
	Embed(text string) []float32
}

// DefaultEmbeddingDims matches the output size of common sentence
// embedding models (all-MiniLM-L6-v2), so a collection written with the
// built-in embedder can later be repopulated by a real model without a
// dimension change.
const DefaultEmbeddingDims = 384

// FeatureHashEmbedder is a deterministic, dependency-free embedder that
// hashes whitespace tokens into a fixed number of buckets and normalizes
// the result. It carries no semantic meaning but keeps the full pipeline
// runnable without an embedding service; swap in a real Embedder for
// meaningful retrieval.
type FeatureHashEmbedder struct {
	dims int
}

// NewFeatureHashEmbedder creates an embedder with the given vector size.
// A non-positive size falls back to DefaultEmbeddingDims.
func NewFeatureHashEmbedder(dims int) *FeatureHashEmbedder {
	if dims <= 0 {
		dims = DefaultEmbeddingDims
	}
	return &FeatureHashEmbedder{dims: dims}
}

func (e *FeatureHashEmbedder) Dims() int { return e.dims }

func (e *FeatureHashEmbedder) Embed(text string) []float32 {
	vec := make([]float32, e.dims)

	for _, token := range strings.Fields(strings.ToLower(text)) {
		h := fnv.New32a()
		h.Write([]byte(token))
		sum := h.Sum32()

		bucket := int(sum % uint32(e.dims))
		// The bit above the bucket decides the sign, so colliding tokens
		// do not always reinforce each other.
		if sum&0x80000000 != 0 {
			vec[bucket] -= 1
		} else {
			vec[bucket] += 1
		}
	}

	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm > 0 {
		scale := float32(1 / math.Sqrt(norm))
		for i := range vec {
			vec[i] *= scale
		}
	}
	return vec
}

var _ Embedder = (*FeatureHashEmbedder)(nil)
