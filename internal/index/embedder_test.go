package index

import (
	"math"
	"testing"

	"kisync/internal/model"
)

func TestFeatureHashEmbedder_Deterministic(t *testing.T) {
	e := NewFeatureHashEmbedder(64)

	a := e.Embed("the quick brown fox")
	b := e.Embed("the quick brown fox")

	if len(a) != 64 {
		t.Fatalf("len(vector) = %d, want 64", len(a))
	}
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("vectors differ at %d: %v != %v", i, a[i], b[i])
		}
	}
}

func TestFeatureHashEmbedder_Normalized(t *testing.T) {
	e := NewFeatureHashEmbedder(0)
	if e.Dims() != DefaultEmbeddingDims {
		t.Fatalf("Dims() = %d, want %d", e.Dims(), DefaultEmbeddingDims)
	}

	vec := e.Embed("some document text to embed")
	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if math.Abs(norm-1) > 1e-5 {
		t.Errorf("vector norm = %v, want 1", norm)
	}

	// Empty text yields the zero vector, not NaN.
	for i, v := range e.Embed("") {
		if v != 0 {
			t.Fatalf("Embed(\"\")[%d] = %v, want 0", i, v)
		}
	}
}

func TestChunkText(t *testing.T) {
	tests := []struct {
		name     string
		text     string
		strategy model.ChunkingStrategy
		want     []string
	}{
		{
			name:     "short text stays whole",
			text:     "tiny",
			strategy: model.ChunkingStrategy{ChunkSize: 100, ChunkOverlap: 10},
			want:     []string{"tiny"},
		},
		{
			name:     "splits with overlap",
			text:     "abcdefghij",
			strategy: model.ChunkingStrategy{ChunkSize: 4, ChunkOverlap: 2},
			want:     []string{"abcd", "cdef", "efgh", "ghij"},
		},
		{
			name:     "zero size stays whole",
			text:     "abcdefghij",
			strategy: model.ChunkingStrategy{},
			want:     []string{"abcdefghij"},
		},
		{
			name:     "overlap at least size does not loop",
			text:     "abcdefgh",
			strategy: model.ChunkingStrategy{ChunkSize: 4, ChunkOverlap: 4},
			want:     []string{"abcd", "efgh"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := chunkText(tt.text, tt.strategy)
			if len(got) != len(tt.want) {
				t.Fatalf("chunkText() = %v, want %v", got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("chunk %d = %q, want %q", i, got[i], tt.want[i])
				}
			}
		})
	}
}
