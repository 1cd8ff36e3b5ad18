package index

import (
	"context"
	"fmt"

	"kisync/internal/config"
	"kisync/internal/kis"
)

// NewClientFromConfig creates a RemoteIndexClient implementation based on
// the index config type.
func NewClientFromConfig(ctx context.Context, cfg config.IndexConfig) (kis.RemoteIndexClient, error) {
	switch cfg.Type {
	case "memory":
		return NewMemoryIndexClient(), nil
	case "qdrant":
		return NewQdrantIndexClient(ctx, cfg, NewFeatureHashEmbedder(cfg.EmbeddingDims))
	default:
		return nil, fmt.Errorf("unknown index type: %s", cfg.Type)
	}
}
