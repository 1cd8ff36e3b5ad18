package objectstore

import (
	"context"
	"fmt"

	"kisync/internal/config"
	"kisync/internal/kis"
)

// NewStoreFromConfig creates an ObjectStore implementation based on the
// objectstore config type.
func NewStoreFromConfig(ctx context.Context, cfg config.ObjectStoreConfig) (kis.ObjectStore, error) {
	switch cfg.Type {
	case "memory":
		return NewMemoryStore(), nil
	case "filesystem":
		if cfg.FSRoot == "" {
			return nil, fmt.Errorf("filesystem store requires fs_root to be set")
		}
		return NewFileSystemStore(cfg.FSRoot)
	case "s3":
		return NewS3Store(ctx, cfg)
	default:
		return nil, fmt.Errorf("unknown objectstore type: %s", cfg.Type)
	}
}
