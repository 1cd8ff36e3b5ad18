package lock

import (
	"context"
	"fmt"

	"kisync/internal/config"
	"kisync/internal/kis"
)

// NewLockerFromConfig creates a SourceLocker implementation based on the
// lock config type.
func NewLockerFromConfig(ctx context.Context, cfg config.LockConfig) (kis.SourceLocker, error) {
	switch cfg.Type {
	case "local", "":
		return NewLocalLocker(), nil
	case "redis":
		if cfg.RedisAddr == "" {
			return nil, fmt.Errorf("redis locker requires redis_addr to be set")
		}
		return NewRedisLocker(ctx, cfg)
	default:
		return nil, fmt.Errorf("unknown lock type: %s", cfg.Type)
	}
}
