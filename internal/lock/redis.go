package lock

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"kisync/internal/config"
	"kisync/internal/kis"
)

// releaseScript deletes the lock key only when it still holds our token,
// so a lock that expired and was re-acquired by another process is never
// released from under it.
var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`)

// RedisLocker serializes syncs per source across processes using a Redis
// SET NX lock with a TTL. The TTL bounds how long a crashed process can
// hold a source hostage.
type RedisLocker struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisLocker connects to Redis and verifies the connection.
func NewRedisLocker(ctx context.Context, cfg config.LockConfig) (*RedisLocker, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	ttl := time.Duration(cfg.TTLSeconds) * time.Second
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}

	return &RedisLocker{client: client, ttl: ttl}, nil
}

// Close releases the Redis connection.
func (l *RedisLocker) Close() error { return l.client.Close() }

func lockKey(sourceID string) string {
	return "kisync:lock:source:" + sourceID
}

// TryAcquire attempts to take the lock for sourceID without blocking.
// When ok is true the caller must call release exactly once; release is
// a best-effort network call and failures only shorten the lock to its
// TTL instead of leaking it.
func (l *RedisLocker) TryAcquire(ctx context.Context, sourceID string) (func(), bool, error) {
	token := uuid.New().String()

	ok, err := l.client.SetNX(ctx, lockKey(sourceID), token, l.ttl).Result()
	if err != nil {
		return nil, false, fmt.Errorf("acquiring lock for source %s: %w", sourceID, err)
	}
	if !ok {
		return nil, false, nil
	}

	release := func() {
		releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		releaseScript.Run(releaseCtx, l.client, []string{lockKey(sourceID)}, token)
	}
	return release, true, nil
}

// Compile-time check that RedisLocker implements kis.SourceLocker
var _ kis.SourceLocker = (*RedisLocker)(nil)
