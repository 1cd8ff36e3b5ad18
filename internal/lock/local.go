package lock

import (
	"context"
	"sync"

	"kisync/internal/kis"
)

// LocalLocker serializes syncs per source within a single process. It is
// the right choice for single-machine setups; use the Redis locker when
// several processes can sync the same catalog.
type LocalLocker struct {
	mu   sync.Mutex
	held map[string]bool
}

// NewLocalLocker creates a new in-process source locker.
func NewLocalLocker() *LocalLocker {
	return &LocalLocker{held: make(map[string]bool)}
}

// TryAcquire attempts to take the lock for sourceID without blocking.
// When ok is true the caller must call release exactly once.
func (l *LocalLocker) TryAcquire(ctx context.Context, sourceID string) (func(), bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.held[sourceID] {
		return nil, false, nil
	}
	l.held[sourceID] = true

	release := func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		delete(l.held, sourceID)
	}
	return release, true, nil
}

// Compile-time check that LocalLocker implements kis.SourceLocker
var _ kis.SourceLocker = (*LocalLocker)(nil)
