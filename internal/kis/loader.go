package kis

import (
	"context"

	"kisync/internal/model"
)

// Document is one item of a source snapshot. Identifier is stable across
// runs and is the join key against existing memberships. Fingerprint is any
// value that changes exactly when the content changes (content hash,
// revision id, version number); an empty fingerprint on either side of a
// comparison means "treat as changed".
type Document struct {
	Identifier  string
	Name        string
	ContentType string
	Fingerprint string
	Content     []byte
	Metadata    map[string]string
}

// DocumentIterator produces a source snapshot lazily so large sources are
// consumed with bounded memory. Next returns (nil, nil) when the snapshot
// is exhausted. Close releases any resources held by the iteration and is
// safe to call more than once.
type DocumentIterator interface {
	Next(ctx context.Context) (*Document, error)
	Close() error
}

// ContentLoader pulls a snapshot of documents from an external source.
type ContentLoader interface {
	// Validate checks the source configuration without any network call.
	// It returns a *ConfigError describing the first problem found, or nil.
	Validate() error

	// Load starts producing the snapshot. Errors from Load or from the
	// returned iterator are fetch failures, eligible for scheduled retry.
	Load(ctx context.Context) (DocumentIterator, error)
}

// LoaderFactory builds the ContentLoader for a source. Injected into the
// orchestrator so the engine never imports loader implementations.
type LoaderFactory func(source *model.Source) (ContentLoader, error)

// SourceLocker serializes sync runs per source. Two runs for the same
// source must never overlap; runs for different sources are independent.
type SourceLocker interface {
	// TryAcquire attempts to take the advisory lock for a source without
	// blocking. It returns a release function on success, or ok=false when
	// another run holds the lock.
	TryAcquire(ctx context.Context, sourceID string) (release func(), ok bool, err error)
}
