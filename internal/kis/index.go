package kis

import (
	"context"

	"kisync/internal/model"
)

// Provider batch ceilings. Incremental linking accepts at most
// MaxLinkBatch blob ids per call; creating an index with initial files
// accepts at most MaxCreateBatch. Callers needing more at creation time
// must create with the first MaxCreateBatch and link the rest.
const (
	MaxLinkBatch   = 500
	MaxCreateBatch = 100
)

// IndexDescriptor is the provider's view of a remote index.
type IndexDescriptor struct {
	ID        string
	Name      string
	BlobCount int
}

// RemoteIndexClient is the write-side contract of a remote indexing
// provider. It carries no business logic; the engine decides what to
// upload, link and delete. Implementations must reject calls that exceed
// the batch ceilings with ErrBatchTooLarge.
type RemoteIndexClient interface {
	// Provider returns a stable reference for the provider/account this
	// client talks to, recorded as the external source of uploaded blobs.
	Provider() string

	// CreateIndex creates a remote index, optionally seeded with up to
	// MaxCreateBatch already-uploaded blob ids, and returns its id.
	CreateIndex(ctx context.Context, name string, blobIDs []string) (string, error)

	// RetrieveIndex returns the descriptor for an existing index.
	RetrieveIndex(ctx context.Context, indexID string) (*IndexDescriptor, error)

	// DeleteIndex deletes a remote index. When failSilently is true a
	// missing index is not an error.
	DeleteIndex(ctx context.Context, indexID string, failSilently bool) error

	// LinkBlobs links up to MaxLinkBatch uploaded blobs to an index using
	// one chunking strategy for the whole call. Any transport or provider
	// error is returned as a link failure.
	LinkBlobs(ctx context.Context, indexID string, blobIDs []string, strategy model.ChunkingStrategy) error

	// UploadBlob uploads blob content to the provider and returns the
	// remote id under which it can later be linked.
	UploadBlob(ctx context.Context, blob *model.Blob, content []byte) (string, error)

	// DeleteBlob deletes an uploaded blob at the provider.
	DeleteBlob(ctx context.Context, remoteID string) error

	// DeleteIndexEntry unlinks one blob from one index, leaving the
	// uploaded blob and any other indexes untouched.
	DeleteIndexEntry(ctx context.Context, indexID, remoteID string) error
}
