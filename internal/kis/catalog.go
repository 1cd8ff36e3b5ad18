package kis

import (
	"context"
	"time"

	"kisync/internal/model"
)

// Catalog provides an interface for local metadata storage.
// All methods should be implemented with appropriate transaction handling;
// ApplyDiff in particular must be a single all-or-nothing transaction.
type Catalog interface {
	// Container operations

	// CreateContainer creates a new indexable container.
	CreateContainer(ctx context.Context, c *model.Container) error

	// GetContainer returns a container by id, or ErrNotFound.
	GetContainer(ctx context.Context, id string) (*model.Container, error)

	// ListContainers returns all containers.
	ListContainers(ctx context.Context) ([]*model.Container, error)

	// SetContainerIndex records the remote index id for a container.
	// Returns ErrIndexAlreadySet if the current generation already has one.
	SetContainerIndex(ctx context.Context, containerID, indexID string) error

	// BumpContainerGeneration starts a new container generation: the index
	// id is cleared and the generation counter incremented. Returns the new
	// generation.
	BumpContainerGeneration(ctx context.Context, containerID string) (int64, error)

	// Blob operations

	// CreateBlob creates a new blob record.
	CreateBlob(ctx context.Context, b *model.Blob) error

	// GetBlob returns a blob by id, or ErrNotFound.
	GetBlob(ctx context.Context, id string) (*model.Blob, error)

	// SetBlobExternal records the remote identity of an uploaded blob.
	SetBlobExternal(ctx context.Context, blobID, externalID, externalSource string) error

	// ClearBlobExternal drops the remote identity, forcing re-upload.
	ClearBlobExternal(ctx context.Context, blobID string) error

	// ArchiveBlob soft-deletes a blob: the row and content are retained
	// but the blob no longer participates in sync or linking.
	ArchiveBlob(ctx context.Context, blobID string) error

	// DeleteBlob hard-deletes a blob row.
	DeleteBlob(ctx context.Context, blobID string) error

	// ListExpiredBlobs returns unarchived blobs whose expiry passed asOf.
	ListExpiredBlobs(ctx context.Context, asOf time.Time) ([]*model.Blob, error)

	// ListOrphanBlobs returns unarchived blobs with no ownership edges
	// left. Such rows only exist when a release was interrupted midway.
	ListOrphanBlobs(ctx context.Context) ([]*model.Blob, error)

	// Membership operations

	// CreateMembership attaches a blob to a container.
	CreateMembership(ctx context.Context, m *model.Membership) error

	// ListMemberships returns all memberships of a container.
	ListMemberships(ctx context.Context, containerID string) ([]*model.Membership, error)

	// MembershipsByStatus returns a container's memberships in any of the
	// given statuses.
	MembershipsByStatus(ctx context.Context, containerID string, statuses ...model.MembershipStatus) ([]*model.Membership, error)

	// MembershipsForBlob returns every ownership edge of a blob, across
	// all containers.
	MembershipsForBlob(ctx context.Context, blobID string) ([]*model.Membership, error)

	// SetMembershipStatus moves a membership through its state machine.
	// errMsg is cleared when empty.
	SetMembershipStatus(ctx context.Context, membershipID string, status model.MembershipStatus, errMsg string) error

	// SetMembershipsStatus updates many memberships in one transaction.
	SetMembershipsStatus(ctx context.Context, membershipIDs []string, status model.MembershipStatus, errMsg string) error

	// DeleteMembership removes one ownership edge.
	DeleteMembership(ctx context.Context, membershipID string) error

	// CountOwnersExcluding returns, for each blob id, the number of
	// ownership edges held by containers other than excludeContainerID.
	// The whole batch is answered by a single query; blob ids with no
	// remaining owners are absent from the result map.
	CountOwnersExcluding(ctx context.Context, blobIDs []string, excludeContainerID string) (map[string]int, error)

	// ApplyDiff applies one reconciliation diff in a single transaction.
	// A failure leaves the catalog exactly as before the call.
	ApplyDiff(ctx context.Context, p ApplyDiffParams) error

	// Source operations

	// CreateSource attaches a source to a container. Returns
	// ErrSourceExists if the container already has one.
	CreateSource(ctx context.Context, s *model.Source) error

	// GetSource returns a source by id, or ErrNotFound.
	GetSource(ctx context.Context, id string) (*model.Source, error)

	// GetSourceByContainer returns the source of a container, or ErrNotFound.
	GetSourceByContainer(ctx context.Context, containerID string) (*model.Source, error)

	// ListSources returns all sources.
	ListSources(ctx context.Context) ([]*model.Source, error)

	// ListAutoSyncSources returns sources with auto-sync enabled whose
	// container is index-backed.
	ListAutoSyncSources(ctx context.Context) ([]*model.Source, error)

	// TouchSourceSync records a successful sync time.
	TouchSourceSync(ctx context.Context, sourceID string, at time.Time) error

	// Sync run operations

	// CreateSyncRun persists a new in-progress run record.
	CreateSyncRun(ctx context.Context, r *model.SyncRun) error

	// FinishSyncRun finalizes a run: status, counts, duration and error
	// message are written once; finished runs are never mutated again.
	FinishSyncRun(ctx context.Context, r *model.SyncRun) error

	// ListSyncRuns returns the most recent runs for a source, newest first.
	ListSyncRuns(ctx context.Context, sourceID string, limit int) ([]*model.SyncRun, error)

	// Close closes the underlying connection.
	Close() error
}

// AddedDocument is one blob+membership pair created by a diff.
type AddedDocument struct {
	Blob       *model.Blob
	Membership *model.Membership
}

// BlobUpdate replaces a blob's content in place. The external id is
// invalidated and, when ResetStatus is set, the membership returns to
// pending so the next link pass re-uploads it.
type BlobUpdate struct {
	BlobID       string
	MembershipID string
	ContentType  string
	ContentSize  int64
	Checksum     string
	StorageKey   string
	Fingerprint  string
	ResetStatus  bool
}

// ApplyDiffParams is the full add/update/remove set of one sync run.
type ApplyDiffParams struct {
	ContainerID         string
	Adds                []AddedDocument
	Updates             []BlobUpdate
	RemoveMembershipIDs []string
}
