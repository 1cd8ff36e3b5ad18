package kis

import (
	"bytes"
	"context"
	"fmt"

	"kisync/internal/model"
)

// FileStore decides blob fate when an owner releases its reference.
// A blob still referenced by another container survives and at most loses
// the releasing owner's index entry; a blob with no owners left is deleted
// from the provider and then hard-deleted locally, unless a retained
// version chain forces an archive instead.
type FileStore struct {
	catalog Catalog
	store   ObjectStore
	client  RemoteIndexClient // nil when no provider is configured
	logger  Logger
	clock   Clock
	idgen   IDGenerator
}

// NewFileStore creates a FileStore with the provided dependencies.
func NewFileStore(catalog Catalog, store ObjectStore, client RemoteIndexClient, logger Logger, clock Clock, idgen IDGenerator) *FileStore {
	return &FileStore{
		catalog: catalog,
		store:   store,
		client:  client,
		logger:  logger,
		clock:   clock,
		idgen:   idgen,
	}
}

// Release handles one blob whose membership in owner was just removed.
func (f *FileStore) Release(ctx context.Context, blobID string, owner *model.Container) error {
	return f.ReleaseBatch(ctx, []string{blobID}, owner)
}

// ReleaseBatch handles a whole batch of released blobs. The
// referenced-elsewhere set is computed with a single catalog query for the
// batch; each member still gets the same treatment Release would give it.
func (f *FileStore) ReleaseBatch(ctx context.Context, blobIDs []string, owner *model.Container) error {
	if len(blobIDs) == 0 {
		return nil
	}

	owners, err := f.catalog.CountOwnersExcluding(ctx, blobIDs, owner.ID)
	if err != nil {
		return fmt.Errorf("counting remaining owners: %w", err)
	}

	for _, blobID := range blobIDs {
		blob, err := f.catalog.GetBlob(ctx, blobID)
		if err != nil {
			return fmt.Errorf("loading blob %s: %w", blobID, err)
		}

		if owners[blobID] > 0 {
			// Referenced elsewhere: only this owner's index entry goes.
			f.unlinkFromIndex(ctx, blob, owner)
			continue
		}

		if err := f.dispose(ctx, blob, owner); err != nil {
			return err
		}
	}
	return nil
}

// Duplicate copies a blob for a new owner. The copy shares the original's
// version group (creating one if needed) and starts with no remote
// identity, so it is uploaded independently of the original.
func (f *FileStore) Duplicate(ctx context.Context, blobID string, newOwner *model.Container) (*model.Blob, error) {
	orig, err := f.catalog.GetBlob(ctx, blobID)
	if err != nil {
		return nil, fmt.Errorf("loading blob %s: %w", blobID, err)
	}

	var content bytes.Buffer
	if err := f.store.Get(ctx, orig.StorageKey, &content); err != nil {
		return nil, fmt.Errorf("reading content of %s: %w", blobID, err)
	}

	now := f.clock.Now()
	copyID := f.idgen.New()
	key := storageKey(copyID, orig.Checksum)
	if err := f.store.Put(ctx, key, bytes.NewReader(content.Bytes()), int64(content.Len())); err != nil {
		return nil, fmt.Errorf("storing duplicated content: %w", err)
	}

	group := orig.VersionGroupID
	if group == "" {
		group = f.idgen.New()
	}

	dup := &model.Blob{
		ID:             copyID,
		Name:           orig.Name,
		ContentType:    orig.ContentType,
		ContentSize:    orig.ContentSize,
		Checksum:       orig.Checksum,
		StorageKey:     key,
		VersionGroupID: group,
		ExpiresAt:      orig.ExpiresAt,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := f.catalog.CreateBlob(ctx, dup); err != nil {
		return nil, fmt.Errorf("creating duplicated blob: %w", err)
	}

	membership := &model.Membership{
		ID:          f.idgen.New(),
		ContainerID: newOwner.ID,
		BlobID:      copyID,
		Status:      model.MembershipPending,
		Chunking:    model.DefaultChunking,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := f.catalog.CreateMembership(ctx, membership); err != nil {
		return nil, fmt.Errorf("attaching duplicated blob: %w", err)
	}

	return dup, nil
}

// SweepExpired releases every unarchived blob whose expiry has passed,
// detaching it from all owners first. Returns the number of blobs swept.
func (f *FileStore) SweepExpired(ctx context.Context) (int, error) {
	expired, err := f.catalog.ListExpiredBlobs(ctx, f.clock.Now())
	if err != nil {
		return 0, fmt.Errorf("listing expired blobs: %w", err)
	}

	swept := 0
	for _, blob := range expired {
		memberships, err := f.catalog.MembershipsForBlob(ctx, blob.ID)
		if err != nil {
			return swept, fmt.Errorf("listing owners of %s: %w", blob.ID, err)
		}

		var lastOwner *model.Container
		for _, m := range memberships {
			owner, err := f.catalog.GetContainer(ctx, m.ContainerID)
			if err != nil {
				return swept, fmt.Errorf("loading container %s: %w", m.ContainerID, err)
			}
			f.unlinkFromIndex(ctx, blob, owner)
			if err := f.catalog.DeleteMembership(ctx, m.ID); err != nil {
				return swept, fmt.Errorf("deleting membership %s: %w", m.ID, err)
			}
			lastOwner = owner
		}

		if err := f.dispose(ctx, blob, lastOwner); err != nil {
			return swept, err
		}
		swept++
		f.logger.Info("expired blob swept", "blob", blob.ID, "name", blob.Name)
	}
	return swept, nil
}

// SweepOrphans disposes unarchived blobs that lost their last ownership
// edge without being disposed, which happens when a release fails partway.
// Sync runs call it first, so an interrupted release heals on the next
// pass. Returns the number of blobs swept.
func (f *FileStore) SweepOrphans(ctx context.Context) (int, error) {
	orphans, err := f.catalog.ListOrphanBlobs(ctx)
	if err != nil {
		return 0, fmt.Errorf("listing orphan blobs: %w", err)
	}

	swept := 0
	for _, blob := range orphans {
		if err := f.dispose(ctx, blob, nil); err != nil {
			return swept, err
		}
		swept++
		f.logger.Info("orphan blob swept", "blob", blob.ID, "name", blob.Name)
	}
	return swept, nil
}

// unlinkFromIndex removes the blob's entry from the owner's remote index,
// when there is one. Failures are logged and not propagated: a stale index
// entry is recoverable, and blocking the release would leave the catalog
// and provider further apart, not closer.
func (f *FileStore) unlinkFromIndex(ctx context.Context, blob *model.Blob, owner *model.Container) {
	if f.client == nil || owner == nil {
		return
	}
	if !owner.IsIndex || !owner.IsRemoteIndex || owner.IndexID == "" || blob.ExternalID == "" {
		return
	}
	if err := f.client.DeleteIndexEntry(ctx, owner.IndexID, blob.ExternalID); err != nil {
		f.logger.Warn("unlinking blob from index",
			"blob", blob.ID, "index", owner.IndexID, "error", err)
	}
}

// dispose handles a blob with no owners left: the provider copy and any
// remaining index entry are deleted first, then the blob is archived (when
// a version chain retains it) or hard-deleted together with its content.
func (f *FileStore) dispose(ctx context.Context, blob *model.Blob, owner *model.Container) error {
	f.unlinkFromIndex(ctx, blob, owner)

	if f.client != nil && blob.ExternalID != "" {
		if err := f.client.DeleteBlob(ctx, blob.ExternalID); err != nil {
			f.logger.Warn("deleting remote blob",
				"blob", blob.ID, "remote", blob.ExternalID, "error", err)
		}
	}

	if blob.VersionGroupID != "" {
		if err := f.catalog.ArchiveBlob(ctx, blob.ID); err != nil {
			return fmt.Errorf("archiving blob %s: %w", blob.ID, err)
		}
		f.logger.Debug("blob archived", "blob", blob.ID)
		return nil
	}

	if err := f.store.Delete(ctx, blob.StorageKey); err != nil {
		return fmt.Errorf("deleting content of %s: %w", blob.ID, err)
	}
	if err := f.catalog.DeleteBlob(ctx, blob.ID); err != nil {
		return fmt.Errorf("deleting blob %s: %w", blob.ID, err)
	}
	f.logger.Debug("blob deleted", "blob", blob.ID)
	return nil
}
