package kis

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"kisync/internal/model"
)

// Reconciler computes the add/update/remove diff between a source snapshot
// and the local catalog and applies it in one transaction. It never
// contacts the remote provider: index-backed containers are left with
// pending memberships for the link batcher to pick up after the commit.
type Reconciler struct {
	catalog Catalog
	store   ObjectStore
	files   *FileStore
	logger  Logger
	clock   Clock
	idgen   IDGenerator
}

// NewReconciler creates a Reconciler with the provided dependencies.
func NewReconciler(catalog Catalog, store ObjectStore, files *FileStore, logger Logger, clock Clock, idgen IDGenerator) *Reconciler {
	return &Reconciler{
		catalog: catalog,
		store:   store,
		files:   files,
		logger:  logger,
		clock:   clock,
		idgen:   idgen,
	}
}

// Diff summarizes one applied reconciliation.
type Diff struct {
	Added   int
	Updated int
	Removed int
}

// Sync reconciles the container's loader-managed memberships against the
// snapshot produced by docs.
//
// Strategy: blob content is written to the object store first, then the
// whole catalog diff is applied in a single transaction. If the
// transaction fails, the worst outcome is orphaned content in the store,
// which is harmless; the catalog is left exactly as before the run.
// Removed blobs are released through the reference-counted file store only
// after the transaction commits; a release that fails partway leaves an
// ownerless row, which the orphan sweep at the start of the next run
// disposes.
func (r *Reconciler) Sync(ctx context.Context, source *model.Source, container *model.Container, docs DocumentIterator) (*Diff, error) {
	defer docs.Close()

	// Heal blobs a previous run released only halfway, best effort.
	if swept, err := r.files.SweepOrphans(ctx); err != nil {
		r.logger.Warn("sweeping orphan blobs", "error", err)
	} else if swept > 0 {
		r.logger.Info("orphan blobs swept", "count", swept)
	}

	memberships, err := r.catalog.ListMemberships(ctx, container.ID)
	if err != nil {
		return nil, fmt.Errorf("listing memberships: %w", err)
	}

	// Only loader-managed memberships participate; manually attached blobs
	// have no document identifier and are never removed by a sync.
	existing := make(map[string]*model.Membership)
	for _, m := range memberships {
		if m.DocIdentifier != "" {
			existing[m.DocIdentifier] = m
		}
	}

	var (
		params   = ApplyDiffParams{ContainerID: container.ID}
		seen     = make(map[string]bool)
		obsolete []string // storage keys superseded by updates
	)

	for {
		doc, err := docs.Next(ctx)
		if err != nil {
			return nil, err
		}
		if doc == nil {
			break
		}
		if seen[doc.Identifier] {
			r.logger.Warn("duplicate identifier in snapshot", "identifier", doc.Identifier)
			continue
		}
		seen[doc.Identifier] = true

		m, ok := existing[doc.Identifier]
		if !ok {
			add, err := r.prepareAdd(ctx, container, doc)
			if err != nil {
				return nil, err
			}
			params.Adds = append(params.Adds, *add)
			continue
		}

		// A missing fingerprint on either side means we cannot prove the
		// content is unchanged, so it counts as changed.
		if m.Fingerprint != "" && doc.Fingerprint != "" && m.Fingerprint == doc.Fingerprint {
			continue
		}

		update, oldKey, err := r.prepareUpdate(ctx, container, m, doc)
		if err != nil {
			return nil, err
		}
		params.Updates = append(params.Updates, *update)
		if oldKey != "" && oldKey != update.StorageKey {
			obsolete = append(obsolete, oldKey)
		}
	}

	var removedBlobIDs []string
	for identifier, m := range existing {
		if seen[identifier] {
			continue
		}
		params.RemoveMembershipIDs = append(params.RemoveMembershipIDs, m.ID)
		removedBlobIDs = append(removedBlobIDs, m.BlobID)
	}

	if err := r.catalog.ApplyDiff(ctx, params); err != nil {
		return nil, fmt.Errorf("applying diff: %w", err)
	}

	for _, key := range obsolete {
		if err := r.store.Delete(ctx, key); err != nil {
			r.logger.Warn("deleting superseded content", "key", key, "error", err)
		}
	}

	if len(removedBlobIDs) > 0 {
		if err := r.files.ReleaseBatch(ctx, removedBlobIDs, container); err != nil {
			return nil, fmt.Errorf("releasing removed blobs: %w", err)
		}
	}

	diff := &Diff{
		Added:   len(params.Adds),
		Updated: len(params.Updates),
		Removed: len(params.RemoveMembershipIDs),
	}
	r.logger.Info("sync reconciled",
		"source", source.ID,
		"added", diff.Added, "updated", diff.Updated, "removed", diff.Removed)
	return diff, nil
}

// prepareAdd stores the document content and builds the blob+membership
// pair for a newly discovered identifier.
func (r *Reconciler) prepareAdd(ctx context.Context, container *model.Container, doc *Document) (*AddedDocument, error) {
	now := r.clock.Now()
	blobID := r.idgen.New()
	checksum := contentChecksum(doc.Content)
	key := storageKey(blobID, checksum)

	if err := r.store.Put(ctx, key, bytes.NewReader(doc.Content), int64(len(doc.Content))); err != nil {
		return nil, fmt.Errorf("storing content for %s: %w", doc.Identifier, err)
	}

	return &AddedDocument{
		Blob: &model.Blob{
			ID:          blobID,
			Name:        doc.Name,
			ContentType: doc.ContentType,
			ContentSize: int64(len(doc.Content)),
			Checksum:    checksum,
			StorageKey:  key,
			CreatedAt:   now,
			UpdatedAt:   now,
		},
		Membership: &model.Membership{
			ID:            r.idgen.New(),
			ContainerID:   container.ID,
			BlobID:        blobID,
			DocIdentifier: doc.Identifier,
			Fingerprint:   doc.Fingerprint,
			Status:        model.MembershipPending,
			Chunking:      model.DefaultChunking,
			CreatedAt:     now,
			UpdatedAt:     now,
		},
	}, nil
}

// prepareUpdate stores the replacement content under a fresh key and builds
// the in-place blob update. The old key is returned for post-commit
// cleanup; writing to a new key first means a failed transaction leaves
// the previous content intact.
func (r *Reconciler) prepareUpdate(ctx context.Context, container *model.Container, m *model.Membership, doc *Document) (*BlobUpdate, string, error) {
	blob, err := r.catalog.GetBlob(ctx, m.BlobID)
	if err != nil {
		return nil, "", fmt.Errorf("loading blob %s: %w", m.BlobID, err)
	}

	checksum := contentChecksum(doc.Content)
	key := storageKey(blob.ID, checksum)
	if err := r.store.Put(ctx, key, bytes.NewReader(doc.Content), int64(len(doc.Content))); err != nil {
		return nil, "", fmt.Errorf("storing content for %s: %w", doc.Identifier, err)
	}

	return &BlobUpdate{
		BlobID:       blob.ID,
		MembershipID: m.ID,
		ContentType:  doc.ContentType,
		ContentSize:  int64(len(doc.Content)),
		Checksum:     checksum,
		StorageKey:   key,
		Fingerprint:  doc.Fingerprint,
		ResetStatus:  container.IsIndex,
	}, blob.StorageKey, nil
}

func contentChecksum(content []byte) string {
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:])
}

func storageKey(blobID, checksum string) string {
	return "blobs/" + blobID + "-" + checksum[:12]
}
