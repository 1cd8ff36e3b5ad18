package kis

import (
	"context"
	"fmt"

	"kisync/internal/model"
)

// Migrator re-creates a container's remote index under a different
// provider or account. Reads against the old index keep working while the
// new one is built: the container row keeps its current index id until
// every strategy group has linked into the replacement, and the old index
// and its uploaded blobs are deleted only after the swap, never on a
// failed migration.
type Migrator struct {
	catalog Catalog
	batcher *LinkBatcher
	logger  Logger
	clock   Clock
}

// NewMigrator creates a Migrator with the provided dependencies.
func NewMigrator(catalog Catalog, batcher *LinkBatcher, logger Logger, clock Clock) *Migrator {
	return &Migrator{
		catalog: catalog,
		batcher: batcher,
		logger:  logger,
		clock:   clock,
	}
}

// Migrate moves the container's index from oldClient's provider to
// newClient's. Blobs are sourced from the local catalog, re-uploaded to
// the new provider and re-linked grouped by chunking strategy, exactly as
// an ordinary re-sync would link them.
func (g *Migrator) Migrate(ctx context.Context, containerID string, oldClient, newClient RemoteIndexClient) error {
	container, err := g.catalog.GetContainer(ctx, containerID)
	if err != nil {
		return &MigrationError{ContainerID: containerID, Err: err}
	}
	if !container.IsIndex || !container.IsRemoteIndex {
		return &MigrationError{ContainerID: containerID, Err: ErrNotIndexBacked}
	}
	if container.IndexID == "" {
		return &MigrationError{ContainerID: containerID, Err: fmt.Errorf("container has no index to migrate")}
	}

	memberships, err := g.catalog.ListMemberships(ctx, containerID)
	if err != nil {
		return &MigrationError{ContainerID: containerID, Err: err}
	}

	// Snapshot the old identifiers before the re-upload overwrites them.
	// Old ids are never reused; they exist only for the cleanup step.
	oldIndexID := container.IndexID
	oldRemoteIDs := make([]string, 0, len(memberships))
	for _, m := range memberships {
		blob, err := g.catalog.GetBlob(ctx, m.BlobID)
		if err != nil {
			return &MigrationError{ContainerID: containerID, Err: err}
		}
		if blob.ExternalID != "" {
			oldRemoteIDs = append(oldRemoteIDs, blob.ExternalID)
		}
	}

	if err := g.catalog.SetMembershipsStatus(ctx, membershipIDs(memberships), model.MembershipInProgress, ""); err != nil {
		return &MigrationError{ContainerID: containerID, Err: err}
	}

	// Build the replacement index detached from the container row, so a
	// partial failure leaves the catalog pointing at the old, complete
	// index.
	newIndexID, report, err := g.batcher.RelinkDetached(ctx, newClient, container, memberships)
	if err != nil {
		return &MigrationError{ContainerID: containerID, Err: err}
	}
	if report.Failed > 0 {
		return &MigrationError{
			ContainerID: containerID,
			Err:         fmt.Errorf("%d of %d blobs failed to relink: %w", report.Failed, len(memberships), report.FirstErr()),
		}
	}
	if newIndexID == "" {
		// No linkable memberships; the container still needs an index at
		// the new provider.
		newIndexID, err = newClient.CreateIndex(ctx, container.Name, nil)
		if err != nil {
			return &MigrationError{ContainerID: containerID, Err: err}
		}
	}

	// Every group linked: swap the container to the new generation and
	// index. The old index id is retired, never mutated in place.
	generation, err := g.catalog.BumpContainerGeneration(ctx, containerID)
	if err != nil {
		return &MigrationError{ContainerID: containerID, Err: err}
	}
	if err := g.catalog.SetContainerIndex(ctx, containerID, newIndexID); err != nil {
		return &MigrationError{ContainerID: containerID, Err: err}
	}
	container.IndexID = newIndexID
	container.Generation = generation

	g.logger.Info("migration relink complete",
		"container", containerID,
		"generation", generation,
		"provider", newClient.Provider(),
		"index", newIndexID,
		"linked", report.Linked)

	// Cleanup is unconditional once the swap landed.
	g.cleanupOld(ctx, oldClient, oldIndexID, oldRemoteIDs)
	return nil
}

// cleanupOld decommissions the old index and its uploaded blobs. Failures
// here are logged, not returned: the migration itself has succeeded and
// the old provider state is unreachable garbage at worst.
func (g *Migrator) cleanupOld(ctx context.Context, oldClient RemoteIndexClient, oldIndexID string, oldRemoteIDs []string) {
	if err := oldClient.DeleteIndex(ctx, oldIndexID, true); err != nil {
		g.logger.Warn("deleting old index", "index", oldIndexID, "error", err)
	}
	for _, remoteID := range oldRemoteIDs {
		if err := oldClient.DeleteBlob(ctx, remoteID); err != nil {
			g.logger.Warn("deleting old remote blob", "remote", remoteID, "error", err)
		}
	}
	g.logger.Info("old index decommissioned",
		"index", oldIndexID, "blobs", len(oldRemoteIDs))
}
