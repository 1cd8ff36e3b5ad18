package kis

import (
	"bytes"
	"context"
	"fmt"
	"sort"

	"kisync/internal/model"
)

// LinkBatcher uploads not-yet-remote blobs and links them to a container's
// remote index. Memberships are grouped by chunking strategy because the
// provider applies the strategy per link batch, and each linking call
// carries at most MaxLinkBatch identifiers.
//
// Failures are isolated: a failed upload marks only its own membership
// failed, a failed link call marks its whole strategy group failed, and
// neither stops the remaining groups. The caller inspects the returned
// BatchReport instead of catching per-item errors.
type LinkBatcher struct {
	catalog Catalog
	store   ObjectStore
	logger  Logger
	clock   Clock
	retry   RetryPolicy
}

// NewLinkBatcher creates a LinkBatcher with the provided dependencies.
func NewLinkBatcher(catalog Catalog, store ObjectStore, logger Logger, clock Clock, retry RetryPolicy) *LinkBatcher {
	return &LinkBatcher{
		catalog: catalog,
		store:   store,
		logger:  logger,
		clock:   clock,
		retry:   retry,
	}
}

// ItemResult is the outcome for one membership in a batch.
type ItemResult struct {
	MembershipID string
	BlobID       string
	Err          error
}

// OK reports whether the item completed.
func (r ItemResult) OK() bool { return r.Err == nil }

// BatchReport aggregates per-item outcomes of one batch run.
type BatchReport struct {
	Items  []ItemResult
	Linked int
	Failed int
}

// FirstErr returns the first item error, or nil when everything completed.
func (r *BatchReport) FirstErr() error {
	for _, item := range r.Items {
		if item.Err != nil {
			return item.Err
		}
	}
	return nil
}

func (r *BatchReport) add(item ItemResult) {
	r.Items = append(r.Items, item)
	if item.Err == nil {
		r.Linked++
	} else {
		r.Failed++
	}
}

// LinkPending links all pending memberships of the container.
func (b *LinkBatcher) LinkPending(ctx context.Context, client RemoteIndexClient, container *model.Container) (*BatchReport, error) {
	if !container.IsIndex || !container.IsRemoteIndex {
		return nil, ErrNotIndexBacked
	}
	pending, err := b.catalog.MembershipsByStatus(ctx, container.ID, model.MembershipPending)
	if err != nil {
		return nil, fmt.Errorf("listing pending memberships: %w", err)
	}
	return b.LinkMemberships(ctx, client, container, pending, false)
}

// LinkMemberships uploads and links the given memberships. When force is
// true, blobs are re-uploaded even if they already carry a remote id.
// Retried runs are idempotent: without force, blobs with a remote id are
// not re-uploaded.
func (b *LinkBatcher) LinkMemberships(ctx context.Context, client RemoteIndexClient, container *model.Container, memberships []*model.Membership, force bool) (*BatchReport, error) {
	return b.link(ctx, client, container, memberships, force, true)
}

// RelinkDetached re-uploads and relinks the memberships into a fresh index
// at the given provider without touching the container row. The catalog
// keeps resolving the container's current index while the replacement is
// built; the new index id is returned for the caller to record once every
// group has linked.
func (b *LinkBatcher) RelinkDetached(ctx context.Context, client RemoteIndexClient, container *model.Container, memberships []*model.Membership) (string, *BatchReport, error) {
	detached := *container
	detached.IndexID = ""
	report, err := b.link(ctx, client, &detached, memberships, true, false)
	return detached.IndexID, report, err
}

func (b *LinkBatcher) link(ctx context.Context, client RemoteIndexClient, container *model.Container, memberships []*model.Membership, force, record bool) (*BatchReport, error) {
	report := &BatchReport{}
	if len(memberships) == 0 {
		return report, nil
	}

	indexID := container.IndexID

	for _, group := range groupByStrategy(memberships) {
		ids := membershipIDs(group.members)
		if err := b.catalog.SetMembershipsStatus(ctx, ids, model.MembershipInProgress, ""); err != nil {
			return report, fmt.Errorf("marking group in progress: %w", err)
		}

		// Upload phase: one bad file never aborts the batch.
		var ready []*model.Membership
		var remoteIDs []string
		for _, m := range group.members {
			remoteID, err := b.ensureUploaded(ctx, client, m, force)
			if err != nil {
				uploadErr := &UploadError{BlobID: m.BlobID, Err: err}
				b.logger.Warn("blob upload failed", "blob", m.BlobID, "error", err)
				if serr := b.catalog.SetMembershipStatus(ctx, m.ID, model.MembershipFailed, uploadErr.Error()); serr != nil {
					return report, fmt.Errorf("marking membership failed: %w", serr)
				}
				report.add(ItemResult{MembershipID: m.ID, BlobID: m.BlobID, Err: uploadErr})
				continue
			}
			ready = append(ready, m)
			remoteIDs = append(remoteIDs, remoteID)
		}
		if len(ready) == 0 {
			continue
		}

		// Link phase.
		linked := remoteIDs
		if indexID == "" {
			createdID, remaining, err := b.createIndex(ctx, client, container, group.strategy, remoteIDs, record)
			if err != nil {
				if ferr := b.failGroup(ctx, report, ready, err); ferr != nil {
					return report, ferr
				}
				continue
			}
			indexID = createdID
			linked = remaining
		}

		if err := b.linkInChunks(ctx, client, indexID, linked, group.strategy); err != nil {
			if ferr := b.failGroup(ctx, report, ready, err); ferr != nil {
				return report, ferr
			}
			continue
		}

		if err := b.catalog.SetMembershipsStatus(ctx, membershipIDs(ready), model.MembershipCompleted, ""); err != nil {
			return report, fmt.Errorf("marking group completed: %w", err)
		}
		for _, m := range ready {
			report.add(ItemResult{MembershipID: m.ID, BlobID: m.BlobID})
		}
		b.logger.Info("strategy group linked",
			"index", indexID,
			"chunk_size", group.strategy.ChunkSize,
			"chunk_overlap", group.strategy.ChunkOverlap,
			"count", len(ready))
	}

	return report, nil
}

// ensureUploaded returns the blob's remote id, uploading the content first
// when the blob has none or force is set.
func (b *LinkBatcher) ensureUploaded(ctx context.Context, client RemoteIndexClient, m *model.Membership, force bool) (string, error) {
	blob, err := b.catalog.GetBlob(ctx, m.BlobID)
	if err != nil {
		return "", err
	}
	if blob.ExternalID != "" && !force {
		return blob.ExternalID, nil
	}

	var content bytes.Buffer
	if err := b.store.Get(ctx, blob.StorageKey, &content); err != nil {
		return "", fmt.Errorf("reading content: %w", err)
	}

	remoteID, err := client.UploadBlob(ctx, blob, content.Bytes())
	if err != nil {
		return "", err
	}

	if err := b.catalog.SetBlobExternal(ctx, blob.ID, remoteID, client.Provider()); err != nil {
		return "", fmt.Errorf("recording remote id: %w", err)
	}
	return remoteID, nil
}

// createIndex creates the container's remote index. The create call may be
// seeded with up to MaxCreateBatch identifiers, but only when the group
// uses the default strategy: seeded files take the provider default, so
// custom-strategy groups create empty and link everything explicitly.
// Returns the new index id and the identifiers still left to link. With
// record unset the id is kept in memory only, so the container row never
// references an index that is still being populated.
func (b *LinkBatcher) createIndex(ctx context.Context, client RemoteIndexClient, container *model.Container, strategy model.ChunkingStrategy, remoteIDs []string, record bool) (string, []string, error) {
	var seed []string
	remaining := remoteIDs
	if strategy == model.DefaultChunking {
		n := min(MaxCreateBatch, len(remoteIDs))
		seed, remaining = remoteIDs[:n], remoteIDs[n:]
	}

	var indexID string
	err := b.retry.Do(ctx, func() error {
		var cerr error
		indexID, cerr = client.CreateIndex(ctx, container.Name, seed)
		return cerr
	})
	if err != nil {
		return "", nil, &LinkError{IndexID: "", Count: len(remoteIDs), Err: err}
	}

	if record {
		if err := b.catalog.SetContainerIndex(ctx, container.ID, indexID); err != nil {
			return "", nil, &LinkError{IndexID: indexID, Count: len(remoteIDs), Err: err}
		}
	}
	container.IndexID = indexID
	return indexID, remaining, nil
}

// linkInChunks issues ceil(N/MaxLinkBatch) linking calls for N identifiers.
func (b *LinkBatcher) linkInChunks(ctx context.Context, client RemoteIndexClient, indexID string, remoteIDs []string, strategy model.ChunkingStrategy) error {
	for start := 0; start < len(remoteIDs); start += MaxLinkBatch {
		end := min(start+MaxLinkBatch, len(remoteIDs))
		chunk := remoteIDs[start:end]
		err := b.retry.Do(ctx, func() error {
			return client.LinkBlobs(ctx, indexID, chunk, strategy)
		})
		if err != nil {
			return &LinkError{IndexID: indexID, Count: len(chunk), Err: err}
		}
	}
	return nil
}

// failGroup marks every member of a strategy group failed after a link
// error and records the items in the report.
func (b *LinkBatcher) failGroup(ctx context.Context, report *BatchReport, members []*model.Membership, cause error) error {
	b.logger.Warn("strategy group failed", "count", len(members), "error", cause)
	if err := b.catalog.SetMembershipsStatus(ctx, membershipIDs(members), model.MembershipFailed, cause.Error()); err != nil {
		return fmt.Errorf("marking group failed: %w", err)
	}
	for _, m := range members {
		report.add(ItemResult{MembershipID: m.ID, BlobID: m.BlobID, Err: cause})
	}
	return nil
}

type strategyGroup struct {
	strategy model.ChunkingStrategy
	members  []*model.Membership
}

// groupByStrategy partitions memberships by (chunk_size, chunk_overlap) in
// a deterministic order. Different strategies are never mixed in one call.
func groupByStrategy(memberships []*model.Membership) []strategyGroup {
	byStrategy := make(map[model.ChunkingStrategy][]*model.Membership)
	for _, m := range memberships {
		byStrategy[m.Chunking] = append(byStrategy[m.Chunking], m)
	}

	groups := make([]strategyGroup, 0, len(byStrategy))
	for strategy, members := range byStrategy {
		groups = append(groups, strategyGroup{strategy: strategy, members: members})
	}
	sort.Slice(groups, func(i, j int) bool {
		if groups[i].strategy.ChunkSize != groups[j].strategy.ChunkSize {
			return groups[i].strategy.ChunkSize < groups[j].strategy.ChunkSize
		}
		return groups[i].strategy.ChunkOverlap < groups[j].strategy.ChunkOverlap
	})
	return groups
}

func membershipIDs(memberships []*model.Membership) []string {
	ids := make([]string, len(memberships))
	for i, m := range memberships {
		ids[i] = m.ID
	}
	return ids
}
