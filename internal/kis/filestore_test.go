package kis_test

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"kisync/internal/kis"
	"kisync/internal/model"
)

// linkBlob uploads a blob to the provider and links it under indexID,
// recording the remote id on the catalog row.
func (h *harness) linkBlob(t *testing.T, indexID string, blob *model.Blob) string {
	t.Helper()

	ctx := context.Background()
	var content bytes.Buffer
	if err := h.store.Get(ctx, blob.StorageKey, &content); err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	remoteID, err := h.client.UploadBlob(ctx, blob, content.Bytes())
	if err != nil {
		t.Fatalf("UploadBlob() error = %v", err)
	}
	if err := h.client.LinkBlobs(ctx, indexID, []string{remoteID}, model.DefaultChunking); err != nil {
		t.Fatalf("LinkBlobs() error = %v", err)
	}
	if err := h.catalog.SetBlobExternal(ctx, blob.ID, remoteID, h.client.Provider()); err != nil {
		t.Fatalf("SetBlobExternal() error = %v", err)
	}
	blob.ExternalID = remoteID
	return remoteID
}

func (h *harness) indexedContainer(t *testing.T, name string) (*model.Container, string) {
	t.Helper()

	container := h.createContainer(t, name, true, true)
	indexID := mustCreateIndex(t, h, name)
	if err := h.catalog.SetContainerIndex(context.Background(), container.ID, indexID); err != nil {
		t.Fatalf("SetContainerIndex() error = %v", err)
	}
	container.IndexID = indexID
	return container, indexID
}

func TestFileStore_ReleaseSoleOwnerDeletes(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	container, indexID := h.indexedContainer(t, "docs")

	blob := h.createBlob(t, "a.txt", []byte("alpha"))
	m := h.attach(t, container.ID, blob.ID, model.MembershipCompleted, model.DefaultChunking)
	remoteID := h.linkBlob(t, indexID, blob)

	if err := h.catalog.DeleteMembership(ctx, m.ID); err != nil {
		t.Fatalf("DeleteMembership() error = %v", err)
	}
	if err := h.files.Release(ctx, blob.ID, container); err != nil {
		t.Fatalf("Release() error = %v", err)
	}

	if _, err := h.catalog.GetBlob(ctx, blob.ID); !errors.Is(err, kis.ErrNotFound) {
		t.Errorf("GetBlob() error = %v, want ErrNotFound", err)
	}
	if h.store.Has(blob.StorageKey) {
		t.Error("content still in store")
	}
	if h.client.Uploaded(remoteID) {
		t.Error("remote blob still at provider")
	}
	if h.client.Linked(indexID, remoteID) {
		t.Error("index entry survived")
	}
}

func TestFileStore_ReleaseSharedBlobOnlyUnlinks(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	releasing, releasingIdx := h.indexedContainer(t, "releasing")
	keeping, keepingIdx := h.indexedContainer(t, "keeping")

	blob := h.createBlob(t, "shared.txt", []byte("shared"))
	m := h.attach(t, releasing.ID, blob.ID, model.MembershipCompleted, model.DefaultChunking)
	h.attach(t, keeping.ID, blob.ID, model.MembershipCompleted, model.DefaultChunking)

	remoteID := h.linkBlob(t, releasingIdx, blob)
	if err := h.client.LinkBlobs(ctx, keepingIdx, []string{remoteID}, model.DefaultChunking); err != nil {
		t.Fatalf("LinkBlobs() error = %v", err)
	}

	if err := h.catalog.DeleteMembership(ctx, m.ID); err != nil {
		t.Fatalf("DeleteMembership() error = %v", err)
	}
	if err := h.files.Release(ctx, blob.ID, releasing); err != nil {
		t.Fatalf("Release() error = %v", err)
	}

	if _, err := h.catalog.GetBlob(ctx, blob.ID); err != nil {
		t.Errorf("GetBlob() error = %v, blob must survive", err)
	}
	if !h.store.Has(blob.StorageKey) {
		t.Error("content deleted while still referenced")
	}
	if !h.client.Uploaded(remoteID) {
		t.Error("remote blob deleted while still referenced")
	}
	if h.client.Linked(releasingIdx, remoteID) {
		t.Error("releasing owner's index entry survived")
	}
	if !h.client.Linked(keepingIdx, remoteID) {
		t.Error("other owner's index entry removed")
	}
}

func TestFileStore_ReleaseArchivesVersionedBlobs(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	container := h.createContainer(t, "docs", false, false)

	blob := h.createBlob(t, "versioned.txt", []byte("v1"))

	// Put the blob in a version chain, then release its only owner.
	dup, err := h.files.Duplicate(ctx, blob.ID, container)
	if err != nil {
		t.Fatalf("Duplicate() error = %v", err)
	}

	memberships, _ := h.catalog.MembershipsForBlob(ctx, dup.ID)
	if err := h.catalog.DeleteMembership(ctx, memberships[0].ID); err != nil {
		t.Fatalf("DeleteMembership() error = %v", err)
	}
	if err := h.files.Release(ctx, dup.ID, container); err != nil {
		t.Fatalf("Release() error = %v", err)
	}

	got, err := h.catalog.GetBlob(ctx, dup.ID)
	if err != nil {
		t.Fatalf("GetBlob() error = %v, versioned blob must be retained", err)
	}
	if !got.Archived {
		t.Error("Archived = false, want archived instead of deleted")
	}
	if !h.store.Has(got.StorageKey) {
		t.Error("content deleted for archived blob")
	}
}

func TestFileStore_Duplicate(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	origOwner := h.createContainer(t, "orig", false, false)
	newOwner := h.createContainer(t, "copy", false, false)

	blob := h.createBlob(t, "a.txt", []byte("alpha"))
	h.attach(t, origOwner.ID, blob.ID, model.MembershipCompleted, model.DefaultChunking)
	if err := h.catalog.SetBlobExternal(ctx, blob.ID, "rem-orig", "memory"); err != nil {
		t.Fatalf("SetBlobExternal() error = %v", err)
	}

	dup, err := h.files.Duplicate(ctx, blob.ID, newOwner)
	if err != nil {
		t.Fatalf("Duplicate() error = %v", err)
	}

	if dup.ID == blob.ID {
		t.Error("duplicate shares the original's id")
	}
	if dup.VersionGroupID == "" {
		t.Error("VersionGroupID empty, want a fresh version chain")
	}
	if dup.ExternalID != "" {
		t.Errorf("ExternalID = %v, copies upload independently", dup.ExternalID)
	}
	if dup.Checksum != blob.Checksum {
		t.Errorf("Checksum = %v, want %v", dup.Checksum, blob.Checksum)
	}
	if dup.StorageKey == blob.StorageKey {
		t.Error("duplicate shares the original's storage key")
	}

	var content bytes.Buffer
	if err := h.store.Get(ctx, dup.StorageKey, &content); err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if content.String() != "alpha" {
		t.Errorf("content = %q, want alpha", content.String())
	}

	memberships, err := h.catalog.ListMemberships(ctx, newOwner.ID)
	if err != nil {
		t.Fatalf("ListMemberships() error = %v", err)
	}
	if len(memberships) != 1 || memberships[0].BlobID != dup.ID {
		t.Fatalf("memberships = %v, want one edge to the copy", memberships)
	}
	if memberships[0].Status != model.MembershipPending {
		t.Errorf("Status = %v, want pending", memberships[0].Status)
	}
}

func TestFileStore_SweepExpired(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	container, indexID := h.indexedContainer(t, "docs")

	expired := h.createBlob(t, "expired.txt", []byte("old"))
	h.attach(t, container.ID, expired.ID, model.MembershipCompleted, model.DefaultChunking)
	remoteID := h.linkBlob(t, indexID, expired)
	h.expireBlob(t, expired.ID, h.clock.Now().Add(-time.Hour))

	fresh := h.createBlob(t, "fresh.txt", []byte("new"))
	h.attach(t, container.ID, fresh.ID, model.MembershipCompleted, model.DefaultChunking)
	h.expireBlob(t, fresh.ID, h.clock.Now().Add(time.Hour))

	swept, err := h.files.SweepExpired(ctx)
	if err != nil {
		t.Fatalf("SweepExpired() error = %v", err)
	}
	if swept != 1 {
		t.Fatalf("swept = %d, want 1", swept)
	}

	if _, err := h.catalog.GetBlob(ctx, expired.ID); !errors.Is(err, kis.ErrNotFound) {
		t.Errorf("expired blob error = %v, want ErrNotFound", err)
	}
	if h.client.Uploaded(remoteID) {
		t.Error("expired blob still at provider")
	}
	if h.client.Linked(indexID, remoteID) {
		t.Error("expired blob still linked")
	}

	memberships, _ := h.catalog.ListMemberships(ctx, container.ID)
	if len(memberships) != 1 || memberships[0].BlobID != fresh.ID {
		t.Errorf("memberships = %v, want only the fresh blob", memberships)
	}
}

func TestFileStore_SweepOrphans(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	container, indexID := h.indexedContainer(t, "docs")

	// A row whose last ownership edge vanished without being disposed.
	orphan := h.createBlob(t, "orphan.txt", []byte("gone"))
	m := h.attach(t, container.ID, orphan.ID, model.MembershipCompleted, model.DefaultChunking)
	remoteID := h.linkBlob(t, indexID, orphan)
	if err := h.catalog.DeleteMembership(ctx, m.ID); err != nil {
		t.Fatalf("DeleteMembership() error = %v", err)
	}

	// Owned and archived rows are not orphans.
	owned := h.createBlob(t, "owned.txt", []byte("kept"))
	h.attach(t, container.ID, owned.ID, model.MembershipCompleted, model.DefaultChunking)
	archived := h.createBlob(t, "archived.txt", []byte("retained"))
	if err := h.catalog.ArchiveBlob(ctx, archived.ID); err != nil {
		t.Fatalf("ArchiveBlob() error = %v", err)
	}

	swept, err := h.files.SweepOrphans(ctx)
	if err != nil {
		t.Fatalf("SweepOrphans() error = %v", err)
	}
	if swept != 1 {
		t.Fatalf("swept = %d, want 1", swept)
	}

	if _, err := h.catalog.GetBlob(ctx, orphan.ID); !errors.Is(err, kis.ErrNotFound) {
		t.Errorf("orphan blob error = %v, want ErrNotFound", err)
	}
	if h.store.Has(orphan.StorageKey) {
		t.Error("orphan content still in store")
	}
	if h.client.Uploaded(remoteID) {
		t.Error("orphan remote blob still at provider")
	}
	if _, err := h.catalog.GetBlob(ctx, owned.ID); err != nil {
		t.Errorf("owned blob error = %v, must survive the sweep", err)
	}
	if _, err := h.catalog.GetBlob(ctx, archived.ID); err != nil {
		t.Errorf("archived blob error = %v, must survive the sweep", err)
	}
}

func TestFileStore_SweepExpiredRetainsVersionChains(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	container := h.createContainer(t, "docs", false, false)

	blob := h.createBlob(t, "a.txt", []byte("alpha"))
	dup, err := h.files.Duplicate(ctx, blob.ID, container)
	if err != nil {
		t.Fatalf("Duplicate() error = %v", err)
	}
	h.expireBlob(t, dup.ID, h.clock.Now().Add(-time.Minute))

	swept, err := h.files.SweepExpired(ctx)
	if err != nil {
		t.Fatalf("SweepExpired() error = %v", err)
	}
	if swept != 1 {
		t.Fatalf("swept = %d, want 1", swept)
	}

	got, err := h.catalog.GetBlob(ctx, dup.ID)
	if err != nil {
		t.Fatalf("GetBlob() error = %v, versioned blob must be retained", err)
	}
	if !got.Archived {
		t.Error("Archived = false, want archive for version chain member")
	}
}
