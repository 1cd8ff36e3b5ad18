package kis_test

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"kisync/internal/kis"
	"kisync/internal/model"
)

func TestLinkBatcher_RequiresRemoteIndex(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	tests := []struct {
		name     string
		isIndex  bool
		isRemote bool
	}{
		{"plain container", false, false},
		{"locally embedded index", true, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			container := h.createContainer(t, tt.name, tt.isIndex, tt.isRemote)
			_, err := h.batcher.LinkPending(ctx, h.client, container)
			if !errors.Is(err, kis.ErrNotIndexBacked) {
				t.Errorf("LinkPending() error = %v, want ErrNotIndexBacked", err)
			}
		})
	}
}

func TestLinkBatcher_CreatesIndexSeededWithDefaults(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	container := h.createContainer(t, "docs", true, true)

	// More pending blobs than one create call may carry.
	n := kis.MaxCreateBatch + 20
	h.attachPending(t, container.ID, n, model.DefaultChunking)

	report, err := h.batcher.LinkPending(ctx, h.client, container)
	if err != nil {
		t.Fatalf("LinkPending() error = %v", err)
	}
	if report.Linked != n || report.Failed != 0 {
		t.Fatalf("report = %d/%d, want %d linked", report.Linked, report.Failed, n)
	}

	// The first MaxCreateBatch ids ride along on the create call; the
	// overflow needs exactly one link call.
	if len(h.client.LinkCalls) != 1 {
		t.Fatalf("link calls = %d, want 1", len(h.client.LinkCalls))
	}
	if got := len(h.client.LinkCalls[0].BlobIDs); got != 20 {
		t.Errorf("linked in overflow call = %d, want 20", got)
	}

	updated, err := h.catalog.GetContainer(ctx, container.ID)
	if err != nil {
		t.Fatalf("GetContainer() error = %v", err)
	}
	if updated.IndexID == "" {
		t.Fatal("IndexID not recorded")
	}

	desc, err := h.client.RetrieveIndex(ctx, updated.IndexID)
	if err != nil {
		t.Fatalf("RetrieveIndex() error = %v", err)
	}
	if desc.BlobCount != n {
		t.Errorf("BlobCount = %d, want %d", desc.BlobCount, n)
	}

	statuses := h.membershipStatuses(t, container.ID)
	if statuses[model.MembershipCompleted] != n {
		t.Errorf("completed = %d, want %d", statuses[model.MembershipCompleted], n)
	}
}

func TestLinkBatcher_CustomStrategyCreatesEmptyIndex(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	container := h.createContainer(t, "docs", true, true)

	custom := model.ChunkingStrategy{ChunkSize: 400, ChunkOverlap: 100}
	h.attachPending(t, container.ID, 3, custom)

	report, err := h.batcher.LinkPending(ctx, h.client, container)
	if err != nil {
		t.Fatalf("LinkPending() error = %v", err)
	}
	if report.Linked != 3 {
		t.Fatalf("linked = %d, want 3", report.Linked)
	}

	// Seeded files would take the provider default strategy, so a custom
	// group creates empty and links everything explicitly.
	if len(h.client.LinkCalls) != 1 {
		t.Fatalf("link calls = %d, want 1", len(h.client.LinkCalls))
	}
	call := h.client.LinkCalls[0]
	if len(call.BlobIDs) != 3 {
		t.Errorf("linked ids = %d, want all 3", len(call.BlobIDs))
	}
	if call.Strategy != custom {
		t.Errorf("Strategy = %+v, want %+v", call.Strategy, custom)
	}
}

func TestLinkBatcher_SplitsLargeBatches(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	container := h.createContainer(t, "docs", true, true)
	indexID := mustCreateIndex(t, h, "docs")
	if err := h.catalog.SetContainerIndex(ctx, container.ID, indexID); err != nil {
		t.Fatalf("SetContainerIndex() error = %v", err)
	}
	container.IndexID = indexID

	n := kis.MaxLinkBatch + 1
	h.attachPending(t, container.ID, n, model.DefaultChunking)

	report, err := h.batcher.LinkPending(ctx, h.client, container)
	if err != nil {
		t.Fatalf("LinkPending() error = %v", err)
	}
	if report.Linked != n {
		t.Fatalf("linked = %d, want %d", report.Linked, n)
	}

	if len(h.client.LinkCalls) != 2 {
		t.Fatalf("link calls = %d, want 2 for %d ids", len(h.client.LinkCalls), n)
	}
	if len(h.client.LinkCalls[0].BlobIDs) != kis.MaxLinkBatch {
		t.Errorf("first call = %d ids, want %d", len(h.client.LinkCalls[0].BlobIDs), kis.MaxLinkBatch)
	}
	if len(h.client.LinkCalls[1].BlobIDs) != 1 {
		t.Errorf("second call = %d ids, want 1", len(h.client.LinkCalls[1].BlobIDs))
	}
}

func TestLinkBatcher_NeverMixesStrategies(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	container := h.createContainer(t, "docs", true, true)

	custom := model.ChunkingStrategy{ChunkSize: 1200, ChunkOverlap: 0}
	h.attachPending(t, container.ID, 4, model.DefaultChunking)
	h.attachPending(t, container.ID, 2, custom)

	report, err := h.batcher.LinkPending(ctx, h.client, container)
	if err != nil {
		t.Fatalf("LinkPending() error = %v", err)
	}
	if report.Linked != 6 {
		t.Fatalf("linked = %d, want 6", report.Linked)
	}

	for _, call := range h.client.LinkCalls {
		if call.Strategy != model.DefaultChunking && call.Strategy != custom {
			t.Errorf("unexpected strategy %+v", call.Strategy)
		}
		switch call.Strategy {
		case model.DefaultChunking:
			// Default-strategy ids were seeded on the create call.
			t.Errorf("default group linked explicitly with %d ids, want seeded", len(call.BlobIDs))
		case custom:
			if len(call.BlobIDs) != 2 {
				t.Errorf("custom group ids = %d, want 2", len(call.BlobIDs))
			}
		}
	}
}

func TestLinkBatcher_UploadFailureIsolatesItem(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	container := h.createContainer(t, "docs", true, true)

	blobs := h.attachPending(t, container.ID, 3, model.DefaultChunking)
	h.client.FailUploads = map[string]error{blobs[1].ID: fmt.Errorf("provider rejected content")}

	report, err := h.batcher.LinkPending(ctx, h.client, container)
	if err != nil {
		t.Fatalf("LinkPending() error = %v", err)
	}
	if report.Linked != 2 || report.Failed != 1 {
		t.Fatalf("report = %d/%d, want 2 linked 1 failed", report.Linked, report.Failed)
	}

	var uploadErr *kis.UploadError
	if !errors.As(report.FirstErr(), &uploadErr) {
		t.Errorf("FirstErr() = %v, want *UploadError", report.FirstErr())
	} else if uploadErr.BlobID != blobs[1].ID {
		t.Errorf("UploadError.BlobID = %v, want %v", uploadErr.BlobID, blobs[1].ID)
	}

	statuses := h.membershipStatuses(t, container.ID)
	if statuses[model.MembershipCompleted] != 2 || statuses[model.MembershipFailed] != 1 {
		t.Errorf("statuses = %v, want 2 completed 1 failed", statuses)
	}
}

func TestLinkBatcher_LinkFailureFailsWholeGroup(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	container := h.createContainer(t, "docs", true, true)
	indexID := mustCreateIndex(t, h, "docs")
	if err := h.catalog.SetContainerIndex(ctx, container.ID, indexID); err != nil {
		t.Fatalf("SetContainerIndex() error = %v", err)
	}
	container.IndexID = indexID

	h.attachPending(t, container.ID, 3, model.DefaultChunking)
	h.client.FailLink = fmt.Errorf("provider unavailable")

	report, err := h.batcher.LinkPending(ctx, h.client, container)
	if err != nil {
		t.Fatalf("LinkPending() error = %v", err)
	}
	if report.Failed != 3 {
		t.Fatalf("failed = %d, want whole group of 3", report.Failed)
	}

	var linkErr *kis.LinkError
	if !errors.As(report.FirstErr(), &linkErr) {
		t.Errorf("FirstErr() = %v, want *LinkError", report.FirstErr())
	}

	statuses := h.membershipStatuses(t, container.ID)
	if statuses[model.MembershipFailed] != 3 {
		t.Errorf("statuses = %v, want 3 failed", statuses)
	}
}

func TestLinkBatcher_SkipsAlreadyUploadedBlobs(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	container := h.createContainer(t, "docs", true, true)
	indexID := mustCreateIndex(t, h, "docs")
	if err := h.catalog.SetContainerIndex(ctx, container.ID, indexID); err != nil {
		t.Fatalf("SetContainerIndex() error = %v", err)
	}
	container.IndexID = indexID

	blob := h.createBlob(t, "a.txt", []byte("alpha"))
	remoteID, err := h.client.UploadBlob(ctx, blob, []byte("alpha"))
	if err != nil {
		t.Fatalf("UploadBlob() error = %v", err)
	}
	if err := h.catalog.SetBlobExternal(ctx, blob.ID, remoteID, h.client.Provider()); err != nil {
		t.Fatalf("SetBlobExternal() error = %v", err)
	}
	h.attach(t, container.ID, blob.ID, model.MembershipPending, model.DefaultChunking)

	// Any upload attempt for this blob would fail; succeeding proves the
	// existing remote id was reused.
	h.client.FailUploads = map[string]error{blob.ID: fmt.Errorf("must not re-upload")}

	report, err := h.batcher.LinkPending(ctx, h.client, container)
	if err != nil {
		t.Fatalf("LinkPending() error = %v", err)
	}
	if report.Linked != 1 || report.Failed != 0 {
		t.Fatalf("report = %d/%d, want 1 linked", report.Linked, report.Failed)
	}
	if !h.client.Linked(indexID, remoteID) {
		t.Error("blob not linked under its existing remote id")
	}
}

func TestLinkBatcher_RetriesTransientLinkFailures(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	container := h.createContainer(t, "docs", true, true)
	indexID := mustCreateIndex(t, h, "docs")
	if err := h.catalog.SetContainerIndex(ctx, container.ID, indexID); err != nil {
		t.Fatalf("SetContainerIndex() error = %v", err)
	}
	container.IndexID = indexID

	h.attachPending(t, container.ID, 2, model.DefaultChunking)
	h.client.LinkFailures = 1

	batcher := kis.NewLinkBatcher(h.catalog, h.store, kis.NewNopLogger(), h.clock, fastRetry)
	report, err := batcher.LinkPending(ctx, h.client, container)
	if err != nil {
		t.Fatalf("LinkPending() error = %v", err)
	}
	if report.Linked != 2 || report.Failed != 0 {
		t.Fatalf("report = %d/%d, want 2 linked after retry", report.Linked, report.Failed)
	}
	if len(h.client.LinkCalls) != 2 {
		t.Errorf("link calls = %d, want 2 (one failed, one retried)", len(h.client.LinkCalls))
	}
}

func TestLinkBatcher_EmptyPendingIsNoop(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	container := h.createContainer(t, "docs", true, true)

	report, err := h.batcher.LinkPending(ctx, h.client, container)
	if err != nil {
		t.Fatalf("LinkPending() error = %v", err)
	}
	if len(report.Items) != 0 {
		t.Errorf("items = %d, want none", len(report.Items))
	}
	if h.client.IndexCount() != 0 {
		t.Error("index created with nothing to link")
	}
}

// mustCreateIndex creates an empty index at the provider and returns its id.
func mustCreateIndex(t *testing.T, h *harness, name string) string {
	t.Helper()

	id, err := h.client.CreateIndex(context.Background(), name, nil)
	if err != nil {
		t.Fatalf("CreateIndex() error = %v", err)
	}
	return id
}
