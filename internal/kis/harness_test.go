package kis_test

import (
	"bytes"
	"context"
	"fmt"
	"testing"
	"time"

	"kisync/internal/database"
	"kisync/internal/index"
	"kisync/internal/kis"
	"kisync/internal/lock"
	"kisync/internal/model"
	"kisync/internal/objectstore"
	"kisync/internal/testutil"
)

// noRetry runs every operation exactly once.
var noRetry = kis.RetryPolicy{MaxAttempts: 1}

// fastRetry retries without meaningful delay.
var fastRetry = kis.RetryPolicy{MaxAttempts: 3, InitialInterval: time.Nanosecond, Multiplier: 1}

// harness wires the engine against in-memory implementations of every port.
type harness struct {
	catalog    kis.Catalog
	sqlite     *database.SQLiteCatalog
	store      *objectstore.MemoryStore
	client     *index.MemoryIndexClient
	locker     *lock.LocalLocker
	clock      *testutil.StubClock
	idgen      *testutil.StubIDGenerator
	files      *kis.FileStore
	reconciler *kis.Reconciler
	batcher    *kis.LinkBatcher
	migrator   *kis.Migrator
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	sqlite := testutil.NewTestCatalog(t)
	h := &harness{
		catalog: sqlite,
		sqlite:  sqlite,
		store:   testutil.NewTestStore(),
		client:  testutil.NewTestIndexClient(),
		locker:  lock.NewLocalLocker(),
		clock:   testutil.FixedClock(),
		idgen:   testutil.NewStubIDGenerator(),
	}
	logger := kis.NewNopLogger()
	h.files = kis.NewFileStore(h.catalog, h.store, h.client, logger, h.clock, h.idgen)
	h.reconciler = kis.NewReconciler(h.catalog, h.store, h.files, logger, h.clock, h.idgen)
	h.batcher = kis.NewLinkBatcher(h.catalog, h.store, logger, h.clock, noRetry)
	h.migrator = kis.NewMigrator(h.catalog, h.batcher, logger, h.clock)
	return h
}

// orchestrator builds an Orchestrator over the harness with the given
// loader factory.
func (h *harness) orchestrator(loaders kis.LoaderFactory) *kis.Orchestrator {
	return kis.NewOrchestrator(h.catalog, loaders, h.reconciler, h.batcher,
		h.client, h.locker, kis.NewNopLogger(), h.clock, h.idgen)
}

func (h *harness) createContainer(t *testing.T, name string, isIndex, isRemote bool) *model.Container {
	t.Helper()

	c := &model.Container{
		ID:            h.idgen.New(),
		Type:          model.ContainerCollection,
		Name:          name,
		IsIndex:       isIndex,
		IsRemoteIndex: isRemote,
		Generation:    1,
		CreatedAt:     h.clock.Now(),
	}
	if err := h.catalog.CreateContainer(context.Background(), c); err != nil {
		t.Fatalf("CreateContainer() error = %v", err)
	}
	return c
}

func (h *harness) createSource(t *testing.T, containerID string) *model.Source {
	t.Helper()

	s := &model.Source{
		ID:          h.idgen.New(),
		ContainerID: containerID,
		Type:        model.SourceRepository,
		Name:        "source",
		Config:      model.SourceConfig{RepoURL: "https://example.com/repo.git"},
		AutoSync:    true,
		CreatedAt:   h.clock.Now(),
	}
	if err := h.catalog.CreateSource(context.Background(), s); err != nil {
		t.Fatalf("CreateSource() error = %v", err)
	}
	return s
}

// createBlob stores content and creates the blob record.
func (h *harness) createBlob(t *testing.T, name string, content []byte) *model.Blob {
	t.Helper()

	now := h.clock.Now()
	b := &model.Blob{
		ID:          h.idgen.New(),
		Name:        name,
		ContentType: "text/plain",
		ContentSize: int64(len(content)),
		Checksum:    testutil.SHA256Hex(content),
		StorageKey:  "blobs/" + name,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	ctx := context.Background()
	if err := h.store.Put(ctx, b.StorageKey, bytes.NewReader(content), b.ContentSize); err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	if err := h.catalog.CreateBlob(ctx, b); err != nil {
		t.Fatalf("CreateBlob() error = %v", err)
	}
	return b
}

func (h *harness) attach(t *testing.T, containerID, blobID string, status model.MembershipStatus, chunking model.ChunkingStrategy) *model.Membership {
	t.Helper()

	now := h.clock.Now()
	m := &model.Membership{
		ID:          h.idgen.New(),
		ContainerID: containerID,
		BlobID:      blobID,
		Status:      status,
		Chunking:    chunking,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := h.catalog.CreateMembership(context.Background(), m); err != nil {
		t.Fatalf("CreateMembership() error = %v", err)
	}
	return m
}

// attachPending creates n pending memberships with stored content.
func (h *harness) attachPending(t *testing.T, containerID string, n int, chunking model.ChunkingStrategy) []*model.Blob {
	t.Helper()

	blobs := make([]*model.Blob, n)
	for i := 0; i < n; i++ {
		b := h.createBlob(t, fmt.Sprintf("file-%d.txt", i), fmt.Appendf(nil, "content %d", i))
		h.attach(t, containerID, b.ID, model.MembershipPending, chunking)
		blobs[i] = b
	}
	return blobs
}

func (h *harness) membershipStatuses(t *testing.T, containerID string) map[model.MembershipStatus]int {
	t.Helper()

	memberships, err := h.catalog.ListMemberships(context.Background(), containerID)
	if err != nil {
		t.Fatalf("ListMemberships() error = %v", err)
	}
	counts := make(map[model.MembershipStatus]int)
	for _, m := range memberships {
		counts[m.Status]++
	}
	return counts
}

// expireBlob backdates or forward-dates a blob's expiry.
func (h *harness) expireBlob(t *testing.T, blobID string, at time.Time) {
	t.Helper()

	if _, err := h.sqlite.DB().Exec("UPDATE blobs SET expires_at = ? WHERE id = ?", at.UTC(), blobID); err != nil {
		t.Fatalf("setting expiry: %v", err)
	}
}

// stubIterator yields an in-memory snapshot.
type stubIterator struct {
	docs []*kis.Document
	pos  int
	err  error
}

func (it *stubIterator) Next(ctx context.Context) (*kis.Document, error) {
	if it.err != nil {
		return nil, it.err
	}
	if it.pos >= len(it.docs) {
		return nil, nil
	}
	doc := it.docs[it.pos]
	it.pos++
	return doc, nil
}

func (it *stubIterator) Close() error { return nil }

// stubLoader serves a fixed snapshot, or fails at a chosen phase.
type stubLoader struct {
	docs        []*kis.Document
	validateErr error
	loadErr     error
}

func (l *stubLoader) Validate() error { return l.validateErr }

func (l *stubLoader) Load(ctx context.Context) (kis.DocumentIterator, error) {
	if l.loadErr != nil {
		return nil, l.loadErr
	}
	return &stubIterator{docs: l.docs}, nil
}

func doc(identifier, fingerprint, content string) *kis.Document {
	return &kis.Document{
		Identifier:  identifier,
		Name:        identifier,
		ContentType: "text/plain",
		Fingerprint: fingerprint,
		Content:     []byte(content),
	}
}
