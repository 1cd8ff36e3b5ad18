package index

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"kisync/internal/kis"
	"kisync/internal/model"
)

// nextIndexID numbers indexes across all MemoryIndexClient instances, so
// ids minted by different clients never collide — mirroring real
// providers, whose ids are globally unique.
var nextIndexID atomic.Int64

// LinkCall records one LinkBlobs invocation against a MemoryIndexClient.
type LinkCall struct {
	IndexID  string
	BlobIDs  []string
	Strategy model.ChunkingStrategy
}

// MemoryIndexClient is an in-memory implementation of the
// RemoteIndexClient interface. It enforces the same batch ceilings as a
// real provider and records every link call, making it useful for
// testing batching behavior. Safe for concurrent use.
type MemoryIndexClient struct {
	mu        sync.Mutex
	indexes   map[string]map[string]bool // index id -> set of linked remote ids
	names     map[string]string          // index id -> name
	uploads   map[string][]byte          // remote id -> content
	LinkCalls []LinkCall

	// Failure injection for tests. Zero values mean no failures.
	FailUploads  map[string]error // blob id -> error to return
	FailLink     error            // returned by every LinkBlobs call
	FailCreate   error            // returned by every CreateIndex call
	LinkFailures int              // fail this many LinkBlobs calls, then succeed
}

// NewMemoryIndexClient creates a new in-memory index provider.
func NewMemoryIndexClient() *MemoryIndexClient {
	return &MemoryIndexClient{
		indexes: make(map[string]map[string]bool),
		names:   make(map[string]string),
		uploads: make(map[string][]byte),
	}
}

// Provider returns the provider reference recorded on uploaded blobs.
func (m *MemoryIndexClient) Provider() string { return "memory" }

func (m *MemoryIndexClient) CreateIndex(ctx context.Context, name string, blobIDs []string) (string, error) {
	if len(blobIDs) > kis.MaxCreateBatch {
		return "", fmt.Errorf("%d initial blobs: %w", len(blobIDs), kis.ErrBatchTooLarge)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.FailCreate != nil {
		return "", m.FailCreate
	}

	id := fmt.Sprintf("idx-%d", nextIndexID.Add(1))
	linked := make(map[string]bool, len(blobIDs))
	for _, blobID := range blobIDs {
		if _, ok := m.uploads[blobID]; !ok {
			return "", fmt.Errorf("blob %s not uploaded", blobID)
		}
		linked[blobID] = true
	}
	m.indexes[id] = linked
	m.names[id] = name
	return id, nil
}

func (m *MemoryIndexClient) RetrieveIndex(ctx context.Context, indexID string) (*kis.IndexDescriptor, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	linked, ok := m.indexes[indexID]
	if !ok {
		return nil, fmt.Errorf("index %s: %w", indexID, kis.ErrNotFound)
	}
	return &kis.IndexDescriptor{ID: indexID, Name: m.names[indexID], BlobCount: len(linked)}, nil
}

func (m *MemoryIndexClient) DeleteIndex(ctx context.Context, indexID string, failSilently bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.indexes[indexID]; !ok {
		if failSilently {
			return nil
		}
		return fmt.Errorf("index %s: %w", indexID, kis.ErrNotFound)
	}
	delete(m.indexes, indexID)
	delete(m.names, indexID)
	return nil
}

func (m *MemoryIndexClient) LinkBlobs(ctx context.Context, indexID string, blobIDs []string, strategy model.ChunkingStrategy) error {
	if len(blobIDs) > kis.MaxLinkBatch {
		return fmt.Errorf("%d blobs in one call: %w", len(blobIDs), kis.ErrBatchTooLarge)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.LinkCalls = append(m.LinkCalls, LinkCall{
		IndexID:  indexID,
		BlobIDs:  append([]string(nil), blobIDs...),
		Strategy: strategy,
	})

	if m.FailLink != nil {
		return m.FailLink
	}
	if m.LinkFailures > 0 {
		m.LinkFailures--
		return fmt.Errorf("transient link failure")
	}

	linked, ok := m.indexes[indexID]
	if !ok {
		return fmt.Errorf("index %s: %w", indexID, kis.ErrNotFound)
	}
	for _, remoteID := range blobIDs {
		if _, ok := m.uploads[remoteID]; !ok {
			return fmt.Errorf("blob %s not uploaded", remoteID)
		}
		linked[remoteID] = true
	}
	return nil
}

func (m *MemoryIndexClient) UploadBlob(ctx context.Context, blob *model.Blob, content []byte) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err, ok := m.FailUploads[blob.ID]; ok {
		return "", err
	}

	remoteID := "rem-" + blob.ID
	m.uploads[remoteID] = append([]byte(nil), content...)
	return remoteID, nil
}

func (m *MemoryIndexClient) DeleteBlob(ctx context.Context, remoteID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.uploads, remoteID)
	for _, linked := range m.indexes {
		delete(linked, remoteID)
	}
	return nil
}

func (m *MemoryIndexClient) DeleteIndexEntry(ctx context.Context, indexID, remoteID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	linked, ok := m.indexes[indexID]
	if !ok {
		return fmt.Errorf("index %s: %w", indexID, kis.ErrNotFound)
	}
	delete(linked, remoteID)
	return nil
}

// Linked reports whether remoteID is linked to indexID. Useful in tests.
func (m *MemoryIndexClient) Linked(indexID, remoteID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.indexes[indexID][remoteID]
}

// Uploaded reports whether remoteID exists at the provider. Useful in tests.
func (m *MemoryIndexClient) Uploaded(remoteID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.uploads[remoteID]
	return ok
}

// IndexCount returns the number of live indexes. Useful in tests.
func (m *MemoryIndexClient) IndexCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.indexes)
}

// Compile-time check that MemoryIndexClient implements kis.RemoteIndexClient
var _ kis.RemoteIndexClient = (*MemoryIndexClient)(nil)
