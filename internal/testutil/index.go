package testutil

import (
	"kisync/internal/index"
)

// NewTestIndexClient creates a new in-memory index client for testing.
func NewTestIndexClient() *index.MemoryIndexClient {
	return index.NewMemoryIndexClient()
}
