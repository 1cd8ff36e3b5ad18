package kis

import (
	"context"
	"io"
)

// ObjectStore provides an interface for blob content storage backends.
// Reads and writes stream through io.Reader/io.Writer so large documents
// never have to fit in memory at once.
type ObjectStore interface {
	// Put stores content under the given key, replacing any existing
	// object. size is the number of bytes that will be read from r.
	Put(ctx context.Context, key string, r io.Reader, size int64) error

	// Get retrieves the object under key and writes it to w.
	Get(ctx context.Context, key string, w io.Writer) error

	// Delete removes the object under key. Deleting a missing key is not
	// an error.
	Delete(ctx context.Context, key string) error

	// ValidateSetup verifies that the store is accessible and properly
	// configured.
	ValidateSetup(ctx context.Context) error
}
