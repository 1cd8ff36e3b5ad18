package kis

import (
	"errors"
	"fmt"
)

// Common errors returned by engine operations.
//
// These can be checked with errors.Is():
//
//	if errors.Is(err, kis.ErrSyncInProgress) {
//	    // another run holds the per-source lock
//	}
var (
	// ErrNotFound is returned when a catalog record does not exist.
	ErrNotFound = errors.New("record not found")

	// ErrSyncInProgress is returned when a sync is requested for a source
	// that already has a run holding the advisory lock.
	ErrSyncInProgress = errors.New("sync already running for this source")

	// ErrNotIndexBacked is returned when an index operation is requested
	// for a container that is not backed by a remote index.
	ErrNotIndexBacked = errors.New("container is not backed by a remote index")

	// ErrIndexAlreadySet is returned when attempting to set an index id on
	// a container generation that already has one.
	ErrIndexAlreadySet = errors.New("index id already set for this container generation")

	// ErrSourceExists is returned when attaching a second source to a
	// container. Each container has at most one source.
	ErrSourceExists = errors.New("container already has a source")

	// ErrBatchTooLarge is returned by index clients when a single call
	// exceeds the provider batch ceiling.
	ErrBatchTooLarge = errors.New("batch exceeds provider ceiling")
)

// ConfigError reports an invalid source configuration. It is raised before
// any network call and is never retried.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("invalid source config: %s: %s", e.Field, e.Reason)
}

// FetchError reports that an external source was unreachable or returned a
// bad response. The run is marked failed and retried on the next schedule.
type FetchError struct {
	Source string
	Err    error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetching from %s: %v", e.Source, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// UploadError reports a failed remote blob upload. Only the affected
// membership is marked failed; the rest of the batch continues.
type UploadError struct {
	BlobID string
	Err    error
}

func (e *UploadError) Error() string {
	return fmt.Sprintf("uploading blob %s: %v", e.BlobID, e.Err)
}

func (e *UploadError) Unwrap() error { return e.Err }

// LinkError reports a failed batch-link call. All memberships in the
// affected chunking-strategy group are marked failed; groups that already
// completed are unaffected.
type LinkError struct {
	IndexID string
	Count   int
	Err     error
}

func (e *LinkError) Error() string {
	return fmt.Sprintf("linking %d blobs to index %s: %v", e.Count, e.IndexID, e.Err)
}

func (e *LinkError) Unwrap() error { return e.Err }

// MigrationError reports a failed index migration. It is only ever raised
// before the cleanup step runs, so the old index is always preserved.
type MigrationError struct {
	ContainerID string
	Err         error
}

func (e *MigrationError) Error() string {
	return fmt.Sprintf("migrating container %s: %v", e.ContainerID, e.Err)
}

func (e *MigrationError) Unwrap() error { return e.Err }
