package model

import "time"

// ContainerType tags the kind of entity that owns blobs. The set is closed:
// ownership edges always name one of these, never an open-ended type.
type ContainerType string

const (
	ContainerCollection ContainerType = "collection"
	ContainerAssistant  ContainerType = "assistant"
)

// MembershipStatus is the upload/link state machine for a blob's membership
// in a container: pending -> in_progress -> completed | failed.
type MembershipStatus string

const (
	MembershipPending    MembershipStatus = "pending"
	MembershipInProgress MembershipStatus = "in_progress"
	MembershipCompleted  MembershipStatus = "completed"
	MembershipFailed     MembershipStatus = "failed"
)

// RunStatus is the lifecycle of a sync run audit record.
type RunStatus string

const (
	RunInProgress RunStatus = "in_progress"
	RunSuccess    RunStatus = "success"
	RunFailed     RunStatus = "failed"
)

// SourceType identifies the loader used for a document source.
type SourceType string

const (
	SourceRepository SourceType = "repository"
	SourceWiki       SourceType = "wiki"
)

// ChunkingStrategy controls how a blob's content is split before indexing.
// The remote provider applies it per link batch, not per file.
type ChunkingStrategy struct {
	ChunkSize    int `json:"chunk_size"`
	ChunkOverlap int `json:"chunk_overlap"`
}

// DefaultChunking is used when a membership carries no explicit strategy.
var DefaultChunking = ChunkingStrategy{ChunkSize: 800, ChunkOverlap: 400}

// Blob is a local content record, independent of any index. The content
// itself lives in the object store under StorageKey; ExternalID holds the
// blob's identity at the remote provider and is empty until uploaded.
type Blob struct {
	ID             string
	Name           string
	ContentType    string
	ContentSize    int64
	Checksum       string // SHA-256 of the content
	StorageKey     string // Object store key
	ExternalID     string // Remote provider identity, cleared on content change
	ExternalSource string // Which provider ExternalID belongs to
	VersionGroupID string // Non-empty when the blob is retained in a version chain
	ExpiresAt      *time.Time
	Archived       bool
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Container is an entity that owns a set of blobs, optionally backed by a
// remote search index. IndexID is set at most once per generation;
// re-indexing bumps Generation rather than mutating the id in place.
type Container struct {
	ID            string
	Type          ContainerType
	Name          string
	IsIndex       bool   // Backed by a search index at all
	IsRemoteIndex bool   // Hosted at the remote provider (vs. locally embedded)
	IndexID       string // Remote index id, empty until created
	Generation    int64
	CreatedAt     time.Time
}

// Membership joins one blob to one container. DocIdentifier and Fingerprint
// are set for loader-managed memberships and empty for manual attachments;
// DocIdentifier is the stable join key against source snapshots.
type Membership struct {
	ID            string
	ContainerID   string
	BlobID        string
	DocIdentifier string
	Fingerprint   string
	Status        MembershipStatus
	ErrorMsg      string
	Chunking      ChunkingStrategy
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// SourceConfig is the loader configuration for a document source.
// Repository sources use RepoURL/Branch/FilePatterns/PathFilter; wiki
// sources use BaseURL plus exactly one of SpaceKey, Label, Query, PageIDs.
type SourceConfig struct {
	// Repository
	RepoURL      string   `json:"repo_url,omitempty"`
	Branch       string   `json:"branch,omitempty"`
	FilePatterns []string `json:"file_patterns,omitempty"`
	PathFilter   string   `json:"path_filter,omitempty"`

	// Wiki
	BaseURL  string   `json:"base_url,omitempty"`
	SpaceKey string   `json:"space_key,omitempty"`
	Label    string   `json:"label,omitempty"`
	Query    string   `json:"query,omitempty"`
	PageIDs  []string `json:"page_ids,omitempty"`
	MaxPages int      `json:"max_pages,omitempty"`
}

// Source is a document source attached to exactly one container.
type Source struct {
	ID          string
	ContainerID string
	Type        SourceType
	Name        string
	Config      SourceConfig
	AutoSync    bool
	LastSync    *time.Time
	CreatedAt   time.Time
}

// SyncRun is the audit record for one sync attempt. It is created when the
// run starts and finalized exactly once when it ends.
type SyncRun struct {
	ID              string
	SourceID        string
	Status          RunStatus
	FilesAdded      int
	FilesUpdated    int
	FilesRemoved    int
	DurationSeconds float64
	ErrorMessage    string
	StartedAt       time.Time
	FinishedAt      *time.Time
}
