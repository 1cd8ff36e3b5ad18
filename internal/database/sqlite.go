package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"kisync/internal/kis"
	"kisync/internal/model"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// SQLiteCatalog implements the kis.Catalog interface using SQLite.
type SQLiteCatalog struct {
	db   *sql.DB
	path string
}

// NewSQLiteCatalog creates a new SQLite catalog connection.
// path can be a file path or ":memory:" for an in-memory database.
func NewSQLiteCatalog(path string) (*SQLiteCatalog, error) {
	db, err := OpenConnection(path)
	if err != nil {
		return nil, err
	}

	return &SQLiteCatalog{db: db, path: path}, nil
}

// NewSQLiteCatalogFromDB wraps an existing database connection.
// The caller is responsible for ensuring the connection is properly
// configured and the schema applied.
func NewSQLiteCatalogFromDB(db *sql.DB) *SQLiteCatalog {
	return &SQLiteCatalog{db: db}
}

// OpenConnection opens and configures a SQLite connection with appropriate
// PRAGMAs. Exported for tools and tests that need a properly configured
// connection. path can be a file path or ":memory:".
func OpenConnection(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Enable foreign key constraints (SQLite default is OFF for backward
	// compatibility).
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	return db, nil
}

// DB exposes the underlying connection for migrations.
func (s *SQLiteCatalog) DB() *sql.DB { return s.db }

// Close closes the database connection.
func (s *SQLiteCatalog) Close() error { return s.db.Close() }

// Container operations

const containerColumns = "id, type, name, is_index, is_remote_index, index_id, generation, created_at"

func (s *SQLiteCatalog) CreateContainer(ctx context.Context, c *model.Container) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO containers ("+containerColumns+") VALUES (?, ?, ?, ?, ?, ?, ?, ?)",
		c.ID, c.Type, c.Name, c.IsIndex, c.IsRemoteIndex, c.IndexID, c.Generation, c.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("inserting container: %w", err)
	}
	return nil
}

func (s *SQLiteCatalog) GetContainer(ctx context.Context, id string) (*model.Container, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT "+containerColumns+" FROM containers WHERE id = ?", id)
	c, err := scanContainer(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("container %s: %w", id, kis.ErrNotFound)
		}
		return nil, fmt.Errorf("finding container: %w", err)
	}
	return c, nil
}

func (s *SQLiteCatalog) ListContainers(ctx context.Context) ([]*model.Container, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+containerColumns+" FROM containers ORDER BY created_at")
	if err != nil {
		return nil, fmt.Errorf("listing containers: %w", err)
	}
	defer rows.Close()

	var containers []*model.Container
	for rows.Next() {
		c, err := scanContainer(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning container: %w", err)
		}
		containers = append(containers, c)
	}
	return containers, rows.Err()
}

// SetContainerIndex records the remote index id. The guard on index_id
// enforces the once-per-generation rule at the database level, so two
// concurrent creations cannot both win.
func (s *SQLiteCatalog) SetContainerIndex(ctx context.Context, containerID, indexID string) error {
	res, err := s.db.ExecContext(ctx,
		"UPDATE containers SET index_id = ? WHERE id = ? AND index_id = ''",
		indexID, containerID)
	if err != nil {
		return fmt.Errorf("setting container index: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("setting container index: %w", err)
	}
	if n == 0 {
		if _, gerr := s.GetContainer(ctx, containerID); gerr != nil {
			return gerr
		}
		return kis.ErrIndexAlreadySet
	}
	return nil
}

func (s *SQLiteCatalog) BumpContainerGeneration(ctx context.Context, containerID string) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		"UPDATE containers SET index_id = '', generation = generation + 1 WHERE id = ?",
		containerID)
	if err != nil {
		return 0, fmt.Errorf("bumping container generation: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("bumping container generation: %w", err)
	}
	if n == 0 {
		return 0, fmt.Errorf("container %s: %w", containerID, kis.ErrNotFound)
	}

	var generation int64
	err = s.db.QueryRowContext(ctx,
		"SELECT generation FROM containers WHERE id = ?", containerID).Scan(&generation)
	if err != nil {
		return 0, fmt.Errorf("reading new generation: %w", err)
	}
	return generation, nil
}

// Blob operations

const blobColumns = "id, name, content_type, content_size, checksum, storage_key, " +
	"external_id, external_source, version_group_id, expires_at, archived, created_at, updated_at"

func (s *SQLiteCatalog) CreateBlob(ctx context.Context, b *model.Blob) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO blobs ("+blobColumns+") VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)",
		b.ID, b.Name, b.ContentType, b.ContentSize, b.Checksum, b.StorageKey,
		b.ExternalID, b.ExternalSource, b.VersionGroupID, nullableTime(b.ExpiresAt),
		b.Archived, b.CreatedAt.UTC(), b.UpdatedAt.UTC())
	if err != nil {
		return fmt.Errorf("inserting blob: %w", err)
	}
	return nil
}

func (s *SQLiteCatalog) GetBlob(ctx context.Context, id string) (*model.Blob, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT "+blobColumns+" FROM blobs WHERE id = ?", id)
	b, err := scanBlob(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("blob %s: %w", id, kis.ErrNotFound)
		}
		return nil, fmt.Errorf("finding blob: %w", err)
	}
	return b, nil
}

func (s *SQLiteCatalog) SetBlobExternal(ctx context.Context, blobID, externalID, externalSource string) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE blobs SET external_id = ?, external_source = ?, updated_at = ? WHERE id = ?",
		externalID, externalSource, time.Now().UTC(), blobID)
	if err != nil {
		return fmt.Errorf("setting blob external id: %w", err)
	}
	return nil
}

func (s *SQLiteCatalog) ClearBlobExternal(ctx context.Context, blobID string) error {
	return s.SetBlobExternal(ctx, blobID, "", "")
}

func (s *SQLiteCatalog) ArchiveBlob(ctx context.Context, blobID string) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE blobs SET archived = 1, external_id = '', external_source = '', updated_at = ? WHERE id = ?",
		time.Now().UTC(), blobID)
	if err != nil {
		return fmt.Errorf("archiving blob: %w", err)
	}
	return nil
}

func (s *SQLiteCatalog) DeleteBlob(ctx context.Context, blobID string) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM blobs WHERE id = ?", blobID)
	if err != nil {
		return fmt.Errorf("deleting blob: %w", err)
	}
	return nil
}

func (s *SQLiteCatalog) ListExpiredBlobs(ctx context.Context, asOf time.Time) ([]*model.Blob, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+blobColumns+" FROM blobs WHERE archived = 0 AND expires_at IS NOT NULL AND expires_at <= ?",
		asOf.UTC())
	if err != nil {
		return nil, fmt.Errorf("listing expired blobs: %w", err)
	}
	defer rows.Close()

	var blobs []*model.Blob
	for rows.Next() {
		b, err := scanBlob(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning blob: %w", err)
		}
		blobs = append(blobs, b)
	}
	return blobs, rows.Err()
}

func (s *SQLiteCatalog) ListOrphanBlobs(ctx context.Context) ([]*model.Blob, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+blobColumns+" FROM blobs WHERE archived = 0 "+
			"AND id NOT IN (SELECT blob_id FROM memberships)")
	if err != nil {
		return nil, fmt.Errorf("listing orphan blobs: %w", err)
	}
	defer rows.Close()

	var blobs []*model.Blob
	for rows.Next() {
		b, err := scanBlob(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning blob: %w", err)
		}
		blobs = append(blobs, b)
	}
	return blobs, rows.Err()
}

// Membership operations

const membershipColumns = "id, container_id, blob_id, doc_identifier, fingerprint, " +
	"status, error_msg, chunk_size, chunk_overlap, created_at, updated_at"

func (s *SQLiteCatalog) CreateMembership(ctx context.Context, m *model.Membership) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO memberships ("+membershipColumns+") VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)",
		m.ID, m.ContainerID, m.BlobID, m.DocIdentifier, m.Fingerprint,
		m.Status, m.ErrorMsg, m.Chunking.ChunkSize, m.Chunking.ChunkOverlap,
		m.CreatedAt.UTC(), m.UpdatedAt.UTC())
	if err != nil {
		return fmt.Errorf("inserting membership: %w", err)
	}
	return nil
}

func (s *SQLiteCatalog) ListMemberships(ctx context.Context, containerID string) ([]*model.Membership, error) {
	return s.queryMemberships(ctx,
		"SELECT "+membershipColumns+" FROM memberships WHERE container_id = ? ORDER BY created_at",
		containerID)
}

func (s *SQLiteCatalog) MembershipsByStatus(ctx context.Context, containerID string, statuses ...model.MembershipStatus) ([]*model.Membership, error) {
	if len(statuses) == 0 {
		return nil, nil
	}
	args := []any{containerID}
	for _, st := range statuses {
		args = append(args, st)
	}
	return s.queryMemberships(ctx,
		"SELECT "+membershipColumns+" FROM memberships WHERE container_id = ? AND status IN ("+
			placeholders(len(statuses))+") ORDER BY created_at",
		args...)
}

func (s *SQLiteCatalog) MembershipsForBlob(ctx context.Context, blobID string) ([]*model.Membership, error) {
	return s.queryMemberships(ctx,
		"SELECT "+membershipColumns+" FROM memberships WHERE blob_id = ? ORDER BY created_at",
		blobID)
}

func (s *SQLiteCatalog) queryMemberships(ctx context.Context, query string, args ...any) ([]*model.Membership, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying memberships: %w", err)
	}
	defer rows.Close()

	var memberships []*model.Membership
	for rows.Next() {
		m, err := scanMembership(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning membership: %w", err)
		}
		memberships = append(memberships, m)
	}
	return memberships, rows.Err()
}

func (s *SQLiteCatalog) SetMembershipStatus(ctx context.Context, membershipID string, status model.MembershipStatus, errMsg string) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE memberships SET status = ?, error_msg = ?, updated_at = ? WHERE id = ?",
		status, errMsg, time.Now().UTC(), membershipID)
	if err != nil {
		return fmt.Errorf("updating membership status: %w", err)
	}
	return nil
}

func (s *SQLiteCatalog) SetMembershipsStatus(ctx context.Context, membershipIDs []string, status model.MembershipStatus, errMsg string) error {
	if len(membershipIDs) == 0 {
		return nil
	}
	args := []any{status, errMsg, time.Now().UTC()}
	for _, id := range membershipIDs {
		args = append(args, id)
	}
	_, err := s.db.ExecContext(ctx,
		"UPDATE memberships SET status = ?, error_msg = ?, updated_at = ? WHERE id IN ("+
			placeholders(len(membershipIDs))+")",
		args...)
	if err != nil {
		return fmt.Errorf("updating membership statuses: %w", err)
	}
	return nil
}

func (s *SQLiteCatalog) DeleteMembership(ctx context.Context, membershipID string) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM memberships WHERE id = ?", membershipID)
	if err != nil {
		return fmt.Errorf("deleting membership: %w", err)
	}
	return nil
}

// CountOwnersExcluding answers the reference-counting question for a whole
// batch with one query, so bulk removals do not degrade to a query per blob.
func (s *SQLiteCatalog) CountOwnersExcluding(ctx context.Context, blobIDs []string, excludeContainerID string) (map[string]int, error) {
	counts := make(map[string]int)
	if len(blobIDs) == 0 {
		return counts, nil
	}

	args := make([]any, 0, len(blobIDs)+1)
	for _, id := range blobIDs {
		args = append(args, id)
	}
	args = append(args, excludeContainerID)

	rows, err := s.db.QueryContext(ctx,
		"SELECT blob_id, COUNT(*) FROM memberships WHERE blob_id IN ("+
			placeholders(len(blobIDs))+") AND container_id != ? GROUP BY blob_id",
		args...)
	if err != nil {
		return nil, fmt.Errorf("counting blob owners: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var blobID string
		var count int
		if err := rows.Scan(&blobID, &count); err != nil {
			return nil, fmt.Errorf("scanning owner count: %w", err)
		}
		counts[blobID] = count
	}
	return counts, rows.Err()
}

// ApplyDiff applies one reconciliation diff atomically. Adds, updates and
// removes either all commit together or none do.
func (s *SQLiteCatalog) ApplyDiff(ctx context.Context, p kis.ApplyDiffParams) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()

	for _, add := range p.Adds {
		b, m := add.Blob, add.Membership
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO blobs ("+blobColumns+") VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)",
			b.ID, b.Name, b.ContentType, b.ContentSize, b.Checksum, b.StorageKey,
			b.ExternalID, b.ExternalSource, b.VersionGroupID, nullableTime(b.ExpiresAt),
			b.Archived, b.CreatedAt.UTC(), b.UpdatedAt.UTC()); err != nil {
			return fmt.Errorf("inserting blob %s: %w", b.ID, err)
		}
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO memberships ("+membershipColumns+") VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)",
			m.ID, m.ContainerID, m.BlobID, m.DocIdentifier, m.Fingerprint,
			m.Status, m.ErrorMsg, m.Chunking.ChunkSize, m.Chunking.ChunkOverlap,
			m.CreatedAt.UTC(), m.UpdatedAt.UTC()); err != nil {
			return fmt.Errorf("inserting membership %s: %w", m.ID, err)
		}
	}

	for _, u := range p.Updates {
		// Content changed: the old remote identity is invalid from here on.
		if _, err := tx.ExecContext(ctx,
			"UPDATE blobs SET content_type = ?, content_size = ?, checksum = ?, storage_key = ?, "+
				"external_id = '', external_source = '', updated_at = ? WHERE id = ?",
			u.ContentType, u.ContentSize, u.Checksum, u.StorageKey, now, u.BlobID); err != nil {
			return fmt.Errorf("updating blob %s: %w", u.BlobID, err)
		}
		// Other containers sharing the blob lost that identity too: their
		// completed edges drop back to pending for their next link pass.
		if _, err := tx.ExecContext(ctx,
			"UPDATE memberships SET status = ?, error_msg = '', updated_at = ? "+
				"WHERE blob_id = ? AND id != ? AND status = ?",
			model.MembershipPending, now, u.BlobID, u.MembershipID, model.MembershipCompleted); err != nil {
			return fmt.Errorf("resetting shared memberships for blob %s: %w", u.BlobID, err)
		}
		if u.ResetStatus {
			if _, err := tx.ExecContext(ctx,
				"UPDATE memberships SET fingerprint = ?, status = ?, error_msg = '', updated_at = ? WHERE id = ?",
				u.Fingerprint, model.MembershipPending, now, u.MembershipID); err != nil {
				return fmt.Errorf("updating membership %s: %w", u.MembershipID, err)
			}
		} else {
			if _, err := tx.ExecContext(ctx,
				"UPDATE memberships SET fingerprint = ?, updated_at = ? WHERE id = ?",
				u.Fingerprint, now, u.MembershipID); err != nil {
				return fmt.Errorf("updating membership %s: %w", u.MembershipID, err)
			}
		}
	}

	if len(p.RemoveMembershipIDs) > 0 {
		args := make([]any, len(p.RemoveMembershipIDs))
		for i, id := range p.RemoveMembershipIDs {
			args[i] = id
		}
		if _, err := tx.ExecContext(ctx,
			"DELETE FROM memberships WHERE id IN ("+placeholders(len(args))+")",
			args...); err != nil {
			return fmt.Errorf("deleting memberships: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

// Source operations

const sourceColumns = "id, container_id, type, name, config, auto_sync, last_sync, created_at"

func (s *SQLiteCatalog) CreateSource(ctx context.Context, src *model.Source) error {
	config, err := json.Marshal(src.Config)
	if err != nil {
		return fmt.Errorf("encoding source config: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		"INSERT INTO sources ("+sourceColumns+") VALUES (?, ?, ?, ?, ?, ?, ?, ?)",
		src.ID, src.ContainerID, src.Type, src.Name, string(config),
		src.AutoSync, nullableTime(src.LastSync), src.CreatedAt.UTC())
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed: sources.container_id") {
			return kis.ErrSourceExists
		}
		return fmt.Errorf("inserting source: %w", err)
	}
	return nil
}

func (s *SQLiteCatalog) GetSource(ctx context.Context, id string) (*model.Source, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT "+sourceColumns+" FROM sources WHERE id = ?", id)
	src, err := scanSource(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("source %s: %w", id, kis.ErrNotFound)
		}
		return nil, fmt.Errorf("finding source: %w", err)
	}
	return src, nil
}

func (s *SQLiteCatalog) GetSourceByContainer(ctx context.Context, containerID string) (*model.Source, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT "+sourceColumns+" FROM sources WHERE container_id = ?", containerID)
	src, err := scanSource(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("source for container %s: %w", containerID, kis.ErrNotFound)
		}
		return nil, fmt.Errorf("finding source: %w", err)
	}
	return src, nil
}

func (s *SQLiteCatalog) ListSources(ctx context.Context) ([]*model.Source, error) {
	return s.querySources(ctx,
		"SELECT "+sourceColumns+" FROM sources ORDER BY created_at")
}

func (s *SQLiteCatalog) ListAutoSyncSources(ctx context.Context) ([]*model.Source, error) {
	return s.querySources(ctx,
		"SELECT s.id, s.container_id, s.type, s.name, s.config, s.auto_sync, s.last_sync, s.created_at "+
			"FROM sources s JOIN containers c ON c.id = s.container_id "+
			"WHERE s.auto_sync = 1 AND c.is_index = 1 ORDER BY s.created_at")
}

func (s *SQLiteCatalog) querySources(ctx context.Context, query string, args ...any) ([]*model.Source, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying sources: %w", err)
	}
	defer rows.Close()

	var sources []*model.Source
	for rows.Next() {
		src, err := scanSource(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning source: %w", err)
		}
		sources = append(sources, src)
	}
	return sources, rows.Err()
}

func (s *SQLiteCatalog) TouchSourceSync(ctx context.Context, sourceID string, at time.Time) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE sources SET last_sync = ? WHERE id = ?", at.UTC(), sourceID)
	if err != nil {
		return fmt.Errorf("updating last sync: %w", err)
	}
	return nil
}

// Sync run operations

const runColumns = "id, source_id, status, files_added, files_updated, files_removed, " +
	"duration_seconds, error_message, started_at, finished_at"

func (s *SQLiteCatalog) CreateSyncRun(ctx context.Context, r *model.SyncRun) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO sync_runs ("+runColumns+") VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)",
		r.ID, r.SourceID, r.Status, r.FilesAdded, r.FilesUpdated, r.FilesRemoved,
		r.DurationSeconds, r.ErrorMessage, r.StartedAt.UTC(), nullableTime(r.FinishedAt))
	if err != nil {
		return fmt.Errorf("inserting sync run: %w", err)
	}
	return nil
}

// FinishSyncRun finalizes a run record. The WHERE guard means a run can
// only be finalized while still in progress; finished runs stay immutable.
func (s *SQLiteCatalog) FinishSyncRun(ctx context.Context, r *model.SyncRun) error {
	res, err := s.db.ExecContext(ctx,
		"UPDATE sync_runs SET status = ?, files_added = ?, files_updated = ?, files_removed = ?, "+
			"duration_seconds = ?, error_message = ?, finished_at = ? WHERE id = ? AND status = ?",
		r.Status, r.FilesAdded, r.FilesUpdated, r.FilesRemoved,
		r.DurationSeconds, r.ErrorMessage, nullableTime(r.FinishedAt), r.ID, model.RunInProgress)
	if err != nil {
		return fmt.Errorf("finalizing sync run: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("finalizing sync run: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("sync run %s is not in progress", r.ID)
	}
	return nil
}

func (s *SQLiteCatalog) ListSyncRuns(ctx context.Context, sourceID string, limit int) ([]*model.SyncRun, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+runColumns+" FROM sync_runs WHERE source_id = ? ORDER BY started_at DESC LIMIT ?",
		sourceID, limit)
	if err != nil {
		return nil, fmt.Errorf("listing sync runs: %w", err)
	}
	defer rows.Close()

	var runs []*model.SyncRun
	for rows.Next() {
		r, err := scanSyncRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning sync run: %w", err)
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// Scan helpers

type scanner interface {
	Scan(dest ...any) error
}

func scanContainer(row scanner) (*model.Container, error) {
	var c model.Container
	err := row.Scan(&c.ID, &c.Type, &c.Name, &c.IsIndex, &c.IsRemoteIndex,
		&c.IndexID, &c.Generation, &c.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func scanBlob(row scanner) (*model.Blob, error) {
	var b model.Blob
	var expires sql.NullTime
	err := row.Scan(&b.ID, &b.Name, &b.ContentType, &b.ContentSize, &b.Checksum,
		&b.StorageKey, &b.ExternalID, &b.ExternalSource, &b.VersionGroupID,
		&expires, &b.Archived, &b.CreatedAt, &b.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if expires.Valid {
		t := expires.Time
		b.ExpiresAt = &t
	}
	return &b, nil
}

func scanMembership(row scanner) (*model.Membership, error) {
	var m model.Membership
	err := row.Scan(&m.ID, &m.ContainerID, &m.BlobID, &m.DocIdentifier, &m.Fingerprint,
		&m.Status, &m.ErrorMsg, &m.Chunking.ChunkSize, &m.Chunking.ChunkOverlap,
		&m.CreatedAt, &m.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func scanSource(row scanner) (*model.Source, error) {
	var src model.Source
	var config string
	var lastSync sql.NullTime
	err := row.Scan(&src.ID, &src.ContainerID, &src.Type, &src.Name, &config,
		&src.AutoSync, &lastSync, &src.CreatedAt)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(config), &src.Config); err != nil {
		return nil, fmt.Errorf("decoding source config: %w", err)
	}
	if lastSync.Valid {
		t := lastSync.Time
		src.LastSync = &t
	}
	return &src, nil
}

func scanSyncRun(row scanner) (*model.SyncRun, error) {
	var r model.SyncRun
	var finished sql.NullTime
	err := row.Scan(&r.ID, &r.SourceID, &r.Status, &r.FilesAdded, &r.FilesUpdated,
		&r.FilesRemoved, &r.DurationSeconds, &r.ErrorMessage, &r.StartedAt, &finished)
	if err != nil {
		return nil, err
	}
	if finished.Valid {
		t := finished.Time
		r.FinishedAt = &t
	}
	return &r, nil
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

func nullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC()
}

// Compile-time check that SQLiteCatalog implements kis.Catalog.
var _ kis.Catalog = (*SQLiteCatalog)(nil)
