package app

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"kisync/internal/config"
	"kisync/internal/database"
	"kisync/internal/encryption"
	"kisync/internal/index"
	"kisync/internal/kis"
	"kisync/internal/loader"
	"kisync/internal/lock"
	"kisync/internal/model"
	"kisync/internal/objectstore"
)

// App is the application layer between the CLI and the sync engine. It
// constructs all dependencies from config, exposes the high-level
// operations the commands call, and manages resource lifecycles on Close.
type App struct {
	cfg          *config.Config
	catalog      kis.Catalog
	store        kis.ObjectStore
	encStore     *objectstore.EncryptedStore // nil when encryption is off
	encryptor    kis.Encryptor               // nil when encryption is off
	client       kis.RemoteIndexClient
	locker       kis.SourceLocker
	files        *kis.FileStore
	batcher      *kis.LinkBatcher
	migrator     *kis.Migrator
	orchestrator *kis.Orchestrator
	logger       kis.Logger
	logFile      *os.File
}

// NewApp creates a fully wired App from the given config. runID tags
// every log line of this invocation. The caller must call Close when done.
func NewApp(ctx context.Context, cfg *config.Config) (*App, error) {
	catalog, err := database.NewCatalogFromConfig(cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("creating catalog: %w", err)
	}

	store, err := objectstore.NewStoreFromConfig(ctx, cfg.ObjectStore)
	if err != nil {
		catalog.Close()
		return nil, fmt.Errorf("creating object store: %w", err)
	}

	encryptor, err := encryption.NewEncryptorFromConfig(cfg.Encryption)
	if err != nil {
		catalog.Close()
		return nil, fmt.Errorf("creating encryptor: %w", err)
	}
	var encStore *objectstore.EncryptedStore
	if encryptor != nil {
		encStore = objectstore.NewEncryptedStore(store, encryptor)
		store = encStore
	}

	client, err := index.NewClientFromConfig(ctx, cfg.Index)
	if err != nil {
		catalog.Close()
		return nil, fmt.Errorf("creating index client: %w", err)
	}

	locker, err := lock.NewLockerFromConfig(ctx, cfg.Lock)
	if err != nil {
		catalog.Close()
		return nil, fmt.Errorf("creating source locker: %w", err)
	}

	runID := time.Now().UTC().Format("20060102T150405Z")
	slogger, logFile, err := newLogger(cfg.LogDir, runID)
	if err != nil {
		catalog.Close()
		return nil, fmt.Errorf("creating logger: %w", err)
	}
	logger := &slogAdapter{l: slogger}

	retry := retryPolicy(cfg.Sync)
	clock := kis.RealClock{}
	idgen := kis.UUIDGenerator{}

	files := kis.NewFileStore(catalog, store, client, logger, clock, idgen)
	reconciler := kis.NewReconciler(catalog, store, files, logger, clock, idgen)
	batcher := kis.NewLinkBatcher(catalog, store, logger, clock, retry)
	migrator := kis.NewMigrator(catalog, batcher, logger, clock)
	loaders := loader.NewFactory(retry)
	orchestrator := kis.NewOrchestrator(catalog, loaders, reconciler, batcher, client, locker, logger, clock, idgen)

	return &App{
		cfg:          cfg,
		catalog:      catalog,
		store:        store,
		encStore:     encStore,
		encryptor:    encryptor,
		client:       client,
		locker:       locker,
		files:        files,
		batcher:      batcher,
		migrator:     migrator,
		orchestrator: orchestrator,
		logger:       logger,
		logFile:      logFile,
	}, nil
}

func retryPolicy(cfg config.SyncConfig) kis.RetryPolicy {
	p := kis.DefaultRetryPolicy
	if cfg.RetryMaxAttempts > 0 {
		p.MaxAttempts = cfg.RetryMaxAttempts
	}
	if cfg.RetryInitialMillis > 0 {
		p.InitialInterval = time.Duration(cfg.RetryInitialMillis) * time.Millisecond
	}
	if cfg.RetryMultiplier > 0 {
		p.Multiplier = cfg.RetryMultiplier
	}
	return p
}

// EncryptionEnabled reports whether blob content is encrypted at rest.
func (a *App) EncryptionEnabled() bool { return a.encStore != nil }

// Unlock makes encrypted content readable for the rest of the session.
func (a *App) Unlock(passphrase string) error {
	if a.encStore == nil {
		return nil
	}
	return a.encStore.Unlock(passphrase)
}

// SetupEncryption generates the at-rest encryption key pair.
func (a *App) SetupEncryption(passphrase string) error {
	if a.encryptor == nil {
		return fmt.Errorf("encryption is not enabled in the config")
	}
	if a.encryptor.IsConfigured() {
		return fmt.Errorf("encryption keys already exist")
	}
	return a.encryptor.Setup(passphrase)
}

// CreateContainer registers a new indexable container.
func (a *App) CreateContainer(ctx context.Context, name string, ctype model.ContainerType, isIndex, isRemote bool) (*model.Container, error) {
	c := &model.Container{
		ID:            kis.UUIDGenerator{}.New(),
		Type:          ctype,
		Name:          name,
		IsIndex:       isIndex,
		IsRemoteIndex: isRemote,
		Generation:    1,
		CreatedAt:     time.Now().UTC(),
	}
	if err := a.catalog.CreateContainer(ctx, c); err != nil {
		return nil, err
	}
	a.logger.Info("container created", "container_id", c.ID, "name", name)
	return c, nil
}

// ListContainers returns all containers.
func (a *App) ListContainers(ctx context.Context) ([]*model.Container, error) {
	return a.catalog.ListContainers(ctx)
}

// AddSource attaches a source to a container after validating its
// configuration. Each container holds at most one source.
func (a *App) AddSource(ctx context.Context, containerID string, stype model.SourceType, name string, sourceCfg model.SourceConfig, autoSync bool) (*model.Source, error) {
	if _, err := a.catalog.GetContainer(ctx, containerID); err != nil {
		return nil, err
	}

	src := &model.Source{
		ID:          kis.UUIDGenerator{}.New(),
		ContainerID: containerID,
		Type:        stype,
		Name:        name,
		Config:      sourceCfg,
		AutoSync:    autoSync,
		CreatedAt:   time.Now().UTC(),
	}

	l, err := loader.NewFactory(retryPolicy(a.cfg.Sync))(src)
	if err != nil {
		return nil, err
	}
	if err := l.Validate(); err != nil {
		return nil, err
	}

	if err := a.catalog.CreateSource(ctx, src); err != nil {
		return nil, err
	}
	a.logger.Info("source added", "source_id", src.ID, "container_id", containerID, "type", stype)
	return src, nil
}

// ListSources returns all sources.
func (a *App) ListSources(ctx context.Context) ([]*model.Source, error) {
	return a.catalog.ListSources(ctx)
}

// ValidateSource re-checks the stored configuration of a source.
func (a *App) ValidateSource(ctx context.Context, sourceID string) error {
	src, err := a.catalog.GetSource(ctx, sourceID)
	if err != nil {
		return err
	}
	l, err := loader.NewFactory(retryPolicy(a.cfg.Sync))(src)
	if err != nil {
		return err
	}
	return l.Validate()
}

// SyncSource runs one full sync for the given source.
func (a *App) SyncSource(ctx context.Context, sourceID string) (kis.SyncResult, error) {
	src, err := a.catalog.GetSource(ctx, sourceID)
	if err != nil {
		return kis.SyncResult{}, err
	}
	return a.orchestrator.SyncOne(ctx, src), nil
}

// SyncAll runs every auto-sync source in turn. One source's failure
// never blocks the others.
func (a *App) SyncAll(ctx context.Context) ([]kis.SyncResult, error) {
	return a.orchestrator.SyncAllDue(ctx)
}

// RetryContainer re-queues a container's failed memberships and links
// them again.
func (a *App) RetryContainer(ctx context.Context, containerID string) (*kis.BatchReport, error) {
	n, err := a.orchestrator.RequeueFailed(ctx, containerID)
	if err != nil {
		return nil, err
	}
	a.logger.Info("requeued failed memberships", "container_id", containerID, "count", n)

	container, err := a.catalog.GetContainer(ctx, containerID)
	if err != nil {
		return nil, err
	}
	return a.batcher.LinkPending(ctx, a.client, container)
}

// MigrateIndex re-links a container's blobs under a new index provider
// and deletes the old index only after everything succeeds.
func (a *App) MigrateIndex(ctx context.Context, containerID string, newIndexCfg config.IndexConfig) error {
	newClient, err := index.NewClientFromConfig(ctx, newIndexCfg)
	if err != nil {
		return fmt.Errorf("creating target index client: %w", err)
	}
	return a.migrator.Migrate(ctx, containerID, a.client, newClient)
}

// CatBlob writes a blob's content to w, decrypting when needed.
func (a *App) CatBlob(ctx context.Context, blobID string, w io.Writer) error {
	blob, err := a.catalog.GetBlob(ctx, blobID)
	if err != nil {
		return err
	}
	return a.store.Get(ctx, blob.StorageKey, w)
}

// SweepExpired releases every blob whose expiry has passed and disposes
// blobs left without owners by an interrupted release. Returns the total
// number of blobs swept.
func (a *App) SweepExpired(ctx context.Context) (int, error) {
	expired, err := a.files.SweepExpired(ctx)
	if err != nil {
		return expired, err
	}
	orphans, err := a.files.SweepOrphans(ctx)
	return expired + orphans, err
}

// ListRuns returns the most recent sync runs for a source, newest first.
func (a *App) ListRuns(ctx context.Context, sourceID string, limit int) ([]*model.SyncRun, error) {
	return a.catalog.ListSyncRuns(ctx, sourceID, limit)
}

// Close releases all resources.
func (a *App) Close() error {
	var firstErr error

	if err := a.catalog.Close(); err != nil {
		firstErr = fmt.Errorf("closing catalog: %w", err)
	}
	if c, ok := a.client.(io.Closer); ok {
		if err := c.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("closing index client: %w", err)
		}
	}
	if c, ok := a.locker.(io.Closer); ok {
		if err := c.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("closing locker: %w", err)
		}
	}
	if a.logFile != nil {
		a.logFile.Close()
	}
	return firstErr
}
