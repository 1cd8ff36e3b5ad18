package kis

import (
	"context"
	"errors"
	"fmt"

	"kisync/internal/model"
)

// Orchestrator owns the top-level sync entry points. It sequences loader,
// reconciler and link batcher, persists an audit record per run, and never
// lets a failure escape as an error: every outcome becomes a SyncResult.
type Orchestrator struct {
	catalog    Catalog
	loaders    LoaderFactory
	reconciler *Reconciler
	batcher    *LinkBatcher
	client     RemoteIndexClient // nil when no provider is configured
	locker     SourceLocker
	logger     Logger
	clock      Clock
	idgen      IDGenerator
}

// NewOrchestrator creates an Orchestrator with the provided dependencies.
func NewOrchestrator(catalog Catalog, loaders LoaderFactory, reconciler *Reconciler, batcher *LinkBatcher, client RemoteIndexClient, locker SourceLocker, logger Logger, clock Clock, idgen IDGenerator) *Orchestrator {
	return &Orchestrator{
		catalog:    catalog,
		loaders:    loaders,
		reconciler: reconciler,
		batcher:    batcher,
		client:     client,
		locker:     locker,
		logger:     logger,
		clock:      clock,
		idgen:      idgen,
	}
}

// SyncResult is the caller-visible outcome of one sync attempt.
type SyncResult struct {
	SourceID string
	RunID    string
	Success  bool
	Added    int
	Updated  int
	Removed  int
	Err      string
}

// SyncOne runs a full sync for one source: snapshot, reconcile, and (for
// remote-index containers) link. All failures are captured into the result
// and the persisted SyncRun; nothing is raised to the caller.
func (o *Orchestrator) SyncOne(ctx context.Context, source *model.Source) SyncResult {
	result := SyncResult{SourceID: source.ID}

	release, ok, err := o.locker.TryAcquire(ctx, source.ID)
	if err != nil {
		result.Err = fmt.Sprintf("acquiring source lock: %v", err)
		return result
	}
	if !ok {
		// A concurrent run holds the lock; no sync was attempted, so no
		// run record is written.
		result.Err = ErrSyncInProgress.Error()
		return result
	}
	defer release()

	started := o.clock.Now()
	run := &model.SyncRun{
		ID:        o.idgen.New(),
		SourceID:  source.ID,
		Status:    model.RunInProgress,
		StartedAt: started,
	}
	if err := o.catalog.CreateSyncRun(ctx, run); err != nil {
		result.Err = fmt.Sprintf("creating sync run: %v", err)
		return result
	}
	result.RunID = run.ID

	diff, err := o.runSync(ctx, source)
	if diff != nil {
		run.FilesAdded, run.FilesUpdated, run.FilesRemoved = diff.Added, diff.Updated, diff.Removed
		result.Added, result.Updated, result.Removed = diff.Added, diff.Updated, diff.Removed
	}

	finished := o.clock.Now()
	run.DurationSeconds = finished.Sub(started).Seconds()
	run.FinishedAt = &finished
	if err != nil {
		run.Status = model.RunFailed
		run.ErrorMessage = err.Error()
		result.Err = err.Error()
		o.logger.Error("sync failed", "source", source.ID, "run", run.ID, "error", err)
	} else {
		run.Status = model.RunSuccess
		result.Success = true
		if terr := o.catalog.TouchSourceSync(ctx, source.ID, finished); terr != nil {
			o.logger.Warn("recording last sync time", "source", source.ID, "error", terr)
		}
		o.logger.Info("sync succeeded",
			"source", source.ID, "run", run.ID,
			"added", run.FilesAdded, "updated", run.FilesUpdated, "removed", run.FilesRemoved)
	}

	if ferr := o.catalog.FinishSyncRun(ctx, run); ferr != nil {
		o.logger.Error("finalizing sync run", "run", run.ID, "error", ferr)
		if result.Err == "" {
			result.Err = fmt.Sprintf("finalizing sync run: %v", ferr)
			result.Success = false
		}
	}
	return result
}

// runSync performs the fallible middle of a sync attempt.
func (o *Orchestrator) runSync(ctx context.Context, source *model.Source) (*Diff, error) {
	container, err := o.catalog.GetContainer(ctx, source.ContainerID)
	if err != nil {
		return nil, fmt.Errorf("loading container: %w", err)
	}

	loader, err := o.loaders(source)
	if err != nil {
		return nil, err
	}
	// Config problems are caught before any network call and never retried.
	if err := loader.Validate(); err != nil {
		return nil, err
	}

	docs, err := loader.Load(ctx)
	if err != nil {
		return nil, err
	}

	diff, err := o.reconciler.Sync(ctx, source, container, docs)
	if err != nil {
		return diff, err
	}

	// The diff is committed; everything past this point is the remote
	// linking phase, which is idempotent and retried by later runs.
	if !container.IsIndex {
		return diff, nil
	}
	if !container.IsRemoteIndex || o.client == nil {
		return diff, o.completeLocal(ctx, container)
	}

	report, err := o.batcher.LinkPending(ctx, o.client, container)
	if err != nil {
		return diff, fmt.Errorf("linking pending blobs: %w", err)
	}
	if report.Failed > 0 {
		return diff, fmt.Errorf("%d of %d blobs failed to link: %w",
			report.Failed, len(report.Items), report.FirstErr())
	}
	return diff, nil
}

// completeLocal finishes pending memberships of locally embedded
// containers. There is no remote identity requirement for these.
func (o *Orchestrator) completeLocal(ctx context.Context, container *model.Container) error {
	pending, err := o.catalog.MembershipsByStatus(ctx, container.ID, model.MembershipPending)
	if err != nil {
		return fmt.Errorf("listing pending memberships: %w", err)
	}
	if len(pending) == 0 {
		return nil
	}
	if err := o.catalog.SetMembershipsStatus(ctx, membershipIDs(pending), model.MembershipCompleted, ""); err != nil {
		return fmt.Errorf("completing local memberships: %w", err)
	}
	return nil
}

// SyncAllDue syncs every auto-sync source on an index-backed container.
// One source's failure never prevents the others from running.
func (o *Orchestrator) SyncAllDue(ctx context.Context) ([]SyncResult, error) {
	sources, err := o.catalog.ListAutoSyncSources(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing auto-sync sources: %w", err)
	}

	results := make([]SyncResult, 0, len(sources))
	for _, source := range sources {
		results = append(results, o.SyncOne(ctx, source))
	}
	return results, nil
}

// RequeueFailed returns a container's failed memberships to pending so the
// next sync pass retries them. This is the explicit manual retry path;
// nothing requeues failed memberships automatically.
func (o *Orchestrator) RequeueFailed(ctx context.Context, containerID string) (int, error) {
	failed, err := o.catalog.MembershipsByStatus(ctx, containerID, model.MembershipFailed)
	if err != nil {
		return 0, fmt.Errorf("listing failed memberships: %w", err)
	}
	if len(failed) == 0 {
		return 0, nil
	}
	if err := o.catalog.SetMembershipsStatus(ctx, membershipIDs(failed), model.MembershipPending, ""); err != nil {
		return 0, fmt.Errorf("requeueing failed memberships: %w", err)
	}
	return len(failed), nil
}

// IsConfigErr reports whether err is a source configuration problem.
func IsConfigErr(err error) bool {
	var cerr *ConfigError
	return errors.As(err, &cerr)
}
