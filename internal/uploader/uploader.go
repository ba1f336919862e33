// File: internal/uploader/uploader.go
package uploader

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/wyatt727/BSTI/api/schemas"
	"github.com/wyatt727/BSTI/internal/config"
	"github.com/wyatt727/BSTI/internal/ledger"
	"github.com/wyatt727/BSTI/internal/platform"
	"github.com/wyatt727/BSTI/internal/reconcile"
)

// Platform is the slice of the platform client the uploader drives. Declared
// here so tests can substitute a fake without a live endpoint.
type Platform interface {
	Authenticate(ctx context.Context) error
	CreateFlaw(ctx context.Context, flaw schemas.Flaw) (string, error)
	UpdateFlaw(ctx context.Context, remoteID string, flaw schemas.Flaw) error
	UploadArtifact(ctx context.Context, remoteID, path string) error
	GetWriteup(ctx context.Context, writeupDBID string) (*platform.Writeup, error)
}

const (
	defaultConcurrency = 4
	defaultFlawTimeout = 2 * time.Minute

	// ledgerWriteTimeout bounds the post-upload record write, which runs on
	// a background context so an operator abort never loses a completed
	// upload.
	ledgerWriteTimeout = 10 * time.Second
)

// Uploader pushes a reconciliation plan to the platform through a bounded
// worker pool. Each flaw is handled end-to-end by one worker; a failure on
// one flaw never aborts the batch.
type Uploader struct {
	client Platform
	ledger ledger.Ledger
	cfg    config.UploaderConfig
	dryRun bool
	logger *zap.Logger
}

// New creates an Uploader.
func New(client Platform, led ledger.Ledger, cfg config.UploaderConfig, dryRun bool, logger *zap.Logger) (*Uploader, error) {
	if client == nil {
		return nil, errors.New("platform client cannot be nil")
	}
	if led == nil {
		return nil, errors.New("ledger cannot be nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Uploader{
		client: client,
		ledger: led,
		cfg:    cfg,
		dryRun: dryRun,
		logger: logger.Named("uploader"),
	}, nil
}

// job is one unit of worker work: a flaw to create, or to update when
// remoteID is set.
type job struct {
	flaw     schemas.Flaw
	remoteID string
}

// runState carries the shared results of one Run across its workers.
type runState struct {
	runID string
	wg    sync.WaitGroup

	mu       sync.Mutex
	outcomes []schemas.UploadOutcome
}

func (s *runState) record(o schemas.UploadOutcome) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.outcomes = append(s.outcomes, o)
}

// Run executes the plan and returns one outcome per flaw. The only error it
// returns is a failed up-front authentication, which aborts the run before
// any upload; per-flaw failures are recorded in their outcomes instead.
// Cancelling ctx stops dispatching new flaws and lets in-flight ones resolve;
// flaws never dispatched are reported as failed.
func (u *Uploader) Run(ctx context.Context, runID string, plan reconcile.Plan) ([]schemas.UploadOutcome, error) {
	state := &runState{runID: runID}

	for _, item := range plan.Unchanged {
		state.record(schemas.UploadOutcome{
			FlawKey:     item.Flaw.FlawKey,
			Title:       item.Flaw.Title,
			Disposition: schemas.DispositionUnchanged,
			RemoteID:    item.RemoteID,
		})
	}

	if u.dryRun {
		u.planOnly(state, plan)
		return sorted(state.outcomes), nil
	}

	queue := make([]job, 0, len(plan.Create)+len(plan.Update))
	for _, flaw := range plan.Create {
		queue = append(queue, job{flaw: flaw})
	}
	for _, item := range plan.Update {
		queue = append(queue, job{flaw: item.Flaw, remoteID: item.RemoteID})
	}

	if len(queue) == 0 {
		u.logger.Info("Nothing to upload; every flaw is unchanged.",
			zap.Int("unchanged", len(plan.Unchanged)))
		return sorted(state.outcomes), nil
	}

	// One blocking authentication before the pool starts; workers share the
	// session token through the client.
	if err := u.client.Authenticate(ctx); err != nil {
		return nil, fmt.Errorf("authenticating before upload: %w", err)
	}

	concurrency := u.cfg.Concurrency
	if concurrency <= 0 {
		concurrency = defaultConcurrency
	}
	if concurrency > len(queue) {
		concurrency = len(queue)
	}

	u.logger.Info("Starting upload worker pool",
		zap.Int("concurrency", concurrency),
		zap.Int("create", len(plan.Create)),
		zap.Int("update", len(plan.Update)),
		zap.Int("unchanged", len(plan.Unchanged)))

	jobs := make(chan job)
	for i := 0; i < concurrency; i++ {
		state.wg.Add(1)
		go u.runWorker(ctx, i+1, state, jobs)
	}

	undispatched := 0
feed:
	for i, j := range queue {
		select {
		case jobs <- j:
		case <-ctx.Done():
			// The send for queue[i] did not complete, so everything from i
			// on was never handed to a worker.
			undispatched = len(queue) - i
			for _, skipped := range queue[i:] {
				state.record(schemas.UploadOutcome{
					FlawKey:     skipped.flaw.FlawKey,
					Title:       skipped.flaw.Title,
					Disposition: schemas.DispositionFailed,
					RemoteID:    skipped.remoteID,
					Error:       fmt.Sprintf("not attempted: %v", ctx.Err()),
				})
			}
			break feed
		}
	}
	close(jobs)
	state.wg.Wait()

	if undispatched > 0 {
		u.logger.Warn("Run cancelled before every flaw was dispatched.",
			zap.Int("undispatched", undispatched), zap.Error(ctx.Err()))
	}

	return sorted(state.outcomes), nil
}

// planOnly records what the run would have done without touching the network.
func (u *Uploader) planOnly(state *runState, plan reconcile.Plan) {
	for _, flaw := range plan.Create {
		state.record(schemas.UploadOutcome{
			FlawKey:     flaw.FlawKey,
			Title:       flaw.Title,
			Disposition: schemas.DispositionPlanned,
		})
	}
	for _, item := range plan.Update {
		state.record(schemas.UploadOutcome{
			FlawKey:     item.Flaw.FlawKey,
			Title:       item.Flaw.Title,
			Disposition: schemas.DispositionPlanned,
			RemoteID:    item.RemoteID,
		})
	}
	u.logger.Info("Dry run; skipping uploads.",
		zap.Int("would_create", len(plan.Create)),
		zap.Int("would_update", len(plan.Update)),
		zap.Int("unchanged", len(plan.Unchanged)))
}

// runWorker is the main loop for a single worker goroutine.
func (u *Uploader) runWorker(ctx context.Context, workerID int, state *runState, jobs <-chan job) {
	defer state.wg.Done()
	logger := u.logger.With(zap.Int("worker_id", workerID))
	logger.Debug("Upload worker started")

	for {
		select {
		case <-ctx.Done():
			logger.Debug("Context cancelled, upload worker shutting down.", zap.Error(ctx.Err()))
			return
		case j, ok := <-jobs:
			if !ok {
				logger.Debug("Upload queue drained, worker shutting down.")
				return
			}
			u.process(ctx, j, state, logger)
		}
	}
}

// process uploads one flaw end-to-end: writeup sync, create or update,
// ledger record, artifact.
func (u *Uploader) process(ctx context.Context, j job, state *runState, logger *zap.Logger) {
	flaw := j.flaw
	logger = logger.With(zap.String("flaw_key", flaw.FlawKey), zap.String("title", flaw.Title))

	timeout := u.cfg.FlawTimeout
	if timeout <= 0 {
		timeout = defaultFlawTimeout
	}
	jobCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	outcome := schemas.UploadOutcome{
		FlawKey:  flaw.FlawKey,
		Title:    flaw.Title,
		RemoteID: j.remoteID,
	}

	payload := u.applyWriteup(jobCtx, flaw, logger)

	var err error
	if j.remoteID == "" {
		outcome.Disposition = schemas.DispositionCreated
		outcome.RemoteID, err = u.client.CreateFlaw(jobCtx, payload)
	} else {
		outcome.Disposition = schemas.DispositionUpdated
		err = u.client.UpdateFlaw(jobCtx, j.remoteID, payload)
	}
	if err != nil {
		state.record(failed(outcome, flaw.FlawKey, err))
		logger.Error("Flaw upload failed.", zap.Error(err))
		return
	}

	// The record goes in before the artifact goes up: once the flaw exists
	// remotely, a later run must reconcile it instead of creating a
	// duplicate, artifact or not. The fingerprint covers the locally merged
	// content, not the writeup-synced payload, so reconciliation stays
	// stable across runs.
	record := schemas.UploadRecord{
		FlawKey:     flaw.FlawKey,
		RemoteID:    outcome.RemoteID,
		Fingerprint: reconcile.Fingerprint(flaw),
		Canonical:   string(reconcile.CanonicalPayload(flaw)),
		Title:       flaw.Title,
		Scope:       flaw.Scope,
		UploadedAt:  time.Now().UTC(),
		RunID:       state.runID,
	}
	persistCtx, persistCancel := context.WithTimeout(context.Background(), ledgerWriteTimeout)
	defer persistCancel()
	if err := u.ledger.Put(persistCtx, record); err != nil {
		state.record(failed(outcome, flaw.FlawKey, fmt.Errorf("recording upload: %w", err)))
		logger.Error("Flaw uploaded but the ledger write failed; the next run may recreate it.", zap.Error(err))
		return
	}

	if flaw.ScreenshotRef != "" {
		if err := u.client.UploadArtifact(jobCtx, outcome.RemoteID, flaw.ScreenshotRef); err != nil {
			state.record(failed(outcome, flaw.FlawKey, fmt.Errorf("uploading artifact: %w", err)))
			logger.Error("Artifact upload failed; the flaw itself was written.",
				zap.String("artifact", flaw.ScreenshotRef), zap.Error(err))
			return
		}
	}

	state.record(outcome)
	logger.Info("Flaw uploaded.",
		zap.String("remote_id", outcome.RemoteID),
		zap.String("disposition", string(outcome.Disposition)))
}

// applyWriteup swaps in the platform's long-form writeup content when the
// category carries one. Fetch failures fall back to the locally merged
// content; they are never a per-flaw failure.
func (u *Uploader) applyWriteup(ctx context.Context, flaw schemas.Flaw, logger *zap.Logger) schemas.Flaw {
	if flaw.WriteupDBID == "" {
		return flaw
	}
	writeup, err := u.client.GetWriteup(ctx, flaw.WriteupDBID)
	if err != nil {
		logger.Warn("Writeup fetch failed; uploading locally merged content.",
			zap.String("writeup_db_id", flaw.WriteupDBID), zap.Error(err))
		return flaw
	}
	if writeup.Description != "" {
		flaw.Description = writeup.Description
	}
	if writeup.Recommendations != "" {
		flaw.Recommendations = writeup.Recommendations
	}
	if len(writeup.References) > 0 {
		flaw.References = writeup.References
	}
	return flaw
}

// failed marks the outcome failed, stamping the flaw key into typed upload
// errors so their message names the flaw it belongs to.
func failed(outcome schemas.UploadOutcome, flawKey string, err error) schemas.UploadOutcome {
	var uploadErr *schemas.UploadError
	if errors.As(err, &uploadErr) && uploadErr.FlawKey == "" {
		uploadErr.FlawKey = flawKey
	}
	outcome.Disposition = schemas.DispositionFailed
	outcome.Error = err.Error()
	return outcome
}

// sorted orders outcomes by title for stable reports; workers finish in
// arbitrary order.
func sorted(outcomes []schemas.UploadOutcome) []schemas.UploadOutcome {
	sort.Slice(outcomes, func(i, j int) bool {
		if outcomes[i].Title != outcomes[j].Title {
			return outcomes[i].Title < outcomes[j].Title
		}
		return outcomes[i].FlawKey < outcomes[j].FlawKey
	})
	return outcomes
}
