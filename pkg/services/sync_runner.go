package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-datasync/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-datasync/pkg/services/workqueue"
)

// syncJob runs one sync of a data sync. Its key is the data sync id so the
// queue admits at most one pending or running sync per data sync.
type syncJob struct {
	workqueue.BaseJob
	dataSyncID uuid.UUID
	syncs      DataSyncService
}

func newSyncJob(syncs DataSyncService, id uuid.UUID) *syncJob {
	return &syncJob{
		BaseJob:    workqueue.NewBaseJob("sync "+id.String(), id.String()),
		dataSyncID: id,
		syncs:      syncs,
	}
}

func (j *syncJob) Run(ctx context.Context) error {
	_, err := j.syncs.RunSync(ctx, j.dataSyncID)
	return err
}

// SyncRunner executes syncs in the background on a keyed work queue.
type SyncRunner struct {
	queue  *workqueue.Queue
	syncs  DataSyncService
	logger *zap.Logger
}

// NewSyncRunner creates a runner executing up to maxConcurrent syncs at once.
func NewSyncRunner(syncs DataSyncService, maxConcurrent int, retryAttempts int, logger *zap.Logger) *SyncRunner {
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}
	retryCfg := workqueue.DefaultRetry()
	if retryAttempts >= 0 {
		retryCfg.MaxRetries = retryAttempts
	}
	return &SyncRunner{
		queue: workqueue.New(logger,
			workqueue.WithMaxConcurrent(maxConcurrent),
			workqueue.WithRetry(retryCfg)),
		syncs:  syncs,
		logger: logger.Named("sync-runner"),
	}
}

// Enqueue schedules a sync on behalf of a user after checking permissions.
// A second sync of the same data sync is refused with ErrSyncAlreadyRunning
// while the first is pending or running.
func (r *SyncRunner) Enqueue(ctx context.Context, userID, id uuid.UUID) error {
	if err := r.syncs.AuthorizeSync(ctx, userID, id); err != nil {
		return err
	}
	return r.enqueue(id)
}

// EnqueueScheduled schedules a sync without a principal.
func (r *SyncRunner) EnqueueScheduled(id uuid.UUID) error {
	return r.enqueue(id)
}

func (r *SyncRunner) enqueue(id uuid.UUID) error {
	err := r.queue.Enqueue(newSyncJob(r.syncs, id))
	if errors.Is(err, workqueue.ErrKeyActive) {
		return fmt.Errorf("%w: %s", apperrors.ErrSyncAlreadyRunning, id)
	}
	return err
}

// Running returns the number of pending and running syncs.
func (r *SyncRunner) Running() int {
	return r.queue.Progress().Active()
}

// Wait blocks until every enqueued sync has finished or ctx is done. It
// returns the errors of syncs that failed in that time.
func (r *SyncRunner) Wait(ctx context.Context) error {
	return r.queue.Wait(ctx)
}

// Shutdown cancels running syncs and waits up to timeout for them to stop.
func (r *SyncRunner) Shutdown(timeout time.Duration) {
	r.queue.Stop()
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := r.queue.Wait(ctx); err != nil && ctx.Err() != nil {
		r.logger.Warn("Syncs still running at shutdown", zap.Error(err))
	}
}
