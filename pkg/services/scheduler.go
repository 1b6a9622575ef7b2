package services

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-datasync/pkg/apperrors"
)

// Scheduler periodically enqueues a sync of every data sync.
type Scheduler struct {
	syncs    DataSyncService
	runner   *SyncRunner
	interval time.Duration
	logger   *zap.Logger

	quit     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewScheduler creates a scheduler ticking every interval.
func NewScheduler(syncs DataSyncService, runner *SyncRunner, interval time.Duration, logger *zap.Logger) *Scheduler {
	return &Scheduler{
		syncs:    syncs,
		runner:   runner,
		interval: interval,
		logger:   logger.Named("scheduler"),
		quit:     make(chan struct{}),
	}
}

// Start launches the ticker. Syncs are enqueued on every tick until Stop.
func (s *Scheduler) Start(ctx context.Context) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				s.Tick(ctx)
			case <-ctx.Done():
				return
			case <-s.quit:
				return
			}
		}
	}()
}

// Tick enqueues every data sync once and returns how many were enqueued.
// Data syncs that are still syncing from a previous tick are skipped.
func (s *Scheduler) Tick(ctx context.Context) int {
	syncs, err := s.syncs.ListDataSyncs(ctx)
	if err != nil {
		s.logger.Error("Failed to list data syncs", zap.Error(err))
		return 0
	}

	enqueued := 0
	for _, ds := range syncs {
		err := s.runner.EnqueueScheduled(ds.ID)
		switch {
		case err == nil:
			enqueued++
		case errors.Is(err, apperrors.ErrSyncAlreadyRunning):
			s.logger.Debug("Sync still running, skipping", zap.String("data_sync_id", ds.ID.String()))
		default:
			s.logger.Error("Failed to enqueue sync",
				zap.String("data_sync_id", ds.ID.String()),
				zap.Error(err))
		}
	}
	return enqueued
}

// Stop stops the ticker and waits for it to exit. Running syncs are left to
// the runner.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() { close(s.quit) })
	s.wg.Wait()
}
