package services

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-datasync/pkg/models"
)

func TestScheduler_TickEnqueuesEveryDataSync(t *testing.T) {
	mock := newMockDataSyncService()
	mock.syncs = []*models.DataSync{{ID: uuid.New()}, {ID: uuid.New()}, {ID: uuid.New()}}
	runner := NewSyncRunner(mock, 2, 0, zap.NewNop())
	scheduler := NewScheduler(mock, runner, time.Hour, zap.NewNop())

	enqueued := scheduler.Tick(context.Background())

	assert.Equal(t, 3, enqueued)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, runner.Wait(ctx))
	for _, ds := range mock.syncs {
		assert.Equal(t, 1, mock.runCount(ds.ID))
	}
}

func TestScheduler_SkipsRunningDataSyncs(t *testing.T) {
	mock := newMockDataSyncService()
	mock.release = make(chan struct{})
	busy := uuid.New()
	mock.syncs = []*models.DataSync{{ID: busy}}
	runner := NewSyncRunner(mock, 2, 0, zap.NewNop())
	scheduler := NewScheduler(mock, runner, time.Hour, zap.NewNop())

	require.NoError(t, runner.EnqueueScheduled(busy))
	waitStarted(t, mock)

	assert.Equal(t, 0, scheduler.Tick(context.Background()))

	close(mock.release)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, runner.Wait(ctx))
	assert.Equal(t, 1, mock.runCount(busy))
}

func TestScheduler_StartAndStop(t *testing.T) {
	mock := newMockDataSyncService()
	id := uuid.New()
	mock.syncs = []*models.DataSync{{ID: id}}
	runner := NewSyncRunner(mock, 1, 0, zap.NewNop())
	scheduler := NewScheduler(mock, runner, 10*time.Millisecond, zap.NewNop())

	scheduler.Start(context.Background())
	waitStarted(t, mock)
	scheduler.Stop()
	scheduler.Stop()

	assert.GreaterOrEqual(t, mock.runCount(id), 1)
}
