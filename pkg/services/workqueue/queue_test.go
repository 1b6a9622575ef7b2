package workqueue

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-datasync/pkg/retry"
)

type funcJob struct {
	BaseJob
	fn func(ctx context.Context) error
}

func newFuncJob(name, key string, fn func(ctx context.Context) error) *funcJob {
	return &funcJob{BaseJob: NewBaseJob(name, key), fn: fn}
}

func (j *funcJob) Run(ctx context.Context) error {
	if j.fn == nil {
		return nil
	}
	return j.fn(ctx)
}

func quickRetry(n int) *retry.Config {
	return &retry.Config{MaxRetries: n, InitialDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond, Multiplier: 2}
}

func waitIdle(t *testing.T, q *Queue) error {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	err := q.Wait(ctx)
	if errors.Is(err, context.DeadlineExceeded) {
		t.Fatal("queue did not become idle")
	}
	return err
}

func TestQueue_RunsJob(t *testing.T) {
	q := New(zap.NewNop())
	var ran atomic.Bool

	if err := q.Enqueue(newFuncJob("job", "", func(context.Context) error {
		ran.Store(true)
		return nil
	})); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	if err := waitIdle(t, q); err != nil {
		t.Fatalf("wait: %v", err)
	}
	if !ran.Load() {
		t.Error("job did not run")
	}
	if p := q.Progress(); p.Completed != 1 || p.Active() != 0 {
		t.Errorf("unexpected progress %+v", p)
	}
}

func TestQueue_WaitReportsFailuresOfCurrentBatch(t *testing.T) {
	q := New(zap.NewNop(), WithRetry(quickRetry(0)))
	boom := errors.New("boom")

	_ = q.Enqueue(newFuncJob("broken", "", func(context.Context) error { return boom }))
	err := waitIdle(t, q)
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	if !strings.Contains(err.Error(), "broken") {
		t.Errorf("error should name the job: %v", err)
	}

	// The next batch starts clean.
	_ = q.Enqueue(newFuncJob("fine", "", nil))
	if err := waitIdle(t, q); err != nil {
		t.Errorf("expected no error for new batch, got %v", err)
	}
	if p := q.Progress(); p.Failed != 1 || p.Completed != 1 {
		t.Errorf("unexpected progress %+v", p)
	}
}

func TestQueue_RetriesTransientErrors(t *testing.T) {
	q := New(zap.NewNop(), WithRetry(quickRetry(2)))
	var calls atomic.Int32

	_ = q.Enqueue(newFuncJob("flaky", "", func(context.Context) error {
		if calls.Add(1) < 3 {
			return errors.New("connection reset by peer")
		}
		return nil
	}))

	if err := waitIdle(t, q); err != nil {
		t.Fatalf("expected success after retries, got %v", err)
	}
	if calls.Load() != 3 {
		t.Errorf("expected 3 attempts, got %d", calls.Load())
	}
}

func TestQueue_GivesUpAfterMaxRetries(t *testing.T) {
	q := New(zap.NewNop(), WithRetry(quickRetry(1)))
	var calls atomic.Int32

	_ = q.Enqueue(newFuncJob("down", "", func(context.Context) error {
		calls.Add(1)
		return errors.New("service unavailable")
	}))

	if err := waitIdle(t, q); err == nil {
		t.Fatal("expected failure")
	}
	if calls.Load() != 2 {
		t.Errorf("expected 2 attempts, got %d", calls.Load())
	}
}

func TestQueue_PermanentErrorsAreNotRetried(t *testing.T) {
	q := New(zap.NewNop(), WithRetry(quickRetry(3)))
	var calls atomic.Int32

	_ = q.Enqueue(newFuncJob("bad params", "", func(context.Context) error {
		calls.Add(1)
		return errors.New("missing parameter url")
	}))

	_ = waitIdle(t, q)
	if calls.Load() != 1 {
		t.Errorf("expected 1 attempt, got %d", calls.Load())
	}
}

func TestQueue_RejectsActiveKey(t *testing.T) {
	q := New(zap.NewNop(), WithMaxConcurrent(4))
	release := make(chan struct{})

	if err := q.Enqueue(newFuncJob("first", "ds-1", func(context.Context) error {
		<-release
		return nil
	})); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	if err := q.Enqueue(newFuncJob("second", "ds-1", nil)); !errors.Is(err, ErrKeyActive) {
		t.Errorf("expected ErrKeyActive, got %v", err)
	}
	if err := q.Enqueue(newFuncJob("other", "ds-2", nil)); err != nil {
		t.Errorf("other key should be admitted: %v", err)
	}

	close(release)
	if err := waitIdle(t, q); err != nil {
		t.Fatalf("wait: %v", err)
	}

	if err := q.Enqueue(newFuncJob("again", "ds-1", nil)); err != nil {
		t.Errorf("key should be free after the job finished: %v", err)
	}
	_ = waitIdle(t, q)
}

func TestQueue_PendingKeyIsActive(t *testing.T) {
	q := New(zap.NewNop(), WithMaxConcurrent(1))
	release := make(chan struct{})

	_ = q.Enqueue(newFuncJob("blocker", "a", func(context.Context) error {
		<-release
		return nil
	}))
	_ = q.Enqueue(newFuncJob("queued", "b", nil))

	if p := q.Progress(); p.Pending != 1 || p.Running != 1 {
		t.Errorf("unexpected progress %+v", p)
	}
	if err := q.Enqueue(newFuncJob("queued again", "b", nil)); !errors.Is(err, ErrKeyActive) {
		t.Errorf("pending key should be active, got %v", err)
	}

	close(release)
	_ = waitIdle(t, q)
}

func TestQueue_LimitsConcurrency(t *testing.T) {
	q := New(zap.NewNop(), WithMaxConcurrent(2))
	var (
		mu      sync.Mutex
		current int
		peak    int
	)

	for i := 0; i < 6; i++ {
		_ = q.Enqueue(newFuncJob("job", "", func(context.Context) error {
			mu.Lock()
			current++
			if current > peak {
				peak = current
			}
			mu.Unlock()

			time.Sleep(10 * time.Millisecond)

			mu.Lock()
			current--
			mu.Unlock()
			return nil
		}))
	}

	if err := waitIdle(t, q); err != nil {
		t.Fatalf("wait: %v", err)
	}
	if peak > 2 {
		t.Errorf("expected at most 2 concurrent jobs, saw %d", peak)
	}
	if p := q.Progress(); p.Completed != 6 {
		t.Errorf("expected 6 completed, got %+v", p)
	}
}

func TestQueue_StopCancelsRunningAndDropsPending(t *testing.T) {
	q := New(zap.NewNop(), WithMaxConcurrent(1))
	started := make(chan struct{})

	_ = q.Enqueue(newFuncJob("long", "a", func(ctx context.Context) error {
		close(started)
		<-ctx.Done()
		return ctx.Err()
	}))
	_ = q.Enqueue(newFuncJob("never", "b", nil))
	<-started

	q.Stop()
	if err := waitIdle(t, q); err != nil {
		t.Errorf("cancelled jobs are not failures: %v", err)
	}

	if p := q.Progress(); p.Cancelled != 2 || p.Active() != 0 {
		t.Errorf("unexpected progress %+v", p)
	}
	if err := q.Enqueue(newFuncJob("late", "", nil)); !errors.Is(err, ErrStopped) {
		t.Errorf("expected ErrStopped, got %v", err)
	}
}

func TestQueue_WaitHonoursContext(t *testing.T) {
	q := New(zap.NewNop())
	defer q.Stop()

	_ = q.Enqueue(newFuncJob("stuck", "", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := q.Wait(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected deadline exceeded, got %v", err)
	}
}

func TestQueue_EmptyQueueIsIdle(t *testing.T) {
	q := New(zap.NewNop())
	if err := q.Wait(context.Background()); err != nil {
		t.Errorf("expected nil for empty queue, got %v", err)
	}
}
