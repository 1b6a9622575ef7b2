// Package workqueue runs keyed background jobs with bounded concurrency and
// retries of transient failures.
package workqueue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-datasync/pkg/retry"
)

var (
	// ErrKeyActive is returned by Enqueue while a job with the same key is
	// pending or running.
	ErrKeyActive = errors.New("a job with this key is already pending or running")

	// ErrStopped is returned by Enqueue after Stop.
	ErrStopped = errors.New("work queue stopped")
)

// DefaultRetry is the retry policy for whole jobs: two retries, 2s then 4s.
func DefaultRetry() *retry.Config {
	return &retry.Config{
		MaxRetries:   2,
		InitialDelay: 2 * time.Second,
		MaxDelay:     30 * time.Second,
		Multiplier:   2.0,
		JitterFactor: 0.1,
	}
}

// Queue runs jobs in FIFO order, at most maxConcurrent at a time.
type Queue struct {
	mu            sync.Mutex
	maxConcurrent int
	retry         *retry.Config
	pending       []*entry
	running       int
	keys          map[string]struct{}
	stats         Progress
	failures      []error
	idle          chan struct{} // closed while nothing is pending or running
	stopped       bool

	ctx    context.Context
	cancel context.CancelFunc
	logger *zap.Logger
}

type Option func(*Queue)

// WithMaxConcurrent bounds the number of running jobs. Values below 1 mean 1.
func WithMaxConcurrent(n int) Option {
	return func(q *Queue) {
		if n < 1 {
			n = 1
		}
		q.maxConcurrent = n
	}
}

// WithRetry sets the retry policy for jobs failing with a retryable error.
func WithRetry(cfg *retry.Config) Option {
	return func(q *Queue) {
		if cfg != nil {
			q.retry = cfg
		}
	}
}

func New(logger *zap.Logger, opts ...Option) *Queue {
	ctx, cancel := context.WithCancel(context.Background())
	idle := make(chan struct{})
	close(idle)
	q := &Queue{
		maxConcurrent: 1,
		retry:         DefaultRetry(),
		keys:          make(map[string]struct{}),
		idle:          idle,
		ctx:           ctx,
		cancel:        cancel,
		logger:        logger.Named("workqueue"),
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Enqueue admits a job and starts it if a slot is free.
func (q *Queue) Enqueue(job Job) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.stopped {
		return ErrStopped
	}
	if key := job.Key(); key != "" {
		if _, ok := q.keys[key]; ok {
			return ErrKeyActive
		}
		q.keys[key] = struct{}{}
	}

	// First job after an idle period starts a new batch for Wait.
	select {
	case <-q.idle:
		q.idle = make(chan struct{})
		q.failures = nil
	default:
	}

	q.pending = append(q.pending, &entry{job: job, enqueuedAt: time.Now()})
	q.stats.Pending++
	q.logger.Debug("Job enqueued",
		zap.String("job_id", job.ID()),
		zap.String("job", job.Name()))

	q.dispatchLocked()
	return nil
}

func (q *Queue) dispatchLocked() {
	for !q.stopped && len(q.pending) > 0 && q.running < q.maxConcurrent {
		e := q.pending[0]
		q.pending[0] = nil
		q.pending = q.pending[1:]
		q.stats.Pending--
		q.running++
		q.stats.Running++
		go q.run(e)
	}
}

func (q *Queue) run(e *entry) {
	err := q.attempt(e)

	q.mu.Lock()
	defer q.mu.Unlock()

	q.running--
	q.stats.Running--
	delete(q.keys, e.job.Key())

	fields := []zap.Field{
		zap.String("job_id", e.job.ID()),
		zap.String("job", e.job.Name()),
		zap.Int("attempts", e.attempts),
		zap.Duration("elapsed", time.Since(e.enqueuedAt)),
	}
	switch {
	case err == nil:
		q.stats.Completed++
		q.logger.Info("Job completed", fields...)
	case errors.Is(err, context.Canceled) || q.ctx.Err() != nil:
		q.stats.Cancelled++
		q.logger.Info("Job cancelled", fields...)
	default:
		q.stats.Failed++
		q.failures = append(q.failures, fmt.Errorf("%s: %w", e.job.Name(), err))
		q.logger.Error("Job failed", append(fields, zap.Error(err))...)
	}

	q.dispatchLocked()
	q.settleLocked()
}

// attempt runs the job until it succeeds, fails permanently or runs out of
// retries.
func (q *Queue) attempt(e *entry) error {
	for {
		e.attempts++
		err := e.job.Run(q.ctx)
		if err == nil || q.ctx.Err() != nil || !retry.IsRetryable(err) {
			return err
		}
		if e.attempts > q.retry.MaxRetries {
			return err
		}

		wait := retry.Backoff(q.retry, e.attempts)
		q.logger.Warn("Retrying job",
			zap.String("job", e.job.Name()),
			zap.Int("attempt", e.attempts),
			zap.Duration("backoff", wait),
			zap.Error(err))

		select {
		case <-q.ctx.Done():
			return q.ctx.Err()
		case <-time.After(wait):
		}
	}
}

// settleLocked closes idle once nothing is pending or running.
func (q *Queue) settleLocked() {
	if len(q.pending) > 0 || q.running > 0 {
		return
	}
	select {
	case <-q.idle:
	default:
		close(q.idle)
	}
}

// Wait blocks until the queue is idle or ctx is done. It returns the joined
// errors of jobs that failed since the queue was last idle.
func (q *Queue) Wait(ctx context.Context) error {
	q.mu.Lock()
	idle := q.idle
	q.mu.Unlock()

	select {
	case <-idle:
	case <-ctx.Done():
		return ctx.Err()
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	return errors.Join(q.failures...)
}

// Stop cancels running jobs, drops pending ones and refuses new ones.
func (q *Queue) Stop() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.stopped {
		return
	}
	q.stopped = true
	q.cancel()

	for _, e := range q.pending {
		delete(q.keys, e.job.Key())
	}
	q.stats.Cancelled += len(q.pending)
	q.stats.Pending = 0
	q.logger.Info("Work queue stopped",
		zap.Int("running", q.running),
		zap.Int("dropped", len(q.pending)))
	q.pending = nil

	q.settleLocked()
}

func (q *Queue) Progress() Progress {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.stats
}
