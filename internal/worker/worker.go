// Package worker runs fire-and-forget jobs off the request path on a fixed
// pool of goroutines.
package worker

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

var (
	ErrQueueFull   = errors.New("job queue full")
	ErrQueueClosed = errors.New("job queue closed")
)

// Job is one background unit of work. The context is detached from the
// request that enqueued it.
type Job struct {
	Name     string
	TenantID string
	Run      func(ctx context.Context) error
}

type Queue struct {
	jobs    chan Job
	timeout time.Duration
	log     zerolog.Logger

	wg     sync.WaitGroup
	mu     sync.RWMutex
	closed bool

	// OnDrop is called for every job rejected by a full queue.
	OnDrop func(Job)
}

// NewQueue starts workers goroutines reading from a buffer of size jobs.
// Each job runs with its own timeout.
func NewQueue(workers, size int, timeout time.Duration, log zerolog.Logger) *Queue {
	q := &Queue{
		jobs:    make(chan Job, size),
		timeout: timeout,
		log:     log,
	}
	for i := 0; i < workers; i++ {
		q.wg.Add(1)
		go q.process()
	}
	return q
}

// Enqueue never blocks. It fails with ErrQueueFull when the buffer is saturated.
func (q *Queue) Enqueue(job Job) error {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return ErrQueueClosed
	}

	select {
	case q.jobs <- job:
		return nil
	default:
		q.log.Warn().Str("job", job.Name).Str("tenant_id", job.TenantID).Msg("job queue full, dropping job")
		if q.OnDrop != nil {
			q.OnDrop(job)
		}
		return ErrQueueFull
	}
}

func (q *Queue) process() {
	defer q.wg.Done()
	for job := range q.jobs {
		q.run(job)
	}
}

func (q *Queue) run(job Job) {
	ctx, cancel := context.WithTimeout(context.Background(), q.timeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			q.log.Error().Interface("panic", r).Str("job", job.Name).Msg("job panicked")
		}
	}()

	if err := job.Run(ctx); err != nil {
		q.log.Warn().Err(err).Str("job", job.Name).Str("tenant_id", job.TenantID).Msg("job failed")
	}
}

// Close stops accepting jobs and waits for queued ones to finish or for ctx to end.
func (q *Queue) Close(ctx context.Context) error {
	q.mu.Lock()
	if !q.closed {
		q.closed = true
		close(q.jobs)
	}
	q.mu.Unlock()

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
