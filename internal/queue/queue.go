// Package queue provides the bounded in-memory FIFO between the dispatcher
// and the worker pool. Push fails fast when full (explicit backpressure, no
// retry-with-sleep polling); Pop blocks until work, cancellation, or close.
package queue

import (
	"context"
	"sync"
)

// Queue is a bounded FIFO of jobs. Safe for concurrent use; a popped job is
// delivered to exactly one caller.
type Queue struct {
	mu       sync.Mutex
	jobs     []*Job
	capacity int

	// notEmpty and notFull carry at most one pending wakeup each; waiters
	// re-check state in a loop, so a consumed signal is never lost work.
	notEmpty chan struct{}
	notFull  chan struct{}

	closed   bool
	closedCh chan struct{}
}

// New creates a queue with the given capacity. Capacity must be positive;
// this is enforced by config validation.
func New(capacity int) *Queue {
	return &Queue{
		capacity: capacity,
		notEmpty: make(chan struct{}, 1),
		notFull:  make(chan struct{}, 1),
		closedCh: make(chan struct{}),
	}
}

// Push appends a job, failing immediately with ErrQueueFull at capacity.
func (q *Queue) Push(job *Job) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return ErrClosed
	}
	if len(q.jobs) >= q.capacity {
		q.mu.Unlock()
		return ErrQueueFull
	}
	q.jobs = append(q.jobs, job)
	q.mu.Unlock()

	signal(q.notEmpty)
	return nil
}

// PushWait appends a job, waiting for space until ctx is done. On ctx expiry
// it returns ctx.Err; callers decide whether that means backpressure.
func (q *Queue) PushWait(ctx context.Context, job *Job) error {
	for {
		err := q.Push(job)
		if err != ErrQueueFull {
			return err
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-q.closedCh:
			return ErrClosed
		case <-q.notFull:
			// Space may be available; re-check.
		}
	}
}

// Pop removes and returns the oldest job, blocking until one is available.
// Returns ErrClosed once the queue is shut down and drained, or ctx.Err on
// cancellation.
func (q *Queue) Pop(ctx context.Context) (*Job, error) {
	for {
		q.mu.Lock()
		if len(q.jobs) > 0 {
			job := q.jobs[0]
			q.jobs = q.jobs[1:]
			remaining := len(q.jobs)
			q.mu.Unlock()

			signal(q.notFull)
			if remaining > 0 {
				// Wake the next waiter; a single buffered signal only covers
				// one of possibly many queued jobs.
				signal(q.notEmpty)
			}
			return job, nil
		}
		closed := q.closed
		q.mu.Unlock()

		if closed {
			return nil, ErrClosed
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-q.closedCh:
			// Re-check: jobs pushed before close still drain.
		case <-q.notEmpty:
		}
	}
}

// TryPop removes and returns the oldest job without blocking, or nil when
// the queue is empty.
func (q *Queue) TryPop() *Job {
	q.mu.Lock()
	if len(q.jobs) == 0 {
		q.mu.Unlock()
		return nil
	}
	job := q.jobs[0]
	q.jobs = q.jobs[1:]
	q.mu.Unlock()

	signal(q.notFull)
	return job
}

// Len returns the number of queued jobs.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.jobs)
}

// Close shuts the queue down. Queued jobs remain poppable; new pushes fail
// with ErrClosed.
func (q *Queue) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	q.mu.Unlock()
	close(q.closedCh)
}

func signal(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}
