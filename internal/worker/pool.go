// Package worker runs dispatched jobs on a fixed pool of goroutines. Submit
// hands a job straight to an idle worker when one is parked; otherwise the
// job waits in the bounded queue until a worker frees up. Pool size is fixed
// for the pool's lifetime.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/mknight/arbiter/internal/config"
	"github.com/mknight/arbiter/internal/events"
	"github.com/mknight/arbiter/internal/log"
	"github.com/mknight/arbiter/internal/queue"
	"github.com/mknight/arbiter/internal/storage"
)

var (
	// ErrJobTimeout marks a job whose execution exceeded the per-job timeout.
	// The worker is recycled; the executor's goroutine unwinds on ctx.
	ErrJobTimeout = errors.New("worker: job timed out")

	// ErrPoolClosed is returned by Submit after Close.
	ErrPoolClosed = errors.New("worker: pool closed")
)

// Status is a point-in-time snapshot of the pool. It never blocks on
// execution.
type Status struct {
	Total       int `json:"total"`
	Active      int `json:"active"`
	Idle        int `json:"idle"`
	QueueLength int `json:"queue_length"`
	Completed   int `json:"completed"`
}

// Ticket tracks one submitted job until it reaches a terminal status.
type Ticket struct {
	job  *queue.Job
	done chan struct{}
}

// Wait blocks until the job is terminal or ctx is cancelled. The returned job
// is safe to read after Wait returns nil.
func (t *Ticket) Wait(ctx context.Context) (*queue.Job, error) {
	select {
	case <-t.done:
		return t.job, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Pool is a fixed set of workers pulling from a shared bounded queue.
//
// Invariant: a worker parks in the idle set only after finding the queue
// empty, with both checks under mu, so direct handoff never reorders queued
// jobs. Submit's queue push happens outside mu; a worker parking in that
// window is caught by the wakeParked re-check after every push.
type Pool struct {
	cfg    config.PoolConfig
	queue  *queue.Queue
	exec   Executor
	hub    *events.Hub
	joblog *storage.JobLog
	logger *slog.Logger

	mu        sync.Mutex
	idle      []chan *queue.Job // parked workers, one slot each
	busy      map[int]bool      // worker id -> running a job
	tickets   map[string]*Ticket
	history   []*queue.Job // terminal jobs, oldest first
	completed int
	closed    bool

	wg sync.WaitGroup
}

// NewPool creates a pool over q. The hub and job log are optional.
func NewPool(cfg config.PoolConfig, q *queue.Queue, exec Executor, hub *events.Hub, joblog *storage.JobLog) *Pool {
	return &Pool{
		cfg:     cfg,
		queue:   q,
		exec:    exec,
		hub:     hub,
		joblog:  joblog,
		logger:  log.WithComponent("worker"),
		busy:    make(map[int]bool),
		tickets: make(map[string]*Ticket),
	}
}

// Start launches the workers. It returns immediately; workers run until ctx
// is cancelled or Close is called.
func (p *Pool) Start(ctx context.Context) {
	p.logger.Info("worker pool starting", "workers", p.cfg.Workers)
	for i := 1; i <= p.cfg.Workers; i++ {
		p.wg.Add(1)
		go p.runWorker(ctx, i)
	}
}

// Submit routes a job into the pool. Direct handoff to a parked worker when
// one exists; otherwise a bounded wait for queue space, after which the
// caller is told to back off with queue.ErrQueueFull.
func (p *Pool) Submit(ctx context.Context, job *queue.Job) (*Ticket, error) {
	t := &Ticket{job: job, done: make(chan struct{})}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, ErrPoolClosed
	}
	p.tickets[job.ID] = t
	if n := len(p.idle); n > 0 {
		ch := p.idle[n-1]
		p.idle = p.idle[:n-1]
		p.mu.Unlock()
		p.publish(events.TypeJobQueued, job)
		ch <- job
		return t, nil
	}
	p.mu.Unlock()

	waitCtx, cancel := context.WithTimeout(ctx, p.cfg.SubmitWait)
	defer cancel()
	if err := p.queue.PushWait(waitCtx, job); err != nil {
		p.dropTicket(job.ID)
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, queue.ErrQueueFull
		}
		return nil, err
	}
	p.publish(events.TypeJobQueued, job)
	p.wakeParked()
	return t, nil
}

// wakeParked hands the queue head to a parked worker, if both exist. A worker
// that parked between a submitter's idle check and its queue push would
// otherwise sleep on work it cannot see until the next direct handoff.
func (p *Pool) wakeParked() {
	p.mu.Lock()
	if p.closed || len(p.idle) == 0 {
		p.mu.Unlock()
		return
	}
	job := p.queue.TryPop()
	if job == nil {
		p.mu.Unlock()
		return
	}
	n := len(p.idle)
	ch := p.idle[n-1]
	p.idle = p.idle[:n-1]
	p.mu.Unlock()

	ch <- job
}

// Status reports the pool snapshot without touching executing workers.
func (p *Pool) Status() Status {
	p.mu.Lock()
	active := 0
	for _, b := range p.busy {
		if b {
			active++
		}
	}
	completed := p.completed
	p.mu.Unlock()

	return Status{
		Total:       p.cfg.Workers,
		Active:      active,
		Idle:        p.cfg.Workers - active,
		QueueLength: p.queue.Len(),
		Completed:   completed,
	}
}

// History returns the retained terminal jobs, newest first.
func (p *Pool) History() []*queue.Job {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]*queue.Job, len(p.history))
	for i, j := range p.history {
		out[len(out)-1-i] = j
	}
	return out
}

// Close stops accepting submissions, wakes parked workers, and waits for
// in-flight jobs to finish.
func (p *Pool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	parked := p.idle
	p.idle = nil
	p.mu.Unlock()

	p.queue.Close()
	for _, ch := range parked {
		close(ch)
	}
	p.wg.Wait()
	p.logger.Info("worker pool stopped")
}

func (p *Pool) runWorker(ctx context.Context, id int) {
	defer p.wg.Done()
	ch := make(chan *queue.Job, 1)

	for {
		p.mu.Lock()
		if p.closed {
			p.mu.Unlock()
			return
		}
		job := p.queue.TryPop()
		if job == nil {
			p.idle = append(p.idle, ch)
			p.mu.Unlock()

			select {
			case job = <-ch:
				if job == nil { // channel closed by Close
					return
				}
			case <-ctx.Done():
				p.unpark(ch)
				return
			}
		} else {
			p.mu.Unlock()
		}

		p.runJob(ctx, id, job)
	}
}

// unpark removes a worker's handoff slot from the idle set on shutdown. If a
// submitter already claimed the slot, the in-flight job is drained and failed
// rather than lost.
func (p *Pool) unpark(ch chan *queue.Job) {
	p.mu.Lock()
	for i, c := range p.idle {
		if c == ch {
			p.idle = append(p.idle[:i], p.idle[i+1:]...)
			p.mu.Unlock()
			return
		}
	}
	p.mu.Unlock()

	select {
	case job := <-ch:
		if job != nil {
			p.finishJob(job, nil, fmt.Errorf("worker: pool shutting down"))
		}
	default:
	}
}

func (p *Pool) runJob(ctx context.Context, workerID int, job *queue.Job) {
	logger := log.WithWorker(workerID).With("job_id", job.ID, "kind", string(job.Payload.Kind))

	now := time.Now().UTC()
	job.Status = queue.StatusRunning
	job.AssignedWorker = workerID
	job.StartedAt = &now

	p.setBusy(workerID, true)
	defer p.setBusy(workerID, false)

	p.publish(events.TypeJobStarted, job)
	logger.Info("job started", "target_tier", job.Routing.TargetTier)

	jctx, cancel := context.WithTimeout(ctx, p.cfg.JobTimeout)
	defer cancel()

	type execOutcome struct {
		result any
		err    error
	}
	outcome := make(chan execOutcome, 1)
	go func() {
		result, err := p.exec.Execute(jctx, job)
		outcome <- execOutcome{result, err}
	}()

	select {
	case out := <-outcome:
		p.finishJob(job, out.result, out.err)
	case <-jctx.Done():
		// The executor goroutine unwinds on jctx; the worker moves on now.
		p.finishJob(job, nil, fmt.Errorf("%w after %s", ErrJobTimeout, p.cfg.JobTimeout))
	}

	if job.Status == queue.StatusFailed {
		logger.Warn("job failed", "error", *job.Error)
	} else {
		logger.Info("job completed", "duration", time.Since(now))
	}
}

func (p *Pool) finishJob(job *queue.Job, result any, err error) {
	now := time.Now().UTC()
	job.EndedAt = &now
	if err != nil {
		msg := err.Error()
		job.Status = queue.StatusFailed
		job.Error = &msg
	} else {
		job.Status = queue.StatusCompleted
		job.Result = result
	}

	p.mu.Lock()
	p.completed++
	p.history = append(p.history, job)
	if p.cfg.HistorySize > 0 && len(p.history) > p.cfg.HistorySize {
		p.history = p.history[len(p.history)-p.cfg.HistorySize:]
	}
	t := p.tickets[job.ID]
	delete(p.tickets, job.ID)
	p.mu.Unlock()

	if job.Status == queue.StatusFailed {
		p.publish(events.TypeJobFailed, job)
	} else {
		p.publish(events.TypeJobCompleted, job)
	}
	p.appendLog(job)

	if t != nil {
		close(t.done)
	}
}

func (p *Pool) setBusy(id int, busy bool) {
	p.mu.Lock()
	p.busy[id] = busy
	p.mu.Unlock()
}

func (p *Pool) dropTicket(id string) {
	p.mu.Lock()
	delete(p.tickets, id)
	p.mu.Unlock()
}

func (p *Pool) publish(eventType string, job *queue.Job) {
	if p.hub == nil {
		return
	}
	p.hub.Publish(eventType, map[string]any{
		"job_id": job.ID,
		"kind":   string(job.Payload.Kind),
		"status": string(job.Status),
		"worker": job.AssignedWorker,
	})
}

func (p *Pool) appendLog(job *queue.Job) {
	if p.joblog == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := p.joblog.Append(ctx, job); err != nil {
		p.logger.Warn("job log append failed", "job_id", job.ID, "error", err)
	}
}
