package queue

import (
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/mknight/arbiter/internal/router"
)

// Kind identifies which public operation created a job.
type Kind string

const (
	KindAnalyze Kind = "analyze"
	KindExecute Kind = "execute"
	KindFix     Kind = "fix"
)

// Status is the job lifecycle state.
type Status string

const (
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Terminal reports whether a status is final.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Payload carries the operation input. Text holds the request for analyze and
// execute; Code and Issue are set for fix.
type Payload struct {
	Kind  Kind   `json:"kind"`
	Text  string `json:"text,omitempty"`
	Code  string `json:"code,omitempty"`
	Issue string `json:"issue,omitempty"`
}

// Job is one unit of dispatched work. A job is owned by the queue while
// queued and by exactly one worker while running.
type Job struct {
	ID             string          `json:"id"`
	Payload        Payload         `json:"payload"`
	Priority       int             `json:"priority"`
	Status         Status          `json:"status"`
	AssignedWorker int             `json:"assigned_worker,omitempty"` // 0 means unassigned
	Routing        router.Decision `json:"routing"`
	CreatedAt      time.Time       `json:"created_at"`
	StartedAt      *time.Time      `json:"started_at,omitempty"`
	EndedAt        *time.Time      `json:"ended_at,omitempty"`
	Result         any             `json:"result,omitempty"`
	Error          *string         `json:"error,omitempty"`
}

// NewJob creates a queued job with a fresh id.
func NewJob(payload Payload, decision router.Decision) *Job {
	return &Job{
		ID:        uuid.NewString(),
		Payload:   payload,
		Status:    StatusQueued,
		Routing:   decision,
		CreatedAt: time.Now().UTC(),
	}
}

var (
	// ErrQueueFull is returned by Push when the queue is at capacity.
	// Recoverable: the caller retries or backs off.
	ErrQueueFull = errors.New("queue: full")

	// ErrClosed is returned once the queue has been shut down.
	ErrClosed = errors.New("queue: closed")
)
