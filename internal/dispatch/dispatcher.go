package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/mknight/arbiter/internal/bridge"
	"github.com/mknight/arbiter/internal/log"
	"github.com/mknight/arbiter/internal/queue"
	"github.com/mknight/arbiter/internal/registry"
	"github.com/mknight/arbiter/internal/router"
	"github.com/mknight/arbiter/internal/worker"
)

//go:generate mockgen -destination=mocks/mock_pool.go -package=mocks github.com/mknight/arbiter/internal/dispatch PoolService,Ticket

// Ticket is a pending job handle. Satisfied by worker.Ticket.
type Ticket interface {
	Wait(ctx context.Context) (*queue.Job, error)
}

// PoolService is the slice of the worker pool the dispatcher uses.
type PoolService interface {
	Submit(ctx context.Context, job *queue.Job) (Ticket, error)
	Status() worker.Status
}

// BridgeStater reports the bridge lifecycle state for status snapshots.
type BridgeStater interface {
	State() bridge.State
}

// PoolAdapter lifts a concrete worker.Pool to the PoolService interface.
type PoolAdapter struct {
	Pool *worker.Pool
}

func (a PoolAdapter) Submit(ctx context.Context, job *queue.Job) (Ticket, error) {
	t, err := a.Pool.Submit(ctx, job)
	if err != nil {
		return nil, err
	}
	return t, nil
}

func (a PoolAdapter) Status() worker.Status { return a.Pool.Status() }

// AnalyzeOutput is the result of Analyze: the routing decision plus the
// analysis produced by whichever engine handled it.
type AnalyzeOutput struct {
	Routing router.Decision       `json:"routing"`
	Result  worker.AnalysisResult `json:"result"`
}

// ExecuteOutput is the result of Execute. Success reflects the executed
// action; the dispatch itself always completes.
type ExecuteOutput struct {
	Result         worker.ExecutionResult `json:"result"`
	ExecutionMode  string                 `json:"execution_mode"`
	ComponentsUsed []int                  `json:"components_used"`
	DurationMs     int64                  `json:"duration_ms"`
	Success        bool                   `json:"success"`
}

// FixOutput is the result of Fix. When the fix machinery fails in any way the
// original code comes back unchanged with Confidence 0 and FixMethod
// "fallback".
type FixOutput struct {
	FixedCode  string  `json:"fixed_code"`
	WorkerID   int     `json:"worker_id"`
	FixMethod  string  `json:"fix_method"`
	Confidence float64 `json:"confidence"`
	DurationMs int64   `json:"duration_ms"`
}

// WorkerCounts is the worker portion of a status snapshot.
type WorkerCounts struct {
	Total  int `json:"total"`
	Active int `json:"active"`
	Idle   int `json:"idle"`
}

// StatusOutput is a point-in-time snapshot. It never blocks on execution.
type StatusOutput struct {
	Workers        WorkerCounts `json:"workers"`
	QueueLength    int          `json:"queue_length"`
	CompletedCount int          `json:"completed_count"`
	Bridge         string       `json:"bridge"`
}

// Dispatcher wires the router, registry, and pool into the four public
// operations. One instance per engine; tests construct their own.
type Dispatcher struct {
	registry *registry.Registry
	router   *router.Router
	pool     PoolService
	bridge   BridgeStater
	logger   *slog.Logger
}

// New creates a Dispatcher. bridge may be nil when no bridge is configured.
func New(reg *registry.Registry, rt *router.Router, pool PoolService, br BridgeStater) *Dispatcher {
	return &Dispatcher{
		registry: reg,
		router:   rt,
		pool:     pool,
		bridge:   br,
		logger:   log.WithComponent("dispatch"),
	}
}

// Analyze routes text and returns the routing decision with the analysis.
// If anything downstream fails, the deterministic local analysis stands in.
func (d *Dispatcher) Analyze(ctx context.Context, text string) (*AnalyzeOutput, error) {
	decision, err := d.router.Route(text, d.registry)
	if err != nil {
		return nil, fmt.Errorf("route analyze: %w", err)
	}

	job := queue.NewJob(queue.Payload{Kind: queue.KindAnalyze, Text: text}, decision)
	settled := d.runJob(ctx, job)

	out := &AnalyzeOutput{Routing: decision}
	if settled != nil {
		if r, ok := settled.Result.(worker.AnalysisResult); ok {
			out.Result = r
			return out, nil
		}
	}
	out.Result = localAnalysis(ctx, text)
	return out, nil
}

// Execute runs a command through the engine. The dispatch always succeeds;
// the action's own outcome is reported in the result payload.
func (d *Dispatcher) Execute(ctx context.Context, command string) (*ExecuteOutput, error) {
	decision, err := d.router.Route(command, d.registry)
	if err != nil {
		return nil, fmt.Errorf("route execute: %w", err)
	}

	start := time.Now()
	job := queue.NewJob(queue.Payload{Kind: queue.KindExecute, Text: command}, decision)
	settled := d.runJob(ctx, job)
	elapsed := time.Since(start).Milliseconds()

	out := &ExecuteOutput{
		ExecutionMode:  string(decision.Mode),
		ComponentsUsed: decision.Components,
		DurationMs:     elapsed,
	}
	if settled != nil {
		if r, ok := settled.Result.(worker.ExecutionResult); ok {
			out.Result = r
			out.Success = r.Success
			return out, nil
		}
	}
	out.Result = worker.ExecutionResult{
		Output:  settledError(settled),
		Success: false,
		Engine:  "none",
	}
	return out, nil
}

// Fix attempts to repair code. The input code is never destructively altered:
// every failure path returns it unchanged.
func (d *Dispatcher) Fix(ctx context.Context, code, issue string) (*FixOutput, error) {
	decision, err := d.router.Route(code+"\n"+issue, d.registry)
	if err != nil {
		return nil, fmt.Errorf("route fix: %w", err)
	}

	start := time.Now()
	job := queue.NewJob(queue.Payload{Kind: queue.KindFix, Code: code, Issue: issue}, decision)
	settled := d.runJob(ctx, job)
	elapsed := time.Since(start).Milliseconds()

	out := &FixOutput{
		FixedCode:  code,
		FixMethod:  "fallback",
		Confidence: 0,
		DurationMs: elapsed,
	}
	if settled != nil {
		out.WorkerID = settled.AssignedWorker
		if r, ok := settled.Result.(worker.FixResult); ok {
			out.FixedCode = r.FixedCode
			out.FixMethod = r.Method
			out.Confidence = r.Confidence
		}
	}
	return out, nil
}

// Status snapshots the pool and bridge without touching executing workers.
func (d *Dispatcher) Status() *StatusOutput {
	st := d.pool.Status()
	out := &StatusOutput{
		Workers: WorkerCounts{
			Total:  st.Total,
			Active: st.Active,
			Idle:   st.Idle,
		},
		QueueLength:    st.QueueLength,
		CompletedCount: st.Completed,
	}
	if d.bridge != nil {
		out.Bridge = string(d.bridge.State())
	} else {
		out.Bridge = string(bridge.StateNotStarted)
	}
	return out
}

// runJob submits one job and awaits its terminal state. It returns the
// settled job, or nil when the wait was abandoned; an abandoned job may still
// be executing, so the caller must not touch it.
func (d *Dispatcher) runJob(ctx context.Context, job *queue.Job) *queue.Job {
	ticket, err := d.pool.Submit(ctx, job)
	if err != nil {
		// Rejected before any worker saw it; safe to settle locally.
		d.logger.Warn("submit rejected", "job_id", job.ID, "error", err)
		msg := err.Error()
		now := time.Now().UTC()
		job.Status = queue.StatusFailed
		job.Error = &msg
		job.EndedAt = &now
		return job
	}
	settled, err := ticket.Wait(ctx)
	if err != nil {
		d.logger.Warn("wait abandoned", "job_id", job.ID, "error", err)
		return nil
	}
	return settled
}

// localAnalysis produces the deterministic stand-in analysis when execution
// never yielded one.
func localAnalysis(ctx context.Context, text string) worker.AnalysisResult {
	result, err := worker.LocalExecutor{}.Execute(ctx, &queue.Job{
		Payload: queue.Payload{Kind: queue.KindAnalyze, Text: text},
	})
	if err != nil {
		return worker.AnalysisResult{Summary: "[local] analysis unavailable", Engine: "local"}
	}
	return result.(worker.AnalysisResult)
}

func settledError(job *queue.Job) string {
	if job == nil {
		return "execution abandoned"
	}
	if job.Error != nil {
		return *job.Error
	}
	return "execution produced no result"
}
