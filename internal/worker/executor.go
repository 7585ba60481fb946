package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/mknight/arbiter/internal/bridge"
	"github.com/mknight/arbiter/internal/log"
	"github.com/mknight/arbiter/internal/protocol"
	"github.com/mknight/arbiter/internal/queue"
)

// Executor runs one job's payload and produces its result. Implementations
// must honor ctx cancellation; a stuck executor would otherwise pin a worker
// until its job timeout fires.
type Executor interface {
	Execute(ctx context.Context, job *queue.Job) (any, error)
}

// Result shapes produced by executors. The dispatcher reads these back off
// the job, so both executors normalize into the same types.

// AnalysisResult is the outcome of an analyze job.
type AnalysisResult struct {
	Summary string `json:"summary"`
	Engine  string `json:"engine"`
}

// ExecutionResult is the outcome of an execute job. Success reflects the
// executed action itself, not the dispatch machinery.
type ExecutionResult struct {
	Output  string `json:"output"`
	Success bool   `json:"success"`
	Engine  string `json:"engine"`
}

// FixResult is the outcome of a fix job. Method is "bridge" when the external
// process produced the fix and "fallback" when the original code came back
// untouched.
type FixResult struct {
	FixedCode  string  `json:"fixed_code"`
	Confidence float64 `json:"confidence"`
	Method     string  `json:"method"`
	Engine     string  `json:"engine"`
}

const (
	engineLocal  = "local"
	engineBridge = "bridge"

	fixMethodBridge   = "bridge"
	fixMethodFallback = "fallback"

	// localSummaryLimit caps how much of the input the local analysis echoes.
	localSummaryLimit = 120
)

// LocalExecutor is the built-in fallback execution unit. It wraps the payload
// with a marker and returns it; deterministic, instant, and always available.
type LocalExecutor struct{}

func (LocalExecutor) Execute(_ context.Context, job *queue.Job) (any, error) {
	switch job.Payload.Kind {
	case queue.KindAnalyze:
		return AnalysisResult{
			Summary: "[local] " + truncate(job.Payload.Text, localSummaryLimit),
			Engine:  engineLocal,
		}, nil
	case queue.KindExecute:
		return ExecutionResult{
			Output:  "[local] " + job.Payload.Text,
			Success: true,
			Engine:  engineLocal,
		}, nil
	case queue.KindFix:
		// Fixing must never alter the input when no real fixer ran.
		return FixResult{
			FixedCode:  job.Payload.Code,
			Confidence: 0,
			Method:     fixMethodFallback,
			Engine:     engineLocal,
		}, nil
	default:
		return nil, fmt.Errorf("executor: unknown job kind %q", job.Payload.Kind)
	}
}

// BridgeCaller is the slice of the bridge client the executor needs.
type BridgeCaller interface {
	Call(ctx context.Context, method protocol.Method, args []any) (*protocol.Response, error)
}

// BridgeExecutor delegates jobs to the external process and falls back to
// local execution whenever the bridge cannot serve the call.
type BridgeExecutor struct {
	caller   BridgeCaller
	fallback LocalExecutor
	logger   *slog.Logger
}

// NewBridgeExecutor wraps a bridge caller with local fallback.
func NewBridgeExecutor(caller BridgeCaller) *BridgeExecutor {
	return &BridgeExecutor{
		caller: caller,
		logger: log.WithComponent("executor"),
	}
}

func (e *BridgeExecutor) Execute(ctx context.Context, job *queue.Job) (any, error) {
	method, args, err := bridgeCall(job)
	if err != nil {
		return nil, err
	}

	resp, err := e.caller.Call(ctx, method, args)
	if err != nil {
		if recoverableBridgeError(err) {
			e.logger.Warn("bridge call failed, using local fallback",
				"job_id", job.ID, "method", string(method), "error", err)
			return e.fallback.Execute(ctx, job)
		}
		return nil, err
	}
	if resp.Error != "" {
		e.logger.Warn("bridge reported error, using local fallback",
			"job_id", job.ID, "method", string(method), "error", resp.Error)
		return e.fallback.Execute(ctx, job)
	}

	result, err := decodeBridgeResult(job.Payload.Kind, resp.Result)
	if err != nil {
		e.logger.Warn("bridge result unusable, using local fallback",
			"job_id", job.ID, "error", err)
		return e.fallback.Execute(ctx, job)
	}
	return result, nil
}

func bridgeCall(job *queue.Job) (protocol.Method, []any, error) {
	switch job.Payload.Kind {
	case queue.KindAnalyze:
		return protocol.MethodAnalyze, []any{job.Payload.Text}, nil
	case queue.KindExecute:
		return protocol.MethodExecute, []any{job.Payload.Text}, nil
	case queue.KindFix:
		return protocol.MethodFix, []any{job.Payload.Code, job.Payload.Issue}, nil
	default:
		return "", nil, fmt.Errorf("executor: unknown job kind %q", job.Payload.Kind)
	}
}

func recoverableBridgeError(err error) bool {
	return errors.Is(err, bridge.ErrUnavailable) ||
		errors.Is(err, bridge.ErrCallTimeout) ||
		errors.Is(err, bridge.ErrClosed)
}

// decodeBridgeResult coerces the raw JSON value returned by the bridge into
// the typed result for the job kind. A re-marshal round trip keeps the bridge
// free to answer with any conforming JSON object.
func decodeBridgeResult(kind queue.Kind, raw any) (any, error) {
	data, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("encode bridge result: %w", err)
	}

	switch kind {
	case queue.KindAnalyze:
		var r AnalysisResult
		if err := json.Unmarshal(data, &r); err != nil {
			return nil, fmt.Errorf("decode analysis result: %w", err)
		}
		if r.Summary == "" {
			return nil, errors.New("analysis result missing summary")
		}
		r.Engine = engineBridge
		return r, nil
	case queue.KindExecute:
		var r ExecutionResult
		if err := json.Unmarshal(data, &r); err != nil {
			return nil, fmt.Errorf("decode execution result: %w", err)
		}
		r.Engine = engineBridge
		return r, nil
	case queue.KindFix:
		var r FixResult
		if err := json.Unmarshal(data, &r); err != nil {
			return nil, fmt.Errorf("decode fix result: %w", err)
		}
		if r.FixedCode == "" {
			return nil, errors.New("fix result missing fixed_code")
		}
		r.Method = fixMethodBridge
		r.Engine = engineBridge
		return r, nil
	default:
		return nil, fmt.Errorf("unknown job kind %q", kind)
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return strings.TrimSpace(s[:n]) + "..."
}
