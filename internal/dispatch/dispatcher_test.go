package dispatch_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/golang/mock/gomock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mknight/arbiter/internal/bridge"
	"github.com/mknight/arbiter/internal/config"
	"github.com/mknight/arbiter/internal/dispatch"
	"github.com/mknight/arbiter/internal/dispatch/mocks"
	"github.com/mknight/arbiter/internal/protocol"
	"github.com/mknight/arbiter/internal/queue"
	"github.com/mknight/arbiter/internal/registry"
	"github.com/mknight/arbiter/internal/router"
	"github.com/mknight/arbiter/internal/worker"
)

func newTestDispatcher(t *testing.T, pool dispatch.PoolService, br dispatch.BridgeStater) *dispatch.Dispatcher {
	t.Helper()
	reg := registry.Builtin()
	rt := router.New(config.Defaults().Router)
	return dispatch.New(reg, rt, pool, br)
}

func settledJob(kind queue.Kind, result any) *queue.Job {
	now := time.Now().UTC()
	job := queue.NewJob(queue.Payload{Kind: kind}, router.Decision{})
	job.Status = queue.StatusCompleted
	job.AssignedWorker = 3
	job.StartedAt = &now
	job.EndedAt = &now
	job.Result = result
	return job
}

func TestAnalyzeReturnsRoutingAndResult(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	pool := mocks.NewMockPoolService(ctrl)
	ticket := mocks.NewMockTicket(ctrl)
	pool.EXPECT().Submit(gomock.Any(), gomock.Any()).Return(ticket, nil)
	ticket.EXPECT().Wait(gomock.Any()).Return(
		settledJob(queue.KindAnalyze, worker.AnalysisResult{Summary: "looks fine", Engine: "bridge"}), nil)

	d := newTestDispatcher(t, pool, nil)
	out, err := d.Analyze(context.Background(), "review this design for performance issues")
	require.NoError(t, err)

	assert.Equal(t, "looks fine", out.Result.Summary)
	assert.Equal(t, "bridge", out.Result.Engine)
	assert.GreaterOrEqual(t, out.Routing.TargetTier, 1)
	assert.NotEmpty(t, out.Routing.Capabilities)
}

func TestAnalyzeFallsBackWhenSubmitRejected(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	pool := mocks.NewMockPoolService(ctrl)
	pool.EXPECT().Submit(gomock.Any(), gomock.Any()).Return(nil, queue.ErrQueueFull)

	d := newTestDispatcher(t, pool, nil)
	out, err := d.Analyze(context.Background(), "some text")
	require.NoError(t, err, "recoverable failures must not surface as errors")

	assert.Equal(t, "local", out.Result.Engine)
	assert.Contains(t, out.Result.Summary, "some text")
}

func TestExecuteReportsFailureInPayload(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	failed := settledJob(queue.KindExecute, nil)
	failed.Status = queue.StatusFailed
	msg := "worker: job timed out after 1s"
	failed.Error = &msg

	pool := mocks.NewMockPoolService(ctrl)
	ticket := mocks.NewMockTicket(ctrl)
	pool.EXPECT().Submit(gomock.Any(), gomock.Any()).Return(ticket, nil)
	ticket.EXPECT().Wait(gomock.Any()).Return(failed, nil)

	d := newTestDispatcher(t, pool, nil)
	out, err := d.Execute(context.Background(), "deploy the thing")
	require.NoError(t, err, "execute always succeeds at the dispatch level")

	assert.False(t, out.Success)
	assert.Contains(t, out.Result.Output, "timed out")
	assert.NotEmpty(t, out.ExecutionMode)
	assert.NotEmpty(t, out.ComponentsUsed)
	assert.GreaterOrEqual(t, out.DurationMs, int64(0))
}

func TestExecuteCarriesActionOutcome(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	pool := mocks.NewMockPoolService(ctrl)
	ticket := mocks.NewMockTicket(ctrl)
	pool.EXPECT().Submit(gomock.Any(), gomock.Any()).Return(ticket, nil)
	ticket.EXPECT().Wait(gomock.Any()).Return(
		settledJob(queue.KindExecute, worker.ExecutionResult{Output: "done", Success: true, Engine: "bridge"}), nil)

	d := newTestDispatcher(t, pool, nil)
	out, err := d.Execute(context.Background(), "list files")
	require.NoError(t, err)

	assert.True(t, out.Success)
	assert.Equal(t, "done", out.Result.Output)
}

func TestFixSuccessUsesBridgeResult(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	pool := mocks.NewMockPoolService(ctrl)
	ticket := mocks.NewMockTicket(ctrl)
	pool.EXPECT().Submit(gomock.Any(), gomock.Any()).Return(ticket, nil)
	ticket.EXPECT().Wait(gomock.Any()).Return(
		settledJob(queue.KindFix, worker.FixResult{FixedCode: "x = 2", Confidence: 0.85, Method: "bridge", Engine: "bridge"}), nil)

	d := newTestDispatcher(t, pool, nil)
	out, err := d.Fix(context.Background(), "x = 1", "off by one")
	require.NoError(t, err)

	assert.Equal(t, "x = 2", out.FixedCode)
	assert.Equal(t, "bridge", out.FixMethod)
	assert.Equal(t, 0.85, out.Confidence)
	assert.Equal(t, 3, out.WorkerID)
}

func TestFixNeverAltersCodeOnFailure(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	pool := mocks.NewMockPoolService(ctrl)
	pool.EXPECT().Submit(gomock.Any(), gomock.Any()).Return(nil, errors.New("pool exploded"))

	const code = "def f(): pass"
	d := newTestDispatcher(t, pool, nil)
	out, err := d.Fix(context.Background(), code, "syntax error")
	require.NoError(t, err)

	assert.Equal(t, code, out.FixedCode)
	assert.Equal(t, "fallback", out.FixMethod)
	assert.Zero(t, out.Confidence)
}

// unavailableCaller stands in for a degraded bridge.
type unavailableCaller struct{}

func (unavailableCaller) Call(context.Context, protocol.Method, []any) (*protocol.Response, error) {
	return nil, bridge.ErrUnavailable
}

type degradedStater struct{}

func (degradedStater) State() bridge.State { return bridge.StateDegraded }

// TestFixWithDegradedBridge runs the full pool path: a degraded bridge forces
// the local fallback, which returns the original code untouched.
func TestFixWithDegradedBridge(t *testing.T) {
	cfg := config.Defaults()
	q := queue.New(cfg.Pool.QueueCapacity)
	exec := worker.NewBridgeExecutor(unavailableCaller{})
	pool := worker.NewPool(cfg.Pool, q, exec, nil, nil)
	pool.Start(context.Background())
	defer pool.Close()

	d := newTestDispatcher(t, dispatch.PoolAdapter{Pool: pool}, degradedStater{})

	const code = "def f(): pass"
	out, err := d.Fix(context.Background(), code, "syntax error")
	require.NoError(t, err)

	assert.Equal(t, code, out.FixedCode)
	assert.Equal(t, "fallback", out.FixMethod)
	assert.Zero(t, out.Confidence)
	assert.NotZero(t, out.WorkerID)
}

func TestStatusSnapshot(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	pool := mocks.NewMockPoolService(ctrl)
	pool.EXPECT().Status().Return(worker.Status{
		Total: 8, Active: 2, Idle: 6, QueueLength: 3, Completed: 41,
	})

	d := newTestDispatcher(t, pool, degradedStater{})
	st := d.Status()

	assert.Equal(t, dispatch.WorkerCounts{Total: 8, Active: 2, Idle: 6}, st.Workers)
	assert.Equal(t, 3, st.QueueLength)
	assert.Equal(t, 41, st.CompletedCount)
	assert.Equal(t, string(bridge.StateDegraded), st.Bridge)
}
