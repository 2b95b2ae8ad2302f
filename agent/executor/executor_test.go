package executor_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/agentcore-dev/runtime/agent/executor"
	"github.com/agentcore-dev/runtime/hooks"
)

func newDispatcher(toolFn executor.ToolRunnerFunc, hookFn executor.HookRunnerFunc) *executor.InProcess {
	return executor.NewInProcess(toolFn, hookFn, 16)
}

func TestToolExecution_CompletesSuccessfully(t *testing.T) {
	d := newDispatcher(
		func(ctx context.Context, job executor.ToolJob) (any, error) { return "ok", nil },
		nil,
	)
	require.NoError(t, d.StartToolExecution(context.Background(), executor.ToolJob{ID: "t1"}))

	evt, err := d.Next(context.Background())
	require.NoError(t, err)
	end := evt.(executor.ToolExecutionEndEvent)
	require.Equal(t, "t1", end.ID)
	ok, isOk := end.Outcome.(executor.ToolOk)
	require.True(t, isOk)
	require.Equal(t, "ok", ok.Output)
}

func TestToolExecution_TranslatesErrorToCompletedErr(t *testing.T) {
	d := newDispatcher(
		func(ctx context.Context, job executor.ToolJob) (any, error) { return nil, errors.New("boom") },
		nil,
	)
	require.NoError(t, d.StartToolExecution(context.Background(), executor.ToolJob{ID: "t1"}))

	evt, err := d.Next(context.Background())
	require.NoError(t, err)
	end := evt.(executor.ToolExecutionEndEvent)
	toolErr, isErr := end.Outcome.(executor.ToolErr)
	require.True(t, isErr)
	require.Equal(t, "boom", toolErr.Err.Error())
}

func TestToolExecution_DuplicateIDRejected(t *testing.T) {
	release := make(chan struct{})
	d := newDispatcher(
		func(ctx context.Context, job executor.ToolJob) (any, error) {
			<-release
			return nil, nil
		},
		nil,
	)
	require.NoError(t, d.StartToolExecution(context.Background(), executor.ToolJob{ID: "dup"}))
	err := d.StartToolExecution(context.Background(), executor.ToolJob{ID: "dup"})
	require.Error(t, err)
	close(release)

	_, err = d.Next(context.Background())
	require.NoError(t, err)
}

func TestCancelToolExecution_WinsOverCompletion(t *testing.T) {
	started := make(chan struct{})
	d := newDispatcher(
		func(ctx context.Context, job executor.ToolJob) (any, error) {
			close(started)
			<-ctx.Done()
			return "finished anyway", nil
		},
		nil,
	)
	require.NoError(t, d.StartToolExecution(context.Background(), executor.ToolJob{ID: "t1"}))
	<-started
	d.CancelToolExecution("t1")

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	evt, err := d.Next(ctx)
	require.NoError(t, err)
	end := evt.(executor.ToolExecutionEndEvent)
	_, cancelled := end.Outcome.(executor.ToolCancelled)
	require.True(t, cancelled)
}

func TestCancelToolExecution_UnknownIDIsNoOp(t *testing.T) {
	d := newDispatcher(nil, nil)
	require.NotPanics(t, func() { d.CancelToolExecution("missing") })
}

func TestHookExecution_CompletesSuccessfully(t *testing.T) {
	d := newDispatcher(nil, func(ctx context.Context, job executor.HookJob) (hooks.HookResult, error) {
		return hooks.HookResult{ExitCode: 0, Output: "done"}, nil
	})
	require.NoError(t, d.StartHookExecution(context.Background(), executor.HookJob{ID: "h1"}))

	evt, err := d.Next(context.Background())
	require.NoError(t, err)
	end := evt.(executor.HookExecutionEndEvent)
	ok, isOk := end.Outcome.(executor.HookOk)
	require.True(t, isOk)
	require.Equal(t, 0, ok.Result.ExitCode)
}

func TestRecvNext_DrainsWithoutBlocking(t *testing.T) {
	d := newDispatcher(
		func(ctx context.Context, job executor.ToolJob) (any, error) { return nil, nil },
		nil,
	)
	require.NoError(t, d.StartToolExecution(context.Background(), executor.ToolJob{ID: "a"}))
	require.NoError(t, d.StartToolExecution(context.Background(), executor.ToolJob{ID: "b"}))

	var drained int
	require.Eventually(t, func() bool {
		buf := make([]executor.Event, 4)
		drained += d.RecvNext(buf)
		return drained == 2
	}, time.Second, time.Millisecond, "expected both completion events to drain")

	buf := make([]executor.Event, 4)
	require.Equal(t, 0, d.RecvNext(buf), "no further events available")
}
