// Package executor runs tool and hook invocations concurrently with
// per-invocation cancellation, delivering completion events through a single
// drainable channel. The in-process Dispatcher here uses a goroutine per
// job: a mutex-protected job table and a per-job context.CancelFunc.
// Cancelling a job signals its context and returns without waiting for the
// job to stop.
package executor

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/agentcore-dev/runtime/hooks"
	"github.com/agentcore-dev/runtime/toolerrors"
	"github.com/agentcore-dev/runtime/tools"
)

// EventType enumerates the completion-event kinds the Dispatcher emits.
type EventType string

const (
	// EventToolExecutionEnd reports a finished or cancelled tool job.
	EventToolExecutionEnd EventType = "tool_execution_end"
	// EventHookExecutionEnd reports a finished or cancelled hook job.
	EventHookExecutionEnd EventType = "hook_execution_end"
	// EventCachedHookRun reports a memoized AgentSpawn hook output replayed
	// without actually re-executing the hook.
	EventCachedHookRun EventType = "cached_hook_run"
)

// Event is the interface implemented by every completion event.
type Event interface {
	Type() EventType
	JobID() string
}

// ToolOutcome is the closed tagged union for a ToolExecutionEnd result:
// Completed (Ok or Err) or Cancelled.
type ToolOutcome interface{ isToolOutcome() }

// ToolOk wraps a successful tool output.
type ToolOk struct{ Output any }

// ToolErr wraps a tool failure.
type ToolErr struct{ Err *toolerrors.ToolError }

// ToolCancelled indicates the job was cancelled before it yielded a result.
type ToolCancelled struct{}

func (ToolOk) isToolOutcome()        {}
func (ToolErr) isToolOutcome()       {}
func (ToolCancelled) isToolOutcome() {}

// HookOutcome is the closed tagged union for a HookExecutionEnd result:
// Completed or Cancelled.
type HookOutcome interface{ isHookOutcome() }

// HookOk wraps a completed hook result.
type HookOk struct{ Result hooks.HookResult }

// HookCancelled indicates the hook job was cancelled before it finished.
type HookCancelled struct{}

func (HookOk) isHookOutcome()        {}
func (HookCancelled) isHookOutcome() {}

type (
	// ToolExecutionEndEvent reports the outcome of one tool job.
	ToolExecutionEndEvent struct {
		ID      string
		Outcome ToolOutcome
	}

	// HookExecutionEndEvent reports the outcome of one hook job.
	HookExecutionEndEvent struct {
		ID      string
		Outcome HookOutcome
	}

	// CachedHookRunEvent reports a memoized hook output.
	CachedHookRunEvent struct {
		ID     string
		Result hooks.HookResult
	}
)

func (ToolExecutionEndEvent) Type() EventType  { return EventToolExecutionEnd }
func (e ToolExecutionEndEvent) JobID() string  { return e.ID }
func (HookExecutionEndEvent) Type() EventType  { return EventHookExecutionEnd }
func (e HookExecutionEndEvent) JobID() string  { return e.ID }
func (CachedHookRunEvent) Type() EventType     { return EventCachedHookRun }
func (e CachedHookRunEvent) JobID() string     { return e.ID }

// ToolJob identifies a tool invocation dispatched to a ToolRunner: the
// canonical tool name and the JSON arguments the model supplied.
type ToolJob struct {
	ID      string
	Tool    tools.Ident
	Payload []byte
}

// HookJob identifies a hook invocation dispatched to a HookRunner.
type HookJob struct {
	ID     string
	Config hooks.HookConfig
	Input  string
}

// ToolRunner executes one ToolJob to completion or until ctx is cancelled.
type ToolRunner interface {
	RunTool(ctx context.Context, job ToolJob) (any, error)
}

// HookRunner executes one HookJob to completion or until ctx is cancelled.
type HookRunner interface {
	RunHook(ctx context.Context, job HookJob) (hooks.HookResult, error)
}

// ToolRunnerFunc adapts a function to ToolRunner.
type ToolRunnerFunc func(ctx context.Context, job ToolJob) (any, error)

// RunTool implements ToolRunner.
func (f ToolRunnerFunc) RunTool(ctx context.Context, job ToolJob) (any, error) { return f(ctx, job) }

// HookRunnerFunc adapts a function to HookRunner.
type HookRunnerFunc func(ctx context.Context, job HookJob) (hooks.HookResult, error)

// RunHook implements HookRunner.
func (f HookRunnerFunc) RunHook(ctx context.Context, job HookJob) (hooks.HookResult, error) {
	return f(ctx, job)
}

// Dispatcher schedules tool and hook jobs and delivers their completion
// events. StartToolExecution/StartHookExecution and cancellation must be
// safe to call concurrently from the owning orchestrator's goroutine and any
// cleanup paths.
type Dispatcher interface {
	StartToolExecution(ctx context.Context, job ToolJob) error
	StartHookExecution(ctx context.Context, job HookJob) error
	CancelToolExecution(id string)
	CancelHookExecution(id string)
	// RecvNext drains up to len(buf) currently available completion events
	// into buf and returns how many were written. It never blocks.
	RecvNext(buf []Event) int
	// Next blocks until one completion event is available or ctx is done.
	Next(ctx context.Context) (Event, error)
	// Close releases resources. In-flight jobs are left to run; callers
	// that need every job stopped first should cancel them explicitly.
	Close() error
}

type job struct {
	cancel    context.CancelFunc
	cancelled atomic.Bool
}

// InProcess is the default Dispatcher: every job runs as its own goroutine,
// cancellation is cooperative via context, and completion events are
// delivered on a buffered channel.
type InProcess struct {
	toolRunner ToolRunner
	hookRunner HookRunner

	mu   sync.Mutex
	jobs map[string]*job

	events chan Event
	wg     sync.WaitGroup
}

// NewInProcess returns an InProcess dispatcher backed by the given runners.
// events is buffered to bufSize so RecvNext can drain bursts of completions
// without blocking producers; a bufSize of 0 still works but producers then
// block until a consumer drains.
func NewInProcess(toolRunner ToolRunner, hookRunner HookRunner, bufSize int) *InProcess {
	return &InProcess{
		toolRunner: toolRunner,
		hookRunner: hookRunner,
		jobs:       make(map[string]*job),
		events:     make(chan Event, bufSize),
	}
}

func (d *InProcess) track(ctx context.Context, id string) (context.Context, *job, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, dup := d.jobs[id]; dup {
		return nil, nil, fmt.Errorf("executor: job %q already running", id)
	}
	jctx, cancel := context.WithCancel(ctx)
	j := &job{cancel: cancel}
	d.jobs[id] = j
	return jctx, j, nil
}

func (d *InProcess) forget(id string) {
	d.mu.Lock()
	delete(d.jobs, id)
	d.mu.Unlock()
}

// StartToolExecution implements Dispatcher.
func (d *InProcess) StartToolExecution(ctx context.Context, job ToolJob) error {
	jctx, j, err := d.track(ctx, job.ID)
	if err != nil {
		return err
	}

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		defer d.forget(job.ID)

		output, runErr := d.toolRunner.RunTool(jctx, job)

		var outcome ToolOutcome
		switch {
		case j.cancelled.Load():
			outcome = ToolCancelled{}
		case runErr != nil:
			outcome = ToolErr{Err: toolerrors.FromError(runErr)}
		default:
			outcome = ToolOk{Output: output}
		}
		d.events <- ToolExecutionEndEvent{ID: job.ID, Outcome: outcome}
	}()
	return nil
}

// StartHookExecution implements Dispatcher.
func (d *InProcess) StartHookExecution(ctx context.Context, job HookJob) error {
	jctx, j, err := d.track(ctx, job.ID)
	if err != nil {
		return err
	}

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		defer d.forget(job.ID)

		result, runErr := d.hookRunner.RunHook(jctx, job)

		var outcome HookOutcome
		switch {
		case j.cancelled.Load():
			outcome = HookCancelled{}
		case runErr != nil:
			outcome = HookOk{Result: hooks.HookResult{ExitCode: 1, Output: runErr.Error()}}
		default:
			outcome = HookOk{Result: result}
		}
		d.events <- HookExecutionEndEvent{ID: job.ID, Outcome: outcome}
	}()
	return nil
}

func (d *InProcess) cancel(id string) {
	d.mu.Lock()
	j, ok := d.jobs[id]
	d.mu.Unlock()
	if !ok {
		return
	}
	j.cancelled.Store(true)
	j.cancel()
}

// CancelToolExecution implements Dispatcher. Idempotent; unknown ids are a
// no-op (the job may already have completed and been forgotten).
func (d *InProcess) CancelToolExecution(id string) { d.cancel(id) }

// CancelHookExecution implements Dispatcher.
func (d *InProcess) CancelHookExecution(id string) { d.cancel(id) }

// RecvNext implements Dispatcher.
func (d *InProcess) RecvNext(buf []Event) int {
	n := 0
	for n < len(buf) {
		select {
		case e := <-d.events:
			buf[n] = e
			n++
		default:
			return n
		}
	}
	return n
}

// Next implements Dispatcher.
func (d *InProcess) Next(ctx context.Context) (Event, error) {
	select {
	case e := <-d.events:
		return e, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close implements Dispatcher. It waits for already-started goroutines to
// exit before returning so no completion event is ever lost after Close.
func (d *InProcess) Close() error {
	d.wg.Wait()
	return nil
}
