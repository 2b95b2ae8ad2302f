// Package redisqueue implements executor.Dispatcher over a Redis work
// queue (github.com/redis/go-redis/v9) instead of local goroutines, for
// deployments that run tool and hook execution out-of-process (a sandboxed
// executor pool). It is a drop-in alternate to executor.InProcess: the Agent
// Orchestrator is unaware which dispatcher backs its Task Executor, since
// both satisfy the same executor.Dispatcher interface.
//
// The queue protocol is intentionally simple: a job is serialized to JSON
// and pushed onto a pending list; a worker loop pops it with BRPop (there is
// no processing list, so a popped job is not re-queued if the worker stops
// before finishing it), executes it locally via the configured ToolRunner /
// HookRunner, and publishes the JSON-encoded result on a per-dispatcher
// result channel via Redis Pub/Sub. Cancellation is cooperative: cancelling
// a job records its id in a Redis set the worker loop checks before
// publishing a result, so a job that finishes just after being cancelled is
// still reported Cancelled.
package redisqueue

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/agentcore-dev/runtime/agent/executor"
	"github.com/agentcore-dev/runtime/hooks"
	"github.com/agentcore-dev/runtime/toolerrors"
	"github.com/agentcore-dev/runtime/tools"
)

type wireJob struct {
	Kind string          `json:"kind"` // "tool" | "hook"
	ID   string          `json:"id"`
	Tool string          `json:"tool,omitempty"`
	Args json.RawMessage `json:"args,omitempty"`
	Hook hooks.HookConfig `json:"hook,omitempty"`
	Input string         `json:"input,omitempty"`
}

type wireResult struct {
	ID        string `json:"id"`
	Cancelled bool   `json:"cancelled"`
	// Tool results
	IsTool  bool            `json:"is_tool,omitempty"`
	Output  json.RawMessage `json:"output,omitempty"`
	ErrMsg  string          `json:"err,omitempty"`
	// Hook results
	IsHook   bool `json:"is_hook,omitempty"`
	ExitCode int  `json:"exit_code,omitempty"`
	Stdout   string `json:"stdout,omitempty"`
}

// Dispatcher implements executor.Dispatcher by pushing jobs onto a Redis
// list and running a local worker loop that pops and executes them. In a
// production split-process deployment the worker loop runs in a separate
// binary; here it runs inside the same Dispatcher so the package is
// self-contained and testable with a single disposable Redis instance.
type Dispatcher struct {
	rdb        *redis.Client
	toolRunner executor.ToolRunner
	hookRunner executor.HookRunner

	pendingKey    string
	cancelSetKey  string
	resultChannel string

	events chan executor.Event
	sub    *redis.PubSub

	cancelMu sync.Mutex

	stop   context.CancelFunc
	workWG sync.WaitGroup
}

// New constructs a Dispatcher. namespace scopes the Redis keys used so
// multiple dispatchers can share one Redis instance without colliding.
func New(rdb *redis.Client, namespace string, toolRunner executor.ToolRunner, hookRunner executor.HookRunner) (*Dispatcher, error) {
	ctx, cancel := context.WithCancel(context.Background())

	d := &Dispatcher{
		rdb:           rdb,
		toolRunner:    toolRunner,
		hookRunner:    hookRunner,
		pendingKey:    namespace + ":pending",
		cancelSetKey:  namespace + ":cancelled",
		resultChannel: namespace + ":results",
		events:        make(chan executor.Event, 64),
		stop:          cancel,
	}

	d.sub = rdb.Subscribe(ctx, d.resultChannel)
	if _, err := d.sub.Receive(ctx); err != nil {
		cancel()
		return nil, fmt.Errorf("redisqueue: subscribe: %w", err)
	}

	d.workWG.Add(2)
	go d.workerLoop(ctx)
	go d.resultLoop(ctx)

	return d, nil
}

func (d *Dispatcher) push(ctx context.Context, job wireJob) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("redisqueue: encode job: %w", err)
	}
	return d.rdb.LPush(ctx, d.pendingKey, data).Err()
}

// StartToolExecution implements executor.Dispatcher.
func (d *Dispatcher) StartToolExecution(ctx context.Context, job executor.ToolJob) error {
	return d.push(ctx, wireJob{Kind: "tool", ID: job.ID, Tool: string(job.Tool), Args: job.Payload})
}

// StartHookExecution implements executor.Dispatcher.
func (d *Dispatcher) StartHookExecution(ctx context.Context, job executor.HookJob) error {
	return d.push(ctx, wireJob{Kind: "hook", ID: job.ID, Hook: job.Config, Input: job.Input})
}

// CancelToolExecution implements executor.Dispatcher.
func (d *Dispatcher) CancelToolExecution(id string) { d.cancel(id) }

// CancelHookExecution implements executor.Dispatcher.
func (d *Dispatcher) CancelHookExecution(id string) { d.cancel(id) }

func (d *Dispatcher) cancel(id string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	d.rdb.SAdd(ctx, d.cancelSetKey, id)
}

func (d *Dispatcher) isCancelled(ctx context.Context, id string) bool {
	ok, err := d.rdb.SIsMember(ctx, d.cancelSetKey, id).Result()
	return err == nil && ok
}

// workerLoop pops jobs with BRPop and executes them locally, publishing the
// JSON-encoded wireResult back over Pub/Sub.
func (d *Dispatcher) workerLoop(ctx context.Context) {
	defer d.workWG.Done()
	for {
		res, err := d.rdb.BRPop(ctx, time.Second, d.pendingKey).Result()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			continue // timeout or transient error; retry
		}
		if len(res) != 2 {
			continue
		}
		var job wireJob
		if err := json.Unmarshal([]byte(res[1]), &job); err != nil {
			continue
		}
		d.execute(ctx, job)
	}
}

func (d *Dispatcher) execute(ctx context.Context, job wireJob) {
	var result wireResult
	result.ID = job.ID

	switch job.Kind {
	case "tool":
		result.IsTool = true
		output, err := d.toolRunner.RunTool(ctx, executor.ToolJob{
			ID:      job.ID,
			Tool:    tools.Ident(job.Tool),
			Payload: job.Args,
		})
		if d.isCancelled(ctx, job.ID) {
			result.Cancelled = true
		} else if err != nil {
			result.ErrMsg = toolerrors.FromError(err).Error()
		} else {
			result.Output, _ = json.Marshal(output)
		}
	case "hook":
		result.IsHook = true
		out, err := d.hookRunner.RunHook(ctx, executor.HookJob{ID: job.ID, Config: job.Hook, Input: job.Input})
		if d.isCancelled(ctx, job.ID) {
			result.Cancelled = true
		} else if err != nil {
			result.ExitCode = 1
			result.Stdout = err.Error()
		} else {
			result.ExitCode = out.ExitCode
			result.Stdout = out.Output
		}
	}

	data, err := json.Marshal(result)
	if err != nil {
		return
	}
	d.rdb.Publish(ctx, d.resultChannel, data)
}

// resultLoop subscribes to the result channel and converts every published
// wireResult into an executor.Event.
func (d *Dispatcher) resultLoop(ctx context.Context) {
	defer d.workWG.Done()
	ch := d.sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			var result wireResult
			if err := json.Unmarshal([]byte(msg.Payload), &result); err != nil {
				continue
			}
			d.events <- toEvent(result)
		}
	}
}

func toEvent(result wireResult) executor.Event {
	switch {
	case result.IsTool && result.Cancelled:
		return executor.ToolExecutionEndEvent{ID: result.ID, Outcome: executor.ToolCancelled{}}
	case result.IsTool && result.ErrMsg != "":
		return executor.ToolExecutionEndEvent{ID: result.ID, Outcome: executor.ToolErr{Err: toolerrors.New(result.ErrMsg)}}
	case result.IsTool:
		var output any
		if len(result.Output) > 0 {
			_ = json.Unmarshal(result.Output, &output)
		}
		return executor.ToolExecutionEndEvent{ID: result.ID, Outcome: executor.ToolOk{Output: output}}
	case result.IsHook && result.Cancelled:
		return executor.HookExecutionEndEvent{ID: result.ID, Outcome: executor.HookCancelled{}}
	default:
		return executor.HookExecutionEndEvent{
			ID:      result.ID,
			Outcome: executor.HookOk{Result: hooks.HookResult{ExitCode: result.ExitCode, Output: result.Stdout}},
		}
	}
}

// RecvNext implements executor.Dispatcher.
func (d *Dispatcher) RecvNext(buf []executor.Event) int {
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

// Next implements executor.Dispatcher.
func (d *Dispatcher) Next(ctx context.Context) (executor.Event, error) {
	select {
	case e := <-d.events:
		return e, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close stops the worker and result loops and closes the subscription.
func (d *Dispatcher) Close() error {
	d.stop()
	err := d.sub.Close()
	d.workWG.Wait()
	return err
}

var _ executor.Dispatcher = (*Dispatcher)(nil)
