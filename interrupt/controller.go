// Package interrupt coordinates cooperative cancellation across an agent
// loop and its in-flight work. Each agent loop owns one Controller, tracks
// its in-flight model request with it, and interrupts it when the loop is
// closed: cancel everything currently tracked, then wait for each cancelled
// job to report that it actually stopped.
package interrupt

import (
	"context"
	"sync"
)

// Reason classifies why a tracked job was cancelled.
type Reason string

const (
	// ReasonUserInterrupt indicates the orchestrator received an Interrupt
	// request while the job was in flight.
	ReasonUserInterrupt Reason = "user_interrupt"

	// ReasonLoopClosed indicates the owning agent loop was closed (a new
	// SendPrompt started a fresh loop, or the process is shutting down)
	// while the job was in flight.
	ReasonLoopClosed Reason = "loop_closed"
)

// Controller tracks the cancel functions for every job (tool execution, hook
// execution, or the loop's own in-flight model call) currently owned by one
// agent loop. Exactly one Controller exists per live loop.
//
// Controller is safe for concurrent use: Track and Interrupt may be called
// from different goroutines (the loop's model-request goroutine and its
// close path).
type Controller struct {
	mu     sync.Mutex
	jobs   map[string]context.CancelFunc
	done   map[string]chan struct{}
	reason Reason
}

// NewController returns a Controller with no tracked jobs.
func NewController() *Controller {
	return &Controller{
		jobs: make(map[string]context.CancelFunc),
		done: make(map[string]chan struct{}),
	}
}

// Track derives a cancellable context from parent and registers it under id
// (a ToolExecutionId, HookExecutionId, or the loop's own request id). The
// returned done channel must be closed by the caller once the job has fully
// stopped (whether it ran to completion or was cancelled); Interrupt blocks
// until every tracked job's done channel closes.
func (c *Controller) Track(parent context.Context, id string) (ctx context.Context, cancel context.CancelFunc, done chan struct{}) {
	ctx, cancel = context.WithCancel(parent)
	done = make(chan struct{})

	c.mu.Lock()
	c.jobs[id] = cancel
	c.done[id] = done
	c.mu.Unlock()

	return ctx, cancel, done
}

// Forget removes a job from tracking without cancelling it, once it has
// completed on its own. Calling Forget for an unknown id is a no-op.
func (c *Controller) Forget(id string) {
	c.mu.Lock()
	delete(c.jobs, id)
	delete(c.done, id)
	c.mu.Unlock()
}

// Interrupt cancels every currently tracked job for the given reason and
// blocks until each one's done channel has closed, then clears the tracked
// set. Interrupt is idempotent: calling it with no tracked jobs returns
// immediately.
func (c *Controller) Interrupt(reason Reason) {
	c.mu.Lock()
	c.reason = reason
	cancels := make([]context.CancelFunc, 0, len(c.jobs))
	for _, cancel := range c.jobs {
		cancels = append(cancels, cancel)
	}
	dones := make([]chan struct{}, 0, len(c.done))
	for _, d := range c.done {
		dones = append(dones, d)
	}
	c.jobs = make(map[string]context.CancelFunc)
	c.done = make(map[string]chan struct{})
	c.mu.Unlock()

	for _, cancel := range cancels {
		cancel()
	}
	for _, d := range dones {
		<-d
	}
}

// Reason reports the reason passed to the most recent Interrupt call, or the
// empty Reason if Interrupt has never been called.
func (c *Controller) Reason() Reason {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reason
}

// Active reports how many jobs are currently tracked.
func (c *Controller) Active() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.jobs)
}
