package hooks

import (
	"context"
	"encoding/json"
	"time"

	"github.com/agentcore-dev/runtime/toolerrors"
	"github.com/agentcore-dev/runtime/tools"
)

// HookTrigger identifies the lifecycle point at which a hook runs.
type HookTrigger string

const (
	// TriggerAgentSpawn runs once when an agent loop starts, before the first
	// request is sent. Its captured output is immutable for the lifetime of
	// the loop and feeds prompt caching.
	TriggerAgentSpawn HookTrigger = "agent_spawn"

	// TriggerUserPromptSubmit runs when a user prompt is accepted, before it
	// is sent to the model.
	TriggerUserPromptSubmit HookTrigger = "user_prompt_submit"

	// TriggerPreToolUse runs before a batch of tool uses executes. A hook
	// that exits with ExitCodeBlock denies its associated tool.
	TriggerPreToolUse HookTrigger = "pre_tool_use"

	// TriggerPostToolUse runs after a batch of tool uses has completed,
	// regardless of their individual outcomes.
	TriggerPostToolUse HookTrigger = "post_tool_use"
)

// ExitCodeBlock is the reserved hook exit code that denies the associated
// tool invocation when returned by a PreToolUse hook. It is never fatal for
// any other trigger.
const ExitCodeBlock = 2

type (
	// HookConfig describes one configured hook: the lifecycle point it runs
	// at, an optional tool matcher restricting which tools it applies to
	// (nil matches every tool), and the command to execute.
	HookConfig struct {
		// Trigger identifies when this hook runs.
		Trigger HookTrigger
		// Matcher restricts which tools this hook applies to for
		// PreToolUse/PostToolUse triggers. A nil Matcher matches all tools.
		// The matcher string is parsed as a tool pattern by the permission
		// package's HookMatchesTool.
		Matcher *string
		// Command is the shell command invoked to run the hook.
		Command string
		// Timeout bounds how long the hook may run before being cancelled.
		// Zero means no explicit timeout beyond the ambient context deadline.
		Timeout time.Duration
	}

	// HookResult is the outcome of running one hook: an exit code and the
	// captured combined output text.
	HookResult struct {
		// ExitCode is the process exit code. Zero indicates success.
		// ExitCodeBlock (2) at PreToolUse denies the associated tool.
		ExitCode int
		// Output is the hook's captured stdout/stderr text, truncated by the
		// executor to a bounded size.
		Output string
	}

	// ToolContext is the serialized envelope passed to a PreToolUse or
	// PostToolUse hook describing the tool invocation it concerns.
	ToolContext struct {
		ToolName   tools.Ident     `json:"tool_name"`
		ToolCallID string          `json:"tool_call_id"`
		Payload    json.RawMessage `json:"payload,omitempty"`
		// Result and Error are populated only for PostToolUse hooks.
		Result json.RawMessage      `json:"result,omitempty"`
		Error  *toolerrors.ToolError `json:"error,omitempty"`
	}

	// Event is the interface every value published on the Bus implements.
	// Concrete event types embed Base to satisfy it.
	Event interface {
		// Type returns the event type constant.
		Type() EventType
		// LoopID returns the agent loop identifier that produced this event.
		LoopID() string
		// Payload returns the event-specific data in JSON-serializable form.
		Payload() any
	}

	// Base provides the default Event implementation. Concrete event types
	// embed Base and set it via newBase at construction time.
	Base struct {
		t EventType
		l string
		p any
	}

	// HookExecutionStartedEvent is published when the Task Executor schedules
	// a hook job.
	HookExecutionStartedEvent struct {
		Base
		HookExecutionID string
		Config          HookConfig
	}

	// HookExecutionEndedEvent is published when a hook job completes or is
	// cancelled.
	HookExecutionEndedEvent struct {
		Base
		HookExecutionID string
		Result          *HookResult
		Cancelled       bool
	}

	// CachedHookRunEvent is published instead of HookExecutionStartedEvent /
	// HookExecutionEndedEvent when a deterministic AgentSpawn hook's captured
	// output is replayed from cache rather than re-executed.
	CachedHookRunEvent struct {
		Base
		HookExecutionID string
		Result          HookResult
	}

	// ToolCallScheduledEvent is published when the Task Executor schedules a
	// tool execution job.
	ToolCallScheduledEvent struct {
		Base
		ToolCallID     string
		ToolName       tools.Ident
		PayloadMessage json.RawMessage
	}

	// ToolResultReceivedEvent is published when a tool execution job
	// completes or is cancelled.
	ToolResultReceivedEvent struct {
		Base
		ToolCallID string
		ToolName   tools.Ident
		Result     json.RawMessage
		Err        *toolerrors.ToolError
		Duration   time.Duration
		Cancelled  bool
	}
)

// EventType enumerates the event kinds published on the Bus.
type EventType string

const (
	// EventHookExecutionStarted fires when a hook job is scheduled.
	EventHookExecutionStarted EventType = "hook_execution_started"
	// EventHookExecutionEnded fires when a hook job finishes or is cancelled.
	EventHookExecutionEnded EventType = "hook_execution_ended"
	// EventCachedHookRun fires for a replayed AgentSpawn hook output.
	EventCachedHookRun EventType = "cached_hook_run"
	// EventToolCallScheduled fires when a tool job is scheduled.
	EventToolCallScheduled EventType = "tool_call_scheduled"
	// EventToolResultReceived fires when a tool job finishes or is cancelled.
	EventToolResultReceived EventType = "tool_result_received"
)

// SubscriberFunc adapts a plain function to the Subscriber interface.
type SubscriberFunc func(ctx context.Context, event Event) error

// HandleEvent calls f(ctx, event).
func (f SubscriberFunc) HandleEvent(ctx context.Context, event Event) error { return f(ctx, event) }

func newBase(t EventType, loopID string, payload any) Base {
	return Base{t: t, l: loopID, p: payload}
}

// Type implements Event.
func (b Base) Type() EventType { return b.t }

// LoopID implements Event.
func (b Base) LoopID() string { return b.l }

// Payload implements Event.
func (b Base) Payload() any { return b.p }

// NewHookExecutionStartedEvent constructs a HookExecutionStartedEvent.
func NewHookExecutionStartedEvent(loopID, hookExecutionID string, cfg HookConfig) HookExecutionStartedEvent {
	return HookExecutionStartedEvent{
		Base:            newBase(EventHookExecutionStarted, loopID, cfg),
		HookExecutionID: hookExecutionID,
		Config:          cfg,
	}
}

// NewHookExecutionEndedEvent constructs a HookExecutionEndedEvent.
func NewHookExecutionEndedEvent(loopID, hookExecutionID string, result *HookResult, cancelled bool) HookExecutionEndedEvent {
	return HookExecutionEndedEvent{
		Base:            newBase(EventHookExecutionEnded, loopID, result),
		HookExecutionID: hookExecutionID,
		Result:          result,
		Cancelled:       cancelled,
	}
}

// NewCachedHookRunEvent constructs a CachedHookRunEvent.
func NewCachedHookRunEvent(loopID, hookExecutionID string, result HookResult) CachedHookRunEvent {
	return CachedHookRunEvent{
		Base:            newBase(EventCachedHookRun, loopID, result),
		HookExecutionID: hookExecutionID,
		Result:          result,
	}
}

// NewToolCallScheduledEvent constructs a ToolCallScheduledEvent.
func NewToolCallScheduledEvent(loopID, toolCallID string, name tools.Ident, payload json.RawMessage) ToolCallScheduledEvent {
	return ToolCallScheduledEvent{
		Base:           newBase(EventToolCallScheduled, loopID, nil),
		ToolCallID:     toolCallID,
		ToolName:       name,
		PayloadMessage: payload,
	}
}

// NewToolResultReceivedEvent constructs a ToolResultReceivedEvent.
func NewToolResultReceivedEvent(loopID, toolCallID string, name tools.Ident, result json.RawMessage, toolErr *toolerrors.ToolError, duration time.Duration, cancelled bool) ToolResultReceivedEvent {
	return ToolResultReceivedEvent{
		Base:       newBase(EventToolResultReceived, loopID, nil),
		ToolCallID: toolCallID,
		ToolName:   name,
		Result:     result,
		Err:        toolErr,
		Duration:   duration,
		Cancelled:  cancelled,
	}
}
