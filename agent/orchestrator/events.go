package orchestrator

import (
	"github.com/agentcore-dev/runtime/agent/executor"
	"github.com/agentcore-dev/runtime/agent/permission"
	"github.com/agentcore-dev/runtime/agent/loop"
	"github.com/agentcore-dev/runtime/model"
)

// Event is the closed tagged union broadcast on Orchestrator.Events: every
// state transition, agent-loop event, executor completion, and permission
// or approval decision the orchestrator makes is observable this way.
type Event interface{ isEvent() }

type (
	// Initialized is emitted once, after MCP tool listing and AgentSpawn
	// hooks complete.
	Initialized struct{}

	// StateChange reports an ActiveState transition.
	StateChange struct {
		From ActiveState
		To   ActiveState
	}

	// AgentLoopEvent rebroadcasts one event from the current turn's
	// agent/loop.Loop.
	AgentLoopEvent struct{ Event loop.Event }

	// TaskExecutorEvent rebroadcasts one completion event from the task
	// executor dispatcher.
	TaskExecutorEvent struct{ Event executor.Event }

	// RequestSent reports that a model request was accepted by the agent
	// loop, carrying the exact message list sent.
	RequestSent struct{ Messages []model.Message }

	// RequestError reports that a turn ended in error.
	RequestError struct{ Err error }

	// ToolPermissionEvalResult reports one tool's allow/ask/deny decision.
	ToolPermissionEvalResult struct {
		Tool   PendingToolUse
		Result permission.Result
	}

	// ApprovalRequest reports that one or more tool uses are waiting on an
	// explicit SendApprovalResult call.
	ApprovalRequest struct{ Tools []PendingToolUse }
)

func (Initialized) isEvent()              {}
func (StateChange) isEvent()              {}
func (AgentLoopEvent) isEvent()           {}
func (TaskExecutorEvent) isEvent()        {}
func (RequestSent) isEvent()              {}
func (RequestError) isEvent()             {}
func (ToolPermissionEvalResult) isEvent() {}
func (ApprovalRequest) isEvent()          {}
