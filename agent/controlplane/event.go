package controlplane

import (
	"encoding/json"
	"fmt"

	"github.com/agentcore-dev/runtime/agent/orchestrator"
	"github.com/agentcore-dev/runtime/hooks"
)

// encodeEvent renders one orchestrator.Event as a (kind, JSON payload) pair
// for EventEnvelope. Nested Go interfaces (ActiveState, loop.Event,
// executor.Event) are reduced to their dynamic type name rather than
// marshaled structurally, since those unions are this module's internal
// vocabulary, not part of the wire contract; StateChange's From/To get the
// same treatment as CreateSnapshot's ExecutionState.Active label.
func encodeEvent(ev orchestrator.Event) (kind string, payload []byte, err error) {
	switch e := ev.(type) {
	case orchestrator.Initialized:
		return "initialized", []byte(`{}`), nil

	case orchestrator.StateChange:
		payload, err = json.Marshal(map[string]string{
			"from": stateLabel(e.From),
			"to":   stateLabel(e.To),
		})
		return "state_change", payload, err

	case orchestrator.AgentLoopEvent:
		payload, err = json.Marshal(map[string]string{"event_type": fmt.Sprintf("%T", e.Event)})
		return "agent_loop_event", payload, err

	case orchestrator.TaskExecutorEvent:
		payload, err = json.Marshal(map[string]string{"event_type": fmt.Sprintf("%T", e.Event)})
		return "task_executor_event", payload, err

	case orchestrator.RequestSent:
		payload, err = json.Marshal(map[string]int{"message_count": len(e.Messages)})
		return "request_sent", payload, err

	case orchestrator.RequestError:
		payload, err = json.Marshal(map[string]string{
			"error":        e.Err.Error(),
			"public_error": hooks.PublicErrorFor(e.Err),
		})
		return "request_error", payload, err

	case orchestrator.ToolPermissionEvalResult:
		payload, err = json.Marshal(map[string]string{
			"tool":     e.Tool.Name.Name,
			"decision": string(e.Result.Decision),
			"reason":   e.Result.Reason,
		})
		return "tool_permission_eval_result", payload, err

	case orchestrator.ApprovalRequest:
		ids := make([]string, 0, len(e.Tools))
		for _, t := range e.Tools {
			ids = append(ids, t.ID)
		}
		payload, err = json.Marshal(map[string]any{"tool_use_ids": ids})
		return "approval_request", payload, err

	default:
		return "", nil, fmt.Errorf("controlplane: unrecognized event type %T", ev)
	}
}

// stateLabel mirrors orchestrator's own ExecutionState.Active label (see
// agent/orchestrator/snapshotops.go's activeStateLabel) without depending on
// its unexported helper.
func stateLabel(a orchestrator.ActiveState) string {
	switch a.(type) {
	case orchestrator.Idle:
		return "idle"
	case orchestrator.Errored:
		return "errored"
	case orchestrator.WaitingForApproval:
		return "waiting_for_approval"
	case orchestrator.ExecutingHooks:
		return "executing_hooks"
	case orchestrator.ExecutingRequest:
		return "executing_request"
	case orchestrator.ExecutingTools:
		return "executing_tools"
	default:
		return "unknown"
	}
}
