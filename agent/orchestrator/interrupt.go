package orchestrator

import (
	"fmt"

	"github.com/agentcore-dev/runtime/agent/loop"
	"github.com/agentcore-dev/runtime/model"
)

// interruptedTurnNotice is the fixed assistant text injected after cancelled
// tool results so the history stays a valid User-led alternation for the next
// turn.
const interruptedTurnNotice = "The user interrupted this turn before the requested tool uses could run."

// handleInterrupt cancels the current turn. Idle has nothing to cancel;
// Errored just resets to Idle (closing any loop left over from the failed
// turn). WaitingForApproval rejects every pending tool and closes the loop
// with EndReasonToolUseRejected. ExecutingRequest closes the loop with
// EndReasonCancelled, aborting the in-flight stream. ExecutingHooks and
// ExecutingTools are normally preempted from inside the batch drain itself
// (drainBatch consumes the Interrupt request, cancels every outstanding job,
// and the cycle aborts via abortCycleInterrupted), so the branches here only
// fire defensively if the state somehow outlives its batch: they cancel the
// stage's jobs through the dispatcher and settle the turn the same way.
func (o *Orchestrator) handleInterrupt() error {
	switch st := o.active.(type) {
	case Idle:
		return nil

	case Errored:
		if o.agentLoop != nil {
			o.agentLoop.Close()
			o.agentLoop = nil
			o.loopEvents = nil
		}
		o.transition(Idle{})
		return nil

	case WaitingForApproval:
		// The loop is sitting in PendingToolUseResults: answer each
		// outstanding tool use with a cancelled error result before closing,
		// so the conversation remains well-formed for the next turn.
		o.injectCancelledToolResults(st.Tools)
		o.pendingCycleTools = nil
		if o.agentLoop != nil {
			o.agentLoop.CloseWithReason(loop.EndReasonToolUseRejected)
		} else {
			o.transition(Idle{})
		}
		return nil

	case ExecutingRequest:
		if o.agentLoop != nil {
			o.agentLoop.CloseWithReason(loop.EndReasonCancelled)
		}
		return nil

	case ExecutingHooks:
		for _, id := range stageJobIDs(st.Stage) {
			o.dispatcher.CancelHookExecution(id)
		}
		if tools := stageTools(st.Stage); len(tools) > 0 {
			o.abortCycleInterrupted(tools)
		} else {
			o.closeLoopToIdle()
		}
		return nil

	case ExecutingTools:
		for _, p := range st.Tools {
			o.dispatcher.CancelToolExecution(p.ID)
		}
		o.abortCycleInterrupted(st.Tools)
		return nil

	default:
		return fmt.Errorf("orchestrator: cannot interrupt unknown state %T", o.active)
	}
}

// abortCycleInterrupted settles an interrupted tool-use cycle: every tool in
// the cycle resolves to a cancelled error result in history, the cancelled
// outcome is counted, and the loop is closed so the turn ends in Idle.
func (o *Orchestrator) abortCycleInterrupted(pending []PendingToolUse) {
	for _, p := range pending {
		o.metrics.IncCounter("agent_tool_calls_total", 1, "tool", string(p.Spec.Name), "outcome", "cancelled")
	}
	o.injectCancelledToolResults(pending)
	o.closeLoopToIdle()
}

// closeLoopToIdle closes the current loop with a cancelled end reason (its
// UserTurnEnd brings the orchestrator to Idle via finishTurn), or transitions
// straight to Idle when no loop is live.
func (o *Orchestrator) closeLoopToIdle() {
	o.pendingCycleTools = nil
	if o.agentLoop != nil {
		o.agentLoop.CloseWithReason(loop.EndReasonCancelled)
		return
	}
	o.transition(Idle{})
}

// stageJobIDs returns the dispatcher job ids started for a hook stage.
func stageJobIDs(s HookStage) []string {
	switch st := s.(type) {
	case PrePromptStage:
		return st.JobIDs
	case PreToolUseStage:
		return st.JobIDs
	case PostToolUseStage:
		return st.JobIDs
	}
	return nil
}

// stageTools returns the tool uses a hook stage is resolving, so an
// interrupt can answer them with cancelled results.
func stageTools(s HookStage) []PendingToolUse {
	switch st := s.(type) {
	case PreToolUseStage:
		return st.Tools
	case PostToolUseStage:
		tools := make([]PendingToolUse, 0, len(st.Results))
		for _, r := range st.Results {
			tools = append(tools, r.Tool)
		}
		return tools
	}
	return nil
}

// injectCancelledToolResults appends a user message carrying one cancelled
// error result per outstanding tool use, followed by the fixed assistant
// notice.
func (o *Orchestrator) injectCancelledToolResults(pending []PendingToolUse) {
	if len(pending) == 0 {
		return
	}
	parts := make([]model.Part, 0, len(pending))
	for _, p := range pending {
		parts = append(parts, model.ToolResultPart{
			ToolUseID: p.ID,
			Status:    model.ResultStatusError,
			Content:   []model.ResultBlock{model.TextResultBlock{Text: "Tool use was cancelled by the user."}},
		})
	}
	o.history = append(o.history,
		model.Message{Role: model.ConversationRoleUser, Parts: parts},
		model.Message{Role: model.ConversationRoleAssistant, Parts: []model.Part{model.TextPart{Text: interruptedTurnNotice}}},
	)
}
