package orchestrator

import (
	"encoding/json"
	"fmt"
	"reflect"
	"time"

	"github.com/agentcore-dev/runtime/agent"
	"github.com/agentcore-dev/runtime/agent/executor"
	"github.com/agentcore-dev/runtime/agent/mcpsource"
	"github.com/agentcore-dev/runtime/agent/permission"
	"github.com/agentcore-dev/runtime/hooks"
	"github.com/agentcore-dev/runtime/model"
	"github.com/agentcore-dev/runtime/tools"
	"github.com/agentcore-dev/runtime/toolerrors"
)

// beginToolCycle parses and validates every
// tool use the loop is waiting on, then evaluates permissions. A parse
// failure or a deny anywhere in the batch short-circuits the whole batch
// straight to replyWithResults; otherwise tools needing explicit approval
// move the orchestrator into WaitingForApproval and everything else proceeds
// to execution.
func (o *Orchestrator) beginToolCycle() {
	calls := o.agentLoop.GetPendingToolUses()
	specs := o.specIndex()

	pending := make([]PendingToolUse, 0, len(calls))
	var parseFailures []string
	for _, c := range calls {
		canon := permission.ParseCanonicalName(string(c.Name))
		p := PendingToolUse{ID: c.ID, Name: canon, Payload: c.Payload}
		spec, ok := specs[string(c.Name)]
		if !ok {
			parseFailures = append(parseFailures, p.ID)
			pending = append(pending, p)
			continue
		}
		p.Spec = spec
		if err := o.validator.ValidatePayload(spec, c.Payload); err != nil {
			parseFailures = append(parseFailures, p.ID)
		}
		pending = append(pending, p)
	}

	if len(parseFailures) > 0 {
		failed := make(map[string]bool, len(parseFailures))
		for _, id := range parseFailures {
			failed[id] = true
		}
		results := make([]ToolExecutionResult, 0, len(pending))
		for _, p := range pending {
			if failed[p.ID] {
				msg := fmt.Sprintf("tool use %q did not resolve to a known tool or failed schema validation", p.Name.Name)
				kind := toolerrors.KindUnavailable
				if p.Spec.Name != "" {
					kind = toolerrors.KindExecution
					if err := o.validator.ValidatePayload(p.Spec, p.Payload); err != nil {
						msg = err.Error()
					}
				}
				results = append(results, ToolExecutionResult{Tool: p, IsError: true, ErrorMsg: msg, ErrorKind: kind})
			} else {
				results = append(results, ToolExecutionResult{Tool: p, IsError: true, ErrorMsg: "skipped because a sibling tool use in this turn failed to validate", ErrorKind: toolerrors.KindExecution})
			}
		}
		o.replyWithResults(results)
		return
	}

	decisions := make(map[string]*ApprovalDecision, len(pending))
	var denials []ToolExecutionResult
	var asks []PendingToolUse
	for _, p := range pending {
		result := permission.EvaluateToolPermission(o.allowedPatterns, o.toolSettings, permission.Tool{Name: p.Name, Payload: p.Payload})
		o.emit(ToolPermissionEvalResult{Tool: p, Result: result})
		switch result.Decision {
		case permission.Deny:
			denials = append(denials, ToolExecutionResult{Tool: p, IsError: true, ErrorMsg: "tool use forbidden: " + result.Reason, ErrorKind: toolerrors.KindDenied})
		case permission.Ask:
			decisions[p.ID] = nil
			asks = append(asks, p)
		default:
			decisions[p.ID] = &ApprovalDecision{Approved: true}
		}
	}

	if len(denials) > 0 {
		denied := make(map[string]bool, len(denials))
		for _, d := range denials {
			denied[d.Tool.ID] = true
		}
		results := make([]ToolExecutionResult, 0, len(pending))
		for _, p := range pending {
			if denied[p.ID] {
				for _, d := range denials {
					if d.Tool.ID == p.ID {
						results = append(results, d)
						break
					}
				}
				continue
			}
			results = append(results, ToolExecutionResult{Tool: p, IsError: true, ErrorMsg: "skipped because a sibling tool use in this turn was denied", ErrorKind: toolerrors.KindDenied})
		}
		o.replyWithResults(results)
		return
	}

	if len(asks) > 0 {
		o.pendingCycleTools = pending
		o.transition(WaitingForApproval{Tools: pending, Pending: decisions})
		o.emit(ApprovalRequest{Tools: asks})
		return
	}

	o.runToolCyclePostApproval(pending, decisions)
}

// handleApprovalResult implements SendApprovalResult: it records one
// decision and, once every pending tool in the batch has been decided,
// resumes the cycle via runToolCyclePostApproval.
func (o *Orchestrator) handleApprovalResult(id string, approved bool, reason string) error {
	ws, ok := o.active.(WaitingForApproval)
	if !ok {
		return fmt.Errorf("orchestrator: no tool use is waiting for approval")
	}
	if _, exists := ws.Pending[id]; !exists {
		return fmt.Errorf("orchestrator: %q is not a pending tool use", id)
	}
	ws.Pending[id] = &ApprovalDecision{Approved: approved, Reason: reason}

	for _, d := range ws.Pending {
		if d == nil {
			return nil
		}
	}

	o.pendingCycleTools = nil
	o.runToolCyclePostApproval(ws.Tools, ws.Pending)
	return nil
}

// runToolCyclePostApproval resumes a cycle once every decision is in: deny whatever was
// rejected during approval, run PreToolUse hooks over the rest (honoring
// hooks.ExitCodeBlock), execute what survives as a single combined batch,
// run PostToolUse hooks for side effects, and reply.
func (o *Orchestrator) runToolCyclePostApproval(all []PendingToolUse, decisions map[string]*ApprovalDecision) {
	// A single deny voids the whole batch: every pending id gets an error
	// result (the denied ones with their reason, approved siblings with a
	// skip notice) and the turn continues without executing anything.
	anyDenied := false
	for _, d := range decisions {
		if d != nil && !d.Approved {
			anyDenied = true
			break
		}
	}
	if anyDenied {
		results := make([]ToolExecutionResult, 0, len(all))
		for _, p := range all {
			if d := decisions[p.ID]; d != nil && !d.Approved {
				msg := "denied by the user"
				if d.Reason != "" {
					msg += ": " + d.Reason
				}
				results = append(results, ToolExecutionResult{Tool: p, IsError: true, ErrorMsg: msg, ErrorKind: toolerrors.KindDenied})
				continue
			}
			results = append(results, ToolExecutionResult{Tool: p, IsError: true, ErrorMsg: "approved but skipped because a sibling tool use in this turn was denied", ErrorKind: toolerrors.KindDenied})
		}
		o.replyWithResults(results)
		return
	}

	var results []ToolExecutionResult
	toExecute := all

	jobIDs, hookToTools := o.startPreToolUseHooks(toExecute)
	if len(jobIDs) > 0 {
		o.transition(ExecutingHooks{Stage: PreToolUseStage{Tools: toExecute, JobIDs: jobIDs, HookToTools: hookToTools}})
		hookResults, interrupted := o.awaitHooks(jobIDs)
		if interrupted {
			o.abortCycleInterrupted(all)
			return
		}

		blocked := make(map[string]string)
		for jobID, hr := range hookResults {
			if hr.ExitCode == hooks.ExitCodeBlock {
				for _, toolID := range hookToTools[jobID] {
					blocked[toolID] = hr.Output
				}
			}
		}
		var execBatch []PendingToolUse
		for _, p := range toExecute {
			if output, ok := blocked[p.ID]; ok {
				msg := "blocked by a pre_tool_use hook"
				if output != "" {
					msg += ": " + output
				}
				results = append(results, ToolExecutionResult{Tool: p, IsError: true, ErrorMsg: msg, ErrorKind: toolerrors.KindDenied})
				continue
			}
			execBatch = append(execBatch, p)
		}
		toExecute = execBatch
	}

	if len(toExecute) > 0 {
		o.transition(ExecutingTools{Tools: toExecute})
		execResults, interrupted := o.runTools(toExecute)
		if interrupted {
			o.abortCycleInterrupted(all)
			return
		}
		results = append(results, execResults...)
	}

	postJobIDs := o.startPostToolUseHooks(results)
	if len(postJobIDs) > 0 {
		o.transition(ExecutingHooks{Stage: PostToolUseStage{Results: results, JobIDs: postJobIDs}})
		if _, interrupted := o.awaitHooks(postJobIDs); interrupted {
			o.abortCycleInterrupted(all)
			return
		}
	}

	o.replyWithResults(results)
}

func (o *Orchestrator) startPreToolUseHooks(tools []PendingToolUse) (ids []string, hookToTools map[string][]string) {
	ctx, span := o.tracer.Start(o.execCtx, "agent.pre_tool_use_hooks")
	defer span.End()

	hookToTools = make(map[string][]string)
	seq := 0
	for _, p := range tools {
		for _, h := range permission.MatchingHooks(o.hookConfigs, hooks.TriggerPreToolUse, p.Name) {
			id := fmt.Sprintf("%s-pre-tool-%d-%d", o.id, o.turnCount, seq)
			seq++
			tc := hooks.ToolContext{ToolName: p.Spec.Name, ToolCallID: p.ID, Payload: p.Payload}
			job := executor.HookJob{ID: id, Config: h, Input: toolContextJSON(tc)}
			if err := o.dispatcher.StartHookExecution(ctx, job); err != nil {
				o.logger.Warn(ctx, "orchestrator: pre_tool_use hook failed to start", "error", err.Error())
				continue
			}
			o.publishHookEvent(hooks.NewHookExecutionStartedEvent(o.currentLoopID(), id, h))
			ids = append(ids, id)
			hookToTools[id] = append(hookToTools[id], p.ID)
		}
	}
	return ids, hookToTools
}

func (o *Orchestrator) startPostToolUseHooks(results []ToolExecutionResult) []string {
	ctx, span := o.tracer.Start(o.execCtx, "agent.post_tool_use_hooks")
	defer span.End()

	var ids []string
	seq := 0
	for _, r := range results {
		for _, h := range permission.MatchingHooks(o.hookConfigs, hooks.TriggerPostToolUse, r.Tool.Name) {
			id := fmt.Sprintf("%s-post-tool-%d-%d", o.id, o.turnCount, seq)
			seq++
			var resultJSON json.RawMessage
			var toolErr *toolerrors.ToolError
			if r.IsError {
				toolErr = toolerrors.NewWithKind(r.ErrorKind, r.ErrorMsg)
			} else if r.Content != nil {
				resultJSON, _ = json.Marshal(r.Content)
			}
			tc := hooks.ToolContext{ToolName: r.Tool.Spec.Name, ToolCallID: r.Tool.ID, Payload: r.Tool.Payload, Result: resultJSON, Error: toolErr}
			job := executor.HookJob{ID: id, Config: h, Input: toolContextJSON(tc)}
			if err := o.dispatcher.StartHookExecution(ctx, job); err != nil {
				o.logger.Warn(ctx, "orchestrator: post_tool_use hook failed to start", "error", err.Error())
				continue
			}
			o.publishHookEvent(hooks.NewHookExecutionStartedEvent(o.currentLoopID(), id, h))
			ids = append(ids, id)
		}
	}
	return ids
}

// runTools dispatches one combined execution batch and folds the
// dispatcher's outcomes into ToolExecutionResults, in the batch's input
// order. An interrupted batch returns no results; the caller injects the
// cancelled tool results instead.
func (o *Orchestrator) runTools(batch []PendingToolUse) ([]ToolExecutionResult, bool) {
	ctx, span := o.tracer.Start(o.execCtx, "agent.tool_batch")
	defer span.End()
	started := time.Now()

	var jobIDs []string
	immediate := make(map[string]ToolExecutionResult)
	for _, p := range batch {
		if content, ok := o.priorSuccessfulResult(p); ok {
			immediate[p.ID] = ToolExecutionResult{Tool: p, Content: content}
			continue
		}
		job := executor.ToolJob{ID: p.ID, Tool: p.Spec.Name, Payload: p.Payload}
		if err := o.dispatcher.StartToolExecution(ctx, job); err != nil {
			immediate[p.ID] = ToolExecutionResult{Tool: p, IsError: true, ErrorMsg: err.Error(), ErrorKind: toolerrors.KindExecution}
			continue
		}
		o.publishHookEvent(hooks.NewToolCallScheduledEvent(o.currentLoopID(), p.ID, p.Spec.Name, p.Payload))
		jobIDs = append(jobIDs, p.ID)
	}

	outcomes, interrupted := o.awaitTools(jobIDs)
	if interrupted {
		return nil, true
	}

	results := make([]ToolExecutionResult, 0, len(batch))
	for _, p := range batch {
		if r, ok := immediate[p.ID]; ok {
			results = append(results, r)
			continue
		}
		outcome, ok := outcomes[p.ID]
		if !ok {
			results = append(results, ToolExecutionResult{Tool: p, IsError: true, ErrorMsg: "tool execution did not report a result", ErrorKind: toolerrors.KindExecution})
			continue
		}
		switch oc := outcome.(type) {
		case executor.ToolOk:
			r := ToolExecutionResult{Tool: p, Content: normalizeToolContent(oc.Output)}
			if p.Spec.BoundedResult {
				if b, ok := oc.Output.(agent.BoundedResult); ok {
					bounds := b.Bounds()
					r.Bounds = &bounds
				}
			}
			results = append(results, r)
		case executor.ToolErr:
			msg := "tool execution failed"
			kind := toolerrors.KindExecution
			if oc.Err != nil {
				msg = oc.Err.Message
				kind = oc.Err.Kind
			}
			results = append(results, ToolExecutionResult{Tool: p, IsError: true, ErrorMsg: msg, ErrorKind: kind})
		case executor.ToolCancelled:
			results = append(results, ToolExecutionResult{Tool: p, IsError: true, ErrorMsg: "cancelled", ErrorKind: toolerrors.KindCancelled})
		}
	}

	for _, r := range results {
		var resJSON json.RawMessage
		var terr *toolerrors.ToolError
		cancelled := false
		if r.IsError {
			cancelled = r.ErrorKind == toolerrors.KindCancelled
			terr = toolerrors.NewWithKind(r.ErrorKind, r.ErrorMsg)
		} else if r.Content != nil {
			if data, err := json.Marshal(r.Content); err == nil {
				resJSON = data
			}
		}
		o.publishHookEvent(hooks.NewToolResultReceivedEvent(o.currentLoopID(), r.Tool.ID, r.Tool.Spec.Name, resJSON, terr, time.Since(started), cancelled))
	}
	return results, false
}

// priorSuccessfulResult implements tools.IdempotencyScopeTranscript: when p's
// spec is tagged idempotent across the transcript, it scans history for an
// earlier tool_use with the same name and a deep-equal payload followed by a
// successful tool_result, and returns that result's content so the caller
// can skip re-executing the tool. A decode failure or tag parse error fails
// open to normal execution rather than risking an incorrect skip.
func (o *Orchestrator) priorSuccessfulResult(p PendingToolUse) ([]model.ResultBlock, bool) {
	scope, ok, err := tools.IdempotencyScopeFromTags(p.Spec.Tags)
	if err != nil || !ok || scope != tools.IdempotencyScopeTranscript {
		return nil, false
	}
	var payload any
	if err := json.Unmarshal(p.Payload, &payload); err != nil {
		return nil, false
	}
	for i, msg := range o.history {
		if msg.Role != model.ConversationRoleAssistant || i+1 >= len(o.history) {
			continue
		}
		for _, part := range msg.Parts {
			tu, ok := part.(model.ToolUsePart)
			if !ok || tu.Name != string(p.Spec.Name) || !reflect.DeepEqual(tu.Input, payload) {
				continue
			}
			for _, rp := range o.history[i+1].Parts {
				tr, ok := rp.(model.ToolResultPart)
				if ok && tr.ToolUseID == tu.ID && tr.Status == model.ResultStatusSuccess {
					return tr.Content, true
				}
			}
		}
	}
	return nil, false
}

// replyWithResults appends the combined tool_result message to history and
// continues the turn with another request.
func (o *Orchestrator) replyWithResults(results []ToolExecutionResult) {
	o.pendingCycleTools = nil
	o.recordToolOutcomes(results)
	o.history = append(o.history, o.buildToolResultMessage(results))
	_ = o.beginRequest(o.lastOptions)
}

// recordToolOutcomes feeds the tool-call-count-by-outcome metric for every
// ToolExecutionResult that converges on replyWithResults (denied, blocked by
// a hook, cancelled by the executor, executed). A cycle aborted by an
// interrupt does not reply; abortCycleInterrupted counts its cancelled
// outcomes itself.
func (o *Orchestrator) recordToolOutcomes(results []ToolExecutionResult) {
	for _, r := range results {
		outcome := "success"
		if r.IsError {
			switch r.ErrorKind {
			case toolerrors.KindDenied:
				outcome = "denied"
			case toolerrors.KindCancelled:
				outcome = "cancelled"
			default:
				outcome = "error"
			}
		}
		o.metrics.IncCounter("agent_tool_calls_total", 1, "tool", string(r.Tool.Spec.Name), "outcome", outcome)
	}
}

func (o *Orchestrator) buildToolResultMessage(results []ToolExecutionResult) model.Message {
	parts := make([]model.Part, 0, len(results)*2)
	for _, r := range results {
		status := model.ResultStatusSuccess
		var blocks []model.ResultBlock
		if r.IsError {
			status = model.ResultStatusError
			blocks = []model.ResultBlock{model.TextResultBlock{Text: r.ErrorMsg}}
		} else {
			blocks = toResultBlocks(r.Content)
		}
		parts = append(parts, model.ToolResultPart{ToolUseID: r.Tool.ID, Content: blocks, Status: status})
		if rem := o.resultReminder(r); rem != "" {
			parts = append(parts, model.TextPart{Text: "<system-reminder>" + rem + "</system-reminder>"})
		}
	}
	return model.Message{Role: model.ConversationRoleUser, Parts: parts}
}

// toResultBlocks adapts a tool's decoded output into the model package's
// ResultBlock union. Output already produced by normalizeToolContent passes
// through unchanged; a plain string becomes a single text block; everything
// else (a built-in tool's own decoded result struct/map) is carried as a
// single JSON block so the model still receives it as structured data rather
// than a Go %v dump.
func toResultBlocks(content any) []model.ResultBlock {
	switch v := content.(type) {
	case nil:
		return nil
	case []model.ResultBlock:
		return v
	case string:
		if v == "" {
			return nil
		}
		return []model.ResultBlock{model.TextResultBlock{Text: v}}
	default:
		return []model.ResultBlock{model.JSONResultBlock{Value: v}}
	}
}

// resultReminder implements tools.ToolSpec.ResultReminder's documented
// contract, folding in BoundedResult truncation metadata when the tool
// declared itself bounded and its output reported it.
func (o *Orchestrator) resultReminder(r ToolExecutionResult) string {
	if r.IsError {
		return ""
	}
	reminder := r.Tool.Spec.ResultReminder
	if r.Bounds != nil {
		if note := r.Bounds.ReminderNote(); note != "" {
			if reminder != "" {
				reminder += " " + note
			} else {
				reminder = note
			}
		}
	}
	return reminder
}

// normalizeToolContent flattens an mcpsource.ToolOutput into
// []model.ResultBlock, the shape buildToolResultMessage attaches to the
// model-facing ToolResultPart. Any other value (a built-in tool's own
// decoded result) is passed through unchanged for toResultBlocks to wrap.
func normalizeToolContent(v any) any {
	out, ok := v.(mcpsource.ToolOutput)
	if !ok {
		return v
	}
	blocks := make([]model.ResultBlock, 0, len(out.Items))
	for _, item := range out.Items {
		switch item.Kind {
		case mcpsource.ResultItemText:
			blocks = append(blocks, model.TextResultBlock{Text: item.Text})
		case mcpsource.ResultItemJSON:
			blocks = append(blocks, model.JSONResultBlock{Value: item.JSON})
		case mcpsource.ResultItemImage:
			blocks = append(blocks, model.ImageResultBlock{Mime: item.Mime, Bytes: item.Image})
		}
	}
	return blocks
}
