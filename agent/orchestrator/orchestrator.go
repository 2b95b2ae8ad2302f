// Package orchestrator implements the top-level agent actor: it accepts
// SendPrompt/SendApprovalResult/Interrupt/CreateSnapshot requests, drives an
// agent/loop.Loop through successive model requests, and resolves tool uses
// against permissions, hooks, and approvals between turns.
//
// The actor shape follows the same single-owning-goroutine idiom used by
// agent/loop and agent/executor: all mutable state is owned by run() and
// advanced only from inside its command loop, so callers never observe a
// half-updated history or ActiveState. Hook and tool batches are awaited
// synchronously from within that same goroutine (see awaitHooks/awaitTools),
// but the request channel stays live for the duration: an Interrupt arriving
// mid batch cancels every outstanding job and the batch drains their
// cancelled outcomes before the cycle aborts; other requests are deferred
// until the batch's call stack unwinds.
package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/agentcore-dev/runtime/agent"
	"github.com/agentcore-dev/runtime/agent/executor"
	"github.com/agentcore-dev/runtime/agent/loop"
	"github.com/agentcore-dev/runtime/agent/mcpsource"
	"github.com/agentcore-dev/runtime/agent/permission"
	"github.com/agentcore-dev/runtime/agent/schema"
	"github.com/agentcore-dev/runtime/agent/snapshot"
	"github.com/agentcore-dev/runtime/hooks"
	"github.com/agentcore-dev/runtime/model"
	"github.com/agentcore-dev/runtime/stream"
	"github.com/agentcore-dev/runtime/telemetry"
	"github.com/agentcore-dev/runtime/tools"
	"github.com/agentcore-dev/runtime/toolerrors"
)

// ActiveState is the closed tagged union describing what the orchestrator is
// currently doing.
type ActiveState interface{ isActiveState() }

type (
	// Idle means no turn is in flight; SendPrompt is accepted.
	Idle struct{}

	// Errored means the last turn ended in an unrecoverable error;
	// SendPrompt starts a fresh turn from the preserved history.
	Errored struct{ Err error }

	// WaitingForApproval means one or more tool uses need an explicit
	// approve/deny decision before execution can proceed.
	WaitingForApproval struct {
		Tools   []PendingToolUse
		Pending map[string]*ApprovalDecision
	}

	// ExecutingHooks means hooks are running for the stage described by
	// Stage (PrePrompt, PreToolUse, or PostToolUse).
	ExecutingHooks struct{ Stage HookStage }

	// ExecutingRequest means a model request is in flight on the current
	// agent loop.
	ExecutingRequest struct{}

	// ExecutingTools means tool jobs are running for the tools listed.
	ExecutingTools struct{ Tools []PendingToolUse }
)

func (Idle) isActiveState()               {}
func (Errored) isActiveState()            {}
func (WaitingForApproval) isActiveState() {}
func (ExecutingHooks) isActiveState()     {}
func (ExecutingRequest) isActiveState()   {}
func (ExecutingTools) isActiveState()     {}

// HookStage is the closed tagged union describing which lifecycle point a
// batch of ExecutingHooks work belongs to.
type HookStage interface{ isHookStage() }

type (
	// PrePromptStage runs UserPromptSubmit hooks before a turn begins.
	PrePromptStage struct {
		PromptMessage model.Message
		JobIDs        []string
	}

	// PreToolUseStage runs PreToolUse hooks before tool execution.
	PreToolUseStage struct {
		Tools  []PendingToolUse
		JobIDs []string
		// HookToTools maps a hook job id back to the tools it was matched
		// against, so an ExitCodeBlock result can be attributed correctly.
		HookToTools map[string][]string
	}

	// PostToolUseStage runs PostToolUse hooks after tool execution, purely
	// for side effects; its outcome never changes the reply already
	// assembled in Results.
	PostToolUseStage struct {
		Results []ToolExecutionResult
		JobIDs  []string
	}
)

func (PrePromptStage) isHookStage()   {}
func (PreToolUseStage) isHookStage()  {}
func (PostToolUseStage) isHookStage() {}

// PendingToolUse is a tool use that has been parsed and canonicalized but
// not yet resolved to a result.
type PendingToolUse struct {
	ID      string
	Name    permission.CanonicalToolName
	Spec    tools.ToolSpec
	Payload json.RawMessage
}

// ApprovalDecision records the outcome of SendApprovalResult for one pending
// tool use. A nil *ApprovalDecision in WaitingForApproval.Pending means
// undecided.
type ApprovalDecision struct {
	Approved bool
	Reason   string
}

// ToolExecutionResult is the outcome of running one tool, independent of
// whether it came from a direct execution, a permission denial, a blocked
// PreToolUse hook, or a parse failure.
type ToolExecutionResult struct {
	Tool     PendingToolUse
	IsError  bool
	Content  any
	ErrorMsg string
	// ErrorKind classifies ErrorMsg for telemetry and PostToolUse hook
	// consumers (see toolerrors.Kind). Meaningless when IsError is false.
	ErrorKind toolerrors.Kind
	// Bounds is set only when the tool's raw output implemented
	// agent.BoundedResult, letting the reply path fold truncation metadata
	// into the tool's ResultReminder text.
	Bounds *agent.Bounds
}

// AgentSpawnHookOutput is one cached, successful AgentSpawn hook result,
// replayed verbatim into every turn's synthetic context message so the
// context prefix stays byte-identical across turns and keeps prompt-cache
// checkpoints stable.
type AgentSpawnHookOutput struct {
	Output string
}

// SendPromptOptions carries the per-request knobs a caller can set on
// SendPrompt; it mirrors loop.SendRequestArgs' optional fields so the
// orchestrator can pass them straight through when it starts a turn.
type SendPromptOptions struct {
	Model       string
	ModelClass  model.ModelClass
	MaxTokens   int
	Temperature float32
	Thinking    *model.ThinkingOptions
	Cache       *model.CacheOptions
}

// Config configures a new Orchestrator.
type Config struct {
	Client model.Client

	// Dispatcher overrides the default in-process executor.Dispatcher. Most
	// callers leave this nil and rely on MCPSources for tool execution and
	// the built-in shell HookRunner.
	Dispatcher executor.Dispatcher

	MCPSources   []mcpsource.Source
	BuiltinTools []tools.ToolSpec
	// BuiltinRunners maps a built-in tool's name to the function that
	// executes it; a BuiltinTools spec with no matching runner fails its
	// invocations with a descriptive error. Ignored when Dispatcher is set.
	BuiltinRunners map[string]executor.ToolRunnerFunc
	AgentTools     []tools.ToolSpec
	AllowedPatterns []string
	ToolSettings    []permission.ToolSettings
	Hooks           []hooks.HookConfig

	SystemPrompt string
	// ResourceFiles maps a display name (as it appears in the synthetic
	// context message) to pre-loaded file content. Loading file:// / glob
	// resources from disk is left to the caller: this module's scope is
	// message formatting, not a file-loading subsystem.
	ResourceFiles   map[string]string
	ResourceFileCap int

	Validator     *schema.Validator
	SnapshotStore snapshot.Store
	// HookBus receives hook/tool lifecycle events (scheduled, ended,
	// cancelled) for observers registered via RegisterHookObserver. A fresh
	// bus is created when nil.
	HookBus     hooks.Bus
	Logger      telemetry.Logger
	Metrics     telemetry.Metrics
	Tracer      telemetry.Tracer
	EventBuffer int
}

// Orchestrator is the top-level agent actor.
type Orchestrator struct {
	id string

	client     model.Client
	dispatcher executor.Dispatcher
	mcpSources []mcpsource.Source

	toolSpecs       []tools.ToolSpec
	allowedPatterns []string
	toolSettings    []permission.ToolSettings
	hookConfigs     []hooks.HookConfig

	systemPrompt    string
	resourceFiles   map[string]string
	resourceFileCap int

	validator     *schema.Validator
	snapshotStore snapshot.Store
	hookBus       hooks.Bus

	logger  telemetry.Logger
	metrics telemetry.Metrics
	tracer  telemetry.Tracer

	reqCh  chan request
	events chan Event
	done   chan struct{}

	execCtx    context.Context
	execCancel context.CancelFunc

	history []model.Message
	summary string

	active      ActiveState
	agentLoop   *loop.Loop
	loopEvents  chan loop.Event
	lastOptions SendPromptOptions
	// lastStreamResult is the most recent ResponseStreamEnd result from the
	// current loop, consulted when the loop reaches StateErrored to decide
	// between a recoverable resend and a terminal Errored transition.
	lastStreamResult stream.Result

	pendingCycleTools []PendingToolUse
	agentSpawnHooks   []AgentSpawnHookOutput
	// deferred holds requests received while a hook/tool batch was draining;
	// run() replays them in arrival order once the batch's call stack
	// unwinds.
	deferred []request

	turnCount    int
	createdAt    time.Time
	lastActiveAt time.Time
}

// New constructs and starts an Orchestrator. Its actor goroutine runs until
// Shutdown is called.
func New(id string, cfg Config) *Orchestrator {
	dispatcher := cfg.Dispatcher
	if dispatcher == nil {
		runner := newMCPToolRunner(cfg.MCPSources, cfg.BuiltinRunners)
		dispatcher = executor.NewInProcess(runner, newShellHookRunner(64*1024), 64)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = telemetry.NewNoopLogger()
	}
	metrics := cfg.Metrics
	if metrics == nil {
		metrics = telemetry.NewNoopMetrics()
	}
	tracer := cfg.Tracer
	if tracer == nil {
		tracer = telemetry.NewNoopTracer()
	}
	store := cfg.SnapshotStore
	if store == nil {
		store = snapshot.NewInMemory()
	}
	validator := cfg.Validator
	if validator == nil {
		validator = schema.NewValidator()
	}
	hookBus := cfg.HookBus
	if hookBus == nil {
		hookBus = hooks.NewBus()
	}
	bufSize := cfg.EventBuffer
	if bufSize == 0 {
		bufSize = 256
	}

	execCtx, execCancel := context.WithCancel(context.Background())

	specs := make([]tools.ToolSpec, 0, len(cfg.BuiltinTools)+len(cfg.AgentTools))
	specs = append(specs, cfg.BuiltinTools...)
	specs = append(specs, cfg.AgentTools...)

	o := &Orchestrator{
		id:              id,
		client:          cfg.Client,
		dispatcher:      dispatcher,
		mcpSources:      cfg.MCPSources,
		toolSpecs:       specs,
		allowedPatterns: cfg.AllowedPatterns,
		toolSettings:    cfg.ToolSettings,
		hookConfigs:     cfg.Hooks,
		systemPrompt:    cfg.SystemPrompt,
		resourceFiles:   cfg.ResourceFiles,
		resourceFileCap: cfg.ResourceFileCap,
		validator:       validator,
		snapshotStore:   store,
		hookBus:         hookBus,
		logger:          logger,
		metrics:         metrics,
		tracer:          tracer,
		reqCh:           make(chan request, 16),
		events:          make(chan Event, bufSize),
		done:            make(chan struct{}),
		execCtx:         execCtx,
		execCancel:      execCancel,
		active:          Idle{},
		createdAt:       time.Now(),
	}
	if o.resourceFileCap <= 0 {
		o.resourceFileCap = MaxResourceFileLength
	}

	go o.run()
	return o
}

// Events returns the orchestrator's broadcast event stream.
func (o *Orchestrator) Events() <-chan Event { return o.events }

// RegisterHookObserver subscribes sub to the orchestrator's hook/tool
// lifecycle bus: hook executions starting and ending, tool calls being
// scheduled, and tool results arriving. Observers run synchronously inside
// the orchestrator's actor goroutine; a failing observer is logged and does
// not affect the turn.
func (o *Orchestrator) RegisterHookObserver(sub hooks.Subscriber) (hooks.Subscription, error) {
	return o.hookBus.Register(sub)
}

func (o *Orchestrator) publishHookEvent(ev hooks.Event) {
	if err := o.hookBus.Publish(o.execCtx, ev); err != nil {
		o.logger.Warn(o.execCtx, "orchestrator: hook event subscriber failed", "type", string(ev.Type()), "error", err.Error())
	}
}

func (o *Orchestrator) currentLoopID() string {
	if o.agentLoop != nil {
		return o.agentLoop.ID()
	}
	return ""
}

// Shutdown stops the orchestrator's internal goroutine. It does not send an
// Interrupt to an in-flight loop first; callers that need a clean turn
// boundary should call Interrupt before Shutdown.
func (o *Orchestrator) Shutdown() {
	close(o.reqCh)
	<-o.done
	o.execCancel()
}

func (o *Orchestrator) emit(e Event) {
	select {
	case o.events <- e:
	default:
		o.logger.Warn(context.Background(), "orchestrator: event channel full, dropping event", "type", fmt.Sprintf("%T", e))
	}
}

func (o *Orchestrator) run() {
	defer close(o.done)
	defer o.dispatcher.Close()

	o.initialize()

	for {
		for len(o.deferred) > 0 {
			req := o.deferred[0]
			o.deferred = o.deferred[1:]
			o.handleRequest(req)
		}

		var loopEvCh chan loop.Event
		if o.agentLoop != nil {
			loopEvCh = o.loopEvents
		}
		select {
		case req, ok := <-o.reqCh:
			if !ok {
				return
			}
			o.handleRequest(req)

		case ev, ok := <-loopEvCh:
			if !ok {
				continue
			}
			o.handleLoopEvent(ev)
		}
	}
}

// initialize lists tools from every configured MCP
// source, runs AgentSpawn hooks to completion, and caches their output for
// every subsequent turn's synthetic context message.
func (o *Orchestrator) initialize() {
	ctx := context.Background()
	for _, src := range o.mcpSources {
		specs, err := src.ListTools(ctx)
		if err != nil {
			o.logger.Warn(ctx, "orchestrator: mcp source failed to list tools, continuing without it", "server", src.Server(), "error", err.Error())
			continue
		}
		o.toolSpecs = append(o.toolSpecs, specs...)
	}

	var jobIDs []string
	for i, h := range o.hookConfigs {
		if h.Trigger != hooks.TriggerAgentSpawn {
			continue
		}
		id := fmt.Sprintf("%s-agent-spawn-%d", o.id, i)
		if err := o.dispatcher.StartHookExecution(o.execCtx, executor.HookJob{ID: id, Config: h}); err != nil {
			o.logger.Warn(ctx, "orchestrator: agent_spawn hook failed to start", "error", err.Error())
			continue
		}
		o.publishHookEvent(hooks.NewHookExecutionStartedEvent("", id, h))
		jobIDs = append(jobIDs, id)
	}

	results, _ := o.awaitHooks(jobIDs)
	for _, id := range jobIDs {
		res, ok := results[id]
		if !ok || res.ExitCode != 0 {
			o.logger.Warn(ctx, "orchestrator: agent_spawn hook did not succeed", "id", id)
			continue
		}
		o.agentSpawnHooks = append(o.agentSpawnHooks, AgentSpawnHookOutput{Output: res.Output})
	}

	o.emit(Initialized{})
}

func (o *Orchestrator) transition(to ActiveState) {
	from := o.active
	o.active = to
	o.emit(StateChange{From: from, To: to})
}

// awaitHooks blocks until every hook job in ids has reported completion,
// returning each one's result and whether an Interrupt preempted the batch.
// A cancelled hook leaves no entry in the result map, so callers treat it
// like a failed hook.
func (o *Orchestrator) awaitHooks(ids []string) (map[string]hooks.HookResult, bool) {
	results := make(map[string]hooks.HookResult, len(ids))
	interrupted := o.drainBatch(ids, o.dispatcher.CancelHookExecution, func(evt executor.Event) {
		end, ok := evt.(executor.HookExecutionEndEvent)
		if !ok {
			return
		}
		if hr, ok2 := end.Outcome.(executor.HookOk); ok2 {
			results[end.ID] = hr.Result
			res := hr.Result
			o.publishHookEvent(hooks.NewHookExecutionEndedEvent(o.currentLoopID(), end.ID, &res, false))
		} else {
			o.publishHookEvent(hooks.NewHookExecutionEndedEvent(o.currentLoopID(), end.ID, nil, true))
		}
	})
	return results, interrupted
}

// awaitTools blocks until every tool job in ids has reported completion,
// returning each one's outcome and whether an Interrupt preempted the batch.
func (o *Orchestrator) awaitTools(ids []string) (map[string]executor.ToolOutcome, bool) {
	results := make(map[string]executor.ToolOutcome, len(ids))
	interrupted := o.drainBatch(ids, o.dispatcher.CancelToolExecution, func(evt executor.Event) {
		if end, ok := evt.(executor.ToolExecutionEndEvent); ok {
			results[end.ID] = end.Outcome
		}
	})
	return results, interrupted
}

// drainBatch blocks until every job in ids has reported completion. The
// request channel stays live for the duration, so an Interrupt arriving mid
// batch preempts it: every outstanding job is cancelled via cancelJob and
// the drain continues until each one reports (normally with a Cancelled
// outcome), so no completion event is ever lost. Other requests arriving
// mid batch are deferred and replayed by run() once the batch's call stack
// unwinds. It is the only place in the actor
// that consumes Dispatcher completion events; a forwarding goroutine exists
// per batch purely to turn the blocking Next call into a selectable channel,
// and is fully drained before this function returns.
func (o *Orchestrator) drainBatch(ids []string, cancelJob func(string), onEvent func(executor.Event)) bool {
	remaining := make(map[string]bool, len(ids))
	for _, id := range ids {
		remaining[id] = true
	}
	if len(remaining) == 0 {
		return false
	}

	fwdCtx, stopFwd := context.WithCancel(o.execCtx)
	evCh := make(chan executor.Event)
	go func() {
		defer close(evCh)
		for {
			evt, err := o.dispatcher.Next(fwdCtx)
			if err != nil {
				return
			}
			select {
			case evCh <- evt:
			case <-fwdCtx.Done():
				return
			}
		}
	}()
	defer func() {
		stopFwd()
		for evt := range evCh {
			o.emit(TaskExecutorEvent{Event: evt})
			onEvent(evt)
		}
	}()

	handleEvent := func(evt executor.Event) {
		o.emit(TaskExecutorEvent{Event: evt})
		switch end := evt.(type) {
		case executor.ToolExecutionEndEvent:
			delete(remaining, end.ID)
		case executor.HookExecutionEndEvent:
			delete(remaining, end.ID)
		}
		onEvent(evt)
	}
	cancelRemaining := func() {
		for id := range remaining {
			cancelJob(id)
		}
	}

	interrupted := false
	reqCh := o.reqCh
	for len(remaining) > 0 {
		select {
		case evt, ok := <-evCh:
			if !ok {
				return interrupted
			}
			handleEvent(evt)
		case req, ok := <-reqCh:
			if !ok {
				// Shutdown: cancel the batch and keep draining so every
				// started job still reports. run() observes the closed
				// channel again once the call stack unwinds.
				reqCh = nil
				interrupted = true
				cancelRemaining()
				continue
			}
			if ir, isInterrupt := req.(reqInterrupt); isInterrupt {
				interrupted = true
				cancelRemaining()
				ir.resp <- nil
				continue
			}
			// Anything else waits for the batch: handling it here could
			// start new work (and a second Next consumer) from inside this
			// one. run() replays deferred requests once the stack unwinds.
			o.deferred = append(o.deferred, req)
		}
	}
	return interrupted
}

func (o *Orchestrator) specIndex() map[string]tools.ToolSpec {
	idx := make(map[string]tools.ToolSpec, len(o.toolSpecs))
	for _, s := range o.toolSpecs {
		idx[string(s.Name)] = s
	}
	return idx
}

func toolDefinitions(specs []tools.ToolSpec) []*model.ToolDefinition {
	defs := make([]*model.ToolDefinition, 0, len(specs))
	for _, s := range specs {
		var schemaDoc any
		if len(s.Payload.Schema) > 0 {
			_ = json.Unmarshal(s.Payload.Schema, &schemaDoc)
		}
		defs = append(defs, &model.ToolDefinition{
			Name:        string(s.Name),
			Description: s.Description,
			InputSchema: schemaDoc,
		})
	}
	return defs
}

func derefMessages(in []*model.Message) []model.Message {
	out := make([]model.Message, 0, len(in))
	for _, m := range in {
		out = append(out, *m)
	}
	return out
}

// handleLoopEvent folds one agent-loop event into orchestrator state,
// rebroadcasting it and, when the loop has reached a pending-tool-use or
// terminal state, driving the corresponding transition.
func (o *Orchestrator) handleLoopEvent(ev loop.Event) {
	o.emit(AgentLoopEvent{Event: ev})
	switch e := ev.(type) {
	case loop.ResponseStreamEnd:
		o.lastStreamResult = e.Result
		if msg, ok := okMessage(e.Result); ok {
			o.history = append(o.history, msg)
		}
	case loop.LoopStateChange:
		switch e.To {
		case loop.StatePendingToolUseResults:
			o.beginToolCycle()
		case loop.StateErrored:
			o.handleLoopErrored()
		}
	case loop.UserTurnEnd:
		o.finishTurn(e.Metadata)
	}
}

// handleLoopErrored applies the loop-error policy once the loop has
// folded a failed stream into StateErrored. Invalid tool-input JSON and
// request timeouts are recovered in place by injecting a synthesized
// assistant/user message pair and resending; an interrupt-cancelled request
// needs nothing (the close already in progress finishes the loop); every
// other failure closes the loop with EndReasonError, which finishTurn
// converts into the Errored active state.
func (o *Orchestrator) handleLoopErrored() {
	if o.agentLoop == nil {
		return
	}
	switch r := o.lastStreamResult.(type) {
	case stream.InvalidJSON:
		o.recoverInvalidJSON(r)
	case stream.StreamFailure:
		switch {
		case errors.Is(r.Err, context.Canceled):
			// Interrupt path: handleInterrupt's CloseWithReason finishes the
			// loop; reacting here would double-close it.
		case errors.Is(r.Err, context.DeadlineExceeded):
			o.recoverTimeout()
		default:
			o.agentLoop.CloseWithReason(loop.EndReasonError)
		}
	default:
		o.agentLoop.CloseWithReason(loop.EndReasonError)
	}
}

// recoverInvalidJSON synthesizes the assistant turn the stream failed to
// deliver (its text plus one tool use per unparseable call, each with a
// sentinel input), answers every sentinel with an error tool result, and asks
// the model to split the work into smaller calls before resending.
func (o *Orchestrator) recoverInvalidJSON(r stream.InvalidJSON) {
	asst := make([]model.Part, 0, len(r.InvalidTools)+1)
	asst = append(asst, model.TextPart{Text: r.AssistantText})
	for _, it := range r.InvalidTools {
		asst = append(asst, model.ToolUsePart{ID: it.ID, Name: it.Name, Input: map[string]any{"invalid_json": true}})
	}
	user := make([]model.Part, 0, len(r.InvalidTools)+1)
	for _, it := range r.InvalidTools {
		user = append(user, model.ToolResultPart{
			ToolUseID: it.ID,
			Status:    model.ResultStatusError,
			Content:   []model.ResultBlock{model.TextResultBlock{Text: "The tool input did not arrive as valid JSON and was discarded."}},
		})
	}
	user = append(user, model.TextPart{Text: "The previous tool input was too large to stream intact. Split the work into smaller tool calls and try again."})
	o.history = append(o.history,
		model.Message{Role: model.ConversationRoleAssistant, Parts: asst},
		model.Message{Role: model.ConversationRoleUser, Parts: user},
	)
	if err := o.beginRequest(o.lastOptions); err != nil {
		o.logger.Warn(o.execCtx, "orchestrator: resend after invalid tool input failed", "error", err.Error())
	}
}

// recoverTimeout injects a timed-out assistant notice and a user instruction
// to take smaller steps, then resends.
func (o *Orchestrator) recoverTimeout() {
	o.history = append(o.history,
		model.Message{Role: model.ConversationRoleAssistant, Parts: []model.Part{model.TextPart{Text: "The response timed out before it could complete."}}},
		model.Message{Role: model.ConversationRoleUser, Parts: []model.Part{model.TextPart{Text: "The previous request timed out. Take smaller steps and try again."}}},
	)
	if err := o.beginRequest(o.lastOptions); err != nil {
		o.logger.Warn(o.execCtx, "orchestrator: resend after timeout failed", "error", err.Error())
	}
}

func okMessage(r stream.Result) (model.Message, bool) {
	if v, ok := r.(stream.Ok); ok {
		return v.Message, true
	}
	return model.Message{}, false
}

func (o *Orchestrator) finishTurn(meta loop.UserTurnMetadata) {
	// The loop has emitted its final event but its actor goroutine exits
	// only on close; Close here is idempotent and reaps it.
	if o.agentLoop != nil {
		o.agentLoop.Close()
	}
	o.agentLoop = nil
	o.loopEvents = nil

	switch meta.EndReason {
	case loop.EndReasonUserTurnEnd, loop.EndReasonCancelled, loop.EndReasonToolUseRejected, loop.EndReasonDidNotRun:
		o.transition(Idle{})
	default:
		err := classifyStreamError(meta.FinalResult)
		o.transition(Errored{Err: err})
		o.emit(RequestError{Err: err})
	}
}

// classifyStreamError wraps a terminal stream failure for Errored. The only
// distinction the orchestrator draws among stream failures is "timed out"
// (any error chain containing context.DeadlineExceeded) versus every other
// failure kind; see DESIGN.md for why a richer StreamErrorKind taxonomy was
// not introduced.
func classifyStreamError(result stream.Result) error {
	switch r := result.(type) {
	case stream.StreamFailure:
		if errors.Is(r.Err, context.DeadlineExceeded) {
			return fmt.Errorf("orchestrator: model request timed out: %w", r.Err)
		}
		return fmt.Errorf("orchestrator: model stream failed: %w", r.Err)
	case stream.InvalidJSON:
		return fmt.Errorf("orchestrator: model produced %d tool call(s) with unparseable input", len(r.InvalidTools))
	default:
		return errors.New("orchestrator: agent loop ended in error")
	}
}
