package orchestrator

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/agentcore-dev/runtime/agent/executor"
	"github.com/agentcore-dev/runtime/agent/invariants"
	"github.com/agentcore-dev/runtime/agent/loop"
	"github.com/agentcore-dev/runtime/agent/snapshot"
	"github.com/agentcore-dev/runtime/hooks"
	"github.com/agentcore-dev/runtime/model"
	"github.com/agentcore-dev/runtime/tools"
)

// request is the closed tagged union of external operations accepted on
// Orchestrator.reqCh: SendPrompt, Interrupt, SendApprovalResult, and
// CreateSnapshot.
type request interface{ isRequest() }

type (
	reqSendPrompt struct {
		text string
		opts SendPromptOptions
		resp chan error
	}
	reqInterrupt struct{ resp chan error }
	reqApproval  struct {
		id       string
		approved bool
		reason   string
		resp     chan error
	}
	reqSnapshot struct{ resp chan snapshotResult }
)

type snapshotResult struct {
	snap snapshot.Snapshot
	err  error
}

// Reserved constants for the synthetic context-message pair. The pair must
// stay byte-identical across turns (it anchors prompt-cache checkpoints), so
// every entry is framed with the same fixed header/footer and the assistant
// acknowledgement never varies.
const (
	// ContextEntryHeader and ContextEntryFooter delimit one entry inside the
	// synthetic context message.
	ContextEntryHeader = "--- CONTEXT ENTRY BEGIN ---\n"
	ContextEntryFooter = "--- CONTEXT ENTRY END ---\n\n"

	// TruncationSuffix terminates a resource file cut at MaxResourceFileLength.
	TruncationSuffix = "...truncated"

	// MaxResourceFileLength caps each resource file's contribution to the
	// context message; Config.ResourceFileCap overrides it per orchestrator.
	MaxResourceFileLength = 10 * 1024

	// contextAcknowledgement is the fixed assistant half of the context pair.
	contextAcknowledgement = "Understood. I will use this context for the rest of the conversation."
)

func (reqSendPrompt) isRequest() {}
func (reqInterrupt) isRequest()  {}
func (reqApproval) isRequest()   {}
func (reqSnapshot) isRequest()   {}

// SendPrompt submits a new user prompt. It is legal only when the
// orchestrator is Idle or Errored; any other ActiveState rejects it.
func (o *Orchestrator) SendPrompt(ctx context.Context, text string, opts SendPromptOptions) error {
	resp := make(chan error, 1)
	select {
	case o.reqCh <- reqSendPrompt{text: text, opts: opts, resp: resp}:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-resp:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Interrupt cancels whatever the orchestrator is currently doing. It is a
// no-op when Idle; from Errored it closes any leftover loop and resets to
// Idle.
func (o *Orchestrator) Interrupt(ctx context.Context) error {
	resp := make(chan error, 1)
	select {
	case o.reqCh <- reqInterrupt{resp: resp}:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-resp:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// SendApprovalResult resolves one pending tool use's approve/deny decision
// while the orchestrator is WaitingForApproval.
func (o *Orchestrator) SendApprovalResult(ctx context.Context, id string, approved bool, reason string) error {
	resp := make(chan error, 1)
	select {
	case o.reqCh <- reqApproval{id: id, approved: approved, reason: reason, resp: resp}:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-resp:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// CreateSnapshot captures and persists the orchestrator's current
// conversation state.
func (o *Orchestrator) CreateSnapshot(ctx context.Context) (snapshot.Snapshot, error) {
	resp := make(chan snapshotResult, 1)
	select {
	case o.reqCh <- reqSnapshot{resp: resp}:
	case <-ctx.Done():
		return snapshot.Snapshot{}, ctx.Err()
	}
	select {
	case r := <-resp:
		return r.snap, r.err
	case <-ctx.Done():
		return snapshot.Snapshot{}, ctx.Err()
	}
}

func (o *Orchestrator) handleRequest(req request) {
	switch r := req.(type) {
	case reqSendPrompt:
		r.resp <- o.handleSendPrompt(r.text, r.opts)
	case reqInterrupt:
		r.resp <- o.handleInterrupt()
	case reqApproval:
		r.resp <- o.handleApprovalResult(r.id, r.approved, r.reason)
	case reqSnapshot:
		snap, err := o.buildSnapshot()
		r.resp <- snapshotResult{snap: snap, err: err}
	}
}

// handleSendPrompt runs UserPromptSubmit hooks, folds their output into the
// prompt message, then formats and sends the first request of the turn.
func (o *Orchestrator) handleSendPrompt(text string, opts SendPromptOptions) error {
	switch o.active.(type) {
	case Idle, Errored:
	default:
		return fmt.Errorf("orchestrator: cannot accept a prompt while %T is active", o.active)
	}

	promptMsg := model.Message{Role: model.ConversationRoleUser, Parts: []model.Part{model.TextPart{Text: text}}}

	jobIDs := o.startUserPromptHooks(text)
	if len(jobIDs) > 0 {
		o.transition(ExecutingHooks{Stage: PrePromptStage{PromptMessage: promptMsg, JobIDs: jobIDs}})
		results, interrupted := o.awaitHooks(jobIDs)
		if interrupted {
			// The hooks were cancelled; abandon the prompt without touching
			// history and settle back to Idle.
			if o.agentLoop != nil {
				o.agentLoop.Close()
				o.agentLoop = nil
				o.loopEvents = nil
			}
			o.transition(Idle{})
			return fmt.Errorf("orchestrator: prompt cancelled by interrupt")
		}
		// Each successful hook's captured output rides along with the prompt
		// as an extra text block. UserPromptSubmit hooks never block a turn;
		// only PreToolUse hooks can (via ExitCodeBlock).
		for _, id := range jobIDs {
			if res, ok := results[id]; ok && res.ExitCode == 0 && res.Output != "" {
				promptMsg.Parts = append(promptMsg.Parts, model.TextPart{Text: res.Output})
			}
		}
	}

	// A fresh turn always gets a fresh loop; a loop left over from an
	// Errored turn that never finished is closed and abandoned here.
	if o.agentLoop != nil {
		o.agentLoop.Close()
		o.agentLoop = nil
		o.loopEvents = nil
	}

	o.history = append(o.history, promptMsg)
	o.lastOptions = opts
	return o.beginRequest(opts)
}

func (o *Orchestrator) startUserPromptHooks(promptText string) []string {
	var ids []string
	for i, h := range o.hookConfigs {
		if h.Trigger != hooks.TriggerUserPromptSubmit {
			continue
		}
		id := fmt.Sprintf("%s-prompt-%d-%d", o.id, o.turnCount, i)
		if err := o.dispatcher.StartHookExecution(o.execCtx, executor.HookJob{ID: id, Config: h, Input: promptText}); err != nil {
			o.logger.Warn(context.Background(), "orchestrator: user_prompt_submit hook failed to start", "error", err.Error())
			continue
		}
		o.publishHookEvent(hooks.NewHookExecutionStartedEvent(o.currentLoopID(), id, h))
		ids = append(ids, id)
	}
	return ids
}

// beginRequest enforces conversation invariants,
// formats the final message list (synthetic context pair + history), and
// sends it to the current (or a freshly started) agent loop.
func (o *Orchestrator) beginRequest(opts SendPromptOptions) error {
	history, specs := invariants.Enforce(append([]model.Message(nil), o.history...), append([]tools.ToolSpec(nil), o.toolSpecs...))
	o.history = history
	o.toolSpecs = specs

	msgs := o.buildContextMessages()
	for i := range history {
		msgs = append(msgs, &history[i])
	}

	defs := toolDefinitions(specs)

	if o.agentLoop == nil {
		o.loopEvents = make(chan loop.Event, 256)
		o.agentLoop = loop.New(o.client, o.loopEvents)
	}

	// The configured system prompt rides inside the synthetic context pair
	// (buildContextMessages) rather than SendRequestArgs.SystemPrompt, so the
	// request prefix stays byte-identical across turns.
	args := loop.SendRequestArgs{
		Model:       opts.Model,
		ModelClass:  opts.ModelClass,
		Messages:    msgs,
		Tools:       defs,
		MaxTokens:   opts.MaxTokens,
		Temperature: opts.Temperature,
		Thinking:    opts.Thinking,
		Cache:       opts.Cache,
	}
	ctx, span := o.tracer.Start(o.execCtx, "agent.model_request")
	defer span.End()
	if err := o.agentLoop.SendRequest(ctx, args); err != nil {
		o.transition(Errored{Err: err})
		o.emit(RequestError{Err: err})
		return err
	}

	o.turnCount++
	o.lastActiveAt = time.Now()
	o.transition(ExecutingRequest{})
	o.emit(RequestSent{Messages: derefMessages(msgs)})
	return nil
}

// buildContextMessages renders the latest summary, the configured system
// prompt, cached AgentSpawn hook output, and configured resource files into a
// fixed user/assistant message pair, prepended to every request ahead of
// history. invariants.MaxConversationStateHistoryLen reserves exactly two
// slots for this pair. The synthetic assistant acknowledgement keeps the next
// real message a valid User-led turn even when history has just been trimmed
// to empty.
func (o *Orchestrator) buildContextMessages() []*model.Message {
	var b strings.Builder
	entry := func(s string) {
		b.WriteString(ContextEntryHeader)
		b.WriteString(s)
		if !strings.HasSuffix(s, "\n") {
			b.WriteString("\n")
		}
		b.WriteString(ContextEntryFooter)
	}

	if o.summary != "" {
		entry("Priority context from the previous conversation summary:\n" + o.summary)
	}
	if o.systemPrompt != "" {
		entry("Follow these standing instructions for the whole conversation: " + o.systemPrompt)
	}
	for _, h := range o.agentSpawnHooks {
		if h.Output == "" {
			continue
		}
		entry(h.Output)
	}
	names := make([]string, 0, len(o.resourceFiles))
	for name := range o.resourceFiles {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		entry(fmt.Sprintf("File %s:\n%s", name, o.boundedResourceContent(name)))
	}

	contextText := b.String()
	if contextText == "" {
		return nil
	}
	return []*model.Message{
		{Role: model.ConversationRoleUser, Parts: []model.Part{model.TextPart{Text: contextText}}},
		{Role: model.ConversationRoleAssistant, Parts: []model.Part{model.TextPart{Text: contextAcknowledgement}}},
	}
}

// boundedResourceContent caps one resource file at the configured length: the
// returned string is exactly resourceFileCap bytes and ends with
// TruncationSuffix when the file exceeded the cap.
func (o *Orchestrator) boundedResourceContent(name string) string {
	content := o.resourceFiles[name]
	if len(content) <= o.resourceFileCap {
		return content
	}
	dropped := len(content) - o.resourceFileCap + len(TruncationSuffix)
	o.logger.Warn(o.execCtx, "orchestrator: resource file truncated", "file", name, "truncated_bytes", dropped)
	return content[:o.resourceFileCap-len(TruncationSuffix)] + TruncationSuffix
}
