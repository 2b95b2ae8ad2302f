// Package loop implements the per-turn agent loop actor: a single
// goroutine that owns one in-flight model stream at a time, folds its chunks
// through a stream.Parser, and exposes its state and results to the
// orchestrator over request/response and event channels.
//
// The actor shape is grounded on the same goroutine-plus-channel idiom the
// executor package uses for tool/hook dispatch, restated here around a
// stream.Parser/model.Streamer pair instead of a Temporal-workflow replay
// loop: one command channel serializes SendRequest/GetLoopState/
// GetPendingToolUses/Close, and a single owned goroutine advances the state
// machine and emits events on a one-way channel.
package loop

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/agentcore-dev/runtime/interrupt"
	"github.com/agentcore-dev/runtime/model"
	"github.com/agentcore-dev/runtime/stream"
	"github.com/agentcore-dev/runtime/tools"
)

// State enumerates the agent loop's lifecycle states.
type State string

const (
	StateIdle                   State = "idle"
	StateSendingRequest         State = "sending_request"
	StateConsumingResponse      State = "consuming_response"
	StatePendingToolUseResults  State = "pending_tool_use_results"
	StateUserTurnEnded          State = "user_turn_ended"
	StateErrored                State = "errored"
)

// EndReason classifies why a loop terminated, recorded on UserTurnMetadata.
type EndReason string

const (
	EndReasonDidNotRun     EndReason = "did_not_run"
	EndReasonUserTurnEnd   EndReason = "user_turn_end"
	EndReasonToolUseRejected EndReason = "tool_use_rejected"
	EndReasonError         EndReason = "error"
	EndReasonCancelled     EndReason = "cancelled"
)

var (
	// ErrStreamCurrentlyExecuting is returned by SendRequest when a stream is
	// already in flight (state SendingRequest or ConsumingResponse).
	ErrStreamCurrentlyExecuting = errors.New("loop: a stream is currently executing")

	// ErrAgentLoopExited is returned by SendRequest once the loop has
	// reached a terminal state and its actor goroutine has exited.
	ErrAgentLoopExited = errors.New("loop: agent loop has exited")
)

// SendRequestArgs carries the inputs for one SendRequest call.
type SendRequestArgs struct {
	Model        string
	ModelClass   model.ModelClass
	Messages     []*model.Message
	Tools        []*model.ToolDefinition
	ToolChoice   *model.ToolChoice
	SystemPrompt string
	MaxTokens    int
	Temperature  float32
	Thinking     *model.ThinkingOptions
	Cache        *model.CacheOptions
}

// UserTurnMetadata summarizes a terminated loop for the orchestrator's
// conversation bookkeeping. It is computed exactly once, when the loop
// reaches UserTurnEnded; an Errored loop computes it only when closed.
type UserTurnMetadata struct {
	LoopID             string
	FinalResult        stream.Result
	MessageIDs         []string
	TotalRequestCount  int
	ToolUseCycles      int
	TurnDuration       time.Duration
	EndReason          EndReason
	EndTimestamp       time.Time
}

// LoopStateChange reports a state transition.
type LoopStateChange struct {
	From State
	To   State
}

// ResponseStreamEnd mirrors the terminal parser event plus any
// provider-reported stream metadata, emitted once per completed request.
type ResponseStreamEnd struct {
	Result   stream.Result
	Metadata map[string]any
}

// UserTurnEnd carries the loop's final metadata. It is always the last event
// emitted on the loop's event channel.
type UserTurnEnd struct {
	Metadata UserTurnMetadata
}

// Event is the interface implemented by every value the loop emits on its
// event channel: LoopStateChange, stream.Event, ResponseStreamEnd, or
// UserTurnEnd.
type Event interface{}

// Loop is a per-turn agent loop actor. The zero value is not usable; build
// one with New.
type Loop struct {
	id      string
	client  model.Client
	ctrl    *interrupt.Controller
	events  chan Event

	cmd  chan command
	done chan struct{}

	startedAt time.Time

	mu    sync.Mutex
	state State

	pendingToolUses []model.ToolCall
	messageIDs      []string
	requestCount    int
	toolUseCycles   int
	lastResult      stream.Result
	exited          bool
	finished        bool
}

// command is the closed set of internal actor commands.
type command interface{ isCommand() }

type cmdSendRequest struct {
	args SendRequestArgs
	resp chan error
}

type cmdGetState struct{ resp chan State }

type cmdGetPending struct{ resp chan []model.ToolCall }

type cmdClose struct {
	reason EndReason
	resp   chan struct{}
}

func (cmdSendRequest) isCommand() {}
func (cmdGetState) isCommand()    {}
func (cmdGetPending) isCommand()  {}
func (cmdClose) isCommand()       {}

// New builds a Loop bound to client and starts its actor goroutine. events
// must be read by the caller for the life of the loop; the actor blocks
// writing to it, backpressuring the whole loop if the owner falls behind.
func New(client model.Client, events chan Event) *Loop {
	l := &Loop{
		id:        uuid.NewString(),
		client:    client,
		ctrl:      interrupt.NewController(),
		events:    events,
		cmd:       make(chan command),
		done:      make(chan struct{}),
		state:     StateIdle,
		startedAt: time.Now(),
	}
	go l.run()
	return l
}

// ID returns the loop's identifier, stable for its lifetime.
func (l *Loop) ID() string { return l.id }

// SendRequest begins a new model stream. Legal only when the loop is Idle,
// PendingToolUseResults, or Errored (a retry after a recoverable stream
// failure; whether to retry is the caller's policy).
func (l *Loop) SendRequest(ctx context.Context, args SendRequestArgs) error {
	resp := make(chan error, 1)
	select {
	case l.cmd <- cmdSendRequest{args: args, resp: resp}:
	case <-l.done:
		return ErrAgentLoopExited
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

// GetLoopState returns the loop's current state.
func (l *Loop) GetLoopState() State {
	resp := make(chan State, 1)
	select {
	case l.cmd <- cmdGetState{resp: resp}:
		return <-resp
	case <-l.done:
		l.mu.Lock()
		defer l.mu.Unlock()
		return l.state
	}
}

// GetPendingToolUses returns the tool uses from the most recently completed
// stream, or nil unless the loop is in PendingToolUseResults.
func (l *Loop) GetPendingToolUses() []model.ToolCall {
	resp := make(chan []model.ToolCall, 1)
	select {
	case l.cmd <- cmdGetPending{resp: resp}:
		return <-resp
	case <-l.done:
		return nil
	}
}

// Close terminates the loop: if a stream is in flight it is cancelled and
// drained to completion before final events are emitted. Close is
// idempotent.
func (l *Loop) Close() {
	l.closeWithReason(EndReasonCancelled)
}

// CloseWithReason terminates the loop exactly like Close, but records reason
// as the UserTurnMetadata.EndReason when the loop was not already terminal.
// The orchestrator uses this to distinguish a user-initiated interrupt
// (Cancelled) from closing a loop stuck in PendingToolUseResults because its
// tool uses were rejected (ToolUseRejected).
func (l *Loop) CloseWithReason(reason EndReason) {
	l.closeWithReason(reason)
}

func (l *Loop) closeWithReason(reason EndReason) {
	resp := make(chan struct{})
	select {
	case l.cmd <- cmdClose{reason: reason, resp: resp}:
		<-resp
	case <-l.done:
	}
	<-l.done
}

func (l *Loop) run() {
	defer close(l.done)
	for cmd := range l.cmd {
		switch c := cmd.(type) {
		case cmdSendRequest:
			c.resp <- l.handleSendRequest(c.args)
		case cmdGetState:
			l.mu.Lock()
			c.resp <- l.state
			l.mu.Unlock()
		case cmdGetPending:
			l.mu.Lock()
			if l.state == StatePendingToolUseResults {
				out := make([]model.ToolCall, len(l.pendingToolUses))
				copy(out, l.pendingToolUses)
				c.resp <- out
			} else {
				c.resp <- nil
			}
			l.mu.Unlock()
		case cmdClose:
			l.handleClose(c.reason)
			close(c.resp)
			return
		}
	}
}

// handleSendRequest validates the request and, if accepted, hands the actual
// model call and stream consumption off to a dedicated goroutine so the
// actor's command loop stays free to service GetLoopState/GetPendingToolUses/
// Close while a stream is in flight — in particular so Close can interrupt a
// running stream rather than wait behind it.
func (l *Loop) handleSendRequest(args SendRequestArgs) error {
	l.mu.Lock()
	cur := l.state
	if l.exited {
		l.mu.Unlock()
		return ErrAgentLoopExited
	}
	if cur != StateIdle && cur != StatePendingToolUseResults && cur != StateErrored {
		// Errored is retryable: whether to resend after a recoverable stream
		// failure is the orchestrator's policy, not the loop's.
		l.mu.Unlock()
		return ErrStreamCurrentlyExecuting
	}
	l.mu.Unlock()

	l.transition(cur, StateSendingRequest)

	req := &model.Request{
		Model:       args.Model,
		ModelClass:  args.ModelClass,
		Messages:    args.Messages,
		Tools:       args.Tools,
		ToolChoice:  args.ToolChoice,
		MaxTokens:   args.MaxTokens,
		Temperature: args.Temperature,
		Thinking:    args.Thinking,
		Cache:       args.Cache,
		Stream:      true,
	}
	if args.SystemPrompt != "" {
		req.Messages = append([]*model.Message{{
			Role:  model.ConversationRoleSystem,
			Parts: []model.Part{model.TextPart{Text: args.SystemPrompt}},
		}}, req.Messages...)
	}

	reqID := fmt.Sprintf("%s/%d", l.id, l.nextRequestIndex())
	go l.runRequest(reqID, req)
	return nil
}

// runRequest performs the model call and, on success, drains the resulting
// stream. It runs on its own goroutine, outside the actor's serialized
// command loop; Close interrupts it via l.ctrl and waits for it to finish
// through the tracked job's done channel.
func (l *Loop) runRequest(reqID string, req *model.Request) {
	ctx, cancel, jobDone := l.ctrl.Track(context.Background(), reqID)
	defer func() {
		cancel()
		close(jobDone)
		l.ctrl.Forget(reqID)
	}()

	streamer, err := l.client.Stream(ctx, req)
	if err != nil {
		l.finishErrored(err)
		return
	}

	l.transition(StateSendingRequest, StateConsumingResponse)
	l.consumeStream(ctx, streamer)
}

// consumeStream drains streamer through a fresh parser, emitting each
// resulting event as it arrives, and folds the terminal result into the
// loop's next state.
func (l *Loop) consumeStream(ctx context.Context, streamer model.Streamer) {
	parser := stream.NewParser()
	defer func() { _ = streamer.Close() }()

	var final *stream.ResponseStreamEnd
	for {
		chunk, err := streamer.Recv()
		if err != nil {
			if errors.Is(err, io.EOF) {
				for _, e := range parser.Fail(nil) {
					if end, ok := e.(stream.ResponseStreamEnd); ok {
						final = &end
					}
					l.emit(e)
				}
			} else {
				for _, e := range parser.Fail(err) {
					if end, ok := e.(stream.ResponseStreamEnd); ok {
						final = &end
					}
					l.emit(e)
				}
			}
			break
		}
		evts := parser.Feed(chunk)
		stop := false
		for _, e := range evts {
			if end, ok := e.(stream.ResponseStreamEnd); ok {
				final = &end
				stop = true
			}
			l.emit(e)
		}
		if stop {
			break
		}
	}

	if final == nil {
		// Defensive: Recv never returned EOF or an error and the loop above
		// exited some other way. Treat as a transport failure.
		final = &stream.ResponseStreamEnd{Result: stream.StreamFailure{Err: errors.New("loop: stream ended without a terminal event")}}
	}

	l.emit(ResponseStreamEnd{Result: final.Result, Metadata: streamer.Metadata()})
	l.foldResult(final.Result)
}

// foldResult advances the state machine from the terminal parser result and,
// when the loop has reached a terminal state, computes and emits
// UserTurnEnd.
func (l *Loop) foldResult(result stream.Result) {
	l.mu.Lock()
	l.lastResult = result
	l.mu.Unlock()

	switch r := result.(type) {
	case stream.Ok:
		toolUses := extractToolUses(r.Message)
		if len(toolUses) > 0 {
			l.mu.Lock()
			l.pendingToolUses = toolUses
			l.toolUseCycles++
			l.mu.Unlock()
			l.transition(StateConsumingResponse, StatePendingToolUseResults)
			return
		}
		l.transition(StateConsumingResponse, StateUserTurnEnded)
		l.finish(EndReasonUserTurnEnd)

	case stream.InvalidJSON:
		// Recoverable: the owner decides whether to synthesize a retry
		// message pair and SendRequest again, or Close the loop.
		l.transition(StateConsumingResponse, StateErrored)

	case stream.StreamFailure:
		if errors.Is(r.Err, context.Canceled) {
			l.transition(StateConsumingResponse, StateUserTurnEnded)
			l.finish(EndReasonCancelled)
			return
		}
		l.transition(StateConsumingResponse, StateErrored)

	default:
		l.transition(StateConsumingResponse, StateErrored)
	}
}

func (l *Loop) finishErrored(err error) {
	l.mu.Lock()
	l.lastResult = stream.StreamFailure{Err: err}
	l.mu.Unlock()
	l.emit(ResponseStreamEnd{Result: stream.StreamFailure{Err: err}})
	l.transition(StateSendingRequest, StateErrored)
}

// finish computes UserTurnMetadata and emits the terminal UserTurnEnd event,
// exactly once per loop; a second call is a no-op.
func (l *Loop) finish(reason EndReason) {
	l.mu.Lock()
	if l.finished {
		l.mu.Unlock()
		return
	}
	l.finished = true
	meta := UserTurnMetadata{
		LoopID:            l.id,
		FinalResult:       l.lastResult,
		MessageIDs:        append([]string(nil), l.messageIDs...),
		TotalRequestCount: l.requestCount,
		ToolUseCycles:     l.toolUseCycles,
		TurnDuration:      time.Since(l.startedAt),
		EndReason:         reason,
		EndTimestamp:      time.Now(),
	}
	l.mu.Unlock()
	l.emit(UserTurnEnd{Metadata: meta})
}

func (l *Loop) handleClose(reason EndReason) {
	l.mu.Lock()
	alreadyExited := l.exited
	wasIdle := l.state == StateIdle
	l.mu.Unlock()
	if alreadyExited {
		return
	}

	// Interrupt is a no-op when runRequest isn't currently tracking a job
	// (Idle, PendingToolUseResults, or already terminal); when it is, this
	// cancels the in-flight request and blocks until runRequest has drained
	// the stream and folded its terminal result, so l.state below reflects
	// the outcome of that cancellation rather than a stale mid-flight state.
	l.ctrl.Interrupt(interrupt.ReasonLoopClosed)

	l.mu.Lock()
	cur := l.state
	l.exited = true
	fin := l.finished
	l.mu.Unlock()

	if fin {
		return
	}
	if wasIdle {
		reason = EndReasonDidNotRun
	}
	// An Errored loop that was never retried finishes here with the caller's
	// reason; its state stays Errored rather than flipping to UserTurnEnded.
	if cur != StateUserTurnEnded && cur != StateErrored {
		l.transition(cur, StateUserTurnEnded)
	}
	l.finish(reason)
}

func (l *Loop) transition(from, to State) {
	l.mu.Lock()
	l.state = to
	l.mu.Unlock()
	l.emit(LoopStateChange{From: from, To: to})
}

func (l *Loop) emit(e Event) {
	if l.events == nil {
		return
	}
	l.events <- e
}

func (l *Loop) nextRequestIndex() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.requestCount++
	return l.requestCount
}

func extractToolUses(msg model.Message) []model.ToolCall {
	var out []model.ToolCall
	for _, p := range msg.Parts {
		tu, ok := p.(model.ToolUsePart)
		if !ok {
			continue
		}
		var payload json.RawMessage
		if tu.Input != nil {
			if data, err := json.Marshal(tu.Input); err == nil {
				payload = data
			}
		}
		if len(payload) == 0 {
			payload = json.RawMessage("{}")
		}
		out = append(out, model.ToolCall{Name: tools.Ident(tu.Name), Payload: payload, ID: tu.ID})
	}
	return out
}
