// Package stream incrementally parses a model response event stream into
// assistant text, tool uses, and a terminal status. It consumes model.Chunk
// values from a model.Streamer and produces a small set of higher-level
// events that the agent loop folds into conversation state.
//
// The parser is pure over the event sequence: it performs no I/O and holds
// no references to the stream it consumes. A Parser is single-use; once Feed
// has produced a ResponseStreamEnd event, construct a new Parser for the next
// turn rather than resetting this one.
package stream

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/agentcore-dev/runtime/model"
)

// EventType enumerates the event kinds produced by the parser.
type EventType string

const (
	// EventAssistantText carries an incremental fragment of assistant text.
	EventAssistantText EventType = "assistant_text"

	// EventToolUseStart marks the beginning of a tool use block, before its
	// input has finished streaming.
	EventToolUseStart EventType = "tool_use_start"

	// EventToolUse carries a fully assembled tool use block.
	EventToolUse EventType = "tool_use"

	// EventResponseStreamEnd marks the terminal event for a response stream.
	// Exactly one is produced per stream; events fed after it are dropped.
	EventResponseStreamEnd EventType = "response_stream_end"

	// EventRaw passes through the underlying model.Chunk unchanged, for
	// observers that want low-level visibility into the stream (telemetry,
	// debugging) without re-deriving it from the higher-level events.
	EventRaw EventType = "raw"
)

type (
	// Event is the interface implemented by every value the parser produces.
	// Concrete event types embed Base to satisfy it.
	Event interface {
		// Type returns the event type constant.
		Type() EventType
		// Payload returns the event-specific data in JSON-serializable form.
		Payload() any
	}

	// Base provides the default Type/Payload implementation. Concrete event
	// types embed Base and set it via newBase at construction time.
	Base struct {
		t EventType
		p any
	}

	// AssistantText streams an incremental fragment of assistant reply text.
	AssistantText struct {
		Base
		// Chunk is the text fragment. Concatenating Chunk across consecutive
		// AssistantText events in arrival order reconstructs the full text
		// block.
		Chunk string
	}

	// ToolUseStart marks that the model has begun a tool use block. Input
	// streams incrementally afterward via the underlying model.Chunk deltas;
	// consumers that don't need incremental previews can ignore this event
	// and wait for the paired ToolUse event.
	ToolUseStart struct {
		Base
		ID   string
		Name string
	}

	// ToolUse carries a fully assembled tool use block: a stable ID, tool
	// name, and parsed JSON arguments.
	ToolUse struct {
		Base
		Call model.ToolCall
	}

	// Raw passes through a low-level model.Chunk unchanged.
	Raw struct {
		Base
		Chunk model.Chunk
	}

	// ResponseStreamEnd is the terminal event for a stream. Result is one of
	// Ok, InvalidJSON, or StreamFailure.
	ResponseStreamEnd struct {
		Base
		Result   Result
		Metadata map[string]any
	}

	// Result is a closed tagged union: Ok | InvalidJSON | StreamFailure.
	Result interface {
		isResult()
	}

	// Ok wraps the fully assembled assistant message: accumulated text
	// followed by any tool uses, in stream order.
	Ok struct {
		Message model.Message
	}

	// InvalidJSON is raised when a tool use's accumulated input delta failed
	// to parse as JSON by the time the stream ended. AssistantText carries
	// whatever assistant text was produced before the failure; InvalidTools
	// lists every tool use whose arguments could not be recovered.
	InvalidJSON struct {
		AssistantText string
		InvalidTools  []InvalidToolUse
	}

	// InvalidToolUse describes one tool use whose input JSON could not be
	// parsed.
	InvalidToolUse struct {
		ID         string
		Name       string
		RawContent string
	}

	// StreamFailure wraps a terminal transport-level error reported by the
	// model.Streamer (propagated unchanged from Recv).
	StreamFailure struct {
		Err error
	}
)

func (Ok) isResult()            {}
func (InvalidJSON) isResult()   {}
func (StreamFailure) isResult() {}

func newBase(t EventType, payload any) Base { return Base{t: t, p: payload} }

// Type implements Event.
func (b Base) Type() EventType { return b.t }

// Payload implements Event.
func (b Base) Payload() any { return b.p }

// toolState tracks the accumulated delta input for one in-flight tool call
// until either a terminal model.ToolCall arrives (success) or the stream
// ends without one (orphaned, reported as invalid JSON).
type toolState struct {
	id   string
	name string
	buf  []byte
	done bool
}

// Parser incrementally folds a model.Chunk sequence into Event values. It is
// not safe for concurrent use; each in-flight response stream owns its own
// Parser instance.
type Parser struct {
	text    []byte
	tools   []*toolState
	byID    map[string]*toolState
	ended   bool
	pending []model.ToolCall
}

// NewParser returns a Parser ready to consume the first chunk of a new
// response stream.
func NewParser() *Parser {
	return &Parser{byID: make(map[string]*toolState)}
}

// Feed consumes one model.Chunk and returns the events it produces. Once a
// ResponseStreamEnd has been returned, subsequent Feed calls return nil:
// callers should stop feeding the parser and construct a new one for the
// next stream.
func (p *Parser) Feed(chunk model.Chunk) []Event {
	if p.ended {
		return nil
	}

	raw := Raw{Base: newBase(EventRaw, chunk), Chunk: chunk}
	events := []Event{raw}

	switch chunk.Type {
	case model.ChunkTypeText:
		if chunk.Message != nil {
			for _, part := range chunk.Message.Parts {
				if tp, ok := part.(model.TextPart); ok {
					p.text = append(p.text, tp.Text...)
					events = append(events, AssistantText{
						Base:  newBase(EventAssistantText, AssistantText{Chunk: tp.Text}),
						Chunk: tp.Text,
					})
				}
			}
		}

	case model.ChunkTypeToolCallDelta:
		if d := chunk.ToolCallDelta; d != nil {
			st, ok := p.byID[d.ID]
			if !ok {
				st = &toolState{id: d.ID, name: string(d.Name)}
				p.byID[d.ID] = st
				p.tools = append(p.tools, st)
				events = append(events, ToolUseStart{
					Base: newBase(EventToolUseStart, ToolUseStart{ID: d.ID, Name: string(d.Name)}),
					ID:   d.ID,
					Name: string(d.Name),
				})
			}
			st.buf = append(st.buf, d.Delta...)
		}

	case model.ChunkTypeToolCall:
		if tc := chunk.ToolCall; tc != nil {
			st, ok := p.byID[tc.ID]
			if !ok {
				st = &toolState{id: tc.ID, name: string(tc.Name)}
				p.byID[tc.ID] = st
				p.tools = append(p.tools, st)
			}
			if len(tc.Payload) > 0 && !json.Valid(tc.Payload) {
				// Terminated, but with unparseable input: keep the block open
				// so finish reports it as invalid JSON instead of passing the
				// malformed payload downstream as a successful tool use.
				st.buf = append([]byte(nil), tc.Payload...)
			} else {
				st.done = true
				p.pending = append(p.pending, *tc)
				events = append(events, ToolUse{
					Base: newBase(EventToolUse, *tc),
					Call: *tc,
				})
			}
		}

	case model.ChunkTypeThinking, model.ChunkTypeUsage:
		// Pass-through only; no higher-level event.

	case model.ChunkTypeStop:
		events = append(events, p.finish(chunk.StopReason, nil))
	}

	return events
}

// Fail terminates the stream with a transport-level error, as if the
// underlying model.Streamer.Recv returned a non-EOF error. It is idempotent
// after the stream has already ended.
func (p *Parser) Fail(err error) []Event {
	if p.ended {
		return nil
	}
	return []Event{p.finish("", err)}
}

func (p *Parser) finish(stopReason string, streamErr error) ResponseStreamEnd {
	p.ended = true

	if streamErr != nil {
		return ResponseStreamEnd{
			Base:   newBase(EventResponseStreamEnd, nil),
			Result: StreamFailure{Err: streamErr},
		}
	}

	var invalid []InvalidToolUse
	for _, st := range p.tools {
		if st.done {
			continue
		}
		// The block never resolved to a parsed terminal call: either the
		// provider adapter stopped streaming deltas without closing it, or
		// the terminal payload failed validation in Feed. Either way the
		// accumulated input is reported as unparsed.
		invalid = append(invalid, InvalidToolUse{
			ID:         st.id,
			Name:       st.name,
			RawContent: string(st.buf),
		})
	}

	parts := make([]model.Part, 0, 1+len(p.pending))
	parts = append(parts, model.TextPart{Text: string(p.text)})
	for _, tc := range p.pending {
		var input any
		if len(tc.Payload) > 0 {
			if err := json.Unmarshal(tc.Payload, &input); err != nil {
				// Feed validates terminal payloads, so this only fires for a
				// payload that passed json.Valid but still failed to decode;
				// treat it the same as an unterminated block rather than
				// letting a nil input masquerade as a parsed one.
				invalid = append(invalid, InvalidToolUse{
					ID:         tc.ID,
					Name:       string(tc.Name),
					RawContent: string(tc.Payload),
				})
				continue
			}
		}
		parts = append(parts, model.ToolUsePart{ID: tc.ID, Name: string(tc.Name), Input: input})
	}

	if len(invalid) > 0 {
		return ResponseStreamEnd{
			Base: newBase(EventResponseStreamEnd, nil),
			Result: InvalidJSON{
				AssistantText: string(p.text),
				InvalidTools:  invalid,
			},
		}
	}

	return ResponseStreamEnd{
		Base: newBase(EventResponseStreamEnd, nil),
		Result: Ok{Message: model.Message{
			Role:  model.ConversationRoleAssistant,
			Parts: parts,
		}},
	}
}

// Drain reads every chunk from s until Recv returns a terminal error, feeding
// each one to the parser and collecting the resulting events. It stops after
// the first ResponseStreamEnd event, matching the "exactly one per stream"
// contract; any remaining unread chunks are left undrained and the caller
// should Close s.
func Drain(s model.Streamer, p *Parser) ([]Event, error) {
	var all []Event
	for {
		chunk, err := s.Recv()
		if err != nil {
			if errors.Is(err, io.EOF) {
				all = append(all, p.finish("", nil))
				return all, nil
			}
			all = append(all, p.Fail(err)...)
			return all, fmt.Errorf("stream: %w", err)
		}
		evts := p.Feed(chunk)
		all = append(all, evts...)
		for _, e := range evts {
			if e.Type() == EventResponseStreamEnd {
				return all, nil
			}
		}
	}
}
