package bedrock

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	brtypes "github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"

	"github.com/agentcore-dev/runtime/model"
	"github.com/agentcore-dev/runtime/tools"
)

// bedrockStreamer adapts a Bedrock ConverseStream event stream to
// model.Streamer.
type bedrockStreamer struct {
	ctx    context.Context
	cancel context.CancelFunc
	stream *bedrockruntime.ConverseStreamEventStream

	chunks chan model.Chunk

	errMu    sync.Mutex
	errSet   bool
	finalErr error

	metaMu      sync.RWMutex
	metadata    map[string]any
	toolNameMap map[string]string
}

func newBedrockStreamer(ctx context.Context, stream *bedrockruntime.ConverseStreamEventStream, nameMap map[string]string) model.Streamer {
	cctx, cancel := context.WithCancel(ctx)
	s := &bedrockStreamer{
		ctx:         cctx,
		cancel:      cancel,
		stream:      stream,
		chunks:      make(chan model.Chunk, 32),
		toolNameMap: nameMap,
	}
	go s.run()
	return s
}

func (s *bedrockStreamer) Recv() (model.Chunk, error) {
	select {
	case chunk, ok := <-s.chunks:
		if ok {
			return chunk, nil
		}
		if err := s.err(); err != nil {
			return model.Chunk{}, err
		}
		return model.Chunk{}, io.EOF
	case <-s.ctx.Done():
		err := s.ctx.Err()
		if err == nil {
			err = context.Canceled
		}
		s.setErr(err)
		return model.Chunk{}, err
	}
}

func (s *bedrockStreamer) Close() error {
	s.cancel()
	return s.stream.Close()
}

func (s *bedrockStreamer) Metadata() map[string]any {
	s.metaMu.RLock()
	defer s.metaMu.RUnlock()
	if len(s.metadata) == 0 {
		return nil
	}
	out := make(map[string]any, len(s.metadata))
	for k, v := range s.metadata {
		out[k] = v
	}
	return out
}

func (s *bedrockStreamer) run() {
	defer close(s.chunks)
	defer func() {
		if err := s.stream.Close(); err != nil {
			s.setErr(err)
		}
	}()

	processor := newChunkProcessor(s.emitChunk, s.recordUsage, s.toolNameMap)
	events := s.stream.Events()

	for {
		select {
		case <-s.ctx.Done():
			s.setErr(s.ctx.Err())
			return
		case event, ok := <-events:
			if !ok {
				if err := s.stream.Err(); err != nil {
					s.setErr(err)
				} else if err := s.ctx.Err(); err != nil {
					s.setErr(err)
				} else {
					s.setErr(nil)
				}
				return
			}
			if err := processor.handle(event); err != nil {
				s.setErr(err)
				return
			}
		}
	}
}

func (s *bedrockStreamer) emitChunk(chunk model.Chunk) error {
	select {
	case <-s.ctx.Done():
		return s.ctx.Err()
	case s.chunks <- chunk:
		return nil
	}
}

func (s *bedrockStreamer) recordUsage(usage model.TokenUsage) {
	s.metaMu.Lock()
	if s.metadata == nil {
		s.metadata = make(map[string]any)
	}
	s.metadata["usage"] = usage
	s.metaMu.Unlock()
}

func (s *bedrockStreamer) setErr(err error) {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	if s.errSet {
		return
	}
	s.errSet = true
	s.finalErr = err
}

func (s *bedrockStreamer) err() error {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	return s.finalErr
}

// chunkProcessor converts Bedrock streaming events into model.Chunks,
// buffering tool-use JSON and reasoning text per content-block index until
// each block closes, mirroring the Anthropic adapter's processor shape.
type chunkProcessor struct {
	emit        func(model.Chunk) error
	recordUsage func(model.TokenUsage)

	toolBlocks      map[int]*toolBuffer
	reasoningBlocks map[int]*reasoningBuffer
	toolNameMap     map[string]string
}

func newChunkProcessor(emit func(model.Chunk) error, recordUsage func(model.TokenUsage), nameMap map[string]string) *chunkProcessor {
	return &chunkProcessor{
		emit:            emit,
		recordUsage:     recordUsage,
		toolBlocks:      make(map[int]*toolBuffer),
		reasoningBlocks: make(map[int]*reasoningBuffer),
		toolNameMap:     nameMap,
	}
}

func (p *chunkProcessor) handle(event any) error {
	switch ev := event.(type) {
	case *brtypes.ConverseStreamOutputMemberMessageStart:
		p.toolBlocks = make(map[int]*toolBuffer)
		p.reasoningBlocks = make(map[int]*reasoningBuffer)
		return nil

	case *brtypes.ConverseStreamOutputMemberContentBlockStart:
		idx := contentIndex(ev.Value.ContentBlockIndex)
		if toolUse, ok := ev.Value.Start.(*brtypes.ContentBlockStartMemberToolUse); ok {
			if toolUse.Value.ToolUseId == nil || toolUse.Value.Name == nil {
				return errors.New("bedrock stream: tool use block missing id or name")
			}
			raw := *toolUse.Value.Name
			name := raw
			if canonical, ok := p.toolNameMap[raw]; ok {
				name = canonical
			}
			p.toolBlocks[idx] = &toolBuffer{id: *toolUse.Value.ToolUseId, name: name}
		}
		return nil

	case *brtypes.ConverseStreamOutputMemberContentBlockDelta:
		idx := contentIndex(ev.Value.ContentBlockIndex)
		switch delta := ev.Value.Delta.(type) {
		case *brtypes.ContentBlockDeltaMemberText:
			if delta.Value == "" {
				return nil
			}
			return p.emit(model.Chunk{
				Type: model.ChunkTypeText,
				Message: &model.Message{
					Role:  model.ConversationRoleAssistant,
					Parts: []model.Part{model.TextPart{Text: delta.Value}},
					Meta:  map[string]any{"content_index": idx},
				},
			})
		case *brtypes.ContentBlockDeltaMemberReasoningContent:
			rb := p.reasoningBlocks[idx]
			if rb == nil {
				rb = &reasoningBuffer{}
				p.reasoningBlocks[idx] = rb
			}
			switch v := delta.Value.(type) {
			case *brtypes.ReasoningContentBlockDeltaMemberText:
				if v.Value == "" {
					return nil
				}
				rb.text.WriteString(v.Value)
				return p.emit(model.Chunk{
					Type:     model.ChunkTypeThinking,
					Thinking: v.Value,
					Message: &model.Message{
						Role:  model.ConversationRoleAssistant,
						Parts: []model.Part{model.ThinkingPart{Text: v.Value, Index: idx}},
					},
				})
			case *brtypes.ReasoningContentBlockDeltaMemberSignature:
				if v.Value != "" {
					rb.signature = v.Value
				}
			}
			return nil
		case *brtypes.ContentBlockDeltaMemberToolUse:
			tb := p.toolBlocks[idx]
			if tb == nil || delta.Value.Input == nil {
				return nil
			}
			fragment := *delta.Value.Input
			tb.fragments = append(tb.fragments, fragment)
			return p.emit(model.Chunk{
				Type: model.ChunkTypeToolCallDelta,
				ToolCallDelta: &model.ToolCallDelta{
					Name:  tools.Ident(tb.name),
					ID:    tb.id,
					Delta: fragment,
				},
			})
		}
		return nil

	case *brtypes.ConverseStreamOutputMemberContentBlockStop:
		idx := contentIndex(ev.Value.ContentBlockIndex)
		if rb := p.reasoningBlocks[idx]; rb != nil {
			delete(p.reasoningBlocks, idx)
			if part := rb.finalize(idx); part != nil {
				if err := p.emit(model.Chunk{
					Type:     model.ChunkTypeThinking,
					Thinking: part.Text,
					Message:  &model.Message{Role: model.ConversationRoleAssistant, Parts: []model.Part{*part}},
				}); err != nil {
					return err
				}
			}
		}
		return p.closeToolBlock(idx)

	case *brtypes.ConverseStreamOutputMemberMessageStop:
		return p.emit(model.Chunk{Type: model.ChunkTypeStop, StopReason: string(ev.Value.StopReason)})

	case *brtypes.ConverseStreamOutputMemberMetadata:
		if ev.Value.Usage == nil {
			return nil
		}
		usage := model.TokenUsage{
			InputTokens:  int(ptrValue(ev.Value.Usage.InputTokens)),
			OutputTokens: int(ptrValue(ev.Value.Usage.OutputTokens)),
			TotalTokens:  int(ptrValue(ev.Value.Usage.TotalTokens)),
		}
		p.recordUsage(usage)
		return p.emit(model.Chunk{Type: model.ChunkTypeUsage, UsageDelta: &usage})
	}
	return nil
}

func contentIndex(idx *int32) int {
	if idx == nil {
		return 0
	}
	return int(*idx)
}

// closeToolBlock emits the terminal tool_call chunk for the buffer at idx,
// validating the accumulated input first. An invalid accumulation emits no
// terminal chunk so the stream parser reports the block as unparsed input.
func (p *chunkProcessor) closeToolBlock(idx int) error {
	tb := p.toolBlocks[idx]
	if tb == nil {
		return nil
	}
	delete(p.toolBlocks, idx)
	payload, ok := tb.finalPayload()
	if !ok {
		return nil
	}
	return p.emit(model.Chunk{
		Type:     model.ChunkTypeToolCall,
		ToolCall: &model.ToolCall{Name: tools.Ident(tb.name), Payload: payload, ID: tb.id},
	})
}

type toolBuffer struct {
	id        string
	name      string
	fragments []string
}

// finalPayload joins the accumulated input fragments and reports whether the
// result is well-formed JSON; an empty accumulation yields an empty object.
func (tb *toolBuffer) finalPayload() (json.RawMessage, bool) {
	joined := strings.TrimSpace(strings.Join(tb.fragments, ""))
	if joined == "" {
		return json.RawMessage("{}"), true
	}
	if !json.Valid([]byte(joined)) {
		return nil, false
	}
	return json.RawMessage(joined), true
}

type reasoningBuffer struct {
	text      strings.Builder
	signature string
}

func (rb *reasoningBuffer) finalize(index int) *model.ThinkingPart {
	if s := rb.text.String(); s != "" && rb.signature != "" {
		return &model.ThinkingPart{Text: s, Signature: rb.signature, Index: index, Final: true}
	}
	return nil
}
