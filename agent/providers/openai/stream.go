package openai

import (
	"context"
	"encoding/json"
	"io"
	"strings"
	"sync"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/packages/ssestream"

	"github.com/agentcore-dev/runtime/model"
	"github.com/agentcore-dev/runtime/tools"
)

// openaiStreamer adapts an OpenAI chat-completion SSE stream to
// model.Streamer, buffering partial tool-call argument fragments per index
// the way the Anthropic adapter buffers per content-block index.
type openaiStreamer struct {
	ctx    context.Context
	cancel context.CancelFunc
	stream *ssestream.Stream[oai.ChatCompletionChunk]

	chunks chan model.Chunk

	errMu    sync.Mutex
	errSet   bool
	finalErr error

	metaMu   sync.RWMutex
	metadata map[string]any

	toolCalls      map[int]*toolCallBuffer
	lastStopReason string
}

type toolCallBuffer struct {
	id   string
	name string
	args strings.Builder
}

func newOpenAIStreamer(ctx context.Context, stream *ssestream.Stream[oai.ChatCompletionChunk]) model.Streamer {
	cctx, cancel := context.WithCancel(ctx)
	s := &openaiStreamer{
		ctx:       cctx,
		cancel:    cancel,
		stream:    stream,
		chunks:    make(chan model.Chunk, 32),
		toolCalls: make(map[int]*toolCallBuffer),
	}
	go s.run()
	return s
}

func (s *openaiStreamer) Recv() (model.Chunk, error) {
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

func (s *openaiStreamer) Close() error {
	s.cancel()
	if s.stream == nil {
		return nil
	}
	return s.stream.Close()
}

func (s *openaiStreamer) Metadata() map[string]any {
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

func (s *openaiStreamer) run() {
	defer close(s.chunks)
	defer func() {
		if s.stream != nil {
			_ = s.stream.Close()
		}
	}()

	for {
		select {
		case <-s.ctx.Done():
			s.setErr(s.ctx.Err())
			return
		default:
		}
		if !s.stream.Next() {
			if err := s.stream.Err(); err != nil {
				s.setErr(err)
			} else {
				s.flushToolCalls()
				_ = s.emit(model.Chunk{Type: model.ChunkTypeStop, StopReason: s.lastStopReason})
				s.setErr(nil)
			}
			return
		}
		if err := s.handle(s.stream.Current()); err != nil {
			s.setErr(err)
			return
		}
	}
}

func (s *openaiStreamer) handle(chunk oai.ChatCompletionChunk) error {
	if chunk.Usage.TotalTokens > 0 {
		usage := model.TokenUsage{
			InputTokens:  int(chunk.Usage.PromptTokens),
			OutputTokens: int(chunk.Usage.CompletionTokens),
			TotalTokens:  int(chunk.Usage.TotalTokens),
		}
		s.recordUsage(usage)
		if err := s.emit(model.Chunk{Type: model.ChunkTypeUsage, UsageDelta: &usage}); err != nil {
			return err
		}
	}
	for _, choice := range chunk.Choices {
		if choice.FinishReason != "" {
			s.lastStopReason = choice.FinishReason
		}
		if choice.Delta.Content != "" {
			if err := s.emit(model.Chunk{
				Type: model.ChunkTypeText,
				Message: &model.Message{
					Role:  model.ConversationRoleAssistant,
					Parts: []model.Part{model.TextPart{Text: choice.Delta.Content}},
				},
			}); err != nil {
				return err
			}
		}
		for _, tc := range choice.Delta.ToolCalls {
			idx := int(tc.Index)
			buf := s.toolCalls[idx]
			if buf == nil {
				buf = &toolCallBuffer{}
				s.toolCalls[idx] = buf
			}
			if tc.ID != "" {
				buf.id = tc.ID
			}
			if tc.Function.Name != "" {
				buf.name = tc.Function.Name
			}
			if tc.Function.Arguments != "" {
				buf.args.WriteString(tc.Function.Arguments)
				if err := s.emit(model.Chunk{
					Type: model.ChunkTypeToolCallDelta,
					ToolCallDelta: &model.ToolCallDelta{
						Name:  tools.Ident(buf.name),
						ID:    buf.id,
						Delta: tc.Function.Arguments,
					},
				}); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

// flushToolCalls emits the terminal tool_call chunk for every buffered tool
// call, validating each accumulated argument string first. An accumulation
// that is not well-formed JSON emits no terminal chunk: the stream parser
// reports a tool block whose deltas never resolved to a terminal call as
// invalid input, which is what happened here.
func (s *openaiStreamer) flushToolCalls() {
	for idx, buf := range s.toolCalls {
		delete(s.toolCalls, idx)
		args := strings.TrimSpace(buf.args.String())
		if args == "" {
			args = "{}"
		}
		if !json.Valid([]byte(args)) {
			continue
		}
		_ = s.emit(model.Chunk{
			Type: model.ChunkTypeToolCall,
			ToolCall: &model.ToolCall{
				Name:    tools.Ident(buf.name),
				Payload: json.RawMessage(args),
				ID:      buf.id,
			},
		})
	}
}

func (s *openaiStreamer) emit(chunk model.Chunk) error {
	select {
	case <-s.ctx.Done():
		return s.ctx.Err()
	case s.chunks <- chunk:
		return nil
	}
}

func (s *openaiStreamer) recordUsage(usage model.TokenUsage) {
	s.metaMu.Lock()
	if s.metadata == nil {
		s.metadata = make(map[string]any)
	}
	s.metadata["usage"] = usage
	s.metaMu.Unlock()
}

func (s *openaiStreamer) setErr(err error) {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	if s.errSet {
		return
	}
	s.errSet = true
	s.finalErr = err
}

func (s *openaiStreamer) err() error {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	return s.finalErr
}
