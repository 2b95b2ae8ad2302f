// Package openai provides a model.Client implementation backed by the OpenAI
// Chat Completions API, adapted from the reference OpenAI adapter onto the
// official github.com/openai/openai-go SDK (the reference adapter targeted
// the older sashabaranov/go-openai client; this module's go.mod pins the
// official SDK instead, so the request/response shapes below follow that
// library's API rather than being a line-for-line port).
package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/ssestream"
	"github.com/openai/openai-go/shared"

	"github.com/agentcore-dev/runtime/agent/providers/providererror"
	"github.com/agentcore-dev/runtime/model"
	"github.com/agentcore-dev/runtime/tools"
)

// ChatClient captures the subset of the openai-go client used by the
// adapter, satisfied by client.Chat.Completions.
type ChatClient interface {
	New(ctx context.Context, body oai.ChatCompletionNewParams, opts ...option.RequestOption) (*oai.ChatCompletion, error)
	NewStreaming(ctx context.Context, body oai.ChatCompletionNewParams, opts ...option.RequestOption) *ssestream.Stream[oai.ChatCompletionChunk]
}

// Options configures the OpenAI adapter.
type Options struct {
	Chat         ChatClient
	DefaultModel string
	MaxTokens    int
	Temperature  float64
}

// Client implements model.Client via OpenAI Chat Completions.
type Client struct {
	chat  ChatClient
	model string
	maxTok int
	temp  float64
}

// New builds an OpenAI-backed model client.
func New(opts Options) (*Client, error) {
	if opts.Chat == nil {
		return nil, errors.New("openai: chat client is required")
	}
	modelID := strings.TrimSpace(opts.DefaultModel)
	if modelID == "" {
		return nil, errors.New("openai: default model is required")
	}
	return &Client{chat: opts.Chat, model: modelID, maxTok: opts.MaxTokens, temp: opts.Temperature}, nil
}

// NewFromAPIKey constructs a client using the default openai-go HTTP client.
func NewFromAPIKey(apiKey, defaultModel string) (*Client, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, errors.New("openai: api key is required")
	}
	client := oai.NewClient(option.WithAPIKey(apiKey))
	return New(Options{Chat: &chatCompletionsAdapter{svc: &client.Chat.Completions}, DefaultModel: defaultModel})
}

// chatCompletionsAdapter narrows *oai.ChatCompletionService to ChatClient.
type chatCompletionsAdapter struct {
	svc *oai.ChatCompletionService
}

func (a *chatCompletionsAdapter) New(ctx context.Context, body oai.ChatCompletionNewParams, opts ...option.RequestOption) (*oai.ChatCompletion, error) {
	return a.svc.New(ctx, body, opts...)
}

func (a *chatCompletionsAdapter) NewStreaming(ctx context.Context, body oai.ChatCompletionNewParams, opts ...option.RequestOption) *ssestream.Stream[oai.ChatCompletionChunk] {
	return a.svc.NewStreaming(ctx, body, opts...)
}

// Complete implements model.Client.
func (c *Client) Complete(ctx context.Context, req *model.Request) (*model.Response, error) {
	params, err := c.prepareRequest(req)
	if err != nil {
		return nil, err
	}
	resp, err := c.chat.New(ctx, *params)
	if err != nil {
		return nil, providererror.Classify("openai", "chat.completions.new", 0, err)
	}
	return translateResponse(resp), nil
}

// Stream implements model.Client.
func (c *Client) Stream(ctx context.Context, req *model.Request) (model.Streamer, error) {
	params, err := c.prepareRequest(req)
	if err != nil {
		return nil, err
	}
	params.StreamOptions = oai.ChatCompletionStreamOptionsParam{IncludeUsage: oai.Bool(true)}
	stream := c.chat.NewStreaming(ctx, *params)
	if err := stream.Err(); err != nil {
		return nil, providererror.Classify("openai", "chat.completions.new_streaming", 0, err)
	}
	return newOpenAIStreamer(ctx, stream), nil
}

func (c *Client) prepareRequest(req *model.Request) (*oai.ChatCompletionNewParams, error) {
	if len(req.Messages) == 0 {
		return nil, errors.New("openai: messages are required")
	}
	modelID := req.Model
	if modelID == "" {
		modelID = c.model
	}
	messages, err := encodeMessages(req.Messages)
	if err != nil {
		return nil, err
	}
	toolParams, err := encodeTools(req.Tools)
	if err != nil {
		return nil, err
	}
	params := &oai.ChatCompletionNewParams{
		Model:    shared.ChatModel(modelID),
		Messages: messages,
	}
	if len(toolParams) > 0 {
		params.Tools = toolParams
	}
	if t := c.effectiveTemperature(req.Temperature); t > 0 {
		params.Temperature = oai.Float(t)
	}
	if max := c.effectiveMaxTokens(req.MaxTokens); max > 0 {
		params.MaxCompletionTokens = oai.Int(int64(max))
	}
	if req.ToolChoice != nil {
		tc, err := encodeToolChoice(req.ToolChoice)
		if err != nil {
			return nil, err
		}
		params.ToolChoice = tc
	}
	return params, nil
}

func (c *Client) effectiveMaxTokens(requested int) int {
	if requested > 0 {
		return requested
	}
	return c.maxTok
}

func (c *Client) effectiveTemperature(requested float32) float64 {
	if requested > 0 {
		return float64(requested)
	}
	return c.temp
}

func encodeMessages(msgs []*model.Message) ([]oai.ChatCompletionMessageParamUnion, error) {
	out := make([]oai.ChatCompletionMessageParamUnion, 0, len(msgs))
	for _, m := range msgs {
		if m == nil {
			continue
		}
		text := textOf(m)
		switch m.Role {
		case model.ConversationRoleSystem:
			if text != "" {
				out = append(out, oai.SystemMessage(text))
			}
		case model.ConversationRoleUser:
			toolResults, rest := splitToolResults(m)
			for _, tr := range toolResults {
				out = append(out, oai.ToolMessage(toolResultText(tr), tr.ToolUseID))
			}
			if rest != "" {
				out = append(out, oai.UserMessage(rest))
			}
		case model.ConversationRoleAssistant:
			asst := oai.ChatCompletionAssistantMessageParam{}
			if text != "" {
				asst.Content.OfString = oai.String(text)
			}
			for _, p := range m.Parts {
				tu, ok := p.(model.ToolUsePart)
				if !ok {
					continue
				}
				args, err := json.Marshal(tu.Input)
				if err != nil {
					return nil, fmt.Errorf("openai: marshal tool_use %q input: %w", tu.Name, err)
				}
				asst.ToolCalls = append(asst.ToolCalls, oai.ChatCompletionMessageToolCallParam{
					ID: tu.ID,
					Function: oai.ChatCompletionMessageToolCallFunctionParam{
						Name:      tu.Name,
						Arguments: string(args),
					},
				})
			}
			out = append(out, oai.ChatCompletionMessageParamUnion{OfAssistant: &asst})
		default:
			return nil, fmt.Errorf("openai: unsupported message role %q", m.Role)
		}
	}
	if len(out) == 0 {
		return nil, errors.New("openai: at least one message is required")
	}
	return out, nil
}

func textOf(m *model.Message) string {
	var sb strings.Builder
	for _, p := range m.Parts {
		if v, ok := p.(model.TextPart); ok {
			sb.WriteString(v.Text)
		}
	}
	return sb.String()
}

func splitToolResults(m *model.Message) ([]model.ToolResultPart, string) {
	var results []model.ToolResultPart
	var sb strings.Builder
	for _, p := range m.Parts {
		switch v := p.(type) {
		case model.ToolResultPart:
			results = append(results, v)
		case model.TextPart:
			sb.WriteString(v.Text)
		}
	}
	return results, sb.String()
}

// toolResultText flattens a ToolResultPart's content blocks into the plain
// string the Chat Completions tool-message role expects. Image blocks have
// no representation in a tool message under this API, so they are noted by
// mime type rather than silently dropped.
func toolResultText(v model.ToolResultPart) string {
	var sb strings.Builder
	for _, b := range v.Content {
		switch c := b.(type) {
		case model.TextResultBlock:
			sb.WriteString(c.Text)
		case model.JSONResultBlock:
			if data, err := json.Marshal(c.Value); err == nil {
				sb.Write(data)
			}
		case model.ImageResultBlock:
			fmt.Fprintf(&sb, "[image omitted: %s, %d bytes]", c.Mime, len(c.Bytes))
		}
	}
	return sb.String()
}

func encodeTools(defs []*model.ToolDefinition) ([]oai.ChatCompletionToolParam, error) {
	if len(defs) == 0 {
		return nil, nil
	}
	out := make([]oai.ChatCompletionToolParam, 0, len(defs))
	for _, def := range defs {
		if def == nil {
			continue
		}
		params, err := schemaToParams(def.InputSchema)
		if err != nil {
			return nil, fmt.Errorf("openai: tool %q schema: %w", def.Name, err)
		}
		out = append(out, oai.ChatCompletionToolParam{
			Function: shared.FunctionDefinitionParam{
				Name:        def.Name,
				Description: oai.String(def.Description),
				Parameters:  params,
			},
		})
	}
	return out, nil
}

func schemaToParams(schema any) (shared.FunctionParameters, error) {
	if schema == nil {
		return shared.FunctionParameters{}, nil
	}
	var raw json.RawMessage
	switch v := schema.(type) {
	case json.RawMessage:
		raw = v
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return nil, err
		}
		raw = data
	}
	var m shared.FunctionParameters
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, err
	}
	return m, nil
}

func encodeToolChoice(choice *model.ToolChoice) (oai.ChatCompletionToolChoiceOptionUnionParam, error) {
	switch choice.Mode {
	case "", model.ToolChoiceModeAuto:
		return oai.ChatCompletionToolChoiceOptionUnionParam{OfAuto: oai.String("auto")}, nil
	case model.ToolChoiceModeNone:
		return oai.ChatCompletionToolChoiceOptionUnionParam{OfAuto: oai.String("none")}, nil
	case model.ToolChoiceModeAny:
		return oai.ChatCompletionToolChoiceOptionUnionParam{OfAuto: oai.String("required")}, nil
	case model.ToolChoiceModeTool:
		if choice.Name == "" {
			return oai.ChatCompletionToolChoiceOptionUnionParam{}, errors.New("openai: tool choice mode requires a tool name")
		}
		return oai.ChatCompletionToolChoiceOptionUnionParam{
			OfChatCompletionNamedToolChoice: &oai.ChatCompletionNamedToolChoiceParam{
				Function: oai.ChatCompletionNamedToolChoiceFunctionParam{Name: choice.Name},
			},
		}, nil
	default:
		return oai.ChatCompletionToolChoiceOptionUnionParam{}, fmt.Errorf("openai: unsupported tool choice mode %q", choice.Mode)
	}
}

func translateResponse(resp *oai.ChatCompletion) *model.Response {
	out := &model.Response{}
	for _, choice := range resp.Choices {
		msg := choice.Message
		if strings.TrimSpace(msg.Content) != "" {
			out.Content = append(out.Content, model.Message{
				Role:  model.ConversationRoleAssistant,
				Parts: []model.Part{model.TextPart{Text: msg.Content}},
			})
		}
		for _, call := range msg.ToolCalls {
			out.ToolCalls = append(out.ToolCalls, model.ToolCall{
				Name:    tools.Ident(call.Function.Name),
				Payload: parseToolArguments(call.Function.Arguments),
				ID:      call.ID,
			})
		}
		out.StopReason = string(choice.FinishReason)
	}
	out.Usage = model.TokenUsage{
		InputTokens:  int(resp.Usage.PromptTokens),
		OutputTokens: int(resp.Usage.CompletionTokens),
		TotalTokens:  int(resp.Usage.TotalTokens),
	}
	return out
}

func parseToolArguments(raw string) json.RawMessage {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return json.RawMessage("{}")
	}
	return json.RawMessage(trimmed)
}

var _ model.Client = (*Client)(nil)
var _ io.Closer = (*openaiStreamer)(nil)
