package anthropic

import (
	"context"
	"testing"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"
	"github.com/stretchr/testify/require"

	"github.com/agentcore-dev/runtime/model"
)

type fakeMessagesClient struct {
	lastParams sdk.MessageNewParams
	response   *sdk.Message
	err        error
}

func (f *fakeMessagesClient) New(ctx context.Context, body sdk.MessageNewParams, opts ...option.RequestOption) (*sdk.Message, error) {
	f.lastParams = body
	if f.err != nil {
		return nil, f.err
	}
	return f.response, nil
}

func (f *fakeMessagesClient) NewStreaming(ctx context.Context, body sdk.MessageNewParams, opts ...option.RequestOption) *ssestream.Stream[sdk.MessageStreamEventUnion] {
	f.lastParams = body
	return nil
}

func TestNew_RequiresDefaultModel(t *testing.T) {
	_, err := New(&fakeMessagesClient{}, Options{})
	require.Error(t, err)
}

func TestComplete_RequiresMessages(t *testing.T) {
	c, err := New(&fakeMessagesClient{}, Options{DefaultModel: "claude-x", MaxTokens: 1024})
	require.NoError(t, err)
	_, err = c.Complete(context.Background(), &model.Request{})
	require.Error(t, err)
}

func TestComplete_TranslatesTextResponse(t *testing.T) {
	fake := &fakeMessagesClient{
		response: &sdk.Message{
			Content: []sdk.ContentBlockUnion{{Type: "text", Text: "hello there"}},
		},
	}
	c, err := New(fake, Options{DefaultModel: "claude-x", MaxTokens: 1024})
	require.NoError(t, err)

	resp, err := c.Complete(context.Background(), &model.Request{
		Messages: []*model.Message{
			{Role: model.ConversationRoleUser, Parts: []model.Part{model.TextPart{Text: "hi"}}},
		},
	})
	require.NoError(t, err)
	require.Len(t, resp.Content, 1)
	require.Equal(t, "hello there", resp.Content[0].Parts[0].(model.TextPart).Text)
}

func TestPrepareRequest_RejectsLowThinkingBudget(t *testing.T) {
	c, err := New(&fakeMessagesClient{}, Options{DefaultModel: "claude-x", MaxTokens: 4096})
	require.NoError(t, err)
	_, _, err = c.prepareRequest(&model.Request{
		Messages: []*model.Message{
			{Role: model.ConversationRoleUser, Parts: []model.Part{model.TextPart{Text: "hi"}}},
		},
		Thinking: &model.ThinkingOptions{Enable: true, BudgetTokens: 16},
	})
	require.ErrorContains(t, err, "must be >= 1024")
}

func TestEncodeTools_SanitizesCollidingNames(t *testing.T) {
	defs := []*model.ToolDefinition{
		{Name: "fs.read!", Description: "reads a file"},
		{Name: "fs.read?", Description: "also reads a file"},
	}
	_, _, _, err := encodeTools(defs)
	require.Error(t, err)
}

func TestResolveModelID_PrefersExplicitModel(t *testing.T) {
	c, err := New(&fakeMessagesClient{}, Options{DefaultModel: "default", HighModel: "high"})
	require.NoError(t, err)
	require.Equal(t, "explicit", c.resolveModelID(&model.Request{Model: "explicit", ModelClass: model.ModelClassHighReasoning}))
	require.Equal(t, "high", c.resolveModelID(&model.Request{ModelClass: model.ModelClassHighReasoning}))
	require.Equal(t, "default", c.resolveModelID(&model.Request{}))
}
