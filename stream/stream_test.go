package stream_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentcore-dev/runtime/model"
	"github.com/agentcore-dev/runtime/stream"
)

func TestParser_HappyTurn(t *testing.T) {
	p := stream.NewParser()

	var got []stream.Event
	got = append(got, p.Feed(model.Chunk{
		Type:    model.ChunkTypeText,
		Message: &model.Message{Role: model.ConversationRoleAssistant, Parts: []model.Part{model.TextPart{Text: "hi"}}},
	})...)
	got = append(got, p.Feed(model.Chunk{Type: model.ChunkTypeStop, StopReason: "end_turn"})...)

	var end *stream.ResponseStreamEnd
	for i := range got {
		if e, ok := got[i].(stream.ResponseStreamEnd); ok {
			end = &e
		}
	}
	require.NotNil(t, end)
	ok, isOk := end.Result.(stream.Ok)
	require.True(t, isOk)
	assert.Equal(t, model.ConversationRoleAssistant, ok.Message.Role)
	require.Len(t, ok.Message.Parts, 1)
	text, isText := ok.Message.Parts[0].(model.TextPart)
	require.True(t, isText)
	assert.Equal(t, "hi", text.Text)
}

func TestParser_ToolUse(t *testing.T) {
	p := stream.NewParser()
	p.Feed(model.Chunk{Type: model.ChunkTypeToolCallDelta, ToolCallDelta: &model.ToolCallDelta{ID: "tu_1", Name: "weather.get", Delta: `{"city":`}})
	p.Feed(model.Chunk{Type: model.ChunkTypeToolCallDelta, ToolCallDelta: &model.ToolCallDelta{ID: "tu_1", Name: "weather.get", Delta: `"nyc"}`}})
	events := p.Feed(model.Chunk{Type: model.ChunkTypeToolCall, ToolCall: &model.ToolCall{ID: "tu_1", Name: "weather.get", Payload: []byte(`{"city":"nyc"}`)}})

	var sawToolUse bool
	for _, e := range events {
		if tu, ok := e.(stream.ToolUse); ok {
			sawToolUse = true
			assert.Equal(t, "tu_1", tu.Call.ID)
		}
	}
	assert.True(t, sawToolUse)

	end := p.Feed(model.Chunk{Type: model.ChunkTypeStop, StopReason: "tool_use"})
	last := end[len(end)-1].(stream.ResponseStreamEnd)
	ok, isOk := last.Result.(stream.Ok)
	require.True(t, isOk)
	// Text part + one tool use part.
	require.Len(t, ok.Message.Parts, 2)
}

func TestParser_InvalidJSONOnOrphanedToolDelta(t *testing.T) {
	p := stream.NewParser()
	p.Feed(model.Chunk{Type: model.ChunkTypeToolCallDelta, ToolCallDelta: &model.ToolCallDelta{ID: "tu_1", Name: "weather.get", Delta: `{"city":`}})
	events := p.Feed(model.Chunk{Type: model.ChunkTypeStop, StopReason: "end_turn"})

	end := events[len(events)-1].(stream.ResponseStreamEnd)
	inv, isInvalid := end.Result.(stream.InvalidJSON)
	require.True(t, isInvalid)
	require.Len(t, inv.InvalidTools, 1)
	assert.Equal(t, "tu_1", inv.InvalidTools[0].ID)
}

func TestParser_InvalidJSONOnMalformedTerminalToolCall(t *testing.T) {
	p := stream.NewParser()
	p.Feed(model.Chunk{Type: model.ChunkTypeToolCallDelta, ToolCallDelta: &model.ToolCallDelta{ID: "tu_1", Name: "weather.get", Delta: `{"city":`}})
	events := p.Feed(model.Chunk{Type: model.ChunkTypeToolCall, ToolCall: &model.ToolCall{ID: "tu_1", Name: "weather.get", Payload: []byte(`{"city":`)}})

	for _, e := range events {
		_, isToolUse := e.(stream.ToolUse)
		require.False(t, isToolUse, "malformed terminal payload must not produce a ToolUse event")
	}

	end := p.Feed(model.Chunk{Type: model.ChunkTypeStop, StopReason: "tool_use"})
	last := end[len(end)-1].(stream.ResponseStreamEnd)
	inv, isInvalid := last.Result.(stream.InvalidJSON)
	require.True(t, isInvalid)
	require.Len(t, inv.InvalidTools, 1)
	assert.Equal(t, "tu_1", inv.InvalidTools[0].ID)
	assert.Equal(t, `{"city":`, inv.InvalidTools[0].RawContent)
}

func TestParser_DropsEventsAfterTerminal(t *testing.T) {
	p := stream.NewParser()
	p.Feed(model.Chunk{Type: model.ChunkTypeStop, StopReason: "end_turn"})
	events := p.Feed(model.Chunk{Type: model.ChunkTypeText})
	assert.Nil(t, events)
}

func TestParser_StreamFailure(t *testing.T) {
	p := stream.NewParser()
	events := p.Fail(errors.New("boom"))
	require.Len(t, events, 1)
	end := events[0].(stream.ResponseStreamEnd)
	fail, isFail := end.Result.(stream.StreamFailure)
	require.True(t, isFail)
	assert.EqualError(t, fail.Err, "boom")
}
