package anthropic

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/agentcore-dev/runtime/model"
	"github.com/agentcore-dev/runtime/stream"
	"github.com/agentcore-dev/runtime/tools"
)

func TestToolBuffer_FinalPayload(t *testing.T) {
	cases := []struct {
		name      string
		fragments []string
		want      string
		ok        bool
	}{
		{name: "empty accumulation yields empty object", want: "{}", ok: true},
		{name: "whitespace-only yields empty object", fragments: []string{"  \n"}, want: "{}", ok: true},
		{name: "valid json passes through", fragments: []string{`{"city":`, `"nyc"}`}, want: `{"city":"nyc"}`, ok: true},
		{name: "truncated json is rejected", fragments: []string{`{"city":`}, ok: false},
		{name: "trailing garbage is rejected", fragments: []string{`{"a":1}`, `}`}, ok: false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			tb := &toolBuffer{id: "tu_1", name: "weather_get", fragments: tc.fragments}
			payload, ok := tb.finalPayload()
			require.Equal(t, tc.ok, ok)
			if tc.ok {
				require.Equal(t, tc.want, string(payload))
			}
		})
	}
}

// TestCloseToolBlock_InvalidJSONDrivesParserInvalid feeds the chunks the
// processor actually emits for a tool block whose input arrives as truncated
// JSON into a stream.Parser, asserting the turn ends in InvalidJSON rather
// than a successful tool use.
func TestCloseToolBlock_InvalidJSONDrivesParserInvalid(t *testing.T) {
	var emitted []model.Chunk
	p := newChunkProcessor(func(c model.Chunk) error {
		emitted = append(emitted, c)
		return nil
	}, func(model.TokenUsage) {}, nil)

	p.toolBlocks[0] = &toolBuffer{id: "tu_1", name: "weather_get", fragments: []string{`{"city":`}}
	emitted = append(emitted, model.Chunk{
		Type:          model.ChunkTypeToolCallDelta,
		ToolCallDelta: &model.ToolCallDelta{Name: tools.Ident("weather_get"), ID: "tu_1", Delta: `{"city":`},
	})
	require.NoError(t, p.closeToolBlock(0))
	require.Empty(t, p.toolBlocks, "block must be consumed even when invalid")

	parser := stream.NewParser()
	var end *stream.ResponseStreamEnd
	emitted = append(emitted, model.Chunk{Type: model.ChunkTypeStop, StopReason: "tool_use"})
	for _, c := range emitted {
		for _, e := range parser.Feed(c) {
			if term, ok := e.(stream.ResponseStreamEnd); ok {
				end = &term
			}
		}
	}
	require.NotNil(t, end)
	inv, isInvalid := end.Result.(stream.InvalidJSON)
	require.True(t, isInvalid)
	require.Len(t, inv.InvalidTools, 1)
	require.Equal(t, "tu_1", inv.InvalidTools[0].ID)
	require.Equal(t, `{"city":`, inv.InvalidTools[0].RawContent)
}

func TestCloseToolBlock_ValidJSONEmitsTerminalToolCall(t *testing.T) {
	var emitted []model.Chunk
	p := newChunkProcessor(func(c model.Chunk) error {
		emitted = append(emitted, c)
		return nil
	}, func(model.TokenUsage) {}, nil)

	p.toolBlocks[0] = &toolBuffer{id: "tu_1", name: "weather_get", fragments: []string{`{"city":"nyc"}`}}
	require.NoError(t, p.closeToolBlock(0))

	require.Len(t, emitted, 1)
	require.Equal(t, model.ChunkTypeToolCall, emitted[0].Type)
	require.JSONEq(t, `{"city":"nyc"}`, string(emitted[0].ToolCall.Payload))
}
