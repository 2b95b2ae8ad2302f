package bedrock

import (
	"testing"

	brtypes "github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
	"github.com/stretchr/testify/require"

	"github.com/agentcore-dev/runtime/model"
	"github.com/agentcore-dev/runtime/stream"
)

func strp(s string) *string { return &s }
func i32p(i int32) *int32   { return &i }

func toolUseEvents(fragments []string) []any {
	events := []any{
		&brtypes.ConverseStreamOutputMemberMessageStart{},
		&brtypes.ConverseStreamOutputMemberContentBlockStart{
			Value: brtypes.ContentBlockStartEvent{
				ContentBlockIndex: i32p(0),
				Start: &brtypes.ContentBlockStartMemberToolUse{
					Value: brtypes.ToolUseBlockStart{ToolUseId: strp("tu_1"), Name: strp("weather_get")},
				},
			},
		},
	}
	for _, f := range fragments {
		events = append(events, &brtypes.ConverseStreamOutputMemberContentBlockDelta{
			Value: brtypes.ContentBlockDeltaEvent{
				ContentBlockIndex: i32p(0),
				Delta:             &brtypes.ContentBlockDeltaMemberToolUse{Value: brtypes.ToolUseBlockDelta{Input: strp(f)}},
			},
		})
	}
	events = append(events,
		&brtypes.ConverseStreamOutputMemberContentBlockStop{
			Value: brtypes.ContentBlockStopEvent{ContentBlockIndex: i32p(0)},
		},
		&brtypes.ConverseStreamOutputMemberMessageStop{
			Value: brtypes.MessageStopEvent{StopReason: brtypes.StopReasonToolUse},
		},
	)
	return events
}

func parseEmitted(t *testing.T, events []any) stream.Result {
	t.Helper()
	var emitted []model.Chunk
	p := newChunkProcessor(func(c model.Chunk) error {
		emitted = append(emitted, c)
		return nil
	}, func(model.TokenUsage) {}, nil)
	for _, ev := range events {
		require.NoError(t, p.handle(ev))
	}

	parser := stream.NewParser()
	var end *stream.ResponseStreamEnd
	for _, c := range emitted {
		for _, e := range parser.Feed(c) {
			if term, ok := e.(stream.ResponseStreamEnd); ok {
				end = &term
			}
		}
	}
	require.NotNil(t, end)
	return end.Result
}

// TestHandle_InvalidToolJSONDrivesParserInvalid replays a full Bedrock tool
// use block whose input deltas join into truncated JSON, asserting the
// stream parser reports InvalidJSON instead of a successful tool use.
func TestHandle_InvalidToolJSONDrivesParserInvalid(t *testing.T) {
	result := parseEmitted(t, toolUseEvents([]string{`{"city":`}))
	inv, isInvalid := result.(stream.InvalidJSON)
	require.True(t, isInvalid)
	require.Len(t, inv.InvalidTools, 1)
	require.Equal(t, "tu_1", inv.InvalidTools[0].ID)
	require.Equal(t, `{"city":`, inv.InvalidTools[0].RawContent)
}

func TestHandle_ValidToolJSONDrivesParserOk(t *testing.T) {
	result := parseEmitted(t, toolUseEvents([]string{`{"city":`, `"nyc"}`}))
	ok, isOk := result.(stream.Ok)
	require.True(t, isOk)
	require.Len(t, ok.Message.Parts, 2)
	tu, isToolUse := ok.Message.Parts[1].(model.ToolUsePart)
	require.True(t, isToolUse)
	require.Equal(t, "tu_1", tu.ID)
}
