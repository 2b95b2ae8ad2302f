package model

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMessageMarshalJSONIncludesKind(t *testing.T) {
	cases := []struct {
		name string
		part Part
		kind string
	}{
		{
			name: "thinking",
			part: ThinkingPart{
				Text:      "think",
				Signature: "sig",
				Index:     1,
				Final:     true,
			},
			kind: "thinking",
		},
		{name: "text", part: TextPart{Text: "hello"}, kind: "text"},
		{name: "image", part: ImagePart{Mime: "image/png", Bytes: []byte{0x89, 0x50}}, kind: "image"},
		{name: "tool_use", part: ToolUsePart{Name: "search", Input: map[string]any{"q": "golang"}}, kind: "tool_use"},
		{
			name: "tool_result",
			part: ToolResultPart{
				ToolUseID: "tu",
				Content:   []ResultBlock{JSONResultBlock{Value: map[string]any{"hits": 1}}},
				Status:    ResultStatusSuccess,
			},
			kind: "tool_result",
		},
		{name: "cache_checkpoint", part: CacheCheckpointPart{}, kind: "cache_checkpoint"},
	}

	for _, tt := range cases {
		t.Run(tt.name, func(t *testing.T) {
			msg := Message{Role: ConversationRoleAssistant, Parts: []Part{tt.part}}
			raw, err := json.Marshal(msg)
			require.NoError(t, err)

			var decoded struct {
				Parts []map[string]json.RawMessage
			}
			require.NoError(t, json.Unmarshal(raw, &decoded))
			require.Len(t, decoded.Parts, 1)

			var kind string
			require.NoError(t, json.Unmarshal(decoded.Parts[0]["Kind"], &kind))
			require.Equal(t, tt.kind, kind)
		})
	}
}

func TestDecodeMessagePartHonorsKind(t *testing.T) {
	const payload = `{"Kind":"tool_use","Name":"legacy","Args":{"q":"old"}}`
	part, err := decodeMessagePart([]byte(payload))
	require.NoError(t, err)

	tu, ok := part.(ToolUsePart)
	require.True(t, ok)
	require.Equal(t, "legacy", tu.Name)
	require.Equal(t, map[string]any{"q": "old"}, tu.Input)
}

func TestThinkingPartRoundTripPreservesSignature(t *testing.T) {
	orig := Message{
		Role: ConversationRoleAssistant,
		Parts: []Part{ThinkingPart{
			Text:      "let me think",
			Signature: "signed-by-provider",
			Index:     3,
			Final:     true,
		}},
	}

	raw, err := json.Marshal(orig)
	require.NoError(t, err)

	var got Message
	require.NoError(t, json.Unmarshal(raw, &got))
	require.Len(t, got.Parts, 1)

	gotThinking, ok := got.Parts[0].(ThinkingPart)
	require.True(t, ok)
	origThinking := orig.Parts[0].(ThinkingPart)
	require.Equal(t, origThinking.Text, gotThinking.Text)
	require.Equal(t, origThinking.Signature, gotThinking.Signature)
	require.Equal(t, origThinking.Index, gotThinking.Index)
	require.Equal(t, origThinking.Final, gotThinking.Final)
}

func TestToolResultPartRoundTripPreservesContentBlocks(t *testing.T) {
	orig := ToolResultPart{
		ToolUseID: "tu-1",
		Content: []ResultBlock{
			TextResultBlock{Text: "done"},
			JSONResultBlock{Value: map[string]any{"count": float64(2)}},
			ImageResultBlock{Mime: "image/png", Bytes: []byte{0x01, 0x02, 0x03}},
		},
		Status: ResultStatusSuccess,
	}

	raw, err := json.Marshal(orig)
	require.NoError(t, err)

	var got ToolResultPart
	require.NoError(t, json.Unmarshal(raw, &got))

	require.Equal(t, orig.ToolUseID, got.ToolUseID)
	require.Equal(t, orig.Status, got.Status)
	require.Len(t, got.Content, 3)
	require.Equal(t, orig.Content[0], got.Content[0])
	require.Equal(t, orig.Content[1], got.Content[1])
	require.Equal(t, orig.Content[2], got.Content[2])
}

func TestToolResultPartErrorStatusRoundTrips(t *testing.T) {
	orig := ToolResultPart{
		ToolUseID: "tu-2",
		Content:   []ResultBlock{TextResultBlock{Text: "boom"}},
		Status:    ResultStatusError,
	}

	raw, err := json.Marshal(orig)
	require.NoError(t, err)

	var got ToolResultPart
	require.NoError(t, json.Unmarshal(raw, &got))
	require.Equal(t, ResultStatusError, got.Status)
}
