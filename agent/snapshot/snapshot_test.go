package snapshot_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/agentcore-dev/runtime/agent/snapshot"
	"github.com/agentcore-dev/runtime/model"
	"github.com/agentcore-dev/runtime/tools"
)

func sampleSnapshot() snapshot.Snapshot {
	return snapshot.Snapshot{
		ID: "snap-1",
		ConversationState: snapshot.ConversationState{
			History: []model.Message{
				{Role: model.ConversationRoleUser, Parts: []model.Part{model.TextPart{Text: "read a.txt"}}},
				{Role: model.ConversationRoleAssistant, Parts: []model.Part{
					model.TextPart{Text: "reading"},
					model.ToolUsePart{ID: "call_1", Name: "fs/read", Input: map[string]any{"path": "a.txt"}},
				}},
				{Role: model.ConversationRoleUser, Parts: []model.Part{
					model.ToolResultPart{
						ToolUseID: "call_1",
						Status:    model.ResultStatusSuccess,
						Content:   []model.ResultBlock{model.TextResultBlock{Text: "contents"}},
					},
				}},
			},
			ToolSpecs: []tools.ToolSpec{{Name: "fs/read", Description: "read a file"}},
		},
		ConversationMeta: snapshot.ConversationMetadata{
			TurnCount:    2,
			LastActiveAt: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		},
		ExecutionState: snapshot.ExecutionState{Active: "idle"},
		ModelState:     snapshot.ModelState{Model: "claude-sonnet-4-5"},
		ToolState:      snapshot.ToolState{EnabledPatterns: []string{"fs/*"}},
		Settings:       snapshot.Settings{AllowedPatterns: []string{"fs/*"}},
		CreatedAt:      time.Date(2026, 3, 1, 12, 0, 1, 0, time.UTC),
	}
}

func TestSnapshot_EncodeDecodeEncodeIsByteIdentical(t *testing.T) {
	first, err := snapshot.Encode(sampleSnapshot())
	require.NoError(t, err)

	decoded, err := snapshot.Decode(first)
	require.NoError(t, err)

	second, err := snapshot.Encode(decoded)
	require.NoError(t, err)
	require.Equal(t, string(first), string(second))
}

func TestInMemoryStore_SaveLoadRoundTrip(t *testing.T) {
	store := snapshot.NewInMemory()
	want := sampleSnapshot()

	require.NoError(t, store.Save(context.Background(), want))

	got, err := store.Load(context.Background(), "snap-1")
	require.NoError(t, err)
	require.Equal(t, want.ID, got.ID)
	require.Len(t, got.ConversationState.History, 3)
}

func TestInMemoryStore_LoadMissingReturnsErrNotFound(t *testing.T) {
	store := snapshot.NewInMemory()
	_, err := store.Load(context.Background(), "nope")
	require.ErrorIs(t, err, snapshot.ErrNotFound)
}
