package invariants_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/agentcore-dev/runtime/agent/invariants"
	"github.com/agentcore-dev/runtime/model"
	"github.com/agentcore-dev/runtime/tools"
)

func userMsg(parts ...model.Part) model.Message {
	return model.Message{Role: model.ConversationRoleUser, Parts: parts}
}

func asstMsg(parts ...model.Part) model.Message {
	return model.Message{Role: model.ConversationRoleAssistant, Parts: parts}
}

func TestEnforce_NoTrimWhenAlreadyValid(t *testing.T) {
	history := []model.Message{
		userMsg(model.TextPart{Text: "hi"}),
		asstMsg(model.TextPart{Text: "hello"}),
	}
	specs := []tools.ToolSpec{{Name: "search"}}

	got, gotSpecs := invariants.Enforce(append([]model.Message(nil), history...), specs)

	require.Equal(t, history, got)
	require.Equal(t, specs, gotSpecs)
}

func TestEnforce_TrimsToOldestQualifyingUser(t *testing.T) {
	// Build a history longer than the effective bound whose only qualifying
	// User-without-ToolResults message is near the end.
	limit := invariants.MaxConversationStateHistoryLen - 2
	var history []model.Message
	for i := 0; i < limit+5; i++ {
		history = append(history, userMsg(
			model.ToolResultPart{ToolUseID: "x", Content: []model.ResultBlock{model.TextResultBlock{Text: "y"}}, Status: model.ResultStatusSuccess},
		))
	}
	// Plant a qualifying message close enough to the end to satisfy the bound.
	qualifyingIdx := len(history) - (limit - 1)
	history[qualifyingIdx] = userMsg(model.TextPart{Text: "clean start"})

	got, _ := invariants.Enforce(history, nil)

	require.LessOrEqual(t, len(got), limit)
	require.Equal(t, model.ConversationRoleUser, got[0].Role)
	require.Equal(t, model.TextPart{Text: "clean start"}, got[0].Parts[0])
}

func TestEnforce_ClearsHistoryWhenNoQualifyingIndex(t *testing.T) {
	history := []model.Message{
		userMsg(model.ToolResultPart{ToolUseID: "a"}),
		asstMsg(model.ToolUsePart{ID: "a", Name: "search"}),
		userMsg(model.ToolResultPart{ToolUseID: "b"}),
	}

	got, _ := invariants.Enforce(history, nil)

	require.Empty(t, got)
}

func TestEnforce_RewritesUnknownToolUseAndAppendsDummySpec(t *testing.T) {
	history := []model.Message{
		userMsg(model.TextPart{Text: "go"}),
		asstMsg(model.ToolUsePart{ID: "t1", Name: "retired_tool", Input: map[string]any{}}),
	}
	specs := []tools.ToolSpec{{Name: "search"}}

	got, gotSpecs := invariants.Enforce(history, specs)

	tu, ok := got[1].Parts[0].(model.ToolUsePart)
	require.True(t, ok)
	require.Equal(t, invariants.DummyToolName, tu.Name)
	require.Len(t, gotSpecs, 2)
	require.Equal(t, tools.Ident(invariants.DummyToolName), gotSpecs[1].Name)
}

func TestEnforce_NoDummySpecWhenNothingRewritten(t *testing.T) {
	history := []model.Message{
		userMsg(model.TextPart{Text: "go"}),
		asstMsg(model.ToolUsePart{ID: "t1", Name: "search", Input: map[string]any{}}),
	}
	specs := []tools.ToolSpec{{Name: "search"}}

	_, gotSpecs := invariants.Enforce(history, specs)

	require.Len(t, gotSpecs, 1)
}

func TestEnforce_Idempotent(t *testing.T) {
	history := []model.Message{
		userMsg(model.TextPart{Text: "go"}),
		asstMsg(model.ToolUsePart{ID: "t1", Name: "retired_tool", Input: map[string]any{}}),
	}
	specs := []tools.ToolSpec{{Name: "search"}}

	once, onceSpecs := invariants.Enforce(history, specs)
	twice, twiceSpecs := invariants.Enforce(append([]model.Message(nil), once...), append([]tools.ToolSpec(nil), onceSpecs...))

	require.Equal(t, once, twice)
	require.Equal(t, onceSpecs, twiceSpecs)
}

func TestEnforce_BoundaryExactlyAtMax(t *testing.T) {
	limit := invariants.MaxConversationStateHistoryLen - 2
	history := make([]model.Message, 0, limit)
	history = append(history, userMsg(model.TextPart{Text: "start"}))
	for len(history) < limit {
		history = append(history, asstMsg(model.TextPart{Text: "x"}))
	}

	got, _ := invariants.Enforce(append([]model.Message(nil), history...), nil)

	require.Equal(t, history, got)
}
