package permission_test

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/agentcore-dev/runtime/agent/permission"
	"github.com/agentcore-dev/runtime/hooks"
)

func strPtr(s string) *string { return &s }

func TestParsePattern(t *testing.T) {
	cases := []struct {
		raw  string
		want permission.PatternKind
	}{
		{"*", permission.PatternWildcard},
		{"bash", permission.PatternBuiltInExact},
		{"fs_*", permission.PatternBuiltInGlob},
		{"search/*", permission.PatternMCPServer},
		{"search/web_*", permission.PatternMCPGlob},
		{"search/lookup", permission.PatternMCPExact},
		{"agent:reviewer", permission.PatternAgent},
	}
	for _, c := range cases {
		got := permission.ParsePattern(c.raw)
		require.Equal(t, c.want, got.Kind, "pattern %q", c.raw)
	}
}

func TestEvaluateToolPermission_NoMatch_Asks(t *testing.T) {
	result := permission.EvaluateToolPermission(
		[]string{"search/*"}, nil,
		permission.Tool{Name: permission.ParseCanonicalName("bash")},
	)
	require.Equal(t, permission.Ask, result.Decision)
}

func TestEvaluateToolPermission_Match_Allows(t *testing.T) {
	result := permission.EvaluateToolPermission(
		[]string{"bash"}, nil,
		permission.Tool{Name: permission.ParseCanonicalName("bash")},
	)
	require.Equal(t, permission.Allow, result.Decision)
}

func TestEvaluateToolPermission_ConstraintViolation_Denies(t *testing.T) {
	denyRM := permission.ArgConstraintFunc(func(payload json.RawMessage) string {
		var args struct {
			Command string `json:"command"`
		}
		if err := json.Unmarshal(payload, &args); err != nil {
			return "unreadable arguments"
		}
		if args.Command == "rm -rf /" {
			return "destructive command is not permitted"
		}
		return ""
	})

	settings := []permission.ToolSettings{
		{Pattern: "bash", Constraints: []permission.ArgConstraint{denyRM}},
	}

	denied := permission.EvaluateToolPermission([]string{"bash"}, settings, permission.Tool{
		Name:    permission.ParseCanonicalName("bash"),
		Payload: json.RawMessage(`{"command":"rm -rf /"}`),
	})
	require.Equal(t, permission.Deny, denied.Decision)
	require.NotEmpty(t, denied.Reason)

	allowed := permission.EvaluateToolPermission([]string{"bash"}, settings, permission.Tool{
		Name:    permission.ParseCanonicalName("bash"),
		Payload: json.RawMessage(`{"command":"ls"}`),
	})
	require.Equal(t, permission.Allow, allowed.Decision)
}

func TestEvaluateToolPermission_SettingOnNonMatchingPatternIgnored(t *testing.T) {
	denyAll := permission.ArgConstraintFunc(func(json.RawMessage) string { return "never" })
	settings := []permission.ToolSettings{
		{Pattern: "search/*", Constraints: []permission.ArgConstraint{denyAll}},
	}
	result := permission.EvaluateToolPermission([]string{"bash"}, settings, permission.Tool{
		Name: permission.ParseCanonicalName("bash"),
	})
	require.Equal(t, permission.Allow, result.Decision)
}

func TestHookMatchesTool_NilMatcherMatchesEverything(t *testing.T) {
	h := hooks.HookConfig{Trigger: hooks.TriggerPreToolUse}
	require.True(t, permission.HookMatchesTool(h, permission.ParseCanonicalName("bash")))
	require.True(t, permission.HookMatchesTool(h, permission.ParseCanonicalName("search/lookup")))
}

func TestHookMatchesTool_MatcherRestricts(t *testing.T) {
	h := hooks.HookConfig{Trigger: hooks.TriggerPreToolUse, Matcher: strPtr("search/*")}
	require.True(t, permission.HookMatchesTool(h, permission.ParseCanonicalName("search/lookup")))
	require.False(t, permission.HookMatchesTool(h, permission.ParseCanonicalName("bash")))
}

func TestHookMatchesTool_AgentNamesNeverMatch(t *testing.T) {
	h := hooks.HookConfig{Trigger: hooks.TriggerPreToolUse}
	agentName := permission.CanonicalToolName{Kind: permission.KindAgent, Name: "reviewer"}
	require.False(t, permission.HookMatchesTool(h, agentName))
}

func TestMatchingHooks_FiltersByTriggerAndMatcher(t *testing.T) {
	configs := []hooks.HookConfig{
		{Trigger: hooks.TriggerPreToolUse, Matcher: strPtr("bash")},
		{Trigger: hooks.TriggerPreToolUse, Matcher: strPtr("search/*")},
		{Trigger: hooks.TriggerPostToolUse},
	}
	got := permission.MatchingHooks(configs, hooks.TriggerPreToolUse, permission.ParseCanonicalName("bash"))
	require.Len(t, got, 1)
	require.Equal(t, "bash", *got[0].Matcher)
}
