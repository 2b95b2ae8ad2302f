package permission

import (
	"encoding/json"

	"github.com/agentcore-dev/runtime/hooks"
	"github.com/agentcore-dev/runtime/tools"
)

// Decision is the outcome of EvaluateToolPermission.
type Decision string

const (
	// Allow means the tool may execute without further confirmation.
	Allow Decision = "allow"
	// Ask means the caller must obtain explicit user approval before the
	// tool executes.
	Ask Decision = "ask"
	// Deny means the tool use is rejected outright; Reason explains why.
	Deny Decision = "deny"
)

// Result bundles a Decision with the optional denial reason.
type Result struct {
	Decision Decision
	Reason   string
}

// ArgConstraint restricts a tool's arguments for a matching allow-pattern.
// Implementations inspect the raw JSON payload and return a non-empty reason
// when the arguments violate the constraint (and should be denied).
type ArgConstraint interface {
	// Check returns a non-empty denial reason when payload violates the
	// constraint, or "" when the arguments are acceptable.
	Check(payload json.RawMessage) string
}

// ArgConstraintFunc adapts a plain function to ArgConstraint.
type ArgConstraintFunc func(payload json.RawMessage) string

// Check implements ArgConstraint.
func (f ArgConstraintFunc) Check(payload json.RawMessage) string { return f(payload) }

// ToolSettings carries per-pattern argument constraints evaluated once a
// pattern has matched. A tool can have more than one configured setting
// (e.g. one per allow-pattern that names it); all matching settings must
// pass for the tool to be Allowed.
type ToolSettings struct {
	// Pattern is the raw allow-pattern string this setting applies to.
	Pattern string
	// Constraints are evaluated against the tool-use payload when Pattern
	// matches. Any failing constraint denies the tool use.
	Constraints []ArgConstraint
}

// Tool is the minimal view of a parsed tool use needed to evaluate
// permissions: its canonicalized name and raw JSON payload.
type Tool struct {
	Name    CanonicalToolName
	Payload json.RawMessage
}

// EvaluateToolPermission decides whether a tool use may run:
//
//  1. If no allow-pattern matches the tool name, the result is Ask.
//  2. If a matching pattern carries settings whose constraints the payload
//     violates, the result is Deny with the first violation's reason.
//  3. Otherwise the result is Allow.
//
// allowedPatterns are raw pattern strings (see ParsePattern); settings is
// keyed by the same raw pattern string used when the setting was
// configured, so a setting applies only when its own pattern matches (not
// merely because some other pattern in allowedPatterns matched).
func EvaluateToolPermission(allowedPatterns []string, settings []ToolSettings, tool Tool) Result {
	matched := false
	for _, raw := range allowedPatterns {
		if ParsePattern(raw).Matches(tool.Name) {
			matched = true
			break
		}
	}
	if !matched {
		return Result{Decision: Ask}
	}

	for _, s := range settings {
		if !ParsePattern(s.Pattern).Matches(tool.Name) {
			continue
		}
		for _, c := range s.Constraints {
			if reason := c.Check(tool.Payload); reason != "" {
				return Result{Decision: Deny, Reason: reason}
			}
		}
	}

	return Result{Decision: Allow}
}

// HookMatchesTool reports whether hook applies to toolName. A hook with no
// matcher matches every tool. Agent-kind tool names never match here:
// sub-agent dispatch is its own namespace, so a hook configured to only
// ever watch for agent tools is inert on this path by construction rather
// than by special casing every caller.
func HookMatchesTool(hook hooks.HookConfig, toolName CanonicalToolName) bool {
	if hook.Matcher == nil {
		return true
	}
	if toolName.Kind == KindAgent {
		return false
	}
	return ParsePattern(*hook.Matcher).Matches(toolName)
}

// MatchingHooks filters configs to those whose trigger equals trigger and
// whose matcher matches toolName, preserving input order. It is pure and
// order-independent over the input hook list (the same set of hooks always
// produces the same filtered result regardless of list order, since
// matching is evaluated independently per hook).
func MatchingHooks(configs []hooks.HookConfig, trigger hooks.HookTrigger, toolName CanonicalToolName) []hooks.HookConfig {
	var out []hooks.HookConfig
	for _, h := range configs {
		if h.Trigger != trigger {
			continue
		}
		if HookMatchesTool(h, toolName) {
			out = append(out, h)
		}
	}
	return out
}

// SpecToolName is re-exported for convenience so orchestrator code doesn't
// need to import both permission and the underlying tools package just to
// canonicalize a ToolSpec's name.
func SpecToolName(spec tools.ToolSpec) CanonicalToolName { return ToolSpecName(spec) }
