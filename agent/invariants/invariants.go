// Package invariants enforces the sendable shape of conversation history
// before it is attached to a model request: a bounded length, a valid
// leading message, and tool-use names that resolve against the current tool
// spec list. Enforce is a pure function over its arguments; it never touches
// I/O and is idempotent. It applies only to the request-formatting path,
// not to stored history.
package invariants

import (
	"github.com/agentcore-dev/runtime/model"
	"github.com/agentcore-dev/runtime/tools"
)

// DummyToolName is the reserved tool identifier used to rewrite ToolUse
// blocks whose name no longer resolves against the current tool spec list
// (the tool was removed, renamed, or belonged to an MCP server that is no
// longer running). A single dummy ToolSpec is appended to specs whenever at
// least one rewrite occurs, so the request still validates against the
// provider's tool schema. It reuses tools.ToolUnavailable, the runtime's
// reserved identifier for exactly this situation, instead of minting a
// second one.
const DummyToolName = string(tools.ToolUnavailable)

// MaxConversationStateHistoryLen bounds the total number of messages ever
// retained in a ConversationState. Enforce reserves two slots below this
// bound for the synthetic context-message pair prepended to every request
// (see the orchestrator's request-formatting step), so the effective trim
// target is MaxConversationStateHistoryLen-2.
const MaxConversationStateHistoryLen = 200

// dummySpec is appended verbatim (by value) whenever a rewrite occurs. Its
// schema is an empty JSON object so any tool-use payload parses against it.
func dummySpec() tools.ToolSpec {
	return tools.ToolSpec{
		Name:        tools.ToolUnavailable,
		Description: "Placeholder for a tool use whose original tool is no longer available.",
		Payload: tools.TypeSpec{
			Name:   "DummyToolInput",
			Schema: []byte(`{"type":"object"}`),
		},
	}
}

// maxHistory returns the effective trim bound, reserving two slots for the
// synthetic context-message pair.
func maxHistory() int {
	return MaxConversationStateHistoryLen - 2
}

// Enforce trims history to a bounded-size, valid-prefix shape and rewrites
// any ToolUse block whose name does not appear
// in specNames to DummyToolName, appending a single dummy ToolSpec to specs
// when at least one rewrite occurs. It mutates history and specs in place
// and returns the (possibly reallocated) slices.
//
// Enforce is pure: calling it twice in a row on its own output is a no-op
// (the second call observes an already-bounded, already-rewritten history
// and makes no further changes).
func Enforce(history []model.Message, specs []tools.ToolSpec) ([]model.Message, []tools.ToolSpec) {
	history = trim(history)
	history, rewrote := rewriteUnknownToolUses(history, specNameSet(specs))
	if rewrote {
		specs = append(specs, dummySpec())
	}
	return history, specs
}

// trim enforces the length bound and the valid leading message: it scans
// for the oldest index i such that keeping history[i:] satisfies both the
// length bound and "history[i] is a User message with no ToolResult blocks",
// then drops everything before i. If the current history already satisfies
// both invariants, trim returns it unchanged. If no qualifying index exists,
// trim clears the history entirely.
func trim(history []model.Message) []model.Message {
	limit := maxHistory()
	if len(history) <= limit && isValidLead(history, 0) {
		return history
	}
	for i := 0; i < len(history); i++ {
		if (len(history)-i) < limit && isValidLead(history, i) {
			return history[i:]
		}
	}
	return history[:0]
}

// isValidLead reports whether history[i] is a User message containing no
// ToolResultPart blocks. An out-of-range i is never valid.
func isValidLead(history []model.Message, i int) bool {
	if i < 0 || i >= len(history) {
		return false
	}
	msg := history[i]
	if msg.Role != model.ConversationRoleUser {
		return false
	}
	for _, part := range msg.Parts {
		if _, ok := part.(model.ToolResultPart); ok {
			return false
		}
	}
	return true
}

func specNameSet(specs []tools.ToolSpec) map[string]struct{} {
	set := make(map[string]struct{}, len(specs))
	for _, s := range specs {
		set[string(s.Name)] = struct{}{}
	}
	return set
}

// rewriteUnknownToolUses rewrites: every ToolUsePart.Name not present in
// known is rewritten to DummyToolName. It returns the (possibly mutated)
// history and whether any rewrite occurred.
func rewriteUnknownToolUses(history []model.Message, known map[string]struct{}) ([]model.Message, bool) {
	rewrote := false
	for mi, msg := range history {
		var changedParts []model.Part
		for pi, part := range msg.Parts {
			tu, ok := part.(model.ToolUsePart)
			if !ok {
				continue
			}
			if _, ok := known[tu.Name]; ok {
				continue
			}
			if tu.Name == DummyToolName {
				continue
			}
			if changedParts == nil {
				changedParts = append([]model.Part(nil), msg.Parts...)
			}
			tu.Name = DummyToolName
			changedParts[pi] = tu
			rewrote = true
		}
		if changedParts != nil {
			msg.Parts = changedParts
			history[mi] = msg
		}
	}
	return history, rewrote
}
