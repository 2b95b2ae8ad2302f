package agent

import "fmt"

// Bounds describes how a tool result has been bounded relative to the full
// underlying data set. It is a small, provider-agnostic contract the
// orchestrator uses to surface truncation metadata in a tool's result
// reminder without re-inspecting tool-specific fields.
//
// Returned reports how many items or points are present in the bounded view.
// Total, when non-nil, reports the best-effort total before truncation.
// Truncated indicates whether any caps were applied (length, window, depth).
// RefinementHint provides short, human-readable guidance on how to narrow or
// refine the query when Truncated is true.
type Bounds struct {
	Returned       int
	Total          *int
	Truncated      bool
	RefinementHint string
}

// BoundedResult is an optional interface implemented by a decoded tool result
// that knows its own truncation state. When a tool's output implements this
// interface and the tool's ToolSpec.BoundedResult is set, the orchestrator
// prefers it over treating the result as unbounded.
type BoundedResult interface {
	Bounds() Bounds
}

// ReminderNote renders a short, human-readable sentence describing the
// truncation this Bounds reports, suitable for appending to a tool's
// ResultReminder. It returns "" when Truncated is false, since an
// untruncated result needs no caveat.
func (b Bounds) ReminderNote() string {
	if !b.Truncated {
		return ""
	}
	note := fmt.Sprintf("Showing %d result(s)", b.Returned)
	if b.Total != nil {
		note += fmt.Sprintf(" of %d total", *b.Total)
	}
	if b.RefinementHint != "" {
		note += "; " + b.RefinementHint
	}
	return note + "."
}
