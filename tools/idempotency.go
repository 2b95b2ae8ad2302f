package tools

import (
	"fmt"
	"strings"
)

// IdempotencyScope declares the scope across which repeated calls to a tool
// can be treated as redundant.
//
// The orchestrator's transcript-idempotency check (see
// agent/orchestrator.Orchestrator.priorSuccessfulResult) consults this to
// decide whether a ToolUse identical to one already satisfied earlier in the
// same conversation can be answered from history instead of re-executed.
// Tools are never treated as idempotent unless explicitly tagged: a tool
// with side effects (a write, a mutation, a charge) must not be skipped just
// because its arguments match a prior call.
type IdempotencyScope string

// IdempotencyScopeTranscript marks a tool idempotent across the whole run
// transcript: once a call with a given payload has succeeded, a later
// identical call may be answered from that earlier result instead of
// re-executing the tool.
const IdempotencyScopeTranscript IdempotencyScope = "transcript"

// TagIdempotencyTranscript is the ToolSpec.Tags entry a tool registration
// sets to declare IdempotencyScopeTranscript.
const TagIdempotencyTranscript = idempotencyTagPrefix + "transcript"

const idempotencyTagPrefix = "runtime.idempotency="

// IdempotencyScopeFromTags scans tags for an idempotency declaration and
// returns the scope it names, or ok=false if none is present.
//
// A tool declaring more than one idempotency tag, or an unrecognized scope
// value, is a registration bug and is reported as an error rather than
// silently picking one; IdempotencyScopeFromTags's callers are expected to
// fail open (treat the error as "not idempotent") rather than risk an
// incorrect skip.
func IdempotencyScopeFromTags(tags []string) (IdempotencyScope, bool, error) {
	var (
		scope IdempotencyScope
		found bool
	)
	for _, tag := range tags {
		raw, ok := strings.CutPrefix(tag, idempotencyTagPrefix)
		if !ok {
			continue
		}
		if found {
			return "", false, fmt.Errorf("tools: multiple idempotency tags (first=%q, second=%q)", string(scope), tag)
		}
		switch raw {
		case string(IdempotencyScopeTranscript):
			scope = IdempotencyScopeTranscript
			found = true
		default:
			return "", false, fmt.Errorf("tools: unknown idempotency scope %q", raw)
		}
	}
	return scope, found, nil
}
