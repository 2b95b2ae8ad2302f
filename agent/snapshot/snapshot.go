// Package snapshot defines the persisted/resumable view of one agent's
// conversation and a pluggable Store for
// saving and loading it. The Snapshot type round-trips through
// encoding/json; Message already carries a discriminated-union codec (see
// github.com/agentcore-dev/runtime/model's Part marshaling), so Snapshot
// has no MarshalJSON/UnmarshalJSON of its own: encoding/json handles its
// flat fields directly.
package snapshot

import (
	"encoding/json"
	"time"

	"github.com/agentcore-dev/runtime/model"
	"github.com/agentcore-dev/runtime/tools"
)

// ConversationState is the message history plus the tool specs current at
// the time of the snapshot.
type ConversationState struct {
	History   []model.Message  `json:"history"`
	ToolSpecs []tools.ToolSpec `json:"tool_specs"`
}

// ConversationMetadata carries the non-message bookkeeping the orchestrator
// tracks per conversation.
type ConversationMetadata struct {
	TurnCount    int       `json:"turn_count"`
	LastActiveAt time.Time `json:"last_active_at"`
	Summary      string    `json:"summary,omitempty"`
}

// ExecutionState captures where the orchestrator was in its active-state
// machine at snapshot time, expressed as a label and opaque detail so the
// snapshot format stays stable even as ActiveState's Go representation
// evolves.
type ExecutionState struct {
	Active string         `json:"active"`
	Detail map[string]any `json:"detail,omitempty"`
}

// ModelState records the provider/model configuration in effect.
type ModelState struct {
	Model      string  `json:"model"`
	ModelClass string  `json:"model_class,omitempty"`
	Temperature float32 `json:"temperature,omitempty"`
}

// ToolState records which built-in, MCP, and sub-agent tools were enabled.
type ToolState struct {
	EnabledPatterns []string `json:"enabled_patterns"`
	RunningServers  []string `json:"running_mcp_servers,omitempty"`
}

// Settings carries the agent's allow-list and per-tool settings in their
// raw, serializable form.
type Settings struct {
	AllowedPatterns []string       `json:"allowed_patterns"`
	SystemPrompt    string         `json:"system_prompt,omitempty"`
	Extra           map[string]any `json:"extra,omitempty"`
}

// Snapshot is the full persisted view of one agent conversation. Volatile
// fields — live channels, goroutine handles, in-flight stream state — are
// never part of it; loading a Snapshot reconstructs fresh instances of
// those around the restored state.
type Snapshot struct {
	ID                 string               `json:"id"`
	AgentConfig        map[string]any       `json:"agent_config,omitempty"`
	ConversationState  ConversationState    `json:"conversation_state"`
	ConversationMeta   ConversationMetadata `json:"conversation_metadata"`
	ExecutionState     ExecutionState       `json:"execution_state"`
	ModelState         ModelState           `json:"model_state"`
	ToolState          ToolState            `json:"tool_state"`
	Settings           Settings             `json:"settings"`
	CreatedAt          time.Time            `json:"created_at"`
}

// Encode serializes a Snapshot to canonical JSON.
func Encode(s Snapshot) ([]byte, error) {
	return json.Marshal(s)
}

// Decode parses a Snapshot previously produced by Encode.
func Decode(data []byte) (Snapshot, error) {
	var s Snapshot
	if err := json.Unmarshal(data, &s); err != nil {
		return Snapshot{}, err
	}
	return s, nil
}
