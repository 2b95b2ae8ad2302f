package orchestrator

import (
	"github.com/agentcore-dev/runtime/agent/snapshot"
	"github.com/agentcore-dev/runtime/model"
	"github.com/agentcore-dev/runtime/tools"
)

// buildSnapshot assembles a Snapshot from
// the orchestrator's live state and persists it through snapshotStore.
func (o *Orchestrator) buildSnapshot() (snapshot.Snapshot, error) {
	servers := make([]string, 0, len(o.mcpSources))
	for _, s := range o.mcpSources {
		servers = append(servers, s.Server())
	}

	snap := snapshot.Snapshot{
		ID: o.id,
		ConversationState: snapshot.ConversationState{
			History:   append([]model.Message(nil), o.history...),
			ToolSpecs: append([]tools.ToolSpec(nil), o.toolSpecs...),
		},
		ConversationMeta: snapshot.ConversationMetadata{
			TurnCount:    o.turnCount,
			LastActiveAt: o.lastActiveAt,
			Summary:      o.summary,
		},
		ExecutionState: snapshot.ExecutionState{
			Active: activeStateLabel(o.active),
		},
		ModelState: snapshot.ModelState{
			Model:       o.lastOptions.Model,
			ModelClass:  string(o.lastOptions.ModelClass),
			Temperature: o.lastOptions.Temperature,
		},
		ToolState: snapshot.ToolState{
			EnabledPatterns: append([]string(nil), o.allowedPatterns...),
			RunningServers:  servers,
		},
		Settings: snapshot.Settings{
			AllowedPatterns: append([]string(nil), o.allowedPatterns...),
			SystemPrompt:    o.systemPrompt,
		},
		CreatedAt: o.createdAt,
	}

	if err := o.snapshotStore.Save(o.execCtx, snap); err != nil {
		return snapshot.Snapshot{}, err
	}
	return snap, nil
}

// activeStateLabel renders an ActiveState as the stable string label stored
// in ExecutionState.Active, kept decoupled from ActiveState's Go shape so
// the persisted format doesn't change every time that union grows a field.
func activeStateLabel(a ActiveState) string {
	switch a.(type) {
	case Idle:
		return "idle"
	case Errored:
		return "errored"
	case WaitingForApproval:
		return "waiting_for_approval"
	case ExecutingHooks:
		return "executing_hooks"
	case ExecutingRequest:
		return "executing_request"
	case ExecutingTools:
		return "executing_tools"
	default:
		return "unknown"
	}
}
