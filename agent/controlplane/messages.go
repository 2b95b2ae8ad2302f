// Package controlplane exposes the orchestrator's external interfaces
// over gRPC so an out-of-process consumer can drive an Agent
// Orchestrator without linking against it directly. The service is
// hand-written rather than generated from a .proto file: messages are plain
// Go structs carried over grpc's codec plugin point (see codec.go) instead
// of protobuf-generated types, and the grpc.ServiceDesc in service.go is
// assembled by hand in the same shape protoc-gen-go-grpc would produce.
package controlplane

// SendPromptRequest submits a new user prompt to one agent.
type SendPromptRequest struct {
	AgentID     string
	Text        string
	Model       string
	ModelClass  string
	MaxTokens   int
	Temperature float32
}

// SendPromptResponse reports whether the prompt was accepted.
type SendPromptResponse struct {
	Error string
}

// InterruptRequest cancels whatever one agent is currently doing.
type InterruptRequest struct {
	AgentID string
}

// InterruptResponse reports whether the interrupt was accepted.
type InterruptResponse struct {
	Error string
}

// SendApprovalResultRequest resolves one pending tool use's approve/deny
// decision.
type SendApprovalResultRequest struct {
	AgentID   string
	ToolUseID string
	Approved  bool
	Reason    string
}

// SendApprovalResultResponse reports whether the decision was accepted.
type SendApprovalResultResponse struct {
	Error string
}

// CreateSnapshotRequest captures one agent's current conversation state.
type CreateSnapshotRequest struct {
	AgentID string
}

// CreateSnapshotResponse carries the encoded snapshot (snapshot.Encode), or
// Error when the capture failed.
type CreateSnapshotResponse struct {
	SnapshotJSON []byte
	Error        string
}

// StreamEventsRequest subscribes to one agent's broadcast event stream.
type StreamEventsRequest struct {
	AgentID string
}

// EventEnvelope carries one orchestrator.Event, tagged by Kind and encoded
// as JSON in PayloadJSON so the wire format stays stable even as individual
// event payload shapes evolve.
type EventEnvelope struct {
	Kind        string
	PayloadJSON []byte
}
