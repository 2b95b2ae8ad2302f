package tools

// ToolSpec enumerates the metadata needed to register, validate, and match a
// tool: its identity, request/response schemas, and the handful of runtime
// behaviors (bounded results, result reminders, transcript idempotency,
// agent-as-tool dispatch) that depend on how a tool was declared rather than
// on anything in its payload.
type ToolSpec struct {
	// Name is the tool identifier as it appears in a model-issued ToolUse and
	// in allow-list/hook patterns (see agent/permission.ParseCanonicalName
	// for the "server/tool" and "agent:name" conventions this participates in).
	Name Ident
	// Description provides human-readable context for the model and for
	// permission/hook tooling that surfaces tool metadata to an operator.
	Description string
	// Tags carries optional metadata labels consulted by the permission
	// evaluator and by transcript-idempotency classification (see
	// IdempotencyScopeFromTags).
	Tags []string
	// IsAgentTool marks a tool that is implemented by dispatching a
	// sub-agent rather than a plain function call. Agent-as-tool execution
	// is a capability point without a default dispatch path, but
	// permission.ToolSpecName still honors this flag so allow-lists and
	// hook matchers can address sub-agent tools as a distinct kind
	// (KindAgent) even before that dispatch path exists.
	IsAgentTool bool
	// AgentID is the fully qualified sub-agent identifier this tool
	// dispatches to. Only meaningful when IsAgentTool is true.
	AgentID string
	// BoundedResult indicates this tool's result is a bounded view over a
	// potentially larger data set, so the orchestrator can attach
	// truncation metadata consistently instead of each tool doing its own.
	BoundedResult bool
	// ResultReminder is an optional system reminder the orchestrator injects
	// into the conversation (wrapped in <system-reminder> tags) immediately
	// after this tool's result, giving the model backstage guidance about
	// how to interpret or present the result.
	ResultReminder string
	// Payload describes the request schema for the tool.
	Payload TypeSpec
	// Result describes the response schema for the tool.
	Result TypeSpec
}

// TypeSpec describes the payload or result schema for a tool.
type TypeSpec struct {
	// Name is the Go identifier associated with the type, used in error
	// messages and retry hints so a validation failure names the shape it
	// failed against.
	Name string
	// Schema is the JSON Schema document this type's values must satisfy,
	// compiled by agent/schema via santhosh-tekuri/jsonschema/v6.
	Schema []byte
}
