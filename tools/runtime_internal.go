package tools

// ToolUnavailable is the reserved tool identifier agent/invariants.Enforce
// rewrites unresolvable ToolUsePart.Name values to, so a request still
// validates against the provider's tool schema even when history carries a
// tool_use for a tool that has since been removed, renamed, or belonged to
// an MCP server no longer running. It is always safe to advertise to models:
// its semantics are runtime-owned and it never has external side effects.
const ToolUnavailable Ident = "runtime.tool_unavailable"
