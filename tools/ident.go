package tools

// Ident is the strong type for a tool's name as it travels through a
// conversation: a ToolUsePart.Name, a ToolSpec.Name, a schema validator's map
// key. Keeping it a distinct type (rather than a bare string) stops a raw
// payload string from being mistaken for a tool name at a call site, and
// gives agent/permission.ParseCanonicalName a single well-known type to
// parse MCP "server/tool" and sub-agent "agent:name" addressing out of.
type Ident string

// String implements fmt.Stringer so an Ident prints as its bare name in
// error messages and logs instead of needing an explicit conversion at every
// call site.
func (i Ident) String() string {
	return string(i)
}
