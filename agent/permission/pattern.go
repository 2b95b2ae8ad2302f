// Package permission implements the tool allow/ask/deny decision and the
// hook-to-tool matcher shared by PreToolUse/PostToolUse dispatch. Pattern
// parsing follows the same "service/tool", "service/*", "*" glob conventions
// the github.com/agentcore-dev/runtime/hooks matcher strings are documented
// to use, generalized here into a reusable CanonicalToolName/Pattern pair so
// both the allow-list evaluator and the hook matcher share one parser.
package permission

import (
	"path"
	"strings"

	"github.com/agentcore-dev/runtime/tools"
)

// NameKind classifies a CanonicalToolName.
type NameKind string

const (
	// KindBuiltIn identifies a tool registered directly by the agent (not
	// behind an MCP server).
	KindBuiltIn NameKind = "built_in"
	// KindMCP identifies a tool exposed by a named MCP server.
	KindMCP NameKind = "mcp"
	// KindAgent identifies a sub-agent exposed as a callable tool.
	KindAgent NameKind = "agent"
)

// CanonicalToolName is the closed tagged union described in the data model:
// a tool is either built in, owned by an MCP server, or a sub-agent.
type CanonicalToolName struct {
	Kind   NameKind
	Server string // set only when Kind == KindMCP
	Name   string
}

// ParseCanonicalName canonicalizes a raw tool-use name as produced by the
// model. MCP tools are addressed "server/tool"; every other name is treated
// as a built-in (sub-agent names are canonicalized separately by the
// orchestrator's agent-tool resolution, which has its own namespace and is
// out of scope for name parsing here).
func ParseCanonicalName(raw string) CanonicalToolName {
	if server, tool, ok := strings.Cut(raw, "/"); ok && server != "" && tool != "" {
		return CanonicalToolName{Kind: KindMCP, Server: server, Name: tool}
	}
	return CanonicalToolName{Kind: KindBuiltIn, Name: raw}
}

// PatternKind classifies a parsed tool pattern used in allow-lists and hook
// matchers.
type PatternKind string

const (
	// PatternWildcard matches every tool ("*").
	PatternWildcard PatternKind = "wildcard"
	// PatternBuiltInExact matches one built-in tool by exact name.
	PatternBuiltInExact PatternKind = "built_in_exact"
	// PatternBuiltInGlob matches built-in tools by glob ("fs_*").
	PatternBuiltInGlob PatternKind = "built_in_glob"
	// PatternMCPExact matches one MCP tool by "server/tool".
	PatternMCPExact PatternKind = "mcp_exact"
	// PatternMCPServer matches every tool from one MCP server ("server/*").
	PatternMCPServer PatternKind = "mcp_server"
	// PatternMCPGlob matches MCP tools by glob within a server
	// ("server/search_*").
	PatternMCPGlob PatternKind = "mcp_glob"
	// PatternAgent matches sub-agent tool names. Agent patterns never match
	// in the hook-matching path (see HookMatchesTool).
	PatternAgent PatternKind = "agent"
)

// Pattern is a parsed tool-name pattern as used in allow-lists
// (Settings.AllowedPatterns) and hook matchers (HookConfig.Matcher).
type Pattern struct {
	Kind   PatternKind
	Server string // set for MCP kinds
	Name   string // literal name or glob, meaning depends on Kind
}

// agentPrefix identifies raw pattern strings addressing sub-agent tools,
// kept distinct from the MCP "server/tool" shape by a reserved prefix so
// parsing never confuses the two namespaces.
const agentPrefix = "agent:"

// ParsePattern parses a raw allow-list or matcher string into a Pattern.
func ParsePattern(raw string) Pattern {
	if raw == "*" {
		return Pattern{Kind: PatternWildcard}
	}
	if name, ok := strings.CutPrefix(raw, agentPrefix); ok {
		return Pattern{Kind: PatternAgent, Name: name}
	}
	if server, rest, ok := strings.Cut(raw, "/"); ok {
		switch {
		case rest == "*":
			return Pattern{Kind: PatternMCPServer, Server: server}
		case strings.ContainsAny(rest, "*?["):
			return Pattern{Kind: PatternMCPGlob, Server: server, Name: rest}
		default:
			return Pattern{Kind: PatternMCPExact, Server: server, Name: rest}
		}
	}
	if strings.ContainsAny(raw, "*?[") {
		return Pattern{Kind: PatternBuiltInGlob, Name: raw}
	}
	return Pattern{Kind: PatternBuiltInExact, Name: raw}
}

// Matches reports whether the pattern matches the given canonical tool name.
// Malformed globs fail closed (report no match) rather than panicking; the
// caller (EvaluateToolPermission) treats a pattern that never matches as
// "Ask", which is the documented fail-closed behavior for evaluation errors.
func (p Pattern) Matches(n CanonicalToolName) bool {
	switch p.Kind {
	case PatternWildcard:
		return true
	case PatternAgent:
		return n.Kind == KindAgent && globMatch(p.Name, n.Name)
	case PatternBuiltInExact:
		return n.Kind == KindBuiltIn && n.Name == p.Name
	case PatternBuiltInGlob:
		return n.Kind == KindBuiltIn && globMatch(p.Name, n.Name)
	case PatternMCPExact:
		return n.Kind == KindMCP && n.Server == p.Server && n.Name == p.Name
	case PatternMCPServer:
		return n.Kind == KindMCP && n.Server == p.Server
	case PatternMCPGlob:
		return n.Kind == KindMCP && n.Server == p.Server && globMatch(p.Name, n.Name)
	default:
		return false
	}
}

func globMatch(pattern, name string) bool {
	ok, err := path.Match(pattern, name)
	if err != nil {
		return false
	}
	return ok
}

// ToolSpecName returns the CanonicalToolName for a registered tools.ToolSpec,
// honoring MCP-style "server/tool" spec names the same way ParseCanonicalName
// does for model-issued tool-use names, so allow-list evaluation compares
// apples to apples regardless of which side produced the name. A spec with
// IsAgentTool set is classified KindAgent directly rather than run through
// the "server/tool" split, since a sub-agent tool's Name does not carry the
// "agent:" prefix that raw pattern strings use (that prefix only exists to
// disambiguate free-form pattern text; a registered ToolSpec already knows
// its own kind).
func ToolSpecName(spec tools.ToolSpec) CanonicalToolName {
	if spec.IsAgentTool {
		return CanonicalToolName{Kind: KindAgent, Name: string(spec.Name)}
	}
	return ParseCanonicalName(string(spec.Name))
}
