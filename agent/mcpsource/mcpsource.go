// Package mcpsource models an MCP server as an opaque collaborator behind a
// narrow interface, matching the out-of-scope boundary described for MCP
// server process management: this module consumes a live source of MCP tool
// specs and an execution sink, but never manages the server process itself.
package mcpsource

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/agentcore-dev/runtime/tools"
)

// ToolOutput is the result of a successful CallTool invocation: an ordered
// list of output items matching the tool-result item shapes (Text, Json,
// Image). Each item carries its kind; an image item holds the raw image
// bytes and their mime type.
type ToolOutput struct {
	Items []ResultItem
}

// ResultItemKind classifies a ResultItem.
type ResultItemKind string

const (
	ResultItemText  ResultItemKind = "text"
	ResultItemJSON  ResultItemKind = "json"
	ResultItemImage ResultItemKind = "image"
)

// ResultItem is one output item of a tool's result.
type ResultItem struct {
	Kind  ResultItemKind
	Text  string
	JSON  any
	Image []byte
	Mime  string
}

// Source is the narrow interface a running MCP server must satisfy. Server
// is the server's configured name, used to build the "server/tool"
// canonical tool name. CallTool's tool argument is the name exactly as the
// source reported it from ListTools; implementations that proxy to a real
// server strip their own "server/" prefix as needed.
type Source interface {
	Server() string
	ListTools(ctx context.Context) ([]tools.ToolSpec, error)
	CallTool(ctx context.Context, tool string, args json.RawMessage) (ToolOutput, error)
}

// Fake is an in-process reference Source for tests: tools are registered
// directly as Go closures rather than proxied to a real MCP server process.
type Fake struct {
	server string

	mu      sync.RWMutex
	specs   []tools.ToolSpec
	handler map[string]func(ctx context.Context, args json.RawMessage) (ToolOutput, error)
}

// NewFake returns a Fake Source for the given server name.
func NewFake(server string) *Fake {
	return &Fake{
		server:  server,
		handler: make(map[string]func(context.Context, json.RawMessage) (ToolOutput, error)),
	}
}

// Register adds a tool to the fake server's catalog with the given handler.
func (f *Fake) Register(spec tools.ToolSpec, handler func(ctx context.Context, args json.RawMessage) (ToolOutput, error)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.specs = append(f.specs, spec)
	f.handler[string(spec.Name)] = handler
}

// Server implements Source.
func (f *Fake) Server() string { return f.server }

// ListTools implements Source.
func (f *Fake) ListTools(ctx context.Context) ([]tools.ToolSpec, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make([]tools.ToolSpec, len(f.specs))
	copy(out, f.specs)
	return out, nil
}

// CallTool implements Source.
func (f *Fake) CallTool(ctx context.Context, tool string, args json.RawMessage) (ToolOutput, error) {
	f.mu.RLock()
	h, ok := f.handler[tool]
	f.mu.RUnlock()
	if !ok {
		return ToolOutput{}, fmt.Errorf("mcpsource: unknown tool %q on server %q", tool, f.server)
	}
	return h(ctx, args)
}

var _ Source = (*Fake)(nil)
