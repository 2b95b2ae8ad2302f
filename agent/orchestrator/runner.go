package orchestrator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"

	"github.com/agentcore-dev/runtime/agent/executor"
	"github.com/agentcore-dev/runtime/agent/mcpsource"
	"github.com/agentcore-dev/runtime/agent/permission"
	"github.com/agentcore-dev/runtime/hooks"
)

// mcpToolRunner dispatches a ToolJob to the running MCP server that owns it.
// Built-in (non-MCP, non-agent) tools execute through the runner functions
// registered via Config.BuiltinRunners; an orchestrator configured with
// built-in tool specs but no matching runner fails those invocations with a
// descriptive error rather than panicking.
type mcpToolRunner struct {
	sources  map[string]mcpsource.Source
	builtins map[string]executor.ToolRunnerFunc
}

func newMCPToolRunner(sources []mcpsource.Source, builtins map[string]executor.ToolRunnerFunc) *mcpToolRunner {
	byServer := make(map[string]mcpsource.Source, len(sources))
	for _, s := range sources {
		byServer[s.Server()] = s
	}
	if builtins == nil {
		builtins = make(map[string]executor.ToolRunnerFunc)
	}
	return &mcpToolRunner{sources: byServer, builtins: builtins}
}

// RunTool implements executor.ToolRunner.
func (r *mcpToolRunner) RunTool(ctx context.Context, job executor.ToolJob) (any, error) {
	name := permission.ParseCanonicalName(string(job.Tool))
	switch name.Kind {
	case permission.KindMCP:
		src, ok := r.sources[name.Server]
		if !ok {
			return nil, fmt.Errorf("orchestrator: no running MCP server %q for tool %q", name.Server, job.Tool)
		}
		// The source gets the name exactly as it listed it, which is also
		// how the model addressed it.
		return src.CallTool(ctx, string(job.Tool), job.Payload)
	default:
		if run, ok := r.builtins[string(job.Tool)]; ok {
			return run.RunTool(ctx, job)
		}
		return nil, fmt.Errorf("orchestrator: no execution sink registered for built-in tool %q", job.Tool)
	}
}

// shellHookRunner executes HookConfig.Command via the ambient shell,
// capturing combined stdout/stderr, grounded on the corpus's stdio MCP
// caller's use of exec.CommandContext for cooperative-cancellation child
// processes.
type shellHookRunner struct {
	// outputCap bounds captured hook output length; zero means unbounded.
	outputCap int
}

func newShellHookRunner(outputCap int) *shellHookRunner {
	return &shellHookRunner{outputCap: outputCap}
}

// RunHook implements executor.HookRunner. job.Input, when non-empty, is
// piped to the command's stdin as the hook's contextual payload (the raw
// prompt text for UserPromptSubmit, or a JSON-serialized hooks.ToolContext
// for Pre/PostToolUse).
func (r *shellHookRunner) RunHook(ctx context.Context, job executor.HookJob) (hooks.HookResult, error) {
	runCtx := ctx
	var cancel context.CancelFunc
	if job.Config.Timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, job.Config.Timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(runCtx, "sh", "-c", job.Config.Command)
	if job.Input != "" {
		cmd.Stdin = strings.NewReader(job.Input)
	}
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out

	runErr := cmd.Run()

	output := out.String()
	if r.outputCap > 0 && len(output) > r.outputCap {
		output = output[:r.outputCap] + "...(truncated)"
	}

	exitCode := 0
	if runErr != nil {
		if exitErr, ok := runErr.(*exec.ExitError); ok {
			exitCode = exitErr.ExitCode()
		} else {
			return hooks.HookResult{}, runErr
		}
	}
	return hooks.HookResult{ExitCode: exitCode, Output: output}, nil
}

// toolContextJSON serializes a hooks.ToolContext for a Pre/PostToolUse hook
// invocation's stdin payload.
func toolContextJSON(tc hooks.ToolContext) string {
	data, err := json.Marshal(tc)
	if err != nil {
		return "{}"
	}
	return string(data)
}
