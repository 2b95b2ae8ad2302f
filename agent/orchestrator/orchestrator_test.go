package orchestrator_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/agentcore-dev/runtime/agent/executor"
	"github.com/agentcore-dev/runtime/agent/mcpsource"
	"github.com/agentcore-dev/runtime/agent/orchestrator"
	"github.com/agentcore-dev/runtime/agent/permission"
	"github.com/agentcore-dev/runtime/hooks"
	"github.com/agentcore-dev/runtime/model"
	"github.com/agentcore-dev/runtime/tools"
)

// scriptedStreamer replays a fixed chunk sequence, then io.EOF.
type scriptedStreamer struct {
	chunks []model.Chunk
	idx    int
}

func (s *scriptedStreamer) Recv() (model.Chunk, error) {
	if s.idx >= len(s.chunks) {
		return model.Chunk{}, io.EOF
	}
	c := s.chunks[s.idx]
	s.idx++
	return c, nil
}

func (s *scriptedStreamer) Close() error           { return nil }
func (s *scriptedStreamer) Metadata() map[string]any { return nil }

// scriptedClient serves one scripted response per call, in order; calling it
// more times than scripted fails the test.
type scriptedClient struct {
	t        *testing.T
	turns    [][]model.Chunk
	n        atomic.Int32
}

func (c *scriptedClient) Complete(ctx context.Context, req *model.Request) (*model.Response, error) {
	return nil, errors.New("not implemented")
}

func (c *scriptedClient) Stream(ctx context.Context, req *model.Request) (model.Streamer, error) {
	i := int(c.n.Add(1)) - 1
	if i >= len(c.turns) {
		c.t.Fatalf("scriptedClient: unexpected turn %d (only %d scripted)", i, len(c.turns))
	}
	return &scriptedStreamer{chunks: c.turns[i]}, nil
}

func textTurn(text string) []model.Chunk {
	return []model.Chunk{
		{Type: model.ChunkTypeText, Message: &model.Message{
			Role:  model.ConversationRoleAssistant,
			Parts: []model.Part{model.TextPart{Text: text}},
		}},
		{Type: model.ChunkTypeStop, StopReason: "end_turn"},
	}
}

func toolCallTurn(id, name string, payload string) []model.Chunk {
	return []model.Chunk{
		{Type: model.ChunkTypeToolCall, ToolCall: &model.ToolCall{Name: tools.Ident(name), Payload: json.RawMessage(payload), ID: id}},
		{Type: model.ChunkTypeStop, StopReason: "tool_use"},
	}
}

func echoSpec(name string) tools.ToolSpec {
	return tools.ToolSpec{Name: tools.Ident(name), Description: "echo"}
}

func waitForState[T orchestrator.ActiveState](t *testing.T, events <-chan orchestrator.Event, timeout time.Duration) T {
	t.Helper()
	deadline := time.After(timeout)
	for {
		select {
		case ev := <-events:
			if sc, ok := ev.(orchestrator.StateChange); ok {
				if s, ok := sc.To.(T); ok {
					return s
				}
			}
		case <-deadline:
			var zero T
			t.Fatalf("timed out waiting for state %T", zero)
			return zero
		}
	}
}

func TestOrchestrator_TextOnlyTurnReturnsToIdle(t *testing.T) {
	client := &scriptedClient{t: t, turns: [][]model.Chunk{textTurn("hello there")}}
	o := orchestrator.New("agent-1", orchestrator.Config{Client: client})
	defer o.Shutdown()

	require.NoError(t, o.SendPrompt(context.Background(), "hi", orchestrator.SendPromptOptions{}))

	waitForState[orchestrator.Idle](t, o.Events(), 2*time.Second)
}

func TestOrchestrator_AutoApprovedToolExecutes(t *testing.T) {
	src := mcpsource.NewFake("fs")
	called := make(chan json.RawMessage, 1)
	src.Register(echoSpec("fs/read"), func(ctx context.Context, args json.RawMessage) (mcpsource.ToolOutput, error) {
		called <- args
		return mcpsource.ToolOutput{Items: []mcpsource.ResultItem{{Kind: mcpsource.ResultItemText, Text: "file contents"}}}, nil
	})

	client := &scriptedClient{t: t, turns: [][]model.Chunk{
		toolCallTurn("call_1", "fs/read", `{"path":"a.txt"}`),
		textTurn("done"),
	}}

	o := orchestrator.New("agent-2", orchestrator.Config{
		Client:          client,
		MCPSources:      []mcpsource.Source{src},
		AllowedPatterns: []string{"fs/*"},
	})
	defer o.Shutdown()

	require.NoError(t, o.SendPrompt(context.Background(), "read a.txt", orchestrator.SendPromptOptions{}))

	select {
	case args := <-called:
		require.JSONEq(t, `{"path":"a.txt"}`, string(args))
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for tool invocation")
	}

	waitForState[orchestrator.Idle](t, o.Events(), 2*time.Second)
}

func TestOrchestrator_UnlistedToolAsksForApprovalThenExecutes(t *testing.T) {
	src := mcpsource.NewFake("fs")
	src.Register(echoSpec("fs/write"), func(ctx context.Context, args json.RawMessage) (mcpsource.ToolOutput, error) {
		return mcpsource.ToolOutput{Items: []mcpsource.ResultItem{{Kind: mcpsource.ResultItemText, Text: "written"}}}, nil
	})

	client := &scriptedClient{t: t, turns: [][]model.Chunk{
		toolCallTurn("call_1", "fs/write", `{"path":"a.txt","content":"hi"}`),
		textTurn("done"),
	}}

	o := orchestrator.New("agent-3", orchestrator.Config{
		Client:     client,
		MCPSources: []mcpsource.Source{src},
		// no AllowedPatterns: every tool use requires approval
	})
	defer o.Shutdown()

	require.NoError(t, o.SendPrompt(context.Background(), "write a.txt", orchestrator.SendPromptOptions{}))

	waitForState[orchestrator.WaitingForApproval](t, o.Events(), 2*time.Second)

	require.NoError(t, o.SendApprovalResult(context.Background(), "call_1", true, ""))

	waitForState[orchestrator.Idle](t, o.Events(), 2*time.Second)
}

func TestOrchestrator_DeniedToolReturnsErrorResultWithoutExecuting(t *testing.T) {
	src := mcpsource.NewFake("fs")
	var invoked atomic.Bool
	src.Register(echoSpec("fs/rm"), func(ctx context.Context, args json.RawMessage) (mcpsource.ToolOutput, error) {
		invoked.Store(true)
		return mcpsource.ToolOutput{}, nil
	})

	deny := permission.ArgConstraintFunc(func(payload json.RawMessage) string {
		return "destructive operation not permitted"
	})

	client := &scriptedClient{t: t, turns: [][]model.Chunk{
		toolCallTurn("call_1", "fs/rm", `{"path":"a.txt"}`),
		textTurn("done"),
	}}

	o := orchestrator.New("agent-4", orchestrator.Config{
		Client:          client,
		MCPSources:      []mcpsource.Source{src},
		AllowedPatterns: []string{"fs/*"},
		ToolSettings: []permission.ToolSettings{
			{Pattern: "fs/*", Constraints: []permission.ArgConstraint{deny}},
		},
	})
	defer o.Shutdown()

	require.NoError(t, o.SendPrompt(context.Background(), "remove a.txt", orchestrator.SendPromptOptions{}))

	waitForState[orchestrator.Idle](t, o.Events(), 2*time.Second)
	require.False(t, invoked.Load(), "denied tool must not execute")
}

func TestOrchestrator_InterruptWhileWaitingForApprovalSucceeds(t *testing.T) {
	src := mcpsource.NewFake("fs")
	src.Register(echoSpec("fs/write"), func(ctx context.Context, args json.RawMessage) (mcpsource.ToolOutput, error) {
		return mcpsource.ToolOutput{}, nil
	})

	client := &scriptedClient{t: t, turns: [][]model.Chunk{
		toolCallTurn("call_1", "fs/write", `{}`),
	}}

	o := orchestrator.New("agent-5", orchestrator.Config{
		Client:     client,
		MCPSources: []mcpsource.Source{src},
	})
	defer o.Shutdown()

	require.NoError(t, o.SendPrompt(context.Background(), "write", orchestrator.SendPromptOptions{}))
	waitForState[orchestrator.WaitingForApproval](t, o.Events(), 2*time.Second)

	require.NoError(t, o.Interrupt(context.Background()))
}

// errStreamer reports err on the first Recv, simulating a transport failure.
type errStreamer struct{ err error }

func (s *errStreamer) Recv() (model.Chunk, error) { return model.Chunk{}, s.err }
func (s *errStreamer) Close() error               { return nil }
func (s *errStreamer) Metadata() map[string]any   { return nil }

// funcClient serves one scripted Stream constructor per call, in order.
type funcClient struct {
	t       *testing.T
	streams []func() (model.Streamer, error)
	n       atomic.Int32
}

func (c *funcClient) Complete(ctx context.Context, req *model.Request) (*model.Response, error) {
	return nil, errors.New("not implemented")
}

func (c *funcClient) Stream(ctx context.Context, req *model.Request) (model.Streamer, error) {
	i := int(c.n.Add(1)) - 1
	if i >= len(c.streams) {
		c.t.Fatalf("funcClient: unexpected stream %d (only %d scripted)", i, len(c.streams))
	}
	return c.streams[i]()
}

func historyText(t *testing.T, o *orchestrator.Orchestrator) string {
	t.Helper()
	snap, err := o.CreateSnapshot(context.Background())
	require.NoError(t, err)
	var b strings.Builder
	for _, m := range snap.ConversationState.History {
		for _, p := range m.Parts {
			switch v := p.(type) {
			case model.TextPart:
				b.WriteString(v.Text)
				b.WriteString("\n")
			case model.ToolResultPart:
				for _, blk := range v.Content {
					if tb, ok := blk.(model.TextResultBlock); ok {
						b.WriteString(tb.Text)
						b.WriteString("\n")
					}
				}
			}
		}
	}
	return b.String()
}

func TestOrchestrator_InvalidToolInputJSONRecovers(t *testing.T) {
	// Turn 1 streams a tool-call delta that never closes: the parser reports
	// InvalidJSON at stop and the orchestrator must synthesize the retry pair
	// and resend rather than surface an error.
	client := &scriptedClient{t: t, turns: [][]model.Chunk{
		{
			{Type: model.ChunkTypeToolCallDelta, ToolCallDelta: &model.ToolCallDelta{ID: "call_1", Name: "fs/read", Delta: `{"pa`}},
			{Type: model.ChunkTypeStop, StopReason: "tool_use"},
		},
		textTurn("recovered"),
	}}

	o := orchestrator.New("agent-7", orchestrator.Config{Client: client})
	defer o.Shutdown()

	require.NoError(t, o.SendPrompt(context.Background(), "read a.txt", orchestrator.SendPromptOptions{}))
	waitForState[orchestrator.Idle](t, o.Events(), 2*time.Second)

	require.Equal(t, int32(2), client.n.Load(), "recovery must resend exactly once")
	text := historyText(t, o)
	require.Contains(t, text, "Split the work into smaller tool calls")
}

func TestOrchestrator_StreamTimeoutRecovers(t *testing.T) {
	good := textTurn("made it")
	client := &funcClient{t: t, streams: []func() (model.Streamer, error){
		func() (model.Streamer, error) {
			return &errStreamer{err: fmt.Errorf("request aborted: %w", context.DeadlineExceeded)}, nil
		},
		func() (model.Streamer, error) { return &scriptedStreamer{chunks: good}, nil },
	}}

	o := orchestrator.New("agent-8", orchestrator.Config{Client: client})
	defer o.Shutdown()

	require.NoError(t, o.SendPrompt(context.Background(), "hi", orchestrator.SendPromptOptions{}))
	waitForState[orchestrator.Idle](t, o.Events(), 2*time.Second)

	require.Equal(t, int32(2), client.n.Load())
	text := historyText(t, o)
	require.Contains(t, text, "Take smaller steps")
}

func TestOrchestrator_NonRecoverableStreamErrorTransitionsToErrored(t *testing.T) {
	client := &funcClient{t: t, streams: []func() (model.Streamer, error){
		func() (model.Streamer, error) { return &errStreamer{err: errors.New("service unavailable")}, nil },
	}}

	o := orchestrator.New("agent-9", orchestrator.Config{Client: client})
	defer o.Shutdown()

	require.NoError(t, o.SendPrompt(context.Background(), "hi", orchestrator.SendPromptOptions{}))
	errored := waitForState[orchestrator.Errored](t, o.Events(), 2*time.Second)
	require.Error(t, errored.Err)
}

func TestOrchestrator_InterruptWhileWaitingInjectsCancelledResults(t *testing.T) {
	src := mcpsource.NewFake("fs")
	src.Register(echoSpec("fs/write"), func(ctx context.Context, args json.RawMessage) (mcpsource.ToolOutput, error) {
		return mcpsource.ToolOutput{}, nil
	})

	client := &scriptedClient{t: t, turns: [][]model.Chunk{
		toolCallTurn("call_1", "fs/write", `{}`),
	}}

	o := orchestrator.New("agent-10", orchestrator.Config{
		Client:     client,
		MCPSources: []mcpsource.Source{src},
	})
	defer o.Shutdown()

	require.NoError(t, o.SendPrompt(context.Background(), "write", orchestrator.SendPromptOptions{}))
	waitForState[orchestrator.WaitingForApproval](t, o.Events(), 2*time.Second)

	require.NoError(t, o.Interrupt(context.Background()))
	waitForState[orchestrator.Idle](t, o.Events(), 2*time.Second)

	text := historyText(t, o)
	require.Contains(t, text, "Tool use was cancelled by the user.")
}

func TestOrchestrator_ResourceFileTruncatedAtCap(t *testing.T) {
	const capBytes = 64
	client := &scriptedClient{t: t, turns: [][]model.Chunk{textTurn("hello")}}
	o := orchestrator.New("agent-11", orchestrator.Config{
		Client:          client,
		ResourceFiles:   map[string]string{"notes.txt": strings.Repeat("a", 200)},
		ResourceFileCap: capBytes,
	})
	defer o.Shutdown()

	events := o.Events()
	require.NoError(t, o.SendPrompt(context.Background(), "hi", orchestrator.SendPromptOptions{}))

	var contextText string
	deadline := time.After(2 * time.Second)
	for contextText == "" {
		select {
		case ev := <-events:
			rs, ok := ev.(orchestrator.RequestSent)
			if !ok {
				continue
			}
			require.NotEmpty(t, rs.Messages)
			tp, ok := rs.Messages[0].Parts[0].(model.TextPart)
			require.True(t, ok)
			contextText = tp.Text
		case <-deadline:
			t.Fatal("timed out waiting for RequestSent")
		}
	}

	start := strings.Index(contextText, "File notes.txt:\n")
	require.GreaterOrEqual(t, start, 0)
	body := contextText[start+len("File notes.txt:\n"):]
	end := strings.Index(body, "\n"+orchestrator.ContextEntryFooter)
	require.GreaterOrEqual(t, end, 0)
	body = body[:end]
	require.Len(t, body, capBytes)
	require.True(t, strings.HasSuffix(body, orchestrator.TruncationSuffix))
}

// TestOrchestrator_InterruptDuringToolExecution runs two parallel blocking
// tools, interrupts mid execution, and asserts both jobs observe their
// context cancellation, the turn settles in Idle, and every outstanding tool
// use resolved to a cancelled error result in history.
func TestOrchestrator_InterruptDuringToolExecution(t *testing.T) {
	src := mcpsource.NewFake("fs")
	started := make(chan struct{}, 2)
	blockingTool := func(ctx context.Context, args json.RawMessage) (mcpsource.ToolOutput, error) {
		started <- struct{}{}
		<-ctx.Done()
		return mcpsource.ToolOutput{}, ctx.Err()
	}
	src.Register(echoSpec("fs/slow_a"), blockingTool)
	src.Register(echoSpec("fs/slow_b"), blockingTool)

	client := &scriptedClient{t: t, turns: [][]model.Chunk{{
		{Type: model.ChunkTypeToolCall, ToolCall: &model.ToolCall{Name: "fs/slow_a", Payload: json.RawMessage(`{}`), ID: "call_a"}},
		{Type: model.ChunkTypeToolCall, ToolCall: &model.ToolCall{Name: "fs/slow_b", Payload: json.RawMessage(`{}`), ID: "call_b"}},
		{Type: model.ChunkTypeStop, StopReason: "tool_use"},
	}}}

	o := orchestrator.New("agent-14", orchestrator.Config{
		Client:          client,
		MCPSources:      []mcpsource.Source{src},
		AllowedPatterns: []string{"fs/*"},
	})
	defer o.Shutdown()

	require.NoError(t, o.SendPrompt(context.Background(), "run both", orchestrator.SendPromptOptions{}))
	for i := 0; i < 2; i++ {
		select {
		case <-started:
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for tools to start")
		}
	}

	require.NoError(t, o.Interrupt(context.Background()))
	waitForState[orchestrator.Idle](t, o.Events(), 2*time.Second)

	text := historyText(t, o)
	require.Equal(t, 2, strings.Count(text, "Tool use was cancelled by the user."))
}

// TestOrchestrator_InterruptDuringPreToolUseHooks interrupts while a
// long-running PreToolUse hook is executing: the hook is cancelled, the tool
// it was gating never runs, and the tool use resolves to a cancelled result.
func TestOrchestrator_InterruptDuringPreToolUseHooks(t *testing.T) {
	src := mcpsource.NewFake("fs")
	var invoked atomic.Bool
	src.Register(echoSpec("fs/write"), func(ctx context.Context, args json.RawMessage) (mcpsource.ToolOutput, error) {
		invoked.Store(true)
		return mcpsource.ToolOutput{}, nil
	})

	matcher := "fs/*"
	client := &scriptedClient{t: t, turns: [][]model.Chunk{
		toolCallTurn("call_1", "fs/write", `{}`),
	}}

	o := orchestrator.New("agent-15", orchestrator.Config{
		Client:          client,
		MCPSources:      []mcpsource.Source{src},
		AllowedPatterns: []string{"fs/*"},
		Hooks: []hooks.HookConfig{
			{Trigger: hooks.TriggerPreToolUse, Matcher: &matcher, Command: "sleep 30"},
		},
	})
	defer o.Shutdown()

	require.NoError(t, o.SendPrompt(context.Background(), "write", orchestrator.SendPromptOptions{}))
	waitForState[orchestrator.ExecutingHooks](t, o.Events(), 2*time.Second)

	require.NoError(t, o.Interrupt(context.Background()))
	waitForState[orchestrator.Idle](t, o.Events(), 5*time.Second)

	require.False(t, invoked.Load(), "gated tool must not run after an interrupt")
	require.Contains(t, historyText(t, o), "Tool use was cancelled by the user.")
}

func TestOrchestrator_InterruptWhileErroredResetsToIdle(t *testing.T) {
	client := &funcClient{t: t, streams: []func() (model.Streamer, error){
		func() (model.Streamer, error) { return &errStreamer{err: errors.New("service unavailable")}, nil },
	}}

	o := orchestrator.New("agent-16", orchestrator.Config{Client: client})
	defer o.Shutdown()

	require.NoError(t, o.SendPrompt(context.Background(), "hi", orchestrator.SendPromptOptions{}))
	waitForState[orchestrator.Errored](t, o.Events(), 2*time.Second)

	require.NoError(t, o.Interrupt(context.Background()))
	waitForState[orchestrator.Idle](t, o.Events(), 2*time.Second)
}

func TestOrchestrator_HookObserverSeesToolLifecycle(t *testing.T) {
	src := mcpsource.NewFake("fs")
	src.Register(echoSpec("fs/read"), func(ctx context.Context, args json.RawMessage) (mcpsource.ToolOutput, error) {
		return mcpsource.ToolOutput{Items: []mcpsource.ResultItem{{Kind: mcpsource.ResultItemText, Text: "ok"}}}, nil
	})

	client := &scriptedClient{t: t, turns: [][]model.Chunk{
		toolCallTurn("call_1", "fs/read", `{"path":"a.txt"}`),
		textTurn("done"),
	}}

	o := orchestrator.New("agent-13", orchestrator.Config{
		Client:          client,
		MCPSources:      []mcpsource.Source{src},
		AllowedPatterns: []string{"fs/*"},
	})
	defer o.Shutdown()

	seen := make(chan hooks.EventType, 16)
	sub, err := o.RegisterHookObserver(hooks.SubscriberFunc(func(ctx context.Context, ev hooks.Event) error {
		seen <- ev.Type()
		return nil
	}))
	require.NoError(t, err)
	defer func() { _ = sub.Close() }()

	require.NoError(t, o.SendPrompt(context.Background(), "read a.txt", orchestrator.SendPromptOptions{}))
	waitForState[orchestrator.Idle](t, o.Events(), 2*time.Second)

	got := make(map[hooks.EventType]bool)
	deadline := time.After(2 * time.Second)
	for !(got[hooks.EventToolCallScheduled] && got[hooks.EventToolResultReceived]) {
		select {
		case et := <-seen:
			got[et] = true
		case <-deadline:
			t.Fatalf("missing lifecycle events, saw %v", got)
		}
	}
}

func TestOrchestrator_BuiltinToolRunsViaRegisteredRunner(t *testing.T) {
	called := make(chan struct{}, 1)
	client := &scriptedClient{t: t, turns: [][]model.Chunk{
		toolCallTurn("call_1", "read_file", `{"path":"/etc/hosts"}`),
		textTurn("done"),
	}}

	o := orchestrator.New("agent-12", orchestrator.Config{
		Client:          client,
		BuiltinTools:    []tools.ToolSpec{echoSpec("read_file")},
		AllowedPatterns: []string{"read_file"},
		BuiltinRunners: map[string]executor.ToolRunnerFunc{
			"read_file": func(ctx context.Context, job executor.ToolJob) (any, error) {
				called <- struct{}{}
				return "127.0.0.1 localhost\n", nil
			},
		},
	})
	defer o.Shutdown()

	require.NoError(t, o.SendPrompt(context.Background(), "read /etc/hosts", orchestrator.SendPromptOptions{}))

	select {
	case <-called:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for built-in tool invocation")
	}
	waitForState[orchestrator.Idle](t, o.Events(), 2*time.Second)

	text := historyText(t, o)
	require.Contains(t, text, "127.0.0.1 localhost")
}

func TestOrchestrator_CreateSnapshotReflectsHistory(t *testing.T) {
	client := &scriptedClient{t: t, turns: [][]model.Chunk{textTurn("hello")}}
	o := orchestrator.New("agent-6", orchestrator.Config{Client: client})
	defer o.Shutdown()

	require.NoError(t, o.SendPrompt(context.Background(), "hi", orchestrator.SendPromptOptions{}))
	waitForState[orchestrator.Idle](t, o.Events(), 2*time.Second)

	snap, err := o.CreateSnapshot(context.Background())
	require.NoError(t, err)
	require.NotEmpty(t, snap.ConversationState.History)
	require.Equal(t, "idle", snap.ExecutionState.Active)
}
