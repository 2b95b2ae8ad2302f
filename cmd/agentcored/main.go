// Command agentcored is a minimal composition root wiring one Agent
// Orchestrator to an Anthropic-backed model client, the in-process task
// executor, and the gRPC control-plane facade. It is not a CLI/REPL product;
// it exists to prove the wiring compiles and serves one agent end to end.
package main

import (
	"context"
	"flag"
	"log"
	"net"
	"os"
	"os/signal"
	"syscall"

	"google.golang.org/grpc"

	"github.com/agentcore-dev/runtime/agent/controlplane"
	"github.com/agentcore-dev/runtime/agent/orchestrator"
	"github.com/agentcore-dev/runtime/agent/providers/anthropic"
	"github.com/agentcore-dev/runtime/telemetry"
	"github.com/agentcore-dev/runtime/tools"
)

func main() {
	addr := flag.String("addr", ":7253", "gRPC listen address")
	agentID := flag.String("agent-id", "default", "agent identifier exposed over the control plane")
	model := flag.String("model", "claude-sonnet-4-5", "default model identifier")
	systemPrompt := flag.String("system-prompt", "You are a helpful coding agent.", "system prompt")
	flag.Parse()

	apiKey := os.Getenv("ANTHROPIC_API_KEY")
	if apiKey == "" {
		log.Fatal("agentcored: ANTHROPIC_API_KEY is required")
	}

	client, err := anthropic.NewFromAPIKey(apiKey, *model)
	if err != nil {
		log.Fatalf("agentcored: building model client: %v", err)
	}

	logger := telemetry.NewClueLogger()

	orch := orchestrator.New(*agentID, orchestrator.Config{
		Client:       client,
		SystemPrompt: *systemPrompt,
		BuiltinTools: []tools.ToolSpec{},
		Logger:       logger,
		Metrics:      telemetry.NewClueMetrics(),
		Tracer:       telemetry.NewClueTracer(),
	})
	defer orch.Shutdown()

	go logEvents(orch)

	cpServer := controlplane.NewServer()
	cpServer.Register(*agentID, orch)

	grpcServer := grpc.NewServer()
	controlplane.RegisterControlPlaneServer(grpcServer, cpServer)

	lis, err := net.Listen("tcp", *addr)
	if err != nil {
		log.Fatalf("agentcored: listen %s: %v", *addr, err)
	}

	go func() {
		log.Printf("agentcored: serving agent %q on %s", *agentID, *addr)
		if err := grpcServer.Serve(lis); err != nil {
			log.Printf("agentcored: grpc server stopped: %v", err)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()

	log.Print("agentcored: shutting down")
	grpcServer.GracefulStop()
}

func logEvents(orch *orchestrator.Orchestrator) {
	for range orch.Events() {
		// Orchestrator events are also observable via
		// controlplane.Server.StreamEvents; this loop just keeps the
		// broadcast channel drained for a process with no other
		// subscriber attached yet.
	}
}
