package controlplane_test

import (
	"context"
	"io"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/test/bufconn"

	"github.com/agentcore-dev/runtime/agent/controlplane"
	"github.com/agentcore-dev/runtime/agent/orchestrator"
	"github.com/agentcore-dev/runtime/agent/snapshot"
	"github.com/agentcore-dev/runtime/model"
)

type fakeStreamer struct {
	chunks []model.Chunk
	idx    int
}

func (s *fakeStreamer) Recv() (model.Chunk, error) {
	if s.idx >= len(s.chunks) {
		return model.Chunk{}, io.EOF
	}
	c := s.chunks[s.idx]
	s.idx++
	return c, nil
}

func (s *fakeStreamer) Close() error             { return nil }
func (s *fakeStreamer) Metadata() map[string]any { return nil }

type fakeClient struct{}

func (fakeClient) Complete(ctx context.Context, req *model.Request) (*model.Response, error) {
	return nil, io.EOF
}

func (fakeClient) Stream(ctx context.Context, req *model.Request) (model.Streamer, error) {
	return &fakeStreamer{chunks: []model.Chunk{
		{Type: model.ChunkTypeText, Message: &model.Message{
			Role:  model.ConversationRoleAssistant,
			Parts: []model.Part{model.TextPart{Text: "hi"}},
		}},
		{Type: model.ChunkTypeStop, StopReason: "end_turn"},
	}}, nil
}

func newTestOrchestrator(id string) *orchestrator.Orchestrator {
	return orchestrator.New(id, orchestrator.Config{Client: fakeClient{}})
}

func TestServer_SendPrompt_UnknownAgentReturnsErrorField(t *testing.T) {
	s := controlplane.NewServer()
	resp, err := s.SendPrompt(context.Background(), &controlplane.SendPromptRequest{AgentID: "missing", Text: "hi"})
	require.NoError(t, err)
	require.NotEmpty(t, resp.Error)
}

func TestServer_SendPromptAndCreateSnapshot(t *testing.T) {
	o := newTestOrchestrator("agent-cp-1")
	defer o.Shutdown()

	s := controlplane.NewServer()
	s.Register("agent-cp-1", o)

	resp, err := s.SendPrompt(context.Background(), &controlplane.SendPromptRequest{AgentID: "agent-cp-1", Text: "hi"})
	require.NoError(t, err)
	require.Empty(t, resp.Error)

	require.Eventually(t, func() bool {
		snapResp, err := s.CreateSnapshot(context.Background(), &controlplane.CreateSnapshotRequest{AgentID: "agent-cp-1"})
		if err != nil || snapResp.Error != "" {
			return false
		}
		snap, err := snapshot.Decode(snapResp.SnapshotJSON)
		if err != nil {
			return false
		}
		return snap.ExecutionState.Active == "idle" && len(snap.ConversationState.History) > 0
	}, 2*time.Second, 10*time.Millisecond)
}

func TestServer_GRPCRoundTrip(t *testing.T) {
	o := newTestOrchestrator("agent-cp-2")
	defer o.Shutdown()

	cpServer := controlplane.NewServer()
	cpServer.Register("agent-cp-2", o)

	grpcServer := grpc.NewServer()
	controlplane.RegisterControlPlaneServer(grpcServer, cpServer)

	lis := bufconn.Listen(1024 * 1024)
	go func() { _ = grpcServer.Serve(lis) }()
	defer grpcServer.Stop()

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) { return lis.DialContext(ctx) }),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	defer conn.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var sendResp controlplane.SendPromptResponse
	err = conn.Invoke(ctx, "/agentcore.controlplane.v1.ControlPlane/SendPrompt",
		&controlplane.SendPromptRequest{AgentID: "agent-cp-2", Text: "hi"}, &sendResp)
	require.NoError(t, err)
	require.Empty(t, sendResp.Error)

	require.Eventually(t, func() bool {
		var snapResp controlplane.CreateSnapshotResponse
		if err := conn.Invoke(ctx, "/agentcore.controlplane.v1.ControlPlane/CreateSnapshot",
			&controlplane.CreateSnapshotRequest{AgentID: "agent-cp-2"}, &snapResp); err != nil {
			return false
		}
		if snapResp.Error != "" {
			return false
		}
		snap, err := snapshot.Decode(snapResp.SnapshotJSON)
		return err == nil && snap.ExecutionState.Active == "idle"
	}, 3*time.Second, 20*time.Millisecond)
}

func TestServer_StreamEvents(t *testing.T) {
	o := newTestOrchestrator("agent-cp-3")
	defer o.Shutdown()

	s := controlplane.NewServer()
	s.Register("agent-cp-3", o)

	grpcServer := grpc.NewServer()
	controlplane.RegisterControlPlaneServer(grpcServer, s)

	lis := bufconn.Listen(1024 * 1024)
	go func() { _ = grpcServer.Serve(lis) }()
	defer grpcServer.Stop()

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) { return lis.DialContext(ctx) }),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	defer conn.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	desc := &grpc.StreamDesc{StreamName: "StreamEvents", ServerStreams: true}
	stream, err := conn.NewStream(ctx, desc, "/agentcore.controlplane.v1.ControlPlane/StreamEvents")
	require.NoError(t, err)
	require.NoError(t, stream.SendMsg(&controlplane.StreamEventsRequest{AgentID: "agent-cp-3"}))
	require.NoError(t, stream.CloseSend())

	require.NoError(t, o.SendPrompt(context.Background(), "hi", orchestrator.SendPromptOptions{}))

	var sawInitialized bool
	for i := 0; i < 50 && !sawInitialized; i++ {
		var env controlplane.EventEnvelope
		if err := stream.RecvMsg(&env); err != nil {
			break
		}
		if env.Kind == "initialized" {
			sawInitialized = true
		}
	}
	require.True(t, sawInitialized, "expected an initialized event on the stream")
}
