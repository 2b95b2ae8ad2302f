package controlplane

import (
	"context"
	"fmt"
	"sync"

	"github.com/agentcore-dev/runtime/agent/orchestrator"
	"github.com/agentcore-dev/runtime/agent/snapshot"
	"github.com/agentcore-dev/runtime/model"
)

// Server implements ControlPlaneServer by dispatching each request to the
// Orchestrator registered under the request's AgentID. The in-process
// Orchestrator type remains the canonical API; Server is a thin adapter, one
// process can host many agents behind a single gRPC endpoint.
type Server struct {
	mu     sync.RWMutex
	agents map[string]*orchestrator.Orchestrator
}

// NewServer returns an empty Server. Agents are added with Register.
func NewServer() *Server {
	return &Server{agents: make(map[string]*orchestrator.Orchestrator)}
}

// Register makes an Orchestrator reachable under id. Re-registering an id
// replaces the previous orchestrator.
func (s *Server) Register(id string, o *orchestrator.Orchestrator) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.agents[id] = o
}

// Unregister removes an agent from the server.
func (s *Server) Unregister(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.agents, id)
}

func (s *Server) lookup(id string) (*orchestrator.Orchestrator, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	o, ok := s.agents[id]
	if !ok {
		return nil, fmt.Errorf("controlplane: unknown agent %q", id)
	}
	return o, nil
}

// SendPrompt implements ControlPlaneServer.
func (s *Server) SendPrompt(ctx context.Context, req *SendPromptRequest) (*SendPromptResponse, error) {
	o, err := s.lookup(req.AgentID)
	if err != nil {
		return &SendPromptResponse{Error: err.Error()}, nil
	}
	opts := orchestrator.SendPromptOptions{
		Model:       req.Model,
		ModelClass:  model.ModelClass(req.ModelClass),
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
	}
	if err := o.SendPrompt(ctx, req.Text, opts); err != nil {
		return &SendPromptResponse{Error: err.Error()}, nil
	}
	return &SendPromptResponse{}, nil
}

// Interrupt implements ControlPlaneServer.
func (s *Server) Interrupt(ctx context.Context, req *InterruptRequest) (*InterruptResponse, error) {
	o, err := s.lookup(req.AgentID)
	if err != nil {
		return &InterruptResponse{Error: err.Error()}, nil
	}
	if err := o.Interrupt(ctx); err != nil {
		return &InterruptResponse{Error: err.Error()}, nil
	}
	return &InterruptResponse{}, nil
}

// SendApprovalResult implements ControlPlaneServer.
func (s *Server) SendApprovalResult(ctx context.Context, req *SendApprovalResultRequest) (*SendApprovalResultResponse, error) {
	o, err := s.lookup(req.AgentID)
	if err != nil {
		return &SendApprovalResultResponse{Error: err.Error()}, nil
	}
	if err := o.SendApprovalResult(ctx, req.ToolUseID, req.Approved, req.Reason); err != nil {
		return &SendApprovalResultResponse{Error: err.Error()}, nil
	}
	return &SendApprovalResultResponse{}, nil
}

// CreateSnapshot implements ControlPlaneServer.
func (s *Server) CreateSnapshot(ctx context.Context, req *CreateSnapshotRequest) (*CreateSnapshotResponse, error) {
	o, err := s.lookup(req.AgentID)
	if err != nil {
		return &CreateSnapshotResponse{Error: err.Error()}, nil
	}
	snap, err := o.CreateSnapshot(ctx)
	if err != nil {
		return &CreateSnapshotResponse{Error: err.Error()}, nil
	}
	data, err := snapshot.Encode(snap)
	if err != nil {
		return &CreateSnapshotResponse{Error: err.Error()}, nil
	}
	return &CreateSnapshotResponse{SnapshotJSON: data}, nil
}

// StreamEvents implements ControlPlaneServer: it rebroadcasts one agent's
// orchestrator.Events() channel until the client disconnects or the
// orchestrator shuts down.
func (s *Server) StreamEvents(req *StreamEventsRequest, stream ControlPlane_StreamEventsServer) error {
	o, err := s.lookup(req.AgentID)
	if err != nil {
		return err
	}
	for {
		select {
		case ev, ok := <-o.Events():
			if !ok {
				return nil
			}
			kind, payload, err := encodeEvent(ev)
			if err != nil {
				continue
			}
			if err := stream.Send(&EventEnvelope{Kind: kind, PayloadJSON: payload}); err != nil {
				return err
			}
		case <-stream.Context().Done():
			return stream.Context().Err()
		}
	}
}

var _ ControlPlaneServer = (*Server)(nil)
