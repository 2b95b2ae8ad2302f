package controlplane

import (
	"context"

	"google.golang.org/grpc"
)

// ControlPlaneServer is the interface Server implements. Splitting it out,
// rather than registering *Server directly, matches the shape
// protoc-gen-go-grpc produces so a future switch to a real .proto definition
// would not change this package's call sites.
type ControlPlaneServer interface {
	SendPrompt(context.Context, *SendPromptRequest) (*SendPromptResponse, error)
	Interrupt(context.Context, *InterruptRequest) (*InterruptResponse, error)
	SendApprovalResult(context.Context, *SendApprovalResultRequest) (*SendApprovalResultResponse, error)
	CreateSnapshot(context.Context, *CreateSnapshotRequest) (*CreateSnapshotResponse, error)
	StreamEvents(*StreamEventsRequest, ControlPlane_StreamEventsServer) error
}

// ControlPlane_StreamEventsServer is the server-side stream handle for
// StreamEvents, matching the embedding convention protoc-gen-go-grpc uses
// for server-streaming RPCs.
type ControlPlane_StreamEventsServer interface {
	Send(*EventEnvelope) error
	grpc.ServerStream
}

type controlPlaneStreamEventsServer struct {
	grpc.ServerStream
}

func (x *controlPlaneStreamEventsServer) Send(m *EventEnvelope) error {
	return x.ServerStream.SendMsg(m)
}

func _ControlPlane_SendPrompt_Handler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(SendPromptRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(ControlPlaneServer).SendPrompt(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/agentcore.controlplane.v1.ControlPlane/SendPrompt"}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(ControlPlaneServer).SendPrompt(ctx, req.(*SendPromptRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func _ControlPlane_Interrupt_Handler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(InterruptRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(ControlPlaneServer).Interrupt(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/agentcore.controlplane.v1.ControlPlane/Interrupt"}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(ControlPlaneServer).Interrupt(ctx, req.(*InterruptRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func _ControlPlane_SendApprovalResult_Handler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(SendApprovalResultRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(ControlPlaneServer).SendApprovalResult(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/agentcore.controlplane.v1.ControlPlane/SendApprovalResult"}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(ControlPlaneServer).SendApprovalResult(ctx, req.(*SendApprovalResultRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func _ControlPlane_CreateSnapshot_Handler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(CreateSnapshotRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(ControlPlaneServer).CreateSnapshot(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/agentcore.controlplane.v1.ControlPlane/CreateSnapshot"}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(ControlPlaneServer).CreateSnapshot(ctx, req.(*CreateSnapshotRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func _ControlPlane_StreamEvents_Handler(srv any, stream grpc.ServerStream) error {
	m := new(StreamEventsRequest)
	if err := stream.RecvMsg(m); err != nil {
		return err
	}
	return srv.(ControlPlaneServer).StreamEvents(m, &controlPlaneStreamEventsServer{stream})
}

// ServiceDesc is the hand-assembled grpc.ServiceDesc for the control-plane
// facade (see this package's doc comment for why it is not generated).
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: "agentcore.controlplane.v1.ControlPlane",
	HandlerType: (*ControlPlaneServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "SendPrompt", Handler: _ControlPlane_SendPrompt_Handler},
		{MethodName: "Interrupt", Handler: _ControlPlane_Interrupt_Handler},
		{MethodName: "SendApprovalResult", Handler: _ControlPlane_SendApprovalResult_Handler},
		{MethodName: "CreateSnapshot", Handler: _ControlPlane_CreateSnapshot_Handler},
	},
	Streams: []grpc.StreamDesc{
		{StreamName: "StreamEvents", Handler: _ControlPlane_StreamEvents_Handler, ServerStreams: true},
	},
	Metadata: "controlplane.proto",
}

// RegisterControlPlaneServer registers srv on s, mirroring the
// protoc-gen-go-grpc generated function of the same name.
func RegisterControlPlaneServer(s *grpc.Server, srv ControlPlaneServer) {
	s.RegisterService(&ServiceDesc, srv)
}
