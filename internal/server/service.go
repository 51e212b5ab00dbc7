package server

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// ServiceName is the fully qualified gRPC service name
const ServiceName = "eavstore.v1.Replication"

// Full method names
const (
	ApplyPatchMethod  = "/" + ServiceName + "/ApplyPatch"
	ExportPatchMethod = "/" + ServiceName + "/ExportPatch"
	PublishMethod     = "/" + ServiceName + "/Publish"
	SyncMethod        = "/" + ServiceName + "/Sync"
)

// ReplicationServer is the server side of the replication service. Payloads
// travel as protobuf well-known wrappers around the binary patch and diff
// encodings.
type ReplicationServer interface {
	// ApplyPatch decodes a serialized patch, applies it and returns the
	// number of instructions applied
	ApplyPatch(context.Context, *wrapperspb.BytesValue) (*wrapperspb.UInt32Value, error)

	// ExportPatch returns the database's state as a serialized patch
	ExportPatch(context.Context, *emptypb.Empty) (*wrapperspb.BytesValue, error)

	// Publish applies a serialized StoreDiff to the server's stores
	Publish(context.Context, *wrapperspb.BytesValue) (*emptypb.Empty, error)

	// Sync takes the caller's stores as a StoreDiff from empty and returns
	// the StoreDiff that brings them to the server's state
	Sync(context.Context, *wrapperspb.BytesValue) (*wrapperspb.BytesValue, error)
}

// ReplicationServiceDesc describes the service for grpc.Server
var ReplicationServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*ReplicationServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "ApplyPatch",
			Handler:    unaryHandler(ApplyPatchMethod, ReplicationServer.ApplyPatch),
		},
		{
			MethodName: "ExportPatch",
			Handler:    unaryHandler(ExportPatchMethod, ReplicationServer.ExportPatch),
		},
		{
			MethodName: "Publish",
			Handler:    unaryHandler(PublishMethod, ReplicationServer.Publish),
		},
		{
			MethodName: "Sync",
			Handler:    unaryHandler(SyncMethod, ReplicationServer.Sync),
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "eavstore/v1/replication.proto",
}

// RegisterReplicationServer registers srv with s
func RegisterReplicationServer(s grpc.ServiceRegistrar, srv ReplicationServer) {
	s.RegisterService(&ReplicationServiceDesc, srv)
}

// unaryHandler adapts a typed method to grpc.MethodHandler, routing through
// the server's interceptor when one is installed
func unaryHandler[Req, Resp any](
	fullMethod string,
	call func(ReplicationServer, context.Context, *Req) (*Resp, error),
) grpc.MethodHandler {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(Req)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(ReplicationServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{
			Server:     srv,
			FullMethod: fullMethod,
		}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv.(ReplicationServer), ctx, req.(*Req))
		}
		return interceptor(ctx, in, info, handler)
	}
}
