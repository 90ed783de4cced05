package peerlink

import (
	"context"

	"google.golang.org/grpc"
)

const (
	serviceName = "meshroute.peerlink.v1.FilterSync"
	applyMethod = "/" + serviceName + "/Apply"
	pingMethod  = "/" + serviceName + "/Ping"
)

// filterSyncServer is the server side of the FilterSync service.
type filterSyncServer interface {
	apply(ctx context.Context, in *envelope) (*ack, error)
	ping(ctx context.Context, in *heartbeat) (*heartbeat, error)
}

var filterSyncServiceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*filterSyncServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Apply", Handler: applyHandler},
		{MethodName: "Ping", Handler: pingHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "meshroute/peerlink/v1/filtersync.proto",
}

func applyHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(envelope)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(filterSyncServer).apply(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: applyMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(filterSyncServer).apply(ctx, req.(*envelope))
	}
	return interceptor(ctx, in, info, handler)
}

func pingHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(heartbeat)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(filterSyncServer).ping(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: pingMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(filterSyncServer).ping(ctx, req.(*heartbeat))
	}
	return interceptor(ctx, in, info, handler)
}
