package rpc

import (
	"context"

	"google.golang.org/grpc"
)

// serviceName matches the fully-qualified path grpc uses for routing; there
// is no .proto file, but the same dotted-path convention applies.
const serviceName = "pvcd.rpc.ClusterControl"

// Handler is what a Server dispatches incoming RPCs to. Server (server.go)
// implements it against the local store and the daemon's coordinator/vm
// notifier hooks.
type Handler interface {
	Join(ctx context.Context, req *JoinRequest) (*JoinReply, error)
	NotifyPrimary(ctx context.Context, req *NotifyPrimaryRequest) (*NotifyPrimaryReply, error)
	NotifyMigrate(ctx context.Context, req *NotifyMigrateRequest) (*NotifyMigrateReply, error)
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*Handler)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Join", Handler: joinHandler},
		{MethodName: "NotifyPrimary", Handler: notifyPrimaryHandler},
		{MethodName: "NotifyMigrate", Handler: notifyMigrateHandler},
	},
	Metadata: "pkg/rpc",
}

func joinHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	req := new(JoinRequest)
	if err := dec(req); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(Handler).Join(ctx, req)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + serviceName + "/Join"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(Handler).Join(ctx, req.(*JoinRequest))
	}
	return interceptor(ctx, req, info, handler)
}

func notifyPrimaryHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	req := new(NotifyPrimaryRequest)
	if err := dec(req); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(Handler).NotifyPrimary(ctx, req)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + serviceName + "/NotifyPrimary"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(Handler).NotifyPrimary(ctx, req.(*NotifyPrimaryRequest))
	}
	return interceptor(ctx, req, info, handler)
}

func notifyMigrateHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	req := new(NotifyMigrateRequest)
	if err := dec(req); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(Handler).NotifyMigrate(ctx, req)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + serviceName + "/NotifyMigrate"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(Handler).NotifyMigrate(ctx, req.(*NotifyMigrateRequest))
	}
	return interceptor(ctx, req, info, handler)
}
