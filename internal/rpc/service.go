// Package rpc declares the larder.v1.Larder gRPC service.
//
// Every message is a google.protobuf.Struct; the field layout is owned by
// internal/convert. The descriptor is written by hand in the shape
// protoc-gen-go-grpc emits, so both sides use the stock proto codec.
package rpc

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "larder.v1.Larder"

const (
	MethodRegister   = "/" + ServiceName + "/Register"
	MethodLogin      = "/" + ServiceName + "/Login"
	MethodListItems  = "/" + ServiceName + "/ListItems"
	MethodInsertItem = "/" + ServiceName + "/InsertItem"
	MethodUpdateItem = "/" + ServiceName + "/UpdateItem"
	MethodDeleteItem = "/" + ServiceName + "/DeleteItem"
	MethodWatchItems = "/" + ServiceName + "/WatchItems"
)

// LarderServer is the server API.
type LarderServer interface {
	Register(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Login(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ListItems(context.Context, *structpb.Struct) (*structpb.Struct, error)
	InsertItem(context.Context, *structpb.Struct) (*structpb.Struct, error)
	UpdateItem(context.Context, *structpb.Struct) (*structpb.Struct, error)
	DeleteItem(context.Context, *structpb.Struct) (*structpb.Struct, error)
	WatchItems(*structpb.Struct, grpc.ServerStreamingServer[structpb.Struct]) error
}

type unaryCall func(srv LarderServer, ctx context.Context, in *structpb.Struct) (*structpb.Struct, error)

func unaryHandler(fullMethod string, call unaryCall) grpc.MethodHandler {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(LarderServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv.(LarderServer), ctx, req.(*structpb.Struct))
		}
		return interceptor(ctx, in, info, handler)
	}
}

func watchItemsHandler(srv any, stream grpc.ServerStream) error {
	in := new(structpb.Struct)
	if err := stream.RecvMsg(in); err != nil {
		return err
	}
	return srv.(LarderServer).WatchItems(in, &grpc.GenericServerStream[structpb.Struct, structpb.Struct]{ServerStream: stream})
}

// ServiceDesc describes larder.v1.Larder for grpc.Server.RegisterService.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*LarderServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Register", Handler: unaryHandler(MethodRegister, LarderServer.Register)},
		{MethodName: "Login", Handler: unaryHandler(MethodLogin, LarderServer.Login)},
		{MethodName: "ListItems", Handler: unaryHandler(MethodListItems, LarderServer.ListItems)},
		{MethodName: "InsertItem", Handler: unaryHandler(MethodInsertItem, LarderServer.InsertItem)},
		{MethodName: "UpdateItem", Handler: unaryHandler(MethodUpdateItem, LarderServer.UpdateItem)},
		{MethodName: "DeleteItem", Handler: unaryHandler(MethodDeleteItem, LarderServer.DeleteItem)},
	},
	Streams: []grpc.StreamDesc{
		{StreamName: "WatchItems", Handler: watchItemsHandler, ServerStreams: true},
	},
	Metadata: "larder/v1/larder.proto",
}

// RegisterLarderServer registers srv on s.
func RegisterLarderServer(s grpc.ServiceRegistrar, srv LarderServer) {
	s.RegisterService(&ServiceDesc, srv)
}

// LarderClient is the client API.
type LarderClient struct {
	cc grpc.ClientConnInterface
}

// NewLarderClient wraps a connection.
func NewLarderClient(cc grpc.ClientConnInterface) *LarderClient {
	return &LarderClient{cc: cc}
}

func (c *LarderClient) invoke(ctx context.Context, method string, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, method, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *LarderClient) Register(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, MethodRegister, in, opts...)
}

func (c *LarderClient) Login(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, MethodLogin, in, opts...)
}

func (c *LarderClient) ListItems(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, MethodListItems, in, opts...)
}

func (c *LarderClient) InsertItem(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, MethodInsertItem, in, opts...)
}

func (c *LarderClient) UpdateItem(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, MethodUpdateItem, in, opts...)
}

func (c *LarderClient) DeleteItem(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, MethodDeleteItem, in, opts...)
}

// WatchItems opens the server stream of the caller's item changes.
func (c *LarderClient) WatchItems(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (grpc.ServerStreamingClient[structpb.Struct], error) {
	stream, err := c.cc.NewStream(ctx, &ServiceDesc.Streams[0], MethodWatchItems, opts...)
	if err != nil {
		return nil, err
	}
	x := &grpc.GenericClientStream[structpb.Struct, structpb.Struct]{ClientStream: stream}
	if err := x.ClientStream.SendMsg(in); err != nil {
		return nil, err
	}
	if err := x.ClientStream.CloseSend(); err != nil {
		return nil, err
	}
	return x, nil
}
