package rpcserver

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
)

const ServiceName = "codet.WatchService"

const (
	StartMethod       = "/" + ServiceName + "/Start"
	StopMethod        = "/" + ServiceName + "/Stop"
	StatusMethod      = "/" + ServiceName + "/Status"
	WatchEventsMethod = "/" + ServiceName + "/WatchEvents"
)

// WatchServiceServer is the server API for codet.WatchService. Every payload is a well known type,
// so no generated messages are needed.
type WatchServiceServer interface {
	Start(context.Context, *emptypb.Empty) (*structpb.Struct, error)
	Stop(context.Context, *emptypb.Empty) (*structpb.Struct, error)
	Status(context.Context, *emptypb.Empty) (*structpb.Struct, error)
	WatchEvents(*emptypb.Empty, WatchService_WatchEventsServer) error
}

type WatchService_WatchEventsServer interface {
	Send(*structpb.Struct) error
	grpc.ServerStream
}

type watchEventsServer struct {
	grpc.ServerStream
}

func (x *watchEventsServer) Send(m *structpb.Struct) error {
	return x.ServerStream.SendMsg(m)
}

func RegisterWatchServiceServer(s grpc.ServiceRegistrar, srv WatchServiceServer) {
	s.RegisterService(&ServiceDesc, srv)
}

func unaryHandler(method string, call func(WatchServiceServer, context.Context, *emptypb.Empty) (*structpb.Struct, error)) func(any, context.Context, func(any) error, grpc.UnaryServerInterceptor) (any, error) {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(emptypb.Empty)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(WatchServiceServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: method}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv.(WatchServiceServer), ctx, req.(*emptypb.Empty))
		}
		return interceptor(ctx, in, info, handler)
	}
}

func watchEventsHandler(srv any, stream grpc.ServerStream) error {
	in := new(emptypb.Empty)
	if err := stream.RecvMsg(in); err != nil {
		return err
	}
	return srv.(WatchServiceServer).WatchEvents(in, &watchEventsServer{stream})
}

var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*WatchServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Start", Handler: unaryHandler(StartMethod, WatchServiceServer.Start)},
		{MethodName: "Stop", Handler: unaryHandler(StopMethod, WatchServiceServer.Stop)},
		{MethodName: "Status", Handler: unaryHandler(StatusMethod, WatchServiceServer.Status)},
	},
	Streams: []grpc.StreamDesc{
		{StreamName: "WatchEvents", Handler: watchEventsHandler, ServerStreams: true},
	},
	Metadata: "codet/watch.proto",
}

// Client is the client API for codet.WatchService.
type Client struct {
	cc grpc.ClientConnInterface
}

func NewClient(cc grpc.ClientConnInterface) *Client {
	return &Client{cc: cc}
}

func (c *Client) invoke(ctx context.Context, method string, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, method, &emptypb.Empty{}, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) Start(ctx context.Context, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, StartMethod, opts...)
}

func (c *Client) Stop(ctx context.Context, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, StopMethod, opts...)
}

func (c *Client) Status(ctx context.Context, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, StatusMethod, opts...)
}

// EventStream receives entries from WatchEvents.
type EventStream struct {
	grpc.ClientStream
}

func (x *EventStream) Recv() (*structpb.Struct, error) {
	m := new(structpb.Struct)
	if err := x.ClientStream.RecvMsg(m); err != nil {
		return nil, err
	}
	return m, nil
}

func (c *Client) WatchEvents(ctx context.Context, opts ...grpc.CallOption) (*EventStream, error) {
	stream, err := c.cc.NewStream(ctx, &ServiceDesc.Streams[0], WatchEventsMethod, opts...)
	if err != nil {
		return nil, err
	}
	x := &EventStream{stream}
	if err := x.ClientStream.SendMsg(&emptypb.Empty{}); err != nil {
		return nil, err
	}
	if err := x.ClientStream.CloseSend(); err != nil {
		return nil, err
	}
	return x, nil
}
