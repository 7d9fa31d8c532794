package transport

import (
	"context"

	"google.golang.org/grpc"
)

const (
	topologyServiceName = "pairdb.bulkload.v1.Topology"
	loaderServiceName   = "pairdb.bulkload.v1.Loader"

	describeRingMethod = "/" + topologyServiceName + "/DescribeRing"
	streamMethod       = "/" + loaderServiceName + "/Stream"
)

// TopologyServer serves the ring description to loaders
type TopologyServer interface {
	DescribeRing(context.Context, *DescribeRingRequest) (*DescribeRingResponse, error)
}

// LoaderServer receives range units
type LoaderServer interface {
	Stream(LoaderStreamServer) error
}

// LoaderStreamServer is the server side of a Stream call
type LoaderStreamServer interface {
	Recv() (*StreamFrame, error)
	SendAndClose(*StreamAck) error
	grpc.ServerStream
}

// RegisterTopologyServer registers the topology service on a gRPC server
func RegisterTopologyServer(s grpc.ServiceRegistrar, srv TopologyServer) {
	s.RegisterService(&topologyServiceDesc, srv)
}

// RegisterLoaderServer registers the loader service on a gRPC server
func RegisterLoaderServer(s grpc.ServiceRegistrar, srv LoaderServer) {
	s.RegisterService(&loaderServiceDesc, srv)
}

var topologyServiceDesc = grpc.ServiceDesc{
	ServiceName: topologyServiceName,
	HandlerType: (*TopologyServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "DescribeRing",
			Handler:    describeRingHandler,
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "pairdb/bulkload/v1/bulkload",
}

var loaderStreamDesc = grpc.StreamDesc{
	StreamName:    "Stream",
	Handler:       streamHandler,
	ClientStreams: true,
}

var loaderServiceDesc = grpc.ServiceDesc{
	ServiceName: loaderServiceName,
	HandlerType: (*LoaderServer)(nil),
	Methods:     []grpc.MethodDesc{},
	Streams:     []grpc.StreamDesc{loaderStreamDesc},
	Metadata:    "pairdb/bulkload/v1/bulkload",
}

func describeRingHandler(
	srv interface{},
	ctx context.Context,
	dec func(interface{}) error,
	interceptor grpc.UnaryServerInterceptor,
) (interface{}, error) {
	in := new(DescribeRingRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(TopologyServer).DescribeRing(ctx, in)
	}
	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: describeRingMethod,
	}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(TopologyServer).DescribeRing(ctx, req.(*DescribeRingRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func streamHandler(srv interface{}, stream grpc.ServerStream) error {
	return srv.(LoaderServer).Stream(&loaderStreamServer{stream})
}

type loaderStreamServer struct {
	grpc.ServerStream
}

func (x *loaderStreamServer) Recv() (*StreamFrame, error) {
	m := new(StreamFrame)
	if err := x.ServerStream.RecvMsg(m); err != nil {
		return nil, err
	}
	return m, nil
}

func (x *loaderStreamServer) SendAndClose(m *StreamAck) error {
	return x.ServerStream.SendMsg(m)
}
