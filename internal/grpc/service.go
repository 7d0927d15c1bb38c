package grpc

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

const kpiServiceName = "badging.v1.KpiService"

// KpiServiceServer is the server API of badging.v1.KpiService. Requests and
// responses travel as google.protobuf.Struct.
type KpiServiceServer interface {
	KpiForRange(context.Context, *structpb.Struct) (*structpb.Struct, error)
	KpiForWeek(context.Context, *structpb.Struct) (*structpb.Struct, error)
	KpiForMonth(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

func RegisterKpiServiceServer(s grpc.ServiceRegistrar, srv KpiServiceServer) {
	s.RegisterService(&kpiServiceDesc, srv)
}

func kpiHandler(method string, call func(KpiServiceServer, context.Context, *structpb.Struct) (*structpb.Struct, error)) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: method,
		Handler: func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
			in := new(structpb.Struct)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(KpiServiceServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + kpiServiceName + "/" + method}
			handler := func(ctx context.Context, req interface{}) (interface{}, error) {
				return call(srv.(KpiServiceServer), ctx, req.(*structpb.Struct))
			}
			return interceptor(ctx, in, info, handler)
		},
	}
}

var kpiServiceDesc = grpc.ServiceDesc{
	ServiceName: kpiServiceName,
	HandlerType: (*KpiServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		kpiHandler("KpiForRange", KpiServiceServer.KpiForRange),
		kpiHandler("KpiForWeek", KpiServiceServer.KpiForWeek),
		kpiHandler("KpiForMonth", KpiServiceServer.KpiForMonth),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "badging/v1/kpi.proto",
}

// KpiServiceClient calls badging.v1.KpiService.
type KpiServiceClient struct {
	cc grpc.ClientConnInterface
}

func NewKpiServiceClient(cc grpc.ClientConnInterface) *KpiServiceClient {
	return &KpiServiceClient{cc: cc}
}

func (c *KpiServiceClient) KpiForRange(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, "KpiForRange", in, opts...)
}

func (c *KpiServiceClient) KpiForWeek(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, "KpiForWeek", in, opts...)
}

func (c *KpiServiceClient) KpiForMonth(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, "KpiForMonth", in, opts...)
}

func (c *KpiServiceClient) invoke(ctx context.Context, method string, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, "/"+kpiServiceName+"/"+method, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}
