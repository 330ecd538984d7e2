package pb

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
)

// Service and method names of the control API.
const (
	LauncherServiceName        = "bundlelauncher.v1.LauncherService"
	LauncherServiceStatusName  = "/" + LauncherServiceName + "/Status"
	LauncherServiceHaltName    = "/" + LauncherServiceName + "/Halt"
	launcherServiceStatusShort = "Status"
	launcherServiceHaltShort   = "Halt"
)

// LauncherServiceServer is the server API for the launcher control service.
type LauncherServiceServer interface {
	// Status returns the supervisor status.
	Status(ctx context.Context, req *emptypb.Empty) (*structpb.Struct, error)
	// Halt stops the supervised application; the request carries the requesting actor.
	Halt(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
}

// LauncherServiceClient is the client API for the launcher control service.
type LauncherServiceClient interface {
	Status(ctx context.Context, in *emptypb.Empty, opts ...grpc.CallOption) (*structpb.Struct, error)
	Halt(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error)
}

type launcherServiceClient struct {
	cc grpc.ClientConnInterface
}

// NewLauncherServiceClient binds a client to a connection.
func NewLauncherServiceClient(cc grpc.ClientConnInterface) LauncherServiceClient {
	return &launcherServiceClient{cc: cc}
}

func (c *launcherServiceClient) Status(
	ctx context.Context,
	in *emptypb.Empty,
	opts ...grpc.CallOption,
) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, LauncherServiceStatusName, in, out, opts...); err != nil {
		return nil, err
	}

	return out, nil
}

func (c *launcherServiceClient) Halt(
	ctx context.Context,
	in *structpb.Struct,
	opts ...grpc.CallOption,
) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, LauncherServiceHaltName, in, out, opts...); err != nil {
		return nil, err
	}

	return out, nil
}

// RegisterLauncherServiceServer registers srv on the gRPC service registrar.
func RegisterLauncherServiceServer(s grpc.ServiceRegistrar, srv LauncherServiceServer) {
	s.RegisterService(&LauncherServiceDesc, srv)
}

func launcherServiceStatusHandler(
	srv any,
	ctx context.Context, //nolint:revive // Signature fixed by grpc.MethodHandler.
	dec func(any) error,
	interceptor grpc.UnaryServerInterceptor,
) (any, error) {
	in := new(emptypb.Empty)
	if err := dec(in); err != nil {
		return nil, err
	}

	if interceptor == nil {
		return srv.(LauncherServiceServer).Status(ctx, in)
	}

	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: LauncherServiceStatusName,
	}

	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(LauncherServiceServer).Status(ctx, req.(*emptypb.Empty))
	}

	return interceptor(ctx, in, info, handler)
}

func launcherServiceHaltHandler(
	srv any,
	ctx context.Context, //nolint:revive // Signature fixed by grpc.MethodHandler.
	dec func(any) error,
	interceptor grpc.UnaryServerInterceptor,
) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}

	if interceptor == nil {
		return srv.(LauncherServiceServer).Halt(ctx, in)
	}

	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: LauncherServiceHaltName,
	}

	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(LauncherServiceServer).Halt(ctx, req.(*structpb.Struct))
	}

	return interceptor(ctx, in, info, handler)
}

// LauncherServiceDesc describes the control service for grpc.ServiceRegistrar.
//
//nolint:gochecknoglobals // grpc.RegisterService takes a descriptor pointer.
var LauncherServiceDesc = grpc.ServiceDesc{
	ServiceName: LauncherServiceName,
	HandlerType: (*LauncherServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: launcherServiceStatusShort,
			Handler:    launcherServiceStatusHandler,
		},
		{
			MethodName: launcherServiceHaltShort,
			Handler:    launcherServiceHaltHandler,
		},
	},
	Streams: []grpc.StreamDesc{},
}
