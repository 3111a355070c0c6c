package transport

import (
	"context"

	"google.golang.org/grpc"
)

const serviceName = "Cache.ContentTracker"

// TrackerService is the server-side interface the gRPC service dispatches
// to. cmd/trackerd registers a transport.Server, backed by a
// *disttracker.Tracker, as the implementation of this.
type TrackerService interface {
	UpdateLocations(context.Context, *UpdateLocationsRequest) (*UpdateLocationsResponse, error)
	GetLocations(context.Context, *GetLocationsRequest) (*GetLocationsResponse, error)
	FetchSnapshot(context.Context, *FetchSnapshotRequest) (*FetchSnapshotResponse, error)
	RegisterMachine(context.Context, *RegisterMachineRequest) (*RegisterMachineResponse, error)
}

func updateLocationsHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(UpdateLocationsRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(TrackerService).UpdateLocations(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: serviceName + "/UpdateLocations"}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(TrackerService).UpdateLocations(ctx, req.(*UpdateLocationsRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func getLocationsHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(GetLocationsRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(TrackerService).GetLocations(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: serviceName + "/GetLocations"}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(TrackerService).GetLocations(ctx, req.(*GetLocationsRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func fetchSnapshotHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(FetchSnapshotRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(TrackerService).FetchSnapshot(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: serviceName + "/FetchSnapshot"}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(TrackerService).FetchSnapshot(ctx, req.(*FetchSnapshotRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func registerMachineHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(RegisterMachineRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(TrackerService).RegisterMachine(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: serviceName + "/RegisterMachine"}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(TrackerService).RegisterMachine(ctx, req.(*RegisterMachineRequest))
	}
	return interceptor(ctx, in, info, handler)
}

// serviceDesc is the hand-written equivalent of what protoc-gen-go-grpc
// would generate from a .proto file; there is no .proto here, so the
// method table is built directly against the wire codec above.
var serviceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*TrackerService)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "UpdateLocations", Handler: updateLocationsHandler},
		{MethodName: "GetLocations", Handler: getLocationsHandler},
		{MethodName: "FetchSnapshot", Handler: fetchSnapshotHandler},
		{MethodName: "RegisterMachine", Handler: registerMachineHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "internal/transport/service.go",
}

// RegisterTrackerService attaches impl to server under the tracker
// service name.
func RegisterTrackerService(server *grpc.Server, impl TrackerService) {
	server.RegisterService(&serviceDesc, impl)
}

// Client is a thin wrapper over a *grpc.ClientConn that speaks the
// tracker service's four RPCs using the custom wire codec.
type Client struct {
	conn *grpc.ClientConn
}

// NewClient wraps an established connection. Every Client method passes
// CallOptions() on its own call, so the connection needs no
// codec-specific dial option.
func NewClient(conn *grpc.ClientConn) *Client {
	return &Client{conn: conn}
}

// CallOptions returns the grpc.CallOption needed on every invocation to
// select this package's wire codec.
func CallOptions() []grpc.CallOption {
	return []grpc.CallOption{grpc.CallContentSubtype(codecName)}
}

func (c *Client) UpdateLocations(ctx context.Context, req *UpdateLocationsRequest) (*UpdateLocationsResponse, error) {
	out := new(UpdateLocationsResponse)
	if err := c.conn.Invoke(ctx, "/"+serviceName+"/UpdateLocations", req, out, CallOptions()...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) GetLocations(ctx context.Context, req *GetLocationsRequest) (*GetLocationsResponse, error) {
	out := new(GetLocationsResponse)
	if err := c.conn.Invoke(ctx, "/"+serviceName+"/GetLocations", req, out, CallOptions()...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) FetchSnapshot(ctx context.Context, req *FetchSnapshotRequest) (*FetchSnapshotResponse, error) {
	out := new(FetchSnapshotResponse)
	if err := c.conn.Invoke(ctx, "/"+serviceName+"/FetchSnapshot", req, out, CallOptions()...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) RegisterMachine(ctx context.Context, req *RegisterMachineRequest) (*RegisterMachineResponse, error) {
	out := new(RegisterMachineResponse)
	if err := c.conn.Invoke(ctx, "/"+serviceName+"/RegisterMachine", req, out, CallOptions()...); err != nil {
		return nil, err
	}
	return out, nil
}
