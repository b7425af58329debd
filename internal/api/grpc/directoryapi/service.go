// Package directoryapi defines the staffsync.Directory gRPC service: its
// messages, service descriptor and client.
package directoryapi

import (
	"context"

	"google.golang.org/grpc"
)

const ServiceName = "staffsync.Directory"

const (
	AddMethod       = "/staffsync.Directory/Add"
	RemoveMethod    = "/staffsync.Directory/Remove"
	ClearMethod     = "/staffsync.Directory/Clear"
	ListMethod      = "/staffsync.Directory/List"
	MarkSeenMethod  = "/staffsync.Directory/MarkSeen"
	ReconcileMethod = "/staffsync.Directory/Reconcile"
	ObserveMethod   = "/staffsync.Directory/Observe"
)

// DirectoryServer is the server API of the Directory service.
type DirectoryServer interface {
	Add(context.Context, *AddRequest) (*AddResponse, error)
	Remove(context.Context, *RemoveRequest) (*Empty, error)
	Clear(context.Context, *Empty) (*Empty, error)
	List(context.Context, *ListRequest) (*ListResponse, error)
	MarkSeen(context.Context, *MarkSeenRequest) (*MarkSeenResponse, error)
	Reconcile(context.Context, *Empty) (*ReconcileResponse, error)
	Observe(*ObserveRequest, ObserveServer) error
}

// ObserveServer is the server side of an Observe stream.
type ObserveServer interface {
	Send(*Snapshot) error
	grpc.ServerStream
}

type observeServer struct {
	grpc.ServerStream
}

func (s *observeServer) Send(m *Snapshot) error {
	return s.ServerStream.SendMsg(m)
}

// RegisterDirectoryServer registers srv on s.
func RegisterDirectoryServer(s grpc.ServiceRegistrar, srv DirectoryServer) {
	s.RegisterService(&ServiceDesc, srv)
}

func unary[Req any, Resp any](method string, call func(DirectoryServer, context.Context, *Req) (*Resp, error)) grpc.MethodHandler {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(Req)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(DirectoryServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: method}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv.(DirectoryServer), ctx, req.(*Req))
		}
		return interceptor(ctx, in, info, handler)
	}
}

func observeHandler(srv any, stream grpc.ServerStream) error {
	in := new(ObserveRequest)
	if err := stream.RecvMsg(in); err != nil {
		return err
	}
	return srv.(DirectoryServer).Observe(in, &observeServer{stream})
}

// ServiceDesc describes the Directory service.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*DirectoryServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Add", Handler: unary(AddMethod, DirectoryServer.Add)},
		{MethodName: "Remove", Handler: unary(RemoveMethod, DirectoryServer.Remove)},
		{MethodName: "Clear", Handler: unary(ClearMethod, DirectoryServer.Clear)},
		{MethodName: "List", Handler: unary(ListMethod, DirectoryServer.List)},
		{MethodName: "MarkSeen", Handler: unary(MarkSeenMethod, DirectoryServer.MarkSeen)},
		{MethodName: "Reconcile", Handler: unary(ReconcileMethod, DirectoryServer.Reconcile)},
	},
	Streams: []grpc.StreamDesc{
		{StreamName: "Observe", Handler: observeHandler, ServerStreams: true},
	},
	Metadata: "staffsync/directory",
}

// DirectoryClient is the client API of the Directory service.
type DirectoryClient interface {
	Add(ctx context.Context, in *AddRequest, opts ...grpc.CallOption) (*AddResponse, error)
	Remove(ctx context.Context, in *RemoveRequest, opts ...grpc.CallOption) (*Empty, error)
	Clear(ctx context.Context, in *Empty, opts ...grpc.CallOption) (*Empty, error)
	List(ctx context.Context, in *ListRequest, opts ...grpc.CallOption) (*ListResponse, error)
	MarkSeen(ctx context.Context, in *MarkSeenRequest, opts ...grpc.CallOption) (*MarkSeenResponse, error)
	Reconcile(ctx context.Context, in *Empty, opts ...grpc.CallOption) (*ReconcileResponse, error)
	Observe(ctx context.Context, in *ObserveRequest, opts ...grpc.CallOption) (ObserveClient, error)
}

// ObserveClient is the client side of an Observe stream.
type ObserveClient interface {
	Recv() (*Snapshot, error)
	grpc.ClientStream
}

type directoryClient struct {
	cc grpc.ClientConnInterface
}

// NewDirectoryClient creates a client on cc. Every call is sent with the
// JSON content-subtype.
func NewDirectoryClient(cc grpc.ClientConnInterface) DirectoryClient {
	return &directoryClient{cc: cc}
}

func withCodec(opts []grpc.CallOption) []grpc.CallOption {
	return append([]grpc.CallOption{grpc.CallContentSubtype(CodecName)}, opts...)
}

func invoke[Resp any](ctx context.Context, cc grpc.ClientConnInterface, method string, in any, opts []grpc.CallOption) (*Resp, error) {
	out := new(Resp)
	if err := cc.Invoke(ctx, method, in, out, withCodec(opts)...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *directoryClient) Add(ctx context.Context, in *AddRequest, opts ...grpc.CallOption) (*AddResponse, error) {
	return invoke[AddResponse](ctx, c.cc, AddMethod, in, opts)
}

func (c *directoryClient) Remove(ctx context.Context, in *RemoveRequest, opts ...grpc.CallOption) (*Empty, error) {
	return invoke[Empty](ctx, c.cc, RemoveMethod, in, opts)
}

func (c *directoryClient) Clear(ctx context.Context, in *Empty, opts ...grpc.CallOption) (*Empty, error) {
	return invoke[Empty](ctx, c.cc, ClearMethod, in, opts)
}

func (c *directoryClient) List(ctx context.Context, in *ListRequest, opts ...grpc.CallOption) (*ListResponse, error) {
	return invoke[ListResponse](ctx, c.cc, ListMethod, in, opts)
}

func (c *directoryClient) MarkSeen(ctx context.Context, in *MarkSeenRequest, opts ...grpc.CallOption) (*MarkSeenResponse, error) {
	return invoke[MarkSeenResponse](ctx, c.cc, MarkSeenMethod, in, opts)
}

func (c *directoryClient) Reconcile(ctx context.Context, in *Empty, opts ...grpc.CallOption) (*ReconcileResponse, error) {
	return invoke[ReconcileResponse](ctx, c.cc, ReconcileMethod, in, opts)
}

func (c *directoryClient) Observe(ctx context.Context, in *ObserveRequest, opts ...grpc.CallOption) (ObserveClient, error) {
	stream, err := c.cc.NewStream(ctx, &ServiceDesc.Streams[0], ObserveMethod, withCodec(opts)...)
	if err != nil {
		return nil, err
	}
	x := &observeClient{stream}
	if err := x.ClientStream.SendMsg(in); err != nil {
		return nil, err
	}
	if err := x.ClientStream.CloseSend(); err != nil {
		return nil, err
	}
	return x, nil
}

type observeClient struct {
	grpc.ClientStream
}

func (x *observeClient) Recv() (*Snapshot, error) {
	m := new(Snapshot)
	if err := x.ClientStream.RecvMsg(m); err != nil {
		return nil, err
	}
	return m, nil
}
