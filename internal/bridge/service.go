// Package bridge exposes simulations to remote hosts over a bidirectional
// gRPC stream. Each stream owns one Simulation for its lifetime; host
// messages flow in and simulation messages flow out as msgpack envelopes.
package bridge

import (
	"context"

	"google.golang.org/grpc"

	"github.com/signalsfoundry/idle-engine/internal/protocol"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "idlesim.bridge.v1.HostBridge"

// ConnectMethod is the full method name of the session stream.
const ConnectMethod = "/" + ServiceName + "/Connect"

// HostBridgeServer is implemented by Server.
type HostBridgeServer interface {
	Connect(grpc.BidiStreamingServer[protocol.Envelope, protocol.Envelope]) error
}

// ServiceDesc describes the HostBridge service for grpc.Server.RegisterService.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*HostBridgeServer)(nil),
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "Connect",
			Handler:       connectHandler,
			ServerStreams: true,
			ClientStreams: true,
		},
	},
	Metadata: "idlesim/bridge/v1/bridge",
}

func connectHandler(srv interface{}, stream grpc.ServerStream) error {
	return srv.(HostBridgeServer).Connect(&grpc.GenericServerStream[protocol.Envelope, protocol.Envelope]{ServerStream: stream})
}

// RegisterHostBridgeServer registers srv on s.
func RegisterHostBridgeServer(s grpc.ServiceRegistrar, srv HostBridgeServer) {
	s.RegisterService(&ServiceDesc, srv)
}

// HostBridgeClient opens session streams against a bridge server.
type HostBridgeClient struct {
	cc grpc.ClientConnInterface
}

// NewHostBridgeClient wraps cc.
func NewHostBridgeClient(cc grpc.ClientConnInterface) *HostBridgeClient {
	return &HostBridgeClient{cc: cc}
}

// Connect opens a session. The msgpack codec is selected automatically.
func (c *HostBridgeClient) Connect(ctx context.Context, opts ...grpc.CallOption) (grpc.BidiStreamingClient[protocol.Envelope, protocol.Envelope], error) {
	opts = append([]grpc.CallOption{grpc.CallContentSubtype(CodecName)}, opts...)
	stream, err := c.cc.NewStream(ctx, &ServiceDesc.Streams[0], ConnectMethod, opts...)
	if err != nil {
		return nil, err
	}
	return &grpc.GenericClientStream[protocol.Envelope, protocol.Envelope]{ClientStream: stream}, nil
}
