package bridge

import (
	"context"
	"errors"
	"io"
	"net"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"

	"github.com/signalsfoundry/idle-engine/internal/config"
	"github.com/signalsfoundry/idle-engine/internal/logging"
	"github.com/signalsfoundry/idle-engine/internal/observability"
	"github.com/signalsfoundry/idle-engine/internal/protocol"
	"github.com/signalsfoundry/idle-engine/internal/sim"
	"github.com/signalsfoundry/idle-engine/internal/validation"
)

type harness struct {
	client    *HostBridgeClient
	server    *Server
	collector *observability.SimCollector
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	collector, err := observability.NewSimCollector(prometheus.NewRegistry())
	if err != nil {
		t.Fatalf("NewSimCollector() error = %v", err)
	}
	srv := NewServer(config.Defaults(), nil, logging.Noop(), WithMetrics(collector))
	gs := NewGRPCServer(srv, logging.Noop(), collector)

	lis := bufconn.Listen(1 << 20)
	go func() { _ = gs.Serve(lis) }()
	t.Cleanup(gs.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		t.Fatalf("grpc.NewClient() error = %v", err)
	}
	t.Cleanup(func() { conn.Close() })

	return &harness{client: NewHostBridgeClient(conn), server: srv, collector: collector}
}

func send(t *testing.T, stream grpc.BidiStreamingClient[protocol.Envelope, protocol.Envelope], msg protocol.HostMessage) {
	t.Helper()
	env, err := protocol.Wrap(msg)
	if err != nil {
		t.Fatalf("Wrap(%s) error = %v", msg.Kind(), err)
	}
	if err := stream.Send(&env); err != nil {
		t.Fatalf("Send(%s) error = %v", msg.Kind(), err)
	}
}

// awaitKind receives until a message of kind want arrives, skipping others.
func awaitKind(t *testing.T, stream grpc.BidiStreamingClient[protocol.Envelope, protocol.Envelope], want protocol.Kind) protocol.SimMessage {
	t.Helper()
	for {
		env, err := stream.Recv()
		if err != nil {
			t.Fatalf("Recv() waiting for %s error = %v", want, err)
		}
		if env.Kind != want {
			continue
		}
		msg, err := protocol.DecodeSim(*env)
		if err != nil {
			t.Fatalf("DecodeSim(%s) error = %v", env.Kind, err)
		}
		return msg
	}
}

func TestConnectBootStartTicks(t *testing.T) {
	h := newHarness(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	stream, err := h.client.Connect(ctx)
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}

	send(t, stream, protocol.Boot{Seed: 123, Build: sim.Build})
	awaitKind(t, stream, protocol.KindReady)

	send(t, stream, protocol.Start{Land: "meadow", Ward: "meadow-1"})
	tick := awaitKind(t, stream, protocol.KindTick).(protocol.Tick)
	if tick.HeroHP <= 0 {
		t.Fatalf("Tick.HeroHP = %v, want > 0", tick.HeroHP)
	}

	if err := stream.CloseSend(); err != nil {
		t.Fatalf("CloseSend() error = %v", err)
	}
	for {
		if _, err := stream.Recv(); err != nil {
			if !errors.Is(err, io.EOF) {
				t.Fatalf("Recv() after CloseSend error = %v, want io.EOF", err)
			}
			break
		}
	}
}

func TestConnectBuildMismatchHalts(t *testing.T) {
	h := newHarness(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	stream, err := h.client.Connect(ctx)
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	send(t, stream, protocol.Boot{Seed: 1, Build: "not-" + sim.Build})

	fatal := awaitKind(t, stream, protocol.KindFatal).(protocol.Fatal)
	if fatal.Reason == "" {
		t.Fatal("Fatal.Reason is empty")
	}

	var recvErr error
	for recvErr == nil {
		_, recvErr = stream.Recv()
	}
	if code := status.Code(recvErr); code != codes.Aborted {
		t.Fatalf("stream status = %v, want %v", code, codes.Aborted)
	}
	if got := testutil.ToFloat64(h.collector.Streams.WithLabelValues("Connect", "Aborted")); got != 1 {
		t.Fatalf("bridge_streams_total{Connect,Aborted} = %v, want 1", got)
	}
	if got := testutil.ToFloat64(h.collector.Messages.WithLabelValues("boot", "rejected")); got != 1 {
		t.Fatalf("sim_messages_total{boot,rejected} = %v, want 1", got)
	}
}

func TestConnectSkipsUndecodableEnvelopes(t *testing.T) {
	h := newHarness(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	stream, err := h.client.Connect(ctx)
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	if err := stream.Send(&protocol.Envelope{Kind: "teleport"}); err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if err := stream.Send(&protocol.Envelope{Kind: protocol.KindStart, Payload: []byte{0xc1}}); err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	send(t, stream, protocol.Boot{Seed: 9, Build: sim.Build})
	awaitKind(t, stream, protocol.KindReady)

	if got := testutil.ToFloat64(h.collector.Messages.WithLabelValues("unknown", "malformed")); got != 1 {
		t.Fatalf("sim_messages_total{unknown,malformed} = %v, want 1", got)
	}
	if got := testutil.ToFloat64(h.collector.Messages.WithLabelValues("start", "malformed")); got != 1 {
		t.Fatalf("sim_messages_total{start,malformed} = %v, want 1", got)
	}
	if got := h.server.Sessions(); got != 1 {
		t.Fatalf("Sessions() = %d, want 1", got)
	}
}

func TestSessionsAreIsolated(t *testing.T) {
	h := newHarness(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	halted, err := h.client.Connect(ctx)
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	healthy, err := h.client.Connect(ctx)
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}

	send(t, halted, protocol.Boot{Seed: 1, Build: "other"})
	awaitKind(t, halted, protocol.KindFatal)

	send(t, healthy, protocol.Boot{Seed: 1, Build: sim.Build})
	awaitKind(t, healthy, protocol.KindReady)
}

func TestRequestIDStreamServerInterceptor(t *testing.T) {
	ctx := metadata.NewIncomingContext(context.Background(), metadata.Pairs(requestIDMetadataKey, "req-42"))
	ss := &fakeStream{ctx: ctx}
	info := &grpc.StreamServerInfo{FullMethod: ConnectMethod}

	var gotID string
	var gotLogger logging.Logger
	err := RequestIDStreamServerInterceptor(logging.Noop())(nil, ss, info, func(_ interface{}, stream grpc.ServerStream) error {
		gotID = logging.RequestIDFromContext(stream.Context())
		gotLogger = logging.LoggerFromContext(stream.Context())
		return nil
	})
	if err != nil {
		t.Fatalf("interceptor error = %v", err)
	}
	if gotID != "req-42" {
		t.Fatalf("request id = %q, want %q", gotID, "req-42")
	}
	if gotLogger == nil {
		t.Fatal("logger not attached to stream context")
	}
}

func TestTracingStreamServerInterceptorPropagatesError(t *testing.T) {
	ss := &fakeStream{ctx: context.Background()}
	info := &grpc.StreamServerInfo{FullMethod: ConnectMethod}
	want := status.Error(codes.Aborted, "halted")

	err := TracingStreamServerInterceptor()(nil, ss, info, func(interface{}, grpc.ServerStream) error {
		return want
	})
	if !errors.Is(err, want) {
		t.Fatalf("interceptor error = %v, want %v", err, want)
	}
}

func TestToStatusError(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		err     error
		code    codes.Code
		wantNil bool
	}{
		{name: "nil", err: nil, wantNil: true},
		{name: "status passthrough", err: status.Error(codes.PermissionDenied, "denied"), code: codes.PermissionDenied},
		{name: "unknown kind", err: protocol.ErrUnknownKind, code: codes.InvalidArgument},
		{name: "invalid start", err: validation.ErrInvalidStart, code: codes.InvalidArgument},
		{name: "cooldown", err: validation.ErrAbilityCooldown, code: codes.ResourceExhausted},
		{name: "not booted", err: sim.ErrNotBooted, code: codes.FailedPrecondition},
		{name: "halted", err: sim.ErrHalted, code: codes.Aborted},
		{name: "cancelled", err: context.Canceled, code: codes.Canceled},
		{name: "fallback", err: errors.New("boom"), code: codes.Internal},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			got := ToStatusError(tc.err)
			if tc.wantNil {
				if got != nil {
					t.Fatalf("ToStatusError(nil) = %v, want nil", got)
				}
				return
			}
			if code := status.Code(got); code != tc.code {
				t.Fatalf("ToStatusError(%v) code = %v, want %v", tc.err, code, tc.code)
			}
		})
	}
}

func TestCodec(t *testing.T) {
	c := codec{}
	if c.Name() != CodecName {
		t.Fatalf("Name() = %q, want %q", c.Name(), CodecName)
	}
	if _, err := c.Marshal("not an envelope"); err == nil {
		t.Fatal("Marshal(string) error = nil, want error")
	}

	env, err := protocol.Wrap(protocol.Tick{Now: 500, Distance: 12.5})
	if err != nil {
		t.Fatalf("Wrap() error = %v", err)
	}
	data, err := c.Marshal(&env)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	var got protocol.Envelope
	if err := c.Unmarshal(data, &got); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	msg, err := protocol.DecodeSim(got)
	if err != nil {
		t.Fatalf("DecodeSim() error = %v", err)
	}
	if tick := msg.(protocol.Tick); tick.Now != 500 || tick.Distance != 12.5 {
		t.Fatalf("decoded tick = %+v", tick)
	}
}

type fakeStream struct {
	grpc.ServerStream
	ctx context.Context
}

func (f *fakeStream) Context() context.Context { return f.ctx }
