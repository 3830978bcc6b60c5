package bridge

import (
	"context"
	"errors"
	"io"
	"sync/atomic"

	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"

	"github.com/signalsfoundry/idle-engine/internal/config"
	"github.com/signalsfoundry/idle-engine/internal/logging"
	"github.com/signalsfoundry/idle-engine/internal/observability"
	"github.com/signalsfoundry/idle-engine/internal/protocol"
	"github.com/signalsfoundry/idle-engine/internal/sim"
)

const defaultOutbox = 256

// Server hosts one Simulation per Connect stream.
type Server struct {
	cfg     *config.Config
	content *config.Content
	log     logging.Logger
	metrics sim.MetricsRecorder
	simOpts []sim.Option
	outbox  int

	sessions atomic.Int64
}

// Option customises a Server.
type Option func(*Server)

// WithMetrics records every session's simulation metrics on m.
func WithMetrics(m sim.MetricsRecorder) Option {
	return func(s *Server) {
		s.metrics = m
	}
}

// WithSimOptions appends options applied to every session's Simulation.
func WithSimOptions(opts ...sim.Option) Option {
	return func(s *Server) {
		s.simOpts = append(s.simOpts, opts...)
	}
}

// WithOutbox sets how many outbound envelopes may queue per session before
// the simulation blocks on the slow host.
func WithOutbox(n int) Option {
	return func(s *Server) {
		if n > 0 {
			s.outbox = n
		}
	}
}

// NewServer builds a bridge server. A nil cfg or content falls back to the
// defaults when a session starts.
func NewServer(cfg *config.Config, content *config.Content, log logging.Logger, opts ...Option) *Server {
	if log == nil {
		log = logging.Noop()
	}
	s := &Server{
		cfg:     cfg,
		content: content,
		log:     log,
		outbox:  defaultOutbox,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Sessions reports the number of open streams.
func (s *Server) Sessions() int {
	return int(s.sessions.Load())
}

// Connect runs one host session. It returns when the host closes its send
// side, the stream is cancelled, or the simulation halts.
func (s *Server) Connect(stream grpc.BidiStreamingServer[protocol.Envelope, protocol.Envelope]) error {
	ctx, cancel := context.WithCancel(stream.Context())
	defer cancel()

	log := logging.LoggerFromContext(ctx)
	if log == nil {
		log = s.log
	}

	opts := []sim.Option{sim.WithLogger(log)}
	if s.metrics != nil {
		opts = append(opts, sim.WithMetrics(s.metrics))
	}
	opts = append(opts, s.simOpts...)
	simulation, err := sim.New(s.cfg, s.content, opts...)
	if err != nil {
		log.Error(ctx, "cannot create simulation", logging.Err(err))
		return ToStatusError(err)
	}

	s.sessions.Add(1)
	defer s.sessions.Add(-1)
	log.Info(ctx, "host session opened")

	out := make(chan protocol.Envelope, s.outbox)
	unsubscribe := simulation.OnSimMessage(func(msg protocol.SimMessage) {
		env, err := protocol.Wrap(msg)
		if err != nil {
			log.Warn(ctx, "cannot encode simulation message", logging.String("kind", string(msg.Kind())), logging.Err(err))
			return
		}
		select {
		case out <- env:
		case <-ctx.Done():
		}
	})
	defer unsubscribe()

	runErr := make(chan error, 1)
	go func() { runErr <- simulation.Run(ctx) }()

	recvErr := make(chan error, 1)
	go func() { recvErr <- receive(ctx, stream, simulation) }()

	for {
		select {
		case env := <-out:
			if err := stream.Send(&env); err != nil {
				log.Warn(ctx, "host session send failed", logging.Err(err))
				return err
			}

		case err := <-recvErr:
			cancel()
			<-runErr
			flush(stream, out)
			if err == nil || errors.Is(err, io.EOF) {
				log.Info(ctx, "host session closed")
				return nil
			}
			log.Info(ctx, "host session ended", logging.Err(err))
			return ToStatusError(err)

		case err := <-runErr:
			// Fatal is queued before Run returns.
			flush(stream, out)
			if errors.Is(err, sim.ErrHalted) {
				log.Warn(ctx, "host session halted", logging.Err(err))
			}
			return ToStatusError(err)
		}
	}
}

// receive forwards host envelopes to the simulation until the host closes
// its side or the simulation stops accepting.
func receive(ctx context.Context, stream grpc.BidiStreamingServer[protocol.Envelope, protocol.Envelope], simulation *sim.Simulation) error {
	for {
		env, err := stream.Recv()
		if err != nil {
			return err
		}
		if err := simulation.PostEnvelope(ctx, *env); err != nil {
			if errors.Is(err, protocol.ErrUnknownKind) || errors.Is(err, protocol.ErrMalformed) {
				continue
			}
			return err
		}
	}
}

func flush(stream grpc.BidiStreamingServer[protocol.Envelope, protocol.Envelope], out <-chan protocol.Envelope) {
	for {
		select {
		case env := <-out:
			if err := stream.Send(&env); err != nil {
				return
			}
		default:
			return
		}
	}
}

// NewGRPCServer builds a grpc.Server with the bridge registered behind the
// standard interceptor chain. collector may be nil.
func NewGRPCServer(srv *Server, log logging.Logger, collector *observability.SimCollector, opts ...grpc.ServerOption) *grpc.Server {
	base := []grpc.ServerOption{
		grpc.StatsHandler(otelgrpc.NewServerHandler()),
		grpc.ChainStreamInterceptor(
			RequestIDStreamServerInterceptor(log),
			TracingStreamServerInterceptor(),
			collector.StreamServerInterceptor(),
		),
	}
	server := grpc.NewServer(append(base, opts...)...)
	RegisterHostBridgeServer(server, srv)
	return server
}
