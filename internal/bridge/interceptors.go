package bridge

import (
	"context"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"

	"github.com/signalsfoundry/idle-engine/internal/logging"
	"github.com/signalsfoundry/idle-engine/internal/observability"
)

const (
	requestIDMetadataKey = "x-request-id"
	tracerName           = "github.com/signalsfoundry/idle-engine/internal/bridge"
)

// contextStream overrides the context of a server stream.
type contextStream struct {
	grpc.ServerStream
	ctx context.Context
}

func (s *contextStream) Context() context.Context { return s.ctx }

// RequestIDStreamServerInterceptor ensures a request_id is present on the
// stream context, sourcing it from inbound metadata if provided, and attaches
// a per-session logger annotated with request_id and method.
func RequestIDStreamServerInterceptor(base logging.Logger) grpc.StreamServerInterceptor {
	if base == nil {
		base = logging.Noop()
	}
	return func(srv interface{}, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		ctx := ss.Context()
		if md, ok := metadata.FromIncomingContext(ctx); ok {
			if incoming := firstHeader(md, requestIDMetadataKey); incoming != "" {
				ctx = logging.ContextWithRequestID(ctx, incoming)
			}
		}

		ctx, reqLog := logging.WithRequestLogger(ctx, base.With(logging.String("method", info.FullMethod)))
		ctx = logging.ContextWithLogger(ctx, reqLog)

		return handler(srv, &contextStream{ServerStream: ss, ctx: ctx})
	}
}

// TracingStreamServerInterceptor enriches stream spans with standard
// attributes and ensures a server span exists when otelgrpc is not installed.
func TracingStreamServerInterceptor() grpc.StreamServerInterceptor {
	tracer := otel.Tracer(tracerName)

	return func(srv interface{}, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		ctx := ss.Context()
		service, method := observability.SplitMethod(info.FullMethod)
		name := fmt.Sprintf("Bridge/%s/%s", service, method)

		span := trace.SpanFromContext(ctx)
		created := false
		if !span.SpanContext().IsValid() {
			ctx, span = tracer.Start(ctx, name, trace.WithSpanKind(trace.SpanKindServer))
			created = true
		} else {
			span.SetName(name)
		}

		attrs := []attribute.KeyValue{
			attribute.String("rpc.system", "grpc"),
			attribute.String("rpc.service", service),
			attribute.String("rpc.method", method),
			attribute.String("rpc.full_method", strings.TrimPrefix(info.FullMethod, "/")),
		}
		if reqID := logging.RequestIDFromContext(ctx); reqID != "" {
			attrs = append(attrs, attribute.String("request_id", reqID))
		}
		span.SetAttributes(attrs...)

		err := handler(srv, &contextStream{ServerStream: ss, ctx: ctx})
		if err != nil {
			span.RecordError(err)
		}
		if created {
			span.End()
		}
		return err
	}
}

func firstHeader(md metadata.MD, key string) string {
	if md == nil {
		return ""
	}
	if vals := md.Get(key); len(vals) > 0 {
		return vals[0]
	}
	return ""
}
