package observability

import (
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/signalsfoundry/idle-engine/internal/config"
	"github.com/signalsfoundry/idle-engine/internal/logging"
)

const (
	tracerName      = "github.com/signalsfoundry/idle-engine/sim"
	defaultOTLP     = "localhost:4317"
	shutdownTimeout = 5 * time.Second
)

// Tracing owns the process tracer provider.
type Tracing struct {
	shutdown func(context.Context) error
	log      logging.Logger
}

// TracingFromEnv overlays IDLESIM_TRACING_* and IDLESIM_OTLP_ENDPOINT onto
// base. Unset or unparsable variables leave the file values in place.
func TracingFromEnv(base config.TracingConfig) config.TracingConfig {
	cfg := base
	if v := os.Getenv("IDLESIM_TRACING_ENABLED"); v != "" {
		cfg.Enabled = strings.EqualFold(v, "true")
	}
	if v := os.Getenv("IDLESIM_TRACING_EXPORTER"); v != "" {
		cfg.Exporter = strings.ToLower(v)
	}
	if v := os.Getenv("IDLESIM_TRACING_SERVICE_NAME"); v != "" {
		cfg.ServiceName = v
	}
	if v := os.Getenv("IDLESIM_TRACING_SAMPLE_RATIO"); v != "" {
		if ratio, err := strconv.ParseFloat(v, 64); err == nil && ratio >= 0 && ratio <= 1 {
			cfg.SampleRatio = ratio
		}
	}
	if v := os.Getenv("IDLESIM_OTLP_ENDPOINT"); v != "" {
		cfg.Endpoint = v
	}
	return cfg
}

// InitTracing installs the global tracer provider and propagators. Disabled
// tracing installs a noop provider so spans cost nothing. Spans are tagged
// with build so traces from different builds never mix.
func InitTracing(ctx context.Context, cfg config.TracingConfig, build string, log logging.Logger) (*Tracing, error) {
	if log == nil {
		log = logging.Noop()
	}
	t := &Tracing{log: log}

	if !cfg.Enabled {
		otel.SetTracerProvider(noop.NewTracerProvider())
		otel.SetTextMapPropagator(propagation.TraceContext{})
		log.Debug(ctx, "tracing disabled")
		return t, nil
	}

	exp, err := newExporter(ctx, cfg, os.Stderr)
	if err != nil {
		return nil, err
	}

	service := cfg.ServiceName
	if service == "" {
		service = "idlesim"
	}
	res, err := resource.New(ctx,
		resource.WithAttributes(
			attribute.String("service.name", service),
			attribute.String("service.namespace", "idlesim"),
			attribute.String("service.version", build),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("tracing resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.SampleRatio))),
		sdktrace.WithBatcher(exp),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
	t.shutdown = tp.Shutdown

	log.Info(ctx, "tracing enabled",
		logging.String("exporter", cfg.Exporter),
		logging.String("service_name", service),
		logging.Float64("sample_ratio", cfg.SampleRatio),
	)
	return t, nil
}

// Shutdown flushes pending spans, giving up after a bounded wait. Errors are
// logged, not returned.
func (t *Tracing) Shutdown(ctx context.Context) {
	if t == nil || t.shutdown == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, shutdownTimeout)
	defer cancel()
	if err := t.shutdown(ctx); err != nil {
		t.log.Warn(ctx, "tracing shutdown failed", logging.Err(err))
	}
}

func newExporter(ctx context.Context, cfg config.TracingConfig, w io.Writer) (sdktrace.SpanExporter, error) {
	switch strings.ToLower(cfg.Exporter) {
	case "stdout", "":
		return stdouttrace.New(
			stdouttrace.WithWriter(w),
			stdouttrace.WithoutTimestamps(),
		)
	case "otlp", "otlpgrpc":
		endpoint := cfg.Endpoint
		if endpoint == "" {
			endpoint = defaultOTLP
		}
		return otlptrace.New(ctx, otlptracegrpc.NewClient(
			otlptracegrpc.WithEndpoint(endpoint),
			otlptracegrpc.WithDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())),
		))
	default:
		return nil, fmt.Errorf("%w: unsupported tracing exporter %q", config.ErrInvalidConfig, cfg.Exporter)
	}
}

// StartSpan starts a span on the simulation tracer. Callers must end it.
func StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	if ctx == nil {
		ctx = context.Background()
	}
	return otel.Tracer(tracerName).Start(ctx, name, trace.WithAttributes(attrs...))
}
