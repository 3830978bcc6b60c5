package observability

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"google.golang.org/grpc"
	"google.golang.org/grpc/status"
)

// SimCollector bundles Prometheus metrics for the simulation core and the
// host bridge.
type SimCollector struct {
	gatherer prometheus.Gatherer

	Steps        prometheus.Counter
	StepDuration prometheus.Histogram
	Frames       prometheus.Counter
	DroppedTime  prometheus.Counter

	PoolActive    prometheus.Gauge
	PoolAvailable prometheus.Gauge
	PoolPeak      prometheus.Gauge
	PoolFailures  prometheus.Counter

	Messages *prometheus.CounterVec

	AIUpdates      prometheus.Counter
	AIDeferred     prometheus.Counter
	AIFaults       prometheus.Counter
	AIPassDuration prometheus.Histogram

	Streams        *prometheus.CounterVec
	StreamDuration *prometheus.HistogramVec
}

// NewSimCollector registers simulation metrics against the provided
// registerer, defaulting to the global Prometheus registry when nil.
func NewSimCollector(reg prometheus.Registerer) (*SimCollector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}
	c := &SimCollector{gatherer: gatherer}

	var err error
	if c.Steps, err = registerCounter(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "sim_steps_total",
		Help: "Simulation steps executed.",
	}), "sim_steps_total"); err != nil {
		return nil, err
	}
	if c.StepDuration, err = registerHistogram(reg, prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "sim_step_duration_seconds",
		Help:    "Wall time spent inside one simulation step.",
		Buckets: []float64{0.00005, 0.0001, 0.00025, 0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025},
	}), "sim_step_duration_seconds"); err != nil {
		return nil, err
	}
	if c.Frames, err = registerCounter(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "sim_frames_total",
		Help: "Foreground clock frames processed.",
	}), "sim_frames_total"); err != nil {
		return nil, err
	}
	if c.DroppedTime, err = registerCounter(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "sim_dropped_time_seconds_total",
		Help: "Accumulated wall time discarded when a frame exceeded the step cap.",
	}), "sim_dropped_time_seconds_total"); err != nil {
		return nil, err
	}

	if c.PoolActive, err = registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "sim_pool_active",
		Help: "Enemy pool slots in use, as last reported by any session.",
	}), "sim_pool_active"); err != nil {
		return nil, err
	}
	if c.PoolAvailable, err = registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "sim_pool_available",
		Help: "Enemy pool slots on the free list, as last reported by any session.",
	}), "sim_pool_available"); err != nil {
		return nil, err
	}
	if c.PoolPeak, err = registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "sim_pool_peak",
		Help: "Highest enemy pool occupancy since the last reset, as last reported by any session.",
	}), "sim_pool_peak"); err != nil {
		return nil, err
	}
	if c.PoolFailures, err = registerCounter(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "sim_pool_allocation_failures_total",
		Help: "Spawns deferred because the enemy pool was full.",
	}), "sim_pool_allocation_failures_total"); err != nil {
		return nil, err
	}

	messages := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sim_messages_total",
		Help: "Host messages handled, labeled by kind and validation result.",
	}, []string{"kind", "result"})
	if c.Messages, err = registerCounterVec(reg, messages, "sim_messages_total"); err != nil {
		return nil, err
	}

	if c.AIUpdates, err = registerCounter(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "ai_updates_total",
		Help: "Per-enemy AI updates performed.",
	}), "ai_updates_total"); err != nil {
		return nil, err
	}
	if c.AIDeferred, err = registerCounter(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "ai_deferred_total",
		Help: "Per-enemy AI updates deferred by the per-frame cap.",
	}), "ai_deferred_total"); err != nil {
		return nil, err
	}
	if c.AIFaults, err = registerCounter(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "ai_faults_total",
		Help: "Per-enemy AI updates that failed or panicked.",
	}), "ai_faults_total"); err != nil {
		return nil, err
	}
	if c.AIPassDuration, err = registerHistogram(reg, prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "ai_pass_duration_seconds",
		Help:    "Wall time of one AI manager pass.",
		Buckets: []float64{0.00001, 0.00005, 0.0001, 0.0005, 0.001, 0.005, 0.01},
	}), "ai_pass_duration_seconds"); err != nil {
		return nil, err
	}

	streams := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "bridge_streams_total",
		Help: "Completed host bridge streams, labeled by method and gRPC status code.",
	}, []string{"method", "code"})
	if c.Streams, err = registerCounterVec(reg, streams, "bridge_streams_total"); err != nil {
		return nil, err
	}
	streamDurations := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "bridge_stream_duration_seconds",
		Help:    "Lifetime of host bridge streams in seconds.",
		Buckets: []float64{1, 10, 60, 300, 900, 3600, 14400},
	}, []string{"method"})
	if c.StreamDuration, err = registerHistogramVec(reg, streamDurations, "bridge_stream_duration_seconds"); err != nil {
		return nil, err
	}

	return c, nil
}

// Gatherer returns the Prometheus gatherer associated with the collector.
func (c *SimCollector) Gatherer() prometheus.Gatherer {
	if c == nil {
		return nil
	}
	return c.gatherer
}

// Handler exposes a ready-to-use /metrics handler.
func (c *SimCollector) Handler() http.Handler {
	gatherer := c.gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// ObserveStep records one simulation step.
func (c *SimCollector) ObserveStep(d time.Duration) {
	if c == nil {
		return
	}
	c.Steps.Inc()
	c.StepDuration.Observe(d.Seconds())
}

// ObserveFrame records one foreground frame and any time it dropped.
func (c *SimCollector) ObserveFrame(dropped time.Duration) {
	if c == nil {
		return
	}
	c.Frames.Inc()
	if dropped > 0 {
		c.DroppedTime.Add(dropped.Seconds())
	}
}

// SetPoolCounts updates the pool occupancy gauges. The gauges are shared by
// every session on the collector, so with several bridge sessions the last
// writer wins; they are unlabelled to keep series count independent of
// session churn.
func (c *SimCollector) SetPoolCounts(active, available, peak int) {
	if c == nil {
		return
	}
	c.PoolActive.Set(float64(active))
	c.PoolAvailable.Set(float64(available))
	c.PoolPeak.Set(float64(peak))
}

// AddPoolFailures counts spawns the pool could not serve.
func (c *SimCollector) AddPoolFailures(n int) {
	if c == nil || n <= 0 {
		return
	}
	c.PoolFailures.Add(float64(n))
}

// ObserveMessage counts one host message by kind and result.
func (c *SimCollector) ObserveMessage(kind, result string) {
	if c == nil {
		return
	}
	c.Messages.WithLabelValues(kind, result).Inc()
}

// ObserveAIPass satisfies ai.MetricsRecorder.
func (c *SimCollector) ObserveAIPass(updated, deferred, faults int, d time.Duration) {
	if c == nil {
		return
	}
	c.AIUpdates.Add(float64(updated))
	c.AIDeferred.Add(float64(deferred))
	c.AIFaults.Add(float64(faults))
	c.AIPassDuration.Observe(d.Seconds())
}

// StreamServerInterceptor records completion counts and lifetimes of
// streaming RPCs.
func (c *SimCollector) StreamServerInterceptor() grpc.StreamServerInterceptor {
	return func(srv interface{}, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		start := time.Now()
		err := handler(srv, ss)

		if c == nil {
			return err
		}

		fullMethod := ""
		if info != nil {
			fullMethod = info.FullMethod
		}
		_, method := SplitMethod(fullMethod)
		code := status.Code(err).String()

		c.Streams.WithLabelValues(method, code).Inc()
		c.StreamDuration.WithLabelValues(method).Observe(time.Since(start).Seconds())
		return err
	}
}

// ServeMetrics serves the /metrics endpoint on addr until ctx is cancelled.
func (c *SimCollector) ServeMetrics(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", c.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}

// SplitMethod parses a fully-qualified gRPC method name into service and method
// components. It tolerates empty strings and partial paths, returning
// "unknown"/"unknown" when parsing fails.
func SplitMethod(fullMethod string) (string, string) {
	if fullMethod == "" {
		return "unknown", "unknown"
	}
	fullMethod = strings.TrimPrefix(fullMethod, "/")
	parts := strings.Split(fullMethod, "/")
	if len(parts) < 2 {
		return "unknown", "unknown"
	}
	service := parts[len(parts)-2]
	method := parts[len(parts)-1]
	if dot := strings.LastIndex(service, "."); dot >= 0 && dot+1 < len(service) {
		service = service[dot+1:]
	}
	if service == "" {
		service = "unknown"
	}
	if method == "" {
		method = "unknown"
	}
	return service, method
}

func registerCounterVec(reg prometheus.Registerer, vec *prometheus.CounterVec, name string) (*prometheus.CounterVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.CounterVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}

func registerHistogramVec(reg prometheus.Registerer, vec *prometheus.HistogramVec, name string) (*prometheus.HistogramVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.HistogramVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}

func registerGauge(reg prometheus.Registerer, gauge prometheus.Gauge, name string) (prometheus.Gauge, error) {
	if err := reg.Register(gauge); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Gauge); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return gauge, nil
}

func registerHistogram(reg prometheus.Registerer, hist prometheus.Histogram, name string) (prometheus.Histogram, error) {
	if err := reg.Register(hist); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Histogram); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return hist, nil
}

func registerCounter(reg prometheus.Registerer, counter prometheus.Counter, name string) (prometheus.Counter, error) {
	if err := reg.Register(counter); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Counter); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return counter, nil
}
