package observability

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func TestStreamInterceptorRecordsMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	collector, err := NewSimCollector(reg)
	if err != nil {
		t.Fatalf("NewSimCollector: %v", err)
	}

	interceptor := collector.StreamServerInterceptor()
	info := &grpc.StreamServerInfo{FullMethod: "/idlesim.bridge.v1.HostBridge/Connect", IsClientStream: true, IsServerStream: true}

	err = interceptor(nil, nil, info, func(srv interface{}, ss grpc.ServerStream) error {
		time.Sleep(5 * time.Millisecond)
		return nil
	})
	if err != nil {
		t.Fatalf("interceptor handler returned error: %v", err)
	}

	if got := testutil.ToFloat64(collector.Streams.WithLabelValues("Connect", "OK")); got != 1 {
		t.Fatalf("bridge_streams_total = %v, want 1", got)
	}
	if count := histogramSampleCount(t, reg, "bridge_stream_duration_seconds", map[string]string{"method": "Connect"}); count != 1 {
		t.Fatalf("bridge_stream_duration_seconds sample_count = %d, want 1", count)
	}
}

func TestStreamInterceptorRecordsErrorCode(t *testing.T) {
	reg := prometheus.NewRegistry()
	collector, err := NewSimCollector(reg)
	if err != nil {
		t.Fatalf("NewSimCollector: %v", err)
	}

	interceptor := collector.StreamServerInterceptor()
	info := &grpc.StreamServerInfo{FullMethod: "/idlesim.bridge.v1.HostBridge/Connect"}
	_ = interceptor(nil, nil, info, func(srv interface{}, ss grpc.ServerStream) error {
		return status.Error(codes.InvalidArgument, "boom")
	})

	if got := testutil.ToFloat64(collector.Streams.WithLabelValues("Connect", "InvalidArgument")); got != 1 {
		t.Fatalf("bridge_streams_total error label = %v, want 1", got)
	}
}

func TestSimCollectorRecords(t *testing.T) {
	reg := prometheus.NewRegistry()
	collector, err := NewSimCollector(reg)
	if err != nil {
		t.Fatalf("NewSimCollector: %v", err)
	}

	collector.ObserveStep(200 * time.Microsecond)
	collector.ObserveStep(300 * time.Microsecond)
	collector.ObserveFrame(0)
	collector.ObserveFrame(120 * time.Millisecond)
	collector.AddPoolFailures(3)
	collector.AddPoolFailures(0)
	collector.SetPoolCounts(7, 57, 9)
	collector.ObserveMessage("ability", "ok")
	collector.ObserveMessage("ability", "rejected")
	collector.ObserveMessage("ability", "rejected")
	collector.ObserveAIPass(10, 2, 1, time.Millisecond)

	checks := []struct {
		name string
		got  float64
		want float64
	}{
		{"sim_steps_total", testutil.ToFloat64(collector.Steps), 2},
		{"sim_frames_total", testutil.ToFloat64(collector.Frames), 2},
		{"sim_dropped_time_seconds_total", testutil.ToFloat64(collector.DroppedTime), 0.12},
		{"sim_pool_allocation_failures_total", testutil.ToFloat64(collector.PoolFailures), 3},
		{"sim_pool_active", testutil.ToFloat64(collector.PoolActive), 7},
		{"sim_pool_available", testutil.ToFloat64(collector.PoolAvailable), 57},
		{"sim_pool_peak", testutil.ToFloat64(collector.PoolPeak), 9},
		{"sim_messages_total{ok}", testutil.ToFloat64(collector.Messages.WithLabelValues("ability", "ok")), 1},
		{"sim_messages_total{rejected}", testutil.ToFloat64(collector.Messages.WithLabelValues("ability", "rejected")), 2},
		{"ai_updates_total", testutil.ToFloat64(collector.AIUpdates), 10},
		{"ai_deferred_total", testutil.ToFloat64(collector.AIDeferred), 2},
		{"ai_faults_total", testutil.ToFloat64(collector.AIFaults), 1},
	}
	for _, c := range checks {
		if c.got != c.want {
			t.Fatalf("%s = %v, want %v", c.name, c.got, c.want)
		}
	}
	if count := histogramSampleCount(t, reg, "sim_step_duration_seconds", nil); count != 2 {
		t.Fatalf("sim_step_duration_seconds sample_count = %d, want 2", count)
	}
}

func TestPoolGaugesLastWriterWins(t *testing.T) {
	collector, err := NewSimCollector(prometheus.NewRegistry())
	if err != nil {
		t.Fatalf("NewSimCollector: %v", err)
	}
	// Two sessions reporting on one collector.
	collector.SetPoolCounts(40, 24, 50)
	collector.SetPoolCounts(2, 62, 3)

	if got := testutil.ToFloat64(collector.PoolActive); got != 2 {
		t.Fatalf("sim_pool_active = %v, want 2", got)
	}
	if got := testutil.ToFloat64(collector.PoolPeak); got != 3 {
		t.Fatalf("sim_pool_peak = %v, want 3", got)
	}
}

func TestNilCollectorIsSafe(t *testing.T) {
	var c *SimCollector
	c.ObserveStep(time.Millisecond)
	c.ObserveFrame(time.Millisecond)
	c.SetPoolCounts(1, 2, 3)
	c.AddPoolFailures(1)
	c.ObserveMessage("tick", "ok")
	c.ObserveAIPass(1, 1, 1, time.Millisecond)
	if c.Gatherer() != nil {
		t.Fatal("nil collector Gatherer() != nil")
	}
}

func TestCollectorReregistration(t *testing.T) {
	reg := prometheus.NewRegistry()
	first, err := NewSimCollector(reg)
	if err != nil {
		t.Fatalf("NewSimCollector: %v", err)
	}
	second, err := NewSimCollector(reg)
	if err != nil {
		t.Fatalf("NewSimCollector (second): %v", err)
	}
	second.ObserveStep(time.Millisecond)
	if got := testutil.ToFloat64(first.Steps); got != 1 {
		t.Fatalf("shared sim_steps_total = %v, want 1", got)
	}
}

func TestMetricsHandlerExposesSimMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	collector, err := NewSimCollector(reg)
	if err != nil {
		t.Fatalf("NewSimCollector: %v", err)
	}
	collector.SetPoolCounts(3, 4, 5)
	collector.ObserveMessage("boot", "ok")
	collector.Streams.WithLabelValues("Connect", "OK").Inc()

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rr := httptest.NewRecorder()
	collector.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("/metrics status = %d, want 200", rr.Code)
	}
	body := rr.Body.String()
	for _, metric := range []string{
		"sim_steps_total",
		"sim_pool_active 3",
		"sim_pool_available 4",
		"sim_pool_peak 5",
		"sim_messages_total",
		"bridge_streams_total",
		"ai_pass_duration_seconds",
	} {
		if !strings.Contains(body, metric) {
			t.Fatalf("expected %q in /metrics output", metric)
		}
	}
}

func TestServeMetricsStopsOnCancel(t *testing.T) {
	collector, err := NewSimCollector(prometheus.NewRegistry())
	if err != nil {
		t.Fatalf("NewSimCollector: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- collector.ServeMetrics(ctx, "127.0.0.1:0") }()
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("ServeMetrics() error = %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("ServeMetrics did not return after cancel")
	}
}

func TestSplitMethod(t *testing.T) {
	tests := []struct {
		in            string
		wantSvc, want string
	}{
		{"/idlesim.bridge.v1.HostBridge/Connect", "HostBridge", "Connect"},
		{"", "unknown", "unknown"},
		{"Connect", "unknown", "unknown"},
	}
	for _, tc := range tests {
		svc, m := SplitMethod(tc.in)
		if svc != tc.wantSvc || m != tc.want {
			t.Fatalf("SplitMethod(%q) = %q, %q, want %q, %q", tc.in, svc, m, tc.wantSvc, tc.want)
		}
	}
}

func histogramSampleCount(t *testing.T, gatherer prometheus.Gatherer, name string, labels map[string]string) uint64 {
	t.Helper()

	metrics, err := gatherer.Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}
	for _, mf := range metrics {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.Metric {
			if matchLabels(m.GetLabel(), labels) && m.GetHistogram() != nil {
				return m.GetHistogram().GetSampleCount()
			}
		}
	}
	return 0
}

func matchLabels(got []*dto.LabelPair, want map[string]string) bool {
	if len(got) < len(want) {
		return false
	}
	matched := 0
	for _, lp := range got {
		if val, ok := want[lp.GetName()]; ok && val == lp.GetValue() {
			matched++
		}
	}
	return matched == len(want)
}
