package observe

import (
	"context"
	"testing"
	"time"

	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

// recorded bundles Metrics with a reader for inspecting what was recorded.
type recorded struct {
	*Metrics
	reader *sdkmetric.ManualReader
}

func newRecorded(t *testing.T) recorded {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	m, err := NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return recorded{Metrics: m, reader: reader}
}

func (r recorded) collect(t *testing.T) metricdata.ResourceMetrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := r.reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	return rm
}

func findMetric(rm metricdata.ResourceMetrics, name string) *metricdata.Metrics {
	for _, sm := range rm.ScopeMetrics {
		for i := range sm.Metrics {
			if sm.Metrics[i].Name == name {
				return &sm.Metrics[i]
			}
		}
	}
	return nil
}

// counter returns the int64 sum of name restricted to points carrying every
// attribute in attrs (given as key, value pairs).
func counter(t *testing.T, rm metricdata.ResourceMetrics, name string, attrs ...string) int64 {
	t.Helper()
	met := findMetric(rm, name)
	if met == nil {
		t.Fatalf("%s not recorded", name)
	}
	sum, ok := met.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatalf("%s is %T, want Sum[int64]", name, met.Data)
	}
	var total int64
points:
	for _, dp := range sum.DataPoints {
		for i := 0; i+1 < len(attrs); i += 2 {
			v, ok := dp.Attributes.Value(attribute.Key(attrs[i]))
			if !ok || v.AsString() != attrs[i+1] {
				continue points
			}
		}
		total += dp.Value
	}
	return total
}

func histogram(t *testing.T, rm metricdata.ResourceMetrics, name string) (count uint64, sum float64) {
	t.Helper()
	met := findMetric(rm, name)
	if met == nil {
		t.Fatalf("%s not recorded", name)
	}
	h, ok := met.Data.(metricdata.Histogram[float64])
	if !ok {
		t.Fatalf("%s is %T, want Histogram[float64]", name, met.Data)
	}
	for _, dp := range h.DataPoints {
		count += dp.Count
		sum += dp.Sum
	}
	return count, sum
}

// TestMetrics_SessionLifecycle records what one practice session with a
// failed retry produces and checks every instrument.
func TestMetrics_SessionLifecycle(t *testing.T) {
	m := newRecorded(t)
	ctx := context.Background()

	m.RecordConnect(ctx, "rejected", 100*time.Millisecond)
	m.RecordSessionError(ctx, "rejected")
	m.RecordBreakerTransition(ctx, "gemini", "open")

	m.RecordConnect(ctx, "ok", 250*time.Millisecond)
	m.ActiveSessions.Add(ctx, 1)
	m.FramesCaptured.Add(ctx, 5)
	m.FramesSent.Add(ctx, 3)
	m.RecordFrameDropped(ctx, "queue_full")
	m.RecordFrameDropped(ctx, "queue_full")
	m.ChunksScheduled.Add(ctx, 4)
	m.DecodeErrors.Add(ctx, 1)
	m.PlaybackGap.Record(ctx, 0.5)
	m.ActiveSessions.Add(ctx, -1)
	m.SessionDuration.Record(ctx, 42)

	rm := m.collect(t)

	counters := []struct {
		name  string
		attrs []string
		want  int64
	}{
		{"signbridge.capture.frames", nil, 5},
		{"signbridge.live.frames_sent", nil, 3},
		{"signbridge.live.frames_dropped", []string{"reason", "queue_full"}, 2},
		{"signbridge.live.frames_dropped", []string{"reason", "closed"}, 0},
		{"signbridge.playback.chunks", nil, 4},
		{"signbridge.playback.decode_errors", nil, 1},
		{"signbridge.active_sessions", nil, 0},
		{"signbridge.session.errors", []string{"kind", "rejected"}, 1},
		{"signbridge.breaker.transitions", []string{"backend", "gemini", "state", "open"}, 1},
	}
	for _, c := range counters {
		if got := counter(t, rm, c.name, c.attrs...); got != c.want {
			t.Errorf("%s%v = %d, want %d", c.name, c.attrs, got, c.want)
		}
	}

	histograms := []struct {
		name      string
		wantCount uint64
		wantSum   float64
	}{
		{"signbridge.live.connect.duration", 2, 0.35},
		{"signbridge.playback.gap", 1, 0.5},
		{"signbridge.session.duration", 1, 42},
	}
	for _, h := range histograms {
		count, sum := histogram(t, rm, h.name)
		if count != h.wantCount || sum < h.wantSum-1e-9 || sum > h.wantSum+1e-9 {
			t.Errorf("%s = %d samples / %v, want %d / %v", h.name, count, sum, h.wantCount, h.wantSum)
		}
	}
}

func TestMetrics_ConnectStatusAttribute(t *testing.T) {
	m := newRecorded(t)
	ctx := context.Background()
	m.RecordConnect(ctx, "timeout", time.Second)
	m.RecordConnect(ctx, "ok", time.Second)

	met := findMetric(m.collect(t), "signbridge.live.connect.duration")
	h := met.Data.(metricdata.Histogram[float64])
	statuses := map[string]bool{}
	for _, dp := range h.DataPoints {
		v, _ := dp.Attributes.Value("status")
		statuses[v.AsString()] = true
	}
	if len(statuses) != 2 || !statuses["ok"] || !statuses["timeout"] {
		t.Errorf("statuses = %v, want ok and timeout", statuses)
	}
}

func TestDefaultMetrics_Singleton(t *testing.T) {
	if DefaultMetrics() != DefaultMetrics() {
		t.Error("DefaultMetrics returned different instances")
	}
}
