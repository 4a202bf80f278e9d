// Package observe provides application-wide observability primitives for
// SignBridge: OpenTelemetry metrics and tracing, trace-aware structured
// logging, and HTTP middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. [InitProvider]
// installs a Prometheus exporter bridge so the instruments can be scraped
// from /metrics. [DefaultMetrics] returns a package-level instance bound to
// the global provider; tests should use [NewMetrics] with their own
// [metric.MeterProvider] to avoid cross-test pollution.
package observe

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all SignBridge metrics.
const meterName = "github.com/MrWong99/signbridge"

// Metrics holds all OpenTelemetry instruments for the application. All fields
// are safe for concurrent use.
type Metrics struct {
	// --- Audio path ---

	// FramesCaptured counts fixed-size frames produced by the capture pipeline.
	FramesCaptured metric.Int64Counter

	// FramesSent counts frames accepted by the live session's send queue.
	FramesSent metric.Int64Counter

	// FramesDropped counts capture frames that never left the process. Use
	// with attribute.String("reason", ...).
	FramesDropped metric.Int64Counter

	// ChunksScheduled counts inbound audio chunks handed to the scheduler.
	ChunksScheduled metric.Int64Counter

	// DecodeErrors counts inbound audio payloads that could not be decoded.
	DecodeErrors metric.Int64Counter

	// PlaybackGap tracks the silence inserted when a chunk arrived after the
	// previous one had finished playing.
	PlaybackGap metric.Float64Histogram

	// --- Sessions ---

	// ConnectDuration tracks live handshake latency. Use with
	// attribute.String("status", ...).
	ConnectDuration metric.Float64Histogram

	// SessionDuration tracks how long sessions stayed active.
	SessionDuration metric.Float64Histogram

	// ActiveSessions is 1 while a practice session is running.
	ActiveSessions metric.Int64UpDownCounter

	// SessionErrors counts failed starts and broken sessions. Use with
	// attribute.String("kind", ...).
	SessionErrors metric.Int64Counter

	// BreakerTransitions counts circuit breaker state changes. Use with
	// attribute.String("backend", ...), attribute.String("state", ...).
	BreakerTransitions metric.Int64Counter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with
	// attribute.String("method", ...), attribute.String("path", ...).
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets are histogram boundaries in seconds for handshake and gap
// latencies.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10,
}

// sessionBuckets are histogram boundaries in seconds for session lifetimes.
var sessionBuckets = []float64{
	1, 5, 15, 30, 60, 120, 300, 600, 1800, 3600,
}

// NewMetrics creates a fully initialised [Metrics] using mp.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.FramesCaptured, err = m.Int64Counter("signbridge.capture.frames",
		metric.WithDescription("Capture frames produced at 16 kHz."),
	); err != nil {
		return nil, err
	}
	if met.FramesSent, err = m.Int64Counter("signbridge.live.frames_sent",
		metric.WithDescription("Capture frames queued for the live session."),
	); err != nil {
		return nil, err
	}
	if met.FramesDropped, err = m.Int64Counter("signbridge.live.frames_dropped",
		metric.WithDescription("Capture frames dropped before transmission, by reason."),
	); err != nil {
		return nil, err
	}
	if met.ChunksScheduled, err = m.Int64Counter("signbridge.playback.chunks",
		metric.WithDescription("Inbound audio chunks scheduled for playback."),
	); err != nil {
		return nil, err
	}
	if met.DecodeErrors, err = m.Int64Counter("signbridge.playback.decode_errors",
		metric.WithDescription("Inbound audio payloads dropped as undecodable."),
	); err != nil {
		return nil, err
	}
	if met.PlaybackGap, err = m.Float64Histogram("signbridge.playback.gap",
		metric.WithDescription("Silence inserted before a late audio chunk."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	if met.ConnectDuration, err = m.Float64Histogram("signbridge.live.connect.duration",
		metric.WithDescription("Latency of the live session handshake."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.SessionDuration, err = m.Float64Histogram("signbridge.session.duration",
		metric.WithDescription("Lifetime of active practice sessions."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(sessionBuckets...),
	); err != nil {
		return nil, err
	}
	if met.ActiveSessions, err = m.Int64UpDownCounter("signbridge.active_sessions",
		metric.WithDescription("Number of running practice sessions."),
	); err != nil {
		return nil, err
	}
	if met.SessionErrors, err = m.Int64Counter("signbridge.session.errors",
		metric.WithDescription("Practice session failures by kind."),
	); err != nil {
		return nil, err
	}
	if met.BreakerTransitions, err = m.Int64Counter("signbridge.breaker.transitions",
		metric.WithDescription("Circuit breaker state changes by backend and new state."),
	); err != nil {
		return nil, err
	}

	if met.HTTPRequestDuration, err = m.Float64Histogram("signbridge.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	return met, nil
}

var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it on
// first call using [otel.GetMeterProvider]. Panics if instrument creation
// fails, which does not happen with the global provider.
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// Attr is a convenience alias for [attribute.String].
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordFrameDropped increments FramesDropped for reason.
func (m *Metrics) RecordFrameDropped(ctx context.Context, reason string) {
	m.FramesDropped.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}

// RecordConnect records one handshake attempt.
func (m *Metrics) RecordConnect(ctx context.Context, status string, d time.Duration) {
	m.ConnectDuration.Record(ctx, d.Seconds(),
		metric.WithAttributes(attribute.String("status", status)),
	)
}

// RecordSessionError increments SessionErrors for kind.
func (m *Metrics) RecordSessionError(ctx context.Context, kind string) {
	m.SessionErrors.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind)))
}

// RecordBreakerTransition increments BreakerTransitions.
func (m *Metrics) RecordBreakerTransition(ctx context.Context, backend, state string) {
	m.BreakerTransitions.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("backend", backend),
			attribute.String("state", state),
		),
	)
}
