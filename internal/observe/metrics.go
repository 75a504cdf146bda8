// Package observe carries livetalk's telemetry: the audio and session
// instruments in [Metrics], session-scoped spans and loggers, and the HTTP
// middleware in front of the control surface.
//
// [InitProvider] installs the global OpenTelemetry providers and bridges
// metrics to Prometheus for /metrics. Components take a *Metrics through
// their options and fall back to [DefaultMetrics]; tests build their own
// with [NewMetrics] and a manual reader.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all livetalk metrics.
const meterName = "github.com/MrWong99/livetalk"

// Capture chunk outcomes used with [Metrics.RecordCaptureChunk].
const (
	StatusForwarded = "forwarded"
	StatusDropped   = "dropped"
)

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use; the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Audio pipeline counters ---

	// CaptureChunks counts microphone chunks by outcome. Use with attribute:
	//   attribute.String("status", "forwarded"|"dropped")
	CaptureChunks metric.Int64Counter

	// PlaybackChunks counts inbound chunks scheduled for playback.
	PlaybackChunks metric.Int64Counter

	// PlaybackInterruptions counts barge-in interruptions of model speech.
	PlaybackInterruptions metric.Int64Counter

	// MalformedChunks counts inbound or outbound chunks dropped because they
	// could not be decoded. Use with attribute:
	//   attribute.String("direction", "inbound"|"outbound")
	MalformedChunks metric.Int64Counter

	// --- Session counters ---

	// Turns counts completed conversation turns.
	Turns metric.Int64Counter

	// SessionErrors counts sessions ended by a failure. Use with attribute:
	//   attribute.String("kind", "capture"|"channel")
	SessionErrors metric.Int64Counter

	// --- Gauges ---

	// ActiveSessions tracks the number of live voice sessions.
	ActiveSessions metric.Int64UpDownCounter

	// --- Latency histograms ---

	// ConnectDuration tracks the time from start request to live session.
	ConnectDuration metric.Float64Histogram

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) optimised
// for session handshake latencies.
var latencyBuckets = []float64{
	0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Counters.
	if met.CaptureChunks, err = m.Int64Counter("livetalk.capture.chunks",
		metric.WithDescription("Microphone chunks by outcome."),
	); err != nil {
		return nil, err
	}
	if met.PlaybackChunks, err = m.Int64Counter("livetalk.playback.chunks",
		metric.WithDescription("Inbound audio chunks scheduled for playback."),
	); err != nil {
		return nil, err
	}
	if met.PlaybackInterruptions, err = m.Int64Counter("livetalk.playback.interruptions",
		metric.WithDescription("Interruptions that discarded scheduled model speech."),
	); err != nil {
		return nil, err
	}
	if met.MalformedChunks, err = m.Int64Counter("livetalk.chunks.malformed",
		metric.WithDescription("Audio chunks dropped because they could not be decoded."),
	); err != nil {
		return nil, err
	}
	if met.Turns, err = m.Int64Counter("livetalk.turns",
		metric.WithDescription("Completed conversation turns."),
	); err != nil {
		return nil, err
	}
	if met.SessionErrors, err = m.Int64Counter("livetalk.session.errors",
		metric.WithDescription("Sessions ended by a failure, by kind."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveSessions, err = m.Int64UpDownCounter("livetalk.active_sessions",
		metric.WithDescription("Number of live voice sessions."),
	); err != nil {
		return nil, err
	}

	// Histograms.
	if met.ConnectDuration, err = m.Float64Histogram("livetalk.session.connect.duration",
		metric.WithDescription("Time from session start to live channel."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.HTTPRequestDuration, err = m.Float64Histogram("livetalk.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	return met, nil
}

// defaultMetrics is the lazily-initialised package-level Metrics instance.
var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it on
// first call using [otel.GetMeterProvider]. Subsequent calls return the same
// pointer. Panics if instrument creation fails (should not happen with the
// global provider).
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

// Attr is a convenience alias for [attribute.String] to reduce verbosity at
// call sites.
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordCaptureChunk records one microphone chunk with the given outcome.
func (m *Metrics) RecordCaptureChunk(ctx context.Context, status string) {
	m.CaptureChunks.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
}

// RecordMalformedChunk records one undecodable chunk in the given direction.
func (m *Metrics) RecordMalformedChunk(ctx context.Context, direction string) {
	m.MalformedChunks.Add(ctx, 1, metric.WithAttributes(attribute.String("direction", direction)))
}

// RecordSessionError records a session that ended with a failure of kind.
func (m *Metrics) RecordSessionError(ctx context.Context, kind string) {
	m.SessionErrors.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind)))
}
