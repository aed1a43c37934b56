// Package observe provides the agent's observability primitives:
// OpenTelemetry metric instruments, the Prometheus exporter bridge and an
// HTTP middleware that records request latency.
//
// Components take a *[Metrics] explicitly. Tests should build one with
// [NewMetrics] over a [sdkmetric.ManualReader]-backed provider; production
// code can use [DefaultMetrics] once [InitProvider] has run.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/rviscarra/vidcap"

// Metrics holds all OpenTelemetry metric instruments for the agent.
// All fields are safe for concurrent use.
type Metrics struct {
	// FramesWritten counts frames accepted by the container writer.
	FramesWritten metric.Int64Counter

	// FramesDropped counts frames dropped by pacing or conversion failure.
	// Use with attribute.String("reason", ...).
	FramesDropped metric.Int64Counter

	// FramesWaited counts submissions that blocked under locked pacing.
	FramesWaited metric.Int64Counter

	// SamplesRegressed counts submissions discarded because their timestamp
	// went backwards. Use with attribute.String("track", ...).
	SamplesRegressed metric.Int64Counter

	// Sessions counts finished sessions. Use with attribute.String("outcome", ...).
	Sessions metric.Int64Counter

	// ActiveSessions is 1 while a session is recording, 0 otherwise.
	ActiveSessions metric.Int64UpDownCounter

	// EncodeDuration tracks per-frame encode latency on the ordering queue.
	EncodeDuration metric.Float64Histogram

	// ComposeDuration tracks the latency of one composition.
	ComposeDuration metric.Float64Histogram

	// PreviewFeedback counts RTCP feedback packets from preview peers.
	// Use with attribute.String("type", ...).
	PreviewFeedback metric.Int64Counter

	// HTTPRequestDuration tracks API request latency. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// encodeBuckets are tuned for per-frame work at 24-60 fps.
var encodeBuckets = []float64{
	0.001, 0.0025, 0.005, 0.01, 0.0167, 0.033, 0.05, 0.1, 0.25, 0.5,
}

var composeBuckets = []float64{
	0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider].
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.FramesWritten, err = m.Int64Counter("vidcap.frames.written",
		metric.WithDescription("Frames accepted by the container writer."),
	); err != nil {
		return nil, err
	}
	if met.FramesDropped, err = m.Int64Counter("vidcap.frames.dropped",
		metric.WithDescription("Frames dropped by pacing or conversion failure."),
	); err != nil {
		return nil, err
	}
	if met.FramesWaited, err = m.Int64Counter("vidcap.frames.waited",
		metric.WithDescription("Frame submissions that blocked waiting for the encoder."),
	); err != nil {
		return nil, err
	}
	if met.SamplesRegressed, err = m.Int64Counter("vidcap.samples.regressed",
		metric.WithDescription("Submissions discarded because their timestamp regressed."),
	); err != nil {
		return nil, err
	}
	if met.Sessions, err = m.Int64Counter("vidcap.sessions",
		metric.WithDescription("Finished recording sessions by outcome."),
	); err != nil {
		return nil, err
	}
	if met.ActiveSessions, err = m.Int64UpDownCounter("vidcap.sessions.active",
		metric.WithDescription("Number of recording sessions currently active."),
	); err != nil {
		return nil, err
	}
	if met.EncodeDuration, err = m.Float64Histogram("vidcap.encode.duration",
		metric.WithDescription("Latency of encoding and writing one frame."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(encodeBuckets...),
	); err != nil {
		return nil, err
	}
	if met.ComposeDuration, err = m.Float64Histogram("vidcap.compose.duration",
		metric.WithDescription("Latency of composing the exported asset."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(composeBuckets...),
	); err != nil {
		return nil, err
	}
	if met.PreviewFeedback, err = m.Int64Counter("vidcap.preview.feedback",
		metric.WithDescription("RTCP feedback packets received from preview peers."),
	); err != nil {
		return nil, err
	}
	if met.HTTPRequestDuration, err = m.Float64Histogram("vidcap.http.request.duration",
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
// first call using [otel.GetMeterProvider].
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

// RecordDrop records one dropped frame with its reason.
func (m *Metrics) RecordDrop(ctx context.Context, reason string) {
	m.FramesDropped.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}

// RecordSession records one finished session with its outcome.
func (m *Metrics) RecordSession(ctx context.Context, outcome string) {
	m.Sessions.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

// RecordRegression records one discarded out-of-order submission.
func (m *Metrics) RecordRegression(ctx context.Context, track string) {
	m.SamplesRegressed.Add(ctx, 1, metric.WithAttributes(attribute.String("track", track)))
}

// RecordFeedback records one RTCP feedback packet from a preview peer.
func (m *Metrics) RecordFeedback(ctx context.Context, kind string) {
	m.PreviewFeedback.Add(ctx, 1, metric.WithAttributes(attribute.String("type", kind)))
}
