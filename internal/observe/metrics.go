// Package observe provides application-wide observability primitives for
// yomiage: OpenTelemetry metrics, tracing, trace-correlated logging, and HTTP
// middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API and scraped via
// the Prometheus exporter bridge set up by [InitProvider]. A package-level
// [DefaultMetrics] instance is provided for convenience; tests should use
// [NewMetrics] with their own [metric.MeterProvider] to avoid cross-test
// pollution.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all yomiage metrics.
const meterName = "github.com/MrWong99/yomiage"

// Utterance outcomes recorded on [Metrics.Utterances].
const (
	StatusPlayed    = "played"
	StatusSkipped   = "skipped"
	StatusFailed    = "failed"
	StatusDiscarded = "discarded"
)

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use.
type Metrics struct {
	// SynthesisDuration tracks backend synthesis latency. Attributes:
	//   attribute.String("generator", ...)
	SynthesisDuration metric.Float64Histogram

	// PlaybackDuration tracks how long each clip took to play.
	PlaybackDuration metric.Float64Histogram

	// Utterances counts processed narration requests. Attributes:
	//   attribute.String("kind", ...), attribute.String("status", ...)
	Utterances metric.Int64Counter

	// QueueDropped counts requests evicted from a full guild queue.
	QueueDropped metric.Int64Counter

	// Greetings counts hello/bye emissions and auto-leaves. Attributes:
	//   attribute.String("kind", ...)
	Greetings metric.Int64Counter

	// ProviderRequests counts synthesis backend calls. Attributes:
	//   attribute.String("generator", ...), attribute.String("status", ...)
	ProviderRequests metric.Int64Counter

	// ProviderErrors counts backend failures. Attributes:
	//   attribute.String("generator", ...), attribute.String("kind", ...)
	ProviderErrors metric.Int64Counter

	// ActiveSessions tracks the number of live guild sessions.
	ActiveSessions metric.Int64UpDownCounter

	// HTTPRequestDuration tracks HTTP request processing time. Attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries in seconds. Synthesis of
// a chat line takes hundreds of milliseconds; playback runs for seconds.
var latencyBuckets = []float64{
	0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 20, 40,
}

// NewMetrics creates a fully initialised [Metrics] struct using mp.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.SynthesisDuration, err = m.Float64Histogram("yomiage.synthesis.duration",
		metric.WithDescription("Latency of speech synthesis backend calls."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.PlaybackDuration, err = m.Float64Histogram("yomiage.playback.duration",
		metric.WithDescription("Wall time spent playing a clip into a voice channel."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	if met.Utterances, err = m.Int64Counter("yomiage.utterances",
		metric.WithDescription("Narration requests processed by kind and status."),
	); err != nil {
		return nil, err
	}
	if met.QueueDropped, err = m.Int64Counter("yomiage.queue.dropped",
		metric.WithDescription("Narration requests evicted from a full guild queue."),
	); err != nil {
		return nil, err
	}
	if met.Greetings, err = m.Int64Counter("yomiage.greetings",
		metric.WithDescription("Presence transitions by kind (hello, bye, auto_leave)."),
	); err != nil {
		return nil, err
	}
	if met.ProviderRequests, err = m.Int64Counter("yomiage.provider.requests",
		metric.WithDescription("Synthesis backend requests by generator and status."),
	); err != nil {
		return nil, err
	}
	if met.ProviderErrors, err = m.Int64Counter("yomiage.provider.errors",
		metric.WithDescription("Synthesis backend errors by generator and kind."),
	); err != nil {
		return nil, err
	}

	if met.ActiveSessions, err = m.Int64UpDownCounter("yomiage.active_sessions",
		metric.WithDescription("Number of live guild narration sessions."),
	); err != nil {
		return nil, err
	}

	if met.HTTPRequestDuration, err = m.Float64Histogram("yomiage.http.request.duration",
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
// first call from [otel.GetMeterProvider]. Panics if instrument creation
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

// RecordUtterance increments the utterance counter.
func (m *Metrics) RecordUtterance(ctx context.Context, kind, status string) {
	m.Utterances.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("kind", kind),
			attribute.String("status", status),
		),
	)
}

// RecordGreeting increments the greeting counter.
func (m *Metrics) RecordGreeting(ctx context.Context, kind string) {
	m.Greetings.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind)))
}

// RecordProviderRequest increments the provider request counter.
func (m *Metrics) RecordProviderRequest(ctx context.Context, generator, status string) {
	m.ProviderRequests.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("generator", generator),
			attribute.String("status", status),
		),
	)
}

// RecordProviderError increments the provider error counter.
func (m *Metrics) RecordProviderError(ctx context.Context, generator, kind string) {
	m.ProviderErrors.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("generator", generator),
			attribute.String("kind", kind),
		),
	)
}
