package observe

import (
	"context"
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	promexporter "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.39.0"
)

const serviceName = "yomiage"

// Telemetry owns the bot's meter and tracer providers. Metrics is bound to
// the meter provider and is what the app hands to its subsystems.
type Telemetry struct {
	Metrics *Metrics

	meters  *sdkmetric.MeterProvider
	tracers *sdktrace.TracerProvider
}

type providerOptions struct {
	registerer prometheus.Registerer
	exporter   sdktrace.SpanExporter
}

// ProviderOption configures InitProvider.
type ProviderOption func(*providerOptions)

// WithRegisterer registers the Prometheus collector with r instead of
// prometheus.DefaultRegisterer, which is what /metrics serves.
func WithRegisterer(r prometheus.Registerer) ProviderOption {
	return func(o *providerOptions) { o.registerer = r }
}

// WithTraceExporter exports utterance and HTTP spans through exp. Without
// one, spans still carry ids for log correlation but go nowhere.
func WithTraceExporter(exp sdktrace.SpanExporter) ProviderOption {
	return func(o *providerOptions) { o.exporter = exp }
}

// InitProvider installs the global meter and tracer providers for the bot,
// tagged with its version, and the W3C trace-context propagator the HTTP
// middleware reads.
func InitProvider(ctx context.Context, version string, opts ...ProviderOption) (*Telemetry, error) {
	o := providerOptions{registerer: prometheus.DefaultRegisterer}
	for _, opt := range opts {
		opt(&o)
	}

	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(serviceName),
			semconv.ServiceVersion(version),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("observe: build resource: %w", err)
	}

	promExp, err := promexporter.New(promexporter.WithRegisterer(o.registerer))
	if err != nil {
		return nil, fmt.Errorf("observe: prometheus exporter: %w", err)
	}
	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(promExp),
	)

	tpOpts := []sdktrace.TracerProviderOption{sdktrace.WithResource(res)}
	if o.exporter != nil {
		tpOpts = append(tpOpts, sdktrace.WithBatcher(o.exporter))
	}
	tp := sdktrace.NewTracerProvider(tpOpts...)

	m, err := NewMetrics(mp)
	if err != nil {
		_ = mp.Shutdown(ctx)
		_ = tp.Shutdown(ctx)
		return nil, fmt.Errorf("observe: metrics: %w", err)
	}

	otel.SetMeterProvider(mp)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.TraceContext{})

	return &Telemetry{Metrics: m, meters: mp, tracers: tp}, nil
}

// Shutdown flushes pending spans and stops both providers.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	return errors.Join(t.tracers.Shutdown(ctx), t.meters.Shutdown(ctx))
}
