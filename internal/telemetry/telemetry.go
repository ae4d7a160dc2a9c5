// Package telemetry initializes OpenTelemetry tracing and metrics
// exporters and exposes the instruments the pipeline stages record
// against (spec.md §9's observability note).
package telemetry

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

// Shutdown flushes and stops the tracer/meter providers.
type Shutdown func(ctx context.Context) error

// Init configures the global OpenTelemetry tracer and meter providers. If
// endpoint is empty, OTEL is disabled and no-op providers remain installed.
func Init(ctx context.Context, endpoint, serviceName, version string, insecure bool) (Shutdown, error) {
	if endpoint == "" {
		return func(context.Context) error { return nil }, nil
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceNameKey.String(serviceName),
			semconv.ServiceVersionKey.String(version),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("telemetry: create resource: %w", err)
	}

	traceOpts := []otlptracehttp.Option{otlptracehttp.WithEndpoint(endpoint)}
	if insecure {
		traceOpts = append(traceOpts, otlptracehttp.WithInsecure())
	}
	traceExp, err := otlptracehttp.New(ctx, traceOpts...)
	if err != nil {
		return nil, fmt.Errorf("telemetry: create trace exporter: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(traceExp, sdktrace.WithBatchTimeout(5*time.Second)),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{}, propagation.Baggage{},
	))

	metricOpts := []otlpmetrichttp.Option{otlpmetrichttp.WithEndpoint(endpoint)}
	if insecure {
		metricOpts = append(metricOpts, otlpmetrichttp.WithInsecure())
	}
	metricExp, err := otlpmetrichttp.New(ctx, metricOpts...)
	if err != nil {
		return nil, fmt.Errorf("telemetry: create metric exporter: %w", err)
	}

	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(metricExp, sdkmetric.WithInterval(15*time.Second))),
		sdkmetric.WithResource(res),
	)
	otel.SetMeterProvider(mp)

	if err := initInstruments(); err != nil {
		return nil, err
	}

	return func(ctx context.Context) error {
		var firstErr error
		if err := tp.Shutdown(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
		if err := mp.Shutdown(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
		return firstErr
	}, nil
}

// Meter returns the global meter for the given instrumentation scope.
func Meter(name string) metric.Meter {
	return otel.GetMeterProvider().Meter(name)
}

// Tracer returns the global tracer for the given instrumentation scope.
func Tracer(name string) trace.Tracer {
	return otel.GetTracerProvider().Tracer(name)
}

// Instruments bundles the histograms the pipeline and its subsystems
// record against. They are created once against whatever meter provider
// is installed at init time (real or no-op), so call sites never need a
// nil check.
var Instruments struct {
	GateRisk        metric.Float64Histogram
	EmbeddingLatency metric.Float64Histogram
	SearchLatency   metric.Float64Histogram
	StageLatency    metric.Float64Histogram
	DecideLatency   metric.Float64Histogram
}

func initInstruments() error {
	m := Meter("veritas")
	var err error

	Instruments.GateRisk, err = m.Float64Histogram("veritas.fuji.risk",
		metric.WithDescription("FUJI gate risk score per evaluated request"))
	if err != nil {
		return fmt.Errorf("telemetry: gate risk histogram: %w", err)
	}
	Instruments.EmbeddingLatency, err = m.Float64Histogram("veritas.memory.embedding.duration_ms",
		metric.WithDescription("Embedding call duration in milliseconds"), metric.WithUnit("ms"))
	if err != nil {
		return fmt.Errorf("telemetry: embedding latency histogram: %w", err)
	}
	Instruments.SearchLatency, err = m.Float64Histogram("veritas.memory.search.duration_ms",
		metric.WithDescription("Memory search duration in milliseconds"), metric.WithUnit("ms"))
	if err != nil {
		return fmt.Errorf("telemetry: search latency histogram: %w", err)
	}
	Instruments.StageLatency, err = m.Float64Histogram("veritas.pipeline.stage.duration_ms",
		metric.WithDescription("Pipeline stage duration in milliseconds"), metric.WithUnit("ms"))
	if err != nil {
		return fmt.Errorf("telemetry: stage latency histogram: %w", err)
	}
	Instruments.DecideLatency, err = m.Float64Histogram("veritas.decide.duration_ms",
		metric.WithDescription("Total /decide request duration in milliseconds"), metric.WithUnit("ms"))
	if err != nil {
		return fmt.Errorf("telemetry: decide latency histogram: %w", err)
	}
	return nil
}

func init() {
	// Populate Instruments against the no-op global providers so that
	// recording calls are always safe, even before Init runs (e.g. in
	// tests that never configure an OTEL endpoint).
	_ = initInstruments()
}
