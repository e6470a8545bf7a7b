package tracing

import (
	"context"
	"time"

	"labbooking/internal/config"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
)

// Setup installs the global propagators and, when tracing is enabled, a
// tracer provider exporting to the OTLP collector. The returned func
// flushes pending spans and must be called during shutdown.
func Setup(ctx context.Context, cfg config.TracingConfig, app config.AppConfig) (func(context.Context) error, error) {
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	if !cfg.Enabled {
		return func(context.Context) error { return nil }, nil
	}

	exp, err := otlptracegrpc.New(ctx,
		otlptracegrpc.WithEndpoint(cfg.Endpoint),
		otlptracegrpc.WithInsecure(),
		otlptracegrpc.WithTimeout(3*time.Second),
	)
	if err != nil {
		return nil, err
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.SampleRatio))),
		sdktrace.WithBatcher(exp),
		sdktrace.WithResource(newResource(app)),
	)

	otel.SetTracerProvider(tp)
	return tp.Shutdown, nil
}

func newResource(app config.AppConfig) *resource.Resource {
	attrs := resource.NewSchemaless(
		semconv.ServiceName(app.Name),
		semconv.ServiceVersion(app.Version),
	)
	if app.Environment != "" {
		attrs, _ = resource.Merge(attrs, resource.NewSchemaless(semconv.DeploymentEnvironment(app.Environment)))
	}
	return attrs
}
