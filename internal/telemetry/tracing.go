package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

// NewTracerProvider returns a zero-config OpenTelemetry TracerProvider —
// no exporter is attached, matching 99souls-ariadne's
// metrics.NewOTelProvider's "zero-config" starting point; a real deployment
// adds a batch span processor and OTLP exporter on top of the returned
// provider without PipeWatch's own code needing to change.
func NewTracerProvider() *sdktrace.TracerProvider {
	return sdktrace.NewTracerProvider()
}

// Tracer returns the named tracer PipeWatch's pipeline orchestrator uses to
// span each sample's C2->C3+C4->C5->C6 trip.
func Tracer(tp trace.TracerProvider, name string) trace.Tracer {
	if tp == nil {
		tp = otel.GetTracerProvider()
	}
	return tp.Tracer(name)
}

// StartSpan is a light convenience wrapper so call sites don't repeat the
// tracer-lookup boilerplate for every pipeline stage.
func StartSpan(ctx context.Context, tracer trace.Tracer, name string) (context.Context, trace.Span) {
	return tracer.Start(ctx, name)
}
