// Package tracing wraps the pipeline's stages in an otel trace, exported
// to stdout by default so a run is traceable without any collector
// infrastructure configured.
package tracing

import (
	"context"
	"io"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/replit/sandbox-correlate/internal/pipeline"

// Provider owns the trace provider for one analysis run and must be shut
// down after the pipeline completes to flush its exporter.
type Provider struct {
	tp *sdktrace.TracerProvider
}

// NewStdout builds a provider that writes spans as JSON to w. Passing
// io.Discard effectively disables tracing while keeping the same
// instrumentation code path active.
func NewStdout(w io.Writer) (*Provider, error) {
	exporter, err := stdouttrace.New(stdouttrace.WithWriter(w), stdouttrace.WithPrettyPrint())
	if err != nil {
		return nil, err
	}
	tp := sdktrace.NewTracerProvider(sdktrace.WithBatcher(exporter))
	return &Provider{tp: tp}, nil
}

// NewNoop builds a provider whose spans are recorded but never exported,
// for callers that want the instrumentation overhead without any output.
func NewNoop() *Provider {
	return &Provider{tp: sdktrace.NewTracerProvider()}
}

// Tracer returns the otel tracer callers should use to start spans.
func (p *Provider) Tracer() trace.Tracer {
	return p.tp.Tracer(tracerName)
}

// Shutdown flushes and releases the provider's exporter.
func (p *Provider) Shutdown(ctx context.Context) error {
	return p.tp.Shutdown(ctx)
}

// StageNames is the fixed sequence of child spans wrapped under the
// pipeline's root span, in data-flow order (spec §2).
var StageNames = []string{"read", "parse", "ingest", "detect", "project"}

// WithRootSpan starts the pipeline's root span and returns a context
// carrying it plus a function to end it.
func WithRootSpan(ctx context.Context, tracer trace.Tracer) (context.Context, func()) {
	ctx, span := tracer.Start(ctx, "pipeline.run")
	return ctx, func() { span.End() }
}

// Stage starts a named child span for one pipeline stage.
func Stage(ctx context.Context, tracer trace.Tracer, name string) (context.Context, func()) {
	ctx, span := tracer.Start(ctx, "pipeline."+name)
	return ctx, func() { span.End() }
}

// GlobalTracer is a convenience accessor equivalent to otel.Tracer(name),
// useful for call sites that don't carry a Provider reference.
func GlobalTracer() trace.Tracer {
	return otel.Tracer(tracerName)
}
