// Package tracing builds an OpenTelemetry tracer provider backed by the
// lightweight stdout exporter rather than a full collector pipeline —
// there is nowhere inside this core for a heavier exporter to report to —
// and hands out component-scoped tracers. No core package calls
// NewProvider or Tracer, so spawn, executeTell, sendMessage and
// getOrCreateSession are not wrapped in spans.
package tracing

import (
	"context"
	"io"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.opentelemetry.io/otel/trace"
)

// Config controls tracer provider construction.
type Config struct {
	ServiceName string
	// Writer receives the stdout exporter's span output. Defaults to
	// io.Discard if nil, so tracing can stay enabled in tests without
	// printing spans to the test log.
	Writer io.Writer
}

// Provider owns the process-wide TracerProvider and its shutdown.
type Provider struct {
	tp *sdktrace.TracerProvider
}

// NewProvider builds a Provider exporting spans via stdouttrace and
// registers it as the global otel tracer provider.
func NewProvider(cfg Config) (*Provider, error) {
	w := cfg.Writer
	if w == nil {
		w = io.Discard
	}

	exp, err := stdouttrace.New(stdouttrace.WithWriter(w), stdouttrace.WithoutTimestamps())
	if err != nil {
		return nil, err
	}

	name := cfg.ServiceName
	if name == "" {
		name = "iris"
	}

	res, err := resource.Merge(resource.Default(), resource.NewSchemaless(
		semconv.ServiceName(name),
	))
	if err != nil {
		return nil, err
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exp),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)

	return &Provider{tp: tp}, nil
}

// Shutdown flushes and stops the tracer provider.
func (p *Provider) Shutdown(ctx context.Context) error {
	return p.tp.Shutdown(ctx)
}

// Tracer returns a named tracer scoped to an Iris component, e.g.
// tracing.Tracer("pool") or tracing.Tracer("sessionstore").
func Tracer(component string) trace.Tracer {
	return otel.Tracer("github.com/irisrun/iris/" + component)
}
