// Package tracing wires an optional OpenTelemetry tracer for the management
// API handlers. Disabled tracing keeps every call a no-op.
package tracing

import (
    "context"

    "go.opentelemetry.io/otel"
    "go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
    sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

const tracerName = "rustfs-reliability"

var enabled bool

// Setup installs a global tracer provider when enable is true and returns
// the provider shutdown to be deferred by the caller.
func Setup(enable bool) (func(context.Context) error, error) {
    enabled = enable
    if !enable {
        return func(context.Context) error { return nil }, nil
    }
    exporter, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
    if err != nil {
        return nil, err
    }
    provider := sdktrace.NewTracerProvider(sdktrace.WithBatcher(exporter))
    otel.SetTracerProvider(provider)
    return provider.Shutdown, nil
}

// StartSpan opens a span named name when tracing is enabled. The returned
// func ends the span.
func StartSpan(ctx context.Context, name string) (context.Context, func()) {
    if !enabled {
        return ctx, func() {}
    }
    ctx, span := otel.Tracer(tracerName).Start(ctx, name)
    return ctx, func() { span.End() }
}
