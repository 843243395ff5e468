package tracing

import (
    "context"
    "sync/atomic"

    "go.opentelemetry.io/otel"
    "go.opentelemetry.io/otel/attribute"
    "go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
    sdktrace "go.opentelemetry.io/otel/sdk/trace"
    "go.opentelemetry.io/otel/trace"
)

const tracerName = "go-retainer"

var enabled atomic.Bool

// Setup configures a global tracer provider when enable=true.
// It returns a shutdown function which should be deferred.
func Setup(enable bool) (func(context.Context) error, error) {
    enabled.Store(enable)
    if !enable {
        return func(context.Context) error { return nil }, nil
    }
    exp, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
    if err != nil {
        return nil, err
    }
    tp := sdktrace.NewTracerProvider(sdktrace.WithBatcher(exp))
    otel.SetTracerProvider(tp)
    return tp.Shutdown, nil
}

// UseProvider installs tp as the global provider and enables spans. Tests use
// it with an in-memory recorder.
func UseProvider(tp trace.TracerProvider) {
    otel.SetTracerProvider(tp)
    enabled.Store(true)
}

// StartSpan starts a tracing span if tracing is enabled. The returned end
// func records err (if non-nil) before ending the span.
func StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, func(err error)) {
    if !enabled.Load() {
        return ctx, func(error) {}
    }
    ctx, span := otel.Tracer(tracerName).Start(ctx, name, trace.WithAttributes(attrs...))
    return ctx, func(err error) {
        if err != nil { span.RecordError(err) }
        span.End()
    }
}
