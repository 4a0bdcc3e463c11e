package observe

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// tracerName is the instrumentation scope name for the endpointd tracer.
const tracerName = "github.com/MrWong99/endpointd"

// channelKey is the attribute and log key carrying a recognizer channel id.
const channelKey = "channel"

type channelCtxKey struct{}

// WithChannel returns a copy of ctx tagged with a recognizer channel id.
// Spans started from it and loggers derived from it carry the id.
func WithChannel(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, channelCtxKey{}, id)
}

// ChannelID returns the channel id stored by [WithChannel], or "".
func ChannelID(ctx context.Context) string {
	id, _ := ctx.Value(channelCtxKey{}).(string)
	return id
}

// Tracer returns the endpointd tracer from the global provider.
func Tracer() trace.Tracer {
	return otel.Tracer(tracerName)
}

// StartSpan starts a span named name. When ctx carries a channel id it is
// recorded as the "channel" attribute. The caller must end the span.
func StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	if id := ChannelID(ctx); id != "" {
		opts = append(opts, trace.WithAttributes(attribute.String(channelKey, id)))
	}
	return Tracer().Start(ctx, name, opts...)
}

// CorrelationID returns the trace id of the span in ctx, or "".
func CorrelationID(ctx context.Context) string {
	sc := trace.SpanContextFromContext(ctx)
	if sc.HasTraceID() {
		return sc.TraceID().String()
	}
	return ""
}

// Logger returns the default logger with the channel id, trace_id and span_id
// of ctx attached, whichever are present.
func Logger(ctx context.Context) *slog.Logger {
	var attrs []any
	if id := ChannelID(ctx); id != "" {
		attrs = append(attrs, slog.String(channelKey, id))
	}
	if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
		attrs = append(attrs,
			slog.String("trace_id", sc.TraceID().String()),
			slog.String("span_id", sc.SpanID().String()),
		)
	}
	if len(attrs) == 0 {
		return slog.Default()
	}
	return slog.Default().With(attrs...)
}
