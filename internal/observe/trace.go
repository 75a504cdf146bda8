package observe

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// tracerName is the instrumentation scope of every livetalk span.
const tracerName = "github.com/MrWong99/livetalk"

// SessionIDKey tags spans with the voice session they belong to.
const SessionIDKey = attribute.Key("livetalk.session.id")

type sessionKey struct{}

// StartSpan starts a span on the global tracer provider. The caller ends it,
// usually through [EndSpan].
func StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, name, opts...)
}

// StartSessionSpan is [StartSpan] for work done on behalf of one voice
// session. The span carries [SessionIDKey] and the returned context carries
// the session ID for [Logger] and [SessionID].
func StartSessionSpan(ctx context.Context, name, sessionID string) (context.Context, trace.Span) {
	ctx = WithSessionID(ctx, sessionID)
	return StartSpan(ctx, name, trace.WithAttributes(SessionIDKey.String(sessionID)))
}

// EndSpan marks span as failed when err is non-nil and ends it.
func EndSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// WithSessionID returns a copy of ctx carrying the voice session ID.
func WithSessionID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, sessionKey{}, id)
}

// SessionID returns the voice session ID carried by ctx, or "".
func SessionID(ctx context.Context) string {
	id, _ := ctx.Value(sessionKey{}).(string)
	return id
}

// CorrelationID returns the trace ID of the span in ctx, or "" without one.
// HTTP responses echo it in X-Correlation-ID.
func CorrelationID(ctx context.Context) string {
	if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
		return sc.TraceID().String()
	}
	return ""
}

// Logger returns the default logger with whatever ctx knows about the
// request attached: trace_id and span_id from the active span, and
// session_id from [WithSessionID].
func Logger(ctx context.Context) *slog.Logger {
	var attrs []any
	if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
		attrs = append(attrs,
			slog.String("trace_id", sc.TraceID().String()),
			slog.String("span_id", sc.SpanID().String()),
		)
	}
	if id := SessionID(ctx); id != "" {
		attrs = append(attrs, slog.String("session_id", id))
	}
	if len(attrs) == 0 {
		return slog.Default()
	}
	return slog.Default().With(attrs...)
}
