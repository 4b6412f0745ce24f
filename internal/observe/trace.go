package observe

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/MrWong99/yomiage"

// Utterance identifies the narration request a context is working on.
type Utterance struct {
	GuildID   string
	RequestID string
	Kind      string
}

type utteranceKey struct{}

// WithUtterance tags ctx with u. Spans started by [StartSpan] and loggers from
// [Logger] under ctx carry its ids, including those of the synthesis call the
// utterance makes.
func WithUtterance(ctx context.Context, u Utterance) context.Context {
	return context.WithValue(ctx, utteranceKey{}, u)
}

// UtteranceFrom returns the utterance ctx was tagged with.
func UtteranceFrom(ctx context.Context) (Utterance, bool) {
	u, ok := ctx.Value(utteranceKey{}).(Utterance)
	return u, ok
}

func (u Utterance) attrs() []attribute.KeyValue {
	kv := []attribute.KeyValue{
		attribute.String("guild_id", u.GuildID),
		attribute.String("request_id", u.RequestID),
	}
	if u.Kind != "" {
		kv = append(kv, attribute.String("kind", u.Kind))
	}
	return kv
}

// StartSpan starts a span on the global tracer. Under an utterance context the
// span is tagged with the utterance ids. The caller must end the span.
func StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	if u, ok := UtteranceFrom(ctx); ok {
		opts = append([]trace.SpanStartOption{trace.WithAttributes(u.attrs()...)}, opts...)
	}
	return otel.Tracer(tracerName).Start(ctx, name, opts...)
}

func traceID(ctx context.Context) string {
	sc := trace.SpanContextFromContext(ctx)
	if sc.HasTraceID() {
		return sc.TraceID().String()
	}
	return ""
}

// Logger returns the default logger with the trace, span and utterance ids
// found in ctx.
func Logger(ctx context.Context) *slog.Logger {
	var attrs []any
	if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
		attrs = append(attrs,
			slog.String("trace_id", sc.TraceID().String()),
			slog.String("span_id", sc.SpanID().String()),
		)
	}
	if u, ok := UtteranceFrom(ctx); ok {
		attrs = append(attrs,
			slog.String("guild_id", u.GuildID),
			slog.String("request_id", u.RequestID),
		)
		if u.Kind != "" {
			attrs = append(attrs, slog.String("kind", u.Kind))
		}
	}
	if len(attrs) == 0 {
		return slog.Default()
	}
	return slog.Default().With(attrs...)
}
