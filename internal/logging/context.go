package logging

import (
	"context"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

type requestCtxKey struct{}
type answerTraceCtxKey struct{}
type loggerCtxKey struct{}

// maxIDLen bounds correlation ids copied from request headers.
const maxIDLen = 128

// ContextFields extracts correlation fields from ctx.
func ContextFields(ctx context.Context) []zap.Field {
	fields := make([]zap.Field, 0, 5)

	if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
		fields = append(fields,
			zap.String("trace_id", sc.TraceID().String()),
			zap.String("span_id", sc.SpanID().String()),
		)
		if sc.IsSampled() {
			fields = append(fields, zap.Bool("trace_sampled", true))
		}
	}

	if id := RequestIDFromContext(ctx); id != "" {
		fields = append(fields, zap.String("request.id", id))
	}
	if id := AnswerTraceIDFromContext(ctx); id != "" {
		fields = append(fields, zap.String("answer.trace_id", id))
	}

	return fields
}

// WithRequestID stores the HTTP request id. Empty ids leave ctx unchanged
// and overlong ids are truncated.
func WithRequestID(ctx context.Context, id string) context.Context {
	if id == "" {
		return ctx
	}
	if len(id) > maxIDLen {
		id = id[:maxIDLen]
	}
	return context.WithValue(ctx, requestCtxKey{}, id)
}

// RequestIDFromContext returns the request id or "".
func RequestIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(requestCtxKey{}).(string)
	return id
}

// WithAnswerTraceID stores the id shared by the primary and fallback
// attempts of a single answer.
func WithAnswerTraceID(ctx context.Context, id string) context.Context {
	if id == "" {
		return ctx
	}
	return context.WithValue(ctx, answerTraceCtxKey{}, id)
}

// AnswerTraceIDFromContext returns the answer trace id or "".
func AnswerTraceIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(answerTraceCtxKey{}).(string)
	return id
}

// WithLogger stores logger in ctx.
func WithLogger(ctx context.Context, logger *Logger) context.Context {
	return context.WithValue(ctx, loggerCtxKey{}, logger)
}

// FromContext returns the logger stored in ctx, or a nop logger.
func FromContext(ctx context.Context) *Logger {
	if l, ok := ctx.Value(loggerCtxKey{}).(*Logger); ok && l != nil {
		return l
	}
	return NewNop()
}
