package logging

import (
	"context"
	"regexp"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const maxIDLen = 128

var idPattern = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

type agentCtxKey struct{}
type requestCtxKey struct{}
type loggerCtxKey struct{}

// ContextFields extracts correlation data from ctx.
func ContextFields(ctx context.Context) []zap.Field {
	fields := make([]zap.Field, 0, 5)

	if span := trace.SpanFromContext(ctx); span.SpanContext().IsValid() {
		sc := span.SpanContext()
		fields = append(fields,
			zap.String("trace_id", sc.TraceID().String()),
			zap.String("span_id", sc.SpanID().String()),
		)
		if sc.IsSampled() {
			fields = append(fields, zap.Bool("trace_sampled", true))
		}
	}

	if id, ok := AgentIDFromContext(ctx); ok {
		fields = append(fields, zap.Int64("agent.id", id))
	}
	if requestID := RequestIDFromContext(ctx); requestID != "" {
		fields = append(fields, zap.String("request.id", requestID))
	}
	return fields
}

// WithAgentID records the agent on whose behalf ctx acts.
func WithAgentID(ctx context.Context, id int64) context.Context {
	return context.WithValue(ctx, agentCtxKey{}, id)
}

// AgentIDFromContext returns the acting agent, if any.
func AgentIDFromContext(ctx context.Context) (int64, bool) {
	id, ok := ctx.Value(agentCtxKey{}).(int64)
	return id, ok
}

// WithRequestID attaches a request id. Ids that are empty, too long, or
// contain characters outside [A-Za-z0-9_-] are replaced with a fresh
// uuid, so client-supplied headers cannot inject into log lines.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	if !ValidID(requestID) {
		requestID = uuid.NewString()
	}
	return context.WithValue(ctx, requestCtxKey{}, requestID)
}

// ValidID reports whether id is usable as a correlation id.
func ValidID(id string) bool {
	return id != "" && len(id) <= maxIDLen && idPattern.MatchString(id)
}

// RequestIDFromContext returns the request id, or "".
func RequestIDFromContext(ctx context.Context) string {
	if r, ok := ctx.Value(requestCtxKey{}).(string); ok {
		return r
	}
	return ""
}

// WithLogger stores logger in ctx.
func WithLogger(ctx context.Context, logger *Logger) context.Context {
	return context.WithValue(ctx, loggerCtxKey{}, logger)
}

// FromContext returns the logger stored in ctx, or a nop logger.
func FromContext(ctx context.Context) *Logger {
	if l, ok := ctx.Value(loggerCtxKey{}).(*Logger); ok {
		return l
	}
	return NewNop()
}
