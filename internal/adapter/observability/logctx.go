package observability

import (
	"context"
	"log/slog"
)

type loggerContextKey struct{}

// requestIDContextKey stores the originating request_id so background work
// can correlate its logs with the request that triggered it.
type requestIDContextKey struct{}

// ContextWithLogger attaches a non-nil logger to the context.
func ContextWithLogger(ctx context.Context, lg *slog.Logger) context.Context {
	if ctx == nil || lg == nil {
		return ctx
	}
	return context.WithValue(ctx, loggerContextKey{}, lg)
}

// LoggerFromContext returns the logger stored in the context or the default
// slog logger when none is present.
func LoggerFromContext(ctx context.Context) *slog.Logger {
	if ctx == nil {
		return slog.Default()
	}
	if v := ctx.Value(loggerContextKey{}); v != nil {
		if lg, ok := v.(*slog.Logger); ok && lg != nil {
			return lg
		}
	}
	return slog.Default()
}

// ContextWithRequestID stores a non-empty request_id in the context.
func ContextWithRequestID(ctx context.Context, requestID string) context.Context {
	if ctx == nil || requestID == "" {
		return ctx
	}
	return context.WithValue(ctx, requestIDContextKey{}, requestID)
}

// RequestIDFromContext retrieves the request_id, empty when none is present.
func RequestIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v := ctx.Value(requestIDContextKey{}); v != nil {
		if rid, ok := v.(string); ok {
			return rid
		}
	}
	return ""
}
