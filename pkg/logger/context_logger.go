package logger

import (
	"context"
	"time"

	"go.uber.org/zap"
)

type requestIDKey struct{}

// WithRequestID stores the control-API request id in ctx.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, id)
}

// RequestID returns the id stored by WithRequestID, or "".
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

// ContextLogger tags log lines with the request id found in a context.
type ContextLogger struct {
	base *zap.Logger
}

func NewContextLogger(base *zap.Logger) *ContextLogger {
	return &ContextLogger{base: base}
}

// For returns a logger carrying the request id of ctx, if any.
func (cl *ContextLogger) For(ctx context.Context) *zap.SugaredLogger {
	if id := RequestID(ctx); id != "" {
		return cl.base.With(zap.String("request_id", id)).Sugar()
	}
	return cl.base.Sugar()
}

// LogRequest writes the access log line. Server errors are logged at warn.
func (cl *ContextLogger) LogRequest(ctx context.Context, method, route string, status int, elapsed time.Duration) {
	log := cl.For(ctx).Infow
	if status >= 500 {
		log = cl.For(ctx).Warnw
	}
	log("request served",
		"method", method,
		"route", route,
		"status", status,
		"duration_ms", elapsed.Milliseconds(),
	)
}
