package middleware

import (
	"net/http"
	"time"

	apperrors "midilink/pkg/errors"
	"midilink/pkg/logger"
	"midilink/pkg/tracing"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
)

// route is the matched route pattern, so /devices/outputs/:target/send is
// one span name regardless of target. Unmatched requests use the raw path.
func route(c *gin.Context) string {
	if r := c.FullPath(); r != "" {
		return r
	}
	return c.Request.URL.Path
}

// TracingMiddleware opens a span per control-API request. Must run after
// RequestIDMiddleware.
func TracingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := tracing.TraceHTTPRequest(c.Request.Context(), c.Request.Method, route(c))
		defer span.End()
		if id := logger.RequestID(ctx); id != "" {
			span.SetAttributes(attribute.String("http.request_id", id))
		}
		c.Request = c.Request.WithContext(ctx)

		c.Next()

		status := c.Writer.Status()
		span.SetAttributes(attribute.Int("http.status_code", status))
		if len(c.Errors) > 0 {
			err := c.Errors.Last().Err
			if appErr := apperrors.GetAppError(err); appErr != nil {
				span.SetAttributes(attribute.String("midilink.error_code", string(appErr.Code)))
			}
			span.RecordError(err)
		}
		if status >= http.StatusInternalServerError {
			span.SetStatus(codes.Error, http.StatusText(status))
		}
	}
}

// AccessLogMiddleware logs one line per request with its request id.
func AccessLogMiddleware(log *zap.SugaredLogger) gin.HandlerFunc {
	ctxLogger := logger.NewContextLogger(log.Desugar())

	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		ctxLogger.LogRequest(c.Request.Context(), c.Request.Method, route(c), c.Writer.Status(), time.Since(start))
	}
}
