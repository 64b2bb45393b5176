package observability

import (
	"context"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/xbcsmith/xzepr/internal/common/logging"
	"go.uber.org/zap"
)

const (
	RequestIDHeader     = "X-Request-ID"
	CorrelationIDHeader = "X-Correlation-ID"
)

type contextKey string

const correlationIDKey contextKey = "correlation_id"

// RequestID tags each request with a request and correlation id, taken from
// the incoming headers when present, and attaches a logger carrying both.
func RequestID(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := headerOrNew(c, RequestIDHeader)
		correlationID := headerOrNew(c, CorrelationIDHeader)

		ctx := logging.WithLogger(c.Request.Context(), logger.With(
			zap.String("correlation_id", correlationID),
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
		))
		ctx = logging.WithRequestID(ctx, requestID)
		ctx = context.WithValue(ctx, correlationIDKey, correlationID)
		c.Request = c.Request.WithContext(ctx)

		c.Header(RequestIDHeader, requestID)
		c.Header(CorrelationIDHeader, correlationID)
		c.Next()
	}
}

func headerOrNew(c *gin.Context, name string) string {
	if v := c.GetHeader(name); v != "" {
		return v
	}
	return uuid.New().String()
}

func GetCorrelationID(ctx context.Context) string {
	if id, ok := ctx.Value(correlationIDKey).(string); ok {
		return id
	}
	return ""
}
