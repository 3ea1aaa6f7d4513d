package middleware

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// RequestLogger stores a request-scoped logger in the context and writes one
// line per request.
func RequestLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" {
			requestID = uuid.NewString()
		}
		c.Header("X-Request-ID", requestID)
		c.Set("logger", logger.With(zap.String("requestId", requestID)))

		c.Next()

		fields := []zap.Field{
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("ip", getClientIP(c)),
			zap.String("requestId", requestID),
		}
		if tenantID := c.GetString("tenantID"); tenantID != "" {
			fields = append(fields, zap.String("tenant", tenantID))
		}
		if c.Writer.Status() >= 500 {
			logger.Error("Request failed", fields...)
			return
		}
		logger.Info("Request handled", fields...)
	}
}
