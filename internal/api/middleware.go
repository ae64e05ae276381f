package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/chatrelay/chatrelay/pkg/logging"
	"github.com/chatrelay/chatrelay/pkg/metrics"
)

// LoggingMiddleware creates a middleware for request logging with correlation IDs
func LoggingMiddleware(logger *logging.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		correlationID := c.GetHeader("X-Correlation-ID")
		if correlationID == "" {
			correlationID = logging.NewCorrelationID()
		}
		requestID := logging.NewCorrelationID()

		ctx := logging.WithCorrelationID(c.Request.Context(), correlationID)
		ctx = logging.WithRequestID(ctx, requestID)

		if userID := c.Query("user_id"); userID != "" {
			ctx = logging.WithUserID(ctx, userID)
		}

		c.Request = c.Request.WithContext(ctx)

		c.Header("X-Correlation-ID", correlationID)
		c.Header("X-Request-ID", requestID)

		c.Next()

		logger.LogRequest(
			c.Request.Context(),
			c.Request.Method,
			c.Request.URL.Path,
			c.Request.UserAgent(),
			c.ClientIP(),
			c.Writer.Status(),
			time.Since(start),
		)
	}
}

// RecoveryMiddleware recovers from panics, logs them and counts them
func RecoveryMiddleware(logger *logging.Logger, m *metrics.Metrics) gin.HandlerFunc {
	return gin.CustomRecovery(func(c *gin.Context, recovered interface{}) {
		logger.WithContext(c.Request.Context()).
			WithField("panic", recovered).
			Error("Request panic recovered")

		if m != nil {
			m.RecordPanic("api")
		}

		c.JSON(http.StatusInternalServerError, gin.H{
			"success": false,
			"error": gin.H{
				"type":    "internal",
				"message": "Internal server error",
			},
			"correlation_id": logging.GetCorrelationID(c.Request.Context()),
		})
	})
}
