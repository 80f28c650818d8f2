package middleware

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/nomercy/ranked-backend/pkg/logger"
)

// Logger HTTP request logging middleware
func Logger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		latency := time.Since(start)
		fields := []interface{}{
			"method", c.Request.Method,
			"path", path,
			"status", c.Writer.Status(),
			"latency", latency,
			"ip", c.ClientIP(),
		}
		if userID := c.GetString(ContextUserID); userID != "" {
			fields = append(fields, "userId", userID)
		}

		if c.Writer.Status() >= 500 {
			logger.Error("HTTP Request", fields...)
			return
		}
		logger.Info("HTTP Request", fields...)
	}
}
