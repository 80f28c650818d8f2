package middleware

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/nomercy/ranked-backend/pkg/logger"
	"github.com/nomercy/ranked-backend/pkg/ratelimit"
)

// DefaultKeyFunc uses user ID if authenticated, otherwise IP address
func DefaultKeyFunc(c *gin.Context) string {
	if userID := c.GetString(ContextUserID); userID != "" {
		return "user:" + userID
	}
	return fmt.Sprintf("ip:%s", c.ClientIP())
}

// RateLimit rejects requests over the limiter's budget with 429. Limiter
// errors fail open.
func RateLimit(limiter ratelimit.Limiter, scope string, keyFunc func(*gin.Context) string) gin.HandlerFunc {
	if keyFunc == nil {
		keyFunc = DefaultKeyFunc
	}

	return func(c *gin.Context) {
		key := scope + ":" + keyFunc(c)

		res, err := limiter.Allow(c.Request.Context(), key)
		if err != nil {
			logger.Warn("Rate limit check failed", "key", key, "error", err)
			c.Next()
			return
		}

		c.Header("X-RateLimit-Limit", strconv.FormatInt(res.Limit, 10))
		c.Header("X-RateLimit-Remaining", strconv.FormatInt(res.Remaining, 10))

		if !res.Allowed {
			c.Header("Retry-After", "1")
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error":   "rate_limited",
				"message": "Too many requests",
			})
			return
		}

		c.Next()
	}
}
