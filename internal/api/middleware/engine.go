package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// RequireEngine rejects requests while this instance is a standby that does
// not run the matchmaking engine. A nil ready func means always active.
func RequireEngine(ready func() bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		if ready != nil && !ready() {
			c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{
				"error":   "standby",
				"message": "Matchmaking engine is running on another instance",
			})
			return
		}
		c.Next()
	}
}
