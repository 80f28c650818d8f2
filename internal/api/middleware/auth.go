package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	jwtutil "github.com/nomercy/ranked-backend/pkg/jwt"
)

// Context keys set by Auth.
const (
	ContextUserID = "userId"
	ContextClaims = "claims"
)

// Auth verifies the bearer token. Browsers cannot set headers on WebSocket
// upgrades, so a "token" query parameter is accepted as well.
func Auth(jwtManager *jwtutil.JWTManager) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := c.Query("token")

		if authHeader := c.GetHeader("Authorization"); authHeader != "" {
			parts := strings.Split(authHeader, " ")
			if len(parts) != 2 || parts[0] != "Bearer" {
				abortUnauthorized(c, "Invalid authorization header format")
				return
			}
			token = parts[1]
		}

		if token == "" {
			abortUnauthorized(c, "Authorization header required")
			return
		}

		claims, err := jwtManager.Verify(token)
		if err != nil {
			abortUnauthorized(c, "Invalid or expired token")
			return
		}

		c.Set(ContextUserID, claims.UserID)
		c.Set(ContextClaims, claims)

		c.Next()
	}
}

// RequireAdmin must run after Auth.
func RequireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		claims := ClaimsFrom(c)
		if claims == nil || !claims.IsAdmin() {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"error":   "forbidden",
				"message": "Admin role required",
			})
			return
		}
		c.Next()
	}
}

// ClaimsFrom claims stored by Auth, or nil.
func ClaimsFrom(c *gin.Context) *jwtutil.Claims {
	v, ok := c.Get(ContextClaims)
	if !ok {
		return nil
	}
	claims, _ := v.(*jwtutil.Claims)
	return claims
}

func abortUnauthorized(c *gin.Context, message string) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
		"error":   "unauthorized",
		"message": message,
	})
}
