package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// Health godoc
// @Summary Health check
// @Description Check if the API server is running and whether it runs the matchmaking engine
// @Tags system
// @Produce json
// @Success 200 {object} map[string]string "Server is healthy"
// @Router /health [get]
func Health(engineReady func() bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		engine := "active"
		if engineReady != nil && !engineReady() {
			engine = "standby"
		}
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"service": "ranked-backend",
			"engine":  engine,
		})
	}
}
