package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/nomercy/ranked-backend/internal/api/middleware"
	"github.com/nomercy/ranked-backend/internal/models"
	"github.com/nomercy/ranked-backend/internal/service"
)

type QueueHandler struct {
	matchmakingService *service.MatchmakingService
}

func NewQueueHandler(matchmakingService *service.MatchmakingService) *QueueHandler {
	return &QueueHandler{
		matchmakingService: matchmakingService,
	}
}

type JoinQueueRequest struct {
	RankedMode string          `json:"rankedMode" binding:"required"`
	GameMode   string          `json:"gameMode" binding:"required"`
	Platform   models.Platform `json:"platform" binding:"required,oneof=pc console"`
}

// Join POST /queue/join
func (h *QueueHandler) Join(c *gin.Context) {
	var req JoinQueueRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	claims := middleware.ClaimsFrom(c)
	displayName := claims.DisplayName
	if displayName == "" {
		displayName = claims.Username
	}

	status, err := h.matchmakingService.Join(c.Request.Context(), service.JoinRequest{
		PlayerID:    claims.UserID,
		DisplayName: displayName,
		AvatarURL:   claims.AvatarURL,
		Platform:    req.Platform,
		GameMode:    req.GameMode,
		RankedMode:  req.RankedMode,
	})
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"queue": status,
	})
}

// Leave POST /queue/leave
func (h *QueueHandler) Leave(c *gin.Context) {
	if err := h.matchmakingService.Leave(c.Request.Context(), c.GetString(middleware.ContextUserID)); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// Status GET /queue/status
func (h *QueueHandler) Status(c *gin.Context) {
	status, ok := h.matchmakingService.Status(c.GetString(middleware.ContextUserID))
	if !ok {
		c.JSON(http.StatusOK, gin.H{
			"queued": false,
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"queued": true,
		"queue":  status,
	})
}

// ListModes GET /modes
func (h *QueueHandler) ListModes(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"modes": h.matchmakingService.Modes(),
	})
}
