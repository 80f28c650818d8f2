package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/nomercy/ranked-backend/internal/api/middleware"
	"github.com/nomercy/ranked-backend/internal/models"
	"github.com/nomercy/ranked-backend/internal/service"
)

type MatchHandler struct {
	matchService       *service.MatchService
	matchmakingService *service.MatchmakingService
}

func NewMatchHandler(matchService *service.MatchService, matchmakingService *service.MatchmakingService) *MatchHandler {
	return &MatchHandler{
		matchService:       matchService,
		matchmakingService: matchmakingService,
	}
}

type PickRequest struct {
	Player models.PlayerRef `json:"player" binding:"required"`
}

type VoteRequest struct {
	Map string `json:"map" binding:"required"`
}

type ReportResultRequest struct {
	WinnerTeam models.Team `json:"winnerTeam" binding:"required"`
}

// GetMatch GET /matches/:id
func (h *MatchHandler) GetMatch(c *gin.Context) {
	m, err := h.matchService.GetMatch(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"match": m,
	})
}

// Pick POST /matches/:id/draft/pick
func (h *MatchHandler) Pick(c *gin.Context) {
	var req PickRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	err := h.matchmakingService.Pick(c.Request.Context(), c.Param("id"), c.GetString(middleware.ContextUserID), req.Player)
	if err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// Vote POST /matches/:id/vote
func (h *MatchHandler) Vote(c *gin.Context) {
	var req VoteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	err := h.matchmakingService.CastVote(c.Request.Context(), c.Param("id"), c.GetString(middleware.ContextUserID), req.Map)
	if err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// Start POST /matches/:id/start
func (h *MatchHandler) Start(c *gin.Context) {
	m, err := h.matchService.StartMatch(c.Request.Context(), c.Param("id"), c.GetString(middleware.ContextUserID), isAdmin(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"match": m,
	})
}

// Complete POST /matches/:id/complete
func (h *MatchHandler) Complete(c *gin.Context) {
	var req ReportResultRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	m, err := h.matchService.CompleteMatch(c.Request.Context(), c.Param("id"), c.GetString(middleware.ContextUserID), req.WinnerTeam, isAdmin(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"match": m,
	})
}

// Dispute POST /matches/:id/dispute
func (h *MatchHandler) Dispute(c *gin.Context) {
	m, err := h.matchService.DisputeMatch(c.Request.Context(), c.Param("id"), c.GetString(middleware.ContextUserID))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"match": m,
	})
}

func isAdmin(c *gin.Context) bool {
	claims := middleware.ClaimsFrom(c)
	return claims != nil && claims.IsAdmin()
}
