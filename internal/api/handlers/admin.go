package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/nomercy/ranked-backend/internal/service"
)

type AdminHandler struct {
	matchService       *service.MatchService
	matchmakingService *service.MatchmakingService
}

func NewAdminHandler(matchService *service.MatchService, matchmakingService *service.MatchmakingService) *AdminHandler {
	return &AdminHandler{
		matchService:       matchService,
		matchmakingService: matchmakingService,
	}
}

type TestMatchPlayer struct {
	ID          string `json:"id" binding:"required"`
	DisplayName string `json:"displayName"`
	AvatarURL   string `json:"avatarUrl"`
}

type CreateTestMatchRequest struct {
	RankedMode string            `json:"rankedMode" binding:"required"`
	GameMode   string            `json:"gameMode" binding:"required"`
	TeamSize   int               `json:"teamSize" binding:"required,min=1"`
	Players    []TestMatchPlayer `json:"players" binding:"dive"`
	WithDraft  bool              `json:"withDraft"`
}

type BanRequest struct {
	PlayerID string `json:"playerId" binding:"required"`
	Reason   string `json:"reason" binding:"required"`
	Duration string `json:"duration" binding:"required"` // e.g. "24h"
}

type CaptainPenaltyRequest struct {
	PlayerID   string    `json:"playerId" binding:"required"`
	RankedMode string    `json:"rankedMode" binding:"required"`
	Until      time.Time `json:"until" binding:"required"`
}

// CreateTestMatch POST /admin/test-matches
func (h *AdminHandler) CreateTestMatch(c *gin.Context) {
	var req CreateTestMatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	players := make([]service.TestPlayer, len(req.Players))
	for i, p := range req.Players {
		players[i] = service.TestPlayer{ID: p.ID, DisplayName: p.DisplayName, AvatarURL: p.AvatarURL}
	}

	m, err := h.matchmakingService.StartTestMatch(c.Request.Context(), service.TestMatchRequest{
		RankedMode: req.RankedMode,
		GameMode:   req.GameMode,
		TeamSize:   req.TeamSize,
		Players:    players,
		WithDraft:  req.WithDraft,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"match": m,
	})
}

// CancelMatch POST /admin/matches/:id/cancel
func (h *AdminHandler) CancelMatch(c *gin.Context) {
	m, err := h.matchService.CancelMatch(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"match": m,
	})
}

// ResolveDispute POST /admin/matches/:id/resolve
func (h *AdminHandler) ResolveDispute(c *gin.Context) {
	var req ReportResultRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	m, err := h.matchService.ResolveDispute(c.Request.Context(), c.Param("id"), req.WinnerTeam)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"match": m,
	})
}

// BanPlayer POST /admin/bans
func (h *AdminHandler) BanPlayer(c *gin.Context) {
	var req BanRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	duration, err := time.ParseDuration(req.Duration)
	if err != nil {
		badRequest(c, err)
		return
	}

	ban, err := h.matchService.BanPlayer(c.Request.Context(), req.PlayerID, req.Reason, duration)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"ban": ban,
	})
}

// PenalizeCaptain POST /admin/captain-penalties
func (h *AdminHandler) PenalizeCaptain(c *gin.Context) {
	var req CaptainPenaltyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	if err := h.matchService.PenalizeCaptain(c.Request.Context(), req.PlayerID, req.RankedMode, req.Until); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
