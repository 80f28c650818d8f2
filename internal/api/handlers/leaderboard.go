package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/nomercy/ranked-backend/internal/service"
)

type LeaderboardHandler struct {
	matchService *service.MatchService
}

func NewLeaderboardHandler(matchService *service.MatchService) *LeaderboardHandler {
	return &LeaderboardHandler{
		matchService: matchService,
	}
}

// GetLeaderboard godoc
// @Summary Get a ranked mode's leaderboard
// @Description Top players of one ranked mode by points
// @Tags leaderboard
// @Produce json
// @Param mode path string true "Ranked mode"
// @Param limit query int false "Number of players to return" default(20)
// @Success 200 {object} map[string]interface{} "Leaderboard"
// @Router /leaderboard/{mode} [get]
func (h *LeaderboardHandler) GetLeaderboard(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))

	entries, err := h.matchService.Leaderboard(c.Request.Context(), c.Param("mode"), limit)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"rankedMode":  c.Param("mode"),
		"leaderboard": entries,
		"total":       len(entries),
	})
}
