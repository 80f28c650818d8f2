package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/nomercy/ranked-backend/internal/service"
	"github.com/nomercy/ranked-backend/pkg/logger"
)

var reasonStatus = map[string]int{
	"already_queued":          http.StatusConflict,
	"not_queued":              http.StatusNotFound,
	"mode_unavailable":        http.StatusBadRequest,
	"already_in_active_match": http.StatusConflict,
	"precondition_failed":     http.StatusPreconditionFailed,
	"insufficient_players":    http.StatusUnprocessableEntity,
	"ban_active":              http.StatusForbidden,
	"vote_already_resolved":   http.StatusConflict,
	"match_not_found":         http.StatusNotFound,
	"not_captain":             http.StatusForbidden,
	"not_your_turn":           http.StatusConflict,
	"draft_inactive":          http.StatusConflict,
	"player_not_in_pool":      http.StatusBadRequest,
	"invalid_map":             http.StatusBadRequest,
	"not_in_match":            http.StatusForbidden,
	"voting_closed":           http.StatusConflict,
	"not_connected":           http.StatusPreconditionFailed,
	"invalid_transition":      http.StatusConflict,
	"concurrent_update":       http.StatusConflict,
}

// respondError writes {error, message, data} for engine rejections and a
// generic 500 for anything else.
func respondError(c *gin.Context, err error) {
	var engineErr *service.EngineError
	if errors.As(err, &engineErr) {
		status, ok := reasonStatus[engineErr.Reason]
		if !ok {
			status = http.StatusBadRequest
		}
		body := gin.H{
			"error":   engineErr.Reason,
			"message": engineErr.Message,
		}
		if engineErr.Data != nil {
			body["data"] = engineErr.Data
		}
		c.JSON(status, body)
		return
	}

	if errors.Is(err, service.ErrInvalidInput) {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_input",
			"message": err.Error(),
		})
		return
	}

	logger.Error("Request failed", "path", c.FullPath(), "error", err)
	c.JSON(http.StatusInternalServerError, gin.H{
		"error":   "internal_error",
		"message": "Internal server error",
	})
}

func badRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, gin.H{
		"error":   "invalid_input",
		"message": err.Error(),
	})
}
