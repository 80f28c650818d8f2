package handlers

import (
	gorilla "github.com/gorilla/websocket"

	"github.com/gin-gonic/gin"
	"github.com/nomercy/ranked-backend/internal/api/middleware"
	"github.com/nomercy/ranked-backend/internal/websocket"
)

type WebSocketHandler struct {
	hub      *websocket.Hub
	upgrader *gorilla.Upgrader
}

func NewWebSocketHandler(hub *websocket.Hub, allowedOrigins []string) *WebSocketHandler {
	return &WebSocketHandler{
		hub:      hub,
		upgrader: websocket.NewUpgrader(allowedOrigins),
	}
}

// HandleWebSocket upgrades an authenticated request to the event stream.
func (h *WebSocketHandler) HandleWebSocket(c *gin.Context) {
	websocket.ServeWs(h.hub, h.upgrader, c.Writer, c.Request, c.GetString(middleware.ContextUserID))
}
