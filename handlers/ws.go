package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/Asit-14/EchoSphere/services"
	"github.com/Asit-14/EchoSphere/utils"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// Cross-origin is policed by the CORS middleware and the JWT on the
	// upgrade request.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// WebSocketHandler upgrades an authenticated request to the persistent
// event connection and hands it to the hub.
type WebSocketHandler struct {
	hub    *services.Hub
	logger *utils.Logger
}

func NewWebSocketHandler(hub *services.Hub, logger *utils.Logger) *WebSocketHandler {
	return &WebSocketHandler{
		hub:    hub,
		logger: logger,
	}
}

// Serve handles GET /ws
func (h *WebSocketHandler) Serve(c *gin.Context) {
	userID := c.GetString("userID")
	if userID == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthenticated"})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Error("WebSocket upgrade failed", "error", err)
		return
	}

	client := services.NewClient(h.hub, conn, userID)
	client.Start()
}
