package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/Asit-14/EchoSphere/models"
	"github.com/Asit-14/EchoSphere/services"
	"github.com/Asit-14/EchoSphere/utils"
)

// PresenceHandler exposes read-only presence state over HTTP.
type PresenceHandler struct {
	presence *services.PresenceService
	logger   *utils.Logger
}

func NewPresenceHandler(presence *services.PresenceService, logger *utils.Logger) *PresenceHandler {
	return &PresenceHandler{
		presence: presence,
		logger:   logger,
	}
}

// GetOnlineUsers handles GET /api/presence/online
func (h *PresenceHandler) GetOnlineUsers(c *gin.Context) {
	users := h.presence.Snapshot(c.Request.Context())
	c.JSON(http.StatusOK, models.OnlineUsersResponse{
		Count: len(users),
		Users: users,
	})
}

// GetStatus handles GET /api/presence/status?user_id=...
func (h *PresenceHandler) GetStatus(c *gin.Context) {
	userID := c.Query("user_id")
	if userID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "user_id parameter is required"})
		return
	}
	c.JSON(http.StatusOK, h.presence.Presence(userID))
}
