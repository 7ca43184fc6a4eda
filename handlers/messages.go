package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/Asit-14/EchoSphere/models"
	"github.com/Asit-14/EchoSphere/services"
	"github.com/Asit-14/EchoSphere/utils"
)

// MessageHandler exposes the request/response side of messaging:
// history fetch and add/delete/clear against the durable store. Sends
// through this API take the same persist-then-push path as sends over
// the event connection.
type MessageHandler struct {
	delivery *services.DeliveryService
	logger   *utils.Logger
}

func NewMessageHandler(delivery *services.DeliveryService, logger *utils.Logger) *MessageHandler {
	return &MessageHandler{
		delivery: delivery,
		logger:   logger,
	}
}

// requireActor verifies that the acting identity a request names is the
// authenticated token subject. Request bodies and path params are
// client-controlled; the token is the only identity this API trusts.
func requireActor(c *gin.Context, claimed string) bool {
	if claimed == "" || claimed != c.GetString("userID") {
		c.JSON(http.StatusForbidden, gin.H{"error": "Acting user does not match credentials"})
		return false
	}
	return true
}

// GetMessages handles POST /api/messages/getmsg
func (h *MessageHandler) GetMessages(c *gin.Context) {
	var req models.GetMessagesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "details": err.Error()})
		return
	}
	if !requireActor(c, req.From) {
		return
	}

	entries, err := h.delivery.History(c.Request.Context(), req.From, req.To)
	if err != nil {
		h.logger.Error("Failed to fetch history", "from", req.From, "to", req.To, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch messages"})
		return
	}

	c.JSON(http.StatusOK, entries)
}

// AddMessage handles POST /api/messages/addmsg
func (h *MessageHandler) AddMessage(c *gin.Context) {
	var req models.AddMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "details": err.Error()})
		return
	}
	if !requireActor(c, req.From) {
		return
	}

	msg, _, err := h.delivery.Send(c.Request.Context(), req.From, req.To, req.Message)
	if err != nil {
		h.logger.Error("Failed to add message", "from", req.From, "to", req.To, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"msg": "Failed to add message to the database"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"msg": "Message added successfully.", "messageId": msg.ID})
}

// DeleteMessage handles POST /api/messages/deletemsg/:messageId/:userId
func (h *MessageHandler) DeleteMessage(c *gin.Context) {
	messageID, err := uuid.Parse(c.Param("messageId"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid message id"})
		return
	}
	userID := c.Param("userId")
	if !requireActor(c, userID) {
		return
	}

	var req models.DeleteMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "details": err.Error()})
		return
	}

	_, err = h.delivery.DeleteMessage(c.Request.Context(), userID, messageID, req.DeleteType)
	switch {
	case err == nil:
	case errors.Is(err, models.ErrMessageNotFound):
		c.JSON(http.StatusNotFound, gin.H{"msg": "Message not found"})
		return
	case errors.Is(err, models.ErrNotSender):
		c.JSON(http.StatusForbidden, gin.H{"msg": "You can only delete your own messages for everyone"})
		return
	default:
		h.logger.Error("Failed to delete message", "id", messageID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"msg": "Failed to delete message"})
		return
	}

	responseMsg := "Message deleted for you"
	if req.DeleteType == models.DeleteForEveryone {
		responseMsg = "Message deleted for everyone"
	}
	c.JSON(http.StatusOK, gin.H{
		"msg":        responseMsg,
		"messageId":  messageID,
		"deleteType": req.DeleteType,
	})
}

// ClearChat handles POST /api/messages/deleteallmsg
func (h *MessageHandler) ClearChat(c *gin.Context) {
	var req models.ClearChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"msg": "Missing required parameters"})
		return
	}
	if !requireActor(c, req.From) {
		return
	}

	deleted, err := h.delivery.ClearConversation(c.Request.Context(), req.From, req.To)
	if err != nil {
		h.logger.Error("Failed to clear conversation", "from", req.From, "to", req.To, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"msg": "Server error when clearing chat"})
		return
	}

	if deleted == 0 {
		c.JSON(http.StatusOK, gin.H{"msg": "No messages found to delete"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"msg": "All messages deleted successfully", "deletedCount": deleted})
}
