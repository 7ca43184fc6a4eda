package services

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Asit-14/EchoSphere/config"
	"github.com/Asit-14/EchoSphere/models"
	"github.com/Asit-14/EchoSphere/utils"
)

const dispatchTimeout = 10 * time.Second

// membership tracks which users joined which conversation channels, with
// a reverse index for disconnect cleanup.
type membership struct {
	mu            sync.RWMutex
	conversations map[string]map[string]bool // conversation -> set of userIDs
	users         map[string]map[string]bool // userID -> set of conversations
}

func newMembership() *membership {
	return &membership{
		conversations: make(map[string]map[string]bool),
		users:         make(map[string]map[string]bool),
	}
}

func (m *membership) join(conversationID, userID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.conversations[conversationID] == nil {
		m.conversations[conversationID] = make(map[string]bool)
	}
	m.conversations[conversationID][userID] = true
	if m.users[userID] == nil {
		m.users[userID] = make(map[string]bool)
	}
	m.users[userID][conversationID] = true
}

func (m *membership) leaveAll(userID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for conversationID := range m.users[userID] {
		if members, ok := m.conversations[conversationID]; ok {
			delete(members, userID)
			if len(members) == 0 {
				delete(m.conversations, conversationID)
			}
		}
	}
	delete(m.users, userID)
}

func (m *membership) isMember(conversationID, userID string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.conversations[conversationID][userID]
}

func (m *membership) hasAny(userID string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.users[userID]) > 0
}

// Hub owns the session lifecycle: the add-user handshake, event
// dispatch for active connections, conversation channel membership, and
// disconnect cleanup. One hub serves all connections of the process; no
// connection's handling blocks another's, because each connection
// dispatches from its own read pump.
type Hub struct {
	cfg      *config.Config
	registry *Registry
	presence *PresenceService
	delivery *DeliveryService
	router   *Router
	logger   *utils.Logger

	channels *membership
}

func NewHub(cfg *config.Config, registry *Registry, presence *PresenceService, delivery *DeliveryService, router *Router, logger *utils.Logger) *Hub {
	return &Hub{
		cfg:      cfg,
		registry: registry,
		presence: presence,
		delivery: delivery,
		router:   router,
		logger:   logger,
		channels: newMembership(),
	}
}

// Dispatch routes one inbound event to its handler. Only the add-user
// handshake is accepted before the session is ACTIVE; everything else is
// dropped until then.
func (h *Hub) Dispatch(c *Client, evt models.Event) {
	if evt.Type == models.EventAddUser {
		h.handleAddUser(c, evt)
		return
	}

	if c.State() != StateActive {
		h.logger.Warn("Dropping event from unauthenticated connection", "event", evt.Type, "conn_id", c.ID())
		return
	}

	switch evt.Type {
	case models.EventJoinConversation:
		h.handleJoinConversation(c, evt)
	case models.EventSendMessage:
		h.handleSendMessage(c, evt)
	case models.EventDeleteMessage:
		h.handleDeleteMessage(c, evt)
	case models.EventClearChat:
		h.handleClearChat(c, evt)
	case models.EventTyping, models.EventStopTyping:
		h.handleTyping(c, evt)
	case models.EventAvatarChange:
		h.handleAvatarChange(c, evt)
	case models.EventLogout:
		h.handleLogout(c, evt)
	default:
		h.logger.Warn("Unknown event", "event", evt.Type, "user", c.UserID())
	}
}

// HandleDisconnect cleans up after a connection, whether it closed
// gracefully or the network dropped. Idempotent: the registry treats
// unknown connection IDs as a no-op.
func (h *Hub) HandleDisconnect(c *Client) {
	h.presence.HandleDisconnect(c.ID())
	if c.UserID() != "" && !h.registry.IsOnline(c.UserID()) {
		h.channels.leaveAll(c.UserID())
	}
}

// handleAddUser completes the authentication handshake. The claimed
// identity must match the subject of the token that authorized the
// upgrade; the core never generates identities itself.
func (h *Hub) handleAddUser(c *Client, evt models.Event) {
	var payload models.AddUserPayload
	if err := evt.Decode(&payload); err != nil {
		h.sendError(c, models.ErrorCodeBadPayload, err.Error())
		return
	}

	if c.State() == StateActive {
		h.logger.Debug("Duplicate add-user ignored", "user", c.UserID())
		return
	}

	if payload.UserID == "" || payload.UserID != c.authUserID {
		h.logger.Warn("add-user identity does not match token subject", "claimed", payload.UserID, "subject", c.authUserID)
		h.sendError(c, models.ErrorCodeUnauthorized, "identity does not match credentials")
		c.Close()
		return
	}

	c.userID = payload.UserID
	if !c.state.CompareAndSwap(int32(StateAuthenticating), int32(StateActive)) {
		// Lost the race with a concurrent close, e.g. the grace timer.
		h.logger.Debug("Session no longer authenticating, add-user ignored", "conn", c.ID())
		return
	}
	h.presence.HandleConnect(c)
	h.logger.Info("Session active", "user", c.userID, "conn", c.ID())
}

func (h *Hub) handleJoinConversation(c *Client, evt models.Event) {
	var payload models.JoinConversationPayload
	if err := evt.Decode(&payload); err != nil {
		h.sendError(c, models.ErrorCodeBadPayload, err.Error())
		return
	}
	h.channels.join(payload.ConversationID, c.UserID())
}

func (h *Hub) handleSendMessage(c *Client, evt models.Event) {
	var payload models.SendMessagePayload
	if err := evt.Decode(&payload); err != nil {
		h.sendError(c, models.ErrorCodeBadPayload, err.Error())
		return
	}
	if payload.From != c.UserID() {
		h.sendError(c, models.ErrorCodeUnauthorized, "sender does not match session")
		return
	}
	if payload.To == "" || payload.Message == "" {
		h.sendError(c, models.ErrorCodeBadPayload, "recipient and message are required")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), dispatchTimeout)
	defer cancel()

	if _, _, err := h.delivery.Send(ctx, payload.From, payload.To, payload.Message); err != nil {
		h.sendError(c, models.ErrorCodePersistence, "message could not be stored")
	}
}

func (h *Hub) handleDeleteMessage(c *Client, evt models.Event) {
	var payload models.DeleteMessagePayload
	if err := evt.Decode(&payload); err != nil {
		h.sendError(c, models.ErrorCodeBadPayload, err.Error())
		return
	}
	messageID, err := uuid.Parse(payload.MessageID)
	if err != nil {
		h.sendError(c, models.ErrorCodeBadPayload, "invalid message id")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), dispatchTimeout)
	defer cancel()

	if _, err := h.delivery.DeleteMessage(ctx, c.UserID(), messageID, payload.DeleteType); err != nil {
		switch {
		case errors.Is(err, models.ErrMessageNotFound):
			h.sendError(c, models.ErrorCodeNotFound, "message not found")
		case errors.Is(err, models.ErrNotSender):
			h.sendError(c, models.ErrorCodeUnauthorized, "only the sender can delete for everyone")
		default:
			h.sendError(c, models.ErrorCodePersistence, "delete failed")
		}
	}
}

func (h *Hub) handleClearChat(c *Client, evt models.Event) {
	var payload models.ClearChatPayload
	if err := evt.Decode(&payload); err != nil {
		h.sendError(c, models.ErrorCodeBadPayload, err.Error())
		return
	}
	if payload.From != c.UserID() {
		h.sendError(c, models.ErrorCodeUnauthorized, "sender does not match session")
		return
	}
	if payload.To == "" {
		h.sendError(c, models.ErrorCodeBadPayload, "counterpart is required")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), dispatchTimeout)
	defer cancel()

	if _, err := h.delivery.ClearConversation(ctx, payload.From, payload.To); err != nil {
		h.sendError(c, models.ErrorCodePersistence, "clear failed")
	}
}

// handleTyping relays a typing indicator to the other participant's live
// connections. Fire-and-forget: nothing is persisted and a lost
// indicator is acceptable.
func (h *Hub) handleTyping(c *Client, evt models.Event) {
	var payload models.TypingPayload
	if err := evt.Decode(&payload); err != nil {
		return
	}
	if payload.From != c.UserID() {
		return
	}
	if !h.wantsEphemeral(payload.From, payload.To) {
		return
	}
	h.router.RelayToUser(payload.To, models.MustEvent(evt.Type, models.TypingPayload{From: payload.From}))
}

// wantsEphemeral applies conversation-channel scoping to ephemeral
// relays. A recipient who joined channels only hears typing from the
// conversations they joined; a recipient who never joined any channel
// hears every indicator, matching clients that skip join-conversation.
func (h *Hub) wantsEphemeral(from, to string) bool {
	if !h.channels.hasAny(to) {
		return true
	}
	return h.channels.isMember(models.ConversationKeyFor(from, to), to)
}

// handleAvatarChange relays an avatar update to every other connection.
func (h *Hub) handleAvatarChange(c *Client, evt models.Event) {
	var payload models.AvatarChangePayload
	if err := evt.Decode(&payload); err != nil {
		h.sendError(c, models.ErrorCodeBadPayload, err.Error())
		return
	}
	h.router.Broadcast(c.ID(), models.MustEvent(models.EventAvatarUpdated, payload))
}

// handleLogout tears down the user's presence explicitly, across all of
// their devices.
func (h *Hub) handleLogout(c *Client, evt models.Event) {
	var payload models.AddUserPayload
	if err := evt.Decode(&payload); err != nil {
		h.sendError(c, models.ErrorCodeBadPayload, err.Error())
		return
	}
	if payload.UserID != c.UserID() {
		h.sendError(c, models.ErrorCodeUnauthorized, "logout user does not match session")
		return
	}
	h.channels.leaveAll(payload.UserID)
	h.presence.HandleLogout(payload.UserID)
}

func (h *Hub) sendError(c *Client, code, message string) {
	evt := models.MustEvent(models.EventError, models.ErrorPayload{Code: code, Message: message})
	if err := c.Send(evt); err != nil {
		h.logger.Debug("Failed to deliver error event", "conn", c.ID(), "error", err)
	}
}
