package models

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// EventType identifies one kind of connection-layer event. The wire
// names match the client protocol.
type EventType string

const (
	// client → server
	EventAddUser          EventType = "add-user"
	EventJoinConversation EventType = "join-conversation"
	EventSendMessage      EventType = "send-msg"
	EventDeleteMessage    EventType = "delete-msg"
	EventClearChat        EventType = "clear-chat"
	EventTyping           EventType = "typing"
	EventStopTyping       EventType = "stop-typing"
	EventAvatarChange     EventType = "avatar-change"
	EventLogout           EventType = "logout"

	// server → client
	EventOnlineSnapshot  EventType = "get-online-users"
	EventPresenceChanged EventType = "user-status-change"
	EventMessageReceived EventType = "msg-receive"
	EventMessageDeleted  EventType = "msg-deleted"
	EventChatCleared     EventType = "chat-cleared"
	EventAvatarUpdated   EventType = "avatar-updated"
	EventError           EventType = "error"
)

// Event is the framing for everything crossing a connection: a type tag
// plus a JSON payload decoded per type.
type Event struct {
	Type EventType       `json:"event"`
	Data json.RawMessage `json:"data,omitempty"`
}

// NewEvent builds an event from a typed payload.
func NewEvent(t EventType, payload interface{}) (Event, error) {
	if payload == nil {
		return Event{Type: t}, nil
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return Event{}, fmt.Errorf("failed to marshal %s payload: %w", t, err)
	}
	return Event{Type: t, Data: data}, nil
}

// MustEvent is NewEvent for payloads that cannot fail to marshal.
func MustEvent(t EventType, payload interface{}) Event {
	evt, err := NewEvent(t, payload)
	if err != nil {
		panic(err)
	}
	return evt
}

// Decode unmarshals the event payload into the given struct.
func (e Event) Decode(into interface{}) error {
	if len(e.Data) == 0 {
		return fmt.Errorf("%s event has no payload", e.Type)
	}
	if err := json.Unmarshal(e.Data, into); err != nil {
		return fmt.Errorf("invalid %s payload: %w", e.Type, err)
	}
	return nil
}

// Event payloads

type AddUserPayload struct {
	UserID string `json:"userId"`
}

// JoinConversationPayload subscribes a user to a conversation channel.
// For direct chats the conversation id is the canonical pair key (see
// ConversationKeyFor); joined channels scope typing relays.
type JoinConversationPayload struct {
	ConversationID string `json:"conversationId"`
	UserID         string `json:"user"`
}

type SendMessagePayload struct {
	To      string `json:"to"`
	From    string `json:"from"`
	Message string `json:"msg"`
}

type MessageReceivedPayload struct {
	Sender    string    `json:"sender"`
	Message   string    `json:"message"`
	MessageID uuid.UUID `json:"messageId"`
	Timestamp time.Time `json:"timestamp"`
}

type DeleteMessagePayload struct {
	To         string `json:"to"`
	From       string `json:"from"`
	MessageID  string `json:"messageId"`
	DeleteType string `json:"deleteType"`
}

type ClearChatPayload struct {
	From string `json:"from"`
	To   string `json:"to"`
}

type TypingPayload struct {
	To   string `json:"to"`
	From string `json:"from"`
}

type AvatarChangePayload struct {
	UserID string `json:"userId"`
	Image  string `json:"image"`
}

type PresenceChangedPayload struct {
	UserID string `json:"userId"`
	Status string `json:"status"`
}

type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Error codes carried by EventError payloads.
const (
	ErrorCodePersistence  = "persistence_failure"
	ErrorCodeNotFound     = "not_found"
	ErrorCodeUnauthorized = "unauthorized"
	ErrorCodeBadPayload   = "bad_payload"
)
