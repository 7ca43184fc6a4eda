package models

import (
	"database/sql/driver"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// StringList is a JSONB-backed string array for PostgreSQL
type StringList []string

func (s StringList) Value() (driver.Value, error) {
	if s == nil {
		return json.Marshal([]string{})
	}
	return json.Marshal(s)
}

func (s *StringList) Scan(value interface{}) error {
	if value == nil {
		*s = StringList{}
		return nil
	}

	bytes, ok := value.([]byte)
	if !ok {
		return nil
	}

	return json.Unmarshal(bytes, s)
}

// Contains reports whether the list holds the given value.
func (s StringList) Contains(value string) bool {
	for _, v := range s {
		if v == value {
			return true
		}
	}
	return false
}

// Message represents one direct message between two users. A message is
// physically removed only when its sender deletes it for everyone;
// per-viewer deletion just records the viewer in DeletedFor.
type Message struct {
	ID              uuid.UUID  `json:"id" gorm:"type:uuid;primary_key;default:uuid_generate_v4()"`
	ConversationKey string     `json:"-" gorm:"index;not null"`
	SenderID        string     `json:"sender_id" gorm:"not null"`
	RecipientID     string     `json:"recipient_id" gorm:"not null"`
	Body            string     `json:"body" gorm:"not null"`
	DeletedFor      StringList `json:"-" gorm:"type:jsonb;default:'[]'"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

func (Message) TableName() string {
	return "messages"
}

// VisibleTo reports whether the viewer may see this message: the viewer
// must be a participant and must not have deleted it for themselves.
func (m *Message) VisibleTo(viewer string) bool {
	if viewer != m.SenderID && viewer != m.RecipientID {
		return false
	}
	return !m.DeletedFor.Contains(viewer)
}

// Counterpart returns the other participant of the message's conversation.
func (m *Message) Counterpart(viewer string) string {
	if viewer == m.SenderID {
		return m.RecipientID
	}
	return m.SenderID
}

// ConversationKeyFor builds the canonical key for an unordered user pair,
// so {a,b} and {b,a} address the same conversation.
func ConversationKeyFor(a, b string) string {
	if a > b {
		a, b = b, a
	}
	return a + ":" + b
}

// Request/Response DTOs for the message REST API

type AddMessageRequest struct {
	From    string `json:"from" binding:"required"`
	To      string `json:"to" binding:"required"`
	Message string `json:"message" binding:"required"`
}

type GetMessagesRequest struct {
	From string `json:"from" binding:"required"`
	To   string `json:"to" binding:"required"`
}

type DeleteMessageRequest struct {
	DeleteType string `json:"deleteType" binding:"required"`
}

type ClearChatRequest struct {
	From string `json:"from" binding:"required"`
	To   string `json:"to" binding:"required"`
}

// HistoryEntry is the per-viewer projection of a message in a history
// fetch: the viewer sees whether they sent it, not raw participant IDs.
type HistoryEntry struct {
	FromSelf  bool      `json:"fromSelf"`
	Message   string    `json:"message"`
	MessageID uuid.UUID `json:"messageId"`
	Timestamp time.Time `json:"timestamp"`
}

// Delete types accepted by the delete-message operation.
const (
	DeleteForMe       = "forMe"
	DeleteForEveryone = "forEveryone"
)
