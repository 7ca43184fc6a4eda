package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/Asit-14/EchoSphere/models"
)

// MessageStore is the durable side of message delivery. The live-push
// path never depends on it succeeding after the fact: a message is
// persisted before it is routed, so the store is always a superset of
// what was ever pushed.
type MessageStore interface {
	Save(ctx context.Context, msg *models.Message) error
	Get(ctx context.Context, id uuid.UUID) (*models.Message, error)
	// History returns the messages of a conversation visible to the
	// viewer, oldest first. Messages the viewer deleted for themselves
	// are excluded.
	History(ctx context.Context, viewer, other string) ([]models.Message, error)
	// HideForViewer marks a message deleted for one viewer only.
	// Idempotent: hiding twice is not an error.
	HideForViewer(ctx context.Context, id uuid.UUID, viewer string) error
	// Delete removes a message for everyone.
	Delete(ctx context.Context, id uuid.UUID) error
	// ClearConversation removes every message of a participant pair and
	// returns how many were deleted.
	ClearConversation(ctx context.Context, a, b string) (int64, error)
}

// GormMessageStore implements MessageStore on PostgreSQL.
type GormMessageStore struct {
	db *gorm.DB
}

func NewGormMessageStore(db *gorm.DB) *GormMessageStore {
	return &GormMessageStore{db: db}
}

func (s *GormMessageStore) Save(ctx context.Context, msg *models.Message) error {
	if err := s.db.WithContext(ctx).Create(msg).Error; err != nil {
		return fmt.Errorf("failed to persist message: %w", err)
	}
	return nil
}

func (s *GormMessageStore) Get(ctx context.Context, id uuid.UUID) (*models.Message, error) {
	var msg models.Message
	if err := s.db.WithContext(ctx).First(&msg, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, models.ErrMessageNotFound
		}
		return nil, fmt.Errorf("failed to load message: %w", err)
	}
	return &msg, nil
}

func (s *GormMessageStore) History(ctx context.Context, viewer, other string) ([]models.Message, error) {
	viewerTag, err := json.Marshal([]string{viewer})
	if err != nil {
		return nil, fmt.Errorf("failed to build viewer filter: %w", err)
	}

	var messages []models.Message
	err = s.db.WithContext(ctx).
		Where("conversation_key = ?", models.ConversationKeyFor(viewer, other)).
		Where("NOT deleted_for @> ?", string(viewerTag)).
		Order("created_at ASC").
		Find(&messages).Error
	if err != nil {
		return nil, fmt.Errorf("failed to fetch history: %w", err)
	}
	return messages, nil
}

func (s *GormMessageStore) HideForViewer(ctx context.Context, id uuid.UUID, viewer string) error {
	msg, err := s.Get(ctx, id)
	if err != nil {
		return err
	}

	if msg.DeletedFor.Contains(viewer) {
		return nil
	}
	msg.DeletedFor = append(msg.DeletedFor, viewer)

	if err := s.db.WithContext(ctx).Model(msg).Update("deleted_for", msg.DeletedFor).Error; err != nil {
		return fmt.Errorf("failed to hide message: %w", err)
	}
	return nil
}

func (s *GormMessageStore) Delete(ctx context.Context, id uuid.UUID) error {
	result := s.db.WithContext(ctx).Delete(&models.Message{}, "id = ?", id)
	if result.Error != nil {
		return fmt.Errorf("failed to delete message: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return models.ErrMessageNotFound
	}
	return nil
}

func (s *GormMessageStore) ClearConversation(ctx context.Context, a, b string) (int64, error) {
	result := s.db.WithContext(ctx).
		Where("conversation_key = ?", models.ConversationKeyFor(a, b)).
		Delete(&models.Message{})
	if result.Error != nil {
		return 0, fmt.Errorf("failed to clear conversation: %w", result.Error)
	}
	return result.RowsAffected, nil
}
