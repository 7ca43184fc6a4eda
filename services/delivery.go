package services

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/Asit-14/EchoSphere/models"
	"github.com/Asit-14/EchoSphere/utils"
)

// LiveRouter is the live-push side of message delivery.
type LiveRouter interface {
	Route(msg *models.Message) DeliveryOutcome
	RelayToUser(userID string, evt models.Event) DeliveryOutcome
}

// DeliveryService coordinates the durable-store path with the live-push
// path. The ordering is always persist-then-push: a send is not
// acknowledged until the durable write succeeded, and nothing is ever
// pushed that is not already stored. A recipient who misses the live
// push sees the message on their next history fetch.
type DeliveryService struct {
	store  MessageStore
	router LiveRouter
	logger *utils.Logger
}

func NewDeliveryService(store MessageStore, router LiveRouter, logger *utils.Logger) *DeliveryService {
	return &DeliveryService{
		store:  store,
		router: router,
		logger: logger,
	}
}

// Send persists a message and then routes it live. A failed durable
// write fails the send and skips the push entirely; a failed push after
// a successful write is non-fatal.
func (ds *DeliveryService) Send(ctx context.Context, from, to, body string) (*models.Message, DeliveryOutcome, error) {
	now := time.Now()
	msg := &models.Message{
		ID:              uuid.New(),
		ConversationKey: models.ConversationKeyFor(from, to),
		SenderID:        from,
		RecipientID:     to,
		Body:            body,
		DeletedFor:      models.StringList{},
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	if err := ds.store.Save(ctx, msg); err != nil {
		ds.logger.Error("Durable write failed, message not pushed", "from", from, "to", to, "error", err)
		return nil, DeliveryOutcome{Recipient: to}, err
	}

	outcome := ds.router.Route(msg)
	ds.logger.Debug("Message routed", "id", msg.ID, "to", to, "delivered", outcome.Delivered(), "failed", outcome.Failed())
	return msg, outcome, nil
}

// DeleteMessage applies one of the two deletion models. "forMe" hides
// the message for the acting viewer only and needs no live-push
// coordination. "forEveryone" removes the record — sender only — and
// pushes a deletion notice to the other participant.
func (ds *DeliveryService) DeleteMessage(ctx context.Context, actor string, messageID uuid.UUID, deleteType string) (*models.Message, error) {
	msg, err := ds.store.Get(ctx, messageID)
	if err != nil {
		return nil, err
	}

	switch deleteType {
	case models.DeleteForMe:
		if err := ds.store.HideForViewer(ctx, messageID, actor); err != nil {
			return nil, err
		}

	case models.DeleteForEveryone:
		if msg.SenderID != actor {
			return nil, models.ErrNotSender
		}
		if err := ds.store.Delete(ctx, messageID); err != nil {
			return nil, err
		}
		evt := models.MustEvent(models.EventMessageDeleted, messageID)
		ds.router.RelayToUser(msg.Counterpart(actor), evt)

	default:
		return nil, fmt.Errorf("unknown delete type %q", deleteType)
	}

	return msg, nil
}

// ClearConversation bulk-removes all messages of a participant pair and
// pushes a single clear notice to the counterpart. An empty conversation
// clears zero messages and is not an error.
func (ds *DeliveryService) ClearConversation(ctx context.Context, from, to string) (int64, error) {
	deleted, err := ds.store.ClearConversation(ctx, from, to)
	if err != nil {
		return 0, err
	}

	if deleted > 0 {
		evt := models.MustEvent(models.EventChatCleared, from)
		ds.router.RelayToUser(to, evt)
	}
	return deleted, nil
}

// History returns the viewer's projection of a conversation, oldest
// first.
func (ds *DeliveryService) History(ctx context.Context, viewer, other string) ([]models.HistoryEntry, error) {
	messages, err := ds.store.History(ctx, viewer, other)
	if err != nil {
		return nil, err
	}

	entries := make([]models.HistoryEntry, 0, len(messages))
	for _, msg := range messages {
		entries = append(entries, models.HistoryEntry{
			FromSelf:  msg.SenderID == viewer,
			Message:   msg.Body,
			MessageID: msg.ID,
			Timestamp: msg.CreatedAt,
		})
	}
	return entries, nil
}
