package services

import (
	"github.com/Asit-14/EchoSphere/models"
	"github.com/Asit-14/EchoSphere/utils"
)

// DeliveryAttempt records the result of one live push to one connection.
type DeliveryAttempt struct {
	ConnID string
	Err    error
}

// DeliveryOutcome reports what happened to each attempted connection of
// a route. It is diagnostic only: a recipient with zero live connections
// is a normal outcome, not a failure, because the message was already
// durably stored before routing.
type DeliveryOutcome struct {
	Recipient string
	Attempts  []DeliveryAttempt
}

// Delivered returns the number of successful pushes.
func (o DeliveryOutcome) Delivered() int {
	n := 0
	for _, a := range o.Attempts {
		if a.Err == nil {
			n++
		}
	}
	return n
}

// Failed returns the number of failed pushes.
func (o DeliveryOutcome) Failed() int {
	return len(o.Attempts) - o.Delivered()
}

// Router pushes messages to a recipient's live connections. Each device
// gets its own copy, each push is attempted independently, and a stale
// connection is pruned without aborting the rest of the fan-out. The
// router never retries and never queues; durability is the store's job.
type Router struct {
	registry *Registry
	presence *PresenceService
	bridge   *Bridge
	logger   *utils.Logger
}

func NewRouter(registry *Registry, presence *PresenceService, bridge *Bridge, logger *utils.Logger) *Router {
	return &Router{
		registry: registry,
		presence: presence,
		bridge:   bridge,
		logger:   logger,
	}
}

// Route pushes a persisted message live to every connection of its
// recipient, here and on other instances.
func (r *Router) Route(msg *models.Message) DeliveryOutcome {
	evt := models.MustEvent(models.EventMessageReceived, models.MessageReceivedPayload{
		Sender:    msg.SenderID,
		Message:   msg.Body,
		MessageID: msg.ID,
		Timestamp: msg.CreatedAt,
	})
	return r.RelayToUser(msg.RecipientID, evt)
}

// RelayToUser fans an event out to every live connection of a user and
// publishes it for other instances to do the same.
func (r *Router) RelayToUser(userID string, evt models.Event) DeliveryOutcome {
	outcome := DeliveryOutcome{Recipient: userID}

	for _, c := range r.registry.ConnectionsFor(userID) {
		err := c.Send(evt)
		outcome.Attempts = append(outcome.Attempts, DeliveryAttempt{ConnID: c.ID(), Err: err})
		if err != nil {
			r.logger.Warn("Live push failed", "user", userID, "conn", c.ID(), "event", evt.Type, "error", err)
			r.presence.DropConnection(c)
		}
	}

	r.bridge.Publish(userID, evt)

	if outcome.Failed() > 0 {
		r.logger.Debug("Route finished with failures", "user", userID, "delivered", outcome.Delivered(), "failed", outcome.Failed())
	}
	return outcome
}

// Broadcast fans an event out to every live connection except one,
// locally and across instances.
func (r *Router) Broadcast(exceptConnID string, evt models.Event) {
	for _, c := range r.registry.AllConnections(exceptConnID) {
		if err := c.Send(evt); err != nil {
			r.presence.DropConnection(c)
		}
	}
	r.bridge.Publish("", evt)
}

// DeliverLocal hands a bridge event from another instance to this
// instance's connections. An empty target means broadcast. Events are
// never re-published, so they cross the bridge exactly once.
func (r *Router) DeliverLocal(targetUser string, evt models.Event) {
	var conns []Conn
	if targetUser == "" {
		conns = r.registry.AllConnections("")
	} else {
		conns = r.registry.ConnectionsFor(targetUser)
	}

	for _, c := range conns {
		if err := c.Send(evt); err != nil {
			r.presence.DropConnection(c)
		}
	}
}
