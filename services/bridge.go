package services

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/Asit-14/EchoSphere/models"
	"github.com/Asit-14/EchoSphere/utils"
)

const bridgeChannel = "chat:events"

// bridgeEnvelope wraps an event published across instances. Origin is
// the publishing instance so subscribers skip their own messages; an
// empty TargetUser means broadcast to every local connection.
type bridgeEnvelope struct {
	Origin     string       `json:"origin"`
	TargetUser string       `json:"targetUser,omitempty"`
	Event      models.Event `json:"event"`
}

// Bridge fans events out across horizontally scaled instances over a
// Redis pub/sub channel. Each instance delivers foreign-origin events to
// its own local connections. With a nil Redis client every method is a
// no-op and the process runs single-instance.
type Bridge struct {
	rdb        *redis.Client
	instanceID string
	logger     *utils.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewBridge(rdb *redis.Client, logger *utils.Logger) *Bridge {
	ctx, cancel := context.WithCancel(context.Background())
	return &Bridge{
		rdb:        rdb,
		instanceID: uuid.NewString(),
		logger:     logger,
		ctx:        ctx,
		cancel:     cancel,
	}
}

// Publish sends an event to all other instances. Failures are logged,
// never surfaced: the local push path already ran, and the store is the
// durable fallback.
func (b *Bridge) Publish(targetUser string, evt models.Event) {
	if b.rdb == nil {
		return
	}

	data, err := json.Marshal(bridgeEnvelope{
		Origin:     b.instanceID,
		TargetUser: targetUser,
		Event:      evt,
	})
	if err != nil {
		b.logger.Error("Failed to marshal bridge envelope", "error", err)
		return
	}

	if err := b.rdb.Publish(b.ctx, bridgeChannel, data).Err(); err != nil {
		b.logger.Error("Failed to publish bridge event", "error", err, "event", evt.Type)
	}
}

// Start subscribes to the bridge channel and hands foreign-origin events
// to deliver. It returns immediately; the listener runs until Stop.
func (b *Bridge) Start(deliver func(targetUser string, evt models.Event)) {
	if b.rdb == nil {
		return
	}

	b.wg.Add(1)
	go b.listen(deliver)
}

func (b *Bridge) listen(deliver func(targetUser string, evt models.Event)) {
	defer b.wg.Done()

	pubsub := b.rdb.Subscribe(b.ctx, bridgeChannel)
	defer pubsub.Close()

	for {
		msg, err := pubsub.ReceiveMessage(b.ctx)
		if err != nil {
			if b.ctx.Err() != nil {
				return
			}
			b.logger.Error("Redis pubsub error", "error", err)
			continue
		}

		var env bridgeEnvelope
		if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
			b.logger.Error("Failed to unmarshal bridge envelope", "error", err)
			continue
		}

		// Skip events this instance published itself
		if env.Origin == b.instanceID {
			continue
		}

		deliver(env.TargetUser, env.Event)
	}
}

// Stop shuts the listener down and waits for it to finish.
func (b *Bridge) Stop() {
	b.cancel()
	b.wg.Wait()
}
