package services

import (
	"context"
	"encoding/json"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/Asit-14/EchoSphere/models"
	"github.com/Asit-14/EchoSphere/utils"
)

const (
	presenceKeyPrefix = "presence:"
	onlineSetKey      = "online_users"

	mirrorTimeout = 2 * time.Second
)

// PresenceService tracks online/offline transitions and broadcasts them
// to every other live connection. Transitions are computed strictly from
// the emptiness of a user's live-connection set, inside the registry
// lock, so concurrent devices of the same user never cause a flap.
//
// When Redis is configured the service also mirrors presence state
// (presence:<user> JSON plus an online_users set) so instances behind a
// load balancer see each other's users.
type PresenceService struct {
	registry *Registry
	rdb      *redis.Client // nil disables the mirror
	bridge   *Bridge
	logger   *utils.Logger
	ttl      time.Duration
}

func NewPresenceService(registry *Registry, rdb *redis.Client, bridge *Bridge, logger *utils.Logger, ttl time.Duration) *PresenceService {
	return &PresenceService{
		registry: registry,
		rdb:      rdb,
		bridge:   bridge,
		logger:   logger,
		ttl:      ttl,
	}
}

// HandleConnect registers a connection and, when it is the user's first,
// broadcasts the online transition. The new connection receives the
// current online snapshot exactly once, enqueued under the registry
// lock itself, so no concurrently routed event can land on the
// connection ahead of it.
func (ps *PresenceService) HandleConnect(c Conn) {
	// Fetched before registration; the greeting runs under the registry
	// lock and must not wait on Redis there.
	remote := ps.remoteOnline(context.Background())

	var sendErr error
	first := ps.registry.RegisterAndGreet(c, func(online []string) {
		evt, err := models.NewEvent(models.EventOnlineSnapshot, mergeOnline(online, remote))
		if err != nil {
			ps.logger.Error("Failed to build snapshot event", "error", err)
			return
		}
		sendErr = c.Send(evt)
	})

	if sendErr != nil {
		// Never announced online, so remove it quietly.
		ps.logger.Warn("Dropping connection that refused its snapshot", "user", c.UserID(), "conn", c.ID())
		c.Close()
		ps.registry.Unregister(c.ID())
		return
	}

	if first {
		ps.logger.Info("User online", "user", c.UserID(), "conn", c.ID())
		ps.mirrorOnline(c.UserID())
		ps.broadcastChange(c.UserID(), models.StatusOnline, c.ID())
	} else {
		ps.logger.Debug("Additional device connected", "user", c.UserID(), "conn", c.ID(), "devices", ps.registry.DeviceCount(c.UserID()))
	}
}

// HandleDisconnect removes a connection and broadcasts the offline
// transition when it was the user's last. Graceful closes and abrupt
// network losses both land here. Unknown connection IDs are a no-op.
func (ps *PresenceService) HandleDisconnect(connID string) {
	userID, last, ok := ps.registry.Unregister(connID)
	if !ok {
		return
	}

	if last {
		ps.logger.Info("User offline", "user", userID, "conn", connID)
		ps.mirrorOffline(userID)
		ps.broadcastChange(userID, models.StatusOffline, connID)
	} else {
		ps.logger.Debug("Device disconnected, user still online", "user", userID, "conn", connID)
	}
}

// HandleLogout tears down every connection of a user on an explicit
// logout event.
func (ps *PresenceService) HandleLogout(userID string) {
	conns := ps.registry.UnregisterUser(userID)
	if len(conns) == 0 {
		return
	}

	for _, c := range conns {
		c.Close()
	}

	ps.logger.Info("User logged out", "user", userID, "devices", len(conns))
	ps.mirrorOffline(userID)
	ps.broadcastChange(userID, models.StatusOffline, "")
}

// DropConnection closes and unregisters a connection after a failed
// push. Stale handles are pruned, never surfaced as sender errors.
func (ps *PresenceService) DropConnection(c Conn) {
	ps.logger.Warn("Dropping stale connection", "user", c.UserID(), "conn", c.ID())
	c.Close()
	ps.HandleDisconnect(c.ID())
}

// Presence returns the computed presence view of one user.
func (ps *PresenceService) Presence(userID string) models.UserPresence {
	devices := ps.registry.DeviceCount(userID)
	status := models.StatusOffline
	if devices > 0 {
		status = models.StatusOnline
	}
	return models.UserPresence{
		UserID:  userID,
		Status:  status,
		Devices: devices,
	}
}

// Snapshot returns the IDs of all currently online users, merged with
// the Redis mirror when running multi-instance. The requesting user's
// own ID is included; clients filter themselves out.
func (ps *PresenceService) Snapshot(ctx context.Context) []string {
	return mergeOnline(ps.registry.OnlineUsers(), ps.remoteOnline(ctx))
}

// remoteOnline reads the online set mirrored by other instances.
func (ps *PresenceService) remoteOnline(ctx context.Context) []string {
	if ps.rdb == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, mirrorTimeout)
	defer cancel()

	members, err := ps.rdb.SMembers(ctx, onlineSetKey).Result()
	if err != nil {
		ps.logger.Error("Failed to read online set from Redis", "error", err)
		return nil
	}
	return members
}

func mergeOnline(local, remote []string) []string {
	seen := make(map[string]bool, len(local)+len(remote))
	for _, userID := range local {
		seen[userID] = true
	}
	for _, userID := range remote {
		seen[userID] = true
	}

	users := make([]string, 0, len(seen))
	for userID := range seen {
		users = append(users, userID)
	}
	sort.Strings(users)
	return users
}

// broadcastChange notifies every other live connection of a presence
// transition, locally and across instances.
func (ps *PresenceService) broadcastChange(userID, status, exceptConnID string) {
	evt := models.MustEvent(models.EventPresenceChanged, models.PresenceChangedPayload{
		UserID: userID,
		Status: status,
	})

	for _, c := range ps.registry.AllConnections(exceptConnID) {
		if err := c.Send(evt); err != nil {
			ps.DropConnection(c)
		}
	}

	ps.bridge.Publish("", evt)
}

// mirrorOnline records the user in the Redis presence mirror with a TTL,
// pipelined the same way the value and the set membership expire
// together.
func (ps *PresenceService) mirrorOnline(userID string) {
	if ps.rdb == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), mirrorTimeout)
	defer cancel()

	data, err := json.Marshal(models.UserPresence{
		UserID:   userID,
		Status:   models.StatusOnline,
		Devices:  ps.registry.DeviceCount(userID),
		LastSeen: time.Now(),
	})
	if err != nil {
		ps.logger.Error("Failed to marshal presence record", "error", err)
		return
	}

	pipe := ps.rdb.Pipeline()
	pipe.Set(ctx, presenceKeyPrefix+userID, data, ps.ttl)
	pipe.SAdd(ctx, onlineSetKey, userID)
	pipe.Expire(ctx, onlineSetKey, ps.ttl*2)
	if _, err := pipe.Exec(ctx); err != nil {
		ps.logger.Error("Failed to mirror presence", "user", userID, "error", err)
	}
}

// mirrorOffline removes the user from the Redis presence mirror.
func (ps *PresenceService) mirrorOffline(userID string) {
	if ps.rdb == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), mirrorTimeout)
	defer cancel()

	pipe := ps.rdb.Pipeline()
	pipe.Del(ctx, presenceKeyPrefix+userID)
	pipe.SRem(ctx, onlineSetKey, userID)
	if _, err := pipe.Exec(ctx); err != nil {
		ps.logger.Error("Failed to clear mirrored presence", "user", userID, "error", err)
	}
}
