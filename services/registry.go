package services

import (
	"sync"

	"github.com/Asit-14/EchoSphere/models"
)

// Conn is the registry's view of one live connection. The transport
// layer owns the underlying socket; the registry only routes through it.
type Conn interface {
	ID() string
	UserID() string
	// Send enqueues an event on the connection's outbound buffer without
	// blocking. It returns an error when the connection no longer accepts
	// writes.
	Send(evt models.Event) error
	Close()
}

// Registry maps user identities to their live connections, supporting
// multiple simultaneous devices per user. It is the single source of
// truth for who is reachable right now; all mutation goes through
// Register/Unregister.
type Registry struct {
	mu     sync.RWMutex
	byUser map[string]map[string]Conn // userID -> connID -> conn
	byConn map[string]Conn            // connID -> conn
}

func NewRegistry() *Registry {
	return &Registry{
		byUser: make(map[string]map[string]Conn),
		byConn: make(map[string]Conn),
	}
}

// Register adds a connection to its user's live set. Idempotent per
// connection ID. It reports whether this was the user's first live
// connection, which is the OFFLINE -> ONLINE transition point; computing
// it under the same lock as the mutation prevents presence flaps when
// two devices of one user connect concurrently.
func (r *Registry) Register(c Conn) (first bool) {
	return r.RegisterAndGreet(c, nil)
}

// RegisterAndGreet registers like Register and, while still holding the
// registry lock, hands the current online-user list (the new user
// included) to greet. Anything greet enqueues on the connection is
// therefore ordered ahead of every event routed to it after it became
// visible to ConnectionsFor/AllConnections. greet must not call back
// into the registry.
func (r *Registry) RegisterAndGreet(c Conn, greet func(online []string)) (first bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byConn[c.ID()]; exists {
		return false
	}

	conns := r.byUser[c.UserID()]
	first = len(conns) == 0
	if conns == nil {
		conns = make(map[string]Conn)
		r.byUser[c.UserID()] = conns
	}
	conns[c.ID()] = c
	r.byConn[c.ID()] = c

	if greet != nil {
		online := make([]string, 0, len(r.byUser))
		for userID := range r.byUser {
			online = append(online, userID)
		}
		greet(online)
	}
	return first
}

// Unregister removes a connection by ID. It returns the owning user and
// whether this was that user's last connection (the ONLINE -> OFFLINE
// transition point). Unknown connection IDs are a no-op.
func (r *Registry) Unregister(connID string) (userID string, last bool, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, exists := r.byConn[connID]
	if !exists {
		return "", false, false
	}
	delete(r.byConn, connID)

	userID = c.UserID()
	if conns, exists := r.byUser[userID]; exists {
		delete(conns, connID)
		if len(conns) == 0 {
			delete(r.byUser, userID)
			last = true
		}
	}
	return userID, last, true
}

// UnregisterUser removes every connection of a user (explicit logout).
// The removed connections are returned so the caller can close them.
func (r *Registry) UnregisterUser(userID string) []Conn {
	r.mu.Lock()
	defer r.mu.Unlock()

	conns := r.byUser[userID]
	if len(conns) == 0 {
		return nil
	}
	removed := make([]Conn, 0, len(conns))
	for id, c := range conns {
		delete(r.byConn, id)
		removed = append(removed, c)
	}
	delete(r.byUser, userID)
	return removed
}

// IsOnline reports whether the user has at least one live connection.
func (r *Registry) IsOnline(userID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byUser[userID]) > 0
}

// ConnectionsFor returns the user's live connections, possibly empty.
func (r *Registry) ConnectionsFor(userID string) []Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()

	conns := r.byUser[userID]
	if len(conns) == 0 {
		return nil
	}
	result := make([]Conn, 0, len(conns))
	for _, c := range conns {
		result = append(result, c)
	}
	return result
}

// OnlineUsers returns the IDs of all users with a live connection.
func (r *Registry) OnlineUsers() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	users := make([]string, 0, len(r.byUser))
	for userID := range r.byUser {
		users = append(users, userID)
	}
	return users
}

// DeviceCount returns the number of live connections for a user.
func (r *Registry) DeviceCount(userID string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byUser[userID])
}

// AllConnections returns every live connection except the given one.
// Used for presence broadcasts, which never echo back to the connection
// that caused the transition.
func (r *Registry) AllConnections(exceptConnID string) []Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]Conn, 0, len(r.byConn))
	for id, c := range r.byConn {
		if id == exceptConnID {
			continue
		}
		result = append(result, c)
	}
	return result
}
