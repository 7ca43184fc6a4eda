package services

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Asit-14/EchoSphere/models"
)

// fakeConn is an in-memory Conn for exercising the registry, presence
// and routing logic without a real socket.
type fakeConn struct {
	id     string
	userID string

	mu     sync.Mutex
	events []models.Event
	closed bool
	broken bool // simulates a stale handle: every Send fails
}

func newFakeConn(id, userID string) *fakeConn {
	return &fakeConn{id: id, userID: userID}
}

func (f *fakeConn) ID() string     { return f.id }
func (f *fakeConn) UserID() string { return f.userID }

func (f *fakeConn) Send(evt models.Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed || f.broken {
		return models.ErrConnectionClosed
	}
	f.events = append(f.events, evt)
	return nil
}

func (f *fakeConn) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
}

func (f *fakeConn) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func (f *fakeConn) received() []models.Event {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]models.Event, len(f.events))
	copy(out, f.events)
	return out
}

func (f *fakeConn) receivedOfType(t models.EventType) []models.Event {
	var out []models.Event
	for _, evt := range f.received() {
		if evt.Type == t {
			out = append(out, evt)
		}
	}
	return out
}

func TestRegistry_OnlineIffLiveConnections(t *testing.T) {
	r := NewRegistry()

	assert.False(t, r.IsOnline("alice"))
	assert.Empty(t, r.ConnectionsFor("alice"))

	c1 := newFakeConn("c1", "alice")
	r.Register(c1)
	assert.True(t, r.IsOnline("alice"))
	assert.Len(t, r.ConnectionsFor("alice"), 1)

	c2 := newFakeConn("c2", "alice")
	r.Register(c2)
	assert.True(t, r.IsOnline("alice"))
	assert.Len(t, r.ConnectionsFor("alice"), 2)
	assert.Equal(t, 2, r.DeviceCount("alice"))

	r.Unregister("c1")
	assert.True(t, r.IsOnline("alice"))

	r.Unregister("c2")
	assert.False(t, r.IsOnline("alice"))
	assert.Empty(t, r.ConnectionsFor("alice"))
}

func TestRegistry_RegisterIdempotentPerConnection(t *testing.T) {
	r := NewRegistry()
	c := newFakeConn("c1", "alice")

	first := r.Register(c)
	assert.True(t, first)

	again := r.Register(c)
	assert.False(t, again)
	assert.Equal(t, 1, r.DeviceCount("alice"))
}

func TestRegistry_FirstAndLastTransitions(t *testing.T) {
	r := NewRegistry()

	first := r.Register(newFakeConn("c1", "alice"))
	assert.True(t, first, "first connection is the offline->online transition")

	second := r.Register(newFakeConn("c2", "alice"))
	assert.False(t, second, "second device must not re-trigger the transition")

	_, last, ok := r.Unregister("c1")
	require.True(t, ok)
	assert.False(t, last, "user still has a device")

	user, last, ok := r.Unregister("c2")
	require.True(t, ok)
	assert.Equal(t, "alice", user)
	assert.True(t, last, "last connection is the online->offline transition")
}

func TestRegistry_RegisterAndGreet(t *testing.T) {
	r := NewRegistry()
	r.Register(newFakeConn("b1", "bob"))

	c := newFakeConn("a1", "alice")
	var greeted []string
	first := r.RegisterAndGreet(c, func(online []string) {
		greeted = append([]string(nil), online...)
		// The connection is already part of the live set here, but
		// nothing else can observe it until the greeting returns.
		require.NoError(t, c.Send(models.Event{Type: models.EventOnlineSnapshot}))
	})

	assert.True(t, first)
	assert.ElementsMatch(t, []string{"alice", "bob"}, greeted, "greeting sees the new user as online")
	assert.Len(t, c.received(), 1)

	// Duplicate registration must not greet again
	again := r.RegisterAndGreet(c, func([]string) {
		t.Fatal("greeting ran for an already registered connection")
	})
	assert.False(t, again)
}

func TestRegistry_UnregisterUnknownIsNoop(t *testing.T) {
	r := NewRegistry()
	_, _, ok := r.Unregister("ghost")
	assert.False(t, ok)
}

func TestRegistry_UnregisterUser(t *testing.T) {
	r := NewRegistry()
	r.Register(newFakeConn("c1", "alice"))
	r.Register(newFakeConn("c2", "alice"))
	r.Register(newFakeConn("c3", "bob"))

	removed := r.UnregisterUser("alice")
	assert.Len(t, removed, 2)
	assert.False(t, r.IsOnline("alice"))
	assert.True(t, r.IsOnline("bob"))

	assert.Empty(t, r.UnregisterUser("alice"))
}

func TestRegistry_OnlineUsers(t *testing.T) {
	r := NewRegistry()
	r.Register(newFakeConn("c1", "alice"))
	r.Register(newFakeConn("c2", "alice"))
	r.Register(newFakeConn("c3", "bob"))

	users := r.OnlineUsers()
	assert.ElementsMatch(t, []string{"alice", "bob"}, users)
}

func TestRegistry_AllConnectionsExcludesOne(t *testing.T) {
	r := NewRegistry()
	r.Register(newFakeConn("c1", "alice"))
	r.Register(newFakeConn("c2", "bob"))
	r.Register(newFakeConn("c3", "carol"))

	conns := r.AllConnections("c2")
	assert.Len(t, conns, 2)
	for _, c := range conns {
		assert.NotEqual(t, "c2", c.ID())
	}

	assert.Len(t, r.AllConnections(""), 3)
}

func TestRegistry_ConcurrentRegisterUnregister(t *testing.T) {
	r := NewRegistry()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			id := string(rune('a'+n%26)) + "-conn"
			c := newFakeConn(id, "user-"+string(rune('a'+n%5)))
			r.Register(c)
			r.IsOnline(c.UserID())
			r.Unregister(id)
		}(i)
	}
	wg.Wait()

	for _, u := range r.OnlineUsers() {
		assert.True(t, r.DeviceCount(u) > 0, "no empty live sets may remain for %s", u)
	}
}
