package services

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Asit-14/EchoSphere/config"
	"github.com/Asit-14/EchoSphere/models"
	"github.com/Asit-14/EchoSphere/utils"
)

func newHubFixture() (*Hub, *Registry, *fakeStore) {
	logger := utils.NewLogger()
	cfg := &config.Config{
		AuthGracePeriod: time.Minute,
		SendBufferSize:  8,
	}
	registry := NewRegistry()
	bridge := NewBridge(nil, logger)
	presence := NewPresenceService(registry, nil, bridge, logger, time.Minute)
	router := NewRouter(registry, presence, bridge, logger)
	ops := &opLog{}
	store := newFakeStore(ops)
	delivery := NewDeliveryService(store, router, logger)
	return NewHub(cfg, registry, presence, delivery, router, logger), registry, store
}

// newServerSideConn produces a real server-side websocket connection
// without running the client pumps, so session state can be driven
// directly.
func newServerSideConn(t *testing.T) *websocket.Conn {
	t.Helper()

	upgrader := websocket.Upgrader{}
	connCh := make(chan *websocket.Conn, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		connCh <- conn
	}))
	t.Cleanup(srv.Close)

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	client, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })

	select {
	case conn := <-connCh:
		t.Cleanup(func() { conn.Close() })
		return conn
	case <-time.After(2 * time.Second):
		t.Fatal("no server-side connection")
		return nil
	}
}

func TestHub_AddUserActivatesSession(t *testing.T) {
	hub, registry, _ := newHubFixture()

	c := NewClient(hub, newServerSideConn(t), "alice")
	c.state.Store(int32(StateAuthenticating))

	hub.Dispatch(c, models.MustEvent(models.EventAddUser, models.AddUserPayload{UserID: "alice"}))

	assert.Equal(t, StateActive, c.State())
	assert.True(t, registry.IsOnline("alice"))
}

func TestHub_AddUserAfterCloseStaysClosed(t *testing.T) {
	hub, registry, _ := newHubFixture()

	c := NewClient(hub, newServerSideConn(t), "alice")
	c.state.Store(int32(StateAuthenticating))

	// Grace timer fired first
	c.Close()
	hub.Dispatch(c, models.MustEvent(models.EventAddUser, models.AddUserPayload{UserID: "alice"}))

	assert.Equal(t, StateClosed, c.State(), "a closed session must never flip back to active")
	assert.False(t, registry.IsOnline("alice"), "a closed session must not register")
}

func TestHub_SendRequiresRecipientAndBody(t *testing.T) {
	hub, _, store := newHubFixture()

	c := NewClient(hub, newServerSideConn(t), "alice")
	c.state.Store(int32(StateAuthenticating))
	hub.Dispatch(c, models.MustEvent(models.EventAddUser, models.AddUserPayload{UserID: "alice"}))
	require.Equal(t, StateActive, c.State())

	hub.Dispatch(c, models.MustEvent(models.EventSendMessage, models.SendMessagePayload{
		From: "alice", To: "", Message: "to nobody",
	}))
	hub.Dispatch(c, models.MustEvent(models.EventSendMessage, models.SendMessagePayload{
		From: "alice", To: "bob", Message: "",
	}))

	assert.Zero(t, store.count(), "invalid sends must not be persisted")
}

func TestHub_EphemeralScoping(t *testing.T) {
	hub, _, _ := newHubFixture()

	// No channels joined: everything is relayed
	assert.True(t, hub.wantsEphemeral("alice", "bob"))

	// bob scopes himself to his chat with carol
	hub.channels.join(models.ConversationKeyFor("bob", "carol"), "bob")
	assert.False(t, hub.wantsEphemeral("alice", "bob"), "unjoined conversations are muted")
	assert.True(t, hub.wantsEphemeral("carol", "bob"))

	// Joining the alice conversation unmutes it
	hub.channels.join(models.ConversationKeyFor("alice", "bob"), "bob")
	assert.True(t, hub.wantsEphemeral("alice", "bob"))

	// Leaving all channels falls back to relay-everything
	hub.channels.leaveAll("bob")
	assert.True(t, hub.wantsEphemeral("alice", "bob"))
}
