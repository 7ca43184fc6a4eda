package services

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/Asit-14/EchoSphere/models"
	"github.com/Asit-14/EchoSphere/utils"
)

const (
	// Time allowed to write an event to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait
	pingPeriod = (pongWait * 9) / 10

	// Maximum inbound frame size
	maxMessageSize = 64 * 1024
)

// SessionState is the lifecycle state of one connection.
type SessionState int32

const (
	StateConnecting SessionState = iota
	StateAuthenticating
	StateActive
	StateClosed
)

// Client is one live WebSocket connection. It owns the socket and the
// outbound buffer; the registry holds it behind the Conn interface.
//
// Lifecycle: CONNECTING -> AUTHENTICATING on upgrade, ACTIVE once the
// add-user handshake names the authenticated user, CLOSED on any exit.
// A connection that never completes the handshake is closed after the
// configured grace period.
type Client struct {
	id         string
	authUserID string // subject of the validated token
	userID     string // set by the add-user handshake, immutable once ACTIVE

	state atomic.Int32

	conn *websocket.Conn
	send chan models.Event

	hub    *Hub
	logger *utils.Logger

	closeOnce sync.Once
	done      chan struct{}
}

func NewClient(hub *Hub, conn *websocket.Conn, authUserID string) *Client {
	c := &Client{
		id:         uuid.NewString(),
		authUserID: authUserID,
		conn:       conn,
		send:       make(chan models.Event, hub.cfg.SendBufferSize),
		hub:        hub,
		logger:     hub.logger.With("conn", conn.RemoteAddr().String()),
		done:       make(chan struct{}),
	}
	c.state.Store(int32(StateConnecting))
	return c
}

func (c *Client) ID() string {
	return c.id
}

func (c *Client) UserID() string {
	return c.userID
}

func (c *Client) State() SessionState {
	return SessionState(c.state.Load())
}

// Send enqueues an event on the outbound buffer without blocking. A
// closed connection or a full buffer is a push failure the caller
// handles by pruning; it never blocks a routing goroutine.
func (c *Client) Send(evt models.Event) error {
	if c.State() == StateClosed {
		return models.ErrConnectionClosed
	}
	select {
	case c.send <- evt:
		return nil
	default:
		return models.ErrSendBufferFull
	}
}

// Close shuts the connection down exactly once. Safe to call from any
// goroutine and any state. The socket itself is closed by the write
// pump after it drained already-queued events, so an error event sent
// right before Close still reaches the peer.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		c.state.Store(int32(StateClosed))
		close(c.done)
	})
}

// Start runs the read and write pumps and arms the authentication
// deadline. Registration with the registry only happens later, from the
// add-user handshake.
func (c *Client) Start() {
	c.state.Store(int32(StateAuthenticating))

	time.AfterFunc(c.hub.cfg.AuthGracePeriod, func() {
		if c.State() == StateAuthenticating {
			c.logger.Warn("Authentication grace period expired, closing connection", "conn_id", c.id)
			c.Close()
		}
	})

	go c.writePump()
	go c.readPump()
}

// readPump reads inbound events and dispatches them serially, which is
// what preserves per-sender ordering. It is the only reader of the
// socket. All exits, graceful or abrupt, funnel into the same
// disconnect cleanup.
func (c *Client) readPump() {
	defer func() {
		c.hub.HandleDisconnect(c)
		c.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		var evt models.Event
		if err := c.conn.ReadJSON(&evt); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Debug("Connection closed unexpectedly", "conn_id", c.id, "error", err)
			}
			return
		}
		c.hub.Dispatch(c, evt)
	}
}

// writePump is the only writer of the socket. It drains the outbound
// buffer in FIFO order and keeps the connection alive with pings.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Close()
		c.conn.Close()
	}()

	for {
		select {
		case evt := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteJSON(evt); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.done:
			// Drain what was queued before the close, then say goodbye.
			for {
				select {
				case evt := <-c.send:
					c.conn.SetWriteDeadline(time.Now().Add(writeWait))
					if err := c.conn.WriteJSON(evt); err != nil {
						return
					}
				default:
					c.conn.SetWriteDeadline(time.Now().Add(writeWait))
					c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
					return
				}
			}
		}
	}
}
