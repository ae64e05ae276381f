package realtime

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// Conn wraps a websocket connection with a write mutex so that concurrent
// writers (stream fan-out, heartbeats, peer notifications) never interleave
// frames. gorilla/websocket permits at most one concurrent writer.
type Conn struct {
	ID             string
	UserID         string
	ConversationID string
	ConnectedAt    time.Time

	ws      *websocket.Conn
	writeMu sync.Mutex
	closed  bool

	// lastHeartbeat is guarded by hbMu, not writeMu, so the sweep can read
	// it while a slow write is in progress
	hbMu          sync.Mutex
	lastHeartbeat time.Time

	// cancel aborts any in-flight work tied to this connection
	cancelMu sync.Mutex
	cancel   context.CancelFunc
}

// NewConn creates a tracked connection around an upgraded websocket.
// ws may be nil in tests that exercise bookkeeping without a transport.
func NewConn(ws *websocket.Conn, userID, conversationID string) *Conn {
	now := time.Now()
	return &Conn{
		ID:             uuid.New().String(),
		UserID:         userID,
		ConversationID: conversationID,
		ConnectedAt:    now,
		ws:             ws,
		lastHeartbeat:  now,
	}
}

// Send marshals the envelope and writes it as a single text frame
func (c *Conn) Send(env *Envelope) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if c.closed || c.ws == nil {
		return fmt.Errorf("connection %s is closed", c.ID)
	}

	c.ws.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return c.ws.WriteJSON(env)
}

// Ping sends a ping control frame
func (c *Conn) Ping() error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if c.closed || c.ws == nil {
		return fmt.Errorf("connection %s is closed", c.ID)
	}

	return c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second))
}

// Close sends a close frame with the given code and tears down the socket.
// Safe to call more than once; later calls are no-ops.
func (c *Conn) Close(code int, reason string) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true

	if c.ws == nil {
		return nil
	}

	msg := websocket.FormatCloseMessage(code, reason)
	c.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(5*time.Second))
	return c.ws.Close()
}

// Closed reports whether Close has been called
func (c *Conn) Closed() bool {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.closed
}

// Touch records heartbeat activity
func (c *Conn) Touch() {
	c.hbMu.Lock()
	c.lastHeartbeat = time.Now()
	c.hbMu.Unlock()
}

// LastHeartbeat returns the time of the most recent heartbeat or read
func (c *Conn) LastHeartbeat() time.Time {
	c.hbMu.Lock()
	defer c.hbMu.Unlock()
	return c.lastHeartbeat
}

// BindCancel associates a cancel function for in-flight work with this
// connection, replacing (and invoking) any previous one
func (c *Conn) BindCancel(cancel context.CancelFunc) {
	c.cancelMu.Lock()
	prev := c.cancel
	c.cancel = cancel
	c.cancelMu.Unlock()

	if prev != nil {
		prev()
	}
}

// CancelPending aborts in-flight work bound to this connection
func (c *Conn) CancelPending() {
	c.cancelMu.Lock()
	cancel := c.cancel
	c.cancel = nil
	c.cancelMu.Unlock()

	if cancel != nil {
		cancel()
	}
}
