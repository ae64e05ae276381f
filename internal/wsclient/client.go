package wsclient

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/chatrelay/chatrelay/internal/realtime"
	"github.com/chatrelay/chatrelay/pkg/logging"
	"github.com/chatrelay/chatrelay/pkg/metrics"
)

// Config configures a client connection
type Config struct {
	URL              string
	HandshakeTimeout time.Duration
	HeartbeatPeriod  time.Duration
	QueueCapacity    int
	Reconnect        ReconnectConfig
}

// DefaultConfig returns the standard client settings for a server URL
func DefaultConfig(url string) Config {
	return Config{
		URL:              url,
		HandshakeTimeout: 10 * time.Second,
		HeartbeatPeriod:  15 * time.Second,
		QueueCapacity:    DefaultQueueCapacity,
		Reconnect:        DefaultReconnectConfig(),
	}
}

// Client maintains a persistent websocket connection to the relay server.
// While disconnected it buffers outgoing messages and replays them in order
// once the connection is reestablished.
type Client struct {
	config Config
	logger *logging.Logger
	dialer *websocket.Dialer

	queue       *Queue
	reconnector *Reconnector

	mu     sync.Mutex
	ws     *websocket.Conn
	wrMu   sync.Mutex
	closed bool

	// OnMessage receives every envelope read from the server
	OnMessage func(env *realtime.Envelope)

	// OnExhausted fires once when the reconnection budget is spent
	OnExhausted func()

	// Metrics optionally publishes offline queue depth; safe to leave nil
	Metrics *metrics.Metrics
}

// NewClient creates a disconnected client; call Connect to dial
func NewClient(config Config, logger *logging.Logger) *Client {
	if config.HandshakeTimeout <= 0 {
		config.HandshakeTimeout = 10 * time.Second
	}
	if config.HeartbeatPeriod <= 0 {
		config.HeartbeatPeriod = 15 * time.Second
	}

	c := &Client{
		config: config,
		logger: logger,
		dialer: &websocket.Dialer{HandshakeTimeout: config.HandshakeTimeout},
		queue:  NewQueue(config.QueueCapacity),
	}

	c.reconnector = NewReconnector(config.Reconnect, logger,
		func(attempt int) { c.redial(attempt) },
		func() {
			logger.Error("reconnection budget exhausted", "url", config.URL)
			if c.OnExhausted != nil {
				c.OnExhausted()
			}
		},
	)

	return c
}

// Connect dials the server, flushes any queued messages and starts the
// read and heartbeat loops
func (c *Client) Connect(ctx context.Context) error {
	ws, _, err := c.dialer.DialContext(ctx, c.config.URL, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", c.config.URL, err)
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		ws.Close()
		return fmt.Errorf("client is closed")
	}
	c.ws = ws
	c.mu.Unlock()

	c.reconnector.Reset()
	c.logger.Info("connected", "url", c.config.URL)

	c.flushQueue()

	go c.readPump(ws)
	go c.heartbeatLoop(ws)
	return nil
}

// Connected reports whether a live connection is established
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ws != nil
}

// Queued returns the number of messages waiting for reconnection
func (c *Client) Queued() int {
	return c.queue.Len()
}

// ReconnectState exposes the reconnection loop state
func (c *Client) ReconnectState() ReconnectState {
	return c.reconnector.State()
}

// Send delivers a message immediately when connected, otherwise queues it
// for replay. Returns true if the message went out on the wire.
func (c *Client) Send(msgType string, payload interface{}) (bool, error) {
	c.mu.Lock()
	ws := c.ws
	c.mu.Unlock()

	if ws == nil {
		msg, droppedOld := c.queue.Enqueue(msgType, payload)
		if droppedOld {
			c.logger.Warn("offline queue full, dropped oldest message",
				"queued_key", msg.IdempotencyKey)
		}
		c.publishQueueDepth()
		return false, nil
	}

	if err := c.write(ws, msgType, payload); err != nil {
		// the write failing means the connection is going down; queue
		// the message so it survives into the next connection
		c.queue.Enqueue(msgType, payload)
		c.publishQueueDepth()
		return false, err
	}
	return true, nil
}

func (c *Client) publishQueueDepth() {
	if c.Metrics != nil {
		c.Metrics.UpdateQueuedMessages(c.queue.Len())
	}
}

// Close shuts the client down permanently
func (c *Client) Close() error {
	c.mu.Lock()
	c.closed = true
	ws := c.ws
	c.ws = nil
	c.mu.Unlock()

	c.reconnector.Stop()

	if ws == nil {
		return nil
	}
	msg := websocket.FormatCloseMessage(realtime.CloseGraceful, "client shutdown")
	ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(5*time.Second))
	return ws.Close()
}

func (c *Client) write(ws *websocket.Conn, msgType string, payload interface{}) error {
	env, err := realtime.NewEnvelope(msgType, payload)
	if err != nil {
		return err
	}

	c.wrMu.Lock()
	defer c.wrMu.Unlock()
	ws.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return ws.WriteJSON(env)
}

func (c *Client) flushQueue() {
	pending := c.queue.DequeueAll()
	if len(pending) == 0 {
		return
	}

	c.mu.Lock()
	ws := c.ws
	c.mu.Unlock()
	if ws == nil {
		return
	}

	c.logger.Info("replaying queued messages", "count", len(pending))
	for i, msg := range pending {
		if err := c.write(ws, msg.Type, msg.Payload); err != nil {
			// put the unsent remainder back, keys intact, so the next
			// reconnect resumes where this one stopped
			c.queue.Requeue(pending[i:])
			c.logger.Warn("queued message replay interrupted",
				"idempotency_key", msg.IdempotencyKey,
				"requeued", len(pending)-i,
				"error", err.Error(),
			)
			c.publishQueueDepth()
			return
		}
	}
	c.publishQueueDepth()
}

func (c *Client) readPump(ws *websocket.Conn) {
	defer c.handleDisconnect(ws)

	for {
		var env realtime.Envelope
		if err := ws.ReadJSON(&env); err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				c.logger.Info("server closed connection")
			} else {
				c.logger.Warn("read failed", "error", err.Error())
			}
			return
		}

		if c.OnMessage != nil {
			c.OnMessage(&env)
		}
	}
}

func (c *Client) heartbeatLoop(ws *websocket.Conn) {
	ticker := time.NewTicker(c.config.HeartbeatPeriod)
	defer ticker.Stop()

	for range ticker.C {
		c.mu.Lock()
		current := c.ws
		c.mu.Unlock()
		if current != ws {
			return
		}

		if err := c.write(ws, realtime.TypeHeartbeat, nil); err != nil {
			return
		}
	}
}

func (c *Client) handleDisconnect(ws *websocket.Conn) {
	c.mu.Lock()
	if c.ws == ws {
		c.ws = nil
	}
	closed := c.closed
	c.mu.Unlock()
	ws.Close()

	if closed {
		return
	}
	c.reconnector.Schedule()
}

func (c *Client) redial(attempt int) {
	ctx, cancel := context.WithTimeout(context.Background(), c.config.HandshakeTimeout)
	defer cancel()

	if err := c.Connect(ctx); err != nil {
		c.logger.Warn("reconnect attempt failed",
			"attempt", attempt,
			"error", err.Error(),
		)
		c.reconnector.Failed()
		c.reconnector.Schedule()
	}
}
