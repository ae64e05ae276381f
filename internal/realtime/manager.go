package realtime

import (
	"context"
	"sync"
	"time"

	"github.com/chatrelay/chatrelay/pkg/logging"
)

// ManagerConfig controls connection tracking and the liveness sweep
type ManagerConfig struct {
	// HeartbeatInterval is how often the sweep inspects connections
	HeartbeatInterval time.Duration

	// ConnectionTimeout is how long a connection may go without a
	// heartbeat before it is treated as dead
	ConnectionTimeout time.Duration
}

// DefaultManagerConfig returns the default sweep cadence
func DefaultManagerConfig() ManagerConfig {
	return ManagerConfig{
		HeartbeatInterval: 15 * time.Second,
		ConnectionTimeout: 60 * time.Second,
	}
}

// Manager is the registry of live websocket connections. It owns the index
// by connection ID, user ID and conversation ID, plus ephemeral per-user
// state such as typing indicators.
type Manager struct {
	config ManagerConfig
	logger *logging.Logger

	mu             sync.RWMutex
	conns          map[string]*Conn
	byUser         map[string]map[string]*Conn
	byConversation map[string]map[string]*Conn

	// typing[conversationID] is the set of user IDs currently typing
	typing map[string]map[string]bool
}

// NewManager creates an empty connection registry
func NewManager(config ManagerConfig, logger *logging.Logger) *Manager {
	if config.HeartbeatInterval <= 0 {
		config.HeartbeatInterval = DefaultManagerConfig().HeartbeatInterval
	}
	if config.ConnectionTimeout <= 0 {
		config.ConnectionTimeout = DefaultManagerConfig().ConnectionTimeout
	}

	return &Manager{
		config:         config,
		logger:         logger,
		conns:          make(map[string]*Conn),
		byUser:         make(map[string]map[string]*Conn),
		byConversation: make(map[string]map[string]*Conn),
		typing:         make(map[string]map[string]bool),
	}
}

// Add registers a connection under all of its indexes
func (m *Manager) Add(conn *Conn) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.conns[conn.ID] = conn

	if m.byUser[conn.UserID] == nil {
		m.byUser[conn.UserID] = make(map[string]*Conn)
	}
	m.byUser[conn.UserID][conn.ID] = conn

	if conn.ConversationID != "" {
		if m.byConversation[conn.ConversationID] == nil {
			m.byConversation[conn.ConversationID] = make(map[string]*Conn)
		}
		m.byConversation[conn.ConversationID][conn.ID] = conn
	}

	m.logger.LogConnectionEvent(context.Background(), "connected", conn.ID, conn.UserID, map[string]interface{}{
		"conversation_id": conn.ConversationID,
		"total":           len(m.conns),
	})
}

// Remove deregisters a connection from every index. It returns true if the
// connection was present; removing an already-removed connection is a no-op
// so concurrent cleanup paths can race safely.
func (m *Manager) Remove(conn *Conn) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.conns[conn.ID]; !ok {
		return false
	}
	delete(m.conns, conn.ID)

	if set := m.byUser[conn.UserID]; set != nil {
		delete(set, conn.ID)
		if len(set) == 0 {
			delete(m.byUser, conn.UserID)
		}
	}

	if set := m.byConversation[conn.ConversationID]; set != nil {
		delete(set, conn.ID)
		if len(set) == 0 {
			delete(m.byConversation, conn.ConversationID)
		}
	}

	m.logger.LogConnectionEvent(context.Background(), "deregistered", conn.ID, conn.UserID, map[string]interface{}{
		"total": len(m.conns),
	})
	return true
}

// FindByUser returns all live connections for a user
func (m *Manager) FindByUser(userID string) []*Conn {
	m.mu.RLock()
	defer m.mu.RUnlock()

	conns := make([]*Conn, 0, len(m.byUser[userID]))
	for _, c := range m.byUser[userID] {
		conns = append(conns, c)
	}
	return conns
}

// FindByConversation returns all live connections in a conversation
func (m *Manager) FindByConversation(conversationID string) []*Conn {
	m.mu.RLock()
	defer m.mu.RUnlock()

	conns := make([]*Conn, 0, len(m.byConversation[conversationID]))
	for _, c := range m.byConversation[conversationID] {
		conns = append(conns, c)
	}
	return conns
}

// All returns every registered connection
func (m *Manager) All() []*Conn {
	m.mu.RLock()
	defer m.mu.RUnlock()

	conns := make([]*Conn, 0, len(m.conns))
	for _, c := range m.conns {
		conns = append(conns, c)
	}
	return conns
}

// Get returns the connection with the given ID, if registered
func (m *Manager) Get(connectionID string) (*Conn, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.conns[connectionID]
	return c, ok
}

// Count returns the number of registered connections
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.conns)
}

// Broadcast sends an envelope to every connection in a conversation.
// Individual send failures are logged and do not stop the fan-out.
func (m *Manager) Broadcast(conversationID string, env *Envelope) {
	for _, conn := range m.FindByConversation(conversationID) {
		if err := conn.Send(env); err != nil {
			m.logger.Warn("broadcast send failed",
				"connection_id", conn.ID,
				"conversation_id", conversationID,
				"type", env.Type,
				"error", err.Error(),
			)
		}
	}
}

// SetTyping updates the typing indicator for a user in a conversation
func (m *Manager) SetTyping(conversationID, userID string, typing bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if typing {
		if m.typing[conversationID] == nil {
			m.typing[conversationID] = make(map[string]bool)
		}
		m.typing[conversationID][userID] = true
		return
	}

	if set := m.typing[conversationID]; set != nil {
		delete(set, userID)
		if len(set) == 0 {
			delete(m.typing, conversationID)
		}
	}
}

// TypingUsers returns the users currently typing in a conversation
func (m *Manager) TypingUsers(conversationID string) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	users := make([]string, 0, len(m.typing[conversationID]))
	for u := range m.typing[conversationID] {
		users = append(users, u)
	}
	return users
}

// ClearUserEphemeral drops all ephemeral state for a user, currently the
// typing indicators in every conversation
func (m *Manager) ClearUserEphemeral(userID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for convID, set := range m.typing {
		delete(set, userID)
		if len(set) == 0 {
			delete(m.typing, convID)
		}
	}
}

// StartSweep runs the liveness sweep until ctx is cancelled. Connections
// that have been quiet for longer than HeartbeatInterval are pinged so a
// healthy but passive client refreshes its heartbeat with a pong; those
// whose last heartbeat is older than ConnectionTimeout are closed with an
// abnormal close code and handed to the cleaner.
func (m *Manager) StartSweep(ctx context.Context, cleaner *Cleaner) {
	ticker := time.NewTicker(m.config.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.sweepOnce(cleaner)
		}
	}
}

func (m *Manager) sweepOnce(cleaner *Cleaner) {
	now := time.Now()
	staleCutoff := now.Add(-m.config.ConnectionTimeout)
	idleCutoff := now.Add(-m.config.HeartbeatInterval)

	m.mu.RLock()
	stale := make([]*Conn, 0)
	idle := make([]*Conn, 0)
	for _, c := range m.conns {
		hb := c.LastHeartbeat()
		switch {
		case hb.Before(staleCutoff):
			stale = append(stale, c)
		case hb.Before(idleCutoff):
			idle = append(idle, c)
		}
	}
	m.mu.RUnlock()

	// a pong answer refreshes the heartbeat before the connection can
	// reach the stale cutoff
	for _, conn := range idle {
		if err := conn.Ping(); err != nil {
			m.logger.Debug("ping failed",
				"connection_id", conn.ID,
				"error", err.Error(),
			)
		}
	}

	for _, conn := range stale {
		m.logger.Warn("connection missed heartbeat deadline",
			"connection_id", conn.ID,
			"user_id", conn.UserID,
			"last_heartbeat", conn.LastHeartbeat().Format(time.RFC3339),
		)
		cleaner.Cleanup(conn, CloseAbnormal, "heartbeat timeout")
	}
}
