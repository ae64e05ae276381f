package realtime

import (
	"fmt"
	"time"

	"github.com/chatrelay/chatrelay/pkg/logging"
)

// DisconnectType categorizes why a connection ended
type DisconnectType string

const (
	DisconnectGraceful DisconnectType = "GRACEFUL"
	DisconnectShutdown DisconnectType = "SHUTDOWN"
	DisconnectTimeout  DisconnectType = "TIMEOUT"
	DisconnectForced   DisconnectType = "FORCED"
	DisconnectError    DisconnectType = "ERROR"
)

// ClassifyDisconnect maps a websocket close code to a disconnect category.
// Code 0 means the peer vanished without a close frame, which is treated
// the same as a clean close for classification.
func ClassifyDisconnect(code int) DisconnectType {
	switch {
	case code == 0 || code == CloseGraceful:
		return DisconnectGraceful
	case code == CloseShutdown:
		return DisconnectShutdown
	case code == CloseAbnormal:
		return DisconnectTimeout
	case code == CloseForced:
		return DisconnectForced
	case code >= CloseAppError:
		return DisconnectError
	default:
		return DisconnectForced
	}
}

// CleanupContext describes the disconnect being cleaned up
type CleanupContext struct {
	ConnectionID   string
	UserID         string
	ConversationID string
	DisconnectType DisconnectType
	CloseCode      int
	Reason         string
	ConnectedFor   time.Duration
	Timestamp      time.Time
}

// CleanupResult reports the outcome of a teardown. Success means every
// step completed; a partial cleanup still deregisters the connection.
type CleanupResult struct {
	Success      bool
	Deregistered bool
	Steps        []string
	Errors       []error
	Context      CleanupContext
}

// Cleaner tears down disconnected connections. Steps run in a fixed order
// and are independent: a failing step is recorded and the remaining steps
// still run. Deregistration from the manager is the authoritative step and
// is always attempted.
type Cleaner struct {
	manager *Manager
	logger  *logging.Logger

	// notifyPeers is replaceable in tests
	notifyPeers func(conn *Conn, cctx CleanupContext) error
}

// NewCleaner creates a cleaner bound to a connection manager
func NewCleaner(manager *Manager, logger *logging.Logger) *Cleaner {
	c := &Cleaner{
		manager: manager,
		logger:  logger,
	}
	c.notifyPeers = c.defaultNotifyPeers
	return c
}

// Cleanup tears down a connection after it has disconnected for any reason
func (c *Cleaner) Cleanup(conn *Conn, closeCode int, reason string) CleanupResult {
	cctx := CleanupContext{
		ConnectionID:   conn.ID,
		UserID:         conn.UserID,
		ConversationID: conn.ConversationID,
		DisconnectType: ClassifyDisconnect(closeCode),
		CloseCode:      closeCode,
		Reason:         reason,
		ConnectedFor:   time.Since(conn.ConnectedAt),
		Timestamp:      time.Now(),
	}

	result := CleanupResult{Context: cctx}

	run := func(name string, fn func() error) {
		defer func() {
			if r := recover(); r != nil {
				result.Errors = append(result.Errors, fmt.Errorf("cleanup step %s panicked: %v", name, r))
			}
		}()
		if err := fn(); err != nil {
			result.Errors = append(result.Errors, fmt.Errorf("cleanup step %s: %w", name, err))
			return
		}
		result.Steps = append(result.Steps, name)
	}

	run("close_transport", func() error {
		return conn.Close(closeCode, reason)
	})
	run("notify_peers", func() error {
		return c.notifyPeers(conn, cctx)
	})
	run("clear_ephemeral", func() error {
		c.manager.ClearUserEphemeral(conn.UserID)
		return nil
	})
	run("cancel_pending", func() error {
		conn.CancelPending()
		return nil
	})
	run("deregister", func() error {
		result.Deregistered = c.manager.Remove(conn) || result.Deregistered
		return nil
	})

	result.Success = len(result.Errors) == 0

	fields := []interface{}{
		"connection_id", cctx.ConnectionID,
		"user_id", cctx.UserID,
		"disconnect_type", string(cctx.DisconnectType),
		"close_code", cctx.CloseCode,
		"connected_for", cctx.ConnectedFor.String(),
		"steps_completed", len(result.Steps),
		"deregistered", result.Deregistered,
	}
	if result.Success {
		c.logger.Info("connection cleanup complete", fields...)
	} else {
		errs := make([]string, 0, len(result.Errors))
		for _, err := range result.Errors {
			errs = append(errs, err.Error())
		}
		c.logger.Warn("connection cleanup completed with errors",
			append(fields, "errors", errs)...)
	}

	return result
}

// defaultNotifyPeers tells remaining conversation members the user is gone.
// Send failures to individual peers are best-effort and not treated as a
// step failure.
func (c *Cleaner) defaultNotifyPeers(conn *Conn, cctx CleanupContext) error {
	if conn.ConversationID == "" {
		return nil
	}

	env, err := NewEnvelope(TypePeerDisconnected, PeerDisconnectedPayload{
		UserID:         conn.UserID,
		ConversationID: conn.ConversationID,
		Reason:         string(cctx.DisconnectType),
	})
	if err != nil {
		return err
	}

	for _, peer := range c.manager.FindByConversation(conn.ConversationID) {
		if peer.ID == conn.ID {
			continue
		}
		if err := peer.Send(env); err != nil {
			c.logger.Debug("peer notification skipped",
				"peer_connection_id", peer.ID,
				"error", err.Error(),
			)
		}
	}
	return nil
}
