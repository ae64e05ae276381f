package api

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/chatrelay/chatrelay/internal/chat"
	"github.com/chatrelay/chatrelay/internal/realtime"
	"github.com/chatrelay/chatrelay/pkg/errors"
	"github.com/chatrelay/chatrelay/pkg/logging"
	"github.com/chatrelay/chatrelay/pkg/metrics"
)

// maxMessageSize bounds inbound client frames; a chat payload is small and
// anything larger is a misbehaving client
const maxMessageSize = 1 << 20

// WSHandler upgrades chat clients and pumps their messages through the
// relay service
type WSHandler struct {
	manager *realtime.Manager
	cleaner *realtime.Cleaner
	chat    *chat.Service
	metrics *metrics.Metrics
	logger  *logging.Logger

	upgrader websocket.Upgrader
}

// NewWSHandler creates the websocket endpoint handler
func NewWSHandler(manager *realtime.Manager, cleaner *realtime.Cleaner, chatSvc *chat.Service, m *metrics.Metrics, logger *logging.Logger) *WSHandler {
	return &WSHandler{
		manager: manager,
		cleaner: cleaner,
		chat:    chatSvc,
		metrics: m,
		logger:  logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// the connection itself is authenticated upstream; origin
			// filtering belongs to the reverse proxy
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// Handle handles GET /ws?user_id=...&conversation_id=...
func (h *WSHandler) Handle(c *gin.Context) {
	userID := c.Query("user_id")
	if userID == "" {
		ErrorResponse(c, http.StatusBadRequest, errors.NewValidationError("user_id is required"))
		return
	}
	conversationID := c.Query("conversation_id")

	ws, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "error", err.Error())
		return
	}

	conn := realtime.NewConn(ws, userID, conversationID)
	h.manager.Add(conn)
	if h.metrics != nil {
		h.metrics.UpdateActiveConnections(h.manager.Count())
	}

	ws.SetReadLimit(maxMessageSize)
	ws.SetPongHandler(func(string) error {
		conn.Touch()
		return nil
	})

	h.readLoop(conn, ws)
}

func (h *WSHandler) readLoop(conn *realtime.Conn, ws *websocket.Conn) {
	defer func() {
		if h.metrics != nil {
			h.metrics.UpdateActiveConnections(h.manager.Count())
		}
	}()

	for {
		var env realtime.Envelope
		if err := ws.ReadJSON(&env); err != nil {
			code, reason := closeDetails(err)
			result := h.cleaner.Cleanup(conn, code, reason)
			if h.metrics != nil {
				h.metrics.RecordDisconnect(string(result.Context.DisconnectType))
				h.metrics.RecordCleanup(result.Success)
			}
			return
		}

		conn.Touch()
		h.dispatch(conn, &env)
	}
}

func (h *WSHandler) dispatch(conn *realtime.Conn, env *realtime.Envelope) {
	switch env.Type {
	case realtime.TypeHeartbeat:
		// Touch already happened on read

	case realtime.TypeTyping:
		var p realtime.TypingPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return
		}
		h.manager.SetTyping(p.ConversationID, conn.UserID, p.Typing)
		if out, err := realtime.NewEnvelope(realtime.TypeTyping, p); err == nil {
			h.manager.Broadcast(p.ConversationID, out)
		}

	case realtime.TypeChat:
		var p realtime.ChatPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			h.logger.Warn("malformed chat payload", "connection_id", conn.ID)
			return
		}

		ctx, cancel := context.WithCancel(context.Background())
		ctx = logging.WithUserID(logging.WithConnectionID(ctx, conn.ID), conn.UserID)
		conn.BindCancel(cancel)

		go func() {
			defer cancel()
			_, err := h.chat.Relay(ctx, chat.Command{
				UserID:         conn.UserID,
				ConversationID: p.ConversationID,
				Content:        p.Content,
				IdempotencyKey: p.IdempotencyKey,
			})
			if err != nil && !errors.IsCanceled(err) {
				h.logger.Warn("relay failed",
					"connection_id", conn.ID,
					"error_type", string(errors.GetType(err)),
				)
			}
		}()

	default:
		h.logger.Debug("unknown envelope type", "type", env.Type, "connection_id", conn.ID)
	}
}

// closeDetails extracts the websocket close code from a read error. A zero
// code means the peer vanished without sending a close frame.
func closeDetails(err error) (int, string) {
	var ce *websocket.CloseError
	if stderrors.As(err, &ce) {
		return ce.Code, ce.Text
	}
	return 0, err.Error()
}
