package realtime

import (
	"encoding/json"
	"time"
)

// WebSocket close codes used on the wire. 1000 = graceful, 1001 = shutdown,
// 1006 = abnormal/timeout, 1008 = policy/forced, >= 4000 = application error.
const (
	CloseGraceful = 1000
	CloseShutdown = 1001
	CloseAbnormal = 1006
	CloseForced   = 1008

	// CloseAppError is the base of the application-defined error range
	CloseAppError = 4000
)

// Envelope message types
const (
	TypeHeartbeat        = "heartbeat"
	TypeChat             = "chat"
	TypeTyping           = "typing"
	TypeStreamStart      = "stream_start"
	TypeStreamDelta      = "stream_delta"
	TypeStreamComplete   = "stream_complete"
	TypeStreamError      = "stream_error"
	TypePeerDisconnected = "peer_disconnected"
)

// Envelope is the wire format for every message on the persistent connection
type Envelope struct {
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// NewEnvelope wraps a payload in a timestamped envelope
func NewEnvelope(msgType string, payload interface{}) (*Envelope, error) {
	var raw json.RawMessage
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		raw = data
	}

	return &Envelope{
		Type:      msgType,
		Payload:   raw,
		Timestamp: time.Now(),
	}, nil
}

// ChatPayload is the client-to-server chat message payload
type ChatPayload struct {
	ConversationID string `json:"conversation_id"`
	Content        string `json:"content"`
	// IdempotencyKey deduplicates replays after a reconnect
	IdempotencyKey string `json:"idempotency_key,omitempty"`
}

// TypingPayload is the typing indicator payload
type TypingPayload struct {
	ConversationID string `json:"conversation_id"`
	Typing         bool   `json:"typing"`
}

// StreamPayload carries normalized stream events to the client
type StreamPayload struct {
	MessageID  string `json:"message_id"`
	Content    string `json:"content,omitempty"`
	IsComplete bool   `json:"is_complete"`
	// UserMessage is the user-visible error text on stream_error envelopes
	UserMessage string `json:"user_message,omitempty"`
}

// PeerDisconnectedPayload notifies remaining conversation members
type PeerDisconnectedPayload struct {
	UserID         string `json:"user_id"`
	ConversationID string `json:"conversation_id"`
	Reason         string `json:"reason,omitempty"`
}
