// Package stream normalizes a provider's incremental token stream into
// delta/complete/error events, accumulating content, usage, and cost.
package stream

import (
	"context"
	"strings"
	"sync"

	"github.com/chatrelay/chatrelay/internal/provider"
	"github.com/chatrelay/chatrelay/pkg/errors"
	"github.com/chatrelay/chatrelay/pkg/logging"
)

// SessionState is the lifecycle state of one streaming response
type SessionState string

const (
	StateIdle      SessionState = "IDLE"
	StateStreaming SessionState = "STREAMING"
	StateComplete  SessionState = "COMPLETE"
	StateErrored   SessionState = "ERRORED"
)

// EventType identifies a normalized stream event
type EventType string

const (
	EventStart    EventType = "start"
	EventDelta    EventType = "delta"
	EventComplete EventType = "complete"
	EventError    EventType = "error"
)

// Event is the normalized stream event exposed to collaborators
type Event struct {
	Type       EventType             `json:"type"`
	Content    string                `json:"content,omitempty"`
	IsComplete bool                  `json:"is_complete"`
	MessageID  string                `json:"message_id"`
	Error      *errors.ProviderError `json:"error,omitempty"`
}

// Session tracks one streaming response. Content is never discarded on
// error; token counters never decrease.
type Session struct {
	mu           sync.Mutex
	messageID    string
	model        string
	accumulated  strings.Builder
	inputTokens  int
	outputTokens int
	state        SessionState
	cost         float64
	err          *errors.ProviderError
}

// NewSession creates an idle session for the given message
func NewSession(messageID, model string) *Session {
	return &Session{
		messageID: messageID,
		model:     model,
		state:     StateIdle,
	}
}

// MessageID returns the message this session streams
func (s *Session) MessageID() string {
	return s.messageID
}

// State returns the current lifecycle state
func (s *Session) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Content returns everything accumulated so far
func (s *Session) Content() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.accumulated.String()
}

// Usage returns the current token counters
func (s *Session) Usage() provider.Usage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return provider.Usage{InputTokens: s.inputTokens, OutputTokens: s.outputTokens}
}

// Err returns the terminal error for an ERRORED session, nil otherwise
func (s *Session) Err() *errors.ProviderError {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Cost returns the computed cost; zero until the stream completes
func (s *Session) Cost() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cost
}

func (s *Session) appendDelta(text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accumulated.WriteString(text)
}

// updateUsage applies provider usage metadata, keeping counters monotonic
func (s *Session) updateUsage(usage provider.Usage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if usage.InputTokens > s.inputTokens {
		s.inputTokens = usage.InputTokens
	}
	if usage.OutputTokens > s.outputTokens {
		s.outputTokens = usage.OutputTokens
	}
}

func (s *Session) setState(state SessionState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = state
}

func (s *Session) finalize() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = StateComplete
	s.cost = Cost(s.model, s.inputTokens, s.outputTokens)
}

// Handler consumes provider streams and emits normalized events
type Handler struct {
	logger *logging.Logger
}

// NewHandler creates a stream handler
func NewHandler(logger *logging.Logger) *Handler {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Handler{logger: logger}
}

// Consume normalizes the provider stream into events on the returned channel.
// The channel is closed after the terminal complete or error event. The
// session can be inspected at any time, including after an interruption:
// partial content survives an error so the caller may persist it.
func (h *Handler) Consume(ctx context.Context, messageID, model string, cs *provider.ChatStream) (*Session, <-chan Event) {
	session := NewSession(messageID, model)
	out := make(chan Event, 64)

	go h.process(ctx, session, cs, out)

	return session, out
}

func (h *Handler) process(ctx context.Context, session *Session, cs *provider.ChatStream, out chan<- Event) {
	defer close(out)

	for chunk := range cs.Ch {
		if session.State() == StateIdle {
			session.setState(StateStreaming)
			out <- Event{Type: EventStart, MessageID: session.messageID}
		}
		if chunk.Usage != nil {
			session.updateUsage(*chunk.Usage)
		}
		if chunk.Delta != "" {
			session.appendDelta(chunk.Delta)
			out <- Event{Type: EventDelta, Content: chunk.Delta, MessageID: session.messageID}
		}
	}

	if err, ok := <-cs.Err; ok && err != nil {
		h.fail(ctx, session, err, out)
		return
	}

	final, ok := <-cs.Final
	if !ok || final == nil {
		h.fail(ctx, session,
			errors.NewStreamInterruptedError("provider stream ended without completing"), out)
		return
	}

	session.updateUsage(final.Usage)
	session.finalize()

	usage := session.Usage()
	h.logger.LogStreamEvent(ctx, "stream_complete", session.messageID, "", map[string]interface{}{
		"input_tokens":  usage.InputTokens,
		"output_tokens": usage.OutputTokens,
		"cost_usd":      session.Cost(),
		"stop_reason":   final.StopReason,
	})

	out <- Event{
		Type:       EventComplete,
		Content:    session.Content(),
		IsComplete: true,
		MessageID:  session.messageID,
	}
}

// fail transitions to ERRORED, preserving accumulated content. The error
// event carries the partial text so the caller may persist a partial
// assistant message rather than losing it.
func (h *Handler) fail(ctx context.Context, session *Session, err error, out chan<- Event) {
	session.setState(StateErrored)

	classified := errors.Classify(err)
	session.mu.Lock()
	session.err = classified
	session.mu.Unlock()
	h.logger.LogError(ctx, classified, "Stream interrupted", map[string]interface{}{
		"message_id":      session.messageID,
		"partial_content": len(session.Content()),
	})

	out <- Event{
		Type:      EventError,
		Content:   session.Content(),
		MessageID: session.messageID,
		Error:     classified,
	}
}
