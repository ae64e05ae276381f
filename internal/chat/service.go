package chat

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/chatrelay/chatrelay/internal/errorlog"
	"github.com/chatrelay/chatrelay/internal/provider"
	"github.com/chatrelay/chatrelay/internal/realtime"
	"github.com/chatrelay/chatrelay/internal/stream"
	"github.com/chatrelay/chatrelay/internal/usage"
	"github.com/chatrelay/chatrelay/pkg/errors"
	"github.com/chatrelay/chatrelay/pkg/logging"
	"github.com/chatrelay/chatrelay/pkg/metrics"
	"github.com/chatrelay/chatrelay/pkg/resilience"
	"github.com/chatrelay/chatrelay/pkg/tracing"
)

// Command is one user chat message to relay to the model provider
type Command struct {
	UserID         string
	ConversationID string
	Content        string
	Model          string
	History        []provider.Message
	IdempotencyKey string
}

// Result summarizes a finished relay
type Result struct {
	MessageID    string
	Content      string
	InputTokens  int64
	OutputTokens int64
	CostUSD      float64
	Duplicate    bool
}

// Config holds relay defaults
type Config struct {
	DefaultModel string
	MaxTokens    int
	SystemPrompt string
}

// Service relays chat messages to the model provider and fans the response
// stream out to the conversation's live connections. Provider calls run
// inside the shared circuit breaker and retry policy.
type Service struct {
	config   Config
	provider provider.Provider
	relay    *resilience.RelayOperation
	streams  *stream.Handler
	manager  *realtime.Manager
	errlog   *errorlog.Log
	usage    *usage.Recorder
	metrics  *metrics.Metrics
	tracing  *tracing.TracingService
	logger   *logging.Logger
}

// NewService wires the relay pipeline together. usage and metrics may be
// nil; tracing may be nil.
func NewService(
	config Config,
	prov provider.Provider,
	relay *resilience.RelayOperation,
	streams *stream.Handler,
	manager *realtime.Manager,
	errlog *errorlog.Log,
	recorder *usage.Recorder,
	m *metrics.Metrics,
	ts *tracing.TracingService,
	logger *logging.Logger,
) *Service {
	if config.MaxTokens <= 0 {
		config.MaxTokens = 4096
	}

	return &Service{
		config:   config,
		provider: prov,
		relay:    relay,
		streams:  streams,
		manager:  manager,
		errlog:   errlog,
		usage:    recorder,
		metrics:  m,
		tracing:  ts,
		logger:   logger,
	}
}

// Relay sends one chat message to the provider and streams the reply to
// every connection in the conversation. It blocks until the stream reaches
// a terminal state. Duplicate deliveries (same idempotency key) are
// acknowledged without contacting the provider.
func (s *Service) Relay(ctx context.Context, cmd Command) (*Result, error) {
	if cmd.Content == "" {
		return nil, errors.NewValidationError("message content is empty")
	}

	if s.usage != nil && cmd.IdempotencyKey != "" {
		fresh, err := s.usage.MarkSeen(ctx, cmd.IdempotencyKey)
		if err != nil {
			// dedupe is best-effort: a Redis hiccup must not block chat
			s.logger.Warn("idempotency check failed, relaying anyway",
				"idempotency_key", cmd.IdempotencyKey,
				"error", err.Error(),
			)
		} else if !fresh {
			s.logger.Info("duplicate message suppressed",
				"user_id", cmd.UserID,
				"idempotency_key", cmd.IdempotencyKey,
			)
			return &Result{Duplicate: true}, nil
		}
	}

	model := cmd.Model
	if model == "" {
		model = s.config.DefaultModel
	}
	messageID := uuid.New().String()

	started := time.Now()
	var session *stream.Session

	run := func(ctx context.Context) (interface{}, error) {
		return nil, s.attempt(ctx, cmd, model, messageID, &session)
	}

	var err error
	if s.tracing != nil {
		tctx, span := s.tracing.StartRelaySpan(ctx, messageID, cmd.ConversationID, model)
		_, err = s.relay.Execute(tctx, run)
		if err != nil {
			s.tracing.RecordError(span, err)
		} else if session != nil {
			span.SetAttributes(
				attribute.Int("relay.input_tokens", session.Usage().InputTokens),
				attribute.Int("relay.output_tokens", session.Usage().OutputTokens),
			)
		}
		span.End()
	} else {
		_, err = s.relay.Execute(ctx, run)
	}

	if s.metrics != nil {
		outcome := "success"
		if err != nil {
			outcome = string(errors.GetType(err))
		}
		s.metrics.RecordProviderRequest(s.provider.Name(), model, outcome, time.Since(started))
	}

	if err != nil {
		return s.fail(cmd, model, messageID, session, err)
	}

	u := session.Usage()
	result := &Result{
		MessageID:    messageID,
		Content:      session.Content(),
		InputTokens:  int64(u.InputTokens),
		OutputTokens: int64(u.OutputTokens),
		CostUSD:      session.Cost(),
	}

	if s.usage != nil {
		if uerr := s.usage.Add(ctx, usage.Record{
			UserID:       cmd.UserID,
			Model:        model,
			InputTokens:  result.InputTokens,
			OutputTokens: result.OutputTokens,
			CostUSD:      result.CostUSD,
		}); uerr != nil {
			s.logger.Warn("usage recording failed",
				"user_id", cmd.UserID,
				"error", uerr.Error(),
			)
		}
	}
	if s.metrics != nil {
		s.metrics.RecordStreamUsage(model, result.InputTokens, result.OutputTokens, result.CostUSD)
		s.metrics.RecordStreamOutcome(model, "complete")
	}

	s.logger.Info("relay complete",
		"message_id", messageID,
		"conversation_id", cmd.ConversationID,
		"model", model,
		"input_tokens", result.InputTokens,
		"output_tokens", result.OutputTokens,
		"duration_ms", time.Since(started).Milliseconds(),
	)
	return result, nil
}

// attempt is one delivery attempt inside the breaker and retry policy
func (s *Service) attempt(ctx context.Context, cmd Command, model, messageID string, session **stream.Session) error {
	messages := make([]provider.Message, 0, len(cmd.History)+1)
	messages = append(messages, cmd.History...)
	messages = append(messages, provider.Message{
		Role:    provider.RoleUser,
		Content: cmd.Content,
	})

	req := provider.ChatRequest{
		Messages:     messages,
		Model:        model,
		MaxTokens:    s.config.MaxTokens,
		SystemPrompt: s.config.SystemPrompt,
	}

	cs, err := s.provider.StreamChat(ctx, &req)
	if err != nil {
		return err
	}

	sess, events := s.streams.Consume(ctx, messageID, model, cs)
	*session = sess

	for ev := range events {
		s.forward(cmd.ConversationID, ev)
	}

	if sess.State() == stream.StateErrored {
		serr := sess.Err()
		if serr == nil {
			serr = errors.NewStreamInterruptedError("stream ended in error state")
		}
		if sess.Content() != "" {
			// partial output already reached the client; replaying the
			// request would duplicate it, so stop retrying here
			serr.Retryable = false
		}
		return serr
	}
	return nil
}

// forward maps a stream event to a wire envelope for the conversation
func (s *Service) forward(conversationID string, ev stream.Event) {
	var env *realtime.Envelope
	var err error

	switch ev.Type {
	case stream.EventStart:
		env, err = realtime.NewEnvelope(realtime.TypeStreamStart, realtime.StreamPayload{
			MessageID: ev.MessageID,
		})
	case stream.EventDelta:
		env, err = realtime.NewEnvelope(realtime.TypeStreamDelta, realtime.StreamPayload{
			MessageID: ev.MessageID,
			Content:   ev.Content,
		})
	case stream.EventComplete:
		env, err = realtime.NewEnvelope(realtime.TypeStreamComplete, realtime.StreamPayload{
			MessageID:  ev.MessageID,
			Content:    ev.Content,
			IsComplete: true,
		})
	case stream.EventError:
		userMsg := ""
		if ev.Error != nil {
			userMsg = ev.Error.UserMessage()
		}
		env, err = realtime.NewEnvelope(realtime.TypeStreamError, realtime.StreamPayload{
			MessageID:   ev.MessageID,
			Content:     ev.Content,
			UserMessage: userMsg,
		})
	default:
		return
	}

	if err != nil {
		s.logger.Warn("stream event encode failed", "type", string(ev.Type), "error", err.Error())
		return
	}
	s.manager.Broadcast(conversationID, env)
}

// fail records a terminal relay failure and tells the conversation
func (s *Service) fail(cmd Command, model, messageID string, session *stream.Session, err error) (*Result, error) {
	pe := errors.Classify(err)

	if errors.IsCanceled(pe) {
		s.logger.Info("relay canceled",
			"message_id", messageID,
			"conversation_id", cmd.ConversationID,
		)
		return nil, pe
	}

	s.errlog.Record(pe, map[string]string{
		"message_id":      messageID,
		"conversation_id": cmd.ConversationID,
		"user_id":         cmd.UserID,
		"model":           model,
	})
	if s.metrics != nil {
		s.metrics.RecordError("chat", string(pe.Type))
		s.metrics.RecordStreamOutcome(model, "errored")
	}

	partial := ""
	if session != nil {
		partial = session.Content()
	}

	// the stream handler already emitted an error event for mid-stream
	// failures; establishment failures never produced one, so tell the
	// conversation here
	if session == nil || session.State() != stream.StateErrored {
		env, eerr := realtime.NewEnvelope(realtime.TypeStreamError, realtime.StreamPayload{
			MessageID:   messageID,
			Content:     partial,
			UserMessage: pe.UserMessage(),
		})
		if eerr == nil {
			s.manager.Broadcast(cmd.ConversationID, env)
		}
	}

	return nil, pe
}
