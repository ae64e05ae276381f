package stream

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chatrelay/chatrelay/internal/provider"
	apperrors "github.com/chatrelay/chatrelay/pkg/errors"
)

// fakeStream builds a ChatStream that replays the given chunks and then
// either errors or completes.
func fakeStream(chunks []provider.Chunk, streamErr error, final *provider.Completion) *provider.ChatStream {
	chunkCh := make(chan provider.Chunk, len(chunks))
	errCh := make(chan error, 1)
	finalCh := make(chan *provider.Completion, 1)

	for _, c := range chunks {
		chunkCh <- c
	}
	close(chunkCh)

	if streamErr != nil {
		errCh <- streamErr
	}
	close(errCh)

	if final != nil {
		finalCh <- final
	}
	close(finalCh)

	return &provider.ChatStream{Ch: chunkCh, Err: errCh, Final: finalCh}
}

func collect(events <-chan Event) []Event {
	var out []Event
	for e := range events {
		out = append(out, e)
	}
	return out
}

func TestHandler_AccumulatesDeltas(t *testing.T) {
	handler := NewHandler(nil)

	cs := fakeStream(
		[]provider.Chunk{
			{Usage: &provider.Usage{InputTokens: 5}},
			{Delta: "Hel"},
			{Delta: "lo, "},
			{Delta: "world"},
		},
		nil,
		&provider.Completion{ID: "msg_1", Model: "claude-sonnet-4-20250514", StopReason: "end_turn",
			Usage: provider.Usage{InputTokens: 5, OutputTokens: 3}},
	)

	session, events := handler.Consume(context.Background(), "msg_1", "claude-sonnet-4-20250514", cs)
	all := collect(events)

	assert.Equal(t, "Hello, world", session.Content())
	assert.Equal(t, 3, session.Usage().OutputTokens)
	assert.Equal(t, 5, session.Usage().InputTokens)
	assert.Equal(t, StateComplete, session.State())

	require.NotEmpty(t, all)
	assert.Equal(t, EventStart, all[0].Type)

	var deltas []string
	for _, e := range all {
		if e.Type == EventDelta {
			deltas = append(deltas, e.Content)
		}
	}
	assert.Equal(t, []string{"Hel", "lo, ", "world"}, deltas)

	last := all[len(all)-1]
	assert.Equal(t, EventComplete, last.Type)
	assert.True(t, last.IsComplete)
	assert.Equal(t, "Hello, world", last.Content)
	assert.Equal(t, "msg_1", last.MessageID)
}

func TestHandler_ComputesCost(t *testing.T) {
	handler := NewHandler(nil)

	cs := fakeStream(
		[]provider.Chunk{{Delta: "hi"}},
		nil,
		&provider.Completion{Model: "claude-sonnet-4-20250514",
			Usage: provider.Usage{InputTokens: 1_000_000, OutputTokens: 1_000_000}},
	)

	session, events := handler.Consume(context.Background(), "msg_1", "claude-sonnet-4-20250514", cs)
	collect(events)

	// 3.0 input + 15.0 output per million tokens.
	assert.InDelta(t, 18.0, session.Cost(), 0.0001)
}

func TestHandler_UnknownModelCostsZero(t *testing.T) {
	assert.Zero(t, Cost("some-future-model", 1000, 1000))
}

func TestHandler_PreservesPartialContentOnError(t *testing.T) {
	handler := NewHandler(nil)

	cs := fakeStream(
		[]provider.Chunk{{Delta: "partial "}, {Delta: "answer"}},
		apperrors.NewStreamInterruptedError("connection lost"),
		nil,
	)

	session, events := handler.Consume(context.Background(), "msg_1", "claude-sonnet-4-20250514", cs)
	all := collect(events)

	assert.Equal(t, StateErrored, session.State())
	assert.Equal(t, "partial answer", session.Content())

	last := all[len(all)-1]
	assert.Equal(t, EventError, last.Type)
	assert.Equal(t, "partial answer", last.Content)
	require.NotNil(t, last.Error)
	assert.Equal(t, apperrors.ErrorTypeStreamInterrupted, last.Error.Type)
}

func TestHandler_EndWithoutCompletionIsInterrupted(t *testing.T) {
	handler := NewHandler(nil)

	cs := fakeStream([]provider.Chunk{{Delta: "x"}}, nil, nil)

	session, events := handler.Consume(context.Background(), "msg_1", "m", cs)
	all := collect(events)

	assert.Equal(t, StateErrored, session.State())
	last := all[len(all)-1]
	require.NotNil(t, last.Error)
	assert.Equal(t, apperrors.ErrorTypeStreamInterrupted, last.Error.Type)
}

func TestHandler_ErrorBeforeFirstChunk(t *testing.T) {
	handler := NewHandler(nil)

	cs := fakeStream(nil, apperrors.NewOverloadedError("busy"), nil)

	session, events := handler.Consume(context.Background(), "msg_1", "m", cs)
	all := collect(events)

	assert.Equal(t, StateErrored, session.State())
	assert.Empty(t, session.Content())

	// No start event when nothing ever streamed.
	require.Len(t, all, 1)
	assert.Equal(t, EventError, all[0].Type)
}

func TestSession_TokenCountersNeverDecrease(t *testing.T) {
	session := NewSession("msg_1", "m")

	session.updateUsage(provider.Usage{InputTokens: 10, OutputTokens: 5})
	session.updateUsage(provider.Usage{InputTokens: 3, OutputTokens: 2})

	usage := session.Usage()
	assert.Equal(t, 10, usage.InputTokens)
	assert.Equal(t, 5, usage.OutputTokens)
}
