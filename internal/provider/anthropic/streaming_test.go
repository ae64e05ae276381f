package anthropic

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chatrelay/chatrelay/internal/provider"
	apperrors "github.com/chatrelay/chatrelay/pkg/errors"
)

func testRequest() *provider.ChatRequest {
	return &provider.ChatRequest{
		Messages:  []provider.Message{{Role: provider.RoleUser, Content: "hello"}},
		Model:     "claude-sonnet-4-20250514",
		MaxTokens: 1024,
	}
}

func sseServer(t *testing.T, events []string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/messages", r.URL.Path)
		assert.Equal(t, "test-key", r.Header.Get("x-api-key"))
		assert.NotEmpty(t, r.Header.Get("anthropic-version"))

		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)
		for _, event := range events {
			fmt.Fprintf(w, "data: %s\n\n", event)
			flusher.Flush()
		}
	}))
}

func newTestClient(baseURL string) *Client {
	return New(Config{
		APIKey:         "test-key",
		BaseURL:        baseURL,
		RequestTimeout: 5 * time.Second,
	})
}

func drain(t *testing.T, stream *provider.ChatStream) (string, *provider.Completion, error) {
	t.Helper()

	var content strings.Builder
	for chunk := range stream.Ch {
		content.WriteString(chunk.Delta)
	}

	var streamErr error
	if err, ok := <-stream.Err; ok {
		streamErr = err
	}
	final, _ := <-stream.Final

	return content.String(), final, streamErr
}

func TestStreamChat_Success(t *testing.T) {
	server := sseServer(t, []string{
		`{"type":"message_start","message":{"id":"msg_1","model":"claude-sonnet-4-20250514","usage":{"input_tokens":5,"output_tokens":0}}}`,
		`{"type":"content_block_start","index":0}`,
		`{"type":"content_block_delta","delta":{"type":"text_delta","text":"Hel"}}`,
		`{"type":"content_block_delta","delta":{"type":"text_delta","text":"lo, "}}`,
		`{"type":"content_block_delta","delta":{"type":"text_delta","text":"world"}}`,
		`{"type":"content_block_stop","index":0}`,
		`{"type":"message_delta","delta":{"type":"message_delta","stop_reason":"end_turn"},"usage":{"output_tokens":3}}`,
		`{"type":"message_stop"}`,
	})
	defer server.Close()

	client := newTestClient(server.URL)
	stream, err := client.StreamChat(context.Background(), testRequest())
	require.NoError(t, err)

	content, final, streamErr := drain(t, stream)
	require.NoError(t, streamErr)
	assert.Equal(t, "Hello, world", content)

	require.NotNil(t, final)
	assert.Equal(t, "msg_1", final.ID)
	assert.Equal(t, "end_turn", final.StopReason)
	assert.Equal(t, 5, final.Usage.InputTokens)
	assert.Equal(t, 3, final.Usage.OutputTokens)
}

func TestStreamChat_RateLimited(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "4")
		w.Header().Set("anthropic-ratelimit-requests-remaining", "0")
		w.WriteHeader(http.StatusTooManyRequests)
		fmt.Fprint(w, `{"error":{"type":"rate_limit_error","message":"rate limited"}}`)
	}))
	defer server.Close()

	client := newTestClient(server.URL)
	_, err := client.StreamChat(context.Background(), testRequest())

	require.Error(t, err)
	assert.Equal(t, apperrors.ErrorTypeRateLimit, apperrors.GetType(err))
	assert.True(t, apperrors.IsRateLimitClass(err))

	hint, ok := apperrors.RetryHint(err)
	require.True(t, ok)
	assert.Equal(t, 4*time.Second, hint)
}

func TestStreamChat_AuthFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		fmt.Fprint(w, `{"error":{"type":"authentication_error","message":"invalid x-api-key"}}`)
	}))
	defer server.Close()

	client := newTestClient(server.URL)
	_, err := client.StreamChat(context.Background(), testRequest())

	require.Error(t, err)
	assert.Equal(t, apperrors.ErrorTypeAuthentication, apperrors.GetType(err))
	assert.False(t, apperrors.IsRateLimitClass(err))
}

func TestStreamChat_InterruptedMidStream(t *testing.T) {
	// Server ends the body before message_stop.
	server := sseServer(t, []string{
		`{"type":"message_start","message":{"id":"msg_1","model":"m","usage":{"input_tokens":5,"output_tokens":0}}}`,
		`{"type":"content_block_delta","delta":{"type":"text_delta","text":"partial"}}`,
	})
	defer server.Close()

	client := newTestClient(server.URL)
	stream, err := client.StreamChat(context.Background(), testRequest())
	require.NoError(t, err)

	content, final, streamErr := drain(t, stream)
	assert.Equal(t, "partial", content)
	assert.Nil(t, final)
	require.Error(t, streamErr)
	assert.Equal(t, apperrors.ErrorTypeStreamInterrupted, apperrors.GetType(streamErr))
}

func TestStreamChat_InStreamErrorEvent(t *testing.T) {
	server := sseServer(t, []string{
		`{"type":"message_start","message":{"id":"msg_1","model":"m","usage":{"input_tokens":2,"output_tokens":0}}}`,
		`{"type":"error","error":{"type":"overloaded_error","message":"overloaded"}}`,
	})
	defer server.Close()

	client := newTestClient(server.URL)
	stream, err := client.StreamChat(context.Background(), testRequest())
	require.NoError(t, err)

	_, final, streamErr := drain(t, stream)
	assert.Nil(t, final)
	require.Error(t, streamErr)
	assert.Equal(t, apperrors.ErrorTypeStreamInterrupted, apperrors.GetType(streamErr))
}

func TestBuildRequest(t *testing.T) {
	req := &provider.ChatRequest{
		Messages: []provider.Message{
			{Role: provider.RoleUser, Content: "question"},
			{Role: provider.RoleAssistant, Content: "answer"},
		},
		Model:        "claude-sonnet-4-20250514",
		MaxTokens:    512,
		SystemPrompt: "be helpful",
	}

	antReq := buildRequest(req)
	assert.True(t, antReq.Stream)
	assert.Equal(t, "be helpful", antReq.System)
	assert.Equal(t, 512, antReq.MaxTokens)
	require.Len(t, antReq.Messages, 2)
	assert.Equal(t, "user", antReq.Messages[0].Role)
	assert.Equal(t, "assistant", antReq.Messages[1].Role)
}
