package anthropic

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/chatrelay/chatrelay/internal/provider"
	"github.com/chatrelay/chatrelay/pkg/errors"
)

// StreamChat implements provider.Provider. The returned stream follows the
// channel rules documented on provider.ChatStream.
func (c *Client) StreamChat(ctx context.Context, req *provider.ChatRequest) (*provider.ChatStream, error) {
	antReq := buildRequest(req)

	body, err := json.Marshal(antReq)
	if err != nil {
		return nil, errors.NewInternalError("failed to encode provider request").
			WithProvider(providerName).WithCause(err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.BaseURL+messagesPath, bytes.NewReader(body))
	if err != nil {
		return nil, errors.NewInternalError("failed to build provider request").
			WithProvider(providerName).WithCause(err)
	}
	httpReq.Header = c.buildHeaders()

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, errors.Classify(err).WithProvider(providerName)
	}

	if resp.StatusCode >= 400 {
		defer resp.Body.Close()
		respBody, _ := io.ReadAll(resp.Body)
		return nil, errors.ClassifyHTTP(providerName, resp.StatusCode, respBody, resp.Header)
	}

	chunkCh := make(chan provider.Chunk, 64)
	errCh := make(chan error, 1)
	finalCh := make(chan *provider.Completion, 1)

	go c.processSSEStream(ctx, resp.Body, chunkCh, errCh, finalCh)

	return &provider.ChatStream{
		Ch:    chunkCh,
		Err:   errCh,
		Final: finalCh,
	}, nil
}

// buildRequest maps the provider contract onto the Messages API shape
func buildRequest(req *provider.ChatRequest) *anthropicRequest {
	messages := make([]anthropicMessage, 0, len(req.Messages))
	for _, m := range req.Messages {
		messages = append(messages, anthropicMessage{
			Role:    string(m.Role),
			Content: m.Content,
		})
	}

	return &anthropicRequest{
		Model:     req.Model,
		Messages:  messages,
		MaxTokens: req.MaxTokens,
		System:    req.SystemPrompt,
		Stream:    true,
	}
}

// processSSEStream reads the SSE stream and emits chunks until the stream
// completes or is interrupted.
func (c *Client) processSSEStream(
	ctx context.Context,
	body io.ReadCloser,
	chunkCh chan<- provider.Chunk,
	errCh chan<- error,
	finalCh chan<- *provider.Completion,
) {
	defer body.Close()
	defer close(chunkCh)
	defer close(errCh)
	defer close(finalCh)

	reader := bufio.NewReader(body)

	var (
		responseID    string
		responseModel string
		stopReason    string
		usage         anthropicUsage
		completed     bool
	)

	for !completed {
		select {
		case <-ctx.Done():
			errCh <- errors.Classify(ctx.Err()).WithProvider(providerName)
			return
		default:
		}

		line, err := reader.ReadString('\n')
		if err != nil {
			if err == io.EOF {
				break
			}
			errCh <- errors.NewStreamInterruptedError("provider stream broke mid-response").
				WithProvider(providerName).WithCause(err)
			return
		}

		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "event:") {
			continue
		}
		if !strings.HasPrefix(line, "data:") {
			continue
		}

		payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))

		var event anthropicStreamEvent
		if err := json.Unmarshal([]byte(payload), &event); err != nil {
			errCh <- errors.NewStreamInterruptedError("provider sent an undecodable stream event").
				WithProvider(providerName).WithCause(err)
			return
		}

		switch event.Type {
		case "message_start":
			if event.Message != nil {
				responseID = event.Message.ID
				responseModel = event.Message.Model
				usage = event.Message.Usage
				select {
				case chunkCh <- provider.Chunk{Usage: &provider.Usage{
					InputTokens:  usage.InputTokens,
					OutputTokens: usage.OutputTokens,
				}}:
				case <-ctx.Done():
					errCh <- errors.Classify(ctx.Err()).WithProvider(providerName)
					return
				}
			}

		case "content_block_delta":
			if event.Delta != nil && event.Delta.Type == "text_delta" && event.Delta.Text != "" {
				select {
				case chunkCh <- provider.Chunk{Delta: event.Delta.Text}:
				case <-ctx.Done():
					errCh <- errors.Classify(ctx.Err()).WithProvider(providerName)
					return
				}
			}

		case "message_delta":
			if event.Delta != nil && event.Delta.StopReason != "" {
				stopReason = event.Delta.StopReason
			}
			if event.Usage != nil {
				usage.OutputTokens = event.Usage.OutputTokens
				select {
				case chunkCh <- provider.Chunk{Usage: &provider.Usage{
					InputTokens:  usage.InputTokens,
					OutputTokens: usage.OutputTokens,
				}}:
				case <-ctx.Done():
					errCh <- errors.Classify(ctx.Err()).WithProvider(providerName)
					return
				}
			}

		case "message_stop":
			completed = true

		case "error":
			if event.Error != nil {
				errCh <- errors.NewStreamInterruptedError(event.Error.Message).
					WithProvider(providerName).
					WithDetail("provider_error_type", event.Error.Type)
				return
			}
		}
	}

	if !completed {
		// EOF before message_stop is an interruption, not a completion.
		errCh <- errors.NewStreamInterruptedError("provider closed the stream before completion").
			WithProvider(providerName)
		return
	}

	finalCh <- &provider.Completion{
		ID:         responseID,
		Model:      responseModel,
		StopReason: stopReason,
		Usage: provider.Usage{
			InputTokens:  usage.InputTokens,
			OutputTokens: usage.OutputTokens,
		},
	}
}
