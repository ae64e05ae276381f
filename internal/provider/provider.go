// Package provider defines the contract between the relay core and a remote
// LLM provider: a request goes in, an ordered sequence of stream events comes
// back, terminating in either a completion with usage totals or an
// interruption.
package provider

import (
	"context"
)

// Role identifies the author of a message
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one turn of a conversation
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// ChatRequest is the provider call contract
type ChatRequest struct {
	Messages     []Message `json:"messages"`
	Model        string    `json:"model"`
	MaxTokens    int       `json:"max_tokens"`
	SystemPrompt string    `json:"system_prompt,omitempty"`
}

// Usage holds token usage totals reported by the provider
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// Chunk is one incremental piece of a streaming response. Usage is set when
// the provider reports running usage metadata alongside the delta.
type Chunk struct {
	Delta string
	Usage *Usage
}

// Completion is the terminal event of a successful stream
type Completion struct {
	ID         string
	Model      string
	StopReason string
	Usage      Usage
}

// ChatStream is a cancellable asynchronous sequence of stream events.
//
// Channel rules:
//   - Providers must close Ch, Err, and Final when the stream ends
//   - Err emits at most one error
//   - Final emits exactly once on success, zero times on failure
//   - On context cancellation, providers must terminate promptly and close
//     all channels
type ChatStream struct {
	Ch    <-chan Chunk
	Err   <-chan error
	Final <-chan *Completion
}

// Provider executes chat calls against a remote LLM service
type Provider interface {
	// Name identifies the provider in errors, logs, and metrics
	Name() string

	// StreamChat starts a streaming chat call. A non-nil error means the
	// call failed before any stream was established.
	StreamChat(ctx context.Context, req *ChatRequest) (*ChatStream, error)
}
