package anthropic

// anthropicRequest represents a request to the Anthropic Messages API
type anthropicRequest struct {
	Model     string             `json:"model"`
	Messages  []anthropicMessage `json:"messages"`
	MaxTokens int                `json:"max_tokens"`
	System    string             `json:"system,omitempty"`
	Stream    bool               `json:"stream,omitempty"`
}

// anthropicMessage represents a message in the Anthropic format
type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// anthropicUsage represents token usage in an Anthropic response
type anthropicUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// anthropicMessageInfo is the message object carried by message_start
type anthropicMessageInfo struct {
	ID    string         `json:"id"`
	Model string         `json:"model"`
	Usage anthropicUsage `json:"usage"`
}

// anthropicDelta is the delta object of content_block_delta and message_delta
type anthropicDelta struct {
	Type       string `json:"type"`
	Text       string `json:"text,omitempty"`
	StopReason string `json:"stop_reason,omitempty"`
}

// anthropicStreamEvent represents a streaming event from the Anthropic API.
// The Type field determines which other fields are populated.
type anthropicStreamEvent struct {
	Type string `json:"type"`
	// For message_start
	Message *anthropicMessageInfo `json:"message,omitempty"`
	// For content_block_delta and message_delta
	Delta *anthropicDelta `json:"delta,omitempty"`
	// For message_delta
	Usage *anthropicUsage `json:"usage,omitempty"`
	// For error
	Error *anthropicStreamError `json:"error,omitempty"`
}

// anthropicStreamError is the error payload of an in-stream error event
type anthropicStreamError struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}
