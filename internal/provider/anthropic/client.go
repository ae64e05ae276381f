// Package anthropic implements the provider contract against the Anthropic
// Messages API.
package anthropic

import (
	"net/http"
	"time"
)

const (
	defaultBaseURL = "https://api.anthropic.com"
	messagesPath   = "/v1/messages"
	apiVersion     = "2023-06-01"

	providerName = "anthropic"
)

// Config holds client configuration
type Config struct {
	// APIKey authenticates against the Anthropic API
	APIKey string
	// BaseURL overrides the API endpoint, mainly for tests
	BaseURL string
	// RequestTimeout bounds each outbound call including the full stream
	RequestTimeout time.Duration
	// HTTPClient overrides the transport, mainly for tests
	HTTPClient *http.Client
}

// Client calls the Anthropic Messages API
type Client struct {
	config Config
	http   *http.Client
}

// New creates a new Anthropic client
func New(config Config) *Client {
	if config.BaseURL == "" {
		config.BaseURL = defaultBaseURL
	}
	if config.RequestTimeout <= 0 {
		config.RequestTimeout = 5 * time.Minute
	}

	httpClient := config.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: config.RequestTimeout}
	}

	return &Client{
		config: config,
		http:   httpClient,
	}
}

// Name implements provider.Provider
func (c *Client) Name() string {
	return providerName
}

// buildHeaders returns the headers required by the Messages API
func (c *Client) buildHeaders() http.Header {
	header := http.Header{}
	header.Set("Content-Type", "application/json")
	header.Set("x-api-key", c.config.APIKey)
	header.Set("anthropic-version", apiVersion)
	return header
}
