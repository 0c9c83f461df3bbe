package openai

import (
	"net/http"

	"github.com/openai/openai-go/v2/option"
)

// Option is a function that configures the Client.
type Option func(*Client)

// WithAPIKey sets the OpenAI API key.
func WithAPIKey(apiKey string) Option {
	return func(c *Client) {
		c.requestOptions = append(c.requestOptions, option.WithAPIKey(apiKey))
	}
}

// WithEndpoint sets the API base URL.
func WithEndpoint(endpoint string) Option {
	return func(c *Client) {
		c.requestOptions = append(c.requestOptions, option.WithBaseURL(endpoint))
	}
}

// WithHTTPClient sets the HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		c.requestOptions = append(c.requestOptions, option.WithHTTPClient(client))
	}
}

// WithModel sets the model name.
func WithModel(model string) Option {
	return func(c *Client) {
		c.model = model
	}
}

// WithMaxTokens sets the maximum number of tokens to generate.
func WithMaxTokens(maxTokens int) Option {
	return func(c *Client) {
		c.maxTokens = maxTokens
	}
}

// WithMaxRetries sets the maximum number of retry attempts.
func WithMaxRetries(maxRetries int) Option {
	return func(c *Client) {
		c.requestOptions = append(c.requestOptions, option.WithMaxRetries(maxRetries))
	}
}
