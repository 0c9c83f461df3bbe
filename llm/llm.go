// Package llm defines the model client abstraction consumed by the agent
// orchestrator. A Client turns a message history and a tool set into a
// response that may carry tool calls. Providers live in subpackages.
package llm

import (
	"context"
)

// Client is the interface implemented by model providers.
type Client interface {
	// Name identifies the provider, e.g. "openai".
	Name() string

	// Generate produces a response for the configured messages and tools.
	Generate(ctx context.Context, opts ...Option) (*Response, error)
}

// Option configures a generation request.
type Option func(*Config)

// Config holds configuration parameters for a generation request.
type Config struct {
	Model        string
	SystemPrompt string
	Temperature  *float64
	MaxTokens    *int
	Messages     []*Message
	Tools        []*Tool
	Hooks        Hooks
}

// Apply applies the options to the config.
func (c *Config) Apply(opts []Option) {
	for _, opt := range opts {
		opt(c)
	}
}

// WithModel sets the model identifier for the request.
func WithModel(model string) Option {
	return func(c *Config) { c.Model = model }
}

// WithSystemPrompt sets the system prompt.
func WithSystemPrompt(prompt string) Option {
	return func(c *Config) { c.SystemPrompt = prompt }
}

// WithTemperature sets the sampling temperature.
func WithTemperature(temperature float64) Option {
	return func(c *Config) { c.Temperature = &temperature }
}

// WithMaxTokens sets the maximum number of output tokens.
func WithMaxTokens(maxTokens int) Option {
	return func(c *Config) { c.MaxTokens = &maxTokens }
}

// WithMessages sets the messages for the request.
func WithMessages(messages ...*Message) Option {
	return func(c *Config) { c.Messages = messages }
}

// WithTools sets the tool definitions offered to the model.
func WithTools(tools ...*Tool) Option {
	return func(c *Config) { c.Tools = tools }
}

// WithHooks sets hooks invoked around the generation.
func WithHooks(hooks Hooks) Option {
	return func(c *Config) { c.Hooks = hooks }
}
