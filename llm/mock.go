package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
)

// MockClient is a scripted Client for tests. Responses are returned in the
// order they were added; once the script is exhausted, a plain "ok" text
// response is returned.
type MockClient struct {
	mu     sync.Mutex
	script []func(cfg *Config) *Response
	calls  []*Config
	seq    int
}

// NewMockClient creates an empty MockClient.
func NewMockClient() *MockClient {
	return &MockClient{}
}

func (m *MockClient) Name() string {
	return "mock"
}

// AddTextResponse queues a plain text response.
func (m *MockClient) AddTextResponse(text string) {
	m.AddResponseFunc(func(cfg *Config) *Response {
		return &Response{
			Message: NewAssistantMessage(text),
		}
	})
}

// AddToolCallResponse queues an assistant response requesting a single
// tool call with the given JSON input.
func (m *MockClient) AddToolCallResponse(toolName, input, text string) {
	m.AddResponseFunc(func(cfg *Config) *Response {
		call := &ToolCall{
			ID:    fmt.Sprintf("call_%s_%d", toolName, len(m.calls)),
			Name:  toolName,
			Input: json.RawMessage(input),
		}
		msg := NewAssistantMessage(text)
		msg.ToolCalls = []*ToolCall{call}
		return &Response{
			Message:   msg,
			ToolCalls: []*ToolCall{call},
		}
	})
}

// AddResponseFunc queues a response computed from the request config.
func (m *MockClient) AddResponseFunc(fn func(cfg *Config) *Response) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.script = append(m.script, fn)
}

// Calls returns the configs of all Generate invocations so far.
func (m *MockClient) Calls() []*Config {
	m.mu.Lock()
	defer m.mu.Unlock()
	calls := make([]*Config, len(m.calls))
	copy(calls, m.calls)
	return calls
}

// LastCall returns the most recent Generate config, or nil.
func (m *MockClient) LastCall() *Config {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.calls) == 0 {
		return nil
	}
	return m.calls[len(m.calls)-1]
}

func (m *MockClient) Generate(ctx context.Context, opts ...Option) (*Response, error) {
	config := &Config{}
	config.Apply(opts)

	m.mu.Lock()
	m.calls = append(m.calls, config)
	var fn func(cfg *Config) *Response
	if m.seq < len(m.script) {
		fn = m.script[m.seq]
		m.seq++
	}
	m.mu.Unlock()

	if fn == nil {
		return &Response{Message: NewAssistantMessage("ok")}, nil
	}
	resp := fn(config)
	if resp.ID == "" {
		resp.ID = fmt.Sprintf("mock_%d", m.seq)
	}
	if resp.Model == "" {
		resp.Model = "mock"
	}
	return resp, nil
}
