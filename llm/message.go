package llm

import "encoding/json"

// Role indicates the role of a message in a conversation.
type Role string

const (
	User      Role = "user"
	Assistant Role = "assistant"
	System    Role = "system"

	// ToolRole marks a tool result message fed back to the model. Tool
	// results never appear in persisted conversation history.
	ToolRole Role = "tool"
)

func (r Role) String() string {
	return string(r)
}

// Message is a single entry in the model request history.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`

	// ToolCalls is set on assistant messages that requested tool use.
	ToolCalls []*ToolCall `json:"tool_calls,omitempty"`

	// ToolCallID references the originating call on ToolRole messages.
	ToolCallID string `json:"tool_call_id,omitempty"`

	// IsError marks a ToolRole message carrying a failed invocation.
	IsError bool `json:"is_error,omitempty"`
}

// NewUserMessage creates a user message with text content.
func NewUserMessage(text string) *Message {
	return &Message{Role: User, Content: text}
}

// NewAssistantMessage creates an assistant message with text content.
func NewAssistantMessage(text string) *Message {
	return &Message{Role: Assistant, Content: text}
}

// NewSystemMessage creates a system message with text content.
func NewSystemMessage(text string) *Message {
	return &Message{Role: System, Content: text}
}

// NewToolResultMessage creates a message carrying a tool result back to
// the model.
func NewToolResultMessage(callID, output string, isError bool) *Message {
	return &Message{Role: ToolRole, Content: output, ToolCallID: callID, IsError: isError}
}

// ToolCall is a tool invocation requested by the model.
type ToolCall struct {
	ID    string          `json:"id"`
	Name  string          `json:"name"`
	Input json.RawMessage `json:"input"`
}

// Args decodes the call input into a key-value map. A missing or empty
// input decodes to an empty map.
func (t *ToolCall) Args() (map[string]any, error) {
	if len(t.Input) == 0 {
		return map[string]any{}, nil
	}
	var args map[string]any
	if err := json.Unmarshal(t.Input, &args); err != nil {
		return nil, err
	}
	if args == nil {
		args = map[string]any{}
	}
	return args, nil
}

// Usage contains token usage information for a response.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// Add accumulates usage from another response.
func (u *Usage) Add(other *Usage) {
	if other == nil {
		return
	}
	u.InputTokens += other.InputTokens
	u.OutputTokens += other.OutputTokens
}
