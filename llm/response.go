package llm

// Response is a model response, possibly carrying tool calls that the
// caller must execute and feed back.
type Response struct {
	ID         string      `json:"id"`
	Model      string      `json:"model"`
	StopReason string      `json:"stop_reason,omitempty"`
	Message    *Message    `json:"message"`
	ToolCalls  []*ToolCall `json:"tool_calls,omitempty"`
	Usage      Usage       `json:"usage"`
}

// Text returns the textual content of the response message.
func (r *Response) Text() string {
	if r.Message == nil {
		return ""
	}
	return r.Message.Content
}
