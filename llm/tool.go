package llm

import "github.com/deepnoodle-ai/rewind/schema"

// Tool is a tool definition offered to the model. Execution is the
// caller's responsibility; the definition only teaches the model when and
// how to call it.
type Tool struct {
	Name        string        `json:"name"`
	Description string        `json:"description,omitempty"`
	Parameters  schema.Schema `json:"parameters"`
}
