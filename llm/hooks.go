package llm

import "context"

// HookType identifies a generation lifecycle event.
type HookType string

const (
	BeforeGenerate HookType = "before_generate"
	AfterGenerate  HookType = "after_generate"
	OnError        HookType = "on_error"
)

// HookContext contains information passed to hooks.
type HookContext struct {
	Type     HookType
	Messages []*Message
	Config   *Config
	Response *Response // Only set for AfterGenerate
	Error    error     // Only set for OnError
}

// Hook is a function that gets called during generation.
type Hook func(ctx context.Context, hookCtx *HookContext)

// Hooks maps lifecycle events to hook functions.
type Hooks map[HookType]Hook
