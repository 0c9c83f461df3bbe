// Package openai implements the llm.Client interface using the OpenAI
// chat completions API.
package openai

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"
	"github.com/openai/openai-go/v2/shared"

	"github.com/deepnoodle-ai/rewind/llm"
)

var (
	DefaultModel     = "gpt-4o-mini"
	DefaultMaxTokens = 4096
)

var _ llm.Client = &Client{}

// Client is an OpenAI-backed model client.
type Client struct {
	client         openai.Client
	model          string
	maxTokens      int
	requestOptions []option.RequestOption
}

// New creates a new OpenAI client. With no options the API key is read
// from the OPENAI_API_KEY environment variable.
func New(opts ...Option) *Client {
	c := &Client{
		model:     DefaultModel,
		maxTokens: DefaultMaxTokens,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.client = openai.NewClient(c.requestOptions...)
	return c
}

func (c *Client) Name() string {
	return "openai"
}

func (c *Client) Generate(ctx context.Context, opts ...llm.Option) (*llm.Response, error) {
	config := &llm.Config{}
	config.Apply(opts)

	if hook := config.Hooks[llm.BeforeGenerate]; hook != nil {
		hook(ctx, &llm.HookContext{
			Type:     llm.BeforeGenerate,
			Messages: config.Messages,
			Config:   config,
		})
	}

	model := config.Model
	if model == "" {
		model = c.model
	}
	maxTokens := c.maxTokens
	if config.MaxTokens != nil {
		maxTokens = *config.MaxTokens
	}

	params := openai.ChatCompletionNewParams{
		Model:               openai.ChatModel(model),
		Messages:            encodeMessages(config),
		MaxCompletionTokens: openai.Int(int64(maxTokens)),
	}
	if config.Temperature != nil {
		params.Temperature = openai.Float(*config.Temperature)
	}
	if len(config.Tools) > 0 {
		params.Tools = encodeTools(config.Tools)
	}

	completion, err := c.client.Chat.Completions.New(ctx, params)
	if err != nil {
		if hook := config.Hooks[llm.OnError]; hook != nil {
			hook(ctx, &llm.HookContext{Type: llm.OnError, Config: config, Error: err})
		}
		return nil, fmt.Errorf("openai api error: %w", err)
	}
	if len(completion.Choices) == 0 {
		return nil, fmt.Errorf("empty response from openai api")
	}

	response := decodeResponse(completion)

	if hook := config.Hooks[llm.AfterGenerate]; hook != nil {
		hook(ctx, &llm.HookContext{
			Type:     llm.AfterGenerate,
			Messages: config.Messages,
			Config:   config,
			Response: response,
		})
	}
	return response, nil
}

func encodeMessages(config *llm.Config) []openai.ChatCompletionMessageParamUnion {
	var msgs []openai.ChatCompletionMessageParamUnion
	if config.SystemPrompt != "" {
		msgs = append(msgs, openai.SystemMessage(config.SystemPrompt))
	}
	for _, message := range config.Messages {
		switch message.Role {
		case llm.System:
			msgs = append(msgs, openai.SystemMessage(message.Content))
		case llm.User:
			msgs = append(msgs, openai.UserMessage(message.Content))
		case llm.Assistant:
			if len(message.ToolCalls) == 0 {
				msgs = append(msgs, openai.AssistantMessage(message.Content))
				continue
			}
			assistant := openai.ChatCompletionAssistantMessageParam{}
			if message.Content != "" {
				assistant.Content.OfString = openai.String(message.Content)
			}
			for _, call := range message.ToolCalls {
				assistant.ToolCalls = append(assistant.ToolCalls, openai.ChatCompletionMessageToolCallUnionParam{
					OfFunction: &openai.ChatCompletionMessageFunctionToolCallParam{
						ID: call.ID,
						Function: openai.ChatCompletionMessageFunctionToolCallFunctionParam{
							Name:      call.Name,
							Arguments: string(call.Input),
						},
					},
				})
			}
			msgs = append(msgs, openai.ChatCompletionMessageParamUnion{OfAssistant: &assistant})
		case llm.ToolRole:
			msgs = append(msgs, openai.ToolMessage(message.Content, message.ToolCallID))
		}
	}
	return msgs
}

func encodeTools(tools []*llm.Tool) []openai.ChatCompletionToolUnionParam {
	encoded := make([]openai.ChatCompletionToolUnionParam, 0, len(tools))
	for _, tool := range tools {
		var parameters map[string]any
		if data, err := json.Marshal(tool.Parameters); err == nil {
			json.Unmarshal(data, &parameters)
		}
		encoded = append(encoded, openai.ChatCompletionFunctionTool(shared.FunctionDefinitionParam{
			Name:        tool.Name,
			Description: openai.String(tool.Description),
			Parameters:  shared.FunctionParameters(parameters),
		}))
	}
	return encoded
}

func decodeResponse(completion *openai.ChatCompletion) *llm.Response {
	choice := completion.Choices[0]
	message := llm.NewAssistantMessage(choice.Message.Content)

	var toolCalls []*llm.ToolCall
	for _, tc := range choice.Message.ToolCalls {
		toolCalls = append(toolCalls, &llm.ToolCall{
			ID:    tc.ID,
			Name:  tc.Function.Name,
			Input: json.RawMessage(tc.Function.Arguments),
		})
	}
	message.ToolCalls = toolCalls

	return &llm.Response{
		ID:         completion.ID,
		Model:      completion.Model,
		StopReason: string(choice.FinishReason),
		Message:    message,
		ToolCalls:  toolCalls,
		Usage: llm.Usage{
			InputTokens:  int(completion.Usage.PromptTokens),
			OutputTokens: int(completion.Usage.CompletionTokens),
		},
	}
}
