package chat

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/sashabaranov/go-openai"
)

const (
	DefaultModel     = openai.GPT4oMini
	DefaultMaxTokens = 1000
	DefaultTimeout   = 30 * time.Second
)

// OpenAIModel is a Model backed by the OpenAI chat completions API.
type OpenAIModel struct {
	client    *openai.Client
	model     string
	maxTokens int
	timeout   time.Duration
}

// NewOpenAIModel builds a client. baseURL and model may be empty to use the defaults.
func NewOpenAIModel(apiKey, baseURL, model string, timeout time.Duration) *OpenAIModel {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	if model == "" {
		model = DefaultModel
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &OpenAIModel{
		client:    openai.NewClientWithConfig(cfg),
		model:     model,
		maxTokens: DefaultMaxTokens,
		timeout:   timeout,
	}
}

func (m *OpenAIModel) Complete(ctx context.Context, messages []ModelMessage, tools []ToolSpec) (Completion, error) {
	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	req := openai.ChatCompletionRequest{
		Model:     m.model,
		Messages:  toOpenAIMessages(messages),
		MaxTokens: m.maxTokens,
	}
	if len(tools) > 0 {
		req.Tools = toOpenAITools(tools)
		req.ToolChoice = "auto"
	}

	resp, err := m.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return Completion{}, classify(ctx, err)
	}
	if len(resp.Choices) == 0 {
		return Completion{}, &UpstreamError{Reason: "empty response"}
	}

	msg := resp.Choices[0].Message
	out := Completion{Content: msg.Content}
	for _, tc := range msg.ToolCalls {
		out.ToolCalls = append(out.ToolCalls, ToolCall{ID: tc.ID, Name: tc.Function.Name, Arguments: tc.Function.Arguments})
	}
	return out, nil
}

func classify(ctx context.Context, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return &UpstreamError{Reason: "timeout", Err: err}
	}
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		if apiErr.HTTPStatusCode == http.StatusTooManyRequests {
			return &UpstreamError{Reason: "rate limited", Err: err}
		}
		return &UpstreamError{Reason: "api error", Err: err}
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) && reqErr.HTTPStatusCode == http.StatusTooManyRequests {
		return &UpstreamError{Reason: "rate limited", Err: err}
	}
	return &UpstreamError{Reason: "transport", Err: err}
}

func toOpenAIMessages(messages []ModelMessage) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(messages))
	for _, m := range messages {
		msg := openai.ChatCompletionMessage{
			Role:       string(m.Role),
			Content:    m.Content,
			ToolCallID: m.ToolCallID,
		}
		for _, tc := range m.ToolCalls {
			msg.ToolCalls = append(msg.ToolCalls, openai.ToolCall{
				ID:   tc.ID,
				Type: openai.ToolTypeFunction,
				Function: openai.FunctionCall{
					Name:      tc.Name,
					Arguments: tc.Arguments,
				},
			})
		}
		out = append(out, msg)
	}
	return out
}

func toOpenAITools(tools []ToolSpec) []openai.Tool {
	out := make([]openai.Tool, len(tools))
	for i, t := range tools {
		out[i] = openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  t.Parameters,
			},
		}
	}
	return out
}
