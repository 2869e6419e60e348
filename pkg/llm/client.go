// Package llm implements agent.LLMClient over the OpenAI Chat Completions
// API using github.com/sashabaranov/go-openai. Any OpenAI-compatible
// endpoint works through the base URL option.
package llm

import (
	"context"
	"errors"
	"fmt"

	openai "github.com/sashabaranov/go-openai"

	"github.com/stepflow-io/stepflow/pkg/agent"
)

// ChatClient captures the subset of the go-openai client the adapter uses.
type ChatClient interface {
	CreateChatCompletion(ctx context.Context, request openai.ChatCompletionRequest) (
		openai.ChatCompletionResponse, error)
}

// Options configures the client.
type Options struct {
	APIKey      string
	BaseURL     string
	Model       string
	Temperature float32
	MaxTokens   int

	// Chat overrides the HTTP client; used by tests.
	Chat ChatClient
}

// Client is the production LLM transport.
type Client struct {
	chat        ChatClient
	model       string
	temperature float32
	maxTokens   int
}

// New builds a client from the options.
func New(opts Options) (*Client, error) {
	if opts.Model == "" {
		return nil, errors.New("llm: model is required")
	}
	chat := opts.Chat
	if chat == nil {
		if opts.APIKey == "" {
			return nil, errors.New("llm: api key is required")
		}
		cfg := openai.DefaultConfig(opts.APIKey)
		if opts.BaseURL != "" {
			cfg.BaseURL = opts.BaseURL
		}
		chat = openai.NewClientWithConfig(cfg)
	}
	return &Client{
		chat:        chat,
		model:       opts.Model,
		temperature: opts.Temperature,
		maxTokens:   opts.MaxTokens,
	}, nil
}

// Chat sends the conversation and returns the completion with its token
// accounting.
func (c *Client) Chat(ctx context.Context, messages []agent.ConversationMessage) (*agent.LLMResult, error) {
	if len(messages) == 0 {
		return nil, errors.New("llm: messages are required")
	}
	request := openai.ChatCompletionRequest{
		Model:       c.model,
		Temperature: c.temperature,
		MaxTokens:   c.maxTokens,
		Messages:    make([]openai.ChatCompletionMessage, 0, len(messages)),
	}
	for _, m := range messages {
		request.Messages = append(request.Messages, openai.ChatCompletionMessage{
			Role:    m.Role,
			Content: m.Content,
		})
	}
	response, err := c.chat.CreateChatCompletion(ctx, request)
	if err != nil {
		return nil, fmt.Errorf("chat completion: %w", err)
	}
	if len(response.Choices) == 0 {
		return nil, errors.New("llm: empty completion")
	}
	return &agent.LLMResult{
		Content: response.Choices[0].Message.Content,
		Usage: agent.TokenUsage{
			PromptTokens:     response.Usage.PromptTokens,
			CompletionTokens: response.Usage.CompletionTokens,
			TotalTokens:      response.Usage.TotalTokens,
		},
	}, nil
}
