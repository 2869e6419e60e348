package agent

import "context"

// ConversationMessage is one turn of an LLM conversation.
type ConversationMessage struct {
	Role    string `json:"role"` // "system", "user", "assistant"
	Content string `json:"content"`
}

// TokenUsage is the token accounting for one LLM call.
type TokenUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// LLMResult is the outcome of one chat completion.
type LLMResult struct {
	Content string
	Usage   TokenUsage
}

// LLMClient is the language-model dependency of the worker loop. Defined
// here, on the consumer side, so transports plug in without this package
// importing them.
type LLMClient interface {
	Chat(ctx context.Context, messages []ConversationMessage) (*LLMResult, error)
}
