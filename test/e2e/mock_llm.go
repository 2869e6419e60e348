package e2e

import (
	"context"
	"fmt"
	"regexp"
	"sync"

	"github.com/stepflow-io/stepflow/pkg/agent"
)

// LLMScriptEntry is one scripted chat completion. Either Content is returned
// verbatim, or BlockUntilCancelled parks the call on the context so tests can
// exercise scheduler-side termination.
type LLMScriptEntry struct {
	Content             string
	BlockUntilCancelled bool

	// OnBlock receives a signal when a blocking entry enters its wait, so
	// tests can synchronize instead of sleeping.
	OnBlock chan struct{}
}

// nodePattern extracts the node name from the worker's priming message. The
// step section is the last part of that message, so the last match wins even
// when predecessor conversations are reproduced above it.
var nodePattern = regexp.MustCompile(`(?m)^Node: (\S+)$`)

// ScriptedLLMClient routes chat completions to per-node reply queues. Workers
// run concurrently, so all state is mutex-guarded.
type ScriptedLLMClient struct {
	mu      sync.Mutex
	scripts map[string][]LLMScriptEntry

	// conversations records, per node, the message slice of every call.
	conversations map[string][][]agent.ConversationMessage
}

func NewScriptedLLMClient() *ScriptedLLMClient {
	return &ScriptedLLMClient{
		scripts:       make(map[string][]LLMScriptEntry),
		conversations: make(map[string][][]agent.ConversationMessage),
	}
}

// AddRouted queues a reply for calls made on behalf of the given node.
func (c *ScriptedLLMClient) AddRouted(node string, entry LLMScriptEntry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.scripts[node] = append(c.scripts[node], entry)
}

// Conversations returns the recorded calls for a node.
func (c *ScriptedLLMClient) Conversations(node string) [][]agent.ConversationMessage {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conversations[node]
}

func (c *ScriptedLLMClient) Chat(ctx context.Context, messages []agent.ConversationMessage) (*agent.LLMResult, error) {
	node := routeNode(messages)

	c.mu.Lock()
	snapshot := make([]agent.ConversationMessage, len(messages))
	copy(snapshot, messages)
	c.conversations[node] = append(c.conversations[node], snapshot)

	queue := c.scripts[node]
	if len(queue) == 0 {
		c.mu.Unlock()
		return nil, fmt.Errorf("no scripted reply for node %q", node)
	}
	entry := queue[0]
	c.scripts[node] = queue[1:]
	c.mu.Unlock()

	if entry.BlockUntilCancelled {
		if entry.OnBlock != nil {
			entry.OnBlock <- struct{}{}
		}
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return &agent.LLMResult{
		Content: entry.Content,
		Usage:   agent.TokenUsage{PromptTokens: 25, CompletionTokens: 10, TotalTokens: 35},
	}, nil
}

func routeNode(messages []agent.ConversationMessage) string {
	for _, m := range messages {
		if m.Role != "user" {
			continue
		}
		matches := nodePattern.FindAllStringSubmatch(m.Content, -1)
		if len(matches) > 0 {
			return matches[len(matches)-1][1]
		}
	}
	return ""
}
