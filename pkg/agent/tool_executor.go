package agent

import "context"

// ToolExecutor dispatches a worker action to a named tool and returns the
// observation text. Tool failures are part of the observation, never an
// error: the LLM is expected to read the message and adjust.
type ToolExecutor interface {
	// Execute runs the named tool with the given arguments.
	Execute(ctx context.Context, action string, params map[string]any) string

	// PromptBlock renders the tool listing shown to the LLM.
	PromptBlock() string
}

// TraceSink receives the worker's conversation and token accounting for
// persisted traces. Implementations must tolerate concurrent workers.
type TraceSink interface {
	LogMessage(agentType, agentID, role, content string)
	LogUsage(agentType, agentID string, promptTokens, completionTokens int)
}

// NopTrace discards everything. Used when tracing is disabled and in tests.
type NopTrace struct{}

func (NopTrace) LogMessage(string, string, string, string) {}
func (NopTrace) LogUsage(string, string, int, int)         {}
