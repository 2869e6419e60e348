package tools

import (
	"context"
	"log/slog"
)

// LogReasoning is a pure audit action: it lets the LLM park intermediate
// reasoning in the conversation without any side effects.
type LogReasoning struct{}

func (LogReasoning) Name() string { return "log_reasoning_tool" }

func (LogReasoning) Description() string {
	return "Record intermediate reasoning or observations for the audit trail. " +
		"Parameters: reasoning (optional), observation (optional). No side effects."
}

func (LogReasoning) Execute(_ context.Context, params map[string]any) string {
	reasoning, _ := params["reasoning"].(string)
	observation, _ := params["observation"].(string)
	slog.Debug("reasoning logged", "reasoning", reasoning, "observation", observation)
	return "Reasoning has been logged."
}
