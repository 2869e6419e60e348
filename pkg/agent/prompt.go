package agent

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/stepflow-io/stepflow/pkg/memory"
	"github.com/stepflow-io/stepflow/pkg/plan"
)

// predecessorContextSkip is the number of leading conversation turns omitted
// when reproducing a finished predecessor's conversation: the system and user
// priming turns would duplicate what this prompt already carries.
const predecessorContextSkip = 2

const responseFormatInstructions = `Respond with a single JSON object and nothing else:
{
  "thought": "your reasoning about the current situation",
  "action": "the tool name to invoke",
  "parameters": { "name": "value" }
}
The response may optionally be wrapped in one ` + "```json" + ` code block.
When the step is done, use the finish_step action to report the outcome.`

// buildMessages assembles the worker's initial conversation: incident,
// TSG, finished predecessor outcomes, the role statement for this node, and
// the output-edge decision template.
func (e *Executor) buildMessages() []ConversationMessage {
	node, _ := e.plan.Node(e.nodeName)

	var system strings.Builder
	system.WriteString("You are a diagnostic step executor working through a troubleshooting guide for a live incident. ")
	system.WriteString("You execute exactly one step of the plan. Do not execute sibling sub-steps unless they are within the scope of your step.\n\n")
	system.WriteString("Available tools:\n")
	system.WriteString(e.tools.PromptBlock())
	system.WriteString("\n\n")
	system.WriteString(responseFormatInstructions)

	var user strings.Builder
	user.WriteString("## Incident\n")
	user.WriteString(e.incidentSection())
	user.WriteString("\n\n## Troubleshooting guide\n")
	user.WriteString(e.tsgSection())
	if preds := e.predecessorSection(); preds != "" {
		user.WriteString("\n\n## Completed predecessor steps\n")
		user.WriteString(preds)
	}
	user.WriteString("\n\n## Your step\n")
	fmt.Fprintf(&user, "Node: %s\n", e.nodeName)
	if node != nil && node.Description != "" {
		fmt.Fprintf(&user, "Description: %s\n", node.Description)
	}
	user.WriteString(e.edgeSection(node))

	return []ConversationMessage{
		{Role: "system", Content: system.String()},
		{Role: "user", Content: user.String()},
	}
}

func (e *Executor) incidentSection() string {
	var info map[string]any
	found, err := e.mem.GetByKey(memory.KeyIncidentInfo, &info)
	if err != nil || !found {
		if err != nil {
			slog.Warn("incident info unreadable", "session_id", e.sessionID, "error", err)
		}
		return "(no incident details available)"
	}
	raw, err := json.MarshalIndent(info, "", "  ")
	if err != nil {
		return "(no incident details available)"
	}
	return string(raw)
}

func (e *Executor) tsgSection() string {
	var tsg string
	found, err := e.mem.GetByKey(memory.KeyTSGContent, &tsg)
	if err != nil || !found {
		return "(no TSG content available)"
	}
	return tsg
}

// predecessorSection reproduces, for each finished predecessor node in plan
// order, its description, final result, edge decisions, and conversation.
func (e *Executor) predecessorSection() string {
	var nodes plan.NodeTable
	found, err := e.mem.GetByKey(memory.KeyNodeStatus, &nodes)
	if err != nil || !found {
		return ""
	}

	var b strings.Builder
	for _, name := range e.plan.Predecessors(e.nodeName) {
		state, ok := nodes[name]
		if !ok || state.Status != plan.NodeFinished {
			continue
		}
		pred, _ := e.plan.Node(name)
		fmt.Fprintf(&b, "### Step %s\n", name)
		if pred != nil && pred.Description != "" {
			fmt.Fprintf(&b, "Description: %s\n", pred.Description)
		}
		if state.Result != "" {
			fmt.Fprintf(&b, "Result: %s\n", state.Result)
		}
		if conv := e.predecessorConversation(state.ExecutorID); conv != "" {
			fmt.Fprintf(&b, "Conversation:\n%s\n", conv)
		}
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

func (e *Executor) predecessorConversation(executorID string) string {
	if executorID == "" {
		return ""
	}
	msgs, err := e.mem.AgentMessages(executorID, 0)
	if err != nil || len(msgs) <= predecessorContextSkip {
		return ""
	}
	var b strings.Builder
	for _, m := range msgs[predecessorContextSkip:] {
		fmt.Fprintf(&b, "[%s] %s\n", m.Role, m.Content)
	}
	return strings.TrimRight(b.String(), "\n")
}

func (e *Executor) edgeSection(node *plan.Node) string {
	if node == nil || len(node.OutputEdges) == 0 {
		return "This step has no output edges. Finish with an empty set_edge_status.\n"
	}
	var b strings.Builder
	b.WriteString("Output edges you must decide on:\n")
	template := make(map[string]string, len(node.OutputEdges))
	for _, edge := range node.OutputEdges {
		cond := edge.Condition
		if cond == "" {
			cond = "none"
		}
		fmt.Fprintf(&b, "- %s (condition: %s)\n", edge.Edge, cond)
		template[edge.Edge] = "enabled|disabled"
	}
	raw, _ := json.MarshalIndent(map[string]any{
		"result":          "summary of what you found",
		"status":          "completed|failed",
		"set_edge_status": template,
	}, "", "  ")
	fmt.Fprintf(&b, "Finish with finish_step parameters of this shape:\n%s\n", raw)
	return b.String()
}
