package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/stepflow-io/stepflow/pkg/memory"
	"github.com/stepflow-io/stepflow/pkg/plan"
	"github.com/stepflow-io/stepflow/pkg/plugin"
)

const (
	finishStepAction = "finish_step"
	sqlQueryToolName = "sql_query_tool"

	agentTypeExecutor = "executor"
)

// Config bounds the worker loop.
type Config struct {
	MaxIterations   int
	ParseRetryLimit int
}

// DefaultConfig returns the standard loop bounds.
func DefaultConfig() Config {
	return Config{MaxIterations: 10, ParseRetryLimit: 3}
}

// Executor drives one DAG node to completion: assemble context, iterate the
// reason/act loop, and deliver the verdict through the memory service.
type Executor struct {
	nodeName   string
	sessionID  string
	executorID string

	mem   *memory.Service
	llm   LLMClient
	tools ToolExecutor
	plan  *plan.Plan
	trace TraceSink
	cfg   Config

	log *slog.Logger
}

// NewExecutor builds a worker for the given node. The executor id must
// already be registered as an agent with the memory service.
func NewExecutor(nodeName, sessionID, executorID string, mem *memory.Service, llm LLMClient, tools ToolExecutor, p *plan.Plan, trace TraceSink, cfg Config) *Executor {
	if trace == nil {
		trace = NopTrace{}
	}
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = DefaultConfig().MaxIterations
	}
	if cfg.ParseRetryLimit <= 0 {
		cfg.ParseRetryLimit = DefaultConfig().ParseRetryLimit
	}
	return &Executor{
		nodeName:   nodeName,
		sessionID:  sessionID,
		executorID: executorID,
		mem:        mem,
		llm:        llm,
		tools:      tools,
		plan:       p,
		trace:      trace,
		cfg:        cfg,
		log:        slog.With("session_id", sessionID, "node", nodeName, "executor_id", executorID),
	}
}

// ExecutorID returns the worker's agent id.
func (e *Executor) ExecutorID() string { return e.executorID }

// Run executes the node and delivers the verdict under the worker's step
// result key. A context cancellation (scheduler kill) aborts without
// delivering: the scheduler synthesizes the verdict in that case.
func (e *Executor) Run(ctx context.Context) (*plan.Verdict, error) {
	verdict, err := e.run(ctx)
	if err != nil {
		return nil, err
	}
	if err := e.deliver(verdict); err != nil {
		return nil, err
	}
	return verdict, nil
}

func (e *Executor) run(ctx context.Context) (*plan.Verdict, error) {
	// The terminal node needs no reasoning: reaching it is the outcome.
	if e.nodeName == plan.EndNode {
		e.log.Info("terminal node reached")
		return &plan.Verdict{
			Result:        "terminal",
			Status:        plan.VerdictCompleted,
			SetEdgeStatus: map[string]plan.EdgeStatus{},
		}, nil
	}

	messages := e.buildMessages()
	for _, m := range messages {
		e.record(m)
	}

	for iteration := 1; iteration <= e.cfg.MaxIterations; iteration++ {
		resp, err := e.nextResponse(ctx, &messages)
		if err != nil {
			return nil, err
		}
		if resp == nil {
			e.log.Warn("llm response unparseable after retries, failing step")
			return e.malformedVerdict(), nil
		}
		e.log.Info("action selected", "iteration", iteration, "action", resp.Action)

		if resp.Action == finishStepAction {
			return verdictFromParams(resp.Parameters), nil
		}

		observation := e.tools.Execute(ctx, resp.Action, resp.Parameters)
		e.append(&messages, ConversationMessage{Role: "user", Content: "Observation: " + observation})

		if strings.HasPrefix(resp.Action, plugin.ToolPrefix) {
			if err := e.deferredSQLDispatch(ctx, &messages, observation); err != nil {
				return nil, err
			}
		}
	}

	e.log.Warn("iteration cap reached without finish_step")
	return &plan.Verdict{
		Result:        fmt.Sprintf("step did not finish within %d iterations", e.cfg.MaxIterations),
		Status:        plan.VerdictFailed,
		SetEdgeStatus: map[string]plan.EdgeStatus{},
	}, nil
}

// nextResponse calls the LLM until a parseable response arrives, up to the
// parse retry cap. Returns (nil, nil) on exhaustion.
func (e *Executor) nextResponse(ctx context.Context, messages *[]ConversationMessage) (*Response, error) {
	for attempt := 1; attempt <= e.cfg.ParseRetryLimit; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		result, err := e.llm.Chat(ctx, *messages)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			e.log.Warn("llm call failed", "attempt", attempt, "error", err)
			continue
		}
		e.trace.LogUsage(agentTypeExecutor, e.executorID, result.Usage.PromptTokens, result.Usage.CompletionTokens)
		e.append(messages, ConversationMessage{Role: "assistant", Content: result.Content})

		resp, perr := ParseResponse(result.Content)
		if perr != nil {
			e.log.Warn("llm response not parseable", "attempt", attempt, "error", perr)
			e.append(messages, ConversationMessage{
				Role:    "user",
				Content: "Your previous response was not a valid JSON object with keys thought, action, parameters. Respond again with only that JSON object.",
			})
			continue
		}
		return resp, nil
	}
	return nil, nil
}

// deferredSQLDispatch enforces the plugin protocol: when a plugin call stored
// a snippet, the follow-up sql_query_tool call is issued here, not left to
// the LLM. The synthesized turn is recorded as if the LLM had chosen it.
func (e *Executor) deferredSQLDispatch(ctx context.Context, messages *[]ConversationMessage, observation string) error {
	snippetID, ok := plugin.SnippetIDFromObservation(observation)
	if !ok {
		// Plugin returned an error string (missing parameter); the LLM
		// handles it like any other observation.
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	synth := Response{
		Thought:    "The plugin stored a SQL snippet; executing it now.",
		Action:     sqlQueryToolName,
		Parameters: map[string]any{"snippet_id": snippetID},
	}
	raw, _ := json.Marshal(synth)
	e.append(messages, ConversationMessage{Role: "assistant", Content: string(raw)})

	result := e.tools.Execute(ctx, sqlQueryToolName, synth.Parameters)
	e.append(messages, ConversationMessage{Role: "user", Content: "Observation: " + result})
	return nil
}

// malformedVerdict is the synthesized outcome after exhausting parse
// retries: the step fails and every output edge is disabled.
func (e *Executor) malformedVerdict() *plan.Verdict {
	edges := map[string]plan.EdgeStatus{}
	if node, ok := e.plan.Node(e.nodeName); ok {
		for _, edge := range node.OutputEdges {
			edges[edge.Edge] = plan.EdgeDisabled
		}
	}
	return &plan.Verdict{
		Result:        "step failed: language model responses could not be parsed",
		Status:        plan.VerdictFailed,
		SetEdgeStatus: edges,
	}
}

func (e *Executor) deliver(v *plan.Verdict) error {
	envelope := plan.StepResult{
		NodeName:   e.nodeName,
		ExecutorID: e.executorID,
		Result:     *v,
	}
	_, err := e.mem.UpdateByKey(plan.StepResultKey(e.executorID), envelope, "step_result",
		fmt.Sprintf("Step result for node %s", e.nodeName))
	if err != nil {
		return fmt.Errorf("deliver verdict for %s: %w", e.nodeName, err)
	}
	e.log.Info("verdict delivered", "status", v.Status)
	return nil
}

// append adds a turn to the live conversation and records it in the audit
// log and trace.
func (e *Executor) append(messages *[]ConversationMessage, msg ConversationMessage) {
	*messages = append(*messages, msg)
	e.record(msg)
}

func (e *Executor) record(msg ConversationMessage) {
	if err := e.mem.AddContext(e.executorID, "message", memory.ChatMessage{Role: msg.Role, Content: msg.Content}, ""); err != nil {
		e.log.Warn("context append failed", "error", err)
	}
	e.trace.LogMessage(agentTypeExecutor, e.executorID, msg.Role, msg.Content)
}

// verdictFromParams decodes finish_step parameters leniently: the worker
// reports what the LLM decided, and the scheduler treats anything other than
// completed as a failure.
func verdictFromParams(params map[string]any) *plan.Verdict {
	raw, err := json.Marshal(params)
	if err != nil {
		return &plan.Verdict{Status: plan.VerdictFailed, Result: "finish_step parameters not serializable"}
	}
	var v plan.Verdict
	if err := json.Unmarshal(raw, &v); err != nil {
		return &plan.Verdict{Status: plan.VerdictFailed, Result: "finish_step parameters malformed: " + string(raw)}
	}
	if v.SetEdgeStatus == nil {
		v.SetEdgeStatus = map[string]plan.EdgeStatus{}
	}
	return &v
}
