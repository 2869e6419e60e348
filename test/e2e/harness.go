package e2e

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/stepflow-io/stepflow/pkg/agent"
	"github.com/stepflow-io/stepflow/pkg/memory"
	"github.com/stepflow-io/stepflow/pkg/plan"
	"github.com/stepflow-io/stepflow/pkg/scheduler"
	"github.com/stepflow-io/stepflow/pkg/tools"
	"github.com/stepflow-io/stepflow/pkg/trace"
	"github.com/stepflow-io/stepflow/pkg/tsg"
)

// sessionConfig describes one end-to-end session: the plan, the TSG content,
// and the knobs that differ between scenarios.
type sessionConfig struct {
	planJSON   string
	tsgPath    string // load a real TSG document (plugin blocks rewritten)
	tsgContent string // or inline content; ignored when tsgPath is set

	enablePlugins   bool
	pluginDir       string
	defaultDatabase string

	sched scheduler.Config
}

// testSession wires the full stack: real memory service, real tool
// registries, real executors, real scheduler. Only the LLM is scripted.
type testSession struct {
	t      *testing.T
	mem    *memory.Service
	plan   *plan.Plan
	tracer *trace.Logger
	llm    *ScriptedLLMClient
	sched  *scheduler.Scheduler
}

// silentPrompter answers every question immediately with the empty string,
// keeping sessions non-interactive.
type silentPrompter struct{}

func (silentPrompter) Info(string) {}
func (silentPrompter) Ask(context.Context, string, []string) (string, error) {
	return "", nil
}

// noRunner fails any code execution attempt; scenarios that need the code
// interpreter script its generator instead.
type noRunner struct{}

func (noRunner) Run(context.Context, string) (string, string, error) {
	return "", "no interpreter in this session", nil
}

func newSession(t *testing.T, llm *ScriptedLLMClient, cfg sessionConfig) *testSession {
	t.Helper()

	p, err := plan.Parse([]byte(cfg.planJSON))
	require.NoError(t, err)

	mem := memory.NewService("e2e_" + uuid.NewString()[:8])
	tracer, err := trace.NewLogger(t.TempDir(), mem.SessionID())
	require.NoError(t, err)

	_, err = mem.UpdateByKey(memory.KeyIncidentID, "INC-1001", "incident", "Incident identifier")
	require.NoError(t, err)
	_, err = mem.UpdateByKey(memory.KeyIncidentInfo, map[string]any{
		"incident_id": "INC-1001",
		"description": "API gateway availability dropped below 99% in us-east production",
		"severity":    "high",
		"service":     "api-gateway",
	}, "incident", "Incident details")
	require.NoError(t, err)

	content := cfg.tsgContent
	if cfg.tsgPath != "" {
		content, err = tsg.LoadDocument(cfg.tsgPath)
		require.NoError(t, err)
	}
	_, err = mem.UpdateByKey(memory.KeyTSGContent, content, "tsg", "Troubleshooting guide content")
	require.NoError(t, err)

	nodes, edges := p.InitialTables()
	p.Bootstrap(nodes, edges)
	_, err = mem.UpdateByKey(memory.KeyNodeStatus, nodes, "node_status", "PlanDAG node status table")
	require.NoError(t, err)
	_, err = mem.UpdateByKey(memory.KeyEdgeStatus, edges, "edge_status", "PlanDAG edge status table")
	require.NoError(t, err)

	factory := func(nodeName, executorID string) scheduler.Worker {
		registry, err := tools.BuildRegistry(executorID, tools.Deps{
			Mem:       mem,
			Prompter:  silentPrompter{},
			Generator: llm,
			Runner:    noRunner{},
		}, tools.Options{
			DefaultDatabase: cfg.defaultDatabase,
			PromptTimeout:   time.Second,
			Interpreter:     tools.DefaultInterpreterConfig(),
			EnablePlugins:   cfg.enablePlugins,
			PluginDir:       cfg.pluginDir,
		})
		require.NoError(t, err)
		return agent.NewExecutor(nodeName, mem.SessionID(), executorID, mem, llm, registry, p, tracer, agent.DefaultConfig())
	}

	sc := cfg.sched
	if sc.CheckInterval <= 0 {
		sc.CheckInterval = 2 * time.Millisecond
	}
	if sc.ExecutorTimeout <= 0 {
		sc.ExecutorTimeout = 5 * time.Second
	}
	if sc.MaxExecutors <= 0 {
		sc.MaxExecutors = 3
	}
	if sc.JoinTimeout <= 0 {
		sc.JoinTimeout = 100 * time.Millisecond
	}

	return &testSession{
		t:      t,
		mem:    mem,
		plan:   p,
		tracer: tracer,
		llm:    llm,
		sched:  scheduler.New(mem, p, factory, tracer, sc),
	}
}

// run drives the traversal to completion with a safety deadline.
func (s *testSession) run() (*scheduler.Summary, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return s.sched.Run(ctx)
}

// finalTables reads the persisted status tables after the traversal.
func (s *testSession) finalTables() (plan.NodeTable, plan.EdgeTable) {
	s.t.Helper()
	var nodes plan.NodeTable
	found, err := s.mem.GetByKey(memory.KeyNodeStatus, &nodes)
	require.NoError(s.t, err)
	require.True(s.t, found)
	var edges plan.EdgeTable
	found, err = s.mem.GetByKey(memory.KeyEdgeStatus, &edges)
	require.NoError(s.t, err)
	require.True(s.t, found)
	return nodes, edges
}

// auditLog returns the recorded conversation of a node's executor.
func (s *testSession) auditLog(nodes plan.NodeTable, nodeName string) []memory.ChatMessage {
	s.t.Helper()
	executorID := nodes[nodeName].ExecutorID
	require.NotEmpty(s.t, executorID, "node %s has no executor id", nodeName)
	msgs, err := s.mem.AgentMessages(executorID, 0)
	require.NoError(s.t, err)
	return msgs
}

// actionReply renders one well-formed worker response.
func actionReply(thought, action string, params map[string]any) string {
	raw, _ := json.Marshal(map[string]any{
		"thought":    thought,
		"action":     action,
		"parameters": params,
	})
	return string(raw)
}

// finishReply renders a finish_step response with the given edge decisions.
func finishReply(result, status string, edges map[string]string) string {
	return actionReply("step is done", "finish_step", map[string]any{
		"result":          result,
		"status":          status,
		"set_edge_status": edges,
	})
}
