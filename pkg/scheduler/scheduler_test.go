package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stepflow-io/stepflow/pkg/memory"
	"github.com/stepflow-io/stepflow/pkg/plan"
)

const chainPlan = `{
  "nodes": [
    {"node": "start", "description": "initial", "input_edges": [], "output_edges": [{"edge": "eS_A", "condition": "none"}]},
    {"node": "A", "description": "check gateway", "input_edges": [{"edge": "eS_A", "condition": "none"}], "output_edges": [{"edge": "eA_B", "condition": "none"}]},
    {"node": "B", "description": "check auth", "input_edges": [{"edge": "eA_B", "condition": "none"}], "output_edges": [{"edge": "eB_E", "condition": "none"}]},
    {"node": "end", "description": "terminal", "input_edges": [{"edge": "eB_E", "condition": "none"}], "output_edges": []}
  ]
}`

// stubWorker mimics a real worker's delivery path: the verdict goes through
// the memory service, not the return value. A nil verdict blocks until
// cancelled; noDeliver exits cleanly without writing anything.
type stubWorker struct {
	mem        *memory.Service
	nodeName   string
	executorID string
	verdict    *plan.Verdict
	delay      time.Duration
	noDeliver  bool
}

func (w *stubWorker) Run(ctx context.Context) (*plan.Verdict, error) {
	if w.delay > 0 {
		select {
		case <-time.After(w.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if w.noDeliver {
		return nil, nil
	}
	if w.verdict == nil {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	_, err := w.mem.UpdateByKey(plan.StepResultKey(w.executorID), plan.StepResult{
		NodeName:   w.nodeName,
		ExecutorID: w.executorID,
		Result:     *w.verdict,
	}, "step_result", "")
	return w.verdict, err
}

type fakeMarker struct {
	mu    sync.Mutex
	flags []string
}

func (f *fakeMarker) WriteTimeoutFlag(executorID string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.flags = append(f.flags, executorID)
	return executorID + "_timeout.flag", nil
}

func seedSession(t *testing.T, planJSON string) (*memory.Service, *plan.Plan) {
	t.Helper()
	p, err := plan.Parse([]byte(planJSON))
	require.NoError(t, err)
	mem := memory.NewService("sess-sched")
	nodes, edges := p.InitialTables()
	p.Bootstrap(nodes, edges)
	_, err = mem.UpdateByKey(memory.KeyNodeStatus, nodes, "node_status", "")
	require.NoError(t, err)
	_, err = mem.UpdateByKey(memory.KeyEdgeStatus, edges, "edge_status", "")
	require.NoError(t, err)
	return mem, p
}

func fastConfig() Config {
	return Config{
		CheckInterval:   2 * time.Millisecond,
		ExecutorTimeout: time.Second,
		MaxExecutors:    3,
		JoinTimeout:     50 * time.Millisecond,
	}
}

func verdictFactory(mem *memory.Service, verdicts map[string]*plan.Verdict) WorkerFactory {
	return func(nodeName, executorID string) Worker {
		v, ok := verdicts[nodeName]
		if !ok {
			v = &plan.Verdict{Result: "terminal", Status: plan.VerdictCompleted, SetEdgeStatus: map[string]plan.EdgeStatus{}}
		}
		return &stubWorker{mem: mem, nodeName: nodeName, executorID: executorID, verdict: v}
	}
}

func finalTables(t *testing.T, mem *memory.Service) (plan.NodeTable, plan.EdgeTable) {
	t.Helper()
	var nodes plan.NodeTable
	found, err := mem.GetByKey(memory.KeyNodeStatus, &nodes)
	require.NoError(t, err)
	require.True(t, found)
	var edges plan.EdgeTable
	found, err = mem.GetByKey(memory.KeyEdgeStatus, &edges)
	require.NoError(t, err)
	require.True(t, found)
	return nodes, edges
}

func TestHappyPath(t *testing.T) {
	mem, p := seedSession(t, chainPlan)
	factory := verdictFactory(mem, map[string]*plan.Verdict{
		"A": {Result: "gateway degraded", Status: plan.VerdictCompleted, SetEdgeStatus: map[string]plan.EdgeStatus{"eA_B": plan.EdgeEnabled}},
		"B": {Result: "auth healthy", Status: plan.VerdictCompleted, SetEdgeStatus: map[string]plan.EdgeStatus{"eB_E": plan.EdgeEnabled}},
	})
	s := New(mem, p, factory, nil, fastConfig())

	summary, err := s.Run(context.Background())
	require.NoError(t, err)
	assert.True(t, summary.Success)
	assert.Equal(t, 4, summary.Finished)

	nodes, edges := finalTables(t, mem)
	for name, st := range nodes {
		assert.Equal(t, plan.NodeFinished, st.Status, "node %s", name)
	}
	for name, st := range edges {
		assert.Equal(t, plan.EdgeEnabled, st.Status, "edge %s", name)
	}
	assert.Equal(t, "terminal", nodes["end"].Result)
}

func TestBranchDisabled(t *testing.T) {
	mem, p := seedSession(t, chainPlan)
	factory := verdictFactory(mem, map[string]*plan.Verdict{
		"A": {Result: "path not relevant", Status: plan.VerdictCompleted, SetEdgeStatus: map[string]plan.EdgeStatus{"eA_B": plan.EdgeDisabled}},
	})
	s := New(mem, p, factory, nil, fastConfig())

	summary, err := s.Run(context.Background())
	require.NoError(t, err)
	assert.False(t, summary.Success)
	assert.Equal(t, 2, summary.Finished) // start + A
	assert.Equal(t, 2, summary.Skipped)  // B + end

	nodes, edges := finalTables(t, mem)
	assert.Equal(t, plan.NodeSkipped, nodes["B"].Status)
	assert.Equal(t, plan.NodeSkipped, nodes["end"].Status)
	assert.Equal(t, plan.EdgeDisabled, edges["eB_E"].Status)
}

func TestWorkerFailureDisablesOutputs(t *testing.T) {
	mem, p := seedSession(t, chainPlan)
	// The failed verdict claims eA_B enabled; the disable pass must win.
	factory := verdictFactory(mem, map[string]*plan.Verdict{
		"A": {Result: "query broke", Status: plan.VerdictFailed, SetEdgeStatus: map[string]plan.EdgeStatus{"eA_B": plan.EdgeEnabled}},
	})
	s := New(mem, p, factory, nil, fastConfig())

	summary, err := s.Run(context.Background())
	require.NoError(t, err)
	assert.False(t, summary.Success)
	assert.Equal(t, []string{"A"}, summary.FailedNodes)

	nodes, edges := finalTables(t, mem)
	assert.Equal(t, plan.NodeFailed, nodes["A"].Status)
	assert.Equal(t, plan.EdgeDisabled, edges["eA_B"].Status)
	assert.Equal(t, plan.NodeSkipped, nodes["B"].Status)
	assert.Equal(t, plan.NodeSkipped, nodes["end"].Status)
}

func TestUnknownEdgeAbortsSession(t *testing.T) {
	mem, p := seedSession(t, chainPlan)
	factory := verdictFactory(mem, map[string]*plan.Verdict{
		"A": {Result: "done", Status: plan.VerdictCompleted, SetEdgeStatus: map[string]plan.EdgeStatus{"eGhost": plan.EdgeEnabled}},
	})
	s := New(mem, p, factory, nil, fastConfig())

	_, err := s.Run(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, plan.ErrEdgeNotFound)
}

func TestWorkerTimeout(t *testing.T) {
	mem, p := seedSession(t, chainPlan)
	factory := func(nodeName, executorID string) Worker {
		if nodeName == "A" {
			// Never delivers; blocks until the scheduler cancels it.
			return &stubWorker{mem: mem, nodeName: nodeName, executorID: executorID}
		}
		return &stubWorker{mem: mem, nodeName: nodeName, executorID: executorID,
			verdict: &plan.Verdict{Result: "terminal", Status: plan.VerdictCompleted, SetEdgeStatus: map[string]plan.EdgeStatus{}}}
	}
	marker := &fakeMarker{}
	cfg := fastConfig()
	cfg.ExecutorTimeout = 20 * time.Millisecond
	s := New(mem, p, factory, marker, cfg)

	summary, err := s.Run(context.Background())
	require.NoError(t, err)
	assert.False(t, summary.Success)

	nodes, _ := finalTables(t, mem)
	assert.Equal(t, plan.NodeFailed, nodes["A"].Status)
	assert.Equal(t, "Executor timed out", nodes["A"].Result)
	require.Len(t, marker.flags, 1)
	assert.Equal(t, nodes["A"].ExecutorID, marker.flags[0])
}

func TestWorkerExitsWithoutVerdict(t *testing.T) {
	mem, p := seedSession(t, chainPlan)
	factory := func(nodeName, executorID string) Worker {
		return &stubWorker{mem: mem, nodeName: nodeName, executorID: executorID, noDeliver: true}
	}
	s := New(mem, p, factory, nil, fastConfig())

	summary, err := s.Run(context.Background())
	require.NoError(t, err)
	assert.False(t, summary.Success)

	nodes, _ := finalTables(t, mem)
	assert.Equal(t, plan.NodeFailed, nodes["A"].Status)
	assert.Contains(t, nodes["A"].Result, "without delivering a verdict")
}

const forkPlan = `{
  "nodes": [
    {"node": "start", "output_edges": [{"edge": "e1", "condition": "none"}, {"edge": "e2", "condition": "none"}]},
    {"node": "L", "input_edges": [{"edge": "e1"}], "output_edges": [{"edge": "e3"}]},
    {"node": "R", "input_edges": [{"edge": "e2"}], "output_edges": [{"edge": "e4"}]},
    {"node": "end", "input_edges": [{"edge": "e3"}, {"edge": "e4"}], "output_edges": []}
  ]
}`

// countingWorker tracks concurrent executions before delivering.
type countingWorker struct {
	stub    stubWorker
	current *int32
	peak    *int32
	mu      *sync.Mutex
}

func (w *countingWorker) Run(ctx context.Context) (*plan.Verdict, error) {
	w.mu.Lock()
	*w.current++
	if *w.current > *w.peak {
		*w.peak = *w.current
	}
	w.mu.Unlock()
	defer func() {
		w.mu.Lock()
		*w.current--
		w.mu.Unlock()
	}()
	time.Sleep(10 * time.Millisecond)
	return w.stub.Run(ctx)
}

func TestConcurrencyCapOfOneSerializes(t *testing.T) {
	mem, p := seedSession(t, forkPlan)
	var current, peak int32
	var mu sync.Mutex
	factory := func(nodeName, executorID string) Worker {
		edges := map[string]map[string]plan.EdgeStatus{
			"L": {"e3": plan.EdgeEnabled},
			"R": {"e4": plan.EdgeEnabled},
		}
		set, ok := edges[nodeName]
		if !ok {
			set = map[string]plan.EdgeStatus{}
		}
		return &countingWorker{
			stub: stubWorker{mem: mem, nodeName: nodeName, executorID: executorID,
				verdict: &plan.Verdict{Result: "ok", Status: plan.VerdictCompleted, SetEdgeStatus: set}},
			current: &current, peak: &peak, mu: &mu,
		}
	}
	cfg := fastConfig()
	cfg.MaxExecutors = 1
	s := New(mem, p, factory, nil, cfg)

	summary, err := s.Run(context.Background())
	require.NoError(t, err)
	assert.True(t, summary.Success)
	assert.LessOrEqual(t, peak, int32(1))
}

func TestEmptyEdgeMapOnNodeWithoutOutputs(t *testing.T) {
	mem, p := seedSession(t, chainPlan)
	factory := verdictFactory(mem, map[string]*plan.Verdict{
		"A": {Result: "ok", Status: plan.VerdictCompleted, SetEdgeStatus: map[string]plan.EdgeStatus{"eA_B": plan.EdgeEnabled}},
		"B": {Result: "ok", Status: plan.VerdictCompleted, SetEdgeStatus: map[string]plan.EdgeStatus{"eB_E": plan.EdgeEnabled}},
		"end": {Result: "terminal", Status: plan.VerdictCompleted, SetEdgeStatus: map[string]plan.EdgeStatus{}},
	})
	s := New(mem, p, factory, nil, fastConfig())

	summary, err := s.Run(context.Background())
	require.NoError(t, err)
	assert.True(t, summary.Success)
}

func TestSummaryString(t *testing.T) {
	nodes := plan.NodeTable{
		"start": {Status: plan.NodeFinished},
		"A":     {Status: plan.NodeFailed, Result: "broke"},
		"B":     {Status: plan.NodeSkipped},
		"end":   {Status: plan.NodeSkipped},
	}
	summary := buildSummary(nodes)
	out := summary.String()
	assert.Contains(t, out, "status: failure")
	assert.Contains(t, out, "finished: 1, failed: 1, skipped: 2")
	assert.Contains(t, out, "Failed nodes: A")
}
