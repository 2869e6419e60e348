// Package scheduler drives the PlanDAG traversal: it owns the Node_Status
// and Edge_Status tables, triggers nodes whose input edges allow it, bounds
// worker concurrency, and enforces the hard per-worker timeout.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/stepflow-io/stepflow/pkg/memory"
	"github.com/stepflow-io/stepflow/pkg/plan"
)

const timeoutReason = "Executor timed out"

// Worker is one in-flight node execution. Run delivers its verdict through
// the memory service before returning.
type Worker interface {
	Run(ctx context.Context) (*plan.Verdict, error)
}

// WorkerFactory builds the worker for a node once the scheduler has minted
// and registered its executor id.
type WorkerFactory func(nodeName, executorID string) Worker

// TimeoutMarker drops the per-executor timeout flag file. Satisfied by
// trace.Logger; nil disables the marker.
type TimeoutMarker interface {
	WriteTimeoutFlag(executorID string) (string, error)
}

// Config bounds the monitor loop.
type Config struct {
	CheckInterval   time.Duration
	ExecutorTimeout time.Duration
	MaxExecutors    int

	// JoinTimeout bounds how long a reap waits for a cancelled worker's
	// goroutine to finish.
	JoinTimeout time.Duration
}

// DefaultConfig returns the standard loop bounds.
func DefaultConfig() Config {
	return Config{
		CheckInterval:   time.Second,
		ExecutorTimeout: 180 * time.Second,
		MaxExecutors:    3,
		JoinTimeout:     500 * time.Millisecond,
	}
}

type workerHandle struct {
	nodeName   string
	executorID string
	started    time.Time
	cancel     context.CancelFunc
	done       chan struct{}
}

// Scheduler runs one session's traversal.
type Scheduler struct {
	mem     *memory.Service
	plan    *plan.Plan
	factory WorkerFactory
	marker  TimeoutMarker
	cfg     Config

	running map[string]*workerHandle // keyed by node name
	log     *slog.Logger
}

// New builds a scheduler. The memory service must already hold the
// bootstrapped Node_Status and Edge_Status tables.
func New(mem *memory.Service, p *plan.Plan, factory WorkerFactory, marker TimeoutMarker, cfg Config) *Scheduler {
	def := DefaultConfig()
	if cfg.CheckInterval <= 0 {
		cfg.CheckInterval = def.CheckInterval
	}
	if cfg.ExecutorTimeout <= 0 {
		cfg.ExecutorTimeout = def.ExecutorTimeout
	}
	if cfg.MaxExecutors <= 0 {
		cfg.MaxExecutors = def.MaxExecutors
	}
	if cfg.JoinTimeout <= 0 {
		cfg.JoinTimeout = def.JoinTimeout
	}
	return &Scheduler{
		mem:     mem,
		plan:    p,
		factory: factory,
		marker:  marker,
		cfg:     cfg,
		running: make(map[string]*workerHandle),
		log:     slog.With("session_id", mem.SessionID()),
	}
}

// Run executes monitor cycles until the traversal terminates or the context
// is cancelled. Any still-running workers are cancelled on the way out.
func (s *Scheduler) Run(ctx context.Context) (*Summary, error) {
	defer s.cancelAll()

	for {
		summary, done, err := s.cycle(ctx)
		if err != nil {
			return nil, err
		}
		if done {
			s.log.Info("traversal terminated",
				"finished", summary.Finished, "failed", summary.Failed, "skipped", summary.Skipped)
			return summary, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(s.cfg.CheckInterval):
		}
	}
}

// cycle runs one monitor pass: snapshot, reap, sweep, dispatch, persist,
// termination check.
func (s *Scheduler) cycle(ctx context.Context) (*Summary, bool, error) {
	nodes, edges, err := s.snapshot()
	if err != nil {
		return nil, false, err
	}

	if err := s.reap(nodes, edges); err != nil {
		return nil, false, err
	}
	s.sweep(nodes, edges)
	s.dispatch(ctx, nodes, edges)

	if err := s.persist(nodes, edges); err != nil {
		return nil, false, err
	}

	if s.terminated(nodes, edges) {
		return buildSummary(nodes), true, nil
	}
	return nil, false, nil
}

// snapshot re-reads the status tables from memory. Never cached across
// cycles: a worker verdict applied last tick must be visible now.
func (s *Scheduler) snapshot() (plan.NodeTable, plan.EdgeTable, error) {
	var nodes plan.NodeTable
	found, err := s.mem.GetByKey(memory.KeyNodeStatus, &nodes)
	if err != nil {
		return nil, nil, fmt.Errorf("read node status: %w", err)
	}
	if !found {
		return nil, nil, errors.New("node status table not initialized")
	}
	var edges plan.EdgeTable
	found, err = s.mem.GetByKey(memory.KeyEdgeStatus, &edges)
	if err != nil {
		return nil, nil, fmt.Errorf("read edge status: %w", err)
	}
	if !found {
		return nil, nil, errors.New("edge status table not initialized")
	}
	return nodes, edges, nil
}

// reap collects verdicts from finished, dead, or timed-out workers and
// applies them to the tables.
func (s *Scheduler) reap(nodes plan.NodeTable, edges plan.EdgeTable) error {
	for nodeName, handle := range s.running {
		verdict, have, err := s.pollVerdict(handle)
		if err != nil {
			return err
		}

		alive := true
		select {
		case <-handle.done:
			alive = false
		default:
		}

		switch {
		case have:
			// Verdict may land before the goroutine exits; first signal wins.
		case !alive:
			s.log.Warn("worker exited without verdict", "node", nodeName, "executor_id", handle.executorID)
			verdict = &plan.Verdict{
				Result:        "worker terminated without delivering a verdict",
				Status:        plan.VerdictFailed,
				SetEdgeStatus: map[string]plan.EdgeStatus{},
			}
		case time.Since(handle.started) > s.cfg.ExecutorTimeout:
			verdict = s.forceTimeout(handle)
		default:
			continue
		}

		handle.cancel()
		s.join(handle)
		delete(s.running, nodeName)

		if err := s.apply(nodeName, handle.executorID, verdict, nodes, edges); err != nil {
			return err
		}
	}
	return nil
}

func (s *Scheduler) pollVerdict(handle *workerHandle) (*plan.Verdict, bool, error) {
	var result plan.StepResult
	found, err := s.mem.GetByKey(plan.StepResultKey(handle.executorID), &result)
	if err != nil {
		return nil, false, fmt.Errorf("read verdict for %s: %w", handle.nodeName, err)
	}
	if !found {
		return nil, false, nil
	}
	return &result.Result, true, nil
}

// forceTimeout terminates a worker past the hard wall clock and synthesizes
// its failure. The verdict is routed both through memory (by apply) and the
// flag file.
func (s *Scheduler) forceTimeout(handle *workerHandle) *plan.Verdict {
	s.log.Warn("worker timed out, terminating",
		"node", handle.nodeName, "executor_id", handle.executorID,
		"elapsed", time.Since(handle.started).Round(time.Second))
	if s.marker != nil {
		if _, err := s.marker.WriteTimeoutFlag(handle.executorID); err != nil {
			s.log.Warn("timeout flag write failed", "error", err)
		}
	}
	return &plan.Verdict{
		Result:        timeoutReason,
		Status:        plan.VerdictFailed,
		SetEdgeStatus: map[string]plan.EdgeStatus{},
	}
}

func (s *Scheduler) join(handle *workerHandle) {
	select {
	case <-handle.done:
	case <-time.After(s.cfg.JoinTimeout):
		s.log.Warn("worker goroutine still draining after cancel",
			"node", handle.nodeName, "executor_id", handle.executorID)
	}
}

// apply folds a verdict into the tables. A completed verdict sets the edges
// the worker decided; a failed one disables every output edge regardless of
// what the verdict says.
func (s *Scheduler) apply(nodeName, executorID string, v *plan.Verdict, nodes plan.NodeTable, edges plan.EdgeTable) error {
	state := nodes[nodeName]
	state.ExecutorID = executorID
	state.Result = v.Result

	if v.Status == plan.VerdictCompleted {
		if err := plan.ApplyEdgeUpdates(edges, v.SetEdgeStatus); err != nil {
			return fmt.Errorf("verdict for node %s: %w", nodeName, err)
		}
		state.Status = plan.NodeFinished
	} else {
		s.plan.DisableOutputs(nodeName, edges)
		state.Status = plan.NodeFailed
	}
	nodes[nodeName] = state
	s.log.Info("verdict applied", "node", nodeName, "status", state.Status)
	return nil
}

// sweep marks nodes whose inputs are all disabled as skipped and disables
// their outputs, cascading within the same cycle.
func (s *Scheduler) sweep(nodes plan.NodeTable, edges plan.EdgeTable) {
	for changed := true; changed; {
		changed = false
		for _, node := range s.plan.Nodes {
			if nodes[node.Name].Status != plan.NodePending {
				continue
			}
			if s.plan.AllInputsDisabled(node.Name, edges) {
				nodes[node.Name] = plan.NodeState{Status: plan.NodeSkipped}
				s.plan.DisableOutputs(node.Name, edges)
				s.log.Info("node skipped", "node", node.Name)
				changed = true
			}
		}
	}
}

// dispatch launches workers for triggerable nodes, bounded by the
// concurrency cap. The end node is cap-exempt and dispatched exclusively.
func (s *Scheduler) dispatch(ctx context.Context, nodes plan.NodeTable, edges plan.EdgeTable) {
	if _, endInFlight := s.running[plan.EndNode]; endInFlight {
		return
	}

	if nodes[plan.EndNode].Status == plan.NodePending && s.plan.Triggerable(plan.EndNode, edges) {
		s.launch(ctx, plan.EndNode, nodes)
		return
	}

	for _, node := range s.plan.Nodes {
		if len(s.running) >= s.cfg.MaxExecutors {
			return
		}
		if node.Name == plan.EndNode || nodes[node.Name].Status != plan.NodePending {
			continue
		}
		if _, inFlight := s.running[node.Name]; inFlight {
			continue
		}
		if s.plan.Triggerable(node.Name, edges) {
			s.launch(ctx, node.Name, nodes)
		}
	}
}

func (s *Scheduler) launch(ctx context.Context, nodeName string, nodes plan.NodeTable) {
	executorID := uuid.NewString()
	s.mem.RegisterAgentWithID("executor", executorID)

	wctx, cancel := context.WithCancel(ctx)
	handle := &workerHandle{
		nodeName:   nodeName,
		executorID: executorID,
		started:    time.Now(),
		cancel:     cancel,
		done:       make(chan struct{}),
	}
	s.running[nodeName] = handle
	nodes[nodeName] = plan.NodeState{Status: plan.NodeRunning, ExecutorID: executorID}

	worker := s.factory(nodeName, executorID)
	s.log.Info("worker dispatched", "node", nodeName, "executor_id", executorID)
	go func() {
		defer close(handle.done)
		if _, err := worker.Run(wctx); err != nil && !errors.Is(err, context.Canceled) {
			s.log.Warn("worker failed", "node", nodeName, "executor_id", executorID, "error", err)
		}
	}()
}

// persist writes both tables back with a single atomic replace each.
func (s *Scheduler) persist(nodes plan.NodeTable, edges plan.EdgeTable) error {
	if _, err := s.mem.UpdateByKey(memory.KeyNodeStatus, nodes, "node_status", "PlanDAG node status table"); err != nil {
		return fmt.Errorf("persist node status: %w", err)
	}
	if _, err := s.mem.UpdateByKey(memory.KeyEdgeStatus, edges, "edge_status", "PlanDAG edge status table"); err != nil {
		return fmt.Errorf("persist edge status: %w", err)
	}
	return nil
}

// terminated reports whether the traversal is over: end finished, or a
// stable state with nothing pending and nothing running.
func (s *Scheduler) terminated(nodes plan.NodeTable, edges plan.EdgeTable) bool {
	if nodes[plan.EndNode].Status == plan.NodeFinished {
		return true
	}
	for _, st := range edges {
		if st.Status == plan.EdgePending {
			return false
		}
	}
	for _, st := range nodes {
		if st.Status == plan.NodePending || st.Status == plan.NodeRunning {
			return false
		}
	}
	return true
}

func (s *Scheduler) cancelAll() {
	for nodeName, handle := range s.running {
		handle.cancel()
		s.join(handle)
		delete(s.running, nodeName)
	}
}
