package plan

import "fmt"

// NodeState is the per-node entry of the Node_Status table.
type NodeState struct {
	Status     NodeStatus `json:"status"`
	Result     string     `json:"result,omitempty"`
	ExecutorID string     `json:"executor_id,omitempty"`
}

// EdgeState is the per-edge entry of the Edge_Status table.
type EdgeState struct {
	Status    EdgeStatus `json:"status"`
	Condition string     `json:"condition,omitempty"`
}

// NodeTable and EdgeTable are the canonical mutable traversal state. They
// live in the memory service under the Node_Status and Edge_Status keys and
// are written back with a single atomic replace per scheduler tick.
type (
	NodeTable map[string]NodeState
	EdgeTable map[string]EdgeState
)

// InitialTables builds fresh status tables for the plan: every node and every
// edge pending. Conditions come from the edge's source-side declaration.
func (p *Plan) InitialTables() (NodeTable, EdgeTable) {
	nodes := make(NodeTable, len(p.Nodes))
	edges := make(EdgeTable)
	for _, n := range p.Nodes {
		nodes[n.Name] = NodeState{Status: NodePending}
		for _, e := range n.OutputEdges {
			edges[e.Edge] = EdgeState{Status: EdgePending, Condition: e.Condition}
		}
		for _, e := range n.InputEdges {
			if _, ok := edges[e.Edge]; !ok {
				edges[e.Edge] = EdgeState{Status: EdgePending, Condition: e.Condition}
			}
		}
	}
	return nodes, edges
}

// Bootstrap applies the start condition: start is finished and all of its
// output edges are enabled. The scheduler never re-enables starts itself.
func (p *Plan) Bootstrap(nodes NodeTable, edges EdgeTable) {
	nodes[StartNode] = NodeState{Status: NodeFinished, Result: "initial step"}
	start := p.byName[StartNode]
	for _, e := range start.OutputEdges {
		st := edges[e.Edge]
		st.Status = EdgeEnabled
		edges[e.Edge] = st
	}
}

// ApplyEdgeUpdates sets edge statuses from a completed worker's verdict.
// An unknown edge name is a hard error. Re-assigning an edge to a different
// status is also an error; re-stating the current status is a no-op.
func ApplyEdgeUpdates(edges EdgeTable, updates map[string]EdgeStatus) error {
	for name, status := range updates {
		st, ok := edges[name]
		if !ok {
			return fmt.Errorf("%w: %q", ErrEdgeNotFound, name)
		}
		if st.Status != EdgePending {
			if st.Status == status {
				continue
			}
			return fmt.Errorf("%w: %q is %s, cannot set %s", ErrEdgeReassigned, name, st.Status, status)
		}
		st.Status = status
		edges[name] = st
	}
	return nil
}

// DisableOutputs disables every still-pending output edge of the node. Used
// for failed and skipped nodes.
func (p *Plan) DisableOutputs(nodeName string, edges EdgeTable) {
	n, ok := p.byName[nodeName]
	if !ok {
		return
	}
	for _, e := range n.OutputEdges {
		st := edges[e.Edge]
		if st.Status == EdgePending {
			st.Status = EdgeDisabled
			edges[e.Edge] = st
		}
	}
}

// Triggerable reports whether the node is eligible for dispatch: no input
// edge pending and at least one enabled.
func (p *Plan) Triggerable(nodeName string, edges EdgeTable) bool {
	n, ok := p.byName[nodeName]
	if !ok || len(n.InputEdges) == 0 {
		return false
	}
	anyEnabled := false
	for _, e := range n.InputEdges {
		switch edges[e.Edge].Status {
		case EdgePending:
			return false
		case EdgeEnabled:
			anyEnabled = true
		}
	}
	return anyEnabled
}

// AllInputsDisabled reports whether every input edge of the node is disabled,
// the condition for marking it skipped.
func (p *Plan) AllInputsDisabled(nodeName string, edges EdgeTable) bool {
	n, ok := p.byName[nodeName]
	if !ok || len(n.InputEdges) == 0 {
		return false
	}
	for _, e := range n.InputEdges {
		if edges[e.Edge].Status != EdgeDisabled {
			return false
		}
	}
	return true
}

// Predecessors returns the names of nodes whose output edges feed this node,
// in plan declaration order.
func (p *Plan) Predecessors(nodeName string) []string {
	n, ok := p.byName[nodeName]
	if !ok {
		return nil
	}
	inputs := make(map[string]bool, len(n.InputEdges))
	for _, e := range n.InputEdges {
		inputs[e.Edge] = true
	}
	var preds []string
	for _, cand := range p.Nodes {
		for _, e := range cand.OutputEdges {
			if inputs[e.Edge] {
				preds = append(preds, cand.Name)
				break
			}
		}
	}
	return preds
}

// Clone returns deep copies of the tables, for snapshot semantics.
func (t NodeTable) Clone() NodeTable {
	out := make(NodeTable, len(t))
	for k, v := range t {
		out[k] = v
	}
	return out
}

func (t EdgeTable) Clone() EdgeTable {
	out := make(EdgeTable, len(t))
	for k, v := range t {
		out[k] = v
	}
	return out
}
