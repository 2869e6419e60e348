// Package plan models the PlanDAG: the compiled form of a troubleshooting
// guide, one node per TSG step, with conditional edges between steps. It owns
// loading, validation, and the status tables the scheduler mutates during a
// traversal.
package plan

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
)

// StartNode and EndNode are the distinguished node names every plan carries.
const (
	StartNode = "start"
	EndNode   = "end"
)

// NodeStatus is the lifecycle state of a plan node.
type NodeStatus string

const (
	NodePending  NodeStatus = "pending"
	NodeRunning  NodeStatus = "running"
	NodeFinished NodeStatus = "finished"
	NodeFailed   NodeStatus = "failed"
	NodeSkipped  NodeStatus = "skipped"
)

// EdgeStatus is the lifecycle state of a plan edge. An edge is assigned at
// most once: pending to enabled or disabled, never back.
type EdgeStatus string

const (
	EdgePending  EdgeStatus = "pending"
	EdgeEnabled  EdgeStatus = "enabled"
	EdgeDisabled EdgeStatus = "disabled"
)

var (
	// ErrEdgeNotFound reports a verdict naming an edge absent from the plan.
	// This is an authoring bug in the plan and aborts the session.
	ErrEdgeNotFound = errors.New("plan: edge not found")

	// ErrEdgeReassigned reports an attempt to move an already-assigned edge
	// to a different status.
	ErrEdgeReassigned = errors.New("plan: edge already assigned")
)

// EdgeRef is a node's reference to one of its edges, with the informational
// condition text shown to the worker.
type EdgeRef struct {
	Edge      string `json:"edge"`
	Condition string `json:"condition"`
}

// Node is one step of the plan.
type Node struct {
	Name        string    `json:"node"`
	Description string    `json:"description"`
	InputEdges  []EdgeRef `json:"input_edges"`
	OutputEdges []EdgeRef `json:"output_edges"`
}

// Plan is a validated PlanDAG.
type Plan struct {
	Nodes []Node `json:"nodes"`

	byName map[string]*Node
}

// Load reads and validates a PlanDAG JSON file.
func Load(path string) (*Plan, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read plan file: %w", err)
	}
	return Parse(raw)
}

// Parse decodes and validates a PlanDAG JSON document.
func Parse(raw []byte) (*Plan, error) {
	var p Plan
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("decode plan: %w", err)
	}
	if err := p.validate(); err != nil {
		return nil, err
	}
	p.byName = make(map[string]*Node, len(p.Nodes))
	for i := range p.Nodes {
		p.byName[p.Nodes[i].Name] = &p.Nodes[i]
	}
	return &p, nil
}

// Node returns the node with the given name.
func (p *Plan) Node(name string) (*Node, bool) {
	n, ok := p.byName[name]
	return n, ok
}

// EdgeNames returns the set of all edges referenced by any node, input or
// output side.
func (p *Plan) EdgeNames() map[string]struct{} {
	edges := make(map[string]struct{})
	for _, n := range p.Nodes {
		for _, e := range n.InputEdges {
			edges[e.Edge] = struct{}{}
		}
		for _, e := range n.OutputEdges {
			edges[e.Edge] = struct{}{}
		}
	}
	return edges
}

func (p *Plan) validate() error {
	if len(p.Nodes) == 0 {
		return errors.New("plan has no nodes")
	}
	seen := make(map[string]bool, len(p.Nodes))
	starts, ends := 0, 0
	for _, n := range p.Nodes {
		if n.Name == "" {
			return errors.New("plan node with empty name")
		}
		if seen[n.Name] {
			return fmt.Errorf("duplicate node name %q", n.Name)
		}
		seen[n.Name] = true
		switch n.Name {
		case StartNode:
			starts++
		case EndNode:
			ends++
		}
	}
	if starts != 1 {
		return fmt.Errorf("plan must have exactly one %q node, found %d", StartNode, starts)
	}
	if ends != 1 {
		return fmt.Errorf("plan must have exactly one %q node, found %d", EndNode, ends)
	}

	// Each edge belongs to exactly one source node's outputs and exactly one
	// target node's inputs.
	sources := make(map[string]string)
	targets := make(map[string]string)
	for _, n := range p.Nodes {
		for _, e := range n.OutputEdges {
			if prev, dup := sources[e.Edge]; dup {
				return fmt.Errorf("edge %q is an output of both %q and %q", e.Edge, prev, n.Name)
			}
			sources[e.Edge] = n.Name
		}
		for _, e := range n.InputEdges {
			if prev, dup := targets[e.Edge]; dup {
				return fmt.Errorf("edge %q is an input of both %q and %q", e.Edge, prev, n.Name)
			}
			targets[e.Edge] = n.Name
		}
	}
	for edge := range sources {
		if _, ok := targets[edge]; !ok {
			return fmt.Errorf("edge %q has no target node", edge)
		}
	}
	for edge := range targets {
		if _, ok := sources[edge]; !ok {
			return fmt.Errorf("edge %q has no source node", edge)
		}
	}
	return nil
}
