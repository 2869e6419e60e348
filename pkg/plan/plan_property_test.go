package plan

import (
	"encoding/json"
	"fmt"
	"math/rand"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

// genLayeredPlan produces random layered DAGs: start, 1..4 middle layers of
// 1..3 nodes each, end. Every node in a layer gets one edge from a node of
// the previous layer, so the plan always validates.
func genLayeredPlan() gopter.Gen {
	return gen.Int64Range(0, 1<<31).Map(func(seed int64) *Plan {
		rng := rand.New(rand.NewSource(seed))
		depth := 1 + rng.Intn(4)
		layers := [][]string{{StartNode}}
		for l := 0; l < depth; l++ {
			width := 1 + rng.Intn(3)
			var layer []string
			for i := 0; i < width; i++ {
				layer = append(layer, fmt.Sprintf("n%d_%d", l, i))
			}
			layers = append(layers, layer)
		}
		layers = append(layers, []string{EndNode})

		nodes := make(map[string]*Node)
		var order []string
		for _, layer := range layers {
			for _, name := range layer {
				nodes[name] = &Node{Name: name, Description: name}
				order = append(order, name)
			}
		}
		edgeNum := 0
		for li := 1; li < len(layers); li++ {
			prev := layers[li-1]
			for _, target := range layers[li] {
				source := prev[rng.Intn(len(prev))]
				name := fmt.Sprintf("e%d", edgeNum)
				edgeNum++
				ref := EdgeRef{Edge: name, Condition: "none"}
				nodes[source].OutputEdges = append(nodes[source].OutputEdges, ref)
				nodes[target].InputEdges = append(nodes[target].InputEdges, ref)
			}
		}
		p := &Plan{}
		for _, name := range order {
			p.Nodes = append(p.Nodes, *nodes[name])
		}
		return p
	})
}

func TestPlanProperties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("parse round-trip preserves structure and validates", prop.ForAll(
		func(p *Plan) bool {
			raw, err := json.Marshal(p)
			if err != nil {
				return false
			}
			parsed, err := Parse(raw)
			if err != nil {
				return false
			}
			return len(parsed.Nodes) == len(p.Nodes)
		},
		genLayeredPlan(),
	))

	properties.Property("status tables recover exactly the referenced edge set", prop.ForAll(
		func(p *Plan) bool {
			raw, _ := json.Marshal(p)
			parsed, err := Parse(raw)
			if err != nil {
				return false
			}
			_, edges := parsed.InitialTables()
			want := parsed.EdgeNames()
			if len(edges) != len(want) {
				return false
			}
			for name := range want {
				if _, ok := edges[name]; !ok {
					return false
				}
			}
			return true
		},
		genLayeredPlan(),
	))

	properties.Property("bootstrap enables exactly the start outputs", prop.ForAll(
		func(p *Plan) bool {
			raw, _ := json.Marshal(p)
			parsed, err := Parse(raw)
			if err != nil {
				return false
			}
			nodes, edges := parsed.InitialTables()
			parsed.Bootstrap(nodes, edges)
			start, _ := parsed.Node(StartNode)
			fromStart := make(map[string]bool)
			for _, e := range start.OutputEdges {
				fromStart[e.Edge] = true
			}
			for name, st := range edges {
				if fromStart[name] != (st.Status == EdgeEnabled) {
					return false
				}
			}
			return nodes[StartNode].Status == NodeFinished
		},
		genLayeredPlan(),
	))

	properties.TestingRun(t)
}
