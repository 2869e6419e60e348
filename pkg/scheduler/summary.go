package scheduler

import (
	"fmt"
	"strings"

	"github.com/stepflow-io/stepflow/pkg/plan"
)

// Summary is the traversal outcome reported on termination.
type Summary struct {
	Finished int
	Failed   int
	Skipped  int
	Success  bool
	// EndResult is the end node's stored result, empty when end never ran.
	EndResult string
	// FailedNodes lists the nodes that failed, for the conclusion message.
	FailedNodes []string
}

func buildSummary(nodes plan.NodeTable) *Summary {
	s := &Summary{}
	for name, st := range nodes {
		switch st.Status {
		case plan.NodeFinished:
			s.Finished++
		case plan.NodeFailed:
			s.Failed++
			s.FailedNodes = append(s.FailedNodes, name)
		case plan.NodeSkipped:
			s.Skipped++
		}
	}
	end := nodes[plan.EndNode]
	s.Success = end.Status == plan.NodeFinished
	s.EndResult = end.Result
	return s
}

// String renders the user-facing conclusion.
func (s *Summary) String() string {
	var b strings.Builder
	outcome := "failure"
	if s.Success {
		outcome = "success"
	}
	fmt.Fprintf(&b, "Execution completed with status: %s\n", outcome)
	fmt.Fprintf(&b, "Nodes finished: %d, failed: %d, skipped: %d\n", s.Finished, s.Failed, s.Skipped)
	if len(s.FailedNodes) > 0 {
		fmt.Fprintf(&b, "Failed nodes: %s\n", strings.Join(s.FailedNodes, ", "))
	}
	if s.EndResult != "" {
		fmt.Fprintf(&b, "Terminal result: %s", s.EndResult)
	}
	return strings.TrimRight(b.String(), "\n")
}
