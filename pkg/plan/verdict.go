package plan

// VerdictStatus is the outcome a worker reports for its node.
type VerdictStatus string

const (
	VerdictCompleted VerdictStatus = "completed"
	VerdictFailed    VerdictStatus = "failed"
)

// Verdict is the structured outcome of one step: a free-text summary, the
// completion status, and the edge decisions for the node's output edges.
type Verdict struct {
	Result        string                `json:"result"`
	Status        VerdictStatus         `json:"status"`
	SetEdgeStatus map[string]EdgeStatus `json:"set_edge_status"`
}

// StepResult is the wire envelope a worker writes under its
// {executor_id}_step_result key and the scheduler reads back.
type StepResult struct {
	NodeName   string  `json:"node_name"`
	ExecutorID string  `json:"executor_id"`
	Result     Verdict `json:"result"`
}

// StepResultKey returns the memory key a worker's verdict is delivered under.
func StepResultKey(executorID string) string {
	return executorID + "_step_result"
}
