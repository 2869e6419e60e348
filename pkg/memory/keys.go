package memory

// Well-known metadata keys shared between the supervisor, the scheduler, and
// the workers. Per-worker verdicts use plan.StepResultKey.
const (
	KeyIncidentInfo = "incident_info"
	KeyTSGContent   = "tsg_content"
	KeyNodeStatus   = "Node_Status"
	KeyEdgeStatus   = "Edge_Status"
	KeyIncidentID   = "incident_id"
)
