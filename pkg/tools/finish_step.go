package tools

import "context"

// FinishStep is the completion sentinel. The worker loop intercepts the
// action name before dispatch, so Execute only runs if something bypasses
// the loop; the tool exists for the prompt listing and role filtering.
type FinishStep struct{}

func (FinishStep) Name() string { return "finish_step" }

func (FinishStep) Description() string {
	return "Finish this step and report the outcome. Parameters: result (free-text summary), " +
		"status (completed or failed), set_edge_status (map of output edge name to enabled or disabled)."
}

func (FinishStep) Execute(_ context.Context, _ map[string]any) string {
	return "finish_step is handled by the step executor; the step is now complete."
}
