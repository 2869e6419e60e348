package tools

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stepflow-io/stepflow/pkg/memory"
)

func TestMemoryTool(t *testing.T) {
	mem := memory.NewService("sess-mem")
	tool := NewMemoryTool(mem)
	ctx := context.Background()

	noteID, err := mem.AddData(memory.AddDataInput{Payload: "gateway errors spiking", DataType: "note", Description: "observation"})
	require.NoError(t, err)
	tableID, err := mem.AddData(memory.AddDataInput{
		Payload:  memory.NewTable([]string{"region", "errors"}, [][]any{{"us-east", 40}, {"eu-central", 2}}),
		DataType: "query_result",
	})
	require.NoError(t, err)
	snippetID := mem.StoreSnippet("SELECT 1", "plugin_1", "Demo_TSG", nil, "")

	t.Run("get_data renders scalars as json", func(t *testing.T) {
		out := tool.Execute(ctx, map[string]any{"action": "get_data", "data_id": noteID})
		assert.Contains(t, out, "gateway errors spiking")
	})

	t.Run("get_data renders tables as text", func(t *testing.T) {
		out := tool.Execute(ctx, map[string]any{"action": "get_data", "data_id": tableID})
		assert.Contains(t, out, "us-east")
		assert.Contains(t, out, "errors")
	})

	t.Run("list_data", func(t *testing.T) {
		out := tool.Execute(ctx, map[string]any{"action": "list_data"})
		assert.Contains(t, out, noteID)
		assert.Contains(t, out, tableID)
	})

	t.Run("get_data_section accepts float offsets", func(t *testing.T) {
		out := tool.Execute(ctx, map[string]any{"action": "get_data_section", "data_id": tableID, "start": float64(1), "count": float64(1)})
		assert.Contains(t, out, "eu-central")
		assert.NotContains(t, out, "us-east")
	})

	t.Run("search_data finds table cells", func(t *testing.T) {
		out := tool.Execute(ctx, map[string]any{"action": "search_data", "data_id": tableID, "term": "us-east"})
		assert.Contains(t, out, "Found 1 matching rows")
		assert.Contains(t, out, "us-east")
		assert.NotContains(t, out, "eu-central")
	})

	t.Run("search_data finds text lines", func(t *testing.T) {
		out := tool.Execute(ctx, map[string]any{"action": "search_data", "data_id": noteID, "term": "spiking"})
		assert.Contains(t, out, "Line 1: gateway errors spiking")
	})

	t.Run("search_data requires data_id and term", func(t *testing.T) {
		out := tool.Execute(ctx, map[string]any{"action": "search_data", "term": "spiking"})
		assert.Contains(t, out, "data_id and term parameters are required")
	})

	t.Run("list_data filters by agent", func(t *testing.T) {
		out := tool.Execute(ctx, map[string]any{"action": "list_data", "agent_id": "someone-else"})
		assert.NotContains(t, out, noteID)
	})

	t.Run("get_code_snippet", func(t *testing.T) {
		out := tool.Execute(ctx, map[string]any{"action": "get_code_snippet", "snippet_id": snippetID})
		assert.Equal(t, "SELECT 1", out)
	})

	t.Run("unknown action", func(t *testing.T) {
		out := tool.Execute(ctx, map[string]any{"action": "drop_everything"})
		assert.Contains(t, out, "unknown memory action")
	})

	t.Run("missing data id", func(t *testing.T) {
		out := tool.Execute(ctx, map[string]any{"action": "get_data"})
		assert.Contains(t, out, "data_id parameter is required")
	})
}
