package tools

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/stepflow-io/stepflow/pkg/memory"
)

// MemoryTool gives the worker read-only inspection of the session store.
type MemoryTool struct {
	mem *memory.Service
}

func NewMemoryTool(mem *memory.Service) *MemoryTool {
	return &MemoryTool{mem: mem}
}

func (m *MemoryTool) Name() string { return "memory_tool" }

func (m *MemoryTool) Description() string {
	return "Inspect data stored in shared memory. Parameters: action (one of get_data, list_data, " +
		"get_data_summary, get_data_section, search_data, get_code_snippet), data_id (for id-based actions), " +
		"data_type and agent_id (optional filters for list_data), start and count (for get_data_section), " +
		"term (for search_data, searched within the record named by data_id)."
}

func (m *MemoryTool) Execute(_ context.Context, params map[string]any) string {
	action, _ := params["action"].(string)
	switch action {
	case "get_data":
		id, _ := params["data_id"].(string)
		if id == "" {
			return "Error: data_id parameter is required for get_data."
		}
		if tbl, ok := m.mem.DataTable(id); ok {
			return tbl.String()
		}
		var payload any
		found, err := m.mem.Data(id, &payload)
		if err != nil {
			return fmt.Sprintf("Error: %v", err)
		}
		if !found {
			return fmt.Sprintf("Error: no data found with ID: %s", id)
		}
		raw, err := json.MarshalIndent(payload, "", "  ")
		if err != nil {
			return fmt.Sprintf("Error: %v", err)
		}
		return string(raw)
	case "list_data":
		dataType, _ := params["data_type"].(string)
		agentID, _ := params["agent_id"].(string)
		return m.mem.ListData(dataType, agentID)
	case "get_data_summary":
		id, _ := params["data_id"].(string)
		return m.mem.DataSummary(id)
	case "get_data_section":
		id, _ := params["data_id"].(string)
		return m.mem.DataSection(id, intParam(params, "start"), intParam(params, "count"))
	case "search_data":
		id, _ := params["data_id"].(string)
		term, _ := params["term"].(string)
		if id == "" || term == "" {
			return "Error: data_id and term parameters are required for search_data."
		}
		return m.mem.SearchData(id, term)
	case "get_code_snippet":
		id, _ := params["snippet_id"].(string)
		code, ok := m.mem.GetSnippet(id)
		if !ok {
			return fmt.Sprintf("Error: no snippet found with ID: %s", id)
		}
		return code
	default:
		return fmt.Sprintf("Error: unknown memory action %q. Valid actions: get_data, list_data, "+
			"get_data_summary, get_data_section, search_data, get_code_snippet.", action)
	}
}

// intParam reads a numeric parameter that JSON decoding may have delivered
// as float64.
func intParam(params map[string]any, name string) int {
	switch v := params[name].(type) {
	case int:
		return v
	case float64:
		return int(v)
	case json.Number:
		n, _ := v.Int64()
		return int(n)
	default:
		return 0
	}
}
