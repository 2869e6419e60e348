package memory

import (
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAgentContext(t *testing.T) {
	t.Run("registered agent accumulates entries in order", func(t *testing.T) {
		svc := NewService("sess-1")
		id := svc.RegisterAgent("executor")

		require.NoError(t, svc.AddContext(id, "message", ChatMessage{Role: "system", Content: "prompt"}, "system prompt"))
		require.NoError(t, svc.AddContext(id, "message", ChatMessage{Role: "assistant", Content: "thought"}, "llm response"))

		entries, err := svc.AgentContext(id, 0)
		require.NoError(t, err)
		require.Len(t, entries, 2)
		assert.Equal(t, "message", entries[0].Key)
	})

	t.Run("unknown agent returns sentinel", func(t *testing.T) {
		svc := NewService("sess-1")
		err := svc.AddContext("nope", "k", "v", "")
		assert.ErrorIs(t, err, ErrUnknownAgent)

		_, err = svc.AgentContext("nope", 0)
		assert.ErrorIs(t, err, ErrUnknownAgent)
	})

	t.Run("messages filter skips non-conversational entries", func(t *testing.T) {
		svc := NewService("sess-1")
		id := svc.RegisterAgentWithID("executor", "exec-7")

		require.NoError(t, svc.AddContext(id, "note", map[string]string{"kind": "bookkeeping"}, ""))
		require.NoError(t, svc.AddContext(id, "message", ChatMessage{Role: "user", Content: "hello"}, ""))
		require.NoError(t, svc.AddContext(id, "message", ChatMessage{Role: "assistant", Content: "hi"}, ""))

		msgs, err := svc.AgentMessages(id, 0)
		require.NoError(t, err)
		require.Len(t, msgs, 2)
		assert.Equal(t, "user", msgs[0].Role)
		assert.Equal(t, "hi", msgs[1].Content)
	})

	t.Run("limit keeps most recent entries", func(t *testing.T) {
		svc := NewService("sess-1")
		id := svc.RegisterAgent("executor")
		for i := 0; i < 5; i++ {
			require.NoError(t, svc.AddContext(id, "message", ChatMessage{Role: "user", Content: fmt.Sprintf("m%d", i)}, ""))
		}
		msgs, err := svc.AgentMessages(id, 2)
		require.NoError(t, err)
		require.Len(t, msgs, 2)
		assert.Equal(t, "m3", msgs[0].Content)
		assert.Equal(t, "m4", msgs[1].Content)
	})
}

func TestAddDataAndRead(t *testing.T) {
	t.Run("string payload round-trips", func(t *testing.T) {
		svc := NewService("sess-2")
		id, err := svc.AddData(AddDataInput{Payload: "hello world", DataType: "note", Description: "greeting"})
		require.NoError(t, err)

		var got string
		found, err := svc.Data(id, &got)
		require.NoError(t, err)
		require.True(t, found)
		assert.Equal(t, "hello world", got)
	})

	t.Run("missing id is not an error", func(t *testing.T) {
		svc := NewService("sess-2")
		var got string
		found, err := svc.Data("missing", &got)
		require.NoError(t, err)
		assert.False(t, found)
	})

	t.Run("oversized strings get a summary", func(t *testing.T) {
		svc := NewService("sess-2")
		long := strings.Repeat("x", 1500)
		id, err := svc.AddData(AddDataInput{Payload: long, DataType: "log"})
		require.NoError(t, err)

		info, ok := svc.RecordInfo(id)
		require.True(t, ok)
		assert.NotEmpty(t, info.Summary)
		assert.Contains(t, info.Summary, "1500 characters total")

		// Full payload is still retrievable verbatim.
		var got string
		found, err := svc.Data(id, &got)
		require.NoError(t, err)
		require.True(t, found)
		assert.Equal(t, long, got)
	})

	t.Run("tables are stored tabular and deep-copied", func(t *testing.T) {
		svc := NewService("sess-2")
		tbl := NewTable([]string{"service", "errors"}, [][]any{{"gateway", 12}, {"auth", 3}})
		id, err := svc.AddData(AddDataInput{Payload: tbl, DataType: "query_result"})
		require.NoError(t, err)

		tbl.Rows[0][1] = 999

		got, ok := svc.DataTable(id)
		require.True(t, ok)
		rows, cols := got.Shape()
		assert.Equal(t, 2, rows)
		assert.Equal(t, 2, cols)
		assert.Equal(t, 12, got.Rows[0][1])
	})
}

func TestKeyedRecords(t *testing.T) {
	t.Run("get by key finds metadata-keyed record", func(t *testing.T) {
		svc := NewService("sess-3")
		_, err := svc.AddData(AddDataInput{
			Payload:  map[string]string{"start": "pending"},
			DataType: "node_status",
			Metadata: map[string]string{"key": "Node_Status"},
		})
		require.NoError(t, err)

		var got map[string]string
		found, err := svc.GetByKey("Node_Status", &got)
		require.NoError(t, err)
		require.True(t, found)
		assert.Equal(t, "pending", got["start"])
	})

	t.Run("absent key is found=false", func(t *testing.T) {
		svc := NewService("sess-3")
		var got map[string]string
		found, err := svc.GetByKey("Edge_Status", &got)
		require.NoError(t, err)
		assert.False(t, found)
	})

	t.Run("update replaces atomically and mints a fresh id", func(t *testing.T) {
		svc := NewService("sess-3")
		first, err := svc.UpdateByKey("Node_Status", map[string]string{"start": "pending"}, "node_status", "node table")
		require.NoError(t, err)
		second, err := svc.UpdateByKey("Node_Status", map[string]string{"start": "running"}, "", "")
		require.NoError(t, err)
		assert.NotEqual(t, first, second)

		// Old record is gone; type/description carry over.
		_, ok := svc.RecordInfo(first)
		assert.False(t, ok)
		info, ok := svc.RecordInfo(second)
		require.True(t, ok)
		assert.Equal(t, "node_status", info.DataType)
		assert.Equal(t, "node table", info.Description)

		var got map[string]string
		found, err := svc.GetByKey("Node_Status", &got)
		require.NoError(t, err)
		require.True(t, found)
		assert.Equal(t, "running", got["start"])
	})

	t.Run("update on absent key creates with defaults", func(t *testing.T) {
		svc := NewService("sess-3")
		id, err := svc.UpdateByKey("exec-1_step_result", map[string]any{"node_name": "A"}, "", "")
		require.NoError(t, err)
		info, ok := svc.RecordInfo(id)
		require.True(t, ok)
		assert.Equal(t, "new_data", info.DataType)
		assert.Contains(t, info.Description, "exec-1_step_result")
	})

	t.Run("concurrent keyed updates never corrupt the store", func(t *testing.T) {
		svc := NewService("sess-3")
		var wg sync.WaitGroup
		for i := 0; i < 20; i++ {
			wg.Add(1)
			go func(n int) {
				defer wg.Done()
				_, err := svc.UpdateByKey("Node_Status", map[string]string{"start": fmt.Sprintf("v%d", n)}, "node_status", "")
				assert.NoError(t, err)
			}(i)
		}
		wg.Wait()

		var got map[string]string
		found, err := svc.GetByKey("Node_Status", &got)
		require.NoError(t, err)
		require.True(t, found)
		assert.Len(t, got, 1)
	})
}

func TestSnippets(t *testing.T) {
	svc := NewService("sess-4")
	id := svc.StoreSnippet("SELECT 1", "plugin_1", "Demo_TSG", map[string]string{"region": "us-east"}, "availability check")
	require.NotEmpty(t, id)

	code, ok := svc.GetSnippet(id)
	require.True(t, ok)
	assert.Equal(t, "SELECT 1", code)

	_, ok = svc.GetSnippet("missing")
	assert.False(t, ok)
}

func TestSummaryRendering(t *testing.T) {
	t.Run("list with filters", func(t *testing.T) {
		svc := NewService("sess-5")
		_, err := svc.AddData(AddDataInput{Payload: "gateway latency spike", DataType: "note", Description: "observation", AgentID: "exec-1"})
		require.NoError(t, err)
		_, err = svc.AddData(AddDataInput{Payload: "rollout at 14:02", DataType: "note", Description: "deploy note", AgentID: "exec-2"})
		require.NoError(t, err)

		list := svc.ListData("", "")
		assert.Contains(t, list, "observation")
		assert.Contains(t, list, "deploy note")

		byAgent := svc.ListData("", "exec-1")
		assert.Contains(t, byAgent, "observation")
		assert.NotContains(t, byAgent, "deploy note")

		assert.Contains(t, svc.ListData("other", ""), "No data found with type: other")
		assert.Contains(t, svc.ListData("note", "exec-3"), "No data found with type: note, agent: exec-3")
	})

	t.Run("search within a table scans every cell", func(t *testing.T) {
		svc := NewService("sess-5")
		tbl := NewTable([]string{"service", "state"}, [][]any{
			{"api-gateway", "DEGRADED-503"},
			{"auth-service", "healthy"},
		})
		id, err := svc.AddData(AddDataInput{Payload: tbl, DataType: "query_result"})
		require.NoError(t, err)

		out := svc.SearchData(id, "DEGRADED-503")
		assert.Contains(t, out, "Found 1 matching rows")
		assert.Contains(t, out, "api-gateway")
		assert.NotContains(t, out, "auth-service")

		assert.Contains(t, svc.SearchData(id, "absent"), "No matches found")
		assert.Contains(t, svc.SearchData("nope", "x"), "Error: no data found with ID: nope")
	})

	t.Run("search within text reports matching lines", func(t *testing.T) {
		svc := NewService("sess-5")
		id, err := svc.AddData(AddDataInput{Payload: "first line\nerror: 503 spike\nlast line", DataType: "note"})
		require.NoError(t, err)

		out := svc.SearchData(id, "503")
		assert.Contains(t, out, "Found 1 matching lines")
		assert.Contains(t, out, "Line 2: error: 503 spike")

		assert.Contains(t, svc.SearchData(id, "timeout"), "No matches found")
	})

	t.Run("summary for unknown id", func(t *testing.T) {
		svc := NewService("sess-5")
		assert.Contains(t, svc.DataSummary("nope"), "Error: no data found with ID")
	})

	t.Run("table section bounds", func(t *testing.T) {
		svc := NewService("sess-5")
		tbl := NewTable([]string{"n"}, [][]any{{1}, {2}, {3}, {4}})
		id, err := svc.AddData(AddDataInput{Payload: tbl, DataType: "query_result"})
		require.NoError(t, err)

		section := svc.DataSection(id, 1, 2)
		assert.Contains(t, section, "Rows 1-2 of 4")

		assert.Contains(t, svc.DataSection(id, 10, 2), "out of range")
	})

	t.Run("text section slices by line", func(t *testing.T) {
		svc := NewService("sess-5")
		id, err := svc.AddData(AddDataInput{Payload: "alpha\nbeta\ngamma\ndelta", DataType: "note"})
		require.NoError(t, err)

		section := svc.DataSection(id, 1, 2)
		assert.Contains(t, section, "Lines 1-2 of 4")
		assert.Contains(t, section, "beta\ngamma")
		assert.NotContains(t, section, "alpha")
		assert.NotContains(t, section, "delta")

		assert.Contains(t, svc.DataSection(id, 9, 1), "out of range")
	})

	t.Run("table summary includes column types and tail", func(t *testing.T) {
		svc := NewService("sess-5")
		tbl := NewTable([]string{"service", "errors"}, [][]any{
			{"row-0", 1}, {"row-1", 2}, {"row-2", 3},
			{"row-3", 4}, {"row-4", 5}, {"row-5", 6}, {"row-6", 7},
		})
		id, err := svc.AddData(AddDataInput{Payload: tbl, DataType: "query_result"})
		require.NoError(t, err)

		out := svc.DataSummary(id)
		assert.Contains(t, out, "Shape: 7 rows x 2 columns")
		assert.Contains(t, out, "- service: string")
		assert.Contains(t, out, "- errors: integer")
		assert.Contains(t, out, "First rows:")
		assert.Contains(t, out, "Last rows:")
		assert.Contains(t, out, "row-6")
		assert.NotContains(t, out, "All rows:")
	})

	t.Run("small table summary shows all rows", func(t *testing.T) {
		svc := NewService("sess-5")
		tbl := NewTable([]string{"n"}, [][]any{{1}, {2}})
		id, err := svc.AddData(AddDataInput{Payload: tbl, DataType: "query_result"})
		require.NoError(t, err)

		out := svc.DataSummary(id)
		assert.Contains(t, out, "All rows:")
		assert.NotContains(t, out, "Last rows:")
	})
}
