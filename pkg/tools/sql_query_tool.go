package tools

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/stepflow-io/stepflow/pkg/datastore"
	"github.com/stepflow-io/stepflow/pkg/memory"
)

// sqlSuccessPrefix opens every successful SQL observation; the data id
// follows on the same line.
const sqlSuccessPrefix = "Query has been successfully executed. The query results are stored in memory with ID: "

// SQLQueryTool executes SQL against a file-backed relational store and parks
// the result as a tabular memory record.
type SQLQueryTool struct {
	mem         *memory.Service
	agentID     string
	defaultPath string
}

// NewSQLQueryTool builds the tool. defaultPath is used when the worker does
// not name a database.
func NewSQLQueryTool(mem *memory.Service, agentID, defaultPath string) *SQLQueryTool {
	return &SQLQueryTool{mem: mem, agentID: agentID, defaultPath: defaultPath}
}

func (s *SQLQueryTool) Name() string { return "sql_query_tool" }

func (s *SQLQueryTool) Description() string {
	return "Execute a SQL query and store the result in memory. Parameters: query_string (SQL text) " +
		"or snippet_id (id of a stored SQL snippet; takes precedence), database_path (optional), " +
		"result_description (optional)."
}

func (s *SQLQueryTool) Execute(ctx context.Context, params map[string]any) string {
	query, errMsg := s.resolveQuery(params)
	if errMsg != "" {
		return errMsg
	}

	path, _ := params["database_path"].(string)
	if path == "" {
		path = s.defaultPath
	}
	db, err := datastore.Open(path)
	if err != nil {
		return fmt.Sprintf("Error: could not open database %s: %v", path, err)
	}
	defer db.Close()

	rows, err := db.QueryxContext(ctx, query)
	if err != nil {
		return fmt.Sprintf("Error executing query: %v", err)
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return fmt.Sprintf("Error reading result columns: %v", err)
	}
	var data [][]any
	for rows.Next() {
		row, err := rows.SliceScan()
		if err != nil {
			return fmt.Sprintf("Error reading result row: %v", err)
		}
		for i, v := range row {
			if b, ok := v.([]byte); ok {
				row[i] = string(b)
			}
		}
		data = append(data, row)
	}
	if err := rows.Err(); err != nil {
		return fmt.Sprintf("Error reading results: %v", err)
	}

	table := memory.NewTable(columns, data)
	description, _ := params["result_description"].(string)
	if description == "" {
		description = "SQL query result"
	}
	id, err := s.mem.AddData(memory.AddDataInput{
		Payload:     table,
		DataType:    "query_result",
		AgentID:     s.agentID,
		Metadata:    map[string]string{"query": query},
		Description: description,
	})
	if err != nil {
		return fmt.Sprintf("Error storing query result: %v", err)
	}

	nRows, nCols := table.Shape()
	slog.Info("sql query executed", "agent_id", s.agentID, "rows", nRows, "data_id", id)

	var b strings.Builder
	fmt.Fprintf(&b, "%s%s\n", sqlSuccessPrefix, id)
	fmt.Fprintf(&b, "Result shape: %d rows x %d columns.\n", nRows, nCols)
	if nRows > 0 {
		fmt.Fprintf(&b, "First rows:\n%s", table.Head(5).String())
	} else {
		b.WriteString("The query returned no rows.")
	}
	return b.String()
}

// resolveQuery prefers a stored snippet over inline SQL.
func (s *SQLQueryTool) resolveQuery(params map[string]any) (query, errMsg string) {
	if snippetID, _ := params["snippet_id"].(string); snippetID != "" {
		code, ok := s.mem.GetSnippet(snippetID)
		if !ok {
			return "", fmt.Sprintf("Error: no snippet found with ID: %s", snippetID)
		}
		return code, ""
	}
	if query, _ := params["query_string"].(string); query != "" {
		return query, ""
	}
	return "", "Error: provide either query_string or snippet_id."
}
