package memory

import (
	"fmt"
	"strings"
)

// Table is the tabular payload type for query results. Rows are positional
// against Columns.
type Table struct {
	Columns []string
	Rows    [][]any
}

// NewTable builds a table from a column list and rows. Rows shorter than the
// column list are padded with nils so downstream rendering stays positional.
func NewTable(columns []string, rows [][]any) *Table {
	t := &Table{Columns: append([]string(nil), columns...)}
	for _, r := range rows {
		row := make([]any, len(columns))
		copy(row, r)
		t.Rows = append(t.Rows, row)
	}
	return t
}

// Shape returns (rows, columns).
func (t *Table) Shape() (int, int) {
	if t == nil {
		return 0, 0
	}
	return len(t.Rows), len(t.Columns)
}

// Clone returns a deep copy.
func (t *Table) Clone() *Table {
	if t == nil {
		return nil
	}
	return NewTable(t.Columns, t.Rows)
}

// Head returns up to n leading rows as a new table.
func (t *Table) Head(n int) *Table {
	if n > len(t.Rows) {
		n = len(t.Rows)
	}
	return NewTable(t.Columns, t.Rows[:n])
}

// Tail returns up to n trailing rows as a new table.
func (t *Table) Tail(n int) *Table {
	if n > len(t.Rows) {
		n = len(t.Rows)
	}
	return NewTable(t.Columns, t.Rows[len(t.Rows)-n:])
}

// ColumnTypes derives a type name per column from the first non-nil cell.
// Columns with only nil cells report "null".
func (t *Table) ColumnTypes() []string {
	types := make([]string, len(t.Columns))
	for i := range t.Columns {
		types[i] = "null"
		for _, row := range t.Rows {
			if i >= len(row) || row[i] == nil {
				continue
			}
			switch row[i].(type) {
			case string, []byte:
				types[i] = "string"
			case float32, float64:
				types[i] = "float"
			case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
				types[i] = "integer"
			case bool:
				types[i] = "bool"
			default:
				types[i] = "object"
			}
			break
		}
	}
	return types
}

// String renders the table as aligned plain text, one row per line.
func (t *Table) String() string {
	if t == nil || len(t.Columns) == 0 {
		return "(empty table)"
	}
	widths := make([]int, len(t.Columns))
	cells := make([][]string, 0, len(t.Rows)+1)
	header := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		header[i] = c
		widths[i] = len(c)
	}
	cells = append(cells, header)
	for _, row := range t.Rows {
		line := make([]string, len(t.Columns))
		for i := range t.Columns {
			var v any
			if i < len(row) {
				v = row[i]
			}
			line[i] = cellString(v)
			if len(line[i]) > widths[i] {
				widths[i] = len(line[i])
			}
		}
		cells = append(cells, line)
	}
	var b strings.Builder
	for _, line := range cells {
		for i, cell := range line {
			if i > 0 {
				b.WriteString("  ")
			}
			b.WriteString(cell)
			b.WriteString(strings.Repeat(" ", widths[i]-len(cell)))
		}
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), " \n")
}

func cellString(v any) string {
	if v == nil {
		return "NULL"
	}
	switch x := v.(type) {
	case []byte:
		return string(x)
	case float64:
		// Trim trailing zeros so integral floats render cleanly.
		s := fmt.Sprintf("%g", x)
		return s
	default:
		return fmt.Sprintf("%v", x)
	}
}
