package memory

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// summarizeText produces the stored summary for oversized string payloads:
// leading and trailing excerpts plus the total length.
func summarizeText(s string) string {
	const excerpt = 200
	if len(s) <= 2*excerpt {
		return s
	}
	return fmt.Sprintf("%s ... [%d characters total] ... %s", s[:excerpt], len(s), s[len(s)-excerpt:])
}

// ListData renders a one-line-per-record listing of every stored record,
// optionally filtered by data type and by the agent that stored it.
func (s *Service) ListData(dataType, agentID string) string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var lines []string
	for _, rec := range s.records {
		if dataType != "" && rec.DataType != dataType {
			continue
		}
		if agentID != "" && rec.AgentID != agentID {
			continue
		}
		kind := "data"
		if rec.isTable {
			tbl := s.tables[rec.ID]
			r, c := tbl.Shape()
			kind = fmt.Sprintf("table %dx%d", r, c)
		}
		lines = append(lines, fmt.Sprintf("- %s [%s, %s]: %s", rec.ID, rec.DataType, kind, rec.Description))
	}
	if len(lines) == 0 {
		var filters []string
		if dataType != "" {
			filters = append(filters, fmt.Sprintf("type: %s", dataType))
		}
		if agentID != "" {
			filters = append(filters, fmt.Sprintf("agent: %s", agentID))
		}
		if len(filters) > 0 {
			return fmt.Sprintf("No data found with %s", strings.Join(filters, ", "))
		}
		return "No data stored in memory."
	}
	return strings.Join(lines, "\n")
}

// DataSummary renders a human-readable summary of one record: metadata plus
// either the stored summary, the decoded payload, or the table shape, column
// types, and head/tail rows.
func (s *Service) DataSummary(id string) string {
	s.mu.RLock()
	rec, ok := s.byID[id]
	if !ok {
		s.mu.RUnlock()
		return fmt.Sprintf("Error: no data found with ID: %s", id)
	}
	info := recordInfo(rec)
	var tbl *Table
	var raw string
	if rec.isTable {
		tbl = s.tables[id].Clone()
	} else {
		raw = string(rec.payload)
	}
	s.mu.RUnlock()

	var b strings.Builder
	fmt.Fprintf(&b, "Data ID: %s\nType: %s\nDescription: %s\n", info.ID, info.DataType, info.Description)
	if len(info.Metadata) > 0 {
		keys := make([]string, 0, len(info.Metadata))
		for k := range info.Metadata {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		var kv []string
		for _, k := range keys {
			kv = append(kv, fmt.Sprintf("%s=%s", k, info.Metadata[k]))
		}
		fmt.Fprintf(&b, "Metadata: %s\n", strings.Join(kv, ", "))
	}
	switch {
	case tbl != nil:
		r, c := tbl.Shape()
		fmt.Fprintf(&b, "Shape: %d rows x %d columns\nColumns: %s\n", r, c, strings.Join(tbl.Columns, ", "))
		b.WriteString("Column types:\n")
		types := tbl.ColumnTypes()
		for i, col := range tbl.Columns {
			fmt.Fprintf(&b, "- %s: %s\n", col, types[i])
		}
		if r <= 5 {
			fmt.Fprintf(&b, "All rows:\n%s", tbl.String())
		} else {
			fmt.Fprintf(&b, "First rows:\n%s\n", tbl.Head(5).String())
			fmt.Fprintf(&b, "Last rows:\n%s", tbl.Tail(2).String())
		}
	case info.Summary != "":
		fmt.Fprintf(&b, "Summary: %s", info.Summary)
	default:
		fmt.Fprintf(&b, "Content: %s", raw)
	}
	return b.String()
}

// DataSection renders a slice of one record: rows [start, start+count) for
// tables, lines [start, start+count) for text payloads. Other payloads fall
// back to the full summary.
func (s *Service) DataSection(id string, start, count int) string {
	if tbl, ok := s.DataTable(id); ok {
		rows, _ := tbl.Shape()
		if start < 0 || start >= rows {
			return fmt.Sprintf("Error: row offset %d out of range (table has %d rows)", start, rows)
		}
		end := start + count
		if count <= 0 || end > rows {
			end = rows
		}
		section := NewTable(tbl.Columns, tbl.Rows[start:end])
		return fmt.Sprintf("Rows %d-%d of %d:\n%s", start, end-1, rows, section.String())
	}

	text, isText, exists := s.textPayload(id)
	if !exists {
		return fmt.Sprintf("Error: no data found with ID: %s", id)
	}
	if !isText {
		return s.DataSummary(id)
	}
	lines := strings.Split(text, "\n")
	if start < 0 || start >= len(lines) {
		return fmt.Sprintf("Error: line offset %d out of range (data has %d lines)", start, len(lines))
	}
	end := start + count
	if count <= 0 || end > len(lines) {
		end = len(lines)
	}
	return fmt.Sprintf("Lines %d-%d of %d:\n%s", start, end-1, len(lines), strings.Join(lines[start:end], "\n"))
}

// textPayload decodes a record's payload as a string. The second result is
// false when the record holds something other than text.
func (s *Service) textPayload(id string) (text string, isText, exists bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.byID[id]
	if !ok {
		return "", false, false
	}
	if rec.isTable {
		return "", false, true
	}
	var v string
	if err := json.Unmarshal(rec.payload, &v); err != nil {
		return "", false, true
	}
	return v, true, true
}

// searchSampleSize caps how many matches a search renders in full.
const searchSampleSize = 10

// SearchData searches within one record: per-column substring search over
// every cell for tables, per-line search for text payloads.
func (s *Service) SearchData(id, term string) string {
	if tbl, ok := s.DataTable(id); ok {
		var matches [][]any
		for _, row := range tbl.Rows {
			for _, cell := range row {
				if cell != nil && strings.Contains(cellString(cell), term) {
					matches = append(matches, row)
					break
				}
			}
		}
		if len(matches) == 0 {
			return fmt.Sprintf("No matches found for %q in table %s", term, id)
		}
		var b strings.Builder
		fmt.Fprintf(&b, "Found %d matching rows for %q in table %s:\n", len(matches), term, id)
		sample := matches
		if len(sample) > searchSampleSize {
			sample = sample[:searchSampleSize]
		}
		b.WriteString(NewTable(tbl.Columns, sample).String())
		if len(matches) > searchSampleSize {
			fmt.Fprintf(&b, "\n... and %d more matches", len(matches)-searchSampleSize)
		}
		return b.String()
	}

	text, isText, exists := s.textPayload(id)
	if !exists {
		return fmt.Sprintf("Error: no data found with ID: %s", id)
	}
	if !isText {
		// Non-text scalar: search the encoded payload as a whole.
		raw := s.rawPayload(id)
		if strings.Contains(raw, term) {
			return fmt.Sprintf("Found a match for %q in data %s:\n%s", term, id, raw)
		}
		return fmt.Sprintf("No matches found for %q in data %s", term, id)
	}

	var matches []string
	for i, line := range strings.Split(text, "\n") {
		if strings.Contains(line, term) {
			matches = append(matches, fmt.Sprintf("Line %d: %s", i+1, strings.TrimSpace(line)))
		}
	}
	if len(matches) == 0 {
		return fmt.Sprintf("No matches found for %q in data %s", term, id)
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Found %d matching lines for %q in data %s:\n", len(matches), term, id)
	sample := matches
	if len(sample) > searchSampleSize {
		sample = sample[:searchSampleSize]
	}
	b.WriteString(strings.Join(sample, "\n"))
	if len(matches) > searchSampleSize {
		fmt.Fprintf(&b, "\n... and %d more matches", len(matches)-searchSampleSize)
	}
	return b.String()
}

func (s *Service) rawPayload(id string) string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if rec, ok := s.byID[id]; ok {
		return string(rec.payload)
	}
	return ""
}
