// Package tsg loads troubleshooting guide documents and the incident
// mapping that selects them.
package tsg

import (
	"encoding/json"
	"fmt"
	"os"
	"regexp"
)

// IncidentInfo describes one known incident class.
type IncidentInfo struct {
	TSG         string `json:"tsg"`
	Description string `json:"description"`
	Severity    string `json:"severity,omitempty"`
	Service     string `json:"service,omitempty"`
}

// Mapping is the incident id to TSG association table.
type Mapping map[string]IncidentInfo

// LoadMapping reads the incident mapping JSON file.
func LoadMapping(path string) (Mapping, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read incident mapping: %w", err)
	}
	var m Mapping
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("decode incident mapping: %w", err)
	}
	return m, nil
}

// Lookup returns the incident info for an id. Missing entries are not an
// error: the caller warns and the session still starts.
func (m Mapping) Lookup(incidentID string) (IncidentInfo, bool) {
	info, ok := m[incidentID]
	return info, ok
}

// pluginBlock matches an embedded plugin reference: <PLUGIN_N>...</PLUGIN_N>
var pluginBlock = regexp.MustCompile(`(?s)<(PLUGIN_(\d+))>.*?</PLUGIN_\d+>`)

// RewritePluginBlocks replaces every embedded plugin block with the short
// placeholder the worker prompt uses: <please execute query plugin_N>.
func RewritePluginBlocks(content string) string {
	return pluginBlock.ReplaceAllStringFunc(content, func(block string) string {
		m := pluginBlock.FindStringSubmatch(block)
		return fmt.Sprintf("<please execute query plugin_%s>", m[2])
	})
}

// LoadDocument reads a TSG file and rewrites its plugin blocks, producing
// the content placed in memory under tsg_content.
func LoadDocument(path string) (string, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read TSG document: %w", err)
	}
	return RewritePluginBlocks(string(raw)), nil
}
