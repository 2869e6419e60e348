// Package plugin implements the deferred SQL plugin adapter: a plugin
// compiles a named-parameter map against a stored SQL template and parks the
// resulting query as a snippet for the SQL tool to execute.
package plugin

import (
	"context"
	"fmt"
	"regexp"
	"strings"
)

// ToolPrefix is the action-name prefix the worker loop watches for to run
// the deferred SQL dispatch.
const ToolPrefix = "plugin_"

// SnippetStoredPrefix opens every successful plugin observation. Callers
// must check for it before treating the remainder as a snippet id: parameter
// errors come back through the same string channel.
const SnippetStoredPrefix = "SQL query snippet stored with ID: "

// SnippetIDFromObservation extracts the snippet id from a successful plugin
// observation.
func SnippetIDFromObservation(observation string) (string, bool) {
	idx := strings.Index(observation, SnippetStoredPrefix)
	if idx < 0 {
		return "", false
	}
	rest := observation[idx+len(SnippetStoredPrefix):]
	if nl := strings.IndexByte(rest, '\n'); nl >= 0 {
		rest = rest[:nl]
	}
	id := strings.TrimSpace(rest)
	if id == "" {
		return "", false
	}
	return id, true
}

// SnippetStore is the storage dependency of a plugin tool, satisfied by the
// memory service.
type SnippetStore interface {
	StoreSnippet(code, pluginID, tsgName string, parameters map[string]string, description string) string
}

// Definition is a declarative plugin: an id, a parameter list, and a SQL
// template with {param} substitution markers.
type Definition struct {
	PluginID    string   `yaml:"plugin_id"`
	Description string   `yaml:"description"`
	Language    string   `yaml:"language"`
	Params      []string `yaml:"params"`
	Template    string   `yaml:"template"`
}

// Tool is the invocable form of one plugin definition bound to a session's
// snippet store.
type Tool struct {
	def     Definition
	tsgName string
	store   SnippetStore
}

// NewTool binds a definition to a snippet store for the given TSG.
func NewTool(def Definition, tsgName string, store SnippetStore) *Tool {
	return &Tool{def: def, tsgName: tsgName, store: store}
}

// Name returns the action name, e.g. "plugin_1_tool".
func (t *Tool) Name() string {
	return t.def.PluginID + "_tool"
}

// Description returns the prompt text for the tool listing.
func (t *Tool) Description() string {
	return fmt.Sprintf("%s Required parameters: %s.", t.def.Description, strings.Join(t.def.Params, ", "))
}

// Execute validates the parameters, normalizes timestamps, substitutes them
// into the template, and stores the resulting SQL as a snippet. Errors are
// returned as observation strings.
func (t *Tool) Execute(_ context.Context, params map[string]any) string {
	values := make(map[string]string, len(t.def.Params))
	for _, name := range t.def.Params {
		raw, ok := params[name]
		if !ok || raw == nil || fmt.Sprintf("%v", raw) == "" {
			return fmt.Sprintf("Missing required parameter: %s. You should provide all the params: %s",
				name, strings.Join(t.def.Params, ", "))
		}
		values[name] = normalizeTimestamp(fmt.Sprintf("%v", raw))
	}

	query := t.def.Template
	for name, value := range values {
		query = strings.ReplaceAll(query, "{"+name+"}", value)
	}

	id := t.store.StoreSnippet(query, t.def.PluginID, t.tsgName, values,
		fmt.Sprintf("SQL generated by %s", t.def.PluginID))
	return SnippetStoredPrefix + id
}

var isoTimestamp = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}T\d{2}:\d{2}:\d{2}(\.\d+)?Z?$`)

// normalizeTimestamp converts T/Z delimited ISO timestamps to the
// space-delimited form the telemetry schema stores.
func normalizeTimestamp(value string) string {
	if !isoTimestamp.MatchString(value) {
		return value
	}
	out := strings.Replace(value, "T", " ", 1)
	return strings.TrimSuffix(out, "Z")
}
