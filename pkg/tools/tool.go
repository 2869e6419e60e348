// Package tools implements the worker's action surface: a flat registry of
// named capabilities plus the standard tool set. Tools communicate failures
// through their observation string; the registry never raises into the
// worker loop.
package tools

import (
	"context"
	"fmt"
	"strings"
)

// Tool is one named capability available to a worker.
type Tool interface {
	Name() string
	Description() string
	Execute(ctx context.Context, params map[string]any) string
}

// Registry is a flat, per-worker tool table.
type Registry struct {
	order  []string
	byName map[string]Tool
}

// NewRegistry builds a registry from the given tools. Later registrations
// with the same name replace earlier ones.
func NewRegistry(tools ...Tool) *Registry {
	r := &Registry{byName: make(map[string]Tool)}
	for _, t := range tools {
		r.Register(t)
	}
	return r
}

// Register adds a tool.
func (r *Registry) Register(t Tool) {
	name := t.Name()
	if _, exists := r.byName[name]; !exists {
		r.order = append(r.order, name)
	}
	r.byName[name] = t
}

// FilterForRole returns a registry restricted to the allowed tool names.
// A nil allow list keeps everything.
func (r *Registry) FilterForRole(allowed []string) *Registry {
	if allowed == nil {
		return r
	}
	permit := make(map[string]bool, len(allowed))
	for _, name := range allowed {
		permit[name] = true
	}
	out := &Registry{byName: make(map[string]Tool)}
	for _, name := range r.order {
		if permit[name] {
			out.Register(r.byName[name])
		}
	}
	return out
}

// Names returns the registered tool names in registration order.
func (r *Registry) Names() []string {
	return append([]string(nil), r.order...)
}

// Execute dispatches an action by exact name, falling back to an unambiguous
// case-insensitive match. Unknown actions come back as a descriptive
// observation listing the available tools.
func (r *Registry) Execute(ctx context.Context, action string, params map[string]any) string {
	tool, ok := r.byName[action]
	if !ok {
		tool, ok = r.caseInsensitive(action)
	}
	if !ok {
		return fmt.Sprintf("Unknown action: %s. Available tools: %s", action, strings.Join(r.Names(), ", "))
	}
	if params == nil {
		params = map[string]any{}
	}
	return tool.Execute(ctx, params)
}

func (r *Registry) caseInsensitive(action string) (Tool, bool) {
	var matches []Tool
	for name, tool := range r.byName {
		if strings.EqualFold(name, action) {
			matches = append(matches, tool)
		}
	}
	if len(matches) != 1 {
		return nil, false
	}
	return matches[0], true
}

// PromptBlock renders the tool listing for the LLM system prompt.
func (r *Registry) PromptBlock() string {
	var b strings.Builder
	for _, name := range r.order {
		fmt.Fprintf(&b, "- %s: %s\n", name, r.byName[name].Description())
	}
	return strings.TrimRight(b.String(), "\n")
}
