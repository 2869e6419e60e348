package tools

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/stepflow-io/stepflow/pkg/agent"
	"github.com/stepflow-io/stepflow/pkg/memory"
	"github.com/stepflow-io/stepflow/pkg/plugin"
)

// Deps carries the external collaborators of the standard tool set.
type Deps struct {
	Mem       *memory.Service
	Prompter  Prompter
	Generator agent.LLMClient
	Runner    Runner
}

// Options configures registry construction for one worker.
type Options struct {
	DefaultDatabase string
	PromptTimeout   time.Duration
	Interpreter     CodeInterpreterConfig

	// AllowedTools is the role's permitted tool list; nil permits all.
	AllowedTools []string

	// EnablePlugins pre-loads plugin tools when the TSG carries a plugin
	// marker. PluginDir is the definitions root.
	EnablePlugins bool
	PluginDir     string
}

// BuildRegistry assembles the worker's tool registry: the standard tools
// filtered by role, plus the TSG's plugin tools when its content carries the
// plugin marker.
func BuildRegistry(agentID string, deps Deps, opts Options) (*Registry, error) {
	registry := NewRegistry(
		NewUserInteraction(deps.Prompter, opts.PromptTimeout),
		NewMemoryTool(deps.Mem),
		NewSQLQueryTool(deps.Mem, agentID, opts.DefaultDatabase),
		NewCodeInterpreter(deps.Generator, deps.Runner, deps.Mem, opts.Interpreter),
		LogReasoning{},
		FinishStep{},
	).FilterForRole(opts.AllowedTools)

	if opts.EnablePlugins {
		if err := registerPlugins(registry, deps.Mem, opts.PluginDir); err != nil {
			return nil, err
		}
	}
	return registry, nil
}

func registerPlugins(registry *Registry, mem *memory.Service, pluginDir string) error {
	var tsg string
	found, err := mem.GetByKey(memory.KeyTSGContent, &tsg)
	if err != nil {
		return fmt.Errorf("read TSG content: %w", err)
	}
	if !found {
		return nil
	}
	tsgName, ok := plugin.MarkerName(tsg)
	if !ok {
		return nil
	}
	defs, err := plugin.LoadDir(pluginDir, tsgName)
	if err != nil {
		return fmt.Errorf("load plugins for %s: %w", tsgName, err)
	}
	for _, def := range defs {
		registry.Register(plugin.NewTool(def, tsgName, mem))
	}
	if len(defs) > 0 {
		slog.Debug("plugin tools registered", "tsg", tsgName, "count", len(defs))
	}
	return nil
}
