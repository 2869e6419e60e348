// Package config loads the engine configuration: YAML over built-in
// defaults, with environment expansion and a validation pass.
package config

import (
	"fmt"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration is a time.Duration that decodes from YAML strings like "180s".
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// Std returns the standard-library form.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// SchedulerConfig bounds the monitor loop.
type SchedulerConfig struct {
	CheckInterval   Duration `yaml:"check_interval"`
	ExecutorTimeout Duration `yaml:"executor_timeout"`
	MaxExecutors    int      `yaml:"max_executors"`
}

// ExecutorConfig bounds the per-node worker loop.
type ExecutorConfig struct {
	MaxIterations   int `yaml:"max_iterations"`
	ParseRetryLimit int `yaml:"parse_retry_limit"`
}

// CodeInterpreterConfig bounds the code generation loop.
type CodeInterpreterConfig struct {
	MaxAttempts    int      `yaml:"max_attempts"`
	Command        string   `yaml:"command"`
	AllowedModules []string `yaml:"allowed_modules"`
}

// ToolsConfig configures the worker tool surface.
type ToolsConfig struct {
	EnablePlugins     bool                  `yaml:"enable_plugins"`
	PluginDir         string                `yaml:"plugin_dir"`
	DefaultDatabase   string                `yaml:"default_database"`
	UserPromptTimeout Duration              `yaml:"user_prompt_timeout"`
	CodeInterpreter   CodeInterpreterConfig `yaml:"code_interpreter"`
}

// RoleConfig lists the tools a role may use.
type RoleConfig struct {
	AllowedTools []string `yaml:"allowed_tools"`
}

// LLMConfig configures the chat transport.
type LLMConfig struct {
	Model       string  `yaml:"model"`
	Temperature float32 `yaml:"temperature"`
	MaxTokens   int     `yaml:"max_tokens"`
	APIKeyEnv   string  `yaml:"api_key_env"`
	BaseURL     string  `yaml:"base_url"`
}

// Config is the engine configuration.
type Config struct {
	Scheduler SchedulerConfig       `yaml:"scheduler"`
	Executor  ExecutorConfig        `yaml:"executor"`
	Tools     ToolsConfig           `yaml:"tools"`
	Roles     map[string]RoleConfig `yaml:"roles"`
	LLM       LLMConfig             `yaml:"llm"`
	TraceDir  string                `yaml:"trace_dir"`
}

// Defaults returns the built-in configuration a user file is merged over.
func Defaults() Config {
	return Config{
		Scheduler: SchedulerConfig{
			CheckInterval:   Duration(time.Second),
			ExecutorTimeout: Duration(180 * time.Second),
			MaxExecutors:    3,
		},
		Executor: ExecutorConfig{
			MaxIterations:   10,
			ParseRetryLimit: 3,
		},
		Tools: ToolsConfig{
			EnablePlugins:     true,
			PluginDir:         "./plugins",
			DefaultDatabase:   "./demo_data/distributed_system.db",
			UserPromptTimeout: Duration(300 * time.Second),
			CodeInterpreter: CodeInterpreterConfig{
				MaxAttempts: 3,
				Command:     "python3",
				AllowedModules: []string{
					"pandas", "numpy", "scipy", "datetime", "re", "json",
					"math", "statistics", "collections", "itertools",
				},
			},
		},
		Roles: map[string]RoleConfig{
			"executor": {AllowedTools: []string{
				"user_interaction", "memory_tool", "sql_query_tool",
				"code_interpreter", "log_reasoning_tool", "finish_step",
			}},
		},
		LLM: LLMConfig{
			Model:       "gpt-4o",
			Temperature: 0.2,
			MaxTokens:   4096,
			APIKeyEnv:   "OPENAI_API_KEY",
		},
		TraceDir: "./trace",
	}
}

// Validate rejects configurations the engine cannot run with.
func (c *Config) Validate() error {
	if c.Scheduler.CheckInterval <= 0 {
		return fmt.Errorf("scheduler.check_interval must be positive, got %s", c.Scheduler.CheckInterval.Std())
	}
	if c.Scheduler.ExecutorTimeout <= 0 {
		return fmt.Errorf("scheduler.executor_timeout must be positive, got %s", c.Scheduler.ExecutorTimeout.Std())
	}
	if c.Scheduler.MaxExecutors < 1 {
		return fmt.Errorf("scheduler.max_executors must be at least 1, got %d", c.Scheduler.MaxExecutors)
	}
	if c.Executor.MaxIterations < 1 {
		return fmt.Errorf("executor.max_iterations must be at least 1, got %d", c.Executor.MaxIterations)
	}
	if c.Executor.ParseRetryLimit < 1 {
		return fmt.Errorf("executor.parse_retry_limit must be at least 1, got %d", c.Executor.ParseRetryLimit)
	}
	if c.LLM.Model == "" {
		return fmt.Errorf("llm.model is required")
	}
	return nil
}
