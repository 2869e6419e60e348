package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os/exec"
	"regexp"
	"strings"

	"github.com/stepflow-io/stepflow/pkg/agent"
	"github.com/stepflow-io/stepflow/pkg/memory"
)

// Runner executes a generated script and returns its captured output.
type Runner interface {
	Run(ctx context.Context, script string) (stdout, stderr string, err error)
}

// SubprocessRunner runs scripts through an interpreter subprocess.
type SubprocessRunner struct {
	Command string
}

func (r SubprocessRunner) Run(ctx context.Context, script string) (string, string, error) {
	command := r.Command
	if command == "" {
		command = "python3"
	}
	cmd := exec.CommandContext(ctx, command, "-c", script)
	var out, errOut bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &errOut
	err := cmd.Run()
	return out.String(), errOut.String(), err
}

// CodeInterpreterConfig bounds the generation loop and the sandbox surface.
type CodeInterpreterConfig struct {
	MaxAttempts    int
	AllowedModules []string
}

// DefaultInterpreterConfig mirrors the analysis libraries the generated code
// may import. Visualization libraries are deliberately absent.
func DefaultInterpreterConfig() CodeInterpreterConfig {
	return CodeInterpreterConfig{
		MaxAttempts: 3,
		AllowedModules: []string{
			"pandas", "numpy", "scipy", "datetime", "re", "json",
			"math", "statistics", "collections", "itertools",
		},
	}
}

// CodeInterpreter turns a natural-language task plus input data into
// executed analysis code, driving a dedicated generator LLM and retrying on
// failures. The worker sees one success or failure string.
type CodeInterpreter struct {
	generator agent.LLMClient
	runner    Runner
	mem       *memory.Service
	cfg       CodeInterpreterConfig
}

func NewCodeInterpreter(generator agent.LLMClient, runner Runner, mem *memory.Service, cfg CodeInterpreterConfig) *CodeInterpreter {
	def := DefaultInterpreterConfig()
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = def.MaxAttempts
	}
	if len(cfg.AllowedModules) == 0 {
		cfg.AllowedModules = def.AllowedModules
	}
	return &CodeInterpreter{generator: generator, runner: runner, mem: mem, cfg: cfg}
}

func (c *CodeInterpreter) Name() string { return "code_interpreter" }

func (c *CodeInterpreter) Description() string {
	return "Analyze data by generating and running code. Parameters: task (what to compute), " +
		"input_type (memory_data to load stored records, direct_data to pass literal values), " +
		"input_data (for memory_data: map of data_id to description; for direct_data: map of variable name to value)."
}

func (c *CodeInterpreter) Execute(ctx context.Context, params map[string]any) string {
	task, _ := params["task"].(string)
	if task == "" {
		return "Error: task parameter is required."
	}
	inputType, _ := params["input_type"].(string)
	inputData, _ := params["input_data"].(map[string]any)

	prelude, varDocs, errMsg := c.buildPrelude(inputType, inputData)
	if errMsg != "" {
		return errMsg
	}

	messages := []agent.ConversationMessage{
		{Role: "system", Content: c.generatorPrompt(varDocs)},
		{Role: "user", Content: "Task: " + task},
	}

	var lastCode, lastError string
	for attempt := 1; attempt <= c.cfg.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return fmt.Sprintf("Error: code execution cancelled: %v", err)
		}
		result, err := c.generator.Chat(ctx, messages)
		if err != nil {
			lastError = fmt.Sprintf("code generation failed: %v", err)
			slog.Warn("code generator call failed", "attempt", attempt, "error", err)
			continue
		}
		messages = append(messages, agent.ConversationMessage{Role: "assistant", Content: result.Content})
		code := extractCodeBlock(result.Content)
		lastCode = code

		if denied := c.deniedImport(code); denied != "" {
			lastError = fmt.Sprintf("import of module %q is not allowed", denied)
		} else {
			stdout, stderr, runErr := c.runner.Run(ctx, prelude+code)
			if runErr == nil {
				return "Code executed successfully. Output:\n" + strings.TrimSpace(stdout)
			}
			lastError = strings.TrimSpace(stderr)
			if lastError == "" {
				lastError = runErr.Error()
			}
		}

		slog.Warn("generated code failed", "attempt", attempt, "error", lastError)
		messages = append(messages, agent.ConversationMessage{
			Role:    "user",
			Content: fmt.Sprintf("The previous code failed.\nCode:\n%s\nError:\n%s\nFix the code and return the corrected version.", lastCode, lastError),
		})
	}

	return fmt.Sprintf("Error: code execution failed after %d attempts.\nLast code:\n%s\nLast error:\n%s",
		c.cfg.MaxAttempts, lastCode, lastError)
}

// buildPrelude assembles the variable pre-loading block and its prompt
// documentation.
func (c *CodeInterpreter) buildPrelude(inputType string, inputData map[string]any) (prelude, varDocs, errMsg string) {
	if len(inputData) == 0 {
		return "", "(no input variables)", ""
	}
	var code, docs strings.Builder
	code.WriteString("import json\n")

	switch inputType {
	case "memory_data":
		for id, desc := range inputData {
			payload, err := c.memoryPayload(id)
			if err != nil {
				return "", "", fmt.Sprintf("Error: %v", err)
			}
			name := "data_" + strings.ReplaceAll(id, "-", "_")
			fmt.Fprintf(&code, "%s = json.loads(r'''%s''')\n", name, payload)
			fmt.Fprintf(&docs, "- %s: %v\n", name, desc)
		}
	case "direct_data":
		for name, value := range inputData {
			raw, err := json.Marshal(value)
			if err != nil {
				return "", "", fmt.Sprintf("Error: could not encode input %s: %v", name, err)
			}
			fmt.Fprintf(&code, "%s = json.loads(r'''%s''')\n", name, raw)
			fmt.Fprintf(&docs, "- %s: provided value\n", name)
		}
	default:
		return "", "", fmt.Sprintf("Error: unknown input_type %q. Use memory_data or direct_data.", inputType)
	}
	return code.String(), strings.TrimRight(docs.String(), "\n"), ""
}

// memoryPayload serializes a stored record for the script prelude. Tables
// become lists of column-keyed objects.
func (c *CodeInterpreter) memoryPayload(id string) (string, error) {
	if tbl, ok := c.mem.DataTable(id); ok {
		records := make([]map[string]any, 0, len(tbl.Rows))
		for _, row := range tbl.Rows {
			rec := make(map[string]any, len(tbl.Columns))
			for i, col := range tbl.Columns {
				if i < len(row) {
					rec[col] = row[i]
				}
			}
			records = append(records, rec)
		}
		raw, err := json.Marshal(records)
		return string(raw), err
	}
	var payload any
	found, err := c.mem.Data(id, &payload)
	if err != nil {
		return "", err
	}
	if !found {
		return "", fmt.Errorf("no data found with ID: %s", id)
	}
	raw, err := json.Marshal(payload)
	return string(raw), err
}

func (c *CodeInterpreter) generatorPrompt(varDocs string) string {
	return fmt.Sprintf(`You write Python code to analyze incident telemetry.
Return exactly one fenced code block with the complete script. Print the findings to stdout.
Only these modules may be imported: %s. Visualization libraries are not available.
Pre-loaded variables:
%s`, strings.Join(c.cfg.AllowedModules, ", "), varDocs)
}

var importPattern = regexp.MustCompile(`(?m)^\s*(?:import|from)\s+([A-Za-z_][A-Za-z0-9_]*)`)

// deniedImport returns the first imported module outside the allowlist.
func (c *CodeInterpreter) deniedImport(code string) string {
	allowed := make(map[string]bool, len(c.cfg.AllowedModules))
	for _, m := range c.cfg.AllowedModules {
		allowed[m] = true
	}
	allowed["json"] = true
	for _, match := range importPattern.FindAllStringSubmatch(code, -1) {
		if !allowed[match[1]] {
			return match[1]
		}
	}
	return ""
}

var codeBlockPattern = regexp.MustCompile("(?s)```(?:python)?\n(.*?)```")

// extractCodeBlock pulls the script out of a fenced block, falling back to
// the raw content.
func extractCodeBlock(content string) string {
	if m := codeBlockPattern.FindStringSubmatch(content); m != nil {
		return strings.TrimSpace(m[1])
	}
	return strings.TrimSpace(content)
}
