package tools

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"
)

// Prompter is the human side-channel. Ask blocks until the user answers.
type Prompter interface {
	Info(message string)
	Ask(ctx context.Context, message string, options []string) (string, error)
}

// UserInteraction surfaces messages and questions to the human operator.
// Questions carry a timeout after which the empty string is delivered and
// the worker decides how to proceed.
type UserInteraction struct {
	prompter Prompter
	timeout  time.Duration
}

// NewUserInteraction builds the tool. A non-positive timeout falls back to
// five minutes.
func NewUserInteraction(p Prompter, timeout time.Duration) *UserInteraction {
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	return &UserInteraction{prompter: p, timeout: timeout}
}

func (u *UserInteraction) Name() string { return "user_interaction" }

func (u *UserInteraction) Description() string {
	return "Communicate with the human operator. Parameters: message (string), " +
		"type (one of info, question, options), options (list of strings, only for type options). " +
		"type info returns immediately; question and options wait for a response."
}

func (u *UserInteraction) Execute(ctx context.Context, params map[string]any) string {
	message, _ := params["message"].(string)
	if message == "" {
		return "Error: message parameter is required."
	}
	kind, _ := params["type"].(string)
	if kind == "" {
		kind = "info"
	}

	switch kind {
	case "info":
		u.prompter.Info(message)
		return "Message delivered to the user."
	case "question", "options":
		var options []string
		if kind == "options" {
			options = stringSlice(params["options"])
			if len(options) == 0 {
				return "Error: options parameter is required for type options."
			}
		}
		ctx, cancel := context.WithTimeout(ctx, u.timeout)
		defer cancel()
		answer, err := u.prompter.Ask(ctx, message, options)
		if err != nil {
			slog.Warn("user prompt expired, delivering empty response", "error", err)
			return "User response: "
		}
		return "User response: " + answer
	default:
		return fmt.Sprintf("Error: unknown interaction type %q. Use info, question, or options.", kind)
	}
}

func stringSlice(v any) []string {
	switch vals := v.(type) {
	case []string:
		return vals
	case []any:
		out := make([]string, 0, len(vals))
		for _, item := range vals {
			out = append(out, fmt.Sprintf("%v", item))
		}
		return out
	default:
		return nil
	}
}

// TerminalPrompter reads answers from an input stream, normally stdin.
type TerminalPrompter struct {
	out   io.Writer
	lines chan string
}

// NewTerminalPrompter starts a reader goroutine over in. The goroutine lives
// for the process; per-question timeouts abandon a pending line, which is
// then consumed by the next question.
func NewTerminalPrompter(in io.Reader, out io.Writer) *TerminalPrompter {
	p := &TerminalPrompter{out: out, lines: make(chan string)}
	go func() {
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			p.lines <- strings.TrimSpace(scanner.Text())
		}
		close(p.lines)
	}()
	return p
}

func (p *TerminalPrompter) Info(message string) {
	fmt.Fprintf(p.out, "\n[info] %s\n", message)
}

func (p *TerminalPrompter) Ask(ctx context.Context, message string, options []string) (string, error) {
	fmt.Fprintf(p.out, "\n[question] %s\n", message)
	for i, opt := range options {
		fmt.Fprintf(p.out, "  %d) %s\n", i+1, opt)
	}
	fmt.Fprint(p.out, "> ")
	select {
	case line, ok := <-p.lines:
		if !ok {
			return "", io.EOF
		}
		return line, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}
