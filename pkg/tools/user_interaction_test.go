package tools

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type scriptedPrompter struct {
	answer string
	delay  time.Duration
	infos  []string
}

func (p *scriptedPrompter) Info(message string) {
	p.infos = append(p.infos, message)
}

func (p *scriptedPrompter) Ask(ctx context.Context, message string, options []string) (string, error) {
	if p.delay > 0 {
		select {
		case <-time.After(p.delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	return p.answer, nil
}

func TestUserInteraction(t *testing.T) {
	t.Run("info returns immediately", func(t *testing.T) {
		prompter := &scriptedPrompter{}
		tool := NewUserInteraction(prompter, time.Second)
		out := tool.Execute(context.Background(), map[string]any{"message": "restarting check", "type": "info"})
		assert.Equal(t, "Message delivered to the user.", out)
		assert.Equal(t, []string{"restarting check"}, prompter.infos)
	})

	t.Run("question returns the answer", func(t *testing.T) {
		tool := NewUserInteraction(&scriptedPrompter{answer: "yes"}, time.Second)
		out := tool.Execute(context.Background(), map[string]any{"message": "proceed?", "type": "question"})
		assert.Equal(t, "User response: yes", out)
	})

	t.Run("timeout delivers the empty string", func(t *testing.T) {
		tool := NewUserInteraction(&scriptedPrompter{answer: "late", delay: time.Second}, 20*time.Millisecond)
		out := tool.Execute(context.Background(), map[string]any{"message": "proceed?", "type": "question"})
		assert.Equal(t, "User response: ", out)
	})

	t.Run("options require an options list", func(t *testing.T) {
		tool := NewUserInteraction(&scriptedPrompter{}, time.Second)
		out := tool.Execute(context.Background(), map[string]any{"message": "pick one", "type": "options"})
		assert.Contains(t, out, "options parameter is required")
	})

	t.Run("missing message rejected", func(t *testing.T) {
		tool := NewUserInteraction(&scriptedPrompter{}, time.Second)
		out := tool.Execute(context.Background(), map[string]any{"type": "info"})
		assert.Contains(t, out, "message parameter is required")
	})
}

func TestTerminalPrompter(t *testing.T) {
	var out strings.Builder
	prompter := NewTerminalPrompter(strings.NewReader("first answer\n"), &out)

	answer, err := prompter.Ask(context.Background(), "what happened?", nil)
	assert.NoError(t, err)
	assert.Equal(t, "first answer", answer)
	assert.Contains(t, out.String(), "what happened?")

	t.Run("eof surfaces as error", func(t *testing.T) {
		_, err := prompter.Ask(context.Background(), "anything else?", nil)
		assert.Error(t, err)
	})
}
