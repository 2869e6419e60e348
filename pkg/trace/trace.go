// Package trace persists per-agent conversation traces and cumulative token
// accounting under a per-session directory. Files are rewritten on every
// update so a crashed run still leaves usable traces behind.
package trace

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// message is one persisted conversation turn.
type message struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

type agentTrace struct {
	AgentType string    `json:"agent_type"`
	AgentID   string    `json:"agent_id"`
	Status    string    `json:"status"`
	Messages  []message `json:"messages"`
}

type usageEntry struct {
	AgentType        string `json:"agent_type"`
	PromptTokens     int    `json:"prompt_tokens"`
	CompletionTokens int    `json:"completion_tokens"`
	TotalTokens      int    `json:"total_tokens"`
}

// Logger writes traces for one session.
type Logger struct {
	dir string

	mu     sync.Mutex
	agents map[string]*agentTrace
	usage  map[string]*usageEntry
}

// NewLogger creates the session trace directory under baseDir.
func NewLogger(baseDir, sessionID string) (*Logger, error) {
	dir := filepath.Join(baseDir, sessionID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create trace dir: %w", err)
	}
	return &Logger{
		dir:    dir,
		agents: make(map[string]*agentTrace),
		usage:  make(map[string]*usageEntry),
	}, nil
}

// Dir returns the session trace directory.
func (l *Logger) Dir() string { return l.dir }

// LogMessage appends a conversation turn to the agent's trace file.
func (l *Logger) LogMessage(agentType, agentID, role, content string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	at := l.agent(agentType, agentID)
	at.Messages = append(at.Messages, message{Role: role, Content: content, Timestamp: time.Now()})
	l.flushAgent(at)
}

// SetStatus records the agent's execution state (running, finished, failed).
func (l *Logger) SetStatus(agentType, agentID, status string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	at := l.agent(agentType, agentID)
	at.Status = status
	l.flushAgent(at)
}

// LogUsage accumulates token counts for the agent and rewrites the session
// usage file, totals included.
func (l *Logger) LogUsage(agentType, agentID string, promptTokens, completionTokens int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	entry, ok := l.usage[agentID]
	if !ok {
		entry = &usageEntry{AgentType: agentType}
		l.usage[agentID] = entry
	}
	entry.PromptTokens += promptTokens
	entry.CompletionTokens += completionTokens
	entry.TotalTokens += promptTokens + completionTokens
	l.flushUsage()
}

// WriteTimeoutFlag drops the per-executor timeout marker file and returns
// its path.
func (l *Logger) WriteTimeoutFlag(executorID string) (string, error) {
	path := filepath.Join(l.dir, executorID+"_timeout.flag")
	content := fmt.Sprintf("executor %s timed out at %s\n", executorID, time.Now().UTC().Format(time.RFC3339))
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return "", fmt.Errorf("write timeout flag: %w", err)
	}
	return path, nil
}

func (l *Logger) agent(agentType, agentID string) *agentTrace {
	at, ok := l.agents[agentID]
	if !ok {
		at = &agentTrace{AgentType: agentType, AgentID: agentID, Status: "running"}
		l.agents[agentID] = at
	}
	return at
}

func (l *Logger) flushAgent(at *agentTrace) {
	dir := filepath.Join(l.dir, at.AgentType)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		slog.Warn("trace dir create failed", "error", err)
		return
	}
	raw, err := json.MarshalIndent(at, "", "  ")
	if err != nil {
		slog.Warn("trace encode failed", "agent_id", at.AgentID, "error", err)
		return
	}
	if err := os.WriteFile(filepath.Join(dir, at.AgentID+".json"), raw, 0o644); err != nil {
		slog.Warn("trace write failed", "agent_id", at.AgentID, "error", err)
	}
}

func (l *Logger) flushUsage() {
	totals := usageEntry{AgentType: "session_total"}
	perAgent := make(map[string]*usageEntry, len(l.usage))
	for id, entry := range l.usage {
		perAgent[id] = entry
		totals.PromptTokens += entry.PromptTokens
		totals.CompletionTokens += entry.CompletionTokens
		totals.TotalTokens += entry.TotalTokens
	}
	payload := map[string]any{
		"agents": perAgent,
		"total":  totals,
	}
	raw, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		slog.Warn("usage encode failed", "error", err)
		return
	}
	if err := os.WriteFile(filepath.Join(l.dir, "token_time_usage.json"), raw, 0o644); err != nil {
		slog.Warn("usage write failed", "error", err)
	}
}
