package agent

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrMalformedResponse reports an LLM turn that could not be decoded into
// the expected thought/action/parameters object.
var ErrMalformedResponse = errors.New("agent: malformed llm response")

// Response is the structured form every LLM turn must take.
type Response struct {
	Thought    string         `json:"thought"`
	Action     string         `json:"action"`
	Parameters map[string]any `json:"parameters"`
}

// ParseResponse decodes an LLM reply. One surrounding fenced code block is
// tolerated and stripped; anything else that fails to decode is a retry
// trigger for the caller, never partially recovered.
func ParseResponse(raw string) (*Response, error) {
	text := stripFence(strings.TrimSpace(raw))
	var resp Response
	if err := json.Unmarshal([]byte(text), &resp); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	if resp.Action == "" {
		return nil, fmt.Errorf("%w: missing action", ErrMalformedResponse)
	}
	if resp.Parameters == nil {
		resp.Parameters = map[string]any{}
	}
	return &resp, nil
}

// stripFence removes a single outer ``` or ```json fence.
func stripFence(s string) string {
	if !strings.HasPrefix(s, "```") {
		return s
	}
	body := strings.TrimPrefix(s, "```")
	if idx := strings.IndexByte(body, '\n'); idx >= 0 {
		head := strings.TrimSpace(body[:idx])
		if head == "" || strings.EqualFold(head, "json") {
			body = body[idx+1:]
		}
	}
	body = strings.TrimSpace(body)
	body = strings.TrimSuffix(body, "```")
	return strings.TrimSpace(body)
}
