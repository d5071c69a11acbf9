// Package llm defines the model-facing port types and the OpenAI-compatible
// client used by every LLM call site in the engine.
package llm

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/kaptinlin/jsonrepair"
)

// Message roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// Message is one conversation turn. Messages carry an optional stable ID so
// the graph reducer can replace earlier copies in place.
type Message struct {
	ID         string     `json:"id,omitempty"`
	Role       string     `json:"role"`
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
}

// ToolCall is a model-requested tool invocation.
type ToolCall struct {
	ID   string         `json:"id"`
	Name string         `json:"name"`
	Args map[string]any `json:"args"`
}

// ToolSchema describes a tool to the model.
type ToolSchema struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

// CompletionRequest is one chat-completion call.
type CompletionRequest struct {
	Messages    []Message
	Tools       []ToolSchema
	Model       string
	Temperature float64
	MaxTokens   int
}

// Usage is provider-reported token accounting; nil when the provider did not
// return it.
type Usage struct {
	InputTokens  int
	OutputTokens int
	TotalTokens  int
}

// CompletionResponse is the final result of one call.
type CompletionResponse struct {
	Message Message
	Usage   *Usage
	Model   string
}

// StreamCallbacks receives incremental output during a streaming call.
type StreamCallbacks struct {
	// OnContentDelta is invoked once per non-empty content chunk.
	OnContentDelta func(delta string)
}

// Client is the minimal completion port the engine depends on.
type Client interface {
	// Complete performs a blocking chat completion.
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)
	// CompleteStream performs a streaming chat completion, invoking cb for
	// each delta and returning the assembled final response.
	CompleteStream(ctx context.Context, req CompletionRequest, cb StreamCallbacks) (*CompletionResponse, error)
}

// ParseToolArgs decodes model-emitted tool arguments. Models routinely emit
// slightly broken JSON, so a failed unmarshal goes through jsonrepair before
// giving up.
func ParseToolArgs(raw string) (map[string]any, error) {
	if raw == "" {
		return map[string]any{}, nil
	}
	var args map[string]any
	if err := json.Unmarshal([]byte(raw), &args); err == nil {
		return args, nil
	}
	repaired, err := jsonrepair.JSONRepair(raw)
	if err != nil {
		return nil, fmt.Errorf("repair tool args: %w", err)
	}
	if err := json.Unmarshal([]byte(repaired), &args); err != nil {
		return nil, fmt.Errorf("decode tool args: %w", err)
	}
	return args, nil
}

// ExtractJSON pulls a JSON document out of a model reply that may wrap it in
// a markdown code fence, repairing it when needed.
func ExtractJSON(text string) (string, error) {
	trimmed := stripCodeFence(text)
	if json.Valid([]byte(trimmed)) {
		return trimmed, nil
	}
	repaired, err := jsonrepair.JSONRepair(trimmed)
	if err != nil {
		return "", fmt.Errorf("repair json: %w", err)
	}
	return repaired, nil
}

func stripCodeFence(text string) string {
	s := text
	for len(s) > 0 && (s[0] == ' ' || s[0] == '\n' || s[0] == '\t' || s[0] == '\r') {
		s = s[1:]
	}
	if len(s) >= 3 && s[:3] == "```" {
		s = s[3:]
		// Drop the optional language tag line.
		for i := 0; i < len(s); i++ {
			if s[i] == '\n' {
				s = s[i+1:]
				break
			}
		}
		if idx := lastFence(s); idx >= 0 {
			s = s[:idx]
		}
	}
	for len(s) > 0 && (s[len(s)-1] == ' ' || s[len(s)-1] == '\n' || s[len(s)-1] == '\t' || s[len(s)-1] == '\r') {
		s = s[:len(s)-1]
	}
	return s
}

func lastFence(s string) int {
	for i := len(s) - 3; i >= 0; i-- {
		if s[i:i+3] == "```" {
			return i
		}
	}
	return -1
}
