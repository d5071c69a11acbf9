package llm

import (
	"context"
	"sync"
)

// Mock is a scripted Client for tests. Each call pops the next scripted
// response; when the script is exhausted the last response repeats.
type Mock struct {
	mu        sync.Mutex
	responses []CompletionResponse
	calls     []CompletionRequest
	err       error
}

// NewMock returns a mock that replays the given responses in order.
func NewMock(responses ...CompletionResponse) *Mock {
	return &Mock{responses: responses}
}

// Reply is a convenience constructor for a plain assistant reply.
func Reply(content string) CompletionResponse {
	return CompletionResponse{Message: Message{Role: RoleAssistant, Content: content}, Model: "mock"}
}

// ToolCallReply is a convenience constructor for an assistant turn that
// requests one tool call.
func ToolCallReply(id, name string, args map[string]any) CompletionResponse {
	return CompletionResponse{
		Message: Message{
			Role:      RoleAssistant,
			ToolCalls: []ToolCall{{ID: id, Name: name, Args: args}},
		},
		Model: "mock",
	}
}

// Fail makes every subsequent call return err.
func (m *Mock) Fail(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

// Calls returns a copy of every request seen so far.
func (m *Mock) Calls() []CompletionRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]CompletionRequest, len(m.calls))
	copy(out, m.calls)
	return out
}

func (m *Mock) next(req CompletionRequest) (*CompletionResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, req)
	if m.err != nil {
		return nil, m.err
	}
	if len(m.responses) == 0 {
		resp := Reply("(mock)")
		return &resp, nil
	}
	resp := m.responses[0]
	if len(m.responses) > 1 {
		m.responses = m.responses[1:]
	}
	return &resp, nil
}

func (m *Mock) Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return m.next(req)
}

func (m *Mock) CompleteStream(ctx context.Context, req CompletionRequest, cb StreamCallbacks) (*CompletionResponse, error) {
	resp, err := m.Complete(ctx, req)
	if err != nil {
		return nil, err
	}
	if cb.OnContentDelta != nil && resp.Message.Content != "" {
		// Split the scripted reply in two so streaming consumers see more
		// than one delta.
		content := resp.Message.Content
		half := len(content) / 2
		if half == 0 {
			cb.OnContentDelta(content)
		} else {
			cb.OnContentDelta(content[:half])
			cb.OnContentDelta(content[half:])
		}
	}
	return resp, nil
}
