package graph

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"aide/internal/events"
	"aide/internal/llm"
	"aide/internal/shared/logging"
	"aide/internal/shared/token"
	"aide/internal/tools"
)

const (
	llmInputLimit      = 5000
	defaultLLMTimeout  = 120 * time.Second
	defaultToolTimeout = 60 * time.Second
)

// reactLoop drives one reason-act cycle: call the model, execute any tool
// calls it requests, feed the results back, and repeat until it answers in
// plain text or the iteration budget runs out. Returns the final assistant
// content; all intermediate messages are appended to the slice in place.
type reactLoop struct {
	client      llm.Client
	tools       []tools.Tool
	nodeName    string
	maxIters    int
	llmTimeout  time.Duration
	toolTimeout time.Duration
	stream      bool
	logger      logging.Logger
}

func (r *reactLoop) toolByName(name string) (tools.Tool, bool) {
	for _, t := range r.tools {
		if t.Name() == name {
			return t, true
		}
	}
	return nil, false
}

func (r *reactLoop) run(ctx context.Context, messages []llm.Message) ([]llm.Message, string, error) {
	if r.maxIters <= 0 {
		r.maxIters = 50
	}
	llmTimeout := r.llmTimeout
	if llmTimeout <= 0 {
		llmTimeout = defaultLLMTimeout
	}
	toolTimeout := r.toolTimeout
	if toolTimeout <= 0 {
		toolTimeout = defaultToolTimeout
	}
	schemas := tools.Schemas(r.tools)

	var final string
	for iter := 0; iter < r.maxIters; iter++ {
		req := llm.CompletionRequest{Messages: messages, Tools: schemas}
		callID := strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
		events.Emit(ctx, events.Event{
			Type:       events.TypeLLMStart,
			CallID:     callID,
			Node:       r.nodeName,
			Motivation: events.NodeMotivation(r.nodeName),
			Input:      formatLLMInput(req),
		})

		start := time.Now()
		resp, err := r.complete(ctx, req, llmTimeout)
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) {
				msg := fmt.Sprintf("[ERROR] LLM 请求超时 (%d s)，请稍后重试", int(llmTimeout.Seconds()))
				messages = append(messages, llm.Message{Role: llm.RoleAssistant, Content: msg})
				events.Emit(ctx, events.Event{Type: events.TypeLLMEnd, CallID: callID, Node: r.nodeName, Output: msg, DurationMs: time.Since(start).Milliseconds()})
				return messages, msg, nil
			}
			return messages, "", err
		}
		ev := events.Event{
			Type:       events.TypeLLMEnd,
			CallID:     callID,
			Node:       r.nodeName,
			Model:      resp.Model,
			Output:     resp.Message.Content,
			DurationMs: time.Since(start).Milliseconds(),
		}
		if resp.Usage != nil {
			ev.InputTokens = resp.Usage.InputTokens
			ev.OutputTokens = resp.Usage.OutputTokens
			ev.TotalTokens = resp.Usage.TotalTokens
		} else {
			for _, m := range req.Messages {
				ev.InputTokens += token.Estimate(m.Content)
			}
			ev.OutputTokens = token.Estimate(resp.Message.Content)
			ev.TotalTokens = ev.InputTokens + ev.OutputTokens
			ev.TokensEstimated = true
		}
		events.Emit(ctx, ev)

		messages = append(messages, resp.Message)
		if len(resp.Message.ToolCalls) == 0 {
			final = resp.Message.Content
			return messages, final, nil
		}

		for _, call := range resp.Message.ToolCalls {
			result := r.invokeTool(ctx, call, toolTimeout)
			messages = append(messages, llm.Message{
				Role:       llm.RoleTool,
				Content:    result,
				ToolCallID: call.ID,
			})
		}
	}
	r.logger.Warn("%s hit its iteration budget (%d)", r.nodeName, r.maxIters)
	return messages, final, nil
}

func (r *reactLoop) complete(ctx context.Context, req llm.CompletionRequest, timeout time.Duration) (*llm.CompletionResponse, error) {
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if !r.stream {
		return r.client.Complete(callCtx, req)
	}
	return r.client.CompleteStream(callCtx, req, llm.StreamCallbacks{
		OnContentDelta: func(delta string) {
			events.Emit(ctx, events.Token(delta))
		},
	})
}

func (r *reactLoop) invokeTool(ctx context.Context, call llm.ToolCall, timeout time.Duration) string {
	tool, ok := r.toolByName(call.Name)
	if !ok {
		return fmt.Sprintf("[ERROR] 未知工具: %s", call.Name)
	}
	events.Emit(ctx, events.Event{
		Type:       events.TypeToolStart,
		CallID:     call.ID,
		Tool:       call.Name,
		Node:       r.nodeName,
		Input:      formatToolInput(call.Args),
		Motivation: events.ToolMotivation(call.Name),
	})

	toolCtx, cancel := context.WithTimeout(ctx, timeout)
	start := time.Now()
	result, err := tool.Invoke(toolCtx, call.Args)
	cancel()

	switch {
	case toolCtx.Err() == context.DeadlineExceeded:
		result = fmt.Sprintf("[ERROR] 工具 %s 执行超时 (%d s)", call.Name, int(timeout.Seconds()))
	case err != nil:
		result = "[ERROR] " + err.Error()
	}
	events.Emit(ctx, events.Event{
		Type:       events.TypeToolEnd,
		CallID:     call.ID,
		Tool:       call.Name,
		Node:       r.nodeName,
		Output:     result,
		Cached:     strings.HasPrefix(result, events.CacheHitPrefix),
		DurationMs: time.Since(start).Milliseconds(),
	})
	return result
}

// formatLLMInput renders a request for debug surfaces, bounded in size.
func formatLLMInput(req llm.CompletionRequest) string {
	var b strings.Builder
	var rest []llm.Message
	if len(req.Messages) > 0 && req.Messages[0].Role == llm.RoleSystem {
		b.WriteString("[System Prompt]\n")
		b.WriteString(req.Messages[0].Content)
		b.WriteString("\n\n")
		rest = req.Messages[1:]
	} else {
		rest = req.Messages
	}
	b.WriteString("[Messages]\n")
	parts := make([]string, 0, len(rest))
	for _, m := range rest {
		parts = append(parts, fmt.Sprintf("[%s]\n%s", m.Role, m.Content))
	}
	b.WriteString(strings.Join(parts, "\n---\n"))
	out := b.String()
	runes := []rune(out)
	if len(runes) > llmInputLimit {
		return string(runes[:llmInputLimit])
	}
	return out
}

// clipRunes bounds s to limit runes, never splitting a code point.
func clipRunes(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit])
}

func formatToolInput(args map[string]any) string {
	if len(args) == 0 {
		return "{}"
	}
	return fmt.Sprintf("%v", args)
}
