package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"aide/internal/shared/logging"
)

// OpenAIClient talks to any OpenAI-compatible chat-completions endpoint.
type OpenAIClient struct {
	api         *openai.Client
	model       string
	temperature float64
	maxTokens   int
	timeout     time.Duration
	logger      logging.Logger
}

// OpenAIOptions configures an OpenAIClient.
type OpenAIOptions struct {
	APIKey      string
	APIBase     string
	Model       string
	Temperature float64
	MaxTokens   int
	Timeout     time.Duration
	Logger      logging.Logger
}

// NewOpenAIClient builds a client against the configured endpoint.
func NewOpenAIClient(opts OpenAIOptions) *OpenAIClient {
	cfg := openai.DefaultConfig(opts.APIKey)
	if opts.APIBase != "" {
		cfg.BaseURL = strings.TrimSuffix(opts.APIBase, "/")
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	return &OpenAIClient{
		api:         openai.NewClientWithConfig(cfg),
		model:       opts.Model,
		temperature: opts.Temperature,
		maxTokens:   opts.MaxTokens,
		timeout:     timeout,
		logger:      logging.OrNop(opts.Logger),
	}
}

// Model returns the default model name used when a request does not name one.
func (c *OpenAIClient) Model() string {
	return c.model
}

// Complete performs a blocking chat completion.
func (c *OpenAIClient) Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	resp, err := c.api.CreateChatCompletion(ctx, c.toOpenAIRequest(req, false))
	if err != nil {
		return nil, fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, errors.New("chat completion: empty choices")
	}
	msg, err := fromOpenAIMessage(resp.Choices[0].Message)
	if err != nil {
		return nil, err
	}
	return &CompletionResponse{
		Message: msg,
		Usage: &Usage{
			InputTokens:  resp.Usage.PromptTokens,
			OutputTokens: resp.Usage.CompletionTokens,
			TotalTokens:  resp.Usage.TotalTokens,
		},
		Model: resp.Model,
	}, nil
}

// CompleteStream performs a streaming chat completion. Tool-call deltas are
// accumulated by index; content deltas are forwarded to cb as they arrive.
func (c *OpenAIClient) CompleteStream(ctx context.Context, req CompletionRequest, cb StreamCallbacks) (*CompletionResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	stream, err := c.api.CreateChatCompletionStream(ctx, c.toOpenAIRequest(req, true))
	if err != nil {
		return nil, fmt.Errorf("chat completion stream: %w", err)
	}
	defer stream.Close()

	var content strings.Builder
	var usage *Usage
	model := req.Model
	if model == "" {
		model = c.model
	}
	type partialCall struct {
		id   string
		name string
		args strings.Builder
	}
	partials := map[int]*partialCall{}
	maxIndex := -1

	for {
		chunk, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("stream recv: %w", err)
		}
		if chunk.Usage != nil {
			usage = &Usage{
				InputTokens:  chunk.Usage.PromptTokens,
				OutputTokens: chunk.Usage.CompletionTokens,
				TotalTokens:  chunk.Usage.TotalTokens,
			}
		}
		if chunk.Model != "" {
			model = chunk.Model
		}
		if len(chunk.Choices) == 0 {
			continue
		}
		delta := chunk.Choices[0].Delta
		if delta.Content != "" {
			content.WriteString(delta.Content)
			if cb.OnContentDelta != nil {
				cb.OnContentDelta(delta.Content)
			}
		}
		for _, tc := range delta.ToolCalls {
			idx := 0
			if tc.Index != nil {
				idx = *tc.Index
			}
			part, ok := partials[idx]
			if !ok {
				part = &partialCall{}
				partials[idx] = part
			}
			if idx > maxIndex {
				maxIndex = idx
			}
			if tc.ID != "" {
				part.id = tc.ID
			}
			if tc.Function.Name != "" {
				part.name = tc.Function.Name
			}
			part.args.WriteString(tc.Function.Arguments)
		}
	}

	msg := Message{Role: RoleAssistant, Content: content.String()}
	for idx := 0; idx <= maxIndex; idx++ {
		part, ok := partials[idx]
		if !ok || part.name == "" {
			continue
		}
		args, err := ParseToolArgs(part.args.String())
		if err != nil {
			c.logger.Warn("unparseable tool args for %s: %v", part.name, err)
			args = map[string]any{}
		}
		id := part.id
		if id == "" {
			id = fmt.Sprintf("call_%d", idx)
		}
		msg.ToolCalls = append(msg.ToolCalls, ToolCall{ID: id, Name: part.name, Args: args})
	}

	return &CompletionResponse{Message: msg, Usage: usage, Model: model}, nil
}

func (c *OpenAIClient) toOpenAIRequest(req CompletionRequest, stream bool) openai.ChatCompletionRequest {
	model := req.Model
	if model == "" {
		model = c.model
	}
	temperature := req.Temperature
	if temperature == 0 {
		temperature = c.temperature
	}
	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = c.maxTokens
	}

	out := openai.ChatCompletionRequest{
		Model:       model,
		Temperature: float32(temperature),
		MaxTokens:   maxTokens,
	}
	if stream {
		out.Stream = true
		out.StreamOptions = &openai.StreamOptions{IncludeUsage: true}
	}
	for _, m := range req.Messages {
		out.Messages = append(out.Messages, toOpenAIMessage(m))
	}
	for _, t := range req.Tools {
		params, _ := json.Marshal(t.Parameters)
		out.Tools = append(out.Tools, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  json.RawMessage(params),
			},
		})
	}
	return out
}

func toOpenAIMessage(m Message) openai.ChatCompletionMessage {
	out := openai.ChatCompletionMessage{
		Role:       m.Role,
		Content:    m.Content,
		ToolCallID: m.ToolCallID,
	}
	for _, tc := range m.ToolCalls {
		args, _ := json.Marshal(tc.Args)
		out.ToolCalls = append(out.ToolCalls, openai.ToolCall{
			ID:   tc.ID,
			Type: openai.ToolTypeFunction,
			Function: openai.FunctionCall{
				Name:      tc.Name,
				Arguments: string(args),
			},
		})
	}
	return out
}

func fromOpenAIMessage(m openai.ChatCompletionMessage) (Message, error) {
	out := Message{Role: m.Role, Content: m.Content}
	for _, tc := range m.ToolCalls {
		args, err := ParseToolArgs(tc.Function.Arguments)
		if err != nil {
			return Message{}, fmt.Errorf("tool call %s: %w", tc.Function.Name, err)
		}
		out.ToolCalls = append(out.ToolCalls, ToolCall{ID: tc.ID, Name: tc.Function.Name, Args: args})
	}
	return out, nil
}
