package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"

	openai "github.com/sashabaranov/go-openai"
)

// EmbedFunc produces the embedding vector for one text. It is assignable to
// chromem's EmbeddingFunc, so consumers stay decoupled from this package's
// HTTP client.
type EmbedFunc func(ctx context.Context, text string) ([]float32, error)

// NewEmbedFunc builds an embedding function against an OpenAI-compatible
// endpoint. Returns nil when no API key is configured, which consumers treat
// as "semantic search unavailable".
func NewEmbedFunc(apiKey, apiBase, model string) EmbedFunc {
	if apiKey == "" || model == "" {
		return nil
	}
	cfg := openai.DefaultConfig(apiKey)
	if apiBase != "" {
		cfg.BaseURL = strings.TrimSuffix(apiBase, "/")
	}
	client := openai.NewClientWithConfig(cfg)
	return func(ctx context.Context, text string) ([]float32, error) {
		resp, err := client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
			Input: []string{text},
			Model: openai.EmbeddingModel(model),
		})
		if err != nil {
			return nil, fmt.Errorf("create embedding: %w", err)
		}
		if len(resp.Data) == 0 {
			return nil, errors.New("create embedding: empty response")
		}
		return resp.Data[0].Embedding, nil
	}
}
