// Package tools defines the Tool interface, the registry with its group
// resolution, the builtin tools, and the security/cache wrapper applied to
// every invocation.
package tools

import (
	"context"

	"aide/internal/llm"
)

// Tool is one callable capability exposed to the model.
type Tool interface {
	Name() string
	Description() string
	// Schema returns the JSON-schema parameters object.
	Schema() map[string]any
	Invoke(ctx context.Context, args map[string]any) (string, error)
}

// Schemas converts tools to the wire shape sent with LLM requests.
func Schemas(ts []Tool) []llm.ToolSchema {
	out := make([]llm.ToolSchema, 0, len(ts))
	for _, t := range ts {
		out = append(out, llm.ToolSchema{
			Name:        t.Name(),
			Description: t.Description(),
			Parameters:  t.Schema(),
		})
	}
	return out
}

// objectSchema builds a JSON-schema object with the given properties and
// required names.
func objectSchema(properties map[string]any, required ...string) map[string]any {
	schema := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

func stringArg(args map[string]any, key string) string {
	if v, ok := args[key].(string); ok {
		return v
	}
	return ""
}

func intArg(args map[string]any, key string, fallback int) int {
	switch v := args[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	}
	return fallback
}

func floatArg(args map[string]any, key string, fallback float64) float64 {
	switch v := args[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	}
	return fallback
}
