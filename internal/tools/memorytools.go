package tools

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"aide/internal/memory"
)

// MemoryWriteTool stores a long-term memory, going through consolidation so
// near-duplicates merge instead of piling up.
type MemoryWriteTool struct {
	consolidator *memory.Consolidator
}

func NewMemoryWriteTool(consolidator *memory.Consolidator) *MemoryWriteTool {
	return &MemoryWriteTool{consolidator: consolidator}
}

func (t *MemoryWriteTool) Name() string { return "memory_write" }

func (t *MemoryWriteTool) Description() string {
	return "Save important information to long-term memory (user preferences, facts, lessons learned)."
}

func (t *MemoryWriteTool) Schema() map[string]any {
	return objectSchema(map[string]any{
		"content": map[string]any{
			"type":        "string",
			"description": "The information to remember",
		},
		"category": map[string]any{
			"type":        "string",
			"description": "One of: preferences, facts, tasks, reflections, procedural, general",
		},
		"salience": map[string]any{
			"type":        "number",
			"description": "Importance from 0.0 to 1.0 (default 0.5)",
		},
	}, "content")
}

func (t *MemoryWriteTool) Invoke(ctx context.Context, args map[string]any) (string, error) {
	content := strings.TrimSpace(stringArg(args, "content"))
	if content == "" {
		return "", errors.New("content is required")
	}
	category := stringArg(args, "category")
	salience := floatArg(args, "salience", 0.5)

	_, msg, err := t.consolidator.Write(ctx, content, category, salience, "tool")
	if err != nil {
		return "", fmt.Errorf("memory write: %w", err)
	}
	return msg, nil
}

// MemorySearchTool queries long-term memory explicitly.
type MemorySearchTool struct {
	searcher *memory.Searcher
}

func NewMemorySearchTool(searcher *memory.Searcher) *MemorySearchTool {
	return &MemorySearchTool{searcher: searcher}
}

func (t *MemorySearchTool) Name() string { return "memory_search" }

func (t *MemorySearchTool) Description() string {
	return "Search long-term memory and recent activity for relevant information."
}

func (t *MemorySearchTool) Schema() map[string]any {
	return objectSchema(map[string]any{
		"query": map[string]any{
			"type":        "string",
			"description": "What to look for",
		},
		"limit": map[string]any{
			"type":        "integer",
			"description": "Maximum results (default 5)",
		},
	}, "query")
}

func (t *MemorySearchTool) Invoke(ctx context.Context, args map[string]any) (string, error) {
	query := strings.TrimSpace(stringArg(args, "query"))
	if query == "" {
		return "", errors.New("query is required")
	}
	limit := intArg(args, "limit", 5)

	results := t.searcher.Search(ctx, query, limit, memory.SearchOptions{IncludeDaily: true})
	if len(results) == 0 {
		return "未找到相关记忆。", nil
	}
	var b strings.Builder
	fmt.Fprintf(&b, "找到 %d 条相关记忆:\n", len(results))
	for i, r := range results {
		label := memory.CategoryLabel(r.Entry.Category)
		if r.Entry.Category == "daily" {
			label = "日志"
		}
		fmt.Fprintf(&b, "%d. [%s] %s\n", i+1, label, r.Entry.Content)
	}
	return strings.TrimRight(b.String(), "\n"), nil
}
