package tools

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
)

const readFileMaxRunes = 50000

// ReadFileTool returns the content of a file on disk. Sensitive paths are
// screened by the permission gate before this runs.
type ReadFileTool struct{}

func NewReadFileTool() *ReadFileTool { return &ReadFileTool{} }

func (t *ReadFileTool) Name() string { return "read_file" }

func (t *ReadFileTool) Description() string {
	return "Read the content of a file. Large files are truncated."
}

func (t *ReadFileTool) Schema() map[string]any {
	return objectSchema(map[string]any{
		"path": map[string]any{
			"type":        "string",
			"description": "Path of the file to read",
		},
	}, "path")
}

func (t *ReadFileTool) Invoke(ctx context.Context, args map[string]any) (string, error) {
	path := strings.TrimSpace(stringArg(args, "path"))
	if path == "" {
		return "", errors.New("path is required")
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read %s: %w", path, err)
	}
	content := string(raw)
	runes := []rune(content)
	if len(runes) > readFileMaxRunes {
		return string(runes[:readFileMaxRunes]) + "\n\n...[content truncated]", nil
	}
	if content == "" {
		return "(empty file)", nil
	}
	return content, nil
}
