package tools

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"aide/internal/sessionctx"
)

const defaultCommandTimeout = 30

// TerminalTool executes shell commands in the session's scratch directory.
type TerminalTool struct {
	dataDir string
}

func NewTerminalTool(dataDir string) *TerminalTool {
	return &TerminalTool{dataDir: dataDir}
}

func (t *TerminalTool) Name() string { return "terminal" }

func (t *TerminalTool) Description() string {
	return "Execute a shell command. Runs in the session scratch directory with a timeout."
}

func (t *TerminalTool) Schema() map[string]any {
	return objectSchema(map[string]any{
		"command": map[string]any{
			"type":        "string",
			"description": "The shell command to execute",
		},
		"timeout": map[string]any{
			"type":        "integer",
			"description": "Timeout in seconds (default 30)",
		},
	}, "command")
}

func (t *TerminalTool) Invoke(ctx context.Context, args map[string]any) (string, error) {
	command := strings.TrimSpace(stringArg(args, "command"))
	if command == "" {
		return "", errors.New("command is required")
	}
	timeout := intArg(args, "timeout", defaultCommandTimeout)
	if timeout <= 0 {
		timeout = defaultCommandTimeout
	}

	cwd, err := sessionctx.TmpDir(t.dataDir, sessionctx.SessionID(ctx))
	if err != nil {
		return "", fmt.Errorf("session dir: %w", err)
	}

	runCtx, cancel := context.WithTimeout(ctx, time.Duration(timeout)*time.Second)
	defer cancel()

	cmd := exec.CommandContext(runCtx, "bash", "-c", command)
	cmd.Dir = cwd
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	runErr := cmd.Run()
	if runCtx.Err() == context.DeadlineExceeded {
		return fmt.Sprintf("❌ Error: Command timed out after %d seconds.", timeout), nil
	}

	var b strings.Builder
	b.WriteString(strings.TrimRight(stdout.String(), "\n"))
	if s := strings.TrimRight(stderr.String(), "\n"); s != "" {
		if b.Len() > 0 {
			b.WriteString("\n")
		}
		b.WriteString("[stderr]: " + s)
	}
	if runErr != nil {
		var exitErr *exec.ExitError
		if errors.As(runErr, &exitErr) {
			if b.Len() > 0 {
				b.WriteString("\n")
			}
			fmt.Fprintf(&b, "[exit code]: %d", exitErr.ExitCode())
		} else {
			return "", fmt.Errorf("command failed: %w", runErr)
		}
	}
	if b.Len() == 0 {
		return "(no output)", nil
	}
	return b.String(), nil
}
