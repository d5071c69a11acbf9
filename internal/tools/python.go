package tools

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"aide/internal/security"
	"aide/internal/sessionctx"
)

const pythonTimeout = 30 * time.Second

// PythonTool runs short Python snippets via the system interpreter. Code
// that trips the dangerous-pattern scan is refused outright, independent of
// the approval flow, mirroring a restricted interpreter.
type PythonTool struct {
	dataDir string
	binary  string
}

func NewPythonTool(dataDir string) *PythonTool {
	return &PythonTool{dataDir: dataDir, binary: "python3"}
}

func (t *PythonTool) Name() string { return "python_repl" }

func (t *PythonTool) Description() string {
	return "Execute Python code and return its output. Dangerous operations (subprocesses, raw sockets, file deletion) are blocked."
}

func (t *PythonTool) Schema() map[string]any {
	return objectSchema(map[string]any{
		"code": map[string]any{
			"type":        "string",
			"description": "Python code to execute",
		},
	}, "code")
}

func (t *PythonTool) Invoke(ctx context.Context, args map[string]any) (string, error) {
	code := stringArg(args, "code")
	if strings.TrimSpace(code) == "" {
		return "", errors.New("code is required")
	}
	if security.ClassifyPythonCode(code) >= security.RiskDangerous {
		return "❌ Error: This code has been blocked for security reasons.", nil
	}

	cwd, err := sessionctx.TmpDir(t.dataDir, sessionctx.SessionID(ctx))
	if err != nil {
		return "", fmt.Errorf("session dir: %w", err)
	}

	runCtx, cancel := context.WithTimeout(ctx, pythonTimeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, t.binary, "-c", code)
	cmd.Dir = cwd
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	runErr := cmd.Run()
	if runCtx.Err() == context.DeadlineExceeded {
		return fmt.Sprintf("❌ Error: Command timed out after %d seconds.", int(pythonTimeout.Seconds())), nil
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
			return "", fmt.Errorf("python failed: %w", runErr)
		}
	}
	if b.Len() == 0 {
		return "(no output)", nil
	}
	return b.String(), nil
}
