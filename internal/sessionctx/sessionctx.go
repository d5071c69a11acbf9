// Package sessionctx carries per-run session identity to tools through
// context.Context, including tools that escape into worker goroutines.
package sessionctx

import (
	"context"
	"os"
	"path/filepath"
	"strings"
)

type ctxKey int

const sessionIDKey ctxKey = iota

// WithSessionID returns a context carrying the session id.
func WithSessionID(ctx context.Context, sessionID string) context.Context {
	return context.WithValue(ctx, sessionIDKey, sessionID)
}

// SessionID returns the session id carried by ctx, or "".
func SessionID(ctx context.Context) string {
	if v, ok := ctx.Value(sessionIDKey).(string); ok {
		return v
	}
	return ""
}

// Carrier captures session state at dispatch time so a worker goroutine
// running with a different context can re-install it.
type Carrier struct {
	sessionID string
}

// Capture snapshots the session state of ctx.
func Capture(ctx context.Context) Carrier {
	return Carrier{sessionID: SessionID(ctx)}
}

// Install publishes the captured state onto a worker's context.
func (c Carrier) Install(ctx context.Context) context.Context {
	return WithSessionID(ctx, c.sessionID)
}

// SafeID strips a session id down to [A-Za-z0-9_-]; empty ids map to
// "_default".
func SafeID(sessionID string) string {
	if sessionID == "" {
		return "_default"
	}
	var b strings.Builder
	for _, r := range sessionID {
		if r == '_' || r == '-' ||
			(r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	if b.Len() == 0 {
		return "_default"
	}
	return b.String()
}

// TmpDir resolves (and creates) the per-session temp directory under the
// data root. Tools use it as their working directory.
func TmpDir(dataRoot, sessionID string) (string, error) {
	dir := filepath.Join(dataRoot, "tmp", SafeID(sessionID))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	return dir, nil
}
