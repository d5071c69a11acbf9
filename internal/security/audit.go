package security

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"aide/internal/security/redaction"
	"aide/internal/shared/logging"
)

const auditInputLimit = 500

// AuditRecord is one line of the append-only JSONL audit trail.
type AuditRecord struct {
	Timestamp string  `json:"ts"`
	Tool      string  `json:"tool"`
	Input     string  `json:"input"`
	Risk      string  `json:"risk"`
	Action    string  `json:"action"`
	RequestID string  `json:"request_id,omitempty"`
	ExecMs    float64 `json:"exec_ms,omitempty"`
	Error     string  `json:"error,omitempty"`
	Feedback  string  `json:"feedback,omitempty"`
}

// AuditLog appends records to <logs>/audit.jsonl. Writes are serialized;
// a write failure is logged and never fails the guarded call.
type AuditLog struct {
	mu     sync.Mutex
	path   string
	logger logging.Logger
}

func NewAuditLog(logsDir string, logger logging.Logger) *AuditLog {
	return &AuditLog{
		path:   filepath.Join(logsDir, "audit.jsonl"),
		logger: logging.OrNop(logger),
	}
}

// Record appends one entry. Input is redacted and truncated so the trail
// never persists credentials and stays bounded.
func (a *AuditLog) Record(rec AuditRecord) {
	if a == nil {
		return
	}
	if rec.Timestamp == "" {
		rec.Timestamp = time.Now().UTC().Format(time.RFC3339)
	}
	rec.Input = redaction.Mask(rec.Input)
	if len(rec.Input) > auditInputLimit {
		rec.Input = rec.Input[:auditInputLimit] + "...[truncated]"
	}
	raw, err := json.Marshal(rec)
	if err != nil {
		a.logger.Warn("audit marshal failed: %v", err)
		return
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if err := os.MkdirAll(filepath.Dir(a.path), 0o755); err != nil {
		a.logger.Warn("audit dir: %v", err)
		return
	}
	f, err := os.OpenFile(a.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		a.logger.Warn("audit open: %v", err)
		return
	}
	defer f.Close()
	if _, err := f.Write(append(raw, '\n')); err != nil {
		a.logger.Warn("audit write: %v", err)
	}
}
