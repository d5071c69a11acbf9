package security

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"aide/internal/events"
	"aide/internal/shared/logging"
)

// Decision is the user's resolution of one approval request.
type Decision struct {
	Approved bool
	// Feedback carries the user instruction for the instruct verdict; the
	// call is denied but the feedback is surfaced to the model.
	Feedback string
}

// Verdict is what the gate tells the wrapper to do after approval resolves.
type Verdict struct {
	Proceed bool
	// Message replaces the tool result when Proceed is false.
	Message string
	// Feedback is prefixed onto the tool result when Proceed is true with
	// user instructions attached.
	Feedback string
}

type pendingRequest struct {
	ch       chan Decision
	resolved bool
}

// Gate holds in-flight approval requests and lets an out-of-band caller
// (HTTP endpoint, interactive prompt) resolve them.
type Gate struct {
	mu      sync.Mutex
	pending map[string]*pendingRequest
	timeout time.Duration
	logger  logging.Logger
}

func NewGate(timeout time.Duration, logger logging.Logger) *Gate {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Gate{
		pending: make(map[string]*pendingRequest),
		timeout: timeout,
		logger:  logging.OrNop(logger),
	}
}

// NewRequestID issues a short id for one approval round.
func NewRequestID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
}

// Ask emits an approval_request event through emit and blocks until the
// request is resolved, the timeout fires, or ctx is cancelled. Timeout and
// cancellation both deny.
func (g *Gate) Ask(ctx context.Context, tool, input string, risk RiskLevel, emit func(events.Event)) (string, Verdict) {
	requestID := NewRequestID()
	req := &pendingRequest{ch: make(chan Decision, 1)}

	g.mu.Lock()
	g.pending[requestID] = req
	g.mu.Unlock()
	defer func() {
		g.mu.Lock()
		delete(g.pending, requestID)
		g.mu.Unlock()
	}()

	if emit != nil {
		emit(events.Event{
			Type:      events.TypeApprovalRequest,
			RequestID: requestID,
			Tool:      tool,
			Input:     input,
			RiskLevel: risk.String(),
		})
	}

	timer := time.NewTimer(g.timeout)
	defer timer.Stop()

	select {
	case decision := <-req.ch:
		return requestID, verdictFor(decision)
	case <-timer.C:
		g.logger.Info("approval %s for %s timed out after %s", requestID, tool, g.timeout)
		return requestID, Verdict{Proceed: false, Message: deniedMessage(fmt.Sprintf("approval timed out after %d seconds", int(g.timeout.Seconds())))}
	case <-ctx.Done():
		return requestID, Verdict{Proceed: false, Message: deniedMessage("run cancelled")}
	}
}

// Resolve delivers the decision for a pending request. The first resolution
// wins; later calls and unknown ids return false.
func (g *Gate) Resolve(requestID string, decision Decision) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	req, ok := g.pending[requestID]
	if !ok || req.resolved {
		return false
	}
	req.resolved = true
	req.ch <- decision
	return true
}

// Pending reports whether a request id is still awaiting resolution.
func (g *Gate) Pending(requestID string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	req, ok := g.pending[requestID]
	return ok && !req.resolved
}

func verdictFor(d Decision) Verdict {
	if d.Approved {
		return Verdict{Proceed: true, Feedback: d.Feedback}
	}
	if d.Feedback != "" {
		return Verdict{Proceed: false, Message: reconsiderMessage(d.Feedback)}
	}
	return Verdict{Proceed: false, Message: deniedMessage("user rejected the operation")}
}

func deniedMessage(reason string) string {
	return "⛔ Operation denied: " + reason
}

func reconsiderMessage(feedback string) string {
	return "⚠️ 用户要求你重新考虑：[用户指示] " + feedback
}
