package security

import (
	"context"
	"fmt"
	"strings"
	"time"

	"aide/internal/events"
	"aide/internal/shared/logging"
)

// Outcome is the guard's ruling on one tool invocation.
type Outcome struct {
	Proceed bool
	// Message is the tool result to return when Proceed is false.
	Message string
	// Feedback carries a user instruction to prefix onto the real result.
	Feedback  string
	Risk      RiskLevel
	RequestID string
}

// Guard runs the full permission pipeline for tool calls: classify, apply
// the policy matrix, rate-limit, ask for approval when required, and audit
// every ruling.
type Guard struct {
	level   Level
	urls    *URLClassifier
	limiter *RateLimiter
	gate    *Gate
	audit   *AuditLog
	logger  logging.Logger
}

type GuardOptions struct {
	Level           string
	ServerPort      int
	ApprovalTimeout time.Duration
	LogsDir         string
	Logger          logging.Logger
}

func NewGuard(opts GuardOptions) *Guard {
	logger := logging.OrNop(opts.Logger)
	return &Guard{
		level:   ParseLevel(opts.Level),
		urls:    &URLClassifier{ServerPort: opts.ServerPort},
		limiter: NewRateLimiter(),
		gate:    NewGate(opts.ApprovalTimeout, logger),
		audit:   NewAuditLog(opts.LogsDir, logger),
		logger:  logger,
	}
}

// Gate exposes the approval gate for out-of-band resolution endpoints.
func (g *Guard) Gate() *Gate { return g.gate }

// Level reports the active strictness.
func (g *Guard) Level() Level { return g.level }

// ClassifyTool dispatches to the per-tool classifier. Tools without a
// dedicated classifier are warn by default so approve_dangerous policies
// still see them.
func (g *Guard) ClassifyTool(tool string, args map[string]any) RiskLevel {
	switch tool {
	case "terminal":
		return ClassifyShellCommand(stringArg(args, "command"))
	case "python_repl":
		return ClassifyPythonCode(stringArg(args, "code"))
	case "fetch_url":
		return g.urls.Classify(stringArg(args, "url"))
	case "read_file":
		if IsSensitivePath(stringArg(args, "path")) {
			return RiskDangerous
		}
		return RiskSafe
	}
	if strings.HasPrefix(tool, "mcp__") {
		return RiskWarn
	}
	return RiskSafe
}

// Check runs the pipeline. The caller invokes the tool only when
// Outcome.Proceed is true, and must call RecordResult afterwards.
func (g *Guard) Check(ctx context.Context, sessionID, tool string, args map[string]any, emit func(events.Event)) Outcome {
	input := describeInput(tool, args)
	risk := g.ClassifyTool(tool, args)

	if risk == RiskBlocked {
		msg := deniedMessage("operation blocked by security policy")
		g.audit.Record(AuditRecord{Tool: tool, Input: input, Risk: risk.String(), Action: "blocked"})
		return Outcome{Proceed: false, Message: msg, Risk: risk}
	}

	if g.level != LevelRelaxed {
		if ok, msg := g.limiter.Allow(sessionID, tool); !ok {
			g.audit.Record(AuditRecord{Tool: tool, Input: input, Risk: risk.String(), Action: "rate_limited"})
			return Outcome{Proceed: false, Message: msg, Risk: risk}
		}
	}

	action := PolicyFor(g.level, tool)
	if !RequiresApproval(action, risk) {
		g.audit.Record(AuditRecord{Tool: tool, Input: input, Risk: risk.String(), Action: "auto_approved"})
		return Outcome{Proceed: true, Risk: risk}
	}

	requestID, verdict := g.gate.Ask(ctx, tool, input, risk, emit)
	if emit != nil {
		approved := verdict.Proceed
		emit(events.Event{
			Type:      events.TypeApprovalResolved,
			RequestID: requestID,
			Tool:      tool,
			Approved:  &approved,
		})
	}
	if !verdict.Proceed {
		g.audit.Record(AuditRecord{
			Tool: tool, Input: input, Risk: risk.String(),
			Action: "denied", RequestID: requestID, Feedback: verdict.Feedback,
		})
		return Outcome{Proceed: false, Message: verdict.Message, Risk: risk, RequestID: requestID}
	}
	g.audit.Record(AuditRecord{
		Tool: tool, Input: input, Risk: risk.String(),
		Action: "approved", RequestID: requestID, Feedback: verdict.Feedback,
	})
	return Outcome{Proceed: true, Feedback: verdict.Feedback, Risk: risk, RequestID: requestID}
}

// RecordResult audits the execution that followed an approved Check.
func (g *Guard) RecordResult(tool string, args map[string]any, risk RiskLevel, elapsed time.Duration, execErr error) {
	rec := AuditRecord{
		Tool:   tool,
		Input:  describeInput(tool, args),
		Risk:   risk.String(),
		Action: "executed",
		ExecMs: float64(elapsed.Microseconds()) / 1000,
	}
	if execErr != nil {
		rec.Action = "failed"
		rec.Error = execErr.Error()
	}
	g.audit.Record(rec)
}

// ApplyFeedback prefixes an approved-with-instructions result so the model
// sees the user's guidance before the tool output.
func ApplyFeedback(feedback, result string) string {
	if feedback == "" {
		return result
	}
	return "[用户指示] " + feedback + "\n\n" + result
}

func stringArg(args map[string]any, key string) string {
	if args == nil {
		return ""
	}
	if v, ok := args[key].(string); ok {
		return v
	}
	return ""
}

func describeInput(tool string, args map[string]any) string {
	switch tool {
	case "terminal":
		return stringArg(args, "command")
	case "python_repl":
		return stringArg(args, "code")
	case "fetch_url":
		return stringArg(args, "url")
	case "read_file":
		return stringArg(args, "path")
	}
	return fmt.Sprintf("%v", args)
}
