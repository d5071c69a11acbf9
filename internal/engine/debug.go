package engine

import (
	"context"
	"sync"
	"time"

	"aide/internal/events"
	"aide/internal/shared/logging"
	"aide/internal/shared/token"
)

// Debug levels.
const (
	DebugOff      = "off"
	DebugBasic    = "basic"    // tool timings only
	DebugStandard = "standard" // + LLM calls and token/cost aggregates, truncated payloads
	DebugFull     = "full"     // no truncation
)

const (
	debugInputClip  = 2000
	debugOutputClip = 1000
)

// DebugRecord is one captured LLM or tool call.
type DebugRecord struct {
	Kind       string `json:"kind"` // llm|tool
	Node       string `json:"node,omitempty"`
	Tool       string `json:"tool,omitempty"`
	Model      string `json:"model,omitempty"`
	Input      string `json:"input,omitempty"`
	Output     string `json:"output,omitempty"`
	DurationMs int64  `json:"duration_ms"`
	Tokens     int    `json:"tokens,omitempty"`
	Estimated  bool   `json:"estimated,omitempty"`
	Cached     bool   `json:"cached,omitempty"`
}

// DebugReport aggregates one run for the session store.
type DebugReport struct {
	SessionID    string        `json:"session_id"`
	StartedAt    time.Time     `json:"started_at"`
	DurationMs   int64         `json:"duration_ms"`
	LLMCalls     int           `json:"llm_calls"`
	ToolCalls    int           `json:"tool_calls"`
	InputTokens  int           `json:"input_tokens"`
	OutputTokens int           `json:"output_tokens"`
	Records      []DebugRecord `json:"records,omitempty"`
	Error        string        `json:"error,omitempty"`
}

// Pricing converts token counts to cost for one model, per 1K tokens.
type Pricing struct {
	InputPer1K  float64
	OutputPer1K float64
}

// DebugMiddleware collects per-run LLM/tool timing and token aggregates and
// hands the finished report to a sink (the session collaborator). Safe for
// concurrent runs; state is keyed by session id.
type DebugMiddleware struct {
	level   string
	pricing map[string]Pricing
	sink    func(report DebugReport)
	logger  logging.Logger

	mu   sync.Mutex
	runs map[string]*debugRun
}

type debugRun struct {
	report DebugReport
	start  time.Time
}

func NewDebugMiddleware(level string, pricing map[string]Pricing, sink func(DebugReport), logger logging.Logger) *DebugMiddleware {
	if level == "" {
		level = DebugStandard
	}
	return &DebugMiddleware{
		level:   level,
		pricing: pricing,
		sink:    sink,
		logger:  logging.OrNop(logger),
		runs:    make(map[string]*debugRun),
	}
}

func (d *DebugMiddleware) OnRunStart(_ context.Context, req *Request) {
	if d.level == DebugOff {
		return
	}
	d.mu.Lock()
	d.runs[req.SessionID] = &debugRun{
		report: DebugReport{SessionID: req.SessionID, StartedAt: time.Now()},
		start:  time.Now(),
	}
	d.mu.Unlock()
}

func (d *DebugMiddleware) OnEvent(_ context.Context, req *Request, ev events.Event) (events.Event, bool) {
	if d.level == DebugOff {
		return ev, true
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	run, ok := d.runs[req.SessionID]
	if !ok {
		return ev, true
	}

	switch ev.Type {
	case events.TypeLLMEnd:
		if d.level == DebugBasic {
			break
		}
		run.report.LLMCalls++
		in, out := ev.InputTokens, ev.OutputTokens
		estimated := ev.TokensEstimated
		if in == 0 && out == 0 {
			in = token.Estimate(ev.Input)
			out = token.Estimate(ev.Output)
			estimated = true
		}
		run.report.InputTokens += in
		run.report.OutputTokens += out
		run.report.Records = append(run.report.Records, DebugRecord{
			Kind:       "llm",
			Node:       ev.Node,
			Model:      ev.Model,
			Input:      d.clip(ev.Input, debugInputClip),
			Output:     d.clip(ev.Output, debugOutputClip),
			DurationMs: ev.DurationMs,
			Tokens:     in + out,
			Estimated:  estimated,
		})
	case events.TypeToolEnd:
		run.report.ToolCalls++
		run.report.Records = append(run.report.Records, DebugRecord{
			Kind:       "tool",
			Node:       ev.Node,
			Tool:       ev.Tool,
			Output:     d.clip(ev.Output, debugOutputClip),
			DurationMs: ev.DurationMs,
			Cached:     ev.Cached,
		})
	}
	return ev, true
}

func (d *DebugMiddleware) OnRunEnd(_ context.Context, req *Request, runErr error) {
	if d.level == DebugOff {
		return
	}
	d.mu.Lock()
	run, ok := d.runs[req.SessionID]
	delete(d.runs, req.SessionID)
	d.mu.Unlock()
	if !ok {
		return
	}
	run.report.DurationMs = time.Since(run.start).Milliseconds()
	if runErr != nil {
		run.report.Error = runErr.Error()
	}
	d.logger.Debug("session %s: %d llm calls, %d tool calls, %d+%d tokens in %d ms",
		req.SessionID, run.report.LLMCalls, run.report.ToolCalls,
		run.report.InputTokens, run.report.OutputTokens, run.report.DurationMs)
	if d.sink != nil {
		d.sink(run.report)
	}
}

// Cost prices a report against the middleware's pricing table; zero when the
// model is unknown.
func (d *DebugMiddleware) Cost(model string, report DebugReport) float64 {
	p, ok := d.pricing[model]
	if !ok {
		return 0
	}
	return float64(report.InputTokens)/1000*p.InputPer1K +
		float64(report.OutputTokens)/1000*p.OutputPer1K
}

func (d *DebugMiddleware) clip(s string, limit int) string {
	if d.level == DebugFull {
		return s
	}
	return clipDebug(s, limit)
}

func clipDebug(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit]) + "..."
}
