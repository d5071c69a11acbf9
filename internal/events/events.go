// Package events defines the normalized event stream emitted by the engine.
//
// Every transport-bound emission is one Event serialized as a UTF-8 JSON
// object. Optional fields are omitted when empty so the wire shape matches
// the minimal schema each event type requires.
package events

import (
	"encoding/json"
	"fmt"
)

// Event types streamed to the consumer.
const (
	TypeToken               = "token"
	TypeLLMStart            = "llm_start"
	TypeLLMEnd              = "llm_end"
	TypeToolStart           = "tool_start"
	TypeToolEnd             = "tool_end"
	TypePlanCreated         = "plan_created"
	TypePlanUpdated         = "plan_updated"
	TypePlanRevised         = "plan_revised"
	TypePlanApprovalRequest = "plan_approval_request"
	TypePlanApprovalResult  = "plan_approval_resolved"
	TypeApprovalRequest     = "approval_request"
	TypeApprovalResolved    = "approval_resolved"
	TypeProgress            = "progress"
	TypeResult              = "result"
	TypeDone                = "done"
	TypeError               = "error"
)

// CacheHitPrefix marks a tool result served from the tool cache. The stream
// adapter strips nothing; it only flags tool_end events whose output starts
// with this prefix.
const CacheHitPrefix = "[CACHE_HIT]"

// Event is a single normalized stream event. The Type field is always set;
// all other fields are populated per type.
type Event struct {
	Type    string `json:"type"`
	Content string `json:"content,omitempty"`

	// LLM call events.
	CallID          string  `json:"call_id,omitempty"`
	Node            string  `json:"node,omitempty"`
	Model           string  `json:"model,omitempty"`
	Input           string  `json:"input,omitempty"`
	Output          string  `json:"output,omitempty"`
	Motivation      string  `json:"motivation,omitempty"`
	DurationMs      int64   `json:"duration_ms,omitempty"`
	InputTokens     int     `json:"input_tokens,omitempty"`
	OutputTokens    int     `json:"output_tokens,omitempty"`
	TotalTokens     int     `json:"total_tokens,omitempty"`
	TokensEstimated bool    `json:"tokens_estimated,omitempty"`
	InputCost       float64 `json:"input_cost,omitempty"`
	OutputCost      float64 `json:"output_cost,omitempty"`
	TotalCost       float64 `json:"total_cost,omitempty"`
	CostEstimated   bool    `json:"cost_estimated,omitempty"`

	// Tool events.
	Tool   string `json:"tool,omitempty"`
	Cached bool   `json:"cached,omitempty"`

	// Plan lifecycle events. Plan payloads are built by the graph and carried
	// opaquely so this package stays a leaf.
	Plan          any    `json:"plan,omitempty"`
	PlanID        string `json:"plan_id,omitempty"`
	StepID        int    `json:"step_id,omitempty"`
	Status        string `json:"status,omitempty"`
	Title         string `json:"title,omitempty"`
	Steps         any    `json:"steps,omitempty"`
	RevisedSteps  any    `json:"revised_steps,omitempty"`
	KeepCompleted int    `json:"keep_completed,omitempty"`
	Reason        string `json:"reason,omitempty"`
	Approved      *bool  `json:"approved,omitempty"`

	// Tool-level approval.
	RequestID string `json:"request_id,omitempty"`
	RiskLevel string `json:"risk_level,omitempty"`

	// Memory compression stream.
	Message string `json:"message,omitempty"`
	Step    string `json:"step,omitempty"`
	Data    any    `json:"data,omitempty"`
}

// MarshalJSON keeps the default struct encoding; declared so callers can rely
// on Event implementing json.Marshaler semantics explicitly.
func (e Event) JSON() ([]byte, error) {
	return json.Marshal(e)
}

// SSEFrame renders the event as one server-sent-events frame.
func (e Event) SSEFrame() (string, error) {
	raw, err := json.Marshal(e)
	if err != nil {
		return "", fmt.Errorf("marshal event: %w", err)
	}
	return "data: " + string(raw) + "\n\n", nil
}

// Token builds a token event for a non-empty content delta.
func Token(content string) Event {
	return Event{Type: TypeToken, Content: content}
}

// Done is the terminal event of every run.
func Done() Event {
	return Event{Type: TypeDone}
}

// Error builds a stream-level error event.
func Error(content string) Event {
	return Event{Type: TypeError, Content: content}
}
