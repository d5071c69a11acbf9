// Package graph runs the agent state machine: a ReAct agent, the planning
// gate, plan approval, step execution, replanning, and summarization, wired
// as nodes over a shared state with conditional edges.
package graph

import (
	"context"

	"aide/internal/llm"
	"aide/internal/tools"
)

// Step statuses.
const (
	StepPending   = "pending"
	StepCompleted = "completed"
)

// Step is one unit of a plan.
type Step struct {
	ID          int    `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	Status      string `json:"status"`
}

// Plan is a multi-step execution plan created by the model.
type Plan struct {
	ID    string `json:"id"`
	Title string `json:"title"`
	Steps []Step `json:"steps"`
}

// PendingSteps counts steps not yet completed.
func (p *Plan) PendingSteps() int {
	n := 0
	for _, s := range p.Steps {
		if s.Status != StepCompleted {
			n++
		}
	}
	return n
}

// PastStep records one executed step and its outcome.
type PastStep struct {
	Title    string `json:"title"`
	Response string `json:"response"`
}

// AgentState is the single state flowing through the graph. Invariants:
// Messages[0] is the system message with a stable id; CurrentStepIndex
// equals len(PastSteps) while a plan runs.
type AgentState struct {
	Messages         []llm.Message `json:"messages"`
	Plan             *Plan         `json:"plan,omitempty"`
	PlanContext      string        `json:"plan_context,omitempty"`
	CurrentStepIndex int           `json:"current_step_index"`
	PastSteps        []PastStep    `json:"past_steps,omitempty"`
	Summary          string        `json:"summary,omitempty"`
	// ApprovalDecision is set when a run resumes from the plan approval
	// interrupt: nil means not yet asked.
	ApprovalDecision *ApprovalDecision `json:"approval_decision,omitempty"`

	// routeHint carries a routing decision from a node body to its edge
	// function within one Execute pass.
	routeHint string
}

// ApprovalDecision is the user's answer to a plan approval interrupt.
type ApprovalDecision struct {
	Approved bool   `json:"approved"`
	Feedback string `json:"feedback,omitempty"`
}

// Clone deep-copies the state so checkpoints stay immutable.
func (s *AgentState) Clone() *AgentState {
	out := &AgentState{
		PlanContext:      s.PlanContext,
		CurrentStepIndex: s.CurrentStepIndex,
		Summary:          s.Summary,
		routeHint:        s.routeHint,
	}
	out.Messages = append([]llm.Message(nil), s.Messages...)
	out.PastSteps = append([]PastStep(nil), s.PastSteps...)
	if s.Plan != nil {
		plan := *s.Plan
		plan.Steps = append([]Step(nil), s.Plan.Steps...)
		out.Plan = &plan
	}
	if s.ApprovalDecision != nil {
		d := *s.ApprovalDecision
		out.ApprovalDecision = &d
	}
	return out
}

// AddMessages appends new messages, replacing in place any existing message
// with the same non-empty id.
func AddMessages(existing, incoming []llm.Message) []llm.Message {
	out := append([]llm.Message(nil), existing...)
	for _, msg := range incoming {
		replaced := false
		if msg.ID != "" {
			for i := range out {
				if out[i].ID == msg.ID {
					out[i] = msg
					replaced = true
					break
				}
			}
		}
		if !replaced {
			out = append(out, msg)
		}
	}
	return out
}

type planCaptureKey struct{}

// PlanCapture receives the plan created by the planning tool during one
// agent phase.
type PlanCapture struct {
	Plan *Plan
}

// WithPlanCapture installs a fresh capture slot in the context.
func WithPlanCapture(ctx context.Context) (context.Context, *PlanCapture) {
	capture := &PlanCapture{}
	return context.WithValue(ctx, planCaptureKey{}, capture), capture
}

// RecordCreatedPlan stores a plan created by the planning tool into the
// context's capture slot. Wired as the PlanTool sink.
func RecordCreatedPlan(ctx context.Context, created tools.CreatedPlan) {
	capture, _ := ctx.Value(planCaptureKey{}).(*PlanCapture)
	if capture == nil {
		return
	}
	plan := &Plan{ID: created.ID, Title: created.Title}
	for _, s := range created.Steps {
		plan.Steps = append(plan.Steps, Step{
			ID:          s.ID,
			Title:       s.Title,
			Description: s.Description,
			Status:      StepPending,
		})
	}
	capture.Plan = plan
}
