package graph

import (
	"context"

	"aide/internal/config"
	"aide/internal/events"
	"aide/internal/llm"
)

const planDeniedMessage = "用户已拒绝执行该计划。"

// approvalNode pauses the run until the user rules on the plan. The first
// pass raises an interrupt; the resume pass reads the decision left on the
// state and routes accordingly.
type approvalNode struct {
	cfg  config.ResolvedGraphConfig
	deps Deps
}

func (n *approvalNode) run(ctx context.Context, state *AgentState) (*Interrupt, error) {
	if state.Plan == nil {
		state.routeHint = End
		return nil, nil
	}
	if state.ApprovalDecision == nil {
		return &Interrupt{Payload: map[string]any{
			"plan_id": state.Plan.ID,
			"title":   state.Plan.Title,
			"steps":   state.Plan.Steps,
		}}, nil
	}

	decision := *state.ApprovalDecision
	state.ApprovalDecision = nil
	approved := decision.Approved
	events.Emit(ctx, events.Event{
		Type:     events.TypePlanApprovalResult,
		PlanID:   state.Plan.ID,
		Approved: &approved,
		Reason:   decision.Feedback,
	})

	if approved {
		n.deps.Logger.Info("plan %s approved", state.Plan.ID)
		state.routeHint = NodeExecutor
		return nil, nil
	}

	n.deps.Logger.Info("plan %s denied", state.Plan.ID)
	content := planDeniedMessage
	if decision.Feedback != "" {
		content += "\n用户反馈: " + decision.Feedback
	}
	state.Messages = append(state.Messages, llm.Message{Role: llm.RoleAssistant, Content: content})
	state.Plan = nil
	state.PlanContext = ""
	state.routeHint = End
	return nil, nil
}

func (n *approvalNode) route(state *AgentState) string {
	return state.routeHint
}
