package graph

import (
	"context"

	"aide/internal/config"
	"aide/internal/events"
)

// planGateNode announces a freshly captured plan and hands it to approval or
// straight to execution.
type planGateNode struct {
	cfg  config.ResolvedGraphConfig
	deps Deps
}

func (n *planGateNode) run(ctx context.Context, state *AgentState) (*Interrupt, error) {
	plan := state.Plan
	if plan == nil {
		return nil, nil
	}
	events.Emit(ctx, events.Event{
		Type:   events.TypePlanCreated,
		Plan:   plan,
		PlanID: plan.ID,
		Title:  plan.Title,
		Steps:  plan.Steps,
	})
	n.deps.Logger.Info("plan %s created: %s (%d steps)", plan.ID, plan.Title, len(plan.Steps))
	return nil, nil
}

func (n *planGateNode) route(state *AgentState) string {
	if state.Plan == nil {
		return End
	}
	if n.cfg.Approval.Enabled {
		return NodeApproval
	}
	return NodeExecutor
}
