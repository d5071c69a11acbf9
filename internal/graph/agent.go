package graph

import (
	"context"

	"aide/internal/config"
	"aide/internal/llm"
	"aide/internal/tools"
)

// agentNode is the conversational ReAct loop and the graph entry point. When
// the model calls the planning tool, the captured plan moves the run into the
// plan pipeline; otherwise the final answer ends the run.
type agentNode struct {
	cfg  config.ResolvedGraphConfig
	deps Deps
}

func (n *agentNode) run(ctx context.Context, state *AgentState) (*Interrupt, error) {
	var resolved []tools.Tool
	if n.cfg.Planner.Enabled && n.cfg.Executor.Enabled {
		resolved = n.deps.Registry.Resolve(n.cfg.Agent.Tools)
	} else {
		// Without a planner/executor downstream the plan tool is useless bait.
		resolved = n.deps.Registry.ResolveExecutor(n.cfg.Agent.Tools)
	}
	loop := &reactLoop{
		client:      n.deps.Client,
		tools:       n.deps.wrap(resolved),
		nodeName:    NodeAgent,
		maxIters:    n.cfg.Agent.MaxIterations,
		llmTimeout:  n.deps.LLMTimeout,
		toolTimeout: n.deps.ToolTimeout,
		stream:      n.deps.Stream,
		logger:      n.deps.Logger,
	}

	ctx, capture := WithPlanCapture(ctx)
	messages, _, err := loop.run(ctx, state.Messages)
	if err != nil {
		return nil, err
	}
	state.Messages = messages

	if capture.Plan != nil {
		state.Plan = capture.Plan
		state.PlanContext = lastUserContent(state.Messages)
		state.CurrentStepIndex = 0
		state.PastSteps = nil
		state.Summary = ""
		state.ApprovalDecision = nil
	}
	return nil, nil
}

func (n *agentNode) route(state *AgentState) string {
	if state.Plan != nil && state.Plan.PendingSteps() > 0 &&
		n.cfg.Planner.Enabled && n.cfg.Executor.Enabled {
		return NodePlanGate
	}
	return End
}

func lastUserContent(messages []llm.Message) string {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == llm.RoleUser {
			return messages[i].Content
		}
	}
	return ""
}

// recentUserMessages returns up to limit trailing user messages in their
// original order.
func recentUserMessages(messages []llm.Message, limit int) []llm.Message {
	var picked []llm.Message
	for i := len(messages) - 1; i >= 0 && len(picked) < limit; i-- {
		if messages[i].Role == llm.RoleUser {
			picked = append(picked, messages[i])
		}
	}
	for i, j := 0, len(picked)-1; i < j; i, j = i+1, j-1 {
		picked[i], picked[j] = picked[j], picked[i]
	}
	return picked
}
