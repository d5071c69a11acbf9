package graph

import (
	"context"
	"fmt"
	"strings"

	"aide/internal/config"
	"aide/internal/events"
	"aide/internal/llm"
)

// Clip limits for step responses carried forward in different surfaces.
const (
	pastStepClip     = 300  // prior-step recap inside the executor prompt
	stepSummaryClip  = 500  // step summary appended to the conversation
	pastResponseClip = 1000 // full record kept in state.PastSteps
)

// executorNode runs exactly one pending plan step per visit with a focused
// prompt, then records the outcome on the state.
type executorNode struct {
	cfg  config.ResolvedGraphConfig
	deps Deps
}

func (n *executorNode) run(ctx context.Context, state *AgentState) (*Interrupt, error) {
	plan := state.Plan
	if plan == nil || state.CurrentStepIndex >= len(plan.Steps) {
		state.routeHint = afterPlanTarget(n.cfg)
		return nil, nil
	}
	if n.cfg.Executor.MaxSteps > 0 && len(state.PastSteps) >= n.cfg.Executor.MaxSteps {
		n.deps.Logger.Warn("plan %s hit the step budget (%d), closing out", plan.ID, n.cfg.Executor.MaxSteps)
		state.routeHint = afterPlanTarget(n.cfg)
		return nil, nil
	}

	idx := state.CurrentStepIndex
	step := plan.Steps[idx]
	messages := []llm.Message{{Role: llm.RoleSystem, Content: executorPrompt(state, idx)}}
	messages = append(messages, recentUserMessages(state.Messages, 3)...)
	messages = append(messages, llm.Message{
		Role:    llm.RoleUser,
		Content: fmt.Sprintf("执行步骤 %d: %s", idx+1, step.Title),
	})

	loop := &reactLoop{
		client:      n.deps.Client,
		tools:       n.deps.wrap(n.deps.Registry.ResolveExecutor(n.cfg.Executor.Tools)),
		nodeName:    NodeExecutor,
		maxIters:    n.cfg.Executor.MaxIterations,
		llmTimeout:  n.deps.LLMTimeout,
		toolTimeout: n.deps.ToolTimeout,
		logger:      n.deps.Logger,
	}
	_, resp, err := loop.run(ctx, messages)
	if err != nil {
		return nil, err
	}

	state.PastSteps = append(state.PastSteps, PastStep{
		Title:    step.Title,
		Response: clipRunes(resp, pastResponseClip),
	})
	state.Messages = append(state.Messages, llm.Message{
		Role: llm.RoleAssistant,
		Content: fmt.Sprintf("[步骤 %d/%d - %s] %s",
			idx+1, len(plan.Steps), step.Title, clipRunes(resp, stepSummaryClip)),
	})
	plan.Steps[idx].Status = StepCompleted
	events.Emit(ctx, events.Event{
		Type:   events.TypePlanUpdated,
		PlanID: plan.ID,
		StepID: step.ID,
		Status: StepCompleted,
		Title:  step.Title,
	})
	state.CurrentStepIndex++

	state.routeHint = n.next(state)
	return nil, nil
}

func (n *executorNode) next(state *AgentState) string {
	if n.cfg.Replanner.Enabled {
		return NodeReplanner
	}
	if state.Plan != nil && state.CurrentStepIndex < len(state.Plan.Steps) &&
		(n.cfg.Executor.MaxSteps <= 0 || len(state.PastSteps) < n.cfg.Executor.MaxSteps) {
		return NodeExecutor
	}
	return afterPlanTarget(n.cfg)
}

func (n *executorNode) route(state *AgentState) string {
	return state.routeHint
}

// executorPrompt builds the per-step system prompt: the full plan with
// completion marks, the current step, prior results, and the task context.
func executorPrompt(state *AgentState, idx int) string {
	plan := state.Plan
	var b strings.Builder
	b.WriteString("<!-- PLAN -->\n")
	b.WriteString("计划: " + plan.Title + "\n")
	for i, s := range plan.Steps {
		mark := " "
		if s.Status == StepCompleted {
			mark = "x"
		}
		fmt.Fprintf(&b, "%d. [%s] %s\n", i+1, mark, s.Title)
	}

	step := plan.Steps[idx]
	fmt.Fprintf(&b, "\n当前步骤 %d/%d: %s\n", idx+1, len(plan.Steps), step.Title)
	if step.Description != "" {
		b.WriteString(step.Description + "\n")
	}
	if len(state.PastSteps) > 0 {
		b.WriteString("\n已完成步骤:\n")
		for i, p := range state.PastSteps {
			fmt.Fprintf(&b, "- 步骤 %d [%s]: %s\n", i+1, p.Title, clipRunes(p.Response, pastStepClip))
		}
	}
	if state.PlanContext != "" {
		b.WriteString("\n任务背景: " + state.PlanContext + "\n")
	}
	b.WriteString("\n请专注完成当前步骤。完成后简要总结结果。")
	return b.String()
}
