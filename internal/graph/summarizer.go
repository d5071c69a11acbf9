package graph

import (
	"context"
	"fmt"
	"strings"

	"aide/internal/config"
	"aide/internal/events"
	"aide/internal/llm"
)

const stepDigestClip = 200

// summarizerNode condenses the executed steps into one final answer, marks
// any leftover steps done, and resets the plan state for the next turn.
type summarizerNode struct {
	cfg  config.ResolvedGraphConfig
	deps Deps
}

func (n *summarizerNode) run(ctx context.Context, state *AgentState) (*Interrupt, error) {
	plan := state.Plan
	if len(state.PastSteps) > 0 {
		lines := make([]string, 0, len(state.PastSteps))
		for i, p := range state.PastSteps {
			lines = append(lines, fmt.Sprintf("- 步骤 %d [%s]: %s",
				i+1, p.Title, clipRunes(p.Response, stepDigestClip)))
		}
		digest := strings.Join(lines, "\n")

		summary := digest
		prompt := "以下是本次任务各步骤的执行结果：\n\n" + digest +
			"\n\n请用简洁的中文总结本次任务的完成情况。"
		loop := &reactLoop{
			client:     n.deps.Client,
			nodeName:   NodeSummarizer,
			maxIters:   1,
			llmTimeout: n.deps.LLMTimeout,
			stream:     n.deps.Stream,
			logger:     n.deps.Logger,
		}
		_, resp, err := loop.run(ctx, []llm.Message{{Role: llm.RoleUser, Content: prompt}})
		if err != nil {
			n.deps.Logger.Warn("summarizer LLM call failed, using step digest: %v", err)
		} else if resp != "" {
			summary = resp
		}
		state.Summary = summary
		state.Messages = append(state.Messages, llm.Message{Role: llm.RoleAssistant, Content: summary})
	}

	if plan != nil {
		for i := range plan.Steps {
			if plan.Steps[i].Status == StepCompleted {
				continue
			}
			plan.Steps[i].Status = StepCompleted
			events.Emit(ctx, events.Event{
				Type:   events.TypePlanUpdated,
				PlanID: plan.ID,
				StepID: plan.Steps[i].ID,
				Status: StepCompleted,
				Title:  plan.Steps[i].Title,
			})
		}
	}

	state.Plan = nil
	state.PlanContext = ""
	state.CurrentStepIndex = 0
	state.PastSteps = nil
	state.ApprovalDecision = nil
	return nil, nil
}

func (n *summarizerNode) route(*AgentState) string {
	return End
}
