package graph

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"aide/internal/config"
	"aide/internal/events"
	"aide/internal/llm"
)

// errorIndicators mark a step response as failed for replanning purposes.
var errorIndicators = []string{"[ERROR]", "Exception:", "Traceback", "Error:", "failed"}

func hasErrorIndicator(response string) bool {
	for _, ind := range errorIndicators {
		if strings.Contains(response, ind) {
			return true
		}
	}
	return false
}

// Replanner actions.
const (
	replanContinue = "continue"
	replanRevise   = "revise"
	replanFinish   = "finish"
)

type replanDecision struct {
	Action string `json:"action"`
	Reason string `json:"reason,omitempty"`
	Steps  []struct {
		Title       string `json:"title"`
		Description string `json:"description,omitempty"`
	} `json:"steps,omitempty"`
}

// replannerNode inspects the last step outcome after each executor visit.
// Clean results skip the model entirely when skip_on_success is set; failed
// steps get an LLM ruling that can continue, revise the remaining steps, or
// cut the plan short.
type replannerNode struct {
	cfg  config.ResolvedGraphConfig
	deps Deps
}

func (n *replannerNode) run(ctx context.Context, state *AgentState) (*Interrupt, error) {
	plan := state.Plan
	if plan == nil {
		state.routeHint = End
		return nil, nil
	}
	lastOK := len(state.PastSteps) == 0 ||
		!hasErrorIndicator(state.PastSteps[len(state.PastSteps)-1].Response)

	if n.cfg.Replanner.SkipOnSuccess && lastOK {
		state.routeHint = n.continueOrClose(state)
		return nil, nil
	}

	decision, err := n.decide(ctx, state)
	if err != nil {
		n.deps.Logger.Warn("replanner decision failed, continuing plan %s: %v", plan.ID, err)
		state.routeHint = n.continueOrClose(state)
		return nil, nil
	}

	switch decision.Action {
	case replanRevise:
		if len(decision.Steps) > 0 {
			n.applyRevision(ctx, state, decision)
			state.routeHint = NodeExecutor
			return nil, nil
		}
		state.routeHint = n.continueOrClose(state)
	case replanFinish:
		n.deps.Logger.Info("replanner finished plan %s early: %s", plan.ID, decision.Reason)
		state.routeHint = afterPlanTarget(n.cfg)
	default:
		state.routeHint = n.continueOrClose(state)
	}
	return nil, nil
}

func (n *replannerNode) route(state *AgentState) string {
	return state.routeHint
}

// continueOrClose keeps executing while pending steps and budget remain.
func (n *replannerNode) continueOrClose(state *AgentState) string {
	maxed := n.cfg.Executor.MaxSteps > 0 && len(state.PastSteps) >= n.cfg.Executor.MaxSteps
	if state.Plan != nil && state.Plan.PendingSteps() > 0 && !maxed {
		return NodeExecutor
	}
	return afterPlanTarget(n.cfg)
}

func (n *replannerNode) decide(ctx context.Context, state *AgentState) (*replanDecision, error) {
	plan := state.Plan
	var b strings.Builder
	b.WriteString("你是任务重规划器。以下计划在执行中出现了问题，请决定下一步动作。\n\n")
	b.WriteString("计划: " + plan.Title + "\n\n已执行步骤:\n")
	for i, p := range state.PastSteps {
		fmt.Fprintf(&b, "- 步骤 %d [%s]: %s\n", i+1, p.Title, clipRunes(p.Response, pastStepClip))
	}
	b.WriteString("\n剩余步骤:\n")
	for _, s := range plan.Steps {
		if s.Status != StepCompleted {
			b.WriteString("- " + s.Title + "\n")
		}
	}
	b.WriteString("\n请以 JSON 返回: {\"action\": \"continue|revise|finish\", \"reason\": \"...\", \"steps\": [{\"title\": \"...\", \"description\": \"...\"}]}\n")
	b.WriteString("action 为 revise 时，steps 为替换全部剩余步骤的新步骤；continue 表示按原计划继续；finish 表示提前结束。只返回 JSON。")

	resp, err := n.deps.Client.Complete(ctx, llm.CompletionRequest{
		Messages: []llm.Message{{Role: llm.RoleUser, Content: b.String()}},
	})
	if err != nil {
		return nil, err
	}
	raw, err := llm.ExtractJSON(resp.Message.Content)
	if err != nil {
		return nil, err
	}
	var decision replanDecision
	if err := json.Unmarshal([]byte(raw), &decision); err != nil {
		return nil, fmt.Errorf("decode replan decision: %w", err)
	}
	return &decision, nil
}

// applyRevision replaces the pending steps with the decision's new steps.
// Completed steps and their ids are kept; new steps get fresh ids past the
// highest existing one.
func (n *replannerNode) applyRevision(ctx context.Context, state *AgentState, decision *replanDecision) {
	plan := state.Plan
	var kept []Step
	maxID := 0
	for _, s := range plan.Steps {
		if s.ID > maxID {
			maxID = s.ID
		}
		if s.Status == StepCompleted {
			kept = append(kept, s)
		}
	}
	revised := make([]Step, 0, len(decision.Steps))
	for i, ns := range decision.Steps {
		revised = append(revised, Step{
			ID:          maxID + i + 1,
			Title:       ns.Title,
			Description: ns.Description,
			Status:      StepPending,
		})
	}
	plan.Steps = append(kept, revised...)
	state.CurrentStepIndex = len(kept)

	events.Emit(ctx, events.Event{
		Type:          events.TypePlanRevised,
		PlanID:        plan.ID,
		RevisedSteps:  revised,
		KeepCompleted: len(kept),
		Reason:        decision.Reason,
	})
	n.deps.Logger.Info("plan %s revised: kept %d steps, %d new", plan.ID, len(kept), len(revised))
}
