package tools

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// PlanStep is one step of a created plan.
type PlanStep struct {
	ID          int
	Title       string
	Description string
}

// CreatedPlan is what the planning tool hands to its sink.
type CreatedPlan struct {
	ID    string
	Title string
	Steps []PlanStep
}

// PlanTool lets the model create a multi-step execution plan. The plan is
// delivered through the sink; the tool result only acknowledges creation.
type PlanTool struct {
	maxSteps int
	sink     func(ctx context.Context, plan CreatedPlan)
}

func NewPlanTool(maxSteps int, sink func(ctx context.Context, plan CreatedPlan)) *PlanTool {
	if maxSteps <= 0 {
		maxSteps = 8
	}
	return &PlanTool{maxSteps: maxSteps, sink: sink}
}

func (t *PlanTool) Name() string { return PlanToolName }

func (t *PlanTool) Description() string {
	return "Create a step-by-step plan for a complex task. Use only when the task needs multiple distinct stages."
}

func (t *PlanTool) Schema() map[string]any {
	return objectSchema(map[string]any{
		"title": map[string]any{
			"type":        "string",
			"description": "Short title of the plan",
		},
		"steps": map[string]any{
			"type":        "array",
			"description": fmt.Sprintf("Ordered plan steps (max %d)", t.maxSteps),
			"items": map[string]any{
				"type": "object",
				"properties": map[string]any{
					"title":       map[string]any{"type": "string"},
					"description": map[string]any{"type": "string"},
				},
				"required": []string{"title"},
			},
		},
	}, "title", "steps")
}

func (t *PlanTool) Invoke(ctx context.Context, args map[string]any) (string, error) {
	title := strings.TrimSpace(stringArg(args, "title"))
	if title == "" {
		return "", errors.New("title is required")
	}
	rawSteps, ok := args["steps"].([]any)
	if !ok || len(rawSteps) == 0 {
		return "", errors.New("steps must be a non-empty array")
	}
	if len(rawSteps) > t.maxSteps {
		return "", fmt.Errorf("too many steps: %d (max %d)", len(rawSteps), t.maxSteps)
	}

	steps := make([]PlanStep, 0, len(rawSteps))
	for i, raw := range rawSteps {
		step := PlanStep{ID: i + 1}
		switch v := raw.(type) {
		case string:
			step.Title = strings.TrimSpace(v)
		case map[string]any:
			step.Title = strings.TrimSpace(stringArg(v, "title"))
			step.Description = strings.TrimSpace(stringArg(v, "description"))
		}
		if step.Title == "" {
			return "", fmt.Errorf("step %d has no title", i+1)
		}
		steps = append(steps, step)
	}

	plan := CreatedPlan{
		ID:    strings.ReplaceAll(uuid.NewString(), "-", "")[:8],
		Title: title,
		Steps: steps,
	}
	if t.sink != nil {
		t.sink(ctx, plan)
	}
	return fmt.Sprintf("Plan created: plan_id=%s, %d steps", plan.ID, len(steps)), nil
}
