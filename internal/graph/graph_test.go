package graph

import (
	"context"
	"strings"
	"sync"
	"testing"

	"aide/internal/config"
	"aide/internal/events"
	"aide/internal/llm"
	"aide/internal/shared/logging"
	"aide/internal/tools"
)

type echoTool struct{}

func (echoTool) Name() string               { return "echo" }
func (echoTool) Description() string        { return "echoes its input" }
func (echoTool) Schema() map[string]any     { return map[string]any{"type": "object"} }
func (echoTool) Invoke(_ context.Context, args map[string]any) (string, error) {
	text, _ := args["text"].(string)
	return text, nil
}

func testRegistry(t *testing.T) *tools.Registry {
	t.Helper()
	reg := tools.NewRegistry(logging.Nop())
	reg.Register(echoTool{})
	reg.Register(tools.NewPlanTool(8, RecordCreatedPlan))
	return reg
}

func collectEvents() (context.Context, func() []events.Event) {
	var mu sync.Mutex
	var got []events.Event
	ctx := events.WithEmitter(context.Background(), func(ev events.Event) {
		mu.Lock()
		got = append(got, ev)
		mu.Unlock()
	})
	return ctx, func() []events.Event {
		mu.Lock()
		defer mu.Unlock()
		return append([]events.Event(nil), got...)
	}
}

func eventsOfType(evs []events.Event, typ string) []events.Event {
	var out []events.Event
	for _, ev := range evs {
		if ev.Type == typ {
			out = append(out, ev)
		}
	}
	return out
}

func initialState(userMessage string) *AgentState {
	return &AgentState{Messages: []llm.Message{
		{ID: "system", Role: llm.RoleSystem, Content: "你是数字员工。"},
		{Role: llm.RoleUser, Content: userMessage},
	}}
}

func buildGraph(t *testing.T, cfg config.ResolvedGraphConfig, client llm.Client, reg *tools.Registry) *Graph {
	t.Helper()
	return NewBuilder(Deps{
		Client:   client,
		Registry: reg,
		Logger:   logging.Nop(),
	}).Build(cfg)
}

func TestAgentDirectAnswer(t *testing.T) {
	client := llm.NewMock(llm.Reply("直接回答。"))
	g := buildGraph(t, config.DefaultGraphConfig(), client, testRegistry(t))

	state := initialState("今天天气如何?")
	res, err := g.Execute(context.Background(), state, "")
	if err != nil {
		t.Fatal(err)
	}
	if res.Interrupt != nil {
		t.Fatal("direct answer must not interrupt")
	}
	last := state.Messages[len(state.Messages)-1]
	if last.Role != llm.RoleAssistant || last.Content != "直接回答。" {
		t.Fatalf("last message = %+v", last)
	}
	if state.Plan != nil {
		t.Fatal("no plan expected")
	}
}

func TestAgentToolLoop(t *testing.T) {
	client := llm.NewMock(
		llm.ToolCallReply("c1", "echo", map[string]any{"text": "ping"}),
		llm.Reply("工具返回了 ping"),
	)
	ctx, drain := collectEvents()
	g := buildGraph(t, config.DefaultGraphConfig(), client, testRegistry(t))

	state := initialState("调用 echo")
	if _, err := g.Execute(ctx, state, ""); err != nil {
		t.Fatal(err)
	}

	var toolMsg *llm.Message
	for i := range state.Messages {
		if state.Messages[i].Role == llm.RoleTool {
			toolMsg = &state.Messages[i]
		}
	}
	if toolMsg == nil || toolMsg.Content != "ping" || toolMsg.ToolCallID != "c1" {
		t.Fatalf("tool message = %+v", toolMsg)
	}

	evs := drain()
	starts := eventsOfType(evs, events.TypeToolStart)
	ends := eventsOfType(evs, events.TypeToolEnd)
	if len(starts) != 1 || len(ends) != 1 {
		t.Fatalf("tool events = %d starts, %d ends", len(starts), len(ends))
	}
	if ends[0].Tool != "echo" || ends[0].Output != "ping" {
		t.Fatalf("tool_end = %+v", ends[0])
	}
}

func TestUnknownToolSurfacesError(t *testing.T) {
	client := llm.NewMock(
		llm.ToolCallReply("c1", "no_such_tool", nil),
		llm.Reply("好的"),
	)
	g := buildGraph(t, config.DefaultGraphConfig(), client, testRegistry(t))

	state := initialState("调用未知工具")
	if _, err := g.Execute(context.Background(), state, ""); err != nil {
		t.Fatal(err)
	}
	found := false
	for _, m := range state.Messages {
		if m.Role == llm.RoleTool && m.Content == "[ERROR] 未知工具: no_such_tool" {
			found = true
		}
	}
	if !found {
		t.Fatalf("messages = %+v", state.Messages)
	}
}

func TestPlanExecutionFlow(t *testing.T) {
	client := llm.NewMock(
		llm.ToolCallReply("c1", tools.PlanToolName, map[string]any{
			"title": "部署服务",
			"steps": []any{
				map[string]any{"title": "构建镜像"},
				map[string]any{"title": "发布服务"},
			},
		}),
		llm.Reply("已创建计划"),
		llm.Reply("镜像构建成功"),
		llm.Reply("服务发布成功"),
		llm.Reply("任务已完成：镜像已构建并发布。"),
	)
	ctx, drain := collectEvents()
	g := buildGraph(t, config.DefaultGraphConfig(), client, testRegistry(t))

	state := initialState("帮我部署服务")
	res, err := g.Execute(ctx, state, "")
	if err != nil {
		t.Fatal(err)
	}
	if res.Interrupt != nil {
		t.Fatal("approval is disabled by default, no interrupt expected")
	}
	if state.Summary != "任务已完成：镜像已构建并发布。" {
		t.Fatalf("summary = %q", state.Summary)
	}
	if state.Plan != nil || len(state.PastSteps) != 0 || state.CurrentStepIndex != 0 {
		t.Fatalf("plan state not reset: %+v", state)
	}

	var stepSummaries []string
	for _, m := range state.Messages {
		if m.Role == llm.RoleAssistant && strings.HasPrefix(m.Content, "[步骤 ") {
			stepSummaries = append(stepSummaries, m.Content)
		}
	}
	if len(stepSummaries) != 2 ||
		stepSummaries[0] != "[步骤 1/2 - 构建镜像] 镜像构建成功" ||
		stepSummaries[1] != "[步骤 2/2 - 发布服务] 服务发布成功" {
		t.Fatalf("step summaries = %q", stepSummaries)
	}

	evs := drain()
	if got := eventsOfType(evs, events.TypePlanCreated); len(got) != 1 {
		t.Fatalf("plan_created events = %d", len(got))
	}
	updated := eventsOfType(evs, events.TypePlanUpdated)
	if len(updated) != 2 {
		t.Fatalf("plan_updated events = %d", len(updated))
	}
	for _, ev := range updated {
		if ev.Status != StepCompleted {
			t.Fatalf("plan_updated status = %q", ev.Status)
		}
	}
	// Clean steps skip the replanner model call: plan + agent reply +
	// 2 steps + summary.
	if calls := client.Calls(); len(calls) != 5 {
		t.Fatalf("llm calls = %d", len(calls))
	}
}

func TestApprovalInterruptAndDenial(t *testing.T) {
	client := llm.NewMock(
		llm.ToolCallReply("c1", tools.PlanToolName, map[string]any{
			"title": "清理磁盘",
			"steps": []any{map[string]any{"title": "删除旧日志"}},
		}),
		llm.Reply("已创建计划"),
	)
	cfg := config.DefaultGraphConfig()
	cfg.Approval.Enabled = true
	ctx, drain := collectEvents()
	g := buildGraph(t, cfg, client, testRegistry(t))

	state := initialState("清理磁盘空间")
	res, err := g.Execute(ctx, state, "")
	if err != nil {
		t.Fatal(err)
	}
	if res.Interrupt == nil || res.InterruptNode != NodeApproval {
		t.Fatalf("res = %+v", res)
	}
	if res.Interrupt.Payload["plan_id"] != state.Plan.ID || res.Interrupt.Payload["title"] != "清理磁盘" {
		t.Fatalf("payload = %+v", res.Interrupt.Payload)
	}

	// Deny with feedback and resume at the approval node.
	state.ApprovalDecision = &ApprovalDecision{Approved: false, Feedback: "先备份"}
	res, err = g.Execute(ctx, state, NodeApproval)
	if err != nil {
		t.Fatal(err)
	}
	if res.Interrupt != nil {
		t.Fatal("denial must finish the run")
	}
	last := state.Messages[len(state.Messages)-1]
	if !strings.HasPrefix(last.Content, "用户已拒绝执行该计划。") || !strings.Contains(last.Content, "先备份") {
		t.Fatalf("last message = %q", last.Content)
	}
	if state.Plan != nil {
		t.Fatal("denied plan must be cleared")
	}

	results := eventsOfType(drain(), events.TypePlanApprovalResult)
	if len(results) != 1 || results[0].Approved == nil || *results[0].Approved {
		t.Fatalf("approval result events = %+v", results)
	}
	// No executor or summarizer calls after the denial.
	if calls := client.Calls(); len(calls) != 2 {
		t.Fatalf("llm calls = %d", len(calls))
	}
}

func TestApprovalApproveRunsPlan(t *testing.T) {
	client := llm.NewMock(
		llm.ToolCallReply("c1", tools.PlanToolName, map[string]any{
			"title": "整理笔记",
			"steps": []any{map[string]any{"title": "归档旧笔记"}},
		}),
		llm.Reply("已创建计划"),
		llm.Reply("归档完成"),
		llm.Reply("笔记已整理完毕。"),
	)
	cfg := config.DefaultGraphConfig()
	cfg.Approval.Enabled = true
	g := buildGraph(t, cfg, client, testRegistry(t))

	state := initialState("整理我的笔记")
	res, err := g.Execute(context.Background(), state, "")
	if err != nil {
		t.Fatal(err)
	}
	if res.Interrupt == nil {
		t.Fatal("expected approval interrupt")
	}

	state.ApprovalDecision = &ApprovalDecision{Approved: true}
	res, err = g.Execute(context.Background(), state, NodeApproval)
	if err != nil {
		t.Fatal(err)
	}
	if res.Interrupt != nil {
		t.Fatal("approved run must finish")
	}
	if state.Summary != "笔记已整理完毕。" {
		t.Fatalf("summary = %q", state.Summary)
	}
}

func TestReplannerRevisesAfterFailure(t *testing.T) {
	client := llm.NewMock(
		llm.ToolCallReply("c1", tools.PlanToolName, map[string]any{
			"title": "部署服务",
			"steps": []any{
				map[string]any{"title": "构建镜像"},
				map[string]any{"title": "发布服务"},
			},
		}),
		llm.Reply("已创建计划"),
		llm.Reply("Error: 构建失败，基础镜像拉取超时"),
		llm.Reply(`{"action": "revise", "reason": "构建失败", "steps": [{"title": "使用镜像代理重试构建"}, {"title": "发布服务"}]}`),
		llm.Reply("代理构建成功"),
		llm.Reply("发布成功"),
		llm.Reply("经过重试，服务已部署。"),
	)
	ctx, drain := collectEvents()
	g := buildGraph(t, config.DefaultGraphConfig(), client, testRegistry(t))

	state := initialState("部署服务")
	res, err := g.Execute(ctx, state, "")
	if err != nil {
		t.Fatal(err)
	}
	if res.Interrupt != nil {
		t.Fatal("unexpected interrupt")
	}
	if state.Summary != "经过重试，服务已部署。" {
		t.Fatalf("summary = %q", state.Summary)
	}

	revised := eventsOfType(drain(), events.TypePlanRevised)
	if len(revised) != 1 {
		t.Fatalf("plan_revised events = %d", len(revised))
	}
	if revised[0].KeepCompleted != 1 || revised[0].Reason != "构建失败" {
		t.Fatalf("plan_revised = %+v", revised[0])
	}
	steps, ok := revised[0].RevisedSteps.([]Step)
	if !ok || len(steps) != 2 {
		t.Fatalf("revised steps = %+v", revised[0].RevisedSteps)
	}
	// New step ids continue past the original plan's highest id.
	if steps[0].ID != 3 || steps[1].ID != 4 {
		t.Fatalf("revised ids = %d, %d", steps[0].ID, steps[1].ID)
	}
}

func TestExecutorStopsAtStepBudget(t *testing.T) {
	client := llm.NewMock(
		llm.ToolCallReply("c1", tools.PlanToolName, map[string]any{
			"title": "长计划",
			"steps": []any{
				map[string]any{"title": "步骤一"},
				map[string]any{"title": "步骤二"},
				map[string]any{"title": "步骤三"},
			},
		}),
		llm.Reply("已创建计划"),
		llm.Reply("一完成"),
		llm.Reply("二完成"),
		llm.Reply("总结：预算内完成了两步。"),
	)
	cfg := config.DefaultGraphConfig()
	cfg.Executor.MaxSteps = 2
	g := buildGraph(t, cfg, client, testRegistry(t))

	state := initialState("执行长计划")
	if _, err := g.Execute(context.Background(), state, ""); err != nil {
		t.Fatal(err)
	}
	if state.Summary != "总结：预算内完成了两步。" {
		t.Fatalf("summary = %q", state.Summary)
	}
	if calls := client.Calls(); len(calls) != 5 {
		t.Fatalf("llm calls = %d", len(calls))
	}
}

func TestRecursionLimit(t *testing.T) {
	g := newGraph("loop", 5, logging.Nop())
	g.addNode("loop",
		func(context.Context, *AgentState) (*Interrupt, error) { return nil, nil },
		func(*AgentState) string { return "loop" },
	)
	_, err := g.Execute(context.Background(), &AgentState{}, "")
	if err == nil || !strings.Contains(err.Error(), "recursion limit exceeded (5)") {
		t.Fatalf("err = %v", err)
	}
}

func TestCheckpointerResumeOnce(t *testing.T) {
	cp := NewCheckpointer()
	state := initialState("hello")
	cp.Save("s1", state, NodeApproval)

	if !cp.Pending("s1") {
		t.Fatal("checkpoint must be pending")
	}
	taken, ok := cp.Take("s1")
	if !ok || taken.Node != NodeApproval || len(taken.State.Messages) != 2 {
		t.Fatalf("taken = %+v, ok = %v", taken, ok)
	}
	// A checkpoint resumes exactly once.
	if _, ok := cp.Take("s1"); ok {
		t.Fatal("second take must miss")
	}

	// The saved state is a snapshot, not an alias.
	state.Messages = append(state.Messages, llm.Message{Role: llm.RoleUser, Content: "more"})
	if len(taken.State.Messages) != 2 {
		t.Fatal("checkpoint state must be isolated from the live state")
	}
}

func TestAddMessagesReplacesById(t *testing.T) {
	existing := []llm.Message{
		{ID: "system", Role: llm.RoleSystem, Content: "旧系统提示"},
		{Role: llm.RoleUser, Content: "你好"},
	}
	out := AddMessages(existing, []llm.Message{
		{ID: "system", Role: llm.RoleSystem, Content: "新系统提示"},
		{Role: llm.RoleAssistant, Content: "回复"},
	})
	if len(out) != 3 {
		t.Fatalf("len = %d", len(out))
	}
	if out[0].Content != "新系统提示" {
		t.Fatalf("system = %q", out[0].Content)
	}
	if out[2].Content != "回复" {
		t.Fatalf("appended = %q", out[2].Content)
	}
}

func TestBuilderCachesByFingerprint(t *testing.T) {
	b := NewBuilder(Deps{Client: llm.NewMock(), Registry: testRegistry(t), Logger: logging.Nop()})
	cfg := config.DefaultGraphConfig()
	if b.Build(cfg) != b.Build(cfg) {
		t.Fatal("same config must reuse the compiled graph")
	}
	other := cfg
	other.Approval.Enabled = true
	if b.Build(cfg) == b.Build(other) {
		t.Fatal("different configs must compile separately")
	}
}
