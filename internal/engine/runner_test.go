package engine

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"aide/internal/cache"
	"aide/internal/config"
	"aide/internal/events"
	"aide/internal/graph"
	"aide/internal/llm"
	"aide/internal/memory"
	"aide/internal/shared/logging"
	"aide/internal/tools"
)

func testRunner(t *testing.T, client llm.Client, mutate func(*RunnerOptions)) *Runner {
	t.Helper()
	reg := tools.NewRegistry(logging.Nop())
	reg.Register(tools.NewPlanTool(8, graph.RecordCreatedPlan))
	opts := RunnerOptions{
		Config:      config.Default(),
		GraphConfig: config.DefaultGraphConfig(),
		Client:      client,
		GraphBuilder: graph.NewBuilder(graph.Deps{
			Client:   client,
			Registry: reg,
			Logger:   logging.Nop(),
		}),
		Logger: logging.Nop(),
	}
	if mutate != nil {
		mutate(&opts)
	}
	return NewRunner(opts)
}

func drain(t *testing.T, ch <-chan events.Event) []events.Event {
	t.Helper()
	var got []events.Event
	timeout := time.After(10 * time.Second)
	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				return got
			}
			got = append(got, ev)
		case <-timeout:
			t.Fatalf("stream did not finish; got %d events", len(got))
		}
	}
}

func ofType(evs []events.Event, typ string) []events.Event {
	var out []events.Event
	for _, ev := range evs {
		if ev.Type == typ {
			out = append(out, ev)
		}
	}
	return out
}

func TestRunSimpleQA(t *testing.T) {
	client := llm.NewMock(llm.Reply("你好，我能帮你什么？"))
	runner := testRunner(t, client, nil)

	ch, err := runner.Run(context.Background(), Request{
		SessionID: "s1", Message: "hi", Stream: true,
	})
	require.NoError(t, err)
	evs := drain(t, ch)

	var text strings.Builder
	for _, ev := range ofType(evs, events.TypeToken) {
		text.WriteString(ev.Content)
	}
	require.Equal(t, "你好，我能帮你什么？", text.String())
	require.Empty(t, ofType(evs, events.TypePlanCreated))
	require.Equal(t, events.TypeDone, evs[len(evs)-1].Type)
}

func TestRunRejectsEmptyMessage(t *testing.T) {
	runner := testRunner(t, llm.NewMock(), nil)
	_, err := runner.Run(context.Background(), Request{SessionID: "s1", Message: "  "})
	require.ErrorIs(t, err, ErrEmptyMessage)
}

func TestRunPlanApprovalDenied(t *testing.T) {
	client := llm.NewMock(
		llm.ToolCallReply("c1", tools.PlanToolName, map[string]any{
			"title": "清理磁盘",
			"steps": []any{map[string]any{"title": "删除旧日志"}},
		}),
		llm.Reply("已创建计划"),
	)
	runner := testRunner(t, client, func(opts *RunnerOptions) {
		opts.GraphConfig.Approval.Enabled = true
	})

	ch, err := runner.Run(context.Background(), Request{SessionID: "s1", Message: "清理磁盘"})
	require.NoError(t, err)

	var evs []events.Event
	for ev := range ch {
		evs = append(evs, ev)
		if ev.Type == events.TypePlanApprovalRequest {
			require.NotEmpty(t, ev.PlanID)
			require.Equal(t, "清理磁盘", ev.Title)
			require.True(t, runner.ResolvePlanApproval(ev.PlanID, false, "不要动日志"))
			// Idempotence: the second resolve misses.
			require.False(t, runner.ResolvePlanApproval(ev.PlanID, false, ""))
		}
	}

	require.Len(t, ofType(evs, events.TypePlanApprovalRequest), 1)
	require.Empty(t, ofType(evs, events.TypePlanUpdated), "no step may execute after denial")
	require.Equal(t, events.TypeDone, evs[len(evs)-1].Type)
	results := ofType(evs, events.TypePlanApprovalResult)
	require.Len(t, results, 1)
	require.NotNil(t, results[0].Approved)
	require.False(t, *results[0].Approved)
	// Only the plan-creating agent turn hit the model.
	require.Len(t, client.Calls(), 2)
}

func TestRunPlanApprovalTimeoutDenies(t *testing.T) {
	client := llm.NewMock(
		llm.ToolCallReply("c1", tools.PlanToolName, map[string]any{
			"title": "部署",
			"steps": []any{map[string]any{"title": "发布"}},
		}),
		llm.Reply("已创建计划"),
	)
	runner := testRunner(t, client, func(opts *RunnerOptions) {
		opts.GraphConfig.Approval.Enabled = true
		opts.PlanApprovalTimeout = 50 * time.Millisecond
	})

	ch, err := runner.Run(context.Background(), Request{SessionID: "s1", Message: "部署"})
	require.NoError(t, err)
	evs := drain(t, ch)

	require.Equal(t, events.TypeDone, evs[len(evs)-1].Type)
	require.Empty(t, ofType(evs, events.TypePlanUpdated))
	require.Len(t, client.Calls(), 2)
}

func TestRunPlannedTaskEndToEnd(t *testing.T) {
	client := llm.NewMock(
		llm.ToolCallReply("c1", tools.PlanToolName, map[string]any{
			"title": "整理资料",
			"steps": []any{
				map[string]any{"title": "收集文件"},
				map[string]any{"title": "写摘要"},
			},
		}),
		llm.Reply("已创建计划"),
		llm.Reply("文件已收集"),
		llm.Reply("摘要已完成"),
		llm.Reply("资料整理完毕。"),
	)
	runner := testRunner(t, client, nil)

	ch, err := runner.Run(context.Background(), Request{SessionID: "s1", Message: "整理资料"})
	require.NoError(t, err)
	evs := drain(t, ch)

	require.Len(t, ofType(evs, events.TypePlanCreated), 1)
	require.Len(t, ofType(evs, events.TypePlanUpdated), 2)
	require.Equal(t, events.TypeDone, evs[len(evs)-1].Type)

	// plan_created precedes the first plan_updated.
	firstCreated, firstUpdated := -1, -1
	for i, ev := range evs {
		if ev.Type == events.TypePlanCreated && firstCreated < 0 {
			firstCreated = i
		}
		if ev.Type == events.TypePlanUpdated && firstUpdated < 0 {
			firstUpdated = i
		}
	}
	require.Less(t, firstCreated, firstUpdated)
}

func TestRunLLMCacheReplay(t *testing.T) {
	client := llm.NewMock(llm.Reply("缓存我"))
	store := memory.NewStore(t.TempDir(), logging.Nop())
	diskStore := cache.NewStore(cache.Options{Name: "llm", Dir: t.TempDir(), Logger: logging.Nop()})
	llmCache := cache.NewLLMCache(diskStore, true)
	runner := testRunner(t, client, func(opts *RunnerOptions) {
		opts.Store = store
		opts.LLMCache = llmCache
	})

	req := Request{SessionID: "s1", Message: "重复的问题"}
	first := drain(t, mustRun(t, runner, req))
	require.Equal(t, events.TypeDone, first[len(first)-1].Type)
	callsAfterFirst := len(client.Calls())

	second := drain(t, mustRun(t, runner, req))
	require.Equal(t, events.TypeDone, second[len(second)-1].Type)
	require.Len(t, client.Calls(), callsAfterFirst, "second run must replay from cache")
	for _, ev := range second[:len(second)-1] {
		require.True(t, ev.Cached, "replayed event %s must be tagged cached", ev.Type)
	}

	// A memory write changes the fingerprint, forcing a fresh generation.
	_, _, err := store.Add("用户喜欢简洁回答", "preferences", 0.8, memory.AddOptions{})
	require.NoError(t, err)
	drain(t, mustRun(t, runner, req))
	require.Greater(t, len(client.Calls()), callsAfterFirst)
}

func mustRun(t *testing.T, runner *Runner, req Request) <-chan events.Event {
	t.Helper()
	ch, err := runner.Run(context.Background(), req)
	require.NoError(t, err)
	return ch
}

func TestRunEmitsErrorEvent(t *testing.T) {
	client := llm.NewMock()
	client.Fail(context.Canceled)
	runner := testRunner(t, client, nil)

	evs := drain(t, mustRun(t, runner, Request{SessionID: "s1", Message: "hi"}))
	require.NotEmpty(t, evs)
	require.Equal(t, events.TypeError, evs[len(evs)-1].Type)
}

func TestRunSchedulesReflection(t *testing.T) {
	agentClient := llm.NewMock(llm.Reply("尝试过了，工具报错。"))
	reflectClient := llm.NewMock(llm.Reply(
		`[{"action": "ADD", "content": "终端工具对长路径会超时，应先 cd 再执行", "category": "procedural", "salience": 0.7}]`,
	))
	store := memory.NewStore(t.TempDir(), logging.Nop())
	runner := testRunner(t, agentClient, func(opts *RunnerOptions) {
		opts.Store = store
		opts.Reflector = memory.NewReflector(store, reflectClient, logging.Nop())
	})

	drain(t, mustRun(t, runner, Request{SessionID: "sess-7", Message: "执行构建", Reflect: true}))
	runner.WaitReflections()

	var procedural []memory.Entry
	for _, e := range store.Entries() {
		if e.Category == memory.CategoryProcedural {
			procedural = append(procedural, e)
		}
	}
	require.Len(t, procedural, 1)
	require.Equal(t, "sess-7", procedural[0].Context["learned_from"])
}

func TestRunCancellation(t *testing.T) {
	client := llm.NewMock(
		llm.ToolCallReply("c1", tools.PlanToolName, map[string]any{
			"title": "等待批准",
			"steps": []any{map[string]any{"title": "第一步"}},
		}),
		llm.Reply("已创建计划"),
	)
	runner := testRunner(t, client, func(opts *RunnerOptions) {
		opts.GraphConfig.Approval.Enabled = true
	})

	ctx, cancel := context.WithCancel(context.Background())
	ch, err := runner.Run(ctx, Request{SessionID: "s1", Message: "开始"})
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for ev := range ch {
			if ev.Type == events.TypePlanApprovalRequest {
				cancel()
			}
		}
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("cancelled run did not release the stream")
	}
}
