package memory

import (
	"context"
	"strings"
	"testing"

	"aide/internal/events"
	"aide/internal/llm"
	"aide/internal/shared/logging"
)

func TestCompressorMergesCluster(t *testing.T) {
	s := newTestStore(t)
	a, _, _ := s.Add("用户偏好简洁的中文回复", CategoryPreferences, 0.6, AddOptions{SkipDedup: true})
	b, _, _ := s.Add("用户偏好简洁的中文回答", CategoryPreferences, 0.8, AddOptions{SkipDedup: true})
	c, _, _ := s.Add("生产数据库是 PostgreSQL 15", CategoryFacts, 0.9, AddOptions{SkipDedup: true})

	// Bump access counts so the sum is observable on the merged entry.
	s.RecordAccess(a.ID, b.ID)

	client := llm.NewMock(llm.Reply(`{"content": "用户偏好简洁的中文回复", "salience": 0.85}`))
	comp := NewCompressor(s, client, nil, logging.Nop())

	var evs []events.Event
	if err := comp.Run(context.Background(), func(ev events.Event) { evs = append(evs, ev) }); err != nil {
		t.Fatal(err)
	}

	entries := s.Entries()
	if len(entries) != 2 {
		t.Fatalf("got %d entries: %+v", len(entries), entries)
	}
	var merged *Entry
	for _, e := range entries {
		if len(e.MergedFrom) > 0 {
			merged = &e
		}
	}
	if merged == nil {
		t.Fatal("no merged entry")
	}
	if merged.Content != "用户偏好简洁的中文回复" || merged.Salience != 0.85 {
		t.Fatalf("merged = %+v", merged)
	}
	if merged.AccessCount != 2 {
		t.Fatalf("access count = %d", merged.AccessCount)
	}
	if len(merged.MergedFrom) != 2 {
		t.Fatalf("merged_from = %v", merged.MergedFrom)
	}
	if _, ok := s.Get(c.ID); !ok {
		t.Fatal("unrelated entry must survive")
	}

	var resultMsg string
	for _, ev := range evs {
		if ev.Type == events.TypeResult {
			resultMsg = ev.Message
		}
	}
	if !strings.Contains(resultMsg, "压缩完成") {
		t.Fatalf("events = %+v", evs)
	}
}

func TestCompressorSkipsSmallStore(t *testing.T) {
	s := newTestStore(t)
	_, _, _ = s.Add("唯一的一条记忆", CategoryGeneral, 0.5, AddOptions{})

	comp := NewCompressor(s, nil, nil, logging.Nop())
	var evs []events.Event
	if err := comp.Run(context.Background(), func(ev events.Event) { evs = append(evs, ev) }); err != nil {
		t.Fatal(err)
	}
	if len(evs) != 1 || !strings.Contains(evs[0].Message, "跳过压缩") {
		t.Fatalf("events = %+v", evs)
	}
	if len(s.Entries()) != 1 {
		t.Fatal("store must be untouched")
	}
}
