package llm

import (
	"context"
	"strings"
	"testing"
)

func TestParseToolArgs(t *testing.T) {
	args, err := ParseToolArgs(`{"title":"x","steps":["a","b"]}`)
	if err != nil {
		t.Fatalf("valid json: %v", err)
	}
	if args["title"] != "x" {
		t.Fatalf("title = %v", args["title"])
	}

	// Trailing comma and single quotes are common model mistakes; jsonrepair
	// should recover both.
	args, err = ParseToolArgs(`{'title': 'y', 'steps': ['a',],}`)
	if err != nil {
		t.Fatalf("repairable json: %v", err)
	}
	if args["title"] != "y" {
		t.Fatalf("repaired title = %v", args["title"])
	}

	args, err = ParseToolArgs("")
	if err != nil || len(args) != 0 {
		t.Fatalf("empty args should decode to empty map, got %v, %v", args, err)
	}
}

func TestExtractJSON(t *testing.T) {
	fenced := "```json\n{\"action\": \"continue\"}\n```"
	out, err := ExtractJSON(fenced)
	if err != nil {
		t.Fatalf("fenced: %v", err)
	}
	if !strings.Contains(out, `"action"`) {
		t.Fatalf("extracted %q", out)
	}

	plain := `{"action": "finish"}`
	out, err = ExtractJSON(plain)
	if err != nil || out != plain {
		t.Fatalf("plain json round-trip: %q, %v", out, err)
	}
}

func TestMockScript(t *testing.T) {
	mock := NewMock(
		ToolCallReply("c1", "terminal", map[string]any{"command": "ls"}),
		Reply("done"),
	)
	ctx := context.Background()

	first, err := mock.Complete(ctx, CompletionRequest{})
	if err != nil {
		t.Fatal(err)
	}
	if len(first.Message.ToolCalls) != 1 || first.Message.ToolCalls[0].Name != "terminal" {
		t.Fatalf("first response = %+v", first.Message)
	}

	var chunks []string
	second, err := mock.CompleteStream(ctx, CompletionRequest{}, StreamCallbacks{
		OnContentDelta: func(d string) { chunks = append(chunks, d) },
	})
	if err != nil {
		t.Fatal(err)
	}
	if second.Message.Content != "done" {
		t.Fatalf("second content = %q", second.Message.Content)
	}
	if strings.Join(chunks, "") != "done" {
		t.Fatalf("stream chunks = %v", chunks)
	}

	// Exhausted script repeats the last reply.
	third, _ := mock.Complete(ctx, CompletionRequest{})
	if third.Message.Content != "done" {
		t.Fatalf("third content = %q", third.Message.Content)
	}
	if len(mock.Calls()) != 3 {
		t.Fatalf("calls = %d", len(mock.Calls()))
	}
}
