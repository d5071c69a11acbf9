package prompt

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"aide/internal/cache"
	"aide/internal/memory"
	"aide/internal/shared/logging"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func newTestBuilder(t *testing.T, workspace string) *Builder {
	t.Helper()
	store := memory.NewStore(t.TempDir(), logging.Nop())
	return NewBuilder(Options{
		WorkspaceDir: workspace,
		SkillsDir:    filepath.Join(workspace, "skills"),
		Store:        store,
		Searcher:     memory.NewSearcher(store, "", nil, logging.Nop()),
		Logger:       logging.Nop(),
	})
}

func TestBuildSectionsAndPlaceholders(t *testing.T) {
	workspace := t.TempDir()
	writeFile(t, filepath.Join(workspace, "SOUL.md"), "你是一个严谨的助理")
	writeFile(t, filepath.Join(workspace, "IDENTITY.md"), "会话: {{SESSION_ID}}\n目录: {{WORKING_DIR}}")
	writeFile(t, filepath.Join(workspace, "skills", "report", "SKILL.md"),
		"---\nname: report\ndescription: 写报告\n---\n")

	b := newTestBuilder(t, workspace)
	out := b.Build(context.Background(), "sess-42", "/work", "")

	if !strings.Contains(out, MarkerSoul+"\n你是一个严谨的助理") {
		t.Fatalf("soul section missing:\n%s", out)
	}
	if !strings.Contains(out, "会话: sess-42") || !strings.Contains(out, "目录: /work") {
		t.Fatalf("placeholders not filled:\n%s", out)
	}
	if !strings.Contains(out, MarkerSkills) || !strings.Contains(out, "<name>report</name>") {
		t.Fatalf("skills snapshot missing:\n%s", out)
	}
	if strings.Contains(out, MarkerUser) {
		t.Fatal("missing persona files must not emit a section")
	}
	if !strings.Contains(out, "\n\n---\n\n") {
		t.Fatal("sections must be separated")
	}
}

func TestBuildMemorySection(t *testing.T) {
	workspace := t.TempDir()
	writeFile(t, filepath.Join(workspace, "SOUL.md"), "助理")

	store := memory.NewStore(t.TempDir(), logging.Nop())
	if _, _, err := store.Add("用户偏好中文", memory.CategoryPreferences, 0.9, memory.AddOptions{}); err != nil {
		t.Fatal(err)
	}
	b := NewBuilder(Options{
		WorkspaceDir: workspace,
		SkillsDir:    filepath.Join(workspace, "skills"),
		Store:        store,
		Searcher:     memory.NewSearcher(store, "", nil, logging.Nop()),
		Logger:       logging.Nop(),
	})
	out := b.Build(context.Background(), "s", "/w", "用户偏好")
	if !strings.Contains(out, MarkerMemory) {
		t.Fatalf("memory marker missing:\n%s", out)
	}
	if !strings.Contains(out, "用户偏好中文") {
		t.Fatalf("memory content missing:\n%s", out)
	}
	if !strings.Contains(out, "## 相关记忆") {
		t.Fatalf("implicit recall missing:\n%s", out)
	}
}

func TestBuildUsesPromptCache(t *testing.T) {
	workspace := t.TempDir()
	soul := filepath.Join(workspace, "SOUL.md")
	writeFile(t, soul, "v1")

	cacheStore := cache.NewStore(cache.Options{Name: "prompt", Dir: t.TempDir(), Logger: logging.Nop()})
	pc := cache.NewPromptCache(cacheStore, true)
	b := NewBuilder(Options{
		WorkspaceDir: workspace,
		SkillsDir:    filepath.Join(workspace, "skills"),
		PromptCache:  pc,
		Logger:       logging.Nop(),
	})

	first := b.Build(context.Background(), "s", "/w", "")
	if !strings.Contains(first, "v1") {
		t.Fatalf("first build:\n%s", first)
	}
	// Rewrite the file with a future mtime; the fingerprint must miss.
	writeFile(t, soul, "v2")
	future := time.Now().Add(2 * time.Second)
	if err := os.Chtimes(soul, future, future); err != nil {
		t.Fatal(err)
	}
	second := b.Build(context.Background(), "s", "/w", "")
	if !strings.Contains(second, "v2") {
		t.Fatalf("stale prompt served after file change:\n%s", second)
	}
}

func TestBuildTruncatesLongPrompt(t *testing.T) {
	workspace := t.TempDir()
	writeFile(t, filepath.Join(workspace, "SOUL.md"), strings.Repeat("长内容。", 3000))

	b := NewBuilder(Options{
		WorkspaceDir:   workspace,
		SkillsDir:      filepath.Join(workspace, "skills"),
		MaxPromptChars: 500,
		Logger:         logging.Nop(),
	})
	out := b.Build(context.Background(), "s", "/w", "")
	if !strings.HasSuffix(out, "...[truncated]") {
		t.Fatalf("missing truncation suffix: %q", out[len(out)-40:])
	}
	if len([]rune(out)) > 500+len([]rune("\n\n...[truncated]")) {
		t.Fatalf("prompt too long: %d runes", len([]rune(out)))
	}
}
