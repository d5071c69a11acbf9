package memory

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"aide/internal/shared/logging"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	return NewStore(t.TempDir(), logging.Nop())
}

func TestAddAndDedup(t *testing.T) {
	s := newTestStore(t)
	first, added, err := s.Add("用户喜欢简洁的回答风格", CategoryPreferences, 0.9, AddOptions{Source: "test"})
	if err != nil || !added {
		t.Fatalf("first add: %v added=%v", err, added)
	}
	// A near-identical write must hit the duplicate and bump its access.
	dup, added, err := s.Add("用户喜欢简洁的回答风格。", CategoryPreferences, 0.5, AddOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if added {
		t.Fatal("near-duplicate must not create a new entry")
	}
	if dup.ID != first.ID || dup.AccessCount != 1 {
		t.Fatalf("dup = %+v", dup)
	}
	if entries := s.Entries(); len(entries) != 1 {
		t.Fatalf("store has %d entries", len(entries))
	}

	// SkipDedup bypasses the check.
	_, added, err = s.Add("用户喜欢简洁的回答风格", CategoryPreferences, 0.9, AddOptions{SkipDedup: true})
	if err != nil || !added {
		t.Fatalf("skip-dedup add: %v added=%v", err, added)
	}
}

func TestAddNormalizesAndClamps(t *testing.T) {
	s := newTestStore(t)
	e, _, err := s.Add("something", "Nonsense", 1.7, AddOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if e.Category != CategoryGeneral {
		t.Fatalf("category = %q", e.Category)
	}
	if e.Salience != 1 {
		t.Fatalf("salience = %v", e.Salience)
	}
	if len(e.ID) != 8 {
		t.Fatalf("id = %q", e.ID)
	}
}

func TestChangeHooksAndBackup(t *testing.T) {
	dir := t.TempDir()
	s := NewStore(dir, logging.Nop())
	fired := 0
	s.OnChange(func() { fired++ })

	if _, _, err := s.Add("first", CategoryFacts, 0.5, AddOptions{}); err != nil {
		t.Fatal(err)
	}
	if _, _, err := s.Add("second unrelated content here", CategoryFacts, 0.5, AddOptions{}); err != nil {
		t.Fatal(err)
	}
	if fired != 2 {
		t.Fatalf("hooks fired %d times", fired)
	}
	if _, err := os.Stat(filepath.Join(dir, "memory.json.bak")); err != nil {
		t.Fatalf("backup missing: %v", err)
	}
}

func TestUpdateAndDelete(t *testing.T) {
	s := newTestStore(t)
	e, _, _ := s.Add("original", CategoryFacts, 0.5, AddOptions{})

	content := "revised"
	salience := 0.9
	updated, err := s.Update(e.ID, UpdateFields{Content: &content, Salience: &salience})
	if err != nil {
		t.Fatal(err)
	}
	if updated.Content != "revised" || updated.Salience != 0.9 {
		t.Fatalf("updated = %+v", updated)
	}
	if err := s.Delete(e.ID); err != nil {
		t.Fatal(err)
	}
	if err := s.Delete(e.ID); err == nil {
		t.Fatal("double delete must fail")
	}
}

func TestReadMemoryProjection(t *testing.T) {
	s := newTestStore(t)
	_ = s.SetRollingSummary("长期协作的工程师用户")
	_, _, _ = s.Add("偏好中文交流", CategoryPreferences, 0.95, AddOptions{})
	_, _, _ = s.Add("项目使用 PostgreSQL 数据库", CategoryFacts, 0.4, AddOptions{})

	out := s.ReadMemory()
	if !strings.Contains(out, "## 概要\n长期协作的工程师用户") {
		t.Fatalf("missing summary:\n%s", out)
	}
	if !strings.Contains(out, "## 偏好\n- 偏好中文交流 ⭐") {
		t.Fatalf("high-salience preference not starred:\n%s", out)
	}
	if !strings.Contains(out, "## 事实\n- 项目使用 PostgreSQL 数据库") {
		t.Fatalf("facts section wrong:\n%s", out)
	}
	if strings.Index(out, "## 偏好") > strings.Index(out, "## 事实") {
		t.Fatal("preferences must come before facts")
	}
}

func TestReadMemorySkipsArchived(t *testing.T) {
	s := newTestStore(t)
	e, _, _ := s.Add("old stale info", CategoryFacts, 0.9, AddOptions{})
	archived := true
	if _, err := s.Update(e.ID, UpdateFields{Archived: &archived}); err != nil {
		t.Fatal(err)
	}
	if strings.Contains(s.ReadMemory(), "old stale info") {
		t.Fatal("archived entries must not surface")
	}
}

func TestDailyContext(t *testing.T) {
	s := newTestStore(t)
	base := time.Date(2026, 3, 10, 14, 30, 0, 0, time.UTC)

	s.now = func() time.Time { return base.AddDate(0, 0, -1) }
	if err := s.AppendDailyLog("完成了数据迁移", "task"); err != nil {
		t.Fatal(err)
	}
	s.now = func() time.Time { return base }
	if err := s.AppendDailyLog("开始性能调优", "task"); err != nil {
		t.Fatal(err)
	}

	out := s.DailyContext(2)
	if !strings.Contains(out, "### 今天 (2026-03-10)") {
		t.Fatalf("missing today header:\n%s", out)
	}
	if !strings.Contains(out, "### 昨天 (2026-03-09)") {
		t.Fatalf("missing yesterday header:\n%s", out)
	}
	if !strings.Contains(out, "- [14:30] 开始性能调优") {
		t.Fatalf("missing timed line:\n%s", out)
	}
}

func TestDailyLogsLegacyMarkdown(t *testing.T) {
	dir := t.TempDir()
	s := NewStore(dir, logging.Nop())
	day := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	logDir := filepath.Join(dir, "daily_logs")
	if err := os.MkdirAll(logDir, 0o755); err != nil {
		t.Fatal(err)
	}
	md := "# 2026-02-01\n- 旧格式的日志行\n\n- 第二行\n"
	if err := os.WriteFile(filepath.Join(logDir, "2026-02-01.md"), []byte(md), 0o644); err != nil {
		t.Fatal(err)
	}
	entries := s.DailyLogs(day)
	if len(entries) != 2 || entries[0].Content != "旧格式的日志行" {
		t.Fatalf("entries = %+v", entries)
	}
}

func TestJaccardSimilarity(t *testing.T) {
	if sim := JaccardSimilarity("the quick brown fox", "the quick brown fox"); sim != 1 {
		t.Fatalf("identical = %v", sim)
	}
	if sim := JaccardSimilarity("alpha beta gamma", "delta epsilon zeta"); sim != 0 {
		t.Fatalf("disjoint = %v", sim)
	}
	if sim := JaccardSimilarity("用户喜欢简洁", "用户喜欢详细"); sim <= 0.4 || sim >= 1 {
		t.Fatalf("partial cjk = %v", sim)
	}
}

func TestFingerprintTracksWrites(t *testing.T) {
	s := newTestStore(t)
	before := s.Fingerprint()
	if before != "0" {
		t.Fatalf("missing file fingerprint = %q", before)
	}
	if _, _, err := s.Add("content", CategoryFacts, 0.5, AddOptions{}); err != nil {
		t.Fatal(err)
	}
	if s.Fingerprint() == "0" {
		t.Fatal("fingerprint must change after a write")
	}
}
