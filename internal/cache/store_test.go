package cache

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"aide/internal/events"
	"aide/internal/shared/logging"
)

func newTestStore(t *testing.T, ttl time.Duration) *Store {
	t.Helper()
	return NewStore(Options{
		Name:           "test",
		Dir:            t.TempDir(),
		MaxMemoryItems: 8,
		MaxDiskMB:      1,
		DefaultTTL:     ttl,
		Logger:         logging.Nop(),
	})
}

func TestStoreRoundTrip(t *testing.T) {
	s := newTestStore(t, time.Minute)
	if err := s.Set("k", "value", 0); err != nil {
		t.Fatal(err)
	}
	got, ok := s.GetString("k")
	if !ok || got != "value" {
		t.Fatalf("get = %q, %v", got, ok)
	}
	stats := s.Stats()
	if stats.Sets != 1 || stats.Hits != 1 {
		t.Fatalf("stats = %+v", stats)
	}
}

func TestStoreTTLExpiry(t *testing.T) {
	s := newTestStore(t, time.Minute)
	base := time.Now()
	s.now = func() time.Time { return base }
	if err := s.Set("k", "value", 30*time.Second); err != nil {
		t.Fatal(err)
	}
	if _, ok := s.GetString("k"); !ok {
		t.Fatal("entry should be live before ttl")
	}
	s.now = func() time.Time { return base.Add(31 * time.Second) }
	if _, ok := s.GetString("k"); ok {
		t.Fatal("entry should expire after ttl")
	}
	// The disk entry must be gone too.
	if _, _, ok := s.disk.get("k", s.now()); ok {
		t.Fatal("expired disk entry should be deleted in place")
	}
}

func TestStoreDiskPromotion(t *testing.T) {
	dir := t.TempDir()
	a := NewStore(Options{Name: "shared", Dir: dir, Logger: logging.Nop()})
	if err := a.Set("k", "persisted", time.Hour); err != nil {
		t.Fatal(err)
	}
	// A fresh store with a cold L1 must find the entry on disk.
	b := NewStore(Options{Name: "shared", Dir: dir, Logger: logging.Nop()})
	got, ok := b.GetString("k")
	if !ok || got != "persisted" {
		t.Fatalf("disk promote = %q, %v", got, ok)
	}
}

func TestStoreCorruptDiskEntryDeleted(t *testing.T) {
	dir := t.TempDir()
	s := NewStore(Options{Name: "c", Dir: dir, Logger: logging.Nop()})
	if err := s.Set("deadbeef", "v", time.Hour); err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(dir, "c", "de", "deadbeef.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}
	fresh := NewStore(Options{Name: "c", Dir: dir, Logger: logging.Nop()})
	if _, ok := fresh.Get("deadbeef"); ok {
		t.Fatal("corrupt entry should be a miss")
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatal("corrupt entry file should be deleted")
	}
}

func TestStoreClear(t *testing.T) {
	s := newTestStore(t, time.Minute)
	_ = s.Set("a", 1, 0)
	_ = s.Set("b", 2, 0)
	if n := s.Clear(); n < 2 {
		t.Fatalf("Clear removed %d entries", n)
	}
	if _, ok := s.Get("a"); ok {
		t.Fatal("cleared entry still present")
	}
}

func TestURLCacheKeying(t *testing.T) {
	s := newTestStore(t, time.Minute)
	c := NewURLCache(s, true)
	c.Set("https://example.com", "body")
	if got, ok := c.Get("https://example.com"); !ok || got != "body" {
		t.Fatalf("url hit = %q, %v", got, ok)
	}
	if _, ok := c.Get("https://example.com/other"); ok {
		t.Fatal("different url should miss")
	}
	disabled := NewURLCache(s, false)
	if _, ok := disabled.Get("https://example.com"); ok {
		t.Fatal("disabled cache must miss")
	}
}

func TestTranslateCacheKeying(t *testing.T) {
	s := newTestStore(t, time.Minute)
	c := NewTranslateCache(s, true)
	c.Set("hello", "zh", "你好")
	if got, ok := c.Get("hello", "zh"); !ok || got != "你好" {
		t.Fatalf("translate hit = %q, %v", got, ok)
	}
	if _, ok := c.Get("hello", "ja"); ok {
		t.Fatal("different language should miss")
	}
}

func TestPromptFingerprintSensitivity(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "SOUL.md")
	if err := os.WriteFile(file, []byte("v1"), 0o644); err != nil {
		t.Fatal(err)
	}
	fp1 := FingerprintFiles([]string{file})
	if fp1 != FingerprintFiles([]string{file}) {
		t.Fatal("fingerprint must be stable for unchanged files")
	}
	// Push the mtime forward; content changes always move mtime in practice.
	future := time.Now().Add(2 * time.Second)
	if err := os.Chtimes(file, future, future); err != nil {
		t.Fatal(err)
	}
	if fp1 == FingerprintFiles([]string{file}) {
		t.Fatal("mtime change must change the fingerprint")
	}
}

func TestToolCacheExclusion(t *testing.T) {
	s := newTestStore(t, time.Minute)
	c := NewToolCache(s, []string{"terminal"}, time.Minute)
	args := map[string]any{"url": "https://example.com"}

	c.Set("fetch_url", args, "content")
	if got, ok := c.Get("fetch_url", args); !ok || got != "content" {
		t.Fatalf("tool hit = %q, %v", got, ok)
	}
	c.Set("terminal", map[string]any{"command": "ls"}, "out")
	if _, ok := c.Get("terminal", map[string]any{"command": "ls"}); ok {
		t.Fatal("excluded tool must never hit")
	}
}

func TestLLMCacheKeyIgnoresOldHistory(t *testing.T) {
	base := LLMKeyParams{
		SystemPrompt:   "sp",
		RecentHistory:  []string{"m1", "m2", "m3"},
		CurrentMessage: "now",
		Model:          "gpt-4o",
		Temperature:    0.7,
	}
	longer := base
	longer.RecentHistory = []string{"ancient", "m1", "m2", "m3"}
	if base.Key() != longer.Key() {
		t.Fatal("only the last 3 history messages may feed the key")
	}
	changed := base
	changed.MemoryFingerprint = "12345"
	if base.Key() == changed.Key() {
		t.Fatal("memory fingerprint must change the key")
	}
}

func TestLLMCacheReplayTagsCached(t *testing.T) {
	s := newTestStore(t, time.Minute)
	c := NewLLMCache(s, true)
	params := LLMKeyParams{SystemPrompt: "sp", CurrentMessage: "hi", Model: "m"}

	if _, ok := c.Lookup(params); ok {
		t.Fatal("fresh cache should miss")
	}
	stored := []events.Event{events.Token("he"), events.Token("llo"), events.Done()}
	c.Store(params, stored)

	evs, ok := c.Lookup(params)
	if !ok || len(evs) != 3 {
		t.Fatalf("lookup = %d events, %v", len(evs), ok)
	}

	var replayed []events.Event
	c.Replay(context.Background(), evs, false, func(ev events.Event) {
		replayed = append(replayed, ev)
	})
	if len(replayed) != 3 {
		t.Fatalf("replayed %d events", len(replayed))
	}
	for _, ev := range replayed {
		if !ev.Cached {
			t.Fatalf("replayed event %q not tagged cached", ev.Type)
		}
	}
}

func TestLLMCacheDisabledPassthrough(t *testing.T) {
	c := NewLLMCache(nil, false)
	if c.Enabled() {
		t.Fatal("nil-store cache must report disabled")
	}
	if _, ok := c.Lookup(LLMKeyParams{}); ok {
		t.Fatal("disabled cache must always miss")
	}
}
