package modelpool

import (
	"path/filepath"
	"strings"
	"testing"

	"aide/internal/shared/logging"
)

func newTestPool(t *testing.T) *Pool {
	t.Helper()
	fallback := map[string]Resolved{
		ScenarioLLM: {APIKey: "fb-key", APIBase: "https://fb.example", Model: "fb-model"},
	}
	return New(filepath.Join(t.TempDir(), "model_pool.json"), fallback, logging.Nop())
}

func TestAddListMasksKeys(t *testing.T) {
	p := newTestPool(t)
	entry, err := p.Add("main", "sk-verylongsecretkey123", "https://api.example/v1", "gpt-4o")
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	if len(entry.ID) != 8 {
		t.Fatalf("id = %q", entry.ID)
	}
	listed := p.List()
	if len(listed) != 1 {
		t.Fatalf("listed %d models", len(listed))
	}
	key := listed[0].APIKey
	if !strings.Contains(key, "***") || strings.Contains(key, "secretkey") {
		t.Fatalf("key not masked: %q", key)
	}
	if !strings.HasPrefix(key, "sk-v") || !strings.HasSuffix(key, "y123") {
		t.Fatalf("mask should keep first/last 4 chars: %q", key)
	}
}

func TestUpdatePreservesMaskedKey(t *testing.T) {
	p := newTestPool(t)
	entry, _ := p.Add("main", "sk-verylongsecretkey123", "https://api.example/v1", "gpt-4o")

	masked := p.List()[0].APIKey
	updated, err := p.Update(entry.ID, map[string]string{"api_key": masked, "model": "gpt-4o-mini"})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if updated.APIKey != "sk-verylongsecretkey123" {
		t.Fatalf("masked round-trip clobbered the key: %q", updated.APIKey)
	}
	if updated.Model != "gpt-4o-mini" {
		t.Fatalf("model not updated: %q", updated.Model)
	}

	if _, err := p.Update(entry.ID, map[string]string{"api_key": "sk-newkey-0123456789abc"}); err != nil {
		t.Fatal(err)
	}
	got, _ := p.Get(entry.ID)
	if got.APIKey != "sk-newkey-0123456789abc" {
		t.Fatalf("real key update lost: %q", got.APIKey)
	}
}

func TestResolveAssignmentAndFallback(t *testing.T) {
	p := newTestPool(t)

	resolved, err := p.Resolve(ScenarioLLM)
	if err != nil {
		t.Fatalf("Resolve fallback: %v", err)
	}
	if resolved.Model != "fb-model" {
		t.Fatalf("fallback model = %q", resolved.Model)
	}

	entry, _ := p.Add("pool", "sk-poolkey-0123456789", "https://pool.example/v1", "pool-model")
	if err := p.Assign(ScenarioLLM, entry.ID); err != nil {
		t.Fatalf("Assign: %v", err)
	}
	resolved, err = p.Resolve(ScenarioLLM)
	if err != nil {
		t.Fatal(err)
	}
	if resolved.Model != "pool-model" || resolved.APIKey != "sk-poolkey-0123456789" {
		t.Fatalf("assignment not used: %+v", resolved)
	}

	if err := p.Assign("bogus", entry.ID); err == nil {
		t.Fatal("invalid scenario should error")
	}
	if _, err := p.Resolve(ScenarioEmbedding); err == nil {
		t.Fatal("no assignment and no fallback should error")
	}
}

func TestDeleteAssignedModelFails(t *testing.T) {
	p := newTestPool(t)
	entry, _ := p.Add("pool", "sk-poolkey-0123456789", "https://pool.example/v1", "pool-model")
	if err := p.Assign(ScenarioTranslate, entry.ID); err != nil {
		t.Fatal(err)
	}
	if err := p.Delete(entry.ID); err == nil {
		t.Fatal("deleting an assigned model must fail")
	}
	if err := p.Delete("missing1"); err == nil {
		t.Fatal("deleting an unknown model must fail")
	}
}

func TestPoolPersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "model_pool.json")
	p := New(path, nil, logging.Nop())
	entry, err := p.Add("main", "sk-verylongsecretkey123", "https://api.example/v1", "gpt-4o")
	if err != nil {
		t.Fatal(err)
	}

	reopened := New(path, nil, logging.Nop())
	got, ok := reopened.Get(entry.ID)
	if !ok || got.Model != "gpt-4o" {
		t.Fatalf("reopen lost entry: %+v ok=%v", got, ok)
	}
}
