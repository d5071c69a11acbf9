package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.RecursionLimit != 100 {
		t.Fatalf("recursion_limit default = %d", cfg.RecursionLimit)
	}
	if cfg.Security.Level != "standard" {
		t.Fatalf("security level default = %q", cfg.Security.Level)
	}
	if cfg.Cache.EnableLLM {
		t.Fatal("llm cache should default off")
	}
}

func TestLoadYAMLOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "aide.yaml")
	body := "data_dir: " + dir + "\nsecurity:\n  level: strict\ncache:\n  enable_llm: true\n"
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Security.Level != "strict" {
		t.Fatalf("security level = %q, want strict", cfg.Security.Level)
	}
	if !cfg.Cache.EnableLLM {
		t.Fatal("enable_llm override lost")
	}
	// Untouched leaves keep defaults.
	if cfg.Cache.URLTTLSeconds != 3600 {
		t.Fatalf("url ttl default lost: %d", cfg.Cache.URLTTLSeconds)
	}
}

func TestEnsureDirs(t *testing.T) {
	cfg := Default()
	cfg.DataDir = t.TempDir()
	if err := cfg.EnsureDirs(); err != nil {
		t.Fatalf("EnsureDirs: %v", err)
	}
	for _, dir := range []string{cfg.MemoryDir(), cfg.CacheDir(), cfg.TmpDir(), filepath.Join(cfg.MemoryDir(), "logs")} {
		info, err := os.Stat(dir)
		if err != nil || !info.IsDir() {
			t.Fatalf("missing dir %s: %v", dir, err)
		}
	}
}

func TestGraphConfigMerge(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "graph.yaml")
	body := `graph:
  nodes:
    approval: {enabled: true}
    executor: {max_steps: 4}
  settings:
    recursion_limit: 42
`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	resolved, err := LoadGraphConfig(path)
	if err != nil {
		t.Fatalf("LoadGraphConfig: %v", err)
	}
	if !resolved.Approval.Enabled {
		t.Fatal("approval.enabled not merged")
	}
	if resolved.Executor.MaxSteps != 4 {
		t.Fatalf("executor.max_steps = %d", resolved.Executor.MaxSteps)
	}
	if resolved.RecursionLimit != 42 {
		t.Fatalf("recursion_limit = %d", resolved.RecursionLimit)
	}
	// Untouched leaves keep defaults.
	if resolved.Agent.MaxIterations != 50 {
		t.Fatalf("agent.max_iterations = %d", resolved.Agent.MaxIterations)
	}
	if resolved.Executor.MaxIterations != 30 {
		t.Fatalf("executor.max_iterations = %d", resolved.Executor.MaxIterations)
	}
}

func TestGraphConfigMissingFile(t *testing.T) {
	resolved, err := LoadGraphConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("missing file should not error: %v", err)
	}
	if resolved.Fingerprint() != DefaultGraphConfig().Fingerprint() {
		t.Fatal("missing file should resolve to defaults")
	}
}

func TestFingerprintStability(t *testing.T) {
	a := DefaultGraphConfig()
	b := DefaultGraphConfig()
	if a.Fingerprint() != b.Fingerprint() {
		t.Fatal("identical configs must share a fingerprint")
	}
	if len(a.Fingerprint()) != 16 {
		t.Fatalf("fingerprint length = %d", len(a.Fingerprint()))
	}
	b.Approval.Enabled = true
	if a.Fingerprint() == b.Fingerprint() {
		t.Fatal("differing configs must not collide")
	}
}
