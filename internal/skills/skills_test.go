package skills

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"aide/internal/shared/logging"
)

func writeSkill(t *testing.T, dir, name, frontmatter string) {
	t.Helper()
	skillDir := filepath.Join(dir, name)
	if err := os.MkdirAll(skillDir, 0o755); err != nil {
		t.Fatal(err)
	}
	content := "---\n" + frontmatter + "\n---\n\n# Instructions\n"
	if err := os.WriteFile(filepath.Join(skillDir, "SKILL.md"), []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestDiscoverAndSnapshot(t *testing.T) {
	dir := t.TempDir()
	writeSkill(t, dir, "pdf-report", "name: pdf-report\ndescription: 生成 PDF 报告")
	writeSkill(t, dir, "web-scrape", "name: web-scrape\ndescription: 抓取网页数据")
	// A directory without SKILL.md is ignored.
	if err := os.MkdirAll(filepath.Join(dir, "empty"), 0o755); err != nil {
		t.Fatal(err)
	}

	found := Discover(dir, logging.Nop())
	if len(found) != 2 {
		t.Fatalf("found %d skills", len(found))
	}
	if found[0].Name != "pdf-report" || found[1].Name != "web-scrape" {
		t.Fatalf("order = %v, %v", found[0].Name, found[1].Name)
	}
	if !strings.HasSuffix(found[0].Location, filepath.Join("pdf-report", "SKILL.md")) {
		t.Fatalf("location = %q", found[0].Location)
	}

	snap := Snapshot(found)
	if !strings.HasPrefix(snap, "<available_skills>") || !strings.HasSuffix(snap, "</available_skills>") {
		t.Fatalf("snapshot shape:\n%s", snap)
	}
	if !strings.Contains(snap, "<description>生成 PDF 报告</description>") {
		t.Fatalf("snapshot:\n%s", snap)
	}
}

func TestDiscoverDefaultsNameToDirectory(t *testing.T) {
	dir := t.TempDir()
	writeSkill(t, dir, "translate", "description: 翻译文档")
	found := Discover(dir, logging.Nop())
	if len(found) != 1 || found[0].Name != "translate" {
		t.Fatalf("found = %+v", found)
	}
}

func TestDiscoverMissingDir(t *testing.T) {
	if found := Discover(filepath.Join(t.TempDir(), "nope"), logging.Nop()); found != nil {
		t.Fatalf("found = %+v", found)
	}
}

func TestSnapshotEmpty(t *testing.T) {
	if Snapshot(nil) != "" {
		t.Fatal("empty skill set renders nothing")
	}
}

func TestSnapshotEscapes(t *testing.T) {
	snap := Snapshot([]Skill{{Name: "a<b", Description: "x & y", Location: "/p"}})
	if !strings.Contains(snap, "<name>a&lt;b</name>") || !strings.Contains(snap, "x &amp; y") {
		t.Fatalf("snapshot:\n%s", snap)
	}
}
