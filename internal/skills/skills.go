// Package skills discovers on-disk skill definitions and renders the
// snapshot advertised to the model in the system prompt.
package skills

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"aide/internal/shared/logging"
)

// Skill is one discovered skill directory.
type Skill struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
	// Location is the path of the SKILL.md the model should read for the
	// full instructions.
	Location string `yaml:"-"`
}

// Discover scans dir for subdirectories holding a SKILL.md with YAML
// frontmatter. Unreadable or malformed skills are logged and skipped.
func Discover(dir string, logger logging.Logger) []Skill {
	logger = logging.OrNop(logger)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if !os.IsNotExist(err) {
			logger.Warn("skills dir unreadable: %v", err)
		}
		return nil
	}
	var found []Skill
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		path := filepath.Join(dir, entry.Name(), "SKILL.md")
		raw, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		skill, err := parseSkill(raw)
		if err != nil {
			logger.Warn("skill %s: %v", entry.Name(), err)
			continue
		}
		if skill.Name == "" {
			skill.Name = entry.Name()
		}
		skill.Location = path
		found = append(found, skill)
	}
	sort.Slice(found, func(i, j int) bool { return found[i].Name < found[j].Name })
	return found
}

func parseSkill(raw []byte) (Skill, error) {
	content := strings.ReplaceAll(string(raw), "\r\n", "\n")
	if !strings.HasPrefix(content, "---\n") {
		return Skill{}, fmt.Errorf("missing frontmatter")
	}
	rest := content[len("---\n"):]
	end := strings.Index(rest, "\n---")
	if end < 0 {
		return Skill{}, fmt.Errorf("unterminated frontmatter")
	}
	var skill Skill
	if err := yaml.Unmarshal([]byte(rest[:end]), &skill); err != nil {
		return Skill{}, fmt.Errorf("frontmatter: %w", err)
	}
	return skill, nil
}

// Snapshot renders the XML block embedded in the system prompt. Empty when
// no skills exist.
func Snapshot(skills []Skill) string {
	if len(skills) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("<available_skills>\n")
	for _, s := range skills {
		b.WriteString("  <skill>\n")
		fmt.Fprintf(&b, "    <name>%s</name>\n", xmlEscape(s.Name))
		fmt.Fprintf(&b, "    <description>%s</description>\n", xmlEscape(s.Description))
		fmt.Fprintf(&b, "    <location>%s</location>\n", xmlEscape(s.Location))
		b.WriteString("  </skill>\n")
	}
	b.WriteString("</available_skills>")
	return b.String()
}

func xmlEscape(s string) string {
	replacer := strings.NewReplacer(
		"&", "&amp;",
		"<", "&lt;",
		">", "&gt;",
	)
	return replacer.Replace(s)
}
