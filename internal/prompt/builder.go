// Package prompt assembles the system prompt from the workspace persona
// files, the skills snapshot, and the memory projection.
package prompt

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"aide/internal/cache"
	"aide/internal/memory"
	"aide/internal/shared/logging"
	"aide/internal/skills"
)

const (
	sectionSeparator = "\n\n---\n\n"
	truncatedSuffix  = "\n\n...[truncated]"
)

// Markers open each section so tooling can locate them in the final prompt.
const (
	MarkerSkills   = "<!-- SKILLS_SNAPSHOT -->"
	MarkerSoul     = "<!-- SOUL -->"
	MarkerIdentity = "<!-- IDENTITY -->"
	MarkerUser     = "<!-- USER -->"
	MarkerAgents   = "<!-- AGENTS -->"
	MarkerMemory   = "<!-- MEMORY -->"
)

var personaFiles = []string{"SOUL.md", "IDENTITY.md", "USER.md", "AGENTS.md"}

// Builder renders the system prompt. The persona and skills half is cached
// keyed by the source files' mtimes; the memory half is recomputed per run.
type Builder struct {
	workspaceDir    string
	skillsDir       string
	store           *memory.Store
	searcher        *memory.Searcher
	promptCache     *cache.PromptCache
	maxPromptTokens int
	maxPromptChars  int
	dailyLogDays    int
	logger          logging.Logger
}

type Options struct {
	WorkspaceDir    string
	SkillsDir       string
	Store           *memory.Store
	Searcher        *memory.Searcher
	PromptCache     *cache.PromptCache
	MaxPromptTokens int
	MaxPromptChars  int
	DailyLogDays    int
	Logger          logging.Logger
}

func NewBuilder(opts Options) *Builder {
	if opts.MaxPromptTokens <= 0 {
		opts.MaxPromptTokens = 4000
	}
	if opts.MaxPromptChars <= 0 {
		opts.MaxPromptChars = 20000
	}
	if opts.DailyLogDays <= 0 {
		opts.DailyLogDays = 2
	}
	return &Builder{
		workspaceDir:    opts.WorkspaceDir,
		skillsDir:       opts.SkillsDir,
		store:           opts.Store,
		searcher:        opts.Searcher,
		promptCache:     opts.PromptCache,
		maxPromptTokens: opts.MaxPromptTokens,
		maxPromptChars:  opts.MaxPromptChars,
		dailyLogDays:    opts.DailyLogDays,
		logger:          logging.OrNop(opts.Logger),
	}
}

// Build assembles the full system prompt for one run. userMessage feeds the
// implicit memory recall; sessionID and workingDir fill the placeholders in
// the persona files.
func (b *Builder) Build(ctx context.Context, sessionID, workingDir, userMessage string) string {
	static := b.staticSections()
	static = strings.ReplaceAll(static, "{{SESSION_ID}}", sessionID)
	static = strings.ReplaceAll(static, "{{WORKING_DIR}}", workingDir)

	parts := []string{static}
	if mem := b.memorySection(ctx, userMessage); mem != "" {
		parts = append(parts, mem)
	}

	prompt := strings.Join(parts, sectionSeparator)
	return truncateRunes(prompt, b.maxPromptChars)
}

func truncateRunes(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max]) + truncatedSuffix
}

// staticSections renders skills plus the persona files, served from the
// prompt cache while none of the source files changed.
func (b *Builder) staticSections() string {
	var sources []string
	for _, name := range personaFiles {
		sources = append(sources, filepath.Join(b.workspaceDir, name))
	}
	fingerprint := cache.FingerprintFiles(append(sources, b.skillsDir))
	if b.promptCache != nil {
		if cached, ok := b.promptCache.Get(fingerprint); ok {
			return cached
		}
	}

	var parts []string
	if snap := skills.Snapshot(skills.Discover(b.skillsDir, b.logger)); snap != "" {
		parts = append(parts, MarkerSkills+"\n"+snap)
	}
	markers := []string{MarkerSoul, MarkerIdentity, MarkerUser, MarkerAgents}
	for i, name := range personaFiles {
		content := b.readWorkspaceFile(name)
		if content == "" {
			continue
		}
		parts = append(parts, markers[i]+"\n"+content)
	}
	rendered := strings.Join(parts, sectionSeparator)
	if b.promptCache != nil {
		b.promptCache.Set(fingerprint, rendered)
	}
	return rendered
}

func (b *Builder) readWorkspaceFile(name string) string {
	raw, err := os.ReadFile(filepath.Join(b.workspaceDir, name))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(raw))
}

// memorySection renders the projection, recent daily activity, and the
// implicit recall for the current message, bounded to roughly the
// configured token budget.
func (b *Builder) memorySection(ctx context.Context, userMessage string) string {
	if b.store == nil {
		return ""
	}
	var parts []string
	if proj := b.store.ReadMemory(); proj != "" {
		parts = append(parts, proj)
	}
	if daily := b.store.DailyContext(b.dailyLogDays); daily != "" {
		parts = append(parts, "## 近期活动\n"+daily)
	}
	if b.searcher != nil && userMessage != "" {
		if recall := b.searcher.ImplicitRecall(ctx, userMessage, 5); recall != "" {
			parts = append(parts, recall)
		}
	}
	if len(parts) == 0 {
		return ""
	}
	section := truncateRunes(strings.Join(parts, "\n\n"), b.maxPromptTokens*4)
	return MarkerMemory + "\n" + section
}
