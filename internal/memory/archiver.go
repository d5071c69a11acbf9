package memory

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"aide/internal/llm"
	"aide/internal/shared/logging"
)

const (
	archiveAfterDays = 30
	deleteAfterDays  = 60
	summaryMaxRunes  = 200
	promoteSalience  = 0.6
)

// Archiver ages out old state: long-term entries are summarized and marked
// archived after 30 days, and deleted after 60 — but only once archived, so
// a failed summarization never loses data. Old daily logs have their
// notable lines promoted into long-term memory before the log file is
// removed.
type Archiver struct {
	store  *Store
	client llm.Client
	logger logging.Logger
	now    func() time.Time
}

func NewArchiver(store *Store, client llm.Client, logger logging.Logger) *Archiver {
	return &Archiver{
		store:  store,
		client: client,
		logger: logging.OrNop(logger),
		now:    time.Now,
	}
}

// Run performs one maintenance sweep.
func (a *Archiver) Run(ctx context.Context) error {
	now := a.now().UTC()
	archiveCutoff := now.AddDate(0, 0, -archiveAfterDays)
	deleteCutoff := now.AddDate(0, 0, -deleteAfterDays)

	for _, e := range a.store.Entries() {
		created := e.CreatedTime()
		if created.IsZero() {
			continue
		}
		switch {
		case e.Archived && created.Before(deleteCutoff):
			if err := a.store.Delete(e.ID); err != nil {
				a.logger.Warn("archive delete %s: %v", e.ID, err)
			}
		case !e.Archived && created.Before(archiveCutoff):
			summary := a.summarize(ctx, e.Content)
			archived := true
			if _, err := a.store.Update(e.ID, UpdateFields{Summary: &summary, Archived: &archived}); err != nil {
				a.logger.Warn("archive %s: %v", e.ID, err)
			}
		}
	}

	return a.sweepDailyLogs(archiveCutoff, deleteCutoff)
}

// summarize condenses content to at most 200 runes. LLM failure falls back
// to truncation so the sweep never stalls.
func (a *Archiver) summarize(ctx context.Context, content string) string {
	if a.client != nil {
		prompt := fmt.Sprintf("用不超过200字概括以下内容，只返回概括本身:\n\n%s", content)
		resp, err := a.client.Complete(ctx, llm.CompletionRequest{
			Messages: []llm.Message{{Role: llm.RoleUser, Content: prompt}},
		})
		if err == nil {
			if s := strings.TrimSpace(resp.Message.Content); s != "" {
				return truncateRunes(s, summaryMaxRunes)
			}
		} else {
			a.logger.Warn("archive summarize: %v", err)
		}
	}
	return truncateRunes(content, summaryMaxRunes)
}

// sweepDailyLogs promotes notable lines of logs past the archive cutoff,
// then deletes log files past the delete cutoff. Promotion marks the file
// so it only happens once.
func (a *Archiver) sweepDailyLogs(archiveCutoff, deleteCutoff time.Time) error {
	dir := a.store.dailyDir()
	files, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	for _, f := range files {
		name := f.Name()
		base := strings.TrimSuffix(strings.TrimSuffix(name, ".json"), ".md")
		day, err := time.Parse("2006-01-02", strings.TrimSuffix(base, ".promoted"))
		if err != nil {
			continue
		}
		path := filepath.Join(dir, name)
		switch {
		case day.Before(deleteCutoff):
			if err := os.Remove(path); err != nil {
				a.logger.Warn("delete daily log %s: %v", name, err)
			}
		case day.Before(archiveCutoff) && !strings.Contains(name, ".promoted"):
			a.promote(day)
			promoted := filepath.Join(dir, base+".promoted"+filepath.Ext(name))
			if err := os.Rename(path, promoted); err != nil {
				a.logger.Warn("mark daily log promoted %s: %v", name, err)
			}
		}
	}
	return nil
}

// promote lifts auto-extracted and reflection lines of one day into
// long-term memory.
func (a *Archiver) promote(day time.Time) {
	source := "archive_" + day.Format("2006-01-02")
	for _, entry := range a.store.DailyLogs(day) {
		if entry.Type != "auto_extract" && entry.Type != "reflection" {
			continue
		}
		if _, _, err := a.store.Add(entry.Content, CategoryGeneral, promoteSalience, AddOptions{
			Source:    source,
			SkipDedup: true,
		}); err != nil {
			a.logger.Warn("promote daily line: %v", err)
		}
	}
}

func truncateRunes(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max])
}
