package memory

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"aide/internal/shared/logging"
)

const (
	memoryFileVersion = 2
	// Entries at or above this Jaccard similarity are treated as duplicates
	// at write time.
	dedupThreshold = 0.7

	readMemoryPerCategory = 20
	readMemoryTotal       = 50
	highSalienceMark      = 0.8
)

// Store owns memory.json and the daily activity logs. All file access is
// serialized through the store's mutex; every content change triggers the
// registered invalidation hooks (prompt cache, search index).
type Store struct {
	mu     sync.Mutex
	dir    string
	logger logging.Logger
	now    func() time.Time

	onChange []func()
}

func NewStore(dir string, logger logging.Logger) *Store {
	return &Store{
		dir:    dir,
		logger: logging.OrNop(logger),
		now:    time.Now,
	}
}

// OnChange registers a hook called after every successful mutation.
func (s *Store) OnChange(fn func()) {
	s.onChange = append(s.onChange, fn)
}

func (s *Store) notifyChange() {
	for _, fn := range s.onChange {
		fn()
	}
}

func (s *Store) path() string    { return filepath.Join(s.dir, "memory.json") }
func (s *Store) dailyDir() string { return filepath.Join(s.dir, "daily_logs") }

// Fingerprint returns the memory file's mtime in nanoseconds, used to key
// caches that embed memory content. Missing file reads as 0.
func (s *Store) Fingerprint() string {
	info, err := os.Stat(s.path())
	if err != nil {
		return "0"
	}
	return fmt.Sprintf("%d", info.ModTime().UnixNano())
}

// load reads memory.json, tolerating a missing file and migrating
// unversioned content. Caller holds the mutex.
func (s *Store) load() *memoryFile {
	raw, err := os.ReadFile(s.path())
	if err != nil {
		return &memoryFile{Version: memoryFileVersion}
	}
	var file memoryFile
	if err := json.Unmarshal(raw, &file); err != nil {
		// A bare array is the pre-versioned format.
		var entries []Entry
		if err := json.Unmarshal(raw, &entries); err != nil {
			s.logger.Error("memory.json unreadable: %v", err)
			return &memoryFile{Version: memoryFileVersion}
		}
		file = memoryFile{Version: memoryFileVersion, Memories: entries}
	}
	file.Version = memoryFileVersion
	return &file
}

// save writes memory.json, keeping a .bak of the previous content. Caller
// holds the mutex.
func (s *Store) save(file *memoryFile) error {
	file.LastUpdated = s.now().UTC().Format(time.RFC3339)
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return err
	}
	path := s.path()
	if prev, err := os.ReadFile(path); err == nil {
		_ = os.WriteFile(path+".bak", prev, 0o644)
	}
	raw, err := json.MarshalIndent(file, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, raw, 0o644)
}

// AddOptions tune one write.
type AddOptions struct {
	Source  string
	Context map[string]any
	// SkipDedup bypasses the near-duplicate check. Reflection and archive
	// promotion use it because their inputs were already screened.
	SkipDedup bool
}

// Add appends a memory unless a near-duplicate exists. Returns the stored
// entry and whether it was newly added; on a duplicate hit the existing
// entry is returned with its access recorded.
func (s *Store) Add(content, category string, salience float64, opts AddOptions) (Entry, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	file := s.load()
	if !opts.SkipDedup {
		for i, existing := range file.Memories {
			if existing.Archived {
				continue
			}
			if JaccardSimilarity(existing.Content, content) >= dedupThreshold {
				file.Memories[i].AccessCount++
				file.Memories[i].LastAccessed = s.now().UTC().Format(time.RFC3339)
				if err := s.save(file); err != nil {
					return Entry{}, false, err
				}
				s.notifyChange()
				return file.Memories[i], false, nil
			}
		}
	}

	entry := NewEntry(content, category, salience, opts.Source)
	entry.Context = opts.Context
	file.Memories = append(file.Memories, entry)
	if err := s.save(file); err != nil {
		return Entry{}, false, err
	}
	s.notifyChange()
	return entry, true, nil
}

// UpdateFields applies non-zero fields to an entry.
type UpdateFields struct {
	Content  *string
	Category *string
	Salience *float64
	Summary  *string
	Archived *bool
}

func (s *Store) Update(id string, fields UpdateFields) (Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	file := s.load()
	for i := range file.Memories {
		if file.Memories[i].ID != id {
			continue
		}
		if fields.Content != nil {
			file.Memories[i].Content = *fields.Content
		}
		if fields.Category != nil {
			file.Memories[i].Category = NormalizeCategory(*fields.Category)
		}
		if fields.Salience != nil {
			file.Memories[i].Salience = ClampSalience(*fields.Salience)
		}
		if fields.Summary != nil {
			file.Memories[i].Summary = *fields.Summary
		}
		if fields.Archived != nil {
			file.Memories[i].Archived = *fields.Archived
			if *fields.Archived {
				file.Memories[i].ArchivedAt = s.now().UTC().Format(time.RFC3339)
			}
		}
		if err := s.save(file); err != nil {
			return Entry{}, err
		}
		s.notifyChange()
		return file.Memories[i], nil
	}
	return Entry{}, fmt.Errorf("memory %s not found", id)
}

func (s *Store) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	file := s.load()
	for i := range file.Memories {
		if file.Memories[i].ID == id {
			file.Memories = append(file.Memories[:i], file.Memories[i+1:]...)
			if err := s.save(file); err != nil {
				return err
			}
			s.notifyChange()
			return nil
		}
	}
	return fmt.Errorf("memory %s not found", id)
}

// RecordAccess bumps access stats without touching the change hooks, since
// reads do not invalidate prompt or index state.
func (s *Store) RecordAccess(ids ...string) {
	if len(ids) == 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	want := make(map[string]bool, len(ids))
	for _, id := range ids {
		want[id] = true
	}
	file := s.load()
	touched := false
	for i := range file.Memories {
		if want[file.Memories[i].ID] {
			file.Memories[i].AccessCount++
			file.Memories[i].LastAccessed = s.now().UTC().Format(time.RFC3339)
			touched = true
		}
	}
	if touched {
		if err := s.save(file); err != nil {
			s.logger.Warn("record access: %v", err)
		}
	}
}

// Entries returns a copy of all stored memories.
func (s *Store) Entries() []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	file := s.load()
	return append([]Entry(nil), file.Memories...)
}

// Get returns one entry by id.
func (s *Store) Get(id string) (Entry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.load().Memories {
		if e.ID == id {
			return e, true
		}
	}
	return Entry{}, false
}

// ReplaceAll swaps the full memory list after writing a backup with the
// given suffix. Used by the compressor, which rewrites the whole file.
func (s *Store) ReplaceAll(entries []Entry, backupSuffix string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	file := s.load()
	if backupSuffix != "" {
		if prev, err := os.ReadFile(s.path()); err == nil {
			_ = os.WriteFile(s.path()+backupSuffix, prev, 0o644)
		}
	}
	file.Memories = entries
	if err := s.save(file); err != nil {
		return err
	}
	s.notifyChange()
	return nil
}

// RollingSummary returns the cross-session summary line.
func (s *Store) RollingSummary() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.load().RollingSummary
}

func (s *Store) SetRollingSummary(summary string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	file := s.load()
	file.RollingSummary = summary
	if err := s.save(file); err != nil {
		return err
	}
	s.notifyChange()
	return nil
}

// Procedural returns non-archived procedural entries, most salient first.
func (s *Store) Procedural() []Entry {
	var out []Entry
	for _, e := range s.Entries() {
		if e.Category == CategoryProcedural && !e.Archived {
			out = append(out, e)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Salience > out[j].Salience })
	return out
}

// ReadMemory renders the projection injected into the system prompt:
// rolling summary first, then per-category sections sorted by salience,
// bounded per category and overall. High-salience entries get a star.
func (s *Store) ReadMemory() string {
	s.mu.Lock()
	file := s.load()
	s.mu.Unlock()

	byCategory := make(map[string][]Entry)
	for _, e := range file.Memories {
		if e.Archived {
			continue
		}
		byCategory[e.Category] = append(byCategory[e.Category], e)
	}

	var b strings.Builder
	if file.RollingSummary != "" {
		b.WriteString("## 概要\n")
		b.WriteString(file.RollingSummary)
		b.WriteString("\n\n")
	}

	order := []string{
		CategoryPreferences, CategoryFacts, CategoryTasks,
		CategoryProcedural, CategoryReflections, CategoryGeneral,
	}
	total := 0
	for _, category := range order {
		entries := byCategory[category]
		if len(entries) == 0 {
			continue
		}
		sort.SliceStable(entries, func(i, j int) bool { return entries[i].Salience > entries[j].Salience })
		if len(entries) > readMemoryPerCategory {
			entries = entries[:readMemoryPerCategory]
		}
		b.WriteString("## " + CategoryLabel(category) + "\n")
		for _, e := range entries {
			if total >= readMemoryTotal {
				break
			}
			mark := ""
			if e.Salience >= highSalienceMark {
				mark = " ⭐"
			}
			fmt.Fprintf(&b, "- %s%s\n", e.Content, mark)
			total++
		}
		b.WriteString("\n")
		if total >= readMemoryTotal {
			break
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

// DailyEntry is one line of a day's activity log.
type DailyEntry struct {
	Time    string `json:"time"`
	Content string `json:"content"`
	Type    string `json:"type,omitempty"`
}

// AppendDailyLog adds a line to today's log file.
func (s *Store) AppendDailyLog(content, entryType string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(s.dailyDir(), 0o755); err != nil {
		return err
	}
	now := s.now()
	path := filepath.Join(s.dailyDir(), now.Format("2006-01-02")+".json")

	var entries []DailyEntry
	if raw, err := os.ReadFile(path); err == nil {
		_ = json.Unmarshal(raw, &entries)
	}
	entries = append(entries, DailyEntry{
		Time:    now.Format("15:04"),
		Content: content,
		Type:    entryType,
	})
	raw, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, raw, 0o644)
}

// DailyLogs returns the parsed entries for one day. Falls back to a legacy
// markdown log where each non-empty line becomes one entry.
func (s *Store) DailyLogs(day time.Time) []DailyEntry {
	base := filepath.Join(s.dailyDir(), day.Format("2006-01-02"))
	if raw, err := os.ReadFile(base + ".json"); err == nil {
		var entries []DailyEntry
		if json.Unmarshal(raw, &entries) == nil {
			return entries
		}
	}
	if raw, err := os.ReadFile(base + ".md"); err == nil {
		var entries []DailyEntry
		for _, line := range strings.Split(string(raw), "\n") {
			line = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(line), "-"))
			if line != "" && !strings.HasPrefix(line, "#") {
				entries = append(entries, DailyEntry{Content: line})
			}
		}
		return entries
	}
	return nil
}

// DailyContext renders the last n days of activity with relative day
// headers for prompt injection.
func (s *Store) DailyContext(days int) string {
	if days <= 0 {
		return ""
	}
	var b strings.Builder
	now := s.now()
	for offset := 0; offset < days; offset++ {
		day := now.AddDate(0, 0, -offset)
		entries := s.DailyLogs(day)
		if len(entries) == 0 {
			continue
		}
		var header string
		switch offset {
		case 0:
			header = "今天"
		case 1:
			header = "昨天"
		default:
			header = fmt.Sprintf("%d天前", offset)
		}
		fmt.Fprintf(&b, "### %s (%s)\n", header, day.Format("2006-01-02"))
		for _, e := range entries {
			if e.Time != "" {
				fmt.Fprintf(&b, "- [%s] %s\n", e.Time, e.Content)
			} else {
				fmt.Fprintf(&b, "- %s\n", e.Content)
			}
		}
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}
