// Package memory implements the long-term memory store: a versioned JSON
// file of scored entries, daily activity logs, semantic search with time
// decay, and the maintenance pipelines (consolidation, compression,
// archiving, session reflection).
package memory

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Categories an entry may carry. Anything else is normalized to general.
const (
	CategoryPreferences = "preferences"
	CategoryFacts       = "facts"
	CategoryTasks       = "tasks"
	CategoryReflections = "reflections"
	CategoryProcedural  = "procedural"
	CategoryGeneral     = "general"
)

var validCategories = map[string]bool{
	CategoryPreferences: true,
	CategoryFacts:       true,
	CategoryTasks:       true,
	CategoryReflections: true,
	CategoryProcedural:  true,
	CategoryGeneral:     true,
}

var categoryLabels = map[string]string{
	CategoryPreferences: "偏好",
	CategoryFacts:       "事实",
	CategoryTasks:       "任务",
	CategoryReflections: "反思",
	CategoryProcedural:  "经验",
	CategoryGeneral:     "通用",
}

// CategoryLabel returns the Chinese display label for a category.
func CategoryLabel(category string) string {
	if label, ok := categoryLabels[category]; ok {
		return label
	}
	return categoryLabels[CategoryGeneral]
}

// NormalizeCategory lowercases and maps unknown categories to general.
func NormalizeCategory(category string) string {
	c := strings.ToLower(strings.TrimSpace(category))
	if validCategories[c] {
		return c
	}
	return CategoryGeneral
}

// Entry is one long-term memory.
type Entry struct {
	ID           string         `json:"id"`
	Content      string         `json:"content"`
	Category     string         `json:"category"`
	Salience     float64        `json:"salience"`
	CreatedAt    string         `json:"created_at"`
	LastAccessed string         `json:"last_accessed,omitempty"`
	AccessCount  int            `json:"access_count"`
	Source       string         `json:"source,omitempty"`
	Context      map[string]any `json:"context,omitempty"`
	MergedFrom   []string       `json:"merged_from,omitempty"`
	Archived     bool           `json:"archived,omitempty"`
	ArchivedAt   string         `json:"archived_at,omitempty"`
	Summary      string         `json:"summary,omitempty"`
}

// NewEntry builds an entry with a fresh id and clamped salience.
func NewEntry(content, category string, salience float64, source string) Entry {
	return Entry{
		ID:        uuid.NewString()[:8],
		Content:   content,
		Category:  NormalizeCategory(category),
		Salience:  ClampSalience(salience),
		CreatedAt: time.Now().UTC().Format(time.RFC3339),
		Source:    source,
	}
}

// ClampSalience bounds salience to [0, 1].
func ClampSalience(s float64) float64 {
	if s < 0 {
		return 0
	}
	if s > 1 {
		return 1
	}
	return s
}

// CreatedTime parses the entry's creation timestamp; zero time on failure.
func (e Entry) CreatedTime() time.Time {
	t, err := time.Parse(time.RFC3339, e.CreatedAt)
	if err != nil {
		return time.Time{}
	}
	return t
}

// memoryFile is the on-disk shape of memory.json.
type memoryFile struct {
	Version        int     `json:"version"`
	LastUpdated    string  `json:"last_updated"`
	RollingSummary string  `json:"rolling_summary,omitempty"`
	Memories       []Entry `json:"memories"`
}

// JaccardSimilarity compares two contents on word sets. Used for the cheap
// near-duplicate check at write time.
func JaccardSimilarity(a, b string) float64 {
	setA := wordSet(a)
	setB := wordSet(b)
	if len(setA) == 0 || len(setB) == 0 {
		return 0
	}
	intersection := 0
	for w := range setA {
		if setB[w] {
			intersection++
		}
	}
	union := len(setA) + len(setB) - intersection
	if union == 0 {
		return 0
	}
	return float64(intersection) / float64(union)
}

func wordSet(s string) map[string]bool {
	set := make(map[string]bool)
	for _, w := range tokenize(s) {
		set[w] = true
	}
	return set
}

// tokenize splits on non-alphanumeric runes and treats each CJK rune as its
// own token, so Chinese content compares at character granularity.
func tokenize(s string) []string {
	var tokens []string
	var current strings.Builder
	flush := func() {
		if current.Len() > 0 {
			tokens = append(tokens, strings.ToLower(current.String()))
			current.Reset()
		}
	}
	for _, r := range s {
		switch {
		case r >= 0x4e00 && r <= 0x9fff:
			flush()
			tokens = append(tokens, string(r))
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			current.WriteRune(r)
		default:
			flush()
		}
	}
	flush()
	return tokens
}
