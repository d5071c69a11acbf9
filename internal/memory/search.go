package memory

import (
	"context"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/philippgille/chromem-go"

	"aide/internal/shared/logging"
)

const (
	// Relevance decays exponentially with entry age in days.
	decayLambda = 0.01

	keywordDailyWeight = 0.5
	collectionName     = "memories"
)

// ScoredEntry pairs an entry with its computed relevance.
type ScoredEntry struct {
	Entry Entry
	Score float64
}

// SearchOptions narrow one query.
type SearchOptions struct {
	Category string
	// NoDecay skips the age factor; the consolidator compares content
	// regardless of when it was written.
	NoDecay bool
	// Raw scores by similarity alone, without salience or decay. Used when
	// the caller wants a similarity threshold, not a ranking.
	Raw bool
	// IncludeDaily folds daily-log lines into keyword results at reduced
	// weight. Only applies to the keyword path.
	IncludeDaily bool
	DailyDays    int
}

// Searcher answers memory queries. With an embedding function it maintains
// a chromem vector index rebuilt lazily after writes; without one it falls
// back to keyword scoring.
type Searcher struct {
	mu     sync.Mutex
	store  *Store
	db     *chromem.DB
	embed  chromem.EmbeddingFunc
	dirty  bool
	logger logging.Logger
	now    func() time.Time
}

// NewSearcher wires the searcher to the store and registers the dirty hook.
// indexPath enables persistence of the vector index; empty keeps it in
// memory. embed may be nil to disable the semantic path.
func NewSearcher(store *Store, indexPath string, embed chromem.EmbeddingFunc, logger logging.Logger) *Searcher {
	s := &Searcher{
		store:  store,
		embed:  embed,
		dirty:  true,
		logger: logging.OrNop(logger),
		now:    time.Now,
	}
	if embed != nil {
		if indexPath != "" {
			db, err := chromem.NewPersistentDB(indexPath, false)
			if err != nil {
				s.logger.Warn("persistent vector index unavailable, using in-memory: %v", err)
				s.db = chromem.NewDB()
			} else {
				s.db = db
			}
		} else {
			s.db = chromem.NewDB()
		}
	}
	store.OnChange(s.MarkDirty)
	return s
}

// MarkDirty schedules an index rebuild before the next semantic query.
func (s *Searcher) MarkDirty() {
	s.mu.Lock()
	s.dirty = true
	s.mu.Unlock()
}

// Search returns up to limit entries ranked by
// similarity × salience × exp(−λ·days).
func (s *Searcher) Search(ctx context.Context, query string, limit int, opts SearchOptions) []ScoredEntry {
	if limit <= 0 {
		limit = 5
	}
	if s.embed != nil {
		results, err := s.semanticSearch(ctx, query, limit, opts)
		if err == nil {
			return results
		}
		s.logger.Warn("semantic search failed, falling back to keywords: %v", err)
	}
	return s.keywordSearch(query, limit, opts)
}

func (s *Searcher) semanticSearch(ctx context.Context, query string, limit int, opts SearchOptions) ([]ScoredEntry, error) {
	collection, err := s.ensureIndex(ctx)
	if err != nil {
		return nil, err
	}
	count := collection.Count()
	if count == 0 {
		return nil, nil
	}
	n := limit * 3
	if n > count {
		n = count
	}
	results, err := collection.Query(ctx, query, n, nil, nil)
	if err != nil {
		return nil, err
	}

	byID := make(map[string]Entry)
	for _, e := range s.store.Entries() {
		byID[e.ID] = e
	}
	var scored []ScoredEntry
	for _, r := range results {
		entry, ok := byID[r.ID]
		if !ok || entry.Archived {
			continue
		}
		if opts.Category != "" && entry.Category != opts.Category {
			continue
		}
		score := float64(r.Similarity)
		if !opts.Raw {
			score *= entry.Salience
			if !opts.NoDecay {
				score *= s.decay(entry)
			}
		}
		scored = append(scored, ScoredEntry{Entry: entry, Score: score})
	}
	sortScored(scored)
	if len(scored) > limit {
		scored = scored[:limit]
	}
	return scored, nil
}

// ensureIndex rebuilds the collection when dirty. Caller does not hold the
// mutex.
func (s *Searcher) ensureIndex(ctx context.Context) (*chromem.Collection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.dirty {
		if c := s.db.GetCollection(collectionName, s.embed); c != nil {
			return c, nil
		}
	}
	_ = s.db.DeleteCollection(collectionName)
	collection, err := s.db.CreateCollection(collectionName, nil, s.embed)
	if err != nil {
		return nil, err
	}
	for _, e := range s.store.Entries() {
		if e.Archived || strings.TrimSpace(e.Content) == "" {
			continue
		}
		doc := chromem.Document{
			ID:       e.ID,
			Content:  e.Content,
			Metadata: map[string]string{"category": e.Category},
		}
		if err := collection.AddDocument(ctx, doc); err != nil {
			return nil, fmt.Errorf("index %s: %w", e.ID, err)
		}
	}
	s.dirty = false
	return collection, nil
}

func (s *Searcher) keywordSearch(query string, limit int, opts SearchOptions) []ScoredEntry {
	queryTokens := tokenize(query)
	if len(queryTokens) == 0 {
		return nil
	}
	var scored []ScoredEntry
	for _, e := range s.store.Entries() {
		if e.Archived {
			continue
		}
		if opts.Category != "" && e.Category != opts.Category {
			continue
		}
		match := keywordScore(queryTokens, e.Content)
		if match == 0 {
			continue
		}
		score := match
		if !opts.Raw {
			score *= e.Salience
			if !opts.NoDecay {
				score *= s.decay(e)
			}
		}
		scored = append(scored, ScoredEntry{Entry: e, Score: score})
	}

	if opts.IncludeDaily {
		days := opts.DailyDays
		if days <= 0 {
			days = 2
		}
		now := s.now()
		for offset := 0; offset < days; offset++ {
			day := now.AddDate(0, 0, -offset)
			for _, d := range s.store.DailyLogs(day) {
				match := keywordScore(queryTokens, d.Content)
				if match == 0 {
					continue
				}
				scored = append(scored, ScoredEntry{
					Entry: Entry{
						Content:   d.Content,
						Category:  "daily",
						Salience:  1,
						CreatedAt: day.UTC().Format(time.RFC3339),
					},
					Score: match * keywordDailyWeight,
				})
			}
		}
	}

	sortScored(scored)
	if len(scored) > limit {
		scored = scored[:limit]
	}
	return scored
}

// keywordScore is the fraction of query tokens appearing as substrings of
// the content.
func keywordScore(queryTokens []string, content string) float64 {
	lower := strings.ToLower(content)
	matched := 0
	for _, tok := range queryTokens {
		if strings.Contains(lower, tok) {
			matched++
		}
	}
	return float64(matched) / float64(len(queryTokens))
}

func (s *Searcher) decay(e Entry) float64 {
	created := e.CreatedTime()
	if created.IsZero() {
		return 1
	}
	days := s.now().UTC().Sub(created).Hours() / 24
	if days < 0 {
		days = 0
	}
	return math.Exp(-decayLambda * days)
}

func sortScored(scored []ScoredEntry) {
	for i := 1; i < len(scored); i++ {
		for j := i; j > 0 && scored[j].Score > scored[j-1].Score; j-- {
			scored[j], scored[j-1] = scored[j-1], scored[j]
		}
	}
}

// ImplicitRecall renders the context block prepended to the system prompt:
// top matches for the user message plus procedural memories, deduplicated
// on a content prefix. Empty when nothing scores.
func (s *Searcher) ImplicitRecall(ctx context.Context, message string, limit int) string {
	results := s.Search(ctx, message, limit, SearchOptions{})
	seen := make(map[string]bool)
	var lines []string
	var accessed []string
	for _, r := range results {
		key := contentKey(r.Entry.Content)
		if seen[key] {
			continue
		}
		seen[key] = true
		lines = append(lines, "- "+r.Entry.Content)
		if r.Entry.ID != "" {
			accessed = append(accessed, r.Entry.ID)
		}
	}
	for _, e := range s.store.Procedural() {
		key := contentKey(e.Content)
		if seen[key] {
			continue
		}
		seen[key] = true
		lines = append(lines, "- [经验] "+e.Content)
	}
	if len(lines) == 0 {
		return ""
	}
	s.store.RecordAccess(accessed...)
	return "## 相关记忆\n" + strings.Join(lines, "\n")
}

func contentKey(content string) string {
	runes := []rune(content)
	if len(runes) > 100 {
		runes = runes[:100]
	}
	return string(runes)
}
