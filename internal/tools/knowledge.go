package tools

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/philippgille/chromem-go"

	"aide/internal/shared/logging"
)

const (
	knowledgeChunkSize = 800
	knowledgeTopK      = 5
)

type knowledgeChunk struct {
	file    string
	content string
}

// KnowledgeTool searches the local knowledge base directory. With an
// embedding function available it queries a chromem index built lazily over
// chunked documents; otherwise it scores chunks by keyword overlap.
type KnowledgeTool struct {
	mu     sync.Mutex
	dir    string
	embed  chromem.EmbeddingFunc
	db     *chromem.DB
	chunks []knowledgeChunk
	loaded bool
	logger logging.Logger
}

func NewKnowledgeTool(dir string, embed chromem.EmbeddingFunc, logger logging.Logger) *KnowledgeTool {
	t := &KnowledgeTool{
		dir:    dir,
		embed:  embed,
		logger: logging.OrNop(logger),
	}
	if embed != nil {
		t.db = chromem.NewDB()
	}
	return t
}

func (t *KnowledgeTool) Name() string { return "search_knowledge_base" }

func (t *KnowledgeTool) Description() string {
	return "Search the local knowledge base for documents relevant to a query."
}

func (t *KnowledgeTool) Schema() map[string]any {
	return objectSchema(map[string]any{
		"query": map[string]any{
			"type":        "string",
			"description": "What to look for in the knowledge base",
		},
	}, "query")
}

func (t *KnowledgeTool) Invoke(ctx context.Context, args map[string]any) (string, error) {
	query := strings.TrimSpace(stringArg(args, "query"))
	if query == "" {
		return "", errors.New("query is required")
	}
	if err := t.ensureLoaded(ctx); err != nil {
		return "", err
	}
	if len(t.chunks) == 0 {
		return "知识库为空。", nil
	}

	var hits []knowledgeChunk
	if t.db != nil {
		semantic, err := t.semanticQuery(ctx, query)
		if err != nil {
			t.logger.Warn("knowledge semantic query failed, using keywords: %v", err)
			hits = t.keywordQuery(query)
		} else {
			hits = semantic
		}
	} else {
		hits = t.keywordQuery(query)
	}
	if len(hits) == 0 {
		return "未找到相关内容。", nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "找到 %d 条相关内容:\n\n", len(hits))
	for i, h := range hits {
		fmt.Fprintf(&b, "[%d] %s\n%s\n\n", i+1, h.file, h.content)
	}
	return strings.TrimRight(b.String(), "\n"), nil
}

// ensureLoaded reads and chunks every .md/.txt document once.
func (t *KnowledgeTool) ensureLoaded(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.loaded {
		return nil
	}
	t.loaded = true

	err := filepath.Walk(t.dir, func(path string, info os.FileInfo, err error) error {
		if err != nil || info.IsDir() {
			return nil
		}
		ext := strings.ToLower(filepath.Ext(path))
		if ext != ".md" && ext != ".txt" {
			return nil
		}
		raw, err := os.ReadFile(path)
		if err != nil {
			t.logger.Warn("knowledge file %s: %v", path, err)
			return nil
		}
		rel, relErr := filepath.Rel(t.dir, path)
		if relErr != nil {
			rel = filepath.Base(path)
		}
		for _, chunk := range chunkText(string(raw), knowledgeChunkSize) {
			t.chunks = append(t.chunks, knowledgeChunk{file: rel, content: chunk})
		}
		return nil
	})
	if err != nil && !os.IsNotExist(err) {
		return err
	}

	if t.db != nil && len(t.chunks) > 0 {
		collection, err := t.db.CreateCollection("knowledge", nil, t.embed)
		if err != nil {
			return err
		}
		for i, c := range t.chunks {
			doc := chromem.Document{
				ID:       fmt.Sprintf("%d", i),
				Content:  c.content,
				Metadata: map[string]string{"file": c.file},
			}
			if err := collection.AddDocument(ctx, doc); err != nil {
				t.logger.Warn("knowledge index: %v", err)
				t.db = nil
				break
			}
		}
	}
	return nil
}

func (t *KnowledgeTool) semanticQuery(ctx context.Context, query string) ([]knowledgeChunk, error) {
	collection := t.db.GetCollection("knowledge", t.embed)
	if collection == nil {
		return nil, errors.New("knowledge collection missing")
	}
	n := knowledgeTopK
	if count := collection.Count(); n > count {
		n = count
	}
	results, err := collection.Query(ctx, query, n, nil, nil)
	if err != nil {
		return nil, err
	}
	var hits []knowledgeChunk
	for _, r := range results {
		hits = append(hits, knowledgeChunk{file: r.Metadata["file"], content: r.Content})
	}
	return hits, nil
}

func (t *KnowledgeTool) keywordQuery(query string) []knowledgeChunk {
	terms := strings.Fields(strings.ToLower(query))
	if len(terms) == 0 {
		return nil
	}
	type scored struct {
		chunk knowledgeChunk
		score int
	}
	var matches []scored
	for _, c := range t.chunks {
		lower := strings.ToLower(c.content)
		score := 0
		for _, term := range terms {
			score += strings.Count(lower, term)
		}
		// CJK queries rarely split on spaces; fall back to whole-query match.
		if score == 0 && strings.Contains(lower, strings.ToLower(query)) {
			score = 1
		}
		if score > 0 {
			matches = append(matches, scored{chunk: c, score: score})
		}
	}
	sort.SliceStable(matches, func(i, j int) bool { return matches[i].score > matches[j].score })
	if len(matches) > knowledgeTopK {
		matches = matches[:knowledgeTopK]
	}
	out := make([]knowledgeChunk, 0, len(matches))
	for _, m := range matches {
		out = append(out, m.chunk)
	}
	return out
}

// chunkText splits on paragraph boundaries, packing paragraphs into chunks
// of roughly maxRunes.
func chunkText(text string, maxRunes int) []string {
	paragraphs := strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n\n")
	var chunks []string
	var current strings.Builder
	currentRunes := 0
	flush := func() {
		if trimmed := strings.TrimSpace(current.String()); trimmed != "" {
			chunks = append(chunks, trimmed)
		}
		current.Reset()
		currentRunes = 0
	}
	for _, p := range paragraphs {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		runes := len([]rune(p))
		if currentRunes > 0 && currentRunes+runes > maxRunes {
			flush()
		}
		if runes > maxRunes {
			flush()
			r := []rune(p)
			for len(r) > maxRunes {
				chunks = append(chunks, string(r[:maxRunes]))
				r = r[maxRunes:]
			}
			if len(r) > 0 {
				current.WriteString(string(r))
				currentRunes = len(r)
			}
			continue
		}
		if currentRunes > 0 {
			current.WriteString("\n\n")
		}
		current.WriteString(p)
		currentRunes += runes
	}
	flush()
	return chunks
}
