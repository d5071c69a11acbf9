package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strings"

	"github.com/philippgille/chromem-go"

	"aide/internal/events"
	"aide/internal/llm"
	"aide/internal/shared/logging"
)

// Entries pairing above this similarity are clustered for merging.
const compressThreshold = 0.75

// Compressor merges clusters of near-duplicate memories into single
// entries, shrinking the store without losing content.
type Compressor struct {
	store  *Store
	client llm.Client
	embed  chromem.EmbeddingFunc
	logger logging.Logger
}

func NewCompressor(store *Store, client llm.Client, embed chromem.EmbeddingFunc, logger logging.Logger) *Compressor {
	return &Compressor{
		store:  store,
		client: client,
		embed:  embed,
		logger: logging.OrNop(logger),
	}
}

// Run compresses the store, emitting progress/result events when emit is
// non-nil. The previous file is kept as memory.json.pre-compress.
func (c *Compressor) Run(ctx context.Context, emit func(events.Event)) error {
	send := func(ev events.Event) {
		if emit != nil {
			emit(ev)
		}
	}

	entries := c.store.Entries()
	var active []Entry
	for _, e := range entries {
		if !e.Archived {
			active = append(active, e)
		}
	}
	if len(active) < 2 {
		send(events.Event{Type: events.TypeResult, Message: "记忆数量不足，跳过压缩"})
		return nil
	}

	send(events.Event{Type: events.TypeProgress, Message: fmt.Sprintf("开始压缩 %d 条记忆", len(active))})

	clusters := c.cluster(ctx, active)
	merged := 0
	mergedClusters := 0
	keep := make(map[string]Entry, len(entries))
	for _, e := range entries {
		keep[e.ID] = e
	}

	for _, cluster := range clusters {
		if len(cluster) < 2 {
			continue
		}
		mergedEntry, err := c.merge(ctx, cluster)
		if err != nil {
			c.logger.Warn("merge cluster of %d: %v", len(cluster), err)
			send(events.Event{Type: events.TypeError, Message: fmt.Sprintf("合并失败: %v", err)})
			continue
		}
		for _, e := range cluster {
			delete(keep, e.ID)
		}
		keep[mergedEntry.ID] = mergedEntry
		merged += len(cluster)
		mergedClusters++
		send(events.Event{Type: events.TypeProgress, Message: fmt.Sprintf("合并 %d 条记忆为 1 条", len(cluster))})
	}

	if merged == 0 {
		send(events.Event{Type: events.TypeResult, Message: "没有可合并的记忆"})
		return nil
	}

	final := make([]Entry, 0, len(keep))
	for _, e := range entries {
		if kept, ok := keep[e.ID]; ok {
			final = append(final, kept)
			delete(keep, e.ID)
		}
	}
	for _, e := range keep {
		final = append(final, e)
	}
	if err := c.store.ReplaceAll(final, ".pre-compress"); err != nil {
		send(events.Event{Type: events.TypeError, Message: err.Error()})
		return err
	}
	send(events.Event{Type: events.TypeResult, Message: fmt.Sprintf("压缩完成: %d 条记忆合并为 %d 条", merged, mergedClusters)})
	return nil
}

// cluster groups entries whose pairwise similarity meets the threshold,
// using union-find over all pairs. Embeddings when available, text
// similarity otherwise.
func (c *Compressor) cluster(ctx context.Context, entries []Entry) [][]Entry {
	n := len(entries)
	parent := make([]int, n)
	for i := range parent {
		parent[i] = i
	}
	var find func(int) int
	find = func(i int) int {
		if parent[i] != i {
			parent[i] = find(parent[i])
		}
		return parent[i]
	}
	union := func(i, j int) {
		parent[find(i)] = find(j)
	}

	vectors := c.embedAll(ctx, entries)
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			if entries[i].Category != entries[j].Category {
				continue
			}
			var sim float64
			if vectors != nil && vectors[i] != nil && vectors[j] != nil {
				sim = cosineSimilarity(vectors[i], vectors[j])
			} else {
				sim = TextSimilarity(entries[i].Content, entries[j].Content)
			}
			if sim >= compressThreshold {
				union(i, j)
			}
		}
	}

	groups := make(map[int][]Entry)
	for i, e := range entries {
		root := find(i)
		groups[root] = append(groups[root], e)
	}
	clusters := make([][]Entry, 0, len(groups))
	for _, g := range groups {
		clusters = append(clusters, g)
	}
	return clusters
}

func (c *Compressor) embedAll(ctx context.Context, entries []Entry) [][]float32 {
	if c.embed == nil {
		return nil
	}
	vectors := make([][]float32, len(entries))
	for i, e := range entries {
		v, err := c.embed(ctx, e.Content)
		if err != nil {
			c.logger.Warn("embed for compression failed, using text similarity: %v", err)
			return nil
		}
		vectors[i] = v
	}
	return vectors
}

func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// TextSimilarity blends n-gram overlap, character-set overlap, and length
// ratio into one score. The embedding-free fallback for clustering.
func TextSimilarity(a, b string) float64 {
	return 0.4*ngramOverlap(a, b, 2) +
		0.3*ngramOverlap(a, b, 3) +
		0.2*charsetOverlap(a, b) +
		0.1*lengthRatio(a, b)
}

func ngramOverlap(a, b string, n int) float64 {
	gramsA := ngrams(a, n)
	gramsB := ngrams(b, n)
	if len(gramsA) == 0 || len(gramsB) == 0 {
		return 0
	}
	intersection := 0
	for g := range gramsA {
		if gramsB[g] {
			intersection++
		}
	}
	union := len(gramsA) + len(gramsB) - intersection
	return float64(intersection) / float64(union)
}

func ngrams(s string, n int) map[string]bool {
	runes := []rune(strings.ToLower(s))
	grams := make(map[string]bool)
	for i := 0; i+n <= len(runes); i++ {
		grams[string(runes[i:i+n])] = true
	}
	return grams
}

func charsetOverlap(a, b string) float64 {
	setA := make(map[rune]bool)
	for _, r := range strings.ToLower(a) {
		setA[r] = true
	}
	setB := make(map[rune]bool)
	for _, r := range strings.ToLower(b) {
		setB[r] = true
	}
	if len(setA) == 0 || len(setB) == 0 {
		return 0
	}
	intersection := 0
	for r := range setA {
		if setB[r] {
			intersection++
		}
	}
	union := len(setA) + len(setB) - intersection
	return float64(intersection) / float64(union)
}

func lengthRatio(a, b string) float64 {
	la := float64(len([]rune(a)))
	lb := float64(len([]rune(b)))
	if la == 0 || lb == 0 {
		return 0
	}
	if la > lb {
		la, lb = lb, la
	}
	return la / lb
}

type mergeResult struct {
	Content  string  `json:"content"`
	Salience float64 `json:"salience"`
}

// merge asks the model for a combined entry; on failure the highest-salience
// member wins and the rest fold in verbatim.
func (c *Compressor) merge(ctx context.Context, cluster []Entry) (Entry, error) {
	var ids []string
	accessCount := 0
	maxSalience := 0.0
	var contents []string
	for _, e := range cluster {
		ids = append(ids, e.ID)
		accessCount += e.AccessCount
		if e.Salience > maxSalience {
			maxSalience = e.Salience
		}
		contents = append(contents, "- "+e.Content)
	}

	merged := Entry{}
	if c.client != nil {
		prompt := fmt.Sprintf(`以下记忆内容高度相似，请合并为一条完整、不丢失信息的记忆，只返回 JSON:
{"content": "合并后的内容", "salience": 0.0到1.0之间的重要性}

%s`, strings.Join(contents, "\n"))
		resp, err := c.client.Complete(ctx, llm.CompletionRequest{
			Messages: []llm.Message{{Role: llm.RoleUser, Content: prompt}},
		})
		if err == nil {
			var result mergeResult
			if raw, jerr := llm.ExtractJSON(resp.Message.Content); jerr == nil &&
				json.Unmarshal([]byte(raw), &result) == nil && result.Content != "" {
				merged = NewEntry(result.Content, cluster[0].Category, result.Salience, "compression")
			}
		} else {
			c.logger.Warn("merge llm call failed: %v", err)
		}
	}
	if merged.Content == "" {
		merged = NewEntry(strings.Join(contents, "\n"), cluster[0].Category, maxSalience, "compression")
	}
	merged.MergedFrom = ids
	merged.AccessCount = accessCount
	return merged, nil
}
