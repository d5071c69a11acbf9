package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"aide/internal/llm"
	"aide/internal/shared/logging"
)

// Candidates scoring at or above this against the incoming content go
// through LLM consolidation instead of a plain append.
const consolidateScore = 0.7

// Consolidator decides how a new memory relates to existing ones: append it,
// merge it into a close neighbor, or replace a superseded entry.
type Consolidator struct {
	store    *Store
	searcher *Searcher
	client   llm.Client
	logger   logging.Logger
}

func NewConsolidator(store *Store, searcher *Searcher, client llm.Client, logger logging.Logger) *Consolidator {
	return &Consolidator{
		store:    store,
		searcher: searcher,
		client:   client,
		logger:   logging.OrNop(logger),
	}
}

type consolidateDecision struct {
	Decision      string `json:"decision"`
	TargetID      string `json:"target_id"`
	MergedContent string `json:"merged_content"`
}

// Write stores content, consulting the LLM when a same-category neighbor is
// close enough. Returns the resulting entry and a Chinese status line for
// the tool response.
func (c *Consolidator) Write(ctx context.Context, content, category string, salience float64, source string) (Entry, string, error) {
	category = NormalizeCategory(category)

	var best *ScoredEntry
	if c.searcher != nil {
		results := c.searcher.Search(ctx, content, 5, SearchOptions{Category: category, Raw: true})
		if len(results) > 0 && results[0].Score >= consolidateScore {
			best = &results[0]
		}
	}

	if best == nil || c.client == nil {
		entry, added, err := c.store.Add(content, category, salience, AddOptions{Source: source})
		if err != nil {
			return Entry{}, "", err
		}
		label := CategoryLabel(category)
		if !added {
			return entry, fmt.Sprintf("ℹ️ 已存在相似记忆 [%s]，未重复写入", label), nil
		}
		return entry, fmt.Sprintf("✅ 已写入长期记忆 [%s]", label), nil
	}

	decision := c.decide(ctx, content, best.Entry)
	label := CategoryLabel(category)
	switch decision.Decision {
	case "UPDATE":
		merged := decision.MergedContent
		if merged == "" {
			merged = content
		}
		newSalience := best.Entry.Salience
		if newSalience < 0.5 {
			newSalience = 0.5
		}
		if salience > newSalience {
			newSalience = salience
		}
		entry, err := c.store.Update(best.Entry.ID, UpdateFields{
			Content:  &merged,
			Salience: &newSalience,
		})
		if err != nil {
			return Entry{}, "", err
		}
		return entry, fmt.Sprintf("✅ 已更新记忆 [%s]", label), nil
	case "DELETE":
		if err := c.store.Delete(best.Entry.ID); err != nil {
			c.logger.Warn("consolidate delete %s: %v", best.Entry.ID, err)
		}
		entry, _, err := c.store.Add(content, category, salience, AddOptions{Source: source, SkipDedup: true})
		if err != nil {
			return Entry{}, "", err
		}
		return entry, fmt.Sprintf("✅ 已替换过时记忆 [%s]", label), nil
	default:
		entry, added, err := c.store.Add(content, category, salience, AddOptions{Source: source})
		if err != nil {
			return Entry{}, "", err
		}
		if !added {
			return entry, fmt.Sprintf("ℹ️ 已存在相似记忆 [%s]，未重复写入", label), nil
		}
		return entry, fmt.Sprintf("✅ 已写入长期记忆 [%s]", label), nil
	}
}

// decide asks the model how the new content relates to the neighbor.
// Any failure degrades to ADD.
func (c *Consolidator) decide(ctx context.Context, content string, neighbor Entry) consolidateDecision {
	prompt := fmt.Sprintf(`现有记忆:
[%s] %s

新内容:
%s

判断新内容与现有记忆的关系，只返回 JSON:
{"decision": "ADD|UPDATE|DELETE", "target_id": "%s", "merged_content": "合并后的内容（仅 UPDATE 时填写）"}

- ADD: 新内容是独立信息，单独保存
- UPDATE: 新内容补充或修正现有记忆，给出合并后的完整内容
- DELETE: 现有记忆已过时，应删除并保存新内容`,
		neighbor.ID, neighbor.Content, content, neighbor.ID)

	resp, err := c.client.Complete(ctx, llm.CompletionRequest{
		Messages: []llm.Message{{Role: llm.RoleUser, Content: prompt}},
	})
	if err != nil {
		c.logger.Warn("consolidate decision failed: %v", err)
		return consolidateDecision{Decision: "ADD"}
	}
	raw, err := llm.ExtractJSON(resp.Message.Content)
	if err != nil {
		c.logger.Warn("consolidate decision unparseable: %v", err)
		return consolidateDecision{Decision: "ADD"}
	}
	var decision consolidateDecision
	if err := json.Unmarshal([]byte(raw), &decision); err != nil {
		c.logger.Warn("consolidate decision unparseable: %v", err)
		return consolidateDecision{Decision: "ADD"}
	}
	decision.Decision = strings.ToUpper(strings.TrimSpace(decision.Decision))
	return decision
}
