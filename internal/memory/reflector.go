package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"aide/internal/llm"
	"aide/internal/shared/logging"
)

// Reflector distills a finished session into memory mutations with a single
// LLM pass, applied in the background after the run completes.
type Reflector struct {
	store  *Store
	client llm.Client
	logger logging.Logger
}

func NewReflector(store *Store, client llm.Client, logger logging.Logger) *Reflector {
	return &Reflector{
		store:  store,
		client: client,
		logger: logging.OrNop(logger),
	}
}

type reflectionDecision struct {
	Action   string  `json:"action"`
	Content  string  `json:"content"`
	Category string  `json:"category"`
	Salience float64 `json:"salience"`
	TargetID string  `json:"target_id,omitempty"`
	Reason   string  `json:"reason,omitempty"`
}

const reflectionPrompt = `回顾以下会话，提取值得长期记住的信息（用户偏好、事实、经验教训）。
只返回 JSON 数组，没有可记的内容时返回 []:
[{"action": "ADD|UPDATE|NOOP", "content": "记忆内容", "category": "preferences|facts|tasks|reflections|procedural|general", "salience": 0.0到1.0, "target_id": "仅 UPDATE 时填写", "reason": "简要理由"}]

会话内容:
%s`

// Reflect runs the reflection pass over a session transcript. Returns the
// number of added and updated memories.
func (r *Reflector) Reflect(ctx context.Context, sessionID string, transcript []llm.Message) (added, updated int, err error) {
	if r.client == nil || len(transcript) == 0 {
		return 0, 0, nil
	}

	var b strings.Builder
	for _, m := range transcript {
		if m.Content == "" {
			continue
		}
		fmt.Fprintf(&b, "[%s] %s\n", m.Role, m.Content)
	}
	if b.Len() == 0 {
		return 0, 0, nil
	}

	resp, err := r.client.Complete(ctx, llm.CompletionRequest{
		Messages: []llm.Message{{Role: llm.RoleUser, Content: fmt.Sprintf(reflectionPrompt, b.String())}},
	})
	if err != nil {
		return 0, 0, fmt.Errorf("reflection call: %w", err)
	}

	raw, err := llm.ExtractJSON(resp.Message.Content)
	if err != nil {
		return 0, 0, fmt.Errorf("reflection unparseable: %w", err)
	}
	var decisions []reflectionDecision
	if err := json.Unmarshal([]byte(raw), &decisions); err != nil {
		return 0, 0, fmt.Errorf("reflection unparseable: %w", err)
	}

	for _, d := range decisions {
		switch strings.ToUpper(strings.TrimSpace(d.Action)) {
		case "ADD":
			if strings.TrimSpace(d.Content) == "" {
				continue
			}
			opts := AddOptions{Source: "reflection", SkipDedup: true}
			if NormalizeCategory(d.Category) == CategoryProcedural {
				opts.Context = map[string]any{"learned_from": sessionID}
			}
			if _, _, err := r.store.Add(d.Content, d.Category, d.Salience, opts); err != nil {
				r.logger.Warn("reflection add: %v", err)
				continue
			}
			added++
		case "UPDATE":
			if d.TargetID == "" || strings.TrimSpace(d.Content) == "" {
				continue
			}
			fields := UpdateFields{Content: &d.Content}
			if d.Salience > 0 {
				salience := ClampSalience(d.Salience)
				fields.Salience = &salience
			}
			if _, err := r.store.Update(d.TargetID, fields); err != nil {
				r.logger.Warn("reflection update %s: %v", d.TargetID, err)
				continue
			}
			updated++
		}
	}

	if added > 0 || updated > 0 {
		line := fmt.Sprintf("会话反思: %d 条新记忆, %d 条更新", added, updated)
		if err := r.store.AppendDailyLog(line, "reflection"); err != nil {
			r.logger.Warn("reflection daily log: %v", err)
		}
	}
	return added, updated, nil
}
