package cache

import (
	"context"
	"encoding/json"
	"time"

	"aide/internal/events"
)

// LLMKeyParams identify one LLM reply for caching. RecentHistory carries the
// content of the last messages before the current one; MemoryFingerprint is
// the mtime of memory.json so memory writes invalidate replies.
type LLMKeyParams struct {
	SystemPrompt      string
	RecentHistory     []string
	CurrentMessage    string
	Model             string
	Temperature       float64
	MemoryFingerprint string
}

const (
	llmKeyHistoryDepth = 3
	llmKeyHistoryChars = 500
)

// Key derives the cache key: sha256 over the sorted-key JSON of the
// parameters, with the system prompt pre-hashed to keep the key input small.
func (p LLMKeyParams) Key() string {
	history := p.RecentHistory
	if len(history) > llmKeyHistoryDepth {
		history = history[len(history)-llmKeyHistoryDepth:]
	}
	trimmed := make([]string, 0, len(history))
	for _, h := range history {
		if len(h) > llmKeyHistoryChars {
			h = h[:llmKeyHistoryChars]
		}
		trimmed = append(trimmed, h)
	}
	view := map[string]any{
		"system_prompt_hash": hashKey(p.SystemPrompt)[:16],
		"recent_history":     trimmed,
		"current_message":    p.CurrentMessage,
		"model":              p.Model,
		"temperature":        p.Temperature,
		"memory_fingerprint": p.MemoryFingerprint,
	}
	raw, _ := json.Marshal(view)
	return hashKey(string(raw))
}

// LLMCache stores whole event streams of prior runs and replays them.
type LLMCache struct {
	store   *Store
	enabled bool
}

func NewLLMCache(store *Store, enabled bool) *LLMCache {
	return &LLMCache{store: store, enabled: enabled}
}

// Enabled reports whether reply caching is on; when off the runner bypasses
// the cache entirely.
func (c *LLMCache) Enabled() bool {
	return c != nil && c.enabled
}

// Lookup returns the stored event list for the key, if any.
func (c *LLMCache) Lookup(params LLMKeyParams) ([]events.Event, bool) {
	if !c.Enabled() {
		return nil, false
	}
	var evs []events.Event
	if !c.store.GetJSON(params.Key(), &evs) {
		return nil, false
	}
	return evs, true
}

// Store saves a completed run's event list under the key.
func (c *LLMCache) Store(params LLMKeyParams, evs []events.Event) {
	if !c.Enabled() || len(evs) == 0 {
		return
	}
	_ = c.store.Set(params.Key(), evs, 0)
}

// Replay feeds stored events to emit, tagging each one cached=true. When
// stream is set, small per-event delays approximate the original pacing;
// replay stops early if ctx is cancelled.
func (c *LLMCache) Replay(ctx context.Context, evs []events.Event, stream bool, emit func(events.Event)) {
	for _, ev := range evs {
		if stream {
			select {
			case <-ctx.Done():
				return
			case <-time.After(replayDelay(ev.Type)):
			}
		} else if ctx.Err() != nil {
			return
		}
		ev.Cached = true
		emit(ev)
	}
}

func replayDelay(eventType string) time.Duration {
	switch eventType {
	case events.TypeToken:
		return 10 * time.Millisecond
	case events.TypeToolStart, events.TypeToolEnd:
		return 50 * time.Millisecond
	default:
		return 10 * time.Millisecond
	}
}
