package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"os"
	"sort"
	"time"
)

func hashKey(parts ...string) string {
	h := sha256.New()
	for _, p := range parts {
		h.Write([]byte(p))
	}
	return hex.EncodeToString(h.Sum(nil))
}

// URLCache caches fetched web content keyed by sha256(url).
type URLCache struct {
	store   *Store
	enabled bool
}

func NewURLCache(store *Store, enabled bool) *URLCache {
	return &URLCache{store: store, enabled: enabled}
}

func (c *URLCache) Get(url string) (string, bool) {
	if !c.enabled {
		return "", false
	}
	return c.store.GetString(hashKey(url))
}

func (c *URLCache) Set(url, content string) {
	if !c.enabled {
		return
	}
	_ = c.store.Set(hashKey(url), content, 0)
}

// TranslateCache caches translations keyed by
// sha256(content || "|" || target_language).
type TranslateCache struct {
	store   *Store
	enabled bool
}

func NewTranslateCache(store *Store, enabled bool) *TranslateCache {
	return &TranslateCache{store: store, enabled: enabled}
}

func (c *TranslateCache) Get(content, targetLanguage string) (string, bool) {
	if !c.enabled {
		return "", false
	}
	return c.store.GetString(hashKey(content, "|", targetLanguage))
}

func (c *TranslateCache) Set(content, targetLanguage, translated string) {
	if !c.enabled {
		return
	}
	_ = c.store.Set(hashKey(content, "|", targetLanguage), translated, 0)
}

// PromptCache caches the assembled system prompt keyed by a fingerprint over
// the mtimes of every file that feeds it, so workspace edits self-invalidate.
type PromptCache struct {
	store   *Store
	enabled bool
}

func NewPromptCache(store *Store, enabled bool) *PromptCache {
	return &PromptCache{store: store, enabled: enabled}
}

// FingerprintFiles derives the cache key from {path: mtime} over the given
// files, serialised with sorted keys. Missing files contribute mtime 0 so
// that creating one later still invalidates.
func FingerprintFiles(paths []string) string {
	sorted := append([]string(nil), paths...)
	sort.Strings(sorted)
	view := make(map[string]int64, len(sorted))
	for _, p := range sorted {
		var mtime int64
		if info, err := os.Stat(p); err == nil {
			mtime = info.ModTime().UnixNano()
		}
		view[p] = mtime
	}
	raw, _ := json.Marshal(view)
	return hashKey(string(raw))
}

func (c *PromptCache) Get(fingerprint string) (string, bool) {
	if !c.enabled {
		return "", false
	}
	return c.store.GetString(fingerprint)
}

func (c *PromptCache) Set(fingerprint, prompt string) {
	if !c.enabled {
		return
	}
	_ = c.store.Set(fingerprint, prompt, 0)
}

// Invalidate drops every cached prompt. Called when memory content changes,
// since the memory projection is embedded in the prompt.
func (c *PromptCache) Invalidate() {
	if c.store != nil {
		c.store.Clear()
	}
}

// ToolCache caches tool results keyed by the tool name plus the JSON of its
// arguments. Hits are returned with the CacheHitPrefix already applied by
// the caller.
type ToolCache struct {
	store   *Store
	exclude map[string]bool
	ttl     time.Duration
}

func NewToolCache(store *Store, excludeTools []string, ttl time.Duration) *ToolCache {
	exclude := make(map[string]bool, len(excludeTools))
	for _, name := range excludeTools {
		exclude[name] = true
	}
	return &ToolCache{store: store, exclude: exclude, ttl: ttl}
}

// Key derives the cache key for one invocation.
func (c *ToolCache) Key(tool string, args map[string]any) string {
	raw, _ := json.Marshal(args)
	return hashKey(tool, ":", string(raw))
}

// Cacheable reports whether results for this tool may be cached.
func (c *ToolCache) Cacheable(tool string) bool {
	return c != nil && !c.exclude[tool]
}

func (c *ToolCache) Get(tool string, args map[string]any) (string, bool) {
	if !c.Cacheable(tool) {
		return "", false
	}
	return c.store.GetString(c.Key(tool, args))
}

func (c *ToolCache) Set(tool string, args map[string]any, result string) {
	if !c.Cacheable(tool) {
		return
	}
	_ = c.store.Set(c.Key(tool, args), result, c.ttl)
}
