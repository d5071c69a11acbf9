package cache

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"time"

	"aide/internal/shared/logging"
)

// diskEntry is the on-disk JSON shape:
// <root>/<type>/<key[:2]>/<key>.json.
type diskEntry struct {
	Key       string          `json:"key"`
	Value     json.RawMessage `json:"value"`
	CreatedAt string          `json:"created_at"`
	ExpireAt  string          `json:"expire_at,omitempty"`
}

type diskTier struct {
	root      string
	maxBytes  int64
	logger    logging.Logger
}

func newDiskTier(dir, name string, maxMB int, logger logging.Logger) *diskTier {
	if maxMB <= 0 {
		maxMB = 5120
	}
	return &diskTier{
		root:     filepath.Join(dir, name),
		maxBytes: int64(maxMB) * 1024 * 1024,
		logger:   logger,
	}
}

func (d *diskTier) path(key string) string {
	shard := key
	if len(shard) > 2 {
		shard = shard[:2]
	}
	return filepath.Join(d.root, shard, key+".json")
}

func (d *diskTier) get(key string, now time.Time) (json.RawMessage, time.Time, bool) {
	path := d.path(key)
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, time.Time{}, false
	}
	var entry diskEntry
	if err := json.Unmarshal(raw, &entry); err != nil {
		// Corrupted entries are deleted, not surfaced.
		d.logger.Warn("corrupt cache file %s: %v", path, err)
		os.Remove(path)
		return nil, time.Time{}, false
	}
	var expireAt time.Time
	if entry.ExpireAt != "" {
		expireAt, err = time.Parse(time.RFC3339, entry.ExpireAt)
		if err == nil && !now.Before(expireAt) {
			os.Remove(path)
			return nil, time.Time{}, false
		}
	}
	// Touch for LRU ordering.
	_ = os.Chtimes(path, now, now)
	return entry.Value, expireAt, true
}

func (d *diskTier) set(key string, value json.RawMessage, now, expireAt time.Time) error {
	entry := diskEntry{
		Key:       key,
		Value:     value,
		CreatedAt: now.UTC().Format(time.RFC3339),
	}
	if !expireAt.IsZero() {
		entry.ExpireAt = expireAt.UTC().Format(time.RFC3339)
	}
	raw, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	path := d.path(key)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		return err
	}
	if d.totalSize() > d.maxBytes {
		d.cleanupLRU()
	}
	return nil
}

func (d *diskTier) delete(key string) {
	os.Remove(d.path(key))
}

func (d *diskTier) clear() int {
	count := 0
	d.walk(func(path string, _ os.FileInfo) {
		if os.Remove(path) == nil {
			count++
		}
	})
	return count
}

func (d *diskTier) cleanupExpired(now time.Time) int {
	count := 0
	d.walk(func(path string, _ os.FileInfo) {
		raw, err := os.ReadFile(path)
		if err != nil {
			return
		}
		var entry diskEntry
		if err := json.Unmarshal(raw, &entry); err != nil {
			os.Remove(path)
			count++
			return
		}
		if entry.ExpireAt == "" {
			return
		}
		expireAt, err := time.Parse(time.RFC3339, entry.ExpireAt)
		if err == nil && !now.Before(expireAt) {
			os.Remove(path)
			count++
		}
	})
	return count
}

// cleanupLRU deletes oldest-accessed files until the tier is at 80% of its
// byte budget.
func (d *diskTier) cleanupLRU() int {
	type fileInfo struct {
		path string
		size int64
		mod  time.Time
	}
	var files []fileInfo
	var total int64
	d.walk(func(path string, info os.FileInfo) {
		files = append(files, fileInfo{path: path, size: info.Size(), mod: info.ModTime()})
		total += info.Size()
	})
	target := d.maxBytes * 8 / 10
	if total <= target {
		return 0
	}
	sort.Slice(files, func(i, j int) bool { return files[i].mod.Before(files[j].mod) })
	removed := 0
	for _, f := range files {
		if total <= target {
			break
		}
		if os.Remove(f.path) == nil {
			total -= f.size
			removed++
		}
	}
	return removed
}

func (d *diskTier) totalSize() int64 {
	var total int64
	d.walk(func(_ string, info os.FileInfo) {
		total += info.Size()
	})
	return total
}

func (d *diskTier) walk(fn func(path string, info os.FileInfo)) {
	_ = filepath.Walk(d.root, func(path string, info os.FileInfo, err error) error {
		if err != nil || info == nil || info.IsDir() || filepath.Ext(path) != ".json" {
			return nil
		}
		fn(path, info)
		return nil
	})
}
