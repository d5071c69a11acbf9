// Package cache implements the two-tier (memory LRU + disk JSON) cache and
// the specialised facades built on it: URL, translation, prompt, LLM reply,
// and generic tool-result caching.
package cache

import (
	"encoding/json"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"aide/internal/shared/logging"
)

// Stats counts facade-level cache activity.
type Stats struct {
	Hits    int64
	Misses  int64
	Sets    int64
	Deletes int64
}

type memEntry struct {
	raw      json.RawMessage
	expireAt time.Time
}

// Store is one named two-tier cache. L1 is a bounded LRU map, L2 a sharded
// JSON directory. Disk I/O failures are logged and degrade to L1-only
// behaviour; they are never fatal.
type Store struct {
	mu         sync.Mutex
	name       string
	mem        *lru.Cache[string, memEntry]
	disk       *diskTier
	defaultTTL time.Duration
	logger     logging.Logger
	stats      Stats
	now        func() time.Time
}

// Options configures a Store.
type Options struct {
	// Name identifies the cache type; it becomes the disk subdirectory.
	Name string
	// Dir is the cache root. Empty disables the disk tier.
	Dir string
	// MaxMemoryItems bounds L1 (default 100).
	MaxMemoryItems int
	// MaxDiskMB bounds L2; exceeding it triggers LRU cleanup down to 80%.
	MaxDiskMB int
	// DefaultTTL applies when Set is called without an explicit TTL.
	DefaultTTL time.Duration
	Logger     logging.Logger
}

// NewStore builds a named two-tier cache.
func NewStore(opts Options) *Store {
	maxItems := opts.MaxMemoryItems
	if maxItems <= 0 {
		maxItems = 100
	}
	mem, _ := lru.New[string, memEntry](maxItems)
	s := &Store{
		name:       opts.Name,
		mem:        mem,
		defaultTTL: opts.DefaultTTL,
		logger:     logging.OrNop(opts.Logger),
		now:        time.Now,
	}
	if opts.Dir != "" {
		s.disk = newDiskTier(opts.Dir, opts.Name, opts.MaxDiskMB, s.logger)
	}
	return s
}

// Get looks up key in L1, then L2 (promoting to L1 on hit). Expired entries
// are deleted in place.
func (s *Store) Get(key string) (json.RawMessage, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entry, ok := s.mem.Get(key); ok {
		if entry.expireAt.IsZero() || s.now().Before(entry.expireAt) {
			s.stats.Hits++
			return entry.raw, true
		}
		s.mem.Remove(key)
		s.stats.Deletes++
	}

	if s.disk != nil {
		if raw, expireAt, ok := s.disk.get(key, s.now()); ok {
			s.mem.Add(key, memEntry{raw: raw, expireAt: expireAt})
			s.stats.Hits++
			return raw, true
		}
	}

	s.stats.Misses++
	return nil, false
}

// Set writes value (JSON-marshaled) to both tiers. A zero ttl uses the
// store default; a negative ttl means no expiry.
func (s *Store) Set(key string, value any, ttl time.Duration) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	if ttl == 0 {
		ttl = s.defaultTTL
	}
	var expireAt time.Time
	if ttl > 0 {
		expireAt = s.now().Add(ttl)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.mem.Add(key, memEntry{raw: raw, expireAt: expireAt})
	s.stats.Sets++
	if s.disk != nil {
		if err := s.disk.set(key, raw, s.now(), expireAt); err != nil {
			s.logger.Warn("cache %s: disk write failed: %v", s.name, err)
		}
	}
	return nil
}

// GetJSON unmarshals a hit into out.
func (s *Store) GetJSON(key string, out any) bool {
	raw, ok := s.Get(key)
	if !ok {
		return false
	}
	if err := json.Unmarshal(raw, out); err != nil {
		s.logger.Warn("cache %s: corrupt entry %s: %v", s.name, key, err)
		s.Delete(key)
		return false
	}
	return true
}

// GetString returns a hit decoded as a string.
func (s *Store) GetString(key string) (string, bool) {
	var v string
	if !s.GetJSON(key, &v) {
		return "", false
	}
	return v, true
}

// Delete removes key from both tiers.
func (s *Store) Delete(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.mem.Remove(key) {
		s.stats.Deletes++
	}
	if s.disk != nil {
		s.disk.delete(key)
	}
}

// Clear empties both tiers and returns the number of entries removed.
func (s *Store) Clear() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	count := s.mem.Len()
	s.mem.Purge()
	if s.disk != nil {
		count += s.disk.clear()
	}
	s.stats.Deletes += int64(count)
	return count
}

// CleanupExpired removes expired disk entries; exposed for the maintenance
// scheduler.
func (s *Store) CleanupExpired() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.disk == nil {
		return 0
	}
	return s.disk.cleanupExpired(s.now())
}

// CleanupLRU trims the disk tier to 80% of its size budget, oldest access
// first.
func (s *Store) CleanupLRU() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.disk == nil {
		return 0
	}
	return s.disk.cleanupLRU()
}

// Stats returns a snapshot of the counters.
func (s *Store) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}
