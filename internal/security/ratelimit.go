package security

import (
	"fmt"
	"strings"
	"sync"
	"time"
)

type limitRule struct {
	max    int
	window time.Duration
}

// Per-tool sliding-window limits. External tools share one "mcp" bucket.
var defaultLimits = map[string]limitRule{
	"terminal":    {max: 20, window: 300 * time.Second},
	"python_repl": {max: 20, window: 300 * time.Second},
	"fetch_url":   {max: 30, window: 300 * time.Second},
	"mcp":         {max: 20, window: 300 * time.Second},
}

// RateLimiter tracks invocation timestamps per (session, bucket) and denies
// calls over the window budget.
type RateLimiter struct {
	mu     sync.Mutex
	limits map[string]limitRule
	calls  map[string][]time.Time
	now    func() time.Time
}

func NewRateLimiter() *RateLimiter {
	return &RateLimiter{
		limits: defaultLimits,
		calls:  make(map[string][]time.Time),
		now:    time.Now,
	}
}

func limitBucket(tool string) (string, bool) {
	if strings.HasPrefix(tool, "mcp__") {
		return "mcp", true
	}
	_, ok := defaultLimits[tool]
	return tool, ok
}

// Allow records the call when under budget. When over budget it returns
// false plus a user-facing denial naming the seconds until the window frees
// a slot.
func (r *RateLimiter) Allow(sessionID, tool string) (bool, string) {
	bucket, limited := limitBucket(tool)
	if !limited {
		return true, ""
	}
	rule := r.limits[bucket]

	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	key := sessionID + "/" + bucket
	cutoff := now.Add(-rule.window)
	recent := r.calls[key][:0]
	for _, t := range r.calls[key] {
		if t.After(cutoff) {
			recent = append(recent, t)
		}
	}
	r.calls[key] = recent

	if len(recent) >= rule.max {
		retry := recent[0].Add(rule.window).Sub(now)
		seconds := int(retry.Seconds() + 0.5)
		if seconds < 1 {
			seconds = 1
		}
		return false, fmt.Sprintf("⛔ Rate limit exceeded for %s: %d calls per %d seconds. Retry in %d seconds.",
			tool, rule.max, int(rule.window.Seconds()), seconds)
	}
	r.calls[key] = append(recent, now)
	return true, ""
}
