package tools

import (
	"context"
	"time"

	"aide/internal/cache"
	"aide/internal/events"
	"aide/internal/security"
	"aide/internal/sessionctx"
)

// Guarded wraps a tool with the permission pipeline and the result cache.
// Every model-initiated invocation goes through a Guarded instance; the
// inner tool never sees a call the gate denied.
type Guarded struct {
	inner Tool
	guard *security.Guard
	cache *cache.ToolCache
}

// Wrap applies the guard and cache to a tool. Either may be nil.
func Wrap(t Tool, guard *security.Guard, toolCache *cache.ToolCache) Tool {
	if guard == nil && toolCache == nil {
		return t
	}
	return &Guarded{inner: t, guard: guard, cache: toolCache}
}

// WrapAll wraps every tool in the slice.
func WrapAll(ts []Tool, guard *security.Guard, toolCache *cache.ToolCache) []Tool {
	out := make([]Tool, 0, len(ts))
	for _, t := range ts {
		out = append(out, Wrap(t, guard, toolCache))
	}
	return out
}

func (g *Guarded) Name() string           { return g.inner.Name() }
func (g *Guarded) Description() string    { return g.inner.Description() }
func (g *Guarded) Schema() map[string]any { return g.inner.Schema() }

func (g *Guarded) Invoke(ctx context.Context, args map[string]any) (string, error) {
	name := g.inner.Name()
	risk := security.RiskSafe

	if g.guard != nil {
		outcome := g.guard.Check(ctx, sessionctx.SessionID(ctx), name, args, events.EmitterFrom(ctx))
		if !outcome.Proceed {
			// Denials are results, not errors: the model should read the
			// reason and adjust.
			return outcome.Message, nil
		}
		risk = outcome.Risk
		if g.cache != nil {
			if cached, ok := g.cache.Get(name, args); ok {
				return security.ApplyFeedback(outcome.Feedback, events.CacheHitPrefix+" "+cached), nil
			}
		}

		start := time.Now()
		result, err := g.inner.Invoke(ctx, args)
		g.guard.RecordResult(name, args, risk, time.Since(start), err)
		if err != nil {
			return "", err
		}
		if g.cache != nil {
			g.cache.Set(name, args, result)
		}
		return security.ApplyFeedback(outcome.Feedback, result), nil
	}

	if g.cache != nil {
		if cached, ok := g.cache.Get(name, args); ok {
			return events.CacheHitPrefix + " " + cached, nil
		}
	}
	result, err := g.inner.Invoke(ctx, args)
	if err == nil && g.cache != nil {
		g.cache.Set(name, args, result)
	}
	return result, err
}
