// Package engine is the top-level orchestrator: it builds the initial graph
// state for a request, drives the compiled graph, bridges plan-approval
// interrupts to external resolvers, and funnels every event through a
// middleware chain before it reaches the consumer.
package engine

import (
	"context"

	"aide/internal/events"
	"aide/internal/llm"
	"aide/internal/shared/logging"
)

// Request is one engine run.
type Request struct {
	SessionID  string
	Message    string
	History    []llm.Message
	WorkingDir string
	// Stream selects token streaming and paced cache replay.
	Stream bool
	// Reflect schedules session reflection after the run completes.
	Reflect bool
}

// Middleware observes and may rewrite the run's event stream. OnEvent
// returns the (possibly mutated) event and whether to keep it.
type Middleware interface {
	OnRunStart(ctx context.Context, req *Request)
	OnEvent(ctx context.Context, req *Request, ev events.Event) (events.Event, bool)
	OnRunEnd(ctx context.Context, req *Request, runErr error)
}

// chain applies middlewares in order for start/event and in reverse for end.
// Middleware panics are logged and swallowed; they never reach the caller.
type chain struct {
	middlewares []Middleware
	logger      logging.Logger
}

func (c *chain) runStart(ctx context.Context, req *Request) {
	for _, m := range c.middlewares {
		c.protect(func() { m.OnRunStart(ctx, req) })
	}
}

// event pipes ev through every middleware; the second return is false when
// some middleware dropped it.
func (c *chain) event(ctx context.Context, req *Request, ev events.Event) (events.Event, bool) {
	keep := true
	for _, m := range c.middlewares {
		mw := m
		c.protect(func() {
			out, ok := mw.OnEvent(ctx, req, ev)
			if !ok {
				keep = false
				return
			}
			ev = out
		})
		if !keep {
			return events.Event{}, false
		}
	}
	return ev, true
}

func (c *chain) runEnd(ctx context.Context, req *Request, runErr error) {
	for i := len(c.middlewares) - 1; i >= 0; i-- {
		m := c.middlewares[i]
		c.protect(func() { m.OnRunEnd(ctx, req, runErr) })
	}
}

func (c *chain) protect(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("middleware panic: %v", r)
		}
	}()
	fn()
}
