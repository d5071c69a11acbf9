package graph

import (
	"context"
	"fmt"
	"sync"

	"aide/internal/shared/logging"
)

// End is the terminal routing target.
const End = "end"

// Node names.
const (
	NodeAgent      = "agent"
	NodePlanGate   = "planner"
	NodeApproval   = "approval"
	NodeExecutor   = "executor"
	NodeReplanner  = "replanner"
	NodeSummarizer = "summarizer"
)

// Interrupt pauses a run pending out-of-band input. The payload is
// surfaced to the caller verbatim.
type Interrupt struct {
	Payload map[string]any
}

// NodeFunc mutates the state and may raise an interrupt.
type NodeFunc func(ctx context.Context, state *AgentState) (*Interrupt, error)

// RouteFunc picks the next node after a node completes.
type RouteFunc func(state *AgentState) string

type node struct {
	run   NodeFunc
	route RouteFunc
}

// Graph is a compiled state machine: nodes plus conditional edges.
type Graph struct {
	start          string
	nodes          map[string]node
	recursionLimit int
	logger         logging.Logger
}

// ExecResult is the outcome of one Execute call. Interrupt non-nil means
// the run paused at InterruptNode and can resume from there.
type ExecResult struct {
	State         *AgentState
	Interrupt     *Interrupt
	InterruptNode string
}

func newGraph(start string, recursionLimit int, logger logging.Logger) *Graph {
	if recursionLimit <= 0 {
		recursionLimit = 100
	}
	return &Graph{
		start:          start,
		nodes:          make(map[string]node),
		recursionLimit: recursionLimit,
		logger:         logging.OrNop(logger),
	}
}

func (g *Graph) addNode(name string, run NodeFunc, route RouteFunc) {
	g.nodes[name] = node{run: run, route: route}
}

// Execute runs the graph from startNode ("" means the graph's entry) until
// End, an interrupt, or an error. The passed state is mutated in place.
func (g *Graph) Execute(ctx context.Context, state *AgentState, startNode string) (*ExecResult, error) {
	current := startNode
	if current == "" {
		current = g.start
	}
	for iterations := 0; ; iterations++ {
		if iterations >= g.recursionLimit {
			return nil, fmt.Errorf("recursion limit exceeded (%d)", g.recursionLimit)
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		n, ok := g.nodes[current]
		if !ok {
			return nil, fmt.Errorf("unknown node %q", current)
		}
		g.logger.Debug("node %s starting", current)
		interrupt, err := n.run(ctx, state)
		if err != nil {
			return nil, fmt.Errorf("node %s: %w", current, err)
		}
		if interrupt != nil {
			return &ExecResult{State: state, Interrupt: interrupt, InterruptNode: current}, nil
		}
		next := n.route(state)
		g.logger.Debug("node %s -> %s", current, next)
		if next == End {
			return &ExecResult{State: state}, nil
		}
		current = next
	}
}

// Checkpoint is a paused run: the state snapshot and the node to re-enter.
type Checkpoint struct {
	State *AgentState
	Node  string
}

// Checkpointer holds at most one paused run per session. Taking a
// checkpoint removes it, so each interrupt resumes exactly once.
type Checkpointer struct {
	mu   sync.Mutex
	byID map[string]*Checkpoint
}

func NewCheckpointer() *Checkpointer {
	return &Checkpointer{byID: make(map[string]*Checkpoint)}
}

// Save stores the paused run for a session, replacing any previous one.
func (c *Checkpointer) Save(sessionID string, state *AgentState, nodeName string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.byID[sessionID] = &Checkpoint{State: state.Clone(), Node: nodeName}
}

// Take removes and returns the session's checkpoint.
func (c *Checkpointer) Take(sessionID string) (*Checkpoint, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	cp, ok := c.byID[sessionID]
	if ok {
		delete(c.byID, sessionID)
	}
	return cp, ok
}

// Pending reports whether a session has a paused run.
func (c *Checkpointer) Pending(sessionID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.byID[sessionID]
	return ok
}
