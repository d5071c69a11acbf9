package graph

import (
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"aide/internal/config"
	"aide/internal/llm"
	"aide/internal/shared/logging"
	"aide/internal/tools"
)

// Deps carries everything the nodes need at run time. WrapTools applies the
// security and cache decoration to resolved tools; nil means tools run bare.
type Deps struct {
	Client      llm.Client
	Registry    *tools.Registry
	WrapTools   func([]tools.Tool) []tools.Tool
	Stream      bool
	LLMTimeout  time.Duration
	ToolTimeout time.Duration
	Logger      logging.Logger
}

func (d Deps) wrap(ts []tools.Tool) []tools.Tool {
	if d.WrapTools == nil {
		return ts
	}
	return d.WrapTools(ts)
}

// Builder compiles graphs from resolved configs. Compiled graphs are pure
// wiring, so they are cached process-wide by config fingerprint and shared
// across sessions; singleflight keeps concurrent first builds to one.
type Builder struct {
	deps  Deps
	mu    sync.RWMutex
	built map[string]*Graph
	group singleflight.Group
}

func NewBuilder(deps Deps) *Builder {
	deps.Logger = logging.OrNop(deps.Logger)
	return &Builder{deps: deps, built: make(map[string]*Graph)}
}

// Build returns the compiled graph for cfg, compiling it at most once.
func (b *Builder) Build(cfg config.ResolvedGraphConfig) *Graph {
	key := cfg.Fingerprint()
	b.mu.RLock()
	g, ok := b.built[key]
	b.mu.RUnlock()
	if ok {
		return g
	}
	v, _, _ := b.group.Do(key, func() (any, error) {
		compiled := compile(cfg, b.deps)
		b.mu.Lock()
		b.built[key] = compiled
		b.mu.Unlock()
		b.deps.Logger.Debug("compiled graph %s", key)
		return compiled, nil
	})
	return v.(*Graph)
}

func compile(cfg config.ResolvedGraphConfig, deps Deps) *Graph {
	g := newGraph(NodeAgent, cfg.RecursionLimit, deps.Logger)

	agent := &agentNode{cfg: cfg, deps: deps}
	g.addNode(NodeAgent, agent.run, agent.route)

	gate := &planGateNode{cfg: cfg, deps: deps}
	g.addNode(NodePlanGate, gate.run, gate.route)

	approval := &approvalNode{cfg: cfg, deps: deps}
	g.addNode(NodeApproval, approval.run, approval.route)

	executor := &executorNode{cfg: cfg, deps: deps}
	g.addNode(NodeExecutor, executor.run, executor.route)

	replanner := &replannerNode{cfg: cfg, deps: deps}
	g.addNode(NodeReplanner, replanner.run, replanner.route)

	summarizer := &summarizerNode{cfg: cfg, deps: deps}
	g.addNode(NodeSummarizer, summarizer.run, summarizer.route)

	return g
}

// afterPlanTarget is where control goes once a plan is done executing.
func afterPlanTarget(cfg config.ResolvedGraphConfig) string {
	if cfg.Summarizer.Enabled {
		return NodeSummarizer
	}
	return End
}
