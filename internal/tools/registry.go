package tools

import (
	"strings"
	"sync"

	"aide/internal/shared/logging"
)

// Group tokens accepted by Resolve alongside literal tool names.
const (
	GroupAll  = "all"
	GroupCore = "core"
	GroupMCP  = "mcp"
	GroupPlan = "plan"
)

// PlanToolName is the planning builtin, excluded from the executor's set so
// plan steps cannot spawn nested plans.
const PlanToolName = "plan_create"

// Registry holds the static builtin tools and the dynamic tier of external
// tools registered at runtime (MCP servers). Dynamic tools may come and go;
// statics are fixed at startup.
type Registry struct {
	mu      sync.RWMutex
	static  map[string]Tool
	dynamic map[string]Tool
	order   []string
	logger  logging.Logger
}

func NewRegistry(logger logging.Logger) *Registry {
	return &Registry{
		static:  make(map[string]Tool),
		dynamic: make(map[string]Tool),
		logger:  logging.OrNop(logger),
	}
}

// Register adds a builtin. Last registration wins on name collision.
func (r *Registry) Register(t Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.static[t.Name()]; !exists {
		r.order = append(r.order, t.Name())
	}
	r.static[t.Name()] = t
}

// RegisterDynamic adds an external tool under its prefixed name.
func (r *Registry) RegisterDynamic(t Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.dynamic[t.Name()] = t
}

// UnregisterDynamic removes every dynamic tool with the given prefix, used
// when an MCP server goes away.
func (r *Registry) UnregisterDynamic(prefix string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for name := range r.dynamic {
		if strings.HasPrefix(name, prefix) {
			delete(r.dynamic, name)
		}
	}
}

// Get looks a tool up in either tier.
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if t, ok := r.static[name]; ok {
		return t, true
	}
	t, ok := r.dynamic[name]
	return t, ok
}

func (r *Registry) staticInOrder() []Tool {
	out := make([]Tool, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.static[name])
	}
	return out
}

func (r *Registry) dynamicSorted() []Tool {
	names := make([]string, 0, len(r.dynamic))
	for name := range r.dynamic {
		names = append(names, name)
	}
	// Keep a stable order for prompt determinism.
	for i := 1; i < len(names); i++ {
		for j := i; j > 0 && names[j] < names[j-1]; j-- {
			names[j], names[j-1] = names[j-1], names[j]
		}
	}
	out := make([]Tool, 0, len(names))
	for _, name := range names {
		out = append(out, r.dynamic[name])
	}
	return out
}

// Resolve expands a token list (group names and literal tool names) into a
// deduplicated tool list preserving first appearance. Unknown tokens are
// logged and skipped.
func (r *Registry) Resolve(tokens []string) []Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []Tool
	seen := make(map[string]bool)
	add := func(t Tool) {
		if t == nil || seen[t.Name()] {
			return
		}
		seen[t.Name()] = true
		out = append(out, t)
	}

	for _, token := range tokens {
		switch token {
		case GroupAll:
			for _, t := range r.staticInOrder() {
				add(t)
			}
			for _, t := range r.dynamicSorted() {
				add(t)
			}
		case GroupCore:
			for _, t := range r.staticInOrder() {
				add(t)
			}
		case GroupMCP:
			for _, t := range r.dynamicSorted() {
				add(t)
			}
		case GroupPlan:
			if t, ok := r.static[PlanToolName]; ok {
				add(t)
			}
		default:
			if t, ok := r.static[token]; ok {
				add(t)
				continue
			}
			if t, ok := r.dynamic[token]; ok {
				add(t)
				continue
			}
			r.logger.Warn("unknown tool token %q skipped", token)
		}
	}
	return out
}

// ResolveExecutor expands tokens for the plan executor: same resolution
// minus the planning tool.
func (r *Registry) ResolveExecutor(tokens []string) []Tool {
	resolved := r.Resolve(tokens)
	out := resolved[:0]
	for _, t := range resolved {
		if t.Name() != PlanToolName {
			out = append(out, t)
		}
	}
	return out
}
