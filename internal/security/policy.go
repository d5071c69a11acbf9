package security

import "strings"

// Level is the gate's overall strictness.
type Level string

const (
	LevelRelaxed  Level = "relaxed"
	LevelStandard Level = "standard"
	LevelStrict   Level = "strict"
)

// ParseLevel normalizes a configured level, defaulting to standard.
func ParseLevel(s string) Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "relaxed":
		return LevelRelaxed
	case "strict":
		return LevelStrict
	default:
		return LevelStandard
	}
}

// Action decides what the gate does with one classified invocation.
type Action string

const (
	// ActionAuto executes without asking.
	ActionAuto Action = "auto"
	// ActionApproveDangerous asks when the classifier says dangerous or warn.
	ActionApproveDangerous Action = "approve_dangerous"
	// ActionApproveSensitive asks only when the classifier says dangerous.
	ActionApproveSensitive Action = "approve_sensitive"
	// ActionAlwaysApprove asks on every call.
	ActionAlwaysApprove Action = "always_approve"
)

var standardPolicy = map[string]Action{
	"terminal":              ActionApproveDangerous,
	"python_repl":           ActionAlwaysApprove,
	"fetch_url":             ActionAuto,
	"read_file":             ActionApproveSensitive,
	"memory_write":          ActionAuto,
	"memory_search":         ActionAuto,
	"search_knowledge_base": ActionAuto,
}

var strictPolicy = map[string]Action{
	"terminal":              ActionAlwaysApprove,
	"python_repl":           ActionAlwaysApprove,
	"fetch_url":             ActionAlwaysApprove,
	"read_file":             ActionApproveSensitive,
	"memory_write":          ActionAuto,
	"memory_search":         ActionAuto,
	"search_knowledge_base": ActionAuto,
}

// PolicyFor returns the gate action for a tool at a level. External tools
// (mcp__ prefixed) follow the terminal policy; unknown tools default to
// auto so pure-computation tools are not gated by accident.
func PolicyFor(level Level, tool string) Action {
	if level == LevelRelaxed {
		return ActionAuto
	}
	table := standardPolicy
	if level == LevelStrict {
		table = strictPolicy
	}
	if strings.HasPrefix(tool, "mcp__") {
		return table["terminal"]
	}
	if action, ok := table[tool]; ok {
		return action
	}
	return ActionAuto
}

// RequiresApproval combines the policy action with the classified risk.
// Blocked never reaches approval; callers must reject it outright.
func RequiresApproval(action Action, risk RiskLevel) bool {
	switch action {
	case ActionAlwaysApprove:
		return true
	case ActionApproveDangerous:
		return risk >= RiskWarn
	case ActionApproveSensitive:
		return risk >= RiskDangerous
	default:
		return false
	}
}
