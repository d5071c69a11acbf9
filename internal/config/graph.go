package config

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// GraphConfig mirrors the graph YAML schema. Missing leaves are merged
// against DefaultGraphConfig, so a partial file only overrides what it names.
type GraphConfig struct {
	Graph GraphSection `yaml:"graph" json:"graph"`
}

type GraphSection struct {
	Nodes    NodesSection    `yaml:"nodes" json:"nodes"`
	Settings SettingsSection `yaml:"settings" json:"settings"`
}

type NodesSection struct {
	Agent      AgentNodeConfig      `yaml:"agent" json:"agent"`
	Planner    ToggleNodeConfig     `yaml:"planner" json:"planner"`
	Approval   ToggleNodeConfig     `yaml:"approval" json:"approval"`
	Executor   ExecutorNodeConfig   `yaml:"executor" json:"executor"`
	Replanner  ReplannerNodeConfig  `yaml:"replanner" json:"replanner"`
	Summarizer ToggleNodeConfig     `yaml:"summarizer" json:"summarizer"`
}

type AgentNodeConfig struct {
	Enabled       *bool    `yaml:"enabled" json:"enabled"`
	MaxIterations *int     `yaml:"max_iterations" json:"max_iterations"`
	Tools         []string `yaml:"tools" json:"tools"`
}

type ToggleNodeConfig struct {
	Enabled *bool `yaml:"enabled" json:"enabled"`
}

type ExecutorNodeConfig struct {
	Enabled       *bool    `yaml:"enabled" json:"enabled"`
	MaxIterations *int     `yaml:"max_iterations" json:"max_iterations"`
	MaxSteps      *int     `yaml:"max_steps" json:"max_steps"`
	Tools         []string `yaml:"tools" json:"tools"`
}

type ReplannerNodeConfig struct {
	Enabled       *bool `yaml:"enabled" json:"enabled"`
	SkipOnSuccess *bool `yaml:"skip_on_success" json:"skip_on_success"`
}

type SettingsSection struct {
	RecursionLimit *int `yaml:"recursion_limit" json:"recursion_limit"`
}

// ResolvedGraphConfig is the fully-merged, pointer-free view the graph
// builder consumes.
type ResolvedGraphConfig struct {
	Agent struct {
		Enabled       bool
		MaxIterations int
		Tools         []string
	}
	Planner struct {
		Enabled bool
	}
	Approval struct {
		Enabled bool
	}
	Executor struct {
		Enabled       bool
		MaxIterations int
		MaxSteps      int
		Tools         []string
	}
	Replanner struct {
		Enabled       bool
		SkipOnSuccess bool
	}
	Summarizer struct {
		Enabled bool
	}
	RecursionLimit int
}

// DefaultGraphConfig returns the built-in node/edge defaults.
func DefaultGraphConfig() ResolvedGraphConfig {
	var r ResolvedGraphConfig
	r.Agent.Enabled = true
	r.Agent.MaxIterations = 50
	r.Agent.Tools = []string{"all"}
	r.Planner.Enabled = true
	r.Approval.Enabled = false
	r.Executor.Enabled = true
	r.Executor.MaxIterations = 30
	r.Executor.MaxSteps = 8
	r.Executor.Tools = []string{"core", "mcp"}
	r.Replanner.Enabled = true
	r.Replanner.SkipOnSuccess = true
	r.Summarizer.Enabled = true
	r.RecursionLimit = 100
	return r
}

// LoadGraphConfig reads the graph YAML file and merges it over the defaults.
// A missing file yields the defaults unchanged.
func LoadGraphConfig(path string) (ResolvedGraphConfig, error) {
	resolved := DefaultGraphConfig()
	if path == "" {
		return resolved, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return resolved, nil
		}
		return resolved, fmt.Errorf("read graph config %s: %w", path, err)
	}
	var gc GraphConfig
	if err := yaml.Unmarshal(raw, &gc); err != nil {
		return resolved, fmt.Errorf("parse graph config %s: %w", path, err)
	}
	return MergeGraphConfig(resolved, gc), nil
}

// MergeGraphConfig overlays the leaves present in gc onto base.
func MergeGraphConfig(base ResolvedGraphConfig, gc GraphConfig) ResolvedGraphConfig {
	n := gc.Graph.Nodes
	if n.Agent.Enabled != nil {
		base.Agent.Enabled = *n.Agent.Enabled
	}
	if n.Agent.MaxIterations != nil {
		base.Agent.MaxIterations = *n.Agent.MaxIterations
	}
	if n.Agent.Tools != nil {
		base.Agent.Tools = n.Agent.Tools
	}
	if n.Planner.Enabled != nil {
		base.Planner.Enabled = *n.Planner.Enabled
	}
	if n.Approval.Enabled != nil {
		base.Approval.Enabled = *n.Approval.Enabled
	}
	if n.Executor.Enabled != nil {
		base.Executor.Enabled = *n.Executor.Enabled
	}
	if n.Executor.MaxIterations != nil {
		base.Executor.MaxIterations = *n.Executor.MaxIterations
	}
	if n.Executor.MaxSteps != nil {
		base.Executor.MaxSteps = *n.Executor.MaxSteps
	}
	if n.Executor.Tools != nil {
		base.Executor.Tools = n.Executor.Tools
	}
	if n.Replanner.Enabled != nil {
		base.Replanner.Enabled = *n.Replanner.Enabled
	}
	if n.Replanner.SkipOnSuccess != nil {
		base.Replanner.SkipOnSuccess = *n.Replanner.SkipOnSuccess
	}
	if n.Summarizer.Enabled != nil {
		base.Summarizer.Enabled = *n.Summarizer.Enabled
	}
	if gc.Graph.Settings.RecursionLimit != nil {
		base.RecursionLimit = *gc.Graph.Settings.RecursionLimit
	}
	return base
}

// Fingerprint returns the first 16 hex chars of the SHA-256 over the
// sorted-key JSON rendering of the resolved config. It keys the process-wide
// compiled-graph cache.
func (r ResolvedGraphConfig) Fingerprint() string {
	// encoding/json sorts map keys, so render through a map for stable output.
	view := map[string]any{
		"agent": map[string]any{
			"enabled":        r.Agent.Enabled,
			"max_iterations": r.Agent.MaxIterations,
			"tools":          r.Agent.Tools,
		},
		"planner":  map[string]any{"enabled": r.Planner.Enabled},
		"approval": map[string]any{"enabled": r.Approval.Enabled},
		"executor": map[string]any{
			"enabled":        r.Executor.Enabled,
			"max_iterations": r.Executor.MaxIterations,
			"max_steps":      r.Executor.MaxSteps,
			"tools":          r.Executor.Tools,
		},
		"replanner": map[string]any{
			"enabled":         r.Replanner.Enabled,
			"skip_on_success": r.Replanner.SkipOnSuccess,
		},
		"summarizer":      map[string]any{"enabled": r.Summarizer.Enabled},
		"recursion_limit": r.RecursionLimit,
	}
	raw, err := json.Marshal(view)
	if err != nil {
		return "default"
	}
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:])[:16]
}
