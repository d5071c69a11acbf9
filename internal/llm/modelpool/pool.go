// Package modelpool manages the named pool of model configurations stored in
// model_pool.json, with per-scenario assignments (llm, embedding, translate).
package modelpool

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/google/uuid"

	"aide/internal/shared/logging"
)

// Scenarios a model can be assigned to.
const (
	ScenarioLLM       = "llm"
	ScenarioEmbedding = "embedding"
	ScenarioTranslate = "translate"
)

const maskPattern = "***"

// Model is one pool entry.
type Model struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	APIKey  string `json:"api_key"`
	APIBase string `json:"api_base"`
	Model   string `json:"model"`
}

// Resolved is the configuration a call site receives for a scenario.
type Resolved struct {
	APIKey  string
	APIBase string
	Model   string
}

type poolFile struct {
	Models      []Model           `json:"models"`
	Assignments map[string]string `json:"assignments"`
}

// Pool is the file-backed model pool. All methods are safe for concurrent use.
type Pool struct {
	mu       sync.Mutex
	path     string
	cache    *poolFile
	fallback map[string]Resolved
	logger   logging.Logger
}

// New opens a pool at path. fallback provides per-scenario defaults used when
// the pool has no assignment (typically derived from the main LLM config).
func New(path string, fallback map[string]Resolved, logger logging.Logger) *Pool {
	return &Pool{path: path, fallback: fallback, logger: logging.OrNop(logger)}
}

func (p *Pool) load() *poolFile {
	if p.cache != nil {
		return p.cache
	}
	pf := &poolFile{Assignments: map[string]string{}}
	raw, err := os.ReadFile(p.path)
	if err == nil {
		if err := json.Unmarshal(raw, pf); err != nil {
			p.logger.Error("failed to parse model pool: %v", err)
			pf = &poolFile{Assignments: map[string]string{}}
		}
	}
	if pf.Assignments == nil {
		pf.Assignments = map[string]string{}
	}
	p.cache = pf
	return pf
}

func (p *Pool) save(pf *poolFile) error {
	if err := os.MkdirAll(filepath.Dir(p.path), 0o755); err != nil {
		return fmt.Errorf("create pool dir: %w", err)
	}
	raw, err := json.MarshalIndent(pf, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal pool: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(p.path), "model_pool_*.tmp")
	if err != nil {
		return fmt.Errorf("create temp pool: %w", err)
	}
	name := tmp.Name()
	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		os.Remove(name)
		return fmt.Errorf("write temp pool: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(name)
		return fmt.Errorf("close temp pool: %w", err)
	}
	if err := os.Rename(name, p.path); err != nil {
		os.Remove(name)
		return fmt.Errorf("replace pool: %w", err)
	}
	p.cache = pf
	return nil
}

// Invalidate clears the in-memory cache, forcing a re-read from disk.
func (p *Pool) Invalidate() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cache = nil
}

func maskKey(key string) string {
	if key == "" || len(key) <= 12 {
		return maskPattern
	}
	return key[:4] + maskPattern + key[len(key)-4:]
}

func isMasked(key string) bool {
	return strings.Contains(key, maskPattern)
}

// List returns all models with masked API keys.
func (p *Pool) List() []Model {
	p.mu.Lock()
	defer p.mu.Unlock()
	pf := p.load()
	out := make([]Model, 0, len(pf.Models))
	for _, m := range pf.Models {
		m.APIKey = maskKey(m.APIKey)
		out = append(out, m)
	}
	return out
}

// Get returns the full config (real key) for internal use, or false.
func (p *Pool) Get(id string) (Model, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.get(id)
}

func (p *Pool) get(id string) (Model, bool) {
	for _, m := range p.load().Models {
		if m.ID == id {
			return m, true
		}
	}
	return Model{}, false
}

// Add inserts a new model and persists the pool.
func (p *Pool) Add(name, apiKey, apiBase, model string) (Model, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	pf := p.load()
	entry := Model{
		ID:      uuid.NewString()[:8],
		Name:    name,
		APIKey:  apiKey,
		APIBase: apiBase,
		Model:   model,
	}
	pf.Models = append(pf.Models, entry)
	if err := p.save(pf); err != nil {
		return Model{}, err
	}
	return entry, nil
}

// Update overwrites the named fields of an existing model. A masked API key
// coming back from a read-out preserves the stored key.
func (p *Pool) Update(id string, fields map[string]string) (Model, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	pf := p.load()
	for i := range pf.Models {
		if pf.Models[i].ID != id {
			continue
		}
		for key, value := range fields {
			switch key {
			case "name":
				pf.Models[i].Name = value
			case "api_key":
				if !isMasked(value) {
					pf.Models[i].APIKey = value
				}
			case "api_base":
				pf.Models[i].APIBase = value
			case "model":
				pf.Models[i].Model = value
			}
		}
		if err := p.save(pf); err != nil {
			return Model{}, err
		}
		return pf.Models[i], nil
	}
	return Model{}, fmt.Errorf("model %q not found", id)
}

// Delete removes a model. It fails while the model is assigned to a scenario.
func (p *Pool) Delete(id string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	pf := p.load()
	for scenario, assigned := range pf.Assignments {
		if assigned == id {
			return fmt.Errorf("cannot delete: model is assigned to %q, reassign it first", scenario)
		}
	}
	kept := pf.Models[:0]
	found := false
	for _, m := range pf.Models {
		if m.ID == id {
			found = true
			continue
		}
		kept = append(kept, m)
	}
	if !found {
		return fmt.Errorf("model %q not found", id)
	}
	pf.Models = kept
	return p.save(pf)
}

// Assignments returns the scenario → model-id map.
func (p *Pool) Assignments() map[string]string {
	p.mu.Lock()
	defer p.mu.Unlock()
	pf := p.load()
	out := make(map[string]string, len(pf.Assignments))
	for k, v := range pf.Assignments {
		out[k] = v
	}
	return out
}

// Assign binds a scenario to a model id.
func (p *Pool) Assign(scenario, id string) error {
	if scenario != ScenarioLLM && scenario != ScenarioEmbedding && scenario != ScenarioTranslate {
		return fmt.Errorf("invalid scenario %q", scenario)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.get(id); !ok {
		return fmt.Errorf("model %q not found", id)
	}
	pf := p.load()
	pf.Assignments[scenario] = id
	return p.save(pf)
}

// Resolve returns the model config for a scenario: the pool assignment when
// present, otherwise the fallback supplied at construction.
func (p *Pool) Resolve(scenario string) (Resolved, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	pf := p.load()
	if id, ok := pf.Assignments[scenario]; ok {
		if m, found := p.get(id); found {
			return Resolved{APIKey: m.APIKey, APIBase: m.APIBase, Model: m.Model}, nil
		}
	}
	if fb, ok := p.fallback[scenario]; ok {
		return fb, nil
	}
	return Resolved{}, fmt.Errorf("unknown scenario %q", scenario)
}
