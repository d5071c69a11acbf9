// Package config loads the engine configuration: a YAML file layered under
// AIDE_-prefixed environment overrides, plus the graph topology config with
// its compiled-graph fingerprint.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// Config is the root engine configuration. Collaborators construct the core
// from this object; the core itself never reads environment variables.
type Config struct {
	DataDir string `mapstructure:"data_dir"`

	LLM      LLMConfig      `mapstructure:"llm"`
	Cache    CacheConfig    `mapstructure:"cache"`
	Memory   MemoryConfig   `mapstructure:"memory"`
	Security SecurityConfig `mapstructure:"security"`
	Plan     PlanConfig     `mapstructure:"plan"`
	Tracing  TracingConfig  `mapstructure:"tracing"`
	Server   ServerConfig   `mapstructure:"server"`

	Maintenance MaintenanceConfig `mapstructure:"maintenance"`

	// DebugLevel controls the debug middleware: off|basic|standard|full.
	DebugLevel string `mapstructure:"debug_level"`

	// RecursionLimit bounds total graph node transitions per run.
	RecursionLimit int `mapstructure:"recursion_limit"`
}

// LLMConfig is the fallback model configuration used when the model pool has
// no assignment for a scenario.
type LLMConfig struct {
	APIKey      string  `mapstructure:"api_key"`
	APIBase     string  `mapstructure:"api_base"`
	Model       string  `mapstructure:"model"`
	Temperature float64 `mapstructure:"temperature"`
	MaxTokens   int     `mapstructure:"max_tokens"`
	// TimeoutSeconds is the per-LLM-call timeout.
	TimeoutSeconds int `mapstructure:"timeout_seconds"`

	EmbeddingAPIKey  string `mapstructure:"embedding_api_key"`
	EmbeddingAPIBase string `mapstructure:"embedding_api_base"`
	EmbeddingModel   string `mapstructure:"embedding_model"`

	TranslateAPIKey  string `mapstructure:"translate_api_key"`
	TranslateAPIBase string `mapstructure:"translate_api_base"`
	TranslateModel   string `mapstructure:"translate_model"`
}

// CacheConfig covers every cache facade.
type CacheConfig struct {
	EnableURL       bool `mapstructure:"enable_url"`
	EnableLLM       bool `mapstructure:"enable_llm"`
	EnablePrompt    bool `mapstructure:"enable_prompt"`
	EnableTranslate bool `mapstructure:"enable_translate"`

	URLTTLSeconds       int `mapstructure:"url_ttl_seconds"`
	LLMTTLSeconds       int `mapstructure:"llm_ttl_seconds"`
	PromptTTLSeconds    int `mapstructure:"prompt_ttl_seconds"`
	TranslateTTLSeconds int `mapstructure:"translate_ttl_seconds"`

	MaxMemoryItems int `mapstructure:"max_memory_items"`
	MaxDiskSizeMB  int `mapstructure:"max_disk_size_mb"`
}

// MemoryConfig covers the four-layer memory subsystem.
type MemoryConfig struct {
	DailyLogDays    int     `mapstructure:"daily_log_days"`
	MaxPromptTokens int     `mapstructure:"max_prompt_tokens"`
	IndexEnabled    bool    `mapstructure:"index_enabled"`
	DecayLambda     float64 `mapstructure:"decay_lambda"`
	DedupJaccard    float64 `mapstructure:"dedup_jaccard"`
	// ConsolidateScore is the search-score threshold above which a candidate
	// memory goes through LLM consolidation instead of a plain add.
	ConsolidateScore float64 `mapstructure:"consolidate_score"`
	ImplicitRecallK  int     `mapstructure:"implicit_recall_k"`
	ArchiveDays      int     `mapstructure:"archive_days"`
	DeleteDays       int     `mapstructure:"delete_days"`
	MaxPromptChars   int     `mapstructure:"max_prompt_chars"`
}

// SecurityConfig covers the permission gate.
type SecurityConfig struct {
	Enabled                 bool    `mapstructure:"enabled"`
	Level                   string  `mapstructure:"level"`
	ApprovalTimeoutSeconds  float64 `mapstructure:"approval_timeout_seconds"`
	AuditEnabled            bool    `mapstructure:"audit_enabled"`
	SSRFProtection          bool    `mapstructure:"ssrf_protection"`
	SensitiveFileProtection bool    `mapstructure:"sensitive_file_protection"`
	RateLimitEnabled        bool    `mapstructure:"rate_limit_enabled"`
	// ServerPort is used by the URL classifier to reject self-referencing
	// loopback requests against our own surface.
	ServerPort int `mapstructure:"server_port"`
}

// PlanConfig covers planner behaviour toggles surfaced to the graph config.
type PlanConfig struct {
	Enabled         bool `mapstructure:"enabled"`
	RequireApproval bool `mapstructure:"require_approval"`
	MaxSteps        int  `mapstructure:"max_steps"`
}

// TracingConfig selects the otel exporter.
type TracingConfig struct {
	Enabled       bool    `mapstructure:"enabled"`
	Exporter      string  `mapstructure:"exporter"` // otlp|zipkin
	Endpoint      string  `mapstructure:"endpoint"`
	SamplingRatio float64 `mapstructure:"sampling_ratio"`
}

// MaintenanceConfig schedules the background sweeps. Specs are standard
// cron expressions; @every durations also work.
type MaintenanceConfig struct {
	Enabled          bool   `mapstructure:"enabled"`
	CacheCleanupSpec string `mapstructure:"cache_cleanup_spec"`
	ArchiveSpec      string `mapstructure:"archive_spec"`
}

// ServerConfig covers the thin HTTP surface.
type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		DataDir:        "~/.aide",
		DebugLevel:     "standard",
		RecursionLimit: 100,
		LLM: LLMConfig{
			APIBase:        "https://api.openai.com/v1",
			Model:          "gpt-4o",
			Temperature:    0.7,
			MaxTokens:      4096,
			TimeoutSeconds: 120,
			EmbeddingModel: "text-embedding-3-small",
		},
		Cache: CacheConfig{
			EnableURL:           true,
			EnableLLM:           false,
			EnablePrompt:        true,
			EnableTranslate:     true,
			URLTTLSeconds:       3600,
			LLMTTLSeconds:       86400,
			PromptTTLSeconds:    600,
			TranslateTTLSeconds: 604800,
			MaxMemoryItems:      100,
			MaxDiskSizeMB:       5120,
		},
		Memory: MemoryConfig{
			DailyLogDays:     2,
			MaxPromptTokens:  4000,
			IndexEnabled:     true,
			DecayLambda:      0.01,
			DedupJaccard:     0.7,
			ConsolidateScore: 0.7,
			ImplicitRecallK:  3,
			ArchiveDays:      30,
			DeleteDays:       60,
			MaxPromptChars:   20000,
		},
		Security: SecurityConfig{
			Enabled:                 true,
			Level:                   "standard",
			ApprovalTimeoutSeconds:  60,
			AuditEnabled:            true,
			SSRFProtection:          true,
			SensitiveFileProtection: true,
			RateLimitEnabled:        true,
			ServerPort:              8088,
		},
		Plan: PlanConfig{
			Enabled:         true,
			RequireApproval: false,
			MaxSteps:        8,
		},
		Tracing: TracingConfig{
			Exporter:      "otlp",
			SamplingRatio: 1.0,
		},
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: 8088,
		},
		Maintenance: MaintenanceConfig{
			Enabled:          true,
			CacheCleanupSpec: "0 */6 * * *",
			ArchiveSpec:      "30 3 * * *",
		},
	}
}

// Load reads configuration from the given YAML file (optional) with
// AIDE_-prefixed environment overrides layered on top of the defaults.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix("AIDE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	defaults := Default()
	setDefaults(v, defaults)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok && !os.IsNotExist(err) {
				return Config{}, fmt.Errorf("read config %s: %w", path, err)
			}
		}
	}

	cfg := defaults
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper, c Config) {
	v.SetDefault("data_dir", c.DataDir)
	v.SetDefault("debug_level", c.DebugLevel)
	v.SetDefault("recursion_limit", c.RecursionLimit)

	v.SetDefault("llm.api_base", c.LLM.APIBase)
	v.SetDefault("llm.model", c.LLM.Model)
	v.SetDefault("llm.temperature", c.LLM.Temperature)
	v.SetDefault("llm.max_tokens", c.LLM.MaxTokens)
	v.SetDefault("llm.timeout_seconds", c.LLM.TimeoutSeconds)
	v.SetDefault("llm.embedding_model", c.LLM.EmbeddingModel)

	v.SetDefault("cache.enable_url", c.Cache.EnableURL)
	v.SetDefault("cache.enable_llm", c.Cache.EnableLLM)
	v.SetDefault("cache.enable_prompt", c.Cache.EnablePrompt)
	v.SetDefault("cache.enable_translate", c.Cache.EnableTranslate)
	v.SetDefault("cache.url_ttl_seconds", c.Cache.URLTTLSeconds)
	v.SetDefault("cache.llm_ttl_seconds", c.Cache.LLMTTLSeconds)
	v.SetDefault("cache.prompt_ttl_seconds", c.Cache.PromptTTLSeconds)
	v.SetDefault("cache.translate_ttl_seconds", c.Cache.TranslateTTLSeconds)
	v.SetDefault("cache.max_memory_items", c.Cache.MaxMemoryItems)
	v.SetDefault("cache.max_disk_size_mb", c.Cache.MaxDiskSizeMB)

	v.SetDefault("memory.daily_log_days", c.Memory.DailyLogDays)
	v.SetDefault("memory.max_prompt_tokens", c.Memory.MaxPromptTokens)
	v.SetDefault("memory.index_enabled", c.Memory.IndexEnabled)
	v.SetDefault("memory.decay_lambda", c.Memory.DecayLambda)
	v.SetDefault("memory.dedup_jaccard", c.Memory.DedupJaccard)
	v.SetDefault("memory.consolidate_score", c.Memory.ConsolidateScore)
	v.SetDefault("memory.implicit_recall_k", c.Memory.ImplicitRecallK)
	v.SetDefault("memory.archive_days", c.Memory.ArchiveDays)
	v.SetDefault("memory.delete_days", c.Memory.DeleteDays)
	v.SetDefault("memory.max_prompt_chars", c.Memory.MaxPromptChars)

	v.SetDefault("security.enabled", c.Security.Enabled)
	v.SetDefault("security.level", c.Security.Level)
	v.SetDefault("security.approval_timeout_seconds", c.Security.ApprovalTimeoutSeconds)
	v.SetDefault("security.audit_enabled", c.Security.AuditEnabled)
	v.SetDefault("security.ssrf_protection", c.Security.SSRFProtection)
	v.SetDefault("security.sensitive_file_protection", c.Security.SensitiveFileProtection)
	v.SetDefault("security.rate_limit_enabled", c.Security.RateLimitEnabled)
	v.SetDefault("security.server_port", c.Security.ServerPort)

	v.SetDefault("plan.enabled", c.Plan.Enabled)
	v.SetDefault("plan.require_approval", c.Plan.RequireApproval)
	v.SetDefault("plan.max_steps", c.Plan.MaxSteps)

	v.SetDefault("tracing.enabled", c.Tracing.Enabled)
	v.SetDefault("tracing.exporter", c.Tracing.Exporter)
	v.SetDefault("tracing.endpoint", c.Tracing.Endpoint)
	v.SetDefault("tracing.sampling_ratio", c.Tracing.SamplingRatio)

	v.SetDefault("server.host", c.Server.Host)
	v.SetDefault("server.port", c.Server.Port)

	v.SetDefault("maintenance.enabled", c.Maintenance.Enabled)
	v.SetDefault("maintenance.cache_cleanup_spec", c.Maintenance.CacheCleanupSpec)
	v.SetDefault("maintenance.archive_spec", c.Maintenance.ArchiveSpec)
}

// DataPath resolves the user-data root, expanding a leading "~".
func (c Config) DataPath() string {
	dir := c.DataDir
	if strings.HasPrefix(dir, "~") {
		if home, err := os.UserHomeDir(); err == nil {
			dir = filepath.Join(home, strings.TrimPrefix(dir, "~"))
		}
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return dir
	}
	return abs
}

// Directory conventions under the data root. The core never writes outside
// this root.
func (c Config) MemoryDir() string    { return filepath.Join(c.DataPath(), "memory") }
func (c Config) SessionsDir() string  { return filepath.Join(c.DataPath(), "sessions") }
func (c Config) SkillsDir() string    { return filepath.Join(c.DataPath(), "skills") }
func (c Config) WorkspaceDir() string { return filepath.Join(c.DataPath(), "workspace") }
func (c Config) KnowledgeDir() string { return filepath.Join(c.DataPath(), "knowledge") }
func (c Config) StorageDir() string   { return filepath.Join(c.DataPath(), "storage") }
func (c Config) CacheDir() string     { return filepath.Join(c.DataPath(), ".cache") }
func (c Config) LogsDir() string      { return filepath.Join(c.DataPath(), "logs") }
func (c Config) TmpDir() string       { return filepath.Join(c.DataPath(), "tmp") }
func (c Config) ModelPoolPath() string {
	return filepath.Join(c.DataPath(), "model_pool.json")
}

// EnsureDirs creates the standard directory layout under the data root.
func (c Config) EnsureDirs() error {
	dirs := []string{
		c.MemoryDir(),
		filepath.Join(c.MemoryDir(), "logs"),
		c.SessionsDir(),
		c.SkillsDir(),
		c.WorkspaceDir(),
		c.KnowledgeDir(),
		c.StorageDir(),
		c.CacheDir(),
		c.LogsDir(),
		c.TmpDir(),
	}
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create %s: %w", dir, err)
		}
	}
	return nil
}
