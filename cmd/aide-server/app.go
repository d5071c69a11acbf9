package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/philippgille/chromem-go"

	"aide/internal/cache"
	"aide/internal/config"
	"aide/internal/engine"
	"aide/internal/graph"
	"aide/internal/llm"
	"aide/internal/llm/modelpool"
	"aide/internal/memory"
	"aide/internal/observability"
	"aide/internal/prompt"
	"aide/internal/scheduler"
	"aide/internal/security"
	"aide/internal/shared/logging"
	"aide/internal/tools"
	"aide/internal/tools/mcp"
)

// Tools whose results are never cached: side effects or environment reads
// that must stay fresh.
var uncacheableTools = []string{
	"terminal", "python_repl", "plan_create", "memory_write", "memory_search",
}

// app owns every engine service for one process.
type app struct {
	cfg    config.Config
	logger logging.Logger

	runner     *engine.Runner
	caches     *cacheSet
	guard      *security.Guard
	pool       *modelpool.Pool
	store      *memory.Store
	compressor *memory.Compressor
	archiver   *memory.Archiver
	metrics    *observability.Metrics
	tracer     *observability.TracerProvider
	sched      *scheduler.Scheduler
	mcp        *mcp.Manager
}

func newApp(cfg config.Config, logger logging.Logger) (*app, error) {
	if err := cfg.EnsureDirs(); err != nil {
		return nil, fmt.Errorf("prepare data dir: %w", err)
	}

	tracer, err := observability.NewTracerProvider(cfg.Tracing)
	if err != nil {
		return nil, fmt.Errorf("init tracing: %w", err)
	}
	metrics := observability.NewMetrics()

	pool := modelpool.New(cfg.ModelPoolPath(), map[string]modelpool.Resolved{
		modelpool.ScenarioLLM: {
			APIKey: cfg.LLM.APIKey, APIBase: cfg.LLM.APIBase, Model: cfg.LLM.Model,
		},
		modelpool.ScenarioEmbedding: {
			APIKey:  firstNonEmpty(cfg.LLM.EmbeddingAPIKey, cfg.LLM.APIKey),
			APIBase: firstNonEmpty(cfg.LLM.EmbeddingAPIBase, cfg.LLM.APIBase),
			Model:   cfg.LLM.EmbeddingModel,
		},
		modelpool.ScenarioTranslate: {
			APIKey:  firstNonEmpty(cfg.LLM.TranslateAPIKey, cfg.LLM.APIKey),
			APIBase: firstNonEmpty(cfg.LLM.TranslateAPIBase, cfg.LLM.APIBase),
			Model:   firstNonEmpty(cfg.LLM.TranslateModel, cfg.LLM.Model),
		},
	}, logger)

	llmModel, err := pool.Resolve(modelpool.ScenarioLLM)
	if err != nil {
		return nil, fmt.Errorf("resolve llm model: %w", err)
	}
	client := llm.NewOpenAIClient(llm.OpenAIOptions{
		APIKey:      llmModel.APIKey,
		APIBase:     llmModel.APIBase,
		Model:       llmModel.Model,
		Temperature: cfg.LLM.Temperature,
		MaxTokens:   cfg.LLM.MaxTokens,
		Timeout:     time.Duration(cfg.LLM.TimeoutSeconds) * time.Second,
		Logger:      logger,
	})

	var embed chromem.EmbeddingFunc
	if cfg.Memory.IndexEnabled {
		if em, err := pool.Resolve(modelpool.ScenarioEmbedding); err == nil {
			if fn := llm.NewEmbedFunc(em.APIKey, em.APIBase, em.Model); fn != nil {
				embed = chromem.EmbeddingFunc(fn)
			}
		}
	}

	caches := buildCaches(cfg, logger)

	store := memory.NewStore(cfg.MemoryDir(), logger)
	searcher := memory.NewSearcher(store, filepath.Join(cfg.MemoryDir(), "index"), embed, logger)
	consolidator := memory.NewConsolidator(store, searcher, client, logger)
	reflector := memory.NewReflector(store, client, logger)
	archiver := memory.NewArchiver(store, client, logger)
	compressor := memory.NewCompressor(store, client, embed, logger)

	var guard *security.Guard
	if cfg.Security.Enabled {
		guard = security.NewGuard(security.GuardOptions{
			Level:           cfg.Security.Level,
			ServerPort:      cfg.Security.ServerPort,
			ApprovalTimeout: time.Duration(cfg.Security.ApprovalTimeoutSeconds * float64(time.Second)),
			LogsDir:         cfg.LogsDir(),
			Logger:          logger,
		})
	}

	registry := tools.NewRegistry(logger)
	registry.Register(tools.NewTerminalTool(cfg.DataPath()))
	registry.Register(tools.NewPythonTool(cfg.DataPath()))
	registry.Register(tools.NewFetchTool(
		&security.URLClassifier{ServerPort: cfg.Security.ServerPort},
		caches.url,
	))
	registry.Register(tools.NewReadFileTool())
	registry.Register(tools.NewKnowledgeTool(cfg.KnowledgeDir(), embed, logger))
	registry.Register(tools.NewMemoryWriteTool(consolidator))
	registry.Register(tools.NewMemorySearchTool(searcher))
	registry.Register(tools.NewPlanTool(cfg.Plan.MaxSteps, graph.RecordCreatedPlan))

	mcpManager := mcp.NewManager(logger)
	servers, err := mcp.LoadServerConfigs(filepath.Join(cfg.DataPath(), "mcp_servers.json"))
	if err != nil {
		logger.Warn("mcp server config unreadable: %v", err)
	}
	if len(servers) > 0 {
		mcpManager.StartAll(context.Background(), servers, registry)
	}

	prompts := prompt.NewBuilder(prompt.Options{
		WorkspaceDir:    cfg.WorkspaceDir(),
		SkillsDir:       cfg.SkillsDir(),
		Store:           store,
		Searcher:        searcher,
		PromptCache:     caches.prompt,
		MaxPromptTokens: cfg.Memory.MaxPromptTokens,
		MaxPromptChars:  cfg.Memory.MaxPromptChars,
		DailyLogDays:    cfg.Memory.DailyLogDays,
		Logger:          logger,
	})

	builder := graph.NewBuilder(graph.Deps{
		Client:   client,
		Registry: registry,
		WrapTools: func(ts []tools.Tool) []tools.Tool {
			return tools.WrapAll(ts, guard, caches.tool)
		},
		Stream:      true,
		LLMTimeout:  time.Duration(cfg.LLM.TimeoutSeconds) * time.Second,
		ToolTimeout: 30 * time.Second,
		Logger:      logger,
	})

	graphCfg, err := loadGraphConfig(cfg)
	if err != nil {
		return nil, err
	}

	obs := observability.NewMiddleware(metrics, tracer)
	debug := engine.NewDebugMiddleware(cfg.DebugLevel, nil, debugSink(cfg, logger), logger)

	runner := engine.NewRunner(engine.RunnerOptions{
		Config:       cfg,
		GraphConfig:  graphCfg,
		Client:       client,
		GraphBuilder: builder,
		Prompts:      prompts,
		Store:        store,
		Reflector:    reflector,
		LLMCache:     caches.llm,
		Middlewares:  []engine.Middleware{obs, debug},
		Logger:       logger,
	})

	sched, err := scheduler.New(scheduler.Options{
		CacheCleanupSpec: cfg.Maintenance.CacheCleanupSpec,
		ArchiveSpec:      cfg.Maintenance.ArchiveSpec,
		Caches:           caches.sweepers(),
		Archiver:         archiver,
		Logger:           logger,
	})
	if err != nil {
		return nil, fmt.Errorf("init scheduler: %w", err)
	}
	if cfg.Maintenance.Enabled {
		sched.Start()
	}

	return &app{
		cfg:        cfg,
		logger:     logger,
		runner:     runner,
		caches:     caches,
		guard:      guard,
		pool:       pool,
		store:      store,
		compressor: compressor,
		archiver:   archiver,
		metrics:    metrics,
		tracer:     tracer,
		sched:      sched,
		mcp:        mcpManager,
	}, nil
}

// shutdown stops background work and flushes telemetry.
func (a *app) shutdown(ctx context.Context) {
	if a.sched != nil {
		if err := a.sched.Stop(ctx); err != nil {
			a.logger.Warn("scheduler stop: %v", err)
		}
	}
	a.mcp.StopAll()
	a.runner.WaitReflections()
	if err := a.tracer.Shutdown(ctx); err != nil {
		a.logger.Warn("tracer shutdown: %v", err)
	}
}

// cacheSet bundles the typed facades over their per-type disk stores.
type cacheSet struct {
	url    *cache.URLCache
	llm    *cache.LLMCache
	prompt *cache.PromptCache
	trans  *cache.TranslateCache
	tool   *cache.ToolCache

	stores map[string]*cache.Store
}

func (c *cacheSet) sweepers() map[string]scheduler.CacheSweeper {
	out := make(map[string]scheduler.CacheSweeper, len(c.stores))
	for name, s := range c.stores {
		out[name] = s
	}
	return out
}

func buildCaches(cfg config.Config, logger logging.Logger) *cacheSet {
	newStore := func(name string, ttlSeconds int) *cache.Store {
		return cache.NewStore(cache.Options{
			Name:           name,
			Dir:            cfg.CacheDir(),
			MaxMemoryItems: cfg.Cache.MaxMemoryItems,
			MaxDiskMB:      cfg.Cache.MaxDiskSizeMB,
			DefaultTTL:     time.Duration(ttlSeconds) * time.Second,
			Logger:         logger,
		})
	}
	stores := map[string]*cache.Store{
		"url":       newStore("url", cfg.Cache.URLTTLSeconds),
		"llm":       newStore("llm", cfg.Cache.LLMTTLSeconds),
		"prompt":    newStore("prompt", cfg.Cache.PromptTTLSeconds),
		"translate": newStore("translate", cfg.Cache.TranslateTTLSeconds),
		"tool":      newStore("tool", cfg.Cache.URLTTLSeconds),
	}
	return &cacheSet{
		url:    cache.NewURLCache(stores["url"], cfg.Cache.EnableURL),
		llm:    cache.NewLLMCache(stores["llm"], cfg.Cache.EnableLLM),
		prompt: cache.NewPromptCache(stores["prompt"], cfg.Cache.EnablePrompt),
		trans:  cache.NewTranslateCache(stores["translate"], cfg.Cache.EnableTranslate),
		tool:   cache.NewToolCache(stores["tool"], uncacheableTools, 0),
		stores: stores,
	}
}

// loadGraphConfig merges graph.yaml (if present) over the defaults, then
// applies the plan toggles from the engine config.
func loadGraphConfig(cfg config.Config) (config.ResolvedGraphConfig, error) {
	graphCfg, err := config.LoadGraphConfig(filepath.Join(cfg.DataPath(), "graph.yaml"))
	if err != nil {
		return config.ResolvedGraphConfig{}, fmt.Errorf("load graph config: %w", err)
	}
	if !cfg.Plan.Enabled {
		graphCfg.Planner.Enabled = false
		graphCfg.Executor.Enabled = false
	}
	if cfg.Plan.RequireApproval {
		graphCfg.Approval.Enabled = true
	}
	if cfg.RecursionLimit > 0 {
		graphCfg.RecursionLimit = cfg.RecursionLimit
	}
	return graphCfg, nil
}

// debugSink persists per-run debug reports next to the session data.
func debugSink(cfg config.Config, logger logging.Logger) func(engine.DebugReport) {
	return func(report engine.DebugReport) {
		dir := filepath.Join(cfg.SessionsDir(), report.SessionID)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			logger.Warn("debug report dir: %v", err)
			return
		}
		raw, err := json.MarshalIndent(report, "", "  ")
		if err != nil {
			logger.Warn("debug report marshal: %v", err)
			return
		}
		name := fmt.Sprintf("debug-%s.json", report.StartedAt.UTC().Format("20060102-150405"))
		if err := os.WriteFile(filepath.Join(dir, name), raw, 0o644); err != nil {
			logger.Warn("debug report write: %v", err)
		}
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
