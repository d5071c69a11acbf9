package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"aide/internal/cache"
	"aide/internal/config"
	"aide/internal/events"
	"aide/internal/graph"
	"aide/internal/llm"
	"aide/internal/memory"
	"aide/internal/prompt"
	"aide/internal/sessionctx"
	"aide/internal/shared/logging"
)

const (
	defaultPlanApprovalTimeout = 300 * time.Second
	systemMessageID            = "system"
	runChannelDepth            = 64
)

// ErrEmptyMessage rejects a run request with no user content.
var ErrEmptyMessage = errors.New("empty message")

// RunnerOptions wires the runner's collaborators. Client, GraphBuilder and
// Prompts are required; everything else degrades gracefully when nil.
type RunnerOptions struct {
	Config       config.Config
	GraphConfig  config.ResolvedGraphConfig
	Client       llm.Client
	GraphBuilder *graph.Builder
	Prompts      *prompt.Builder
	Store        *memory.Store
	Reflector    *memory.Reflector
	LLMCache     *cache.LLMCache
	Middlewares  []Middleware
	// PlanApprovalTimeout bounds the wait for an external plan decision;
	// zero means the 300 s default. Timeout denies.
	PlanApprovalTimeout time.Duration
	Logger              logging.Logger
}

// Runner drives one request through the graph and streams back events.
type Runner struct {
	cfg         config.Config
	graphCfg    config.ResolvedGraphConfig
	client      llm.Client
	builder     *graph.Builder
	checkpoints *graph.Checkpointer
	prompts     *prompt.Builder
	store       *memory.Store
	reflector   *memory.Reflector
	llmCache    *cache.LLMCache
	chain       *chain
	planTimeout time.Duration
	logger      logging.Logger

	mu       sync.Mutex
	waiting  map[string]chan graph.ApprovalDecision // keyed by plan id
	reflects sync.WaitGroup
}

func NewRunner(opts RunnerOptions) *Runner {
	logger := logging.OrNop(opts.Logger)
	timeout := opts.PlanApprovalTimeout
	if timeout <= 0 {
		timeout = defaultPlanApprovalTimeout
	}
	return &Runner{
		cfg:         opts.Config,
		graphCfg:    opts.GraphConfig,
		client:      opts.Client,
		builder:     opts.GraphBuilder,
		checkpoints: graph.NewCheckpointer(),
		prompts:     opts.Prompts,
		store:       opts.Store,
		reflector:   opts.Reflector,
		llmCache:    opts.LLMCache,
		chain:       &chain{middlewares: opts.Middlewares, logger: logger},
		planTimeout: timeout,
		logger:      logger,
		waiting:     make(map[string]chan graph.ApprovalDecision),
	}
}

// Run starts one request and returns its event channel. The channel is
// closed after the terminal done or error event; cancelling ctx aborts the
// run and unblocks the consumer.
func (r *Runner) Run(ctx context.Context, req Request) (<-chan events.Event, error) {
	if strings.TrimSpace(req.Message) == "" {
		return nil, ErrEmptyMessage
	}
	out := make(chan events.Event, runChannelDepth)
	var eg errgroup.Group
	eg.Go(func() error {
		r.run(ctx, &req, out)
		return nil
	})
	go func() {
		_ = eg.Wait()
		close(out)
	}()
	return out, nil
}

// ResolvePlanApproval delivers an external decision for a pending plan.
// Returns false when the plan id is unknown (expired or already resolved).
func (r *Runner) ResolvePlanApproval(planID string, approved bool, feedback string) bool {
	r.mu.Lock()
	ch, ok := r.waiting[planID]
	if ok {
		delete(r.waiting, planID)
	}
	r.mu.Unlock()
	if !ok {
		return false
	}
	ch <- graph.ApprovalDecision{Approved: approved, Feedback: feedback}
	return true
}

// WaitReflections blocks until all fire-and-forget reflections finish.
// Shutdown and tests use it; runs never do.
func (r *Runner) WaitReflections() {
	r.reflects.Wait()
}

func (r *Runner) run(ctx context.Context, req *Request, out chan<- events.Event) {
	r.chain.runStart(ctx, req)

	send := func(ev events.Event) {
		kept, ok := r.chain.event(ctx, req, ev)
		if !ok {
			return
		}
		select {
		case out <- kept:
		case <-ctx.Done():
		}
	}

	var runErr error
	defer func() {
		r.chain.runEnd(ctx, req, runErr)
	}()

	systemPrompt := ""
	if r.prompts != nil {
		systemPrompt = r.prompts.Build(ctx, req.SessionID, req.WorkingDir, req.Message)
	}

	// The memory fingerprint makes cached replies self-invalidate on any
	// memory write.
	var keyParams cache.LLMKeyParams
	if r.llmCache.Enabled() {
		keyParams = cache.LLMKeyParams{
			SystemPrompt:      systemPrompt,
			RecentHistory:     historyContents(req.History),
			CurrentMessage:    req.Message,
			Model:             r.cfg.LLM.Model,
			Temperature:       r.cfg.LLM.Temperature,
			MemoryFingerprint: r.fingerprint(),
		}
		if evs, ok := r.llmCache.Lookup(keyParams); ok {
			r.logger.Debug("llm cache hit for session %s", req.SessionID)
			r.llmCache.Replay(ctx, evs, req.Stream, send)
			send(events.Done())
			return
		}
	}

	var collected []events.Event
	emit := func(ev events.Event) {
		if r.llmCache.Enabled() {
			collected = append(collected, ev)
		}
		send(ev)
	}

	finalState, err := r.execute(ctx, req, systemPrompt, emit)
	if err != nil {
		runErr = err
		r.logger.Error("run failed for session %s: %v", req.SessionID, err)
		send(events.Error(err.Error()))
		return
	}

	// The terminal done is not stored; replay appends its own.
	if r.llmCache.Enabled() {
		r.llmCache.Store(keyParams, collected)
	}
	send(events.Done())
	if req.Reflect && r.reflector != nil {
		r.scheduleReflection(req.SessionID, finalState.Messages)
	}
}

// execute drives the graph, pausing on plan-approval interrupts until an
// external decision (or the timeout) arrives.
func (r *Runner) execute(ctx context.Context, req *Request, systemPrompt string, emit func(events.Event)) (*graph.AgentState, error) {
	messages := []llm.Message{{ID: systemMessageID, Role: llm.RoleSystem, Content: systemPrompt}}
	messages = graph.AddMessages(messages, req.History)
	messages = append(messages, llm.Message{Role: llm.RoleUser, Content: req.Message})
	state := &graph.AgentState{Messages: messages}

	runCtx := sessionctx.WithSessionID(ctx, req.SessionID)
	runCtx = events.WithEmitter(runCtx, emit)

	g := r.builder.Build(r.graphCfg)
	res, err := g.Execute(runCtx, state, "")
	if err != nil {
		return nil, err
	}

	for res.Interrupt != nil {
		planID, _ := res.Interrupt.Payload["plan_id"].(string)
		if planID == "" {
			return nil, fmt.Errorf("interrupt at %s without plan id", res.InterruptNode)
		}
		r.checkpoints.Save(req.SessionID, res.State, res.InterruptNode)
		title, _ := res.Interrupt.Payload["title"].(string)
		emit(events.Event{
			Type:   events.TypePlanApprovalRequest,
			PlanID: planID,
			Title:  title,
			Steps:  res.Interrupt.Payload["steps"],
		})

		decision := r.awaitPlanDecision(ctx, planID)
		cp, ok := r.checkpoints.Take(req.SessionID)
		if !ok {
			return nil, fmt.Errorf("checkpoint for session %s vanished", req.SessionID)
		}
		state = cp.State
		state.ApprovalDecision = &decision

		res, err = g.Execute(runCtx, state, cp.Node)
		if err != nil {
			return nil, err
		}
	}
	return res.State, nil
}

// awaitPlanDecision blocks until the plan is resolved externally; timeout or
// cancellation deny. The waiting registration is always released.
func (r *Runner) awaitPlanDecision(ctx context.Context, planID string) graph.ApprovalDecision {
	ch := make(chan graph.ApprovalDecision, 1)
	r.mu.Lock()
	r.waiting[planID] = ch
	r.mu.Unlock()
	defer func() {
		r.mu.Lock()
		delete(r.waiting, planID)
		r.mu.Unlock()
	}()

	timer := time.NewTimer(r.planTimeout)
	defer timer.Stop()
	select {
	case decision := <-ch:
		return decision
	case <-timer.C:
		r.logger.Warn("plan %s approval timed out after %s, denying", planID, r.planTimeout)
		return graph.ApprovalDecision{Approved: false}
	case <-ctx.Done():
		return graph.ApprovalDecision{Approved: false}
	}
}

// scheduleReflection runs session reflection off the request path. Failures
// are soft: logged, never surfaced.
func (r *Runner) scheduleReflection(sessionID string, transcript []llm.Message) {
	snapshot := append([]llm.Message(nil), transcript...)
	r.reflects.Add(1)
	go func() {
		defer r.reflects.Done()
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		defer cancel()
		added, updated, err := r.reflector.Reflect(ctx, sessionID, snapshot)
		if err != nil {
			r.logger.Warn("session %s reflection failed: %v", sessionID, err)
			return
		}
		if added+updated > 0 {
			r.logger.Info("session %s reflection: %d added, %d updated", sessionID, added, updated)
		}
	}()
}

func (r *Runner) fingerprint() string {
	if r.store == nil {
		return "0"
	}
	return r.store.Fingerprint()
}

func historyContents(history []llm.Message) []string {
	out := make([]string, 0, len(history))
	for _, m := range history {
		out = append(out, m.Content)
	}
	return out
}
