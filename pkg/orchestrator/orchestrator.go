// Package orchestrator wires the core components together: the LLM
// gateway, intent router, workflow engine, sub-agent manager, tool-safety
// policy, and session layer. Its task-execution API yields an ordered
// stream of typed updates; for a given tool call the tool_call update
// precedes its tool_result, and a terminal completed or error update is
// always last.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/agentmesh/agentmesh/pkg/cache"
	"github.com/agentmesh/agentmesh/pkg/config"
	"github.com/agentmesh/agentmesh/pkg/gateway"
	"github.com/agentmesh/agentmesh/pkg/observability"
	"github.com/agentmesh/agentmesh/pkg/protocol"
	"github.com/agentmesh/agentmesh/pkg/router"
	"github.com/agentmesh/agentmesh/pkg/safety"
	"github.com/agentmesh/agentmesh/pkg/session"
	"github.com/agentmesh/agentmesh/pkg/subagent"
	"github.com/agentmesh/agentmesh/pkg/tools"
	"github.com/agentmesh/agentmesh/pkg/workflow"
)

// LLM is the generate contract the orchestrator and its components share.
// The gateway satisfies it; tests substitute fakes.
type LLM interface {
	Generate(ctx context.Context, messages []protocol.Message, opts gateway.Options) (*gateway.Response, error)
}

// Orchestrator is the facade over C1-C8. One instance serves many tasks.
type Orchestrator struct {
	cfg        *config.Config
	llm        LLM
	gw         *gateway.Gateway // nil when an external LLM is injected
	router     *router.Router
	policy     *safety.Policy
	registry   *tools.Registry
	store      session.Store
	sessions   *session.Service
	optimizer  *cache.Optimizer
	obs        *observability.Observability
	workspaces *WorkspaceManager
	defs       map[protocol.Domain]workflow.Definition
	approval   workflow.ApprovalFunc
	logger     *slog.Logger
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithLLM replaces the gateway-backed LLM (tests, embedding).
func WithLLM(llm LLM) Option {
	return func(o *Orchestrator) { o.llm = llm }
}

// WithStore replaces the checkpoint store built from the persistence
// config.
func WithStore(s session.Store) Option {
	return func(o *Orchestrator) { o.store = s }
}

// WithObservability replaces the default sink bundle.
func WithObservability(obs *observability.Observability) Option {
	return func(o *Orchestrator) { o.obs = obs }
}

// WithApproval sets the operator hook for sensitive plan steps.
func WithApproval(f workflow.ApprovalFunc) Option {
	return func(o *Orchestrator) { o.approval = f }
}

// New builds an orchestrator from a validated configuration.
func New(cfg *config.Config, opts ...Option) (*Orchestrator, error) {
	o := &Orchestrator{
		cfg:        cfg,
		policy:     safety.NewPolicy(cfg.Tools.Safety),
		registry:   tools.NewRegistry(),
		obs:        observability.New(),
		workspaces: NewWorkspaceManager(cfg.Workspace),
		defs:       workflow.Definitions(),
		logger:     slog.Default().With("component", "orchestrator"),
	}
	for _, opt := range opts {
		opt(o)
	}

	o.optimizer = cache.NewOptimizer(
		cfg.Performance.MaxMessages,
		cfg.Performance.MaxToolCalls,
		cfg.Performance.MaxContextKB,
		o.logger,
	)

	if o.llm == nil {
		gw, err := buildGateway(cfg, o.obs)
		if err != nil {
			return nil, err
		}
		o.gw = gw
		o.llm = gw
	}

	o.router = router.New(o.llm, router.WithThreshold(cfg.LLM.ConfidenceThreshold))

	if o.store == nil {
		store, err := session.NewSQLStore(session.Backend(cfg.Persistence.Backend), cfg.Persistence.DSN)
		if err != nil {
			return nil, fmt.Errorf("failed to open checkpoint store: %w", err)
		}
		o.store = store
	}
	o.sessions = session.NewService(o.store, protocol.Limits{
		MaxIterations: cfg.Workflows.MaxIterations,
		MaxMessages:   cfg.Performance.MaxMessages,
		MaxToolCalls:  cfg.Performance.MaxToolCalls,
		MaxContextKB:  cfg.Performance.MaxContextKB,
	})

	return o, nil
}

func buildGateway(cfg *config.Config, obs *observability.Observability) (*gateway.Gateway, error) {
	endpoints := make([]*gateway.Endpoint, 0, len(cfg.LLM.Endpoints))
	for _, ep := range cfg.LLM.Endpoints {
		endpoints = append(endpoints, &gateway.Endpoint{
			URL:     ep.URL,
			Name:    ep.Name,
			Model:   ep.Model,
			APIKey:  ep.APIKey,
			Timeout: ep.Timeout(),
		})
	}

	gwOpts := []gateway.Option{
		gateway.WithRetry(gateway.RetryConfig{
			MaxAttempts: cfg.LLM.MaxAttempts,
			BackoffBase: cfg.LLM.BackoffBase,
		}),
		gateway.WithFailureThreshold(cfg.LLM.FailureThreshold),
		gateway.WithProbeInterval(time.Duration(cfg.LLM.ProbeIntervalSeconds) * time.Second),
		gateway.WithMetrics(obs.Metrics),
	}
	if cfg.LLM.CacheEnabled && !cfg.Development.DisableCache {
		ttl := time.Duration(cfg.LLM.CacheTTLSeconds) * time.Second
		gwOpts = append(gwOpts, gateway.WithCache(cache.NewLRU(cfg.LLM.CacheSize, ttl), ttl))
	}
	return gateway.New(endpoints, gwOpts...)
}

// Start launches background work (endpoint health probes) until ctx is
// cancelled.
func (o *Orchestrator) Start(ctx context.Context) {
	if o.gw != nil {
		o.gw.StartProbes(ctx)
	}
}

// Close releases the checkpoint store.
func (o *Orchestrator) Close() error {
	return o.store.Close()
}

// Tools exposes the registry so callers can install tool implementations.
func (o *Orchestrator) Tools() *tools.Registry { return o.registry }

// Sessions exposes the session service for resume and inspection.
func (o *Orchestrator) Sessions() *session.Service { return o.sessions }

// Observability exposes the sink bundle.
func (o *Orchestrator) Observability() *observability.Observability { return o.obs }

// EndpointStatuses reports gateway endpoint health, or nil when an
// external LLM is injected.
func (o *Orchestrator) EndpointStatuses() []gateway.Status {
	if o.gw == nil {
		return nil
	}
	return o.gw.Statuses()
}

// TaskOptions tune one ExecuteTask call.
type TaskOptions struct {
	// TaskID overrides the generated task id.
	TaskID string

	// Domain skips intent classification.
	Domain protocol.Domain

	// ThreadID resumes an existing checkpointed thread instead of
	// starting fresh.
	ThreadID string
}

// ExecuteTask runs one task and returns its update stream. The channel is
// unbuffered: emission blocks on a slow consumer rather than dropping
// updates, and it closes after the terminal update.
func (o *Orchestrator) ExecuteTask(ctx context.Context, description string, opts TaskOptions) (<-chan protocol.Update, error) {
	var state *protocol.WorkflowState
	var sess *session.Session

	if opts.ThreadID != "" {
		loaded, err := o.sessions.LoadState(opts.ThreadID)
		if err != nil {
			return nil, fmt.Errorf("cannot resume thread %s: %w", opts.ThreadID, err)
		}
		if loaded.TaskStatus.IsTerminal() {
			return nil, fmt.Errorf("thread %s already finished with status %s", opts.ThreadID, loaded.TaskStatus)
		}
		state = loaded
		sess = o.sessions.CreateSession(description, "resume", loaded.Workspace, nil)
		sess.ThreadID = opts.ThreadID
	} else {
		if description == "" {
			return nil, fmt.Errorf("task description is required")
		}
		taskID := opts.TaskID
		if taskID == "" {
			taskID = uuid.NewString()
		}
		sess = o.sessions.CreateSession(description, "task", "", nil)
		ws, err := o.workspaces.Prepare(sess.ID)
		if err != nil {
			return nil, err
		}
		sess.Workspace = ws

		state = protocol.NewWorkflowState(taskID, ws)
		state.Messages = []protocol.Message{{
			Role:      protocol.RoleUser,
			Content:   description,
			Timestamp: time.Now().UTC(),
		}}
		if wsCtx, err := o.workspaces.LoadContext(ws); err == nil && len(wsCtx) > 0 {
			state.Context["workspace_context"] = wsCtx
		}
	}

	updates := make(chan protocol.Update)
	go o.run(ctx, sess, description, opts, state, updates)
	return updates, nil
}

// ResumeTask reopens a checkpointed thread and continues it.
func (o *Orchestrator) ResumeTask(ctx context.Context, threadID string) (<-chan protocol.Update, error) {
	return o.ExecuteTask(ctx, "", TaskOptions{ThreadID: threadID})
}

func (o *Orchestrator) run(ctx context.Context, sess *session.Session, description string, opts TaskOptions, state *protocol.WorkflowState, updates chan<- protocol.Update) {
	defer close(updates)

	taskID := state.TaskID
	emit := func(u protocol.Update) {
		if u.TaskID == "" {
			u.TaskID = taskID
		}
		select {
		case updates <- u:
		case <-ctx.Done():
		}
	}
	// The terminal update must go out even after cancellation; it only
	// gives up when the consumer has walked away entirely.
	emitFinal := func(u protocol.Update) {
		u.TaskID = taskID
		timer := time.NewTimer(5 * time.Second)
		defer timer.Stop()
		select {
		case updates <- u:
		case <-timer.C:
		}
	}

	domain, complexity := o.resolveDomain(ctx, description, opts, state)
	state.Context["domain"] = string(domain)

	def, ok := o.defs[domain]
	if !ok {
		def = o.defs[protocol.DomainGeneral]
	}

	wfCfg := workflow.Config{
		MaxIterations:    o.cfg.Workflows.MaxIterations,
		RecursionLimit:   o.cfg.Workflows.RecursionLimit,
		NoProgressWindow: o.cfg.Workflows.NoProgressWindow,
		Complexity:       complexity,
		ThreadID:         sess.ThreadID,
	}

	runner := &childRunner{
		orch:      o,
		def:       def,
		workspace: state.Workspace,
		parentCfg: wfCfg,
		emit:      emit,
	}
	manager := subagent.New(o.llm, runner, o.cfg.Workflows.MaxParallelSubAgents,
		subagent.WithTimeout(time.Duration(o.cfg.Workflows.SubAgentTimeoutSeconds)*time.Second),
		subagent.WithStrategy(subagent.AggregationStrategy(o.cfg.Workflows.AggregationStrategy)),
		subagent.WithObservability(o.obs),
		subagent.WithEmitter(emit),
	)

	dispatcher := NewDispatcher(o.registry, o.policy,
		WithSubAgents(manager),
		WithAllowlist(def.ToolAllowlist),
		WithDispatchObservability(o.obs),
		WithDispatchEmitter(emit),
	)

	engineOpts := []workflow.Option{
		workflow.WithCheckpointer(&sessionCheckpointer{svc: o.sessions, sessionID: sess.ID}),
		workflow.WithOptimizer(o.optimizer),
		workflow.WithObservability(o.obs),
		workflow.WithEmitter(emit),
	}
	if o.approval != nil {
		engineOpts = append(engineOpts, workflow.WithApproval(o.approval))
	}
	engine := workflow.New(def, wfCfg, o.llm, dispatcher, engineOpts...)

	emit(protocol.NewStatusUpdate(taskID, protocol.TaskInProgress, state.NextNode))

	runCtx := ctx
	if o.cfg.Workflows.TimeoutSeconds > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, time.Duration(o.cfg.Workflows.TimeoutSeconds)*time.Second)
		defer cancel()
	}

	stop := o.obs.Metrics.StartTimer("task_duration", map[string]string{"domain": string(domain)})
	err := engine.Run(runCtx, state)
	stop()

	o.persistWorkspaceContext(state)

	switch {
	case err != nil:
		emitFinal(protocol.NewErrorUpdate(taskID, fmt.Sprintf("workflow engine failed: %v", err)))
	case state.TaskStatus == protocol.TaskCancelled:
		emitFinal(protocol.NewCancelledUpdate(taskID))
	case state.TaskStatus == protocol.TaskCompleted:
		emitFinal(protocol.NewCompletedUpdate(taskID, state.Result))
	default:
		reason := "task failed"
		if len(state.Errors) > 0 {
			reason = state.Errors[len(state.Errors)-1]
		}
		emitFinal(protocol.NewErrorUpdate(taskID, reason))
	}

	if err := o.sessions.CompleteSession(sess.ID); err != nil {
		o.logger.Warn("failed to complete session", "session_id", sess.ID, "error", err)
	}
	if err := o.workspaces.Cleanup(state.Workspace, state.TaskStatus); err != nil {
		o.logger.Warn("workspace cleanup failed", "workspace", state.Workspace, "error", err)
	}

	o.obs.Metrics.Count("tasks", 1, map[string]string{
		"domain": string(domain),
		"status": string(state.TaskStatus),
	})
}

// resolveDomain picks the workflow domain: an explicit option wins, a
// resumed state keeps its original domain, greetings skip classification
// entirely, and everything else goes through the router.
func (o *Orchestrator) resolveDomain(ctx context.Context, description string, opts TaskOptions, state *protocol.WorkflowState) (protocol.Domain, protocol.Complexity) {
	if opts.Domain != "" {
		return opts.Domain, protocol.ComplexityModerate
	}
	if opts.ThreadID != "" {
		if d, ok := state.Context["domain"].(string); ok && d != "" {
			return protocol.Domain(d), protocol.ComplexityModerate
		}
		return protocol.DomainGeneral, protocol.ComplexityModerate
	}
	if workflow.IsGreeting(description) {
		return protocol.DomainGeneral, protocol.ComplexitySimple
	}

	cls, err := o.router.Classify(ctx, description)
	if err != nil || cls == nil {
		return protocol.DomainGeneral, protocol.ComplexityModerate
	}
	return cls.Domain, cls.Complexity
}

// persistWorkspaceContext writes the cross-run context back to the
// workspace so the next task on the same directory can pick it up.
func (o *Orchestrator) persistWorkspaceContext(state *protocol.WorkflowState) {
	wsCtx, ok := state.Context["workspace_context"].(map[string]any)
	if !ok || len(wsCtx) == 0 {
		return
	}
	if err := o.workspaces.SaveContext(state.Workspace, wsCtx); err != nil {
		o.logger.Warn("failed to persist workspace context",
			"workspace", state.Workspace, "error", err)
	}
}

// sessionCheckpointer adapts the session service to the engine's
// checkpoint hook, bumping the session counter on every snapshot.
type sessionCheckpointer struct {
	svc       *session.Service
	sessionID string
}

func (c *sessionCheckpointer) SaveState(threadID string, state *protocol.WorkflowState) error {
	if err := c.svc.SaveState(threadID, state); err != nil {
		return err
	}
	// The counter is bookkeeping; its failure must not fail the snapshot.
	_ = c.svc.RecordCheckpoint(c.sessionID)
	return nil
}

// ExitCode maps a terminal task status to the CLI exit code contract:
// 0 completed, 1 failed, 2 cancelled.
func ExitCode(status protocol.TaskStatus) int {
	switch status {
	case protocol.TaskCompleted:
		return 0
	case protocol.TaskCancelled:
		return 2
	default:
		return 1
	}
}
