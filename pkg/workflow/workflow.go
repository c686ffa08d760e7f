// Package workflow implements the per-task state machine: a three-node
// plan/execute/reflect cycle bounded by an iteration cap and a global
// recursion limit, with a greeting fast path and an approval gate for
// sensitive steps.
package workflow

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/agentmesh/agentmesh/pkg/cache"
	"github.com/agentmesh/agentmesh/pkg/gateway"
	"github.com/agentmesh/agentmesh/pkg/observability"
	"github.com/agentmesh/agentmesh/pkg/protocol"
)

// LLM is the generate contract the engine needs.
type LLM interface {
	Generate(ctx context.Context, messages []protocol.Message, opts gateway.Options) (*gateway.Response, error)
}

// OutcomeKind tags a dispatch outcome.
type OutcomeKind string

const (
	// OutcomeTool is a completed tool invocation, successful or not.
	OutcomeTool OutcomeKind = "tool"
	// OutcomeComplete is the terminal COMPLETE action.
	OutcomeComplete OutcomeKind = "complete"
	// OutcomeDelegate is a finished DELEGATE_TO_SUB_AGENT round.
	OutcomeDelegate OutcomeKind = "delegate"
	// OutcomeError is a step-level planner error (unknown action, bad
	// parameters). It feeds back into the next plan, never aborts the task.
	OutcomeError OutcomeKind = "error"
)

// Outcome is the typed result of dispatching one plan step.
type Outcome struct {
	Kind      OutcomeKind
	ToolCall  *protocol.ToolCall
	SubAgents []protocol.SubAgentInfo
	Result    string
	Error     string
}

// Dispatcher turns a planner-emitted {action, parameters} step into an
// outcome. Implementations must not return a Go error for step-level
// failures; only cancellation propagates as an error.
type Dispatcher interface {
	Dispatch(ctx context.Context, state *protocol.WorkflowState, action string, params map[string]any) (*Outcome, error)
}

// Checkpointer persists state snapshots between transitions.
type Checkpointer interface {
	SaveState(threadID string, state *protocol.WorkflowState) error
}

// ApprovalFunc supplies the external approval decision for a sensitive
// step. It may block until an operator answers.
type ApprovalFunc func(ctx context.Context, state *protocol.WorkflowState) (protocol.ApprovalStatus, error)

// Definition is the per-domain variation of the shared machine skeleton.
type Definition struct {
	Domain        protocol.Domain
	PlanPrompt    string
	ToolAllowlist []string
}

// Config bounds one engine run.
type Config struct {
	MaxIterations    int
	RecursionLimit   int
	NoProgressWindow int
	Complexity       protocol.Complexity
	ThreadID         string
}

// SetDefaults fills unset fields.
func (c *Config) SetDefaults() {
	if c.MaxIterations <= 0 {
		c.MaxIterations = 25
	}
	if c.RecursionLimit <= 0 {
		c.RecursionLimit = c.MaxIterations * 4
	}
	if c.NoProgressWindow <= 0 {
		c.NoProgressWindow = 3
	}
	if c.Complexity == "" {
		c.Complexity = protocol.ComplexityModerate
	}
}

// simpleIterationCap bounds simple-complexity tasks below max_iterations.
const simpleIterationCap = 10

// iterationCap returns the per-complexity hard cap.
func (c *Config) iterationCap() int {
	switch c.Complexity {
	case protocol.ComplexitySimple:
		if simpleIterationCap < c.MaxIterations {
			return simpleIterationCap
		}
	case protocol.ComplexityModerate:
		if limit := c.MaxIterations * 3 / 4; limit >= 1 && limit < c.MaxIterations {
			return limit
		}
	}
	return c.MaxIterations
}

// Engine runs one task through the plan/execute/reflect machine.
type Engine struct {
	def        Definition
	cfg        Config
	llm        LLM
	dispatcher Dispatcher
	checkpoint Checkpointer
	optimizer  *cache.Optimizer
	approval   ApprovalFunc
	obs        *observability.Observability
	logger     *slog.Logger
	emit       func(protocol.Update)
}

// Option configures an Engine.
type Option func(*Engine)

// WithCheckpointer attaches checkpoint persistence.
func WithCheckpointer(c Checkpointer) Option {
	return func(e *Engine) { e.checkpoint = c }
}

// WithOptimizer attaches the state-size optimizer.
func WithOptimizer(o *cache.Optimizer) Option {
	return func(e *Engine) { e.optimizer = o }
}

// WithApproval sets the external approval hook. Without one, sensitive
// steps are auto-approved and the bypass is logged.
func WithApproval(f ApprovalFunc) Option {
	return func(e *Engine) { e.approval = f }
}

// WithObservability attaches the observability sinks.
func WithObservability(o *observability.Observability) Option {
	return func(e *Engine) { e.obs = o }
}

// WithEmitter sets the update callback. Emission may block; the engine
// holds no locks across it.
func WithEmitter(emit func(protocol.Update)) Option {
	return func(e *Engine) { e.emit = emit }
}

// New creates an engine for one domain definition.
func New(def Definition, cfg Config, llm LLM, dispatcher Dispatcher, opts ...Option) *Engine {
	cfg.SetDefaults()
	e := &Engine{
		def:        def,
		cfg:        cfg,
		llm:        llm,
		dispatcher: dispatcher,
		obs:        observability.New(),
		logger:     slog.Default().With("component", "workflow", "domain", string(def.Domain)),
		emit:       func(protocol.Update) {},
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Run drives the machine until a terminal status. The state is mutated in
// place; every transition is checkpointed when a checkpointer is attached.
func (e *Engine) Run(ctx context.Context, state *protocol.WorkflowState) error {
	if state.TaskStatus == protocol.TaskPending {
		state.TaskStatus = protocol.TaskInProgress
	}
	if state.NextNode == "" {
		state.NextNode = protocol.NodePlan
	}

	transitions := 0
	for state.ShouldContinue && !state.TaskStatus.IsTerminal() {
		if ctx.Err() != nil {
			e.terminate(state, protocol.TaskCancelled, "task cancelled")
			break
		}

		transitions++
		if transitions > e.cfg.RecursionLimit {
			e.terminate(state, protocol.TaskFailed,
				fmt.Sprintf("recursion limit %d exceeded in workflow engine; re-run with a higher recursion_limit", e.cfg.RecursionLimit))
			break
		}

		node := state.NextNode
		var delta *protocol.StateDelta
		var err error
		switch node {
		case protocol.NodePlan:
			delta, err = e.plan(ctx, state)
		case protocol.NodeExecute:
			delta, err = e.execute(ctx, state)
		case protocol.NodeReflect:
			delta = e.reflect(state)
		case protocol.NodeAwaitingApproval:
			delta, err = e.awaitApproval(ctx, state)
		default:
			e.terminate(state, protocol.TaskFailed,
				fmt.Sprintf("internal invariant violation: unknown node %q in workflow engine", node))
			break
		}
		if err != nil {
			if ctx.Err() != nil {
				e.terminate(state, protocol.TaskCancelled, "task cancelled")
				break
			}
			e.terminate(state, protocol.TaskFailed, err.Error())
			break
		}

		state.Merge(delta)
		if e.optimizer != nil {
			e.optimizer.Optimize(state)
		}
		e.saveCheckpoint(state)

		if node == protocol.NodeReflect && !state.TaskStatus.IsTerminal() {
			e.emit(protocol.NewProgressUpdate(state.TaskID, state.Iteration, state.NextNode, "iteration complete"))
		}

		e.logRecord(observability.EventWorkflow, string(node),
			fmt.Sprintf("node %s done, iteration %d, next %s", node, state.Iteration, state.NextNode))
	}

	e.saveCheckpoint(state)
	return nil
}

// terminate forces a terminal status outside the normal delta path. Used
// for cancellation and invariant violations.
func (e *Engine) terminate(state *protocol.WorkflowState, status protocol.TaskStatus, reason string) {
	cont := false
	delta := &protocol.StateDelta{
		TaskStatus:     &status,
		ShouldContinue: &cont,
	}
	if status != protocol.TaskCompleted {
		delta.Errors = []string{reason}
	}
	state.Merge(delta)
	e.logger.Info("workflow terminated", "status", string(status), "reason", reason)
}

func (e *Engine) saveCheckpoint(state *protocol.WorkflowState) {
	if e.checkpoint == nil || e.cfg.ThreadID == "" {
		return
	}
	// Checkpoint I/O failures never stop the workflow; the task continues
	// in memory and resume becomes best-effort.
	if err := e.checkpoint.SaveState(e.cfg.ThreadID, state); err != nil {
		e.logger.Warn("checkpoint write failed, continuing in memory",
			"thread_id", e.cfg.ThreadID,
			"error", err)
	}
}

func (e *Engine) logRecord(kind observability.EventKind, node, content string) {
	if e.obs == nil || e.obs.Log == nil {
		return
	}
	e.obs.Log.Append(observability.LogRecord{
		Timestamp: time.Now().UTC(),
		Level:     slog.LevelInfo,
		Node:      node,
		EventType: kind,
		Content:   content,
	})
}
