package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/agentmesh/agentmesh/pkg/observability"
	"github.com/agentmesh/agentmesh/pkg/protocol"
	"github.com/agentmesh/agentmesh/pkg/safety"
	"github.com/agentmesh/agentmesh/pkg/subagent"
	"github.com/agentmesh/agentmesh/pkg/tools"
	"github.com/agentmesh/agentmesh/pkg/workflow"
)

// Terminal actions the dispatcher resolves itself instead of a tool.
const (
	ActionComplete = "COMPLETE"
	ActionDelegate = "DELEGATE_TO_SUB_AGENT"
)

// Dispatcher translates planner-emitted {action, parameters} steps into
// tool calls guarded by the safety policy, the COMPLETE terminal, or a
// delegation into the sub-agent manager. Unknown actions and parameter
// mismatches come back as error outcomes the planner corrects on the next
// iteration; only cancellation surfaces as a Go error.
type Dispatcher struct {
	registry  *tools.Registry
	policy    *safety.Policy
	subagents *subagent.Manager // nil disables delegation
	allowlist map[string]struct{}
	obs       *observability.Observability
	emit      func(protocol.Update)
}

// DispatcherOption configures a Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithSubAgents enables DELEGATE_TO_SUB_AGENT.
func WithSubAgents(m *subagent.Manager) DispatcherOption {
	return func(d *Dispatcher) { d.subagents = m }
}

// WithAllowlist restricts dispatch to the named actions. The terminals
// COMPLETE and DELEGATE_TO_SUB_AGENT are always permitted.
func WithAllowlist(actions []string) DispatcherOption {
	return func(d *Dispatcher) {
		d.allowlist = make(map[string]struct{}, len(actions))
		for _, a := range actions {
			d.allowlist[strings.ToUpper(strings.TrimSpace(a))] = struct{}{}
		}
	}
}

// WithDispatchObservability attaches the observability sinks.
func WithDispatchObservability(o *observability.Observability) DispatcherOption {
	return func(d *Dispatcher) { d.obs = o }
}

// WithDispatchEmitter sets the update callback for tool events.
func WithDispatchEmitter(emit func(protocol.Update)) DispatcherOption {
	return func(d *Dispatcher) { d.emit = emit }
}

// NewDispatcher creates a dispatcher over the tool registry and policy.
func NewDispatcher(registry *tools.Registry, policy *safety.Policy, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		registry: registry,
		policy:   policy,
		emit:     func(protocol.Update) {},
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Dispatch resolves one plan step.
func (d *Dispatcher) Dispatch(ctx context.Context, state *protocol.WorkflowState, action string, params map[string]any) (*workflow.Outcome, error) {
	action = strings.ToUpper(strings.TrimSpace(action))

	switch action {
	case ActionComplete:
		return &workflow.Outcome{
			Kind:   workflow.OutcomeComplete,
			Result: stringParam(params, "result"),
		}, nil
	case ActionDelegate:
		return d.delegate(ctx, state, params)
	}

	if len(d.allowlist) > 0 {
		if _, ok := d.allowlist[action]; !ok {
			return &workflow.Outcome{
				Kind:  workflow.OutcomeError,
				Error: fmt.Sprintf("action %s is not allowed for this agent", action),
			}, nil
		}
	}

	tool, ok := d.registry.Get(action)
	if !ok {
		return &workflow.Outcome{
			Kind: workflow.OutcomeError,
			Error: fmt.Sprintf("unknown action %s; available actions: %s",
				action, strings.Join(d.registry.Names(), ", ")),
		}, nil
	}

	if err := tools.ValidateArgs(tool.GetInfo(), params); err != nil {
		return &workflow.Outcome{
			Kind:  workflow.OutcomeError,
			Error: err.Error(),
		}, nil
	}

	if v := d.checkSafety(action, params); v != nil {
		call := d.record(state, action, params, "", false, v.Error(), 0)
		return &workflow.Outcome{
			Kind:     workflow.OutcomeTool,
			ToolCall: &call,
			Result:   v.Error(),
		}, nil
	}

	return d.execute(ctx, state, tool, action, params)
}

// delegate hands the task to the sub-agent manager and splices its
// aggregated result back into the step outcome.
func (d *Dispatcher) delegate(ctx context.Context, state *protocol.WorkflowState, params map[string]any) (*workflow.Outcome, error) {
	if d.subagents == nil {
		return &workflow.Outcome{
			Kind:  workflow.OutcomeError,
			Error: "sub-agent delegation is not available at this depth",
		}, nil
	}

	task := stringParam(params, "task")
	if task == "" {
		return &workflow.Outcome{
			Kind:  workflow.OutcomeError,
			Error: "DELEGATE_TO_SUB_AGENT requires a non-empty \"task\" parameter",
		}, nil
	}

	agg, err := d.subagents.ExecuteWithSubAgents(ctx, task, state.Context)
	if err != nil {
		return nil, err
	}

	infos := make([]protocol.SubAgentInfo, 0, len(agg.Results))
	now := time.Now().UTC()
	for _, r := range agg.Results {
		done := now
		infos = append(infos, protocol.SubAgentInfo{
			AgentID:     r.AgentID,
			AgentType:   r.Subtask.AgentType,
			Description: r.Subtask.Description,
			Status:      r.Status,
			Result:      r.Result,
			Error:       r.Error,
			CreatedAt:   now.Add(-r.Duration),
			CompletedAt: &done,
		})
	}

	result := agg.CombinedResult
	if result == "" {
		result = agg.Summary
	}
	return &workflow.Outcome{
		Kind:      workflow.OutcomeDelegate,
		SubAgents: infos,
		Result:    result,
	}, nil
}

// execute runs the tool and records the call. Tool failures are step-level
// outcomes; only context cancellation aborts upward.
func (d *Dispatcher) execute(ctx context.Context, state *protocol.WorkflowState, tool tools.Tool, action string, params map[string]any) (*workflow.Outcome, error) {
	callID := uuid.NewString()

	tracer := observability.Tracer(observability.TracerTools)
	ctx, span := tracer.Start(ctx, observability.SpanToolExecution,
		trace.WithAttributes(
			attribute.String(observability.AttrToolName, action),
			attribute.String(observability.AttrTaskID, state.TaskID),
		),
	)
	defer span.End()

	d.emit(protocol.NewToolCallUpdate(state.TaskID, callID, action, params))
	if d.obs != nil {
		d.obs.Tools.Start(callID, action, params)
	}

	start := time.Now()
	res, err := tool.Execute(ctx, params)
	elapsed := time.Since(start)

	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		res = tools.ToolResult{Success: false, Error: err.Error()}
	}

	content := res.Content
	if !res.Success && content == "" {
		content = res.Error
	}

	call := d.record(state, action, params, content, res.Success, res.Error, elapsed)
	call.ID = callID

	d.emit(protocol.NewToolResultUpdate(state.TaskID, callID, action, content, res.Success))
	if d.obs != nil {
		d.obs.Tools.End(callID, content, res.Success)
		d.obs.Metrics.Time("tool_duration", elapsed, map[string]string{"tool": action})
	}

	return &workflow.Outcome{
		Kind:     workflow.OutcomeTool,
		ToolCall: &call,
		Result:   content,
	}, nil
}

// checkSafety gates command and file parameters through the policy. Write
// access is assumed for actions that change files.
func (d *Dispatcher) checkSafety(action string, params map[string]any) *safety.Violation {
	if d.policy == nil {
		return nil
	}

	if cmd := stringParam(params, "command"); cmd != "" {
		if v := d.policy.CheckCommand(cmd); v != nil {
			return v
		}
	}

	mode := safety.ModeRead
	if isWriteAction(action) {
		mode = safety.ModeWrite
	}
	for _, key := range []string{"path", "file", "filename"} {
		if p := stringParam(params, key); p != "" {
			if v := d.policy.CheckFileAccess(p, mode); v != nil {
				return v
			}
		}
	}
	return nil
}

// record builds the ToolCall entry appended to state by the execute node.
func (d *Dispatcher) record(state *protocol.WorkflowState, action string, params map[string]any, result string, success bool, errMsg string, elapsed time.Duration) protocol.ToolCall {
	return protocol.ToolCall{
		ID:         uuid.NewString(),
		ToolName:   action,
		Parameters: params,
		Result:     result,
		Success:    success,
		Error:      errMsg,
		Timestamp:  time.Now().UTC(),
		Duration:   elapsed,
	}
}

func isWriteAction(action string) bool {
	for _, marker := range []string{"WRITE", "DELETE", "PATCH", "REPLACE", "MOVE"} {
		if strings.Contains(action, marker) {
			return true
		}
	}
	return false
}

// stringParam reads a string parameter, rendering structured values to
// JSON so a planner that nests an object does not lose information.
func stringParam(params map[string]any, key string) string {
	v, ok := params[key]
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(data)
}
