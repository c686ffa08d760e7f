package workflow

import (
	"context"
	"fmt"
	"time"

	"github.com/agentmesh/agentmesh/pkg/gateway"
	"github.com/agentmesh/agentmesh/pkg/observability"
	"github.com/agentmesh/agentmesh/pkg/protocol"
)

// taskDescription is the first user message, which seeds every run.
func taskDescription(state *protocol.WorkflowState) string {
	for _, m := range state.Messages {
		if m.Role == protocol.RoleUser {
			return m.Content
		}
	}
	return ""
}

// plan asks the LLM for a structured plan, or short-circuits greetings
// without any LLM call.
func (e *Engine) plan(ctx context.Context, state *protocol.WorkflowState) (*protocol.StateDelta, error) {
	task := taskDescription(state)

	if state.Iteration == 0 && len(state.ToolCalls) == 0 && isGreeting(task) {
		e.logRecord(observability.EventResult, string(protocol.NodePlan), "greeting short-circuit")
		status := protocol.TaskCompleted
		cont := false
		reply := greetingReply
		return &protocol.StateDelta{
			Messages: []protocol.Message{{
				Role:      protocol.RoleAssistant,
				Content:   reply,
				Timestamp: time.Now().UTC(),
			}},
			TaskStatus:     &status,
			ShouldContinue: &cont,
			Result:         &reply,
		}, nil
	}

	prompt := buildPlanPrompt(e.def, task, state.Errors)
	e.logRecord(observability.EventPrompt, string(protocol.NodePlan), prompt)

	resp, err := e.llm.Generate(ctx, []protocol.Message{
		{Role: protocol.RoleSystem, Content: e.def.PlanPrompt},
		{Role: protocol.RoleUser, Content: prompt},
	}, gateway.Options{})
	if err != nil {
		return nil, fmt.Errorf("planning failed in LLM gateway after retries: %w; check endpoint health or re-run", err)
	}

	plan, err := parsePlan(resp.Text)
	if err != nil {
		// A malformed plan is a planner error: feed it back and let
		// reflect decide whether the iteration budget allows another try.
		next := protocol.NodeReflect
		return &protocol.StateDelta{
			Errors:   []string{fmt.Sprintf("planner produced an unusable plan: %v", err)},
			NextNode: &next,
		}, nil
	}

	if e.obs != nil && e.obs.Decisions != nil {
		e.obs.Decisions.Record(observability.Decision{
			Agent:      string(e.def.Domain),
			Decision:   fmt.Sprintf("plan with %d steps", len(plan.Steps)),
			Reasoning:  plan.SuccessCriteria,
			Confidence: 1,
		})
	}

	e.emit(protocol.NewThinkingUpdate(state.TaskID, resp.Text))

	next := protocol.NodeExecute
	if idx := plan.NextStep(); idx >= 0 && plan.Steps[idx].Sensitive && state.ApprovalStatus == protocol.ApprovalPending {
		next = protocol.NodeAwaitingApproval
	}
	return &protocol.StateDelta{
		Messages: []protocol.Message{{
			Role:      protocol.RoleAssistant,
			Content:   resp.Text,
			Timestamp: time.Now().UTC(),
		}},
		Context:  map[string]any{planContextKey: plan},
		NextNode: &next,
	}, nil
}

// execute dispatches the next unfinished plan step.
func (e *Engine) execute(ctx context.Context, state *protocol.WorkflowState) (*protocol.StateDelta, error) {
	next := protocol.NodeReflect

	plan, err := planFromContext(state.Context)
	if err != nil {
		return &protocol.StateDelta{
			Errors:   []string{err.Error()},
			NextNode: &next,
		}, nil
	}

	idx := plan.NextStep()
	if idx < 0 {
		return &protocol.StateDelta{NextNode: &next}, nil
	}
	step := plan.Steps[idx]

	if step.Sensitive && state.ApprovalStatus == protocol.ApprovalPending {
		wait := protocol.NodeAwaitingApproval
		return &protocol.StateDelta{NextNode: &wait}, nil
	}

	outcome, err := e.dispatcher.Dispatch(ctx, state, step.Action, step.Parameters)
	if err != nil {
		return nil, err
	}

	plan.Steps[idx].Done = true
	delta := &protocol.StateDelta{
		Context:  map[string]any{planContextKey: plan},
		NextNode: &next,
	}

	switch outcome.Kind {
	case OutcomeComplete:
		status := protocol.TaskCompleted
		cont := false
		delta.TaskStatus = &status
		delta.ShouldContinue = &cont
		delta.Result = &outcome.Result
	case OutcomeDelegate:
		delta.SubAgents = outcome.SubAgents
		delta.Context["sub_agent_result"] = outcome.Result
		delta.LastToolResult = &outcome.Result
	case OutcomeTool:
		if outcome.ToolCall != nil {
			delta.ToolCalls = []protocol.ToolCall{*outcome.ToolCall}
			if !outcome.ToolCall.Success {
				delta.Errors = []string{fmt.Sprintf("step %s failed: %s", step.Action, outcome.ToolCall.Error)}
			}
		}
		delta.LastToolResult = &outcome.Result
	case OutcomeError:
		delta.Errors = []string{fmt.Sprintf("step %s: %s", step.Action, outcome.Error)}
	default:
		return nil, fmt.Errorf("internal invariant violation: dispatcher returned unknown outcome kind %q", outcome.Kind)
	}

	return delta, nil
}

// Memory keys for the no-progress detector.
const (
	memProgressMessages  = "progress_messages"
	memProgressToolCalls = "progress_tool_calls"
	memProgressStale     = "progress_stale"
)

// reflect increments the iteration counter and decides whether to loop.
func (e *Engine) reflect(state *protocol.WorkflowState) *protocol.StateDelta {
	delta := &protocol.StateDelta{IterationDelta: 1}
	newIteration := state.Iteration + 1

	if newIteration >= e.cfg.MaxIterations {
		status := protocol.TaskFailed
		cont := false
		delta.TaskStatus = &status
		delta.ShouldContinue = &cont
		delta.Errors = []string{fmt.Sprintf(
			"workflow exceeded max iterations (%d) without completing; re-run with a higher max_iterations",
			e.cfg.MaxIterations)}
		return delta
	}

	if limit := e.cfg.iterationCap(); newIteration >= limit && limit < e.cfg.MaxIterations {
		status := protocol.TaskCompleted
		cont := false
		result := fmt.Sprintf("Best effort within the %d-iteration cap for %s tasks. Last result: %s",
			limit, e.cfg.Complexity, state.LastToolResult)
		delta.TaskStatus = &status
		delta.ShouldContinue = &cont
		delta.Result = &result
		return delta
	}

	if plan, err := planFromContext(state.Context); err == nil && plan.Complete() && lastStepSucceeded(state) {
		status := protocol.TaskCompleted
		cont := false
		result := state.LastToolResult
		if result == "" {
			result = "All planned steps completed."
		}
		delta.TaskStatus = &status
		delta.ShouldContinue = &cont
		delta.Result = &result
		return delta
	}

	// Read the cumulative counters, not the slice lengths: the optimizer
	// truncates Messages/ToolCalls to their caps, which would pin the
	// lengths and make every capped iteration look stale.
	msgCount := state.TotalMessages
	toolCount := state.TotalToolCalls
	prevMsgs, _ := asInt(state.Memory[memProgressMessages])
	prevTools, _ := asInt(state.Memory[memProgressToolCalls])
	stale, _ := asInt(state.Memory[memProgressStale])

	if msgCount == prevMsgs && toolCount == prevTools {
		stale++
	} else {
		stale = 0
	}
	delta.Memory = map[string]any{
		memProgressMessages:  msgCount,
		memProgressToolCalls: toolCount,
		memProgressStale:     stale,
	}

	if stale >= e.cfg.NoProgressWindow {
		status := protocol.TaskFailed
		cont := false
		delta.TaskStatus = &status
		delta.ShouldContinue = &cont
		delta.Errors = []string{fmt.Sprintf(
			"no progress over the last %d iterations: no new tool call or assistant message; task abandoned",
			e.cfg.NoProgressWindow)}
		return delta
	}

	cont := true
	next := protocol.NodePlan
	if plan, err := planFromContext(state.Context); err == nil && plan.NextStep() >= 0 {
		next = protocol.NodeExecute
	}
	delta.ShouldContinue = &cont
	delta.NextNode = &next
	return delta
}

// awaitApproval gates sensitive steps on external approval. Re-entry after
// a decision is idempotent.
func (e *Engine) awaitApproval(ctx context.Context, state *protocol.WorkflowState) (*protocol.StateDelta, error) {
	execute := protocol.NodeExecute

	switch state.ApprovalStatus {
	case protocol.ApprovalApproved:
		return &protocol.StateDelta{NextNode: &execute}, nil
	case protocol.ApprovalRejected:
		status := protocol.TaskFailed
		cont := false
		return &protocol.StateDelta{
			TaskStatus:     &status,
			ShouldContinue: &cont,
			Errors:         []string{"sensitive step rejected by operator"},
		}, nil
	}

	if e.approval == nil {
		e.logger.Warn("no approval hook configured, auto-approving sensitive step",
			"task_id", state.TaskID)
		approved := protocol.ApprovalApproved
		return &protocol.StateDelta{
			ApprovalStatus: &approved,
			NextNode:       &execute,
		}, nil
	}

	decision, err := e.approval(ctx, state)
	if err != nil {
		return nil, fmt.Errorf("approval input failed: %w", err)
	}
	if decision == protocol.ApprovalRejected {
		status := protocol.TaskFailed
		cont := false
		return &protocol.StateDelta{
			ApprovalStatus: &decision,
			TaskStatus:     &status,
			ShouldContinue: &cont,
			Errors:         []string{"sensitive step rejected by operator"},
		}, nil
	}
	approved := protocol.ApprovalApproved
	return &protocol.StateDelta{
		ApprovalStatus: &approved,
		NextNode:       &execute,
	}, nil
}

// lastStepSucceeded is the default success predicate: the most recent tool
// call, if any, did not fail.
func lastStepSucceeded(state *protocol.WorkflowState) bool {
	if len(state.ToolCalls) == 0 {
		return true
	}
	return state.ToolCalls[len(state.ToolCalls)-1].Success
}

// asInt recovers an int from memory values, which arrive as float64 after
// a checkpoint round-trip.
func asInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case float64:
		return int(n), true
	default:
		return 0, false
	}
}
