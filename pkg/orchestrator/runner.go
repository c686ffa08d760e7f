package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/agentmesh/agentmesh/pkg/protocol"
	"github.com/agentmesh/agentmesh/pkg/subagent"
	"github.com/agentmesh/agentmesh/pkg/workflow"
)

// childRunner executes one subtask as a child workflow: the parent's
// policy and tool registry, a role-scoped allowlist, an isolated state
// with a read-only context snapshot, and a shorter iteration cap.
// Children cannot delegate further; the recursion stops at depth one.
type childRunner struct {
	orch      *Orchestrator
	def       workflow.Definition
	workspace string
	parentCfg workflow.Config
	emit      func(protocol.Update)
}

func (r *childRunner) RunChild(ctx context.Context, st subagent.Subtask, allowlist []string, parentContext map[string]any) (string, error) {
	state := protocol.NewWorkflowState("sub-"+st.ID+"-"+uuid.NewString()[:8], r.workspace)
	state.Messages = []protocol.Message{{
		Role:      protocol.RoleUser,
		Content:   st.Description,
		Timestamp: time.Now().UTC(),
	}}
	for k, v := range parentContext {
		if k == "plan" {
			continue
		}
		state.Context[k] = v
	}
	state.Context["agent_type"] = string(st.AgentType)

	def := r.def
	if len(allowlist) > 0 {
		def.ToolAllowlist = allowlist
	}

	dispatcher := NewDispatcher(r.orch.registry, r.orch.policy,
		WithAllowlist(def.ToolAllowlist),
		WithDispatchObservability(r.orch.obs),
		WithDispatchEmitter(r.emit),
	)

	cfg := r.parentCfg
	cfg.MaxIterations = childIterations(r.parentCfg.MaxIterations)
	cfg.RecursionLimit = cfg.MaxIterations * 4
	cfg.Complexity = protocol.ComplexitySimple
	cfg.ThreadID = "" // children are not checkpointed

	engine := workflow.New(def, cfg, r.orch.llm, dispatcher,
		workflow.WithObservability(r.orch.obs),
	)
	if err := engine.Run(ctx, state); err != nil {
		return "", err
	}
	if ctx.Err() != nil {
		return "", ctx.Err()
	}

	if state.TaskStatus != protocol.TaskCompleted {
		reason := "child workflow did not complete"
		if len(state.Errors) > 0 {
			reason = state.Errors[len(state.Errors)-1]
		}
		return "", fmt.Errorf("sub-agent %s failed: %s", st.AgentType, reason)
	}

	result := state.Result
	if result == "" {
		result = state.LastToolResult
	}
	return strings.TrimSpace(result), nil
}

// childIterations halves the parent's budget, keeping room for at least a
// plan, an execute, and a retry.
func childIterations(parent int) int {
	n := parent / 2
	if n < 3 {
		n = 3
	}
	return n
}
