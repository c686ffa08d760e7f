package cache

import (
	"log/slog"

	"github.com/agentmesh/agentmesh/pkg/protocol"
)

// Optimizer trims workflow state growth before checkpoints. Truncation is
// from the head: the oldest records go first.
type Optimizer struct {
	maxMessages  int
	maxToolCalls int
	maxContextKB int
	logger       *slog.Logger
}

// NewOptimizer creates an optimizer with the given caps. A zero cap disables
// that particular bound.
func NewOptimizer(maxMessages, maxToolCalls, maxContextKB int, logger *slog.Logger) *Optimizer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Optimizer{
		maxMessages:  maxMessages,
		maxToolCalls: maxToolCalls,
		maxContextKB: maxContextKB,
		logger:       logger,
	}
}

// Optimize enforces the caps on the given state in place and reports whether
// anything was truncated. An oversized context is logged but never dropped;
// the caller decides what to evict from it.
func (o *Optimizer) Optimize(state *protocol.WorkflowState) bool {
	if state == nil {
		return false
	}

	changed := false

	if o.maxMessages > 0 && len(state.Messages) > o.maxMessages {
		dropped := len(state.Messages) - o.maxMessages
		state.Messages = state.Messages[dropped:]
		o.logger.Debug("truncated messages", "task_id", state.TaskID, "dropped", dropped)
		changed = true
	}

	if o.maxToolCalls > 0 && len(state.ToolCalls) > o.maxToolCalls {
		dropped := len(state.ToolCalls) - o.maxToolCalls
		state.ToolCalls = state.ToolCalls[dropped:]
		o.logger.Debug("truncated tool calls", "task_id", state.TaskID, "dropped", dropped)
		changed = true
	}

	if o.maxContextKB > 0 {
		if size := state.ContextSizeKB(); size > o.maxContextKB {
			o.logger.Warn("context exceeds size budget",
				"task_id", state.TaskID,
				"size_kb", size,
				"max_kb", o.maxContextKB)
		}
	}

	return changed
}
