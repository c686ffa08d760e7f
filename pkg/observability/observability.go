// Package observability provides the four progress sinks of the
// orchestrator: the structured execution log, the decision tracker, the
// tool logger, and the metrics collector. Every sink is optional, safe for
// concurrent writes, and never panics into the caller. Sinks are owned
// handles wired by the orchestrator, not globals; tests instantiate fresh
// copies.
package observability

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

// Observability bundles the sinks handed to components.
type Observability struct {
	Log       *LogStore
	Decisions *DecisionTracker
	Tools     *ToolLogger
	Metrics   *Metrics
}

// New creates a bundle with all sinks enabled.
func New() *Observability {
	return &Observability{
		Log:       NewLogStore(),
		Decisions: NewDecisionTracker(),
		Tools:     NewToolLogger(),
		Metrics:   NewMetrics(),
	}
}

// Tracer names used across the orchestrator.
const (
	TracerGateway  = "agentmesh.gateway"
	TracerWorkflow = "agentmesh.workflow"
	TracerTools    = "agentmesh.tools"

	SpanLLMRequest    = "llm.request"
	SpanToolExecution = "tool.execution"
	SpanWorkflowNode  = "workflow.node"

	AttrLLMModel    = "llm.model"
	AttrLLMEndpoint = "llm.endpoint"
	AttrToolName    = "tool.name"
	AttrTaskID      = "task.id"
)

// Tracer returns the named tracer from the installed provider. Without an
// installed provider this is a noop tracer, so instrumented paths cost
// nothing when tracing is off.
func Tracer(name string) trace.Tracer {
	return otel.Tracer(name)
}
