// Package subagent decomposes a task into role-typed subtasks, fans them
// out as child workflows under a concurrency cap, and aggregates their
// results. Aggregation never fails the parent task.
package subagent

import (
	"time"

	"github.com/agentmesh/agentmesh/pkg/protocol"
)

// Subtask is one unit of decomposed work.
type Subtask struct {
	ID          string             `json:"id"`
	Description string             `json:"description"`
	AgentType   protocol.AgentRole `json:"agent_type"`
	DependsOn   []string           `json:"depends_on,omitempty"`
}

// Decomposition is the LLM's verdict on how to split a task.
type Decomposition struct {
	Complexity            protocol.Complexity `json:"complexity"`
	RequiresDecomposition bool                `json:"requires_decomposition"`
	Subtasks              []Subtask           `json:"subtasks"`
	ExecutionStrategy     string              `json:"execution_strategy" jsonschema:"enum=sequential,enum=parallel,enum=mixed"`
}

// SubtaskResult is the outcome of one child workflow.
type SubtaskResult struct {
	Subtask  Subtask                 `json:"subtask"`
	AgentID  string                  `json:"agent_id"`
	Status   protocol.SubAgentStatus `json:"status"`
	Result   string                  `json:"result,omitempty"`
	Error    string                  `json:"error,omitempty"`
	Duration time.Duration           `json:"duration"`
}

// Aggregated is the combined outcome handed back to the parent workflow.
// Results keep the declared subtask order regardless of completion order.
type Aggregated struct {
	Success        bool            `json:"success"`
	Summary        string          `json:"summary"`
	Results        []SubtaskResult `json:"results"`
	CombinedResult string          `json:"combined_result"`
	Succeeded      int             `json:"succeeded"`
	Failed         int             `json:"failed"`
	TotalDuration  time.Duration   `json:"total_duration"`
}

// AggregationStrategy names how child outputs combine.
type AggregationStrategy string

const (
	AggregateConcatenate AggregationStrategy = "concatenate"
	AggregateList        AggregationStrategy = "list"
	AggregateSummarize   AggregationStrategy = "summarize"
)

// DefaultRoleAllowlists maps each agent role to the tools its child
// workflow may use. Deployments override this per configuration; readers
// never get write or shell tools, writers never get shell.
func DefaultRoleAllowlists() map[protocol.AgentRole][]string {
	return map[protocol.AgentRole][]string{
		protocol.RoleCodeReader:    {"READ_FILE", "LIST_FILES", "SEARCH_CODE"},
		protocol.RoleCodeWriter:    {"READ_FILE", "WRITE_FILE", "LIST_FILES"},
		protocol.RoleAnalyzer:      {"READ_FILE", "LIST_FILES", "SEARCH_CODE"},
		protocol.RoleTester:        {"READ_FILE", "RUN_COMMAND", "LIST_FILES"},
		protocol.RoleReviewer:      {"READ_FILE", "LIST_FILES", "SEARCH_CODE"},
		protocol.RoleDocWriter:     {"READ_FILE", "WRITE_FILE", "LIST_FILES"},
		protocol.RoleResearcher:    {"SEARCH", "READ_FILE", "FETCH_URL"},
		protocol.RoleSummarizer:    {"READ_FILE"},
		protocol.RoleDataCleaner:   {"READ_FILE", "WRITE_FILE", "LIST_FILES"},
		protocol.RoleDataAnalyst:   {"READ_FILE", "LIST_FILES", "RUN_COMMAND"},
		protocol.RoleDebugger:      {"READ_FILE", "RUN_COMMAND", "SEARCH_CODE"},
		protocol.RoleGeneralWorker: {"READ_FILE", "WRITE_FILE", "LIST_FILES", "SEARCH", "RUN_COMMAND"},
	}
}
