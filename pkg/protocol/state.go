package protocol

import (
	"encoding/json"
	"fmt"
	"time"
)

// Node names the three workflow nodes plus the approval gate.
type Node string

const (
	NodePlan             Node = "plan"
	NodeExecute          Node = "execute"
	NodeReflect          Node = "reflect"
	NodeAwaitingApproval Node = "awaiting_approval"
)

// WorkflowState is the single record threaded through the plan/execute/reflect
// machine. Each field follows a reducer contract enforced by Merge:
//
//   - Messages, ToolCalls, SubAgents, Errors, ReviewResults, DebugLogs,
//     Findings: append-only sequences (merge = concat)
//   - Context, Memory: mappings (merge = right-biased)
//   - Iteration, RetryCount, StreamingTokens, TotalMessages,
//     TotalToolCalls: monotonically increasing
//   - TaskStatus, ShouldContinue, NextNode, LastToolResult: last-write-wins
//   - Workspace: set at creation, immutable thereafter
//   - ApprovalStatus: monotonic pending -> {approved, rejected}
type WorkflowState struct {
	TaskID string `json:"task_id"`

	Messages      []Message      `json:"messages,omitempty"`
	ToolCalls     []ToolCall     `json:"tool_calls,omitempty"`
	SubAgents     []SubAgentInfo `json:"sub_agents,omitempty"`
	Errors        []string       `json:"errors,omitempty"`
	ReviewResults []string       `json:"review_results,omitempty"`
	DebugLogs     []string       `json:"debug_logs,omitempty"`
	Findings      []string       `json:"findings,omitempty"`

	Context map[string]any `json:"context,omitempty"`
	Memory  map[string]any `json:"memory,omitempty"`

	Iteration       int `json:"iteration"`
	RetryCount      int `json:"retry_count"`
	StreamingTokens int `json:"streaming_tokens"`

	// Cumulative append counters. Unlike the slice lengths they are not
	// reduced when the optimizer truncates Messages/ToolCalls to their
	// caps, so progress detection reads these.
	TotalMessages  int `json:"total_messages"`
	TotalToolCalls int `json:"total_tool_calls"`

	TaskStatus     TaskStatus `json:"task_status"`
	ShouldContinue bool       `json:"should_continue"`
	NextNode       Node       `json:"next_node,omitempty"`
	LastToolResult string     `json:"last_tool_result,omitempty"`
	Result         string     `json:"result,omitempty"`

	Workspace      string         `json:"workspace"`
	ApprovalStatus ApprovalStatus `json:"approval_status"`

	StartTime time.Time  `json:"start_time"`
	EndTime   *time.Time `json:"end_time,omitempty"`
}

// NewWorkflowState creates the initial state for a task.
func NewWorkflowState(taskID, workspace string) *WorkflowState {
	return &WorkflowState{
		TaskID:         taskID,
		Context:        make(map[string]any),
		Memory:         make(map[string]any),
		TaskStatus:     TaskPending,
		ShouldContinue: true,
		NextNode:       NodePlan,
		Workspace:      workspace,
		ApprovalStatus: ApprovalPending,
		StartTime:      time.Now().UTC(),
	}
}

// StateDelta is a partial state produced by one node execution. Merge folds
// it into the current state under the per-field reducer contract.
type StateDelta struct {
	Messages      []Message
	ToolCalls     []ToolCall
	SubAgents     []SubAgentInfo
	Errors        []string
	ReviewResults []string
	DebugLogs     []string
	Findings      []string

	Context map[string]any
	Memory  map[string]any

	// Counter fields are increments, not absolute values.
	IterationDelta  int
	RetryDelta      int
	StreamingTokens int

	TaskStatus     *TaskStatus
	ShouldContinue *bool
	NextNode       *Node
	LastToolResult *string
	Result         *string
	ApprovalStatus *ApprovalStatus
	EndTime        *time.Time
}

// Merge folds a delta into the state. Terminal task status is write-once:
// once the state is terminal, status/continue updates are ignored (appends
// and map merges still apply so trailing records are not lost).
func (s *WorkflowState) Merge(d *StateDelta) {
	if d == nil {
		return
	}

	s.Messages = append(s.Messages, d.Messages...)
	s.ToolCalls = append(s.ToolCalls, d.ToolCalls...)
	s.TotalMessages += len(d.Messages)
	s.TotalToolCalls += len(d.ToolCalls)
	s.SubAgents = append(s.SubAgents, d.SubAgents...)
	s.Errors = append(s.Errors, d.Errors...)
	s.ReviewResults = append(s.ReviewResults, d.ReviewResults...)
	s.DebugLogs = append(s.DebugLogs, d.DebugLogs...)
	s.Findings = append(s.Findings, d.Findings...)

	if len(d.Context) > 0 {
		if s.Context == nil {
			s.Context = make(map[string]any, len(d.Context))
		}
		for k, v := range d.Context {
			s.Context[k] = v
		}
	}
	if len(d.Memory) > 0 {
		if s.Memory == nil {
			s.Memory = make(map[string]any, len(d.Memory))
		}
		for k, v := range d.Memory {
			s.Memory[k] = v
		}
	}

	if d.IterationDelta > 0 {
		s.Iteration += d.IterationDelta
	}
	if d.RetryDelta > 0 {
		s.RetryCount += d.RetryDelta
	}
	if d.StreamingTokens > 0 {
		s.StreamingTokens += d.StreamingTokens
	}

	terminal := s.TaskStatus.IsTerminal()

	if d.TaskStatus != nil && !terminal {
		s.TaskStatus = *d.TaskStatus
	}
	if d.ShouldContinue != nil && !terminal {
		s.ShouldContinue = *d.ShouldContinue
	}
	if d.NextNode != nil {
		s.NextNode = *d.NextNode
	}
	if d.LastToolResult != nil {
		s.LastToolResult = *d.LastToolResult
	}
	if d.Result != nil {
		s.Result = *d.Result
	}
	if d.ApprovalStatus != nil && s.ApprovalStatus == ApprovalPending {
		s.ApprovalStatus = *d.ApprovalStatus
	}
	if d.EndTime != nil && s.EndTime == nil {
		s.EndTime = d.EndTime
	}

	// A terminal status always implies the loop stops and an end time exists.
	if s.TaskStatus.IsTerminal() {
		s.ShouldContinue = false
		if s.EndTime == nil {
			now := time.Now().UTC()
			s.EndTime = &now
		}
	}
}

// Clone returns a deep copy of the state.
func (s *WorkflowState) Clone() *WorkflowState {
	if s == nil {
		return nil
	}

	c := *s
	c.Messages = append([]Message(nil), s.Messages...)
	c.ToolCalls = append([]ToolCall(nil), s.ToolCalls...)
	c.SubAgents = append([]SubAgentInfo(nil), s.SubAgents...)
	c.Errors = append([]string(nil), s.Errors...)
	c.ReviewResults = append([]string(nil), s.ReviewResults...)
	c.DebugLogs = append([]string(nil), s.DebugLogs...)
	c.Findings = append([]string(nil), s.Findings...)
	c.Context = cloneMap(s.Context)
	c.Memory = cloneMap(s.Memory)
	if s.EndTime != nil {
		end := *s.EndTime
		c.EndTime = &end
	}
	return &c
}

func cloneMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// Limits bounds state growth and loop counts for validation.
type Limits struct {
	MaxIterations int
	MaxMessages   int
	MaxToolCalls  int
	MaxContextKB  int
}

// Validate checks the structural invariants of the state record. It is used
// to reject corrupt checkpoint snapshots before resuming from them.
func (s *WorkflowState) Validate(limits Limits) error {
	if s == nil {
		return fmt.Errorf("state is nil")
	}
	if s.TaskID == "" {
		return fmt.Errorf("state has no task id")
	}
	if s.Iteration < 0 {
		return fmt.Errorf("iteration is negative: %d", s.Iteration)
	}
	if limits.MaxIterations > 0 && s.Iteration > limits.MaxIterations {
		return fmt.Errorf("iteration %d exceeds max_iterations %d", s.Iteration, limits.MaxIterations)
	}
	if s.TaskStatus.IsTerminal() {
		if s.ShouldContinue {
			return fmt.Errorf("terminal status %q with should_continue=true", s.TaskStatus)
		}
		if s.EndTime == nil {
			return fmt.Errorf("terminal status %q without end_time", s.TaskStatus)
		}
	}
	if s.TaskStatus == TaskCompleted && s.Result == "" && !hasSubAgentResult(s.SubAgents) {
		return fmt.Errorf("completed task has neither a result nor an aggregated sub-agent result")
	}
	switch s.ApprovalStatus {
	case ApprovalPending, ApprovalApproved, ApprovalRejected:
	default:
		return fmt.Errorf("invalid approval status %q", s.ApprovalStatus)
	}
	if limits.MaxMessages > 0 && len(s.Messages) > limits.MaxMessages {
		return fmt.Errorf("message count %d exceeds max_messages %d", len(s.Messages), limits.MaxMessages)
	}
	if limits.MaxToolCalls > 0 && len(s.ToolCalls) > limits.MaxToolCalls {
		return fmt.Errorf("tool call count %d exceeds max_tool_calls %d", len(s.ToolCalls), limits.MaxToolCalls)
	}
	return nil
}

func hasSubAgentResult(agents []SubAgentInfo) bool {
	for _, a := range agents {
		if a.Status == SubAgentCompleted && a.Result != "" {
			return true
		}
	}
	return false
}

// ContextSizeKB returns the serialized size of the context map in kilobytes.
func (s *WorkflowState) ContextSizeKB() int {
	if len(s.Context) == 0 {
		return 0
	}
	data, err := json.Marshal(s.Context)
	if err != nil {
		return 0
	}
	return len(data) / 1024
}

// Serialize converts the state to JSON bytes. The encoding round-trips
// byte-exactly through Deserialize for any validatable state.
func (s *WorkflowState) Serialize() ([]byte, error) {
	if s == nil {
		return nil, fmt.Errorf("cannot serialize nil state")
	}
	return json.Marshal(s)
}

// Deserialize reconstructs a WorkflowState from JSON bytes.
func Deserialize(data []byte) (*WorkflowState, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("cannot deserialize empty data")
	}
	var state WorkflowState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("failed to unmarshal workflow state: %w", err)
	}
	return &state, nil
}
