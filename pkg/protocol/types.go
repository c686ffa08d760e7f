// Package protocol defines the shared data model for the orchestrator:
// tasks, messages, tool calls, sub-agent records, the workflow state record
// threaded through the state machine, and the typed update stream.
package protocol

import (
	"time"
)

// TaskStatus is the lifecycle status of a task.
type TaskStatus string

const (
	TaskPending    TaskStatus = "pending"
	TaskInProgress TaskStatus = "in_progress"
	TaskCompleted  TaskStatus = "completed"
	TaskFailed     TaskStatus = "failed"
	TaskCancelled  TaskStatus = "cancelled"
)

// IsTerminal reports whether the status is a terminal state.
// Terminal statuses are write-once: a task never leaves them.
func (s TaskStatus) IsTerminal() bool {
	return s == TaskCompleted || s == TaskFailed || s == TaskCancelled
}

// Domain classifies what kind of work a task involves.
type Domain string

const (
	DomainCoding   Domain = "coding"
	DomainResearch Domain = "research"
	DomainData     Domain = "data"
	DomainGeneral  Domain = "general"
)

// Domains lists every recognized domain.
func Domains() []Domain {
	return []Domain{DomainCoding, DomainResearch, DomainData, DomainGeneral}
}

// Complexity is the estimated difficulty of a task.
type Complexity string

const (
	ComplexitySimple   Complexity = "simple"
	ComplexityModerate Complexity = "moderate"
	ComplexityComplex  Complexity = "complex"
	ComplexityCritical Complexity = "critical"
)

// ApprovalStatus tracks human approval of a sensitive plan step.
// Transitions are monotonic: pending may move to approved or rejected,
// and neither of those ever changes again.
type ApprovalStatus string

const (
	ApprovalPending  ApprovalStatus = "pending"
	ApprovalApproved ApprovalStatus = "approved"
	ApprovalRejected ApprovalStatus = "rejected"
)

// AgentRole identifies a specialized sub-agent.
type AgentRole string

const (
	RoleCodeReader    AgentRole = "code-reader"
	RoleCodeWriter    AgentRole = "code-writer"
	RoleAnalyzer      AgentRole = "analyzer"
	RoleTester        AgentRole = "tester"
	RoleReviewer      AgentRole = "reviewer"
	RoleDocWriter     AgentRole = "doc-writer"
	RoleResearcher    AgentRole = "researcher"
	RoleSummarizer    AgentRole = "summarizer"
	RoleDataCleaner   AgentRole = "data-cleaner"
	RoleDataAnalyst   AgentRole = "data-analyst"
	RoleDebugger      AgentRole = "debugger"
	RoleGeneralWorker AgentRole = "general-worker"
)

// AgentRoles lists the twelve fixed sub-agent roles.
func AgentRoles() []AgentRole {
	return []AgentRole{
		RoleCodeReader, RoleCodeWriter, RoleAnalyzer, RoleTester,
		RoleReviewer, RoleDocWriter, RoleResearcher, RoleSummarizer,
		RoleDataCleaner, RoleDataAnalyst, RoleDebugger, RoleGeneralWorker,
	}
}

// IsValidRole reports whether role is one of the fixed roles.
func IsValidRole(role AgentRole) bool {
	for _, r := range AgentRoles() {
		if r == role {
			return true
		}
	}
	return false
}

// Task is one operator request processed end to end.
type Task struct {
	ID          string     `json:"id"`
	Description string     `json:"description"`
	Domain      Domain     `json:"domain"`
	Status      TaskStatus `json:"status"`
	Result      string     `json:"result,omitempty"`
	Error       string     `json:"error,omitempty"`
	StartTime   time.Time  `json:"start_time"`
	EndTime     *time.Time `json:"end_time,omitempty"`
}

// MessageRole identifies the author of a conversation message.
type MessageRole string

const (
	RoleUser      MessageRole = "user"
	RoleAssistant MessageRole = "assistant"
	RoleSystem    MessageRole = "system"
)

// Message is one conversation entry. Append-only within a task.
type Message struct {
	Role      MessageRole    `json:"role"`
	Content   string         `json:"content"`
	Timestamp time.Time      `json:"timestamp"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// ToolCall records one tool invocation. Append-only.
type ToolCall struct {
	ID         string         `json:"id"`
	ToolName   string         `json:"tool_name"`
	Parameters map[string]any `json:"parameters,omitempty"`
	Result     string         `json:"result,omitempty"`
	Success    bool           `json:"success"`
	Error      string         `json:"error,omitempty"`
	Timestamp  time.Time      `json:"timestamp"`
	Duration   time.Duration  `json:"duration"`
}

// SubAgentStatus is the lifecycle status of a dispatched sub-agent.
type SubAgentStatus string

const (
	SubAgentPending   SubAgentStatus = "pending"
	SubAgentRunning   SubAgentStatus = "running"
	SubAgentCompleted SubAgentStatus = "completed"
	SubAgentFailed    SubAgentStatus = "failed"
)

// SubAgentInfo records one sub-agent dispatched for a task.
type SubAgentInfo struct {
	AgentID     string         `json:"agent_id"`
	AgentType   AgentRole      `json:"agent_type"`
	Description string         `json:"description"`
	Status      SubAgentStatus `json:"status"`
	Result      string         `json:"result,omitempty"`
	Error       string         `json:"error,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
	CompletedAt *time.Time     `json:"completed_at,omitempty"`
}
