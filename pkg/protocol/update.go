package protocol

import (
	"encoding/json"
	"time"
)

// UpdateType tags the variants of the progress stream.
type UpdateType string

const (
	UpdateStatus         UpdateType = "status"
	UpdateThinking       UpdateType = "thinking"
	UpdateArtifact       UpdateType = "artifact"
	UpdateToolCall       UpdateType = "tool_call"
	UpdateToolResult     UpdateType = "tool_result"
	UpdateSubAgentSpawn  UpdateType = "sub_agent_spawned"
	UpdateSubAgentResult UpdateType = "sub_agent_result"
	UpdateCompleted      UpdateType = "completed"
	UpdateError          UpdateType = "error"
	UpdateProgress       UpdateType = "progress"
)

// IsTerminal reports whether no further updates may follow this one.
func (t UpdateType) IsTerminal() bool {
	return t == UpdateCompleted || t == UpdateError
}

// Update is one typed progress event emitted on the output stream.
// Every update serializes with at least {type, timestamp, task_id};
// consumers treat unknown fields as forward-compatible.
type Update struct {
	Type      UpdateType `json:"type"`
	Timestamp time.Time  `json:"timestamp"`
	TaskID    string     `json:"task_id"`

	// Status / progress / thinking / error payloads.
	Status    TaskStatus `json:"status,omitempty"`
	Content   string     `json:"content,omitempty"`
	Iteration int        `json:"iteration,omitempty"`
	Node      Node       `json:"node,omitempty"`

	// Tool call pairing. CallID links a tool_call to its tool_result.
	CallID     string         `json:"call_id,omitempty"`
	ToolName   string         `json:"tool_name,omitempty"`
	Parameters map[string]any `json:"parameters,omitempty"`
	Result     string         `json:"result,omitempty"`
	Success    *bool          `json:"success,omitempty"`

	// Sub-agent events.
	AgentID   string    `json:"agent_id,omitempty"`
	AgentType AgentRole `json:"agent_type,omitempty"`

	// Artifact payload.
	ArtifactName string `json:"artifact_name,omitempty"`

	Metadata map[string]any `json:"metadata,omitempty"`
}

func newUpdate(t UpdateType, taskID string) Update {
	return Update{Type: t, Timestamp: time.Now().UTC(), TaskID: taskID}
}

// NewStatusUpdate reports a task status change.
func NewStatusUpdate(taskID string, status TaskStatus, node Node) Update {
	u := newUpdate(UpdateStatus, taskID)
	u.Status = status
	u.Node = node
	return u
}

// NewThinkingUpdate carries model reasoning visible to the operator.
func NewThinkingUpdate(taskID, content string) Update {
	u := newUpdate(UpdateThinking, taskID)
	u.Content = content
	return u
}

// NewArtifactUpdate reports a produced artifact.
func NewArtifactUpdate(taskID, name, content string) Update {
	u := newUpdate(UpdateArtifact, taskID)
	u.ArtifactName = name
	u.Content = content
	return u
}

// NewToolCallUpdate reports a tool invocation about to run.
func NewToolCallUpdate(taskID, callID, toolName string, params map[string]any) Update {
	u := newUpdate(UpdateToolCall, taskID)
	u.CallID = callID
	u.ToolName = toolName
	u.Parameters = params
	return u
}

// NewToolResultUpdate reports the outcome of a tool invocation.
func NewToolResultUpdate(taskID, callID, toolName, result string, success bool) Update {
	u := newUpdate(UpdateToolResult, taskID)
	u.CallID = callID
	u.ToolName = toolName
	u.Result = result
	u.Success = &success
	return u
}

// NewSubAgentSpawnedUpdate reports a dispatched sub-agent.
func NewSubAgentSpawnedUpdate(taskID, agentID string, role AgentRole, description string) Update {
	u := newUpdate(UpdateSubAgentSpawn, taskID)
	u.AgentID = agentID
	u.AgentType = role
	u.Content = description
	return u
}

// NewSubAgentResultUpdate reports a finished sub-agent.
func NewSubAgentResultUpdate(taskID, agentID string, role AgentRole, result string, success bool) Update {
	u := newUpdate(UpdateSubAgentResult, taskID)
	u.AgentID = agentID
	u.AgentType = role
	u.Result = result
	u.Success = &success
	return u
}

// NewCompletedUpdate is the terminal success event.
func NewCompletedUpdate(taskID, result string) Update {
	u := newUpdate(UpdateCompleted, taskID)
	u.Status = TaskCompleted
	u.Result = result
	return u
}

// NewCancelledUpdate is the terminal event for a cancelled task. It uses the
// completed variant with a cancelled status so stream consumers see exactly
// one terminal event per task.
func NewCancelledUpdate(taskID string) Update {
	u := newUpdate(UpdateCompleted, taskID)
	u.Status = TaskCancelled
	return u
}

// NewErrorUpdate is the terminal failure event.
func NewErrorUpdate(taskID, message string) Update {
	u := newUpdate(UpdateError, taskID)
	u.Status = TaskFailed
	u.Content = message
	return u
}

// NewProgressUpdate reports loop progress.
func NewProgressUpdate(taskID string, iteration int, node Node, content string) Update {
	u := newUpdate(UpdateProgress, taskID)
	u.Iteration = iteration
	u.Node = node
	u.Content = content
	return u
}

// MarshalJSON serializes the update. Updates are plain structs; this exists
// so the wire shape is locked by tests in one place.
func (u Update) MarshalJSON() ([]byte, error) {
	type alias Update
	return json.Marshal(alias(u))
}
