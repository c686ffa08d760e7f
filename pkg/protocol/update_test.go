package protocol

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUpdateWireShape(t *testing.T) {
	u := NewToolCallUpdate("task-1", "call-1", "READ_FILE", map[string]any{"path": "a.txt"})

	data, err := json.Marshal(u)
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(data, &decoded))

	assert.Equal(t, "tool_call", decoded["type"])
	assert.Equal(t, "task-1", decoded["task_id"])
	assert.NotEmpty(t, decoded["timestamp"])
	assert.Equal(t, "call-1", decoded["call_id"])
	assert.Equal(t, "READ_FILE", decoded["tool_name"])
}

func TestTerminalUpdateTypes(t *testing.T) {
	assert.True(t, UpdateCompleted.IsTerminal())
	assert.True(t, UpdateError.IsTerminal())
	assert.False(t, UpdateToolCall.IsTerminal())
	assert.False(t, UpdateProgress.IsTerminal())
}

func TestCancelledUpdateIsTerminalCompletedVariant(t *testing.T) {
	u := NewCancelledUpdate("task-1")
	assert.Equal(t, UpdateCompleted, u.Type)
	assert.Equal(t, TaskCancelled, u.Status)
	assert.True(t, u.Type.IsTerminal())
}

func TestToolResultCarriesSuccessFlag(t *testing.T) {
	u := NewToolResultUpdate("task-1", "call-1", "READ_FILE", "content", false)
	require.NotNil(t, u.Success)
	assert.False(t, *u.Success)
}

func TestAgentRolesAreTwelve(t *testing.T) {
	roles := AgentRoles()
	assert.Len(t, roles, 12)
	for _, r := range roles {
		assert.True(t, IsValidRole(r))
	}
	assert.False(t, IsValidRole("gardener"))
}
