package orchestrator

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentmesh/agentmesh/pkg/protocol"
	"github.com/agentmesh/agentmesh/pkg/safety"
	"github.com/agentmesh/agentmesh/pkg/tools"
	"github.com/agentmesh/agentmesh/pkg/workflow"
)

type stubTool struct {
	info  ToolInfoStub
	calls int
	fn    func(ctx context.Context, args map[string]any) (tools.ToolResult, error)
}

// ToolInfoStub avoids repeating the full ToolInfo literal in every test.
type ToolInfoStub struct {
	Name   string
	Params []tools.ToolParameter
}

func (s *stubTool) GetInfo() tools.ToolInfo {
	return tools.ToolInfo{Name: s.info.Name, Parameters: s.info.Params}
}
func (s *stubTool) GetName() string        { return s.info.Name }
func (s *stubTool) GetDescription() string { return s.info.Name }
func (s *stubTool) Execute(ctx context.Context, args map[string]any) (tools.ToolResult, error) {
	s.calls++
	if s.fn != nil {
		return s.fn(ctx, args)
	}
	return tools.ToolResult{Success: true, Content: "ok"}, nil
}

func testRegistry(t *testing.T, ts ...*stubTool) *tools.Registry {
	t.Helper()
	r := tools.NewRegistry()
	for _, tool := range ts {
		require.NoError(t, r.Register(tool))
	}
	return r
}

func testState() *protocol.WorkflowState {
	return protocol.NewWorkflowState("task-1", "/tmp/ws")
}

func TestDispatchComplete(t *testing.T) {
	d := NewDispatcher(testRegistry(t), nil)

	out, err := d.Dispatch(context.Background(), testState(), "complete",
		map[string]any{"result": "final answer"})
	require.NoError(t, err)
	assert.Equal(t, workflow.OutcomeComplete, out.Kind)
	assert.Equal(t, "final answer", out.Result)
}

func TestDispatchUnknownActionIsErrorOutcome(t *testing.T) {
	d := NewDispatcher(testRegistry(t, &stubTool{info: ToolInfoStub{Name: "READ_FILE"}}), nil)

	out, err := d.Dispatch(context.Background(), testState(), "LAUNCH_ROCKET", nil)
	require.NoError(t, err, "unknown actions are step-level, never task-level")
	assert.Equal(t, workflow.OutcomeError, out.Kind)
	assert.Contains(t, out.Error, "LAUNCH_ROCKET")
	assert.Contains(t, out.Error, "READ_FILE")
}

func TestDispatchParameterMismatchIsErrorOutcome(t *testing.T) {
	tool := &stubTool{info: ToolInfoStub{
		Name:   "READ_FILE",
		Params: []tools.ToolParameter{{Name: "path", Type: "string", Required: true}},
	}}
	d := NewDispatcher(testRegistry(t, tool), nil)

	out, err := d.Dispatch(context.Background(), testState(), "READ_FILE", map[string]any{})
	require.NoError(t, err)
	assert.Equal(t, workflow.OutcomeError, out.Kind)
	assert.Contains(t, out.Error, "path")
	assert.Zero(t, tool.calls, "invalid calls must not reach the tool")
}

func TestDispatchDeniedCommandRecordsFailedToolCall(t *testing.T) {
	tool := &stubTool{info: ToolInfoStub{Name: "RUN_COMMAND"}}
	policy := safety.NewPolicy(safety.Config{
		Enabled:        true,
		DeniedCommands: []string{"rm -rf /"},
	})
	d := NewDispatcher(testRegistry(t, tool), policy)

	out, err := d.Dispatch(context.Background(), testState(), "RUN_COMMAND",
		map[string]any{"command": "rm -rf /tmp"})
	require.NoError(t, err)
	assert.Equal(t, workflow.OutcomeTool, out.Kind)
	require.NotNil(t, out.ToolCall)
	assert.False(t, out.ToolCall.Success)
	assert.Contains(t, out.ToolCall.Error, "denied_command")
	assert.Zero(t, tool.calls, "denied commands must not execute")
}

func TestDispatchProtectedWriteBlocked(t *testing.T) {
	tool := &stubTool{info: ToolInfoStub{Name: "WRITE_FILE"}}
	policy := safety.NewPolicy(safety.Config{
		Enabled:        true,
		ProtectedFiles: []string{"/etc"},
	})
	d := NewDispatcher(testRegistry(t, tool), policy)

	out, err := d.Dispatch(context.Background(), testState(), "WRITE_FILE",
		map[string]any{"path": "/etc/hosts"})
	require.NoError(t, err)
	assert.Equal(t, workflow.OutcomeTool, out.Kind)
	require.NotNil(t, out.ToolCall)
	assert.False(t, out.ToolCall.Success)
	assert.Zero(t, tool.calls)
}

func TestDispatchAllowlistRestriction(t *testing.T) {
	tool := &stubTool{info: ToolInfoStub{Name: "RUN_COMMAND"}}
	d := NewDispatcher(testRegistry(t, tool), nil,
		WithAllowlist([]string{"READ_FILE"}))

	out, err := d.Dispatch(context.Background(), testState(), "RUN_COMMAND", nil)
	require.NoError(t, err)
	assert.Equal(t, workflow.OutcomeError, out.Kind)
	assert.Contains(t, out.Error, "not allowed")

	// Terminals bypass the allowlist.
	out, err = d.Dispatch(context.Background(), testState(), "COMPLETE",
		map[string]any{"result": "done"})
	require.NoError(t, err)
	assert.Equal(t, workflow.OutcomeComplete, out.Kind)
}

func TestDispatchEmitsPairedToolUpdates(t *testing.T) {
	tool := &stubTool{info: ToolInfoStub{Name: "ECHO"}}
	var updates []protocol.Update
	d := NewDispatcher(testRegistry(t, tool), nil,
		WithDispatchEmitter(func(u protocol.Update) { updates = append(updates, u) }))

	out, err := d.Dispatch(context.Background(), testState(), "ECHO",
		map[string]any{"text": "hi"})
	require.NoError(t, err)
	assert.Equal(t, workflow.OutcomeTool, out.Kind)
	require.NotNil(t, out.ToolCall)
	assert.True(t, out.ToolCall.Success)

	require.Len(t, updates, 2)
	assert.Equal(t, protocol.UpdateToolCall, updates[0].Type)
	assert.Equal(t, protocol.UpdateToolResult, updates[1].Type)
	assert.Equal(t, updates[0].CallID, updates[1].CallID)
	assert.NotEmpty(t, updates[0].CallID)
}

func TestDispatchDelegateWithoutManager(t *testing.T) {
	d := NewDispatcher(testRegistry(t), nil)

	out, err := d.Dispatch(context.Background(), testState(), "DELEGATE_TO_SUB_AGENT",
		map[string]any{"task": "split me"})
	require.NoError(t, err)
	assert.Equal(t, workflow.OutcomeError, out.Kind)
	assert.Contains(t, out.Error, "not available")
}

func TestDispatchToolErrorBecomesFailedResult(t *testing.T) {
	tool := &stubTool{
		info: ToolInfoStub{Name: "FLAKY"},
		fn: func(ctx context.Context, args map[string]any) (tools.ToolResult, error) {
			return tools.ToolResult{}, assert.AnError
		},
	}
	d := NewDispatcher(testRegistry(t, tool), nil)

	out, err := d.Dispatch(context.Background(), testState(), "FLAKY", nil)
	require.NoError(t, err, "tool faults are step-level failures")
	assert.Equal(t, workflow.OutcomeTool, out.Kind)
	require.NotNil(t, out.ToolCall)
	assert.False(t, out.ToolCall.Success)
	assert.Contains(t, out.ToolCall.Error, assert.AnError.Error())
}
