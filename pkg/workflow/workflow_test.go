package workflow

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentmesh/agentmesh/pkg/cache"
	"github.com/agentmesh/agentmesh/pkg/gateway"
	"github.com/agentmesh/agentmesh/pkg/protocol"
)

type scriptedLLM struct {
	replies []string
	calls   int
}

func (s *scriptedLLM) Generate(ctx context.Context, messages []protocol.Message, opts gateway.Options) (*gateway.Response, error) {
	s.calls++
	if len(s.replies) == 0 {
		return &gateway.Response{Text: "{}"}, nil
	}
	reply := s.replies[0]
	if len(s.replies) > 1 {
		s.replies = s.replies[1:]
	}
	return &gateway.Response{Text: reply}, nil
}

type funcDispatcher struct {
	fn func(ctx context.Context, state *protocol.WorkflowState, action string, params map[string]any) (*Outcome, error)
}

func (d *funcDispatcher) Dispatch(ctx context.Context, state *protocol.WorkflowState, action string, params map[string]any) (*Outcome, error) {
	return d.fn(ctx, state, action, params)
}

type memCheckpointer struct {
	mu    sync.Mutex
	saves int
	last  *protocol.WorkflowState
}

func (c *memCheckpointer) SaveState(threadID string, state *protocol.WorkflowState) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.saves++
	c.last = state.Clone()
	return nil
}

func seededState(task string) *protocol.WorkflowState {
	state := protocol.NewWorkflowState("task-1", "/tmp/ws")
	state.Messages = append(state.Messages, protocol.Message{
		Role: protocol.RoleUser, Content: task, Timestamp: time.Now().UTC(),
	})
	return state
}

func codingDef() Definition {
	return Definitions()[protocol.DomainCoding]
}

const completePlan = `{"steps":[{"action":"COMPLETE","parameters":{"result":"done"},"description":"finish"}],"success_criteria":"task answered"}`

func TestGreetingShortCircuit(t *testing.T) {
	llm := &scriptedLLM{}
	engine := New(codingDef(), Config{MaxIterations: 10}, llm, &funcDispatcher{
		fn: func(ctx context.Context, state *protocol.WorkflowState, action string, params map[string]any) (*Outcome, error) {
			t.Fatal("dispatcher must not run for a greeting")
			return nil, nil
		},
	})

	state := seededState("hello")
	require.NoError(t, engine.Run(context.Background(), state))

	assert.Equal(t, protocol.TaskCompleted, state.TaskStatus)
	assert.Equal(t, 0, state.Iteration)
	assert.Empty(t, state.ToolCalls)
	assert.Equal(t, 0, llm.calls, "greeting must not reach the LLM")
	assert.Contains(t, state.Result, "Hello")
	assert.False(t, state.ShouldContinue)
	assert.NotNil(t, state.EndTime)
}

func TestIsGreeting(t *testing.T) {
	tests := []struct {
		input string
		want  bool
	}{
		{"hello", true},
		{"Hi!", true},
		{"thanks", true},
		{"안녕하세요", true},
		{"고마워", true},
		{"ok", true},
		{"hello, can you fix my parser bug", false},
		{"hellothisislongerthan20chars", false},
		{"", false},
		{"refactor the module", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, isGreeting(tt.input), "input %q", tt.input)
	}
}

func TestCompleteActionTerminates(t *testing.T) {
	llm := &scriptedLLM{replies: []string{completePlan}}
	engine := New(codingDef(), Config{MaxIterations: 10}, llm, &funcDispatcher{
		fn: func(ctx context.Context, state *protocol.WorkflowState, action string, params map[string]any) (*Outcome, error) {
			require.Equal(t, "COMPLETE", action)
			return &Outcome{Kind: OutcomeComplete, Result: params["result"].(string)}, nil
		},
	})

	state := seededState("write the answer")
	require.NoError(t, engine.Run(context.Background(), state))

	assert.Equal(t, protocol.TaskCompleted, state.TaskStatus)
	assert.Equal(t, "done", state.Result)
	assert.False(t, state.ShouldContinue)
	assert.NotNil(t, state.EndTime)
}

func TestDeniedCommandRePlansUntilIterationCap(t *testing.T) {
	denyPlan := `{"steps":[{"action":"RUN_COMMAND","parameters":{"command":"rm -rf /tmp"}}]}`
	llm := &scriptedLLM{replies: []string{denyPlan}}

	var toolCalls int
	engine := New(codingDef(), Config{
		MaxIterations: 3,
		Complexity:    protocol.ComplexityComplex,
	}, llm, &funcDispatcher{
		fn: func(ctx context.Context, state *protocol.WorkflowState, action string, params map[string]any) (*Outcome, error) {
			toolCalls++
			return &Outcome{
				Kind: OutcomeTool,
				ToolCall: &protocol.ToolCall{
					ID:       "c1",
					ToolName: action,
					Success:  false,
					Error:    "denied_command: command matches a denylist entry",
				},
			}, nil
		},
	})

	state := seededState("delete the temp directory")
	require.NoError(t, engine.Run(context.Background(), state))

	assert.Equal(t, protocol.TaskFailed, state.TaskStatus)
	require.NotEmpty(t, state.Errors)
	assert.Contains(t, state.Errors[len(state.Errors)-1], "max iterations")
	assert.GreaterOrEqual(t, toolCalls, 1)
	require.NotEmpty(t, state.ToolCalls)
	assert.False(t, state.ToolCalls[0].Success)
	assert.Contains(t, state.ToolCalls[0].Error, "denied_command")
	assert.LessOrEqual(t, state.Iteration, 3)
}

func TestProgressDetectionSurvivesOptimizerTruncation(t *testing.T) {
	denyPlan := `{"steps":[{"action":"RUN_COMMAND","parameters":{"command":"rm -rf /tmp"}}]}`
	llm := &scriptedLLM{replies: []string{denyPlan}}

	// Tight caps pin len(Messages)/len(ToolCalls) after a few iterations.
	// The detector must keep seeing the fresh appends through the
	// cumulative counters, so this run ends at the iteration budget, not
	// with a spurious no-progress abandonment.
	engine := New(codingDef(), Config{
		MaxIterations:    10,
		NoProgressWindow: 2,
		Complexity:       protocol.ComplexityComplex,
	}, llm,
		&funcDispatcher{
			fn: func(ctx context.Context, state *protocol.WorkflowState, action string, params map[string]any) (*Outcome, error) {
				return &Outcome{
					Kind: OutcomeTool,
					ToolCall: &protocol.ToolCall{
						ID:       "c1",
						ToolName: action,
						Success:  false,
						Error:    "denied_command: command matches a denylist entry",
					},
				}, nil
			},
		},
		WithOptimizer(cache.NewOptimizer(2, 1, 0, nil)),
	)

	state := seededState("delete the temp directory")
	require.NoError(t, engine.Run(context.Background(), state))

	assert.Equal(t, protocol.TaskFailed, state.TaskStatus)
	require.NotEmpty(t, state.Errors)
	last := state.Errors[len(state.Errors)-1]
	assert.Contains(t, last, "max iterations")
	assert.NotContains(t, last, "no progress")
	assert.Equal(t, 10, state.Iteration)

	// The slices were truncated to the caps while the counters kept the
	// full append history.
	assert.LessOrEqual(t, len(state.Messages), 2)
	assert.LessOrEqual(t, len(state.ToolCalls), 1)
	assert.Greater(t, state.TotalToolCalls, len(state.ToolCalls))
	assert.Greater(t, state.TotalMessages, len(state.Messages))
}

func TestUnparseablePlanBecomesNoProgressFailure(t *testing.T) {
	llm := &scriptedLLM{replies: []string{"I refuse to answer in JSON"}}
	engine := New(codingDef(), Config{MaxIterations: 50, NoProgressWindow: 3}, llm, &funcDispatcher{
		fn: func(ctx context.Context, state *protocol.WorkflowState, action string, params map[string]any) (*Outcome, error) {
			t.Fatal("no step should dispatch without a plan")
			return nil, nil
		},
	})

	state := seededState("do something")
	require.NoError(t, engine.Run(context.Background(), state))

	assert.Equal(t, protocol.TaskFailed, state.TaskStatus)
	require.NotEmpty(t, state.Errors)
	assert.Contains(t, state.Errors[len(state.Errors)-1], "no progress")
}

func TestRecursionLimitHardStop(t *testing.T) {
	toolPlan := `{"steps":[{"action":"READ_FILE","parameters":{"path":"a.go"}}]}`
	llm := &scriptedLLM{replies: []string{toolPlan}}
	engine := New(codingDef(), Config{MaxIterations: 1000, RecursionLimit: 5}, llm, &funcDispatcher{
		fn: func(ctx context.Context, state *protocol.WorkflowState, action string, params map[string]any) (*Outcome, error) {
			return &Outcome{
				Kind:     OutcomeTool,
				ToolCall: &protocol.ToolCall{ID: "c", ToolName: action, Success: false, Error: "flaky"},
			}, nil
		},
	})

	state := seededState("loop forever")
	require.NoError(t, engine.Run(context.Background(), state))

	assert.Equal(t, protocol.TaskFailed, state.TaskStatus)
	require.NotEmpty(t, state.Errors)
	assert.Contains(t, state.Errors[len(state.Errors)-1], "recursion limit")
}

func TestSimpleComplexityBestEffortCap(t *testing.T) {
	toolPlan := `{"steps":[{"action":"READ_FILE","parameters":{"path":"a.go"}}]}`
	llm := &scriptedLLM{replies: []string{toolPlan}}
	engine := New(codingDef(), Config{
		MaxIterations: 25,
		Complexity:    protocol.ComplexitySimple,
	}, llm, &funcDispatcher{
		fn: func(ctx context.Context, state *protocol.WorkflowState, action string, params map[string]any) (*Outcome, error) {
			return &Outcome{
				Kind:     OutcomeTool,
				ToolCall: &protocol.ToolCall{ID: "c", ToolName: action, Success: false, Error: "not found"},
				Result:   "partial",
			}, nil
		},
	})

	state := seededState("try to read the file")
	require.NoError(t, engine.Run(context.Background(), state))

	assert.Equal(t, protocol.TaskCompleted, state.TaskStatus)
	assert.Contains(t, state.Result, "Best effort")
	assert.Equal(t, simpleIterationCap, state.Iteration)
}

func TestSensitiveStepRejected(t *testing.T) {
	sensitivePlan := `{"steps":[{"action":"WRITE_FILE","parameters":{"path":"/etc/hosts"},"sensitive":true}]}`
	llm := &scriptedLLM{replies: []string{sensitivePlan}}
	engine := New(codingDef(), Config{MaxIterations: 10}, llm,
		&funcDispatcher{
			fn: func(ctx context.Context, state *protocol.WorkflowState, action string, params map[string]any) (*Outcome, error) {
				t.Fatal("rejected step must not dispatch")
				return nil, nil
			},
		},
		WithApproval(func(ctx context.Context, state *protocol.WorkflowState) (protocol.ApprovalStatus, error) {
			return protocol.ApprovalRejected, nil
		}),
	)

	state := seededState("overwrite the hosts file")
	require.NoError(t, engine.Run(context.Background(), state))

	assert.Equal(t, protocol.TaskFailed, state.TaskStatus)
	assert.Equal(t, protocol.ApprovalRejected, state.ApprovalStatus)
	require.NotEmpty(t, state.Errors)
	assert.Contains(t, state.Errors[0], "rejected")
}

func TestSensitiveStepApprovedExecutes(t *testing.T) {
	sensitivePlan := `{"steps":[{"action":"WRITE_FILE","parameters":{"path":"notes.md"},"sensitive":true},{"action":"COMPLETE","parameters":{"result":"written"}}]}`
	llm := &scriptedLLM{replies: []string{sensitivePlan}}

	var dispatched []string
	engine := New(codingDef(), Config{MaxIterations: 10}, llm,
		&funcDispatcher{
			fn: func(ctx context.Context, state *protocol.WorkflowState, action string, params map[string]any) (*Outcome, error) {
				dispatched = append(dispatched, action)
				if action == "COMPLETE" {
					return &Outcome{Kind: OutcomeComplete, Result: "written"}, nil
				}
				return &Outcome{
					Kind:     OutcomeTool,
					ToolCall: &protocol.ToolCall{ID: "c1", ToolName: action, Success: true},
					Result:   "ok",
				}, nil
			},
		},
		WithApproval(func(ctx context.Context, state *protocol.WorkflowState) (protocol.ApprovalStatus, error) {
			return protocol.ApprovalApproved, nil
		}),
	)

	state := seededState("write my notes")
	require.NoError(t, engine.Run(context.Background(), state))

	assert.Equal(t, protocol.TaskCompleted, state.TaskStatus)
	assert.Equal(t, protocol.ApprovalApproved, state.ApprovalStatus)
	assert.Equal(t, []string{"WRITE_FILE", "COMPLETE"}, dispatched)
}

func TestCancellationEmitsTerminalCancelled(t *testing.T) {
	toolPlan := `{"steps":[{"action":"READ_FILE","parameters":{"path":"a.go"}}]}`
	llm := &scriptedLLM{replies: []string{toolPlan}}
	ctx, cancel := context.WithCancel(context.Background())

	engine := New(codingDef(), Config{MaxIterations: 100}, llm, &funcDispatcher{
		fn: func(c context.Context, state *protocol.WorkflowState, action string, params map[string]any) (*Outcome, error) {
			cancel()
			return &Outcome{
				Kind:     OutcomeTool,
				ToolCall: &protocol.ToolCall{ID: "c", ToolName: action, Success: true},
			}, nil
		},
	})

	state := seededState("long running work")
	require.NoError(t, engine.Run(ctx, state))

	assert.Equal(t, protocol.TaskCancelled, state.TaskStatus)
	assert.False(t, state.ShouldContinue)
	assert.NotNil(t, state.EndTime)
}

func TestCheckpointEveryTransition(t *testing.T) {
	llm := &scriptedLLM{replies: []string{completePlan}}
	ckpt := &memCheckpointer{}
	engine := New(codingDef(), Config{MaxIterations: 10, ThreadID: "thread-1"}, llm,
		&funcDispatcher{
			fn: func(ctx context.Context, state *protocol.WorkflowState, action string, params map[string]any) (*Outcome, error) {
				return &Outcome{Kind: OutcomeComplete, Result: "done"}, nil
			},
		},
		WithCheckpointer(ckpt),
	)

	state := seededState("finish quickly")
	require.NoError(t, engine.Run(context.Background(), state))

	// plan + execute transitions plus the final save.
	assert.GreaterOrEqual(t, ckpt.saves, 2)
	require.NotNil(t, ckpt.last)
	assert.Equal(t, protocol.TaskCompleted, ckpt.last.TaskStatus)
}

func TestIterationCapPerComplexity(t *testing.T) {
	cfg := Config{MaxIterations: 25}
	cfg.SetDefaults()

	cfg.Complexity = protocol.ComplexitySimple
	assert.Equal(t, 10, cfg.iterationCap())

	cfg.Complexity = protocol.ComplexityComplex
	assert.Equal(t, 25, cfg.iterationCap())

	cfg.Complexity = protocol.ComplexityCritical
	assert.Equal(t, 25, cfg.iterationCap())
}

func TestPlanParseNormalizesActions(t *testing.T) {
	plan, err := parsePlan("Here is the plan:\n```json\n{\"steps\":[{\"action\":\"read_file\",\"parameters\":{\"path\":\"a\"}}]}\n```")
	require.NoError(t, err)
	require.Len(t, plan.Steps, 1)
	assert.Equal(t, "READ_FILE", plan.Steps[0].Action)

	_, err = parsePlan(`{"steps":[]}`)
	assert.Error(t, err)
	_, err = parsePlan("no json here")
	assert.Error(t, err)
}

func TestPlanFromContextAfterRoundTrip(t *testing.T) {
	state := protocol.NewWorkflowState("t", "/ws")
	state.Context[planContextKey] = &Plan{Steps: []PlanStep{{Action: "READ_FILE"}}}

	data, err := state.Serialize()
	require.NoError(t, err)
	restored, err := protocol.Deserialize(data)
	require.NoError(t, err)

	plan, err := planFromContext(restored.Context)
	require.NoError(t, err)
	require.Len(t, plan.Steps, 1)
	assert.Equal(t, "READ_FILE", plan.Steps[0].Action)
}
