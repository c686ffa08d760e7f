package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentmesh/agentmesh/pkg/config"
	"github.com/agentmesh/agentmesh/pkg/gateway"
	"github.com/agentmesh/agentmesh/pkg/protocol"
	"github.com/agentmesh/agentmesh/pkg/safety"
	"github.com/agentmesh/agentmesh/pkg/session"
)

// routedLLM answers by prompt content: classification requests get the
// configured classification, planning requests consume the plan queue.
type routedLLM struct {
	mu             sync.Mutex
	classification string
	plans          []string
	calls          int
	block          bool
}

func (l *routedLLM) Generate(ctx context.Context, messages []protocol.Message, opts gateway.Options) (*gateway.Response, error) {
	l.mu.Lock()
	l.calls++
	block := l.block
	l.mu.Unlock()

	if block {
		<-ctx.Done()
		return nil, ctx.Err()
	}

	prompt := messages[len(messages)-1].Content
	switch {
	case strings.Contains(prompt, "Classify the user task"):
		return &gateway.Response{Text: l.classification}, nil
	case strings.Contains(prompt, "Produce a plan"):
		l.mu.Lock()
		defer l.mu.Unlock()
		if len(l.plans) == 0 {
			return &gateway.Response{Text: "{}"}, nil
		}
		plan := l.plans[0]
		if len(l.plans) > 1 {
			l.plans = l.plans[1:]
		}
		return &gateway.Response{Text: plan}, nil
	default:
		return &gateway.Response{Text: "{}"}, nil
	}
}

func (l *routedLLM) callCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.calls
}

type memStore struct {
	mu   sync.Mutex
	data map[string][]byte
}

func newMemStore() *memStore {
	return &memStore{data: make(map[string][]byte)}
}

func (s *memStore) Save(threadID string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[threadID] = append([]byte(nil), data...)
	return nil
}

func (s *memStore) Load(threadID string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.data[threadID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", session.ErrNoCheckpoint, threadID)
	}
	return data, nil
}

func (s *memStore) Has(threadID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.data[threadID]
	return ok, nil
}

func (s *memStore) Delete(threadID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, threadID)
	return nil
}

func (s *memStore) Close() error { return nil }

const codingClassification = `{"domain":"coding","confidence":0.95,"complexity":"complex","requires_sub_agents":false,"reasoning":"code work"}`

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := &config.Config{}
	cfg.LLM.Endpoints = []config.EndpointConfig{{Name: "primary", URL: "http://127.0.0.1:1"}}
	cfg.Workspace.Root = t.TempDir()
	cfg.SetDefaults()
	return cfg
}

func newTestOrchestrator(t *testing.T, cfg *config.Config, llm LLM) *Orchestrator {
	t.Helper()
	o, err := New(cfg, WithLLM(llm), WithStore(newMemStore()))
	require.NoError(t, err)
	return o
}

func collect(t *testing.T, updates <-chan protocol.Update) []protocol.Update {
	t.Helper()
	var out []protocol.Update
	deadline := time.After(10 * time.Second)
	for {
		select {
		case u, ok := <-updates:
			if !ok {
				return out
			}
			out = append(out, u)
		case <-deadline:
			t.Fatalf("update stream did not close; got %d updates", len(out))
		}
	}
}

func TestGreetingEndToEnd(t *testing.T) {
	llm := &routedLLM{}
	o := newTestOrchestrator(t, testConfig(t), llm)

	updates, err := o.ExecuteTask(context.Background(), "hello", TaskOptions{})
	require.NoError(t, err)
	got := collect(t, updates)

	require.NotEmpty(t, got)
	last := got[len(got)-1]
	assert.Equal(t, protocol.UpdateCompleted, last.Type)
	assert.Equal(t, protocol.TaskCompleted, last.Status)
	assert.Contains(t, last.Result, "Hello")

	for _, u := range got {
		assert.NotEqual(t, protocol.UpdateToolCall, u.Type, "greeting must not invoke tools")
	}
	assert.Zero(t, llm.callCount(), "greeting must bypass classification and planning")
}

func TestDenylistedCommandFailsAtIterationCap(t *testing.T) {
	cfg := testConfig(t)
	cfg.Workflows.MaxIterations = 3
	cfg.Tools.Safety = safety.Config{
		Enabled:        true,
		DeniedCommands: []string{"rm -rf /"},
	}

	llm := &routedLLM{
		classification: codingClassification,
		plans:          []string{`{"steps":[{"action":"RUN_COMMAND","parameters":{"command":"rm -rf /tmp"}}]}`},
	}
	o := newTestOrchestrator(t, cfg, llm)

	tool := &stubTool{info: ToolInfoStub{Name: "RUN_COMMAND"}}
	require.NoError(t, o.Tools().Register(tool))

	updates, err := o.ExecuteTask(context.Background(), "wipe the temp directory", TaskOptions{})
	require.NoError(t, err)
	got := collect(t, updates)

	require.NotEmpty(t, got)
	last := got[len(got)-1]
	assert.Equal(t, protocol.UpdateError, last.Type)
	assert.Contains(t, last.Content, "max iterations")
	assert.Zero(t, tool.calls, "denied command must never reach the tool")
}

func TestToolUpdatesArePairedAndCompletedIsLast(t *testing.T) {
	cfg := testConfig(t)
	llm := &routedLLM{
		classification: codingClassification,
		plans: []string{`{"steps":[
			{"action":"READ_FILE","parameters":{"path":"main.go"}},
			{"action":"COMPLETE","parameters":{"result":"all done"}}
		]}`},
	}
	o := newTestOrchestrator(t, cfg, llm)
	require.NoError(t, o.Tools().Register(&stubTool{info: ToolInfoStub{Name: "READ_FILE"}}))

	updates, err := o.ExecuteTask(context.Background(), "echo something for me", TaskOptions{})
	require.NoError(t, err)
	got := collect(t, updates)

	require.NotEmpty(t, got)
	last := got[len(got)-1]
	assert.Equal(t, protocol.UpdateCompleted, last.Type)
	assert.Equal(t, "all done", last.Result)

	callIdx, resultIdx := -1, -1
	var callID string
	for i, u := range got {
		switch u.Type {
		case protocol.UpdateToolCall:
			callIdx = i
			callID = u.CallID
		case protocol.UpdateToolResult:
			resultIdx = i
			assert.Equal(t, callID, u.CallID, "tool_result pairs with its tool_call")
		}
		assert.Equal(t, last.TaskID, u.TaskID, "all updates carry the task id")
	}
	require.GreaterOrEqual(t, callIdx, 0)
	require.Greater(t, resultIdx, callIdx, "tool_call precedes tool_result")
}

func TestResumeContinuesCheckpointedThread(t *testing.T) {
	cfg := testConfig(t)
	llm := &routedLLM{
		plans: []string{`{"steps":[{"action":"COMPLETE","parameters":{"result":"picked up where we left off"}}]}`},
	}
	o := newTestOrchestrator(t, cfg, llm)

	state := protocol.NewWorkflowState("task-orig", cfg.Workspace.Root)
	state.Messages = []protocol.Message{{
		Role: protocol.RoleUser, Content: "continue the refactor", Timestamp: time.Now().UTC(),
	}}
	state.TaskStatus = protocol.TaskInProgress
	state.Iteration = 3
	state.Context["domain"] = "general"
	require.NoError(t, o.Sessions().SaveState("thread-7", state))

	assert.True(t, o.Sessions().HasCheckpoint("thread-7"))
	loaded, err := o.Sessions().LoadState("thread-7")
	require.NoError(t, err)
	assert.Equal(t, 3, loaded.Iteration)

	updates, err := o.ResumeTask(context.Background(), "thread-7")
	require.NoError(t, err)
	got := collect(t, updates)

	require.NotEmpty(t, got)
	last := got[len(got)-1]
	assert.Equal(t, protocol.UpdateCompleted, last.Type)
	assert.Equal(t, "task-orig", last.TaskID, "resume keeps the original task id")
	assert.Equal(t, "picked up where we left off", last.Result)
}

func TestResumeRejectsUnknownThread(t *testing.T) {
	o := newTestOrchestrator(t, testConfig(t), &routedLLM{})

	_, err := o.ResumeTask(context.Background(), "no-such-thread")
	assert.Error(t, err)
}

func TestCancellationEmitsTerminalCancelled(t *testing.T) {
	cfg := testConfig(t)
	llm := &routedLLM{block: true}
	o := newTestOrchestrator(t, cfg, llm)

	ctx, cancel := context.WithCancel(context.Background())
	updates, err := o.ExecuteTask(ctx, "do a long piece of work", TaskOptions{Domain: protocol.DomainGeneral})
	require.NoError(t, err)

	first := <-updates
	assert.Equal(t, protocol.UpdateStatus, first.Type)
	cancel()

	got := collect(t, updates)
	require.NotEmpty(t, got)
	last := got[len(got)-1]
	assert.Equal(t, protocol.TaskCancelled, last.Status)
}

func TestEmptyDescriptionRejected(t *testing.T) {
	o := newTestOrchestrator(t, testConfig(t), &routedLLM{})

	_, err := o.ExecuteTask(context.Background(), "", TaskOptions{})
	assert.Error(t, err)
}

func TestExitCode(t *testing.T) {
	assert.Equal(t, 0, ExitCode(protocol.TaskCompleted))
	assert.Equal(t, 1, ExitCode(protocol.TaskFailed))
	assert.Equal(t, 2, ExitCode(protocol.TaskCancelled))
}
