package subagent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/invopop/jsonschema"
	"golang.org/x/sync/semaphore"

	"github.com/agentmesh/agentmesh/pkg/gateway"
	"github.com/agentmesh/agentmesh/pkg/observability"
	"github.com/agentmesh/agentmesh/pkg/protocol"
)

// LLM is the generate contract the manager needs for decomposition and
// summarize-style aggregation.
type LLM interface {
	Generate(ctx context.Context, messages []protocol.Message, opts gateway.Options) (*gateway.Response, error)
}

// ChildRunner executes one subtask as a child workflow: parent policy,
// role-scoped tool allowlist, isolated state, shorter iteration cap.
type ChildRunner interface {
	RunChild(ctx context.Context, subtask Subtask, allowlist []string, parentContext map[string]any) (string, error)
}

// Manager owns decomposition, bounded fan-out, and aggregation.
type Manager struct {
	llm         LLM
	runner      ChildRunner
	maxParallel int64
	timeout     time.Duration
	strategy    AggregationStrategy
	allowlists  map[protocol.AgentRole][]string
	sem         *semaphore.Weighted
	obs         *observability.Observability
	logger      *slog.Logger
	emit        func(protocol.Update)

	mu        sync.Mutex
	succeeded int64
	failed    int64
}

// Option configures a Manager.
type Option func(*Manager)

// WithTimeout bounds each subtask at the manager level.
func WithTimeout(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.timeout = d
		}
	}
}

// WithStrategy sets the aggregation strategy.
func WithStrategy(s AggregationStrategy) Option {
	return func(m *Manager) { m.strategy = s }
}

// WithAllowlists overrides the per-role tool allowlists.
func WithAllowlists(a map[protocol.AgentRole][]string) Option {
	return func(m *Manager) {
		if a != nil {
			m.allowlists = a
		}
	}
}

// WithObservability attaches the observability sinks.
func WithObservability(o *observability.Observability) Option {
	return func(m *Manager) { m.obs = o }
}

// WithEmitter sets the update callback for spawn/result events.
func WithEmitter(emit func(protocol.Update)) Option {
	return func(m *Manager) { m.emit = emit }
}

// New creates a manager with the given fan-out cap.
func New(llm LLM, runner ChildRunner, maxParallel int, opts ...Option) *Manager {
	if maxParallel <= 0 {
		maxParallel = 2
	}
	m := &Manager{
		llm:         llm,
		runner:      runner,
		maxParallel: int64(maxParallel),
		timeout:     5 * time.Minute,
		strategy:    AggregateConcatenate,
		allowlists:  DefaultRoleAllowlists(),
		sem:         semaphore.NewWeighted(int64(maxParallel)),
		logger:      slog.Default().With("component", "subagent"),
		emit:        func(protocol.Update) {},
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

var decompositionSchema = func() string {
	reflector := jsonschema.Reflector{DoNotReference: true}
	schema := reflector.Reflect(&Decomposition{})
	data, err := json.Marshal(schema)
	if err != nil {
		return ""
	}
	return string(data)
}()

const decomposeInstruction = `Decide whether the task below should be split into subtasks for specialized agents. Respond with a single JSON object and nothing else, matching this schema:

%s

Agent types: %s.
Use depends_on only for hard ordering requirements; independent subtasks run in parallel.

Task: %s`

// Decompose asks the LLM how to split the task. Any failure degrades to a
// single-subtask decomposition instead of an error.
func (m *Manager) Decompose(ctx context.Context, task string) *Decomposition {
	roles := make([]string, 0, len(protocol.AgentRoles()))
	for _, r := range protocol.AgentRoles() {
		roles = append(roles, string(r))
	}

	resp, err := m.llm.Generate(ctx, []protocol.Message{{
		Role:    protocol.RoleUser,
		Content: fmt.Sprintf(decomposeInstruction, decompositionSchema, strings.Join(roles, ", "), task),
	}}, gateway.Options{MaxTokens: 1024})
	if err != nil {
		m.logger.Warn("decomposition LLM call failed, executing as single subtask", "error", err)
		return singleSubtask(task)
	}

	var dec Decomposition
	if err := json.Unmarshal([]byte(extractJSON(resp.Text)), &dec); err != nil {
		m.logger.Warn("unparseable decomposition, executing as single subtask", "error", err)
		return singleSubtask(task)
	}
	if !dec.RequiresDecomposition || len(dec.Subtasks) == 0 {
		return singleSubtask(task)
	}
	for i := range dec.Subtasks {
		if dec.Subtasks[i].ID == "" {
			dec.Subtasks[i].ID = fmt.Sprintf("st-%d", i+1)
		}
		if !protocol.IsValidRole(dec.Subtasks[i].AgentType) {
			dec.Subtasks[i].AgentType = protocol.RoleGeneralWorker
		}
	}
	return &dec
}

func singleSubtask(task string) *Decomposition {
	return &Decomposition{
		Complexity:            protocol.ComplexitySimple,
		RequiresDecomposition: false,
		Subtasks: []Subtask{{
			ID:          "st-1",
			Description: task,
			AgentType:   protocol.RoleGeneralWorker,
		}},
		ExecutionStrategy: "sequential",
	}
}

// ExecuteWithSubAgents decomposes the task, runs the subtasks in
// dependency-ordered batches under the fan-out cap, and aggregates. The
// returned error is non-nil only for context cancellation; every domain
// failure lands inside Aggregated.
func (m *Manager) ExecuteWithSubAgents(ctx context.Context, task string, parentContext map[string]any) (*Aggregated, error) {
	start := time.Now()
	dec := m.Decompose(ctx, task)

	batches, err := topoBatches(dec.Subtasks)
	if err != nil {
		m.logger.Warn("decomposition has a dependency fault, falling back to sequential order", "error", err)
		batches = sequentialBatches(dec.Subtasks)
	}

	resultsByID := make(map[string]SubtaskResult, len(dec.Subtasks))
	var resultsMu sync.Mutex

	for _, batch := range batches {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		var wg sync.WaitGroup
		for _, st := range batch {
			wg.Add(1)
			go func(st Subtask) {
				defer wg.Done()
				res := m.runSubtask(ctx, st, parentContext)
				resultsMu.Lock()
				resultsByID[st.ID] = res
				resultsMu.Unlock()
			}(st)
		}
		wg.Wait()
	}

	ordered := make([]SubtaskResult, 0, len(dec.Subtasks))
	for _, st := range dec.Subtasks {
		ordered = append(ordered, resultsByID[st.ID])
	}

	agg := m.aggregate(ctx, ordered)
	agg.TotalDuration = time.Since(start)

	m.mu.Lock()
	m.succeeded += int64(agg.Succeeded)
	m.failed += int64(agg.Failed)
	m.mu.Unlock()

	if m.obs != nil && m.obs.Metrics != nil {
		m.obs.Metrics.Count("subagent_subtasks", float64(agg.Succeeded), map[string]string{"outcome": "success"})
		m.obs.Metrics.Count("subagent_subtasks", float64(agg.Failed), map[string]string{"outcome": "failure"})
		m.obs.Metrics.Time("subagent_fanout_duration", agg.TotalDuration, nil)
	}
	return agg, nil
}

// runSubtask executes one child under the semaphore. A sibling's failure
// never cancels this child; only the parent context does.
func (m *Manager) runSubtask(ctx context.Context, st Subtask, parentContext map[string]any) SubtaskResult {
	res := SubtaskResult{
		Subtask: st,
		AgentID: uuid.NewString(),
		Status:  protocol.SubAgentFailed,
	}

	if err := m.sem.Acquire(ctx, 1); err != nil {
		res.Error = fmt.Sprintf("cancelled before start: %v", err)
		return res
	}
	defer m.sem.Release(1)

	m.emit(protocol.NewSubAgentSpawnedUpdate("", res.AgentID, st.AgentType, st.Description))
	start := time.Now()

	childCtx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	allowlist := m.allowlists[st.AgentType]
	output, err := m.runner.RunChild(childCtx, st, allowlist, parentContext)
	res.Duration = time.Since(start)

	if err != nil {
		if childCtx.Err() == context.DeadlineExceeded {
			res.Error = fmt.Sprintf("subtask timed out after %s", m.timeout)
		} else {
			res.Error = err.Error()
		}
	} else {
		res.Status = protocol.SubAgentCompleted
		res.Result = output
	}

	success := res.Status == protocol.SubAgentCompleted
	m.emit(protocol.NewSubAgentResultUpdate("", res.AgentID, st.AgentType, res.Result, success))
	return res
}

// aggregate combines child outputs per the configured strategy. It never
// returns an error: empty or all-failed runs yield success=false with an
// explanatory summary.
func (m *Manager) aggregate(ctx context.Context, results []SubtaskResult) *Aggregated {
	agg := &Aggregated{Results: results}
	var outputs []string
	for _, r := range results {
		if r.Status == protocol.SubAgentCompleted {
			agg.Succeeded++
			if r.Result != "" {
				outputs = append(outputs, r.Result)
			}
		} else {
			agg.Failed++
		}
	}

	if len(outputs) == 0 {
		agg.Summary = fmt.Sprintf("no sub-agent produced a result (%d failed)", agg.Failed)
		return agg
	}
	agg.Success = agg.Failed == 0

	switch m.strategy {
	case AggregateList:
		data, err := json.Marshal(outputs)
		if err == nil {
			agg.CombinedResult = string(data)
		} else {
			agg.CombinedResult = strings.Join(outputs, "\n")
		}
	case AggregateSummarize:
		agg.CombinedResult = m.summarize(ctx, outputs)
	default:
		agg.CombinedResult = strings.Join(outputs, "\n\n---\n\n")
	}

	agg.Summary = fmt.Sprintf("%d of %d sub-agents completed", agg.Succeeded, len(results))
	return agg
}

// summarize folds child outputs into one coherent answer with an extra LLM
// call, degrading to concatenation on failure.
func (m *Manager) summarize(ctx context.Context, outputs []string) string {
	prompt := "Combine the following partial results into one coherent answer:\n\n" +
		strings.Join(outputs, "\n\n---\n\n")
	resp, err := m.llm.Generate(ctx, []protocol.Message{{
		Role: protocol.RoleUser, Content: prompt,
	}}, gateway.Options{})
	if err != nil {
		m.logger.Warn("summarize aggregation failed, concatenating instead", "error", err)
		return strings.Join(outputs, "\n\n---\n\n")
	}
	return resp.Text
}

// Counters returns the lifetime success and failure totals.
func (m *Manager) Counters() (succeeded, failed int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.succeeded, m.failed
}

func extractJSON(text string) string {
	text = strings.TrimSpace(text)
	if start := strings.Index(text, "{"); start >= 0 {
		if end := strings.LastIndex(text, "}"); end > start {
			return text[start : end+1]
		}
	}
	return text
}
