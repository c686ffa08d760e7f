package observability

import (
	"sync"
	"time"
)

// ToolInvocation records one tool execution from start to end.
type ToolInvocation struct {
	CallID     string         `json:"call_id"`
	ToolName   string         `json:"tool_name"`
	Parameters map[string]any `json:"parameters,omitempty"`
	Result     string         `json:"result,omitempty"`
	Success    bool           `json:"success"`
	StartedAt  time.Time      `json:"started_at"`
	EndedAt    time.Time      `json:"ended_at,omitempty"`
	Duration   time.Duration  `json:"duration"`
}

// ToolStats aggregates tool invocations for one tool name.
type ToolStats struct {
	Calls       int           `json:"calls"`
	Successes   int           `json:"successes"`
	SuccessRate float64       `json:"success_rate"`
	TotalTime   time.Duration `json:"total_time"`
	MeanTime    time.Duration `json:"mean_time"`
}

// ToolLogger records tool invocations with start/end variants.
type ToolLogger struct {
	mu       sync.RWMutex
	open     map[string]*ToolInvocation
	finished []ToolInvocation
}

// NewToolLogger creates an empty logger.
func NewToolLogger() *ToolLogger {
	return &ToolLogger{open: make(map[string]*ToolInvocation)}
}

// Start records the beginning of a tool invocation.
func (l *ToolLogger) Start(callID, toolName string, params map[string]any) {
	if l == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.open[callID] = &ToolInvocation{
		CallID:     callID,
		ToolName:   toolName,
		Parameters: params,
		StartedAt:  time.Now().UTC(),
	}
}

// End completes an invocation started with Start. Unknown call ids are
// recorded standalone so a missed Start never loses the outcome.
func (l *ToolLogger) End(callID, result string, success bool) {
	if l == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	inv, ok := l.open[callID]
	if !ok {
		inv = &ToolInvocation{CallID: callID, StartedAt: time.Now().UTC()}
	}
	delete(l.open, callID)

	inv.Result = result
	inv.Success = success
	inv.EndedAt = time.Now().UTC()
	inv.Duration = inv.EndedAt.Sub(inv.StartedAt)
	l.finished = append(l.finished, *inv)
}

// Invocations returns all completed invocations in completion order.
func (l *ToolLogger) Invocations() []ToolInvocation {
	if l == nil {
		return nil
	}
	l.mu.RLock()
	defer l.mu.RUnlock()
	return append([]ToolInvocation(nil), l.finished...)
}

// StatsFor returns aggregate stats for one tool name.
func (l *ToolLogger) StatsFor(toolName string) ToolStats {
	if l == nil {
		return ToolStats{}
	}
	l.mu.RLock()
	defer l.mu.RUnlock()

	var stats ToolStats
	for _, inv := range l.finished {
		if inv.ToolName != toolName {
			continue
		}
		stats.Calls++
		if inv.Success {
			stats.Successes++
		}
		stats.TotalTime += inv.Duration
	}
	if stats.Calls > 0 {
		stats.SuccessRate = float64(stats.Successes) / float64(stats.Calls)
		stats.MeanTime = stats.TotalTime / time.Duration(stats.Calls)
	}
	return stats
}
