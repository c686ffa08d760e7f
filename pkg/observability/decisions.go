package observability

import (
	"sync"
	"time"
)

// Decision records an explicit choice made by an agent, with the reasoning
// and the alternatives it weighed.
type Decision struct {
	Agent        string    `json:"agent"`
	Decision     string    `json:"decision"`
	Reasoning    string    `json:"reasoning,omitempty"`
	Alternatives []string  `json:"alternatives,omitempty"`
	Confidence   float64   `json:"confidence"`
	Timestamp    time.Time `json:"timestamp"`
}

// DecisionStats aggregates recorded decisions.
type DecisionStats struct {
	Total          int     `json:"total"`
	Agents         int     `json:"agents"`
	MeanConfidence float64 `json:"mean_confidence"`
}

// DecisionTracker records agent decisions and exposes retrieval by agent.
type DecisionTracker struct {
	mu        sync.RWMutex
	decisions []Decision
	byAgent   map[string][]int
}

// NewDecisionTracker creates an empty tracker.
func NewDecisionTracker() *DecisionTracker {
	return &DecisionTracker{byAgent: make(map[string][]int)}
}

// Record appends a decision.
func (t *DecisionTracker) Record(d Decision) {
	if t == nil {
		return
	}
	if d.Timestamp.IsZero() {
		d.Timestamp = time.Now().UTC()
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	t.byAgent[d.Agent] = append(t.byAgent[d.Agent], len(t.decisions))
	t.decisions = append(t.decisions, d)
}

// ForAgent returns all decisions recorded for an agent in order.
func (t *DecisionTracker) ForAgent(agent string) []Decision {
	if t == nil {
		return nil
	}
	t.mu.RLock()
	defer t.mu.RUnlock()

	indexes := t.byAgent[agent]
	out := make([]Decision, 0, len(indexes))
	for _, i := range indexes {
		out = append(out, t.decisions[i])
	}
	return out
}

// Stats returns aggregate statistics over all decisions.
func (t *DecisionTracker) Stats() DecisionStats {
	if t == nil {
		return DecisionStats{}
	}
	t.mu.RLock()
	defer t.mu.RUnlock()

	stats := DecisionStats{Total: len(t.decisions), Agents: len(t.byAgent)}
	if len(t.decisions) == 0 {
		return stats
	}
	var sum float64
	for _, d := range t.decisions {
		sum += d.Confidence
	}
	stats.MeanConfidence = sum / float64(len(t.decisions))
	return stats
}
