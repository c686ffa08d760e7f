package subagent

import (
	"fmt"
)

// topoBatches orders subtasks into batches by depends_on: every subtask in
// a batch has all its dependencies in earlier batches, so batch members
// can run in parallel. Order within a batch follows declared order. A
// cycle returns an error; the caller falls back to sequential execution.
func topoBatches(subtasks []Subtask) ([][]Subtask, error) {
	indegree := make(map[string]int, len(subtasks))
	byID := make(map[string]Subtask, len(subtasks))
	for _, st := range subtasks {
		if _, dup := byID[st.ID]; dup {
			return nil, fmt.Errorf("duplicate subtask id %q", st.ID)
		}
		byID[st.ID] = st
		indegree[st.ID] = 0
	}
	for _, st := range subtasks {
		for _, dep := range st.DependsOn {
			if _, ok := byID[dep]; !ok {
				return nil, fmt.Errorf("subtask %q depends on unknown id %q", st.ID, dep)
			}
			indegree[st.ID]++
		}
	}

	done := make(map[string]bool, len(subtasks))
	var batches [][]Subtask
	remaining := len(subtasks)

	for remaining > 0 {
		var batch []Subtask
		for _, st := range subtasks {
			if done[st.ID] {
				continue
			}
			ready := true
			for _, dep := range st.DependsOn {
				if !done[dep] {
					ready = false
					break
				}
			}
			if ready {
				batch = append(batch, st)
			}
		}
		if len(batch) == 0 {
			return nil, fmt.Errorf("dependency cycle among %d remaining subtasks", remaining)
		}
		for _, st := range batch {
			done[st.ID] = true
		}
		remaining -= len(batch)
		batches = append(batches, batch)
	}
	return batches, nil
}

// sequentialBatches is the cycle fallback: declared order, one per batch.
func sequentialBatches(subtasks []Subtask) [][]Subtask {
	batches := make([][]Subtask, 0, len(subtasks))
	for _, st := range subtasks {
		batches = append(batches, []Subtask{st})
	}
	return batches
}
