package workflow

import (
	"encoding/json"
	"fmt"
	"strings"
)

// PlanStep is one planner-emitted action. Action names are uppercase;
// parameter structure is strictly {action, parameters}.
type PlanStep struct {
	Action      string         `json:"action"`
	Parameters  map[string]any `json:"parameters,omitempty"`
	Description string         `json:"description,omitempty"`
	Sensitive   bool           `json:"sensitive,omitempty"`
	Done        bool           `json:"done,omitempty"`
}

// Plan is the structured plan attached to Context["plan"].
type Plan struct {
	Steps           []PlanStep `json:"steps"`
	SuccessCriteria string     `json:"success_criteria,omitempty"`
}

// NextStep returns the index of the first unfinished step, or -1.
func (p *Plan) NextStep() int {
	for i := range p.Steps {
		if !p.Steps[i].Done {
			return i
		}
	}
	return -1
}

// Complete reports whether every step is done.
func (p *Plan) Complete() bool {
	return len(p.Steps) > 0 && p.NextStep() == -1
}

// planContextKey is where the plan lives in WorkflowState.Context.
const planContextKey = "plan"

// planFromContext recovers the plan from the state context. After a
// checkpoint round-trip the plan arrives as a generic map, so both shapes
// are handled.
func planFromContext(ctx map[string]any) (*Plan, error) {
	raw, ok := ctx[planContextKey]
	if !ok {
		return nil, fmt.Errorf("no plan in context")
	}
	switch v := raw.(type) {
	case *Plan:
		return v, nil
	case Plan:
		return &v, nil
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("unreadable plan in context: %w", err)
		}
		var plan Plan
		if err := json.Unmarshal(data, &plan); err != nil {
			return nil, fmt.Errorf("unreadable plan in context: %w", err)
		}
		return &plan, nil
	}
}

// parsePlan decodes the planner's JSON reply, tolerating code fences and
// surrounding prose.
func parsePlan(text string) (*Plan, error) {
	trimmed := strings.TrimSpace(text)
	start := strings.Index(trimmed, "{")
	end := strings.LastIndex(trimmed, "}")
	if start < 0 || end <= start {
		return nil, fmt.Errorf("planner reply contains no JSON object")
	}

	var plan Plan
	if err := json.Unmarshal([]byte(trimmed[start:end+1]), &plan); err != nil {
		return nil, fmt.Errorf("unparseable plan: %w", err)
	}
	if len(plan.Steps) == 0 {
		return nil, fmt.Errorf("plan has no steps")
	}
	for i := range plan.Steps {
		plan.Steps[i].Action = strings.ToUpper(strings.TrimSpace(plan.Steps[i].Action))
		if plan.Steps[i].Action == "" {
			return nil, fmt.Errorf("plan step %d has no action", i)
		}
	}
	return &plan, nil
}

const planInstruction = `%s

Produce a plan for the task as a single JSON object and nothing else:
{"steps": [{"action": "TOOL_NAME", "parameters": {…}, "description": "…", "sensitive": false}], "success_criteria": "…"}

Available actions (uppercase): %s, plus the terminals COMPLETE (parameters: {"result": "final answer"}) and DELEGATE_TO_SUB_AGENT (parameters: {"task": "…"}).
Mark a step "sensitive": true when it changes files outside the workspace or runs privileged commands.

Task: %s`

// buildPlanPrompt renders the domain planning prompt.
func buildPlanPrompt(def Definition, task string, errs []string) string {
	prompt := fmt.Sprintf(planInstruction, def.PlanPrompt, strings.Join(def.ToolAllowlist, ", "), task)
	if len(errs) > 0 {
		recent := errs
		if len(recent) > 3 {
			recent = recent[len(recent)-3:]
		}
		prompt += "\n\nEarlier attempts failed with:\n- " + strings.Join(recent, "\n- ") + "\nAdjust the plan accordingly."
	}
	return prompt
}
