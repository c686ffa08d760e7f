// Package tools defines the tool contract the orchestrator dispatches
// against. Concrete tools live outside the core; the workflow engine only
// sees this typed registry.
package tools

import (
	"context"
	"fmt"
	"time"
)

// ToolInfo describes a registered tool and its parameter schema.
type ToolInfo struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  []ToolParameter `json:"parameters,omitempty"`
}

// ToolParameter is one named parameter in a tool's contract.
type ToolParameter struct {
	Name        string   `json:"name"`
	Type        string   `json:"type"`
	Description string   `json:"description"`
	Required    bool     `json:"required"`
	Default     any      `json:"default,omitempty"`
	Enum        []string `json:"enum,omitempty"`
}

// ToolResult is the outcome of one tool execution. A failed execution is a
// result with Success=false, not a Go error; errors are reserved for
// cancellation and transport faults.
type ToolResult struct {
	Success  bool           `json:"success"`
	Content  string         `json:"content,omitempty"`
	Error    string         `json:"error,omitempty"`
	Duration time.Duration  `json:"duration,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// Tool is the contract every registered tool implements.
type Tool interface {
	GetInfo() ToolInfo
	GetName() string
	GetDescription() string
	Execute(ctx context.Context, args map[string]any) (ToolResult, error)
}

// ValidateArgs checks args against the tool's declared parameters. A
// mismatch is a step-level failure for the dispatcher, never a task
// failure.
func ValidateArgs(info ToolInfo, args map[string]any) error {
	for _, p := range info.Parameters {
		v, present := args[p.Name]
		if !present {
			if p.Required {
				return fmt.Errorf("missing required parameter %q for tool %s", p.Name, info.Name)
			}
			continue
		}
		if err := checkType(p, v); err != nil {
			return fmt.Errorf("parameter %q of tool %s: %w", p.Name, info.Name, err)
		}
	}
	return nil
}

func checkType(p ToolParameter, v any) error {
	switch p.Type {
	case "", "any":
		return nil
	case "string":
		s, ok := v.(string)
		if !ok {
			return fmt.Errorf("expected string, got %T", v)
		}
		if len(p.Enum) > 0 && !containsString(p.Enum, s) {
			return fmt.Errorf("value %q not in %v", s, p.Enum)
		}
		return nil
	case "number", "integer":
		switch v.(type) {
		case int, int64, float64:
			return nil
		}
		return fmt.Errorf("expected %s, got %T", p.Type, v)
	case "boolean":
		if _, ok := v.(bool); !ok {
			return fmt.Errorf("expected boolean, got %T", v)
		}
		return nil
	case "array":
		if _, ok := v.([]any); !ok {
			return fmt.Errorf("expected array, got %T", v)
		}
		return nil
	case "object":
		if _, ok := v.(map[string]any); !ok {
			return fmt.Errorf("expected object, got %T", v)
		}
		return nil
	default:
		return nil
	}
}

func containsString(list []string, s string) bool {
	for _, l := range list {
		if l == s {
			return true
		}
	}
	return false
}
