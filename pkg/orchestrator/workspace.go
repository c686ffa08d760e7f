package orchestrator

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/agentmesh/agentmesh/pkg/config"
	"github.com/agentmesh/agentmesh/pkg/protocol"
)

// ContextFileName is the per-workspace cross-run context file.
const ContextFileName = ".ai_context.json"

// WorkspaceManager owns per-task workspace directories: optional isolation
// under a configured root, optional cleanup on successful completion, and
// the cross-run context file.
type WorkspaceManager struct {
	root             string
	isolation        bool
	cleanupOnSuccess bool
}

// NewWorkspaceManager creates a manager from the workspace config block.
func NewWorkspaceManager(cfg config.WorkspaceConfig) *WorkspaceManager {
	return &WorkspaceManager{
		root:             cfg.Root,
		isolation:        cfg.Isolation,
		cleanupOnSuccess: cfg.CleanupOnSuccess,
	}
}

// Prepare returns the workspace directory for a session, creating it if
// needed. With isolation enabled each session gets a fresh directory under
// the root; otherwise every task shares the root.
func (m *WorkspaceManager) Prepare(sessionID string) (string, error) {
	dir := m.root
	if m.isolation {
		dir = filepath.Join(m.root, sessionID)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create workspace %s: %w", dir, err)
	}
	return dir, nil
}

// Cleanup removes an isolated workspace after successful completion when
// configured to. Shared workspaces and failed tasks are always kept.
func (m *WorkspaceManager) Cleanup(workspace string, status protocol.TaskStatus) error {
	if !m.isolation || !m.cleanupOnSuccess || status != protocol.TaskCompleted {
		return nil
	}
	if workspace == "" || workspace == m.root {
		return nil
	}
	return os.RemoveAll(workspace)
}

// LoadContext reads the workspace's cross-run context file. A missing file
// yields an empty map.
func (m *WorkspaceManager) LoadContext(workspace string) (map[string]any, error) {
	data, err := os.ReadFile(filepath.Join(workspace, ContextFileName))
	if os.IsNotExist(err) {
		return map[string]any{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read workspace context: %w", err)
	}

	var ctx map[string]any
	if err := json.Unmarshal(data, &ctx); err != nil {
		return nil, fmt.Errorf("corrupt workspace context file: %w", err)
	}
	return ctx, nil
}

// SaveContext persists cross-run context into the workspace.
func (m *WorkspaceManager) SaveContext(workspace string, ctx map[string]any) error {
	if len(ctx) == 0 {
		return nil
	}
	data, err := json.MarshalIndent(ctx, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode workspace context: %w", err)
	}
	return os.WriteFile(filepath.Join(workspace, ContextFileName), data, 0o644)
}
