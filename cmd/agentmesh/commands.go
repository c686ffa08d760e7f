package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/agentmesh/agentmesh"
	"github.com/agentmesh/agentmesh/pkg/config"
	"github.com/agentmesh/agentmesh/pkg/orchestrator"
	"github.com/agentmesh/agentmesh/pkg/protocol"
)

// RunCmd executes one task and streams its updates to stdout.
type RunCmd struct {
	Task   string `arg:"" help:"Task description."`
	Domain string `help:"Skip intent classification (coding, research, data, general)." enum:",coding,research,data,general" default:""`
	TaskID string `name:"task-id" help:"Override the generated task id."`
	Watch  bool   `help:"Watch the config file and log changes (restart to apply)."`
}

func (c *RunCmd) Run(cli *CLI) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	orch, err := buildOrchestrator(cli)
	if err != nil {
		return err
	}
	defer orch.Close()
	orch.Start(ctx)

	if c.Watch {
		go func() {
			err := config.Watch(ctx, cli.Config, func(*config.Config) {
				slog.Warn("configuration changed on disk; restart to apply")
			})
			if err != nil && ctx.Err() == nil {
				slog.Error("config watch error", "error", err)
			}
		}()
	}

	updates, err := orch.ExecuteTask(ctx, c.Task, orchestrator.TaskOptions{
		TaskID: c.TaskID,
		Domain: protocol.Domain(c.Domain),
	})
	if err != nil {
		return startupError("failed to start task: %v", err)
	}
	return streamUpdates(cli, updates)
}

// ResumeCmd continues a checkpointed thread.
type ResumeCmd struct {
	ThreadID string `arg:"" help:"Thread id of the checkpointed task."`
}

func (c *ResumeCmd) Run(cli *CLI) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	orch, err := buildOrchestrator(cli)
	if err != nil {
		return err
	}
	defer orch.Close()
	orch.Start(ctx)

	updates, err := orch.ResumeTask(ctx, c.ThreadID)
	if err != nil {
		return startupError("failed to resume thread %s: %v", c.ThreadID, err)
	}
	return streamUpdates(cli, updates)
}

// streamUpdates renders the update stream and converts the terminal update
// into the process exit code.
func streamUpdates(cli *CLI, updates <-chan protocol.Update) error {
	var final *protocol.Update
	for u := range updates {
		renderUpdate(os.Stdout, u, cli.JSON)
		if u.Type.IsTerminal() {
			u := u
			final = &u
		}
	}
	if final == nil {
		return &exitError{code: 1, msg: "update stream closed without a terminal update"}
	}
	switch code := orchestrator.ExitCode(final.Status); code {
	case 0:
		return nil
	default:
		return &exitError{code: code}
	}
}

// ValidateCmd checks a configuration file without running anything.
type ValidateCmd struct{}

func (c *ValidateCmd) Run(cli *CLI) error {
	cfg, err := loadConfig(cli.Config)
	if err != nil {
		return err
	}
	fmt.Printf("%s is valid\n", cli.Config)
	fmt.Printf("  mode:       %s\n", cfg.Mode)
	fmt.Printf("  endpoints:  %d\n", len(cfg.LLM.Endpoints))
	for _, ep := range cfg.LLM.Endpoints {
		fmt.Printf("    - %s (%s, model=%s)\n", ep.Name, ep.URL, ep.Model)
	}
	fmt.Printf("  backend:    %s\n", cfg.Persistence.Backend)
	fmt.Printf("  workspace:  %s\n", cfg.Workspace.Root)
	return nil
}

// VersionCmd shows version information.
type VersionCmd struct{}

func (c *VersionCmd) Run() error {
	fmt.Println(agentmesh.GetVersion().String())
	return nil
}
