// Command agentmesh is the CLI for the AgentMesh orchestrator.
//
// Usage:
//
//	agentmesh run --config agentmesh.yaml "summarize the error logs in ./logs"
//	agentmesh resume --config agentmesh.yaml <thread-id>
//	agentmesh validate --config agentmesh.yaml
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/alecthomas/kong"

	"github.com/agentmesh/agentmesh/pkg/config"
	"github.com/agentmesh/agentmesh/pkg/logger"
	"github.com/agentmesh/agentmesh/pkg/orchestrator"
)

// CLI defines the command-line interface.
type CLI struct {
	Run      RunCmd      `cmd:"" help:"Execute a task and stream progress updates."`
	Resume   ResumeCmd   `cmd:"" help:"Resume a checkpointed thread."`
	Validate ValidateCmd `cmd:"" help:"Validate a configuration file."`
	Version  VersionCmd  `cmd:"" help:"Show version information."`

	Config   string `short:"c" help:"Path to config file." default:"agentmesh.yaml" type:"path"`
	LogLevel string `help:"Log level (debug, info, warn, error). Overrides the config file."`
	LogFile  string `help:"Log file path (empty = stderr). Overrides the config file."`
	JSON     bool   `help:"Emit updates as JSON lines instead of text."`
}

// exitError carries a process exit code through kong's command dispatch.
// Exit codes: 0 completed, 1 failed, 2 cancelled, 3 config/startup error.
type exitError struct {
	code int
	msg  string
}

func (e *exitError) Error() string { return e.msg }

func startupError(format string, args ...any) error {
	return &exitError{code: 3, msg: fmt.Sprintf(format, args...)}
}

// loadConfig reads and validates the config file; failures are startup
// errors (exit 3).
func loadConfig(path string) (*config.Config, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, startupError("failed to load config %s: %v", path, err)
	}
	return cfg, nil
}

// initLogging applies the logging config, letting CLI flags win over the
// config file.
func initLogging(cli *CLI, cfg *config.Config) error {
	levelStr := cfg.Logging.Level
	if cli.LogLevel != "" {
		levelStr = cli.LogLevel
	}
	level, err := logger.ParseLevel(levelStr)
	if err != nil {
		return startupError("invalid log level: %v", err)
	}

	file := cfg.Logging.File
	if cli.LogFile != "" {
		file = cli.LogFile
	}
	if _, err := logger.InitFile(file, level, cfg.Logging.Format == "json"); err != nil {
		return startupError("failed to initialize logging: %v", err)
	}
	return nil
}

func buildOrchestrator(cli *CLI) (*orchestrator.Orchestrator, error) {
	cfg, err := loadConfig(cli.Config)
	if err != nil {
		return nil, err
	}
	if err := initLogging(cli, cfg); err != nil {
		return nil, err
	}
	orch, err := orchestrator.New(cfg)
	if err != nil {
		return nil, startupError("failed to build orchestrator: %v", err)
	}
	return orch, nil
}

func main() {
	cli := CLI{}
	kctx := kong.Parse(&cli,
		kong.Name("agentmesh"),
		kong.Description("AgentMesh - on-premise agentic AI orchestrator"),
		kong.UsageOnError(),
	)

	err := kctx.Run(&cli)
	if err == nil {
		return
	}
	var ee *exitError
	if errors.As(err, &ee) {
		if ee.msg != "" {
			fmt.Fprintln(os.Stderr, ee.msg)
		}
		os.Exit(ee.code)
	}
	fmt.Fprintln(os.Stderr, err)
	os.Exit(3)
}
