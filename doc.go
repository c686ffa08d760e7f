// Package agentmesh is an on-premise agentic AI orchestrator.
//
// AgentMesh turns a task description into a plan/execute/reflect workflow
// driven by a self-hosted LLM behind a failover gateway, with sub-agent
// delegation, tool-safety policy enforcement, and checkpointed sessions.
//
// # Quick Start
//
// Install the CLI:
//
//	go install github.com/agentmesh/agentmesh/cmd/agentmesh@latest
//
// Point it at your inference endpoints:
//
//	yaml
//	mode: on-premise
//	llm:
//	  endpoints:
//	    - name: primary
//	      url: http://localhost:8000/v1
//	      model: qwen3-32b
//
// Run a task:
//
//	agentmesh run --config agentmesh.yaml "summarize the error logs in ./logs"
//
// # Using as Go Library
//
// Embed the orchestrator directly:
//
//	import (
//	    "github.com/agentmesh/agentmesh/pkg/config"
//	    "github.com/agentmesh/agentmesh/pkg/orchestrator"
//	)
//
//	cfg, _ := config.Load("agentmesh.yaml")
//	orch, _ := orchestrator.New(cfg)
//	updates, _ := orch.ExecuteTask(ctx, "refactor the parser", orchestrator.TaskOptions{})
//	for u := range updates {
//	    // typed progress stream; the last update is terminal
//	}
//
// # Key Features
//
//   - **Dual-endpoint failover**: health-probed priority order with retry and backoff
//   - **Plan / Execute / Reflect**: bounded iterative workflow with no-progress detection
//   - **Sub-agent delegation**: dependency-ordered parallel fan-out with role allowlists
//   - **Tool safety**: command denylist, protected paths, approval gates
//   - **Sessions**: SQLite/PostgreSQL checkpoints, resumable by thread id
//
// # Architecture
//
// A task flows through the facade:
//
//	CLI/Client → Orchestrator → Router → Workflow Engine → Dispatcher → Tools/Sub-agents
//
// with the gateway serving every LLM call and the session layer
// checkpointing state after each iteration.
package agentmesh
