package main

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/agentmesh/agentmesh/pkg/protocol"
)

const maxInlineResult = 400

// renderUpdate writes one update in either JSON-lines or human form.
func renderUpdate(w io.Writer, u protocol.Update, asJSON bool) {
	if asJSON {
		line, err := json.Marshal(u)
		if err != nil {
			fmt.Fprintf(w, `{"type":"error","content":"unrenderable update: %v"}`+"\n", err)
			return
		}
		fmt.Fprintln(w, string(line))
		return
	}

	switch u.Type {
	case protocol.UpdateStatus:
		fmt.Fprintf(w, "[%s] node=%s\n", u.Status, u.Node)
	case protocol.UpdateThinking:
		fmt.Fprintf(w, "[thinking] %s\n", truncate(u.Content, maxInlineResult))
	case protocol.UpdateProgress:
		fmt.Fprintf(w, "[iter %d] %s: %s\n", u.Iteration, u.Node, truncate(u.Content, maxInlineResult))
	case protocol.UpdateToolCall:
		fmt.Fprintf(w, "[tool] %s %s\n", u.ToolName, compactParams(u.Parameters))
	case protocol.UpdateToolResult:
		verdict := "ok"
		if u.Success != nil && !*u.Success {
			verdict = "failed"
		}
		fmt.Fprintf(w, "[tool] %s %s: %s\n", u.ToolName, verdict, truncate(u.Result, maxInlineResult))
	case protocol.UpdateSubAgentSpawn:
		fmt.Fprintf(w, "[agent] %s %s started: %s\n", u.AgentType, u.AgentID, truncate(u.Content, 120))
	case protocol.UpdateSubAgentResult:
		verdict := "ok"
		if u.Success != nil && !*u.Success {
			verdict = "failed"
		}
		fmt.Fprintf(w, "[agent] %s %s %s\n", u.AgentType, u.AgentID, verdict)
	case protocol.UpdateArtifact:
		fmt.Fprintf(w, "[artifact] %s\n", u.ArtifactName)
	case protocol.UpdateCompleted:
		if u.Status == protocol.TaskCancelled {
			fmt.Fprintln(w, "task cancelled")
			return
		}
		fmt.Fprintln(w)
		fmt.Fprintln(w, u.Result)
	case protocol.UpdateError:
		fmt.Fprintf(w, "task failed: %s\n", u.Content)
	default:
		fmt.Fprintf(w, "[%s] %s\n", u.Type, truncate(u.Content, maxInlineResult))
	}
}

func compactParams(params map[string]any) string {
	if len(params) == 0 {
		return "{}"
	}
	b, err := json.Marshal(params)
	if err != nil {
		return fmt.Sprintf("%v", params)
	}
	return truncate(string(b), 200)
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
