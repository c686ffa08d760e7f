package workflow

import (
	"github.com/agentmesh/agentmesh/pkg/protocol"
)

// Definitions returns the built-in per-domain workflow definitions. All
// four share the machine skeleton; they differ only in planning prompt and
// tool allowlist.
func Definitions() map[protocol.Domain]Definition {
	return map[protocol.Domain]Definition{
		protocol.DomainCoding: {
			Domain: protocol.DomainCoding,
			PlanPrompt: "You are a software engineering agent. Plan the smallest sequence of " +
				"read, edit, and verification steps that solves the task. Read before you write; " +
				"verify after you change.",
			ToolAllowlist: []string{
				"READ_FILE", "WRITE_FILE", "LIST_FILES", "SEARCH_CODE", "RUN_COMMAND",
			},
		},
		protocol.DomainResearch: {
			Domain: protocol.DomainResearch,
			PlanPrompt: "You are a research agent. Plan searches and document reads that gather " +
				"enough evidence to answer the task, then synthesize.",
			ToolAllowlist: []string{
				"SEARCH", "READ_FILE", "FETCH_URL",
			},
		},
		protocol.DomainData: {
			Domain: protocol.DomainData,
			PlanPrompt: "You are a data agent. Plan inspection, cleaning, and analysis steps " +
				"over the provided datasets. Validate assumptions before transforming.",
			ToolAllowlist: []string{
				"READ_FILE", "WRITE_FILE", "LIST_FILES", "RUN_COMMAND",
			},
		},
		protocol.DomainGeneral: {
			Domain: protocol.DomainGeneral,
			PlanPrompt: "You are a general-purpose assistant agent. Plan the steps needed to " +
				"fulfil the task with the tools available.",
			ToolAllowlist: []string{
				"READ_FILE", "WRITE_FILE", "LIST_FILES", "SEARCH", "RUN_COMMAND",
			},
		},
	}
}
