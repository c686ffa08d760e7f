// Package config loads and validates the orchestrator configuration: a
// single YAML file with env-var expansion, dotted-path environment
// overrides, defaults, and strict validation.
package config

import (
	"fmt"
	"time"

	"github.com/agentmesh/agentmesh/pkg/safety"
)

// Config is the validated configuration record the orchestrator consumes.
type Config struct {
	Mode        string            `yaml:"mode" mapstructure:"mode"`
	LLM         LLMConfig         `yaml:"llm" mapstructure:"llm"`
	Workflows   WorkflowsConfig   `yaml:"workflows" mapstructure:"workflows"`
	Tools       ToolsConfig       `yaml:"tools" mapstructure:"tools"`
	Persistence PersistenceConfig `yaml:"persistence" mapstructure:"persistence"`
	Logging     LoggingConfig     `yaml:"logging" mapstructure:"logging"`
	Workspace   WorkspaceConfig   `yaml:"workspace" mapstructure:"workspace"`
	Performance PerformanceConfig `yaml:"performance" mapstructure:"performance"`
	Development DevelopmentConfig `yaml:"development" mapstructure:"development"`
}

// EndpointConfig is one LLM endpoint in priority order.
type EndpointConfig struct {
	Name           string `yaml:"name" mapstructure:"name"`
	URL            string `yaml:"url" mapstructure:"url"`
	Model          string `yaml:"model" mapstructure:"model"`
	APIKey         string `yaml:"api_key" mapstructure:"api_key"`
	TimeoutSeconds int    `yaml:"timeout_seconds" mapstructure:"timeout_seconds"`
}

// Timeout returns the endpoint timeout as a duration.
func (e EndpointConfig) Timeout() time.Duration {
	return time.Duration(e.TimeoutSeconds) * time.Second
}

// LLMConfig configures the gateway.
type LLMConfig struct {
	Endpoints            []EndpointConfig `yaml:"endpoints" mapstructure:"endpoints"`
	MaxAttempts          int              `yaml:"max_attempts" mapstructure:"max_attempts"`
	BackoffBase          float64          `yaml:"backoff_base" mapstructure:"backoff_base"`
	FailureThreshold     int              `yaml:"failure_threshold" mapstructure:"failure_threshold"`
	ProbeIntervalSeconds int              `yaml:"probe_interval_seconds" mapstructure:"probe_interval_seconds"`
	CacheEnabled         bool             `yaml:"cache_enabled" mapstructure:"cache_enabled"`
	CacheSize            int              `yaml:"cache_size" mapstructure:"cache_size"`
	CacheTTLSeconds      int              `yaml:"cache_ttl_seconds" mapstructure:"cache_ttl_seconds"`
	ConfidenceThreshold  float64          `yaml:"confidence_threshold" mapstructure:"confidence_threshold"`
}

// WorkflowsConfig bounds the workflow engine and sub-agent manager.
type WorkflowsConfig struct {
	MaxIterations          int    `yaml:"max_iterations" mapstructure:"max_iterations"`
	RecursionLimit         int    `yaml:"recursion_limit" mapstructure:"recursion_limit"`
	TimeoutSeconds         int    `yaml:"timeout_seconds" mapstructure:"timeout_seconds"`
	NoProgressWindow       int    `yaml:"no_progress_window" mapstructure:"no_progress_window"`
	MaxParallelSubAgents   int    `yaml:"max_parallel_sub_agents" mapstructure:"max_parallel_sub_agents"`
	SubAgentTimeoutSeconds int    `yaml:"sub_agent_timeout_seconds" mapstructure:"sub_agent_timeout_seconds"`
	AggregationStrategy    string `yaml:"aggregation_strategy" mapstructure:"aggregation_strategy"`
}

// ToolsConfig carries the safety policy block.
type ToolsConfig struct {
	Safety safety.Config `yaml:"safety" mapstructure:"safety"`
}

// PersistenceConfig selects the checkpoint backend.
type PersistenceConfig struct {
	Backend string `yaml:"backend" mapstructure:"backend"`
	DSN     string `yaml:"dsn" mapstructure:"dsn"`
}

// LoggingConfig configures the structured logger.
type LoggingConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
	File   string `yaml:"file" mapstructure:"file"`
}

// WorkspaceConfig configures per-task workspaces.
type WorkspaceConfig struct {
	Root             string `yaml:"root" mapstructure:"root"`
	Isolation        bool   `yaml:"isolation" mapstructure:"isolation"`
	CleanupOnSuccess bool   `yaml:"cleanup_on_success" mapstructure:"cleanup_on_success"`
}

// PerformanceConfig bounds state growth.
type PerformanceConfig struct {
	MaxMessages  int `yaml:"max_messages" mapstructure:"max_messages"`
	MaxToolCalls int `yaml:"max_tool_calls" mapstructure:"max_tool_calls"`
	MaxContextKB int `yaml:"max_context_kb" mapstructure:"max_context_kb"`
}

// DevelopmentConfig holds development-only switches.
type DevelopmentConfig struct {
	Verbose      bool `yaml:"verbose" mapstructure:"verbose"`
	DisableCache bool `yaml:"disable_cache" mapstructure:"disable_cache"`
}

// topLevelKeys are the only keys a config file may carry at the root.
var topLevelKeys = map[string]struct{}{
	"mode": {}, "llm": {}, "workflows": {}, "tools": {}, "persistence": {},
	"logging": {}, "workspace": {}, "performance": {}, "development": {},
}

// SetDefaults fills unset fields with working defaults.
func (c *Config) SetDefaults() {
	if c.Mode == "" {
		c.Mode = "on-premise"
	}
	if c.LLM.MaxAttempts == 0 {
		c.LLM.MaxAttempts = 3
	}
	if c.LLM.BackoffBase == 0 {
		c.LLM.BackoffBase = 2.0
	}
	if c.LLM.FailureThreshold == 0 {
		c.LLM.FailureThreshold = 3
	}
	if c.LLM.ProbeIntervalSeconds == 0 {
		c.LLM.ProbeIntervalSeconds = 30
	}
	if c.LLM.CacheSize == 0 {
		c.LLM.CacheSize = 256
	}
	if c.LLM.CacheTTLSeconds == 0 {
		c.LLM.CacheTTLSeconds = 300
	}
	if c.LLM.ConfidenceThreshold == 0 {
		c.LLM.ConfidenceThreshold = 0.6
	}
	for i := range c.LLM.Endpoints {
		if c.LLM.Endpoints[i].TimeoutSeconds == 0 {
			c.LLM.Endpoints[i].TimeoutSeconds = 60
		}
	}
	if c.Workflows.MaxIterations == 0 {
		c.Workflows.MaxIterations = 25
	}
	if c.Workflows.RecursionLimit == 0 {
		c.Workflows.RecursionLimit = c.Workflows.MaxIterations * 4
	}
	if c.Workflows.TimeoutSeconds == 0 {
		c.Workflows.TimeoutSeconds = 600
	}
	if c.Workflows.NoProgressWindow == 0 {
		c.Workflows.NoProgressWindow = 3
	}
	if c.Workflows.MaxParallelSubAgents == 0 {
		c.Workflows.MaxParallelSubAgents = 2
	}
	if c.Workflows.SubAgentTimeoutSeconds == 0 {
		c.Workflows.SubAgentTimeoutSeconds = 300
	}
	if c.Workflows.AggregationStrategy == "" {
		c.Workflows.AggregationStrategy = "concatenate"
	}
	if c.Persistence.Backend == "" {
		c.Persistence.Backend = "sqlite"
	}
	if c.Persistence.DSN == "" && c.Persistence.Backend == "sqlite" {
		c.Persistence.DSN = "agentmesh.db"
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "INFO"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
	if c.Workspace.Root == "" {
		c.Workspace.Root = "./workspaces"
	}
	if c.Performance.MaxMessages == 0 {
		c.Performance.MaxMessages = 100
	}
	if c.Performance.MaxToolCalls == 0 {
		c.Performance.MaxToolCalls = 200
	}
	if c.Performance.MaxContextKB == 0 {
		c.Performance.MaxContextKB = 512
	}
}

var validLogLevels = map[string]struct{}{
	"DEBUG": {}, "INFO": {}, "WARNING": {}, "ERROR": {}, "CRITICAL": {},
}

// Validate checks the loaded configuration. Errors here are fatal at
// startup.
func (c *Config) Validate() error {
	if c.Mode != "on-premise" {
		return fmt.Errorf("mode must be \"on-premise\", got %q", c.Mode)
	}
	if len(c.LLM.Endpoints) == 0 {
		return fmt.Errorf("llm.endpoints must not be empty")
	}
	for i, ep := range c.LLM.Endpoints {
		if ep.URL == "" {
			return fmt.Errorf("llm.endpoints[%d] has no url", i)
		}
	}
	if c.Workflows.MaxIterations < 1 {
		return fmt.Errorf("workflows.max_iterations must be >= 1, got %d", c.Workflows.MaxIterations)
	}
	if c.Workflows.TimeoutSeconds < 60 {
		return fmt.Errorf("workflows.timeout_seconds must be >= 60, got %d", c.Workflows.TimeoutSeconds)
	}
	switch c.Workflows.AggregationStrategy {
	case "concatenate", "list", "summarize":
	default:
		return fmt.Errorf("workflows.aggregation_strategy must be concatenate, list, or summarize, got %q", c.Workflows.AggregationStrategy)
	}
	switch c.Persistence.Backend {
	case "sqlite", "postgresql":
	default:
		return fmt.Errorf("persistence.backend must be sqlite or postgresql, got %q", c.Persistence.Backend)
	}
	if _, ok := validLogLevels[c.Logging.Level]; !ok {
		return fmt.Errorf("logging.level must be one of DEBUG, INFO, WARNING, ERROR, CRITICAL, got %q", c.Logging.Level)
	}
	return nil
}
