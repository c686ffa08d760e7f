package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const minimalYAML = `
mode: on-premise
llm:
  endpoints:
    - name: primary
      url: http://localhost:8000/v1
      model: qwen3-32b
`

func TestParseMinimalConfigAppliesDefaults(t *testing.T) {
	cfg, err := Parse([]byte(minimalYAML))
	require.NoError(t, err)

	assert.Equal(t, "on-premise", cfg.Mode)
	require.Len(t, cfg.LLM.Endpoints, 1)
	assert.Equal(t, 60, cfg.LLM.Endpoints[0].TimeoutSeconds)
	assert.Equal(t, 3, cfg.LLM.MaxAttempts)
	assert.Equal(t, 2.0, cfg.LLM.BackoffBase)
	assert.Equal(t, 25, cfg.Workflows.MaxIterations)
	assert.Equal(t, 100, cfg.Workflows.RecursionLimit)
	assert.Equal(t, 2, cfg.Workflows.MaxParallelSubAgents)
	assert.Equal(t, "concatenate", cfg.Workflows.AggregationStrategy)
	assert.Equal(t, "sqlite", cfg.Persistence.Backend)
	assert.Equal(t, "INFO", cfg.Logging.Level)
	assert.Equal(t, 100, cfg.Performance.MaxMessages)
}

func TestUnknownTopLevelKeyRejected(t *testing.T) {
	_, err := Parse([]byte(minimalYAML + "\nextras:\n  x: 1\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "extras")
}

func TestValidationRules(t *testing.T) {
	tests := []struct {
		name    string
		mutate  string
		wantErr string
	}{
		{"bad mode", "mode: cloud\nllm:\n  endpoints:\n    - url: http://x\n", "on-premise"},
		{"no endpoints", "mode: on-premise\nllm:\n  endpoints: []\n", "endpoints"},
		{"low timeout", minimalYAML + "workflows:\n  timeout_seconds: 30\n", "timeout_seconds"},
		{"bad backend", minimalYAML + "persistence:\n  backend: mysql\n", "backend"},
		{"bad level", minimalYAML + "logging:\n  level: TRACE\n", "logging.level"},
		{"bad aggregation", minimalYAML + "workflows:\n  aggregation_strategy: merge\n", "aggregation_strategy"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.mutate))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestMaxIterationsMustBePositive(t *testing.T) {
	_, err := Parse([]byte(minimalYAML + "workflows:\n  max_iterations: -2\n  timeout_seconds: 120\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "max_iterations")
}

func TestEnvVarExpansion(t *testing.T) {
	t.Setenv("AGENTMESH_TEST_URL", "http://llm.internal:8000/v1")

	cfg, err := Parse([]byte(`
mode: on-premise
llm:
  endpoints:
    - name: primary
      url: ${AGENTMESH_TEST_URL}
      model: ${AGENTMESH_TEST_MODEL:-qwen3-32b}
`))
	require.NoError(t, err)
	assert.Equal(t, "http://llm.internal:8000/v1", cfg.LLM.Endpoints[0].URL)
	assert.Equal(t, "qwen3-32b", cfg.LLM.Endpoints[0].Model, "unset var falls back to default")
}

func TestDottedPathEnvOverride(t *testing.T) {
	t.Setenv("LOGGING_LEVEL", "DEBUG")
	t.Setenv("PERSISTENCE_BACKEND", "postgresql")

	cfg, err := Parse([]byte(minimalYAML + "logging:\n  level: INFO\npersistence:\n  backend: sqlite\n  dsn: x\n"))
	require.NoError(t, err)
	assert.Equal(t, "DEBUG", cfg.Logging.Level, "env override wins over file value")
	assert.Equal(t, "postgresql", cfg.Persistence.Backend)
}

func TestEnvOverrideForKeysAbsentFromFile(t *testing.T) {
	// minimalYAML has no logging section and no cache_ttl_seconds key;
	// both must still be addressable by env var.
	t.Setenv("LOGGING_LEVEL", "DEBUG")
	t.Setenv("LLM_CACHE_TTL_SECONDS", "900")
	t.Setenv("TOOLS_SAFETY_ENABLED", "true")

	cfg, err := Parse([]byte(minimalYAML))
	require.NoError(t, err)
	assert.Equal(t, "DEBUG", cfg.Logging.Level)
	assert.Equal(t, 900, cfg.LLM.CacheTTLSeconds)
	assert.True(t, cfg.Tools.Safety.Enabled)
}

func TestEnvOverrideAppliesBeforeValidation(t *testing.T) {
	t.Setenv("LOGGING_LEVEL", "NOISY")
	_, err := Parse([]byte(minimalYAML + "logging:\n  level: INFO\n"))
	require.Error(t, err, "an invalid override must fail validation")
}

func TestWeaklyTypedDecode(t *testing.T) {
	// Env overrides arrive as strings even for numeric settings.
	t.Setenv("WORKFLOWS_MAX_ITERATIONS", "7")
	cfg, err := Parse([]byte(minimalYAML + "workflows:\n  max_iterations: 25\n  timeout_seconds: 120\n"))
	require.NoError(t, err)
	assert.Equal(t, 7, cfg.Workflows.MaxIterations)
}

func TestSafetyBlockDecodes(t *testing.T) {
	cfg, err := Parse([]byte(minimalYAML + `
tools:
  safety:
    enabled: true
    allowed_commands: [ls, cat, go]
    denied_commands: ["rm -rf /"]
    protected_files: [/etc/passwd]
    protected_patterns: ["*.pem"]
`))
	require.NoError(t, err)
	assert.True(t, cfg.Tools.Safety.Enabled)
	assert.Equal(t, []string{"ls", "cat", "go"}, cfg.Tools.Safety.AllowedCommands)
	assert.Equal(t, []string{"rm -rf /"}, cfg.Tools.Safety.DeniedCommands)
	assert.Equal(t, []string{"*.pem"}, cfg.Tools.Safety.ProtectedPatterns)
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "agentmesh.yaml")
	require.NoError(t, os.WriteFile(path, []byte(minimalYAML), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "primary", cfg.LLM.Endpoints[0].Name)

	_, err = Load(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)
}

func TestInvalidYAMLRejected(t *testing.T) {
	_, err := Parse([]byte("mode: [unclosed"))
	assert.Error(t, err)
}

func TestWatchReloadsOnChange(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "agentmesh.yaml")
	require.NoError(t, os.WriteFile(path, []byte(minimalYAML), 0o644))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reloaded := make(chan *Config, 1)
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = Watch(ctx, path, func(cfg *Config) {
			select {
			case reloaded <- cfg:
			default:
			}
		})
	}()

	// Give the watcher time to register before touching the file.
	time.Sleep(300 * time.Millisecond)
	updated := minimalYAML + "workflows:\n  max_iterations: 7\n  timeout_seconds: 120\n"
	require.NoError(t, os.WriteFile(path, []byte(updated), 0o644))

	select {
	case cfg := <-reloaded:
		assert.Equal(t, 7, cfg.Workflows.MaxIterations)
	case <-time.After(5 * time.Second):
		t.Fatal("config change was not observed")
	}

	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("watcher did not stop on context cancellation")
	}
}

func TestWatchSkipsInvalidIntermediateState(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "agentmesh.yaml")
	require.NoError(t, os.WriteFile(path, []byte(minimalYAML), 0o644))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reloaded := make(chan *Config, 2)
	go func() {
		_ = Watch(ctx, path, func(cfg *Config) { reloaded <- cfg })
	}()

	time.Sleep(300 * time.Millisecond)
	require.NoError(t, os.WriteFile(path, []byte("mode: [broken"), 0o644))
	time.Sleep(500 * time.Millisecond)
	require.NoError(t, os.WriteFile(path, []byte(minimalYAML), 0o644))

	select {
	case cfg := <-reloaded:
		// Only the valid rewrite comes through.
		assert.Equal(t, "on-premise", cfg.Mode)
	case <-time.After(5 * time.Second):
		t.Fatal("valid config change was not observed")
	}
}
