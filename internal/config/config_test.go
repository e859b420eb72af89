package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "warren.yml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

const minimalConfig = `
version: "1.0"
agents:
  fixer:
    capabilities: [go]
    runtime: shell
`

func TestLoadMinimal(t *testing.T) {
	cfg, err := Load(writeConfig(t, minimalConfig))
	require.NoError(t, err)

	assert.Equal(t, "default", cfg.Instance)
	assert.Equal(t, "redis://localhost:6379", cfg.RedisURL)
	assert.Equal(t, 3, *cfg.Orchestrator.MaxDepth)
	assert.Equal(t, 10, *cfg.Orchestrator.MaxSubtasks)
	assert.Equal(t, 100, *cfg.Orchestrator.MaxTotalNodes)
	assert.Equal(t, 250*time.Millisecond, cfg.Dispatcher.BidWindow())
	assert.Equal(t, time.Minute, cfg.Dispatcher.ApprovalTimeout())

	fixer := cfg.Agents["fixer"]
	assert.Equal(t, 1, *fixer.Capacity)
	assert.Equal(t, time.Duration(0), fixer.Estimate())
}

func TestLoadFull(t *testing.T) {
	cfg, err := Load(writeConfig(t, `
version: "1.0"
instance: fleet-1
redis_url: redis://redis:6379/2
orchestrator:
  max_depth: 2
  max_subtasks: 5
  max_total_nodes: 40
dispatcher:
  bid_window_ms: 500
  approval_timeout_s: 30
  approver: approvals
runtimes:
  catalog: runtimes.json
  legacy_catalog: cli-providers.json
sidecar:
  binary: /usr/local/bin/memory-sidecar
  timeout_s: 10
health:
  addr: ":9090"
agents:
  fixer:
    capabilities: [go, git]
    runtime: claude
    capacity: 2
    estimate_s: 120
    workdir: /work
    visual:
      archetype: badger
      color: "#aa3355"
    model:
      provider: anthropic
      model_id: large
      parameters:
        temperature: "0.2"
    activity_keywords:
      typing: [patch]
`))
	require.NoError(t, err)

	assert.Equal(t, "fleet-1", cfg.Instance)
	assert.Equal(t, 2, *cfg.Orchestrator.MaxDepth)
	assert.Equal(t, 500*time.Millisecond, cfg.Dispatcher.BidWindow())
	assert.Equal(t, 30*time.Second, cfg.Dispatcher.ApprovalTimeout())
	assert.Equal(t, "approvals", cfg.Dispatcher.Approver)
	assert.Equal(t, "runtimes.json", cfg.Runtimes.Catalog)
	assert.Equal(t, ":9090", cfg.Health.Addr)

	fixer := cfg.Agents["fixer"]
	assert.Equal(t, []string{"go", "git"}, fixer.Capabilities)
	assert.Equal(t, 2, *fixer.Capacity)
	assert.Equal(t, 2*time.Minute, fixer.Estimate())
	assert.Equal(t, "badger", fixer.Visual.Archetype)
	assert.Equal(t, "#aa3355", fixer.Visual.Color)
	assert.Equal(t, "anthropic", fixer.Model.Provider)
	assert.Equal(t, "0.2", fixer.Model.Parameters["temperature"])
	assert.Equal(t, []string{"patch"}, fixer.ActivityKeywords["typing"])
}

func TestValidationErrors(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{
			name:    "wrong version",
			content: `{version: "2.0", agents: {a: {capabilities: [go], runtime: sh}}}`,
			wantErr: "unsupported version",
		},
		{
			name:    "no agents",
			content: `{version: "1.0", agents: {}}`,
			wantErr: "no agents defined",
		},
		{
			name:    "agent without runtime",
			content: `{version: "1.0", agents: {a: {capabilities: [go]}}}`,
			wantErr: "runtime is required",
		},
		{
			name:    "agent without capabilities",
			content: `{version: "1.0", agents: {a: {runtime: sh}}}`,
			wantErr: "capability is required",
		},
		{
			name:    "zero capacity",
			content: `{version: "1.0", agents: {a: {capabilities: [go], runtime: sh, capacity: 0}}}`,
			wantErr: "capacity must be >= 1",
		},
		{
			name:    "bad estimate",
			content: `{version: "1.0", agents: {a: {capabilities: [go], runtime: sh, estimate_s: 0}}}`,
			wantErr: "estimate_s must be >= 1",
		},
		{
			name:    "unknown activity keyword",
			content: `{version: "1.0", agents: {a: {capabilities: [go], runtime: sh, activity_keywords: {dancing: [tango]}}}}`,
			wantErr: "unknown activity",
		},
		{
			name:    "bad instance name",
			content: `{version: "1.0", instance: "My_Fleet", agents: {a: {capabilities: [go], runtime: sh}}}`,
			wantErr: "invalid instance name",
		},
		{
			name:    "bad max depth",
			content: `{version: "1.0", orchestrator: {max_depth: 0}, agents: {a: {capabilities: [go], runtime: sh}}}`,
			wantErr: "max_depth must be >= 1",
		},
		{
			name:    "negative bid window",
			content: `{version: "1.0", dispatcher: {bid_window_ms: -1}, agents: {a: {capabilities: [go], runtime: sh}}}`,
			wantErr: "bid_window_ms must be >= 0",
		},
		{
			name:    "bad sidecar timeout",
			content: `{version: "1.0", sidecar: {timeout_s: 0}, agents: {a: {capabilities: [go], runtime: sh}}}`,
			wantErr: "timeout_s must be > 0",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.content))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read config")
}

func TestLoadInvalidYAML(t *testing.T) {
	_, err := Load(writeConfig(t, "version: [unclosed"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse YAML")
}
