// Package config loads and validates warren.yml, the fleet configuration.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/dyluth/warren/internal/instance"
)

// Config is the top-level warren.yml configuration.
type Config struct {
	Version  string `yaml:"version"`
	Instance string `yaml:"instance,omitempty"`
	RedisURL string `yaml:"redis_url,omitempty"`

	Orchestrator *OrchestratorConfig    `yaml:"orchestrator,omitempty"`
	Dispatcher   *DispatcherConfig      `yaml:"dispatcher,omitempty"`
	Runtimes     *RuntimesConfig        `yaml:"runtimes,omitempty"`
	Sidecar      *SidecarConfig         `yaml:"sidecar,omitempty"`
	Health       *HealthConfig          `yaml:"health,omitempty"`
	Agents       map[string]AgentConfig `yaml:"agents"`
}

// OrchestratorConfig bounds runtime decomposition.
type OrchestratorConfig struct {
	MaxDepth      *int `yaml:"max_depth,omitempty"`       // default 3
	MaxSubtasks   *int `yaml:"max_subtasks,omitempty"`    // default 10
	MaxTotalNodes *int `yaml:"max_total_nodes,omitempty"` // default 100
}

// DispatcherConfig tunes the auction.
type DispatcherConfig struct {
	BidWindowMs      *int   `yaml:"bid_window_ms,omitempty"`      // default 250
	ApprovalTimeoutS *int   `yaml:"approval_timeout_s,omitempty"` // default 60
	Approver         string `yaml:"approver,omitempty"`           // channel trusted for risk approvals
}

// RuntimesConfig points at the runtime catalog files.
type RuntimesConfig struct {
	Catalog       string `yaml:"catalog,omitempty"`        // runtimes.json
	LegacyCatalog string `yaml:"legacy_catalog,omitempty"` // cli-providers.json
}

// SidecarConfig locates the knowledge sidecar binary.
type SidecarConfig struct {
	Binary   string `yaml:"binary,omitempty"`
	TimeoutS *int   `yaml:"timeout_s,omitempty"` // default 5
}

// HealthConfig enables the health/metrics HTTP listener.
type HealthConfig struct {
	Addr string `yaml:"addr,omitempty"` // e.g. ":9090"; empty disables
}

// AgentConfig describes one agent of the fleet.
type AgentConfig struct {
	Capabilities []string     `yaml:"capabilities"`
	Runtime      string       `yaml:"runtime"`
	Model        *ModelConfig `yaml:"model,omitempty"`
	Capacity     *int         `yaml:"capacity,omitempty"` // default 1
	EstimateS    *int         `yaml:"estimate_s,omitempty"`
	WorkDir      string       `yaml:"workdir,omitempty"`

	// Visual is optional render metadata passed through to the viewport.
	Visual *VisualConfig `yaml:"visual,omitempty"`

	// ActivityKeywords overrides the output classifier's keyword lists.
	// Keys: typing, reading, thinking, waiting.
	ActivityKeywords map[string][]string `yaml:"activity_keywords,omitempty"`
}

// VisualConfig is the viewport render metadata for one agent.
type VisualConfig struct {
	Archetype string `yaml:"archetype,omitempty"`
	Color     string `yaml:"color,omitempty"`
	Label     string `yaml:"label,omitempty"`
}

// ModelConfig is the per-agent model override merged over the runtime's
// default model.
type ModelConfig struct {
	Provider   string            `yaml:"provider,omitempty"`
	ModelID    string            `yaml:"model_id,omitempty"`
	Parameters map[string]string `yaml:"parameters,omitempty"`
}

var validActivities = map[string]bool{
	"typing":   true,
	"reading":  true,
	"thinking": true,
	"waiting":  true,
}

// Validate performs strict validation and fills in defaults.
func (c *Config) Validate() error {
	if c.Version != "1.0" {
		return fmt.Errorf("unsupported version: %s (expected: 1.0)", c.Version)
	}
	if c.Instance == "" {
		c.Instance = "default"
	}
	if err := instance.ValidateName(c.Instance); err != nil {
		return err
	}
	if c.RedisURL == "" {
		c.RedisURL = "redis://localhost:6379"
	}
	if len(c.Agents) == 0 {
		return fmt.Errorf("no agents defined")
	}

	if c.Orchestrator == nil {
		c.Orchestrator = &OrchestratorConfig{}
	}
	if err := c.Orchestrator.validate(); err != nil {
		return err
	}

	if c.Dispatcher == nil {
		c.Dispatcher = &DispatcherConfig{}
	}
	if err := c.Dispatcher.validate(); err != nil {
		return err
	}

	if c.Sidecar != nil && c.Sidecar.TimeoutS != nil && *c.Sidecar.TimeoutS <= 0 {
		return fmt.Errorf("sidecar.timeout_s must be > 0, got %d", *c.Sidecar.TimeoutS)
	}

	for name, agent := range c.Agents {
		if err := agent.Validate(name); err != nil {
			return err
		}
		// Validate mutates defaults on the copy; store it back.
		c.Agents[name] = agent
	}
	return nil
}

func (o *OrchestratorConfig) validate() error {
	if o.MaxDepth == nil {
		o.MaxDepth = intPtr(3)
	}
	if o.MaxSubtasks == nil {
		o.MaxSubtasks = intPtr(10)
	}
	if o.MaxTotalNodes == nil {
		o.MaxTotalNodes = intPtr(100)
	}
	if *o.MaxDepth < 1 {
		return fmt.Errorf("orchestrator.max_depth must be >= 1, got %d", *o.MaxDepth)
	}
	if *o.MaxSubtasks < 1 {
		return fmt.Errorf("orchestrator.max_subtasks must be >= 1, got %d", *o.MaxSubtasks)
	}
	if *o.MaxTotalNodes < 1 {
		return fmt.Errorf("orchestrator.max_total_nodes must be >= 1, got %d", *o.MaxTotalNodes)
	}
	return nil
}

func (d *DispatcherConfig) validate() error {
	if d.BidWindowMs == nil {
		d.BidWindowMs = intPtr(250)
	}
	if d.ApprovalTimeoutS == nil {
		d.ApprovalTimeoutS = intPtr(60)
	}
	if *d.BidWindowMs < 0 {
		return fmt.Errorf("dispatcher.bid_window_ms must be >= 0, got %d", *d.BidWindowMs)
	}
	if *d.ApprovalTimeoutS < 1 {
		return fmt.Errorf("dispatcher.approval_timeout_s must be >= 1, got %d", *d.ApprovalTimeoutS)
	}
	return nil
}

// Validate checks a single agent configuration and applies its defaults.
func (a *AgentConfig) Validate(name string) error {
	if a.Runtime == "" {
		return fmt.Errorf("agent '%s': runtime is required", name)
	}
	if len(a.Capabilities) == 0 {
		return fmt.Errorf("agent '%s': at least one capability is required", name)
	}

	if a.Capacity == nil {
		a.Capacity = intPtr(1)
	}
	if *a.Capacity < 1 {
		return fmt.Errorf("agent '%s': capacity must be >= 1, got %d", name, *a.Capacity)
	}
	if a.EstimateS != nil && *a.EstimateS < 1 {
		return fmt.Errorf("agent '%s': estimate_s must be >= 1, got %d", name, *a.EstimateS)
	}

	for activity := range a.ActivityKeywords {
		if !validActivities[activity] {
			return fmt.Errorf("agent '%s': unknown activity '%s' in activity_keywords (valid: typing, reading, thinking, waiting)", name, activity)
		}
	}
	return nil
}

// BidWindow returns the configured auction window.
func (d *DispatcherConfig) BidWindow() time.Duration {
	return time.Duration(*d.BidWindowMs) * time.Millisecond
}

// ApprovalTimeout returns the configured risk-approval window.
func (d *DispatcherConfig) ApprovalTimeout() time.Duration {
	return time.Duration(*d.ApprovalTimeoutS) * time.Second
}

// Estimate returns the agent's configured duration estimate, or zero when
// unset (callers apply their own default).
func (a *AgentConfig) Estimate() time.Duration {
	if a.EstimateS == nil {
		return 0
	}
	return time.Duration(*a.EstimateS) * time.Second
}

// Load reads and validates warren.yml from the specified path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

func intPtr(v int) *int { return &v }
