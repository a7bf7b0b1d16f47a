// Package config provides configuration types and loading for relaygent.
package config

import (
	"github.com/relaygent/relaygent/internal/policy"
)

// Config is the root configuration struct.
// Top-level groups: Paths, Model, Providers, Engine, Agents.
type Config struct {
	Paths     PathsConfig     `json:"paths"`
	Model     ModelConfig     `json:"model"`
	Providers ProvidersConfig `json:"providers"`
	Engine    EngineConfig    `json:"engine"`
	Agents    AgentsConfig    `json:"agents"`
}

// ---------------------------------------------------------------------------
// Paths – filesystem locations
// ---------------------------------------------------------------------------

// PathsConfig groups all filesystem path settings.
type PathsConfig struct {
	Workspace  string `json:"workspace" envconfig:"WORKSPACE"`
	TimelineDB string `json:"timelineDb" envconfig:"TIMELINE_DB"`
}

// ---------------------------------------------------------------------------
// Model – LLM behaviour
// ---------------------------------------------------------------------------

// ModelConfig groups LLM model settings.
type ModelConfig struct {
	Name        string  `json:"name" envconfig:"NAME"`
	MaxTokens   int     `json:"maxTokens" envconfig:"MAX_TOKENS"`
	Temperature float64 `json:"temperature" envconfig:"TEMPERATURE"`
	// ContextWindows maps model name to its maximum context size in tokens.
	ContextWindows map[string]int `json:"contextWindows"`
}

// ContextWindow returns the context size for a model, falling back to a
// conservative default when the model is unknown.
func (m ModelConfig) ContextWindow(model string) int {
	if n, ok := m.ContextWindows[model]; ok && n > 0 {
		return n
	}
	return 128000
}

// ---------------------------------------------------------------------------
// Providers – LLM API keys & endpoints
// ---------------------------------------------------------------------------

// ProvidersConfig contains LLM provider configurations.
type ProvidersConfig struct {
	OpenAI     ProviderConfig `json:"openai"`
	OpenRouter ProviderConfig `json:"openrouter"`
}

// ProviderConfig contains settings for a single LLM provider.
type ProviderConfig struct {
	APIKey  string `json:"apiKey" envconfig:"API_KEY"`
	APIBase string `json:"apiBase,omitempty" envconfig:"API_BASE"`
}

// ---------------------------------------------------------------------------
// Engine – execution loop and scheduler behaviour
// ---------------------------------------------------------------------------

// EngineConfig contains settings for the recursive execution engine.
type EngineConfig struct {
	MaxIterations int `json:"maxIterations" envconfig:"MAX_ITERATIONS"`
	// SpawnParallelism bounds the worker pool for one spawn batch.
	SpawnParallelism int `json:"spawnParallelism" envconfig:"SPAWN_PARALLELISM"`
	MaxSpawnDepth    int `json:"maxSpawnDepth" envconfig:"MAX_SPAWN_DEPTH"`
	// CompactionThreshold is the context-utilization ratio that marks a
	// pending compaction warning (0 < t <= 1).
	CompactionThreshold float64 `json:"compactionThreshold" envconfig:"COMPACTION_THRESHOLD"`
	DryRun              bool    `json:"dryRun" envconfig:"DRY_RUN"`
	AutoApproveWrites   bool    `json:"autoApproveWrites" envconfig:"AUTO_APPROVE_WRITES"`
}

// ---------------------------------------------------------------------------
// Agents – profile definitions
// ---------------------------------------------------------------------------

// AgentsConfig holds the main agent profile and named sub-agent profiles.
type AgentsConfig struct {
	Main      ProfileConfig            `json:"main"`
	Subagents map[string]ProfileConfig `json:"subagents,omitempty"`
}

// ProfileConfig is the serialized form of an agent profile. Named sub-agent
// entries are partial: unset fields inherit from the spawning parent.
type ProfileConfig struct {
	DisplayName         string         `json:"displayName,omitempty"`
	SystemPrompt        string         `json:"systemPrompt,omitempty"`
	Model               string         `json:"model,omitempty"`
	Tools               []string       `json:"tools,omitempty"`
	ToolsDeny           []string       `json:"toolsDeny,omitempty"`
	Permissions         *policy.Config `json:"permissions,omitempty"`
	CompactionThreshold float64        `json:"compactionThreshold,omitempty"`
	MaxDepth            int            `json:"maxDepth,omitempty"`
}

// Defaults fills zero values with engine defaults.
func (c *Config) Defaults() {
	if c.Model.Name == "" {
		c.Model.Name = "gpt-4o"
	}
	if c.Model.MaxTokens == 0 {
		c.Model.MaxTokens = 4096
	}
	if c.Model.Temperature == 0 {
		c.Model.Temperature = 0.7
	}
	if c.Engine.MaxIterations == 0 {
		c.Engine.MaxIterations = 20
	}
	if c.Engine.SpawnParallelism == 0 {
		c.Engine.SpawnParallelism = 4
	}
	if c.Engine.MaxSpawnDepth == 0 {
		c.Engine.MaxSpawnDepth = 3
	}
	if c.Engine.CompactionThreshold == 0 {
		c.Engine.CompactionThreshold = 0.8
	}
}
