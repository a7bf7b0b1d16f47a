package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// Spawn tool names. Only results produced by these tools are eligible for
// sentinel decoding; the same bytes from any other tool pass through as
// ordinary text.
const (
	SpawnAgentToolName      = "spawn_agent"
	SpawnPredefinedToolName = "spawn_predefined_agent"
)

// Sentinel prefixes carried through the tool-result channel.
const (
	spawnSentinel      = "__SPAWN_AGENT__:"
	predefinedSentinel = "__SPAWN_PREDEFINED__:"
)

// Spawn kinds.
const (
	SpawnDynamic    = "dynamic"
	SpawnPredefined = "predefined"
)

// SpawnDirective is a deferred request for a child agent. It is created by
// decoding a sentinel result and consumed exactly once by the scheduler.
type SpawnDirective struct {
	Kind      string   `json:"kind"`
	Task      string   `json:"task"`
	Context   string   `json:"context,omitempty"`
	Model     string   `json:"model,omitempty"`
	Tools     []string `json:"tools,omitempty"`
	AgentName string   `json:"agentName,omitempty"`
	// ToolCallID ties the eventual result back to the originating call so
	// it can be reinserted at the correct conversation position.
	ToolCallID string `json:"-"`
}

// Placeholder returns the human-readable text substituted for the sentinel
// in the conversation fed back to the LLM.
func (d *SpawnDirective) Placeholder() string {
	if d.Kind == SpawnPredefined {
		return fmt.Sprintf("[Spawning predefined agent %q...]", d.AgentName)
	}
	return "[Spawning agent...]"
}

// DecodeSpawn classifies a tool result. It returns nil when the result is
// ordinary text to pass through unchanged. Decoding is gated on the tool
// name that produced the string, not on content alone.
func DecodeSpawn(toolName, raw string) *SpawnDirective {
	switch toolName {
	case SpawnAgentToolName:
		payload, ok := strings.CutPrefix(raw, spawnSentinel)
		if !ok {
			return nil
		}
		return decodeDynamicPayload(payload)
	case SpawnPredefinedToolName:
		payload, ok := strings.CutPrefix(raw, predefinedSentinel)
		if !ok {
			return nil
		}
		return decodePredefinedPayload(payload)
	default:
		return nil
	}
}

// decodeDynamicPayload tries JSON first, then the legacy pipe encoding
// "task|context|model". JSON is primary because task text may itself
// contain pipes.
func decodeDynamicPayload(payload string) *SpawnDirective {
	var d SpawnDirective
	if err := json.Unmarshal([]byte(payload), &d); err == nil && d.Task != "" {
		d.Kind = SpawnDynamic
		return &d
	}
	parts := strings.SplitN(payload, "|", 3)
	if strings.TrimSpace(parts[0]) == "" {
		return nil
	}
	d = SpawnDirective{Kind: SpawnDynamic, Task: parts[0]}
	if len(parts) > 1 {
		d.Context = parts[1]
	}
	if len(parts) > 2 {
		d.Model = parts[2]
	}
	return &d
}

// decodePredefinedPayload tries JSON first, then legacy "name|task".
func decodePredefinedPayload(payload string) *SpawnDirective {
	var d SpawnDirective
	if err := json.Unmarshal([]byte(payload), &d); err == nil && d.AgentName != "" {
		d.Kind = SpawnPredefined
		return &d
	}
	parts := strings.SplitN(payload, "|", 2)
	if strings.TrimSpace(parts[0]) == "" {
		return nil
	}
	d = SpawnDirective{Kind: SpawnPredefined, AgentName: parts[0]}
	if len(parts) > 1 {
		d.Task = parts[1]
	}
	return &d
}

// SpawnAgentTool encodes a dynamic spawn request as a sentinel result. The
// execution loop recognizes the sentinel and defers the actual spawn to the
// parallel scheduler; this tool performs no spawning itself.
type SpawnAgentTool struct{}

// NewSpawnAgentTool creates a new SpawnAgentTool.
func NewSpawnAgentTool() *SpawnAgentTool { return &SpawnAgentTool{} }

func (t *SpawnAgentTool) Name() string { return SpawnAgentToolName }

func (t *SpawnAgentTool) Description() string {
	return "Delegate a sub-task to a new agent that runs concurrently with other spawned agents. Returns the sub-agent's final answer."
}

func (t *SpawnAgentTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"task": map[string]any{
				"type":        "string",
				"description": "Task instruction for the sub-agent.",
			},
			"context": map[string]any{
				"type":        "string",
				"description": "Optional background context for the task.",
			},
			"model": map[string]any{
				"type":        "string",
				"description": "Optional model override for the sub-agent.",
			},
			"tools": map[string]any{
				"type":        "array",
				"items":       map[string]any{"type": "string"},
				"description": "Optional tool allowlist for the sub-agent.",
			},
		},
		"required": []string{"task"},
	}
}

func (t *SpawnAgentTool) Execute(ctx context.Context, params map[string]any) (string, error) {
	task := strings.TrimSpace(GetString(params, "task", ""))
	if task == "" {
		return "Error: task is required", nil
	}
	d := SpawnDirective{
		Kind:    SpawnDynamic,
		Task:    task,
		Context: GetString(params, "context", ""),
		Model:   strings.TrimSpace(GetString(params, "model", "")),
		Tools:   GetStringSlice(params, "tools"),
	}
	payload, err := json.Marshal(&d)
	if err != nil {
		return "", fmt.Errorf("encode spawn payload: %w", err)
	}
	return spawnSentinel + string(payload), nil
}

// SpawnPredefinedTool encodes a spawn of a named sub-agent profile.
type SpawnPredefinedTool struct {
	agentNames func() []string
}

// NewSpawnPredefinedTool creates a new SpawnPredefinedTool. agentNames
// supplies the profile names listed in the tool description.
func NewSpawnPredefinedTool(agentNames func() []string) *SpawnPredefinedTool {
	return &SpawnPredefinedTool{agentNames: agentNames}
}

func (t *SpawnPredefinedTool) Name() string { return SpawnPredefinedToolName }

func (t *SpawnPredefinedTool) Description() string {
	desc := "Delegate a task to a predefined named sub-agent."
	if t.agentNames != nil {
		if names := t.agentNames(); len(names) > 0 {
			desc += " Available: " + strings.Join(names, ", ") + "."
		}
	}
	return desc
}

func (t *SpawnPredefinedTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"agent_name": map[string]any{
				"type":        "string",
				"description": "Name of the predefined sub-agent profile.",
			},
			"task": map[string]any{
				"type":        "string",
				"description": "Task instruction for the sub-agent.",
			},
		},
		"required": []string{"agent_name", "task"},
	}
}

func (t *SpawnPredefinedTool) Execute(ctx context.Context, params map[string]any) (string, error) {
	name := strings.TrimSpace(GetString(params, "agent_name", ""))
	task := strings.TrimSpace(GetString(params, "task", ""))
	if name == "" {
		return "Error: agent_name is required", nil
	}
	if task == "" {
		return "Error: task is required", nil
	}
	d := SpawnDirective{Kind: SpawnPredefined, AgentName: name, Task: task}
	payload, err := json.Marshal(&d)
	if err != nil {
		return "", fmt.Errorf("encode spawn payload: %w", err)
	}
	return predefinedSentinel + string(payload), nil
}
