// Package agent implements the recursive execution engine: the LLM/tool
// run loop, the parallel spawn scheduler, and conversation compaction.
package agent

import (
	"fmt"

	"github.com/relaygent/relaygent/internal/config"
	"github.com/relaygent/relaygent/internal/policy"
)

// Profile is the immutable configuration of one agent definition. It is
// copied, never shared, when instantiating a child.
type Profile struct {
	DisplayName  string
	SystemPrompt string
	Model        string
	// Tools is the allowlist of tool names; empty means all registered
	// tools. ToolsDeny wins over the allowlist.
	Tools     []string
	ToolsDeny []string
	// Permissions is the resolved path authorization for agents built from
	// this profile. Children always receive a clone.
	Permissions *policy.Permissions
	// Subagents maps predefined sub-agent names to their partial profiles.
	Subagents map[string]config.ProfileConfig
	// CompactionThreshold overrides the engine default when > 0.
	CompactionThreshold float64
	MaxDepth            int
}

const defaultSystemPrompt = "You are a capable assistant. Use the available tools to complete the user's task. Delegate independent sub-tasks with spawn_agent when it helps."

const subagentSystemPrompt = "You are a sub-agent working on a delegated task. Complete it using the available tools and reply with your final result only."

// ProfileFromConfig resolves a serialized profile against baseDir. Path
// permissions are resolved here so a bad permissions block fails at
// construction, not mid-run.
func ProfileFromConfig(pc config.ProfileConfig, baseDir string, subagents map[string]config.ProfileConfig) (*Profile, error) {
	perms, err := policy.FromConfig(pc.Permissions, baseDir)
	if err != nil {
		return nil, fmt.Errorf("profile %q: %w", pc.DisplayName, err)
	}
	p := &Profile{
		DisplayName:         pc.DisplayName,
		SystemPrompt:        pc.SystemPrompt,
		Model:               pc.Model,
		Tools:               append([]string(nil), pc.Tools...),
		ToolsDeny:           append([]string(nil), pc.ToolsDeny...),
		Permissions:         perms,
		Subagents:           subagents,
		CompactionThreshold: pc.CompactionThreshold,
		MaxDepth:            pc.MaxDepth,
	}
	if p.SystemPrompt == "" {
		p.SystemPrompt = defaultSystemPrompt
	}
	return p, nil
}

// Clone returns an owned deep copy of the profile. The subagent definition
// map is shared; it is read-only after construction.
func (p *Profile) Clone() *Profile {
	out := *p
	out.Tools = append([]string(nil), p.Tools...)
	out.ToolsDeny = append([]string(nil), p.ToolsDeny...)
	if p.Permissions != nil {
		out.Permissions = p.Permissions.Clone()
	}
	return &out
}

// resolveSubagent builds the profile for a named sub-agent, inheriting unset
// fields from the spawning parent.
func (p *Profile) resolveSubagent(name, baseDir string) (*Profile, error) {
	pc, ok := p.Subagents[name]
	if !ok {
		return nil, fmt.Errorf("unknown sub-agent: %s", name)
	}
	child, err := ProfileFromConfig(pc, baseDir, p.Subagents)
	if err != nil {
		return nil, err
	}
	if child.DisplayName == "" {
		child.DisplayName = name
	}
	if pc.SystemPrompt == "" {
		child.SystemPrompt = subagentSystemPrompt
	}
	if child.Model == "" {
		child.Model = p.Model
	}
	if len(child.Tools) == 0 {
		child.Tools = append([]string(nil), p.Tools...)
	}
	if child.CompactionThreshold == 0 {
		child.CompactionThreshold = p.CompactionThreshold
	}
	return child, nil
}
