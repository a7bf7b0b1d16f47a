// Package status defines progress events published by running agents.
package status

import (
	"encoding/json"
	"regexp"
	"strings"
)

// Phase identifies what an agent is currently doing.
type Phase string

const (
	WaitingLLM    Phase = "WAITING_LLM"
	ExecutingTool Phase = "EXECUTING_TOOL"
	SpawningAgent Phase = "SPAWNING_AGENT"
)

// ToolStatus is an immutable progress event. All free-text fields are
// sanitized at construction; consumers render them directly.
type ToolStatus struct {
	Phase    Phase
	AgentID  string
	Depth    int
	ToolName string
	Display  string
	Args     map[string]any
}

// Callback receives status events. It may be invoked concurrently from
// worker goroutines and must be safe to call from any of them; ordering
// beyond eventual delivery is the caller's responsibility.
type Callback func(ToolStatus)

// WaitingOnModel reports an agent blocked on an LLM call.
func WaitingOnModel(agentID string, depth int) ToolStatus {
	return ToolStatus{Phase: WaitingLLM, AgentID: agentID, Depth: depth}
}

// ExecutingToolCall reports a tool execution with an argument preview.
func ExecutingToolCall(agentID string, depth int, toolName string, args map[string]any) ToolStatus {
	return ToolStatus{
		Phase:    ExecutingTool,
		AgentID:  agentID,
		Depth:    depth,
		ToolName: Sanitize(toolName),
		Display:  Sanitize(toolName + " " + argsPreview(args)),
		Args:     args,
	}
}

// Spawning reports sub-agent creation. display names the target ("dynamic"
// or a predefined agent name).
func Spawning(agentID string, depth int, display string) ToolStatus {
	return ToolStatus{
		Phase:   SpawningAgent,
		AgentID: agentID,
		Depth:   depth,
		Display: Sanitize(display),
	}
}

var controlSeq = regexp.MustCompile(`\x1b\[[0-9;?]*[a-zA-Z]|\x1b\][^\x07]*(\x07|\x1b\\)|[\x00-\x08\x0b-\x1f\x7f]`)

// Sanitize strips terminal control sequences and newlines from free text so
// events are safe to render on a terminal.
func Sanitize(s string) string {
	s = controlSeq.ReplaceAllString(s, "")
	s = strings.ReplaceAll(s, "\n", " ")
	s = strings.ReplaceAll(s, "\r", " ")
	return strings.TrimSpace(s)
}

// argsPreview returns a truncated JSON representation of tool arguments.
func argsPreview(args map[string]any) string {
	if len(args) == 0 {
		return "{}"
	}
	b, err := json.Marshal(args)
	if err != nil {
		return "{...}"
	}
	s := string(b)
	if len(s) > 200 {
		s = s[:200] + "..."
	}
	return s
}
