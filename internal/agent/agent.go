package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/relaygent/relaygent/internal/approval"
	"github.com/relaygent/relaygent/internal/policy"
	"github.com/relaygent/relaygent/internal/provider"
	"github.com/relaygent/relaygent/internal/status"
	"github.com/relaygent/relaygent/internal/timeline"
	"github.com/relaygent/relaygent/internal/tools"
)

// Settings carries engine-level collaborators and limits. They are supplied
// at construction and shared by every agent in one spawn tree; nothing here
// is read from the ambient environment inside the engine.
type Settings struct {
	Provider provider.LLMProvider
	// BuildRegistry constructs the tool registry for one agent instance,
	// bound to that agent's own context (permissions, gate, dry-run).
	BuildRegistry func(*Context) *tools.Registry
	// ContextWindow maps a model name to its context size in tokens.
	// Nil falls back to a conservative default.
	ContextWindow func(model string) int

	MaxTokens           int
	Temperature         float64
	MaxIterations       int
	SpawnParallelism    int
	MaxSpawnDepth       int
	CompactionThreshold float64
	BaseDir             string
	DryRun              bool

	Gate     *approval.Gate
	Status   status.Callback
	Timeline *timeline.Service
	TraceID  string
	Logger   *slog.Logger
}

const emptyContentFallback = "I could not produce a textual response. Please try rephrasing your question."

// RecursiveAgent drives one agent through LLM and tool turns. The
// conversation message list is exclusively owned by this instance and is
// never touched from more than one goroutine.
type RecursiveAgent struct {
	settings Settings
	profile  *Profile
	actx     *Context
	registry *tools.Registry
	logger   *slog.Logger

	messages             []provider.Message
	lastPromptTokens     int
	lastCompletionTokens int
	maxContextTokens     int
	compactionPending    bool
	iterationLimitHit    bool

	// childCounter numbers this agent's spawned children. It is the only
	// state mutated concurrently within one parent.
	childCounter atomic.Int64

	failedWrites []writeFailure
}

type writeFailure struct {
	Tool string
	Err  string
}

// New constructs the top-level agent of a session.
func New(settings Settings, profile *Profile) *RecursiveAgent {
	return NewChild(settings, profile, "main", 0, "")
}

// NewChild constructs an agent at an explicit position in the spawn tree.
// The profile must already carry the permission set this agent owns.
func NewChild(settings Settings, profile *Profile, agentID string, depth int, parentID string) *RecursiveAgent {
	maxDepth := profile.MaxDepth
	if maxDepth == 0 {
		maxDepth = settings.MaxSpawnDepth
	}
	perms := profile.Permissions
	if perms == nil {
		perms = &policy.Permissions{ConvertedAccess: policy.ConvertedStrict}
	}
	actx := &Context{
		AgentID:     agentID,
		Depth:       depth,
		MaxDepth:    maxDepth,
		ParentID:    parentID,
		BaseDir:     settings.BaseDir,
		Model:       profile.Model,
		Permissions: perms.Clone(),
		Gate:        settings.Gate,
		DryRun:      settings.DryRun,
	}

	logger := settings.Logger
	if logger == nil {
		logger = slog.Default()
	}
	a := &RecursiveAgent{
		settings: settings,
		profile:  profile,
		actx:     actx,
		logger:   logger.With("agent_id", agentID, "depth", depth),
	}
	if settings.BuildRegistry != nil {
		a.registry = settings.BuildRegistry(actx)
	} else {
		a.registry = tools.NewRegistry()
	}
	a.maxContextTokens = 128000
	if settings.ContextWindow != nil {
		if n := settings.ContextWindow(a.model()); n > 0 {
			a.maxContextTokens = n
		}
	}
	return a
}

// Context returns the agent's runtime context. The host drains pending
// actions from it after each Run call.
func (a *RecursiveAgent) Context() *Context { return a.actx }

// Profile returns the agent's immutable profile.
func (a *RecursiveAgent) Profile() *Profile { return a.profile }

// CompactionPending reports whether context utilization has crossed the
// compaction threshold since the last compaction.
func (a *RecursiveAgent) CompactionPending() bool { return a.compactionPending }

func (a *RecursiveAgent) model() string {
	if a.profile.Model != "" {
		return a.profile.Model
	}
	if a.settings.Provider != nil {
		return a.settings.Provider.DefaultModel()
	}
	return ""
}

// Run appends the user message and drives the loop until the model produces
// a final text answer or the iteration limit is reached.
func (a *RecursiveAgent) Run(ctx context.Context, userMessage string) (string, error) {
	if len(a.messages) == 0 {
		a.messages = append(a.messages, provider.Message{Role: "system", Content: a.profile.SystemPrompt})
	}
	a.messages = append(a.messages, provider.Message{Role: "user", Content: userMessage})
	a.iterationLimitHit = false
	return a.loop(ctx)
}

// Continue resumes the loop from the current conversation state after an
// iteration-limit stop, without appending a new user message.
func (a *RecursiveAgent) Continue(ctx context.Context) (string, error) {
	if !a.iterationLimitHit {
		return "", fmt.Errorf("nothing to continue: the last run did not stop at the iteration limit")
	}
	a.iterationLimitHit = false
	return a.loop(ctx)
}

func (a *RecursiveAgent) loop(ctx context.Context) (string, error) {
	maxIterations := a.settings.MaxIterations
	if maxIterations <= 0 {
		maxIterations = 20
	}

	for iteration := 1; iteration <= maxIterations; iteration++ {
		a.emit(status.WaitingOnModel(a.actx.AgentID, a.actx.Depth))
		a.logger.Debug("Calling LLM", "iteration", iteration, "messages", len(a.messages))

		resp, err := a.settings.Provider.Chat(ctx, &provider.ChatRequest{
			Messages:    a.messages,
			Tools:       a.toolDefinitions(),
			Model:       a.model(),
			MaxTokens:   a.settings.MaxTokens,
			Temperature: a.settings.Temperature,
		})
		if err != nil {
			return "", fmt.Errorf("LLM call failed: %w", err)
		}
		a.trackTokens(resp.Usage)
		a.record(timeline.SpanLLM, a.model(), map[string]any{
			"prompt_tokens": resp.Usage.PromptTokens,
			"tool_calls":    len(resp.ToolCalls),
		})

		if len(resp.ToolCalls) == 0 {
			a.messages = append(a.messages, provider.Message{Role: "assistant", Content: resp.Content})
			text := strings.TrimSpace(resp.Content)
			if text == "" {
				text = emptyContentFallback
			}
			if notice := a.writeFailureNotice(); notice != "" {
				text += notice
			}
			a.failedWrites = nil
			return text, nil
		}

		a.messages = append(a.messages, provider.Message{
			Role:      "assistant",
			Content:   resp.Content,
			ToolCalls: resp.ToolCalls,
		})
		if err := a.executeToolCalls(ctx, resp.ToolCalls); err != nil {
			return "", err
		}
	}

	a.iterationLimitHit = true
	a.logger.Warn("Iteration limit reached", "max_iterations", maxIterations)
	return fmt.Sprintf("Stopped after reaching the maximum of %d iterations. The conversation state is preserved; resume with continue to keep going.", maxIterations), nil
}

// executeToolCalls runs one turn's tool calls in request order, deferring
// spawn requests into a single concurrent batch executed at the end of the
// turn. Spawn results overwrite their placeholder messages before the next
// LLM call.
func (a *RecursiveAgent) executeToolCalls(ctx context.Context, calls []provider.ToolCall) error {
	var (
		spawns        []*tools.SpawnDirective
		writeAttempts int
		turnFailures  []writeFailure
	)

	for _, call := range calls {
		args := call.Arguments
		if args == nil {
			args = map[string]any{}
		}
		a.emit(status.ExecutingToolCall(a.actx.AgentID, a.actx.Depth, call.Name, args))

		result, err := a.registry.Execute(ctx, call.Name, args)
		if err != nil {
			result = fmt.Sprintf("Error: %v", err)
		}

		if d := tools.DecodeSpawn(call.Name, result); d != nil {
			d.ToolCallID = call.ID
			spawns = append(spawns, d)
			result = d.Placeholder()
		} else if a.registry.IsWriteTool(call.Name) {
			writeAttempts++
			if tools.IsErrorResult(result) {
				turnFailures = append(turnFailures, writeFailure{Tool: call.Name, Err: result})
			}
		}

		a.record(timeline.SpanTool, call.Name, map[string]any{"args": args, "result_len": len(result)})
		a.messages = append(a.messages, provider.Message{
			Role:       "tool",
			Content:    result,
			ToolCallID: call.ID,
		})
	}

	// A turn where every write attempt failed feeds the end-of-run notice.
	// A turn with at least one successful write resets it.
	if writeAttempts > 0 {
		if len(turnFailures) == writeAttempts {
			a.failedWrites = append(a.failedWrites, turnFailures...)
		} else {
			a.failedWrites = nil
		}
	}

	if len(spawns) == 0 {
		return nil
	}
	results, err := a.executeSpawnsParallel(ctx, spawns)
	if err != nil {
		return err
	}
	for i := len(a.messages) - 1; i >= 0 && len(results) > 0; i-- {
		msg := &a.messages[i]
		if msg.Role != "tool" {
			continue
		}
		if text, ok := results[msg.ToolCallID]; ok {
			msg.Content = text
			delete(results, msg.ToolCallID)
		}
	}
	return nil
}

// writeFailureNotice builds the deterministic correction appended to the
// final text when every write attempt in one or more turns failed. It is
// emitted regardless of what the assistant's own text claims.
func (a *RecursiveAgent) writeFailureNotice() string {
	if len(a.failedWrites) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("\n\nNote: the following file modification attempts failed and no changes were written:")
	for _, f := range a.failedWrites {
		b.WriteString(fmt.Sprintf("\n- %s: %s", f.Tool, f.Err))
	}
	return b.String()
}

func (a *RecursiveAgent) trackTokens(u provider.Usage) {
	a.lastPromptTokens = u.PromptTokens
	a.lastCompletionTokens = u.CompletionTokens
	if a.settings.Timeline != nil {
		if err := a.settings.Timeline.RecordUsage(a.settings.TraceID, a.actx.AgentID, a.model(), u.PromptTokens, u.CompletionTokens); err != nil {
			a.logger.Warn("Failed to record token usage", "error", err)
		}
	}

	threshold := a.compactionThreshold()
	if util := a.ContextUtilization(); util >= threshold && !a.compactionPending {
		a.compactionPending = true
		a.logger.Warn("Context utilization crossed compaction threshold",
			"utilization", fmt.Sprintf("%.2f", util), "threshold", threshold)
	}
}

func (a *RecursiveAgent) compactionThreshold() float64 {
	if a.profile.CompactionThreshold > 0 {
		return a.profile.CompactionThreshold
	}
	if a.settings.CompactionThreshold > 0 {
		return a.settings.CompactionThreshold
	}
	return 0.8
}

// toolDefinitions exposes the registry filtered by the profile's allow and
// deny lists.
func (a *RecursiveAgent) toolDefinitions() []provider.ToolDefinition {
	var defs []provider.ToolDefinition
	for _, t := range a.registry.List() {
		if !policy.ToolAllowed(t.Name(), a.profile.Tools, a.profile.ToolsDeny) {
			continue
		}
		defs = append(defs, provider.ToolDefinition{
			Type: "function",
			Function: provider.FunctionDef{
				Name:        t.Name(),
				Description: t.Description(),
				Parameters:  t.Parameters(),
			},
		})
	}
	return defs
}

func (a *RecursiveAgent) emit(s status.ToolStatus) {
	if a.settings.Status != nil {
		a.settings.Status(s)
	}
}

func (a *RecursiveAgent) record(spanType, content string, metadata map[string]any) {
	if a.settings.Timeline == nil {
		return
	}
	var meta string
	if metadata != nil {
		if b, err := json.Marshal(metadata); err == nil {
			meta = string(b)
		}
	}
	ev := &timeline.Event{
		EventID:  uuid.NewString(),
		TraceID:  a.settings.TraceID,
		AgentID:  a.actx.AgentID,
		Depth:    a.actx.Depth,
		SpanType: spanType,
		Content:  content,
		Metadata: meta,
	}
	if err := a.settings.Timeline.AddEvent(ev); err != nil {
		a.logger.Warn("Failed to record timeline event", "span", spanType, "error", err)
	}
}
