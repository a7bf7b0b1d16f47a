package cli

import (
	"bufio"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/fatih/color"
	"github.com/google/uuid"

	"github.com/relaygent/relaygent/internal/agent"
	"github.com/relaygent/relaygent/internal/approval"
	"github.com/relaygent/relaygent/internal/config"
	"github.com/relaygent/relaygent/internal/policy"
	"github.com/relaygent/relaygent/internal/provider"
	"github.com/relaygent/relaygent/internal/status"
	"github.com/relaygent/relaygent/internal/timeline"
	"github.com/relaygent/relaygent/internal/tools"
)

// session bundles everything one CLI invocation needs to drive the engine.
type session struct {
	cfg      *config.Config
	agent    *agent.RecursiveAgent
	timeline *timeline.Service
	traceID  string
}

func (s *session) close() {
	if s.timeline != nil {
		s.timeline.Close()
	}
}

// newSession loads config and constructs the top-level agent.
func newSession(dryRun, autoApprove bool) (*session, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if dryRun {
		cfg.Engine.DryRun = true
	}
	if autoApprove {
		cfg.Engine.AutoApproveWrites = true
	}

	prov, err := resolveProvider(cfg)
	if err != nil {
		return nil, err
	}

	var tl *timeline.Service
	if cfg.Paths.TimelineDB != "" {
		tl, err = timeline.NewService(cfg.Paths.TimelineDB)
		if err != nil {
			fmt.Printf("Timeline warning: %v (tracing disabled)\n", err)
			tl = nil
		}
	}

	traceID := uuid.NewString()
	gate := approval.NewGate(cfg.Engine.AutoApproveWrites, promptConfirm)
	if tl != nil {
		gate.SetRecorder(func(d approval.Decision) {
			tl.AddEvent(&timeline.Event{
				EventID:  d.ID,
				TraceID:  traceID,
				AgentID:  "gate",
				SpanType: timeline.SpanConfirm,
				Content:  fmt.Sprintf("%s %s approved=%v auto=%v", d.Operation, d.Path, d.Approved, d.Auto),
			})
		})
	}

	profile, err := agent.ProfileFromConfig(cfg.Agents.Main, cfg.Paths.Workspace, cfg.Agents.Subagents)
	if err != nil {
		return nil, err
	}
	if profile.Model == "" {
		profile.Model = cfg.Model.Name
	}

	subagentNames := func() []string {
		names := make([]string, 0, len(cfg.Agents.Subagents))
		for name := range cfg.Agents.Subagents {
			names = append(names, name)
		}
		sort.Strings(names)
		return names
	}

	settings := agent.Settings{
		Provider: prov,
		BuildRegistry: func(c *agent.Context) *tools.Registry {
			return buildRegistry(c, subagentNames)
		},
		ContextWindow:       cfg.Model.ContextWindow,
		MaxTokens:           cfg.Model.MaxTokens,
		Temperature:         cfg.Model.Temperature,
		MaxIterations:       cfg.Engine.MaxIterations,
		SpawnParallelism:    cfg.Engine.SpawnParallelism,
		MaxSpawnDepth:       cfg.Engine.MaxSpawnDepth,
		CompactionThreshold: cfg.Engine.CompactionThreshold,
		BaseDir:             cfg.Paths.Workspace,
		DryRun:              cfg.Engine.DryRun,
		Gate:                gate,
		Status:              printStatus,
		Timeline:            tl,
		TraceID:             traceID,
	}

	return &session{
		cfg:      cfg,
		agent:    agent.New(settings, profile),
		timeline: tl,
		traceID:  traceID,
	}, nil
}

// buildRegistry constructs the tool set for one agent instance, bound to
// that agent's own permission copy and gate.
func buildRegistry(c *agent.Context, subagentNames func() []string) *tools.Registry {
	deps := tools.FSDeps{
		Permissions: func() *policy.Permissions { return c.Permissions },
		Gate:        c.Gate,
		DryRun:      c.DryRun,
	}
	reg := tools.NewRegistry()
	reg.Register(tools.NewReadFileTool(deps))
	reg.Register(tools.NewWriteFileTool(deps))
	reg.Register(tools.NewEditFileTool(deps))
	reg.Register(tools.NewListDirTool(deps))
	reg.Register(tools.NewSpawnAgentTool())
	reg.Register(tools.NewSpawnPredefinedTool(subagentNames))
	return reg
}

// resolveProvider picks OpenRouter when configured, OpenAI otherwise.
func resolveProvider(cfg *config.Config) (provider.LLMProvider, error) {
	if cfg.Providers.OpenRouter.APIKey != "" {
		base := cfg.Providers.OpenRouter.APIBase
		if base == "" {
			base = "https://openrouter.ai/api/v1"
		}
		return provider.NewOpenAIProvider(cfg.Providers.OpenRouter.APIKey, "RELAYGENT_OPENROUTER_API_KEY", base, cfg.Model.Name), nil
	}
	if cfg.Providers.OpenAI.APIKey != "" {
		return provider.NewOpenAIProvider(cfg.Providers.OpenAI.APIKey, "RELAYGENT_OPENAI_API_KEY", cfg.Providers.OpenAI.APIBase, cfg.Model.Name), nil
	}
	return nil, fmt.Errorf("no provider configured: set RELAYGENT_OPENAI_API_KEY or RELAYGENT_OPENROUTER_API_KEY")
}

// promptConfirm asks the operator to approve one write operation.
func promptConfirm(operation, path, details string) bool {
	fmt.Printf("%s %s %s (%s) [y/N]: ", color.YellowString("confirm?"), operation, path, details)
	reader := bufio.NewReader(os.Stdin)
	line, err := reader.ReadString('\n')
	if err != nil {
		return false
	}
	answer := strings.ToLower(strings.TrimSpace(line))
	return answer == "y" || answer == "yes"
}

// printStatus renders progress events. Fields arrive pre-sanitized.
func printStatus(s status.ToolStatus) {
	switch s.Phase {
	case status.WaitingLLM:
		fmt.Println(color.HiBlackString("  [%s] thinking...", s.AgentID))
	case status.ExecutingTool:
		fmt.Println(color.HiBlackString("  [%s] %s", s.AgentID, s.Display))
	case status.SpawningAgent:
		fmt.Println(color.HiBlackString("  [%s] spawning %s", s.AgentID, s.Display))
	}
}
