package agent

import (
	"context"
	"fmt"

	"github.com/relaygent/relaygent/internal/timeline"
	"github.com/relaygent/relaygent/internal/tools"
)

// executeSpawnsParallel runs one turn's deferred spawn requests as a batch
// over a worker pool bounded by SpawnParallelism. Results are keyed by the
// originating tool-call id so the caller reinserts them at the right
// conversation position regardless of completion order.
//
// Cancellation while waiting cancels queued work, does not wait for
// in-flight children, and propagates ctx.Err() to the caller. Abandoned
// workers write to a buffered channel and never block process exit.
func (a *RecursiveAgent) executeSpawnsParallel(ctx context.Context, spawns []*tools.SpawnDirective) (map[string]string, error) {
	parallelism := a.settings.SpawnParallelism
	if parallelism <= 0 {
		parallelism = 4
	}

	type spawnOutcome struct {
		toolCallID string
		text       string
	}

	batchCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	sem := make(chan struct{}, parallelism)
	done := make(chan spawnOutcome, len(spawns))

	for _, d := range spawns {
		go func(d *tools.SpawnDirective) {
			select {
			case sem <- struct{}{}:
				defer func() { <-sem }()
			case <-batchCtx.Done():
				done <- spawnOutcome{d.ToolCallID, fmt.Sprintf("Error: spawn cancelled: %v", batchCtx.Err())}
				return
			}
			done <- spawnOutcome{d.ToolCallID, a.runChild(batchCtx, d)}
		}(d)
	}

	results := make(map[string]string, len(spawns))
	for received := 0; received < len(spawns); received++ {
		select {
		case out := <-done:
			results[out.toolCallID] = out.text
		case <-ctx.Done():
			cancel()
			return nil, ctx.Err()
		}
	}
	return results, nil
}

// runChild constructs and runs one child agent, returning its final answer
// or an error-marker string. Errors never cross the loop boundary.
func (a *RecursiveAgent) runChild(ctx context.Context, d *tools.SpawnDirective) string {
	if a.actx.Depth >= a.actx.MaxDepth {
		a.logger.Warn("Spawn rejected, depth limit reached", "max_depth", a.actx.MaxDepth)
		return fmt.Sprintf("Error: cannot spawn sub-agent: maximum recursion depth %d reached", a.actx.MaxDepth)
	}

	n := a.childCounter.Add(1)

	var (
		childID string
		profile *Profile
	)
	switch d.Kind {
	case tools.SpawnPredefined:
		resolved, err := a.profile.resolveSubagent(d.AgentName, a.actx.BaseDir)
		if err != nil {
			return fmt.Sprintf("Error: %v", err)
		}
		profile = resolved
		childID = fmt.Sprintf("%s.%s.%d", a.actx.AgentID, d.AgentName, n)
	default:
		profile = a.profile.Clone()
		profile.DisplayName = fmt.Sprintf("sub.%d", n)
		profile.SystemPrompt = subagentSystemPrompt
		if d.Model != "" {
			profile.Model = d.Model
		}
		if len(d.Tools) > 0 {
			profile.Tools = append([]string(nil), d.Tools...)
		}
		childID = fmt.Sprintf("%s.sub.%d", a.actx.AgentID, n)
	}

	// The child always operates on a copy of the parent's runtime
	// permission set unless its profile declares stricter ones.
	if profile.Permissions == nil || !profile.Permissions.Explicit {
		profile.Permissions = a.actx.Permissions.Clone()
	}

	child := NewChild(a.settings, profile, childID, a.actx.Depth+1, a.actx.AgentID)
	a.record(timeline.SpanSpawn, childID, map[string]any{"kind": d.Kind, "task_len": len(d.Task)})
	a.logger.Info("Spawning sub-agent", "child_id", childID, "kind", d.Kind)

	task := d.Task
	if d.Context != "" {
		task = fmt.Sprintf("Context:\n%s\n\nTask:\n%s", d.Context, d.Task)
	}

	text, err := child.Run(ctx, task)

	// Side-effect actions queued by the child are handed up so the host
	// drains them from the root context.
	for _, action := range child.Context().DrainPendingActions() {
		a.actx.AddPendingAction(action)
	}

	if err != nil {
		a.logger.Warn("Sub-agent failed", "child_id", childID, "error", err)
		return fmt.Sprintf("Error: sub-agent %s failed: %v", childID, err)
	}
	return text
}
