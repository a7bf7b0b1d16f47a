package agent

import (
	"sync"

	"github.com/relaygent/relaygent/internal/approval"
	"github.com/relaygent/relaygent/internal/policy"
)

// PendingAction is a side effect the host transport must perform after a run
// returns, e.g. delivering a produced file to the user.
type PendingAction struct {
	Kind string `json:"kind"`
	Path string `json:"path,omitempty"`
	Note string `json:"note,omitempty"`
}

// Context is the mutable per-instance runtime state of one agent. A child's
// context is derived from the parent's but owns independent copies of its
// permission set and pending-action queue.
type Context struct {
	AgentID  string
	Depth    int
	MaxDepth int
	ParentID string
	BaseDir  string
	Model    string
	// Permissions is this agent's owned copy. Mutating it never affects any
	// other agent.
	Permissions *policy.Permissions
	Gate        *approval.Gate
	DryRun      bool

	mu      sync.Mutex
	pending []PendingAction
}

// AddPendingAction queues a side-effect action. Safe for concurrent use so
// spawned children can hand actions up to the parent.
func (c *Context) AddPendingAction(a PendingAction) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pending = append(c.pending, a)
}

// DrainPendingActions returns a copy of the queued actions and clears the
// queue. The copy is made before the clear so callers keep a stable slice.
func (c *Context) DrainPendingActions() []PendingAction {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := append([]PendingAction(nil), c.pending...)
	c.pending = nil
	return out
}

// PendingCount reports the queue length without draining it.
func (c *Context) PendingCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}
