// Package approval provides the confirmation gate for destructive tool calls.
package approval

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ConfirmFunc decides one write operation. Implementations are typically
// interactive (CLI prompt, chat reply) and may block.
type ConfirmFunc func(operation, path, details string) bool

// Decision records the outcome of one confirmation for audit purposes.
type Decision struct {
	ID        string
	Operation string
	Path      string
	Details   string
	Approved  bool
	Auto      bool
	At        time.Time
}

// Gate authorizes filesystem-mutating operations. With AutoApprove set it
// approves unconditionally (batch mode); otherwise it delegates to the
// registered callback. No callback and no auto-approve means deny.
type Gate struct {
	mu          sync.Mutex
	autoApprove bool
	callback    ConfirmFunc
	recorder    func(Decision)
}

// NewGate creates a confirmation gate.
func NewGate(autoApprove bool, callback ConfirmFunc) *Gate {
	return &Gate{autoApprove: autoApprove, callback: callback}
}

// SetRecorder registers an audit sink invoked after every decision.
func (g *Gate) SetRecorder(fn func(Decision)) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.recorder = fn
}

// Confirm returns whether the operation may proceed. A panicking callback
// counts as a denial.
func (g *Gate) Confirm(operation, path, details string) bool {
	g.mu.Lock()
	auto := g.autoApprove
	cb := g.callback
	rec := g.recorder
	g.mu.Unlock()

	approved := g.decide(auto, cb, operation, path, details)
	if rec != nil {
		rec(Decision{
			ID:        uuid.NewString(),
			Operation: operation,
			Path:      path,
			Details:   details,
			Approved:  approved,
			Auto:      auto,
			At:        time.Now(),
		})
	}
	return approved
}

func (g *Gate) decide(auto bool, cb ConfirmFunc, operation, path, details string) (approved bool) {
	if auto {
		return true
	}
	if cb == nil {
		return false
	}
	defer func() {
		if r := recover(); r != nil {
			slog.Warn("Confirmation callback panicked, denying", "operation", operation, "path", path, "panic", r)
			approved = false
		}
	}()
	return cb(operation, path, details)
}
