// Package term owns the terminal: IO phase arbitration between the
// foreground dispatch flow and background workers, the spinner, the
// config watcher, and result rendering.
package term

import (
	"sync"

	"ucode/internal/logging"
)

// Phase is a mutually exclusive ownership window over terminal I/O.
type Phase int

const (
	// PhaseBackground - no direct terminal writes by the foreground;
	// background workers may tick.
	PhaseBackground Phase = iota

	// PhaseInput - the foreground owns stdin (prompt is being typed).
	PhaseInput

	// PhaseRender - the foreground owns stdout for the current
	// dispatch's output.
	PhaseRender
)

func (p Phase) String() string {
	switch p {
	case PhaseBackground:
		return "background"
	case PhaseInput:
		return "input"
	case PhaseRender:
		return "render"
	default:
		return "unknown"
	}
}

// PhaseManager arbitrates exclusive ownership of the terminal. Exactly one
// phase is current at any instant; transitions are strictly nested via
// Scoped, which restores the prior phase even when fn panics.
type PhaseManager struct {
	mu      sync.Mutex
	current Phase
}

// NewPhaseManager creates a manager starting in Background, the session
// start state.
func NewPhaseManager() *PhaseManager {
	return &PhaseManager{current: PhaseBackground}
}

// Current returns the phase in effect right now. Background workers poll
// this before touching the terminal; they must not cache the result
// across ticks.
func (m *PhaseManager) Current() Phase {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

// Set transitions to phase p and returns the phase it replaced.
func (m *PhaseManager) Set(p Phase) Phase {
	m.mu.Lock()
	defer m.mu.Unlock()
	prev := m.current
	m.current = p
	if prev != p {
		logging.IOPhase("%s -> %s", prev, p)
	}
	return prev
}

// Scoped enters phase p, runs fn, and always restores the prior phase -
// including when fn panics. Scopes nest: the restore target is whatever
// phase was current at entry.
func (m *PhaseManager) Scoped(p Phase, fn func() error) error {
	prev := m.Set(p)
	defer m.Set(prev)
	return fn()
}
