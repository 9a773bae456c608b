// Package dispatch is the per-line state machine: it classifies operator
// input (prompt, OK namespace, slash, three-stage), runs the matcher,
// shell validator and provider router, and converts every outcome into
// exactly one Result.
package dispatch

// Dispatch statuses. Every input line terminates in exactly one of these.
const (
	StatusSuccess    = "success"
	StatusError      = "error"
	StatusCancelled  = "cancelled"
	StatusVibeRouted = "vibe_routed" // Answered by an AI provider
	StatusFallbackOK = "fallback_ok" // Answered, but by the secondary provider
)

// Result is the terminal outcome of dispatching one input line.
type Result struct {
	Status  string
	Command string
	Message string
}

// ErrorResult wraps a component failure as a dispatch outcome. Component
// errors stop at this boundary; they never propagate to the session loop.
func ErrorResult(command string, err error) Result {
	return Result{Status: StatusError, Command: command, Message: err.Error()}
}
