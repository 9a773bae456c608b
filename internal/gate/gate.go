// Package gate implements the default-closed network boundary. Steady-state
// operation never phones out silently: non-loopback calls require the gate
// to have been explicitly opened, and every open window is time-boxed.
//
// The gate state is the only cross-cycle mutable resource. It is persisted
// as a single JSON record and read-modify-written as a whole by the one
// foreground control flow; background workers never mutate it.
package gate

import (
	"encoding/json"
	"fmt"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"ucode/internal/logging"
)

// maxEvents bounds the persisted event history; the oldest entries drop.
const maxEvents = 50

// DefaultTTL applies when Open is called without an explicit duration.
const DefaultTTL = 15 * time.Minute

// Event is one recorded gate transition.
type Event struct {
	ID        string    `json:"id"`
	Action    string    `json:"action"` // "open" or "close"
	Timestamp time.Time `json:"ts"`
	Actor     string    `json:"actor,omitempty"`
	Reason    string    `json:"reason,omitempty"`
}

// State is the on-disk gate record.
type State struct {
	Open        bool      `json:"gate_open"`
	Scope       string    `json:"scope"`
	OpenedAt    time.Time `json:"opened_at"`
	ExpiresAt   time.Time `json:"expires_at"`
	OpenedBy    string    `json:"opened_by"`
	CloseReason string    `json:"close_reason"`
	Events      []Event   `json:"events"`
}

// BlockedError reports a non-loopback call attempted while the gate is
// closed. It is a distinct type so callers can present remediation
// ("open the gate for setup") instead of a generic network error.
type BlockedError struct {
	Purpose string
	URL     string
}

func (e *BlockedError) Error() string {
	return fmt.Sprintf("network gate is closed: %s blocked for %q (run 'gate open' to permit setup traffic)",
		e.URL, e.Purpose)
}

// Gate is the boundary policy object. All mutations go through Open/Close;
// Status is also a mutation point because reading an expired record closes
// it.
type Gate struct {
	mu    sync.Mutex
	path  string
	clock func() time.Time
}

// New creates a gate persisted at path. The record is created lazily on
// first use; the default state is closed.
func New(path string) *Gate {
	return &Gate{path: path, clock: time.Now}
}

// NewWithClock creates a gate with an injected clock, for tests.
func NewWithClock(path string, clock func() time.Time) *Gate {
	return &Gate{path: path, clock: clock}
}

// Open opens the gate for ttl, recording who asked and why.
func (g *Gate) Open(ttl time.Duration, openedBy, reason string) (State, error) {
	if ttl <= 0 {
		ttl = DefaultTTL
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	state, err := g.load()
	if err != nil {
		return State{}, err
	}

	now := g.clock()
	state.Open = true
	state.Scope = reason
	state.OpenedAt = now
	state.ExpiresAt = now.Add(ttl)
	state.OpenedBy = openedBy
	state.CloseReason = ""
	state.appendEvent(Event{
		ID:        uuid.NewString(),
		Action:    "open",
		Timestamp: now,
		Actor:     openedBy,
		Reason:    reason,
	})

	if err := g.store(state); err != nil {
		return State{}, err
	}

	logging.GateLog("opened by %s until %s: %s", openedBy, state.ExpiresAt.Format(time.RFC3339), reason)
	logging.Audit().Record(logging.AuditEvent{Type: logging.AuditGateOpen, Detail: reason})

	return state, nil
}

// Close closes the gate with the supplied reason.
func (g *Gate) Close(reason string) (State, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	state, err := g.load()
	if err != nil {
		return State{}, err
	}

	state = closeState(state, g.clock(), reason)

	if err := g.store(state); err != nil {
		return State{}, err
	}

	logging.GateLog("closed: %s", reason)
	logging.Audit().Record(logging.AuditEvent{Type: logging.AuditGateClose, Detail: reason})

	return state, nil
}

// Status returns the current state. This is the enforcement point for
// expiry: an open record past its expires_at is closed with reason
// "expired" and the closed state is persisted before being returned.
// Callers must not cache an open result.
func (g *Gate) Status() (State, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	state, err := g.load()
	if err != nil {
		return State{}, err
	}

	now := g.clock()
	if state.Open && now.After(state.ExpiresAt) {
		state = closeState(state, now, "expired")
		if err := g.store(state); err != nil {
			return State{}, err
		}
		logging.GateLog("expired at %s, auto-closed", state.ExpiresAt.Format(time.RFC3339))
	}

	return state, nil
}

// EnsureAllowed checks whether a call to rawURL is permitted. Loopback
// destinations are always allowed; anything else requires an open gate.
func (g *Gate) EnsureAllowed(rawURL, purpose string) error {
	if IsLoopback(rawURL) {
		return nil
	}

	state, err := g.Status()
	if err != nil {
		return fmt.Errorf("failed to read gate state: %w", err)
	}

	if !state.Open {
		logging.Audit().Record(logging.AuditEvent{
			Type:   logging.AuditGateBlocked,
			Detail: fmt.Sprintf("%s (%s)", rawURL, purpose),
		})
		return &BlockedError{Purpose: purpose, URL: rawURL}
	}

	return nil
}

// IsLoopback reports whether rawURL points at the local machine
// (127.0.0.0/8, ::1, or the literal "localhost").
func IsLoopback(rawURL string) bool {
	host := rawURL
	if u, err := url.Parse(rawURL); err == nil && u.Host != "" {
		host = u.Hostname()
	} else if h, _, err := net.SplitHostPort(rawURL); err == nil {
		host = h
	}

	host = strings.Trim(host, "[]")
	if strings.EqualFold(host, "localhost") {
		return true
	}
	if ip := net.ParseIP(host); ip != nil {
		return ip.IsLoopback()
	}
	return false
}

// closeState flips a state to closed, retaining the reason and recording
// the transition.
func closeState(state State, now time.Time, reason string) State {
	state.Open = false
	state.CloseReason = reason
	state.appendEvent(Event{
		ID:        uuid.NewString(),
		Action:    "close",
		Timestamp: now,
		Reason:    reason,
	})
	return state
}

func (s *State) appendEvent(e Event) {
	s.Events = append(s.Events, e)
	if len(s.Events) > maxEvents {
		s.Events = s.Events[len(s.Events)-maxEvents:]
	}
}

// load reads the persisted record, defaulting to closed when none exists.
func (g *Gate) load() (State, error) {
	data, err := os.ReadFile(g.path)
	if err != nil {
		if os.IsNotExist(err) {
			return State{CloseReason: "never opened"}, nil
		}
		return State{}, fmt.Errorf("failed to read gate record: %w", err)
	}

	var state State
	if err := json.Unmarshal(data, &state); err != nil {
		// A corrupt record fails closed.
		logging.GateLog("corrupt gate record, resetting closed: %v", err)
		return State{CloseReason: "record reset after corruption"}, nil
	}

	return state, nil
}

// store writes the whole record atomically (write temp, rename).
func (g *Gate) store(state State) error {
	dir := filepath.Dir(g.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create gate directory: %w", err)
	}

	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal gate state: %w", err)
	}

	tmp := g.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("failed to write gate record: %w", err)
	}
	if err := os.Rename(tmp, g.path); err != nil {
		return fmt.Errorf("failed to replace gate record: %w", err)
	}

	return nil
}
