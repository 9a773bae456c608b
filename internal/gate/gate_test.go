package gate

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(path, content string) error {
	return os.WriteFile(path, []byte(content), 0644)
}

func newTestGate(t *testing.T, clock func() time.Time) *Gate {
	t.Helper()
	path := filepath.Join(t.TempDir(), "gate.json")
	if clock == nil {
		clock = time.Now
	}
	return NewWithClock(path, clock)
}

func TestGate_DefaultClosed(t *testing.T) {
	g := newTestGate(t, nil)

	state, err := g.Status()
	require.NoError(t, err)
	assert.False(t, state.Open)
	assert.NotEmpty(t, state.CloseReason, "closed state must always carry a reason")
}

func TestGate_OpenClose(t *testing.T) {
	g := newTestGate(t, nil)

	state, err := g.Open(10*time.Minute, "operator", "model download")
	require.NoError(t, err)
	assert.True(t, state.Open)
	assert.Equal(t, "operator", state.OpenedBy)
	assert.Equal(t, "model download", state.Scope)
	assert.Empty(t, state.CloseReason)

	state, err = g.Close("setup finished")
	require.NoError(t, err)
	assert.False(t, state.Open)
	assert.Equal(t, "setup finished", state.CloseReason)

	// Two events recorded: open then close.
	require.Len(t, state.Events, 2)
	assert.Equal(t, "open", state.Events[0].Action)
	assert.Equal(t, "close", state.Events[1].Action)
	assert.NotEmpty(t, state.Events[0].ID)
}

func TestGate_StatusEnforcesExpiry(t *testing.T) {
	now := time.Now()
	clock := func() time.Time { return now }
	g := newTestGate(t, clock)

	_, err := g.Open(1*time.Second, "operator", "bootstrap")
	require.NoError(t, err)

	// Two seconds later the persisted record still says open, but
	// Status must report closed with reason "expired".
	now = now.Add(2 * time.Second)
	state, err := g.Status()
	require.NoError(t, err)
	assert.False(t, state.Open)
	assert.Equal(t, "expired", state.CloseReason)

	// The implicit close persisted: a fresh handle sees it too.
	g2 := NewWithClock(g.path, clock)
	state2, err := g2.Status()
	require.NoError(t, err)
	assert.False(t, state2.Open)
	assert.Equal(t, "expired", state2.CloseReason)
}

func TestGate_EventsBounded(t *testing.T) {
	g := newTestGate(t, nil)

	for i := 0; i < 40; i++ {
		_, err := g.Open(time.Minute, "op", "cycle")
		require.NoError(t, err)
		_, err = g.Close("cycle")
		require.NoError(t, err)
	}

	state, err := g.Status()
	require.NoError(t, err)
	assert.Len(t, state.Events, 50, "event history must cap at 50, dropping oldest")
	// The newest event survives.
	assert.Equal(t, "close", state.Events[len(state.Events)-1].Action)
}

func TestGate_EnsureAllowed(t *testing.T) {
	g := newTestGate(t, nil)

	// Loopback is always permitted, gate closed or not.
	for _, u := range []string{
		"http://localhost:11434/api/tags",
		"http://127.0.0.1:5001/generate",
		"http://[::1]:8080/",
	} {
		assert.NoError(t, g.EnsureAllowed(u, "local call"), u)
	}

	// Non-loopback while closed: typed blocked error.
	err := g.EnsureAllowed("https://api.example.com/v1", "cloud inference")
	require.Error(t, err)
	var blocked *BlockedError
	require.True(t, errors.As(err, &blocked), "want BlockedError, got %T", err)
	assert.Equal(t, "cloud inference", blocked.Purpose)
	assert.Contains(t, blocked.Error(), "api.example.com")

	// Open gate permits it.
	_, err = g.Open(time.Minute, "operator", "setup")
	require.NoError(t, err)
	assert.NoError(t, g.EnsureAllowed("https://api.example.com/v1", "cloud inference"))
}

func TestGate_CorruptRecordFailsClosed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gate.json")
	require.NoError(t, writeFile(path, "{not json"))

	g := New(path)
	state, err := g.Status()
	require.NoError(t, err)
	assert.False(t, state.Open)
	assert.NotEmpty(t, state.CloseReason)
}

func TestIsLoopback(t *testing.T) {
	tests := []struct {
		url  string
		want bool
	}{
		{"http://localhost:11434", true},
		{"http://127.0.0.1:80/x", true},
		{"http://127.8.8.8/", true},
		{"http://[::1]:9000", true},
		{"localhost:11434", true},
		{"http://example.com", false},
		{"http://10.0.0.5:8080", false},
		{"https://api.example.com/v1/generate", false},
	}
	for _, tt := range tests {
		if got := IsLoopback(tt.url); got != tt.want {
			t.Errorf("IsLoopback(%q) = %v, want %v", tt.url, got, tt.want)
		}
	}
}
