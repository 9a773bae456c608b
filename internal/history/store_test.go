package history

import (
	"fmt"
	"path/filepath"
	"testing"
)

func newTestStore(t *testing.T, max int) *Store {
	t.Helper()
	s, err := NewStore(filepath.Join(t.TempDir(), "history.db"), max)
	if err != nil {
		t.Fatalf("NewStore failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestStore_AppendAndRecent(t *testing.T) {
	s := newTestStore(t, 100)

	inputs := []string{"HELP", "ls -la", "? what is a gate"}
	for _, in := range inputs {
		if err := s.Append("sess_1", in, "success", ""); err != nil {
			t.Fatalf("Append(%q) failed: %v", in, err)
		}
	}

	entries, err := s.Recent(10)
	if err != nil {
		t.Fatalf("Recent failed: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("got %d entries, want 3", len(entries))
	}
	// Newest first.
	if entries[0].Input != "? what is a gate" {
		t.Errorf("newest entry = %q", entries[0].Input)
	}
	if entries[2].Input != "HELP" {
		t.Errorf("oldest entry = %q", entries[2].Input)
	}
}

func TestStore_EmptyInputSkipped(t *testing.T) {
	s := newTestStore(t, 100)

	if err := s.Append("sess_1", "   ", "success", ""); err != nil {
		t.Fatalf("Append failed: %v", err)
	}
	n, err := s.Count()
	if err != nil {
		t.Fatal(err)
	}
	if n != 0 {
		t.Errorf("blank input stored, count = %d", n)
	}
}

func TestStore_PrunesBeyondCap(t *testing.T) {
	s := newTestStore(t, 5)

	for i := 0; i < 12; i++ {
		if err := s.Append("sess_1", fmt.Sprintf("cmd-%d", i), "success", ""); err != nil {
			t.Fatal(err)
		}
	}

	n, err := s.Count()
	if err != nil {
		t.Fatal(err)
	}
	if n != 5 {
		t.Errorf("count = %d, want cap of 5", n)
	}

	entries, err := s.Recent(10)
	if err != nil {
		t.Fatal(err)
	}
	if entries[0].Input != "cmd-11" {
		t.Errorf("newest surviving entry = %q, want cmd-11", entries[0].Input)
	}
}

func TestStore_Clear(t *testing.T) {
	s := newTestStore(t, 100)

	_ = s.Append("sess_1", "HELP", "success", "HELP")
	if err := s.Clear(); err != nil {
		t.Fatalf("Clear failed: %v", err)
	}
	n, _ := s.Count()
	if n != 0 {
		t.Errorf("count after clear = %d", n)
	}
}
