package term

import (
	"errors"
	"testing"
)

func TestPhaseManager_StartsBackground(t *testing.T) {
	m := NewPhaseManager()
	if m.Current() != PhaseBackground {
		t.Errorf("initial phase = %s, want background", m.Current())
	}
}

func TestScoped_RestoresPriorPhase(t *testing.T) {
	m := NewPhaseManager()

	err := m.Scoped(PhaseInput, func() error {
		if m.Current() != PhaseInput {
			t.Errorf("inside scope phase = %s, want input", m.Current())
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Scoped returned %v", err)
	}
	if m.Current() != PhaseBackground {
		t.Errorf("after scope phase = %s, want background", m.Current())
	}
}

func TestScoped_Nesting(t *testing.T) {
	m := NewPhaseManager()

	_ = m.Scoped(PhaseInput, func() error {
		_ = m.Scoped(PhaseRender, func() error {
			if m.Current() != PhaseRender {
				t.Errorf("inner phase = %s, want render", m.Current())
			}
			return nil
		})
		if m.Current() != PhaseInput {
			t.Errorf("after inner scope phase = %s, want input (restore is nested)", m.Current())
		}
		return nil
	})
	if m.Current() != PhaseBackground {
		t.Errorf("after outer scope phase = %s, want background", m.Current())
	}
}

func TestScoped_ErrorPassesThrough(t *testing.T) {
	m := NewPhaseManager()
	wantErr := errors.New("fn failed")

	err := m.Scoped(PhaseRender, func() error { return wantErr })
	if !errors.Is(err, wantErr) {
		t.Errorf("err = %v, want %v", err, wantErr)
	}
	if m.Current() != PhaseBackground {
		t.Errorf("phase = %s after error, want background", m.Current())
	}
}

func TestScoped_RestoresAfterPanic(t *testing.T) {
	// The scope must never leave the lock in the entered phase, even
	// when the wrapped operation panics.
	m := NewPhaseManager()

	func() {
		defer func() {
			if recover() == nil {
				t.Fatal("expected panic to propagate")
			}
		}()
		_ = m.Scoped(PhaseRender, func() error {
			panic("render blew up")
		})
	}()

	if m.Current() != PhaseBackground {
		t.Errorf("phase = %s after panic, want background", m.Current())
	}
}
