package term

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/lipgloss"

	"ucode/internal/logging"
)

// =============================================================================
// BACKGROUND SPINNER
// =============================================================================

var spinnerStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("205"))

// Spinner is a bounded-lifetime background worker that animates a frame
// set on the terminal. It writes only while the IO phase is Background;
// outside it the worker sleeps and rechecks without touching the
// terminal at all. Residue cleanup is a foreground responsibility: Stop
// and Pause clear the line from the calling goroutine.
type Spinner struct {
	phases *PhaseManager
	out    io.Writer
	frames spinner.Spinner
	label  string

	mu      sync.Mutex
	stopCh  chan struct{}
	doneCh  chan struct{}
	running bool
	paused  bool
	drew    bool
}

// NewSpinner creates a spinner over the given phase manager and writer.
func NewSpinner(phases *PhaseManager, out io.Writer, label string) *Spinner {
	return &Spinner{
		phases: phases,
		out:    out,
		frames: spinner.MiniDot,
		label:  label,
	}
}

// Start launches the animation goroutine. No-op when already running.
func (s *Spinner) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	s.running = true
	s.drew = false
	s.stopCh = make(chan struct{})
	s.doneCh = make(chan struct{})
	go s.run(s.stopCh, s.doneCh)
}

// Stop halts the animation and waits for the goroutine to exit. The
// clear of a drawn frame happens here, on the caller's side, after the
// worker is gone.
func (s *Spinner) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	stopCh, doneCh := s.stopCh, s.doneCh
	s.mu.Unlock()

	close(stopCh)
	<-doneCh

	s.mu.Lock()
	if s.drew {
		s.clearLine()
		s.drew = false
	}
	s.mu.Unlock()
	logging.IOPhase("spinner stopped")
}

// Pause clears the spinner's line and suspends drawing until Resume.
// The session calls it before taking the terminal for a foreground
// question, while the phase is still Background, so the worker never
// needs to write outside its phase. Taking the mutex also waits out any
// in-flight frame write.
func (s *Spinner) Pause() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.paused = true
	if s.drew {
		s.clearLine()
		s.drew = false
	}
}

// Resume lifts a Pause.
func (s *Spinner) Resume() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.paused = false
}

// run is the poll loop: draw a frame only while unpaused in Background,
// otherwise sleep and recheck. It never writes from any other phase,
// not even to clean up after itself.
func (s *Spinner) run(stopCh, doneCh chan struct{}) {
	defer close(doneCh)

	// bubbles encodes FPS as the per-frame interval.
	interval := s.frames.FPS
	if interval <= 0 {
		interval = 100 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	frame := 0

	for {
		select {
		case <-stopCh:
			return
		case <-ticker.C:
			s.mu.Lock()
			if s.paused || s.phases.Current() != PhaseBackground {
				s.mu.Unlock()
				continue
			}
			glyph := spinnerStyle.Render(s.frames.Frames[frame%len(s.frames.Frames)])
			fmt.Fprintf(s.out, "\r%s %s", glyph, s.label)
			s.drew = true
			s.mu.Unlock()
			frame++
		}
	}
}

// clearLine erases the spinner's frame. Callers hold s.mu.
func (s *Spinner) clearLine() {
	fmt.Fprint(s.out, "\r\033[K")
}
