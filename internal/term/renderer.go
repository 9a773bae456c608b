package term

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"
)

// =============================================================================
// RENDERER
// =============================================================================

var (
	promptStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("39")).Bold(true)
	successStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	errorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	warnStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	dimStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	statusStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("39")).Faint(true)
)

// Renderer turns structured results into displayed text. AI responses are
// rendered as markdown; everything else gets a styled one-liner.
type Renderer struct {
	out      io.Writer
	phases   *PhaseManager
	markdown *glamour.TermRenderer
}

// NewRenderer creates a renderer writing to out. Markdown rendering
// degrades to plain text if glamour initialization fails.
func NewRenderer(out io.Writer, phases *PhaseManager) *Renderer {
	r := &Renderer{out: out, phases: phases}

	md, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(100),
	)
	if err == nil {
		r.markdown = md
	}

	return r
}

// Prompt returns the styled input prompt.
func (r *Renderer) Prompt() string {
	return promptStyle.Render("uCODE> ")
}

// Success prints a success line.
func (r *Renderer) Success(format string, args ...interface{}) {
	fmt.Fprintln(r.out, successStyle.Render(fmt.Sprintf(format, args...)))
}

// Error prints an error line.
func (r *Renderer) Error(format string, args ...interface{}) {
	fmt.Fprintln(r.out, errorStyle.Render(fmt.Sprintf(format, args...)))
}

// Warn prints a warning line.
func (r *Renderer) Warn(format string, args ...interface{}) {
	fmt.Fprintln(r.out, warnStyle.Render(fmt.Sprintf(format, args...)))
}

// Info prints a dim informational line.
func (r *Renderer) Info(format string, args ...interface{}) {
	fmt.Fprintln(r.out, dimStyle.Render(fmt.Sprintf(format, args...)))
}

// Plain prints unstyled text.
func (r *Renderer) Plain(format string, args ...interface{}) {
	fmt.Fprintf(r.out, format+"\n", args...)
}

// Markdown renders AI response text as terminal markdown, falling back to
// the raw text when glamour is unavailable.
func (r *Renderer) Markdown(text string) {
	if r.markdown != nil {
		if rendered, err := r.markdown.Render(text); err == nil {
			fmt.Fprint(r.out, rendered)
			return
		}
	}
	fmt.Fprintln(r.out, text)
}

// StatusLine prints the one-line session status. It is gated to the Input
// phase: during Render or Background it is suppressed to prevent flicker,
// unless force is set (a debugging escape hatch).
func (r *Renderer) StatusLine(text string, force bool) bool {
	if !force && r.phases.Current() != PhaseInput {
		return false
	}
	fmt.Fprintln(r.out, statusStyle.Render(strings.TrimSpace(text)))
	return true
}
