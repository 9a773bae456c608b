// Package session runs the interactive shell: a single-threaded dispatch
// loop over stdin lines, with the spinner and config watcher as the only
// background workers. Phase scoping keeps their output from interleaving
// with the prompt or a dispatch's rendered result.
package session

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"

	"github.com/google/uuid"

	"ucode/internal/config"
	"ucode/internal/dispatch"
	"ucode/internal/gate"
	"ucode/internal/history"
	"ucode/internal/logging"
	"ucode/internal/match"
	"ucode/internal/provider"
	"ucode/internal/shellsafe"
	"ucode/internal/term"
)

// errInterrupted marks a SIGINT during the input read. It aborts only the
// current read; the loop returns to a fresh prompt.
var errInterrupted = errors.New("interrupted")

// lineEvent is one stdin read delivered by the reader goroutine.
type lineEvent struct {
	text string
	err  error
}

// Session owns one interactive shell run.
type Session struct {
	workspace string
	id        string

	mu  sync.RWMutex
	cfg *config.Config

	phases   *term.PhaseManager
	renderer *term.Renderer
	spinner  *term.Spinner

	gate     *gate.Gate
	store    *history.Store
	local    *provider.Ollama
	router   *provider.Router
	registry *dispatch.Registry
	orch     *dispatch.Orchestrator

	in         io.Reader
	out        io.Writer
	lines      chan lineEvent
	interrupts chan os.Signal
	readerOnce sync.Once
}

// New assembles a session over the given streams. Interactive use passes
// os.Stdin/os.Stdout; tests pass scripted buffers.
func New(workspace string, cfg *config.Config, in io.Reader, out io.Writer) (*Session, error) {
	phases := term.NewPhaseManager()

	g := gate.New(config.ResolvePath(workspace, cfg.Gate.RecordPath))

	store, err := history.NewStore(config.ResolvePath(workspace, cfg.History.DatabasePath), cfg.History.MaxEntries)
	if err != nil {
		return nil, fmt.Errorf("failed to open history store: %w", err)
	}

	local := provider.NewOllama(provider.OllamaConfig{
		Endpoint:        cfg.Providers.Local.Endpoint,
		Model:           cfg.Providers.Local.Model,
		LivenessTimeout: cfg.GetLivenessTimeout(),
		GenerateTimeout: cfg.GetGenerateTimeout(),
	})
	cloud := provider.NewBroker(provider.BrokerConfig{
		BaseURL: cfg.Providers.Cloud.BaseURL,
		APIKey:  cfg.Providers.Cloud.APIKey,
		Model:   cfg.Providers.Cloud.Model,
		Timeout: cfg.GetCloudTimeout(),
		Gate:    g,
	})
	router := provider.NewRouter(local, cloud, provider.RouterConfig{
		Primary:            cfg.Providers.Primary,
		AutoFallback:       cfg.Providers.AutoFallback,
		CloudSanityCheck:   cfg.Providers.CloudSanityCheck,
		LocalFallbackModel: cfg.Providers.Local.FallbackModel,
	})

	catalog, err := match.NewCatalog(match.DefaultEntries())
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("failed to build command catalog: %w", err)
	}

	s := &Session{
		workspace:  workspace,
		id:         "sess_" + uuid.NewString()[:8],
		cfg:        cfg,
		phases:     phases,
		renderer:   term.NewRenderer(out, phases),
		spinner:    term.NewSpinner(phases, out, "thinking"),
		gate:       g,
		store:      store,
		local:      local,
		router:     router,
		registry:   dispatch.NewRegistry(),
		in:         in,
		out:        out,
		interrupts: make(chan os.Signal, 1),
	}

	s.orch = dispatch.New(dispatch.Options{
		Matcher:              match.NewMatcherWithFloor(catalog, cfg.Matcher.MatchFloor),
		Validator:            shellsafe.New(),
		Router:               router,
		Gate:                 g,
		Registry:             s.registry,
		Prompter:             s,
		Executor:             dispatch.NewShellExecutor(0),
		History:              store,
		Puller:               local,
		AutoExecuteThreshold: cfg.Matcher.AutoExecuteThreshold,
		ConfirmThreshold:     cfg.Matcher.ConfirmThreshold,
	})

	if err := s.registerBuiltins(); err != nil {
		store.Close()
		return nil, err
	}

	return s, nil
}

// Run drives the read-dispatch-render loop until EXIT or EOF.
func (s *Session) Run(ctx context.Context) error {
	s.startReader()
	signal.Notify(s.interrupts, os.Interrupt)
	defer signal.Stop(s.interrupts)

	watcher := s.startWatcher(ctx)
	if watcher != nil {
		defer watcher.Stop()
	}

	cfg := s.config()
	s.renderer.Info("%s %s - type HELP for commands, EXIT to leave", cfg.Name, cfg.Version)
	logging.Session("started %s in %s", s.id, s.workspace)

	for {
		line, err := s.readLine(ctx)
		switch {
		case errors.Is(err, errInterrupted):
			continue
		case errors.Is(err, io.EOF):
			logging.Session("%s input closed", s.id)
			return nil
		case err != nil:
			return err
		}

		result := s.dispatchLine(ctx, line)

		if err := s.store.Append(s.id, line, result.Status, result.Command); err != nil {
			logging.Session("history append failed: %v", err)
		}

		s.render(result)

		if result.Command == "EXIT" && result.Status == dispatch.StatusSuccess {
			logging.Session("%s exiting", s.id)
			return nil
		}
	}
}

// Close releases the session's persistent resources.
func (s *Session) Close() error {
	return s.store.Close()
}

// Confirm implements dispatch.Prompter against the session's own streams.
// It runs inside a dispatch, so it re-enters the Input phase for the
// duration of the question; EOF and interrupt both read as "no". The
// spinner is paused first, while the phase is still Background, so its
// line is gone before the question prints.
func (s *Session) Confirm(question string) (bool, error) {
	s.spinner.Pause()
	defer s.spinner.Resume()

	answer := false
	err := s.phases.Scoped(term.PhaseInput, func() error {
		fmt.Fprintf(s.out, "%s [y/N] ", question)
		select {
		case ev, ok := <-s.lines:
			if !ok || ev.err != nil {
				return nil
			}
			reply := strings.ToLower(strings.TrimSpace(ev.text))
			answer = reply == "y" || reply == "yes"
			return nil
		case <-s.interrupts:
			fmt.Fprintln(s.out)
			return nil
		}
	})
	return answer, err
}

// startReader launches the goroutine that owns blocking stdin reads. The
// channel is buffered so a trailing EOF never strands the goroutine after
// the loop exits.
func (s *Session) startReader() {
	s.readerOnce.Do(func() {
		s.lines = make(chan lineEvent, 4)
		go func() {
			defer close(s.lines)
			scanner := bufio.NewScanner(s.in)
			for scanner.Scan() {
				s.lines <- lineEvent{text: scanner.Text()}
			}
			err := scanner.Err()
			if err == nil {
				err = io.EOF
			}
			s.lines <- lineEvent{err: err}
		}()
	})
}

// readLine blocks for the next input line in the Input phase. SIGINT
// aborts only this read.
func (s *Session) readLine(ctx context.Context) (string, error) {
	var line string
	err := s.phases.Scoped(term.PhaseInput, func() error {
		fmt.Fprint(s.out, s.renderer.Prompt())
		select {
		case ev, ok := <-s.lines:
			if !ok {
				return io.EOF
			}
			if ev.err != nil {
				return ev.err
			}
			line = ev.text
			return nil
		case <-s.interrupts:
			fmt.Fprintln(s.out)
			return errInterrupted
		case <-ctx.Done():
			return ctx.Err()
		}
	})
	return line, err
}

// dispatchLine runs one line in the Background phase with the spinner
// live. Confirmation prompts from inside the dispatch nest back into the
// Input phase, which silences the spinner for their duration.
func (s *Session) dispatchLine(ctx context.Context, line string) dispatch.Result {
	var result dispatch.Result
	_ = s.phases.Scoped(term.PhaseBackground, func() error {
		s.spinner.Start()
		defer s.spinner.Stop()
		result = s.orch.Dispatch(ctx, line)
		return nil
	})
	return result
}

// render writes one dispatch result in the Render phase.
func (s *Session) render(result dispatch.Result) {
	_ = s.phases.Scoped(term.PhaseRender, func() error {
		switch result.Status {
		case dispatch.StatusVibeRouted:
			s.renderer.Markdown(result.Message)
		case dispatch.StatusFallbackOK:
			s.renderer.Warn("answered by the fallback provider")
			s.renderer.Markdown(result.Message)
		case dispatch.StatusError:
			s.renderer.Error("%s", result.Message)
		case dispatch.StatusCancelled:
			s.renderer.Warn("cancelled: %s", result.Message)
		default:
			if result.Message != "" {
				s.renderer.Plain("%s", result.Message)
			}
		}
		return nil
	})
}

// startWatcher wires the debounced config watcher; a failure here is
// logged, not fatal, since the session works fine without live reload.
func (s *Session) startWatcher(ctx context.Context) *term.ConfigWatcher {
	configPath := config.Path(s.workspace)
	if err := os.MkdirAll(filepath.Dir(configPath), 0755); err != nil {
		logging.Watcher("cannot prepare config dir: %v", err)
		return nil
	}

	watcher, err := term.NewConfigWatcher(configPath, s.phases, s.out, s.reloadConfig)
	if err != nil {
		logging.Watcher("config watcher unavailable: %v", err)
		return nil
	}
	if err := watcher.Start(ctx); err != nil {
		logging.Watcher("config watcher failed to start: %v", err)
		return nil
	}
	return watcher
}

// reloadConfig re-reads the config file and applies the settings that can
// change mid-session.
func (s *Session) reloadConfig() error {
	cfg, err := config.Load(config.Path(s.workspace))
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	s.cfg = cfg
	s.mu.Unlock()

	s.router.SetAutoFallback(cfg.Providers.AutoFallback)
	if err := logging.ReloadConfig(); err != nil {
		logging.Session("logging reload failed: %v", err)
	}

	logging.Session("configuration reloaded")
	return nil
}

func (s *Session) config() *config.Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg
}
