package session

import (
	"context"
	"fmt"
	"strings"
	"time"

	"ucode/internal/config"
	"ucode/internal/dispatch"
)

// =============================================================================
// BUILT-IN COMMANDS
// =============================================================================

// registerBuiltins installs the session's command handlers into the
// dispatch registry. HELP, STATUS, EXIT and HISTORY stay reserved in the
// orchestrator and are not registered here.
func (s *Session) registerBuiltins() error {
	entries := []dispatch.Entry{
		{
			Name:    "GATE",
			Help:    "control the network gate: GATE [OPEN [ttl]|CLOSE]",
			Handler: s.gateCommand,
		},
		{
			Name:    "CONFIG",
			Help:    "show the active configuration",
			Handler: s.configCommand,
		},
		{
			Name:    "RELOAD",
			Help:    "re-read the configuration file",
			Handler: s.reloadCommand,
		},
		{
			Name:    "CLEAR",
			Help:    "clear the terminal",
			Handler: s.clearCommand,
		},
		{
			Name:    "LIST",
			Help:    "list available commands",
			Handler: s.listCommand,
		},
		{
			Name:    "SHOW",
			Help:    "show a subsystem: SHOW CONFIG|GATE|PROVIDERS",
			Handler: s.showCommand,
		},
		{
			Name:               "PLAY",
			Help:               "replay a history entry: PLAY [id]",
			RequiredPermission: dispatch.PermissionConfirm,
			Handler:            s.playCommand,
		},
	}

	for _, e := range entries {
		if err := s.registry.Register(e); err != nil {
			return fmt.Errorf("failed to register %s: %w", e.Name, err)
		}
	}
	return nil
}

func (s *Session) gateCommand(ctx context.Context, args []string) dispatch.Result {
	if len(args) == 0 {
		return s.gateStatus()
	}

	switch strings.ToUpper(args[0]) {
	case "OPEN":
		ttl := s.config().GetGateTTL()
		if len(args) > 1 {
			parsed, err := time.ParseDuration(args[1])
			if err != nil {
				return dispatch.Result{Status: dispatch.StatusError,
					Message: fmt.Sprintf("bad ttl %q: use forms like 90s, 15m, 1h", args[1])}
			}
			ttl = parsed
		}
		state, err := s.gate.Open(ttl, s.id, "manual open")
		if err != nil {
			return dispatch.ErrorResult("GATE", err)
		}
		return dispatch.Result{Status: dispatch.StatusSuccess,
			Message: fmt.Sprintf("gate open until %s", state.ExpiresAt.Format(time.RFC3339))}

	case "CLOSE":
		if _, err := s.gate.Close("manual close"); err != nil {
			return dispatch.ErrorResult("GATE", err)
		}
		return dispatch.Result{Status: dispatch.StatusSuccess, Message: "gate closed"}

	case "STATUS":
		return s.gateStatus()

	default:
		return dispatch.Result{Status: dispatch.StatusError,
			Message: fmt.Sprintf("unknown gate action %q: use OPEN, CLOSE or STATUS", args[0])}
	}
}

func (s *Session) gateStatus() dispatch.Result {
	state, err := s.gate.Status()
	if err != nil {
		return dispatch.ErrorResult("GATE", err)
	}
	if state.Open {
		return dispatch.Result{Status: dispatch.StatusSuccess,
			Message: fmt.Sprintf("gate open (scope %q, expires %s)", state.Scope, state.ExpiresAt.Format(time.RFC3339))}
	}
	reason := state.CloseReason
	if reason == "" {
		reason = "closed"
	}
	return dispatch.Result{Status: dispatch.StatusSuccess, Message: "gate closed: " + reason}
}

func (s *Session) configCommand(ctx context.Context, args []string) dispatch.Result {
	cfg := s.config()
	var b strings.Builder
	fmt.Fprintf(&b, "config file: %s\n", config.Path(s.workspace))
	fmt.Fprintf(&b, "primary provider: %s (auto-fallback %v, sanity check %v)\n",
		cfg.Providers.Primary, s.router.AutoFallback(), cfg.Providers.CloudSanityCheck)
	fmt.Fprintf(&b, "local: %s model=%s fallback=%s\n",
		cfg.Providers.Local.Endpoint, cfg.Providers.Local.Model, cfg.Providers.Local.FallbackModel)
	fmt.Fprintf(&b, "cloud: %s model=%s configured=%v\n",
		cfg.Providers.Cloud.BaseURL, cfg.Providers.Cloud.Model, cfg.Providers.Cloud.APIKey != "")
	fmt.Fprintf(&b, "thresholds: auto=%.2f confirm=%.2f floor=%.2f",
		cfg.Matcher.AutoExecuteThreshold, cfg.Matcher.ConfirmThreshold, cfg.Matcher.MatchFloor)
	return dispatch.Result{Status: dispatch.StatusSuccess, Message: b.String()}
}

func (s *Session) reloadCommand(ctx context.Context, args []string) dispatch.Result {
	if err := s.reloadConfig(); err != nil {
		return dispatch.ErrorResult("RELOAD", err)
	}
	return dispatch.Result{Status: dispatch.StatusSuccess, Message: "configuration reloaded"}
}

func (s *Session) clearCommand(ctx context.Context, args []string) dispatch.Result {
	fmt.Fprint(s.out, "\033[2J\033[H")
	return dispatch.Result{Status: dispatch.StatusSuccess}
}

func (s *Session) listCommand(ctx context.Context, args []string) dispatch.Result {
	var b strings.Builder
	b.WriteString("commands:\n")
	for _, e := range s.registry.Entries() {
		fmt.Fprintf(&b, "  %-10s %s\n", e.Name, e.Help)
	}
	b.WriteString("reserved: HELP STATUS HISTORY EXIT")
	return dispatch.Result{Status: dispatch.StatusSuccess, Message: b.String()}
}

func (s *Session) showCommand(ctx context.Context, args []string) dispatch.Result {
	if len(args) == 0 {
		return dispatch.Result{Status: dispatch.StatusError, Message: "usage: SHOW CONFIG|GATE|PROVIDERS"}
	}
	switch strings.ToUpper(args[0]) {
	case "CONFIG":
		return s.configCommand(ctx, nil)
	case "GATE":
		return s.gateStatus()
	case "PROVIDERS":
		local, cloud := s.router.Statuses(ctx)
		msg := fmt.Sprintf("local: available=%v %s\ncloud: available=%v %s",
			local.Available, local.Issue, cloud.Available, cloud.Issue)
		return dispatch.Result{Status: dispatch.StatusSuccess, Message: strings.TrimSpace(msg)}
	default:
		return dispatch.Result{Status: dispatch.StatusError,
			Message: fmt.Sprintf("unknown topic %q: use CONFIG, GATE or PROVIDERS", args[0])}
	}
}

// playCommand re-dispatches a stored history line, by id or the most
// recent replayable entry. Entries that would recurse into PLAY are
// skipped.
func (s *Session) playCommand(ctx context.Context, args []string) dispatch.Result {
	entries, err := s.store.Recent(100)
	if err != nil {
		return dispatch.ErrorResult("PLAY", err)
	}

	var target string
	if len(args) > 0 {
		id := strings.TrimSpace(args[0])
		for _, e := range entries {
			if fmt.Sprintf("%d", e.ID) == id {
				target = e.Input
				break
			}
		}
		if target == "" {
			return dispatch.Result{Status: dispatch.StatusError,
				Message: fmt.Sprintf("no history entry %s (see HISTORY)", id)}
		}
	} else {
		for _, e := range entries {
			if !replaysToPlay(e.Input) {
				target = e.Input
				break
			}
		}
		if target == "" {
			return dispatch.Result{Status: dispatch.StatusError, Message: "nothing to replay yet"}
		}
	}

	if replaysToPlay(target) {
		return dispatch.Result{Status: dispatch.StatusError,
			Message: "refusing to replay a PLAY command"}
	}

	result := s.orch.Dispatch(ctx, target)
	if result.Command == "" {
		result.Command = "PLAY"
	}
	return result
}

// replaysToPlay reports whether an input line would dispatch back into
// the PLAY handler.
func replaysToPlay(input string) bool {
	fields := strings.Fields(strings.ToUpper(input))
	return len(fields) > 0 && (fields[0] == "PLAY" || fields[0] == "RUN")
}
