package dispatch

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"ucode/internal/gate"
	"ucode/internal/history"
	"ucode/internal/logging"
	"ucode/internal/match"
	"ucode/internal/provider"
	"ucode/internal/shellsafe"
)

// =============================================================================
// DISPATCH ORCHESTRATOR
// =============================================================================

// ollamaRegistryURL is gate-checked before a model pull is requested. The
// daemon performs the fetch, but the intent to reach the network is ours.
const ollamaRegistryURL = "https://registry.ollama.ai"

// Prompter asks the operator a yes/no question and blocks for the answer.
// The session loop implements this against stdin; tests use a scripted fake.
type Prompter interface {
	Confirm(question string) (bool, error)
}

// Puller requests a local model download. *provider.Ollama satisfies this.
type Puller interface {
	Pull(ctx context.Context, model string) error
}

// Options wires the orchestrator's collaborators.
type Options struct {
	Matcher   *match.Matcher
	Validator *shellsafe.Validator
	Router    *provider.Router
	Gate      *gate.Gate
	Registry  *Registry
	Prompter  Prompter
	Executor  *ShellExecutor
	History   *history.Store
	Puller    Puller

	// Confidence thresholds for three-stage mode.
	AutoExecuteThreshold float64
	ConfirmThreshold     float64
}

// Orchestrator classifies each input line and drives it to exactly one
// Result. All component failures stop here as Status "error"; nothing
// propagates to the session loop.
type Orchestrator struct {
	matcher   *match.Matcher
	validator *shellsafe.Validator
	router    *provider.Router
	gate      *gate.Gate
	registry  *Registry
	prompter  Prompter
	executor  *ShellExecutor
	history   *history.Store
	puller    Puller

	autoThreshold    float64
	confirmThreshold float64
}

// New creates an orchestrator. Zero thresholds take the matcher defaults.
func New(opts Options) *Orchestrator {
	if opts.AutoExecuteThreshold <= 0 {
		opts.AutoExecuteThreshold = match.DefaultAutoExecuteThreshold
	}
	if opts.ConfirmThreshold <= 0 {
		opts.ConfirmThreshold = match.DefaultConfirmThreshold
	}
	if opts.Executor == nil {
		opts.Executor = NewShellExecutor(0)
	}
	if opts.Registry == nil {
		opts.Registry = NewRegistry()
	}

	return &Orchestrator{
		matcher:          opts.Matcher,
		validator:        opts.Validator,
		router:           opts.Router,
		gate:             opts.Gate,
		registry:         opts.Registry,
		prompter:         opts.Prompter,
		executor:         opts.Executor,
		history:          opts.History,
		puller:           opts.Puller,
		autoThreshold:    opts.AutoExecuteThreshold,
		confirmThreshold: opts.ConfirmThreshold,
	}
}

// Dispatch runs one input line through mode classification and returns
// its terminal Result. Panics from any sub-component are recovered here:
// they become a generic error result and the session continues.
func (o *Orchestrator) Dispatch(ctx context.Context, input string) (result Result) {
	requestID := uuid.NewString()[:8]

	defer func() {
		if r := recover(); r != nil {
			logging.Get(logging.CategoryDispatch).Error("[%s] panic dispatching %q: %v", requestID, input, r)
			result = Result{Status: StatusError, Message: "internal error, see dispatch log"}
		}
	}()

	input = strings.TrimSpace(input)
	if input == "" {
		return Result{Status: StatusSuccess}
	}

	logging.Dispatch("[%s] received %q", requestID, input)

	// Prefix modes, checked in order.
	if strings.HasPrefix(input, "?") {
		return o.promptMode(ctx, strings.TrimSpace(input[1:]))
	}
	fields := strings.Fields(input)
	if strings.EqualFold(fields[0], "OK") {
		return o.okNamespace(ctx, fields[1:])
	}
	if strings.HasPrefix(input, "/") {
		return o.slashMode(ctx, strings.TrimSpace(input[1:]))
	}

	// Reserved tokens short-circuit before three-stage classification.
	switch strings.ToUpper(fields[0]) {
	case "HELP":
		return o.helpResult()
	case "STATUS":
		return o.statusResult(ctx)
	case "EXIT":
		return Result{Status: StatusSuccess, Command: "EXIT", Message: "goodbye"}
	case "HISTORY":
		return o.historyResult(fields[1:])
	}

	return o.threeStage(ctx, input)
}

// -----------------------------------------------------------------------------
// Prompt mode
// -----------------------------------------------------------------------------

func (o *Orchestrator) promptMode(ctx context.Context, prompt string) Result {
	if prompt == "" {
		return Result{Status: StatusError, Message: "empty prompt: usage ? <question>"}
	}
	return o.routePrompt(ctx, prompt)
}

// routePrompt hands text to the provider router and maps its structured
// outcome onto a dispatch status.
func (o *Orchestrator) routePrompt(ctx context.Context, prompt string) Result {
	routed := o.router.Route(ctx, prompt, false)
	switch routed.Status {
	case provider.RouteSuccess:
		return Result{Status: StatusVibeRouted, Command: routed.ProviderUsed, Message: routed.Response}
	case provider.RouteFallbackOK:
		return Result{Status: StatusFallbackOK, Command: routed.ProviderUsed, Message: routed.Response}
	default:
		return Result{Status: StatusError, Command: routed.ProviderUsed, Message: routed.Message}
	}
}

// -----------------------------------------------------------------------------
// OK namespace
// -----------------------------------------------------------------------------

func (o *Orchestrator) okNamespace(ctx context.Context, args []string) Result {
	if len(args) == 0 {
		return Result{Status: StatusError, Command: "OK",
			Message: "OK requires a verb: SETUP, PULL <model>, FALLBACK ON|OFF, STATUS"}
	}

	verb := strings.ToUpper(args[0])
	switch verb {
	case "SETUP":
		return o.okSetup(ctx)
	case "PULL":
		return o.okPull(ctx, args[1:])
	case "FALLBACK":
		return o.okFallback(args[1:])
	case "STATUS":
		return o.statusResult(ctx)
	default:
		return Result{Status: StatusError, Command: "OK",
			Message: fmt.Sprintf("unknown OK verb %q (want SETUP, PULL, FALLBACK or STATUS)", args[0])}
	}
}

// okSetup reports provider readiness plus the next action for whatever is
// missing.
func (o *Orchestrator) okSetup(ctx context.Context) Result {
	local, cloud := o.router.Statuses(ctx)
	gateState, err := o.gate.Status()
	if err != nil {
		return ErrorResult("OK SETUP", err)
	}

	var b strings.Builder
	b.WriteString(formatProviderStatus(local))
	b.WriteString("\n")
	b.WriteString(formatProviderStatus(cloud))
	b.WriteString("\n")

	switch {
	case !local.Running:
		b.WriteString("next: start the local model server (ollama serve)")
	case !local.DefaultModelPresent:
		b.WriteString("next: pull the default model with OK PULL <model>")
	case !cloud.Configured:
		b.WriteString("next: set UCODE_CLOUD_API_KEY to enable the cloud provider")
	case !gateState.Open:
		b.WriteString("cloud configured; open the gate (GATE OPEN) to allow outbound calls")
	default:
		b.WriteString("all providers ready")
	}

	return Result{Status: StatusSuccess, Command: "OK SETUP", Message: b.String()}
}

func (o *Orchestrator) okPull(ctx context.Context, args []string) Result {
	if len(args) == 0 {
		return Result{Status: StatusError, Command: "OK PULL", Message: "usage: OK PULL <model>"}
	}
	model := args[0]

	if err := o.gate.EnsureAllowed(ollamaRegistryURL, "model pull"); err != nil {
		return ErrorResult("OK PULL", err)
	}
	if o.puller == nil {
		return Result{Status: StatusError, Command: "OK PULL", Message: "local provider unavailable"}
	}
	if err := o.puller.Pull(ctx, model); err != nil {
		return ErrorResult("OK PULL", err)
	}
	return Result{Status: StatusSuccess, Command: "OK PULL",
		Message: fmt.Sprintf("pull of %s requested; watch the local server log for progress", model)}
}

func (o *Orchestrator) okFallback(args []string) Result {
	if len(args) == 0 {
		return Result{Status: StatusSuccess, Command: "OK FALLBACK",
			Message: fmt.Sprintf("auto-fallback is %s", onOff(o.router.AutoFallback()))}
	}
	switch strings.ToUpper(args[0]) {
	case "ON":
		o.router.SetAutoFallback(true)
	case "OFF":
		o.router.SetAutoFallback(false)
	default:
		return Result{Status: StatusError, Command: "OK FALLBACK", Message: "usage: OK FALLBACK ON|OFF"}
	}
	return Result{Status: StatusSuccess, Command: "OK FALLBACK",
		Message: fmt.Sprintf("auto-fallback %s", onOff(o.router.AutoFallback()))}
}

// -----------------------------------------------------------------------------
// Slash mode
// -----------------------------------------------------------------------------

// slashMode resolves to a known command on an exact match, otherwise
// treats the body as a raw shell command. No fuzzy stage, no AI routing.
func (o *Orchestrator) slashMode(ctx context.Context, body string) Result {
	if body == "" {
		return Result{Status: StatusError, Message: "empty slash command"}
	}

	matched := o.matcher.Match(body)
	if matched.Stage == match.StageExact {
		return o.runCommand(ctx, matched.Command, matched.Args)
	}
	return o.shellPath(ctx, body)
}

// -----------------------------------------------------------------------------
// Three-stage mode
// -----------------------------------------------------------------------------

func (o *Orchestrator) threeStage(ctx context.Context, input string) Result {
	matched := o.matcher.Match(input)
	logging.Dispatch("match: command=%q confidence=%.2f stage=%s", matched.Command, matched.Confidence, matched.Stage)

	switch {
	case matched.Confidence >= o.autoThreshold:
		return o.runCommand(ctx, matched.Command, matched.Args)

	case matched.Confidence >= o.confirmThreshold:
		ok, err := o.confirm(fmt.Sprintf("Did you mean %s?", matched.Command))
		if err != nil {
			return ErrorResult(matched.Command, err)
		}
		if !ok {
			return Result{Status: StatusCancelled, Command: matched.Command, Message: "not confirmed"}
		}
		return o.runCommand(ctx, matched.Command, matched.Args)
	}

	// No usable match. A resolvable binary makes this a shell candidate;
	// anything else reads as natural language for the providers.
	if IsShellCandidate(input) {
		return o.shellPath(ctx, input)
	}
	return o.routePrompt(ctx, input)
}

// shellPath validates and executes a candidate shell command. A rejected
// command still runs if the operator explicitly overrides; declining
// cancels the dispatch.
func (o *Orchestrator) shellPath(ctx context.Context, command string) Result {
	verdict := o.validator.Validate(command)

	overridden := false
	if !verdict.Safe {
		question := fmt.Sprintf("Command blocked (%s). Run anyway?", verdict.Reason)
		ok, err := o.confirm(question)
		if err != nil {
			return ErrorResult(command, err)
		}
		if !ok {
			return Result{Status: StatusCancelled, Command: command, Message: "blocked: " + verdict.Reason}
		}
		overridden = true
		logging.Shell("operator override for blocked command: %s", command)
	}

	execResult, err := o.executor.Run(ctx, verdict.Normalized)
	if err != nil {
		return ErrorResult(command, err)
	}

	message := execResult.Output
	if execResult.Truncated {
		message += "\n[output truncated]"
	}
	if overridden {
		// An override does not buy shell interpretation. The executor
		// stays argv-only, so say what actually ran.
		message += "\n[ran without a shell: operators like |, ;, && and > were passed as literal arguments]"
	}

	if execResult.ExitCode != 0 {
		return Result{Status: StatusError, Command: command,
			Message: fmt.Sprintf("%s\nexit status %d", message, execResult.ExitCode)}
	}
	return Result{Status: StatusSuccess, Command: command, Message: message}
}

// -----------------------------------------------------------------------------
// Reserved tokens
// -----------------------------------------------------------------------------

func (o *Orchestrator) helpResult() Result {
	var b strings.Builder
	b.WriteString("Input modes:\n")
	b.WriteString("  ? <question>     ask the AI providers directly\n")
	b.WriteString("  OK <verb>        provider management (SETUP, PULL, FALLBACK, STATUS)\n")
	b.WriteString("  / <command>      run a known command or raw shell command\n")
	b.WriteString("  HELP STATUS HISTORY EXIT   reserved\n")

	entries := o.registry.Entries()
	if len(entries) > 0 {
		b.WriteString("\nCommands:\n")
		for _, e := range entries {
			b.WriteString(fmt.Sprintf("  %-10s %s\n", e.Name, e.Help))
		}
	}
	return Result{Status: StatusSuccess, Command: "HELP", Message: strings.TrimRight(b.String(), "\n")}
}

func (o *Orchestrator) statusResult(ctx context.Context) Result {
	local, cloud := o.router.Statuses(ctx)
	gateState, err := o.gate.Status()
	if err != nil {
		return ErrorResult("STATUS", err)
	}

	lines := []string{
		formatProviderStatus(local),
		formatProviderStatus(cloud),
		formatGateState(gateState),
	}
	return Result{Status: StatusSuccess, Command: "STATUS", Message: strings.Join(lines, "\n")}
}

func (o *Orchestrator) historyResult(args []string) Result {
	if o.history == nil {
		return Result{Status: StatusError, Command: "HISTORY", Message: "history store unavailable"}
	}

	if len(args) > 0 && strings.EqualFold(args[0], "CLEAR") {
		if err := o.history.Clear(); err != nil {
			return ErrorResult("HISTORY", err)
		}
		return Result{Status: StatusSuccess, Command: "HISTORY", Message: "history cleared"}
	}

	entries, err := o.history.Recent(20)
	if err != nil {
		return ErrorResult("HISTORY", err)
	}
	if len(entries) == 0 {
		return Result{Status: StatusSuccess, Command: "HISTORY", Message: "no history yet"}
	}

	// Oldest first reads naturally in a terminal.
	sort.Slice(entries, func(i, j int) bool { return entries[i].ID < entries[j].ID })
	var b strings.Builder
	for _, e := range entries {
		b.WriteString(fmt.Sprintf("%4d  %-12s %s\n", e.ID, e.Status, e.Input))
	}
	return Result{Status: StatusSuccess, Command: "HISTORY", Message: strings.TrimRight(b.String(), "\n")}
}

// -----------------------------------------------------------------------------
// Helpers
// -----------------------------------------------------------------------------

// runCommand resolves a registered command and executes its handler,
// asking first when the entry demands confirmation. Reserved names reach
// here through catalog aliases (quit, stat, hist) and keep their fixed
// behavior.
func (o *Orchestrator) runCommand(ctx context.Context, name string, args []string) Result {
	switch name {
	case "HELP":
		return o.helpResult()
	case "STATUS":
		return o.statusResult(ctx)
	case "EXIT":
		return Result{Status: StatusSuccess, Command: "EXIT", Message: "goodbye"}
	case "HISTORY":
		return o.historyResult(args)
	}

	entry, ok := o.registry.Lookup(name)
	if !ok {
		return Result{Status: StatusError, Command: name,
			Message: fmt.Sprintf("no handler registered for %s", name)}
	}

	if entry.RequiredPermission == PermissionConfirm {
		confirmed, err := o.confirm(fmt.Sprintf("Run %s?", entry.Name))
		if err != nil {
			return ErrorResult(entry.Name, err)
		}
		if !confirmed {
			return Result{Status: StatusCancelled, Command: entry.Name, Message: "not confirmed"}
		}
	}

	result := entry.Handler(ctx, args)
	if result.Command == "" {
		result.Command = entry.Name
	}
	return result
}

// confirm asks the prompter; with none wired the answer is always no.
func (o *Orchestrator) confirm(question string) (bool, error) {
	if o.prompter == nil {
		return false, nil
	}
	return o.prompter.Confirm(question)
}

func formatProviderStatus(s provider.Status) string {
	if s.Available {
		return fmt.Sprintf("%-6s available", s.ProviderID)
	}
	return fmt.Sprintf("%-6s unavailable: %s", s.ProviderID, s.Issue)
}

func formatGateState(s gate.State) string {
	if s.Open {
		return fmt.Sprintf("gate   open (scope %s, expires %s)", s.Scope, s.ExpiresAt.Format(time.RFC3339))
	}
	reason := s.CloseReason
	if reason == "" {
		reason = "closed"
	}
	return fmt.Sprintf("gate   closed (%s)", reason)
}

func onOff(b bool) string {
	if b {
		return "ON"
	}
	return "OFF"
}
