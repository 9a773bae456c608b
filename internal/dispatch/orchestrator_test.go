package dispatch

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"testing"

	"ucode/internal/gate"
	"ucode/internal/history"
	"ucode/internal/match"
	"ucode/internal/provider"
	"ucode/internal/shellsafe"
)

// stubProvider answers with a fixed response or error.
type stubProvider struct {
	id       string
	response string
	err      error
	calls    int
}

func (p *stubProvider) ID() string { return p.id }

func (p *stubProvider) Status(ctx context.Context) provider.Status {
	return provider.Status{ProviderID: p.id, Configured: true, Running: p.err == nil,
		DefaultModelPresent: p.err == nil, Available: p.err == nil, Issue: issueText(p.err)}
}

func (p *stubProvider) Generate(ctx context.Context, model, prompt string) (string, error) {
	p.calls++
	if p.err != nil {
		return "", p.err
	}
	return p.response, nil
}

func issueText(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

// scriptedPrompter plays back canned answers and records the questions.
type scriptedPrompter struct {
	answers []bool
	asked   []string
}

func (p *scriptedPrompter) Confirm(question string) (bool, error) {
	p.asked = append(p.asked, question)
	if len(p.answers) == 0 {
		return false, nil
	}
	answer := p.answers[0]
	p.answers = p.answers[1:]
	return answer, nil
}

// recordingPuller notes pull requests.
type recordingPuller struct {
	models []string
	err    error
}

func (p *recordingPuller) Pull(ctx context.Context, model string) error {
	p.models = append(p.models, model)
	return p.err
}

type fixture struct {
	orch     *Orchestrator
	prompter *scriptedPrompter
	local    *stubProvider
	cloud    *stubProvider
	gate     *gate.Gate
	puller   *recordingPuller
	history  *history.Store
	registry *Registry
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	catalog, err := match.NewCatalog(match.DefaultEntries())
	if err != nil {
		t.Fatalf("NewCatalog failed: %v", err)
	}

	local := &stubProvider{id: provider.IDLocal, response: "a detailed local answer about that topic"}
	cloud := &stubProvider{id: provider.IDCloud, response: "a detailed cloud answer about that topic"}
	router := provider.NewRouter(local, cloud, provider.RouterConfig{
		Primary:      provider.IDLocal,
		AutoFallback: true,
	})

	g := gate.New(filepath.Join(t.TempDir(), "gate.json"))

	store, err := history.NewStore(filepath.Join(t.TempDir(), "history.db"), 100)
	if err != nil {
		t.Fatalf("NewStore failed: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	prompter := &scriptedPrompter{}
	puller := &recordingPuller{}
	registry := NewRegistry()

	f := &fixture{
		prompter: prompter,
		local:    local,
		cloud:    cloud,
		gate:     g,
		puller:   puller,
		history:  store,
		registry: registry,
	}
	f.orch = New(Options{
		Matcher:   match.NewMatcher(catalog),
		Validator: shellsafe.New(),
		Router:    router,
		Gate:      g,
		Registry:  registry,
		Prompter:  prompter,
		Executor:  NewShellExecutor(0),
		History:   store,
		Puller:    puller,
	})
	return f
}

func (f *fixture) register(t *testing.T, name string, handler Handler) {
	t.Helper()
	if err := f.registry.Register(Entry{Name: name, Help: name + " command", Handler: handler}); err != nil {
		t.Fatalf("Register(%s) failed: %v", name, err)
	}
}

func TestDispatch_HelpExactMatch(t *testing.T) {
	f := newFixture(t)

	result := f.orch.Dispatch(context.Background(), "HELP")
	if result.Status != StatusSuccess {
		t.Fatalf("status = %s, want success (message %q)", result.Status, result.Message)
	}
	if !strings.Contains(result.Message, "Input modes") {
		t.Errorf("help output missing mode listing: %q", result.Message)
	}
}

func TestDispatch_TypoFallsThroughToProvider(t *testing.T) {
	f := newFixture(t)

	// HLEP is distance 2 from HELP: confidence 0.5 is below the confirm
	// band, and no binary named HLEP exists, so the line reads as natural
	// language.
	result := f.orch.Dispatch(context.Background(), "HLEP")
	if result.Status != StatusVibeRouted {
		t.Fatalf("status = %s, want vibe_routed (message %q)", result.Status, result.Message)
	}
	if f.local.calls != 1 {
		t.Errorf("local provider calls = %d, want 1", f.local.calls)
	}
	if len(f.prompter.asked) != 0 {
		t.Errorf("no confirmation expected, asked %v", f.prompter.asked)
	}
}

func TestDispatch_ConfirmBandAsksBeforeExecuting(t *testing.T) {
	f := newFixture(t)

	executed := false
	f.register(t, "PLAY", func(ctx context.Context, args []string) Result {
		executed = true
		return Result{Status: StatusSuccess, Message: "playing"}
	})

	// PLAYU vs PLAY: distance 1, confidence 0.80, inside the confirm band.
	f.prompter.answers = []bool{true}
	result := f.orch.Dispatch(context.Background(), "PLAYU")
	if result.Status != StatusSuccess {
		t.Fatalf("status = %s, want success (message %q)", result.Status, result.Message)
	}
	if !executed {
		t.Error("PLAY handler not executed after confirmation")
	}
	if len(f.prompter.asked) != 1 || !strings.Contains(f.prompter.asked[0], "PLAY") {
		t.Errorf("confirmation question = %v", f.prompter.asked)
	}
}

func TestDispatch_ConfirmBandDeclinedCancels(t *testing.T) {
	f := newFixture(t)
	f.register(t, "PLAY", func(ctx context.Context, args []string) Result {
		t.Error("handler must not run when declined")
		return Result{Status: StatusSuccess}
	})

	f.prompter.answers = []bool{false}
	result := f.orch.Dispatch(context.Background(), "PLAYU")
	if result.Status != StatusCancelled {
		t.Errorf("status = %s, want cancelled", result.Status)
	}
}

func TestDispatch_UnsafeShellDeclinedCancels(t *testing.T) {
	f := newFixture(t)

	// ls resolves on PATH, so this is a shell candidate; the validator
	// flags both the pipe and the destructive pattern.
	f.prompter.answers = []bool{false}
	result := f.orch.Dispatch(context.Background(), "ls | rm -rf /")
	if result.Status != StatusCancelled {
		t.Fatalf("status = %s, want cancelled (message %q)", result.Status, result.Message)
	}
	if !strings.Contains(result.Message, "piping") {
		t.Errorf("cancellation message should carry the reason, got %q", result.Message)
	}
	if len(f.prompter.asked) != 1 {
		t.Fatalf("expected one override prompt, asked %v", f.prompter.asked)
	}
}

func TestDispatch_OverrideRunsWithoutShellInterpretation(t *testing.T) {
	f := newFixture(t)

	// Confirming an override still executes argv-style: the pipe is a
	// literal argument to echo, and the result says so.
	f.prompter.answers = []bool{true}
	result := f.orch.Dispatch(context.Background(), "echo a | b")
	if result.Status != StatusSuccess {
		t.Fatalf("status = %s, want success (message %q)", result.Status, result.Message)
	}
	if !strings.Contains(result.Message, "a | b") {
		t.Errorf("pipe should be a literal argument, output: %q", result.Message)
	}
	if !strings.Contains(result.Message, "without a shell") {
		t.Errorf("override result should state no shell interpretation happened, got %q", result.Message)
	}
}

func TestDispatch_SafeShellCommandExecutes(t *testing.T) {
	f := newFixture(t)

	result := f.orch.Dispatch(context.Background(), "echo hello")
	if result.Status != StatusSuccess {
		t.Fatalf("status = %s, want success (message %q)", result.Status, result.Message)
	}
	if result.Message != "hello" {
		t.Errorf("output = %q, want %q", result.Message, "hello")
	}
	if len(f.prompter.asked) != 0 {
		t.Errorf("safe command must not prompt, asked %v", f.prompter.asked)
	}
}

func TestDispatch_PromptModeRoutesToProvider(t *testing.T) {
	f := newFixture(t)

	result := f.orch.Dispatch(context.Background(), "? what is a network gate")
	if result.Status != StatusVibeRouted {
		t.Fatalf("status = %s, want vibe_routed", result.Status)
	}
	if result.Message != f.local.response {
		t.Errorf("message = %q, want provider response", result.Message)
	}

	empty := f.orch.Dispatch(context.Background(), "?")
	if empty.Status != StatusError {
		t.Errorf("bare ? status = %s, want error", empty.Status)
	}
}

func TestDispatch_PromptModeFallbackStatus(t *testing.T) {
	f := newFixture(t)
	f.local.err = fmt.Errorf("connection refused")

	result := f.orch.Dispatch(context.Background(), "? anything")
	if result.Status != StatusFallbackOK {
		t.Fatalf("status = %s, want fallback_ok (message %q)", result.Status, result.Message)
	}
	if result.Message != f.cloud.response {
		t.Errorf("message = %q, want cloud response", result.Message)
	}
}

func TestDispatch_OKFallbackTogglesRouter(t *testing.T) {
	f := newFixture(t)

	result := f.orch.Dispatch(context.Background(), "OK FALLBACK OFF")
	if result.Status != StatusSuccess || !strings.Contains(result.Message, "OFF") {
		t.Fatalf("OK FALLBACK OFF result = %+v", result)
	}

	// With fallback off, a local failure is terminal.
	f.local.err = fmt.Errorf("connection refused")
	routed := f.orch.Dispatch(context.Background(), "? anything")
	if routed.Status != StatusError {
		t.Errorf("status = %s, want error with fallback disabled", routed.Status)
	}

	on := f.orch.Dispatch(context.Background(), "ok fallback on")
	if on.Status != StatusSuccess || !strings.Contains(on.Message, "ON") {
		t.Fatalf("ok fallback on result = %+v", on)
	}
}

func TestDispatch_OKPullRequiresOpenGate(t *testing.T) {
	f := newFixture(t)

	blocked := f.orch.Dispatch(context.Background(), "OK PULL llama3.2")
	if blocked.Status != StatusError {
		t.Fatalf("status = %s, want error while gate closed", blocked.Status)
	}
	if !strings.Contains(blocked.Message, "gate") {
		t.Errorf("blocked message should name the gate, got %q", blocked.Message)
	}
	if len(f.puller.models) != 0 {
		t.Fatalf("pull must not happen through a closed gate: %v", f.puller.models)
	}

	if _, err := f.gate.Open(0, "test", "setup"); err != nil {
		t.Fatalf("gate open failed: %v", err)
	}
	allowed := f.orch.Dispatch(context.Background(), "OK PULL llama3.2")
	if allowed.Status != StatusSuccess {
		t.Fatalf("status = %s, want success (message %q)", allowed.Status, allowed.Message)
	}
	if len(f.puller.models) != 1 || f.puller.models[0] != "llama3.2" {
		t.Errorf("pulled models = %v", f.puller.models)
	}
}

func TestDispatch_OKUnknownVerb(t *testing.T) {
	f := newFixture(t)

	result := f.orch.Dispatch(context.Background(), "OK FROBNICATE")
	if result.Status != StatusError {
		t.Errorf("status = %s, want error", result.Status)
	}
	bare := f.orch.Dispatch(context.Background(), "OK")
	if bare.Status != StatusError || !strings.Contains(bare.Message, "SETUP") {
		t.Errorf("bare OK should list verbs, got %+v", bare)
	}
}

func TestDispatch_SlashKnownCommand(t *testing.T) {
	f := newFixture(t)
	f.register(t, "LIST", func(ctx context.Context, args []string) Result {
		return Result{Status: StatusSuccess, Message: "listing"}
	})

	result := f.orch.Dispatch(context.Background(), "/list")
	if result.Status != StatusSuccess || result.Message != "listing" {
		t.Errorf("result = %+v", result)
	}
	if result.Command != "LIST" {
		t.Errorf("command = %q, want LIST", result.Command)
	}
}

func TestDispatch_SlashRawShell(t *testing.T) {
	f := newFixture(t)

	result := f.orch.Dispatch(context.Background(), "/echo slash")
	if result.Status != StatusSuccess || result.Message != "slash" {
		t.Errorf("result = %+v", result)
	}
}

func TestDispatch_ReservedExit(t *testing.T) {
	f := newFixture(t)

	result := f.orch.Dispatch(context.Background(), "exit")
	if result.Status != StatusSuccess || result.Command != "EXIT" {
		t.Errorf("result = %+v", result)
	}
}

func TestDispatch_HistoryListAndClear(t *testing.T) {
	f := newFixture(t)
	if err := f.history.Append("sess", "echo hi", StatusSuccess, "echo hi"); err != nil {
		t.Fatal(err)
	}

	listed := f.orch.Dispatch(context.Background(), "HISTORY")
	if listed.Status != StatusSuccess || !strings.Contains(listed.Message, "echo hi") {
		t.Errorf("history listing = %+v", listed)
	}

	cleared := f.orch.Dispatch(context.Background(), "HISTORY CLEAR")
	if cleared.Status != StatusSuccess {
		t.Fatalf("clear result = %+v", cleared)
	}
	empty := f.orch.Dispatch(context.Background(), "HISTORY")
	if !strings.Contains(empty.Message, "no history") {
		t.Errorf("post-clear listing = %+v", empty)
	}
}

func TestDispatch_StatusReportsProvidersAndGate(t *testing.T) {
	f := newFixture(t)

	result := f.orch.Dispatch(context.Background(), "STATUS")
	if result.Status != StatusSuccess {
		t.Fatalf("status = %s (message %q)", result.Status, result.Message)
	}
	for _, want := range []string{provider.IDLocal, provider.IDCloud, "gate"} {
		if !strings.Contains(result.Message, want) {
			t.Errorf("STATUS output missing %q: %q", want, result.Message)
		}
	}
}

func TestDispatch_HandlerPanicBecomesErrorResult(t *testing.T) {
	f := newFixture(t)
	f.register(t, "PLAY", func(ctx context.Context, args []string) Result {
		panic("handler exploded")
	})

	result := f.orch.Dispatch(context.Background(), "PLAY now")
	if result.Status != StatusError {
		t.Errorf("status = %s, want error after panic", result.Status)
	}
}

func TestDispatch_EmptyInputIsNoOp(t *testing.T) {
	f := newFixture(t)

	result := f.orch.Dispatch(context.Background(), "   ")
	if result.Status != StatusSuccess || result.Message != "" {
		t.Errorf("result = %+v", result)
	}
}

func TestRegistry_DuplicateAndMissingHandler(t *testing.T) {
	r := NewRegistry()
	ok := func(ctx context.Context, args []string) Result { return Result{Status: StatusSuccess} }

	if err := r.Register(Entry{Name: "play", Handler: ok}); err != nil {
		t.Fatalf("first register failed: %v", err)
	}
	if err := r.Register(Entry{Name: "PLAY", Handler: ok}); err == nil {
		t.Error("duplicate name must fail")
	}
	if err := r.Register(Entry{Name: "SHOW"}); err == nil {
		t.Error("nil handler must fail")
	}

	if _, found := r.Lookup("play"); !found {
		t.Error("case-insensitive lookup failed")
	}
}

func TestDispatch_PermissionConfirmGatesHandler(t *testing.T) {
	f := newFixture(t)
	ran := false
	if err := f.registry.Register(Entry{
		Name:               "CLEAR",
		Help:               "clear the screen",
		RequiredPermission: PermissionConfirm,
		Handler: func(ctx context.Context, args []string) Result {
			ran = true
			return Result{Status: StatusSuccess}
		},
	}); err != nil {
		t.Fatal(err)
	}

	f.prompter.answers = []bool{false}
	declined := f.orch.Dispatch(context.Background(), "CLEAR")
	if declined.Status != StatusCancelled || ran {
		t.Fatalf("declined = %+v, ran = %v", declined, ran)
	}

	f.prompter.answers = []bool{true}
	accepted := f.orch.Dispatch(context.Background(), "CLEAR")
	if accepted.Status != StatusSuccess || !ran {
		t.Errorf("accepted = %+v, ran = %v", accepted, ran)
	}
}
