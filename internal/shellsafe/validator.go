// Package shellsafe validates candidate shell commands before execution.
// The validator is independent of matcher confidence: any input treated as
// a raw shell invocation passes through here, and every invocation is
// audit-logged regardless of verdict.
package shellsafe

import (
	"regexp"
	"strings"

	"ucode/internal/logging"
)

// Verdict is the outcome of validating one candidate command.
type Verdict struct {
	// Safe reports whether the command may run without an explicit
	// operator override.
	Safe bool

	// Reason explains a rejection; empty when Safe.
	Reason string

	// Normalized is the trimmed command text that was inspected.
	Normalized string

	// Destructive marks denylist hits - these demand interactive
	// confirmation even when an override is in play.
	Destructive bool
}

// Compound shell syntax is rejected outright: the dispatcher executes a
// single binary with arguments, never a shell pipeline.
var compoundTokens = []struct {
	token  string
	reason string
}{
	{"&&", "command chaining (&&) is not allowed"},
	{"||", "command chaining (||) is not allowed"},
	{";", "command chaining (;) is not allowed"},
	{"|", "piping (|) is not allowed"},
	{"$(", "command substitution ($(...)) is not allowed"},
	{"`", "command substitution (backticks) is not allowed"},
	{">>", "output redirection (>>) is not allowed"},
	{">", "output redirection (>) is not allowed"},
}

// destructivePatterns is the denylist of categorically destructive
// commands. A hit is rejected and flagged so the orchestrator demands
// confirmation before any override.
var destructivePatterns = []struct {
	re     *regexp.Regexp
	reason string
}{
	{regexp.MustCompile(`(?i)\brm\s+(-[a-z]*r[a-z]*f|-[a-z]*f[a-z]*r)[a-z]*\s+/(\s|$)`), "recursive delete of filesystem root"},
	{regexp.MustCompile(`(?i)\brm\s+-[a-z]*r[a-z]*\s+/(\s|$)`), "recursive delete of filesystem root"},
	{regexp.MustCompile(`(?i)\bdd\s+.*\bof=/dev/(sd|hd|nvme|disk)`), "raw write to a block device"},
	{regexp.MustCompile(`(?i)\bmkfs(\.[a-z0-9]+)?\b`), "filesystem format command"},
	{regexp.MustCompile(`:\(\)\s*\{.*:\|:`), "fork bomb pattern"},
	{regexp.MustCompile(`(?i)\bchmod\s+(-[a-z]+\s+)*777\s+/(\s|$)`), "recursive permission change on root"},
}

// Validator checks raw shell candidates against the safety policy.
type Validator struct {
	audit *logging.AuditLogger
}

// New creates a validator wired to the process audit log.
func New() *Validator {
	return &Validator{audit: logging.Audit()}
}

// Validate inspects one candidate command. The command text is recorded
// in the audit log whatever the verdict.
func (v *Validator) Validate(command string) Verdict {
	normalized := strings.TrimSpace(command)

	verdict := Verdict{Safe: true, Normalized: normalized}

	switch {
	case normalized == "":
		verdict = Verdict{Safe: false, Reason: "empty command", Normalized: normalized}
	default:
		if reason, ok := findCompound(normalized); ok {
			verdict.Safe = false
			verdict.Reason = reason
		}
		if reason, ok := findDestructive(normalized); ok {
			verdict.Safe = false
			verdict.Destructive = true
			if verdict.Reason == "" {
				verdict.Reason = reason
			} else {
				verdict.Reason += "; " + reason
			}
		}
	}

	logging.Shell("validate %q -> safe=%v reason=%q", normalized, verdict.Safe, verdict.Reason)
	v.audit.RecordShellValidation(normalized, verdict.Safe, verdict.Reason)

	return verdict
}

func findCompound(command string) (string, bool) {
	for _, t := range compoundTokens {
		if strings.Contains(command, t.token) {
			return t.reason, true
		}
	}
	return "", false
}

func findDestructive(command string) (string, bool) {
	for _, p := range destructivePatterns {
		if p.re.MatchString(command) {
			return p.reason, true
		}
	}
	return "", false
}
