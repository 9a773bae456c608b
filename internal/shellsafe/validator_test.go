package shellsafe

import (
	"strings"
	"testing"
)

func TestValidate_AcceptsSingleCommands(t *testing.T) {
	v := New()

	accepted := []string{
		"ls -la",
		"git status",
		"grep -rn TODO internal",
		"go test ./...",
		"python3 script.py --verbose",
	}
	for _, cmd := range accepted {
		verdict := v.Validate(cmd)
		if !verdict.Safe {
			t.Errorf("Validate(%q) rejected: %s", cmd, verdict.Reason)
		}
		if verdict.Normalized != cmd {
			t.Errorf("Validate(%q) normalized to %q", cmd, verdict.Normalized)
		}
	}
}

func TestValidate_RejectsCompoundSyntax(t *testing.T) {
	v := New()

	rejected := []string{
		"ls && rm file",
		"false || true",
		"echo hi; echo bye",
		"cat file | grep x",
		"echo $(whoami)",
		"echo `whoami`",
		"echo hi > out.txt",
		"echo hi >> out.txt",
	}
	for _, cmd := range rejected {
		verdict := v.Validate(cmd)
		if verdict.Safe {
			t.Errorf("Validate(%q) accepted, want rejection", cmd)
		}
		if verdict.Reason == "" {
			t.Errorf("Validate(%q) rejected without a reason", cmd)
		}
	}
}

func TestValidate_RejectsRegardlessOfSurroundings(t *testing.T) {
	// Matcher confidence never matters here: any occurrence of the
	// forbidden tokens is enough.
	v := New()
	for _, token := range []string{"&&", "||", ";", "|", "$(", "`", ">"} {
		cmd := "harmless " + token + " harmless"
		if v.Validate(cmd).Safe {
			t.Errorf("command containing %q accepted", token)
		}
	}
}

func TestValidate_DestructiveDenylist(t *testing.T) {
	v := New()

	tests := []struct {
		cmd    string
		reason string
	}{
		{"rm -rf /", "recursive delete"},
		{"rm -fr / ", "recursive delete"},
		{"dd if=/dev/zero of=/dev/sda", "block device"},
		{"mkfs.ext4 /dev/sda1", "format"},
		{":(){ :|:& };:", "fork bomb"},
	}
	for _, tt := range tests {
		verdict := v.Validate(tt.cmd)
		if verdict.Safe {
			t.Errorf("Validate(%q) accepted, want destructive rejection", tt.cmd)
			continue
		}
		if !verdict.Destructive {
			t.Errorf("Validate(%q) not flagged destructive (reason %q)", tt.cmd, verdict.Reason)
		}
		if !strings.Contains(strings.ToLower(verdict.Reason), tt.reason) {
			t.Errorf("Validate(%q) reason %q missing %q", tt.cmd, verdict.Reason, tt.reason)
		}
	}
}

func TestValidate_PipeIntoDestructive(t *testing.T) {
	// Both the pipe and the denylist hit are reported.
	v := New()

	verdict := v.Validate("ls | rm -rf /")
	if verdict.Safe {
		t.Fatal("expected rejection")
	}
	if !verdict.Destructive {
		t.Error("expected destructive flag alongside the pipe rejection")
	}
	if !strings.Contains(verdict.Reason, "piping") {
		t.Errorf("reason %q missing pipe rejection", verdict.Reason)
	}
}

func TestValidate_EmptyCommand(t *testing.T) {
	v := New()
	verdict := v.Validate("   ")
	if verdict.Safe {
		t.Error("empty command accepted")
	}
}

func TestValidate_BenignLookalikes(t *testing.T) {
	// rm without the root target is allowed through (still subject to
	// operator judgment, not the denylist).
	v := New()

	for _, cmd := range []string{"rm -rf build", "rm notes.txt", "ddgr search"} {
		if verdict := v.Validate(cmd); verdict.Destructive {
			t.Errorf("Validate(%q) flagged destructive: %s", cmd, verdict.Reason)
		}
	}
}
