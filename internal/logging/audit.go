// Package logging - always-on audit trail for shell command validation.
// Unlike category logs, the audit log is written regardless of debug mode:
// every command that reaches the shell validator leaves a record.
package logging

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
)

// AuditEventType defines the type of audit event
type AuditEventType string

const (
	AuditShellValidate AuditEventType = "shell_validate"
	AuditShellExecute  AuditEventType = "shell_execute"
	AuditShellBlocked  AuditEventType = "shell_blocked"
	AuditGateOpen      AuditEventType = "gate_open"
	AuditGateClose     AuditEventType = "gate_close"
	AuditGateBlocked   AuditEventType = "gate_blocked"
)

// AuditEvent is a single audit record, serialized as one JSON line.
type AuditEvent struct {
	ID        string         `json:"id"`
	Type      AuditEventType `json:"type"`
	Timestamp time.Time      `json:"ts"`
	Command   string         `json:"command,omitempty"`
	Safe      *bool          `json:"safe,omitempty"`
	Reason    string         `json:"reason,omitempty"`
	Detail    string         `json:"detail,omitempty"`
}

// AuditLogger appends JSON-line events to a single audit file.
type AuditLogger struct {
	mu   sync.Mutex
	path string
	file *os.File
}

var (
	auditOnce    sync.Once
	auditLogger  *AuditLogger
	auditInitErr error
)

// Audit returns the process-wide audit logger, creating it on first use.
// The audit file lives next to the category logs but is not gated by
// debug mode.
func Audit() *AuditLogger {
	auditOnce.Do(func() {
		dir := filepath.Join(workspace, ".ucode", "logs")
		if workspace == "" {
			dir = filepath.Join(".", ".ucode", "logs")
		}
		if err := os.MkdirAll(dir, 0755); err != nil {
			auditInitErr = err
			auditLogger = &AuditLogger{}
			return
		}
		path := filepath.Join(dir, "audit.jsonl")
		file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			auditInitErr = err
			auditLogger = &AuditLogger{}
			return
		}
		auditLogger = &AuditLogger{path: path, file: file}
	})
	return auditLogger
}

// Record appends an event to the audit log. Failures are reported to
// stderr but never propagated; an audit failure must not block dispatch.
func (a *AuditLogger) Record(event AuditEvent) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.file == nil {
		if auditInitErr != nil {
			fmt.Fprintf(os.Stderr, "[audit] unavailable: %v\n", auditInitErr)
			auditInitErr = nil // Report once
		}
		return
	}

	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	data, err := json.Marshal(event)
	if err != nil {
		fmt.Fprintf(os.Stderr, "[audit] marshal failed: %v\n", err)
		return
	}
	if _, err := a.file.Write(append(data, '\n')); err != nil {
		fmt.Fprintf(os.Stderr, "[audit] write failed: %v\n", err)
	}
}

// RecordShellValidation is the convenience entry used by the validator:
// every validation attempt is recorded with its verdict.
func (a *AuditLogger) RecordShellValidation(command string, safe bool, reason string) {
	a.Record(AuditEvent{
		Type:    AuditShellValidate,
		Command: command,
		Safe:    &safe,
		Reason:  reason,
	})
}

// Path returns the audit file location (empty if unavailable).
func (a *AuditLogger) Path() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.path
}
