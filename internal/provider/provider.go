// Package provider implements the inference backends and the failover
// router between them: a local Ollama-style HTTP server and a cloud broker
// reached through the network gate.
package provider

import (
	"context"
	"fmt"
)

// Provider IDs used across status reports and dispatch results.
const (
	IDLocal = "local"
	IDCloud = "cloud"
)

// Status describes one provider's readiness.
// Available = Configured AND Running AND DefaultModelPresent.
type Status struct {
	ProviderID          string `json:"provider_id"`
	Configured          bool   `json:"configured"`
	Running             bool   `json:"running"`
	DefaultModelPresent bool   `json:"default_model_present"`
	Available           bool   `json:"available"`
	Issue               string `json:"issue,omitempty"`
}

// finalize derives Available from the component flags.
func (s *Status) finalize() {
	s.Available = s.Configured && s.Running && s.DefaultModelPresent
}

// Provider is a model-inference backend. Generate uses the provider's
// default model when model is empty. Implementations return structured
// errors from this package; they never panic across the boundary.
type Provider interface {
	ID() string
	Status(ctx context.Context) Status
	Generate(ctx context.Context, model, prompt string) (string, error)
}

// UnavailableError reports a provider that is not configured or not
// reachable. Always carries a human-readable issue.
type UnavailableError struct {
	ProviderID string
	Issue      string
}

func (e *UnavailableError) Error() string {
	return fmt.Sprintf("provider %s unavailable: %s", e.ProviderID, e.Issue)
}

// QuotaError reports a cloud rate limit (HTTP 429). Distinct from a
// generic provider error so the router can surface remediation instead of
// silently retrying.
type QuotaError struct {
	ProviderID string
	Detail     string
}

func (e *QuotaError) Error() string {
	msg := fmt.Sprintf("provider %s quota exceeded", e.ProviderID)
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	return msg
}

// Remediation is the operator guidance attached to quota outcomes.
func (e *QuotaError) Remediation() string {
	return "cloud quota exhausted - switch the primary provider to local (UCODE_PRIMARY_PROVIDER=local) or retry later"
}
