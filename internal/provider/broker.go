package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"ucode/internal/gate"
	"ucode/internal/logging"
)

// =============================================================================
// CLOUD PROVIDER (BROKER RELAY)
// =============================================================================

// Broker is the cloud provider, reached through a companion broker that
// relays to the upstream model API. Every outbound call consults the
// network gate first: a closed gate means the call is never dialed and
// the provider reports unavailable.
type Broker struct {
	baseURL string
	apiKey  string
	model   string
	gate    *gate.Gate

	client      *http.Client
	probeClient *http.Client
}

// BrokerConfig holds configuration for the cloud provider.
type BrokerConfig struct {
	BaseURL string
	APIKey  string
	Model   string
	Timeout time.Duration
	Gate    *gate.Gate
}

// NewBroker creates a cloud provider. The gate is required; cloud traffic
// without a boundary policy is a bug.
func NewBroker(cfg BrokerConfig) *Broker {
	if cfg.Model == "" {
		cfg.Model = "default"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}

	return &Broker{
		baseURL:     strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:      cfg.APIKey,
		model:       cfg.Model,
		gate:        cfg.Gate,
		client:      &http.Client{Timeout: cfg.Timeout},
		probeClient: &http.Client{Timeout: 3 * time.Second},
	}
}

// ID implements Provider.
func (b *Broker) ID() string { return IDCloud }

// DefaultModel returns the configured default model name.
func (b *Broker) DefaultModel() string { return b.model }

// Status reports cloud readiness. A closed gate shows up as not running
// with a gate-specific issue, distinct from a connection failure.
func (b *Broker) Status(ctx context.Context) Status {
	status := Status{ProviderID: IDCloud, Configured: b.baseURL != "" && b.apiKey != ""}
	defer status.finalize()

	if !status.Configured {
		status.Issue = "cloud broker not configured (set UCODE_CLOUD_URL and UCODE_CLOUD_API_KEY)"
		return status
	}

	if err := b.gate.EnsureAllowed(b.baseURL, "cloud status probe"); err != nil {
		status.Issue = err.Error()
		return status
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, b.baseURL+"/api/health", nil)
	if err != nil {
		status.Issue = fmt.Sprintf("probe failed: %v", err)
		return status
	}
	resp, err := b.probeClient.Do(req)
	if err != nil {
		status.Issue = fmt.Sprintf("broker unreachable: %v", err)
		return status
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		status.Issue = fmt.Sprintf("broker health returned status %d", resp.StatusCode)
		return status
	}

	status.Running = true
	// The broker serves whatever default model it is configured with;
	// reachability implies the model is present.
	status.DefaultModelPresent = true
	return status
}

// Generate relays one prompt through the broker. Outcomes:
// 200 -> response text; 429 -> QuotaError (never silently retried);
// other non-200 -> UnavailableError with the detail string when the
// broker supplied one. A closed gate returns the gate's typed error
// without dialing.
func (b *Broker) Generate(ctx context.Context, model, prompt string) (string, error) {
	if b.baseURL == "" || b.apiKey == "" {
		return "", &UnavailableError{ProviderID: IDCloud, Issue: "cloud broker not configured"}
	}
	if model == "" {
		model = b.model
	}

	if err := b.gate.EnsureAllowed(b.baseURL, "cloud inference"); err != nil {
		return "", err
	}

	logging.ProviderDebug("broker generate: model=%s prompt=%d bytes", model, len(prompt))

	reqBody := brokerRequest{Model: model, Prompt: prompt}
	body, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.baseURL+"/api/generate", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+b.apiKey)

	resp, err := b.client.Do(req)
	if err != nil {
		return "", &UnavailableError{ProviderID: IDCloud, Issue: fmt.Sprintf("broker call failed: %v", err)}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read response: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusOK:
		// Fall through to decode below.
	case resp.StatusCode == http.StatusTooManyRequests:
		return "", &QuotaError{ProviderID: IDCloud, Detail: extractDetail(respBody)}
	default:
		return "", &UnavailableError{
			ProviderID: IDCloud,
			Issue:      fmt.Sprintf("broker returned status %d: %s", resp.StatusCode, extractDetail(respBody)),
		}
	}

	var result brokerResponse
	if err := json.Unmarshal(respBody, &result); err != nil {
		return "", fmt.Errorf("failed to parse broker response: %w", err)
	}
	if result.Error != "" {
		return "", &UnavailableError{ProviderID: IDCloud, Issue: result.Error}
	}

	return strings.TrimSpace(result.Response), nil
}

// extractDetail pulls a detail string out of an error body when the
// broker supplied a structured one.
func extractDetail(body []byte) string {
	var e struct {
		Error  string `json:"error"`
		Detail string `json:"detail"`
	}
	if err := json.Unmarshal(body, &e); err == nil {
		if e.Error != "" {
			return e.Error
		}
		if e.Detail != "" {
			return e.Detail
		}
	}
	return truncate(strings.TrimSpace(string(body)), 200)
}

// =============================================================================
// BROKER API TYPES
// =============================================================================

type brokerRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

type brokerResponse struct {
	Response string `json:"response"`
	Model    string `json:"model"`
	Error    string `json:"error,omitempty"`
}
