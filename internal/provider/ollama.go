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

	"ucode/internal/logging"
)

// =============================================================================
// LOCAL PROVIDER (OLLAMA)
// =============================================================================

// Ollama is the on-device provider, speaking the Ollama HTTP API:
// GET /api/tags for liveness and the model list (short timeout), and
// POST /api/generate for completions (long timeout). Non-200, timeout
// and connection-refused are all treated as "not running".
type Ollama struct {
	endpoint string
	model    string

	// Separate clients: liveness probes must fail fast, generation
	// calls get tens of seconds.
	probeClient    *http.Client
	generateClient *http.Client
}

// OllamaConfig holds configuration for the local provider.
type OllamaConfig struct {
	Endpoint        string
	Model           string
	LivenessTimeout time.Duration
	GenerateTimeout time.Duration
}

// NewOllama creates a local provider.
func NewOllama(cfg OllamaConfig) *Ollama {
	if cfg.Endpoint == "" {
		cfg.Endpoint = "http://localhost:11434"
	}
	if cfg.Model == "" {
		cfg.Model = "llama3.2"
	}
	if cfg.LivenessTimeout <= 0 {
		cfg.LivenessTimeout = 2 * time.Second
	}
	if cfg.GenerateTimeout <= 0 {
		cfg.GenerateTimeout = 60 * time.Second
	}

	return &Ollama{
		endpoint:       strings.TrimRight(cfg.Endpoint, "/"),
		model:          cfg.Model,
		probeClient:    &http.Client{Timeout: cfg.LivenessTimeout},
		generateClient: &http.Client{Timeout: cfg.GenerateTimeout},
	}
}

// ID implements Provider.
func (o *Ollama) ID() string { return IDLocal }

// DefaultModel returns the configured default model name.
func (o *Ollama) DefaultModel() string { return o.model }

// Status probes /api/tags and checks the default model is present.
func (o *Ollama) Status(ctx context.Context) Status {
	status := Status{ProviderID: IDLocal, Configured: o.endpoint != ""}
	defer status.finalize()

	if !status.Configured {
		status.Issue = "no local endpoint configured"
		return status
	}

	models, err := o.ListModels(ctx)
	if err != nil {
		status.Issue = fmt.Sprintf("not running: %v", err)
		return status
	}
	status.Running = true

	for _, m := range models {
		if m == o.model || strings.HasPrefix(m, o.model+":") {
			status.DefaultModelPresent = true
			break
		}
	}
	if !status.DefaultModelPresent {
		status.Issue = fmt.Sprintf("default model %q not pulled (have %d models)", o.model, len(models))
	}

	return status
}

// ListModels fetches the installed model names via GET /api/tags.
func (o *Ollama) ListModels(ctx context.Context) ([]string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, o.endpoint+"/api/tags", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := o.probeClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("ollama unreachable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("ollama returned status %d", resp.StatusCode)
	}

	var result ollamaTagsResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode tags response: %w", err)
	}

	names := make([]string, 0, len(result.Models))
	for _, m := range result.Models {
		names = append(names, m.Name)
	}
	return names, nil
}

// Generate runs a completion against the given model (default model when
// empty) via POST /api/generate.
func (o *Ollama) Generate(ctx context.Context, model, prompt string) (string, error) {
	if model == "" {
		model = o.model
	}

	logging.ProviderDebug("ollama generate: model=%s prompt=%d bytes", model, len(prompt))

	reqBody := ollamaGenerateRequest{
		Model:  model,
		Prompt: prompt,
		Stream: false,
	}
	body, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.endpoint+"/api/generate", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := o.generateClient.Do(req)
	if err != nil {
		return "", &UnavailableError{ProviderID: IDLocal, Issue: fmt.Sprintf("generate call failed: %v", err)}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(resp.Body)
		return "", &UnavailableError{
			ProviderID: IDLocal,
			Issue:      fmt.Sprintf("ollama returned status %d: %s", resp.StatusCode, truncate(string(bodyBytes), 200)),
		}
	}

	var result ollamaGenerateResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("failed to decode response: %w", err)
	}

	return strings.TrimSpace(result.Response), nil
}

// Pull requests a model download via POST /api/pull. The ollama daemon
// performs the actual network fetch; callers gate-check the registry URL
// before asking.
func (o *Ollama) Pull(ctx context.Context, model string) error {
	if model == "" {
		return fmt.Errorf("model name required")
	}

	body, err := json.Marshal(map[string]interface{}{"name": model, "stream": false})
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.endpoint+"/api/pull", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := o.generateClient.Do(req)
	if err != nil {
		return &UnavailableError{ProviderID: IDLocal, Issue: fmt.Sprintf("pull request failed: %v", err)}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("ollama pull returned status %d: %s", resp.StatusCode, truncate(string(bodyBytes), 200))
	}

	logging.Provider("pull requested for model %s", model)
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// =============================================================================
// OLLAMA API TYPES
// =============================================================================

type ollamaTagsResponse struct {
	Models []struct {
		Name string `json:"name"`
	} `json:"models"`
}

type ollamaGenerateRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
	Stream bool   `json:"stream"`
}

type ollamaGenerateResponse struct {
	Model    string `json:"model"`
	Response string `json:"response"`
	Done     bool   `json:"done"`
}
