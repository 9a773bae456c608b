package provider

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"ucode/internal/logging"
)

// =============================================================================
// PROVIDER ROUTER
// =============================================================================

// Route outcome statuses.
const (
	RouteSuccess    = "success"        // Primary provider answered
	RouteFallbackOK = "fallback_ok"    // Secondary provider answered after primary failure
	RouteQuota      = "quota_exceeded" // Cloud rate limit, not retried
	RouteError      = "error"          // Every route failed
)

// RouteResult is the structured outcome of routing one prompt. The router
// never returns a bare error across this boundary: failures land here as
// Status plus Message.
type RouteResult struct {
	Response     string
	ProviderUsed string
	Status       string
	Message      string

	// SanityChecked reports that a cloud verification call confirmed a
	// low-confidence local response.
	SanityChecked bool
}

// RouterConfig holds the routing policy.
type RouterConfig struct {
	// Primary is IDLocal or IDCloud.
	Primary string

	// AutoFallback enables escalating to the secondary provider when
	// the primary fails.
	AutoFallback bool

	// CloudSanityCheck verifies low-confidence local responses against
	// the cloud, best effort.
	CloudSanityCheck bool

	// LocalFallbackModel is tried on the local provider before
	// escalating to cloud.
	LocalFallbackModel string
}

// Router selects and fails over between the local and cloud providers.
type Router struct {
	local Provider
	cloud Provider

	mu  sync.RWMutex
	cfg RouterConfig
}

// NewRouter creates a router over the two providers.
func NewRouter(local, cloud Provider, cfg RouterConfig) *Router {
	if cfg.Primary != IDCloud {
		cfg.Primary = IDLocal
	}
	return &Router{local: local, cloud: cloud, cfg: cfg}
}

// config snapshots the policy; Route works from one consistent view even
// if SetAutoFallback races with it.
func (r *Router) config() RouterConfig {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.cfg
}

// SetAutoFallback toggles failover at runtime (the OK FALLBACK verb).
func (r *Router) SetAutoFallback(on bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cfg.AutoFallback = on
}

// AutoFallback reports the current failover setting.
func (r *Router) AutoFallback() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.cfg.AutoFallback
}

// Route sends the prompt to the primary provider, failing over per the
// configured policy. preferCloud flips the order for this one call.
func (r *Router) Route(ctx context.Context, prompt string, preferCloud bool) RouteResult {
	cfg := r.config()

	primary, secondary := r.local, r.cloud
	if cfg.Primary == IDCloud || preferCloud {
		primary, secondary = r.cloud, r.local
	}

	response, err := r.attempt(ctx, primary, prompt)
	if err == nil {
		result := RouteResult{
			Response:     response,
			ProviderUsed: primary.ID(),
			Status:       RouteSuccess,
		}
		r.maybeSanityCheck(ctx, primary, prompt, &result)
		return result
	}

	// A cloud rate limit is a distinct terminal outcome, never silently
	// retried.
	var quota *QuotaError
	if errors.As(err, &quota) {
		logging.ProviderWarn("cloud quota exceeded: %s", quota.Detail)
		return RouteResult{
			ProviderUsed: primary.ID(),
			Status:       RouteQuota,
			Message:      quota.Remediation(),
		}
	}

	primaryFailure := fmt.Sprintf("%s: %v", primary.ID(), err)
	logging.ProviderWarn("primary provider failed: %s", primaryFailure)

	if !cfg.AutoFallback {
		return RouteResult{
			ProviderUsed: primary.ID(),
			Status:       RouteError,
			Message:      primaryFailure,
		}
	}

	response, err = r.attempt(ctx, secondary, prompt)
	if err == nil {
		logging.Provider("fallback to %s succeeded", secondary.ID())
		return RouteResult{
			Response:     response,
			ProviderUsed: secondary.ID(),
			Status:       RouteFallbackOK,
			Message:      fmt.Sprintf("primary failed (%s), answered by %s", primaryFailure, secondary.ID()),
		}
	}

	if errors.As(err, &quota) {
		return RouteResult{
			ProviderUsed: secondary.ID(),
			Status:       RouteQuota,
			Message:      fmt.Sprintf("primary failed (%s); %s", primaryFailure, quota.Remediation()),
		}
	}

	secondaryFailure := fmt.Sprintf("%s: %v", secondary.ID(), err)
	logging.ProviderWarn("secondary provider failed: %s", secondaryFailure)

	return RouteResult{
		Status:  RouteError,
		Message: fmt.Sprintf("all providers failed - %s; %s", primaryFailure, secondaryFailure),
	}
}

// attempt runs one provider, including the local fallback-model retry
// before escalation.
func (r *Router) attempt(ctx context.Context, p Provider, prompt string) (string, error) {
	response, err := p.Generate(ctx, "", prompt)
	if err == nil {
		return response, nil
	}

	// Local failures get one more try on the configured fallback model
	// before the error escalates to the other provider.
	if fallback := r.config().LocalFallbackModel; p.ID() == IDLocal && fallback != "" {
		logging.ProviderDebug("local default model failed (%v), trying fallback model %s",
			err, fallback)
		if fbResponse, fbErr := p.Generate(ctx, fallback, prompt); fbErr == nil {
			return fbResponse, nil
		}
	}

	return "", err
}

// maybeSanityCheck issues a best-effort cloud verification of a local
// response that looks low-confidence. Its own failure is logged and
// swallowed; it never surfaces as the primary error.
func (r *Router) maybeSanityCheck(ctx context.Context, answered Provider, prompt string, result *RouteResult) {
	if !r.config().CloudSanityCheck || answered.ID() != IDLocal {
		return
	}
	if !LooksLowConfidence(result.Response) {
		return
	}

	logging.Provider("local response looks low-confidence, issuing cloud sanity check")

	verifyPrompt := fmt.Sprintf(
		"Briefly verify whether this answer is reasonable for the question.\nQuestion: %s\nAnswer: %s",
		prompt, result.Response)

	if _, err := r.cloud.Generate(ctx, "", verifyPrompt); err != nil {
		logging.ProviderWarn("cloud sanity check failed (ignored): %v", err)
		return
	}
	result.SanityChecked = true
}

// hedgingPhrases mark responses that deserve a second opinion.
var hedgingPhrases = []string{
	"not sure",
	"unable",
	"as an ai",
	"i don't know",
	"cannot help",
}

// lowConfidenceLength - responses at or below this many characters are
// suspicious on their own.
const lowConfidenceLength = 20

// LooksLowConfidence reports whether a response is very short or hedges.
func LooksLowConfidence(response string) bool {
	trimmed := strings.TrimSpace(response)
	if len(trimmed) <= lowConfidenceLength {
		return true
	}
	lower := strings.ToLower(trimmed)
	for _, phrase := range hedgingPhrases {
		if strings.Contains(lower, phrase) {
			return true
		}
	}
	return false
}

// Statuses probes both providers concurrently and returns local, cloud.
func (r *Router) Statuses(ctx context.Context) (Status, Status) {
	var localStatus, cloudStatus Status

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		localStatus = r.local.Status(gctx)
		return nil
	})
	g.Go(func() error {
		cloudStatus = r.cloud.Status(gctx)
		return nil
	})
	_ = g.Wait() // Probes report through Status.Issue, not errors.

	return localStatus, cloudStatus
}
