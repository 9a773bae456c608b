// Package config holds all uCODE configuration, loaded from
// <workspace>/.ucode/config.yaml with environment variable overrides.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all uCODE configuration.
type Config struct {
	// Core settings
	Name    string `yaml:"name"`
	Version string `yaml:"version"`

	// Provider routing
	Providers ProvidersConfig `yaml:"providers"`

	// Matcher thresholds
	Matcher MatcherConfig `yaml:"matcher"`

	// Network gate
	Gate GateConfig `yaml:"gate"`

	// Command history
	History HistoryConfig `yaml:"history"`

	// Logging
	Logging LoggingConfig `yaml:"logging"`
}

// ProvidersConfig configures the local and cloud inference backends.
type ProvidersConfig struct {
	// Primary is "local" or "cloud".
	Primary string `yaml:"primary"`

	// AutoFallback enables trying the secondary provider when the
	// primary fails.
	AutoFallback bool `yaml:"auto_fallback"`

	// CloudSanityCheck enables a best-effort cloud verification of
	// low-confidence local responses.
	CloudSanityCheck bool `yaml:"cloud_sanity_check"`

	Local LocalProviderConfig `yaml:"local"`
	Cloud CloudProviderConfig `yaml:"cloud"`
}

// LocalProviderConfig configures the on-device Ollama-style backend.
type LocalProviderConfig struct {
	Endpoint      string `yaml:"endpoint"`
	Model         string `yaml:"model"`
	FallbackModel string `yaml:"fallback_model"`

	// LivenessTimeout bounds /api/tags probes; GenerateTimeout bounds
	// generation calls.
	LivenessTimeout string `yaml:"liveness_timeout"`
	GenerateTimeout string `yaml:"generate_timeout"`
}

// CloudProviderConfig configures the broker-relayed cloud backend.
type CloudProviderConfig struct {
	BaseURL string `yaml:"base_url"`
	APIKey  string `yaml:"api_key"`
	Model   string `yaml:"model"`
	Timeout string `yaml:"timeout"`
}

// MatcherConfig configures the uCODE matcher thresholds.
// The constants are validated against the monotonicity properties in the
// matcher tests, they are not magic numbers.
type MatcherConfig struct {
	AutoExecuteThreshold float64 `yaml:"auto_execute_threshold"`
	ConfirmThreshold     float64 `yaml:"confirm_threshold"`
	MatchFloor           float64 `yaml:"match_floor"`
}

// GateConfig configures the network gate.
type GateConfig struct {
	// RecordPath is the on-disk gate record, relative to the workspace
	// when not absolute.
	RecordPath string `yaml:"record_path"`
	DefaultTTL string `yaml:"default_ttl"`
}

// HistoryConfig configures the command history store.
type HistoryConfig struct {
	DatabasePath string `yaml:"database_path"`
	MaxEntries   int    `yaml:"max_entries"`
}

// LoggingConfig configures logging.
type LoggingConfig struct {
	DebugMode  bool            `yaml:"debug_mode"`
	Level      string          `yaml:"level"` // debug, info, warn, error
	Categories map[string]bool `yaml:"categories,omitempty"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Name:    "uCODE",
		Version: "1.0.0",

		Providers: ProvidersConfig{
			Primary:          "local",
			AutoFallback:     true,
			CloudSanityCheck: false,
			Local: LocalProviderConfig{
				Endpoint:        "http://localhost:11434",
				Model:           "llama3.2",
				FallbackModel:   "llama3.2:1b",
				LivenessTimeout: "2s",
				GenerateTimeout: "60s",
			},
			Cloud: CloudProviderConfig{
				BaseURL: "http://localhost:5001",
				Model:   "default",
				Timeout: "30s",
			},
		},

		Matcher: MatcherConfig{
			AutoExecuteThreshold: 0.95,
			ConfirmThreshold:     0.80,
			MatchFloor:           0.30,
		},

		Gate: GateConfig{
			RecordPath: ".ucode/gate.json",
			DefaultTTL: "15m",
		},

		History: HistoryConfig{
			DatabasePath: ".ucode/history.db",
			MaxEntries:   1000,
		},

		Logging: LoggingConfig{
			DebugMode: false,
			Level:     "info",
		},
	}
}

// Path returns the canonical config file location for a workspace.
func Path(workspace string) string {
	return filepath.Join(workspace, ".ucode", "config.yaml")
}

// Load loads configuration from a YAML file.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			// Return defaults if config file doesn't exist
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.applyEnvOverrides()

	return cfg, nil
}

// Save saves configuration to a YAML file.
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	return nil
}

// applyEnvOverrides applies environment variable overrides.
func (c *Config) applyEnvOverrides() {
	if key := os.Getenv("UCODE_CLOUD_API_KEY"); key != "" {
		c.Providers.Cloud.APIKey = key
	}
	if url := os.Getenv("UCODE_CLOUD_URL"); url != "" {
		c.Providers.Cloud.BaseURL = url
	}
	if url := os.Getenv("OLLAMA_URL"); url != "" {
		c.Providers.Local.Endpoint = url
	}
	if model := os.Getenv("UCODE_LOCAL_MODEL"); model != "" {
		c.Providers.Local.Model = model
	}
	if primary := os.Getenv("UCODE_PRIMARY_PROVIDER"); primary != "" {
		c.Providers.Primary = primary
	}
}

// Validate checks the configuration for inconsistencies.
func (c *Config) Validate() error {
	if c.Providers.Primary != "local" && c.Providers.Primary != "cloud" {
		return fmt.Errorf("invalid primary provider %q (want local or cloud)", c.Providers.Primary)
	}
	m := c.Matcher
	if m.AutoExecuteThreshold < 0 || m.AutoExecuteThreshold > 1 {
		return fmt.Errorf("auto_execute_threshold %v out of [0,1]", m.AutoExecuteThreshold)
	}
	if m.ConfirmThreshold < 0 || m.ConfirmThreshold > m.AutoExecuteThreshold {
		return fmt.Errorf("confirm_threshold %v must be in [0, auto_execute_threshold]", m.ConfirmThreshold)
	}
	if m.MatchFloor < 0 || m.MatchFloor > m.ConfirmThreshold {
		return fmt.Errorf("match_floor %v must be in [0, confirm_threshold]", m.MatchFloor)
	}
	if c.History.MaxEntries <= 0 {
		return fmt.Errorf("history max_entries must be positive")
	}
	return nil
}

// GetLivenessTimeout returns the local provider liveness timeout.
func (c *Config) GetLivenessTimeout() time.Duration {
	d, err := time.ParseDuration(c.Providers.Local.LivenessTimeout)
	if err != nil {
		return 2 * time.Second
	}
	return d
}

// GetGenerateTimeout returns the local provider generation timeout.
func (c *Config) GetGenerateTimeout() time.Duration {
	d, err := time.ParseDuration(c.Providers.Local.GenerateTimeout)
	if err != nil {
		return 60 * time.Second
	}
	return d
}

// GetCloudTimeout returns the cloud provider call timeout.
func (c *Config) GetCloudTimeout() time.Duration {
	d, err := time.ParseDuration(c.Providers.Cloud.Timeout)
	if err != nil {
		return 30 * time.Second
	}
	return d
}

// GetGateTTL returns the default gate open window.
func (c *Config) GetGateTTL() time.Duration {
	d, err := time.ParseDuration(c.Gate.DefaultTTL)
	if err != nil {
		return 15 * time.Minute
	}
	return d
}

// ResolvePath resolves a configured path against the workspace when it is
// not already absolute.
func ResolvePath(workspace, path string) string {
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(workspace, path)
}
