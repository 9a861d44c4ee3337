// Package config loads the two-file configuration: config.json holds
// business settings (store endpoint, providers, agents, tools) and
// system.json holds engine tuning, falling back to safe defaults so
// the runtime can always start.
package config

import (
	"fmt"
	"os"

	jsoniter "github.com/json-iterator/go"

	"ripple/pkg/breadcrumb"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// StoreConfig points the runtime at the breadcrumb store.
type StoreConfig struct {
	// BaseURL is the root of the store's HTTP API.
	BaseURL string `json:"base_url"`
	// Token is a static bearer credential. Leave empty when TokenURL
	// is set.
	Token string `json:"token,omitempty"`
	// TokenURL, when set, is fetched for a fresh bearer token on 401
	// and on the proactive refresh timer.
	TokenURL string `json:"token_url,omitempty"`
	// Workspace scopes the event subscription to one workspace tag.
	Workspace string `json:"workspace,omitempty"`
}

// Config maps directly to config.json.
type Config struct {
	Store StoreConfig `json:"store"`
	// LLM holds the provider group list in raw JSON, expanded through
	// the provider registry.
	LLM jsoniter.RawMessage `json:"llm"`
	// Agents are statically configured agent definitions, merged with
	// any agent.def.v1 documents found in the store.
	Agents []breadcrumb.AgentDef `json:"agents,omitempty"`
}

// Validate guards the mandatory fields before initialization proceeds.
func (c *Config) Validate() error {
	if c.Store.BaseURL == "" {
		return fmt.Errorf("mandatory 'store.base_url' configuration is missing")
	}
	if len(c.LLM) == 0 {
		return fmt.Errorf("mandatory 'llm' configuration is missing or empty")
	}
	return nil
}

// SystemConfig defines engine-level technical parameters from
// system.json.
type SystemConfig struct {
	// MaxRetries is the per-provider retry count for transient LLM
	// errors.
	MaxRetries int `json:"max_retries"`
	// RetryDelayMs is the base wait between LLM retry attempts.
	RetryDelayMs int `json:"retry_delay_ms"`
	// ExecuteTimeoutMs bounds one component execution.
	ExecuteTimeoutMs int `json:"execute_timeout_ms"`
	// RespondTimeoutMs bounds persisting one execution outcome.
	RespondTimeoutMs int `json:"respond_timeout_ms"`
	// StreamBufferSize is the capacity of the event channel between
	// the stream client and the dispatcher.
	StreamBufferSize int `json:"stream_buffer_size"`
	// BackoffBaseMs and BackoffMaxMs shape the reconnect backoff
	// curve of the event stream client.
	BackoffBaseMs int `json:"backoff_base_ms"`
	BackoffMaxMs  int `json:"backoff_max_ms"`
	// MaxReconnectAttempts caps consecutive failed reconnects; zero
	// retries forever.
	MaxReconnectAttempts int `json:"max_reconnect_attempts"`
	// RefreshIntervalMs is the proactive credential refresh period.
	RefreshIntervalMs int `json:"refresh_interval_ms"`
	// ContextFetchLimit bounds recent/all context fetches whose
	// subscription left the limit unset.
	ContextFetchLimit int `json:"context_fetch_limit"`
	// TokenInQuery passes the bearer token as a query parameter on
	// the stream dial instead of a header.
	TokenInQuery bool `json:"token_in_query"`
	// LogLevel sets the minimum severity for log output.
	// Accepted values: "debug", "info", "warn", "error".
	LogLevel string `json:"log_level"`
}

// DefaultSystemConfig returns safe defaults, used whole when
// system.json is missing and as the base it is parsed over.
func DefaultSystemConfig() *SystemConfig {
	return &SystemConfig{
		MaxRetries:           3,
		RetryDelayMs:         500,
		ExecuteTimeoutMs:     30000,
		RespondTimeoutMs:     15000,
		StreamBufferSize:     100,
		BackoffBaseMs:        500,
		BackoffMaxMs:         30000,
		MaxReconnectAttempts: 0,
		RefreshIntervalMs:    600000,
		ContextFetchLimit:    10,
		LogLevel:             "info",
	}
}

// Load reads config.json and system.json from the working directory.
// The app config is mandatory; the system config silently falls back
// to defaults.
func Load() (*Config, *SystemConfig, error) {
	return LoadFrom("config.json", "system.json")
}

// LoadFrom reads the configuration from explicit paths.
func LoadFrom(appPath, systemPath string) (*Config, *SystemConfig, error) {
	appFile, err := os.ReadFile(appPath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read config file '%s': %w", appPath, err)
	}

	var cfg Config
	if err := json.Unmarshal(appFile, &cfg); err != nil {
		return nil, nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}

	return &cfg, LoadSystemConfig(systemPath), nil
}

// LoadSystemConfig attempts to load system settings, returning the
// defaults when the file is missing or unparsable.
func LoadSystemConfig(path string) *SystemConfig {
	cfg := DefaultSystemConfig()

	file, err := os.ReadFile(path)
	if err != nil {
		return cfg
	}
	if err := json.Unmarshal(file, cfg); err != nil {
		return cfg
	}
	return cfg
}
