// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"

	"github.com/jeranaias/chatgate/internal/settings"
	"github.com/jeranaias/chatgate/internal/util"
)

// =============================================================================
// CONFIG STRUCTURES
// =============================================================================

// Config represents the complete chatgate configuration.
type Config struct {
	Server    ServerConfig    `toml:"server" json:"server"`
	Storage   StorageConfig   `toml:"storage" json:"storage"`
	Context   ContextConfig   `toml:"context" json:"context"`
	Defaults  DefaultsConfig  `toml:"defaults" json:"defaults"`
	Providers ProvidersConfig `toml:"providers" json:"providers"`
	Log       LogConfig       `toml:"log" json:"log"`
}

// ServerConfig contains HTTP server configuration.
type ServerConfig struct {
	// Addr is the listen address (host:port).
	Addr string `toml:"addr" json:"addr"`

	// AuthToken enables bearer authentication when non-empty.
	AuthToken string `toml:"auth_token" json:"auth_token"`

	// AllowedIPs restricts access to these IPs or CIDR ranges (empty = all).
	AllowedIPs []string `toml:"allowed_ips" json:"allowed_ips"`

	// CORSOrigins lists browser origins allowed to call the API.
	// "*" allows any origin; "*.example.com" matches subdomains.
	CORSOrigins []string `toml:"cors_origins" json:"cors_origins"`

	// RateLimit is the sustained requests per second per client IP (0 = disabled).
	RateLimit float64 `toml:"rate_limit" json:"rate_limit"`
	// RateBurst is the token bucket size per client IP.
	RateBurst int `toml:"rate_burst" json:"rate_burst"`

	// MaxBodyBytes caps the request body size.
	MaxBodyBytes int64 `toml:"max_body_bytes" json:"max_body_bytes"`
	// MaxMessages caps the number of messages in one request.
	MaxMessages int `toml:"max_messages" json:"max_messages"`
	// MaxMessageLength caps the length of one message's content in bytes.
	MaxMessageLength int `toml:"max_message_length" json:"max_message_length"`

	ReadTimeoutSecs     int `toml:"read_timeout_secs" json:"read_timeout_secs"`
	IdleTimeoutSecs     int `toml:"idle_timeout_secs" json:"idle_timeout_secs"`
	ShutdownTimeoutSecs int `toml:"shutdown_timeout_secs" json:"shutdown_timeout_secs"`
}

// StorageConfig selects the conversation store backend.
type StorageConfig struct {
	// Backend is "jsonl" (one log file per conversation) or "sqlite".
	Backend string `toml:"backend" json:"backend"`
	// Dir is the data directory. Default: ~/.chatgate/conversations
	Dir string `toml:"dir" json:"dir"`
}

// ContextConfig bounds the prompt window sent to stateless providers.
type ContextConfig struct {
	// MaxTokens is the total context budget; the reply's max_tokens is subtracted from it.
	MaxTokens int `toml:"max_tokens" json:"max_tokens"`
	// MinWindowTokens is the floor for the history budget.
	MinWindowTokens int `toml:"min_window_tokens" json:"min_window_tokens"`
	// MaxMessages caps the window length regardless of tokens.
	MaxMessages int `toml:"max_messages" json:"max_messages"`
}

// DefaultsConfig holds generation defaults applied before normalization.
type DefaultsConfig struct {
	Temperature    float64 `toml:"temperature" json:"temperature"`
	MaxTokens      int     `toml:"max_tokens" json:"max_tokens"`
	SystemPrompt   string  `toml:"system_prompt" json:"system_prompt"`
	PermissionMode string  `toml:"permission_mode" json:"permission_mode"`
}

// ProvidersConfig holds one section per backend.
type ProvidersConfig struct {
	Mock   ProviderConfig `toml:"mock" json:"mock"`
	Claude ProviderConfig `toml:"claude" json:"claude"`
	Gemini ProviderConfig `toml:"gemini" json:"gemini"`
	Docker ProviderConfig `toml:"docker" json:"docker"`
	Codex  ProviderConfig `toml:"codex" json:"codex"`
}

// ProviderConfig configures one backend. Unused fields are ignored per backend.
type ProviderConfig struct {
	BaseURL     string `toml:"base_url" json:"base_url"`
	APIKey      string `toml:"api_key" json:"api_key"`
	Model       string `toml:"model" json:"model"`
	TimeoutSecs int    `toml:"timeout_secs" json:"timeout_secs"`

	// Binary is the executable for the codex backend.
	Binary string `toml:"binary" json:"binary"`

	// DelayMs is the pause between mock fragments.
	DelayMs int `toml:"delay_ms" json:"delay_ms"`
}

// LogConfig configures structured logging.
type LogConfig struct {
	// Level is debug, info, warn or error.
	Level string `toml:"level" json:"level"`
	// Format is text or json.
	Format string `toml:"format" json:"format"`
}

// =============================================================================
// DEFAULT CONFIGURATION
// =============================================================================

// Default returns a Config with sensible default values.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:                "127.0.0.1:8787",
			AllowedIPs:          []string{},
			CORSOrigins:         []string{"http://localhost:3000", "http://127.0.0.1:3000"},
			RateLimit:           5,
			RateBurst:           20,
			MaxBodyBytes:        1 * 1024 * 1024,
			MaxMessages:         100,
			MaxMessageLength:    100000,
			ReadTimeoutSecs:     30,
			IdleTimeoutSecs:     120,
			ShutdownTimeoutSecs: 10,
		},

		Storage: StorageConfig{
			Backend: "jsonl",
			Dir:     "",
		},

		Context: ContextConfig{
			MaxTokens:       32000,
			MinWindowTokens: 1024,
			MaxMessages:     50,
		},

		Defaults: DefaultsConfig{
			Temperature:    settings.DefaultTemperature,
			MaxTokens:      settings.DefaultMaxTokens,
			PermissionMode: string(settings.DefaultPermissionMode),
		},

		Providers: ProvidersConfig{
			Mock: ProviderConfig{
				Model:       "mock",
				TimeoutSecs: 30,
			},
			Claude: ProviderConfig{
				BaseURL:     "https://api.anthropic.com",
				Model:       "claude-sonnet-4-20250514",
				TimeoutSecs: 120,
			},
			Gemini: ProviderConfig{
				BaseURL:     "https://generativelanguage.googleapis.com/v1beta",
				Model:       "gemini-2.0-flash",
				TimeoutSecs: 120,
			},
			Docker: ProviderConfig{
				BaseURL:     "http://localhost:12434",
				TimeoutSecs: 300,
			},
			Codex: ProviderConfig{
				Binary:      "codex",
				TimeoutSecs: 600,
			},
		},

		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// =============================================================================
// CONFIG PATH HELPERS
// =============================================================================

// ConfigDir returns the chatgate configuration directory path.
func ConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not determine home directory: %w", err)
	}
	return filepath.Join(home, ".chatgate"), nil
}

// ConfigPath returns the path to the TOML config file.
func ConfigPath() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.toml"), nil
}

// DefaultDataDir returns the default conversation data directory.
func DefaultDataDir() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "conversations"), nil
}

// ensureSecurePermissions tightens config files to 0600 since they may hold API keys.
func ensureSecurePermissions(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if mode := info.Mode().Perm(); mode != 0600 {
		if err := os.Chmod(path, 0600); err != nil {
			return fmt.Errorf("failed to fix insecure permissions (was %o): %w", mode, err)
		}
	}
	return nil
}

// =============================================================================
// LOAD FUNCTIONS
// =============================================================================

// Load loads configuration from ~/.chatgate/config.toml if it exists,
// falling back to defaults. Environment overrides are applied last.
func Load() (*Config, error) {
	path, err := ConfigPath()
	if err == nil {
		if _, statErr := os.Stat(path); statErr == nil {
			return LoadFromPath(path)
		}
	}

	cfg := Default()
	return finish(cfg)
}

// LoadFromPath loads configuration from a specific TOML file with full validation.
func LoadFromPath(path string) (*Config, error) {
	cfg := Default()
	if err := LoadTOML(cfg, path); err != nil {
		return nil, fmt.Errorf("failed to load config from %s: %w", path, err)
	}
	return finish(cfg)
}

// LoadTOML decodes a TOML file over cfg. Keys absent from the file keep
// their current values; explicit zero values are replaced by defaults.
func LoadTOML(cfg *Config, path string) error {
	if err := ensureSecurePermissions(path); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: could not ensure secure permissions on %s: %v\n", path, err)
	}

	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return fmt.Errorf("failed to decode TOML file: %w", err)
	}
	fillDefaults(cfg)
	return nil
}

func finish(cfg *Config) (*Config, error) {
	cfg.ApplyEnvOverrides()
	fillDefaults(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// fillDefaults fills in any missing values with defaults.
func fillDefaults(cfg *Config) {
	d := Default()

	if cfg.Server.Addr == "" {
		cfg.Server.Addr = d.Server.Addr
	}
	if cfg.Server.MaxBodyBytes <= 0 {
		cfg.Server.MaxBodyBytes = d.Server.MaxBodyBytes
	}
	if cfg.Server.MaxMessages <= 0 {
		cfg.Server.MaxMessages = d.Server.MaxMessages
	}
	if cfg.Server.MaxMessageLength <= 0 {
		cfg.Server.MaxMessageLength = d.Server.MaxMessageLength
	}
	if cfg.Server.RateLimit > 0 && cfg.Server.RateBurst <= 0 {
		cfg.Server.RateBurst = d.Server.RateBurst
	}
	if cfg.Server.ReadTimeoutSecs == 0 {
		cfg.Server.ReadTimeoutSecs = d.Server.ReadTimeoutSecs
	}
	if cfg.Server.IdleTimeoutSecs == 0 {
		cfg.Server.IdleTimeoutSecs = d.Server.IdleTimeoutSecs
	}
	if cfg.Server.ShutdownTimeoutSecs == 0 {
		cfg.Server.ShutdownTimeoutSecs = d.Server.ShutdownTimeoutSecs
	}

	if cfg.Storage.Backend == "" {
		cfg.Storage.Backend = d.Storage.Backend
	}
	if cfg.Storage.Dir == "" {
		if dir, err := DefaultDataDir(); err == nil {
			cfg.Storage.Dir = dir
		}
	}

	if cfg.Context.MaxTokens <= 0 {
		cfg.Context.MaxTokens = d.Context.MaxTokens
	}
	if cfg.Context.MinWindowTokens <= 0 {
		cfg.Context.MinWindowTokens = d.Context.MinWindowTokens
	}
	if cfg.Context.MaxMessages <= 0 {
		cfg.Context.MaxMessages = d.Context.MaxMessages
	}

	if cfg.Defaults.MaxTokens == 0 {
		cfg.Defaults.MaxTokens = d.Defaults.MaxTokens
	}
	if cfg.Defaults.PermissionMode == "" {
		cfg.Defaults.PermissionMode = d.Defaults.PermissionMode
	}

	fillProvider(&cfg.Providers.Mock, d.Providers.Mock)
	fillProvider(&cfg.Providers.Claude, d.Providers.Claude)
	fillProvider(&cfg.Providers.Gemini, d.Providers.Gemini)
	fillProvider(&cfg.Providers.Docker, d.Providers.Docker)
	fillProvider(&cfg.Providers.Codex, d.Providers.Codex)

	if cfg.Log.Level == "" {
		cfg.Log.Level = d.Log.Level
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = d.Log.Format
	}
}

func fillProvider(p *ProviderConfig, d ProviderConfig) {
	if p.BaseURL == "" {
		p.BaseURL = d.BaseURL
	}
	if p.Model == "" {
		p.Model = d.Model
	}
	if p.TimeoutSecs == 0 {
		p.TimeoutSecs = d.TimeoutSecs
	}
	if p.Binary == "" {
		p.Binary = d.Binary
	}
}

// =============================================================================
// SAVE FUNCTIONS
// =============================================================================

// SaveTOML writes the configuration to path with 0600 permissions.
func SaveTOML(cfg *Config, path string) error {
	var sb strings.Builder
	if err := toml.NewEncoder(&sb).Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode TOML: %w", err)
	}
	return util.AtomicWriteFile(path, []byte(sb.String()), 0600)
}

// =============================================================================
// VALIDATION
// =============================================================================

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidateErrors is a collection of validation errors.
type ValidateErrors []ValidationError

func (e ValidateErrors) Error() string {
	if len(e) == 0 {
		return "no validation errors"
	}
	msgs := make([]string, 0, len(e))
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return strings.Join(msgs, "; ")
}

// Validate validates the configuration and returns any errors.
func (c *Config) Validate() error {
	var errs ValidateErrors
	add := func(field, format string, args ...any) {
		errs = append(errs, ValidationError{Field: field, Message: fmt.Sprintf(format, args...)})
	}

	// Server
	if c.Server.RateLimit < 0 {
		add("server.rate_limit", "must be >= 0, got %v", c.Server.RateLimit)
	}
	if c.Server.ReadTimeoutSecs < 0 {
		add("server.read_timeout_secs", "must be >= 0, got %d", c.Server.ReadTimeoutSecs)
	}
	if c.Server.IdleTimeoutSecs < 0 {
		add("server.idle_timeout_secs", "must be >= 0, got %d", c.Server.IdleTimeoutSecs)
	}

	// Storage
	switch c.Storage.Backend {
	case "jsonl", "sqlite":
	default:
		add("storage.backend", "invalid backend '%s', must be one of: jsonl, sqlite", c.Storage.Backend)
	}

	// Context
	if c.Context.MinWindowTokens > c.Context.MaxTokens {
		add("context.min_window_tokens", "must not exceed context.max_tokens (%d)", c.Context.MaxTokens)
	}

	// Defaults
	if c.Defaults.Temperature < settings.MinTemperature || c.Defaults.Temperature > settings.MaxTemperature {
		add("defaults.temperature", "must be between %.1f and %.1f", settings.MinTemperature, settings.MaxTemperature)
	}
	if c.Defaults.MaxTokens < settings.MinMaxTokens || c.Defaults.MaxTokens > settings.MaxTokensLimit {
		add("defaults.max_tokens", "must be between %d and %d", settings.MinMaxTokens, settings.MaxTokensLimit)
	}
	if !settings.PermissionMode(c.Defaults.PermissionMode).Valid() {
		add("defaults.permission_mode", "invalid mode '%s'", c.Defaults.PermissionMode)
	}

	// Providers
	for name, p := range c.Providers.byName() {
		field := "providers." + name
		if p.TimeoutSecs < 0 {
			add(field+".timeout_secs", "must be >= 0, got %d", p.TimeoutSecs)
		}
		if p.BaseURL != "" {
			if u, err := url.Parse(p.BaseURL); err != nil || u.Scheme == "" || u.Host == "" {
				add(field+".base_url", "invalid URL '%s'", p.BaseURL)
			}
		}
	}
	if c.Providers.Mock.DelayMs < 0 {
		add("providers.mock.delay_ms", "must be >= 0, got %d", c.Providers.Mock.DelayMs)
	}

	// Log
	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		add("log.level", "invalid level '%s', must be one of: debug, info, warn, error", c.Log.Level)
	}
	switch strings.ToLower(c.Log.Format) {
	case "text", "json":
	default:
		add("log.format", "invalid format '%s', must be one of: text, json", c.Log.Format)
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

func (p ProvidersConfig) byName() map[string]ProviderConfig {
	return map[string]ProviderConfig{
		"mock":   p.Mock,
		"claude": p.Claude,
		"gemini": p.Gemini,
		"docker": p.Docker,
		"codex":  p.Codex,
	}
}

// =============================================================================
// ENVIRONMENT OVERRIDES
// =============================================================================

// ApplyEnvOverrides applies environment variable overrides to the config.
//
// Supported environment variables:
//   - CHATGATE_ADDR: overrides server.addr
//   - CHATGATE_AUTH_TOKEN: overrides server.auth_token
//   - CHATGATE_STORAGE_BACKEND: overrides storage.backend
//   - CHATGATE_DATA_DIR: overrides storage.dir
//   - CHATGATE_LOG_LEVEL: overrides log.level
//   - CHATGATE_MOCK_DELAY_MS: overrides providers.mock.delay_ms
//   - ANTHROPIC_API_KEY: overrides providers.claude.api_key
//   - GEMINI_API_KEY: overrides providers.gemini.api_key
//   - CHATGATE_DOCKER_URL: overrides providers.docker.base_url
//   - CHATGATE_CODEX_BIN: overrides providers.codex.binary
func (c *Config) ApplyEnvOverrides() {
	if v := os.Getenv("CHATGATE_ADDR"); v != "" {
		c.Server.Addr = v
	}
	if v := os.Getenv("CHATGATE_AUTH_TOKEN"); v != "" {
		c.Server.AuthToken = v
	}
	if v := os.Getenv("CHATGATE_STORAGE_BACKEND"); v != "" {
		c.Storage.Backend = v
	}
	if v := os.Getenv("CHATGATE_DATA_DIR"); v != "" {
		c.Storage.Dir = v
	}
	if v := os.Getenv("CHATGATE_LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
	if v := os.Getenv("CHATGATE_MOCK_DELAY_MS"); v != "" {
		if ms, err := strconv.Atoi(v); err == nil {
			c.Providers.Mock.DelayMs = ms
		}
	}
	if v := os.Getenv("ANTHROPIC_API_KEY"); v != "" {
		c.Providers.Claude.APIKey = v
	}
	if v := os.Getenv("GEMINI_API_KEY"); v != "" {
		c.Providers.Gemini.APIKey = v
	}
	if v := os.Getenv("CHATGATE_DOCKER_URL"); v != "" {
		c.Providers.Docker.BaseURL = v
	}
	if v := os.Getenv("CHATGATE_CODEX_BIN"); v != "" {
		c.Providers.Codex.Binary = v
	}
}

// =============================================================================
// HELPER FUNCTIONS
// =============================================================================

// Clone creates a deep copy of the configuration.
func (c *Config) Clone() *Config {
	clone := *c
	clone.Server.AllowedIPs = append([]string(nil), c.Server.AllowedIPs...)
	clone.Server.CORSOrigins = append([]string(nil), c.Server.CORSOrigins...)
	return &clone
}

// String returns a JSON rendering of the config with secrets redacted.
func (c *Config) String() string {
	safe := c.Clone()
	redact := func(s *string) {
		if *s != "" {
			*s = "[REDACTED]"
		}
	}
	redact(&safe.Server.AuthToken)
	redact(&safe.Providers.Claude.APIKey)
	redact(&safe.Providers.Gemini.APIKey)
	redact(&safe.Providers.Docker.APIKey)

	data, _ := json.MarshalIndent(safe, "", "  ")
	return string(data)
}
