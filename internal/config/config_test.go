// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	return path
}

func TestConfig_Default(t *testing.T) {
	cfg := Default()

	if cfg.Server.Addr != "127.0.0.1:8787" {
		t.Errorf("Server.Addr = %q, want 127.0.0.1:8787", cfg.Server.Addr)
	}
	if cfg.Storage.Backend != "jsonl" {
		t.Errorf("Storage.Backend = %q, want jsonl", cfg.Storage.Backend)
	}
	if cfg.Providers.Mock.Model != "mock" {
		t.Errorf("Providers.Mock.Model = %q, want mock", cfg.Providers.Mock.Model)
	}
	if cfg.Providers.Docker.Model != "" {
		t.Errorf("Providers.Docker.Model = %q, want empty (model is per request)", cfg.Providers.Docker.Model)
	}

	fillDefaults(cfg)
	if err := cfg.Validate(); err != nil {
		t.Errorf("Default config should be valid, got: %v", err)
	}
}

func TestLoadFromPath(t *testing.T) {
	path := writeConfig(t, `
[server]
addr = "0.0.0.0:9000"
rate_limit = 2.5

[storage]
backend = "sqlite"
dir = "/tmp/chatgate-test"

[providers.claude]
api_key = "sk-test"
timeout_secs = 45

[providers.mock]
delay_ms = 5
`)

	cfg, err := LoadFromPath(path)
	require.NoError(t, err)

	if cfg.Server.Addr != "0.0.0.0:9000" {
		t.Errorf("Server.Addr = %q, want 0.0.0.0:9000", cfg.Server.Addr)
	}
	if cfg.Server.RateLimit != 2.5 {
		t.Errorf("Server.RateLimit = %v, want 2.5", cfg.Server.RateLimit)
	}
	if cfg.Storage.Backend != "sqlite" {
		t.Errorf("Storage.Backend = %q, want sqlite", cfg.Storage.Backend)
	}
	if cfg.Providers.Claude.TimeoutSecs != 45 {
		t.Errorf("Claude.TimeoutSecs = %d, want 45", cfg.Providers.Claude.TimeoutSecs)
	}
	// Untouched keys keep defaults.
	if cfg.Providers.Claude.BaseURL != "https://api.anthropic.com" {
		t.Errorf("Claude.BaseURL = %q, want default", cfg.Providers.Claude.BaseURL)
	}
	if cfg.Providers.Mock.DelayMs != 5 {
		t.Errorf("Mock.DelayMs = %d, want 5", cfg.Providers.Mock.DelayMs)
	}
}

func TestLoadFromPath_FixesPermissions(t *testing.T) {
	path := writeConfig(t, "[server]\naddr = \"127.0.0.1:1\"\n")
	require.NoError(t, os.Chmod(path, 0644))

	_, err := LoadFromPath(path)
	require.NoError(t, err)

	info, err := os.Stat(path)
	require.NoError(t, err)
	if info.Mode().Perm() != 0600 {
		t.Errorf("permissions = %o, want 600", info.Mode().Perm())
	}
}

func TestLoadFromPath_Invalid(t *testing.T) {
	path := writeConfig(t, `
[storage]
backend = "postgres"

[defaults]
permission_mode = "root"

[log]
level = "loud"
`)

	_, err := LoadFromPath(path)
	require.Error(t, err)

	var verrs ValidateErrors
	if !errors.As(err, &verrs) {
		t.Fatalf("error should wrap ValidateErrors, got %T", err)
	}
	fields := make(map[string]bool)
	for _, v := range verrs {
		fields[v.Field] = true
	}
	for _, want := range []string{"storage.backend", "defaults.permission_mode", "log.level"} {
		if !fields[want] {
			t.Errorf("missing validation error for %s in %v", want, verrs)
		}
	}
}

func TestLoadFromPath_BadTOML(t *testing.T) {
	path := writeConfig(t, "[server\naddr = ")
	if _, err := LoadFromPath(path); err == nil {
		t.Error("expected decode error")
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"valid", func(c *Config) {}, ""},
		{"negative rate", func(c *Config) { c.Server.RateLimit = -1 }, "server.rate_limit"},
		{"temperature", func(c *Config) { c.Defaults.Temperature = 2.5 }, "defaults.temperature"},
		{"max tokens", func(c *Config) { c.Defaults.MaxTokens = 200000 }, "defaults.max_tokens"},
		{"bad url", func(c *Config) { c.Providers.Gemini.BaseURL = "not a url" }, "providers.gemini.base_url"},
		{"negative delay", func(c *Config) { c.Providers.Mock.DelayMs = -1 }, "providers.mock.delay_ms"},
		{"window floor", func(c *Config) { c.Context.MinWindowTokens = c.Context.MaxTokens + 1 }, "context.min_window_tokens"},
		{"log format", func(c *Config) { c.Log.Format = "xml" }, "log.format"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			fillDefaults(cfg)
			tc.mutate(cfg)

			err := cfg.Validate()
			if tc.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() = %v, want nil", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tc.wantErr) {
				t.Errorf("Validate() = %v, want error containing %q", err, tc.wantErr)
			}
		})
	}
}

func TestConfig_ApplyEnvOverrides(t *testing.T) {
	t.Setenv("CHATGATE_ADDR", "127.0.0.1:7000")
	t.Setenv("CHATGATE_STORAGE_BACKEND", "sqlite")
	t.Setenv("ANTHROPIC_API_KEY", "env-key")
	t.Setenv("CHATGATE_MOCK_DELAY_MS", "12")
	t.Setenv("CHATGATE_CODEX_BIN", "/opt/codex")

	cfg := Default()
	cfg.ApplyEnvOverrides()

	if cfg.Server.Addr != "127.0.0.1:7000" {
		t.Errorf("Server.Addr = %q", cfg.Server.Addr)
	}
	if cfg.Storage.Backend != "sqlite" {
		t.Errorf("Storage.Backend = %q", cfg.Storage.Backend)
	}
	if cfg.Providers.Claude.APIKey != "env-key" {
		t.Errorf("Claude.APIKey = %q", cfg.Providers.Claude.APIKey)
	}
	if cfg.Providers.Mock.DelayMs != 12 {
		t.Errorf("Mock.DelayMs = %d", cfg.Providers.Mock.DelayMs)
	}
	if cfg.Providers.Codex.Binary != "/opt/codex" {
		t.Errorf("Codex.Binary = %q", cfg.Providers.Codex.Binary)
	}
}

func TestConfig_StringRedactsSecrets(t *testing.T) {
	cfg := Default()
	cfg.Server.AuthToken = "super-secret-token"
	cfg.Providers.Claude.APIKey = "sk-ant-secret"
	cfg.Providers.Gemini.APIKey = "gemini-secret"

	out := cfg.String()
	for _, secret := range []string{"super-secret-token", "sk-ant-secret", "gemini-secret"} {
		if strings.Contains(out, secret) {
			t.Errorf("String() leaked %q", secret)
		}
	}
	if !strings.Contains(out, "[REDACTED]") {
		t.Error("String() should mark redacted fields")
	}
	if cfg.Providers.Claude.APIKey != "sk-ant-secret" {
		t.Error("String() must not mutate the original config")
	}
}

func TestConfig_Clone(t *testing.T) {
	cfg := Default()
	cfg.Server.AllowedIPs = []string{"10.0.0.1"}

	clone := cfg.Clone()
	clone.Server.AllowedIPs[0] = "10.0.0.2"
	clone.Server.Addr = "changed"

	if cfg.Server.AllowedIPs[0] != "10.0.0.1" {
		t.Error("Clone() shares AllowedIPs slice")
	}
	if cfg.Server.Addr == "changed" {
		t.Error("Clone() shares struct")
	}
}

func TestSaveTOML_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.toml")
	cfg := Default()
	cfg.Server.Addr = "127.0.0.1:9999"
	cfg.Storage.Dir = t.TempDir()

	require.NoError(t, SaveTOML(cfg, path))

	loaded, err := LoadFromPath(path)
	require.NoError(t, err)
	if loaded.Server.Addr != "127.0.0.1:9999" {
		t.Errorf("Server.Addr = %q after round trip", loaded.Server.Addr)
	}
}
