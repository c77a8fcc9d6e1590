// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package config provides configuration loading and validation for chatgate.
//
// Configuration is TOML, with sensible defaults, environment variable
// overrides, and validation. It is loaded once at startup and passed down
// explicitly; nothing in this package holds process-wide state.
//
// # Key Types
//
//   - Config: Main configuration structure with all settings
//   - ServerConfig: Listen address, auth token, rate and size limits
//   - StorageConfig: Conversation store backend and data directory
//   - ProviderConfig: Per-backend endpoint, key, model and timeout
//
// # Configuration Precedence
//
//   - Environment variables (CHATGATE_*, ANTHROPIC_API_KEY, GEMINI_API_KEY)
//   - ~/.chatgate/config.toml (or --config path)
//   - Built-in defaults
//
// # Usage
//
//	cfg, err := config.Load()
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(cfg) // secrets redacted
package config
