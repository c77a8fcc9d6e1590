// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package settings normalizes user-supplied generation parameters.
//
// Normalize is a pure function: the same raw input and defaults always
// produce the same Settings, and every Settings value it returns is inside
// the accepted ranges. Adapters receive only normalized Settings.
//
// # Ranges
//
//   - Temperature: [0, 2]
//   - MaxTokens: [1, 128000]
//   - PermissionMode: read-only, workspace-write, danger-full-access (default read-only)
//
// # Usage
//
//	s := settings.Normalize(req.Settings, settings.Default())
package settings
