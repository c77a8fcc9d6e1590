// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package settings

import "math"

// =============================================================================
// LIMITS
// =============================================================================

const (
	// MinTemperature is the minimum sampling temperature.
	MinTemperature = 0.0

	// MaxTemperature is the maximum sampling temperature.
	MaxTemperature = 2.0

	// MinMaxTokens is the smallest accepted generation limit.
	MinMaxTokens = 1

	// MaxTokensLimit is the largest accepted generation limit.
	MaxTokensLimit = 128000

	// DefaultTemperature is used when neither the request nor config sets one.
	DefaultTemperature = 0.7

	// DefaultMaxTokens is used when neither the request nor config sets one.
	DefaultMaxTokens = 4096
)

// =============================================================================
// PERMISSION MODE
// =============================================================================

// PermissionMode is the sandbox level handed to the dev-agent backend.
type PermissionMode string

const (
	PermissionReadOnly       PermissionMode = "read-only"
	PermissionWorkspaceWrite PermissionMode = "workspace-write"
	PermissionFullAccess     PermissionMode = "danger-full-access"

	// DefaultPermissionMode replaces any unrecognized value.
	DefaultPermissionMode = PermissionReadOnly
)

// Valid reports whether p is in the recognized set.
func (p PermissionMode) Valid() bool {
	switch p {
	case PermissionReadOnly, PermissionWorkspaceWrite, PermissionFullAccess:
		return true
	}
	return false
}

// PermissionModes returns the recognized permission modes.
func PermissionModes() []PermissionMode {
	return []PermissionMode{PermissionReadOnly, PermissionWorkspaceWrite, PermissionFullAccess}
}

// =============================================================================
// SETTINGS
// =============================================================================

// Settings are normalized generation parameters.
type Settings struct {
	Model          string         `json:"model,omitempty"`
	Temperature    float64        `json:"temperature"`
	MaxTokens      int            `json:"maxTokens"`
	SystemPrompt   string         `json:"systemPrompt,omitempty"`
	PermissionMode PermissionMode `json:"permissionMode"`
}

// Raw holds generation parameters exactly as received.
// Numbers are float64 so out-of-range or fractional input still decodes.
type Raw struct {
	Model          *string  `json:"model,omitempty"`
	Temperature    *float64 `json:"temperature,omitempty"`
	MaxTokens      *float64 `json:"maxTokens,omitempty"`
	SystemPrompt   *string  `json:"systemPrompt,omitempty"`
	PermissionMode *string  `json:"permissionMode,omitempty"`
}

// Default returns the built-in defaults.
func Default() Settings {
	return Settings{
		Temperature:    DefaultTemperature,
		MaxTokens:      DefaultMaxTokens,
		PermissionMode: DefaultPermissionMode,
	}
}

// =============================================================================
// NORMALIZE
// =============================================================================

// Normalize merges raw over defaults and clamps every value into range.
// Defaults are clamped too, so the result is valid regardless of input.
func Normalize(raw Raw, defaults Settings) Settings {
	out := Settings{
		Model:          defaults.Model,
		Temperature:    ClampTemperature(defaults.Temperature),
		MaxTokens:      clampInt(defaults.MaxTokens),
		SystemPrompt:   defaults.SystemPrompt,
		PermissionMode: normalizeMode(string(defaults.PermissionMode)),
	}

	if raw.Model != nil && *raw.Model != "" {
		out.Model = *raw.Model
	}
	if raw.Temperature != nil && !math.IsNaN(*raw.Temperature) {
		out.Temperature = ClampTemperature(*raw.Temperature)
	}
	if raw.MaxTokens != nil && !math.IsNaN(*raw.MaxTokens) {
		out.MaxTokens = ClampMaxTokens(*raw.MaxTokens)
	}
	if raw.SystemPrompt != nil {
		out.SystemPrompt = *raw.SystemPrompt
	}
	if raw.PermissionMode != nil {
		out.PermissionMode = normalizeMode(*raw.PermissionMode)
	}
	return out
}

// ClampTemperature clamps t into [MinTemperature, MaxTemperature].
// NaN maps to DefaultTemperature.
func ClampTemperature(t float64) float64 {
	if math.IsNaN(t) {
		return DefaultTemperature
	}
	return math.Min(math.Max(t, MinTemperature), MaxTemperature)
}

// ClampMaxTokens truncates n and clamps it into [MinMaxTokens, MaxTokensLimit].
// NaN maps to DefaultMaxTokens.
func ClampMaxTokens(n float64) int {
	if math.IsNaN(n) {
		return DefaultMaxTokens
	}
	if n <= MinMaxTokens {
		return MinMaxTokens
	}
	if n >= MaxTokensLimit {
		return MaxTokensLimit
	}
	return int(n)
}

func clampInt(n int) int {
	return min(max(n, MinMaxTokens), MaxTokensLimit)
}

func normalizeMode(s string) PermissionMode {
	if p := PermissionMode(s); p.Valid() {
		return p
	}
	return DefaultPermissionMode
}
