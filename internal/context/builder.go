// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package context

import (
	"context"
	"errors"
	"fmt"

	"github.com/jeranaias/chatgate/internal/model"
	"github.com/jeranaias/chatgate/internal/settings"
)

// ErrEmptyWindow is returned when there is nothing to send to the provider.
var ErrEmptyWindow = errors.New("no messages to send")

// =============================================================================
// CONFIGURATION
// =============================================================================

// Config bounds the history window.
type Config struct {
	// MaxTokens is the total context budget. The reply's max tokens are
	// subtracted from it to get the history budget.
	MaxTokens int

	// MinWindowTokens is the floor for the history budget.
	MinWindowTokens int

	// MaxMessages caps the window length regardless of tokens.
	MaxMessages int
}

// DefaultConfig returns default window bounds.
func DefaultConfig() Config {
	return Config{
		MaxTokens:       32000,
		MinWindowTokens: 1024,
		MaxMessages:     50,
	}
}

// budget returns the history token budget for a reply of maxTokens.
func (c Config) budget(maxTokens int) int {
	b := c.MaxTokens - maxTokens
	if b < c.MinWindowTokens {
		b = c.MinWindowTokens
	}
	return b
}

// =============================================================================
// TYPES
// =============================================================================

// Store is the slice of storage.Store the builder needs.
type Store interface {
	Append(ctx context.Context, id string, msg model.Message) (model.Message, error)
	Read(ctx context.Context, id string) ([]model.Message, error)
}

// Request describes one turn to build.
type Request struct {
	ConversationID string

	// User is the new user message. A zero Role means the turn continues
	// from the existing log without appending.
	User model.Message

	// Settings are the normalized generation settings.
	Settings settings.Settings

	// ExplicitSystemPrompt is true when the caller set the system prompt
	// itself, so stored system messages must not replace it.
	ExplicitSystemPrompt bool

	// Stateful marks a provider that keeps its own conversation memory.
	Stateful bool

	// HasSession marks that a session handle exists for that provider.
	HasSession bool
}

// Window is what the provider receives.
type Window struct {
	SystemPrompt string
	Messages     []model.Message

	// User is the stored user message, with id and timestamp assigned.
	User model.Message

	// Total is the number of non-system messages considered.
	Total int

	// Truncated reports that older messages were dropped.
	Truncated bool
}

// =============================================================================
// BUILDER
// =============================================================================

// Builder selects message windows from stored conversations.
type Builder struct {
	store Store
	cfg   Config
}

// NewBuilder creates a builder. Zero config fields take defaults.
func NewBuilder(store Store, cfg Config) *Builder {
	d := DefaultConfig()
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = d.MaxTokens
	}
	if cfg.MinWindowTokens <= 0 {
		cfg.MinWindowTokens = d.MinWindowTokens
	}
	if cfg.MaxMessages <= 0 {
		cfg.MaxMessages = d.MaxMessages
	}
	return &Builder{store: store, cfg: cfg}
}

// Config returns the effective window bounds.
func (b *Builder) Config() Config {
	return b.cfg
}

// Build appends req.User, reads the log back and selects the window.
// The user message is durable before Build returns.
func (b *Builder) Build(ctx context.Context, req Request) (*Window, error) {
	var user model.Message
	if req.User.Role != "" {
		stored, err := b.store.Append(ctx, req.ConversationID, req.User)
		if err != nil {
			return nil, fmt.Errorf("failed to append user message: %w", err)
		}
		user = stored
	}

	log, err := b.store.Read(ctx, req.ConversationID)
	if err != nil {
		return nil, fmt.Errorf("failed to read conversation: %w", err)
	}

	win := b.window(log, req.Settings, req.ExplicitSystemPrompt, req.Stateful && req.HasSession)
	if len(win.Messages) == 0 {
		return nil, ErrEmptyWindow
	}
	win.User = user
	return win, nil
}

// Trim applies the stateless window to a caller-supplied message list.
func (b *Builder) Trim(messages []model.Message, s settings.Settings, explicitSystemPrompt bool) *Window {
	return b.window(messages, s, explicitSystemPrompt, false)
}

// =============================================================================
// WINDOW SELECTION
// =============================================================================

func (b *Builder) window(log []model.Message, s settings.Settings, explicit, newestOnly bool) *Window {
	win := &Window{SystemPrompt: s.SystemPrompt}

	history := make([]model.Message, 0, len(log))
	for _, msg := range log {
		if msg.Role == model.RoleSystem {
			if !explicit {
				win.SystemPrompt = msg.Content
			}
			continue
		}
		history = append(history, msg)
	}
	win.Total = len(history)
	if len(history) == 0 {
		return win
	}

	if newestOnly {
		win.Messages = history[len(history)-1:]
		win.Truncated = len(history) > 1
		return win
	}

	budget := b.cfg.budget(s.MaxTokens)
	used := 0
	start := len(history)
	for i := len(history) - 1; i >= 0; i-- {
		cost := history[i].EstimateTokens()
		count := len(history) - i
		// The newest message is always sent, even over budget.
		if i < len(history)-1 && (used+cost > budget || count > b.cfg.MaxMessages) {
			break
		}
		used += cost
		start = i
	}

	// Providers expect the history to open with a user turn.
	for start < len(history)-1 && history[start].Role != model.RoleUser {
		start++
	}

	win.Messages = history[start:]
	win.Truncated = start > 0
	return win
}
