// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import (
	"strings"
	"time"
)

// =============================================================================
// SESSION TYPE
// =============================================================================

// Session is an opaque provider continuation handle.
// Backend records which provider issued it; a handle is meaningless to any other.
type Session struct {
	Backend string `json:"backend"`
	Handle  string `json:"handle"`
}

// =============================================================================
// CONVERSATION TYPE
// =============================================================================

// Conversation holds an ordered message log with metadata.
type Conversation struct {
	ID        string    `json:"id"`
	Title     string    `json:"title,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`

	// Session is the provider session for stateful backends, if any.
	Session *Session `json:"session,omitempty"`

	Messages []Message `json:"messages"`
}

// SessionFor returns the stored handle if it was issued by backend.
func (c *Conversation) SessionFor(backend string) string {
	if c.Session == nil || c.Session.Backend != backend {
		return ""
	}
	return c.Session.Handle
}

// Summary returns the listing row for the conversation.
func (c *Conversation) Summary() Summary {
	return Summary{
		ID:           c.ID,
		Title:        c.Title,
		MessageCount: len(c.Messages),
		UpdatedAt:    c.UpdatedAt,
	}
}

// Preview returns the first user message truncated to maxLen runes.
func (c *Conversation) Preview(maxLen int) string {
	for _, msg := range c.Messages {
		if msg.Role == RoleUser && msg.Content != "" {
			return truncate(strings.ReplaceAll(msg.Content, "\n", " "), maxLen)
		}
	}
	return ""
}

// Transcript renders the conversation as plain text.
func (c *Conversation) Transcript() string {
	var sb strings.Builder
	sb.WriteString("Conversation " + c.ID + "\n")
	if c.Title != "" {
		sb.WriteString("Title: " + c.Title + "\n")
	}
	sb.WriteString("Created: " + c.CreatedAt.Format(time.RFC3339) + "\n")
	sb.WriteString("\n")

	for _, msg := range c.Messages {
		sb.WriteString("[" + msg.Timestamp.Format(time.RFC3339) + "] ")
		sb.WriteString(msg.Role.DisplayName())
		if msg.Model != "" {
			sb.WriteString(" (" + msg.Model + ")")
		}
		sb.WriteString(":\n")
		sb.WriteString(msg.Content)
		sb.WriteString("\n\n")
	}
	return sb.String()
}

// Summary contains metadata for listing conversations.
type Summary struct {
	ID           string    `json:"id"`
	Title        string    `json:"title,omitempty"`
	MessageCount int       `json:"messageCount"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

func truncate(s string, maxLen int) string {
	runes := []rune(s)
	if maxLen <= 0 || len(runes) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return string(runes[:maxLen])
	}
	return string(runes[:maxLen-3]) + "..."
}
