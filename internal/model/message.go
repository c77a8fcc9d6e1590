// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import (
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// ROLE TYPE
// =============================================================================

// Role represents the sender of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// String returns the string representation of the role.
func (r Role) String() string {
	return string(r)
}

// Valid reports whether r is one of the accepted roles.
func (r Role) Valid() bool {
	switch r {
	case RoleUser, RoleAssistant, RoleSystem:
		return true
	}
	return false
}

// DisplayName returns a human-readable name for the role.
func (r Role) DisplayName() string {
	switch r {
	case RoleUser:
		return "User"
	case RoleAssistant:
		return "Assistant"
	case RoleSystem:
		return "System"
	default:
		return string(r)
	}
}

// =============================================================================
// FEEDBACK TYPE
// =============================================================================

// Feedback is a thumbs up/down tag on a message.
type Feedback string

const (
	FeedbackNone Feedback = ""
	FeedbackUp   Feedback = "up"
	FeedbackDown Feedback = "down"
)

// Valid reports whether f is a settable feedback value.
func (f Feedback) Valid() bool {
	return f == FeedbackUp || f == FeedbackDown
}

// =============================================================================
// MESSAGE TYPE
// =============================================================================

// Message represents a single message in a conversation.
// Messages are immutable once appended, except for Feedback.
type Message struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"ts"`
	Role      Role      `json:"role"`
	Content   string    `json:"content"`

	// Model is the id of the model that produced an assistant message.
	Model string `json:"model,omitempty"`

	Feedback Feedback `json:"feedback,omitempty"`
}

// NewMessage creates a message with a fresh id and the current time.
func NewMessage(role Role, content string) Message {
	return Message{
		ID:        NewID(),
		Timestamp: time.Now().UTC(),
		Role:      role,
		Content:   content,
	}
}

// EnsureIdentity assigns an id and timestamp if either is missing.
func (m *Message) EnsureIdentity(now time.Time) {
	if m.ID == "" {
		m.ID = NewID()
	}
	if m.Timestamp.IsZero() {
		m.Timestamp = now.UTC()
	}
}

// EstimateTokens returns a rough token count (about 4 characters per token).
func (m Message) EstimateTokens() int {
	return EstimateTokens(m.Content)
}

// EstimateTokens returns a rough token count for s.
func EstimateTokens(s string) int {
	return (len(s) + 3) / 4
}

// NewID returns a new random identifier.
func NewID() string {
	return uuid.NewString()
}
