// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"context"
	"fmt"
	"regexp"

	"github.com/jeranaias/chatgate/internal/model"
)

// =============================================================================
// STORE INTERFACE
// =============================================================================

// Store persists conversations as append-only message logs.
type Store interface {
	// Create starts an empty conversation.
	Create(ctx context.Context, title string) (*model.Conversation, error)

	// Get returns metadata and the ordered message log.
	Get(ctx context.Context, id string) (*model.Conversation, error)

	// Read returns the ordered message log.
	Read(ctx context.Context, id string) ([]model.Message, error)

	// Append durably adds msg, assigning an id and timestamp if absent.
	Append(ctx context.Context, id string, msg model.Message) (model.Message, error)

	// Prune keeps the most recent keepLast messages. keepLast == 0 deletes
	// the conversation; pruning a missing conversation to 0 is a no-op.
	Prune(ctx context.Context, id string, keepLast int) error

	// Export renders the conversation as a text transcript.
	Export(ctx context.Context, id string) (string, error)

	// List returns summaries, most recently updated first.
	List(ctx context.Context) ([]model.Summary, error)

	// SetSession records the provider session handle.
	SetSession(ctx context.Context, id string, session model.Session) error

	// SetFeedback tags one message.
	SetFeedback(ctx context.Context, id, messageID string, feedback model.Feedback) error

	Close() error
}

// Open returns the Store for backend ("jsonl" or "sqlite") rooted at dir.
func Open(backend, dir string) (Store, error) {
	switch backend {
	case "", "jsonl":
		return NewFileStore(dir)
	case "sqlite":
		return NewSQLiteStore(dir)
	default:
		return nil, fmt.Errorf("unknown storage backend %q", backend)
	}
}

// =============================================================================
// ERRORS
// =============================================================================

// Use errors.Is to check for these errors.
var (
	ErrConversationNotFound = &ConversationError{Message: "conversation not found"}
	ErrMessageNotFound      = &ConversationError{Message: "message not found"}
	ErrInvalidID            = &ConversationError{Message: "invalid conversation id"}
	ErrInvalidKeep          = &ConversationError{Message: "keepLast must be >= 0"}
	ErrInvalidMessage       = &ConversationError{Message: "invalid message"}
)

// ConversationError represents a conversation-related error.
// It implements the error interface and can be compared using errors.Is.
type ConversationError struct {
	Message string
}

// Error implements the error interface.
func (e *ConversationError) Error() string {
	return e.Message
}

// Is implements errors.Is support for comparing conversation errors.
func (e *ConversationError) Is(target error) bool {
	t, ok := target.(*ConversationError)
	if !ok {
		return false
	}
	return e.Message == t.Message
}

// =============================================================================
// VALIDATION
// =============================================================================

var idPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,128}$`)

// ValidateID rejects ids that could escape the data directory.
func ValidateID(id string) error {
	if !idPattern.MatchString(id) {
		return fmt.Errorf("%w: %q", ErrInvalidID, id)
	}
	return nil
}

func validateMessage(msg model.Message) error {
	if !msg.Role.Valid() {
		return fmt.Errorf("%w: role %q", ErrInvalidMessage, msg.Role)
	}
	return nil
}

func notFound(id string) error {
	return fmt.Errorf("%w: %s", ErrConversationNotFound, id)
}
