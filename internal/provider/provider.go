// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package provider

import (
	"context"
	"iter"
	"strings"

	"github.com/jeranaias/chatgate/internal/model"
	"github.com/jeranaias/chatgate/internal/settings"
)

// =============================================================================
// BACKEND TAGS
// =============================================================================

// Backend is the closed set of provider tags accepted by the gateway.
type Backend string

const (
	BackendMock   Backend = "mock"
	BackendClaude Backend = "claude"
	BackendGemini Backend = "gemini"
	BackendDocker Backend = "docker"
	BackendCodex  Backend = "codex"
)

// String returns the tag.
func (b Backend) String() string {
	return string(b)
}

// Backends returns every known tag.
func Backends() []Backend {
	return []Backend{BackendMock, BackendClaude, BackendGemini, BackendDocker, BackendCodex}
}

// =============================================================================
// CONTRACT
// =============================================================================

// Request is one generation call.
type Request struct {
	// Messages is the window to send, oldest first. System-role messages
	// are already folded into Settings.SystemPrompt.
	Messages []model.Message

	Settings settings.Settings

	// WorkingDir is the working directory for agent backends.
	WorkingDir string

	// SessionID resumes an upstream session for stateful backends.
	SessionID string
}

// Stream is a started generation.
type Stream struct {
	// Model is the resolved model id reported on the terminal frame.
	Model string

	// Fragments yields text in order. A non-nil error ends the sequence.
	// Breaking out of the range loop releases upstream resources.
	Fragments iter.Seq2[string, error]

	// Session returns the upstream session handle once Fragments has been
	// drained. Nil for stateless backends.
	Session func() string
}

// SessionID calls Session if set.
func (s *Stream) SessionID() string {
	if s.Session == nil {
		return ""
	}
	return s.Session()
}

// Adapter is a chat backend.
type Adapter interface {
	// Backend returns the adapter's tag.
	Backend() Backend

	// Stateful reports whether the backend keeps conversation memory
	// upstream and hands back a session handle.
	Stateful() bool

	// Stream starts generation. A returned error is a pre-stream failure.
	Stream(ctx context.Context, req Request) (*Stream, error)
}

// =============================================================================
// HELPERS
// =============================================================================

// LastUserContent returns the content of the newest user message.
func LastUserContent(messages []model.Message) (string, bool) {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == model.RoleUser {
			return messages[i].Content, true
		}
	}
	return "", false
}

// Collect drains a stream into one string. Mostly useful in tests.
func Collect(s *Stream) (string, error) {
	var sb strings.Builder
	for frag, err := range s.Fragments {
		if err != nil {
			return sb.String(), err
		}
		sb.WriteString(frag)
	}
	return sb.String(), nil
}

// FromSlice returns a sequence yielding frags and then err, if non-nil.
func FromSlice(frags []string, err error) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		for _, f := range frags {
			if !yield(f, nil) {
				return
			}
		}
		if err != nil {
			yield("", err)
		}
	}
}
