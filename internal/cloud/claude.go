// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cloud

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/jeranaias/chatgate/internal/model"
	"github.com/jeranaias/chatgate/internal/provider"
	"github.com/jeranaias/chatgate/internal/sse"
)

const (
	// DefaultClaudeURL is the Anthropic API root.
	DefaultClaudeURL = "https://api.anthropic.com"

	// DefaultClaudeModel is used when neither config nor request names one.
	DefaultClaudeModel = "claude-sonnet-4-20250514"

	// AnthropicVersion pins the Messages API wire format.
	AnthropicVersion = "2023-06-01"
)

// =============================================================================
// WIRE TYPES
// =============================================================================

type claudeMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type claudeRequest struct {
	Model       string          `json:"model"`
	MaxTokens   int             `json:"max_tokens"`
	System      string          `json:"system,omitempty"`
	Messages    []claudeMessage `json:"messages"`
	Temperature float64         `json:"temperature"`
	Stream      bool            `json:"stream"`
}

// claudeEvent is the envelope for every Anthropic SSE payload; Type
// discriminates which fields are set.
type claudeEvent struct {
	Type  string `json:"type"`
	Delta *struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"delta,omitempty"`
	Error *struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// =============================================================================
// ADAPTER
// =============================================================================

// Claude streams from the Anthropic Messages API.
type Claude struct {
	opts Options
}

// NewClaude creates a Claude adapter.
func NewClaude(opts Options) *Claude {
	return &Claude{opts: opts}
}

// Backend implements provider.Adapter.
func (c *Claude) Backend() provider.Backend { return provider.BackendClaude }

// Stateful implements provider.Adapter.
func (c *Claude) Stateful() bool { return false }

// Stream implements provider.Adapter.
//
// Event lifecycle:
//
//	message_start → content_block_start → content_block_delta(s) →
//	content_block_stop → message_delta → message_stop
func (c *Claude) Stream(ctx context.Context, req provider.Request) (*provider.Stream, error) {
	b := provider.BackendClaude
	if c.opts.APIKey == "" {
		return nil, provider.Unavailable(b, fmt.Errorf("%w: ANTHROPIC_API_KEY is not set", provider.ErrNotConfigured))
	}

	modelID := pick(req.Settings.Model, pick(c.opts.Model, DefaultClaudeModel))
	body := claudeRequest{
		Model:       modelID,
		MaxTokens:   req.Settings.MaxTokens,
		System:      req.Settings.SystemPrompt,
		Messages:    toClaudeMessages(req.Messages),
		Temperature: req.Settings.Temperature,
		Stream:      true,
	}
	if len(body.Messages) == 0 {
		return nil, provider.Unavailablef(b, "no messages to send")
	}

	resp, err := provider.PostStream(ctx, c.opts.client(), b, c.opts.base(DefaultClaudeURL)+"/v1/messages", body,
		provider.Header{Key: "x-api-key", Value: c.opts.APIKey},
		provider.Header{Key: "anthropic-version", Value: AnthropicVersion},
	)
	if err != nil {
		return nil, err
	}

	seq := func(yield func(string, error) bool) {
		defer resp.Body.Close()
		reader := sse.NewReader(resp.Body)

		for {
			ev, err := reader.Next()
			if errors.Is(err, io.EOF) {
				yield("", provider.Interruptedf(b, "stream ended before message_stop"))
				return
			}
			if err != nil {
				yield("", provider.Interrupted(b, streamCause(ctx, err)))
				return
			}

			var event claudeEvent
			if err := json.Unmarshal(ev.Data, &event); err != nil {
				yield("", provider.Interrupted(b, fmt.Errorf("failed to parse stream event: %w", err)))
				return
			}

			switch event.Type {
			case "content_block_delta":
				if event.Delta != nil && event.Delta.Type == "text_delta" && event.Delta.Text != "" {
					if !yield(event.Delta.Text, nil) {
						return
					}
				}
			case "message_stop":
				return
			case "error":
				msg := "unknown stream error"
				if event.Error != nil && event.Error.Message != "" {
					msg = event.Error.Message
				}
				yield("", provider.Interruptedf(b, "%s", msg))
				return
			}
			// ping, message_start, content_block_start/stop and
			// message_delta carry no text.
		}
	}

	return &provider.Stream{Model: modelID, Fragments: seq}, nil
}

// toClaudeMessages keeps user and assistant turns; system content travels
// in the top-level system field.
func toClaudeMessages(msgs []model.Message) []claudeMessage {
	out := make([]claudeMessage, 0, len(msgs))
	for _, m := range msgs {
		switch m.Role {
		case model.RoleUser, model.RoleAssistant:
			out = append(out, claudeMessage{Role: string(m.Role), Content: m.Content})
		}
	}
	return out
}

// streamCause prefers the context error when the read failed because the
// request was cancelled or timed out.
func streamCause(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	return err
}
