// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package local

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/jeranaias/chatgate/internal/model"
	"github.com/jeranaias/chatgate/internal/provider"
	"github.com/jeranaias/chatgate/internal/sse"
)

// DefaultBaseURL is Docker Model Runner's host-side TCP endpoint.
const DefaultBaseURL = "http://localhost:12434"

// ErrModelRequired is returned when no model id is given.
var ErrModelRequired = errors.New("model is required for the docker backend")

// =============================================================================
// CONFIGURATION
// =============================================================================

// Config configures the Docker adapter.
type Config struct {
	// BaseURL is the runner root (default: http://localhost:12434).
	BaseURL string

	// Client overrides the shared streaming client.
	Client *http.Client
}

// =============================================================================
// WIRE TYPES
// =============================================================================

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens"`
	Stream      bool          `json:"stream"`
}

// streamChunk is one OpenAI-style chat.completion.chunk.
type streamChunk struct {
	Model   string `json:"model"`
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

func (c *streamChunk) content() string {
	if len(c.Choices) > 0 {
		return c.Choices[0].Delta.Content
	}
	return ""
}

func (c *streamChunk) finishReason() string {
	if len(c.Choices) > 0 {
		return c.Choices[0].FinishReason
	}
	return ""
}

// =============================================================================
// ADAPTER
// =============================================================================

// Docker streams from Docker Model Runner.
type Docker struct {
	baseURL string
	client  *http.Client
}

// NewDocker creates a Docker adapter, filling defaults for zero fields.
func NewDocker(cfg Config) *Docker {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Client == nil {
		cfg.Client = provider.StreamingClient
	}
	return &Docker{baseURL: strings.TrimRight(cfg.BaseURL, "/"), client: cfg.Client}
}

// Backend implements provider.Adapter.
func (d *Docker) Backend() provider.Backend { return provider.BackendDocker }

// Stateful implements provider.Adapter.
func (d *Docker) Stateful() bool { return false }

// Stream implements provider.Adapter.
func (d *Docker) Stream(ctx context.Context, req provider.Request) (*provider.Stream, error) {
	b := provider.BackendDocker
	if req.Settings.Model == "" {
		return nil, provider.Unavailable(b, ErrModelRequired)
	}

	body := chatRequest{
		Model:       req.Settings.Model,
		Messages:    toChatMessages(req.Settings.SystemPrompt, req.Messages),
		Temperature: req.Settings.Temperature,
		MaxTokens:   req.Settings.MaxTokens,
		Stream:      true,
	}

	resp, err := provider.PostStream(ctx, d.client, b, d.baseURL+"/engines/v1/chat/completions", body)
	if err != nil {
		return nil, err
	}

	seq := func(yield func(string, error) bool) {
		defer resp.Body.Close()
		reader := sse.NewReader(resp.Body)
		finished := false

		for {
			ev, err := reader.Next()
			if errors.Is(err, io.EOF) {
				// Some runners close without [DONE] once finish_reason is sent.
				if !finished {
					yield("", provider.Interruptedf(b, "stream ended before finish_reason"))
				}
				return
			}
			if err != nil {
				if ctxErr := ctx.Err(); ctxErr != nil {
					err = ctxErr
				}
				yield("", provider.Interrupted(b, err))
				return
			}
			if ev.IsDone() {
				return
			}

			var chunk streamChunk
			if err := json.Unmarshal(ev.Data, &chunk); err != nil {
				yield("", provider.Interrupted(b, fmt.Errorf("failed to parse chunk: %w", err)))
				return
			}
			if chunk.Error != nil {
				yield("", provider.Interruptedf(b, "%s", chunk.Error.Message))
				return
			}
			if text := chunk.content(); text != "" {
				if !yield(text, nil) {
					return
				}
			}
			if chunk.finishReason() != "" {
				finished = true
			}
		}
	}

	return &provider.Stream{Model: req.Settings.Model, Fragments: seq}, nil
}

// toChatMessages prepends the system prompt as an OpenAI system message.
func toChatMessages(system string, msgs []model.Message) []chatMessage {
	out := make([]chatMessage, 0, len(msgs)+1)
	if system != "" {
		out = append(out, chatMessage{Role: "system", Content: system})
	}
	for _, m := range msgs {
		if m.Role == model.RoleSystem {
			continue
		}
		out = append(out, chatMessage{Role: string(m.Role), Content: m.Content})
	}
	return out
}
