// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cloud

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/url"

	"github.com/jeranaias/chatgate/internal/model"
	"github.com/jeranaias/chatgate/internal/provider"
	"github.com/jeranaias/chatgate/internal/sse"
)

const (
	// DefaultGeminiURL is the Generative Language API root.
	DefaultGeminiURL = "https://generativelanguage.googleapis.com/v1beta"

	// DefaultGeminiModel is used when neither config nor request names one.
	DefaultGeminiModel = "gemini-2.0-flash"
)

// =============================================================================
// WIRE TYPES
// =============================================================================

type geminiPart struct {
	Text string `json:"text,omitempty"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiGenerationConfig struct {
	Temperature     float64 `json:"temperature"`
	MaxOutputTokens int     `json:"maxOutputTokens"`
}

type geminiRequest struct {
	Contents          []geminiContent        `json:"contents"`
	SystemInstruction *geminiContent         `json:"systemInstruction,omitempty"`
	GenerationConfig  geminiGenerationConfig `json:"generationConfig"`
}

type geminiChunk struct {
	Candidates []struct {
		Content *struct {
			Parts []struct {
				Text    string `json:"text"`
				Thought bool   `json:"thought,omitempty"`
			} `json:"parts"`
		} `json:"content,omitempty"`
		FinishReason string `json:"finishReason,omitempty"`
	} `json:"candidates"`
	PromptFeedback *struct {
		BlockReason string `json:"blockReason,omitempty"`
	} `json:"promptFeedback,omitempty"`
	Error *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// =============================================================================
// ADAPTER
// =============================================================================

// Gemini streams from Google's Generative Language API.
type Gemini struct {
	opts Options
}

// NewGemini creates a Gemini adapter.
func NewGemini(opts Options) *Gemini {
	return &Gemini{opts: opts}
}

// Backend implements provider.Adapter.
func (g *Gemini) Backend() provider.Backend { return provider.BackendGemini }

// Stateful implements provider.Adapter.
func (g *Gemini) Stateful() bool { return false }

// Stream implements provider.Adapter. Each SSE event is a
// generateContentResponse carrying the next slice of text. The turn is
// complete only once a candidate reports a finishReason; EOF before that
// is an interrupted stream.
func (g *Gemini) Stream(ctx context.Context, req provider.Request) (*provider.Stream, error) {
	b := provider.BackendGemini
	if g.opts.APIKey == "" {
		return nil, provider.Unavailable(b, fmt.Errorf("%w: GEMINI_API_KEY is not set", provider.ErrNotConfigured))
	}

	modelID := pick(req.Settings.Model, pick(g.opts.Model, DefaultGeminiModel))
	body := geminiRequest{
		Contents: toGeminiContents(req.Messages),
		GenerationConfig: geminiGenerationConfig{
			Temperature:     req.Settings.Temperature,
			MaxOutputTokens: req.Settings.MaxTokens,
		},
	}
	if req.Settings.SystemPrompt != "" {
		body.SystemInstruction = &geminiContent{Parts: []geminiPart{{Text: req.Settings.SystemPrompt}}}
	}
	if len(body.Contents) == 0 {
		return nil, provider.Unavailablef(b, "no messages to send")
	}

	endpoint := fmt.Sprintf("%s/models/%s:streamGenerateContent?alt=sse",
		g.opts.base(DefaultGeminiURL), url.PathEscape(modelID))

	resp, err := provider.PostStream(ctx, g.opts.client(), b, endpoint, body,
		provider.Header{Key: "x-goog-api-key", Value: g.opts.APIKey},
	)
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
				if !finished {
					yield("", provider.Interruptedf(b, "stream ended before finishReason"))
				}
				return
			}
			if err != nil {
				yield("", provider.Interrupted(b, streamCause(ctx, err)))
				return
			}

			var chunk geminiChunk
			if err := json.Unmarshal(ev.Data, &chunk); err != nil {
				yield("", provider.Interrupted(b, fmt.Errorf("failed to parse streaming chunk: %w", err)))
				return
			}
			if chunk.Error != nil {
				yield("", provider.Interruptedf(b, "%s", chunk.Error.Message))
				return
			}
			if chunk.PromptFeedback != nil && chunk.PromptFeedback.BlockReason != "" {
				yield("", provider.Interruptedf(b, "prompt blocked: %s", chunk.PromptFeedback.BlockReason))
				return
			}
			if len(chunk.Candidates) == 0 {
				continue
			}
			if chunk.Candidates[0].FinishReason != "" {
				finished = true
			}
			if chunk.Candidates[0].Content == nil {
				continue
			}
			for _, part := range chunk.Candidates[0].Content.Parts {
				if part.Thought || part.Text == "" {
					continue
				}
				if !yield(part.Text, nil) {
					return
				}
			}
		}
	}

	return &provider.Stream{Model: modelID, Fragments: seq}, nil
}

// toGeminiContents maps assistant to Gemini's "model" role.
func toGeminiContents(msgs []model.Message) []geminiContent {
	out := make([]geminiContent, 0, len(msgs))
	for _, m := range msgs {
		role := ""
		switch m.Role {
		case model.RoleUser:
			role = "user"
		case model.RoleAssistant:
			role = "model"
		default:
			continue
		}
		out = append(out, geminiContent{Role: role, Parts: []geminiPart{{Text: m.Content}}})
	}
	return out
}
