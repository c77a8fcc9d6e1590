// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cloud

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/jeranaias/chatgate/internal/model"
	"github.com/jeranaias/chatgate/internal/provider"
	"github.com/jeranaias/chatgate/internal/settings"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

func sseServer(t *testing.T, check func(r *http.Request, body []byte), events ...string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		if check != nil {
			check(r, body)
		}
		w.Header().Set("Content-Type", "text/event-stream")
		for _, ev := range events {
			fmt.Fprint(w, ev)
			w.(http.Flusher).Flush()
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func testRequest() provider.Request {
	s := settings.Default()
	s.SystemPrompt = "be brief"
	s.Temperature = 0.5
	s.MaxTokens = 256
	return provider.Request{
		Messages: []model.Message{
			{Role: model.RoleUser, Content: "hello"},
			{Role: model.RoleAssistant, Content: "hi"},
			{Role: model.RoleUser, Content: "how are you"},
		},
		Settings: s,
	}
}

// =============================================================================
// CLAUDE TESTS
// =============================================================================

func TestClaude_Stream(t *testing.T) {
	events := []string{
		"event: message_start\ndata: {\"type\":\"message_start\",\"message\":{\"id\":\"m1\"}}\n\n",
		"event: content_block_start\ndata: {\"type\":\"content_block_start\",\"index\":0,\"content_block\":{\"type\":\"text\",\"text\":\"\"}}\n\n",
		"event: ping\ndata: {\"type\":\"ping\"}\n\n",
		"event: content_block_delta\ndata: {\"type\":\"content_block_delta\",\"index\":0,\"delta\":{\"type\":\"text_delta\",\"text\":\"Fine, \"}}\n\n",
		"event: content_block_delta\ndata: {\"type\":\"content_block_delta\",\"index\":0,\"delta\":{\"type\":\"text_delta\",\"text\":\"thanks.\"}}\n\n",
		"event: content_block_stop\ndata: {\"type\":\"content_block_stop\",\"index\":0}\n\n",
		"event: message_delta\ndata: {\"type\":\"message_delta\",\"delta\":{\"stop_reason\":\"end_turn\"}}\n\n",
		"event: message_stop\ndata: {\"type\":\"message_stop\"}\n\n",
	}

	srv := sseServer(t, func(r *http.Request, body []byte) {
		if r.URL.Path != "/v1/messages" {
			t.Errorf("path = %q, want /v1/messages", r.URL.Path)
		}
		if got := r.Header.Get("x-api-key"); got != "sk-test" {
			t.Errorf("x-api-key = %q", got)
		}
		if got := r.Header.Get("anthropic-version"); got != AnthropicVersion {
			t.Errorf("anthropic-version = %q", got)
		}

		var req claudeRequest
		if err := json.Unmarshal(body, &req); err != nil {
			t.Errorf("bad body: %v", err)
			return
		}
		if req.System != "be brief" {
			t.Errorf("system = %q", req.System)
		}
		if !req.Stream || req.MaxTokens != 256 || req.Temperature != 0.5 {
			t.Errorf("request = %+v", req)
		}
		if len(req.Messages) != 3 || req.Messages[1].Role != "assistant" {
			t.Errorf("messages = %+v", req.Messages)
		}
		if req.Model != "claude-test" {
			t.Errorf("model = %q", req.Model)
		}
	}, events...)

	c := NewClaude(Options{APIKey: "sk-test", BaseURL: srv.URL, Model: "claude-test", Client: srv.Client()})
	stream, err := c.Stream(context.Background(), testRequest())
	require.NoError(t, err)
	if stream.Model != "claude-test" {
		t.Errorf("Model = %q", stream.Model)
	}

	got, err := provider.Collect(stream)
	require.NoError(t, err)
	if got != "Fine, thanks." {
		t.Errorf("Collect() = %q, want %q", got, "Fine, thanks.")
	}
}

func TestClaude_RequestModelOverridesConfig(t *testing.T) {
	var seen string
	srv := sseServer(t, func(r *http.Request, body []byte) {
		var req claudeRequest
		json.Unmarshal(body, &req)
		seen = req.Model
	}, "data: {\"type\":\"message_stop\"}\n\n")

	req := testRequest()
	req.Settings.Model = "claude-override"
	stream, err := NewClaude(Options{APIKey: "k", BaseURL: srv.URL, Model: "cfg"}).Stream(context.Background(), req)
	require.NoError(t, err)
	_, err = provider.Collect(stream)
	require.NoError(t, err)
	if seen != "claude-override" {
		t.Errorf("model = %q, want claude-override", seen)
	}
}

func TestClaude_MissingKey(t *testing.T) {
	_, err := NewClaude(Options{}).Stream(context.Background(), testRequest())
	if !errors.Is(err, provider.ErrUnavailable) || !errors.Is(err, provider.ErrNotConfigured) {
		t.Errorf("err = %v, want unavailable/not configured", err)
	}
}

func TestClaude_HTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"type":"error","error":{"type":"authentication_error","message":"invalid x-api-key"}}`))
	}))
	defer srv.Close()

	_, err := NewClaude(Options{APIKey: "bad", BaseURL: srv.URL}).Stream(context.Background(), testRequest())
	require.Error(t, err)
	if !errors.Is(err, provider.ErrUnavailable) {
		t.Errorf("err = %v, want ErrUnavailable", err)
	}
	if !strings.Contains(err.Error(), "invalid x-api-key") {
		t.Errorf("err = %v, want upstream message", err)
	}
}

func TestClaude_ErrorEventMidStream(t *testing.T) {
	srv := sseServer(t, nil,
		"data: {\"type\":\"content_block_delta\",\"delta\":{\"type\":\"text_delta\",\"text\":\"partial\"}}\n\n",
		"data: {\"type\":\"error\",\"error\":{\"type\":\"overloaded_error\",\"message\":\"Overloaded\"}}\n\n",
	)
	stream, err := NewClaude(Options{APIKey: "k", BaseURL: srv.URL}).Stream(context.Background(), testRequest())
	require.NoError(t, err)

	got, err := provider.Collect(stream)
	if got != "partial" {
		t.Errorf("partial = %q", got)
	}
	if !errors.Is(err, provider.ErrInterrupted) || !strings.Contains(err.Error(), "Overloaded") {
		t.Errorf("err = %v, want interrupted Overloaded", err)
	}
}

func TestClaude_TruncatedStream(t *testing.T) {
	srv := sseServer(t, nil,
		"data: {\"type\":\"content_block_delta\",\"delta\":{\"type\":\"text_delta\",\"text\":\"cut\"}}\n\n",
	)
	stream, err := NewClaude(Options{APIKey: "k", BaseURL: srv.URL}).Stream(context.Background(), testRequest())
	require.NoError(t, err)

	_, err = provider.Collect(stream)
	if !errors.Is(err, provider.ErrInterrupted) {
		t.Errorf("err = %v, want ErrInterrupted", err)
	}
}

func TestToClaudeMessages_DropsSystem(t *testing.T) {
	got := toClaudeMessages([]model.Message{
		{Role: model.RoleSystem, Content: "sys"},
		{Role: model.RoleUser, Content: "u"},
	})
	require.Equal(t, []claudeMessage{{Role: "user", Content: "u"}}, got)
}

// =============================================================================
// GEMINI TESTS
// =============================================================================

func TestGemini_Stream(t *testing.T) {
	events := []string{
		"data: {\"candidates\":[{\"content\":{\"role\":\"model\",\"parts\":[{\"text\":\"I am \"}]}}]}\n\n",
		"data: {\"candidates\":[{\"content\":{\"role\":\"model\",\"parts\":[{\"text\":\"thinking\",\"thought\":true},{\"text\":\"well.\"}]},\"finishReason\":\"STOP\"}],\"usageMetadata\":{\"totalTokenCount\":9}}\n\n",
	}

	srv := sseServer(t, func(r *http.Request, body []byte) {
		if r.URL.Path != "/models/gemini-test:streamGenerateContent" {
			t.Errorf("path = %q", r.URL.Path)
		}
		if r.URL.Query().Get("alt") != "sse" {
			t.Errorf("alt = %q", r.URL.Query().Get("alt"))
		}
		if got := r.Header.Get("x-goog-api-key"); got != "g-key" {
			t.Errorf("x-goog-api-key = %q", got)
		}

		var req geminiRequest
		if err := json.Unmarshal(body, &req); err != nil {
			t.Errorf("bad body: %v", err)
			return
		}
		if req.SystemInstruction == nil || req.SystemInstruction.Parts[0].Text != "be brief" {
			t.Errorf("systemInstruction = %+v", req.SystemInstruction)
		}
		if req.GenerationConfig.MaxOutputTokens != 256 || req.GenerationConfig.Temperature != 0.5 {
			t.Errorf("generationConfig = %+v", req.GenerationConfig)
		}
		roles := []string{}
		for _, c := range req.Contents {
			roles = append(roles, c.Role)
		}
		if strings.Join(roles, ",") != "user,model,user" {
			t.Errorf("roles = %v", roles)
		}
	}, events...)

	g := NewGemini(Options{APIKey: "g-key", BaseURL: srv.URL, Model: "gemini-test", Client: srv.Client()})
	stream, err := g.Stream(context.Background(), testRequest())
	require.NoError(t, err)

	got, err := provider.Collect(stream)
	require.NoError(t, err)
	if got != "I am well." {
		t.Errorf("Collect() = %q, want %q", got, "I am well.")
	}
}

func TestGemini_TruncatedStream(t *testing.T) {
	srv := sseServer(t, nil,
		"data: {\"candidates\":[{\"content\":{\"parts\":[{\"text\":\"Half an ans\"}]}}]}\n\n",
	)
	stream, err := NewGemini(Options{APIKey: "k", BaseURL: srv.URL}).Stream(context.Background(), testRequest())
	require.NoError(t, err)

	got, err := provider.Collect(stream)
	if got != "Half an ans" {
		t.Errorf("Collect() = %q", got)
	}
	if !errors.Is(err, provider.ErrInterrupted) {
		t.Errorf("err = %v, want ErrInterrupted", err)
	}
}

func TestGemini_MissingKey(t *testing.T) {
	_, err := NewGemini(Options{}).Stream(context.Background(), testRequest())
	if !errors.Is(err, provider.ErrUnavailable) {
		t.Errorf("err = %v, want ErrUnavailable", err)
	}
}

func TestGemini_ErrorChunk(t *testing.T) {
	srv := sseServer(t, nil,
		"data: {\"error\":{\"code\":500,\"message\":\"internal\"}}\n\n",
	)
	stream, err := NewGemini(Options{APIKey: "k", BaseURL: srv.URL}).Stream(context.Background(), testRequest())
	require.NoError(t, err)
	_, err = provider.Collect(stream)
	if !errors.Is(err, provider.ErrInterrupted) {
		t.Errorf("err = %v, want ErrInterrupted", err)
	}
}

func TestGemini_Blocked(t *testing.T) {
	srv := sseServer(t, nil,
		"data: {\"promptFeedback\":{\"blockReason\":\"SAFETY\"}}\n\n",
	)
	stream, err := NewGemini(Options{APIKey: "k", BaseURL: srv.URL}).Stream(context.Background(), testRequest())
	require.NoError(t, err)
	_, err = provider.Collect(stream)
	if err == nil || !strings.Contains(err.Error(), "SAFETY") {
		t.Errorf("err = %v, want blocked", err)
	}
}

func TestGemini_HTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`[{"error":{"code":400,"message":"API key not valid"}}]`))
	}))
	defer srv.Close()

	_, err := NewGemini(Options{APIKey: "k", BaseURL: srv.URL}).Stream(context.Background(), testRequest())
	if !errors.Is(err, provider.ErrUnavailable) || !strings.Contains(err.Error(), "API key not valid") {
		t.Errorf("err = %v", err)
	}
}

func TestCloud_CancelStopsStream(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: {\"type\":\"content_block_delta\",\"delta\":{\"type\":\"text_delta\",\"text\":\"one\"}}\n\n")
		w.(http.Flusher).Flush()
		select {
		case <-r.Context().Done():
		case <-release:
		}
	}))
	defer srv.Close()
	defer close(release)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	stream, err := NewClaude(Options{APIKey: "k", BaseURL: srv.URL}).Stream(ctx, testRequest())
	require.NoError(t, err)

	var frags []string
	var streamErr error
	for f, err := range stream.Fragments {
		if err != nil {
			streamErr = err
			break
		}
		frags = append(frags, f)
		cancel()
	}
	require.Equal(t, []string{"one"}, frags)
	if !errors.Is(streamErr, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", streamErr)
	}
}
