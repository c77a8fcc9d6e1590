// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package provider

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// MaxErrorBodySize caps how much of a non-2xx response body is read.
const MaxErrorBodySize = 64 * 1024

// StreamingClient is shared by the HTTP adapters. It has no overall
// timeout; each request is bounded by its context.
var StreamingClient = &http.Client{
	Transport: &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
		TLSClientConfig: &tls.Config{
			MinVersion: tls.VersionTLS12,
		},
	},
}

// Header is one extra request header.
type Header struct {
	Key   string
	Value string
}

// PostStream sends body as JSON and returns the open response for SSE
// reading. Transport failures and non-2xx statuses are returned as
// pre-stream errors; on success the caller owns resp.Body.
func PostStream(ctx context.Context, client *http.Client, b Backend, url string, body any, headers ...Header) (*http.Response, error) {
	if client == nil {
		client = StreamingClient
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, Unavailable(b, fmt.Errorf("failed to marshal request: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, Unavailable(b, fmt.Errorf("failed to create request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")
	for _, h := range headers {
		req.Header.Set(h.Key, h.Value)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, Unavailable(b, fmt.Errorf("request failed: %w", err))
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		defer resp.Body.Close()
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, MaxErrorBodySize))
		return nil, StatusError(b, resp.StatusCode, errorMessage(raw))
	}
	return resp, nil
}

// errorMessage extracts a readable message from an upstream error body.
// Handles {"error":{"message":...}}, {"error":"..."} and {"message":...};
// anything else is returned trimmed.
func errorMessage(raw []byte) string {
	var nested struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if json.Unmarshal(raw, &nested) == nil && nested.Error.Message != "" {
		return nested.Error.Message
	}

	var flat struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if json.Unmarshal(raw, &flat) == nil {
		if flat.Error != "" {
			return flat.Error
		}
		if flat.Message != "" {
			return flat.Message
		}
	}

	// Gemini wraps errors in a one-element array.
	var list []struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if json.Unmarshal(raw, &list) == nil && len(list) > 0 && list[0].Error.Message != "" {
		return list[0].Error.Message
	}

	return strings.TrimSpace(string(raw))
}
