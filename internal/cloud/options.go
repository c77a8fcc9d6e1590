// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cloud

import (
	"net/http"
	"strings"

	"github.com/jeranaias/chatgate/internal/provider"
)

// Options configures a cloud adapter.
type Options struct {
	APIKey string

	// BaseURL overrides the API root (for proxies and tests).
	BaseURL string

	// Model is used when the request settings name none.
	Model string

	// Client overrides the shared streaming client.
	Client *http.Client
}

func (o Options) client() *http.Client {
	if o.Client != nil {
		return o.Client
	}
	return provider.StreamingClient
}

func (o Options) base(def string) string {
	if o.BaseURL == "" {
		return def
	}
	return strings.TrimRight(o.BaseURL, "/")
}

func pick(model, fallback string) string {
	if model != "" {
		return model
	}
	return fallback
}
