// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package local provides the adapter for a locally hosted model runtime.
//
// Docker talks to Docker Model Runner's OpenAI-compatible endpoint. The
// runner serves whatever models have been pulled, so a model id is always
// required; there is no useful default.
//
// # Usage
//
//	d := local.NewDocker(local.Config{BaseURL: "http://localhost:12434"})
//	stream, err := d.Stream(ctx, req)
package local
