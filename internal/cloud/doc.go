// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package cloud provides streaming adapters for hosted LLM APIs.
//
// # Key Types
//
//   - Claude: Anthropic Messages API (x-api-key auth, SSE)
//   - Gemini: Google Generative Language API (streamGenerateContent?alt=sse)
//
// Both are stateless: every call carries the full message window. A
// missing API key, transport error or non-2xx response fails before any
// fragment is produced, which lets the gateway fall back to mock.
//
// # Usage
//
//	claude := cloud.NewClaude(cloud.Options{APIKey: key})
//	stream, err := claude.Stream(ctx, provider.Request{Messages: msgs, Settings: s})
//
// # Security
//
// API keys are sent only as request headers and never logged. All
// requests use TLS 1.2+ through the shared provider client.
package cloud
