// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package server exposes the chat gateway and conversation store over HTTP.
//
// # Endpoints
//
//   - POST   /api/chat                                          - Stream one chat turn (SSE)
//   - GET    /api/conversations                                 - List conversations
//   - POST   /api/conversations                                 - Create a conversation
//   - GET    /api/conversations/{id}                            - Full conversation
//   - DELETE /api/conversations/{id}                            - Delete a conversation
//   - GET    /api/conversations/{id}/export                     - Plain-text transcript
//   - POST   /api/conversations/{id}/prune                      - Keep the last N messages
//   - POST   /api/conversations/{id}/messages/{msgId}/feedback  - Tag a message up/down
//   - GET    /api/backends                                      - Registered backends
//   - GET    /health                                            - Health check
//
// Every /api route passes through bearer/IP authentication when
// configured. All routes get panic recovery, request logging, security
// headers, CORS and per-IP rate limiting.
//
// # Errors
//
// Non-streaming failures are JSON {"error": "..."} with a status code.
// Chat validation failures are 400; a body that does not parse is 500.
// Once a chat stream has opened, failures arrive on its terminal frame.
//
// # Usage
//
//	srv := server.New(cfg.Server, gw, store).WithLogger(logger)
//	if err := srv.Run(ctx); err != nil {
//		return err
//	}
package server
