// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package model contains the data structures for conversations and messages.
//
// These are the types shared by the store, the context builder, the gateway,
// and the HTTP layer. A Conversation is owned by the storage package; other
// packages only receive copies.
//
// # Key Types
//
//   - Message: Single immutable message with role, content, timestamp and optional model tag
//   - Conversation: Ordered messages plus metadata and an optional provider session
//   - Session: Provider continuation handle tagged with the backend that issued it
//   - Summary: Lightweight listing row
//   - Role, Feedback: Closed enumerations
//
// # Usage
//
//	msg := model.NewMessage(model.RoleUser, "Hello!")
//	conv.Messages = append(conv.Messages, msg)
//	fmt.Print(conv.Transcript())
package model
